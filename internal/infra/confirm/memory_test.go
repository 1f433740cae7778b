package confirm

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func issuedToken(value string, now time.Time) domain.ConfirmationToken {
	return domain.ConfirmationToken{
		Value:       value,
		Fingerprint: "fp-1",
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
		State:       domain.TokenIssued,
	}
}

func TestRedeemHappyPath(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("tok-1", now)))

	result, err := store.Redeem(context.Background(), "tok-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemOK, result)
}

func TestRedeemSecondAttemptFails(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("tok-1", now)))

	first, err := store.Redeem(context.Background(), "tok-1", "fp-1")
	require.NoError(t, err)
	require.Equal(t, domain.RedeemOK, first)

	second, err := store.Redeem(context.Background(), "tok-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemConsumed, second)
}

func TestRedeemUnknownToken(t *testing.T) {
	store := NewMemoryStore(testLogger())

	result, err := store.Redeem(context.Background(), "never-issued", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemUnknown, result)
}

func TestRedeemExpiredToken(t *testing.T) {
	now := time.Now()
	current := now
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return current }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("tok-1", now)))

	current = now.Add(6 * time.Minute)
	result, err := store.Redeem(context.Background(), "tok-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemExpired, result)
}

func TestRedeemFingerprintMismatchKeepsToken(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("tok-1", now)))

	result, err := store.Redeem(context.Background(), "tok-1", "fp-other")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemMismatch, result)

	// The original operation can still redeem.
	result, err = store.Redeem(context.Background(), "tok-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemOK, result)
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("tok-race", now)))

	const redeemers = 32
	var wins, losses atomic.Int64
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(redeemers)

	for i := 0; i < redeemers; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			result, err := store.Redeem(context.Background(), "tok-race", "fp-1")
			require.NoError(t, err)
			switch result {
			case domain.RedeemOK:
				wins.Add(1)
			case domain.RedeemConsumed:
				losses.Add(1)
			}
		}()
	}

	start.Done()
	done.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, redeemers-1, losses.Load())
}

func TestSweepRemovesExpiredAndTombstones(t *testing.T) {
	now := time.Now()
	current := now
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return current }))

	require.NoError(t, store.Issue(context.Background(), issuedToken("expired", now)))
	require.NoError(t, store.Issue(context.Background(), issuedToken("redeemed", now)))
	require.NoError(t, store.Issue(context.Background(), issuedToken("fresh", now)))

	result, err := store.Redeem(context.Background(), "redeemed", "fp-1")
	require.NoError(t, err)
	require.Equal(t, domain.RedeemOK, result)

	fresh := issuedToken("fresh", now)
	fresh.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, store.Issue(context.Background(), fresh))

	current = now.Add(10 * time.Minute)
	removed, err := store.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.pending())
}

func TestSweeperLifecycle(t *testing.T) {
	store := NewMemoryStore(testLogger(), WithSweepInterval(time.Millisecond))

	require.NoError(t, store.Start(context.Background()))
	require.NoError(t, store.Stop(context.Background()))

	// Stop is idempotent.
	require.NoError(t, store.Stop(context.Background()))
}
