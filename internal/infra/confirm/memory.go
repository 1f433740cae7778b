package confirm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/pkg/crypto"
)

const defaultSweepInterval = 30 * time.Second

// MemoryStore keeps pending confirmation tokens in process memory. A mutex
// serializes redemption so concurrent duplicate submissions produce exactly
// one winner. Redeemed tokens stay behind as tombstones until the sweeper
// clears them, so late duplicates see "consumed" rather than "unknown".
type MemoryStore struct {
	logger        *slog.Logger
	clock         func() time.Time
	sweepInterval time.Duration

	mu     sync.Mutex
	tokens map[string]*domain.ConfirmationToken

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// WithSweepInterval changes how often the background sweeper runs. Zero or
// negative disables it.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepInterval = interval }
}

// NewMemoryStore returns an empty in-memory token store.
func NewMemoryStore(logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		logger:        logger,
		clock:         time.Now,
		sweepInterval: defaultSweepInterval,
		tokens:        make(map[string]*domain.ConfirmationToken),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue stores a fresh token.
func (s *MemoryStore) Issue(_ context.Context, token domain.ConfirmationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token.State = domain.TokenIssued
	s.tokens[token.Value] = &token
	return nil
}

// Redeem transitions a token to redeemed. Exactly one concurrent caller wins.
func (s *MemoryStore) Redeem(_ context.Context, value, fingerprint string) (domain.RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return domain.RedeemUnknown, nil
	}
	if token.State == domain.TokenRedeemed {
		return domain.RedeemConsumed, nil
	}
	if s.clock().After(token.ExpiresAt) {
		token.State = domain.TokenExpired
		delete(s.tokens, value)
		return domain.RedeemExpired, nil
	}
	if !crypto.ConstantTimeEquals(token.Fingerprint, fingerprint) {
		// The token survives a mismatch: the deny is terminal for the
		// mismatched operation, not for the approval it proves.
		return domain.RedeemMismatch, nil
	}

	token.State = domain.TokenRedeemed
	return domain.RedeemOK, nil
}

// Sweep drops expired tokens and spent tombstones past their window.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			if token.State == domain.TokenIssued {
				token.State = domain.TokenExpired
			}
			delete(s.tokens, value)
			removed++
		}
	}
	return removed, nil
}

// Start launches the background sweeper.
func (s *MemoryStore) Start(_ context.Context) error {
	s.startOnce.Do(func() {
		if s.sweepInterval <= 0 {
			close(s.done)
			return
		}
		go s.sweepLoop()
	})
	return nil
}

// Stop halts the sweeper and waits for it to exit.
func (s *MemoryStore) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed, _ := s.Sweep(context.Background()); removed > 0 {
				s.logger.Debug("swept expired confirmation tokens", "removed", removed)
			}
		case <-s.stop:
			return
		}
	}
}

// pending reports the number of live tokens, for tests.
func (s *MemoryStore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

var _ domain.TokenStore = (*MemoryStore)(nil)
