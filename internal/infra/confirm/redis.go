package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
)

// redeemScript performs the whole check-fingerprint-and-consume step inside
// Redis so duplicate submissions race on a single atomic operation.
// KEYS[1] = token key
// ARGV[1] = expected operation fingerprint
// ARGV[2] = current unix milliseconds
var redeemScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
    return "unknown"
end
local sep = string.find(val, "|")
local fp = string.sub(val, 1, sep - 1)
local exp = tonumber(string.sub(val, sep + 1))
if tonumber(ARGV[2]) > exp then
    redis.call("DEL", KEYS[1])
    return "expired"
end
if fp ~= ARGV[1] then
    return "mismatch"
end
redis.call("DEL", KEYS[1])
return "ok"
`)

// RedisStore keeps confirmation tokens in Redis so the two legs of the
// protocol can land on different processes. Redis key expiry is the backstop;
// the recorded expires-at inside the value is authoritative so redemption of
// a stale token still reports "expired" rather than "unknown".
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	clock  func() time.Time
}

// NewRedisStore connects a token store over the configured Redis instance.
func NewRedisStore(cfg config.RedisConfig, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "opsplane:confirm:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
		clock:  time.Now,
	}
}

// Issue stores the token with its fingerprint and expiry. The Redis TTL runs
// a minute past the logical expiry so expired redemptions stay explainable.
func (s *RedisStore) Issue(ctx context.Context, token domain.ConfirmationToken) error {
	value := token.Fingerprint + "|" + strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10)
	ttl := time.Until(token.ExpiresAt) + time.Minute

	ok, err := s.client.SetNX(ctx, s.prefix+token.Value, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("storing confirmation token: %w", err)
	}
	if !ok {
		return fmt.Errorf("confirmation token collision")
	}
	return nil
}

// Redeem runs the atomic consume script. Tokens evicted by Redis before
// redemption report unknown.
func (s *RedisStore) Redeem(ctx context.Context, value, fingerprint string) (domain.RedeemResult, error) {
	now := s.clock().UnixMilli()
	res, err := redeemScript.Run(ctx, s.client, []string{s.prefix + value}, fingerprint, now).Result()
	if err != nil {
		return domain.RedeemUnknown, fmt.Errorf("redeeming confirmation token: %w", err)
	}

	switch res {
	case "ok":
		return domain.RedeemOK, nil
	case "expired":
		return domain.RedeemExpired, nil
	case "mismatch":
		return domain.RedeemMismatch, nil
	default:
		return domain.RedeemUnknown, nil
	}
}

// Sweep is a no-op: Redis expires keys natively.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Ping verifies connectivity, for startup checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		addr := s.client.Options().Addr
		if !strings.Contains(err.Error(), addr) {
			return fmt.Errorf("redis %s: %w", addr, err)
		}
		return err
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ domain.TokenStore = (*RedisStore)(nil)
