package redisstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
)

const DefaultTokenTTL = 5 * time.Minute

// consumeScript compares the stored token with the presented one and deletes
// it on match, in one atomic step, so two concurrent consumes of the same
// token cannot both succeed.
var consumeScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if stored == false then
    return 0
end
if stored ~= ARGV[1] then
    return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

func TokenKey(userID, goodID int64) string {
	return fmt.Sprintf("seckill:token:%d:%d", userID, goodID)
}

// TokenStore tracks single-use admission tokens. A token's entire authority
// rests on single-use possession tracked server-side; it is deliberately not
// signed.
type TokenStore struct {
	log *slog.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewTokenStore(log *slog.Logger, rdb *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{log: log, rdb: rdb, ttl: ttl}
}

// Issue stores a fresh opaque token for (user, good), overwriting any prior
// token for the same pair.
func (s *TokenStore) Issue(ctx context.Context, userID, goodID int64) (domain.IssuedToken, error) {
	u := uuid.New()
	token := hex.EncodeToString(u[:])

	if err := s.rdb.Set(ctx, TokenKey(userID, goodID), token, s.ttl).Err(); err != nil {
		return domain.IssuedToken{}, fmt.Errorf("store token: %w", err)
	}
	s.log.Info("admission token issued", "user_id", userID, "good_id", goodID)
	return domain.IssuedToken{Token: token, TTL: s.ttl, IssuedAt: time.Now().UTC()}, nil
}

// Consume fails closed: absent, expired, empty or mismatched tokens all
// report false. On match the stored token is gone before true is returned.
func (s *TokenStore) Consume(ctx context.Context, userID, goodID int64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := consumeScript.Run(ctx, s.rdb, []string{TokenKey(userID, goodID)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("consume token script: %w", err)
	}
	return res == 1, nil
}
