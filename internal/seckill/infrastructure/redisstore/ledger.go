package redisstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
)

// deductScript is the atomic check-and-decrement: 1 on success, 0 when stock
// is insufficient, -1 when the counter key does not exist. The read and the
// write execute as one server-side step; a client-side check-then-act here is
// exactly the oversell race this component exists to prevent.
var deductScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
    return -1
end
local qty = tonumber(ARGV[1])
if tonumber(current) < qty then
    return 0
end
redis.call("DECRBY", KEYS[1], qty)
return 1
`)

func StockKey(goodID int64) string {
	return fmt.Sprintf("seckill:stock:%d", goodID)
}

// Ledger is the fast-store stock counter, one integer key per good.
type Ledger struct {
	log *slog.Logger
	rdb *redis.Client
}

func NewLedger(log *slog.Logger, rdb *redis.Client) *Ledger {
	return &Ledger{log: log, rdb: rdb}
}

func (l *Ledger) TryDecrement(ctx context.Context, goodID int64, qty int) error {
	res, err := deductScript.Run(ctx, l.rdb, []string{StockKey(goodID)}, qty).Int64()
	if err != nil {
		return fmt.Errorf("stock deduct script: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return domain.ErrSoldOut
	default:
		return domain.ErrStockKeyMissing
	}
}

// Increment is the best-effort compensating operation; it only restores
// capacity, so it does not need to be atomic with anything else.
func (l *Ledger) Increment(ctx context.Context, goodID int64, qty int) error {
	if err := l.rdb.IncrBy(ctx, StockKey(goodID), int64(qty)).Err(); err != nil {
		return fmt.Errorf("stock increment: %w", err)
	}
	return nil
}
