package redisstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/flashdeal/seckill-engine/internal/seckill/application"
)

// Warmer seeds the fast-store stock counters from the durable catalog. It
// runs at service start; an unwarmed counter surfaces later as
// ErrStockKeyMissing, never as sold-out.
type Warmer struct {
	log   *slog.Logger
	rdb   *redis.Client
	sales application.SaleRepository
}

func NewWarmer(log *slog.Logger, rdb *redis.Client, sales application.SaleRepository) *Warmer {
	return &Warmer{log: log, rdb: rdb, sales: sales}
}

func (w *Warmer) Warm(ctx context.Context) error {
	items, err := w.sales.List(ctx)
	if err != nil {
		return fmt.Errorf("list sale items: %w", err)
	}
	for _, item := range items {
		if err := w.rdb.Set(ctx, StockKey(item.GoodID), item.Stock, 0).Err(); err != nil {
			return fmt.Errorf("seed stock counter for good %d: %w", item.GoodID, err)
		}
		w.log.Info("stock counter seeded", "good_id", item.GoodID, "name", item.Name, "stock", item.Stock)
	}
	w.log.Info("cache warm complete", "goods", len(items))
	return nil
}
