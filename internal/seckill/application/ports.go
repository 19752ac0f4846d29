package application

import (
	"context"
	"time"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	GetByUserAndGood(ctx context.Context, userID, goodID int64) (domain.Order, error)
	ListByUser(ctx context.Context, userID int64, status *domain.OrderStatus) ([]domain.Order, error)
	MarkSucceeded(ctx context.Context, orderID string) error
	MarkFailed(ctx context.Context, orderID string) error
}

type SaleRepository interface {
	Get(ctx context.Context, goodID int64) (domain.SaleItem, error)
	List(ctx context.Context) ([]domain.SaleItem, error)
	// DecrementStock applies the conditional durable decrement
	// (stock = stock - 1 where stock > 0) and reports whether a row changed.
	DecrementStock(ctx context.Context, goodID int64) (bool, error)
}

// StockLedger is the fast-store counter. TryDecrement returns nil,
// domain.ErrSoldOut or domain.ErrStockKeyMissing; the check and the write are
// one atomic server-side step.
type StockLedger interface {
	TryDecrement(ctx context.Context, goodID int64, qty int) error
	Increment(ctx context.Context, goodID int64, qty int) error
}

// TokenStore issues and consumes single-use admission tokens keyed by
// (user, good). Consume reports false for absent, expired, empty or
// mismatched tokens; a matching token is deleted atomically with the check.
type TokenStore interface {
	Issue(ctx context.Context, userID, goodID int64) (domain.IssuedToken, error)
	Consume(ctx context.Context, userID, goodID int64, token string) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.FinalizationRequest) error
}

// Locker runs fn under an exclusive auto-expiring lease on key. If the lock
// cannot be acquired within wait it returns the lock package's busy error
// without running fn.
type Locker interface {
	WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}
