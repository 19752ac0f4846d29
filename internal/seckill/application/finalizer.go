package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
)

// Finalizer reconciles a fast-path admission with durable state. Each request
// is processed under an exclusive per-(user, good) lock so that at-least-once
// redelivery never produces a second durable decrement.
type Finalizer struct {
	log       *slog.Logger
	orders    OrderRepository
	sales     SaleRepository
	ledger    StockLedger
	locker    Locker
	lockWait  time.Duration
	lockLease time.Duration
	tracer    trace.Tracer
}

func NewFinalizer(log *slog.Logger, orders OrderRepository, sales SaleRepository, ledger StockLedger, locker Locker) *Finalizer {
	return &Finalizer{
		log:       log,
		orders:    orders,
		sales:     sales,
		ledger:    ledger,
		locker:    locker,
		lockWait:  2 * time.Second,
		lockLease: 10 * time.Second,
		tracer:    otel.Tracer("finalizer"),
	}
}

// LockKey is the lock granularity the order-uniqueness invariant needs:
// per (user, good), not per good.
func LockKey(userID, goodID int64) string {
	return fmt.Sprintf("seckill:lock:%d:%d", userID, goodID)
}

// Process handles one FinalizationRequest delivery. A nil return means the
// message is terminally handled (including expected contention failures); a
// non-nil return means the delivery failed and the queue layer decides
// whether to redeliver.
func (f *Finalizer) Process(ctx context.Context, req domain.FinalizationRequest) error {
	ctx, span := f.tracer.Start(ctx, "Finalize")
	defer span.End()

	return f.locker.WithLock(ctx, LockKey(req.UserID, req.GoodID), f.lockWait, f.lockLease, func(ctx context.Context) error {
		order, err := f.orders.GetByID(ctx, req.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Nothing to finalize; a missing order points at a bug upstream,
			// not a retriable condition.
			f.log.Error("finalization for unknown order, dropping", "order_id", req.OrderID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch order: %w", err)
		}

		if order.Status != domain.StatusQueued {
			f.log.Info("order already finalized, dropping redelivery",
				"order_id", req.OrderID, "status", order.Status.String())
			return nil
		}

		deducted, err := f.sales.DecrementStock(ctx, req.GoodID)
		if err != nil {
			return f.abort(ctx, req, fmt.Errorf("durable decrement: %w", err))
		}
		if !deducted {
			// Durable stock ran out despite the fast-store admission. Normal
			// under contention: give the ledger slot back and close the order.
			f.compensate(ctx, req.GoodID)
			if err := f.orders.MarkFailed(ctx, req.OrderID); err != nil {
				return fmt.Errorf("mark order failed: %w", err)
			}
			f.log.Warn("durable stock exhausted, order failed",
				"order_id", req.OrderID, "good_id", req.GoodID)
			return nil
		}

		if err := f.orders.MarkSucceeded(ctx, req.OrderID); err != nil {
			return f.abort(ctx, req, fmt.Errorf("mark order succeeded: %w", err))
		}
		f.log.Info("order finalized", "order_id", req.OrderID, "order_no", order.OrderNo)
		return nil
	})
}

// abort forces the order to FAILED, restores the ledger slot and re-raises
// cause to the queue layer. Swallowing the error here would leave stock
// permanently short.
func (f *Finalizer) abort(ctx context.Context, req domain.FinalizationRequest, cause error) error {
	if err := f.orders.MarkFailed(ctx, req.OrderID); err != nil {
		f.log.Error("force-fail order during abort", "order_id", req.OrderID, "err", err)
	}
	f.compensate(ctx, req.GoodID)
	f.log.Error("finalization aborted", "order_id", req.OrderID, "err", cause)
	return cause
}

func (f *Finalizer) compensate(ctx context.Context, goodID int64) {
	if err := f.ledger.Increment(ctx, goodID, 1); err != nil {
		f.log.Error("compensating ledger increment failed", "good_id", goodID, "err", err)
	}
}
