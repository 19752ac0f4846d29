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

// AdmissionCode labels the business outcome of an admission attempt.
type AdmissionCode string

const (
	CodeQueued    AdmissionCode = "QUEUED"
	CodeDuplicate AdmissionCode = "DUPLICATE"
)

type AdmissionResult struct {
	Code    AdmissionCode
	OrderID string
}

type AdmissionService struct {
	log    *slog.Logger
	sales  SaleRepository
	orders OrderRepository
	ledger StockLedger
	tokens TokenStore
	queue  Enqueuer
	tracer trace.Tracer
	now    func() time.Time
}

func NewAdmissionService(log *slog.Logger, sales SaleRepository, orders OrderRepository, ledger StockLedger, tokens TokenStore, queue Enqueuer) *AdmissionService {
	return &AdmissionService{
		log:    log,
		sales:  sales,
		orders: orders,
		ledger: ledger,
		tokens: tokens,
		queue:  queue,
		tracer: otel.Tracer("admission"),
		now:    time.Now,
	}
}

// Admit runs the synchronous admission pipeline for one (user, good, token)
// request: window check, token consumption, duplicate check, fast-store
// decrement, durable queued-order create, finalization enqueue. It returns
// the order id immediately; the durable stock reconciliation happens later in
// the finalization consumer.
func (s *AdmissionService) Admit(ctx context.Context, userID, goodID int64, token string) (AdmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "Admit")
	defer span.End()

	sale, err := s.sales.Get(ctx, goodID)
	if err != nil {
		return AdmissionResult{}, err
	}
	if err := sale.CheckWindow(s.now()); err != nil {
		return AdmissionResult{}, err
	}

	ok, err := s.tokens.Consume(ctx, userID, goodID, token)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("consume token: %w", err)
	}
	if !ok {
		return AdmissionResult{}, domain.ErrInvalidToken
	}

	// The token is spent: from here the pipeline runs to completion or
	// explicit failure regardless of caller disconnection.
	ctx = context.WithoutCancel(ctx)

	existing, err := s.orders.GetByUserAndGood(ctx, userID, goodID)
	switch {
	case err == nil && existing.Status != domain.StatusFailed:
		s.log.Info("duplicate admission, returning existing order",
			"user_id", userID, "good_id", goodID, "order_id", existing.OrderID)
		return AdmissionResult{Code: CodeDuplicate, OrderID: existing.OrderID}, nil
	case err != nil && !errors.Is(err, domain.ErrOrderNotFound):
		return AdmissionResult{}, fmt.Errorf("lookup existing order: %w", err)
	}

	if err := s.ledger.TryDecrement(ctx, goodID, 1); err != nil {
		if errors.Is(err, domain.ErrStockKeyMissing) {
			s.log.Error("stock counter missing for active good", "good_id", goodID)
		}
		return AdmissionResult{}, err
	}

	order := domain.NewOrder(userID, goodID, sale.PriceCents)
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			// Lost a create race for the same pair. The slot taken from the
			// ledger belongs to the winner's order, so give it back.
			s.compensate(ctx, goodID)
			if existing, lookupErr := s.orders.GetByUserAndGood(ctx, userID, goodID); lookupErr == nil {
				return AdmissionResult{Code: CodeDuplicate, OrderID: existing.OrderID}, nil
			}
			return AdmissionResult{}, err
		}
		s.compensate(ctx, goodID)
		return AdmissionResult{}, fmt.Errorf("create order: %w", err)
	}

	req := domain.FinalizationRequest{
		UserID:   userID,
		GoodID:   goodID,
		OrderID:  order.OrderID,
		IssuedAt: s.now().UnixMilli(),
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		// Treat enqueue failure as if admission never happened: the order is
		// terminal FAILED and the ledger slot is restored.
		if mErr := s.orders.MarkFailed(ctx, order.OrderID); mErr != nil {
			s.log.Error("mark order failed after enqueue error", "order_id", order.OrderID, "err", mErr)
		}
		s.compensate(ctx, goodID)
		s.log.Error("enqueue finalization failed", "order_id", order.OrderID, "err", err)
		return AdmissionResult{}, fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	s.log.Info("admission queued", "user_id", userID, "good_id", goodID,
		"order_id", order.OrderID, "order_no", order.OrderNo)
	return AdmissionResult{Code: CodeQueued, OrderID: order.OrderID}, nil
}

func (s *AdmissionService) compensate(ctx context.Context, goodID int64) {
	if err := s.ledger.Increment(ctx, goodID, 1); err != nil {
		s.log.Error("compensating ledger increment failed", "good_id", goodID, "err", err)
	}
}
