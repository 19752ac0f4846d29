package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdeal/seckill-engine/internal/seckill/application"
	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
	"github.com/flashdeal/seckill-engine/pkg/metrics"
	"github.com/flashdeal/seckill-engine/pkg/redislock"
)

// Admitter is what the handler needs from the admission pipeline.
type Admitter interface {
	Admit(ctx context.Context, userID, goodID int64, token string) (application.AdmissionResult, error)
}

type Handler struct {
	log    *slog.Logger
	admit  Admitter
	tokens application.TokenStore
	orders application.OrderRepository
	sales  application.SaleRepository
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, admit Admitter, tokens application.TokenStore, orders application.OrderRepository, sales application.SaleRepository) *Handler {
	return &Handler{
		log:    log,
		admit:  admit,
		tokens: tokens,
		orders: orders,
		sales:  sales,
		tracer: otel.Tracer("seckill-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/seckill/token", h.issueToken)
	r.Post("/seckill/order", h.createOrder)
	r.Get("/seckill/orders/{orderID}", h.getOrder)
	r.Get("/seckill/users/{userID}/orders", h.listUserOrders)
	r.Get("/seckill/users/{userID}/goods/{goodID}/order", h.getUserGoodOrder)
	r.Get("/seckill/sales", h.listSales)
	r.Get("/healthz", h.health)

	return r
}

type tokenReq struct {
	UserID int64 `json:"user_id"`
	GoodID int64 `json:"good_id"`
}

type admitReq struct {
	UserID int64  `json:"user_id"`
	GoodID int64  `json:"good_id"`
	Token  string `json:"token"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "IssueToken")
	defer span.End()

	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.GoodID == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "user_id and good_id are required"})
		return
	}

	issued, err := h.tokens.Issue(ctx, req.UserID, req.GoodID)
	if err != nil {
		h.log.Error("token issue failed", "user_id", req.UserID, "good_id", req.GoodID, "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "SYSTEM_FAULT", Message: "could not issue token"})
		return
	}
	metrics.TokensIssuedTotal.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":        issued.Token,
		"ttl_seconds":  int(issued.TTL.Seconds()),
		"issued_at_ms": issued.IssuedAt.UnixMilli(),
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() { metrics.AdmissionDuration.Observe(time.Since(start).Seconds()) }()

	var req admitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.GoodID == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "user_id and good_id are required"})
		return
	}

	result, err := h.admit.Admit(ctx, req.UserID, req.GoodID, req.Token)
	if err != nil {
		h.writeAdmissionError(w, req, err)
		return
	}

	metrics.AdmissionsTotal.WithLabelValues(string(result.Code)).Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"code":     string(result.Code),
		"order_id": result.OrderID,
	})
}

// writeAdmissionError maps pipeline errors to the API taxonomy: client input
// errors and contention outcomes are business results, infrastructure faults
// are 5xx.
func (h *Handler) writeAdmissionError(w http.ResponseWriter, req admitReq, err error) {
	var code string
	var status int
	switch {
	case errors.Is(err, domain.ErrSaleNotFound):
		code, status = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrNotStarted):
		code, status = "NOT_STARTED", http.StatusBadRequest
	case errors.Is(err, domain.ErrEnded):
		code, status = "ENDED", http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidToken):
		code, status = "INVALID_TOKEN", http.StatusBadRequest
	case errors.Is(err, domain.ErrSoldOut):
		// A normal contention outcome, not a failure.
		code, status = "SOLD_OUT", http.StatusOK
	case errors.Is(err, redislock.ErrLockBusy):
		code, status = "SYSTEM_BUSY", http.StatusServiceUnavailable
	default:
		code, status = "SYSTEM_FAULT", http.StatusInternalServerError
		h.log.Error("admission failed", "user_id", req.UserID, "good_id", req.GoodID, "err", err)
	}
	metrics.AdmissionsTotal.WithLabelValues(code).Inc()
	writeJSON(w, status, apiError{Code: code, Message: err.Error()})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	order, err := h.orders.GetByID(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (h *Handler) getUserGoodOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetUserGoodOrder")
	defer span.End()

	userID, err1 := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	goodID, err2 := strconv.ParseInt(chi.URLParam(r, "goodID"), 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "invalid id"})
		return
	}

	order, err := h.orders.GetByUserAndGood(ctx, userID, goodID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListUserOrders")
	defer span.End()

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "invalid user id"})
		return
	}

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 2 {
			writeJSON(w, http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "invalid status"})
			return
		}
		st := domain.OrderStatus(n)
		status = &st
	}

	orders, err := h.orders.ListByUser(ctx, userID, status)
	if err != nil {
		h.log.Error("list orders failed", "user_id", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "SYSTEM_FAULT", Message: "could not list orders"})
		return
	}

	views := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListSales")
	defer span.End()

	items, err := h.sales.List(ctx)
	if err != nil {
		h.log.Error("list sales failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "SYSTEM_FAULT", Message: "could not list sales"})
		return
	}

	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, map[string]any{
			"good_id":     item.GoodID,
			"name":        item.Name,
			"price_cents": item.PriceCents,
			"starts_at":   item.StartsAt,
			"ends_at":     item.EndsAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": views})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: "order not found"})
		return
	}
	h.log.Error("order lookup failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, apiError{Code: "SYSTEM_FAULT", Message: "could not fetch order"})
}

func orderView(o domain.Order) map[string]any {
	return map[string]any{
		"order_id":    o.OrderID,
		"order_no":    o.OrderNo,
		"user_id":     o.UserID,
		"good_id":     o.GoodID,
		"price_cents": o.PriceCents,
		"status":      int(o.Status),
		"status_text": o.Status.String(),
		"created_at":  o.CreatedAt,
		"updated_at":  o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
