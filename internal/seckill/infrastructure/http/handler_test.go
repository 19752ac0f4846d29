package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdeal/seckill-engine/internal/seckill/application"
	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
	"github.com/flashdeal/seckill-engine/pkg/logging"
)

type stubAdmitter struct {
	result application.AdmissionResult
	err    error
}

func (s stubAdmitter) Admit(context.Context, int64, int64, string) (application.AdmissionResult, error) {
	return s.result, s.err
}

type stubTokens struct {
	err error
}

func (s stubTokens) Issue(context.Context, int64, int64) (domain.IssuedToken, error) {
	if s.err != nil {
		return domain.IssuedToken{}, s.err
	}
	return domain.IssuedToken{Token: "tok", TTL: 5 * time.Minute, IssuedAt: time.Now()}, nil
}

func (s stubTokens) Consume(context.Context, int64, int64, string) (bool, error) {
	return false, nil
}

type stubOrders struct {
	orders map[string]domain.Order
}

func (s stubOrders) Create(context.Context, domain.Order) error { return nil }

func (s stubOrders) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s stubOrders) GetByUserAndGood(_ context.Context, userID, goodID int64) (domain.Order, error) {
	for _, o := range s.orders {
		if o.UserID == userID && o.GoodID == goodID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s stubOrders) ListByUser(_ context.Context, userID int64, status *domain.OrderStatus) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if o.UserID == userID && (status == nil || o.Status == *status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s stubOrders) MarkSucceeded(context.Context, string) error { return nil }
func (s stubOrders) MarkFailed(context.Context, string) error    { return nil }

type stubSales struct {
	items []domain.SaleItem
}

func (s stubSales) Get(context.Context, int64) (domain.SaleItem, error) {
	return domain.SaleItem{}, domain.ErrSaleNotFound
}
func (s stubSales) List(context.Context) ([]domain.SaleItem, error) { return s.items, nil }
func (s stubSales) DecrementStock(context.Context, int64) (bool, error) {
	return false, nil
}

func newTestHandler(admit Admitter, orders stubOrders) http.Handler {
	h := NewHandler(logging.New(), admit, stubTokens{}, orders, stubSales{})
	return h.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIssueToken(t *testing.T) {
	h := newTestHandler(stubAdmitter{}, stubOrders{})

	rec := doJSON(t, h, http.MethodPost, "/seckill/token", `{"user_id":1,"good_id":42}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "tok", body["token"])
	assert.EqualValues(t, 300, body["ttl_seconds"])
}

func TestIssueTokenRejectsMissingFields(t *testing.T) {
	h := newTestHandler(stubAdmitter{}, stubOrders{})

	rec := doJSON(t, h, http.MethodPost, "/seckill/token", `{"user_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderQueued(t *testing.T) {
	admit := stubAdmitter{result: application.AdmissionResult{Code: application.CodeQueued, OrderID: "abc"}}
	h := newTestHandler(admit, stubOrders{})

	rec := doJSON(t, h, http.MethodPost, "/seckill/order", `{"user_id":1,"good_id":42,"token":"tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "QUEUED", body["code"])
	assert.Equal(t, "abc", body["order_id"])
}

func TestCreateOrderOutcomeMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not started", domain.ErrNotStarted, http.StatusBadRequest, "NOT_STARTED"},
		{"ended", domain.ErrEnded, http.StatusBadRequest, "ENDED"},
		{"invalid token", domain.ErrInvalidToken, http.StatusBadRequest, "INVALID_TOKEN"},
		{"sold out", domain.ErrSoldOut, http.StatusOK, "SOLD_OUT"},
		{"unknown good", domain.ErrSaleNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"counter missing", domain.ErrStockKeyMissing, http.StatusInternalServerError, "SYSTEM_FAULT"},
		{"infra fault", errors.New("boom"), http.StatusInternalServerError, "SYSTEM_FAULT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(stubAdmitter{err: tc.err}, stubOrders{})
			rec := doJSON(t, h, http.MethodPost, "/seckill/order", `{"user_id":1,"good_id":42,"token":"tok"}`)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decode(t, rec)["code"])
		})
	}
}

func TestGetOrder(t *testing.T) {
	order := domain.NewOrder(1, 42, 9900)
	order.Status = domain.StatusSucceeded
	h := newTestHandler(stubAdmitter{}, stubOrders{orders: map[string]domain.Order{order.OrderID: order}})

	rec := doJSON(t, h, http.MethodGet, "/seckill/orders/"+order.OrderID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 1, body["status"])
	assert.Equal(t, "succeeded", body["status_text"])
	assert.Equal(t, order.OrderNo, body["order_no"])
}

func TestGetOrderNotFound(t *testing.T) {
	h := newTestHandler(stubAdmitter{}, stubOrders{})

	rec := doJSON(t, h, http.MethodGet, "/seckill/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUserOrdersFiltersByStatus(t *testing.T) {
	queued := domain.NewOrder(1, 42, 9900)
	failed := domain.NewOrder(1, 43, 9900)
	failed.Status = domain.StatusFailed
	h := newTestHandler(stubAdmitter{}, stubOrders{orders: map[string]domain.Order{
		queued.OrderID: queued,
		failed.OrderID: failed,
	}})

	rec := doJSON(t, h, http.MethodGet, "/seckill/users/1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 2)

	rec = doJSON(t, h, http.MethodGet, "/seckill/users/1/orders?status=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 1)

	rec = doJSON(t, h, http.MethodGet, "/seckill/users/1/orders?status=9", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
