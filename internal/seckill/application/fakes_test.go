package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
	"github.com/flashdeal/seckill-engine/pkg/redislock"
)

// In-memory doubles for the fast store, token store, lock and queue. Each
// guards its state with a mutex so the concurrency properties under test are
// exercised against genuinely shared state.

type fakeLedger struct {
	mu     sync.Mutex
	counts map[int64]int
	incErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{counts: map[int64]int{}}
}

func (l *fakeLedger) seed(goodID int64, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[goodID] = n
}

func (l *fakeLedger) count(goodID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[goodID]
}

func (l *fakeLedger) TryDecrement(_ context.Context, goodID int64, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.counts[goodID]
	if !ok {
		return domain.ErrStockKeyMissing
	}
	if current < qty {
		return domain.ErrSoldOut
	}
	l.counts[goodID] = current - qty
	return nil
}

func (l *fakeLedger) Increment(_ context.Context, goodID int64, qty int) error {
	if l.incErr != nil {
		return l.incErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[goodID] += qty
	return nil
}

type tokenKey struct {
	userID, goodID int64
}

type fakeTokens struct {
	mu     sync.Mutex
	stored map[tokenKey]string
	seq    int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{stored: map[tokenKey]string{}}
}

func (s *fakeTokens) Issue(_ context.Context, userID, goodID int64) (domain.IssuedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	token := fmt.Sprintf("token-%d", s.seq)
	s.stored[tokenKey{userID, goodID}] = token
	return domain.IssuedToken{Token: token, TTL: 5 * time.Minute, IssuedAt: time.Now()}, nil
}

func (s *fakeTokens) Consume(_ context.Context, userID, goodID int64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{userID, goodID}
	stored, ok := s.stored[key]
	if !ok || stored != token {
		return false, nil
	}
	delete(s.stored, key)
	return true, nil
}

type fakeOrders struct {
	mu         sync.Mutex
	byID       map[string]domain.Order
	createErr  error
	markSucErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byID: map[string]domain.Order{}}
}

func (r *fakeOrders) Create(_ context.Context, o domain.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.UserID == o.UserID && existing.GoodID == o.GoodID && existing.Status != domain.StatusFailed {
			return domain.ErrDuplicateOrder
		}
	}
	r.byID[o.OrderID] = o
	return nil
}

func (r *fakeOrders) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeOrders) GetByUserAndGood(_ context.Context, userID, goodID int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found domain.Order
	ok := false
	for _, o := range r.byID {
		if o.UserID == userID && o.GoodID == goodID && (!ok || o.CreatedAt.After(found.CreatedAt)) {
			found, ok = o, true
		}
	}
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return found, nil
}

func (r *fakeOrders) ListByUser(_ context.Context, userID int64, status *domain.OrderStatus) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.byID {
		if o.UserID != userID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeOrders) MarkSucceeded(_ context.Context, orderID string) error {
	if r.markSucErr != nil {
		return r.markSucErr
	}
	return r.setStatus(orderID, domain.StatusSucceeded)
}

func (r *fakeOrders) MarkFailed(_ context.Context, orderID string) error {
	return r.setStatus(orderID, domain.StatusFailed)
}

func (r *fakeOrders) setStatus(orderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	r.byID[orderID] = o
	return nil
}

func (r *fakeOrders) statusCounts() map[domain.OrderStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[domain.OrderStatus]int{}
	for _, o := range r.byID {
		out[o.Status]++
	}
	return out
}

type fakeSales struct {
	mu     sync.Mutex
	items  map[int64]domain.SaleItem
	decs   map[int64]int
	decErr error
}

func newFakeSales() *fakeSales {
	return &fakeSales{items: map[int64]domain.SaleItem{}, decs: map[int64]int{}}
}

func (r *fakeSales) put(item domain.SaleItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.GoodID] = item
}

func (r *fakeSales) stock(goodID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[goodID].Stock
}

func (r *fakeSales) decrements(goodID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decs[goodID]
}

func (r *fakeSales) Get(_ context.Context, goodID int64) (domain.SaleItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[goodID]
	if !ok {
		return domain.SaleItem{}, domain.ErrSaleNotFound
	}
	return item, nil
}

func (r *fakeSales) List(_ context.Context) ([]domain.SaleItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SaleItem
	for _, item := range r.items {
		out = append(out, item)
	}
	return out, nil
}

func (r *fakeSales) DecrementStock(_ context.Context, goodID int64) (bool, error) {
	if r.decErr != nil {
		return false, r.decErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[goodID]
	if !ok || item.Stock <= 0 {
		return false, nil
	}
	item.Stock--
	r.items[goodID] = item
	r.decs[goodID]++
	return true, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	reqs    []domain.FinalizationRequest
	failErr error
}

func (q *fakeQueue) Enqueue(_ context.Context, req domain.FinalizationRequest) error {
	if q.failErr != nil {
		return q.failErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *fakeQueue) drain() []domain.FinalizationRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.reqs
	q.reqs = nil
	return out
}

// fakeLocker is a keyed in-process mutex table with the same busy semantics
// as the Redis lock.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, wait, _ time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(wait)
	for {
		l.mu.Lock()
		if !l.held[key] {
			l.held[key] = true
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()
		if time.Now().After(deadline) {
			return redislock.ErrLockBusy
		}
		time.Sleep(time.Millisecond)
	}
	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
