package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
)

const uniqueViolation = "23505"

// EnsureSchema creates the tables the engine owns. The partial unique index
// on (user_id, good_id) enforces at most one live (non-failed) order per
// pair even under concurrent creates.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sale_items (
			good_id       BIGINT PRIMARY KEY,
			name          TEXT NOT NULL,
			price_cents   BIGINT NOT NULL,
			initial_stock INT NOT NULL,
			stock         INT NOT NULL,
			starts_at     TIMESTAMPTZ NOT NULL,
			ends_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS seckill_orders (
			order_id    TEXT PRIMARY KEY,
			order_no    TEXT NOT NULL,
			user_id     BIGINT NOT NULL,
			good_id     BIGINT NOT NULL,
			price_cents BIGINT NOT NULL,
			status      INT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS seckill_orders_live_pair
			ON seckill_orders (user_id, good_id) WHERE status <> 2`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type OrderRepository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOrderRepository(log *slog.Logger, pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{log: log, pool: pool}
}

func (r *OrderRepository) Create(ctx context.Context, o domain.Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO seckill_orders
		(order_id, order_no, user_id, good_id, price_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.OrderID, o.OrderNo, o.UserID, o.GoodID, o.PriceCents, int(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT order_id, order_no, user_id, good_id, price_cents, status, created_at, updated_at
		FROM seckill_orders WHERE order_id=$1`, orderID))
}

func (r *OrderRepository) GetByUserAndGood(ctx context.Context, userID, goodID int64) (domain.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT order_id, order_no, user_id, good_id, price_cents, status, created_at, updated_at
		FROM seckill_orders WHERE user_id=$1 AND good_id=$2
		ORDER BY created_at DESC LIMIT 1`, userID, goodID))
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, status *domain.OrderStatus) ([]domain.Order, error) {
	q := `SELECT order_id, order_no, user_id, good_id, price_cents, status, created_at, updated_at
		FROM seckill_orders WHERE user_id=$1`
	args := []any{userID}
	if status != nil {
		q += ` AND status=$2`
		args = append(args, int(*status))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var st int
		if err := rows.Scan(&o.OrderID, &o.OrderNo, &o.UserID, &o.GoodID, &o.PriceCents, &st, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = domain.OrderStatus(st)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) MarkSucceeded(ctx context.Context, orderID string) error {
	return r.setStatus(ctx, orderID, domain.StatusSucceeded)
}

func (r *OrderRepository) MarkFailed(ctx context.Context, orderID string) error {
	return r.setStatus(ctx, orderID, domain.StatusFailed)
}

func (r *OrderRepository) setStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	ct, err := r.pool.Exec(ctx, `UPDATE seckill_orders SET status=$2, updated_at=$3 WHERE order_id=$1`,
		orderID, int(status), time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) scanOne(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var st int
	err := row.Scan(&o.OrderID, &o.OrderNo, &o.UserID, &o.GoodID, &o.PriceCents, &st, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(st)
	return o, nil
}

type SaleRepository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewSaleRepository(log *slog.Logger, pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{log: log, pool: pool}
}

func (r *SaleRepository) Get(ctx context.Context, goodID int64) (domain.SaleItem, error) {
	var item domain.SaleItem
	err := r.pool.QueryRow(ctx, `SELECT good_id, name, price_cents, initial_stock, stock, starts_at, ends_at
		FROM sale_items WHERE good_id=$1`, goodID).
		Scan(&item.GoodID, &item.Name, &item.PriceCents, &item.InitialStock, &item.Stock, &item.StartsAt, &item.EndsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SaleItem{}, domain.ErrSaleNotFound
	}
	if err != nil {
		return domain.SaleItem{}, err
	}
	return item, nil
}

func (r *SaleRepository) List(ctx context.Context) ([]domain.SaleItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT good_id, name, price_cents, initial_stock, stock, starts_at, ends_at
		FROM sale_items ORDER BY good_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SaleItem
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.GoodID, &item.Name, &item.PriceCents, &item.InitialStock, &item.Stock, &item.StartsAt, &item.EndsAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DecrementStock is the authoritative conditional decrement. Zero rows
// affected means the durable store is out of stock, a normal contention
// outcome for the caller to compensate.
func (r *SaleRepository) DecrementStock(ctx context.Context, goodID int64) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE sale_items SET stock = stock - 1 WHERE good_id=$1 AND stock > 0`, goodID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// Upsert seeds or resets a catalog entry; used by operators and tests.
func (r *SaleRepository) Upsert(ctx context.Context, item domain.SaleItem) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sale_items
		(good_id, name, price_cents, initial_stock, stock, starts_at, ends_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (good_id) DO UPDATE SET
			name=$2, price_cents=$3, initial_stock=$4, stock=$5, starts_at=$6, ends_at=$7`,
		item.GoodID, item.Name, item.PriceCents, item.InitialStock, item.Stock, item.StartsAt, item.EndsAt)
	return err
}
