package domain

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type OrderStatus int

const (
	StatusQueued    OrderStatus = 0
	StatusSucceeded OrderStatus = 1
	StatusFailed    OrderStatus = 2
)

func (s OrderStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Order is one admission slot for a (user, good) pair. It is created in
// StatusQueued by the admission pipeline and moved to a terminal status only
// by the finalization consumer.
type Order struct {
	OrderID    string
	OrderNo    string
	UserID     int64
	GoodID     int64
	PriceCents int64
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewOrder(userID, goodID, priceCents int64) Order {
	now := time.Now().UTC()
	return Order{
		OrderID:    NewOrderID(),
		OrderNo:    newOrderNo(now),
		UserID:     userID,
		GoodID:     goodID,
		PriceCents: priceCents,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewOrderID returns a globally unique, externally facing order id:
// a UUID without dashes.
func NewOrderID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newOrderNo builds the human-readable order number: a second-resolution
// timestamp plus a six-digit random suffix.
func newOrderNo(now time.Time) string {
	return now.Format("20060102150405") + fmt.Sprintf("%06d", rand.IntN(1000000))
}

// FinalizationRequest is the queue message produced once per successful
// admission and consumed at least once by the finalization consumer.
type FinalizationRequest struct {
	UserID   int64  `json:"user_id"`
	GoodID   int64  `json:"good_id"`
	OrderID  string `json:"order_id"`
	IssuedAt int64  `json:"issued_at_ms"`
}

// IssuedToken is what the token service hands back to a client: the opaque
// secret plus how long it stays valid.
type IssuedToken struct {
	Token    string
	TTL      time.Duration
	IssuedAt time.Time
}
