package domain

import "time"

// SaleItem is the durable catalog entry for a flash-sale good. The stock
// column is authoritative; the fast-store counter seeded from it is a
// performance optimization.
type SaleItem struct {
	GoodID       int64
	Name         string
	PriceCents   int64
	InitialStock int
	Stock        int
	StartsAt     time.Time
	EndsAt       time.Time
}

// CheckWindow reports whether now falls inside the activation window.
func (s SaleItem) CheckWindow(now time.Time) error {
	if now.Before(s.StartsAt) {
		return ErrNotStarted
	}
	if now.After(s.EndsAt) {
		return ErrEnded
	}
	return nil
}
