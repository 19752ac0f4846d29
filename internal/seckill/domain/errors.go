package domain

import "errors"

var (
	// Admission outcomes surfaced to the caller.
	ErrNotStarted   = errors.New("sale not started")
	ErrEnded        = errors.New("sale ended")
	ErrInvalidToken = errors.New("invalid admission token")
	ErrSoldOut      = errors.New("sold out")

	// ErrStockKeyMissing means the fast store has no counter for an active
	// good. This is an operational fault (cache not warmed), never to be
	// reported as sold out.
	ErrStockKeyMissing = errors.New("stock counter missing")

	ErrEnqueueFailed = errors.New("enqueue finalization request failed")

	// ErrDuplicateOrder is returned by the order repository when a live
	// (non-failed) order already exists for the (user, good) pair.
	ErrDuplicateOrder = errors.New("order already exists for user and good")

	ErrOrderNotFound = errors.New("order not found")
	ErrSaleNotFound  = errors.New("sale not found")
)
