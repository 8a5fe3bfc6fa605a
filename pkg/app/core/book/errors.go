package book

import "errors"

var (
	ErrInvalidAmount       = errors.New("order quantity must be positive")
	ErrInvalidPrice        = errors.New("order price must be positive")
	ErrOrderBookFull       = errors.New("order book full")
	ErrTreeFull            = errors.New("no free price levels")
	ErrPostOnlyWouldMatch  = errors.New("post-only order would match")
	ErrFillOrKillNotFilled = errors.New("fill-or-kill order cannot be fully filled")
	ErrUnknownOrder        = errors.New("unknown order")
	ErrUnauthorized        = errors.New("requester does not own order")

	// ErrSelfTrade is never returned by Place; the policy is
	// cancel-oldest-and-continue. It exists so callers can label
	// self-trade cancellations in traces.
	ErrSelfTrade = errors.New("self trade prevented")
)
