package engine

import "errors"

// Sentinel errors returned by engine operations. The API layer inspects
// these with errors.Is to pick an HTTP status; everything else is treated
// as an internal failure.
var (
	// ErrNotFound means a referenced user, market, event, or order does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOrder means the order failed bounds validation: price
	// outside (0,1], more than four decimal places, or quantity < 1.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidAmount means a monetary amount was zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds means the wallet's available balance cannot
	// cover the requested lock or withdrawal.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientLocked means a consume or unlock exceeded the
	// wallet's locked balance. This is an invariant breach, not a user
	// error; callers roll back and surface it as internal.
	ErrInsufficientLocked = errors.New("insufficient locked funds")

	// ErrMarketNotTradable means the market is not ACTIVE.
	ErrMarketNotTradable = errors.New("market not tradable")

	// ErrConflict means the operation is disallowed by the entity's
	// current lifecycle state: cancelling a terminal order, settling a
	// settled market, resuming a market that is not suspended.
	ErrConflict = errors.New("conflict with current state")
)
