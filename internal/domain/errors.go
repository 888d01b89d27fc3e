package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Persistence errors
	ErrPersistence  = errors.New("state persistence failed")
	ErrInvalidState = errors.New("persisted state violates invariants")
	ErrSchemaTooNew = errors.New("persisted schema version is newer than supported")

	// Wallet errors
	ErrWalletCredit  = errors.New("wallet rejected credit")
	ErrInvalidAmount = errors.New("credit amount must be positive")
	ErrMissingID     = errors.New("credit requires a payout id")

	// Driver errors
	ErrDriverNotFound = errors.New("driver not found")
	ErrInvalidDriver  = errors.New("invalid driver id")
	ErrNotVIP         = errors.New("driver is not in the VIP tier")
)
