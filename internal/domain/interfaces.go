package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// Infrastructure implements them; the loyalty engines depend on them.

// StateStore is the durable key-value store for engine state. A single Save
// is atomic: either the whole record is written or none of it.
type StateStore interface {
	// Load returns the record for key. ok is false when no record exists.
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Save replaces the record for key.
	Save(ctx context.Context, key string, data []byte) error

	// Keys lists stored keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Wallet is the balance ledger both engines credit. Credit must be
// idempotent on Credit.ID.
type Wallet interface {
	Credit(ctx context.Context, c Credit) error
}

// Clock is the wall-clock source. Times are in the local location that
// defines calendar days.
type Clock interface {
	Now() time.Time
	NextLocalMidnight() time.Time
}
