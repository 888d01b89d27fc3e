package domain

import "time"

// ─── Payouts ────────────────────────────────────────────────────────────────

// PayoutKind categorizes a bonus credit.
type PayoutKind string

const (
	PayoutLevelUp   PayoutKind = "level_up"
	PayoutMonthly   PayoutKind = "vip_monthly"
	PayoutQuarterly PayoutKind = "vip_quarterly"
)

// Credit is one bonus owed to a driver. ID is the wallet idempotency key:
// crediting the same ID twice credits once.
type Credit struct {
	ID          string     `json:"id"`
	DriverID    string     `json:"driver_id"`
	Kind        PayoutKind `json:"kind"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// EntryType is the side of a double-entry ledger row.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one row of the wallet ledger. Every payout writes a DEBIT
// against the bonus pool and a matching CREDIT to the driver account.
type LedgerEntry struct {
	ID          int64      `json:"id"`
	PayoutID    string     `json:"payout_id"`
	Timestamp   time.Time  `json:"timestamp"`
	Kind        PayoutKind `json:"kind"`
	EntryType   EntryType  `json:"entry_type"`
	Account     string     `json:"account"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	Balance     int64      `json:"balance"`
}

// BonusPoolAccount funds every payout.
const BonusPoolAccount = "bonus_pool"

// DriverAccount returns the ledger account of a driver.
func DriverAccount(driverID string) string {
	return "driver:" + driverID
}
