package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

// ─── Credit Ledger ──────────────────────────────────────────────────────────

// PostPayout writes the DEBIT/CREDIT pair for a payout in one transaction.
// applied is false when the payout id was already posted; nothing is written
// in that case.
func (d *DB) PostPayout(ctx context.Context, c domain.Credit, at time.Time) (applied bool, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil || !applied {
			tx.Rollback()
		}
	}()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_ledger WHERE payout_id = ?`, c.ID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("check payout: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	poolBal, err := balanceTx(ctx, tx, domain.BonusPoolAccount)
	if err != nil {
		return false, fmt.Errorf("get pool balance: %w", err)
	}
	account := domain.DriverAccount(c.DriverID)
	driverBal, err := balanceTx(ctx, tx, account)
	if err != nil {
		return false, fmt.Errorf("get driver balance: %w", err)
	}

	entries := []domain.LedgerEntry{
		{Account: domain.BonusPoolAccount, EntryType: domain.EntryDebit, Balance: poolBal - c.Amount},
		{Account: account, EntryType: domain.EntryCredit, Balance: driverBal + c.Amount},
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_ledger (payout_id, timestamp, kind, entry_type, account, amount, description, balance)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, at.Unix(), string(c.Kind), string(e.EntryType), e.Account, c.Amount, c.Description, e.Balance,
		); err != nil {
			return false, fmt.Errorf("insert %s %s: %w", e.EntryType, e.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CreditBalance returns the current balance for an account.
func (d *DB) CreditBalance(ctx context.Context, account string) (int64, error) {
	var balance sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Int64, nil
}

// LedgerEntries returns recent ledger entries for an account, newest first.
func (d *DB) LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, payout_id, timestamp, kind, entry_type, account, amount, description, balance
		 FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts int64
		var desc sql.NullString
		err := rows.Scan(&e.ID, &e.PayoutID, &ts, &e.Kind, &e.EntryType, &e.Account,
			&e.Amount, &desc, &e.Balance)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		if desc.Valid {
			e.Description = desc.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerTotals sums every DEBIT and every CREDIT in the ledger.
func (d *DB) LedgerTotals(ctx context.Context) (debits, credits int64, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN entry_type = 'DEBIT' THEN amount END), 0),
			COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount END), 0)
		 FROM credit_ledger`,
	).Scan(&debits, &credits)
	return debits, credits, err
}

func balanceTx(ctx context.Context, tx *sql.Tx, account string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
