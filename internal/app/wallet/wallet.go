// Package wallet implements the driver bonus wallet on the double-entry
// credit ledger. Every payout creates matched DEBIT (bonus_pool) and CREDIT
// (driver:<id>) entries. SUM(debits) == SUM(credits) is an invariant.
package wallet

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/sqlite"
)

// Service manages driver bonus balances.
type Service struct {
	db *sqlite.DB
}

var _ domain.Wallet = (*Service)(nil)

// NewService creates a wallet service.
func NewService(db *sqlite.DB) *Service {
	return &Service{db: db}
}

// Credit posts a bonus payout. Posting the same payout id again is a no-op.
func (s *Service) Credit(ctx context.Context, c domain.Credit) error {
	if c.ID == "" {
		return domain.ErrMissingID
	}
	if c.Amount <= 0 {
		return fmt.Errorf("%w: got %d", domain.ErrInvalidAmount, c.Amount)
	}
	if c.DriverID == "" {
		return domain.ErrInvalidDriver
	}

	at := c.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	applied, err := s.db.PostPayout(ctx, c, at)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWalletCredit, err)
	}

	entry := log.WithFields(log.Fields{
		"driver_id": c.DriverID,
		"payout_id": c.ID,
		"kind":      c.Kind,
		"amount":    c.Amount,
	})
	if !applied {
		entry.Debug("payout already posted")
		return nil
	}
	entry.Info("payout credited")
	return nil
}

// Balance returns the current balance of a driver.
func (s *Service) Balance(ctx context.Context, driverID string) (int64, error) {
	return s.db.CreditBalance(ctx, domain.DriverAccount(driverID))
}

// PoolBalance returns the bonus pool balance. It only ever goes down.
func (s *Service) PoolBalance(ctx context.Context) (int64, error) {
	return s.db.CreditBalance(ctx, domain.BonusPoolAccount)
}

// History returns recent ledger entries for a driver, newest first.
func (s *Service) History(ctx context.Context, driverID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.db.LedgerEntries(ctx, domain.DriverAccount(driverID), limit)
}

// Verify checks the double-entry invariant over the whole ledger.
func (s *Service) Verify(ctx context.Context) error {
	debits, credits, err := s.db.LedgerTotals(ctx)
	if err != nil {
		return fmt.Errorf("ledger totals: %w", err)
	}
	if debits != credits {
		return fmt.Errorf("ledger out of balance: debits %d, credits %d", debits, credits)
	}
	return nil
}
