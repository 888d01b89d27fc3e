// Package health provides periodic health checks with auto-recovery.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is a store that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerVerifier checks the wallet ledger invariants.
type LedgerVerifier interface {
	Verify(ctx context.Context) error
}

// Settler reports and repairs drivers with owed bonuses or unsaved state.
type Settler interface {
	Unsettled() []string
	SettleAll(ctx context.Context) error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard loyalty checks.
func NewChecker(store Pinger, ledger LedgerVerifier, settler Settler, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	checks := []Check{
		{
			Name:    "state_store",
			CheckFn: store.Ping,
		},
		{
			Name: "pending_payouts",
			CheckFn: func(ctx context.Context) error {
				if ids := settler.Unsettled(); len(ids) > 0 {
					return fmt.Errorf("%d drivers unsettled: %s", len(ids), strings.Join(ids, ","))
				}
				return nil
			},
			RecoverFn: settler.SettleAll,
		},
	}
	if ledger != nil {
		checks = append(checks, Check{Name: "wallet_ledger", CheckFn: ledger.Verify})
	}
	return &Checker{interval: interval, checks: checks}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

// RunAll runs every check once and records the results.
func (c *Checker) RunAll(ctx context.Context) []Status {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, Healthy: true, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			entry := log.WithField("check", check.Name).WithError(err)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if rerr := check.RecoverFn(ctx); rerr != nil {
					entry.WithField("recover_error", rerr.Error()).Warn("health check failed, recovery failed")
				} else {
					s.Recovered = true
					entry.Info("health check failed, recovered")
				}
			} else {
				entry.Warn("health check failed")
			}
		}
		if s.Healthy {
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		} else {
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
	return statuses
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
