package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/metrics"
)

// RetryPolicy bounds how often a failed store call is retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// DefaultRetryPolicy retries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 100 * time.Millisecond}
}

// persister wraps the state store with bounded retry and pays the outbox.
type persister struct {
	engine string
	store  domain.StateStore
	wallet domain.Wallet
	policy RetryPolicy
}

func (p *persister) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, p.policy.MaxRetries), ctx))
}

func (p *persister) load(ctx context.Context, key string) (data []byte, ok bool, err error) {
	err = p.retry(ctx, func() error {
		var e error
		data, ok, e = p.store.Load(ctx, key)
		return e
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: load %s: %v", domain.ErrPersistence, key, err)
	}
	return data, ok, nil
}

func (p *persister) save(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := p.retry(ctx, func() error { return p.store.Save(ctx, key, data) })
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistFailures.WithLabelValues(p.engine).Inc()
		return fmt.Errorf("%w: save %s: %v", domain.ErrPersistence, key, err)
	}
	return nil
}

// pay credits every pending payout once and returns the ones still owed.
// A failed credit is not retried here; it stays pending for the next call.
func (p *persister) pay(ctx context.Context, pending []domain.Credit) ([]domain.Credit, error) {
	var (
		remaining []domain.Credit
		errs      []error
	)
	for _, c := range pending {
		if err := p.wallet.Credit(ctx, c); err != nil {
			metrics.CreditFailures.Inc()
			log.WithFields(log.Fields{
				"driver_id": c.DriverID,
				"payout_id": c.ID,
				"amount":    c.Amount,
			}).WithError(err).Warn("wallet credit failed, payout stays pending")
			remaining = append(remaining, c)
			errs = append(errs, err)
			continue
		}
		metrics.BonusesPaid.WithLabelValues(string(c.Kind)).Inc()
		metrics.BonusAmount.WithLabelValues(string(c.Kind)).Add(float64(c.Amount))
	}
	if len(errs) > 0 {
		return remaining, fmt.Errorf("%w: %d of %d payouts pending: %v",
			domain.ErrWalletCredit, len(remaining), len(pending), errors.Join(errs...))
	}
	return nil, nil
}

func sumPayouts(cs []domain.Credit) int64 {
	var total int64
	for _, c := range cs {
		total += c.Amount
	}
	return total
}
