// Package loyalty implements the driver gamification engines: ride-count
// leveling and the VIP qualification cycle, their persisted state records,
// and the per-driver owner that serializes every event for one driver.
package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/metrics"
)

// LevelUpResult describes one sub-level completion.
type LevelUpResult struct {
	DriverID     string `json:"driver_id"`
	FromLevel    int    `json:"from_level"`
	FromSubLevel int    `json:"from_sub_level"`
	ToLevel      int    `json:"to_level"`
	ToSubLevel   int    `json:"to_sub_level"`
	Progress     int    `json:"progress"`
	Bonus        int64  `json:"bonus"`
	PayoutID     string `json:"payout_id"`
	EnteredVIP   bool   `json:"entered_vip"`
}

// LevelEngine tracks one driver's ride-count level. It is not safe for
// concurrent use; Driver serializes access.
type LevelEngine struct {
	driverID string
	clock    domain.Clock
	p        *persister

	state  domain.LevelState
	extras map[string]json.RawMessage

	// dirty is set while the in-memory state is ahead of the store.
	dirty bool
}

// NewLevelEngine creates an engine holding the default state. Call Load to
// read the persisted record.
func NewLevelEngine(driverID string, store domain.StateStore, wallet domain.Wallet, clock domain.Clock, retry RetryPolicy) *LevelEngine {
	return &LevelEngine{
		driverID: driverID,
		clock:    clock,
		p:        &persister{engine: "level", store: store, wallet: wallet, policy: retry},
		state:    domain.DefaultLevelState(),
	}
}

// Load reads the persisted record, migrating and clamping it as needed. A
// migrated or clamped record is written back once.
func (e *LevelEngine) Load(ctx context.Context) error {
	data, ok, err := e.p.load(ctx, LevelKey(e.driverID))
	if err != nil {
		return err
	}
	if !ok {
		e.state = domain.DefaultLevelState()
		return nil
	}

	s, extras, migrated, err := decodeLevel(data)
	if err != nil {
		return fmt.Errorf("decode level record for %s: %w", e.driverID, err)
	}
	s, problems := clampLevel(s)
	if len(problems) > 0 {
		log.WithFields(log.Fields{
			"driver_id": e.driverID,
			"problems":  problems,
		}).Warn("level record violated invariants, clamped")
	}
	e.state, e.extras = s, extras

	if migrated || len(problems) > 0 {
		if err := e.commit(ctx, e.state); err != nil {
			e.dirty = true
			log.WithField("driver_id", e.driverID).WithError(err).Warn("rewrite of migrated level record failed")
		}
	}
	return nil
}

// State returns a copy of the current state.
func (e *LevelEngine) State() domain.LevelState {
	return e.state.Clone()
}

// IsVIP reports whether the driver has reached the VIP tier.
func (e *LevelEngine) IsVIP() bool {
	return e.state.IsVIP
}

// Dirty reports whether the in-memory state has not been saved yet.
func (e *LevelEngine) Dirty() bool { return e.dirty }

// OnRideCompleted counts one ride. It returns a result when the ride
// completes a sub-level. The new state is kept only after it is durably
// saved; ErrPersistence means the ride was not counted. Once the ride is
// saved, later failures never undo it: a wallet rejection is returned as
// ErrWalletCredit with the result, and a failed save of the cleared outbox
// leaves the engine dirty until the next call saves it.
func (e *LevelEngine) OnRideCompleted(ctx context.Context) (*LevelUpResult, error) {
	next := e.state.Clone()
	next.TotalRides++
	next.Progress++

	var res *LevelUpResult
	if l, s, p := domain.LevelForTotalRides(next.TotalRides); l != next.Level || s != next.SubLevel {
		res = &LevelUpResult{
			DriverID:     e.driverID,
			FromLevel:    next.Level,
			FromSubLevel: next.SubLevel,
			ToLevel:      l,
			ToSubLevel:   s,
			Progress:     p,
			Bonus:        domain.SubLevelBonus(next.Level, next.SubLevel),
			EnteredVIP:   l == domain.LevelVIP && !next.IsVIP,
		}
		next.Level, next.SubLevel, next.Progress = l, s, p
		next.IsVIP = l == domain.LevelVIP
		if res.Bonus > 0 {
			c := e.payout(res)
			res.PayoutID = c.ID
			next.PendingPayouts = append(next.PendingPayouts, c)
		}
	}

	if err := e.commit(ctx, next); err != nil {
		return nil, err
	}

	metrics.RidesCompleted.Inc()
	if res != nil {
		metrics.LevelUps.WithLabelValues(strconv.Itoa(res.FromLevel)).Inc()
		entry := log.WithFields(log.Fields{
			"driver_id": e.driverID,
			"from":      fmt.Sprintf("%d.%d", res.FromLevel, res.FromSubLevel),
			"to":        fmt.Sprintf("%d.%d", res.ToLevel, res.ToSubLevel),
			"bonus":     res.Bonus,
		})
		if res.EnteredVIP {
			metrics.VIPActivations.Inc()
			entry.Info("driver reached VIP tier")
		} else {
			entry.Info("sub-level completed")
		}
	}

	if err := e.settle(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// ResetProgress reinitializes the record to defaults. Bonuses still owed
// stay owed.
func (e *LevelEngine) ResetProgress(ctx context.Context) error {
	next := domain.DefaultLevelState()
	next.PendingPayouts = append(next.PendingPayouts, e.state.PendingPayouts...)
	if err := e.commit(ctx, next); err != nil {
		return err
	}
	log.WithField("driver_id", e.driverID).Info("level progress reset")
	return nil
}

// RetryPayouts saves a dirty record and credits any bonus still owed.
func (e *LevelEngine) RetryPayouts(ctx context.Context) error {
	return e.settle(ctx)
}

// PendingPayouts returns the bonuses saved but not yet credited.
func (e *LevelEngine) PendingPayouts() []domain.Credit {
	return append([]domain.Credit(nil), e.state.PendingPayouts...)
}

// GetTotalRidesForLevel maps a (level, sub-level, progress) triple to an
// absolute ride count.
func GetTotalRidesForLevel(level, subLevel, progress int) int {
	return domain.TotalRidesForLevel(level, subLevel, progress)
}

func (e *LevelEngine) payout(res *LevelUpResult) domain.Credit {
	desc := fmt.Sprintf("Level %d.%d complete", res.FromLevel, res.FromSubLevel)
	if res.EnteredVIP {
		desc = "VIP tier reached"
	}
	return domain.Credit{
		ID:          uuid.NewString(),
		DriverID:    e.driverID,
		Kind:        domain.PayoutLevelUp,
		Amount:      res.Bonus,
		Description: desc,
		CreatedAt:   e.clock.Now(),
	}
}

// commit saves next and only then makes it the current state.
func (e *LevelEngine) commit(ctx context.Context, next domain.LevelState) error {
	data, err := encodeRecord(next, e.extras)
	if err != nil {
		return fmt.Errorf("%w: encode level record: %v", domain.ErrPersistence, err)
	}
	if err := e.p.save(ctx, LevelKey(e.driverID), data); err != nil {
		log.WithField("driver_id", e.driverID).WithError(err).Warn("level state not saved")
		return err
	}
	e.state = next
	e.dirty = false
	return nil
}

// settle saves a dirty record, pays the outbox and saves what is still owed.
func (e *LevelEngine) settle(ctx context.Context) error {
	if e.dirty {
		if err := e.commit(ctx, e.state); err != nil {
			return err
		}
	}
	if len(e.state.PendingPayouts) == 0 {
		return nil
	}
	remaining, payErr := e.p.pay(ctx, e.state.PendingPayouts)
	if len(remaining) < len(e.state.PendingPayouts) {
		next := e.state.Clone()
		next.PendingPayouts = remaining
		if err := e.commit(ctx, next); err != nil {
			// The store still lists paid credits as owed; the wallet
			// ignores them when they are replayed.
			e.state = next
			e.dirty = true
		}
	}
	return payErr
}
