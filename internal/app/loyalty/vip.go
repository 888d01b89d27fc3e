package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/metrics"
)

// Cycle reset reasons.
const (
	ResetStreakBroken = "streak_broken"
	ResetMaxStreak    = "max_streak"
	ResetCycleElapsed = "cycle_elapsed"
	ResetOperator     = "operator"
)

// DayOutcome is the result of closing one calendar day.
type DayOutcome struct {
	Day         time.Time `json:"day"`
	HoursOnline float64   `json:"hours_online"`
	Rides       int       `json:"rides"`
	Qualified   bool      `json:"qualified"`
	// Counted is false for days outside a period, such as the partial
	// day of the first session.
	Counted bool `json:"counted"`
}

// PeriodOutcome is the result of closing one qualification period.
type PeriodOutcome struct {
	Start          time.Time `json:"start"`
	QualifiedDays  int       `json:"qualified_days"`
	Qualified      bool      `json:"qualified"`
	MonthlyBonus   int64     `json:"monthly_bonus"`
	Streak         int       `json:"streak"`
	QuarterlyBonus int64     `json:"quarterly_bonus"`
}

// CycleReset records a streak or cycle reset.
type CycleReset struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// TickReport lists the boundary effects that became durable.
type TickReport struct {
	Days    []DayOutcome    `json:"days,omitempty"`
	Periods []PeriodOutcome `json:"periods,omitempty"`
	Resets  []CycleReset    `json:"resets,omitempty"`
	Payouts []domain.Credit `json:"payouts,omitempty"`
}

// Empty reports whether nothing happened.
func (r *TickReport) Empty() bool {
	return len(r.Days) == 0 && len(r.Periods) == 0 && len(r.Resets) == 0 && len(r.Payouts) == 0
}

func (r *TickReport) merge(o TickReport) {
	r.Days = append(r.Days, o.Days...)
	r.Periods = append(r.Periods, o.Periods...)
	r.Resets = append(r.Resets, o.Resets...)
	r.Payouts = append(r.Payouts, o.Payouts...)
}

// VIPCycleEngine tracks one driver's VIP qualification cycle. Session
// markers are kept for every driver; hours, rides and qualification only
// accrue once the driver is VIP. It is not safe for concurrent use.
type VIPCycleEngine struct {
	driverID string
	rules    domain.VIPRules
	clock    domain.Clock
	bus      *StatusBus
	p        *persister

	vip    bool
	state  domain.VIPCycleState
	extras map[string]json.RawMessage

	// dirty is set while the in-memory state is ahead of the store.
	dirty bool
	// unreported holds effects not yet handed out by OnTick.
	unreported TickReport
}

// NewVIPCycleEngine creates an engine for today with an empty record. bus
// may be nil.
func NewVIPCycleEngine(driverID string, rules domain.VIPRules, store domain.StateStore, wallet domain.Wallet, clock domain.Clock, bus *StatusBus, retry RetryPolicy) *VIPCycleEngine {
	return &VIPCycleEngine{
		driverID: driverID,
		rules:    rules,
		clock:    clock,
		bus:      bus,
		p:        &persister{engine: "vip", store: store, wallet: wallet, policy: retry},
		state:    domain.VIPCycleState{CurrentDay: domain.StartOfDay(clock.Now())},
	}
}

// Load reads the persisted record. isVIP comes from the level record.
func (e *VIPCycleEngine) Load(ctx context.Context, isVIP bool) error {
	e.vip = isVIP
	data, ok, err := e.p.load(ctx, VIPKey(e.driverID))
	if err != nil {
		return err
	}
	now := e.clock.Now()
	if !ok {
		e.state = domain.VIPCycleState{CurrentDay: domain.StartOfDay(now)}
		return nil
	}

	s, extras, migrated, err := decodeVIP(data, now.Location())
	if err != nil {
		return fmt.Errorf("decode vip record for %s: %w", e.driverID, err)
	}
	s, problems := clampVIP(s, domain.StartOfDay(now), e.rules)
	if len(problems) > 0 {
		log.WithFields(log.Fields{
			"driver_id": e.driverID,
			"problems":  problems,
		}).Warn("vip record violated invariants, clamped")
	}
	e.state, e.extras = s, extras
	if s.IsCurrentlyOnline {
		metrics.DriversOnline.Inc()
	}

	if migrated || len(problems) > 0 {
		if err := e.save(ctx); err != nil {
			e.dirty = true
			log.WithField("driver_id", e.driverID).WithError(err).Warn("rewrite of migrated vip record failed")
		}
	}
	return nil
}

// State returns a copy of the current state.
func (e *VIPCycleEngine) State() domain.VIPCycleState {
	return e.state.Clone()
}

// Active reports whether qualification is running for this driver.
func (e *VIPCycleEngine) Active() bool { return e.vip }

// Online reports whether a session is open.
func (e *VIPCycleEngine) Online() bool { return e.state.IsCurrentlyOnline }

// Dirty reports whether the in-memory state has not been saved yet.
func (e *VIPCycleEngine) Dirty() bool { return e.dirty }

// Activate turns qualification on once the driver reaches the VIP tier. An
// open session restarts at activation so only VIP time is counted.
func (e *VIPCycleEngine) Activate(ctx context.Context) error {
	if e.vip {
		return nil
	}
	now := e.clock.Now()
	err := e.apply(ctx, now, func(s *domain.VIPCycleState) bool {
		e.vip = true
		s.HoursOnline, s.RidesToday = 0, 0
		if s.IsCurrentlyOnline {
			s.SessionStart = domain.TimePtr(now)
			e.startPeriod(s)
		}
		return true
	})
	log.WithField("driver_id", e.driverID).Info("vip qualification activated")
	return err
}

// Deactivate stops qualification without touching the record.
func (e *VIPCycleEngine) Deactivate() {
	e.vip = false
}

// OnSessionStart opens a session. Starting an open session is a no-op.
func (e *VIPCycleEngine) OnSessionStart(ctx context.Context) error {
	now := e.clock.Now()
	opened := false
	err := e.apply(ctx, now, func(s *domain.VIPCycleState) bool {
		if s.IsCurrentlyOnline {
			return false
		}
		s.IsCurrentlyOnline = true
		s.SessionStart = domain.TimePtr(now)
		if e.vip {
			e.startPeriod(s)
		}
		opened = true
		return true
	})
	if opened {
		metrics.DriversOnline.Inc()
		e.publish(true, now)
	}
	return err
}

// OnSessionStop closes the open session and adds its hours to today.
// Stopping without an open session is a no-op.
func (e *VIPCycleEngine) OnSessionStop(ctx context.Context) error {
	now := e.clock.Now()
	closed := false
	err := e.apply(ctx, now, func(s *domain.VIPCycleState) bool {
		if !s.IsCurrentlyOnline {
			return false
		}
		if e.vip && s.SessionStart != nil && now.After(*s.SessionStart) {
			s.HoursOnline += now.Sub(*s.SessionStart).Hours()
		}
		s.IsCurrentlyOnline = false
		s.SessionStart = nil
		closed = true
		return true
	})
	if closed {
		metrics.DriversOnline.Dec()
		e.publish(false, now)
	}
	return err
}

// OnRideCompleted counts a ride for today. No-op unless VIP.
func (e *VIPCycleEngine) OnRideCompleted(ctx context.Context) error {
	if !e.vip {
		return nil
	}
	return e.apply(ctx, e.clock.Now(), func(s *domain.VIPCycleState) bool {
		s.RidesToday++
		return true
	})
}

// OnTick applies every day, period and cycle boundary up to now. Calling it
// again without crossing a boundary changes nothing. The returned report
// carries effects that are durable, including ones left over from earlier
// calls that could not be saved. On ErrPersistence no report is returned;
// on ErrWalletCredit the report is returned with the error.
func (e *VIPCycleEngine) OnTick(ctx context.Context, now time.Time) (*TickReport, error) {
	err := e.apply(ctx, now, nil)
	if err != nil && errors.Is(err, domain.ErrPersistence) {
		return nil, err
	}
	report := e.unreported
	e.unreported = TickReport{}
	return &report, err
}

// ResetCycle reinitializes the qualification record. The open session and
// owed bonuses are kept.
func (e *VIPCycleEngine) ResetCycle(ctx context.Context) error {
	now := e.clock.Now()
	err := e.apply(ctx, now, func(s *domain.VIPCycleState) bool {
		fresh := domain.VIPCycleState{
			CurrentDay:        s.CurrentDay,
			IsCurrentlyOnline: s.IsCurrentlyOnline,
			PendingPayouts:    s.PendingPayouts,
		}
		if s.IsCurrentlyOnline {
			fresh.SessionStart = domain.TimePtr(now)
			if e.vip {
				e.startPeriod(&fresh)
			}
		}
		*s = fresh
		return true
	})
	metrics.CycleResets.WithLabelValues(ResetOperator).Inc()
	log.WithField("driver_id", e.driverID).Info("vip cycle reset by operator")
	return err
}

// RetryPayouts saves a dirty record and credits any bonus still owed.
func (e *VIPCycleEngine) RetryPayouts(ctx context.Context) error {
	return e.apply(ctx, e.clock.Now(), nil)
}

// PendingPayouts returns the bonuses recorded but not yet credited.
func (e *VIPCycleEngine) PendingPayouts() []domain.Credit {
	return append([]domain.Credit(nil), e.state.PendingPayouts...)
}

// apply advances a copy of the state to now, runs mutate on it and makes it
// current. The in-memory state is kept even if the save fails; the next call
// saves it again.
func (e *VIPCycleEngine) apply(ctx context.Context, now time.Time, mutate func(*domain.VIPCycleState) bool) error {
	next := e.state.Clone()
	var r TickReport
	changed := e.advance(&next, now, &r)
	if mutate != nil && mutate(&next) {
		changed = true
	}

	if changed {
		e.state = next
		e.unreported.merge(r)
		e.record(r)
		e.dirty = true
	}
	if e.dirty {
		if err := e.save(ctx); err != nil {
			log.WithField("driver_id", e.driverID).WithError(err).Warn("vip state not saved, will retry")
			return err
		}
		e.dirty = false
	}
	return e.settle(ctx)
}

// advance closes every calendar day before now, then checks period and
// cycle boundaries as of each new day.
func (e *VIPCycleEngine) advance(s *domain.VIPCycleState, now time.Time, r *TickReport) bool {
	today := domain.StartOfDay(now)
	changed := false
	for s.CurrentDay.Before(today) {
		e.closeDay(s, r)
		s.CurrentDay = domain.AddDays(s.CurrentDay, 1)
		e.closeBoundaries(s, s.CurrentDay, r)
		changed = true
	}
	if e.closeBoundaries(s, today, r) {
		changed = true
	}
	return changed
}

// closeDay credits the part of an open session that fell on the current
// day, applies the day rule and starts the next day's counters.
func (e *VIPCycleEngine) closeDay(s *domain.VIPCycleState, r *TickReport) {
	end := domain.AddDays(s.CurrentDay, 1)
	if s.IsCurrentlyOnline && s.SessionStart != nil && s.SessionStart.Before(end) {
		if e.vip {
			s.HoursOnline += end.Sub(*s.SessionStart).Hours()
		}
		s.SessionStart = domain.TimePtr(end)
	}

	if e.vip {
		out := DayOutcome{
			Day:         s.CurrentDay,
			HoursOnline: s.HoursOnline,
			Rides:       s.RidesToday,
			Qualified:   e.rules.DayQualifies(s.HoursOnline, s.RidesToday),
			Counted:     e.inPeriod(s, s.CurrentDay),
		}
		if out.Qualified && out.Counted {
			s.QualifiedDaysInPeriod++
		}
		if out.Counted || out.HoursOnline > 0 || out.Rides > 0 {
			r.Days = append(r.Days, out)
		}
	}
	s.HoursOnline = 0
	s.RidesToday = 0
}

func (e *VIPCycleEngine) inPeriod(s *domain.VIPCycleState, day time.Time) bool {
	if s.PeriodStartDate == nil || day.Before(*s.PeriodStartDate) {
		return false
	}
	return domain.DaysBetween(*s.PeriodStartDate, day) < e.rules.PeriodDays
}

func (e *VIPCycleEngine) closeBoundaries(s *domain.VIPCycleState, day time.Time, r *TickReport) bool {
	if !e.vip {
		return false
	}
	periods := e.closePeriods(s, day, r)
	cycle := e.checkCycle(s, day, r)
	return periods || cycle
}

// closePeriods closes every period that ended on or before day. Periods are
// contiguous: the next one starts at the midnight that ended the last.
func (e *VIPCycleEngine) closePeriods(s *domain.VIPCycleState, day time.Time, r *TickReport) bool {
	closed := false
	for s.PeriodStartDate != nil && domain.DaysBetween(*s.PeriodStartDate, day) >= e.rules.PeriodDays {
		start := *s.PeriodStartDate
		end := domain.AddDays(start, e.rules.PeriodDays)
		days := s.QualifiedDaysInPeriod
		hadStreak := len(s.QualifiedPeriodHistory) > 0

		s.QualifiedPeriodHistory = append(s.QualifiedPeriodHistory, days)
		s.ConsecutiveQualifiedPeriods = e.rules.TrailingQualified(s.QualifiedPeriodHistory)
		out := PeriodOutcome{
			Start:         start,
			QualifiedDays: days,
			Qualified:     e.rules.PeriodQualifies(days),
			Streak:        s.ConsecutiveQualifiedPeriods,
		}
		if amount := e.rules.MonthlyBonus(days); amount > 0 {
			out.MonthlyBonus = amount
			e.owe(s, r, domain.PayoutMonthly, amount, end,
				fmt.Sprintf("VIP monthly bonus: %d qualified days from %s", days, start.Format(time.DateOnly)))
		}
		if amount, ok := e.rules.QuarterlyBonus(out.Streak); ok {
			out.QuarterlyBonus = amount
			e.owe(s, r, domain.PayoutQuarterly, amount, end,
				fmt.Sprintf("VIP streak bonus: %d consecutive periods", out.Streak))
		}

		switch {
		case !out.Qualified:
			if hadStreak || s.CycleStartDate != nil {
				r.Resets = append(r.Resets, CycleReset{At: end, Reason: ResetStreakBroken})
			}
			resetStreak(s)
		case out.Streak >= e.rules.MaxStreak():
			r.Resets = append(r.Resets, CycleReset{At: end, Reason: ResetMaxStreak})
			resetStreak(s)
		case out.Streak == 1:
			s.CycleStartDate = domain.TimePtr(start)
		}

		s.QualifiedDaysInPeriod = 0
		// Periods are contiguous: the next one starts at the midnight that
		// ended this one, not at the midnight after the tick that closed it.
		s.PeriodStartDate = domain.TimePtr(end)
		r.Periods = append(r.Periods, out)
		closed = true
	}
	return closed
}

// checkCycle enforces the hard ceiling on a streak's lifetime.
func (e *VIPCycleEngine) checkCycle(s *domain.VIPCycleState, day time.Time, r *TickReport) bool {
	if s.CycleStartDate == nil || domain.DaysBetween(*s.CycleStartDate, day) < e.rules.CycleDays {
		return false
	}
	resetStreak(s)
	s.QualifiedDaysInPeriod = 0
	s.PeriodStartDate = domain.TimePtr(domain.AddDays(day, 1))
	r.Resets = append(r.Resets, CycleReset{At: day, Reason: ResetCycleElapsed})
	return true
}

func resetStreak(s *domain.VIPCycleState) {
	s.QualifiedPeriodHistory = nil
	s.ConsecutiveQualifiedPeriods = 0
	s.CycleStartDate = nil
}

// startPeriod begins the first period at the next local midnight, so the
// partial current day is not counted.
func (e *VIPCycleEngine) startPeriod(s *domain.VIPCycleState) {
	if s.PeriodStartDate == nil {
		s.PeriodStartDate = domain.TimePtr(e.clock.NextLocalMidnight())
	}
}

func (e *VIPCycleEngine) owe(s *domain.VIPCycleState, r *TickReport, kind domain.PayoutKind, amount int64, at time.Time, desc string) {
	c := domain.Credit{
		ID:          uuid.NewString(),
		DriverID:    e.driverID,
		Kind:        kind,
		Amount:      amount,
		Description: desc,
		CreatedAt:   at,
	}
	s.PendingPayouts = append(s.PendingPayouts, c)
	r.Payouts = append(r.Payouts, c)
}

func (e *VIPCycleEngine) record(r TickReport) {
	for _, d := range r.Days {
		if d.Counted && d.Qualified {
			metrics.QualifiedDays.Inc()
		}
	}
	for _, p := range r.Periods {
		outcome := "missed"
		if p.Qualified {
			outcome = "qualified"
		}
		metrics.PeriodsClosed.WithLabelValues(outcome).Inc()
		log.WithFields(log.Fields{
			"driver_id":      e.driverID,
			"period_start":   p.Start.Format(time.DateOnly),
			"qualified_days": p.QualifiedDays,
			"streak":         p.Streak,
			"monthly":        p.MonthlyBonus,
			"quarterly":      p.QuarterlyBonus,
		}).Info("vip period closed")
	}
	for _, c := range r.Resets {
		metrics.CycleResets.WithLabelValues(c.Reason).Inc()
		log.WithFields(log.Fields{"driver_id": e.driverID, "reason": c.Reason}).Info("vip cycle reset")
	}
}

func (e *VIPCycleEngine) save(ctx context.Context) error {
	data, err := encodeRecord(e.state, e.extras)
	if err != nil {
		return fmt.Errorf("%w: encode vip record: %v", domain.ErrPersistence, err)
	}
	return e.p.save(ctx, VIPKey(e.driverID), data)
}

// settle pays the outbox and saves what is still owed.
func (e *VIPCycleEngine) settle(ctx context.Context) error {
	if len(e.state.PendingPayouts) == 0 {
		return nil
	}
	remaining, payErr := e.p.pay(ctx, e.state.PendingPayouts)
	if len(remaining) < len(e.state.PendingPayouts) {
		e.state.PendingPayouts = remaining
		if err := e.save(ctx); err != nil {
			e.dirty = true
			return err
		}
	}
	return payErr
}

func (e *VIPCycleEngine) publish(online bool, at time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(StatusEvent{DriverID: e.driverID, Online: online, At: at})
}
