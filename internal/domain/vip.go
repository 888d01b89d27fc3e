package domain

import (
	"fmt"
	"time"
)

// ─── VIP Rules ──────────────────────────────────────────────────────────────

// BonusTier pays Amount once a count reaches Threshold.
type BonusTier struct {
	Threshold int   `toml:"threshold" json:"threshold"`
	Amount    int64 `toml:"amount" json:"amount"`
}

// VIPRules parameterizes the VIP qualification cycle.
type VIPRules struct {
	MinHoursPerDay float64 `json:"min_hours_per_day"`
	MinRidesPerDay int     `json:"min_rides_per_day"`
	PeriodDays     int     `json:"period_days"`
	CycleDays      int     `json:"cycle_days"`

	// MonthlyTiers are ordered by Threshold. The first threshold is the
	// monthly minimum a period must reach to extend the streak.
	MonthlyTiers []BonusTier `json:"monthly_tiers"`

	// QuarterlyMilestones are ordered by Threshold (a streak length). The
	// last threshold is the maximum streak; reaching it resets the cycle.
	QuarterlyMilestones []BonusTier `json:"quarterly_milestones"`
}

// DefaultVIPRules returns the production qualification rules.
func DefaultVIPRules() VIPRules {
	return VIPRules{
		MinHoursPerDay: 10,
		MinRidesPerDay: 3,
		PeriodDays:     30,
		CycleDays:      360,
		MonthlyTiers: []BonusTier{
			{Threshold: 20, Amount: 5000},
			{Threshold: 25, Amount: 8000},
			{Threshold: 30, Amount: 12000},
		},
		QuarterlyMilestones: []BonusTier{
			{Threshold: 3, Amount: 15000},
			{Threshold: 6, Amount: 35000},
			{Threshold: 12, Amount: 90000},
		},
	}
}

// Validate checks the rules for internal consistency.
func (r VIPRules) Validate() error {
	if r.MinHoursPerDay <= 0 || r.MinHoursPerDay > 24 {
		return fmt.Errorf("min hours per day must be in (0, 24], got %v", r.MinHoursPerDay)
	}
	if r.MinRidesPerDay <= 0 {
		return fmt.Errorf("min rides per day must be positive, got %d", r.MinRidesPerDay)
	}
	if r.PeriodDays <= 0 || r.CycleDays < r.PeriodDays {
		return fmt.Errorf("invalid period/cycle length %d/%d", r.PeriodDays, r.CycleDays)
	}
	if len(r.MonthlyTiers) == 0 || len(r.QuarterlyMilestones) == 0 {
		return fmt.Errorf("monthly tiers and quarterly milestones are required")
	}
	if err := checkTiers("monthly", r.MonthlyTiers); err != nil {
		return err
	}
	if last := r.MonthlyTiers[len(r.MonthlyTiers)-1].Threshold; last > r.PeriodDays {
		return fmt.Errorf("monthly tier %d exceeds period length %d", last, r.PeriodDays)
	}
	return checkTiers("quarterly", r.QuarterlyMilestones)
}

func checkTiers(name string, tiers []BonusTier) error {
	for i, t := range tiers {
		if t.Threshold <= 0 || t.Amount <= 0 {
			return fmt.Errorf("%s tier %d: threshold and amount must be positive", name, i)
		}
		if i > 0 && (t.Threshold <= tiers[i-1].Threshold || t.Amount <= tiers[i-1].Amount) {
			return fmt.Errorf("%s tiers must increase in threshold and amount", name)
		}
	}
	return nil
}

// DayQualifies applies the day-qualification rule. Both minimums are inclusive.
func (r VIPRules) DayQualifies(hoursOnline float64, rides int) bool {
	return hoursOnline >= r.MinHoursPerDay && rides >= r.MinRidesPerDay
}

// MonthlyMinimum is the qualified-day count a period needs to extend a streak.
func (r VIPRules) MonthlyMinimum() int {
	return r.MonthlyTiers[0].Threshold
}

// PeriodQualifies reports whether a closed period meets the monthly minimum.
func (r VIPRules) PeriodQualifies(qualifiedDays int) bool {
	return qualifiedDays >= r.MonthlyMinimum()
}

// MonthlyBonus returns the highest tier amount reached, or 0.
func (r VIPRules) MonthlyBonus(qualifiedDays int) int64 {
	var amount int64
	for _, t := range r.MonthlyTiers {
		if qualifiedDays >= t.Threshold {
			amount = t.Amount
		}
	}
	return amount
}

// QuarterlyBonus returns the milestone amount when streak equals a threshold.
func (r VIPRules) QuarterlyBonus(streak int) (int64, bool) {
	for _, t := range r.QuarterlyMilestones {
		if streak == t.Threshold {
			return t.Amount, true
		}
	}
	return 0, false
}

// MaxStreak is the streak length that completes a cycle.
func (r VIPRules) MaxStreak() int {
	return r.QuarterlyMilestones[len(r.QuarterlyMilestones)-1].Threshold
}

// NextMilestone returns the first quarterly milestone above streak.
func (r VIPRules) NextMilestone(streak int) (BonusTier, bool) {
	for _, t := range r.QuarterlyMilestones {
		if t.Threshold > streak {
			return t, true
		}
	}
	return BonusTier{}, false
}

// TrailingQualified counts the periods at the end of history meeting the
// monthly minimum.
func (r VIPRules) TrailingQualified(history []int) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !r.PeriodQualifies(history[i]) {
			break
		}
		n++
	}
	return n
}

// ─── VIP Cycle State ────────────────────────────────────────────────────────

// VIPCycleState is the persisted qualification record of one VIP driver.
// Dates are local midnights in the clock's location.
type VIPCycleState struct {
	CurrentDay        time.Time  `json:"current_day"`
	HoursOnline       float64    `json:"hours_online"`
	RidesToday        int        `json:"rides_today"`
	IsCurrentlyOnline bool       `json:"is_currently_online"`
	SessionStart      *time.Time `json:"session_start,omitempty"`

	QualifiedDaysInPeriod       int        `json:"qualified_days_in_period"`
	PeriodStartDate             *time.Time `json:"period_start_date,omitempty"`
	QualifiedPeriodHistory      []int      `json:"qualified_period_history"`
	ConsecutiveQualifiedPeriods int        `json:"consecutive_qualified_periods"`
	CycleStartDate              *time.Time `json:"cycle_start_date,omitempty"`

	PendingPayouts []Credit `json:"pending_payouts,omitempty"`
}

// Clone returns a deep copy.
func (s VIPCycleState) Clone() VIPCycleState {
	s.SessionStart = cloneTime(s.SessionStart)
	s.PeriodStartDate = cloneTime(s.PeriodStartDate)
	s.CycleStartDate = cloneTime(s.CycleStartDate)
	s.QualifiedPeriodHistory = append([]int(nil), s.QualifiedPeriodHistory...)
	s.PendingPayouts = append([]Credit(nil), s.PendingPayouts...)
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
