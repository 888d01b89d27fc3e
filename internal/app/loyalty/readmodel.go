package loyalty

import (
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

// ─── Read Model ─────────────────────────────────────────────────────────────
// Projections of engine state for display. Never persisted.

// LevelView is the level card shown to a driver.
type LevelView struct {
	DriverID        string  `json:"driver_id"`
	Level           int     `json:"level"`
	SubLevel        int     `json:"sub_level"`
	Name            string  `json:"name"`
	Icon            string  `json:"icon"`
	Progress        int     `json:"progress"`
	Capacity        int     `json:"capacity"`
	ProgressPercent float64 `json:"progress_percent"`
	RidesToNext     int     `json:"rides_to_next"`
	NextBonus       int64   `json:"next_bonus"`
	TotalRides      int     `json:"total_rides"`
	RidesToVIP      int     `json:"rides_to_vip"`
	IsVIP           bool    `json:"is_vip"`
	PendingBonus    int64   `json:"pending_bonus"`
}

// View projects the current level state.
func (e *LevelEngine) View() LevelView {
	s := e.state
	v := LevelView{
		DriverID:     e.driverID,
		Level:        s.Level,
		SubLevel:     s.SubLevel,
		Name:         domain.LevelName(s.Level),
		Icon:         domain.LevelIcon(s.Level),
		Progress:     s.Progress,
		TotalRides:   s.TotalRides,
		IsVIP:        s.IsVIP,
		PendingBonus: sumPayouts(s.PendingPayouts),
	}
	if s.IsVIP {
		v.ProgressPercent = 100
		return v
	}

	v.Capacity = domain.SubLevelCapacity(s.Level, s.SubLevel)
	v.NextBonus = domain.SubLevelBonus(s.Level, s.SubLevel)
	v.RidesToVIP = domain.VIPRideThreshold - s.TotalRides
	v.RidesToNext = min(v.Capacity-s.Progress, v.RidesToVIP)
	if v.Capacity > 0 {
		v.ProgressPercent = float64(s.Progress) * 100 / float64(v.Capacity)
	}
	return v
}

// VIPView is the VIP qualification card shown to a driver.
type VIPView struct {
	DriverID       string     `json:"driver_id"`
	Active         bool       `json:"active"`
	Online         bool       `json:"online"`
	SessionStart   *time.Time `json:"session_start,omitempty"`
	HoursOnline    float64    `json:"hours_online"`
	RidesToday     int        `json:"rides_today"`
	MinHoursPerDay float64    `json:"min_hours_per_day"`
	MinRidesPerDay int        `json:"min_rides_per_day"`
	TodayQualified bool       `json:"today_qualified"`

	QualifiedDaysInPeriod int        `json:"qualified_days_in_period"`
	PeriodDays            int        `json:"period_days"`
	PeriodStart           *time.Time `json:"period_start,omitempty"`
	DaysLeftInPeriod      int        `json:"days_left_in_period"`
	MonthlyBonusPreview   int64      `json:"monthly_bonus_preview"`

	Streak        int               `json:"streak"`
	NextMilestone *domain.BonusTier `json:"next_milestone,omitempty"`
	CycleStart    *time.Time        `json:"cycle_start,omitempty"`
	CycleDaysLeft int               `json:"cycle_days_left"`

	PendingBonus int64 `json:"pending_bonus"`
}

// View projects the state as it would be at now, without changing or
// saving anything. Live hours include the open session.
func (e *VIPCycleEngine) View(now time.Time) VIPView {
	s := e.state.Clone()
	var r TickReport
	e.advance(&s, now, &r)

	v := VIPView{
		DriverID:              e.driverID,
		Active:                e.vip,
		Online:                s.IsCurrentlyOnline,
		SessionStart:          s.SessionStart,
		HoursOnline:           s.HoursOnline,
		RidesToday:            s.RidesToday,
		MinHoursPerDay:        e.rules.MinHoursPerDay,
		MinRidesPerDay:        e.rules.MinRidesPerDay,
		QualifiedDaysInPeriod: s.QualifiedDaysInPeriod,
		PeriodDays:            e.rules.PeriodDays,
		PeriodStart:           s.PeriodStartDate,
		MonthlyBonusPreview:   e.rules.MonthlyBonus(s.QualifiedDaysInPeriod),
		Streak:                s.ConsecutiveQualifiedPeriods,
		CycleStart:            s.CycleStartDate,
		PendingBonus:          sumPayouts(s.PendingPayouts),
	}
	if e.vip && s.IsCurrentlyOnline && s.SessionStart != nil && now.After(*s.SessionStart) {
		v.HoursOnline += now.Sub(*s.SessionStart).Hours()
	}
	v.TodayQualified = e.vip && e.rules.DayQualifies(v.HoursOnline, v.RidesToday)

	today := domain.StartOfDay(now)
	if s.PeriodStartDate != nil {
		elapsed := max(domain.DaysBetween(*s.PeriodStartDate, today), 0)
		v.DaysLeftInPeriod = e.rules.PeriodDays - elapsed
	}
	if m, ok := e.rules.NextMilestone(s.ConsecutiveQualifiedPeriods); ok {
		v.NextMilestone = &m
	}
	if s.CycleStartDate != nil {
		v.CycleDaysLeft = max(e.rules.CycleDays-domain.DaysBetween(*s.CycleStartDate, today), 0)
	}
	return v
}
