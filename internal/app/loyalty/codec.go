package loyalty

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

// SchemaVersion is written into every persisted record.
//
//	v1: level {level, sub_level, progress}; vip {..., qualified_days}
//	v2: level adds total_rides, is_vip; vip renames qualified_days and adds
//	    period/history/cycle fields and pending payouts on both records
const SchemaVersion = 2

const (
	levelKeyPrefix = "level:"
	vipKeyPrefix   = "vip:"
	versionField   = "schema_version"
)

// LevelKey is the store key of a driver's level record.
func LevelKey(driverID string) string { return levelKeyPrefix + driverID }

// VIPKey is the store key of a driver's VIP cycle record.
func VIPKey(driverID string) string { return vipKeyPrefix + driverID }

type migration func(fields map[string]json.RawMessage)

var vipMigrations = map[int]migration{
	1: func(f map[string]json.RawMessage) {
		if v, ok := f["qualified_days"]; ok {
			if _, exists := f["qualified_days_in_period"]; !exists {
				f["qualified_days_in_period"] = v
			}
			delete(f, "qualified_days")
		}
	},
}

// decodeRecord splits a stored record into the typed value and the fields
// this version does not know. from is the record's schema version.
func decodeRecord[T any](data []byte, migrations map[int]migration) (v T, extras map[string]json.RawMessage, from int, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return v, nil, 0, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	from = 1
	if raw, ok := fields[versionField]; ok {
		if err := json.Unmarshal(raw, &from); err != nil {
			return v, nil, 0, fmt.Errorf("%w: bad schema_version: %v", domain.ErrInvalidState, err)
		}
		delete(fields, versionField)
	}
	if from > SchemaVersion {
		return v, nil, from, fmt.Errorf("%w: %d > %d", domain.ErrSchemaTooNew, from, SchemaVersion)
	}
	for ver := from; ver < SchemaVersion; ver++ {
		if m := migrations[ver]; m != nil {
			m(fields)
		}
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return v, nil, from, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, nil, from, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	known := knownFields(reflect.TypeOf(v))
	for k, raw := range fields {
		if !known[k] {
			if extras == nil {
				extras = make(map[string]json.RawMessage)
			}
			extras[k] = raw
		}
	}
	return v, extras, from, nil
}

// encodeRecord writes v at the current schema version, carrying extras.
func encodeRecord(v any, extras map[string]json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extras {
		fields[k] = raw
	}
	fields[versionField] = json.RawMessage(strconv.Itoa(SchemaVersion))
	return json.Marshal(fields)
}

func knownFields(t reflect.Type) map[string]bool {
	known := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			known[name] = true
		}
	}
	return known
}

// ─── Level Record ───────────────────────────────────────────────────────────

func decodeLevel(data []byte) (domain.LevelState, map[string]json.RawMessage, bool, error) {
	s, extras, from, err := decodeRecord[domain.LevelState](data, nil)
	if err != nil {
		return s, nil, false, err
	}
	if from < 2 {
		s.TotalRides = domain.TotalRidesForLevel(s.Level, s.SubLevel, s.Progress)
		s.IsVIP = s.Level == domain.LevelVIP
	}
	return s, extras, from < SchemaVersion, nil
}

// clampLevel moves a loaded record to the nearest valid state. The
// (level, sub-level, progress) triple is authoritative; totals and the VIP
// flag are re-derived from it. No bonus is paid for a clamped transition.
func clampLevel(s domain.LevelState) (domain.LevelState, []string) {
	var problems []string
	switch {
	case s.Level == domain.LevelVIP:
		if s.SubLevel != 1 {
			problems = append(problems, fmt.Sprintf("vip sub-level %d", s.SubLevel))
			s.SubLevel = 1
		}
	case s.Level < 1 || s.Level > domain.MaxLevel:
		problems = append(problems, fmt.Sprintf("unknown level %d", s.Level))
		s.Level = min(max(s.Level, 1), domain.MaxLevel)
	}
	if s.Level != domain.LevelVIP && (s.SubLevel < 1 || s.SubLevel > domain.SubLevelsPerLevel) {
		problems = append(problems, fmt.Sprintf("unknown sub-level %d", s.SubLevel))
		s.SubLevel = min(max(s.SubLevel, 1), domain.SubLevelsPerLevel)
	}
	if s.Progress < 0 {
		problems = append(problems, fmt.Sprintf("negative progress %d", s.Progress))
		s.Progress = 0
	}

	total := domain.TotalRidesForLevel(s.Level, s.SubLevel, s.Progress)
	l, sub, p := domain.LevelForTotalRides(total)
	if l != s.Level || sub != s.SubLevel || p != s.Progress {
		problems = append(problems, fmt.Sprintf("progress %d at or over capacity of %d.%d", s.Progress, s.Level, s.SubLevel))
		s.Level, s.SubLevel, s.Progress = l, sub, p
	}
	if s.TotalRides != total {
		problems = append(problems, fmt.Sprintf("total rides %d, table says %d", s.TotalRides, total))
		s.TotalRides = total
	}
	if vip := s.Level == domain.LevelVIP; s.IsVIP != vip {
		problems = append(problems, fmt.Sprintf("is_vip %v at %d rides", s.IsVIP, total))
		s.IsVIP = vip
	}
	return s, problems
}

// ─── VIP Record ─────────────────────────────────────────────────────────────

func decodeVIP(data []byte, loc *time.Location) (domain.VIPCycleState, map[string]json.RawMessage, bool, error) {
	s, extras, from, err := decodeRecord[domain.VIPCycleState](data, vipMigrations)
	if err != nil {
		return s, nil, false, err
	}
	// Offsets survive JSON but zone rules do not; calendar math needs them.
	if !s.CurrentDay.IsZero() {
		s.CurrentDay = s.CurrentDay.In(loc)
	}
	for _, t := range []*time.Time{s.SessionStart, s.PeriodStartDate, s.CycleStartDate} {
		if t != nil {
			*t = t.In(loc)
		}
	}
	return s, extras, from < SchemaVersion, nil
}

// clampVIP moves a loaded record to the nearest valid state for today.
func clampVIP(s domain.VIPCycleState, today time.Time, rules domain.VIPRules) (domain.VIPCycleState, []string) {
	var problems []string
	if s.CurrentDay.IsZero() {
		s.CurrentDay = today
	} else if day := domain.StartOfDay(s.CurrentDay); !day.Equal(s.CurrentDay) {
		problems = append(problems, "current day not at midnight")
		s.CurrentDay = day
	}
	if s.CurrentDay.After(today) {
		problems = append(problems, fmt.Sprintf("current day %s after today", s.CurrentDay.Format(time.DateOnly)))
		s.CurrentDay = today
	}
	if s.HoursOnline < 0 || s.HoursOnline > 24 {
		problems = append(problems, fmt.Sprintf("hours online %.2f", s.HoursOnline))
		s.HoursOnline = min(max(s.HoursOnline, 0), 24)
	}
	if s.RidesToday < 0 {
		problems = append(problems, fmt.Sprintf("rides today %d", s.RidesToday))
		s.RidesToday = 0
	}
	if s.QualifiedDaysInPeriod < 0 || s.QualifiedDaysInPeriod > rules.PeriodDays {
		problems = append(problems, fmt.Sprintf("qualified days %d", s.QualifiedDaysInPeriod))
		s.QualifiedDaysInPeriod = min(max(s.QualifiedDaysInPeriod, 0), rules.PeriodDays)
	}
	if s.IsCurrentlyOnline && s.SessionStart == nil {
		problems = append(problems, "online without session start")
		s.IsCurrentlyOnline = false
	}
	if !s.IsCurrentlyOnline && s.SessionStart != nil {
		problems = append(problems, "session start while offline")
		s.SessionStart = nil
	}
	for i, d := range s.QualifiedPeriodHistory {
		if d < 0 || d > rules.PeriodDays {
			problems = append(problems, fmt.Sprintf("history[%d] = %d", i, d))
			s.QualifiedPeriodHistory[i] = min(max(d, 0), rules.PeriodDays)
		}
	}
	if streak := rules.TrailingQualified(s.QualifiedPeriodHistory); streak != s.ConsecutiveQualifiedPeriods {
		problems = append(problems, fmt.Sprintf("streak %d, history says %d", s.ConsecutiveQualifiedPeriods, streak))
		s.ConsecutiveQualifiedPeriods = streak
	}
	if s.CycleStartDate != nil && s.CycleStartDate.After(s.CurrentDay) {
		problems = append(problems, "cycle start after current day")
		s.CycleStartDate = domain.TimePtr(s.CurrentDay)
	}
	return s, problems
}
