// Package domain holds the pure loyalty types: level table, VIP cycle rules,
// persisted state records, payouts and the collaborator interfaces.
// Nothing here touches storage, the wallet or the wall clock.
package domain

// ─── Level Table ────────────────────────────────────────────────────────────

const (
	// MaxLevel is the highest ride-count level before the VIP tier.
	MaxLevel = 6
	// SubLevelsPerLevel is the number of sub-levels inside every level.
	SubLevelsPerLevel = 3
	// LevelVIP is the distinguished tier entered at VIPRideThreshold rides.
	LevelVIP = MaxLevel + 1
	// VIPRideThreshold moves a driver into the VIP tier regardless of the
	// capacity left in sub-level 6.3.
	VIPRideThreshold = 4320
)

// subLevelCapacity[level-1][subLevel-1] is the ride count needed to finish a
// sub-level. Strictly increasing within and across levels.
var subLevelCapacity = [MaxLevel][SubLevelsPerLevel]int{
	{30, 40, 50},
	{60, 80, 100},
	{120, 150, 180},
	{200, 250, 300},
	{350, 420, 500},
	{550, 650, 800},
}

// subLevelBonus[level-1][subLevel-1] is paid once when the sub-level completes.
// The 6.3 bonus is paid on entering the VIP tier.
var subLevelBonus = [MaxLevel][SubLevelsPerLevel]int64{
	{100, 150, 200},
	{250, 300, 400},
	{500, 600, 750},
	{900, 1100, 1300},
	{1500, 1800, 2100},
	{2500, 3000, 5000},
}

var levelNames = [LevelVIP]string{"Starter", "Bronze", "Silver", "Gold", "Platinum", "Diamond", "VIP"}
var levelIcons = [LevelVIP]string{"seedling", "medal-bronze", "medal-silver", "medal-gold", "gem", "diamond", "crown"}

// ValidSubLevel reports whether (level, subLevel) addresses a row of the table.
func ValidSubLevel(level, subLevel int) bool {
	return level >= 1 && level <= MaxLevel && subLevel >= 1 && subLevel <= SubLevelsPerLevel
}

// SubLevelCapacity returns the rides needed to finish a sub-level, or 0 for
// the VIP tier and out-of-range input.
func SubLevelCapacity(level, subLevel int) int {
	if !ValidSubLevel(level, subLevel) {
		return 0
	}
	return subLevelCapacity[level-1][subLevel-1]
}

// SubLevelBonus returns the one-time bonus for completing a sub-level.
func SubLevelBonus(level, subLevel int) int64 {
	if !ValidSubLevel(level, subLevel) {
		return 0
	}
	return subLevelBonus[level-1][subLevel-1]
}

// CumulativeRidesBefore returns the lifetime ride count at which the given
// sub-level starts. The VIP tier starts at VIPRideThreshold.
func CumulativeRidesBefore(level, subLevel int) int {
	if level >= LevelVIP {
		return VIPRideThreshold
	}
	total := 0
	for l := 1; l <= MaxLevel; l++ {
		for s := 1; s <= SubLevelsPerLevel; s++ {
			if l == level && s == subLevel {
				return total
			}
			total += subLevelCapacity[l-1][s-1]
		}
	}
	return total
}

// TotalRidesForLevel maps a (level, sub-level, progress) triple to an
// absolute lifetime ride count.
func TotalRidesForLevel(level, subLevel, progress int) int {
	if progress < 0 {
		progress = 0
	}
	return CumulativeRidesBefore(level, subLevel) + progress
}

// LevelForTotalRides is the inverse of TotalRidesForLevel. Progress is always
// strictly below the capacity of the returned sub-level.
func LevelForTotalRides(total int) (level, subLevel, progress int) {
	if total < 0 {
		total = 0
	}
	if total >= VIPRideThreshold {
		return LevelVIP, 1, total - VIPRideThreshold
	}
	remaining := total
	for l := 1; l <= MaxLevel; l++ {
		for s := 1; s <= SubLevelsPerLevel; s++ {
			c := subLevelCapacity[l-1][s-1]
			if remaining < c {
				return l, s, remaining
			}
			remaining -= c
		}
	}
	// Unreachable while VIPRideThreshold sits inside 6.3.
	return MaxLevel, SubLevelsPerLevel, remaining
}

// LevelName returns the display label of a level.
func LevelName(level int) string {
	if level < 1 || level > LevelVIP {
		return ""
	}
	return levelNames[level-1]
}

// LevelIcon returns the icon identifier for a level.
func LevelIcon(level int) string {
	if level < 1 || level > LevelVIP {
		return ""
	}
	return levelIcons[level-1]
}

// LevelTableRow is one sub-level of the level table, ready for display.
type LevelTableRow struct {
	Level    int    `json:"level"`
	SubLevel int    `json:"sub_level"`
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Capacity int    `json:"capacity"`
	StartsAt int    `json:"starts_at"`
	Bonus    int64  `json:"bonus"`
}

// LevelTable returns every sub-level row in order.
func LevelTable() []LevelTableRow {
	rows := make([]LevelTableRow, 0, MaxLevel*SubLevelsPerLevel)
	start := 0
	for l := 1; l <= MaxLevel; l++ {
		for s := 1; s <= SubLevelsPerLevel; s++ {
			rows = append(rows, LevelTableRow{
				Level:    l,
				SubLevel: s,
				Name:     LevelName(l),
				Icon:     LevelIcon(l),
				Capacity: subLevelCapacity[l-1][s-1],
				StartsAt: start,
				Bonus:    subLevelBonus[l-1][s-1],
			})
			start += subLevelCapacity[l-1][s-1]
		}
	}
	return rows
}

// ─── Level State ────────────────────────────────────────────────────────────

// LevelState is the persisted leveling record of one driver.
type LevelState struct {
	Level          int      `json:"level"`
	SubLevel       int      `json:"sub_level"`
	Progress       int      `json:"progress"`
	TotalRides     int      `json:"total_rides"`
	IsVIP          bool     `json:"is_vip"`
	PendingPayouts []Credit `json:"pending_payouts,omitempty"`
}

// DefaultLevelState is the record of a driver with no completed rides.
func DefaultLevelState() LevelState {
	return LevelState{Level: 1, SubLevel: 1}
}

// Clone returns a deep copy.
func (s LevelState) Clone() LevelState {
	s.PendingPayouts = append([]Credit(nil), s.PendingPayouts...)
	return s
}
