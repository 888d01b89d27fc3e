// Package clock provides the wall-clock collaborator: a system clock pinned to
// the location that defines calendar days, and a manual clock for tests and
// simulations.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

// System reads the real wall clock in a fixed location.
type System struct {
	loc *time.Location
}

// NewSystem returns a system clock in loc (time.Local when nil).
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.Local
	}
	return &System{loc: loc}
}

// LoadSystem resolves an IANA zone name ("" or "Local" for the host zone).
func LoadSystem(zone string) (*System, error) {
	if zone == "" || zone == "Local" {
		return NewSystem(time.Local), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return NewSystem(loc), nil
}

// Now returns the current time in the clock's location.
func (s *System) Now() time.Time { return time.Now().In(s.loc) }

// NextLocalMidnight returns the midnight ending the current local day.
func (s *System) NextLocalMidnight() time.Time { return domain.NextMidnight(s.Now()) }

// Location returns the clock's location.
func (s *System) Location() *time.Location { return s.loc }

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NextLocalMidnight returns the midnight ending the current manual day.
func (m *Manual) NextLocalMidnight() time.Time { return domain.NextMidnight(m.Now()) }

// Set jumps to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

var (
	_ domain.Clock = (*System)(nil)
	_ domain.Clock = (*Manual)(nil)
)
