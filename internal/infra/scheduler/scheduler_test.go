package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/clock"
)

// ═══════════════════════════════════════════════════════════════════════════
// Test doubles
// ═══════════════════════════════════════════════════════════════════════════

type countingTicker struct {
	mu    sync.Mutex
	calls int
	last  time.Time
	delay time.Duration
}

func (c *countingTicker) TickAll(ctx context.Context, now time.Time) []loyalty.DriverReport {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = now
	return []loyalty.DriverReport{{DriverID: "d1"}}
}

func (c *countingTicker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string][]byte)} }

func (m *mapStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *mapStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mapStore) Ping(context.Context) error { return nil }

type nopWallet struct{}

func (nopWallet) Credit(context.Context, domain.Credit) error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ═══════════════════════════════════════════════════════════════════════════
// Scheduler Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestScheduler_RunOnceUsesClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	target := &countingTicker{}
	s := New(target, clock.NewManual(now), DefaultConfig())

	var got []loyalty.DriverReport
	s.OnReport = func(r []loyalty.DriverReport) { got = r }

	reports := s.RunOnce(context.Background())
	if len(reports) != 1 || len(got) != 1 {
		t.Fatalf("reports = %d, OnReport got %d, want 1/1", len(reports), len(got))
	}
	if !target.last.Equal(now) {
		t.Errorf("tick time = %v, want %v", target.last, now)
	}
	if s.Ticks() != 1 {
		t.Errorf("Ticks() = %d, want 1", s.Ticks())
	}
}

func TestScheduler_FiresOnInterval(t *testing.T) {
	target := &countingTicker{}
	s := New(target, clock.NewSystem(time.UTC), Config{TickInterval: time.Second})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first tick", func() bool { return target.count() >= 1 })
}

func TestScheduler_NoTickAfterStop(t *testing.T) {
	target := &countingTicker{}
	s := New(target, clock.NewSystem(time.UTC), Config{TickInterval: time.Second})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s.Stop()
	after := target.count()
	time.Sleep(1500 * time.Millisecond)
	if target.count() != after {
		t.Errorf("ticks after Stop = %d, want %d", target.count(), after)
	}
	s.Stop() // idempotent
}

func TestScheduler_StopWaitsForRunningTick(t *testing.T) {
	target := &countingTicker{delay: 300 * time.Millisecond}
	s := New(target, clock.NewSystem(time.UTC), Config{TickInterval: time.Second})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	s.Stop()
	// A tick that started before Stop has finished by now.
	calls := target.count()
	if calls < 1 {
		t.Fatalf("ticks = %d, want at least 1", calls)
	}
	time.Sleep(400 * time.Millisecond)
	if target.count() != calls {
		t.Errorf("tick completed after Stop returned: %d -> %d", calls, target.count())
	}
}

func TestScheduler_StartValidation(t *testing.T) {
	s := New(&countingTicker{}, clock.NewSystem(time.UTC), Config{})
	if err := s.Start(); err == nil {
		t.Error("Start() with zero interval should fail")
	}

	s = New(&countingTicker{}, clock.NewSystem(time.UTC), DefaultConfig())
	s.Stop()
	if err := s.Start(); err == nil {
		t.Error("Start() after Stop should fail")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Display Ticker Tests
// ═══════════════════════════════════════════════════════════════════════════

func newRegistry(t *testing.T, c domain.Clock, bus *loyalty.StatusBus) *loyalty.Registry {
	t.Helper()
	return loyalty.NewRegistry(loyalty.Options{
		Store:  newMapStore(),
		Wallet: nopWallet{},
		Clock:  c,
		Bus:    bus,
		Retry:  loyalty.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond},
	})
}

func TestDisplayTicker_TracksBus(t *testing.T) {
	c := clock.NewManual(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	bus := loyalty.NewStatusBus()
	reg := newRegistry(t, c, bus)
	ctx := context.Background()

	var mu sync.Mutex
	var frames []loyalty.VIPView
	dt := NewDisplayTicker(bus, reg, c, time.Hour, func(v loyalty.VIPView) {
		mu.Lock()
		frames = append(frames, v)
		mu.Unlock()
	})
	dt.Start(ctx)
	defer dt.Stop()

	if n := dt.Emit(ctx); n != 0 {
		t.Errorf("Emit() with nobody online = %d, want 0", n)
	}

	d, err := reg.Driver(ctx, "alice")
	if err != nil {
		t.Fatalf("Driver() error: %v", err)
	}
	if err := d.GoOnline(ctx); err != nil {
		t.Fatalf("GoOnline() error: %v", err)
	}
	if got := dt.Online(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("Online() = %v, want [alice]", got)
	}

	c.Advance(90 * time.Minute)
	if n := dt.Emit(ctx); n != 1 {
		t.Fatalf("Emit() = %d, want 1", n)
	}
	mu.Lock()
	frame := frames[len(frames)-1]
	mu.Unlock()
	if frame.DriverID != "alice" || !frame.Online {
		t.Errorf("frame = %+v, want alice online", frame)
	}

	if err := d.GoOffline(ctx); err != nil {
		t.Fatalf("GoOffline() error: %v", err)
	}
	if got := dt.Online(); len(got) != 0 {
		t.Errorf("Online() after offline = %v, want empty", got)
	}
}

func TestDisplayTicker_EmitsOnInterval(t *testing.T) {
	c := clock.NewSystem(time.UTC)
	bus := loyalty.NewStatusBus()
	reg := newRegistry(t, c, bus)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	dt := NewDisplayTicker(bus, reg, c, 20*time.Millisecond, func(loyalty.VIPView) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	dt.Seed("bob")
	dt.Start(ctx)

	waitFor(t, "display frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	})
	dt.Stop()

	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers() after Stop = %d, want 0", bus.Subscribers())
	}
	mu.Lock()
	stopped := count
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != stopped {
		t.Errorf("frames after Stop: %d -> %d", stopped, count)
	}
}
