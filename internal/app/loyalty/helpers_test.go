package loyalty

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/infra/clock"
)

var testRetry = RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond}

// day0 is a Wednesday; UTC keeps every day 24 hours long.
var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// ─── In-memory store ────────────────────────────────────────────────────────

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
	saves   int
	// limit, when positive, is the save count after which saves fail.
	limit int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	return d, ok, nil
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing || (m.limit > 0 && m.saves >= m.limit) {
		return errors.New("disk full")
	}
	m.saves++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
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

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) setFailing(f bool) {
	m.mu.Lock()
	m.failing = f
	m.mu.Unlock()
}

// failAfter lets n more saves succeed and fails every one after them.
func (m *memStore) failAfter(n int) {
	m.mu.Lock()
	m.limit = m.saves + n
	m.mu.Unlock()
}

func (m *memStore) heal() {
	m.mu.Lock()
	m.failing, m.limit = false, 0
	m.mu.Unlock()
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) put(key, value string) {
	m.mu.Lock()
	m.data[key] = []byte(value)
	m.mu.Unlock()
}

func (m *memStore) raw(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[key])
}

// ─── Idempotent fake wallet ─────────────────────────────────────────────────

type fakeWallet struct {
	mu      sync.Mutex
	failing bool
	calls   int
	credits map[string]domain.Credit
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{credits: make(map[string]domain.Credit)}
}

func (w *fakeWallet) Credit(_ context.Context, c domain.Credit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failing {
		return errors.New("wallet unavailable")
	}
	w.credits[c.ID] = c
	return nil
}

func (w *fakeWallet) setFailing(f bool) {
	w.mu.Lock()
	w.failing = f
	w.mu.Unlock()
}

func (w *fakeWallet) total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var sum int64
	for _, c := range w.credits {
		sum += c.Amount
	}
	return sum
}

func (w *fakeWallet) count(kind domain.PayoutKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.credits {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (w *fakeWallet) amounts(kind domain.PayoutKind) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int64
	for _, c := range w.credits {
		if c.Kind == kind {
			out = append(out, c.Amount)
		}
	}
	return out
}

// ─── Fixtures ───────────────────────────────────────────────────────────────

type fixture struct {
	store  *memStore
	wallet *fakeWallet
	clock  *clock.Manual
	bus    *StatusBus
}

func newFixture(start time.Time) *fixture {
	return &fixture{
		store:  newMemStore(),
		wallet: newFakeWallet(),
		clock:  clock.NewManual(start),
		bus:    NewStatusBus(),
	}
}

func (f *fixture) level(t *testing.T, id string) *LevelEngine {
	t.Helper()
	e := NewLevelEngine(id, f.store, f.wallet, f.clock, testRetry)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return e
}

func (f *fixture) vip(t *testing.T, id string, isVIP bool) *VIPCycleEngine {
	t.Helper()
	e := NewVIPCycleEngine(id, domain.DefaultVIPRules(), f.store, f.wallet, f.clock, f.bus, testRetry)
	if err := e.Load(context.Background(), isVIP); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return e
}

func (f *fixture) registry() *Registry {
	return NewRegistry(Options{
		Store:  f.store,
		Wallet: f.wallet,
		Clock:  f.clock,
		Rules:  domain.DefaultVIPRules(),
		Retry:  testRetry,
		Bus:    f.bus,
	})
}

func at(day int, hour, minute int) time.Time {
	return day0.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func mustTick(t *testing.T, e *VIPCycleEngine, now time.Time) *TickReport {
	t.Helper()
	r, err := e.OnTick(context.Background(), now)
	if err != nil {
		t.Fatalf("OnTick(%v) error: %v", now, err)
	}
	return r
}

// seedPeriod puts e on the last day of a period that started on day
// startDay with qualified days so far and the given closed history.
func seedPeriod(e *VIPCycleEngine, startDay, qualified int, history []int) {
	start := at(startDay, 0, 0)
	s := e.state
	s.CurrentDay = domain.AddDays(start, 29)
	s.PeriodStartDate = domain.TimePtr(start)
	s.QualifiedDaysInPeriod = qualified
	s.QualifiedPeriodHistory = history
	s.ConsecutiveQualifiedPeriods = e.rules.TrailingQualified(history)
	if len(history) > 0 {
		s.CycleStartDate = domain.TimePtr(domain.AddDays(start, -30*len(history)))
	}
	e.state = s
}
