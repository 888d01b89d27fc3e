package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
)

// DriverSource resolves a driver id to its owner.
type DriverSource interface {
	Driver(ctx context.Context, id string) (*loyalty.Driver, error)
}

// DisplayTicker emits a live VIP view for every online driver once per
// interval. It only reads state and never closes boundaries.
type DisplayTicker struct {
	bus      *loyalty.StatusBus
	source   DriverSource
	clock    domain.Clock
	interval time.Duration
	sink     func(loyalty.VIPView)

	mu          sync.Mutex
	online      map[string]bool
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewDisplayTicker creates a ticker that tracks online drivers through bus.
func NewDisplayTicker(bus *loyalty.StatusBus, source DriverSource, clock domain.Clock, interval time.Duration, sink func(loyalty.VIPView)) *DisplayTicker {
	if interval <= 0 {
		interval = time.Second
	}
	return &DisplayTicker{
		bus:      bus,
		source:   source,
		clock:    clock,
		interval: interval,
		sink:     sink,
		online:   make(map[string]bool),
	}
}

// Seed marks drivers that were already online before the ticker subscribed.
func (t *DisplayTicker) Seed(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.online[id] = true
	}
}

func (t *DisplayTicker) onStatus(ev loyalty.StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Online {
		t.online[ev.DriverID] = true
	} else {
		delete(t.online, ev.DriverID)
	}
}

// Online returns the tracked online driver ids, sorted.
func (t *DisplayTicker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Emit sends one frame for every online driver and returns how many were sent.
func (t *DisplayTicker) Emit(ctx context.Context) int {
	now := t.clock.Now()
	sent := 0
	for _, id := range t.Online() {
		d, err := t.source.Driver(ctx, id)
		if err != nil {
			log.WithField("driver_id", id).WithError(err).Debug("display frame skipped")
			continue
		}
		t.sink(d.VIPView(now))
		sent++
	}
	return sent
}

// Start subscribes to the bus and begins emitting frames.
func (t *DisplayTicker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.unsubscribe = t.bus.Subscribe(t.onStatus)

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Emit(ctx)
			}
		}
	}()
}

// Stop unsubscribes and waits for the emit loop to exit.
func (t *DisplayTicker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if done == nil {
		return
	}
	t.unsubscribe()
	cancel()
	<-done
}
