package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
)

// Options wires the collaborators shared by every driver.
type Options struct {
	Store  domain.StateStore
	Wallet domain.Wallet
	Clock  domain.Clock
	Rules  domain.VIPRules
	Retry  RetryPolicy
	Bus    *StatusBus
}

// DriverReport is one driver's result from TickAll.
type DriverReport struct {
	DriverID string
	Report   *TickReport
	Err      error
}

// Registry owns the Driver of every known driver id.
type Registry struct {
	opts Options

	mu      sync.Mutex
	drivers map[string]*Driver
	loading map[string]*pendingLoad
}

// pendingLoad lets concurrent callers share one load of the same driver.
type pendingLoad struct {
	done chan struct{}
	d    *Driver
	err  error
}

// NewRegistry creates an empty registry. A zero RetryPolicy uses the default
// and zero Rules use the default rules.
func NewRegistry(opts Options) *Registry {
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if len(opts.Rules.MonthlyTiers) == 0 {
		opts.Rules = domain.DefaultVIPRules()
	}
	return &Registry{
		opts:    opts,
		drivers: make(map[string]*Driver),
		loading: make(map[string]*pendingLoad),
	}
}

// ValidDriverID reports whether id can be used as a driver id.
func ValidDriverID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, ":*?[] \t\n")
}

// Driver returns the owner for id, loading it from the store on first use.
// The store is read without holding the registry lock; concurrent callers
// for the same id wait for a single load.
func (r *Registry) Driver(ctx context.Context, id string) (*Driver, error) {
	if !ValidDriverID(id) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDriver, id)
	}
	r.mu.Lock()
	if d, ok := r.drivers[id]; ok {
		r.mu.Unlock()
		return d, nil
	}
	if l, ok := r.loading[id]; ok {
		r.mu.Unlock()
		select {
		case <-l.done:
			return l.d, l.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l := &pendingLoad{done: make(chan struct{})}
	r.loading[id] = l
	r.mu.Unlock()

	d := newDriver(id, r.opts)
	if err := d.load(ctx); err != nil {
		l.err = fmt.Errorf("load driver %s: %w", id, err)
	} else {
		l.d = d
	}

	r.mu.Lock()
	delete(r.loading, id)
	if l.err == nil {
		r.drivers[id] = d
	}
	r.mu.Unlock()
	close(l.done)
	return l.d, l.err
}

// Lookup returns an already known driver, loading it only if the store has
// a record for it.
func (r *Registry) Lookup(ctx context.Context, id string) (*Driver, error) {
	if !ValidDriverID(id) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDriver, id)
	}
	r.mu.Lock()
	d, ok := r.drivers[id]
	r.mu.Unlock()
	if ok {
		return d, nil
	}
	_, found, err := r.opts.Store.Load(ctx, LevelKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrDriverNotFound, id)
	}
	return r.Driver(ctx, id)
}

// LoadAll loads every driver with a persisted level record.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	keys, err := r.opts.Store.Keys(ctx, levelKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: list drivers: %v", domain.ErrPersistence, err)
	}
	var errs []error
	n := 0
	for _, k := range keys {
		if _, err := r.Driver(ctx, strings.TrimPrefix(k, levelKeyPrefix)); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// IDs returns the loaded driver ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TickAll ticks every loaded driver. Failures are logged and reported per
// driver; one failing driver does not stop the others.
func (r *Registry) TickAll(ctx context.Context, now time.Time) []DriverReport {
	ids := r.IDs()
	out := make([]DriverReport, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		r.mu.Lock()
		d := r.drivers[id]
		r.mu.Unlock()

		report, err := d.Tick(ctx, now)
		if err != nil {
			log.WithField("driver_id", id).WithError(err).Warn("tick failed")
		}
		out = append(out, DriverReport{DriverID: id, Report: report, Err: err})
	}
	return out
}

// Clock returns the registry's clock.
func (r *Registry) Clock() domain.Clock { return r.opts.Clock }

// Rules returns the VIP rules in force.
func (r *Registry) Rules() domain.VIPRules { return r.opts.Rules }

// Unsettled returns the ids of loaded drivers with owed bonuses or unsaved
// state, sorted.
func (r *Registry) Unsettled() []string {
	var out []string
	for _, id := range r.IDs() {
		r.mu.Lock()
		d := r.drivers[id]
		r.mu.Unlock()
		if d.Unsettled() {
			out = append(out, id)
		}
	}
	return out
}

// SettleAll retries saves and payouts for every unsettled driver.
func (r *Registry) SettleAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.Unsettled() {
		r.mu.Lock()
		d := r.drivers[id]
		r.mu.Unlock()
		if err := d.RetryPayouts(ctx); err != nil {
			errs = append(errs, fmt.Errorf("driver %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
