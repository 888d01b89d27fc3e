package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

// RideResult is the outcome of one completed ride.
type RideResult struct {
	DriverID string         `json:"driver_id"`
	LevelUp  *LevelUpResult `json:"level_up,omitempty"`
	Level    LevelView      `json:"level"`
}

// Snapshot is both read models of a driver at one instant.
type Snapshot struct {
	Level LevelView `json:"level"`
	VIP   VIPView   `json:"vip"`
}

// Driver is the single owner of one driver's engines. Every method holds the
// driver's lock, so events for one driver apply in arrival order.
type Driver struct {
	id    string
	clock domain.Clock

	mu    sync.Mutex
	level *LevelEngine
	vip   *VIPCycleEngine
}

func newDriver(id string, o Options) *Driver {
	return &Driver{
		id:    id,
		clock: o.Clock,
		level: NewLevelEngine(id, o.Store, o.Wallet, o.Clock, o.Retry),
		vip:   NewVIPCycleEngine(id, o.Rules, o.Store, o.Wallet, o.Clock, o.Bus, o.Retry),
	}
}

func (d *Driver) load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.level.Load(ctx); err != nil {
		return err
	}
	return d.vip.Load(ctx, d.level.IsVIP())
}

// ID returns the driver id.
func (d *Driver) ID() string { return d.id }

// CompleteRide records a completed ride on both engines. The ride that
// reaches the VIP tier activates qualification but is not counted as a VIP
// ride. Once the level record holds the ride, the result is returned and
// any later wallet or VIP save error is joined to it.
func (d *Driver) CompleteRide(ctx context.Context) (*RideResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasVIP := d.level.IsVIP()
	before := d.level.State().TotalRides
	up, err := d.level.OnRideCompleted(ctx)
	if d.level.State().TotalRides == before {
		return nil, err
	}
	walletErr := err

	switch {
	case up != nil && up.EnteredVIP:
		err = d.vip.Activate(ctx)
	case wasVIP:
		err = d.vip.OnRideCompleted(ctx)
	default:
		err = nil
	}
	res := &RideResult{DriverID: d.id, LevelUp: up, Level: d.level.View()}
	return res, errors.Join(walletErr, err)
}

// GoOnline opens a session.
func (d *Driver) GoOnline(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vip.OnSessionStart(ctx)
}

// GoOffline closes the open session.
func (d *Driver) GoOffline(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vip.OnSessionStop(ctx)
}

// Tick applies calendar boundaries up to now and retries owed level bonuses.
func (d *Driver) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	report, err := d.vip.OnTick(ctx, now)
	if lerr := d.level.RetryPayouts(ctx); lerr != nil {
		err = errors.Join(err, lerr)
	}
	return report, err
}

// Online reports whether the driver has an open session.
func (d *Driver) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vip.Online()
}

// LevelView returns the level card.
func (d *Driver) LevelView() LevelView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level.View()
}

// VIPView returns the VIP card as of now.
func (d *Driver) VIPView(now time.Time) VIPView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vip.View(now)
}

// Snapshot returns both cards as of the clock's now.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{Level: d.level.View(), VIP: d.vip.View(d.clock.Now())}
}

// ResetProgress resets the level record. VIP qualification stops with it.
func (d *Driver) ResetProgress(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.level.ResetProgress(ctx); err != nil {
		return err
	}
	d.vip.Deactivate()
	return nil
}

// ResetCycle resets the VIP qualification record of a VIP driver.
func (d *Driver) ResetCycle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.vip.Active() {
		return fmt.Errorf("%w: %s", domain.ErrNotVIP, d.id)
	}
	return d.vip.ResetCycle(ctx)
}

// RetryPayouts credits every bonus either engine still owes.
func (d *Driver) RetryPayouts(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.level.RetryPayouts(ctx), d.vip.RetryPayouts(ctx))
}

// PendingPayouts lists bonuses saved but not yet credited.
func (d *Driver) PendingPayouts() []domain.Credit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(d.level.PendingPayouts(), d.vip.PendingPayouts()...)
}

// Unsettled reports whether the driver owes a bonus or holds VIP state that
// has not been saved.
func (d *Driver) Unsettled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level.Dirty() || d.vip.Dirty() ||
		len(d.level.PendingPayouts())+len(d.vip.PendingPayouts()) > 0
}
