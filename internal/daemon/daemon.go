package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/api"
	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/app/wallet"
	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/health"
	"github.com/rideloop/loyalty/internal/infra/clock"
	"github.com/rideloop/loyalty/internal/infra/redisstore"
	"github.com/rideloop/loyalty/internal/infra/scheduler"
	"github.com/rideloop/loyalty/internal/infra/sqlite"
)

// Daemon is the loyalty runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Redis  *redisstore.Store // nil unless the redis backend is selected
	Store  domain.StateStore
	Clock  *clock.System

	Wallet   *wallet.Service
	Bus      *loyalty.StatusBus
	Registry *loyalty.Registry

	Scheduler *scheduler.Scheduler
	Display   *scheduler.DisplayTicker
	Live      *api.LiveHub
	Health    *health.Checker
	Server    *api.Server

	logFile io.Closer
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon from the on-disk configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration and loads
// every known driver.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logFile, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, err
	}

	clk, err := clock.LoadSystem(cfg.Clock.Timezone)
	if err != nil {
		closeQuietly(logFile)
		return nil, err
	}

	db, err := sqlite.Open(cfg.Store.DataDir)
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config:  cfg,
		DB:      db,
		Store:   db,
		Clock:   clk,
		logFile: logFile,
	}

	if cfg.Store.Backend == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.Redis = rs
		d.Store = rs
	}

	d.Wallet = wallet.NewService(db)
	d.Bus = loyalty.NewStatusBus()
	d.Registry = loyalty.NewRegistry(loyalty.Options{
		Store:  d.Store,
		Wallet: d.Wallet,
		Clock:  clk,
		Rules:  cfg.Rules(),
		Bus:    d.Bus,
		Retry: loyalty.RetryPolicy{
			MaxRetries:      uint64(cfg.Persistence.MaxRetries),
			InitialInterval: parseDuration(cfg.Persistence.InitialInterval, 100*time.Millisecond),
		},
	})

	n, err := d.Registry.LoadAll(context.Background())
	if err != nil {
		// Drivers that failed to load stay unloaded; the rest keep running.
		log.WithError(err).Error("some drivers failed to load")
	}
	log.WithFields(log.Fields{
		"drivers": n,
		"store":   cfg.Store.Backend,
		"zone":    clk.Location().String(),
	}).Info("loyalty state loaded")

	d.Scheduler = scheduler.New(d.Registry, clk, scheduler.Config{
		TickInterval: parseDuration(cfg.Scheduler.TickInterval, time.Minute),
		MidnightTick: cfg.Scheduler.MidnightTick,
	})

	d.Live = api.NewLiveHub()
	d.Display = scheduler.NewDisplayTicker(d.Bus, d.Registry, clk,
		parseDuration(cfg.Scheduler.DisplayInterval, time.Second), d.Live.PublishView)

	d.Health = health.NewChecker(d.Store, d.Wallet, d.Registry,
		parseDuration(cfg.Telemetry.HealthInterval, time.Minute))

	d.Server = api.NewServer(d.Registry, d.Wallet)
	d.Server.SetHealth(d.Health)
	d.Server.SetLiveHub(d.Live)
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// Serve starts the background services and the HTTP server and blocks until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	// Catch up on boundaries missed while the daemon was down.
	d.Scheduler.RunOnce(ctx)
	if err := d.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	unsubscribe := d.Bus.Subscribe(d.Live.PublishStatus)
	var online []string
	for _, id := range d.Registry.IDs() {
		if drv, err := d.Registry.Driver(ctx, id); err == nil && drv.Online() {
			online = append(online, id)
		}
	}
	d.Display.Seed(online...)
	d.Display.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Scheduler.Stop()
		d.Display.Stop()
		unsubscribe()
		d.Live.Close()
		_ = httpServer.Shutdown(shutdownCtx)

		if err := d.Registry.SettleAll(shutdownCtx); err != nil {
			log.WithError(err).Warn("unsettled drivers at shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"addr":    "http://" + addr,
		"metrics": d.Config.Telemetry.Prometheus,
	}).Info("loyalty serving")

	err := httpServer.ListenAndServe()
	if err != http.ErrServerClosed {
		cancel()
		<-done
		return err
	}
	<-done
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	closeQuietly(d.logFile)
}

// setupLogging configures the package-level logrus logger.
func setupLogging(cfg LoggingConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
