package daemon

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.DataDir = t.TempDir()
	cfg.Clock.Timezone = "UTC"
	cfg.Logging.Level = "warn"
	cfg.Persistence.InitialInterval = "1ms"
	return cfg
}

func TestNewWithConfig_SQLite(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	ctx := context.Background()

	drv, err := d.Registry.Driver(ctx, "d1")
	if err != nil {
		t.Fatalf("Driver() error: %v", err)
	}
	for i := 0; i < 30; i++ {
		if _, err := drv.CompleteRide(ctx); err != nil {
			t.Fatalf("CompleteRide() error: %v", err)
		}
	}
	if bal, _ := d.Wallet.Balance(ctx, "d1"); bal != 100 {
		t.Errorf("balance = %d, want 100", bal)
	}
	d.Close()

	// State survives a restart.
	d2, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() reopen error: %v", err)
	}
	defer d2.Close()
	if ids := d2.Registry.IDs(); len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("IDs() after restart = %v, want [d1]", ids)
	}
	drv, _ = d2.Registry.Driver(ctx, "d1")
	if lv := drv.LevelView(); lv.TotalRides != 30 || lv.SubLevel != 2 {
		t.Errorf("level after restart = %+v", lv)
	}
}

func TestNewWithConfig_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = mr.Addr()

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()
	if d.Redis == nil {
		t.Fatal("redis store not selected")
	}

	ctx := context.Background()
	drv, _ := d.Registry.Driver(ctx, "d2")
	if _, err := drv.CompleteRide(ctx); err != nil {
		t.Fatalf("CompleteRide() error: %v", err)
	}
	if !mr.Exists(cfg.Store.RedisPrefix + "level:d2") {
		t.Errorf("keys = %v, want level:d2 in redis", mr.Keys())
	}
}

func TestNewWithConfig_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = "127.0.0.1:1"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("NewWithConfig() with unreachable redis should fail")
	}
}

func TestNewWithConfig_Invalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Clock.Timezone = "Mars/Olympus"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("NewWithConfig() with unknown timezone should fail")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Port = freePort(t)
	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx) }()

	url := "http://" + net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)) + "/health"
	deadline := time.Now().Add(5 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
