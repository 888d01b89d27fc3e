package cli

import (
	"bytes"
	"strings"
	"testing"
)

// run executes the root command with a fresh LOYALTY_HOME per test.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("LOYALTY_HOME", t.TempDir())
	t.Setenv("LOYALTY_LOG_LEVEL", "error")
	t.Setenv("LOYALTY_TIMEZONE", "UTC")
	rideCount = 1
	statusJSON = false
	historyLimit = 20
	configForce = false
}

func TestLevelsCommand(t *testing.T) {
	isolate(t)
	out, err := run(t, "levels")
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	if !strings.Contains(out, "1.1") || !strings.Contains(out, "4320") {
		t.Errorf("levels output missing rows:\n%s", out)
	}
	if lines := strings.Count(out, "\n"); lines != 20 {
		t.Errorf("levels printed %d lines, want header + 18 rows + VIP", lines)
	}
}

func TestRideAndStatus(t *testing.T) {
	isolate(t)
	out, err := run(t, "ride", "alice", "-n", "30")
	if err != nil {
		t.Fatalf("ride: %v", err)
	}
	if !strings.Contains(out, "Level up: 1.1 -> 1.2, bonus 100") {
		t.Errorf("ride output = %q", out)
	}

	out, err = run(t, "status", "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "1.2") || !strings.Contains(out, "30 rides") {
		t.Errorf("status output = %q", out)
	}

	out, err = run(t, "wallet", "balance", "alice")
	if err != nil || !strings.Contains(out, "alice: 100") {
		t.Errorf("wallet balance = %q, %v", out, err)
	}

	out, err = run(t, "wallet", "verify")
	if err != nil || !strings.Contains(out, "balanced") {
		t.Errorf("wallet verify = %q, %v", out, err)
	}
}

func TestStatusUnknownDriver(t *testing.T) {
	isolate(t)
	if _, err := run(t, "status", "ghost"); err == nil {
		t.Error("status for unknown driver should fail")
	}
}

func TestResetCycleRequiresVIP(t *testing.T) {
	isolate(t)
	if _, err := run(t, "ride", "bob"); err != nil {
		t.Fatalf("ride: %v", err)
	}
	_, err := run(t, "reset", "cycle", "bob")
	if err == nil || !strings.Contains(err.Error(), "not in the VIP tier") {
		t.Errorf("reset cycle = %v, want not VIP", err)
	}
	out, err := run(t, "reset", "progress", "bob")
	if err != nil || !strings.Contains(out, "reset to level 1.1") {
		t.Errorf("reset progress = %q, %v", out, err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	isolate(t)
	out, err := run(t, "config", "init")
	if err != nil || !strings.Contains(out, "config.toml") {
		t.Fatalf("config init = %q, %v", out, err)
	}
	if _, err := run(t, "config", "init"); err == nil {
		t.Error("second config init without --force should fail")
	}
	out, err = run(t, "config", "show")
	if err != nil || !strings.Contains(out, "port = 8420") {
		t.Errorf("config show = %q, %v", out, err)
	}
}
