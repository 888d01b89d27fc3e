package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rideloop/loyalty/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "loyalty.db")); os.IsNotExist(err) {
		t.Error("loyalty.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.Save(ctx, "level:d1", []byte(`{"level":2}`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	data, ok, err := db.Load(ctx, "level:d1")
	if err != nil || !ok {
		t.Fatalf("Load() = ok %v, err %v", ok, err)
	}
	if string(data) != `{"level":2}` {
		t.Errorf("data = %s", data)
	}
}

// ─── Engine State ───────────────────────────────────────────────────────────

func TestLoad_Missing(t *testing.T) {
	db := newTestDB(t)
	data, ok, err := db.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if ok || data != nil {
		t.Errorf("Load(missing) = %q, %v; want nil, false", data, ok)
	}
}

func TestSave_Overwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Save(ctx, "vip:d1", []byte("a"))
	if err := db.Save(ctx, "vip:d1", []byte("b")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	data, _, _ := db.Load(ctx, "vip:d1")
	if string(data) != "b" {
		t.Errorf("data = %q, want %q", data, "b")
	}
}

func TestKeys_Prefix(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for _, k := range []string{"level:b", "level:a", "vip:a", "levelx"} {
		db.Save(ctx, k, []byte("{}"))
	}
	keys, err := db.Keys(ctx, "level:")
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "level:a" || keys[1] != "level:b" {
		t.Errorf("Keys(level:) = %v", keys)
	}
}

// ─── Credit Ledger ──────────────────────────────────────────────────────────

func testCredit(id string, amount int64) domain.Credit {
	return domain.Credit{
		ID:          id,
		DriverID:    "d1",
		Kind:        domain.PayoutLevelUp,
		Amount:      amount,
		Description: "level 1.1 complete",
	}
}

func TestPostPayout_DoubleEntry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	applied, err := db.PostPayout(ctx, testCredit("p1", 100), time.Now())
	if err != nil || !applied {
		t.Fatalf("PostPayout() = %v, %v", applied, err)
	}

	bal, _ := db.CreditBalance(ctx, domain.DriverAccount("d1"))
	if bal != 100 {
		t.Errorf("driver balance = %d, want 100", bal)
	}
	pool, _ := db.CreditBalance(ctx, domain.BonusPoolAccount)
	if pool != -100 {
		t.Errorf("pool balance = %d, want -100", pool)
	}

	debits, credits, err := db.LedgerTotals(ctx)
	if err != nil {
		t.Fatalf("LedgerTotals() error: %v", err)
	}
	if debits != credits {
		t.Errorf("debits %d != credits %d", debits, credits)
	}
}

func TestPostPayout_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.PostPayout(ctx, testCredit("p1", 100), time.Now())
	applied, err := db.PostPayout(ctx, testCredit("p1", 100), time.Now())
	if err != nil {
		t.Fatalf("PostPayout() error: %v", err)
	}
	if applied {
		t.Error("second post of the same payout should not apply")
	}
	bal, _ := db.CreditBalance(ctx, domain.DriverAccount("d1"))
	if bal != 100 {
		t.Errorf("balance = %d, want 100", bal)
	}
	entries, _ := db.LedgerEntries(ctx, domain.DriverAccount("d1"), 10)
	if len(entries) != 1 {
		t.Errorf("driver entries = %d, want 1", len(entries))
	}
}

func TestLedgerEntries_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.PostPayout(ctx, testCredit("p1", 100), time.Now())
	db.PostPayout(ctx, testCredit("p2", 150), time.Now())

	entries, err := db.LedgerEntries(ctx, domain.DriverAccount("d1"), 10)
	if err != nil {
		t.Fatalf("LedgerEntries() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].PayoutID != "p2" || entries[0].Balance != 250 {
		t.Errorf("newest = %+v", entries[0])
	}
	if entries[1].EntryType != domain.EntryCredit {
		t.Errorf("entry type = %s, want CREDIT", entries[1].EntryType)
	}
}
