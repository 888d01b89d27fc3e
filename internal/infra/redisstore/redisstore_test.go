package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ""), mr
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	data, ok, err := s.Load(context.Background(), "level:d1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok || data != nil {
		t.Errorf("Load(missing) = %q, %v", data, ok)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "level:d1", []byte(`{"level":3}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, ok, err := s.Load(ctx, "level:d1")
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if string(data) != `{"level":3}` {
		t.Errorf("data = %s", data)
	}

	raw, err := mr.Get(DefaultPrefix + "level:d1")
	if err != nil {
		t.Fatalf("miniredis Get() error = %v", err)
	}
	if raw != `{"level":3}` {
		t.Errorf("raw value = %s", raw)
	}
	if ttl := mr.TTL(DefaultPrefix + "level:d1"); ttl != 0 {
		t.Errorf("TTL = %v, want none", ttl)
	}
}

func TestStore_Keys(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"vip:b", "vip:a", "level:a"} {
		s.Save(ctx, k, []byte("{}"))
	}
	mr.Set("other:vip:z", "{}")

	keys, err := s.Keys(ctx, "vip:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "vip:a" || keys[1] != "vip:b" {
		t.Errorf("Keys(vip:) = %v", keys)
	}
}

func TestStore_PingAfterClose(t *testing.T) {
	s, mr := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail once redis is gone")
	}
}

func TestDial_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := Dial(context.Background(), Options{Addr: addr}); err == nil {
		t.Error("Dial() to a closed server should fail")
	}
}

func TestDial_OK(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	s, err := Dial(context.Background(), Options{Addr: mr.Addr(), Prefix: "t:"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()
	s.Save(context.Background(), "k", []byte("v"))
	if !mr.Exists("t:k") {
		t.Error("key should be stored under the custom prefix")
	}
}
