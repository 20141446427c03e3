package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/claimgate/internal/model"
)

func TestKey(t *testing.T) {
	k1 := Key("manifest", "study-1")
	k2 := Key("manifest", "study-1")
	k3 := Key("variable", "study-1")

	if k1 != k2 {
		t.Error("keys for identical input differ")
	}
	if k1 == k3 {
		t.Error("keys for different kinds collide")
	}
	if !strings.HasPrefix(k1, "claimgate:v1:manifest:") {
		t.Errorf("unexpected key %s", k1)
	}
	if Key("page", "a", "bc") == Key("page", "ab", "c") {
		t.Error("part boundaries must be part of the key")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected hit with v, got %q %v", got, ok)
	}
	got[0] = 'x'
	if again, _ := c.Get("k"); string(again) != "v" {
		t.Error("mutating a returned value changed the cache")
	}

	_ = c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestDiskCache_Expiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(Key("page", "http://example.com"), []byte("body"), 0); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Get(Key("page", "http://example.com")); !ok || string(got) != "body" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get(Key("page", "http://example.com")); ok {
		t.Error("expected expired entry to miss")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected expired entry removed, found %d files", len(entries))
	}
	if err := c.Delete("missing"); err != nil {
		t.Errorf("deleting a missing entry should not fail: %v", err)
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	c := NewLayeredCache(time.Minute, dir, time.Hour)

	if err := c.disk.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.memory.Get("k"); ok {
		t.Fatal("memory should start empty")
	}
	if got, ok := c.Get("k"); !ok || string(got) != "v" {
		t.Fatalf("expected disk hit, got %q %v", got, ok)
	}
	if _, ok := c.memory.Get("k"); !ok {
		t.Error("expected disk hit promoted to memory")
	}
}

func TestReadThrough(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	calls := 0
	load := func(ctx context.Context) (model.Variable, error) {
		calls++
		return model.Variable{ID: "v1", Name: "tumor_diameter", ProtocolID: "p1", ProtocolVersionID: "3"}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := ReadThrough(context.Background(), c, Key("variable", "v1"), 0, load)
		if err != nil {
			t.Fatal(err)
		}
		if v.Name != "tumor_diameter" {
			t.Errorf("unexpected variable %+v", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected one load, got %d", calls)
	}
}

func TestReadThrough_ErrorsAreNotCached(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	boom := errors.New("boom")
	calls := 0
	load := func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	}

	for i := 0; i < 2; i++ {
		if _, err := ReadThrough(context.Background(), c, "k", 0, load); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("expected errors to bypass the cache, got %d loads", calls)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(model.CacheConfig{}).(Noop); !ok {
		t.Error("disabled cache should be Noop")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute}).(*MemoryCache); !ok {
		t.Error("cache without dir should be memory only")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, Dir: t.TempDir()}).(*LayeredCache); !ok {
		t.Error("cache with dir should be layered")
	}
}
