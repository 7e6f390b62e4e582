package cache

import (
	"testing"
	"time"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}

	c.Set("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Errorf("overwrite: got %q, want 2", v)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(30 * time.Second)
	c.Set("c", 3)

	now = now.Add(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1 (b)", removed)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be live")
	}
}

func TestLRUCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(24 * time.Hour)
	if _, ok := c.Get("a"); !ok {
		t.Error("zero TTL entry should not expire")
	}
}

func TestLRUCache_PurgeAndDelete(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be deleted")
	}

	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Size() after Purge = %d, want 0", c.Size())
	}
	c.Set("d", 4)
	if v, ok := c.Get("d"); !ok || v != 4 {
		t.Error("cache should be usable after Purge")
	}
}

func TestLRUCache_SetIfGeneration(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)

	gen := c.Generation()
	if !c.SetIfGeneration("a", 1, gen) {
		t.Fatal("SetIfGeneration with current generation should store")
	}

	stale := c.Generation()
	c.Purge()
	if c.SetIfGeneration("b", 2, stale) {
		t.Error("SetIfGeneration after Purge should be rejected")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should not be cached after a purge race")
	}
	if c.Generation() != stale+1 {
		t.Errorf("Generation() = %d, want %d", c.Generation(), stale+1)
	}

	c.Set("c", 3)
	if c.Generation() != stale+1 {
		t.Error("Set should not change the generation")
	}
}

func TestLRUCache_DisabledWhenSizeZero(t *testing.T) {
	c := NewLRUCache[int](0, time.Minute)
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Error("zero-size cache should not store")
	}
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager()
	m.Register(NewLRUCache[int](1, time.Minute))
	m.Stop()

	m = NewManager()
	m.StartCleanup(time.Millisecond)
	m.Stop()
}
