package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	Name  string `json:"name"`
	Valid bool   `json:"valid"`
}

func TestCacheGetSet(t *testing.T) {
	c := New[fakeResult](10, 1<<20, time.Hour)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache should miss")
	}

	c.Set("h1", fakeResult{Name: "a", Valid: true}, 5*time.Millisecond)
	got, ok := c.Get("h1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.Name != "a" || !got.Valid {
		t.Errorf("Get() = %+v, want the stored result", got)
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.HitRate)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New[fakeResult](3, 1<<20, time.Hour)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("h%d", i), fakeResult{Name: fmt.Sprintf("r%d", i)}, 0)
	}
	// Touch h0 so h1 becomes the eviction candidate.
	if _, ok := c.Get("h0"); !ok {
		t.Fatal("h0 should be present")
	}

	c.Set("h3", fakeResult{Name: "r3"}, 0)

	if _, ok := c.Get("h1"); ok {
		t.Error("h1 should have been evicted as least recently used")
	}
	for _, h := range []string{"h0", "h2", "h3"} {
		if _, ok := c.Get(h); !ok {
			t.Errorf("%s should have survived eviction", h)
		}
	}
	if stats := c.GetStats(); stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New[fakeResult](10, 1<<20, 10*time.Millisecond)
	c.Set("h1", fakeResult{Name: "a"}, 0)

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("h1"); ok {
		t.Fatal("expired entry should be reported as a miss")
	}
	stats := c.GetStats()
	if stats.ExpiredEvictions != 1 {
		t.Errorf("expired evictions = %d, want 1", stats.ExpiredEvictions)
	}
	if stats.Entries != 0 {
		t.Errorf("expired entry still resident: %d entries", stats.Entries)
	}
}

func TestCacheMemoryBudget(t *testing.T) {
	// A byte budget that fits one serialized entry but not two.
	c := New[fakeResult](100, 100, time.Hour)
	c.Set("h1", fakeResult{Name: "first"}, 0)
	c.Set("h2", fakeResult{Name: "second"}, 0)

	stats := c.GetStats()
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1 under the byte budget", stats.Entries)
	}
	if stats.MemoryUsedBytes > 100 {
		t.Errorf("memory used %d exceeds budget", stats.MemoryUsedBytes)
	}
	if _, ok := c.Get("h2"); !ok {
		t.Error("most recent entry should be the survivor")
	}
}

func TestCacheFlush(t *testing.T) {
	c := New[fakeResult](10, 1<<20, time.Hour)
	c.Set("h1", fakeResult{}, 0)
	c.Set("h2", fakeResult{}, 0)
	c.Get("h1")

	if n := c.Flush(); n != 2 {
		t.Errorf("Flush() = %d, want 2", n)
	}
	stats := c.GetStats()
	if stats.Entries != 0 || stats.MemoryUsedBytes != 0 {
		t.Errorf("flush left residue: %+v", stats)
	}
	if stats.Hits != 1 {
		t.Error("flush should preserve hit/miss counters")
	}
}

func TestCacheSetReplacesExisting(t *testing.T) {
	c := New[fakeResult](10, 1<<20, time.Hour)
	c.Set("h1", fakeResult{Name: "old"}, 0)
	c.Set("h1", fakeResult{Name: "new"}, 0)

	got, ok := c.Get("h1")
	if !ok || got.Name != "new" {
		t.Errorf("Get() = %+v, want the replacement", got)
	}
	if stats := c.GetStats(); stats.Entries != 1 {
		t.Errorf("entries = %d, want 1 after replacement", stats.Entries)
	}
}

func TestCacheRejectsOversizedEntry(t *testing.T) {
	c := New[fakeResult](10, 100, time.Hour)
	c.Set("small", fakeResult{Name: "a"}, 0)

	// An entry bigger than the whole budget must be rejected outright, not
	// admitted after evicting everything else.
	c.Set("big", fakeResult{Name: strings.Repeat("x", 200)}, 0)

	stats := c.GetStats()
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1 after rejecting the oversized entry", stats.Entries)
	}
	if stats.MemoryUsedBytes > 100 {
		t.Errorf("memory used %d exceeds budget", stats.MemoryUsedBytes)
	}
	if _, ok := c.Get("big"); ok {
		t.Error("oversized entry should not be retrievable")
	}
	if _, ok := c.Get("small"); !ok {
		t.Error("resident entry should not be evicted for an entry that could never fit")
	}
}

func TestCacheRollingAverages(t *testing.T) {
	c := New[fakeResult](10, 1<<20, time.Hour)
	c.Set("h1", fakeResult{}, 10*time.Millisecond)
	c.Set("h2", fakeResult{}, 20*time.Millisecond)

	stats := c.GetStats()
	if stats.AvgValidationMs < 14 || stats.AvgValidationMs > 16 {
		t.Errorf("avg validation = %.2fms, want ~15ms", stats.AvgValidationMs)
	}
}
