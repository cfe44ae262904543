// Package cache provides a content-addressed, LRU+TTL-bounded store for
// validation results.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentwarden/agentwarden/internal/logger"
)

var log = logger.New("cache")

// statWindow is the number of samples kept for rolling timing averages.
const statWindow = 100

// Entry is the stored record for one configuration hash.
type Entry[T any] struct {
	Result         T         `json:"result"`
	ConfigHash     string    `json:"config_hash"`
	CreatedAt      time.Time `json:"created_at"`
	AccessCount    int64     `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SizeBytes      int       `json:"size_bytes"`
}

// Stats is a point-in-time snapshot of cache performance.
type Stats struct {
	Entries          int     `json:"entries"`
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	MemoryUsedBytes  int64   `json:"memory_used_bytes"`
	AvgRetrievalMs   float64 `json:"avg_retrieval_ms"`
	AvgValidationMs  float64 `json:"avg_validation_ms"`
	Evictions        int64   `json:"evictions"`
	ExpiredEvictions int64   `json:"expired_evictions"`
}

// Cache maps a canonical configuration hash to a prior validation result.
// All mutating operations hold the mutex for their full duration: a Get's
// LRU touch and a Set's eviction loop are single atomic critical sections.
type Cache[T any] struct {
	mu sync.Mutex

	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	usedBytes int64
	hits      int64
	misses    int64
	evictions int64
	expired   int64

	retrievalMs []float64
	validateMs  []float64
}

// New creates a cache bounded by entry count, memory budget, and TTL.
func New[T any](maxEntries int, maxBytes int64, ttl time.Duration) *Cache[T] {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[T]{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
	}
}

// Get returns the stored result for hash. An entry past its TTL is evicted
// and reported as a miss. Hits refresh access metadata and LRU position.
// The value is returned as stored: a T holding slices or maps shares them
// with the cached entry, and callers that mutate must copy first.
func (c *Cache[T]) Get(hash string) (T, bool) {
	start := time.Now()
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[hash]
	if !ok {
		c.misses++
		return zero, false
	}
	entry := el.Value.(*Entry[T])

	if time.Since(entry.CreatedAt) > c.ttl {
		c.removeLocked(el)
		c.expired++
		c.misses++
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = time.Now()
	c.lru.MoveToFront(el)
	c.hits++
	c.recordSampleLocked(&c.retrievalMs, float64(time.Since(start).Microseconds())/1000)

	return entry.Result, true
}

// Set stores a result under hash, evicting least-recently-used entries while
// over the memory or entry budget. validationTime, when nonzero, feeds the
// rolling validation-time average.
func (c *Cache[T]) Set(hash string, result T, validationTime time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		log.Warn("result for %s is not serializable, not caching: %v", hash, err)
		return
	}
	// Serialized length x2 approximates the in-memory footprint.
	size := len(raw) * 2

	c.mu.Lock()
	defer c.mu.Unlock()

	// An entry that alone exceeds the budget would evict everything else and
	// still leave the cache over budget.
	if int64(size) > c.maxBytes {
		log.Debug("entry for %s (%d bytes) exceeds the cache memory budget, not caching", hash, size)
		return
	}

	if el, ok := c.entries[hash]; ok {
		c.removeLocked(el)
	}

	for c.lru.Len() > 0 && (int64(size)+c.usedBytes > c.maxBytes || c.lru.Len() >= c.maxEntries) {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	now := time.Now()
	entry := &Entry[T]{
		Result:         result,
		ConfigHash:     hash,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		SizeBytes:      size,
	}
	c.entries[hash] = c.lru.PushFront(entry)
	c.usedBytes += int64(size)

	if validationTime > 0 {
		c.recordSampleLocked(&c.validateMs, float64(validationTime.Microseconds())/1000)
	}
}

// Flush drops all entries and resets usage accounting, returning the number
// of dropped entries. Hit/miss counters are preserved.
func (c *Cache[T]) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.usedBytes = 0
	return dropped
}

// GetStats returns a snapshot of cache statistics.
func (c *Cache[T]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:          len(c.entries),
		Hits:             c.hits,
		Misses:           c.misses,
		MemoryUsedBytes:  c.usedBytes,
		Evictions:        c.evictions,
		ExpiredEvictions: c.expired,
		AvgRetrievalMs:   average(c.retrievalMs),
		AvgValidationMs:  average(c.validateMs),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[T]) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry[T])
	delete(c.entries, entry.ConfigHash)
	c.lru.Remove(el)
	c.usedBytes -= int64(entry.SizeBytes)
}

func (c *Cache[T]) recordSampleLocked(samples *[]float64, v float64) {
	*samples = append(*samples, v)
	if len(*samples) > statWindow {
		*samples = (*samples)[len(*samples)-statWindow:]
	}
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
