package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// exportVersion tags the export format. Import rejects mismatches rather
// than guessing at compatibility.
const exportVersion = 1

type exportEnvelope[T any] struct {
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exported_at"`
	Entries    []Entry[T] `json:"entries"`
}

// Export serializes all non-expired entries as a zstd-compressed envelope.
func (c *Cache[T]) Export() ([]byte, error) {
	c.mu.Lock()
	env := exportEnvelope[T]{Version: exportVersion, ExportedAt: time.Now()}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*Entry[T])
		if time.Since(entry.CreatedAt) > c.ttl {
			continue
		}
		env.Entries = append(env.Entries, *entry)
	}
	c.mu.Unlock()

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal cache export: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress cache export: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flush cache export: %w", err)
	}
	log.Debug("exported %d cache entries (%d bytes compressed)", len(env.Entries), buf.Len())
	return buf.Bytes(), nil
}

// Import restores entries from an Export payload. Entries past their TTL at
// import time are skipped; a version mismatch rejects the whole payload.
func (c *Cache[T]) Import(data []byte) (int, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("zstd reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("decompress cache import: %w", err)
	}

	var env exportEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("parse cache import: %w", err)
	}
	if env.Version != exportVersion {
		return 0, fmt.Errorf("cache export version %d not supported (want %d)", env.Version, exportVersion)
	}

	imported := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	// Iterate back-to-front of the exported LRU order so the most recently
	// used entry ends up at the front again.
	for i := len(env.Entries) - 1; i >= 0; i-- {
		entry := env.Entries[i]
		if time.Since(entry.CreatedAt) > c.ttl {
			continue
		}
		// Same rule as Set: an entry bigger than the whole budget is skipped
		// rather than admitted over budget.
		if int64(entry.SizeBytes) > c.maxBytes {
			log.Debug("skipping imported entry %s (%d bytes): exceeds the cache memory budget",
				entry.ConfigHash, entry.SizeBytes)
			continue
		}
		if el, ok := c.entries[entry.ConfigHash]; ok {
			c.removeLocked(el)
		}
		for c.lru.Len() > 0 && (int64(entry.SizeBytes)+c.usedBytes > c.maxBytes || c.lru.Len() >= c.maxEntries) {
			oldest := c.lru.Back()
			c.removeLocked(oldest)
			c.evictions++
		}
		stored := entry
		c.entries[stored.ConfigHash] = c.lru.PushFront(&stored)
		c.usedBytes += int64(stored.SizeBytes)
		imported++
	}
	log.Info("imported %d cache entries", imported)
	return imported, nil
}
