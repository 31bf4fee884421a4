package events

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DeduplicationConfig holds configuration for error deduplication
type DeduplicationConfig struct {
	Enabled         bool
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultDeduplicationConfig returns default deduplication settings.
// A scan over a broken directory can emit the same decode error for
// thousands of files; five minutes of suppression keeps telemetry sane.
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:         true,
		TTL:             5 * time.Minute,
		MaxEntries:      10000,
		CleanupInterval: 1 * time.Minute,
	}
}

// ErrorDeduplicator prevents duplicate errors from being processed
type ErrorDeduplicator struct {
	config *DeduplicationConfig
	cache  map[uint64]*dedupeEntry
	mu     sync.Mutex

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64

	stopCleanup chan struct{}
	cleanupOnce sync.Once
	logger      *slog.Logger
}

// dedupeEntry tracks an error occurrence
type dedupeEntry struct {
	lastSeen   time.Time
	firstSeen  time.Time
	count      int64
	suppressed int64
}

// DeduplicationStats contains deduplicator metrics
type DeduplicationStats struct {
	TotalSeen       uint64
	TotalSuppressed uint64
	CacheSize       int
}

// NewErrorDeduplicator creates a new error deduplicator
func NewErrorDeduplicator(config *DeduplicationConfig, logger *slog.Logger) *ErrorDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}

	ed := &ErrorDeduplicator{
		config:      config,
		cache:       make(map[uint64]*dedupeEntry),
		stopCleanup: make(chan struct{}),
		logger:      logger,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go ed.cleanupLoop()
	}

	return ed
}

// ShouldProcess checks if an error should be processed or suppressed
func (ed *ErrorDeduplicator) ShouldProcess(event ErrorEvent) bool {
	if ed == nil || !ed.config.Enabled {
		return true
	}

	ed.totalSeen.Add(1)

	hash := calculateEventHash(event)
	now := time.Now()

	ed.mu.Lock()
	defer ed.mu.Unlock()

	entry, exists := ed.cache[hash]
	if !exists {
		if len(ed.cache) >= ed.config.MaxEntries {
			ed.evictOldest()
		}
		ed.cache[hash] = &dedupeEntry{
			firstSeen: now,
			lastSeen:  now,
			count:     1,
		}
		return true
	}

	if now.Sub(entry.lastSeen) > ed.config.TTL {
		// TTL expired, treat as a fresh occurrence
		entry.lastSeen = now
		entry.count++
		return true
	}

	entry.lastSeen = now
	entry.count++
	entry.suppressed++
	ed.totalSuppressed.Add(1)
	return false
}

// calculateEventHash derives a stable identity for an error event from
// its component, category and message.
func calculateEventHash(event ErrorEvent) uint64 {
	h := fnv.New64a()
	h.Write([]byte(event.GetComponent()))
	h.Write([]byte{0})
	h.Write([]byte(event.GetCategory()))
	h.Write([]byte{0})
	h.Write([]byte(event.GetMessage()))
	return h.Sum64()
}

// evictOldest removes the entry with the oldest lastSeen. Caller must
// hold the mutex.
func (ed *ErrorDeduplicator) evictOldest() {
	var oldestHash uint64
	var oldestTime time.Time
	first := true

	for hash, entry := range ed.cache {
		if first || entry.lastSeen.Before(oldestTime) {
			oldestHash = hash
			oldestTime = entry.lastSeen
			first = false
		}
	}

	if !first {
		delete(ed.cache, oldestHash)
	}
}

// cleanupLoop periodically removes expired entries
func (ed *ErrorDeduplicator) cleanupLoop() {
	ticker := time.NewTicker(ed.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ed.stopCleanup:
			return
		case <-ticker.C:
			ed.cleanup()
		}
	}
}

// cleanup removes entries whose TTL has expired
func (ed *ErrorDeduplicator) cleanup() {
	now := time.Now()

	ed.mu.Lock()
	defer ed.mu.Unlock()

	removed := 0
	for hash, entry := range ed.cache {
		if now.Sub(entry.lastSeen) > ed.config.TTL {
			delete(ed.cache, hash)
			removed++
		}
	}

	if removed > 0 && ed.logger != nil {
		ed.logger.Debug("deduplication cache cleanup",
			"removed", removed,
			"remaining", len(ed.cache),
		)
	}
}

// GetStats returns deduplicator statistics
func (ed *ErrorDeduplicator) GetStats() DeduplicationStats {
	ed.mu.Lock()
	size := len(ed.cache)
	ed.mu.Unlock()

	return DeduplicationStats{
		TotalSeen:       ed.totalSeen.Load(),
		TotalSuppressed: ed.totalSuppressed.Load(),
		CacheSize:       size,
	}
}

// Shutdown stops the cleanup goroutine
func (ed *ErrorDeduplicator) Shutdown() {
	if ed == nil {
		return
	}
	ed.cleanupOnce.Do(func() {
		close(ed.stopCleanup)
	})
}
