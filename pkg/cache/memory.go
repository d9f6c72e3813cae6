package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snel-bot/resilience/pkg/serialization"
)

// MemoryBackend is an in-memory cache with a bounded entry count, a
// periodic expiry sweep and optional snapshot persistence to disk.
//
// Eviction order is oldest-created-first: when an insertion would exceed
// MaxEntries, the entry with the earliest CreatedAt is removed.
type MemoryBackend struct {
	mu         sync.Mutex
	data       map[string]*Entry
	maxEntries int
	stats      Stats
	logger     *zap.Logger

	persist persister

	sweepInterval   time.Duration
	persistInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// MemoryConfig holds configuration for the in-memory backend.
type MemoryConfig struct {
	MaxEntries      int           // Maximum number of entries (0 = unlimited)
	SweepInterval   time.Duration // How often to drop expired entries
	PersistPath     string        // Snapshot file path ("" disables persistence)
	PersistInterval time.Duration // How often to snapshot to disk
	Logger          *zap.Logger
}

// DefaultMemoryConfig returns default memory cache configuration.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxEntries:      1000,
		SweepInterval:   1 * time.Minute,
		PersistInterval: 5 * time.Minute,
	}
}

// NewMemoryBackend creates a new in-memory cache backend. When a snapshot
// path is configured, the backend hydrates from disk immediately; entries
// already expired at load time are dropped, and an unreadable or corrupt
// snapshot starts the cache empty rather than failing.
func NewMemoryBackend(config *MemoryConfig) *MemoryBackend {
	if config == nil {
		config = DefaultMemoryConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sweepInterval := config.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	mb := &MemoryBackend{
		data:            make(map[string]*Entry),
		maxEntries:      config.MaxEntries,
		logger:          logger,
		persist: persister{
			path:   config.PersistPath,
			logger: logger,
			encode: serialization.GobEncoder,
			decode: serialization.GobDecoder,
		},
		sweepInterval:   sweepInterval,
		persistInterval: config.PersistInterval,
		stop:            make(chan struct{}),
	}

	mb.stats.MaxSize = config.MaxEntries

	if loaded := mb.persist.load(); loaded != nil {
		mb.data = loaded
	}

	go mb.run()

	return mb
}

// Get retrieves a value from the cache. Expired entries are removed on
// access and reported as misses.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		m.stats.Misses++
		m.updateHitRate()
		return nil, false, nil
	}

	if entry.IsExpired() {
		delete(m.data, key)
		m.stats.Evictions++
		m.stats.Misses++
		m.updateHitRate()
		return nil, false, nil
	}

	m.stats.Hits++
	m.updateHitRate()

	return entry.Value, true, nil
}

// Set stores a value in the cache. The entry bound is enforced here: when
// the cache is full, the oldest-created entry is evicted first.
func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists && m.maxEntries > 0 {
		for len(m.data) >= m.maxEntries {
			m.evictOldest()
		}
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	m.data[key] = &Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Prefix:    prefix,
	}

	m.stats.Sets++

	return nil
}

// Delete removes a value from the cache.
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		delete(m.data, key)
		m.stats.Deletes++
	}

	return nil
}

// DeletePrefix removes all entries whose key starts with prefix.
func (m *MemoryBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			removed++
		}
	}

	m.stats.Deletes += uint64(removed)
	if removed > 0 {
		m.logger.Info("invalidated cache entries",
			zap.String("prefix", prefix),
			zap.Int("removed", removed))
	}

	return removed, nil
}

// Clear removes all values from the cache.
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*Entry)

	return nil
}

// Stats returns cache statistics.
func (m *MemoryBackend) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	statsCopy := m.stats
	statsCopy.Size = len(m.data)
	statsCopy.EntriesByPrefix = make(map[string]int)

	now := time.Now()
	var totalAge, maxAge time.Duration
	for _, entry := range m.data {
		statsCopy.EntriesByPrefix[entry.Prefix]++
		age := now.Sub(entry.CreatedAt)
		totalAge += age
		if age > maxAge {
			maxAge = age
		}
	}
	if len(m.data) > 0 {
		statsCopy.AverageAge = totalAge / time.Duration(len(m.data))
	}
	statsCopy.MaxAge = maxAge

	return statsCopy
}

// Close stops the background sweep and persistence loops. With persistence
// enabled, a final snapshot is written before returning.
func (m *MemoryBackend) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		snapshot := m.snapshotLocked()
		m.mu.Unlock()

		m.persist.save(snapshot)
	})
}

// evictOldest removes the entry with the earliest CreatedAt.
func (m *MemoryBackend) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		m.stats.Evictions++
	}
}

// run drives the expiry sweep and periodic persistence until Close.
func (m *MemoryBackend) run() {
	sweep := time.NewTicker(m.sweepInterval)
	defer sweep.Stop()

	var persistC <-chan time.Time
	if m.persist.enabled() && m.persistInterval > 0 {
		persist := time.NewTicker(m.persistInterval)
		defer persist.Stop()
		persistC = persist.C
	}

	for {
		select {
		case <-sweep.C:
			m.sweepExpired()
		case <-persistC:
			m.mu.Lock()
			snapshot := m.snapshotLocked()
			m.mu.Unlock()
			m.persist.save(snapshot)
		case <-m.stop:
			return
		}
	}
}

// sweepExpired removes expired entries regardless of access patterns.
func (m *MemoryBackend) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, entry := range m.data {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			delete(m.data, key)
			m.stats.Evictions++
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("cache sweep removed expired entries", zap.Int("removed", removed))
	}
}

// snapshotLocked copies the unexpired portion of the entry table.
// Caller must hold m.mu.
func (m *MemoryBackend) snapshotLocked() map[string]*Entry {
	snapshot := make(map[string]*Entry, len(m.data))
	for key, entry := range m.data {
		if !entry.IsExpired() {
			snapshot[key] = entry
		}
	}
	return snapshot
}

func (m *MemoryBackend) updateHitRate() {
	total := m.stats.Hits + m.stats.Misses
	if total > 0 {
		m.stats.HitRate = float64(m.stats.Hits) / float64(total)
	}
}
