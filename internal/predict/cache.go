// Package predict fronts the external trajectory-prediction API with a
// quantised TTL+LRU cache and a per-subject dispatch throttle so slow
// ascents never hammer a rate-limited service with near-duplicate
// requests.
package predict

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

// Key is the quantised cache key. Coarse quantisation is intentional:
// during a slow ascent successive requests collapse onto the same key.
type Key struct {
	Subject    string
	LatBucket  int
	LonBucket  int
	AltBucket  int
	TimeBucket int64
}

// Quantizer buckets a request position into a Key.
type Quantizer struct {
	LatLonQuantumDegrees float64
	AltitudeQuantumM     float64
	TimeBucket           time.Duration
}

// Key quantises the subject position at the given time.
func (q Quantizer) Key(subject string, c telemetry.Coordinate, altitudeM float64, at time.Time) Key {
	return Key{
		Subject:    subject,
		LatBucket:  int(math.Floor(c.Lat / q.LatLonQuantumDegrees)),
		LonBucket:  int(math.Floor(c.Lon / q.LatLonQuantumDegrees)),
		AltBucket:  int(math.Floor(altitudeM / q.AltitudeQuantumM)),
		TimeBucket: at.UnixNano() / int64(q.TimeBucket),
	}
}

// Stats are the cache observability counters. They never affect
// behaviour.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

type cacheEntry struct {
	key        Key
	value      Result
	insertedAt time.Time
	version    int
	accesses   int
}

// Cache is a capacity-bounded LRU map with TTL expiry. It is the only
// component shared across goroutines (network completions call Set off
// the pipeline goroutine), so all access is mutex-guarded.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*list.Element
	lru      *list.List // front = most recently used
	ttl      time.Duration
	capacity int
	clock    timeutil.Clock
	metrics  *Metrics
	stats    Stats
}

// NewCache creates a cache. A nil clock uses the real clock; a nil
// metrics skips prometheus reporting.
func NewCache(ttl time.Duration, capacity int, clock timeutil.Clock, metrics *Metrics) *Cache {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Cache{
		entries:  make(map[Key]*list.Element),
		lru:      list.New(),
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		metrics:  metrics,
	}
}

// Get returns the cached prediction for key. An entry past its TTL is
// evicted on the spot and reported as an expiration plus a miss: stale
// entries are never returned as hits even while physically present.
func (c *Cache) Get(key Key) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.miss()
		return Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.clock.Since(entry.insertedAt) > c.ttl {
		c.removeLocked(elem)
		c.stats.Expirations++
		if c.metrics != nil {
			c.metrics.CacheExpirations.Inc()
		}
		c.miss()
		return Result{}, false
	}

	entry.accesses++
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return entry.value, true
}

// Set stores a prediction under key, bumping the version counter when
// the key already exists. Expired entries are swept lazily here; on
// capacity overflow the strict LRU entry is evicted.
func (c *Cache) Set(key Key, value Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.insertedAt = now
		entry.version++
		c.lru.MoveToFront(elem)
		return
	}

	c.sweepLocked(now)

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value, insertedAt: now})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		tail := c.lru.Back()
		if tail == nil {
			break
		}
		c.removeLocked(tail)
		c.stats.Evictions++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
}

// Len returns the number of physically present entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheStats returns a copy of the observability counters.
func (c *Cache) CacheStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) miss() {
	c.stats.Misses++
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
}

// sweepLocked drops all expired entries. No background sweeper thread:
// writes are frequent enough while predictions are enabled.
func (c *Cache) sweepLocked(now time.Time) {
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry)
		if now.Sub(entry.insertedAt) > c.ttl {
			c.removeLocked(elem)
			c.stats.Expirations++
			if c.metrics != nil {
				c.metrics.CacheExpirations.Inc()
			}
		}
		elem = prev
	}
}
