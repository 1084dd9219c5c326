package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/recovery.report/internal/telemetry"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
)

var cacheStart = time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)

func testQuantizer() Quantizer {
	return Quantizer{
		LatLonQuantumDegrees: 0.2,
		AltitudeQuantumM:     500,
		TimeBucket:           10 * time.Minute,
	}
}

func testResult(lat float64) Result {
	return Result{LandingPoint: telemetry.Coordinate{Lat: lat, Lon: -2.0}}
}

func TestQuantizerCollapsesNearbyPositions(t *testing.T) {
	t.Parallel()

	q := testQuantizer()
	at := cacheStart

	a := q.Key("K-1042", telemetry.Coordinate{Lat: 52.01, Lon: -2.01}, 4100, at)
	b := q.Key("K-1042", telemetry.Coordinate{Lat: 52.05, Lon: -2.08}, 4300, at.Add(time.Minute))
	assert.Equal(t, a, b, "near-duplicate requests during a slow ascent must share a key")

	// Different subject, altitude band, or time bucket splits the key.
	assert.NotEqual(t, a, q.Key("K-1099", telemetry.Coordinate{Lat: 52.01, Lon: -2.01}, 4100, at))
	assert.NotEqual(t, a, q.Key("K-1042", telemetry.Coordinate{Lat: 52.01, Lon: -2.01}, 4600, at))
	assert.NotEqual(t, a, q.Key("K-1042", telemetry.Coordinate{Lat: 52.01, Lon: -2.01}, 4100, at.Add(time.Hour)))
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	c := NewCache(300*time.Second, 8, clock, nil)
	key := testQuantizer().Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, 4000, clock.Now())

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, Stats{Misses: 1}, c.CacheStats())

	c.Set(key, testResult(51.9))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 51.9, got.LandingPoint.Lat)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.CacheStats())
}

func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	c := NewCache(300*time.Second, 8, clock, nil)
	key := testQuantizer().Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, 4000, clock.Now())
	c.Set(key, testResult(51.9))

	// Just inside the TTL: still a hit.
	clock.Advance(299 * time.Second)
	_, ok := c.Get(key)
	assert.True(t, ok)

	// Past the TTL: never returned as a hit, evicted on the spot.
	clock.Advance(2 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)
	stats := c.CacheStats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, c.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	c := NewCache(time.Hour, 3, clock, nil)
	q := testQuantizer()

	keys := make([]Key, 4)
	for i := range keys {
		keys[i] = q.Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, float64(i)*1000, clock.Now())
	}

	c.Set(keys[0], testResult(0))
	c.Set(keys[1], testResult(1))
	c.Set(keys[2], testResult(2))

	// Touch key 0 so key 1 becomes the strict LRU victim.
	_, ok := c.Get(keys[0])
	require.True(t, ok)

	c.Set(keys[3], testResult(3))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(1), c.CacheStats().Evictions)

	_, ok = c.Get(keys[1])
	assert.False(t, ok, "strict LRU entry should have been evicted")
	_, ok = c.Get(keys[0])
	assert.True(t, ok)
}

func TestCacheSetSweepsExpired(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	c := NewCache(60*time.Second, 8, clock, nil)
	q := testQuantizer()

	old := q.Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, 1000, clock.Now())
	c.Set(old, testResult(0))

	clock.Advance(2 * time.Minute)
	fresh := q.Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, 2000, clock.Now())
	c.Set(fresh, testResult(1))

	assert.Equal(t, 1, c.Len(), "expired entry should be swept on Set")
	assert.Equal(t, int64(1), c.CacheStats().Expirations)
}

func TestCacheOverwriteBumpsVersion(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(cacheStart)
	c := NewCache(time.Hour, 8, clock, nil)
	key := testQuantizer().Key("K-1042", telemetry.Coordinate{Lat: 52, Lon: -2}, 4000, clock.Now())

	c.Set(key, testResult(1))
	c.Set(key, testResult(2))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.LandingPoint.Lat)
	assert.Equal(t, 1, c.Len())

	c.mu.Lock()
	entry := c.entries[key].Value.(*cacheEntry)
	c.mu.Unlock()
	assert.Equal(t, 1, entry.version)
	assert.Equal(t, 1, entry.accesses)
}
