// Package snapcache implements the advisory result cache in front of
// the spatial index (spec.md §4.4): LRU + TTL + spatial-region
// invalidation, with its hit-count bookkeeping layered over a
// hashicorp/golang-lru Cache rather than a hand-rolled linked list.
//
// The cache is advisory: a miss must never change correctness, only
// performance, and a hit must be indistinguishable from a fresh
// computation given the inputs that formed the key.
package snapcache

import (
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/snapmodel"
)

// regionCellSize is the side length, in drafting units, of the grid
// cells used to bucket cache entries for spatial invalidation.
const regionCellSize = 100.0

// Cell identifies one invalidation grid cell.
type Cell struct {
	CX int64
	CY int64
}

func cellOf(v float64) int64 {
	return int64(math.Floor(v / regionCellSize))
}

func cellsForAABB(a geometry.AABB) []Cell {
	minCX, maxCX := cellOf(a.X), cellOf(a.MaxX())
	minCY, maxCY := cellOf(a.Y), cellOf(a.MaxY())
	cells := make([]Cell, 0, (maxCX-minCX+1)*(maxCY-minCY+1))
	for cx := minCX; cx <= maxCX; cx++ {
		for cy := minCY; cy <= maxCY; cy++ {
			cells = append(cells, Cell{CX: cx, CY: cy})
		}
	}
	return cells
}

// Key is the cache key: a quantized query neighbourhood plus the
// filters that shaped the result. A struct key derives its own hash
// rather than the stringified-tuple approach the source used (spec.md
// §9); quantizing before hashing is what makes repeated queries along
// a cursor path collapse onto the same entry.
type Key struct {
	QX           int64
	QY           int64
	QR           int64
	ExcludeMask  uint8 // bit i set => snapmodel.SnapKind(i) excluded
	HasOverride  bool
	OverrideKind snapmodel.SnapKind
}

// quantScale is 2 decimal places, per spec.md §4.4.
const quantScale = 100.0

func quantize(v float64) int64 {
	return int64(math.Round(v * quantScale))
}

// NewKey builds a cache key from a query's inputs.
func NewKey(center geometry.Point, radius float64, excludeKinds []snapmodel.SnapKind, override snapmodel.SnapKind, hasOverride bool) Key {
	var mask uint8
	for _, k := range excludeKinds {
		mask |= 1 << uint(k)
	}
	return Key{
		QX:          quantize(center.X),
		QY:          quantize(center.Y),
		QR:          quantize(radius),
		ExcludeMask: mask,
		HasOverride: hasOverride,
		OverrideKind: func() snapmodel.SnapKind {
			if hasOverride {
				return override
			}
			return 0
		}(),
	}
}

// Entry is a stored cache record.
type Entry struct {
	Result         snapmodel.SnapResult
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	SizeBytes      int
	Regions        []Cell
}

// Stats is the cache's running statistics surface (spec.md §4.4).
type Stats struct {
	TotalRequests      int64
	Hits               int64
	Misses             int64
	EvictionCount      int64
	MemoryUsageBytes   int64
	CompressionSavings int64
	accessTimesNs      []int64 // ring buffer, last N samples
}

// HitRate is derived, not stored.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// AverageAccessTimeNs is the running mean over the retained samples.
func (s Stats) AverageAccessTimeNs() float64 {
	if len(s.accessTimesNs) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.accessTimesNs {
		sum += v
	}
	return float64(sum) / float64(len(s.accessTimesNs))
}

const accessTimeWindow = 256

// Options configures a Cache.
type Options struct {
	MaxEntries               int
	MaxMemoryBytes            int64
	TTL                       time.Duration
	CompressionThresholdBytes int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 2000
	}
	if o.MaxMemoryBytes <= 0 {
		o.MaxMemoryBytes = 50 * 1024 * 1024
	}
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.CompressionThresholdBytes <= 0 {
		o.CompressionThresholdBytes = 1024
	}
	return o
}

// Cache is the SnapCache described in spec.md §4.4.
type Cache struct {
	opts Options
	lru  *lru.Cache[Key, *Entry]

	// regionToKeys is the reverse spatial index: grid cell -> cache
	// keys tagged under it. Kept alongside the LRU cache so
	// invalidateNearPoint only visits the affected cells rather than
	// scanning every entry.
	regionToKeys map[Cell]map[Key]struct{}

	stats Stats
}

// New builds a Cache. Eviction beyond MaxEntries is handled by the
// underlying LRU container; New wires an eviction callback so the
// region reverse-index and stats stay consistent no matter which path
// (LRU, memory-budget, TTL, invalidation) removed an entry.
func New(opts Options) *Cache {
	opts = opts.withDefaults()
	c := &Cache{opts: opts, regionToKeys: make(map[Cell]map[Key]struct{})}
	backing, err := lru.NewWithEvict[Key, *Entry](opts.MaxEntries, c.onEvicted)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// withDefaults already rules out.
		panic(err)
	}
	c.lru = backing
	return c
}

func (c *Cache) onEvicted(key Key, entry *Entry) {
	c.unindexRegions(key, entry)
	c.stats.MemoryUsageBytes -= int64(entry.SizeBytes)
	c.stats.EvictionCount++
}

func (c *Cache) indexRegions(key Key, entry *Entry) {
	for _, cell := range entry.Regions {
		set, ok := c.regionToKeys[cell]
		if !ok {
			set = make(map[Key]struct{}, 1)
			c.regionToKeys[cell] = set
		}
		set[key] = struct{}{}
	}
}

func (c *Cache) unindexRegions(key Key, entry *Entry) {
	for _, cell := range entry.Regions {
		set, ok := c.regionToKeys[cell]
		if !ok {
			continue
		}
		delete(set, key)
		if len(set) == 0 {
			delete(c.regionToKeys, cell)
		}
	}
}

// Lookup returns the cached result for key, or ok=false on a miss
// (including an expired entry, which is deleted as part of the
// lookup). elapsed is recorded into the running access-time average
// regardless of hit/miss, mirroring the spec's "averageAccessTime"
// stat covering cache activity broadly.
func (c *Cache) Lookup(key Key) (snapmodel.SnapResult, bool) {
	start := time.Now()
	c.stats.TotalRequests++
	defer func() {
		c.recordAccessTime(time.Since(start))
	}()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return snapmodel.SnapResult{}, false
	}
	if time.Since(entry.CreatedAt) > c.opts.TTL {
		c.lru.Remove(key)
		c.stats.Misses++
		return snapmodel.SnapResult{}, false
	}
	entry.LastAccessedAt = time.Now()
	entry.AccessCount++
	c.stats.Hits++
	return entry.Result, true
}

func (c *Cache) recordAccessTime(d time.Duration) {
	c.stats.accessTimesNs = append(c.stats.accessTimesNs, d.Nanoseconds())
	if len(c.stats.accessTimesNs) > accessTimeWindow {
		c.stats.accessTimesNs = c.stats.accessTimesNs[1:]
	}
}

// Put stores result under key, tagging it with the grid cells it
// covers (the query neighbourhood, plus the hit's own position when
// present) so invalidateNearPoint can find it later. queryCenter/
// queryRadius describe the neighbourhood that produced the result.
func (c *Cache) Put(key Key, result snapmodel.SnapResult, queryCenter geometry.Point, queryRadius float64) {
	now := time.Now()
	stored := result
	sizeBytes := estimateSize(result)

	if sizeBytes > c.opts.CompressionThresholdBytes && stored.Hit != nil {
		before := sizeBytes
		compressedHit := *stored.Hit
		compressedHit.Position = geometry.Point{
			X: geometry.Round(compressedHit.Position.X, 2),
			Y: geometry.Round(compressedHit.Position.Y, 2),
		}
		stored.Hit = &compressedHit
		stored.Distance = geometry.Round(stored.Distance, 2)
		sizeBytes = estimateSize(stored)
		c.stats.CompressionSavings += int64(before - sizeBytes)
	}

	regionAABB := geometry.AABB{
		X: queryCenter.X - queryRadius, Y: queryCenter.Y - queryRadius,
		Width: 2 * queryRadius, Height: 2 * queryRadius,
	}
	regions := cellsForAABB(regionAABB)
	if stored.Hit != nil {
		hitCell := Cell{CX: cellOf(stored.Hit.Position.X), CY: cellOf(stored.Hit.Position.Y)}
		regions = appendUniqueCell(regions, hitCell)
	}

	entry := &Entry{
		Result:         stored,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
		SizeBytes:      sizeBytes,
		Regions:        regions,
	}

	if old, ok := c.lru.Peek(key); ok {
		c.unindexRegions(key, old)
		c.stats.MemoryUsageBytes -= int64(old.SizeBytes)
	}
	c.lru.Add(key, entry)
	c.indexRegions(key, entry)
	c.stats.MemoryUsageBytes += int64(sizeBytes)

	c.evictForMemoryBudget()
}

func appendUniqueCell(cells []Cell, c Cell) []Cell {
	for _, existing := range cells {
		if existing == c {
			return cells
		}
	}
	return append(cells, c)
}

// estimateSize is a rough footprint estimate: fixed struct overhead
// plus the variable-length id string, good enough to drive the
// compression and memory-budget heuristics without reflecting on the
// real struct layout.
func estimateSize(r snapmodel.SnapResult) int {
	const base = 64
	if r.Hit == nil {
		return base
	}
	return base + len(r.Hit.ID) + len(r.Hit.Owner.ID) + len(r.Hit.Owner.Kind)
}

// evictForMemoryBudget ranks entries by accessCount/sizeBytes
// ascending (least-useful-first) and removes the worst until total
// memory usage is back under MaxMemoryBytes. This runs independently
// of the LRU container's own count-based eviction.
func (c *Cache) evictForMemoryBudget() {
	if c.stats.MemoryUsageBytes <= c.opts.MaxMemoryBytes {
		return
	}
	type scored struct {
		key   Key
		ratio float64
	}
	keys := c.lru.Keys()
	candidates := make([]scored, 0, len(keys))
	for _, k := range keys {
		entry, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		ratio := float64(entry.AccessCount) / float64(maxInt(entry.SizeBytes, 1))
		candidates = append(candidates, scored{key: k, ratio: ratio})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ratio < candidates[j].ratio })

	for _, cand := range candidates {
		if c.stats.MemoryUsageBytes <= c.opts.MaxMemoryBytes {
			return
		}
		c.lru.Remove(cand.key) // triggers onEvicted, which updates MemoryUsageBytes/EvictionCount
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// InvalidateNearPoint removes every cache entry whose tagged regions
// overlap the AABB around p with radius r (spec.md §4.4).
func (c *Cache) InvalidateNearPoint(p geometry.Point, r float64) {
	aabb := geometry.AABB{X: p.X - r, Y: p.Y - r, Width: 2 * r, Height: 2 * r}
	seen := make(map[Key]struct{})
	for _, cell := range cellsForAABB(aabb) {
		for key := range c.regionToKeys[cell] {
			seen[key] = struct{}{}
		}
	}
	for key := range seen {
		c.lru.Remove(key)
	}
}

// InvalidateByKind removes every entry whose cached hit's kind is in
// kinds. Limited to hit kind per spec.md §9's explicit open-question
// resolution (owner kind is out of scope for this invalidation path).
func (c *Cache) InvalidateByKind(kinds []snapmodel.SnapKind) {
	match := make(map[snapmodel.SnapKind]bool, len(kinds))
	for _, k := range kinds {
		match[k] = true
	}
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok || entry.Result.Hit == nil {
			continue
		}
		if match[entry.Result.Hit.Kind] {
			c.lru.Remove(key)
		}
	}
}

// Clear flushes every entry. Idempotent: calling it again on an
// already-empty cache is a no-op.
func (c *Cache) Clear() {
	c.lru.Purge()
	c.regionToKeys = make(map[Cell]map[Key]struct{})
	c.stats.MemoryUsageBytes = 0
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns a snapshot of the cache's running statistics.
func (c *Cache) Stats() Stats {
	return c.stats
}

// Sweep deletes every entry older than TTL. It is meant to be driven
// by a periodic tick in the host scheduler (spec.md §9's
// "asynchronous collaborator...maps to a timer/tick"), not by a
// goroutine owned by the cache itself, since the core is a
// single-threaded cooperative actor (spec.md §5).
func (c *Cache) Sweep() (removed int) {
	now := time.Now()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.CreatedAt) > c.opts.TTL {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}
