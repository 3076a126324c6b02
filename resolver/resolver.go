// Package resolver implements the SnapResolver: the orchestrator
// collaborators call directly. It composes the spatial index, the
// snap cache, and the edge-case handler to apply priority hierarchy,
// threshold policy, exclusion filters, and modifier-key overrides,
// producing the final snap decision (spec.md §4.6).
//
// The resolver's method set is a critical section (spec.md §5): it
// assumes one caller at a time and performs no internal locking.
package resolver

import (
	"math"
	"time"

	"github.com/444lessio/snapindex/config"
	"github.com/444lessio/snapindex/edgecase"
	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/metrics"
	"github.com/444lessio/snapindex/quadtree"
	"github.com/444lessio/snapindex/snapcache"
	"github.com/444lessio/snapindex/snaperrors"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/444lessio/snapindex/spatial"
	"github.com/sirupsen/logrus"
)

// historyDepth is the bounded history of recently chosen kinds used
// for tie-breaking and the "last used kind" signal (spec.md §4.6).
const historyDepth = 10

// radiusLimit bounds how many candidates a radius query returns.
const radiusLimit = 50

// worldMargin is the initial half-extent of the spatial index before
// any point forces an expansion.
const worldMargin = 1000.0

// Resolver is the SnapResolver described in spec.md §4.6.
type Resolver struct {
	spatial *spatial.Index
	cache   *snapcache.Cache
	edge    *edgecase.Handler
	cfg     config.Config
	sink    snaperrors.Sink
	log     *logrus.Logger
	metrics *metrics.Collector

	history []snapmodel.SnapKind

	// forceLinearScan makes FindClosest bypass the spatial index and
	// use the O(n) reference scan. It is set only through
	// ForceLinearScanFallback; no error path in the resolver sets it,
	// so an index fault does not switch queries to the scan by itself.
	forceLinearScan bool
}

// New builds a Resolver. A nil sink/log/metrics falls back to silent
// discards so the resolver is usable standalone in tests.
func New(cfg config.Config, sink snaperrors.Sink, log *logrus.Logger, mc *metrics.Collector) *Resolver {
	if sink == nil {
		sink = snaperrors.DiscardSink{}
	}
	bounds := geometry.AABB{X: -worldMargin, Y: -worldMargin, Width: 2 * worldMargin, Height: 2 * worldMargin}
	treeOpts := quadtree.Options{Capacity: cfg.QuadTree.Capacity, MaxDepth: cfg.QuadTree.MaxDepth, MinNodeSize: cfg.QuadTree.MinNodeSize}
	r := &Resolver{
		spatial: spatial.New(bounds, treeOpts, sink, log),
		cache: snapcache.New(snapcache.Options{
			MaxEntries:                cfg.Cache.MaxEntries,
			MaxMemoryBytes:            int64(cfg.Cache.MaxMemoryMB) * 1024 * 1024,
			TTL:                       time.Duration(cfg.Cache.TTLMs) * time.Millisecond,
			CompressionThresholdBytes: cfg.Cache.CompressionThresholdBytes,
		}),
		edge:    edgecase.New(cfg.Tolerance, 50*time.Millisecond, log),
		cfg:     cfg,
		sink:    sink,
		log:     log,
		metrics: mc,
	}
	return r
}

// AddSnapPoint validates p through the edge-case handler, adds it to
// the spatial index, and invalidates the cache around its position
// with radius magneticThreshold.
func (r *Resolver) AddSnapPoint(p snapmodel.SnapPoint) bool {
	start := time.Now()
	defer func() { r.recordMutation("addSnapPoint", start) }()

	if p.Priority == 0 {
		p.Priority = snapmodel.DefaultPriority(p.Kind)
	}
	corrected, result := r.edge.ValidatePoint(p)
	if len(result.Errors) > 0 {
		r.sink.HandleError(snaperrors.New(
			snaperrors.ValidationError, snaperrors.Low,
			"resolver", "addSnapPoint", "rejected invalid snap point",
		).WithContext("id", p.ID))
		return false
	}

	stored := corrected
	r.spatial.Add(&stored)
	r.cache.InvalidateNearPoint(stored.Position, r.cfg.MagneticThreshold)
	return true
}

// RemoveSnapPoint deletes id and invalidates the cache around its
// last known position.
func (r *Resolver) RemoveSnapPoint(id string) bool {
	start := time.Now()
	defer func() { r.recordMutation("removeSnapPoint", start) }()

	p, ok := r.spatial.Get(id)
	if !ok {
		return false
	}
	pos := p.Position
	removed := r.spatial.Remove(id)
	r.cache.InvalidateNearPoint(pos, r.cfg.MagneticThreshold)
	return removed
}

// Clear drops every snap point, flushes the cache, and resets history.
func (r *Resolver) Clear() {
	start := time.Now()
	defer func() { r.recordMutation("clear", start) }()

	r.spatial.Clear()
	r.cache.Clear()
	r.history = nil
}

// BulkReplace clears the index and re-adds points. Calling it twice
// with the same set is equivalent to calling it once.
func (r *Resolver) BulkReplace(points []snapmodel.SnapPoint) {
	r.Clear()
	for _, p := range points {
		r.AddSnapPoint(p)
	}
}

func (r *Resolver) recordMutation(op string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordMutation(op, time.Since(start))
	}
}

// FindClosest is the orchestration path described in spec.md §4.6:
// validate, gate on enabled/ctrl, check the cache, fall back to a
// spatial (or linear) query, rank candidates, cache the result, and
// update history.
func (r *Resolver) FindClosest(cursor geometry.Point, excludeKinds []snapmodel.SnapKind) snapmodel.SnapResult {
	start := time.Now()
	cacheHit := false
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordQuery(time.Since(start), cacheHit)
		}
	}()

	if !cursor.Finite() || math.Abs(cursor.X) > r.cfg.Tolerance.CoordinateLimit || math.Abs(cursor.Y) > r.cfg.Tolerance.CoordinateLimit {
		r.sink.HandleError(snaperrors.New(
			snaperrors.ValidationError, snaperrors.Low,
			"resolver", "findClosest", "cursor out of range",
		))
		return snapmodel.Empty()
	}

	if !r.cfg.Enabled || r.cfg.Modifiers.Ctrl {
		return snapmodel.Empty()
	}

	effectiveExclusions := r.effectiveExclusions(excludeKinds)
	radius := r.cfg.MagneticThreshold
	key := snapcache.NewKey(cursor, radius, effectiveExclusions, r.cfg.PriorityOverride.Kind, r.cfg.PriorityOverride.Set)

	if cached, ok := r.cache.Lookup(key); ok {
		cacheHit = true
		return cached
	}

	candidates := r.candidates(cursor, radius, spatial.Filters{ExcludeKinds: effectiveExclusions, Limit: radiusLimit})
	result := r.rank(candidates)

	r.cache.Put(key, result, cursor, radius)
	if result.Snapped {
		r.pushHistory(result.Hit.Kind)
	}
	return result
}

// FindMany runs FindClosest sequentially over cursors. Batched but
// not concurrent, matching the single-threaded cooperative model
// (spec.md §5).
func (r *Resolver) FindMany(cursors []geometry.Point, excludeKinds []snapmodel.SnapKind) []snapmodel.SnapResult {
	out := make([]snapmodel.SnapResult, len(cursors))
	for i, c := range cursors {
		out[i] = r.FindClosest(c, excludeKinds)
	}
	return out
}

func (r *Resolver) effectiveExclusions(caller []snapmodel.SnapKind) []snapmodel.SnapKind {
	if !r.cfg.PriorityOverride.Set {
		return caller
	}
	out := make([]snapmodel.SnapKind, 0, len(caller)+3)
	out = append(out, caller...)
	for _, k := range []snapmodel.SnapKind{snapmodel.Endpoint, snapmodel.Centerline, snapmodel.Midpoint, snapmodel.Intersection} {
		if k != r.cfg.PriorityOverride.Kind {
			out = append(out, k)
		}
	}
	return out
}

func (r *Resolver) candidates(cursor geometry.Point, radius float64, filters spatial.Filters) []spatial.Candidate {
	if r.forceLinearScan {
		best, ok := r.spatial.LinearScan(cursor, radius, filters)
		if !ok {
			return nil
		}
		return []spatial.Candidate{best}
	}
	return r.spatial.QueryRadius(cursor, radius, filters)
}

// rank picks the winning candidate and derives the result's feedback.
// The hit is the globally nearest candidate within the query radius
// (magneticThreshold); snapped is then a pure threshold check on its
// distance, which is what makes the snapThreshold/magneticThreshold
// boundary behavior in spec.md §8 fall out without special-casing.
func (r *Resolver) rank(candidates []spatial.Candidate) snapmodel.SnapResult {
	if len(candidates) == 0 {
		return snapmodel.Empty()
	}

	winner := r.pickBest(candidates)
	snapped := winner.Distance <= r.cfg.SnapThreshold

	result := snapmodel.SnapResult{
		Hit:      winner.Point,
		Distance: winner.Distance,
		Snapped:  snapped,
	}
	result.Feedback = r.feedback(winner)
	return result
}

// pickBest applies the priority/history tie-break rule (spec.md §8
// property 5): candidates arrive sorted (distance asc, priority asc);
// among those tied on both, prefer the most recently used kind in
// history.
func (r *Resolver) pickBest(candidates []spatial.Candidate) spatial.Candidate {
	best := candidates[0]
	tied := []spatial.Candidate{best}
	for _, c := range candidates[1:] {
		if math.Abs(c.Distance-best.Distance) > geometry.Epsilon || c.Point.Priority != best.Point.Priority {
			break
		}
		tied = append(tied, c)
	}
	if len(tied) == 1 {
		return best
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		for _, c := range tied {
			if c.Point.Kind == r.history[i] {
				return c
			}
		}
	}
	return tied[0]
}

func (r *Resolver) feedback(winner spatial.Candidate) snapmodel.Feedback {
	if !r.cfg.ShowFeedback || winner.Distance > r.cfg.MagneticThreshold {
		return snapmodel.Feedback{Show: false}
	}
	opacity := 1 - winner.Distance/r.cfg.MagneticThreshold
	if opacity < 0.3 {
		opacity = 0.3
	}
	size := snapmodel.BaseFeedbackSize(winner.Point.Kind) * (0.8 + opacity*0.4)
	return snapmodel.Feedback{Show: true, Kind: winner.Point.Kind, Opacity: opacity, Size: size}
}

func (r *Resolver) pushHistory(k snapmodel.SnapKind) {
	r.history = append(r.history, k)
	if len(r.history) > historyDepth {
		r.history = r.history[len(r.history)-historyDepth:]
	}
}

// History returns a copy of the bounded recent-kinds history.
func (r *Resolver) History() []snapmodel.SnapKind {
	out := make([]snapmodel.SnapKind, len(r.history))
	copy(out, r.history)
	return out
}

// UpdateModifierKeys applies a partial modifier update; ctrl gates
// FindClosest to empty results, alt/shift are reserved (no-op) per
// spec.md §4.6.
func (r *Resolver) UpdateModifierKeys(ctrl, alt, shift *bool) {
	if ctrl != nil {
		r.cfg.Modifiers.Ctrl = *ctrl
	}
	if alt != nil {
		r.cfg.Modifiers.Alt = *alt
	}
	if shift != nil {
		r.cfg.Modifiers.Shift = *shift
	}
}

// SetPriorityOverride narrows future queries to kind, or clears the
// override. It invalidates nothing, per spec.md §4.6.
func (r *Resolver) SetPriorityOverride(override config.PriorityOverride) {
	r.cfg.PriorityOverride = override
}

// SetConfig merges partial into the current config.
func (r *Resolver) SetConfig(partial config.Partial) {
	r.cfg = r.cfg.Merge(partial)
}

// GetConfig returns the current config.
func (r *Resolver) GetConfig() config.Config { return r.cfg }

// QueryViewport returns points in aabb for rendering, priority-desc.
func (r *Resolver) QueryViewport(aabb geometry.AABB, filters spatial.Filters) []*snapmodel.SnapPoint {
	return r.spatial.QueryAABB(aabb, filters)
}

// SetErrorSink replaces the error sink. A nil sink restores silence.
func (r *Resolver) SetErrorSink(sink snaperrors.Sink) {
	if sink == nil {
		sink = snaperrors.DiscardSink{}
	}
	r.sink = sink
}

// Statistics bundles the spatial, cache, and resolver-level counters
// exposed by statistics() (spec.md §4.4, §6).
type Statistics struct {
	SpatialPointCount int
	Cache             snapcache.Stats
	HistoryLength     int
	OperationLog      []metrics.OpRecord
}

// Statistics returns a snapshot of the resolver's running counters.
func (r *Resolver) Statistics() Statistics {
	var opLog []metrics.OpRecord
	if r.metrics != nil {
		opLog = r.metrics.OperationLog()
	}
	return Statistics{
		SpatialPointCount: r.spatial.Len(),
		Cache:             r.cache.Stats(),
		HistoryLength:     len(r.history),
		OperationLog:      opLog,
	}
}

// Sweep runs the cache's TTL expiry pass. It is meant to be driven by
// the host's own scheduler on a `Cache.CleanupIntervalMs` tick, not by
// an internal goroutine (spec.md §5, §7).
func (r *Resolver) Sweep() int {
	return r.cache.Sweep()
}

// ForceLinearScanFallback is a test/debug hook: when enabled,
// FindClosest bypasses the QuadTree entirely and uses the O(n)
// reference scan, the canonical implementation spec.md §4.6 and §8
// use to validate that the spatial index and cache agree with ground
// truth.
func (r *Resolver) ForceLinearScanFallback(enabled bool) {
	r.forceLinearScan = enabled
}
