// Package spatial wraps the quadtree with the typed, snap-point-aware
// behavior spec.md §4.3 asks for: duplicate-id replace semantics,
// auto-expanding bounds, and filtered/sorted radius and AABB queries.
package spatial

import (
	"sort"

	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/quadtree"
	"github.com/444lessio/snapindex/snaperrors"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/sirupsen/logrus"
)

// ExpansionMargin is how far bounds grow past an offending axis when
// a point falls outside them.
const ExpansionMargin = 100

// Filters narrows a radius or AABB query.
type Filters struct {
	ExcludeKinds []snapmodel.SnapKind
	ExcludeIDs   []string
	MinPriority  int
	Limit        int
}

func (f Filters) excludesKind(k snapmodel.SnapKind) bool {
	for _, ex := range f.ExcludeKinds {
		if ex == k {
			return true
		}
	}
	return false
}

func (f Filters) excludesID(id string) bool {
	for _, ex := range f.ExcludeIDs {
		if ex == id {
			return true
		}
	}
	return false
}

// Index is the typed spatial store SnapResolver queries.
type Index struct {
	tree   *quadtree.QuadTree
	points map[string]*snapmodel.SnapPoint
	sink   snaperrors.Sink
	log    *logrus.Logger
}

// New builds an Index over an initial bounds/capacity configuration.
func New(bounds geometry.AABB, opts quadtree.Options, sink snaperrors.Sink, log *logrus.Logger) *Index {
	if sink == nil {
		sink = snaperrors.DiscardSink{}
	}
	return &Index{
		tree:   quadtree.New(bounds, opts),
		points: make(map[string]*snapmodel.SnapPoint),
		sink:   sink,
		log:    log,
	}
}

// Len returns the number of indexed points.
func (idx *Index) Len() int { return len(idx.points) }

// Add inserts or replaces p. An existing id is removed first, matching
// the spec's "add with existing id is remove-then-add" rule. Bounds
// auto-expand (and the tree rebuilds) when p falls outside them.
func (idx *Index) Add(p *snapmodel.SnapPoint) {
	if _, exists := idx.points[p.ID]; exists {
		idx.Remove(p.ID)
	}
	idx.points[p.ID] = p
	if idx.tree.Insert(p.ID, p.Position) {
		return
	}
	idx.expandToContain(p.Position)
	idx.tree.Insert(p.ID, p.Position)
}

func (idx *Index) expandToContain(pos geometry.Point) {
	b := idx.tree.Bounds()
	if pos.X < b.X {
		grow := b.X - pos.X + ExpansionMargin
		b.Width += grow
		b.X -= grow
	}
	if pos.X >= b.MaxX() {
		b.Width += pos.X - b.MaxX() + ExpansionMargin
	}
	if pos.Y < b.Y {
		grow := b.Y - pos.Y + ExpansionMargin
		b.Height += grow
		b.Y -= grow
	}
	if pos.Y >= b.MaxY() {
		b.Height += pos.Y - b.MaxY() + ExpansionMargin
	}
	dropped := idx.tree.UpdateBounds(b)
	idx.reportDropped("expandToContain", dropped)
	if idx.log != nil {
		idx.log.WithFields(logrus.Fields{"bounds": b}).Debug("spatial index bounds expanded")
	}
}

// reportDropped posts a GeometryDegenerate warning when a bounds
// rebuild silently dropped points, per spec.md's lossy-rebuild
// reporting (SPEC_FULL.md §3). expandToContain only ever grows bounds
// so it should never actually drop anything; the check still runs
// here because UpdateBounds is the one primitive that can drop points,
// and a future shrink-on-expand policy shouldn't lose this silently.
func (idx *Index) reportDropped(operation string, dropped int) {
	if dropped <= 0 {
		return
	}
	idx.sink.HandleError(snaperrors.New(
		snaperrors.GeometryDegenerate, snaperrors.Medium,
		"spatial", operation, "bounds rebuild dropped points outside the new extent",
	).WithContext("dropped", dropped))
}

// Remove deletes id, if present.
func (idx *Index) Remove(id string) bool {
	if _, ok := idx.points[id]; !ok {
		return false
	}
	delete(idx.points, id)
	return idx.tree.Remove(id)
}

// Clear drops every point. Unlike the old UpdateBounds-based
// implementation, this empties the QuadTree itself rather than
// rebuilding it from its own (unchanged) contents, which previously
// left every point re-inserted and untouched (tree-map coherence
// violation once points were re-added under the same ids).
func (idx *Index) Clear() {
	idx.points = make(map[string]*snapmodel.SnapPoint)
	idx.tree.Clear()
}

// Get returns the stored point for id, if any.
func (idx *Index) Get(id string) (*snapmodel.SnapPoint, bool) {
	p, ok := idx.points[id]
	return p, ok
}

// Candidate pairs a resolved SnapPoint with its distance from the
// query center.
type Candidate struct {
	Point    *snapmodel.SnapPoint
	Distance float64
}

// QueryRadius returns points within r of center, sorted by (distance
// asc, priority asc), truncated to filters.Limit. Non-finite centers
// or a negative radius are reported to the sink and yield an empty
// slice rather than a panic, per spec.md §4.3.
func (idx *Index) QueryRadius(center geometry.Point, r float64, filters Filters) []Candidate {
	if !center.Finite() || r < 0 {
		idx.sink.HandleError(snaperrors.New(
			snaperrors.ValidationError, snaperrors.Low,
			"spatial", "queryRadius", "non-finite center or negative radius",
		).WithContext("center", center).WithContext("radius", r))
		return nil
	}

	entries := idx.tree.RadiusQuery(center, r)
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		p, ok := idx.points[e.ID]
		if !ok {
			continue
		}
		if filters.excludesKind(p.Kind) || filters.excludesID(p.ID) || p.Priority < filters.MinPriority {
			continue
		}
		out = append(out, Candidate{Point: p, Distance: geometry.Distance(center, p.Position)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Point.Priority < out[j].Point.Priority
	})

	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out
}

// QueryAABB returns points inside aabb, sorted priority-desc (for
// rendering back-to-front: lower-priority/more-important kinds last).
func (idx *Index) QueryAABB(aabb geometry.AABB, filters Filters) []*snapmodel.SnapPoint {
	entries := idx.tree.RangeQuery(aabb)
	out := make([]*snapmodel.SnapPoint, 0, len(entries))
	for _, e := range entries {
		p, ok := idx.points[e.ID]
		if !ok {
			continue
		}
		if filters.excludesKind(p.Kind) || filters.excludesID(p.ID) || p.Priority < filters.MinPriority {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out
}

// FindNearest runs the tree's best-first nearest-neighbor search and
// resolves the winning entry back to its SnapPoint.
func (idx *Index) FindNearest(center geometry.Point, maxDist float64) (Candidate, bool) {
	e, ok := idx.tree.FindNearest(center, maxDist)
	if !ok {
		return Candidate{}, false
	}
	p, ok := idx.points[e.ID]
	if !ok {
		idx.sink.HandleError(snaperrors.New(
			snaperrors.InternalInvariantViolation, snaperrors.High,
			"spatial", "findNearest", "tree entry has no matching point record",
		).WithContext("id", e.ID))
		return Candidate{}, false
	}
	return Candidate{Point: p, Distance: geometry.Distance(center, p.Position)}, true
}

// LinearScan is the canonical reference implementation: an O(n) scan
// over the owned point map, used both as the resolver's query path
// while its ForceLinearScanFallback toggle is on and as the ground
// truth for cache/index correctness tests.
func (idx *Index) LinearScan(center geometry.Point, maxDist float64, filters Filters) (Candidate, bool) {
	best := Candidate{Distance: maxDist}
	found := false
	for _, p := range idx.points {
		if filters.excludesKind(p.Kind) || filters.excludesID(p.ID) || p.Priority < filters.MinPriority {
			continue
		}
		d := geometry.Distance(center, p.Position)
		if d > maxDist {
			continue
		}
		if !found || d < best.Distance || (d == best.Distance && p.Priority < best.Point.Priority) {
			best = Candidate{Point: p, Distance: d}
			found = true
		}
	}
	return best, found
}
