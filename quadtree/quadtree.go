// Package quadtree implements a recursive AABB-subdivision spatial
// index over opaque point ids. It mirrors the teacher's split/query
// shape (GeoRunner's quadtree package) but stores points by stable id
// rather than by the point's own identity, which is what lets the
// SpatialIndex layer remove or move a point without a linear scan.
//
// The tree assumes a single-writer critical section: spec.md §5 makes
// the resolver own all mutation and query ordering, so no node here
// takes a lock of its own.
package quadtree

import (
	"container/heap"

	"github.com/444lessio/snapindex/geometry"
)

// Entry is a stored point: an opaque id plus its position.
type Entry struct {
	ID  string
	Pos geometry.Point
}

// Options configures a new QuadTree. Zero values fall back to the
// spec's documented defaults.
type Options struct {
	Capacity    int
	MaxDepth    int
	MinNodeSize float64
}

func (o Options) withDefaults() Options {
	if o.Capacity < 1 {
		o.Capacity = 10
	}
	if o.MaxDepth < 1 {
		o.MaxDepth = 8
	}
	if o.MinNodeSize <= 0 {
		o.MinNodeSize = 1.0
	}
	return o
}

// node is an internal QuadTree node: an AABB, its leaf entries (empty
// once subdivided), and up to four children. Every child slot is nil
// for a leaf; once present there are always exactly four of them.
type node struct {
	bounds   geometry.AABB
	depth    int
	entries  []Entry
	children [4]*node
}

func (n *node) isLeaf() bool { return n.children[0] == nil }

// QuadTree is the spatial index over a fixed set of entries.
type QuadTree struct {
	root      *node
	bounds    geometry.AABB
	opts      Options
	locations map[string]geometry.Point // id -> position, for Remove/Move without a tree walk
}

// New builds a QuadTree over bounds with the given options.
func New(bounds geometry.AABB, opts Options) *QuadTree {
	opts = opts.withDefaults()
	return &QuadTree{
		root:      &node{bounds: bounds},
		bounds:    bounds,
		opts:      opts,
		locations: make(map[string]geometry.Point),
	}
}

// Bounds returns the tree's current outer boundary.
func (qt *QuadTree) Bounds() geometry.AABB { return qt.bounds }

// Len returns the number of entries currently indexed.
func (qt *QuadTree) Len() int { return len(qt.locations) }

// Insert adds id at pos. Returns false if pos lies outside the tree's
// bounds; the caller (SpatialIndex) is expected to expand bounds and
// retry, per spec.md §4.2.
func (qt *QuadTree) Insert(id string, pos geometry.Point) bool {
	if !geometry.ContainsPoint(qt.bounds, pos) {
		return false
	}
	qt.root.insert(Entry{ID: id, Pos: pos}, qt.opts)
	qt.locations[id] = pos
	return true
}

func (n *node) insert(e Entry, opts Options) {
	if !n.isLeaf() {
		n.children[childIndex(n.bounds, e.Pos)].insert(e, opts)
		return
	}
	n.entries = append(n.entries, e)
	if len(n.entries) > opts.Capacity && n.canSplit(opts) {
		n.split(opts)
	}
}

func (n *node) canSplit(opts Options) bool {
	if n.depth >= opts.MaxDepth {
		return false
	}
	side := n.bounds.Width
	if n.bounds.Height < side {
		side = n.bounds.Height
	}
	return side >= 2*opts.MinNodeSize
}

// childIndex returns which of the four quadrants a point falls into,
// using the same half-open convention as geometry.ContainsPoint so
// the partition stays disjoint.
func childIndex(b geometry.AABB, p geometry.Point) int {
	midX := b.X + b.Width/2
	midY := b.Y + b.Height/2
	idx := 0
	if p.X >= midX {
		idx |= 1
	}
	if p.Y >= midY {
		idx |= 2
	}
	return idx
}

func childBounds(b geometry.AABB, idx int) geometry.AABB {
	halfW := b.Width / 2
	halfH := b.Height / 2
	out := geometry.AABB{Width: halfW, Height: halfH}
	if idx&1 != 0 {
		out.X = b.X + halfW
	} else {
		out.X = b.X
	}
	if idx&2 != 0 {
		out.Y = b.Y + halfH
	} else {
		out.Y = b.Y
	}
	return out
}

func (n *node) split(opts Options) {
	for i := range n.children {
		n.children[i] = &node{bounds: childBounds(n.bounds, i), depth: n.depth + 1}
	}
	old := n.entries
	n.entries = nil
	for _, e := range old {
		n.children[childIndex(n.bounds, e.Pos)].insert(e, opts)
	}
}

// Remove deletes id from the tree. It does not collapse now-empty
// branches; repeated churn at one location would otherwise force an
// O(n) parent walk on every remove, per spec.md §4.2.
func (qt *QuadTree) Remove(id string) bool {
	pos, ok := qt.locations[id]
	if !ok {
		return false
	}
	delete(qt.locations, id)
	return qt.root.remove(id, pos)
}

func (n *node) remove(id string, pos geometry.Point) bool {
	if !n.isLeaf() {
		return n.children[childIndex(n.bounds, pos)].remove(id, pos)
	}
	for i, e := range n.entries {
		if e.ID == id {
			last := len(n.entries) - 1
			n.entries[i] = n.entries[last]
			n.entries = n.entries[:last]
			return true
		}
	}
	return false
}

// RangeQuery returns every entry whose position lies in aabb.
func (qt *QuadTree) RangeQuery(aabb geometry.AABB) []Entry {
	var out []Entry
	qt.root.rangeQuery(aabb, &out)
	return out
}

func (n *node) rangeQuery(aabb geometry.AABB, out *[]Entry) {
	if !geometry.Intersects(n.bounds, aabb) {
		return
	}
	if n.isLeaf() {
		for _, e := range n.entries {
			if geometry.ContainsPoint(aabb, e.Pos) {
				*out = append(*out, e)
			}
		}
		return
	}
	for _, c := range n.children {
		c.rangeQuery(aabb, out)
	}
}

// RadiusQuery returns every entry within r of center.
func (qt *QuadTree) RadiusQuery(center geometry.Point, r float64) []Entry {
	var out []Entry
	qt.root.radiusQuery(center, r, &out)
	return out
}

func (n *node) radiusQuery(center geometry.Point, r float64, out *[]Entry) {
	if !geometry.IntersectsCircle(n.bounds, center, r) {
		return
	}
	if n.isLeaf() {
		r2 := r * r
		for _, e := range n.entries {
			if geometry.DistanceSquared(e.Pos, center) <= r2 {
				*out = append(*out, e)
			}
		}
		return
	}
	for _, c := range n.children {
		c.radiusQuery(center, r, out)
	}
}

// FindNearest runs a best-first traversal using a priority queue of
// nodes and candidate entries keyed by distance-to-point, terminating
// as soon as the closest item popped is an entry rather than a node
// (every remaining node's lower bound is no smaller, so nothing
// closer remains to be found).
func (qt *QuadTree) FindNearest(p geometry.Point, maxDist float64) (Entry, bool) {
	pq := &nodeHeap{{dist: geometry.DistanceToPoint(qt.root.bounds, p), n: qt.root}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		if item.dist > maxDist {
			return Entry{}, false
		}
		if item.n == nil {
			return item.entry, true
		}
		n := item.n
		if n.isLeaf() {
			for _, e := range n.entries {
				d := geometry.Distance(e.Pos, p)
				if d <= maxDist {
					heap.Push(pq, heapItem{dist: d, entry: e})
				}
			}
			continue
		}
		for _, c := range n.children {
			d := geometry.DistanceToPoint(c.bounds, p)
			if d <= maxDist {
				heap.Push(pq, heapItem{dist: d, n: c})
			}
		}
	}
	return Entry{}, false
}

type heapItem struct {
	dist  float64
	n     *node
	entry Entry
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool   { return h[i].dist < h[j].dist }
func (h nodeHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{})  { *h = append(*h, x.(heapItem)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Clear empties the tree: a fresh root under the current bounds and no
// entries. Unlike UpdateBounds, it does not reinsert anything — callers
// that want to re-populate it call Insert themselves.
func (qt *QuadTree) Clear() {
	qt.root = &node{bounds: qt.bounds}
	qt.locations = make(map[string]geometry.Point)
}

// Rebuild collects every entry and reconstructs the tree under the
// current bounds.
func (qt *QuadTree) Rebuild() {
	entries := make([]Entry, 0, len(qt.locations))
	for id, pos := range qt.locations {
		entries = append(entries, Entry{ID: id, Pos: pos})
	}
	qt.root = &node{bounds: qt.bounds}
	qt.locations = make(map[string]geometry.Point, len(entries))
	for _, e := range entries {
		qt.root.insert(e, qt.opts)
		qt.locations[e.ID] = e.Pos
	}
}

// UpdateBounds replaces the tree's outer boundary and rebuilds. Points
// that fall outside a shrunk boundary are silently dropped; the
// number dropped is returned so the caller can report a lossy-rebuild
// warning (spec.md §4.2).
func (qt *QuadTree) UpdateBounds(newBounds geometry.AABB) (dropped int) {
	entries := make([]Entry, 0, len(qt.locations))
	for id, pos := range qt.locations {
		entries = append(entries, Entry{ID: id, Pos: pos})
	}
	qt.bounds = newBounds
	qt.root = &node{bounds: newBounds}
	qt.locations = make(map[string]geometry.Point, len(entries))
	for _, e := range entries {
		if !qt.root.insert2(e, qt.opts) {
			dropped++
			continue
		}
		qt.locations[e.ID] = e.Pos
	}
	return dropped
}

// insert2 is insert with a boundary check at the root, used only by
// UpdateBounds where entries may now fall outside the (shrunk) tree.
func (n *node) insert2(e Entry, opts Options) bool {
	if !geometry.ContainsPoint(n.bounds, e.Pos) {
		return false
	}
	n.insert(e, opts)
	return true
}
