package spatial

import (
	"testing"

	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/quadtree"
	"github.com/444lessio/snapindex/snaperrors"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	errs []*snaperrors.CoreError
}

func (s *recordingSink) HandleError(err *snaperrors.CoreError) {
	s.errs = append(s.errs, err)
}

func newTestIndex() *Index {
	return New(geometry.AABB{X: -100, Y: -100, Width: 200, Height: 200}, quadtree.Options{Capacity: 4}, nil, nil)
}

func endpoint(id string, x, y float64, priority int) *snapmodel.SnapPoint {
	return &snapmodel.SnapPoint{ID: id, Kind: snapmodel.Endpoint, Position: geometry.Point{X: x, Y: y}, Priority: priority}
}

func TestAddReplacesExistingID(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 0, 0, 1))
	idx.Add(endpoint("a", 10, 10, 1))

	require.Equal(t, 1, idx.Len())
	p, ok := idx.Get("a")
	require.True(t, ok)
	require.Equal(t, geometry.Point{X: 10, Y: 10}, p.Position)
}

func TestAddExpandsBoundsForOutsidePoint(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("far", 500, 500, 1))

	p, ok := idx.Get("far")
	require.True(t, ok)
	cand, ok := idx.FindNearest(geometry.Point{X: 500, Y: 500}, 1)
	require.True(t, ok)
	require.Equal(t, p.ID, cand.Point.ID)
}

func TestQueryRadiusOrdersByDistanceThenPriority(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("far", 10, 0, 1))
	idx.Add(endpoint("tieA", 5, 0, 2))
	idx.Add(endpoint("tieB", 0, 5, 1))

	results := idx.QueryRadius(geometry.Point{X: 0, Y: 0}, 20, Filters{})
	require.Len(t, results, 3)
	require.Equal(t, "tieB", results[0].Point.ID) // distance 5, priority 1 beats tieA's priority 2 at same distance
	require.Equal(t, "tieA", results[1].Point.ID)
	require.Equal(t, "far", results[2].Point.ID)
}

func TestQueryRadiusExcludesKindAndID(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("e", 0, 0, 1))
	mid := &snapmodel.SnapPoint{ID: "m", Kind: snapmodel.Midpoint, Position: geometry.Point{X: 0, Y: 0}, Priority: 3}
	idx.Add(mid)

	results := idx.QueryRadius(geometry.Point{X: 0, Y: 0}, 5, Filters{ExcludeKinds: []snapmodel.SnapKind{snapmodel.Endpoint}})
	require.Len(t, results, 1)
	require.Equal(t, "m", results[0].Point.ID)
}

func TestQueryRadiusRejectsInvalidInput(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 0, 0, 1))

	results := idx.QueryRadius(geometry.Point{X: 0, Y: 0}, -1, Filters{})
	require.Empty(t, results)
}

func TestLinearScanMatchesFindNearest(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 3, 4, 1))
	idx.Add(endpoint("b", 1, 0, 2))

	fast, fastOK := idx.FindNearest(geometry.Point{X: 0, Y: 0}, 100)
	slow, slowOK := idx.LinearScan(geometry.Point{X: 0, Y: 0}, 100, Filters{})

	require.Equal(t, slowOK, fastOK)
	require.Equal(t, slow.Point.ID, fast.Point.ID)
	require.InDelta(t, slow.Distance, fast.Distance, geometry.Epsilon)
}

func TestRemoveThenGetFails(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 0, 0, 1))
	require.True(t, idx.Remove("a"))
	_, ok := idx.Get("a")
	require.False(t, ok)
}

func TestReportDroppedPostsGeometryDegenerateWarning(t *testing.T) {
	sink := &recordingSink{}
	idx := New(geometry.AABB{X: -100, Y: -100, Width: 200, Height: 200}, quadtree.Options{Capacity: 4}, sink, nil)

	idx.reportDropped("updateBounds", 3)

	require.Len(t, sink.errs, 1)
	require.Equal(t, snaperrors.GeometryDegenerate, sink.errs[0].Category)
	require.Equal(t, snaperrors.Medium, sink.errs[0].Severity)
	require.Equal(t, 3, sink.errs[0].Context["dropped"])
}

func TestReportDroppedIsNoopWhenNothingDropped(t *testing.T) {
	sink := &recordingSink{}
	idx := New(geometry.AABB{X: -100, Y: -100, Width: 200, Height: 200}, quadtree.Options{Capacity: 4}, sink, nil)

	idx.reportDropped("expandToContain", 0)

	require.Empty(t, sink.errs)
}

func TestClearEmptiesUnderlyingTree(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 0, 0, 1))
	idx.Add(endpoint("b", 10, 10, 1))
	require.Equal(t, 2, idx.tree.Len())

	idx.Clear()
	require.Equal(t, 0, idx.Len())
	require.Equal(t, 0, idx.tree.Len(), "the QuadTree itself must be emptied, not just the id->point map")
}

func TestClearThenReAddLeavesNoDuplicateTreeEntries(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("a", 0, 0, 1))

	idx.Clear()
	idx.Add(endpoint("a", 0, 0, 1))

	require.Equal(t, 1, idx.tree.Len(), "re-adding the same id after Clear must not duplicate its tree entry")
	results := idx.QueryRadius(geometry.Point{X: 0, Y: 0}, 5, Filters{})
	require.Len(t, results, 1)
}

func TestBulkReplaceTwiceMatchesSingleBulkReplace(t *testing.T) {
	idx := newTestIndex()
	add := func() {
		idx.Clear()
		idx.Add(endpoint("a", 0, 0, 1))
		idx.Add(endpoint("b", 10, 10, 1))
	}

	add()
	firstTreeLen := idx.tree.Len()
	add()

	require.Equal(t, firstTreeLen, idx.tree.Len())
	require.Equal(t, 2, idx.tree.Len())
}

func TestQueryAABBSortsPriorityDescending(t *testing.T) {
	idx := newTestIndex()
	idx.Add(endpoint("low-prio-num", 0, 0, 1))
	idx.Add(endpoint("high-prio-num", 0, 0, 4))

	found := idx.QueryAABB(geometry.AABB{X: -10, Y: -10, Width: 20, Height: 20}, Filters{})
	require.Len(t, found, 2)
	require.Equal(t, "high-prio-num", found[0].ID)
}
