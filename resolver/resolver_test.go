package resolver

import (
	"math"
	"testing"

	"github.com/444lessio/snapindex/config"
	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/444lessio/snapindex/spatial"
	"github.com/stretchr/testify/require"
)

func newResolver() *Resolver {
	return New(config.Default(), nil, nil, nil)
}

func endpointAt(id string, x, y float64, prio int) snapmodel.SnapPoint {
	return snapmodel.SnapPoint{ID: id, Kind: snapmodel.Endpoint, Position: geometry.Point{X: x, Y: y}, Priority: prio}
}

func midpointAt(id string, x, y float64, prio int) snapmodel.SnapPoint {
	return snapmodel.SnapPoint{ID: id, Kind: snapmodel.Midpoint, Position: geometry.Point{X: x, Y: y}, Priority: prio}
}

// S1 — basic snap.
func TestScenarioBasicSnap(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 100, 100, 1))

	result := r.FindClosest(geometry.Point{X: 105, Y: 98}, nil)

	require.True(t, result.Snapped)
	require.Equal(t, "a", result.Hit.ID)
	require.InDelta(t, math.Sqrt(29), result.Distance, 1e-6)
	require.True(t, result.Feedback.Show)
	require.Equal(t, snapmodel.Endpoint, result.Feedback.Kind)
	require.InDelta(t, 0.7846, result.Feedback.Opacity, 1e-3)
}

// S2 — threshold boundary.
func TestScenarioThresholdBoundary(t *testing.T) {
	r := newResolver()
	partial := config.Partial{SnapThreshold: floatPtr(10)}
	r.SetConfig(partial)
	r.AddSnapPoint(endpointAt("b", 0, 0, 1))

	atThreshold := r.FindClosest(geometry.Point{X: 10, Y: 0}, nil)
	require.True(t, atThreshold.Snapped)
	require.InDelta(t, 10, atThreshold.Distance, 1e-9)

	r.cache.Clear()
	beyond := r.FindClosest(geometry.Point{X: 10.0001, Y: 0}, nil)
	require.False(t, beyond.Snapped)
	require.True(t, beyond.Feedback.Show)
}

// S3 — priority tie at the same position: lower priority number wins.
func TestScenarioPriorityTie(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("e", 0, 0, 1))
	r.AddSnapPoint(midpointAt("m", 0, 0, 3))

	result := r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)
	require.True(t, result.Snapped)
	require.Equal(t, "e", result.Hit.ID)
}

// S4 — exclusion filters out the higher-priority kind.
func TestScenarioExclusion(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("e", 0, 0, 1))
	r.AddSnapPoint(midpointAt("m", 0, 0, 3))

	result := r.FindClosest(geometry.Point{X: 0, Y: 0}, []snapmodel.SnapKind{snapmodel.Endpoint})
	require.True(t, result.Snapped)
	require.Equal(t, "m", result.Hit.ID)
}

// S5 — cache invalidation near a mutation.
func TestScenarioCacheInvalidationNearMutation(t *testing.T) {
	r := newResolver()

	miss := r.FindClosest(geometry.Point{X: 50, Y: 50}, nil)
	require.False(t, miss.Snapped)
	require.Nil(t, miss.Hit)

	r.AddSnapPoint(endpointAt("p", 51, 51, 1))

	hit := r.FindClosest(geometry.Point{X: 50, Y: 50}, nil)
	require.True(t, hit.Snapped)
	require.Equal(t, "p", hit.Hit.ID)
}

// S6 — modifier gate.
func TestScenarioModifierGate(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 0, 0, 1))

	ctrlOn := true
	r.UpdateModifierKeys(&ctrlOn, nil, nil)
	gated := r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)
	require.False(t, gated.Snapped)
	require.Nil(t, gated.Hit)

	ctrlOff := false
	r.UpdateModifierKeys(&ctrlOff, nil, nil)
	normal := r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)
	require.True(t, normal.Snapped)
}

// Property 3 — cache advisory: a warm cache must not change the answer.
func TestCacheAdvisoryEquivalence(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 10, 10, 1))
	r.AddSnapPoint(midpointAt("m", 20, 20, 3))
	cursor := geometry.Point{X: 12, Y: 9}

	warm := r.FindClosest(cursor, nil)

	r.cache.Clear()
	cold := r.FindClosest(cursor, nil)

	require.Equal(t, warm.Snapped, cold.Snapped)
	require.Equal(t, warm.Hit.ID, cold.Hit.ID)
	require.InDelta(t, warm.Distance, cold.Distance, 1e-9)
}

// Property 4 — invalidation soundness after removal.
func TestInvalidationSoundnessAfterRemove(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 10, 10, 1))
	first := r.FindClosest(geometry.Point{X: 10, Y: 10}, nil)
	require.True(t, first.Snapped)

	r.RemoveSnapPoint("a")
	second := r.FindClosest(geometry.Point{X: 10, Y: 10}, nil)
	require.False(t, second.Snapped)
}

// A snapped query records the hit's kind in the recent-kinds history
// that the tie-break rule consults.
func TestSnappedQueryRecordsKindInHistory(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(snapmodel.SnapPoint{ID: "e1", Kind: snapmodel.Endpoint, Position: geometry.Point{X: 0, Y: 0}, Priority: 1})
	r.AddSnapPoint(snapmodel.SnapPoint{ID: "e2", Kind: snapmodel.Endpoint, Position: geometry.Point{X: 0, Y: 0}, Priority: 1})

	// Establish "endpoint" as the most-recently-used kind.
	r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)
	require.Equal(t, []snapmodel.SnapKind{snapmodel.Endpoint}, r.History())
}

// Round-trip: add then remove restores observable state.
func TestAddThenRemoveRoundTrips(t *testing.T) {
	r := newResolver()
	before := r.Statistics().SpatialPointCount

	r.AddSnapPoint(endpointAt("a", 5, 5, 1))
	r.RemoveSnapPoint("a")

	require.Equal(t, before, r.Statistics().SpatialPointCount)
}

// wholeWorld is wide enough to contain any point a test in this file
// adds, so QueryViewport over it returns everything the index holds.
var wholeWorld = geometry.AABB{X: -10000, Y: -10000, Width: 20000, Height: 20000}

func TestClearIsIdempotent(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 5, 5, 1))
	r.Clear()
	r.Clear()
	require.Equal(t, 0, r.Statistics().SpatialPointCount)

	// Re-adding the same id after Clear must not surface a duplicate:
	// a point-count assertion alone would stay correct even if the
	// underlying tree kept a stale leaf entry behind from before the
	// clear, so check the actual query surface too.
	r.AddSnapPoint(endpointAt("a", 5, 5, 1))
	found := r.QueryViewport(wholeWorld, spatial.Filters{})
	require.Len(t, found, 1)
	require.Equal(t, "a", found[0].ID)
}

func TestBulkReplaceIsIdempotent(t *testing.T) {
	r := newResolver()
	pts := []snapmodel.SnapPoint{endpointAt("a", 1, 1, 1), midpointAt("b", 2, 2, 3)}

	r.BulkReplace(pts)
	firstCount := r.Statistics().SpatialPointCount
	r.BulkReplace(pts)
	require.Equal(t, firstCount, r.Statistics().SpatialPointCount)

	// Guard against duplicate tree entries surviving the clear-then-
	// reinsert cycle BulkReplace performs internally: each id must
	// appear exactly once in the query results, not just match in count.
	found := r.QueryViewport(wholeWorld, spatial.Filters{})
	require.Len(t, found, len(pts))
	seen := make(map[string]int)
	for _, p := range found {
		seen[p.ID]++
	}
	require.Equal(t, 1, seen["a"])
	require.Equal(t, 1, seen["b"])
}

func TestDisabledResolverReturnsEmpty(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 0, 0, 1))
	disabled := false
	r.SetConfig(config.Partial{Enabled: &disabled})

	result := r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)
	require.False(t, result.Snapped)
	require.Nil(t, result.Hit)
}

func TestInvalidCursorRejected(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 0, 0, 1))

	result := r.FindClosest(geometry.Point{X: math.NaN(), Y: 0}, nil)
	require.False(t, result.Snapped)
	require.Nil(t, result.Hit)
}

func TestPriorityOverrideNarrowsToSingleKind(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("e", 0, 0, 1))
	r.AddSnapPoint(midpointAt("m", 0, 0, 3))

	r.SetPriorityOverride(config.Override(snapmodel.Midpoint))
	result := r.FindClosest(geometry.Point{X: 0, Y: 0}, nil)

	require.True(t, result.Snapped)
	require.Equal(t, "m", result.Hit.ID)
}

func TestLinearScanFallbackAgreesWithSpatialIndex(t *testing.T) {
	r := newResolver()
	r.AddSnapPoint(endpointAt("a", 100, 100, 1))
	r.AddSnapPoint(midpointAt("b", 200, 200, 3))
	cursor := geometry.Point{X: 105, Y: 98}

	indexed := r.FindClosest(cursor, nil)

	r.cache.Clear()
	r.ForceLinearScanFallback(true)
	scanned := r.FindClosest(cursor, nil)

	require.Equal(t, indexed.Hit.ID, scanned.Hit.ID)
	require.InDelta(t, indexed.Distance, scanned.Distance, 1e-9)
}

func floatPtr(v float64) *float64 { return &v }
