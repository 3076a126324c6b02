package edgecase

import (
	"math"
	"testing"
	"time"

	"github.com/444lessio/snapindex/config"
	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/stretchr/testify/require"
)

func testHandler() *Handler {
	return New(config.Default().Tolerance, 50*time.Millisecond, nil)
}

func TestValidatePointRejectsNonFinite(t *testing.T) {
	h := testHandler()
	p := snapmodel.SnapPoint{ID: "a", Position: geometry.Point{X: math.NaN(), Y: 0}}

	_, res := h.ValidatePoint(p)
	require.NotEmpty(t, res.Errors)
}

func TestValidatePointClampsExtremeCoordinates(t *testing.T) {
	h := testHandler()
	p := snapmodel.SnapPoint{ID: "a", Position: geometry.Point{X: 2e6, Y: -2e6}}

	out, res := h.ValidatePoint(p)
	require.True(t, res.Corrected)
	require.Equal(t, h.Tolerance.CoordinateLimit, out.Position.X)
	require.Equal(t, -h.Tolerance.CoordinateLimit, out.Position.Y)
}

func TestValidatePointRoundsPrecisionDrift(t *testing.T) {
	h := testHandler()
	p := snapmodel.SnapPoint{ID: "a", Position: geometry.Point{X: 1.1234567891, Y: 0}}

	out, res := h.ValidatePoint(p)
	require.True(t, res.Corrected)
	require.Equal(t, geometry.Round(1.1234567891, h.Tolerance.PrecisionDigits), out.Position.X)
}

func TestMergeOverlapsKeepsHigherPrecedencePoint(t *testing.T) {
	h := testHandler()
	a := &snapmodel.SnapPoint{ID: "a", Position: geometry.Point{X: 0, Y: 0}, Priority: 1}
	b := &snapmodel.SnapPoint{ID: "b", Position: geometry.Point{X: 0.01, Y: 0}, Priority: 3}

	out, res := h.MergeOverlaps([]*snapmodel.SnapPoint{a, b})
	require.True(t, res.Corrected)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].ID)
}

func TestMergeOverlapsLeavesDistantPoints(t *testing.T) {
	h := testHandler()
	a := &snapmodel.SnapPoint{ID: "a", Position: geometry.Point{X: 0, Y: 0}, Priority: 1}
	b := &snapmodel.SnapPoint{ID: "b", Position: geometry.Point{X: 50, Y: 50}, Priority: 1}

	out, res := h.MergeOverlaps([]*snapmodel.SnapPoint{a, b})
	require.False(t, res.Corrected)
	require.Len(t, out, 2)
}

func TestDropZeroLengthSegmentsKeepsFirst(t *testing.T) {
	h := testHandler()
	samples := []*snapmodel.SnapPoint{
		{ID: "s0", Position: geometry.Point{X: 0, Y: 0}},
		{ID: "s1", Position: geometry.Point{X: 0.01, Y: 0}},
		{ID: "s2", Position: geometry.Point{X: 10, Y: 0}},
	}
	out, res := h.DropZeroLengthSegments(samples)
	require.True(t, res.Corrected)
	require.Len(t, out, 2)
	require.Equal(t, "s0", out[0].ID)
	require.Equal(t, "s2", out[1].ID)
}

func TestDetectSelfIntersectionsFlagsButDoesNotCorrect(t *testing.T) {
	h := testHandler()
	// A bowtie shape: crosses itself between the first and third segment.
	poly := []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 10}}

	res := h.DetectSelfIntersections(poly)
	require.NotEmpty(t, res.Warnings)
	require.False(t, res.Corrected)
}

func TestDetectDegenerateArcFlagsShortLength(t *testing.T) {
	h := testHandler()
	res := h.DetectDegenerateArc(0.01, 1.0)
	require.NotEmpty(t, res.Warnings)
}
