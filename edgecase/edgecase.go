// Package edgecase normalizes SnapPoint data at ingress and at query
// boundaries: overlap merging, coordinate clamping, precision
// rounding, and degenerate-structure detection (spec.md §4.5).
package edgecase

import (
	"strconv"
	"time"

	"github.com/444lessio/snapindex/config"
	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a handling pass: what changed and what the
// caller should know about, independent of whether the data was
// usable (spec.md §4.5: "every handling result carries
// {handled, corrected, fallbackUsed, warnings[], errors[]}").
type Result struct {
	Handled      bool
	Corrected    bool
	FallbackUsed bool
	Warnings     []string
	Errors       []string
}

func (r *Result) warn(msg string) { r.Warnings = append(r.Warnings, msg) }
func (r *Result) fail(msg string) { r.Errors = append(r.Errors, msg) }

// Handler applies the spec's detection/correction table. The pairwise
// scans (MergeOverlaps, DetectSelfIntersections) each carry a soft
// deadline drawn from MaxHandlingTime; on overrun they stop detecting
// further cases in that call and degrade to "accept as-is with
// warning" rather than blocking indefinitely. The other methods run
// without a deadline.
type Handler struct {
	Tolerance       config.ToleranceConfig
	MaxHandlingTime time.Duration
	Log             *logrus.Logger
}

// New builds a Handler. A zero MaxHandlingTime falls back to the
// spec's default handling budget of 50ms.
func New(tol config.ToleranceConfig, maxHandlingTime time.Duration, log *logrus.Logger) *Handler {
	if maxHandlingTime <= 0 {
		maxHandlingTime = 50 * time.Millisecond
	}
	return &Handler{Tolerance: tol, MaxHandlingTime: maxHandlingTime, Log: log}
}

// ValidatePoint runs the non-finite, extreme-coordinate, and
// precision-drift checks on a single incoming point and returns the
// corrected point (or the original, unmodified, on rejection).
func (h *Handler) ValidatePoint(p snapmodel.SnapPoint) (snapmodel.SnapPoint, Result) {
	res := Result{Handled: true}

	if !p.Position.Finite() {
		res.fail("non-finite coordinate rejected")
		return p, res
	}

	corrected := p.Position
	limit := h.Tolerance.CoordinateLimit
	if limit > 0 {
		if corrected.X > limit {
			corrected.X = limit
			res.Corrected = true
		} else if corrected.X < -limit {
			corrected.X = -limit
			res.Corrected = true
		}
		if corrected.Y > limit {
			corrected.Y = limit
			res.Corrected = true
		} else if corrected.Y < -limit {
			corrected.Y = -limit
			res.Corrected = true
		}
		if res.Corrected {
			res.warn("coordinate clamped to limit")
		}
	}

	digits := h.Tolerance.PrecisionDigits
	rx := geometry.Round(corrected.X, digits)
	ry := geometry.Round(corrected.Y, digits)
	if rx != corrected.X || ry != corrected.Y {
		corrected.X, corrected.Y = rx, ry
		res.Corrected = true
		res.warn("coordinate rounded to configured precision")
	}

	p.Position = corrected
	return p, res
}

// MergeOverlaps detects points closer than Tolerance.PointDistance and
// keeps the one with the lower (higher-precedence) priority number,
// reporting the dropped count. Runs under the handler's time budget;
// once exceeded it stops comparing further pairs and marks the result
// as a fallback (accept the remainder as-is).
func (h *Handler) MergeOverlaps(points []*snapmodel.SnapPoint) ([]*snapmodel.SnapPoint, Result) {
	res := Result{Handled: true}
	deadline := time.Now().Add(h.MaxHandlingTime)
	dropped := make(map[int]bool, 4)
	pairsChecked := 0

	for i := 0; i < len(points); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(points); j++ {
			if dropped[j] {
				continue
			}
			pairsChecked++
			if pairsChecked%256 == 0 && time.Now().After(deadline) {
				res.FallbackUsed = true
				res.warn("overlap merge time budget exceeded, remaining points accepted as-is")
				goto done
			}
			if geometry.Distance(points[i].Position, points[j].Position) < h.Tolerance.PointDistance {
				// Keep the lower-numbered (higher-precedence) priority.
				if points[j].Priority < points[i].Priority {
					dropped[i] = true
					break
				}
				dropped[j] = true
			}
		}
	}
done:

	if len(dropped) == 0 {
		return points, res
	}
	res.Corrected = true
	res.warn("merged overlapping points: " + strconv.Itoa(len(dropped)) + " dropped")
	out := make([]*snapmodel.SnapPoint, 0, len(points)-len(dropped))
	for i, p := range points {
		if !dropped[i] {
			out = append(out, p)
		}
	}
	return out, res
}

// DropZeroLengthSegments removes later samples in a centerline
// sequence that sit within Tolerance.PointDistance of their
// predecessor, keeping the earlier one.
func (h *Handler) DropZeroLengthSegments(samples []*snapmodel.SnapPoint) ([]*snapmodel.SnapPoint, Result) {
	res := Result{Handled: true}
	if len(samples) < 2 {
		return samples, res
	}
	out := make([]*snapmodel.SnapPoint, 0, len(samples))
	out = append(out, samples[0])
	for i := 1; i < len(samples); i++ {
		if geometry.Distance(samples[i].Position, out[len(out)-1].Position) < h.Tolerance.PointDistance {
			res.Corrected = true
			res.warn("dropped zero-length centerline sample")
			continue
		}
		out = append(out, samples[i])
	}
	return out, res
}

// DetectSelfIntersections flags (but does not correct) any
// non-adjacent segment pair in a polyline that crosses. Self-
// intersection is a GeometryDegenerate condition per spec.md §4.5:
// "not auto-corrected; flagged for user intervention".
func (h *Handler) DetectSelfIntersections(polyline []geometry.Point) Result {
	res := Result{Handled: true}
	if len(polyline) < 4 {
		return res
	}
	deadline := time.Now().Add(h.MaxHandlingTime)
	checked := 0
	for i := 0; i+1 < len(polyline); i++ {
		for j := i + 2; j+1 < len(polyline); j++ {
			checked++
			if checked%256 == 0 && time.Now().After(deadline) {
				res.FallbackUsed = true
				res.warn("self-intersection scan time budget exceeded")
				return res
			}
			if _, ok := geometry.SegmentIntersect(polyline[i], polyline[i+1], polyline[j], polyline[j+1]); ok {
				res.warn("self-intersecting polyline segment detected")
			}
		}
	}
	return res
}

// DetectDegenerateArc flags an arc whose length or included angle
// falls below tolerance, without correcting it (spec.md §4.5).
func (h *Handler) DetectDegenerateArc(length, angle float64) Result {
	res := Result{Handled: true}
	if length < h.Tolerance.PointDistance || angle < h.Tolerance.AngleThreshold {
		res.warn("degenerate arc flagged")
	}
	return res
}
