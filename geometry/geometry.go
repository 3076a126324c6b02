// Package geometry holds the 2D primitives the snap index is built on:
// points, axis-aligned bounding boxes, and the distance/intersection
// tests the QuadTree and resolver share.
package geometry

import "math"

// Epsilon is the tolerance below which two coordinates are treated as equal.
const Epsilon = 1e-9

// Point is a position in drafting units.
type Point struct {
	X float64
	Y float64
}

// Finite reports whether both components are finite (no NaN/Inf).
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// DistanceSquared avoids the sqrt when only ordering matters.
func DistanceSquared(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// AABB is an axis-aligned bounding box, stored as its minimum corner
// plus width/height rather than center/half-extent, since the quad
// tree splits around corners rather than centers.
type AABB struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// MaxX returns the box's exclusive upper-X edge.
func (a AABB) MaxX() float64 { return a.X + a.Width }

// MaxY returns the box's exclusive upper-Y edge.
func (a AABB) MaxY() float64 { return a.Y + a.Height }

// Center returns the box's midpoint.
func (a AABB) Center() Point {
	return Point{X: a.X + a.Width/2, Y: a.Y + a.Height/2}
}

// ContainsPoint reports whether p lies in the box under half-open
// containment: the lower edges are inclusive, the upper edges are
// exclusive, so adjacent partitions never double-count a point that
// sits exactly on a shared border.
func ContainsPoint(a AABB, p Point) bool {
	return p.X >= a.X && p.X < a.MaxX() &&
		p.Y >= a.Y && p.Y < a.MaxY()
}

// Intersects reports whether two boxes overlap, using the same
// half-open convention as ContainsPoint.
func Intersects(a, b AABB) bool {
	if a.MaxX() <= b.X || b.MaxX() <= a.X {
		return false
	}
	if a.MaxY() <= b.Y || b.MaxY() <= a.Y {
		return false
	}
	return true
}

// IntersectsCircle reports whether the box comes within r of center,
// by clamping center to the box and comparing the squared distance.
func IntersectsCircle(a AABB, center Point, r float64) bool {
	clampedX := clamp(center.X, a.X, a.MaxX())
	clampedY := clamp(center.Y, a.Y, a.MaxY())
	dx := center.X - clampedX
	dy := center.Y - clampedY
	return dx*dx+dy*dy <= r*r
}

// DistanceToPoint returns the shortest distance from p to the box,
// zero when p is inside it. Used to key the QuadTree's best-first
// nearest-neighbor traversal.
func DistanceToPoint(a AABB, p Point) float64 {
	clampedX := clamp(p.X, a.X, a.MaxX())
	clampedY := clamp(p.Y, a.Y, a.MaxY())
	dx := p.X - clampedX
	dy := p.Y - clampedY
	return math.Sqrt(dx*dx + dy*dy)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Orientation is the sign of the cross product (q-p) x (r-q): 0
// collinear, 1 clockwise, 2 counter-clockwise. Standard three-point
// orientation test used by SegmentIntersect.
func Orientation(p, q, r Point) int {
	val := (q.Y-p.Y)*(r.X-q.X) - (q.X-p.X)*(r.Y-q.Y)
	if val > -Epsilon && val < Epsilon {
		return 0
	}
	if val > 0 {
		return 1
	}
	return 2
}

func onSegment(p, q, r Point) bool {
	return q.X <= math.Max(p.X, r.X)+Epsilon && q.X >= math.Min(p.X, r.X)-Epsilon &&
		q.Y <= math.Max(p.Y, r.Y)+Epsilon && q.Y >= math.Min(p.Y, r.Y)-Epsilon
}

// SegmentIntersect returns the intersection point of segments p1p2
// and p3p4, or ok=false when they don't cross. Collinear overlaps are
// treated as non-intersecting, per spec: the core has no use for the
// shared-line case and callers should not rely on one being chosen.
func SegmentIntersect(p1, p2, p3, p4 Point) (Point, bool) {
	o1 := Orientation(p1, p2, p3)
	o2 := Orientation(p1, p2, p4)
	o3 := Orientation(p3, p4, p1)
	o4 := Orientation(p3, p4, p2)

	if o1 == 0 || o2 == 0 || o3 == 0 || o4 == 0 {
		// Any collinear triple makes this a degenerate/overlapping
		// case rather than a clean crossing.
		return Point{}, false
	}
	if o1 != o2 && o3 != o4 {
		return lineIntersection(p1, p2, p3, p4)
	}
	return Point{}, false
}

func lineIntersection(p1, p2, p3, p4 Point) (Point, bool) {
	d1x := p2.X - p1.X
	d1y := p2.Y - p1.Y
	d2x := p4.X - p3.X
	d2y := p4.Y - p3.Y

	denom := d1x*d2y - d1y*d2x
	if denom > -Epsilon && denom < Epsilon {
		return Point{}, false
	}

	t := ((p3.X-p1.X)*d2y - (p3.Y-p1.Y)*d2x) / denom
	if !onSegment(p1, Point{X: p1.X + t*d1x, Y: p1.Y + t*d1y}, p2) {
		return Point{}, false
	}
	return Point{X: p1.X + t*d1x, Y: p1.Y + t*d1y}, true
}

// Round rounds v to the given number of decimal digits.
func Round(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}
