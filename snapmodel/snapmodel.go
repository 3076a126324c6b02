// Package snapmodel holds the data types shared by every snap-index
// component: the SnapPoint a collaborator offers, the variant data
// that distinguishes its kind, and the SnapResult a query returns.
package snapmodel

import (
	"math"

	"github.com/444lessio/snapindex/geometry"
)

// SnapKind is the kind of target a SnapPoint represents.
type SnapKind int

const (
	Endpoint SnapKind = iota
	Centerline
	Midpoint
	Intersection
)

func (k SnapKind) String() string {
	switch k {
	case Endpoint:
		return "endpoint"
	case Centerline:
		return "centerline"
	case Midpoint:
		return "midpoint"
	case Intersection:
		return "intersection"
	default:
		return "unknown"
	}
}

// DefaultPriority returns the out-of-the-box priority for a kind
// (lower numbers are preferred). Endpoint=1, Centerline=2,
// Midpoint=3, Intersection=4.
func DefaultPriority(k SnapKind) int {
	switch k {
	case Endpoint:
		return 1
	case Centerline:
		return 2
	case Midpoint:
		return 3
	case Intersection:
		return 4
	default:
		return 0
	}
}

// BaseFeedbackSize is the undilated visual marker size for a kind.
func BaseFeedbackSize(k SnapKind) float64 {
	switch k {
	case Endpoint:
		return 12
	case Centerline:
		return 10
	case Midpoint:
		return 8
	case Intersection:
		return 6
	default:
		return 0
	}
}

// OwnerRef is an opaque back-reference to the drafting element that
// produced a SnapPoint. The core never interprets kind or id.
type OwnerRef struct {
	Kind string
	ID   string
}

// EndpointData marks whether an endpoint is the start or end of its
// owning element.
type EndpointData struct {
	IsStart bool
	IsEnd   bool
}

// CenterlineData records which sample along a centerline this point is.
type CenterlineData struct {
	SampleIndex int
}

// MidpointData carries no extra fields; its presence is the signal.
type MidpointData struct{}

// IntersectionData names the two owning elements whose segments cross
// at this point.
type IntersectionData struct {
	Owners [2]OwnerRef
}

// SnapPoint is a single targetable position.
type SnapPoint struct {
	ID       string
	Kind     SnapKind
	Position geometry.Point
	Priority int
	Owner    OwnerRef

	Endpoint     *EndpointData
	Centerline   *CenterlineData
	Midpoint     *MidpointData
	Intersection *IntersectionData
}

// Feedback is the derived visual-hint payload for a query result.
type Feedback struct {
	Show    bool
	Kind    SnapKind
	Opacity float64
	Size    float64
}

// SnapResult is the outcome of a findClosest query.
type SnapResult struct {
	Hit      *SnapPoint
	Distance float64
	Snapped  bool
	Feedback Feedback
}

// Empty returns the canonical "no snap" result: no hit, infinite
// distance, nothing visible. Every failure path in the resolver
// degrades to this value rather than a partially populated struct.
func Empty() SnapResult {
	return SnapResult{
		Hit:      nil,
		Distance: math.Inf(1),
		Snapped:  false,
		Feedback: Feedback{Show: false},
	}
}
