// Package config holds the resolver's tunable parameters (spec.md §3,
// §6) and their defaults, following the teacher's pattern of small,
// explicit structs rather than a generic options bag.
package config

import "github.com/444lessio/snapindex/snapmodel"

// CacheConfig tunes the SnapCache.
type CacheConfig struct {
	MaxEntries                int
	MaxMemoryMB               int
	TTLMs                     int
	CleanupIntervalMs         int
	CompressionThresholdBytes int
}

// QuadTreeConfig tunes the spatial index's underlying tree.
type QuadTreeConfig struct {
	Capacity    int
	MaxDepth    int
	MinNodeSize float64
}

// ToleranceConfig tunes the EdgeCaseHandler.
type ToleranceConfig struct {
	PointDistance   float64
	AngleThreshold  float64
	CoordinateLimit float64
	PrecisionDigits int
}

// Modifiers mirrors the three modifier keys the resolver reacts to.
type Modifiers struct {
	Ctrl  bool
	Alt   bool
	Shift bool
}

// PriorityOverride narrows queries to a single kind, or None for no
// restriction.
type PriorityOverride struct {
	Set  bool
	Kind snapmodel.SnapKind
}

// None is the zero-value override: no restriction.
var None = PriorityOverride{}

// Override builds a PriorityOverride pinned to kind.
func Override(kind snapmodel.SnapKind) PriorityOverride {
	return PriorityOverride{Set: true, Kind: kind}
}

// Config is the full set of resolver parameters.
type Config struct {
	Enabled           bool
	SnapThreshold     float64
	MagneticThreshold float64
	ShowFeedback      bool
	PriorityOverride  PriorityOverride
	Modifiers         Modifiers
	Cache             CacheConfig
	QuadTree          QuadTreeConfig
	Tolerance         ToleranceConfig
}

// Default returns the spec's documented defaults (spec.md §4.2, §4.5, §6).
func Default() Config {
	return Config{
		Enabled:           true,
		SnapThreshold:     15,
		MagneticThreshold: 25,
		ShowFeedback:      true,
		PriorityOverride:  None,
		Modifiers:         Modifiers{},
		Cache: CacheConfig{
			MaxEntries:                2000,
			MaxMemoryMB:               50,
			TTLMs:                     10000,
			CleanupIntervalMs:         30000,
			CompressionThresholdBytes: 1024,
		},
		QuadTree: QuadTreeConfig{
			Capacity:    10,
			MaxDepth:    8,
			MinNodeSize: 1.0,
		},
		Tolerance: ToleranceConfig{
			PointDistance:   0.1,
			AngleThreshold:  0.01,
			CoordinateLimit: 1e6,
			PrecisionDigits: 6,
		},
	}
}

// Partial is a sparse set of overrides for setConfig(partial). Pointer
// fields mean "leave the current value alone" when nil, the same
// pattern as a JSON PATCH body.
type Partial struct {
	Enabled           *bool
	SnapThreshold     *float64
	MagneticThreshold *float64
	ShowFeedback      *bool
	PriorityOverride  *PriorityOverride
	Modifiers         *Modifiers
	Cache             *CacheConfig
	QuadTree          *QuadTreeConfig
	Tolerance         *ToleranceConfig
}

// Merge applies a Partial on top of the current config and returns
// the result; the receiver is left unmodified.
func (c Config) Merge(p Partial) Config {
	out := c
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.SnapThreshold != nil {
		out.SnapThreshold = *p.SnapThreshold
	}
	if p.MagneticThreshold != nil {
		out.MagneticThreshold = *p.MagneticThreshold
	}
	if p.ShowFeedback != nil {
		out.ShowFeedback = *p.ShowFeedback
	}
	if p.PriorityOverride != nil {
		out.PriorityOverride = *p.PriorityOverride
	}
	if p.Modifiers != nil {
		out.Modifiers = *p.Modifiers
	}
	if p.Cache != nil {
		out.Cache = *p.Cache
	}
	if p.QuadTree != nil {
		out.QuadTree = *p.QuadTree
	}
	if p.Tolerance != nil {
		out.Tolerance = *p.Tolerance
	}
	if out.MagneticThreshold < out.SnapThreshold {
		out.MagneticThreshold = out.SnapThreshold
	}
	return out
}
