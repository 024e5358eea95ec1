package model

import "time"

// FrameState is the lifecycle state of the local coordinate frame.
type FrameState int

const (
	FrameUnset FrameState = iota
	FrameAccurate
	FrameDegraded
)

func (s FrameState) String() string {
	switch s {
	case FrameAccurate:
		return "accurate"
	case FrameDegraded:
		return "degraded"
	default:
		return "unset"
	}
}

// Projection selects how GPS targets are projected onto the tangent plane.
type Projection int

const (
	// ProjectionGreatCircle uses haversine distance and initial bearing on a sphere.
	ProjectionGreatCircle Projection = iota
	// ProjectionECEF rotates the earth-fixed difference vector into the origin's ENU plane.
	ProjectionECEF
)

func (p Projection) String() string {
	if p == ProjectionECEF {
		return "ecef"
	}
	return "great-circle"
}

// ParseProjection maps a config string to a Projection, defaulting to great-circle.
func ParseProjection(s string) Projection {
	if s == "ecef" {
		return ProjectionECEF
	}
	return ProjectionGreatCircle
}

// CoordinateFrame is a read-only snapshot of the local metric frame.
//
// Only the origin lifecycle machine produces new frames; everything else
// receives copies.
type CoordinateFrame struct {
	State FrameState

	Origin    GeoPoint
	HasOrigin bool

	// ReducedAccuracy marks an origin adopted from an inaccurate fix in degraded mode.
	ReducedAccuracy bool

	// GroundLevel is the fixed vertical used for converted positions.
	GroundLevel    float64
	HasGroundLevel bool

	Degraded   bool
	FixedAt    time.Time
	Projection Projection
}

// UsableForGPS reports whether GPS targets can be converted in this frame.
func (f CoordinateFrame) UsableForGPS() bool {
	return f.HasOrigin && f.State != FrameUnset
}
