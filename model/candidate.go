package model

import "time"

// ObjectKind identifies the collectible type. It drives the default height
// used when no surface is detected.
type ObjectKind string

const (
	KindChest   ObjectKind = "chest"
	KindChalice ObjectKind = "chalice"
	KindSphere  ObjectKind = "sphere"
	KindCube    ObjectKind = "cube"
	KindRelic   ObjectKind = "relic"
)

// DefaultHeightOffset is the height relative to the viewpoint used when the
// surface detector finds nothing under the object.
func (k ObjectKind) DefaultHeightOffset() float64 {
	switch k {
	case KindChest, KindRelic:
		return -1.5 // on the ground
	case KindChalice:
		return -0.8 // table height
	case KindSphere:
		return -0.4 // floats near chest height
	default:
		return -1.0
	}
}

// StoredLocal is a local position committed in an earlier placement, together
// with the frame origin it was recorded against.
type StoredLocal struct {
	Position   LocalPosition
	Origin     GeoPoint
	HasOrigin  bool
	RecordedAt time.Time
}

// PlacementCandidate is a request to place an object that has not been committed yet.
type PlacementCandidate struct {
	ID   string
	Kind ObjectKind
	Name string

	Target    GeoPoint
	HasTarget bool

	// Stored is non-nil when a previous session persisted local coordinates.
	Stored *StoredLocal

	Collected bool
	// ManuallyPlaced candidates were positioned by the player and skip the
	// viewer-distance minimum.
	ManuallyPlaced bool
}

// HasStoredLocal reports whether local coordinates exist from a prior placement.
func (c PlacementCandidate) HasStoredLocal() bool {
	return c.Stored != nil
}

// GPSBased reports whether the candidate needs a GPS conversion to be placed.
func (c PlacementCandidate) GPSBased() bool {
	return c.HasTarget && c.Stored == nil
}
