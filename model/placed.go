package model

import "time"

// DiscoveryState tracks a placed object through its lifecycle.
type DiscoveryState int

const (
	StatePlaced DiscoveryState = iota
	StateVisible
	StateDiscovered
	StateRemoved
)

func (s DiscoveryState) String() string {
	switch s {
	case StatePlaced:
		return "placed"
	case StateVisible:
		return "visible"
	case StateDiscovered:
		return "discovered"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Handle is an opaque token returned by the renderer for a placed visual.
type Handle uint64

// VisualSpec describes what the renderer should draw. The core never inspects
// rendered geometry.
type VisualSpec struct {
	Kind ObjectKind
	Name string
}

// PlacedObject is an object with a committed local position.
type PlacedObject struct {
	ID       string
	Kind     ObjectKind
	Position LocalPosition

	// GPS is the (possibly offset) point the position was converted from.
	GPS    GeoPoint
	HasGPS bool

	// Exempt objects came from stored coordinates and skip horizontal spacing.
	Exempt bool

	State    DiscoveryState
	PlacedAt time.Time
	Handle   Handle
}

// Active reports whether the object still occupies space in the scene.
func (o PlacedObject) Active() bool {
	return o.State != StateRemoved
}
