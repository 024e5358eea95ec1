package model

import "time"

// ViewerPose is the viewpoint reported by the pose provider on each update.
type ViewerPose struct {
	Position LocalPosition
	// Forward and Up are unit vectors in the local frame.
	Forward LocalPosition
	Up      LocalPosition

	Fix    GeoPoint
	HasFix bool

	Time time.Time
}

// Height is the viewpoint's vertical coordinate.
func (p ViewerPose) Height() float64 {
	return p.Position.Y
}
