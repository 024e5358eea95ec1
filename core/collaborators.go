package core

import (
	"context"
	"time"

	"github.com/signalsfoundry/arhunt/model"
)

// SurfaceDetector estimates the ground or table height under a horizontal
// query point. Implementations must be synchronous and cheap.
type SurfaceDetector interface {
	Query(x, z, viewerHeight float64) (float64, bool)
}

// Renderer draws and removes placed objects. The core never inspects what it draws.
type Renderer interface {
	Place(id string, pos model.LocalPosition, spec model.VisualSpec) model.Handle
	Remove(h model.Handle)
}

// CandidateSource yields placement candidates and accepts write-backs for
// committed local coordinates, GPS corrections and collection state.
type CandidateSource interface {
	List(ctx context.Context) ([]model.PlacementCandidate, error)
	SaveLocalPosition(ctx context.Context, id string, stored model.StoredLocal) error
	SaveCorrectedGPS(ctx context.Context, id string, corrected model.GeoPoint) error
	SetCollected(ctx context.Context, id string, collected bool) error
}

// DiscoveryEffect plays the discovery animation/sound for an object. The
// returned channel is closed when the effect has finished.
type DiscoveryEffect interface {
	Play(id string) <-chan struct{}
}

// PoseProvider supplies the viewpoint and the latest GPS fix.
type PoseProvider interface {
	Pose(now time.Time) model.ViewerPose
}
