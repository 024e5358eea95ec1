package api

import (
	"time"

	"github.com/signalsfoundry/arhunt/model"
)

type positionJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p positionJSON) model() model.LocalPosition {
	return model.LocalPosition{X: p.X, Y: p.Y, Z: p.Z}
}

func toPositionJSON(p model.LocalPosition) positionJSON {
	return positionJSON{X: p.X, Y: p.Y, Z: p.Z}
}

type geoJSON struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy_m"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

func (g geoJSON) model() model.GeoPoint {
	p := model.NewGeoPoint(g.Latitude, g.Longitude, g.Accuracy)
	if g.Altitude != nil {
		p = p.WithAltitude(*g.Altitude)
	}
	return p
}

func toGeoJSON(g model.GeoPoint) *geoJSON {
	out := &geoJSON{Latitude: g.Latitude, Longitude: g.Longitude, Accuracy: g.HorizontalAccuracy}
	if g.HasAltitude {
		alt := g.Altitude
		out.Altitude = &alt
	}
	return out
}

type frameResponse struct {
	State           string     `json:"state"`
	Origin          *geoJSON   `json:"origin,omitempty"`
	ReducedAccuracy bool       `json:"reduced_accuracy"`
	GroundLevel     *float64   `json:"ground_level,omitempty"`
	Projection      string     `json:"projection"`
	FixedAt         *time.Time `json:"fixed_at,omitempty"`
	Candidates      int        `json:"candidates"`
}

func toFrameResponse(f model.CoordinateFrame, candidates int) frameResponse {
	out := frameResponse{
		State:           f.State.String(),
		ReducedAccuracy: f.ReducedAccuracy,
		Projection:      f.Projection.String(),
		Candidates:      candidates,
	}
	if f.HasOrigin {
		out.Origin = toGeoJSON(f.Origin)
	}
	if f.HasGroundLevel {
		g := f.GroundLevel
		out.GroundLevel = &g
	}
	if !f.FixedAt.IsZero() {
		at := f.FixedAt
		out.FixedAt = &at
	}
	return out
}

type objectResponse struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Position positionJSON `json:"position"`
	GPS      *geoJSON     `json:"gps,omitempty"`
	State    string       `json:"state"`
	Exempt   bool         `json:"exempt"`
	PlacedAt time.Time    `json:"placed_at"`
}

func toObjectResponse(o model.PlacedObject) objectResponse {
	out := objectResponse{
		ID:       o.ID,
		Kind:     string(o.Kind),
		Position: toPositionJSON(o.Position),
		State:    o.State.String(),
		Exempt:   o.Exempt,
		PlacedAt: o.PlacedAt,
	}
	if o.HasGPS {
		out.GPS = toGeoJSON(o.GPS)
	}
	return out
}

type poseRequest struct {
	Position *positionJSON `json:"position" binding:"required"`
	Forward  *positionJSON `json:"forward" binding:"required"`
	Up       *positionJSON `json:"up"`
	Fix      *geoJSON      `json:"fix"`
}

func (r poseRequest) model(now time.Time) model.ViewerPose {
	pose := model.ViewerPose{
		Position: r.Position.model(),
		Forward:  r.Forward.model(),
		Up:       model.LocalPosition{Y: 1},
		Time:     now,
	}
	if r.Up != nil {
		pose.Up = r.Up.model()
	}
	if r.Fix != nil {
		pose.Fix = r.Fix.model()
		pose.HasFix = true
	}
	return pose
}

type tapRequest struct {
	Kind     string        `json:"kind" binding:"required"`
	Name     string        `json:"name"`
	Position *positionJSON `json:"position" binding:"required"`
}
