package core

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/signalsfoundry/arhunt/model"
)

func orbPoint(p model.GeoPoint) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// ToENU returns the east/north/up offsets of target from origin in metres.
// East and north come from the haversine distance and initial bearing; up is
// the altitude delta when both points carry an altitude.
func ToENU(target, origin model.GeoPoint) (east, north, up float64) {
	o := orbPoint(origin)
	t := orbPoint(target)

	if d := geo.DistanceHaversine(o, t); d > 0 {
		east, north = enuFromBearing(d, geo.Bearing(o, t))
	}
	if target.HasAltitude && origin.HasAltitude {
		up = target.Altitude - origin.Altitude
	}
	return east, north, up
}

// ENUToLocal maps ENU offsets into the render frame: east -> +X, north -> -Z.
// The vertical is always the frame's ground level; GPS altitude is not
// trusted for placement height.
func ENUToLocal(east, north, _, groundLevel float64) model.LocalPosition {
	return model.LocalPosition{X: east, Y: groundLevel, Z: -north}
}

// ToLocal converts target into the frame. It returns false when the frame
// has no origin yet. For a fixed frame the result is a pure function of target.
func ToLocal(frame model.CoordinateFrame, target model.GeoPoint) (model.LocalPosition, bool) {
	if !frame.HasOrigin {
		return model.LocalPosition{}, false
	}

	var east, north, up float64
	switch frame.Projection {
	case model.ProjectionECEF:
		east, north, up = ToENUEllipsoid(target, frame.Origin)
	default:
		east, north, up = ToENU(target, frame.Origin)
	}
	return ENUToLocal(east, north, up, frame.GroundLevel), true
}

// FromLocal is the inverse of ToLocal on the horizontal plane. The returned
// point inherits the origin's altitude and accuracy.
func FromLocal(frame model.CoordinateFrame, pos model.LocalPosition) (model.GeoPoint, bool) {
	if !frame.HasOrigin {
		return model.GeoPoint{}, false
	}

	out := frame.Origin
	d := math.Hypot(pos.X, pos.Z)
	if d == 0 {
		return out, true
	}
	p := geo.PointAtBearingAndDistance(orbPoint(frame.Origin), LocalBearingDegrees(pos.X, pos.Z), d)
	out.Longitude = p.Lon()
	out.Latitude = p.Lat()
	return out, true
}

// GroundDistance returns the haversine distance between two GPS points in metres.
func GroundDistance(a, b model.GeoPoint) float64 {
	return geo.DistanceHaversine(orbPoint(a), orbPoint(b))
}

// Offset moves p by distance metres along a compass bearing.
func Offset(p model.GeoPoint, bearingDeg, distance float64) model.GeoPoint {
	moved := geo.PointAtBearingAndDistance(orbPoint(p), bearingDeg, distance)
	p.Longitude = moved.Lon()
	p.Latitude = moved.Lat()
	return p
}

// BoundAround returns a lon/lat box of roughly radius metres around p.
func BoundAround(p model.GeoPoint, radius float64) orb.Bound {
	return geo.NewBoundAroundPoint(orbPoint(p), radius)
}
