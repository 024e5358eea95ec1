package core

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/arhunt/model"
)

// ecefEpoch is an arbitrary fixed Julian date. Both points are rotated by the
// same sidereal angle, so the choice does not affect the difference vector.
var ecefEpoch = satellite.JDay(2000, 1, 1, 12, 0, 0)

// ecefKm returns the earth-fixed position of p in kilometres.
func ecefKm(p model.GeoPoint) satellite.Vector3 {
	alt := 0.0
	if p.HasAltitude {
		alt = p.Altitude / 1000.0
	}
	ll := satellite.LatLong{
		Latitude:  p.Latitude * degToRad,
		Longitude: p.Longitude * degToRad,
	}
	eci := satellite.LLAToECI(ll, alt, ecefEpoch)
	return satellite.ECIToECEF(eci, satellite.ThetaG_JD(ecefEpoch))
}

// ToENUEllipsoid computes the same offsets as ToENU but by rotating the
// earth-fixed difference vector into the origin's tangent plane.
// Altitudes are only applied when both points carry one.
func ToENUEllipsoid(target, origin model.GeoPoint) (east, north, up float64) {
	if !(target.HasAltitude && origin.HasAltitude) {
		target.HasAltitude = false
		origin.HasAltitude = false
	}
	o := ecefKm(origin)
	t := ecefKm(target)

	const kmToM = 1000.0
	dx := (t.X - o.X) * kmToM
	dy := (t.Y - o.Y) * kmToM
	dz := (t.Z - o.Z) * kmToM

	sinLat, cosLat := math.Sincos(origin.Latitude * degToRad)
	sinLon, cosLon := math.Sincos(origin.Longitude * degToRad)

	east = -sinLon*dx + cosLon*dy
	north = -sinLat*cosLon*dx - sinLat*sinLon*dy + cosLat*dz
	up = cosLat*cosLon*dx + cosLat*sinLon*dy + sinLat*dz
	return east, north, up
}
