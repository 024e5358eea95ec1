package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/arhunt/model"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Vec converts a local position into an r3 vector.
func Vec(p model.LocalPosition) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Position converts an r3 vector back into a local position.
func Position(v r3.Vec) model.LocalPosition {
	return model.LocalPosition{X: v.X, Y: v.Y, Z: v.Z}
}

// LocalBearingDegrees returns the compass bearing of the horizontal vector
// (x, z) in the local frame: 0° = north (-Z), 90° = east (+X).
func LocalBearingDegrees(x, z float64) float64 {
	b := math.Atan2(x, -z) * radToDeg
	if b < 0 {
		b += 360
	}
	return b
}

// enuFromBearing splits a ground distance along a compass bearing into
// east/north components.
func enuFromBearing(distance, bearingDeg float64) (east, north float64) {
	rad := bearingDeg * degToRad
	return distance * math.Sin(rad), distance * math.Cos(rad)
}
