package model

import "math"

// GeoPoint is a WGS84 position as reported by a GPS fix or stored on a candidate.
// Values are immutable; copy rather than mutate.
type GeoPoint struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees

	// Altitude is metres above the ellipsoid; only meaningful when HasAltitude is set.
	Altitude    float64
	HasAltitude bool

	// HorizontalAccuracy is the reported 1-sigma radius in metres. Zero means unknown.
	HorizontalAccuracy float64
}

// NewGeoPoint builds a GeoPoint without altitude.
func NewGeoPoint(lat, lon, accuracy float64) GeoPoint {
	return GeoPoint{Latitude: lat, Longitude: lon, HorizontalAccuracy: accuracy}
}

// WithAltitude returns a copy of g carrying the given altitude.
func (g GeoPoint) WithAltitude(alt float64) GeoPoint {
	g.Altitude = alt
	g.HasAltitude = true
	return g
}

// Valid reports whether the coordinates are finite and within WGS84 bounds.
func (g GeoPoint) Valid() bool {
	if math.IsNaN(g.Latitude) || math.IsNaN(g.Longitude) {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

// LocalPosition is a point in the render frame, in metres relative to the
// frame origin: X east, Y up, Z south (north negated).
type LocalPosition struct {
	X float64
	Y float64
	Z float64
}

// DistanceTo returns the straight-line distance between two positions.
func (p LocalPosition) DistanceTo(other LocalPosition) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// HorizontalDistanceTo ignores the vertical axis.
func (p LocalPosition) HorizontalDistanceTo(other LocalPosition) float64 {
	return math.Hypot(p.X-other.X, p.Z-other.Z)
}

// VerticalSeparation returns |p.Y - other.Y|.
func (p LocalPosition) VerticalSeparation(other LocalPosition) float64 {
	return math.Abs(p.Y - other.Y)
}

// Sub returns p - other.
func (p LocalPosition) Sub(other LocalPosition) LocalPosition {
	return LocalPosition{X: p.X - other.X, Y: p.Y - other.Y, Z: p.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (p LocalPosition) Dot(other LocalPosition) float64 {
	return p.X*other.X + p.Y*other.Y + p.Z*other.Z
}
