package model

// GroundStation is a tracking site fixed to the secondary body's surface.
// Latitude is geodetic.
type GroundStation struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// Body is a spherical celestial body.
type Body struct {
	Name     string
	RadiusKm float64
}
