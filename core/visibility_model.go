package core

import (
	"fmt"
	"math"
)

const (
	// DefaultPrimaryRadiusKm is the mean lunar radius.
	DefaultPrimaryRadiusKm = 1737.4
	// DefaultSecondaryRadiusKm is the mean Earth radius.
	DefaultSecondaryRadiusKm = 6371.0
)

// VisibilityModel answers occlusion and illumination questions for
// primary-body-centred vectors (all inputs share the primary's centre as
// origin). Bodies are treated as spheres.
type VisibilityModel struct {
	PrimaryRadiusKm   float64
	SecondaryRadiusKm float64
}

// NewVisibilityModel returns a model for the Moon and Earth.
func NewVisibilityModel() VisibilityModel {
	return VisibilityModel{
		PrimaryRadiusKm:   DefaultPrimaryRadiusKm,
		SecondaryRadiusKm: DefaultSecondaryRadiusKm,
	}
}

// Validate rejects non-positive radii.
func (m VisibilityModel) Validate() error {
	if m.PrimaryRadiusKm <= 0 || m.SecondaryRadiusKm <= 0 {
		return fmt.Errorf("%w: body radii must be positive (primary=%v, secondary=%v)",
			ErrInvalidArgument, m.PrimaryRadiusKm, m.SecondaryRadiusKm)
	}
	return nil
}

// HasLineOfSight reports whether the primary body leaves the segment between
// observer and target unobstructed. When both vectors lie in the same
// hemisphere the answer is immediately true; otherwise target is projected
// onto the plane orthogonal to observer and tested against the primary's disc.
func (m VisibilityModel) HasLineOfSight(target, observer Vec3) (bool, error) {
	if observer.Dot(target) > 0 {
		return true, nil
	}
	within, err := m.ProjectedWithin(observer, target, Vec3{}, m.PrimaryRadiusKm)
	if err != nil {
		return false, fmt.Errorf("line of sight: %w", err)
	}
	return !within, nil
}

// ProjectedWithin projects point and centre onto the plane orthogonal to
// basis and reports whether the projected point falls strictly inside the
// projected sphere. All vectors must share the same origin.
func (m VisibilityModel) ProjectedWithin(basis, point, centre Vec3, radius float64) (bool, error) {
	p, err := ProjectionMatrix(basis)
	if err != nil {
		return false, err
	}
	return PointWithinSphere(Project(p, point), Project(p, centre), radius), nil
}

// SunlightOnSpacecraft reports whether neither the secondary nor the primary
// body shadows the spacecraft. A body can only shadow when it is closer to
// the Sun than the spacecraft is.
func (m VisibilityModel) SunlightOnSpacecraft(sun, secondary, spacecraft Vec3) (bool, error) {
	sunSecondary := sun.Sub(secondary)
	sunSpacecraft := sun.Sub(spacecraft)

	if IsCloser(sunSecondary, sunSpacecraft) {
		within, err := m.ProjectedWithin(sun, spacecraft, secondary, m.SecondaryRadiusKm)
		if err != nil {
			return false, fmt.Errorf("sunlight on spacecraft: %w", err)
		}
		if within {
			return false, nil
		}
	}
	if IsCloser(sun, sunSpacecraft) {
		within, err := m.ProjectedWithin(sun, spacecraft, Vec3{}, m.PrimaryRadiusKm)
		if err != nil {
			return false, fmt.Errorf("sunlight on spacecraft: %w", err)
		}
		if within {
			return false, nil
		}
	}
	return true, nil
}

// SunlightOnBodySurfacePoint reports whether the point on the primary's
// surface directly beneath the spacecraft is lit: not eclipsed by the
// secondary body and on the Sun-facing hemisphere.
func (m VisibilityModel) SunlightOnBodySurfacePoint(sun, secondary, spacecraft Vec3) (bool, error) {
	point, err := ResizeToRadius(spacecraft, m.PrimaryRadiusKm)
	if err != nil {
		return false, fmt.Errorf("sunlight on surface point: %w", err)
	}
	if IsCloser(sun.Sub(secondary), sun.Sub(point)) {
		within, err := m.ProjectedWithin(sun, point, secondary, m.SecondaryRadiusKm)
		if err != nil {
			return false, fmt.Errorf("sunlight on surface point: %w", err)
		}
		if within {
			return false, nil
		}
	}
	return point.Dot(sun) > 0, nil
}

// Elevation returns the elevation in degrees of a vector expressed in a
// station's local up-aligned frame.
func (m VisibilityModel) Elevation(local Vec3) float64 {
	return ElevationAngle(local) * 180 / math.Pi
}
