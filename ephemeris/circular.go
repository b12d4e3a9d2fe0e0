package ephemeris

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/halo-visibility/core"
	"github.com/signalsfoundry/halo-visibility/model"
)

const (
	siderealDay  = 86164.0905 // s
	siderealYear = 365.256363 * 86400
	moonGM       = 4902.800066 // km^3/s^2
)

// CircularConfig describes a closed-form Earth-Moon-Sun system with every
// body on a circular orbit. It needs no input files and is exactly
// reproducible, which makes it the reference ephemeris for tests and dry
// runs.
type CircularConfig struct {
	Bodies   core.Bodies
	Stations []model.GroundStation
	// Epoch is the instant at which every orbit is at its reference phase.
	Epoch time.Time

	MoonDistanceKm     float64
	MoonPeriod         time.Duration
	MoonInclinationDeg float64

	SunDistanceKm float64
	SunPhaseDeg   float64

	// The spacecraft flies a polar lunar orbit of this radius.
	SpacecraftRadiusKm float64

	SecondaryRadiusKm float64
}

// DefaultCircularConfig returns Earth-Moon-Sun values rounded to a few
// significant figures.
func DefaultCircularConfig(epoch time.Time) CircularConfig {
	return CircularConfig{
		Bodies:             core.DefaultBodies(),
		Epoch:              epoch,
		MoonDistanceKm:     384400,
		MoonPeriod:         time.Duration(27.321661 * 86400 * float64(time.Second)),
		MoonInclinationDeg: 23.44,
		SunDistanceKm:      kmPerAU,
		SunPhaseDeg:        40,
		SpacecraftRadiusKm: 5000,
		SecondaryRadiusKm:  core.DefaultSecondaryRadiusKm,
	}
}

func (c CircularConfig) validate() error {
	if c.MoonDistanceKm <= 0 || c.SunDistanceKm <= 0 || c.SpacecraftRadiusKm <= 0 || c.SecondaryRadiusKm <= 0 {
		return fmt.Errorf("%w: circular ephemeris distances must be positive", core.ErrInvalidArgument)
	}
	if c.MoonPeriod <= 0 {
		return fmt.Errorf("%w: moon period must be positive", core.ErrInvalidArgument)
	}
	return nil
}

// NewCircular builds the closed-form ephemeris described by cfg.
func NewCircular(cfg CircularConfig) (*Ephemeris, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := cfg.Bodies
	e := newEphemeris(b.InertialFrame)

	inc := cfg.MoonInclinationDeg * deg
	moonRate := 2 * math.Pi / cfg.MoonPeriod.Seconds()
	moon := func(t time.Time) core.Vec3 {
		s, c := math.Sincos(moonRate * t.Sub(cfg.Epoch).Seconds())
		return core.Vec3{
			X: cfg.MoonDistanceKm * c,
			Y: cfg.MoonDistanceKm * s * math.Cos(inc),
			Z: cfg.MoonDistanceKm * s * math.Sin(inc),
		}
	}

	sunRate := 2 * math.Pi / siderealYear
	sunPhase := cfg.SunPhaseDeg * deg
	sun := func(t time.Time) core.Vec3 {
		s, c := math.Sincos(sunPhase + sunRate*t.Sub(cfg.Epoch).Seconds())
		return core.Vec3{X: cfg.SunDistanceKm * c, Y: cfg.SunDistanceKm * s}
	}

	r := cfg.SpacecraftRadiusKm
	scRate := math.Sqrt(moonGM / (r * r * r))
	spacecraft := func(t time.Time) core.Vec3 {
		s, c := math.Sincos(scRate * t.Sub(cfg.Epoch).Seconds())
		return moon(t).Add(core.Vec3{X: r * c, Z: r * s})
	}

	points := []struct {
		name string
		fn   positionFunc
	}{
		{b.Secondary, func(time.Time) (core.Vec3, error) { return core.Vec3{}, nil }},
		{b.Primary, func(t time.Time) (core.Vec3, error) { return moon(t), nil }},
		{b.Sun, func(t time.Time) (core.Vec3, error) { return sun(t), nil }},
		{b.Spacecraft, func(t time.Time) (core.Vec3, error) { return spacecraft(t), nil }},
	}
	for _, p := range points {
		if err := e.addPoint(p.name, p.fn); err != nil {
			return nil, err
		}
	}

	spin := 2 * math.Pi / siderealDay
	for _, st := range cfg.Stations {
		lat, lon := st.LatDeg*deg, st.LonDeg*deg
		radius := cfg.SecondaryRadiusKm + st.AltKm
		theta := func(t time.Time) float64 { return lon + spin*t.Sub(cfg.Epoch).Seconds() }
		if err := e.addPoint(st.Name, func(t time.Time) (core.Vec3, error) {
			sl, cl := math.Sincos(lat)
			sn, cs := math.Sincos(theta(t))
			return core.Vec3{X: radius * cl * cs, Y: radius * cl * sn, Z: radius * sl}, nil
		}); err != nil {
			return nil, err
		}
		if err := e.addFrame(st.Name, func(t time.Time) core.Mat3 { return enuRotation(lat, theta(t)) }); err != nil {
			return nil, fmt.Errorf("station %q: %w", st.Name, err)
		}
	}
	return e, nil
}
