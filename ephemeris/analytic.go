package ephemeris

import (
	"fmt"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/moonposition"
	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/solar"

	"github.com/signalsfoundry/halo-visibility/core"
	"github.com/signalsfoundry/halo-visibility/model"
)

const (
	kmPerAU = 149597870.7
	// ttMinusUTC approximates TT-UTC for the lunar and solar theories.
	ttMinusUTC = 69184 * time.Millisecond
)

// AnalyticConfig selects what an analytic ephemeris resolves.
type AnalyticConfig struct {
	Bodies   core.Bodies
	Stations []model.GroundStation
	// Spacecraft, when set, is tabulated relative to the primary body.
	Spacecraft *Trajectory
}

// NewAnalytic builds an ephemeris from the Meeus lunar and solar theories.
// The secondary body sits at the origin. Stations are placed with the WGS72
// ellipsoid and rotate with Greenwich sidereal time; each station name is
// also a topocentric east-north-up frame.
func NewAnalytic(cfg AnalyticConfig) (*Ephemeris, error) {
	b := cfg.Bodies
	e := newEphemeris(b.InertialFrame)

	if err := e.addPoint(b.Secondary, func(time.Time) (core.Vec3, error) { return core.Vec3{}, nil }); err != nil {
		return nil, err
	}
	if err := e.addPoint(b.Primary, func(t time.Time) (core.Vec3, error) { return moonPosition(t), nil }); err != nil {
		return nil, err
	}
	if err := e.addPoint(b.Sun, func(t time.Time) (core.Vec3, error) { return sunPosition(t), nil }); err != nil {
		return nil, err
	}
	if tr := cfg.Spacecraft; tr != nil {
		if err := e.addPoint(b.Spacecraft, func(t time.Time) (core.Vec3, error) {
			rel, err := tr.At(t)
			if err != nil {
				return core.Vec3{}, err
			}
			return moonPosition(t).Add(rel), nil
		}); err != nil {
			return nil, err
		}
	}
	for _, st := range cfg.Stations {
		if err := addGeodeticStation(e, st); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func addGeodeticStation(e *Ephemeris, st model.GroundStation) error {
	site := satellite.LatLong{Latitude: st.LatDeg * deg, Longitude: st.LonDeg * deg}
	alt := st.AltKm
	if err := e.addPoint(st.Name, func(t time.Time) (core.Vec3, error) {
		p := satellite.LLAToECI(site, alt, julianDay(t))
		return core.Vec3{X: p.X, Y: p.Y, Z: p.Z}, nil
	}); err != nil {
		return err
	}
	if err := e.addFrame(st.Name, func(t time.Time) core.Mat3 {
		return enuRotation(site.Latitude, satellite.ThetaG_JD(julianDay(t))+site.Longitude)
	}); err != nil {
		return fmt.Errorf("station %q: %w", st.Name, err)
	}
	return nil
}

func julianDay(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

func ephemerisDay(t time.Time) float64 {
	return julian.TimeToJD(t.UTC().Add(ttMinusUTC))
}

// moonPosition is the geocentric Moon, equator and mean equinox of date, km.
func moonPosition(t time.Time) core.Vec3 {
	jde := ephemerisDay(t)
	lon, lat, dist := moonposition.Position(jde)
	eps := nutation.MeanObliquity(jde)

	ecl := core.Vec3{
		X: dist * lat.Cos() * lon.Cos(),
		Y: dist * lat.Cos() * lon.Sin(),
		Z: dist * lat.Sin(),
	}
	se, ce := eps.Sin(), eps.Cos()
	return core.Vec3{
		X: ecl.X,
		Y: ecl.Y*ce - ecl.Z*se,
		Z: ecl.Y*se + ecl.Z*ce,
	}
}

// sunPosition is the geocentric apparent Sun, equator of date, km.
func sunPosition(t time.Time) core.Vec3 {
	jde := ephemerisDay(t)
	ra, dec := solar.ApparentEquatorial(jde)
	r := solar.Radius(base.J2000Century(jde)) * kmPerAU
	return core.Vec3{
		X: r * dec.Cos() * ra.Cos(),
		Y: r * dec.Cos() * ra.Sin(),
		Z: r * dec.Sin(),
	}
}
