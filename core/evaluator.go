package core

import (
	"context"
	"fmt"
	"time"
)

// Oracle resolves the position of target relative to origin, expressed in
// the named axis frame, at epoch. Implementations must be safe for
// concurrent use.
type Oracle interface {
	Vector3(origin, target, frame string, epoch time.Time) (Vec3, error)
}

// OracleFactory opens an independent oracle handle. The grid runner opens
// one per chunk.
type OracleFactory func() (Oracle, error)

// Bodies names the points and the inertial frame the evaluator queries.
type Bodies struct {
	Primary       string
	Secondary     string
	Sun           string
	Spacecraft    string
	InertialFrame string
}

// DefaultBodies are the Moon-centred names used throughout the project.
func DefaultBodies() Bodies {
	return Bodies{
		Primary:       "Moon",
		Secondary:     "Earth",
		Sun:           "Sun",
		Spacecraft:    "SC",
		InertialFrame: "ICRF",
	}
}

func (b Bodies) validate() error {
	for name, v := range map[string]string{
		"primary":        b.Primary,
		"secondary":      b.Secondary,
		"sun":            b.Sun,
		"spacecraft":     b.Spacecraft,
		"inertial frame": b.InertialFrame,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s name is empty", ErrInvalidArgument, name)
		}
	}
	return nil
}

// Evaluator computes one Row per timestamp from oracle queries, the halo
// frame and the visibility model. An Evaluator is not shared between
// goroutines; the grid runner builds one per chunk.
type Evaluator struct {
	oracle   Oracle
	frame    *HaloFrame
	model    VisibilityModel
	bodies   Bodies
	stations []string
}

// NewEvaluator validates its collaborators. Stations are bound to flag
// slots in the order given.
func NewEvaluator(oracle Oracle, frame *HaloFrame, model VisibilityModel, bodies Bodies, stations []string) (*Evaluator, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: evaluator needs an oracle", ErrInvalidArgument)
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: evaluator needs a halo frame", ErrInvalidArgument)
	}
	if !frame.Calibrated() {
		return nil, ErrNotCalibrated
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := bodies.validate(); err != nil {
		return nil, err
	}
	if len(stations) > MaxStations {
		return nil, fmt.Errorf("%w: %d stations exceed the %d available slots", ErrInvalidArgument, len(stations), MaxStations)
	}
	return &Evaluator{
		oracle:   oracle,
		frame:    frame,
		model:    model,
		bodies:   bodies,
		stations: append([]string(nil), stations...),
	}, nil
}

// StationGeometry holds the raw vectors behind one station's columns.
type StationGeometry struct {
	Name string
	// Position is primary-centred, inertial axes.
	Position Vec3
	// Local is station-to-spacecraft in the station's topocentric frame.
	Local Vec3
}

// Snapshot is every vector used to evaluate one timestamp, plus the result.
// All positions are primary-centred in the inertial frame.
type Snapshot struct {
	Time       time.Time
	Sun        Vec3
	Secondary  Vec3
	Spacecraft Vec3
	Relay      Vec3
	Stations   []StationGeometry
	Row        Row
}

// Evaluate computes the row for t.
func (e *Evaluator) Evaluate(t time.Time) (Row, error) {
	snap, err := e.Snapshot(t)
	if err != nil {
		return Row{}, err
	}
	return snap.Row, nil
}

// Snapshot evaluates t and keeps the intermediate vectors.
func (e *Evaluator) Snapshot(t time.Time) (Snapshot, error) {
	b := e.bodies
	snap := Snapshot{Time: t}

	var err error
	if snap.Sun, err = e.query(b.Primary, b.Sun, b.InertialFrame, t); err != nil {
		return Snapshot{}, err
	}
	if snap.Secondary, err = e.query(b.Primary, b.Secondary, b.InertialFrame, t); err != nil {
		return Snapshot{}, err
	}
	if snap.Spacecraft, err = e.query(b.Primary, b.Spacecraft, b.InertialFrame, t); err != nil {
		return Snapshot{}, err
	}
	sc := snap.Spacecraft

	var state State

	// The halo orbit is centred on the secondary body; the primary sits at
	// -secondary from there.
	relayFromSecondary, err := e.frame.PositionAt(t, snap.Secondary.Neg())
	if err != nil {
		return Snapshot{}, fmt.Errorf("relay position at %s: %w", t.Format(time.RFC3339Nano), err)
	}
	snap.Relay = relayFromSecondary.Add(snap.Secondary)
	relayLOS, err := e.model.HasLineOfSight(snap.Relay, sc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("relay line of sight at %s: %w", t.Format(time.RFC3339Nano), err)
	}
	state = SetFlag(state, FlagRelayLOS, relayLOS)

	sunOnSC, err := e.model.SunlightOnSpacecraft(snap.Sun, snap.Secondary, sc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("at %s: %w", t.Format(time.RFC3339Nano), err)
	}
	state = SetFlag(state, FlagSunOnSpacecraft, sunOnSC)

	sunOnBody, err := e.model.SunlightOnBodySurfacePoint(snap.Sun, snap.Secondary, sc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("at %s: %w", t.Format(time.RFC3339Nano), err)
	}
	state = SetFlag(state, FlagSunOnBody, sunOnBody)

	row := Row{
		Time:          t,
		Elevations:    make([]float64, len(e.stations)),
		Distances:     make([]float64, len(e.stations)),
		RelayDistance: snap.Relay.DistanceTo(sc),
	}
	snap.Stations = make([]StationGeometry, len(e.stations))
	for i, name := range e.stations {
		pos, err := e.query(b.Primary, name, b.InertialFrame, t)
		if err != nil {
			return Snapshot{}, err
		}
		local, err := e.query(name, b.Spacecraft, name, t)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Stations[i] = StationGeometry{Name: name, Position: pos, Local: local}

		unblocked, err := e.model.HasLineOfSight(sc, pos)
		if err != nil {
			return Snapshot{}, fmt.Errorf("station %s line of sight at %s: %w", name, t.Format(time.RFC3339Nano), err)
		}
		flag, err := StationFlag(i)
		if err != nil {
			return Snapshot{}, err
		}
		state = SetFlag(state, flag, unblocked)
		row.Elevations[i] = e.model.Elevation(local)
		row.Distances[i] = local.Norm()
	}

	row.State = state
	snap.Row = row
	return snap, nil
}

func (e *Evaluator) query(origin, target, frame string, t time.Time) (Vec3, error) {
	v, err := e.oracle.Vector3(origin, target, frame, t)
	if err != nil {
		return Vec3{}, fmt.Errorf("%w: %s->%s in %s at %s: %w",
			ErrOracleFailure, origin, target, frame, t.Format(time.RFC3339Nano), err)
	}
	return v, nil
}

// EvaluateChunk evaluates times in order into a new table. The chunk fails
// as a unit: any error discards the rows computed so far.
func (e *Evaluator) EvaluateChunk(ctx context.Context, times []time.Time) (*ResultTable, error) {
	table, err := NewResultTable(e.stations, len(times))
	if err != nil {
		return nil, err
	}
	for _, t := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := e.Evaluate(t)
		if err != nil {
			return nil, err
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}
	return table, nil
}
