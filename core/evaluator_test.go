package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

// mapOracle answers from a fixed table keyed by "origin>target@frame" and
// ignores the epoch.
type mapOracle map[string]Vec3

func (m mapOracle) Vector3(origin, target, frame string, _ time.Time) (Vec3, error) {
	v, ok := m[origin+">"+target+"@"+frame]
	if !ok {
		return Vec3{}, fmt.Errorf("no entry for %s>%s@%s", origin, target, frame)
	}
	return v, nil
}

// Sun along +x, Earth along +y, spacecraft behind the Moon as seen from the
// Sun. NN11 sees the spacecraft past the limb, CB11 is placed straight
// behind the Moon.
func fixedGeometry() mapOracle {
	return mapOracle{
		"Moon>Sun@ICRF":   {X: 1.5e8},
		"Moon>Earth@ICRF": {Y: 384400},
		"Moon>SC@ICRF":    {X: -3000},
		"Moon>NN11@ICRF":  {X: 6371, Y: 384400},
		"NN11>SC@NN11":    {Z: 1000},
		"Moon>CB11@ICRF":  {X: 300000},
		"CB11>SC@CB11":    {X: 1000, Z: -1000},
	}
}

func TestEvaluator_FixedGeometry(t *testing.T) {
	frame := calibratedFrame(t, 0)
	ev, err := NewEvaluator(fixedGeometry(), frame, NewVisibilityModel(), DefaultBodies(), []string{"NN11", "CB11"})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	at := frameEpoch.Add(150 * time.Second)
	snap, err := ev.Snapshot(at)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	row := snap.Row

	if row.State.Has(FlagSunOnSpacecraft) {
		t.Errorf("spacecraft behind the Moon reported sunlit")
	}
	if row.State.Has(FlagSunOnBody) {
		t.Errorf("night-side surface point reported sunlit")
	}
	if !row.State.Has(FlagClearStation0) {
		t.Errorf("NN11 should have a clear line of sight")
	}
	if row.State.Has(FlagClearStation1) {
		t.Errorf("CB11 should be blocked by the Moon")
	}
	if row.State > MaxState {
		t.Fatalf("state %d exceeds %d", row.State, MaxState)
	}

	if !almostEqual(row.Elevations[0], 90, 1e-12) || !almostEqual(row.Elevations[1], -45, 1e-12) {
		t.Fatalf("elevations = %v, want [90 -45]", row.Elevations)
	}
	if !almostEqual(row.Distances[0], 1000, 1e-12) || !almostEqual(row.Distances[1], 1000*math.Sqrt2, 1e-9) {
		t.Fatalf("distances = %v", row.Distances)
	}

	earth := Vec3{Y: 384400}
	rel, err := frame.PositionAt(at, earth.Neg())
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	wantRelay := rel.Add(earth)
	if !vecAlmostEqual(snap.Relay, wantRelay, 1e-9) {
		t.Fatalf("relay = %v, want %v", snap.Relay, wantRelay)
	}
	if !almostEqual(row.RelayDistance, wantRelay.DistanceTo(Vec3{X: -3000}), 1e-9) {
		t.Fatalf("relay distance = %v", row.RelayDistance)
	}
	wantLOS, _ := NewVisibilityModel().HasLineOfSight(wantRelay, Vec3{X: -3000})
	if row.State.Has(FlagRelayLOS) != wantLOS {
		t.Fatalf("relay LOS flag = %v, want %v", row.State.Has(FlagRelayLOS), wantLOS)
	}

	if len(snap.Stations) != 2 || snap.Stations[1].Name != "CB11" || snap.Stations[1].Position != (Vec3{X: 300000}) {
		t.Fatalf("station geometry = %+v", snap.Stations)
	}
}

func TestEvaluator_SunlitDayside(t *testing.T) {
	o := fixedGeometry()
	o["Moon>SC@ICRF"] = Vec3{X: 3000}
	ev, err := NewEvaluator(o, calibratedFrame(t, 0), NewVisibilityModel(), DefaultBodies(), nil)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	row, err := ev.Evaluate(frameEpoch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !row.State.Has(FlagSunOnSpacecraft) || !row.State.Has(FlagSunOnBody) {
		t.Fatalf("dayside state = %07b, want both sunlight bits", row.State)
	}
	if len(row.Elevations) != 0 {
		t.Fatalf("no stations but %d elevations", len(row.Elevations))
	}
}

func TestEvaluator_OracleFailureNamesTimestamp(t *testing.T) {
	o := fixedGeometry()
	delete(o, "CB11>SC@CB11")
	ev, err := NewEvaluator(o, calibratedFrame(t, 0), NewVisibilityModel(), DefaultBodies(), []string{"NN11", "CB11"})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	at := frameEpoch.Add(42 * time.Second)
	_, err = ev.Evaluate(at)
	if !errors.Is(err, ErrOracleFailure) {
		t.Fatalf("err = %v, want ErrOracleFailure", err)
	}
	if !strings.Contains(err.Error(), at.Format(time.RFC3339Nano)) || !strings.Contains(err.Error(), "CB11") {
		t.Fatalf("error %q does not name the query and timestamp", err)
	}
}

func TestEvaluator_Validation(t *testing.T) {
	frame := calibratedFrame(t, 0)
	uncal, _ := NewHaloFrame(testOrbitSamples(t), frameEpoch)
	bad := DefaultBodies()
	bad.Sun = ""

	tests := []struct {
		name string
		make func() (*Evaluator, error)
		want error
	}{
		{"nil oracle", func() (*Evaluator, error) {
			return NewEvaluator(nil, frame, NewVisibilityModel(), DefaultBodies(), nil)
		}, ErrInvalidArgument},
		{"uncalibrated", func() (*Evaluator, error) {
			return NewEvaluator(fixedGeometry(), uncal, NewVisibilityModel(), DefaultBodies(), nil)
		}, ErrNotCalibrated},
		{"bad radii", func() (*Evaluator, error) {
			return NewEvaluator(fixedGeometry(), frame, VisibilityModel{}, DefaultBodies(), nil)
		}, ErrInvalidArgument},
		{"empty body name", func() (*Evaluator, error) {
			return NewEvaluator(fixedGeometry(), frame, NewVisibilityModel(), bad, nil)
		}, ErrInvalidArgument},
		{"too many stations", func() (*Evaluator, error) {
			return NewEvaluator(fixedGeometry(), frame, NewVisibilityModel(), DefaultBodies(), []string{"a", "b", "c", "d", "e"})
		}, ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.make(); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEvaluateChunk(t *testing.T) {
	ev, err := NewEvaluator(fixedGeometry(), calibratedFrame(t, 0), NewVisibilityModel(), DefaultBodies(), []string{"NN11"})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	times := []time.Time{frameEpoch, frameEpoch.Add(time.Second), frameEpoch.Add(2 * time.Second)}
	tb, err := ev.EvaluateChunk(context.Background(), times)
	if err != nil {
		t.Fatalf("EvaluateChunk: %v", err)
	}
	if tb.Len() != 3 || tb.Stations()[0] != "NN11" {
		t.Fatalf("table len=%d stations=%v", tb.Len(), tb.Stations())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ev.EvaluateChunk(ctx, times); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled chunk: err = %v, want context.Canceled", err)
	}

	if _, err := ev.EvaluateChunk(context.Background(), []time.Time{times[1], times[0]}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unordered chunk: err = %v, want ErrInvalidArgument", err)
	}
}
