package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

var frameEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// circularSeries returns n positions on a circle of radius r, starting on +x
// and moving counter-clockwise through one full turn, tilted about the x axis
// by tilt radians.
func circularSeries(n int, r, tilt float64) []Vec3 {
	out := make([]Vec3, n)
	for i := range out {
		th := 2 * math.Pi * float64(i) / float64(n)
		out[i] = Vec3{
			X: r * math.Cos(th),
			Y: r * math.Sin(th) * math.Cos(tilt),
			Z: r * math.Sin(th) * math.Sin(tilt),
		}
	}
	return out
}

func testOrbitSamples(t *testing.T) *OrbitSamples {
	t.Helper()
	samples, err := NewOrbitSamples([]OrbitSample{
		{ElapsedSeconds: 0, Position: Vec3{X: 450000, Z: 60000}},
		{ElapsedSeconds: 100, Position: Vec3{X: 440000, Y: 10000, Z: 50000}},
		{ElapsedSeconds: 200, Position: Vec3{X: 430000, Y: 1000, Z: -70000}},
		{ElapsedSeconds: 300, Position: Vec3{X: 445000, Y: -9000, Z: 10000}},
	})
	if err != nil {
		t.Fatalf("NewOrbitSamples: %v", err)
	}
	return samples
}

func calibratedFrame(t *testing.T, tilt float64) *HaloFrame {
	t.Helper()
	f, err := NewHaloFrame(testOrbitSamples(t), frameEpoch)
	if err != nil {
		t.Fatalf("NewHaloFrame: %v", err)
	}
	if err := f.Calibrate(circularSeries(360, EarthMoonUnits.LengthUnitKm, tilt)); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	return f
}

func TestHaloFrame_NotCalibrated(t *testing.T) {
	f, err := NewHaloFrame(testOrbitSamples(t), frameEpoch)
	if err != nil {
		t.Fatalf("NewHaloFrame: %v", err)
	}
	if _, err := f.PositionAt(frameEpoch, Vec3{X: 1}); !errors.Is(err, ErrNotCalibrated) {
		t.Fatalf("PositionAt before Calibrate: err = %v, want ErrNotCalibrated", err)
	}
	if _, err := f.Summary(); !errors.Is(err, ErrNotCalibrated) {
		t.Fatalf("Summary before Calibrate: err = %v, want ErrNotCalibrated", err)
	}
	if f.Calibrated() {
		t.Fatalf("Calibrated() = true before Calibrate")
	}
}

func TestHaloFrame_CalibrateOnce(t *testing.T) {
	f := calibratedFrame(t, 0)
	err := f.Calibrate(circularSeries(10, 1, 0))
	if !errors.Is(err, ErrAlreadyCalibrated) {
		t.Fatalf("second Calibrate: err = %v, want ErrAlreadyCalibrated", err)
	}
}

func TestHaloFrame_CalibrateTooFewPoints(t *testing.T) {
	f, _ := NewHaloFrame(testOrbitSamples(t), frameEpoch)
	if err := f.Calibrate([]Vec3{{X: 1}, {Y: 1}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("2 points: err = %v, want ErrInvalidArgument", err)
	}
	if f.Calibrated() {
		t.Fatalf("failed Calibrate left the frame calibrated")
	}
}

func TestHaloFrame_AxisFollowsAngularMomentum(t *testing.T) {
	tilt := 30 * math.Pi / 180
	f := calibratedFrame(t, tilt)
	axis, err := f.Axis()
	if err != nil {
		t.Fatalf("Axis: %v", err)
	}
	want := Vec3{Y: -math.Sin(tilt), Z: math.Cos(tilt)}
	if !vecAlmostEqual(axis, want, 1e-9) {
		t.Fatalf("axis = %v, want %v", axis, want)
	}

	// Reversing the direction of travel flips the axis.
	series := circularSeries(360, EarthMoonUnits.LengthUnitKm, tilt)
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
	g, _ := NewHaloFrame(testOrbitSamples(t), frameEpoch)
	if err := g.Calibrate(series); err != nil {
		t.Fatalf("Calibrate reversed: %v", err)
	}
	if got, _ := g.Axis(); !vecAlmostEqual(got, want.Neg(), 1e-9) {
		t.Fatalf("reversed axis = %v, want %v", got, want.Neg())
	}
}

func TestHaloFrame_ZeroPhaseRoundTrip(t *testing.T) {
	tilt := 30 * math.Pi / 180
	f := calibratedFrame(t, tilt)

	ref, err := f.ReferencePoint()
	if err != nil {
		t.Fatalf("ReferencePoint: %v", err)
	}
	got, err := f.PositionAt(frameEpoch, ref)
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}

	// The reference lies on +x, so the second rotation is the identity and
	// the stored start point is just tilted about x.
	first := testOrbitSamples(t).At(0).Position
	want := Vec3{
		X: first.X,
		Y: first.Y*math.Cos(tilt) - first.Z*math.Sin(tilt),
		Z: first.Y*math.Sin(tilt) + first.Z*math.Cos(tilt),
	}
	if !vecAlmostEqual(got, want, 1e-6) {
		t.Fatalf("PositionAt(epoch0, ref) = %v, want %v", got, want)
	}

	summary, _ := f.Summary()
	if !vecAlmostEqual(got, summary.Samples[0].Position, 1e-9) {
		t.Fatalf("PositionAt(epoch0, ref) = %v, want first rotated sample %v", got, summary.Samples[0].Position)
	}
}

func TestHaloFrame_ReanchorsToReferencePhase(t *testing.T) {
	// Body series starts a quarter turn ahead, so the reference phase point
	// is the sample nearest (1 LU, 0, 0), and the static orbit is spun onto it.
	lu := EarthMoonUnits.LengthUnitKm
	series := []Vec3{{Y: lu}, {X: -lu}, {Y: -lu}, {X: lu * 0.999, Y: lu * 0.01}}
	f, _ := NewHaloFrame(testOrbitSamples(t), frameEpoch, WithNominalReference(Vec3{X: lu}))
	if err := f.Calibrate(series); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	ref, _ := f.ReferencePoint()
	if !vecAlmostEqual(ref, series[3], 1e-6) {
		t.Fatalf("reference = %v, want %v", ref, series[3])
	}
}

func TestHaloFrame_PhaseAdvanceRotatesAboutAxis(t *testing.T) {
	f := calibratedFrame(t, 0)
	lu := EarthMoonUnits.LengthUnitKm

	start, err := f.PositionAt(frameEpoch, Vec3{X: lu})
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	quarter, err := f.PositionAt(frameEpoch, Vec3{Y: 2 * lu, Z: 500})
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	want := Vec3{X: -start.Y, Y: start.X, Z: start.Z}
	if !vecAlmostEqual(quarter, want, 1e-6) {
		t.Fatalf("quarter-turn position = %v, want %v", quarter, want)
	}

	// Exactly opposite phase must rotate by π, not collapse to zero.
	half, err := f.PositionAt(frameEpoch, Vec3{X: -lu})
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	want = Vec3{X: -start.X, Y: -start.Y, Z: start.Z}
	if !vecAlmostEqual(half, want, 1e-6) {
		t.Fatalf("half-turn position = %v, want %v", half, want)
	}
}

func TestHaloFrame_FoldsByPeriodAndPicksNearest(t *testing.T) {
	f := calibratedFrame(t, 0)
	lu := EarthMoonUnits.LengthUnitKm
	summary, _ := f.Summary()

	tests := []struct {
		offset time.Duration
		index  int
	}{
		{0, 0},
		{40 * time.Second, 0},
		{50 * time.Second, 0}, // tie resolves to the earlier sample
		{60 * time.Second, 1},
		{260 * time.Second, 3},
		{300 * time.Second, 0}, // one full period folds back to the start
		{3*300*time.Second + 199*time.Second, 2},
	}
	for _, tc := range tests {
		got, err := f.PositionAt(frameEpoch.Add(tc.offset), Vec3{X: lu})
		if err != nil {
			t.Fatalf("PositionAt(+%s): %v", tc.offset, err)
		}
		if !vecAlmostEqual(got, summary.Samples[tc.index].Position, 1e-6) {
			t.Errorf("PositionAt(+%s) = %v, want sample %d %v", tc.offset, got, tc.index, summary.Samples[tc.index].Position)
		}
	}
}

func TestHaloFrame_NegativeElapsed(t *testing.T) {
	f := calibratedFrame(t, 0)
	_, err := f.PositionAt(frameEpoch.Add(-time.Second), Vec3{X: 1})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("before epoch0: err = %v, want ErrInvalidArgument", err)
	}
}

func TestHaloFrame_SummaryRestoresFrame(t *testing.T) {
	f := calibratedFrame(t, 0.2)
	summary, err := f.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	g, err := HaloFrameFromSummary(summary)
	if err != nil {
		t.Fatalf("HaloFrameFromSummary: %v", err)
	}
	if !g.Calibrated() {
		t.Fatalf("restored frame is not calibrated")
	}
	body := Vec3{X: 100000, Y: 350000, Z: 1000}
	at := frameEpoch.Add(1234 * time.Second)
	a, err := f.PositionAt(at, body)
	if err != nil {
		t.Fatalf("PositionAt original: %v", err)
	}
	b, err := g.PositionAt(at, body)
	if err != nil {
		t.Fatalf("PositionAt restored: %v", err)
	}
	if a != b {
		t.Fatalf("restored frame position %v differs from original %v", b, a)
	}
}

func TestNewHaloFrame_Invalid(t *testing.T) {
	if _, err := NewHaloFrame(nil, frameEpoch); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil samples: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := NewHaloFrame(testOrbitSamples(t), frameEpoch, WithNominalNormal(Vec3{})); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero normal: err = %v, want ErrInvalidArgument", err)
	}
}
