package core

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinCalibrationPoints is the smallest body-position series a plane can be
// fitted through.
const MinCalibrationPoints = 3

// HaloFrame places a static periodic orbit (sampled in a frame where the
// primary body sits at a fixed nominal position) onto the primary body's
// real, moving orbit.
//
// A HaloFrame is built in two steps: NewHaloFrame binds the static samples,
// then Calibrate fits the body's orbital plane exactly once. After
// calibration the frame is read-only and safe to share between goroutines.
type HaloFrame struct {
	samples       *OrbitSamples
	epoch0        time.Time
	nominalRef    Vec3
	nominalNormal Vec3

	state atomic.Pointer[frameState]
}

type frameState struct {
	axis    Vec3
	ref     Vec3
	rotated []OrbitSample
}

// FrameSummary is everything a calibrated frame needs to answer position
// queries. It can be exported from one process and restored in another.
type FrameSummary struct {
	Axis           Vec3
	ReferencePoint Vec3
	Epoch0         time.Time
	Samples        []OrbitSample
}

// HaloFrameOption customises HaloFrame construction.
type HaloFrameOption func(*HaloFrame)

// WithNominalReference overrides the primary body's position in the static
// sample frame. Defaults to one CR3BP length unit along +x.
func WithNominalReference(v Vec3) HaloFrameOption {
	return func(f *HaloFrame) {
		f.nominalRef = v
	}
}

// WithNominalNormal overrides the normal of the static sample frame's
// orbital plane. Defaults to +z.
func WithNominalNormal(v Vec3) HaloFrameOption {
	return func(f *HaloFrame) {
		f.nominalNormal = v
	}
}

// NewHaloFrame binds a static orbit to epoch0, the instant at which the
// orbit's first sample applies.
func NewHaloFrame(samples *OrbitSamples, epoch0 time.Time, opts ...HaloFrameOption) (*HaloFrame, error) {
	if samples == nil || samples.Len() < 2 {
		return nil, fmt.Errorf("%w: halo frame needs an orbit sample table", ErrInvalidArgument)
	}
	f := &HaloFrame{
		samples:       samples,
		epoch0:        epoch0,
		nominalRef:    Vec3{X: EarthMoonUnits.LengthUnitKm},
		nominalNormal: Vec3{Z: 1},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.nominalRef.Norm() == 0 || f.nominalNormal.Norm() == 0 {
		return nil, fmt.Errorf("%w: nominal reference and plane normal must be non-zero", ErrInvalidArgument)
	}
	return f, nil
}

// Epoch0 returns the instant the first orbit sample applies to.
func (f *HaloFrame) Epoch0() time.Time { return f.epoch0 }

// Period returns the orbit period.
func (f *HaloFrame) Period() time.Duration {
	return time.Duration(f.samples.Period() * float64(time.Second))
}

// Calibrated reports whether Calibrate has completed.
func (f *HaloFrame) Calibrated() bool {
	return f.state.Load() != nil
}

// Axis returns the fitted rotation axis.
func (f *HaloFrame) Axis() (Vec3, error) {
	st := f.state.Load()
	if st == nil {
		return Vec3{}, ErrNotCalibrated
	}
	return st.axis, nil
}

// ReferencePoint returns the reference phase point in the fitted plane.
func (f *HaloFrame) ReferencePoint() (Vec3, error) {
	st := f.state.Load()
	if st == nil {
		return Vec3{}, ErrNotCalibrated
	}
	return st.ref, nil
}

// Calibrate fits the orbital plane of the primary body through
// bodySeries (positions of the primary relative to the orbit's centre) and
// rotates the static samples into it. It may be called once.
func (f *HaloFrame) Calibrate(bodySeries []Vec3) error {
	if f.state.Load() != nil {
		return ErrAlreadyCalibrated
	}
	if len(bodySeries) < MinCalibrationPoints {
		return fmt.Errorf("%w: calibration needs at least %d body positions, got %d",
			ErrInvalidArgument, MinCalibrationPoints, len(bodySeries))
	}

	axis, err := fitPlaneNormal(bodySeries)
	if err != nil {
		return err
	}

	proj := Identity3().Sub(Outer(axis, axis))
	nearest := 0
	best := math.Inf(1)
	for i, p := range bodySeries {
		if d := p.DistanceTo(f.nominalRef); d < best {
			best = d
			nearest = i
		}
	}
	ref := Project(proj, bodySeries[nearest])
	if ref.Norm() == 0 {
		return fmt.Errorf("%w: reference phase point projects onto the rotation axis", ErrInvalidArgument)
	}

	// Tilt the static plane onto the fitted one.
	tilt, err := rotationBetween(f.nominalNormal, axis)
	if err != nil {
		return fmt.Errorf("tilt static orbit plane: %w", err)
	}

	// Then spin about the axis until the nominal reference lines up with the
	// reference phase point.
	nominal := Project(proj, tilt.MulVec(f.nominalRef))
	if nominal.Norm() == 0 {
		return fmt.Errorf("%w: nominal reference is parallel to the rotation axis", ErrInvalidArgument)
	}
	spin, err := Rotation(axis, signedAngle(nominal, ref, axis))
	if err != nil {
		return err
	}
	total := spin.Mul(tilt)

	rotated := make([]OrbitSample, f.samples.Len())
	for i := range rotated {
		s := f.samples.At(i)
		rotated[i] = OrbitSample{ElapsedSeconds: s.ElapsedSeconds, Position: total.MulVec(s.Position)}
	}

	st := &frameState{axis: axis, ref: ref, rotated: rotated}
	if !f.state.CompareAndSwap(nil, st) {
		return ErrAlreadyCalibrated
	}
	return nil
}

// PositionAt returns the relay position at t, relative to the orbit's
// centre, given the primary body's current position relative to the same
// centre.
func (f *HaloFrame) PositionAt(t time.Time, body Vec3) (Vec3, error) {
	st := f.state.Load()
	if st == nil {
		return Vec3{}, ErrNotCalibrated
	}
	elapsed := t.Sub(f.epoch0).Seconds()
	if elapsed < 0 {
		return Vec3{}, fmt.Errorf("%w: %s precedes frame epoch %s",
			ErrInvalidArgument, t.Format(time.RFC3339Nano), f.epoch0.Format(time.RFC3339Nano))
	}
	period := st.rotated[len(st.rotated)-1].ElapsedSeconds
	folded := elapsed - math.Floor(elapsed/period)*period

	sample := st.rotated[nearestIndex(st.rotated, folded)].Position

	proj := Identity3().Sub(Outer(st.axis, st.axis))
	inPlane := Project(proj, body)
	if inPlane.Norm() == 0 {
		return Vec3{}, fmt.Errorf("%w: body position lies on the rotation axis", ErrInvalidArgument)
	}
	rot, err := Rotation(st.axis, signedAngle(st.ref, inPlane, st.axis))
	if err != nil {
		return Vec3{}, err
	}
	return rot.MulVec(sample), nil
}

// Summary exports the calibrated state.
func (f *HaloFrame) Summary() (FrameSummary, error) {
	st := f.state.Load()
	if st == nil {
		return FrameSummary{}, ErrNotCalibrated
	}
	samples := make([]OrbitSample, len(st.rotated))
	copy(samples, st.rotated)
	return FrameSummary{
		Axis:           st.axis,
		ReferencePoint: st.ref,
		Epoch0:         f.epoch0,
		Samples:        samples,
	}, nil
}

// HaloFrameFromSummary restores a calibrated frame without refitting.
func HaloFrameFromSummary(s FrameSummary) (*HaloFrame, error) {
	samples, err := NewOrbitSamples(s.Samples)
	if err != nil {
		return nil, fmt.Errorf("frame summary: %w", err)
	}
	axis := s.Axis
	if math.Abs(axis.Norm()-1) > 1e-9 {
		return nil, fmt.Errorf("%w: frame summary axis %v is not a unit vector", ErrInvalidArgument, axis)
	}
	if s.ReferencePoint.Norm() == 0 {
		return nil, fmt.Errorf("%w: frame summary reference point is zero", ErrInvalidArgument)
	}
	f := &HaloFrame{
		samples:       samples,
		epoch0:        s.Epoch0,
		nominalRef:    s.ReferencePoint,
		nominalNormal: axis,
	}
	f.state.Store(&frameState{axis: axis, ref: s.ReferencePoint, rotated: samples.samples})
	return f, nil
}

// fitPlaneNormal returns the least-variance principal axis of points,
// oriented along the points' angular momentum (Σ pᵢ × pᵢ₊₁), or towards +z
// when that vanishes.
func fitPlaneNormal(points []Vec3) (Vec3, error) {
	data := make([]float64, 0, 3*len(points))
	for _, p := range points {
		data = append(data, p.X, p.Y, p.Z)
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(mat.NewDense(len(points), 3, data), nil); !ok {
		return Vec3{}, fmt.Errorf("%w: principal component analysis failed", ErrInvalidArgument)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// Components are sorted by decreasing variance.
	axis, err := Vec3{X: vecs.At(0, 2), Y: vecs.At(1, 2), Z: vecs.At(2, 2)}.Unit()
	if err != nil {
		return Vec3{}, fmt.Errorf("fitted plane normal: %w", err)
	}

	var momentum Vec3
	for i := 0; i+1 < len(points); i++ {
		momentum = momentum.Add(points[i].Cross(points[i+1]))
	}
	s := axis.Dot(momentum)
	if s < 0 || (s == 0 && axis.Z < 0) {
		axis = axis.Neg()
	}
	return axis, nil
}

// signedAngle returns the angle from a to b about axis, in (-π, π].
func signedAngle(a, b, axis Vec3) float64 {
	return math.Atan2(a.Cross(b).Dot(axis), a.Dot(b))
}
