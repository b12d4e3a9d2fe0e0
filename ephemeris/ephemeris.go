// Package ephemeris resolves named points and frames for the visibility
// evaluator. Positions are computed in the secondary body's inertial frame
// (Earth-centred, equator of date) and differenced on demand.
package ephemeris

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/halo-visibility/core"
)

const deg = math.Pi / 180

type positionFunc func(t time.Time) (core.Vec3, error)

// frameFunc returns the rotation taking inertial components into the frame.
type frameFunc func(t time.Time) core.Mat3

// Ephemeris is an immutable table of point and frame resolvers. It is safe
// for concurrent use.
type Ephemeris struct {
	inertial string
	points   map[string]positionFunc
	frames   map[string]frameFunc
}

func newEphemeris(inertial string) *Ephemeris {
	e := &Ephemeris{
		inertial: inertial,
		points:   make(map[string]positionFunc),
		frames:   make(map[string]frameFunc),
	}
	e.frames[inertial] = func(time.Time) core.Mat3 { return core.Identity3() }
	return e
}

func (e *Ephemeris) addPoint(name string, fn positionFunc) error {
	if name == "" {
		return fmt.Errorf("%w: point name is empty", core.ErrInvalidArgument)
	}
	if _, ok := e.points[name]; ok {
		return fmt.Errorf("%w: point %q defined twice", core.ErrInvalidArgument, name)
	}
	e.points[name] = fn
	return nil
}

func (e *Ephemeris) addFrame(name string, fn frameFunc) error {
	if _, ok := e.frames[name]; ok {
		return fmt.Errorf("%w: frame %q defined twice", core.ErrInvalidArgument, name)
	}
	e.frames[name] = fn
	return nil
}

// Points lists the resolvable point names, sorted.
func (e *Ephemeris) Points() []string {
	names := make([]string, 0, len(e.points))
	for n := range e.points {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Frames lists the resolvable frame names, sorted.
func (e *Ephemeris) Frames() []string {
	names := make([]string, 0, len(e.frames))
	for n := range e.frames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Ephemeris) position(name string, t time.Time) (core.Vec3, error) {
	fn, ok := e.points[name]
	if !ok {
		return core.Vec3{}, fmt.Errorf("%w %q", ErrUnknownPoint, name)
	}
	return fn(t)
}

// Vector3 implements core.Oracle.
func (e *Ephemeris) Vector3(origin, target, frame string, epoch time.Time) (core.Vec3, error) {
	return e.vector(origin, target, frame, epoch, e.position)
}

func (e *Ephemeris) vector(origin, target, frame string, epoch time.Time, lookup func(string, time.Time) (core.Vec3, error)) (core.Vec3, error) {
	rot, ok := e.frames[frame]
	if !ok {
		return core.Vec3{}, fmt.Errorf("%w %q", ErrUnknownFrame, frame)
	}
	o, err := lookup(origin, epoch)
	if err != nil {
		return core.Vec3{}, err
	}
	tg, err := lookup(target, epoch)
	if err != nil {
		return core.Vec3{}, err
	}
	return rot(epoch).MulVec(tg.Sub(o)), nil
}

// Open returns a handle that memoises positions for the most recent epoch.
// The evaluator asks for the same handful of points many times per
// timestamp.
func (e *Ephemeris) Open() *Handle {
	return &Handle{eph: e, cache: make(map[string]core.Vec3)}
}

// Factory adapts Open to core.OracleFactory.
func (e *Ephemeris) Factory() core.OracleFactory {
	return func() (core.Oracle, error) { return e.Open(), nil }
}

// Handle is a caching view of an Ephemeris.
type Handle struct {
	eph *Ephemeris

	mu    sync.Mutex
	epoch time.Time
	cache map[string]core.Vec3
}

// Vector3 implements core.Oracle.
func (h *Handle) Vector3(origin, target, frame string, epoch time.Time) (core.Vec3, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.epoch.Equal(epoch) {
		clear(h.cache)
		h.epoch = epoch
	}
	return h.eph.vector(origin, target, frame, epoch, h.cached)
}

func (h *Handle) cached(name string, t time.Time) (core.Vec3, error) {
	if v, ok := h.cache[name]; ok {
		return v, nil
	}
	v, err := h.eph.position(name, t)
	if err != nil {
		return core.Vec3{}, err
	}
	h.cache[name] = v
	return v, nil
}

// enuRotation returns the rotation into the east-north-up frame of a site at
// latitude lat whose meridian lies at inertial right ascension theta.
func enuRotation(lat, theta float64) core.Mat3 {
	sl, cl := math.Sincos(lat)
	st, ct := math.Sincos(theta)
	return core.Mat3{
		{-st, ct, 0},
		{-sl * ct, -sl * st, cl},
		{cl * ct, cl * st, sl},
	}
}
