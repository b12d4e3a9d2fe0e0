package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// UnitSystem converts nondimensional CR3BP quantities to SI-ish units.
type UnitSystem struct {
	TimeUnitSeconds float64
	LengthUnitKm    float64
}

// EarthMoonUnits are the Earth-Moon CR3BP characteristic units published
// with the JPL periodic orbit catalogue.
var EarthMoonUnits = UnitSystem{
	TimeUnitSeconds: 382981,
	LengthUnitKm:    389703,
}

// Validate rejects non-positive scale factors.
func (u UnitSystem) Validate() error {
	if u.TimeUnitSeconds <= 0 || u.LengthUnitKm <= 0 {
		return fmt.Errorf("%w: unit system scales must be positive (TU=%v, LU=%v)",
			ErrInvalidArgument, u.TimeUnitSeconds, u.LengthUnitKm)
	}
	return nil
}

// OrbitSample is one time-stamped point of a static periodic orbit.
type OrbitSample struct {
	ElapsedSeconds float64
	Position       Vec3
}

// OrbitSamples is an immutable, time-ordered table of orbit samples. The
// first sample is at elapsed time zero and the last one closes the period.
type OrbitSamples struct {
	samples []OrbitSample
}

// NewOrbitSamples validates and copies samples.
func NewOrbitSamples(samples []OrbitSample) (*OrbitSamples, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: orbit needs at least 2 samples, got %d", ErrMalformedInputFile, len(samples))
	}
	if samples[0].ElapsedSeconds != 0 {
		return nil, fmt.Errorf("%w: first orbit sample must be at t=0, got %v", ErrMalformedInputFile, samples[0].ElapsedSeconds)
	}
	for i := 1; i < len(samples); i++ {
		if !(samples[i].ElapsedSeconds > samples[i-1].ElapsedSeconds) {
			return nil, fmt.Errorf("%w: orbit sample %d time %v does not increase (previous %v)",
				ErrMalformedInputFile, i, samples[i].ElapsedSeconds, samples[i-1].ElapsedSeconds)
		}
	}
	cp := make([]OrbitSample, len(samples))
	copy(cp, samples)
	return &OrbitSamples{samples: cp}, nil
}

// Len returns the number of samples.
func (o *OrbitSamples) Len() int { return len(o.samples) }

// At returns sample i.
func (o *OrbitSamples) At(i int) OrbitSample { return o.samples[i] }

// Period returns the orbit period in seconds (time of the last sample).
func (o *OrbitSamples) Period() float64 {
	return o.samples[len(o.samples)-1].ElapsedSeconds
}

// Samples returns a copy of the table.
func (o *OrbitSamples) Samples() []OrbitSample {
	cp := make([]OrbitSample, len(o.samples))
	copy(cp, o.samples)
	return cp
}

// Nearest returns the index of the sample whose time is closest to elapsed.
// Ties resolve to the earlier sample.
func (o *OrbitSamples) Nearest(elapsed float64) int {
	return nearestIndex(o.samples, elapsed)
}

func nearestIndex(samples []OrbitSample, elapsed float64) int {
	n := len(samples)
	// First index with time >= elapsed.
	i := sort.Search(n, func(k int) bool { return samples[k].ElapsedSeconds >= elapsed })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	before := elapsed - samples[i-1].ElapsedSeconds
	after := samples[i].ElapsedSeconds - elapsed
	if after < before {
		return i
	}
	return i - 1
}

// LoadOrbitSamples reads a comma-separated orbit table with one header line
// and rows of (time, x, y, z) in the nondimensional units described by units.
func LoadOrbitSamples(r io.Reader, units UnitSystem) (*OrbitSamples, error) {
	if err := units.Validate(); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: orbit samples: %v", ErrMalformedInputFile, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: orbit samples: empty input", ErrMalformedInputFile)
	}

	samples := make([]OrbitSample, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) != 4 {
			return nil, fmt.Errorf("%w: orbit samples line %d: expected 4 fields, got %d",
				ErrMalformedInputFile, line, len(rec))
		}
		var vals [4]float64
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: orbit samples line %d field %d: %v",
					ErrMalformedInputFile, line, j+1, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: orbit samples line %d field %d is not finite",
					ErrMalformedInputFile, line, j+1)
			}
			vals[j] = v
		}
		samples = append(samples, OrbitSample{
			ElapsedSeconds: vals[0] * units.TimeUnitSeconds,
			Position: Vec3{
				X: vals[1] * units.LengthUnitKm,
				Y: vals[2] * units.LengthUnitKm,
				Z: vals[3] * units.LengthUnitKm,
			},
		})
	}
	return NewOrbitSamples(samples)
}

// LoadOrbitSamplesFile opens path and delegates to LoadOrbitSamples.
func LoadOrbitSamplesFile(path string, units UnitSystem) (*OrbitSamples, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: orbit samples %q not found", ErrMalformedInputFile, path)
		}
		return nil, fmt.Errorf("%w: open orbit samples %q: %v", ErrMalformedInputFile, path, err)
	}
	defer f.Close()

	samples, err := LoadOrbitSamples(f, units)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}
