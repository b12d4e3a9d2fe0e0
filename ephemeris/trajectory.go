package ephemeris

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/halo-visibility/core"
)

// TrajectorySample is one time-tagged position, primary-centred, inertial
// axes, km.
type TrajectorySample struct {
	Time     time.Time
	Position core.Vec3
}

// Trajectory interpolates a spacecraft's tabulated positions linearly.
type Trajectory struct {
	samples []TrajectorySample
}

// NewTrajectory requires at least two samples with strictly increasing
// times.
func NewTrajectory(samples []TrajectorySample) (*Trajectory, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: trajectory needs at least 2 samples, got %d", core.ErrInvalidArgument, len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if !samples[i].Time.After(samples[i-1].Time) {
			return nil, fmt.Errorf("%w: trajectory sample %d at %s does not follow %s", core.ErrInvalidArgument,
				i, samples[i].Time.Format(time.RFC3339Nano), samples[i-1].Time.Format(time.RFC3339Nano))
		}
	}
	return &Trajectory{samples: append([]TrajectorySample(nil), samples...)}, nil
}

// Span returns the first and last sample times.
func (tr *Trajectory) Span() (start, end time.Time) {
	return tr.samples[0].Time, tr.samples[len(tr.samples)-1].Time
}

// Len returns the number of samples.
func (tr *Trajectory) Len() int { return len(tr.samples) }

// At interpolates the position at epoch. Epochs outside Span fail with
// ErrEpochOutOfRange; there is no extrapolation.
func (tr *Trajectory) At(epoch time.Time) (core.Vec3, error) {
	start, end := tr.Span()
	if epoch.Before(start) || epoch.After(end) {
		return core.Vec3{}, fmt.Errorf("%w: %s outside trajectory [%s, %s]", ErrEpochOutOfRange,
			epoch.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
	i := sort.Search(len(tr.samples), func(i int) bool { return !tr.samples[i].Time.Before(epoch) })
	hi := tr.samples[i]
	if hi.Time.Equal(epoch) {
		return hi.Position, nil
	}
	lo := tr.samples[i-1]
	frac := float64(epoch.Sub(lo.Time)) / float64(hi.Time.Sub(lo.Time))
	return lo.Position.Add(hi.Position.Sub(lo.Position).Scale(frac)), nil
}

// LoadTrajectory parses CSV rows of "time,x_km,y_km,z_km" with an
// RFC 3339 time column. The first row is a header.
func LoadTrajectory(r io.Reader) (*Trajectory, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: trajectory: %w", core.ErrMalformedInputFile, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: trajectory file is empty", core.ErrMalformedInputFile)
	}

	samples := make([]TrajectorySample, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) != 4 {
			return nil, fmt.Errorf("%w: trajectory line %d has %d fields, want 4", core.ErrMalformedInputFile, line, len(rec))
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: trajectory line %d: %w", core.ErrMalformedInputFile, line, err)
		}
		var xyz [3]float64
		for j := range xyz {
			if xyz[j], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64); err != nil {
				return nil, fmt.Errorf("%w: trajectory line %d: %w", core.ErrMalformedInputFile, line, err)
			}
			if math.IsNaN(xyz[j]) || math.IsInf(xyz[j], 0) {
				return nil, fmt.Errorf("%w: trajectory line %d field %d is not finite", core.ErrMalformedInputFile, line, j+2)
			}
		}
		samples = append(samples, TrajectorySample{Time: ts.UTC(), Position: core.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}})
	}
	tr, err := NewTrajectory(samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedInputFile, err)
	}
	return tr, nil
}

// LoadTrajectoryFile opens path and calls LoadTrajectory.
func LoadTrajectoryFile(path string) (*Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedInputFile, err)
		}
		return nil, err
	}
	defer f.Close()
	return LoadTrajectory(f)
}
