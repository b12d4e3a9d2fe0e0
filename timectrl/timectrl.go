// Package timectrl builds the evaluation time grids the simulator walks.
package timectrl

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidGrid is returned for grids that cannot be built.
var ErrInvalidGrid = errors.New("invalid time grid")

// MaxGridLength caps the number of timestamps a single grid may hold.
const MaxGridLength = 50_000_000

// Grid returns start, start+step, ... up to and including end when end falls
// on the step. Each point is computed from start directly so long grids do
// not accumulate drift.
func Grid(start, end time.Time, step time.Duration) ([]time.Time, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step must be positive, got %s", ErrInvalidGrid, step)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidGrid,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	n := int64(end.Sub(start)/step) + 1
	if n > MaxGridLength {
		return nil, fmt.Errorf("%w: %d timestamps exceed the limit of %d", ErrInvalidGrid, n, MaxGridLength)
	}
	grid := make([]time.Time, n)
	for i := range grid {
		grid[i] = start.Add(time.Duration(i) * step)
	}
	return grid, nil
}

// Sample picks n evenly spaced timestamps from grid, always keeping the first
// and last. n larger than the grid returns a copy of the whole grid.
func Sample(grid []time.Time, n int) ([]time.Time, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: sample size must be >= 1, got %d", ErrInvalidGrid, n)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: cannot sample an empty grid", ErrInvalidGrid)
	}
	if n >= len(grid) {
		return append([]time.Time(nil), grid...), nil
	}
	if n == 1 {
		return []time.Time{grid[0]}, nil
	}
	out := make([]time.Time, n)
	last := len(grid) - 1
	for i := range out {
		out[i] = grid[i*last/(n-1)]
	}
	return out, nil
}

// Clock reports the wall time used to stamp run metadata. Tests swap it for a
// fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
