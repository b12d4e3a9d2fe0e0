package core

import (
	"fmt"
	"sync"
	"time"
)

// DefaultMinElevationDeg is the elevation mask applied to derived station
// line-of-sight columns unless SetMinElevation overrides it.
const DefaultMinElevationDeg = 10.0

// Column names shared by every table. Station columns are named
// "<station>_elev" and "<station>_dist".
const (
	ColumnTime      = "time"
	ColumnRelayDist = "relay_dist"
	ColumnState     = "state"

	elevSuffix = "_elev"
	distSuffix = "_dist"
)

// Row is the evaluation result for one timestamp.
type Row struct {
	Time time.Time
	// Elevations and Distances are indexed by station slot.
	Elevations    []float64
	Distances     []float64
	RelayDistance float64
	State         State
}

// ResultTable is a column-oriented, strictly time-ordered set of rows.
// Rows are appended while a chunk is evaluated; once handed to consumers the
// table is only read, apart from the lazily computed station line-of-sight
// columns, which are cached under a mutex.
type ResultTable struct {
	stations  []string
	times     []time.Time
	elev      [][]float64
	dist      [][]float64
	relayDist []float64
	states    []State

	mu           sync.Mutex
	minElevation float64
	losCache     map[string][]bool
}

// NewResultTable creates an empty table for the given stations, in slot order.
func NewResultTable(stations []string, capacity int) (*ResultTable, error) {
	if len(stations) > MaxStations {
		return nil, fmt.Errorf("%w: %d stations exceed the %d available slots", ErrInvalidArgument, len(stations), MaxStations)
	}
	seen := make(map[string]struct{}, len(stations))
	for _, s := range stations {
		if s == "" {
			return nil, fmt.Errorf("%w: station name is empty", ErrInvalidArgument)
		}
		if s+distSuffix == ColumnRelayDist {
			return nil, fmt.Errorf("%w: station name %q collides with the relay column", ErrInvalidArgument, s)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: duplicate station %q", ErrInvalidArgument, s)
		}
		seen[s] = struct{}{}
	}
	if capacity < 0 {
		capacity = 0
	}
	t := &ResultTable{
		stations:     append([]string(nil), stations...),
		times:        make([]time.Time, 0, capacity),
		elev:         make([][]float64, len(stations)),
		dist:         make([][]float64, len(stations)),
		relayDist:    make([]float64, 0, capacity),
		states:       make([]State, 0, capacity),
		minElevation: DefaultMinElevationDeg,
	}
	for i := range stations {
		t.elev[i] = make([]float64, 0, capacity)
		t.dist[i] = make([]float64, 0, capacity)
	}
	return t, nil
}

// Append adds a row. Rows must arrive in strictly increasing time order.
func (t *ResultTable) Append(r Row) error {
	if len(r.Elevations) != len(t.stations) || len(r.Distances) != len(t.stations) {
		return fmt.Errorf("%w: row has %d elevations and %d distances for %d stations",
			ErrInvalidArgument, len(r.Elevations), len(r.Distances), len(t.stations))
	}
	if n := len(t.times); n > 0 && !r.Time.After(t.times[n-1]) {
		return fmt.Errorf("%w: row time %s does not follow %s",
			ErrInvalidArgument, r.Time.Format(time.RFC3339Nano), t.times[n-1].Format(time.RFC3339Nano))
	}
	t.times = append(t.times, r.Time)
	for i := range t.stations {
		t.elev[i] = append(t.elev[i], r.Elevations[i])
		t.dist[i] = append(t.dist[i], r.Distances[i])
	}
	t.relayDist = append(t.relayDist, r.RelayDistance)
	t.states = append(t.states, r.State)
	t.invalidate()
	return nil
}

// ConcatTables joins tables in the given order into a new table. All inputs
// must share the same station list and follow each other in time.
func ConcatTables(tables ...*ResultTable) (*ResultTable, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrInvalidArgument)
	}
	total := 0
	for _, tb := range tables {
		total += tb.Len()
	}
	out, err := NewResultTable(tables[0].stations, total)
	if err != nil {
		return nil, err
	}
	for k, tb := range tables {
		if !sameStations(tb.stations, out.stations) {
			return nil, fmt.Errorf("%w: table %d stations %v differ from %v", ErrInvalidArgument, k, tb.stations, out.stations)
		}
		if tb.Len() == 0 {
			continue
		}
		if n := len(out.times); n > 0 && !tb.times[0].After(out.times[n-1]) {
			return nil, fmt.Errorf("%w: table %d starts at %s, not after %s", ErrInvalidArgument, k,
				tb.times[0].Format(time.RFC3339Nano), out.times[n-1].Format(time.RFC3339Nano))
		}
		// Rows within a table are already strictly increasing.
		out.times = append(out.times, tb.times...)
		for i := range out.stations {
			out.elev[i] = append(out.elev[i], tb.elev[i]...)
			out.dist[i] = append(out.dist[i], tb.dist[i]...)
		}
		out.relayDist = append(out.relayDist, tb.relayDist...)
		out.states = append(out.states, tb.states...)
	}
	return out, nil
}

func sameStations(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len returns the number of rows.
func (t *ResultTable) Len() int { return len(t.times) }

// Stations returns the station names in slot order.
func (t *ResultTable) Stations() []string {
	return append([]string(nil), t.stations...)
}

// Times returns a copy of the time column.
func (t *ResultTable) Times() []time.Time {
	return append([]time.Time(nil), t.times...)
}

// States returns a copy of the state column.
func (t *ResultTable) States() []State {
	return append([]State(nil), t.states...)
}

// RelayDistances returns a copy of the relay distance column (km).
func (t *ResultTable) RelayDistances() []float64 {
	return append([]float64(nil), t.relayDist...)
}

// Row returns row i.
func (t *ResultTable) Row(i int) Row {
	r := Row{
		Time:          t.times[i],
		Elevations:    make([]float64, len(t.stations)),
		Distances:     make([]float64, len(t.stations)),
		RelayDistance: t.relayDist[i],
		State:         t.states[i],
	}
	for s := range t.stations {
		r.Elevations[s] = t.elev[s][i]
		r.Distances[s] = t.dist[s][i]
	}
	return r
}

func (t *ResultTable) slot(station string) (int, error) {
	for i, s := range t.stations {
		if s == station {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStation, station)
}

// Elevations returns a copy of a station's elevation column (degrees).
func (t *ResultTable) Elevations(station string) ([]float64, error) {
	i, err := t.slot(station)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), t.elev[i]...), nil
}

// Distances returns a copy of a station's slant range column (km).
func (t *ResultTable) Distances(station string) ([]float64, error) {
	i, err := t.slot(station)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), t.dist[i]...), nil
}

// ColumnNames lists the table's columns in storage order.
func (t *ResultTable) ColumnNames() []string {
	names := []string{ColumnTime}
	for _, s := range t.stations {
		names = append(names, s+elevSuffix)
	}
	for _, s := range t.stations {
		names = append(names, s+distSuffix)
	}
	return append(names, ColumnRelayDist, ColumnState)
}

// Column returns a numeric copy of the named column. The time column is
// reported as Unix seconds.
func (t *ResultTable) Column(name string) ([]float64, error) {
	switch name {
	case ColumnTime:
		out := make([]float64, len(t.times))
		for i, ts := range t.times {
			out[i] = float64(ts.UnixNano()) / 1e9
		}
		return out, nil
	case ColumnRelayDist:
		return t.RelayDistances(), nil
	case ColumnState:
		out := make([]float64, len(t.states))
		for i, s := range t.states {
			out[i] = float64(s)
		}
		return out, nil
	}
	for i, s := range t.stations {
		switch name {
		case s + elevSuffix:
			return append([]float64(nil), t.elev[i]...), nil
		case s + distSuffix:
			return append([]float64(nil), t.dist[i]...), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
}

// AboveElevation reports where a station's elevation strictly exceeds
// threshold degrees.
func (t *ResultTable) AboveElevation(station string, threshold float64) ([]bool, error) {
	i, err := t.slot(station)
	if err != nil {
		return nil, err
	}
	return AboveElevation(t.elev[i], threshold), nil
}

// HasAll reports, per row, whether every flag is set.
func (t *ResultTable) HasAll(flags ...Flag) []bool {
	return HasAll(t.states, flags...)
}

// HasNone reports, per row, NOT(HasAll(flags)).
func (t *ResultTable) HasNone(flags ...Flag) []bool {
	return HasNone(t.states, flags...)
}

// Flags returns the per-row value of a flag given by its schema name, for
// example "relay_los" or "clear_station_2".
func (t *ResultTable) Flags(name string) ([]bool, error) {
	for f, n := range flagNames {
		if n == name {
			return t.HasAll(f), nil
		}
	}
	return nil, fmt.Errorf("%w: flag %q", ErrUnknownColumn, name)
}

// MinElevation returns the elevation mask used by StationLOS.
func (t *ResultTable) MinElevation() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minElevation
}

// SetMinElevation changes the elevation mask and drops cached LOS columns.
func (t *ResultTable) SetMinElevation(deg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minElevation = deg
	t.losCache = nil
}

func (t *ResultTable) invalidate() {
	t.mu.Lock()
	t.losCache = nil
	t.mu.Unlock()
}

// StationLOS reports where a station can talk to the spacecraft: above the
// elevation mask and not blocked by the primary body. The column is computed
// once per station and cached.
func (t *ResultTable) StationLOS(station string) ([]bool, error) {
	i, err := t.slot(station)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.losCache[station]; ok {
		return append([]bool(nil), cached...), nil
	}
	flag, err := StationFlag(i)
	if err != nil {
		return nil, err
	}
	above := AboveElevation(t.elev[i], t.minElevation)
	unblocked := HasAll(t.states, flag)
	los := make([]bool, len(above))
	for k := range los {
		los[k] = above[k] && unblocked[k]
	}
	if t.losCache == nil {
		t.losCache = make(map[string][]bool, len(t.stations))
	}
	t.losCache[station] = los
	return append([]bool(nil), los...), nil
}

// AnyStationLOS reports where at least one station has line of sight.
func (t *ResultTable) AnyStationLOS() []bool {
	out := make([]bool, t.Len())
	for _, s := range t.stations {
		los, err := t.StationLOS(s)
		if err != nil {
			continue
		}
		for i, v := range los {
			out[i] = out[i] || v
		}
	}
	return out
}

// CommStates derives the operating mode of every row.
func (t *ResultTable) CommStates() []CommState {
	inView := t.AnyStationLOS()
	out := make([]CommState, t.Len())
	for i, s := range t.states {
		out[i] = DeriveCommState(s, inView[i])
	}
	return out
}
