package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/halo-visibility/kb"
	"github.com/signalsfoundry/halo-visibility/model"
)

// Run configuration defaults.
const (
	DefaultChunkSize         = 1000
	DefaultCalibrationPoints = 10000
	EphemerisAnalytic        = "analytic"
	EphemerisCircular        = "circular"
)

// RunConfig is everything one simulation run needs. It is loaded once and
// passed down explicitly.
type RunConfig struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
	// FrameEpoch is when the halo orbit is at its first sample. Defaults to
	// Start and may not be later than it.
	FrameEpoch time.Time

	ChunkSize   int
	Workers     int
	JoinTimeout time.Duration

	// CalibrationPoints is the size of the evenly spaced grid subsample used
	// to fit the body's orbital plane; clamped to the grid length.
	CalibrationPoints int
	MinElevationDeg   float64

	// Ephemeris selects the oracle: "analytic" or "circular".
	Ephemeris         string
	Bodies            Bodies
	PrimaryRadiusKm   float64
	SecondaryRadiusKm float64
	Stations          []model.GroundStation

	HaloFile       string
	Units          UnitSystem
	TrajectoryFile string
}

type runConfigJSON struct {
	Start             time.Time     `json:"start"`
	End               time.Time     `json:"end"`
	Step              string        `json:"step"`
	FrameEpoch        *time.Time    `json:"frame_epoch"`
	ChunkSize         *int          `json:"chunk_size"`
	Workers           int           `json:"workers"`
	JoinTimeout       string        `json:"join_timeout"`
	CalibrationPoints *int          `json:"calibration_points"`
	MinElevationDeg   *float64      `json:"min_elevation_deg"`
	Ephemeris         string        `json:"ephemeris"`
	Bodies            *bodiesJSON   `json:"bodies"`
	Stations          []stationJSON `json:"stations"`
	Halo              haloJSON      `json:"halo"`
	Trajectory        string        `json:"spacecraft_trajectory"`
}

type bodyJSON struct {
	Name     string  `json:"name"`
	RadiusKm float64 `json:"radius_km"`
}

type bodiesJSON struct {
	Primary       *bodyJSON `json:"primary"`
	Secondary     *bodyJSON `json:"secondary"`
	Sun           string    `json:"sun"`
	Spacecraft    string    `json:"spacecraft"`
	InertialFrame string    `json:"inertial_frame"`
}

type stationJSON struct {
	Name   string  `json:"name"`
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

type haloJSON struct {
	File         string  `json:"file"`
	TimeUnitS    float64 `json:"time_unit_s"`
	LengthUnitKm float64 `json:"length_unit_km"`
}

// LoadRunConfig decodes a JSON run configuration from r, fills defaults and
// validates the result. Unknown keys are rejected.
func LoadRunConfig(r io.Reader) (*RunConfig, error) {
	var payload runConfigJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: run config: %w", ErrMalformedInputFile, err)
	}

	cfg := &RunConfig{
		Start:             payload.Start.UTC(),
		End:               payload.End.UTC(),
		FrameEpoch:        payload.Start.UTC(),
		ChunkSize:         DefaultChunkSize,
		Workers:           payload.Workers,
		CalibrationPoints: DefaultCalibrationPoints,
		MinElevationDeg:   DefaultMinElevationDeg,
		Ephemeris:         strings.ToLower(payload.Ephemeris),
		Bodies:            DefaultBodies(),
		PrimaryRadiusKm:   DefaultPrimaryRadiusKm,
		SecondaryRadiusKm: DefaultSecondaryRadiusKm,
		HaloFile:          payload.Halo.File,
		Units:             EarthMoonUnits,
		TrajectoryFile:    payload.Trajectory,
	}
	if cfg.Ephemeris == "" {
		cfg.Ephemeris = EphemerisAnalytic
	}

	var err error
	if cfg.Step, err = parseDuration("step", payload.Step); err != nil {
		return nil, err
	}
	if cfg.JoinTimeout, err = parseDuration("join_timeout", payload.JoinTimeout); err != nil {
		return nil, err
	}
	if payload.FrameEpoch != nil {
		cfg.FrameEpoch = payload.FrameEpoch.UTC()
	}
	if payload.ChunkSize != nil {
		cfg.ChunkSize = *payload.ChunkSize
	}
	if payload.CalibrationPoints != nil {
		cfg.CalibrationPoints = *payload.CalibrationPoints
	}
	if payload.MinElevationDeg != nil {
		cfg.MinElevationDeg = *payload.MinElevationDeg
	}
	if payload.Halo.TimeUnitS != 0 {
		cfg.Units.TimeUnitSeconds = payload.Halo.TimeUnitS
	}
	if payload.Halo.LengthUnitKm != 0 {
		cfg.Units.LengthUnitKm = payload.Halo.LengthUnitKm
	}
	if b := payload.Bodies; b != nil {
		if b.Primary != nil {
			cfg.Bodies.Primary = b.Primary.Name
			if b.Primary.RadiusKm != 0 {
				cfg.PrimaryRadiusKm = b.Primary.RadiusKm
			}
		}
		if b.Secondary != nil {
			cfg.Bodies.Secondary = b.Secondary.Name
			if b.Secondary.RadiusKm != 0 {
				cfg.SecondaryRadiusKm = b.Secondary.RadiusKm
			}
		}
		overrideName(&cfg.Bodies.Sun, b.Sun)
		overrideName(&cfg.Bodies.Spacecraft, b.Spacecraft)
		overrideName(&cfg.Bodies.InertialFrame, b.InertialFrame)
	}
	for _, s := range payload.Stations {
		cfg.Stations = append(cfg.Stations, model.GroundStation{Name: s.Name, LatDeg: s.LatDeg, LonDeg: s.LonDeg, AltKm: s.AltKm})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRunConfigFile loads path and resolves the data files it names
// relative to the directory holding it.
func LoadRunConfigFile(path string) (*RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInputFile, err)
		}
		return nil, err
	}
	defer f.Close()

	cfg, err := LoadRunConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ResolvePaths(filepath.Dir(path))
	return cfg, nil
}

func overrideName(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, field, err)
	}
	return d, nil
}

// ResolvePaths makes relative data file paths relative to dir.
func (c *RunConfig) ResolvePaths(dir string) {
	for _, p := range []*string{&c.HaloFile, &c.TrajectoryFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *RunConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Start.IsZero() || c.End.IsZero() {
		add("start and end are required")
	} else if c.End.Before(c.Start) {
		add("end %s precedes start %s", c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	}
	if c.FrameEpoch.After(c.Start) {
		add("frame_epoch %s is after start", c.FrameEpoch.Format(time.RFC3339))
	}
	if c.Step <= 0 {
		add("step must be positive")
	}
	if c.ChunkSize < 1 {
		add("chunk_size must be >= 1")
	}
	if c.Workers < 0 {
		add("workers must be >= 0")
	}
	if c.JoinTimeout < 0 {
		add("join_timeout must not be negative")
	}
	if c.CalibrationPoints < MinCalibrationPoints {
		add("calibration_points must be >= %d", MinCalibrationPoints)
	}
	if c.PrimaryRadiusKm <= 0 || c.SecondaryRadiusKm <= 0 {
		add("body radii must be positive")
	}
	if err := c.Bodies.validate(); err != nil {
		add("%v", err)
	}
	if err := c.Units.Validate(); err != nil {
		add("%v", err)
	}
	if c.HaloFile == "" {
		add("halo.file is required")
	}
	switch c.Ephemeris {
	case EphemerisAnalytic:
		if c.TrajectoryFile == "" {
			add("the analytic ephemeris needs spacecraft_trajectory")
		}
	case EphemerisCircular:
	default:
		add("unknown ephemeris %q", c.Ephemeris)
	}
	if len(c.Stations) > MaxStations {
		add("%d stations exceed the %d available slots", len(c.Stations), MaxStations)
	}
	if _, err := NewResultTable(c.StationNames(), 0); err != nil && len(c.Stations) <= MaxStations {
		add("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: run config: %s", ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}

// StationNames returns the configured station names in slot order.
func (c *RunConfig) StationNames() []string {
	names := make([]string, len(c.Stations))
	for i, s := range c.Stations {
		names[i] = s.Name
	}
	return names
}

// Model returns the visibility model for the configured radii.
func (c *RunConfig) Model() VisibilityModel {
	return VisibilityModel{PrimaryRadiusKm: c.PrimaryRadiusKm, SecondaryRadiusKm: c.SecondaryRadiusKm}
}

// PopulateCatalog registers the configured bodies and stations in cat.
func (c *RunConfig) PopulateCatalog(cat *kb.Catalog) error {
	if cat == nil {
		return fmt.Errorf("%w: catalog is nil", ErrInvalidArgument)
	}
	for _, b := range []model.Body{
		{Name: c.Bodies.Primary, RadiusKm: c.PrimaryRadiusKm},
		{Name: c.Bodies.Secondary, RadiusKm: c.SecondaryRadiusKm},
	} {
		if err := cat.AddBody(b); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	for _, s := range c.Stations {
		if err := cat.AddStation(s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	return nil
}
