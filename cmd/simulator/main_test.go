package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/halo-visibility/core"
	"github.com/signalsfoundry/halo-visibility/internal/logging"
	"github.com/signalsfoundry/halo-visibility/internal/resultio"
	"github.com/signalsfoundry/halo-visibility/timectrl"
)

func writeCircularConfig(t *testing.T) string {
	t.Helper()
	halo, err := filepath.Abs(filepath.Join("..", "..", "configs", "halo_orbit.csv"))
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	cfg := `{
  "start": "2026-03-10T00:00:00Z",
  "end": "2026-03-10T06:00:00Z",
  "step": "10m",
  "chunk_size": 5,
  "workers": 2,
  "calibration_points": 20,
  "ephemeris": "circular",
  "stations": [
    {"name": "NN11", "lat_deg": -31.048, "lon_deg": 116.191, "alt_km": 0.252},
    {"name": "CB11", "lat_deg": -35.401, "lon_deg": 148.982, "alt_km": 0.692}
  ],
  "halo": {"file": "` + filepath.ToSlash(halo) + `"}
}`
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-config", "x.json", "-workers", "3", "-chunk-size", "7", "-binary", "out.bin"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.configPath != "x.json" || o.workers != 3 || o.chunkSize != 7 || o.binaryPath != "out.bin" || o.csvPath != "-" {
		t.Fatalf("options = %+v", o)
	}
	if _, err := parseFlags([]string{"stray"}); err == nil {
		t.Fatalf("stray positional argument accepted")
	}
}

func TestSimulate_CircularWritesCSVAndBinary(t *testing.T) {
	cfgPath := writeCircularConfig(t)
	binPath := filepath.Join(t.TempDir(), "table.bin")

	var stdout bytes.Buffer
	clock := timectrl.FixedClock(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	opts := options{configPath: cfgPath, csvPath: "-", binaryPath: binPath, workers: -1}
	if err := simulate(context.Background(), opts, &stdout, logging.Noop(), clock); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	records, err := csv.NewReader(&stdout).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	wantHeader := "time,NN11_elev,CB11_elev,NN11_dist,CB11_dist,relay_dist,state"
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Fatalf("header = %q, want %q", got, wantHeader)
	}
	if len(records) != 1+37 {
		t.Fatalf("csv rows = %d, want 37", len(records)-1)
	}
	if records[1][0] != "2026-03-10T00:00:00Z" || records[37][0] != "2026-03-10T06:00:00Z" {
		t.Fatalf("time span = %s..%s", records[1][0], records[37][0])
	}

	f, err := os.Open(binPath)
	if err != nil {
		t.Fatalf("open binary: %v", err)
	}
	defer f.Close()
	table, err := resultio.Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if table.Len() != 37 {
		t.Fatalf("binary rows = %d, want 37", table.Len())
	}
	if table.MinElevation() != core.DefaultMinElevationDeg {
		t.Fatalf("MinElevation = %v", table.MinElevation())
	}
	dist, err := table.Distances("NN11")
	if err != nil {
		t.Fatalf("Distances: %v", err)
	}
	for i, d := range dist {
		if d < 370000 || d > 400000 {
			t.Fatalf("NN11 distance[%d] = %v km, outside the lunar range", i, d)
		}
	}
}

func TestRun_AnalyticSampleConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	err := run(context.Background(), []string{
		"-config", filepath.Join("..", "..", "configs", "run.json"),
		"-out", out,
		"-chunk-size", "500",
	}, &bytes.Buffer{}, logging.Noop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// One day at 60 s, both ends included.
	if len(lines) != 1+1441 {
		t.Fatalf("csv lines = %d, want 1442", len(lines))
	}
	if !strings.HasPrefix(lines[0], "time,NN11_elev,CB11_elev,AAU_elev,") {
		t.Fatalf("header = %q", lines[0])
	}
}

func TestSimulate_MissingConfig(t *testing.T) {
	opts := options{configPath: filepath.Join(t.TempDir(), "absent.json"), csvPath: "-", workers: -1}
	err := simulate(context.Background(), opts, &bytes.Buffer{}, logging.Noop(), timectrl.SystemClock{})
	if !errors.Is(err, core.ErrMalformedInputFile) {
		t.Fatalf("err = %v, want ErrMalformedInputFile", err)
	}
}
