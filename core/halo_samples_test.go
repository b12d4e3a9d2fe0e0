package core

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrbitSamples_ConvertsUnits(t *testing.T) {
	in := "time, x, y, z\n0, 1, 0, 0\n0.5, 1.1, 0.2, -0.1\n1.0, 1, 0, 0\n"
	samples, err := LoadOrbitSamples(strings.NewReader(in), EarthMoonUnits)
	if err != nil {
		t.Fatalf("LoadOrbitSamples: %v", err)
	}
	if samples.Len() != 3 {
		t.Fatalf("Len = %d, want 3", samples.Len())
	}
	if got := samples.Period(); got != EarthMoonUnits.TimeUnitSeconds {
		t.Fatalf("Period = %v, want %v", got, EarthMoonUnits.TimeUnitSeconds)
	}
	s := samples.At(1)
	want := Vec3{X: 1.1 * 389703, Y: 0.2 * 389703, Z: -0.1 * 389703}
	if !vecAlmostEqual(s.Position, want, 1e-6) {
		t.Fatalf("sample 1 position = %v, want %v", s.Position, want)
	}
	if !almostEqual(s.ElapsedSeconds, 0.5*382981, 1e-6) {
		t.Fatalf("sample 1 time = %v, want %v", s.ElapsedSeconds, 0.5*382981)
	}
}

func TestLoadOrbitSamples_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"header only", "time,x,y,z\n"},
		{"single row", "time,x,y,z\n0,1,0,0\n"},
		{"bad number", "time,x,y,z\n0,1,0,0\n1,abc,0,0\n"},
		{"short row", "time,x,y,z\n0,1,0,0\n1,1,0\n"},
		{"first time not zero", "time,x,y,z\n0.1,1,0,0\n1,1,0,0\n"},
		{"time goes backwards", "time,x,y,z\n0,1,0,0\n2,1,0,0\n1,1,0,0\n"},
		{"repeated time", "time,x,y,z\n0,1,0,0\n1,1,0,0\n1,1,0,0\n"},
		{"nan position", "time,x,y,z\n0,NaN,0,0\n1,0.9,0,0\n2,0.8,0,0\n"},
		{"infinite position", "time,x,y,z\n0,1,0,0\n1,0.9,Inf,0\n2,0.8,0,0\n"},
		{"infinite time", "time,x,y,z\n0,1,0,0\n+Inf,0.9,0,0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadOrbitSamples(strings.NewReader(tc.in), EarthMoonUnits)
			if !errors.Is(err, ErrMalformedInputFile) {
				t.Fatalf("err = %v, want ErrMalformedInputFile", err)
			}
		})
	}
}

func TestLoadOrbitSamplesFile(t *testing.T) {
	samples, err := LoadOrbitSamplesFile(filepath.Join("testdata", "halo_orbit.csv"), EarthMoonUnits)
	if err != nil {
		t.Fatalf("LoadOrbitSamplesFile: %v", err)
	}
	if samples.Len() != 65 {
		t.Fatalf("Len = %d, want 65", samples.Len())
	}
	if !almostEqual(samples.Period(), 3.2*382981, 1e-6) {
		t.Fatalf("Period = %v", samples.Period())
	}

	_, err = LoadOrbitSamplesFile(filepath.Join("testdata", "does_not_exist.csv"), EarthMoonUnits)
	if !errors.Is(err, ErrMalformedInputFile) {
		t.Fatalf("missing file: err = %v, want ErrMalformedInputFile", err)
	}
}

func TestLoadOrbitSamples_BadUnits(t *testing.T) {
	_, err := LoadOrbitSamples(strings.NewReader("t,x,y,z\n0,1,0,0\n1,1,0,0\n"), UnitSystem{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero units: err = %v, want ErrInvalidArgument", err)
	}
}

func TestOrbitSamples_Nearest(t *testing.T) {
	samples, err := NewOrbitSamples([]OrbitSample{
		{ElapsedSeconds: 0}, {ElapsedSeconds: 10}, {ElapsedSeconds: 30}, {ElapsedSeconds: 31},
	})
	if err != nil {
		t.Fatalf("NewOrbitSamples: %v", err)
	}
	tests := []struct {
		elapsed float64
		want    int
	}{
		{-5, 0}, {0, 0}, {4.9, 0}, {5, 0}, {5.1, 1}, {20, 1}, {20.5, 2}, {30.5, 2}, {30.6, 3}, {99, 3},
	}
	for _, tc := range tests {
		if got := samples.Nearest(tc.elapsed); got != tc.want {
			t.Errorf("Nearest(%v) = %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}
