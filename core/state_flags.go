package core

import (
	"fmt"
	"strings"
)

// State is the per-timestamp visibility bitmask.
type State uint8

// Flag is a single bit (or a combination of bits) of a State.
type Flag uint8

// FlagSchemaVersion identifies the bit layout below. Persisted tables carry
// it so readers can reject layouts they do not understand.
const FlagSchemaVersion = 1

// Bit assignments, schema version 1. Never renumber; add new flags at the
// next free bit and bump FlagSchemaVersion.
const (
	FlagSunOnSpacecraft Flag = 1 << iota
	FlagSunOnBody
	FlagClearStation0
	FlagClearStation1
	FlagClearStation2
	FlagClearStation3
	FlagRelayLOS
)

const (
	// NumFlags is the number of assigned bits.
	NumFlags = 7
	// MaxStations is the number of station slots in the schema.
	MaxStations = 4
	// MaxState is the largest State any evaluation can produce.
	MaxState = State(1<<NumFlags - 1)
)

var flagNames = map[Flag]string{
	FlagSunOnSpacecraft: "sun_on_spacecraft",
	FlagSunOnBody:       "sun_on_body",
	FlagClearStation0:   "clear_station_0",
	FlagClearStation1:   "clear_station_1",
	FlagClearStation2:   "clear_station_2",
	FlagClearStation3:   "clear_station_3",
	FlagRelayLOS:        "relay_los",
}

// String lists the names of the bits set in f.
func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for bit := 0; bit < 8; bit++ {
		b := Flag(1 << bit)
		if f&b == 0 {
			continue
		}
		if name, ok := flagNames[b]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, fmt.Sprintf("bit%d", bit))
		}
	}
	return strings.Join(parts, "|")
}

// StationFlag returns the clear-line-of-sight flag of a station slot.
func StationFlag(slot int) (Flag, error) {
	if slot < 0 || slot >= MaxStations {
		return 0, fmt.Errorf("%w: station slot %d outside [0,%d)", ErrInvalidArgument, slot, MaxStations)
	}
	return FlagClearStation0 << uint(slot), nil
}

// SetFlag returns s with f set or cleared.
func SetFlag(s State, f Flag, v bool) State {
	if v {
		return s | State(f)
	}
	return s &^ State(f)
}

// Has reports whether every bit of f is set in s.
func (s State) Has(f Flag) bool {
	return s&State(f) == State(f)
}

// Combine ORs flags into a single mask. No flags yields the empty mask.
func Combine(flags ...Flag) Flag {
	var m Flag
	for _, f := range flags {
		m |= f
	}
	return m
}

// HasAll reports, per state, whether every given flag is set. An empty
// flag list is trivially satisfied.
func HasAll(states []State, flags ...Flag) []bool {
	m := State(Combine(flags...))
	out := make([]bool, len(states))
	for i, s := range states {
		out[i] = s&m == m
	}
	return out
}

// HasNone is the negation of HasAll: true where at least one of the given
// flags is missing. It is not "none of the flags are set".
func HasNone(states []State, flags ...Flag) []bool {
	m := State(Combine(flags...))
	out := make([]bool, len(states))
	for i, s := range states {
		out[i] = s&m != m
	}
	return out
}

// AboveElevation reports, per sample, whether elevation strictly exceeds
// threshold (degrees).
func AboveElevation(elevations []float64, threshold float64) []bool {
	out := make([]bool, len(elevations))
	for i, e := range elevations {
		out[i] = e > threshold
	}
	return out
}

// CommState is the spacecraft operating mode derived from one row.
type CommState uint8

const (
	CommIdle CommState = iota
	CommLowPower
	CommHighPower
	CommScience
)

func (c CommState) String() string {
	switch c {
	case CommIdle:
		return "IDLE"
	case CommLowPower:
		return "LP_COMM"
	case CommHighPower:
		return "HP_COMM"
	case CommScience:
		return "SCIENCE"
	default:
		return fmt.Sprintf("CommState(%d)", uint8(c))
	}
}

// DeriveCommState picks the operating mode: science whenever the ground
// beneath is lit, otherwise talk to a station if one is in view, at high
// power only when the spacecraft itself is in sunlight.
func DeriveCommState(s State, anyStationLOS bool) CommState {
	switch {
	case s.Has(FlagSunOnBody):
		return CommScience
	case anyStationLOS && s.Has(FlagSunOnSpacecraft):
		return CommHighPower
	case anyStationLOS:
		return CommLowPower
	default:
		return CommIdle
	}
}
