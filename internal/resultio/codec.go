package resultio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/signalsfoundry/halo-visibility/core"
)

// SchemaVersion identifies the binary layout written by Marshal.
const SchemaVersion = 1

// MaxMessageSize bounds a single encoded table read by Decode.
const MaxMessageSize = 1 << 30

// Table message fields.
const (
	fieldVersion      protowire.Number = 1
	fieldFlagSchema   protowire.Number = 2
	fieldStation      protowire.Number = 3
	fieldTimes        protowire.Number = 4
	fieldRelayDist    protowire.Number = 5
	fieldStates       protowire.Number = 6
	fieldMinElevation protowire.Number = 7
)

// Station message fields.
const (
	stationName       protowire.Number = 1
	stationElevations protowire.Number = 2
	stationDistances  protowire.Number = 3
)

// Marshal encodes table. Times are stored as zigzag Unix nanoseconds and
// floats as their IEEE-754 bits, so Unmarshal reproduces the table exactly.
func Marshal(table *core.ResultTable) ([]byte, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: nil table", core.ErrInvalidArgument)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, SchemaVersion)
	b = protowire.AppendTag(b, fieldFlagSchema, protowire.VarintType)
	b = protowire.AppendVarint(b, core.FlagSchemaVersion)

	for _, name := range table.Stations() {
		elev, err := table.Elevations(name)
		if err != nil {
			return nil, err
		}
		dist, err := table.Distances(name)
		if err != nil {
			return nil, err
		}
		var st []byte
		st = protowire.AppendTag(st, stationName, protowire.BytesType)
		st = protowire.AppendString(st, name)
		st = appendPackedFloats(st, stationElevations, elev)
		st = appendPackedFloats(st, stationDistances, dist)

		b = protowire.AppendTag(b, fieldStation, protowire.BytesType)
		b = protowire.AppendBytes(b, st)
	}

	var times []byte
	for _, ts := range table.Times() {
		times = protowire.AppendVarint(times, protowire.EncodeZigZag(ts.UnixNano()))
	}
	b = protowire.AppendTag(b, fieldTimes, protowire.BytesType)
	b = protowire.AppendBytes(b, times)

	b = appendPackedFloats(b, fieldRelayDist, table.RelayDistances())

	states := table.States()
	raw := make([]byte, len(states))
	for i, s := range states {
		raw[i] = byte(s)
	}
	b = protowire.AppendTag(b, fieldStates, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)

	b = protowire.AppendTag(b, fieldMinElevation, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(table.MinElevation()))
	return b, nil
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float64) []byte {
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

type stationColumns struct {
	name       string
	elevations []float64
	distances  []float64
}

// Unmarshal decodes a table written by Marshal. Unknown fields are skipped;
// an unknown schema version or any inconsistency fails with
// core.ErrMalformedInputFile.
func Unmarshal(b []byte) (*core.ResultTable, error) {
	var (
		version, flagSchema uint64
		haveVersion         bool
		stations            []stationColumns
		times               []time.Time
		relay               []float64
		states              []byte
		minElevation        float64 = core.DefaultMinElevationDeg
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
			haveVersion = true
		case num == fieldFlagSchema && typ == protowire.VarintType:
			flagSchema, n = protowire.ConsumeVarint(b)
		case num == fieldMinElevation && typ == protowire.Fixed64Type:
			var bits uint64
			bits, n = protowire.ConsumeFixed64(b)
			minElevation = math.Float64frombits(bits)
		case typ == protowire.BytesType && (num == fieldStation || num == fieldTimes || num == fieldRelayDist || num == fieldStates):
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				break
			}
			var err error
			switch num {
			case fieldStation:
				var st stationColumns
				st, err = unmarshalStation(v)
				stations = append(stations, st)
			case fieldTimes:
				times, err = unpackTimes(v)
			case fieldRelayDist:
				relay, err = unpackFloats(v)
			case fieldStates:
				states = append([]byte(nil), v...)
			}
			if err != nil {
				return nil, err
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
		}
		b = b[n:]
	}

	if !haveVersion || version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported table schema version %d", core.ErrMalformedInputFile, version)
	}
	if flagSchema != core.FlagSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported flag schema version %d", core.ErrMalformedInputFile, flagSchema)
	}
	return buildTable(stations, times, relay, states, minElevation)
}

func buildTable(stations []stationColumns, times []time.Time, relay []float64, states []byte, minElevation float64) (*core.ResultTable, error) {
	rows := len(times)
	if len(relay) != rows || len(states) != rows {
		return nil, fmt.Errorf("%w: column lengths differ (time=%d relay=%d state=%d)",
			core.ErrMalformedInputFile, rows, len(relay), len(states))
	}
	names := make([]string, len(stations))
	for i, st := range stations {
		if len(st.elevations) != rows || len(st.distances) != rows {
			return nil, fmt.Errorf("%w: station %q columns have %d/%d rows, want %d",
				core.ErrMalformedInputFile, st.name, len(st.elevations), len(st.distances), rows)
		}
		names[i] = st.name
	}

	table, err := core.NewResultTable(names, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedInputFile, err)
	}
	for i := 0; i < rows; i++ {
		if core.State(states[i]) > core.MaxState {
			return nil, fmt.Errorf("%w: row %d state %d outside flag schema", core.ErrMalformedInputFile, i, states[i])
		}
		row := core.Row{
			Time:          times[i],
			Elevations:    make([]float64, len(stations)),
			Distances:     make([]float64, len(stations)),
			RelayDistance: relay[i],
			State:         core.State(states[i]),
		}
		for s, st := range stations {
			row.Elevations[s] = st.elevations[i]
			row.Distances[s] = st.distances[i]
		}
		if err := table.Append(row); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedInputFile, err)
		}
	}
	table.SetMinElevation(minElevation)
	return table, nil
}

func unmarshalStation(b []byte) (stationColumns, error) {
	var st stationColumns
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return st, malformed("station tag", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return st, malformed("station field", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return st, malformed("station field", protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch num {
		case stationName:
			st.name = string(v)
		case stationElevations:
			st.elevations, err = unpackFloats(v)
		case stationDistances:
			st.distances, err = unpackFloats(v)
		}
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func unpackFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: packed float column of %d bytes", core.ErrMalformedInputFile, len(b))
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		bits, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, malformed("float column", protowire.ParseError(n))
		}
		out = append(out, math.Float64frombits(bits))
		b = b[n:]
	}
	return out, nil
}

func unpackTimes(b []byte) ([]time.Time, error) {
	var out []time.Time
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, malformed("time column", protowire.ParseError(n))
		}
		out = append(out, time.Unix(0, protowire.DecodeZigZag(v)).UTC())
		b = b[n:]
	}
	return out, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrMalformedInputFile, what, err)
}

// Encode writes table to w as a varint length prefix followed by the
// Marshal encoding, so several tables can share one stream.
func Encode(w io.Writer, table *core.ResultTable) error {
	msg, err := Marshal(table)
	if err != nil {
		return err
	}
	if _, err := w.Write(protowire.AppendVarint(nil, uint64(len(msg)))); err != nil {
		return fmt.Errorf("write table length: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

// Decode reads one table written by Encode. It returns io.EOF when r is
// exhausted before a new table starts. Pass an io.ByteReader such as a
// *bufio.Reader to read several tables from one stream.
func Decode(r io.Reader) (*core.ResultTable, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		buffered := bufio.NewReader(r)
		br, r = buffered, buffered
	}
	size, err := binary.ReadUvarint(br)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, malformed("table length", err)
	}
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: table of %d bytes exceeds %d", core.ErrMalformedInputFile, size, MaxMessageSize)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, malformed("table body", err)
	}
	return Unmarshal(msg)
}
