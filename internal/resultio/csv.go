// Package resultio persists result tables: CSV for people and plotting
// tools, a compact protobuf-wire encoding for everything else.
package resultio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/signalsfoundry/halo-visibility/core"
)

// WriteCSV writes table with a header row. Times are RFC 3339 in UTC with
// nanosecond precision; floats use the shortest exact representation.
func WriteCSV(w io.Writer, table *core.ResultTable) error {
	if table == nil {
		return fmt.Errorf("%w: nil table", core.ErrInvalidArgument)
	}
	cw := csv.NewWriter(w)
	names := table.ColumnNames()
	if err := cw.Write(names); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	rec := make([]string, len(names))
	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		rec = rec[:0]
		rec = append(rec, row.Time.UTC().Format(time.RFC3339Nano))
		for _, v := range row.Elevations {
			rec = append(rec, formatFloat(v))
		}
		for _, v := range row.Distances {
			rec = append(rec, formatFloat(v))
		}
		rec = append(rec, formatFloat(row.RelayDistance), strconv.Itoa(int(row.State)))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
