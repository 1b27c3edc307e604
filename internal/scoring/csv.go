package scoring

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// WriteCSV emits the report as cp1252 text: a header row, the cases, the
// statistics rows and the Average row.
func WriteCSV(w io.Writer, report *Report) error {
	enc := charmap.Windows1252.NewEncoder().Writer(w)
	cw := csv.NewWriter(enc)

	header := make([]string, 0, NumMetrics+1)
	header = append(header, IDColumn)
	header = append(header, Columns[:]...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, NumMetrics+1)
	for _, row := range report.Rows() {
		record[0] = row.RowID()
		switch r := row.(type) {
		case NumericRow:
			for j, v := range r.Values {
				record[j+1] = formatCell(v)
			}
		case FormattedRow:
			copy(record[1:], r.Cells[:])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if c, ok := enc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// formatCell writes the shortest representation that round-trips, always
// with a decimal point for integral values ("1.0"). NaN is an empty cell.
func formatCell(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if a := math.Abs(v); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
