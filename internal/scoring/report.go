package scoring

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary statistic row identifiers, in the order they are appended.
const (
	StatMean       = "mean"
	StatStd        = "std"
	StatQuantile25 = "25quantile"
	StatMedian     = "median"
	StatQuantile75 = "75quantile"

	AverageRowID = "Average"
)

var statOrder = []string{StatMean, StatStd, StatQuantile25, StatMedian, StatQuantile75}

// Row is either a NumericRow (cases and summary statistics) or the
// FormattedRow holding the "mean±std" strings.
type Row interface {
	RowID() string
	isRow()
}

type RowKind int

const (
	CaseRow RowKind = iota
	StatRow
)

type NumericRow struct {
	ID     string
	Kind   RowKind
	Values [NumMetrics]float64
}

func (r NumericRow) RowID() string { return r.ID }
func (NumericRow) isRow() {}

type FormattedRow struct {
	ID    string
	Cells [NumMetrics]string
}

func (r FormattedRow) RowID() string { return r.ID }
func (FormattedRow) isRow() {}

// Report is the full scoring table of a submission.
type Report struct {
	Cases   []CaseMetrics
	Stats   []NumericRow
	Average FormattedRow
}

// Rows returns the table in emitted order: cases, statistics, Average.
func (r *Report) Rows() []Row {
	rows := make([]Row, 0, len(r.Cases)+len(r.Stats)+1)
	for _, c := range r.Cases {
		rows = append(rows, NumericRow{ID: c.ID, Kind: CaseRow, Values: c.Values()})
	}
	for _, s := range r.Stats {
		rows = append(rows, s)
	}
	return append(rows, r.Average)
}

// Stat returns the named statistics row.
func (r *Report) Stat(name string) (NumericRow, bool) {
	for _, s := range r.Stats {
		if s.ID == name {
			return s, true
		}
	}
	return NumericRow{}, false
}

// BuildReport sorts cases by identifier and appends per-column statistics and
// the Average row. Statistics skip NaN values and are computed from the case
// rows only.
func BuildReport(cases []CaseMetrics) (*Report, error) {
	sorted := append([]CaseMetrics(nil), cases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i, c := range sorted {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: case without identifier", ErrAggregation)
		}
		if i > 0 && sorted[i-1].ID == c.ID {
			return nil, fmt.Errorf("%w: duplicate case identifier %q", ErrAggregation, c.ID)
		}
	}

	stats := make(map[string]*NumericRow, len(statOrder))
	for _, name := range statOrder {
		stats[name] = &NumericRow{ID: name, Kind: StatRow}
	}
	var avg FormattedRow
	avg.ID = AverageRowID

	col := make([]float64, 0, len(sorted))
	for j := 0; j < NumMetrics; j++ {
		col = col[:0]
		for _, c := range sorted {
			if v := c.Values()[j]; !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		d := describe(col)
		stats[StatMean].Values[j] = d.mean
		stats[StatStd].Values[j] = d.std
		stats[StatQuantile25].Values[j] = d.q25
		stats[StatMedian].Values[j] = d.median
		stats[StatQuantile75].Values[j] = d.q75
		avg.Cells[j] = formatFixed2(d.mean) + "±" + formatFixed2(d.std)
	}

	r := &Report{Cases: sorted, Average: avg}
	for _, name := range statOrder {
		r.Stats = append(r.Stats, *stats[name])
	}
	return r, nil
}

type description struct {
	mean, std, q25, median, q75 float64
}

// describe summarises NaN-free values with a sample (n-1) standard deviation
// and linearly interpolated quantiles.
func describe(x []float64) description {
	n := len(x)
	if n == 0 {
		nan := math.NaN()
		return description{nan, nan, nan, nan, nan}
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	d := description{
		mean:   stat.Mean(x, nil),
		std:    math.NaN(),
		q25:    linearQuantile(sorted, 0.25),
		median: linearQuantile(sorted, 0.5),
		q75:    linearQuantile(sorted, 0.75),
	}
	if n > 1 {
		d.std = stat.StdDev(x, nil)
	}
	return d
}

// linearQuantile interpolates between the closest ranks at p*(n-1).
// gonum's stat.Quantile only offers the empirical and CDF-interpolated
// estimators, neither of which matches this definition.
func linearQuantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := h - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// formatFixed2 renders v with two decimals; non-finite values use the
// lower-case spellings nan, inf and -inf.
func formatFixed2(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.2f", v)
}
