package scoring

import (
	"seg-eval/internal/metrics"
)

// NumMetrics is the number of numeric columns per case.
const NumMetrics = 15

// IDColumn heads the case identifier column.
const IDColumn = "scan_id"

// Columns lists the numeric columns in report order.
var Columns = [NumMetrics]string{
	"DSC_L", "DSC_R", "DSC_Avg",
	"HD_L", "HD_R", "HD_Avg",
	"HD95_L", "HD95_R", "HD95_Avg",
	"ASSD_L", "ASSD_R", "ASSD_Avg",
	"RVE_L", "RVE_R", "RVE_Avg",
}

// CaseMetrics is one scored case.
type CaseMetrics struct {
	ID                    string
	DSCL, DSCR, DSCAvg    float64
	HDL, HDR, HDAvg       float64
	HD95L, HD95R, HD95Avg float64
	ASSDL, ASSDR, ASSDAvg float64
	RVEL, RVER, RVEAvg    float64
}

// NewCaseMetrics combines the rounded per-structure values of a case with
// their left/right means.
func NewCaseMetrics(id string, raw metrics.Raw) CaseMetrics {
	l, r := raw.Left, raw.Right
	avg := func(a, b float64) float64 { return metrics.Round((a+b)/2, 3) }
	return CaseMetrics{
		ID:   id,
		DSCL: l.DSC, DSCR: r.DSC, DSCAvg: avg(l.DSC, r.DSC),
		HDL: l.HD, HDR: r.HD, HDAvg: avg(l.HD, r.HD),
		HD95L: l.HD95, HD95R: r.HD95, HD95Avg: avg(l.HD95, r.HD95),
		ASSDL: l.ASSD, ASSDR: r.ASSD, ASSDAvg: avg(l.ASSD, r.ASSD),
		RVEL: l.RVE, RVER: r.RVE, RVEAvg: avg(l.RVE, r.RVE),
	}
}

// Values returns the numeric fields in Columns order.
func (c CaseMetrics) Values() [NumMetrics]float64 {
	return [NumMetrics]float64{
		c.DSCL, c.DSCR, c.DSCAvg,
		c.HDL, c.HDR, c.HDAvg,
		c.HD95L, c.HD95R, c.HD95Avg,
		c.ASSDL, c.ASSDR, c.ASSDAvg,
		c.RVEL, c.RVER, c.RVEAvg,
	}
}
