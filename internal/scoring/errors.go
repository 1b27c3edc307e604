package scoring

import "errors"

// Error kinds surfaced by the scorer. Every failure is fatal for the run;
// callers classify with errors.Is.
var (
	// ErrInputShape covers mismatched volume grids, unequal or unpairable
	// file lists and empty cohorts.
	ErrInputShape = errors.New("input shape error")
	// ErrDataQuality covers malformed reference cases, such as a structure
	// missing from the ground truth.
	ErrDataQuality = errors.New("data quality error")
	// ErrAggregation is an internal invariant violation while building the
	// report.
	ErrAggregation = errors.New("aggregation error")
	// ErrMissingInput is returned when an archive the runner promised is
	// not on disk.
	ErrMissingInput = errors.New("missing input artifact")
)
