package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// StatusScored is the submission_status of a successfully scored run.
const StatusScored = "SCORED"

type MetricMean struct {
	Name  string
	Value float64
}

// SummaryRecord is the compact machine-readable result of a run.
type SummaryRecord struct {
	Means            []MetricMean
	CasesEvaluated   int
	SubmissionScores string
	Status           string
}

// Summarize takes the mean row of report, dropping values that are not
// finite numbers.
func Summarize(report *Report, status, scoresRef string) (SummaryRecord, error) {
	mean, ok := report.Stat(StatMean)
	if !ok {
		return SummaryRecord{}, fmt.Errorf("%w: report has no %s row", ErrAggregation, StatMean)
	}
	rec := SummaryRecord{
		CasesEvaluated:   len(report.Cases),
		SubmissionScores: scoresRef,
		Status:           status,
	}
	for j, name := range Columns {
		v := mean.Values[j]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		rec.Means = append(rec.Means, MetricMean{Name: name, Value: v})
	}
	return rec, nil
}

// Mean looks up a metric mean by column name.
func (s SummaryRecord) Mean(name string) (float64, bool) {
	for _, m := range s.Means {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// MarshalJSON writes a single flat object with the metric means in column
// order, followed by cases_evaluated, submission_scores (when set) and
// submission_status.
func (s SummaryRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	field := func(k string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for _, m := range s.Means {
		if err := field(m.Name, m.Value); err != nil {
			return nil, err
		}
	}
	if err := field("cases_evaluated", s.CasesEvaluated); err != nil {
		return nil, err
	}
	if s.SubmissionScores != "" {
		if err := field("submission_scores", s.SubmissionScores); err != nil {
			return nil, err
		}
	}
	if err := field("submission_status", s.Status); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *SummaryRecord) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*s = SummaryRecord{}
	for _, name := range Columns {
		raw, ok := m[name]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		s.Means = append(s.Means, MetricMean{Name: name, Value: v})
	}
	if raw, ok := m["cases_evaluated"]; ok {
		if err := json.Unmarshal(raw, &s.CasesEvaluated); err != nil {
			return fmt.Errorf("cases_evaluated: %w", err)
		}
	}
	if raw, ok := m["submission_scores"]; ok {
		if err := json.Unmarshal(raw, &s.SubmissionScores); err != nil {
			return fmt.Errorf("submission_scores: %w", err)
		}
	}
	if raw, ok := m["submission_status"]; ok {
		if err := json.Unmarshal(raw, &s.Status); err != nil {
			return fmt.Errorf("submission_status: %w", err)
		}
	}
	return nil
}

func WriteSummaryJSON(w io.Writer, rec SummaryRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
