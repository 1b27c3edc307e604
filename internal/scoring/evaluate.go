package scoring

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"seg-eval/internal/archive"
	"seg-eval/internal/telemetry"
)

// Uploader persists a produced file and returns its remote reference.
type Uploader interface {
	StoreFile(ctx context.Context, parentID, path string) (string, error)
}

type EvalRequest struct {
	GoldstandardZip string
	PredictionsZip  string
	// WorkDir receives the extracted volumes and both output files.
	WorkDir     string
	ParentID    string
	ScoresFile  string
	ResultsFile string
}

type EvalResult struct {
	Report      *Report
	Summary     SummaryRecord
	ScoresPath  string
	ResultsPath string
}

// Evaluate extracts both archives, scores the cohort and writes the CSV
// table and the JSON summary into the work directory. When up is not nil the
// CSV is stored first and its reference recorded in the summary.
func (s *Scorer) Evaluate(ctx context.Context, req EvalRequest, up Uploader) (res *EvalResult, err error) {
	defer func() {
		telemetry.Evaluations.WithLabelValues(Kind(err)).Inc()
	}()
	for _, p := range []string{req.GoldstandardZip, req.PredictionsZip} {
		if _, statErr := os.Stat(p); statErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMissingInput, statErr)
		}
	}
	if req.ScoresFile == "" {
		req.ScoresFile = "all_scores_seg.csv"
	}
	if req.ResultsFile == "" {
		req.ResultsFile = "results.json"
	}

	gts, err := archive.Inspect(req.GoldstandardZip, filepath.Join(req.WorkDir, "goldstandard"))
	if err != nil {
		return nil, fmt.Errorf("goldstandard: %w", err)
	}
	preds, err := archive.Inspect(req.PredictionsZip, filepath.Join(req.WorkDir, "predictions"))
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"goldstandard": len(gts),
		"predictions":  len(preds),
	}).Info("archives extracted")

	pairs, err := s.Pairs(gts, preds)
	if err != nil {
		return nil, err
	}
	cases, err := s.ScoreCases(ctx, pairs)
	if err != nil {
		return nil, err
	}
	report, err := BuildReport(cases)
	if err != nil {
		return nil, err
	}

	res = &EvalResult{
		Report:      report,
		ScoresPath:  filepath.Join(req.WorkDir, req.ScoresFile),
		ResultsPath: filepath.Join(req.WorkDir, req.ResultsFile),
	}
	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, report); err != nil {
		return nil, fmt.Errorf("encode scores: %w", err)
	}
	if err := os.WriteFile(res.ScoresPath, csvBuf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	var ref string
	if up != nil {
		ref, err = up.StoreFile(ctx, req.ParentID, res.ScoresPath)
		if err != nil {
			return nil, fmt.Errorf("store scores: %w", err)
		}
	}
	res.Summary, err = Summarize(report, StatusScored, ref)
	if err != nil {
		return nil, err
	}
	var jsonBuf bytes.Buffer
	if err := WriteSummaryJSON(&jsonBuf, res.Summary); err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(res.ResultsPath, jsonBuf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"cases":  res.Summary.CasesEvaluated,
		"scores": res.ScoresPath,
		"ref":    ref,
	}).Info("evaluation finished")
	return res, nil
}
