// Package scoring turns pairs of ground-truth and predicted label volumes
// into the per-case score table, its summary statistics and the compact
// summary record published for each submission.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/logging"
	"seg-eval/internal/metrics"
	"seg-eval/internal/telemetry"
	"seg-eval/internal/volume"
)

type Options struct {
	Spacing            volume.Spacing
	CaseIDOffset       int
	PredictionIDOffset int
	Pairing            PairingMode
}

func DefaultOptions() Options {
	return Options{
		Spacing:            volume.DefaultSpacing(),
		CaseIDOffset:       DefaultCaseIDOffset,
		PredictionIDOffset: DefaultCaseIDOffset,
		Pairing:            PairPositional,
	}
}

// OptionsFromConfig converts the scoring configuration section.
func OptionsFromConfig(c config.ScoringConfig) (Options, error) {
	spacing, err := c.VoxelSpacing()
	if err != nil {
		return Options{}, fmt.Errorf("scoring.spacing: %w", err)
	}
	mode, err := ParsePairingMode(c.Pairing)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Spacing:            spacing,
		CaseIDOffset:       c.CaseIDOffset,
		PredictionIDOffset: c.PredictionIDOffset,
		Pairing:            mode,
	}, nil
}

// Scorer scores cases strictly one at a time and stops at the first failure.
type Scorer struct {
	opts Options
	load func(string) (*volume.LabelVolume, error)
	stat func(string) ([3]int, error)
	log  *logrus.Entry
}

func NewScorer(opts Options) *Scorer {
	return &Scorer{
		opts: opts,
		load: volume.Load,
		stat: volume.Stat,
		log:  logging.For("scoring"),
	}
}

// Pairs matches the extracted file lists according to the pairing mode.
func (s *Scorer) Pairs(gts, preds []string) ([]Pair, error) {
	return MakePairs(s.opts.Pairing, gts, preds, s.opts.CaseIDOffset, s.opts.PredictionIDOffset)
}

// ScoreCases scores every pair and returns the cases sorted by identifier.
// Identifiers and grid shapes of the whole cohort are checked before any
// metric is computed.
func (s *Scorer) ScoreCases(ctx context.Context, pairs []Pair) ([]CaseMetrics, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no cases to score", ErrInputShape)
	}
	if err := s.opts.Spacing.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputShape, err)
	}
	ids := make([]string, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for i, p := range pairs {
		id, err := CaseID(p.GroundTruth, s.opts.CaseIDOffset)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate case id %q", ErrInputShape, id)
		}
		seen[id] = true
		ids[i] = id
		if err := s.checkShapes(p); err != nil {
			return nil, fmt.Errorf("case %s: %w", id, err)
		}
	}

	out := make([]CaseMetrics, 0, len(pairs))
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		c, err := s.scoreCase(ids[i], p)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", ids[i], err)
		}
		telemetry.CaseDuration.Observe(time.Since(start).Seconds())
		telemetry.CasesScored.Inc()
		s.log.WithFields(logrus.Fields{
			"case":   c.ID,
			"dsc":    c.DSCAvg,
			"hd95":   c.HD95Avg,
			"assd":   c.ASSDAvg,
			"rve":    c.RVEAvg,
			"millis": time.Since(start).Milliseconds(),
		}).Debug("case scored")
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Scorer) checkShapes(p Pair) error {
	gt, err := s.stat(p.GroundTruth)
	if err != nil {
		return fmt.Errorf("ground truth: %w", err)
	}
	pred, err := s.stat(p.Prediction)
	if err != nil {
		return fmt.Errorf("prediction: %w", err)
	}
	if gt != pred {
		return fmt.Errorf("%w: %w: ground truth %v, prediction %v", ErrInputShape, volume.ErrShapeMismatch, gt, pred)
	}
	return nil
}

func (s *Scorer) scoreCase(id string, p Pair) (CaseMetrics, error) {
	gt, err := s.load(p.GroundTruth)
	if err != nil {
		return CaseMetrics{}, fmt.Errorf("load ground truth: %w", err)
	}
	pred, err := s.load(p.Prediction)
	if err != nil {
		return CaseMetrics{}, fmt.Errorf("load prediction: %w", err)
	}
	raw, err := metrics.Compute(gt, pred, s.opts.Spacing)
	switch {
	case errors.Is(err, volume.ErrShapeMismatch):
		return CaseMetrics{}, fmt.Errorf("%w: %w", ErrInputShape, err)
	case errors.Is(err, metrics.ErrEmptyReference):
		return CaseMetrics{}, fmt.Errorf("%w: %w", ErrDataQuality, err)
	case err != nil:
		return CaseMetrics{}, err
	}
	return NewCaseMetrics(id, raw), nil
}

// Kind names the error class of err for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInputShape):
		return "input_shape"
	case errors.Is(err, ErrDataQuality):
		return "data_quality"
	case errors.Is(err, ErrAggregation):
		return "aggregation"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	}
	return "internal"
}
