package scoring

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultCaseIDOffset matches the challenge's goldstandard naming, where the
// case identifier starts at the seventh underscore-separated segment.
const DefaultCaseIDOffset = 6

type PairingMode string

const (
	// PairPositional trusts both archives to list cases in the same order.
	PairPositional PairingMode = "positional"
	// PairByKey joins predictions to ground truths on the case identifier.
	PairByKey PairingMode = "key"
)

func ParsePairingMode(s string) (PairingMode, error) {
	switch m := PairingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", PairPositional:
		return PairPositional, nil
	case PairByKey:
		return m, nil
	}
	return "", fmt.Errorf("unknown pairing mode %q", s)
}

type Pair struct {
	GroundTruth string
	Prediction  string
}

// CaseID splits the file name of path on "_" and re-joins the segments from
// offset onward.
func CaseID(path string, offset int) (string, error) {
	if offset < 0 {
		return "", fmt.Errorf("negative case id offset %d", offset)
	}
	parts := strings.Split(filepath.Base(path), "_")
	if offset >= len(parts) {
		return "", fmt.Errorf("%w: %q has %d name segments, case id starts at %d", ErrInputShape, filepath.Base(path), len(parts), offset)
	}
	id := strings.Join(parts[offset:], "_")
	if id == "" {
		return "", fmt.Errorf("%w: empty case id for %q", ErrInputShape, filepath.Base(path))
	}
	return id, nil
}

// Positional pairs the i-th ground truth with the i-th prediction.
func Positional(gts, preds []string) ([]Pair, error) {
	if len(gts) != len(preds) {
		return nil, fmt.Errorf("%w: %d ground truth files but %d predictions", ErrInputShape, len(gts), len(preds))
	}
	pairs := make([]Pair, len(gts))
	for i := range gts {
		pairs[i] = Pair{GroundTruth: gts[i], Prediction: preds[i]}
	}
	return pairs, nil
}

// ByKey joins ground truths and predictions on their case identifiers. Every
// identifier must appear exactly once on each side.
func ByKey(gts, preds []string, gtOffset, predOffset int) ([]Pair, error) {
	if len(gts) != len(preds) {
		return nil, fmt.Errorf("%w: %d ground truth files but %d predictions", ErrInputShape, len(gts), len(preds))
	}
	byID := make(map[string]string, len(preds))
	for _, p := range preds {
		id, err := CaseID(p, predOffset)
		if err != nil {
			return nil, err
		}
		if prev, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: predictions %q and %q share case id %q", ErrInputShape, prev, p, id)
		}
		byID[id] = p
	}
	pairs := make([]Pair, 0, len(gts))
	for _, g := range gts {
		id, err := CaseID(g, gtOffset)
		if err != nil {
			return nil, err
		}
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: no prediction for case %q", ErrInputShape, id)
		}
		delete(byID, id)
		pairs = append(pairs, Pair{GroundTruth: g, Prediction: p})
	}
	return pairs, nil
}

// MakePairs dispatches on mode.
func MakePairs(mode PairingMode, gts, preds []string, gtOffset, predOffset int) ([]Pair, error) {
	switch mode {
	case PairByKey:
		return ByKey(gts, preds, gtOffset, predOffset)
	case PairPositional, "":
		return Positional(gts, preds)
	}
	return nil, fmt.Errorf("unknown pairing mode %q", mode)
}
