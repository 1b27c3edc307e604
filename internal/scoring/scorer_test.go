package scoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-eval/internal/archive"
	"seg-eval/internal/volume"
)

const namePrefix = "TopCoW_MR_seg_2024_site_x_"

// writeVolume writes an n³ volume with a label-1 voxel at l and a label-2
// voxel at r (skipped when nil).
func writeVolume(t *testing.T, dir, id string, n int, l, r *[3]int) string {
	t.Helper()
	v := volume.New(n, n, n)
	if l != nil {
		v.Set(l[0], l[1], l[2], volume.Left)
	}
	if r != nil {
		v.Set(r[0], r[1], r[2], volume.Right)
	}
	path := filepath.Join(dir, namePrefix+id+".nii.gz")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, volume.Write(path, v, volume.DefaultSpacing()))
	return path
}

func vox(x, y, z int) *[3]int { return &[3]int{x, y, z} }

func TestScoreCasesIdenticalVolumes(t *testing.T) {
	dir := t.TempDir()
	gt := writeVolume(t, filepath.Join(dir, "gt"), "001", 10, vox(2, 2, 2), vox(7, 7, 7))
	pred := writeVolume(t, filepath.Join(dir, "pred"), "001", 10, vox(2, 2, 2), vox(7, 7, 7))

	cases, err := NewScorer(DefaultOptions()).ScoreCases(context.Background(), []Pair{{gt, pred}})
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	assert.Equal(t, "001.nii.gz", c.ID)
	assert.Equal(t, 1.0, c.DSCL)
	assert.Equal(t, 1.0, c.DSCR)
	assert.Equal(t, 0.0, c.RVEL)
	assert.Equal(t, 0.0, c.RVER)
	assert.Equal(t, 0.0, c.HDL)
	assert.Equal(t, 0.0, c.HDR)
	assert.Equal(t, 0.0, c.HD95Avg)
	assert.Equal(t, 0.0, c.ASSDAvg)
}

func TestScoreCasesSortsByID(t *testing.T) {
	dir := t.TempDir()
	var pairs []Pair
	for _, id := range []string{"c", "a", "b"} {
		gt := writeVolume(t, filepath.Join(dir, "gt"), id, 4, vox(1, 1, 1), vox(2, 2, 2))
		pred := writeVolume(t, filepath.Join(dir, "pred"), id, 4, vox(1, 1, 1), vox(2, 2, 2))
		pairs = append(pairs, Pair{gt, pred})
	}
	cases, err := NewScorer(DefaultOptions()).ScoreCases(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, cases, 3)
	for i := 1; i < len(cases); i++ {
		assert.LessOrEqual(t, cases[i-1].ID, cases[i].ID)
	}
}

func TestScoreCasesChecksShapesBeforeScoring(t *testing.T) {
	dir := t.TempDir()
	ok := Pair{
		writeVolume(t, filepath.Join(dir, "gt"), "a", 4, vox(1, 1, 1), vox(2, 2, 2)),
		writeVolume(t, filepath.Join(dir, "pred"), "a", 4, vox(1, 1, 1), vox(2, 2, 2)),
	}
	bad := Pair{
		writeVolume(t, filepath.Join(dir, "gt"), "b", 4, vox(1, 1, 1), vox(2, 2, 2)),
		writeVolume(t, filepath.Join(dir, "pred"), "b", 5, vox(1, 1, 1), vox(2, 2, 2)),
	}

	s := NewScorer(DefaultOptions())
	loads := 0
	load := s.load
	s.load = func(p string) (*volume.LabelVolume, error) {
		loads++
		return load(p)
	}
	_, err := s.ScoreCases(context.Background(), []Pair{ok, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputShape)
	assert.ErrorIs(t, err, volume.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "case b.nii.gz")
	assert.Zero(t, loads)
}

func TestScoreCasesEmptyReference(t *testing.T) {
	dir := t.TempDir()
	gt := writeVolume(t, filepath.Join(dir, "gt"), "empty", 4, vox(1, 1, 1), nil)
	pred := writeVolume(t, filepath.Join(dir, "pred"), "empty", 4, vox(1, 1, 1), vox(2, 2, 2))

	_, err := NewScorer(DefaultOptions()).ScoreCases(context.Background(), []Pair{{gt, pred}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataQuality)
	assert.Contains(t, err.Error(), "empty.nii.gz")
	assert.Equal(t, "data_quality", Kind(err))
}

func TestScoreCasesRejects(t *testing.T) {
	dir := t.TempDir()
	gt := writeVolume(t, filepath.Join(dir, "gt"), "dup", 4, vox(1, 1, 1), vox(2, 2, 2))
	pred := writeVolume(t, filepath.Join(dir, "pred"), "dup", 4, vox(1, 1, 1), vox(2, 2, 2))
	s := NewScorer(DefaultOptions())

	_, err := s.ScoreCases(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInputShape)

	_, err = s.ScoreCases(context.Background(), []Pair{{gt, pred}, {gt, pred}})
	assert.ErrorIs(t, err, ErrInputShape)

	opts := DefaultOptions()
	opts.Spacing = volume.Spacing{1, -1, 1}
	_, err = NewScorer(opts).ScoreCases(context.Background(), []Pair{{gt, pred}})
	assert.ErrorIs(t, err, ErrInputShape)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ScoreCases(ctx, []Pair{{gt, pred}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKind(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", ErrInputShape), "input_shape"},
		{ErrAggregation, "aggregation"},
		{fmt.Errorf("y: %w", ErrMissingInput), "missing_input"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Kind(tc.err))
	}
}

type fakeUploader struct {
	parent, path string
}

func (f *fakeUploader) StoreFile(_ context.Context, parentID, path string) (string, error) {
	f.parent, f.path = parentID, path
	return "s3://scores/" + filepath.Base(path), nil
}

func buildArchives(t *testing.T, dir string, ids ...string) (gsZip, predZip string) {
	t.Helper()
	var gts, preds []string
	for i, id := range ids {
		gts = append(gts, writeVolume(t, filepath.Join(dir, "src_gt"), id, 6, vox(1, 1, 1), vox(4, 4, 4)))
		// the second case misses its left voxel by one step
		l := vox(1, 1, 1)
		if i == 1 {
			l = vox(1, 1, 2)
		}
		preds = append(preds, writeVolume(t, filepath.Join(dir, "src_pred"), id, 6, l, vox(4, 4, 4)))
	}
	gsZip = filepath.Join(dir, "goldstandard.zip")
	predZip = filepath.Join(dir, "predictions.zip")
	require.NoError(t, archive.Create(gsZip, gts...))
	require.NoError(t, archive.Create(predZip, preds...))
	return gsZip, predZip
}

func TestEvaluate(t *testing.T) {
	dir := t.TempDir()
	gsZip, predZip := buildArchives(t, dir, "001", "002", "003")
	work := filepath.Join(dir, "work")

	up := &fakeUploader{}
	res, err := NewScorer(DefaultOptions()).Evaluate(context.Background(), EvalRequest{
		GoldstandardZip: gsZip,
		PredictionsZip:  predZip,
		WorkDir:         work,
		ParentID:        "sub-1",
	}, up)
	require.NoError(t, err)

	assert.Equal(t, "sub-1", up.parent)
	assert.Equal(t, res.ScoresPath, up.path)
	assert.Equal(t, 3, res.Summary.CasesEvaluated)
	assert.Equal(t, "s3://scores/all_scores_seg.csv", res.Summary.SubmissionScores)

	dsc, ok := res.Summary.Mean("DSC_L")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, dsc, 1e-9)
	hd, ok := res.Summary.Mean("HD_L")
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, hd, 1e-9)
	// face-adjacent voxels share half of their surface elements
	assd, ok := res.Summary.Mean("ASSD_L")
	require.True(t, ok)
	assert.InDelta(t, 0.5/3.0, assd, 1e-9)

	scores, err := os.ReadFile(res.ScoresPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(scores), "\n"), "\n")
	assert.Len(t, lines, 1+3+5+1)

	results, err := os.ReadFile(res.ResultsPath)
	require.NoError(t, err)
	assert.Contains(t, string(results), `"cases_evaluated":3`)
	assert.Contains(t, string(results), `"submission_status":"SCORED"`)
}

func TestEvaluateMissingArchive(t *testing.T) {
	dir := t.TempDir()
	gsZip, _ := buildArchives(t, dir, "001")
	_, err := NewScorer(DefaultOptions()).Evaluate(context.Background(), EvalRequest{
		GoldstandardZip: gsZip,
		PredictionsZip:  filepath.Join(dir, "missing.zip"),
		WorkDir:         filepath.Join(dir, "work"),
	}, nil)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestEvaluateUnequalArchives(t *testing.T) {
	dir := t.TempDir()
	gsZip, _ := buildArchives(t, dir, "001", "002")
	_, predZip := buildArchives(t, filepath.Join(dir, "other"), "001")
	_, err := NewScorer(DefaultOptions()).Evaluate(context.Background(), EvalRequest{
		GoldstandardZip: gsZip,
		PredictionsZip:  predZip,
		WorkDir:         filepath.Join(dir, "work"),
	}, nil)
	assert.ErrorIs(t, err, ErrInputShape)
}
