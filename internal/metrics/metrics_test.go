package metrics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-eval/internal/volume"
)

func singleVoxelPair() (*volume.LabelVolume, *volume.LabelVolume) {
	gt := volume.New(10, 10, 10)
	gt.Set(2, 3, 4, volume.Left)
	gt.Set(7, 7, 7, volume.Right)
	pred := volume.New(10, 10, 10)
	copy(pred.Data, gt.Data)
	return gt, pred
}

func box(v *volume.LabelVolume, label int32, lo, hi [3]int) {
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				v.Set(x, y, z, label)
			}
		}
	}
}

func TestComputeIdenticalSingleVoxels(t *testing.T) {
	gt, pred := singleVoxelPair()
	raw, err := Compute(gt, pred, volume.DefaultSpacing())
	require.NoError(t, err)

	for _, s := range []Structure{raw.Left, raw.Right} {
		assert.Equal(t, 1.0, s.DSC)
		assert.Equal(t, 0.0, s.HD)
		assert.Equal(t, 0.0, s.HD95)
		assert.Equal(t, 0.0, s.ASSD)
		assert.Equal(t, 0.0, s.RVE)
	}
}

func TestComputeShapeMismatch(t *testing.T) {
	_, err := Compute(volume.New(2, 2, 2), volume.New(2, 2, 3), volume.DefaultSpacing())
	assert.True(t, errors.Is(err, volume.ErrShapeMismatch))
}

func TestComputeEmptyReferenceIsAnError(t *testing.T) {
	// left present only in the ground truth, right absent everywhere
	gt := volume.New(10, 10, 10)
	box(gt, volume.Left, [3]int{2, 2, 2}, [3]int{5, 5, 5})
	pred := volume.New(10, 10, 10)

	left, err := ComputeStructure(gt.Mask(volume.Left), pred.Mask(volume.Left), volume.DefaultSpacing())
	require.NoError(t, err)
	assert.Equal(t, 0.0, left.DSC)
	assert.Equal(t, 1.0, left.RVE)
	assert.True(t, math.IsInf(left.HD, 1))

	_, err = Compute(gt, pred, volume.DefaultSpacing())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyReference))
	assert.Contains(t, err.Error(), "right")
}

func TestDice(t *testing.T) {
	a := volume.New(4, 1, 1)
	b := volume.New(4, 1, 1)
	a.Data = []int32{1, 1, 0, 0}
	b.Data = []int32{0, 1, 1, 0}
	assert.InDelta(t, 0.5, Dice(a.Mask(1), b.Mask(1)), 1e-12)
	assert.True(t, math.IsNaN(Dice(a.Mask(2), b.Mask(2))))
}

func TestRelativeVolumeError(t *testing.T) {
	rve, err := RelativeVolumeError(10, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rve)

	rve, err = RelativeVolumeError(8, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.25, rve)

	_, err = RelativeVolumeError(0, 3)
	assert.True(t, errors.Is(err, ErrEmptyReference))
}

func TestSurfaceDistancesHonourSpacing(t *testing.T) {
	gt := volume.New(8, 1, 1)
	pred := volume.New(8, 1, 1)
	gt.Set(1, 0, 0, volume.Left)
	pred.Set(4, 0, 0, volume.Left)

	// corners of the two voxels sit 2 or 3 cells apart along x
	sd := ComputeSurfaceDistances(gt.Mask(volume.Left), pred.Mask(volume.Left), volume.Spacing{2, 1, 1})
	want := []float64{4, 4, 4, 4, 6, 6, 6, 6}
	assert.Equal(t, want, sd.GTToPred)
	assert.Equal(t, want, sd.PredToGT)
	for _, a := range sd.GTToPredAreas {
		assert.InDelta(t, 0.375, a, 1e-12)
	}
	assert.Equal(t, 6.0, RobustHausdorff(sd, 100))
	assert.Equal(t, 6.0, RobustHausdorff(sd, 95))

	a, b := AverageSurfaceDistance(sd)
	assert.InDelta(t, 5.0, a, 1e-12)
	assert.InDelta(t, 5.0, b, 1e-12)
}

func TestFaceAdjacentVoxelsShareCorners(t *testing.T) {
	gt := volume.New(4, 1, 1)
	pred := volume.New(4, 1, 1)
	gt.Set(1, 0, 0, volume.Left)
	pred.Set(2, 0, 0, volume.Left)

	s, err := ComputeStructure(gt.Mask(volume.Left), pred.Mask(volume.Left), volume.DefaultSpacing())
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.DSC)
	assert.Equal(t, 1.0, s.HD)
	assert.Equal(t, 1.0, s.HD95)
	assert.InDelta(t, 0.5, s.ASSD, 1e-12)
}

func TestSurfelAreas(t *testing.T) {
	unit := surfelAreas(volume.DefaultSpacing())
	assert.Zero(t, unit[0])
	assert.Zero(t, unit[255])
	for code := 1; code < 255; code++ {
		assert.Greater(t, unit[code], 0.0, "code %d", code)
	}
	// one corner cut off
	assert.InDelta(t, math.Sqrt(3)/8, unit[1], 1e-12)
	assert.InDelta(t, math.Sqrt(3)/8, unit[128], 1e-12)
	// two corners along x: a tilted rectangle
	assert.InDelta(t, math.Sqrt(0.5), unit[3], 1e-12)
	// upper z half: a flat square
	assert.InDelta(t, 1.0, unit[15], 1e-12)

	// the flat square scales with the x and y spacing only
	scaled := surfelAreas(volume.Spacing{2, 3, 5})
	assert.InDelta(t, 6.0, scaled[15], 1e-12)
	assert.InDelta(t, 6.0, scaled[240], 1e-12)
}

func TestSurfacelessPrediction(t *testing.T) {
	gt := volume.New(3, 3, 3)
	gt.Set(1, 1, 1, volume.Left)
	sd := ComputeSurfaceDistances(gt.Mask(volume.Left), volume.New(3, 3, 3).Mask(volume.Left), volume.DefaultSpacing())
	require.Len(t, sd.GTToPred, 8)
	assert.True(t, math.IsInf(sd.GTToPred[0], 1))
	assert.Empty(t, sd.PredToGT)
	assert.True(t, math.IsInf(RobustHausdorff(sd, 95), 1))
}

func TestRobustHausdorffPercentile(t *testing.T) {
	sd := SurfaceDistances{
		GTToPred:      []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 10},
		GTToPredAreas: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		PredToGT:      []float64{1},
		PredToGTAreas: []float64{1},
	}
	assert.Equal(t, 10.0, RobustHausdorff(sd, 100))
	// the single outlier sits beyond the 95th percentile
	assert.Equal(t, 1.0, RobustHausdorff(sd, 95))
}

func TestHD95NeverExceedsHD(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		gt := volume.New(12, 12, 12)
		pred := volume.New(12, 12, 12)
		for i := range gt.Data {
			if rng.Float64() < 0.2 {
				gt.Data[i] = volume.Left
			}
			if rng.Float64() < 0.2 {
				pred.Data[i] = volume.Left
			}
		}
		s, err := ComputeStructure(gt.Mask(volume.Left), pred.Mask(volume.Left), volume.Spacing{1, 0.5, 2})
		require.NoError(t, err)
		assert.LessOrEqual(t, s.HD95, s.HD)
	}
}

func TestIdenticalMasksScorePerfectly(t *testing.T) {
	gt := volume.New(9, 9, 9)
	box(gt, volume.Left, [3]int{1, 1, 1}, [3]int{6, 5, 7})
	s, err := ComputeStructure(gt.Mask(volume.Left), gt.Mask(volume.Left), volume.DefaultSpacing())
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.DSC)
	assert.Equal(t, 0.0, s.RVE)
	assert.Equal(t, 0.0, s.HD)
}

func TestRightRVEKeepsNoDecimals(t *testing.T) {
	gt := volume.New(10, 10, 10)
	pred := volume.New(10, 10, 10)
	box(gt, volume.Left, [3]int{0, 0, 0}, [3]int{2, 2, 2})
	box(pred, volume.Left, [3]int{0, 0, 0}, [3]int{2, 2, 3})
	box(gt, volume.Right, [3]int{5, 5, 5}, [3]int{7, 7, 7})
	box(pred, volume.Right, [3]int{5, 5, 5}, [3]int{7, 7, 8})

	raw, err := Compute(gt, pred, volume.DefaultSpacing())
	require.NoError(t, err)
	assert.Equal(t, 0.5, raw.Left.RVE)
	// 0.5 rounds half to even
	assert.Equal(t, 0.0, raw.Right.RVE)
}

func TestRound(t *testing.T) {
	cases := []struct {
		in       float64
		decimals int
		want     float64
	}{
		{0.12345, 3, 0.123},
		{0.1235, 3, 0.123}, // binary value is slightly below the tie
		{2.675, 2, 2.67},   // binary value is slightly below the tie
		{0.125, 2, 0.12},   // exact tie, to even
		{1.5, 0, 2},
		{2.5, 0, 2},
		{0.5, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Round(tc.in, tc.decimals), "Round(%v, %d)", tc.in, tc.decimals)
	}
	assert.True(t, math.IsNaN(Round(math.NaN(), 3)))
	assert.True(t, math.IsInf(Round(math.Inf(1), 0), 1))
}

func TestRoundIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		x := Round(rng.Float64()*100, 3)
		assert.Equal(t, x, Round(x, 3))
	}
}
