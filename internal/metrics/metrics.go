// Package metrics computes volumetric overlap and surface distance scores
// between a ground-truth and a predicted label volume.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"seg-eval/internal/volume"
)

// ErrEmptyReference marks a structure that is absent from the ground truth,
// which leaves the relative volume error undefined.
var ErrEmptyReference = errors.New("empty reference structure")

// Structure holds the scores of one labelled structure.
type Structure struct {
	DSC  float64
	HD   float64
	HD95 float64
	ASSD float64
	RVE  float64
}

// Raw is the ten per-structure values of one case.
type Raw struct {
	Left  Structure
	Right Structure
}

// Compute scores both structures and applies the published rounding:
// three decimals everywhere except the right RVE, which keeps none.
func Compute(gt, pred *volume.LabelVolume, spacing volume.Spacing) (Raw, error) {
	if err := volume.SameShape(gt, pred); err != nil {
		return Raw{}, err
	}
	if err := spacing.Validate(); err != nil {
		return Raw{}, err
	}
	left, err := ComputeStructure(gt.Mask(volume.Left), pred.Mask(volume.Left), spacing)
	if err != nil {
		return Raw{}, fmt.Errorf("left: %w", err)
	}
	right, err := ComputeStructure(gt.Mask(volume.Right), pred.Mask(volume.Right), spacing)
	if err != nil {
		return Raw{}, fmt.Errorf("right: %w", err)
	}
	return Raw{Left: left.round(3), Right: right.round(3).withRVE(Round(right.RVE, 0))}, nil
}

// ComputeStructure returns the unrounded scores for one pair of masks.
func ComputeStructure(gt, pred *volume.BinaryMask, spacing volume.Spacing) (Structure, error) {
	gtCount, predCount := gt.Count(), pred.Count()
	rve, err := RelativeVolumeError(gtCount, predCount)
	if err != nil {
		return Structure{}, err
	}
	sd := ComputeSurfaceDistances(gt, pred, spacing)
	a, b := AverageSurfaceDistance(sd)
	return Structure{
		DSC:  Dice(gt, pred),
		HD:   RobustHausdorff(sd, 100),
		HD95: RobustHausdorff(sd, 95),
		ASSD: (a + b) / 2,
		RVE:  rve,
	}, nil
}

// Dice is 2|A∩B| / (|A|+|B|). Two empty masks give NaN.
func Dice(a, b *volume.BinaryMask) float64 {
	var inter, sum int
	for i, x := range a.Bits {
		y := b.Bits[i]
		if x {
			sum++
		}
		if y {
			sum++
		}
		if x && y {
			inter++
		}
	}
	if sum == 0 {
		return math.NaN()
	}
	return 2 * float64(inter) / float64(sum)
}

// RelativeVolumeError is |pred-gt|/gt over voxel counts.
func RelativeVolumeError(gtCount, predCount int) (float64, error) {
	if gtCount == 0 {
		return 0, fmt.Errorf("%w: relative volume error is undefined (prediction has %d voxels)", ErrEmptyReference, predCount)
	}
	return math.Abs(float64(predCount-gtCount)) / float64(gtCount), nil
}

// Round rounds x to the given number of decimals, ties to even on the exact
// binary value. Non-finite values are returned unchanged.
func Round(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if decimals <= 0 {
		return math.RoundToEven(x)
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', decimals, 64), 64)
	if err != nil {
		return x
	}
	return r
}

func (s Structure) round(decimals int) Structure {
	return Structure{
		DSC:  Round(s.DSC, decimals),
		HD:   Round(s.HD, decimals),
		HD95: Round(s.HD95, decimals),
		ASSD: Round(s.ASSD, decimals),
		RVE:  Round(s.RVE, decimals),
	}
}

func (s Structure) withRVE(rve float64) Structure {
	s.RVE = rve
	return s
}
