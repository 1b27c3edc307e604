package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"seg-eval/internal/volume"
)

// SurfaceDistances holds, for each surface element of one mask, the distance
// in mm to the closest surface element of the other mask. Both directions are
// sorted by (distance, area) and carry the element areas in mm².
type SurfaceDistances struct {
	GTToPred      []float64
	PredToGT      []float64
	GTToPredAreas []float64
	PredToGTAreas []float64
}

// ComputeSurfaceDistances measures both directed surface distance sets
// between gt and pred. Surface elements sit on the voxel corner grid; when
// only one mask has any, its distances are all +Inf and the other direction
// is empty.
func ComputeSurfaceDistances(gt, pred *volume.BinaryMask, spacing volume.Spacing) SurfaceDistances {
	lo, hi, ok := unionBounds(gt, pred)
	if !ok {
		return SurfaceDistances{}
	}
	areas := surfelAreas(spacing)
	gtPts, gtAreas := surfels(gt, lo, hi, spacing, &areas)
	predPts, predAreas := surfels(pred, lo, hi, spacing, &areas)

	var sd SurfaceDistances
	sd.GTToPred, sd.GTToPredAreas = directed(gtPts, gtAreas, predPts)
	sd.PredToGT, sd.PredToGTAreas = directed(predPts, predAreas, gtPts)
	return sd
}

func unionBounds(a, b *volume.BinaryMask) (lo, hi [3]int, ok bool) {
	alo, ahi, aok := a.BoundingBox()
	blo, bhi, bok := b.BoundingBox()
	switch {
	case !aok:
		return blo, bhi, bok
	case !bok:
		return alo, ahi, aok
	}
	for k := range lo {
		lo[k] = min(alo[k], blo[k])
		hi[k] = max(ahi[k], bhi[k])
	}
	return lo, hi, true
}

type surfelDistance struct {
	dist, area float64
}

func directed(from kdtree.Points, areas []float64, to kdtree.Points) (dists, outAreas []float64) {
	if len(from) == 0 {
		return nil, nil
	}
	pairs := make([]surfelDistance, len(from))
	var tree *kdtree.Tree
	if len(to) > 0 {
		// kdtree.New reorders its input; keep the caller's slice intact.
		tree = kdtree.New(append(kdtree.Points(nil), to...), false)
	}
	for i, p := range from {
		d := math.Inf(1)
		if tree != nil {
			_, d2 := tree.Nearest(p)
			d = math.Sqrt(d2)
		}
		pairs[i] = surfelDistance{dist: d, area: areas[i]}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].area < pairs[j].area
	})
	dists = make([]float64, len(pairs))
	outAreas = make([]float64, len(pairs))
	for i, p := range pairs {
		dists[i], outAreas[i] = p.dist, p.area
	}
	return dists, outAreas
}

// RobustHausdorff returns the larger of the two directed percentile
// distances. percent is in [0, 100]; 100 is the classic Hausdorff distance.
func RobustHausdorff(sd SurfaceDistances, percent float64) float64 {
	a := directedPercentile(sd.GTToPred, sd.GTToPredAreas, percent)
	b := directedPercentile(sd.PredToGT, sd.PredToGTAreas, percent)
	return math.Max(a, b)
}

// directedPercentile picks the first distance whose cumulative area share
// reaches percent/100, falling back to the largest distance.
func directedPercentile(dists, areas []float64, percent float64) float64 {
	if len(dists) == 0 {
		return math.Inf(1)
	}
	cum := floats.CumSum(make([]float64, len(areas)), areas)
	total := floats.Sum(areas)
	p := percent / 100
	i := sort.Search(len(cum), func(i int) bool { return cum[i]/total >= p })
	return dists[min(i, len(dists)-1)]
}

// AverageSurfaceDistance returns the area-weighted mean distance for each
// direction (gt to pred, pred to gt). An empty direction yields NaN.
func AverageSurfaceDistance(sd SurfaceDistances) (gtToPred, predToGT float64) {
	return weightedMean(sd.GTToPred, sd.GTToPredAreas), weightedMean(sd.PredToGT, sd.PredToGTAreas)
}

func weightedMean(x, w []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, w)
}
