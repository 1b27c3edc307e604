package metrics

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"seg-eval/internal/volume"
)

// A cell is the 2×2×2 block of voxels around one corner-grid point. Its
// corners are numbered 4a+2b+c for offsets (a, b, c) along (z, y, x); corner
// i contributes bit 1<<(7-i) to the neighbour code.

type cellEdge [2]int

var (
	cellEdges    = buildCellEdges()
	cellFaces    = buildCellFaces()
	cellNormals  = buildCellNormals()
	edgeByCorner = indexCellEdges()
)

func buildCellEdges() []cellEdge {
	var edges []cellEdge
	for i := 0; i < 8; i++ {
		for _, bit := range []int{4, 2, 1} {
			if i&bit == 0 {
				edges = append(edges, cellEdge{i, i | bit})
			}
		}
	}
	return edges
}

func indexCellEdges() map[cellEdge]int {
	idx := make(map[cellEdge]int, len(cellEdges))
	for i, e := range cellEdges {
		idx[e] = i
		idx[cellEdge{e[1], e[0]}] = i
	}
	return idx
}

// buildCellFaces lists the six faces with their corners in cyclic order.
func buildCellFaces() [][4]int {
	var faces [][4]int
	for _, fixed := range []int{4, 2, 1} {
		var u, v int
		switch fixed {
		case 4:
			u, v = 2, 1
		case 2:
			u, v = 4, 1
		default:
			u, v = 4, 2
		}
		for _, side := range []int{0, fixed} {
			faces = append(faces, [4]int{side, side + u, side + u + v, side + v})
		}
	}
	return faces
}

func cornerPos(i int) [3]float64 {
	return [3]float64{float64(i>>2&1), float64(i>>1&1), float64(i&1)}
}

func midpoint(e cellEdge) [3]float64 {
	a, b := cornerPos(e[0]), cornerPos(e[1])
	return [3]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2}
}

// buildCellNormals triangulates the iso-surface of every neighbour code with
// vertices on edge midpoints. Each entry holds one area vector per triangle,
// in (z, y, x) components, whose length is the triangle area.
func buildCellNormals() [256][][3]float64 {
	var table [256][][3]float64
	for code := 1; code < 255; code++ {
		table[code] = triangulate(uint8(code))
	}
	return table
}

func triangulate(code uint8) [][3]float64 {
	in := func(corner int) bool { return code&(1<<(7-corner)) != 0 }

	var links [12][]int
	link := func(a, b int) {
		links[a] = append(links[a], b)
		links[b] = append(links[b], a)
	}
	for _, f := range cellFaces {
		edge := func(k int) int { return edgeByCorner[cellEdge{f[k%4], f[(k+1)%4]}] }
		var crossed []int
		for k := 0; k < 4; k++ {
			if in(f[k]) != in(f[(k+1)%4]) {
				crossed = append(crossed, k)
			}
		}
		switch len(crossed) {
		case 2:
			link(edge(crossed[0]), edge(crossed[1]))
		case 4:
			// ambiguous face: cut each foreground corner off on its own
			for k := 0; k < 4; k++ {
				if in(f[k]) {
					link(edge(k+3), edge(k))
				}
			}
		}
	}

	var normals [][3]float64
	var seen [12]bool
	for start := range links {
		if seen[start] || len(links[start]) == 0 {
			continue
		}
		var loop []int
		prev, cur := -1, start
		for {
			seen[cur] = true
			loop = append(loop, cur)
			next := links[cur][0]
			if next == prev {
				next = links[cur][1]
			}
			prev, cur = cur, next
			if cur == start {
				break
			}
		}
		p0 := midpoint(cellEdges[loop[0]])
		for i := 1; i+1 < len(loop); i++ {
			normals = append(normals, areaVector(p0, midpoint(cellEdges[loop[i]]), midpoint(cellEdges[loop[i+1]])))
		}
	}
	return normals
}

func areaVector(p0, p1, p2 [3]float64) [3]float64 {
	u := [3]float64{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]}
	v := [3]float64{p2[0] - p0[0], p2[1] - p0[1], p2[2] - p0[2]}
	return [3]float64{
		(u[1]*v[2] - u[2]*v[1]) / 2,
		(u[2]*v[0] - u[0]*v[2]) / 2,
		(u[0]*v[1] - u[1]*v[0]) / 2,
	}
}

// surfelAreas gives the surface area in mm² of every neighbour code for the
// given voxel spacing (x, y, z).
func surfelAreas(spacing volume.Spacing) [256]float64 {
	sz, sy, sx := spacing[2], spacing[1], spacing[0]
	var areas [256]float64
	for code, normals := range cellNormals {
		var sum float64
		for _, n := range normals {
			a := n[0] * sy * sx
			b := n[1] * sz * sx
			c := n[2] * sz * sy
			sum += math.Sqrt(a*a + b*b + c*c)
		}
		areas[code] = sum
	}
	return areas
}

// neighbourCode packs the cell whose high corner is voxel (x, y, z).
func neighbourCode(m *volume.BinaryMask, x, y, z int) uint8 {
	var code uint8
	for i := 0; i < 8; i++ {
		if m.At(x-1+(i&1), y-1+(i>>1&1), z-1+(i>>2&1)) {
			code |= 1 << (7 - i)
		}
	}
	return code
}

// surfels returns the corner-grid positions in mm and the areas of the
// surface elements of m within the voxel window [lo, hi].
func surfels(m *volume.BinaryMask, lo, hi [3]int, spacing volume.Spacing, areas *[256]float64) (kdtree.Points, []float64) {
	var pts kdtree.Points
	var w []float64
	for z := lo[2]; z <= hi[2]+1; z++ {
		for y := lo[1]; y <= hi[1]+1; y++ {
			for x := lo[0]; x <= hi[0]+1; x++ {
				code := neighbourCode(m, x, y, z)
				if code == 0 || code == 255 {
					continue
				}
				pts = append(pts, kdtree.Point{
					float64(x) * spacing[0],
					float64(y) * spacing[1],
					float64(z) * spacing[2],
				})
				w = append(w, areas[code])
			}
		}
	}
	return pts, w
}
