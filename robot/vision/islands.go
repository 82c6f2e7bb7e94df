package vision

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/fieldbots/driptape/robot/geometry"
)

// minIslandArea filters out connected components too small to be part of a
// row marking.
const minIslandArea = 10

// island is one 8-connected foreground component plus its exterior boundary.
type island struct {
	pixels   []geometry.Point
	boundary []geometry.Point
}

// extractIslands labels 8-connected components of the mask and keeps those
// with at least minIslandArea pixels. Boundaries are the member pixels with a
// 4-neighbour outside the component.
func extractIslands(mask *bitmap) []island {
	labels := make([]int32, mask.w*mask.h)
	var islands []island
	next := int32(0)

	queue := make([]geometry.Point, 0, 256)
	for sy := 0; sy < mask.h; sy++ {
		for sx := 0; sx < mask.w; sx++ {
			if mask.at(sx, sy) == 0 || labels[sy*mask.w+sx] != 0 {
				continue
			}
			next++
			queue = queue[:0]
			queue = append(queue, geometry.Point{X: sx, Y: sy})
			labels[sy*mask.w+sx] = next

			var pixels []geometry.Point
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				pixels = append(pixels, p)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || ny < 0 || nx >= mask.w || ny >= mask.h {
							continue
						}
						if mask.at(nx, ny) != 0 && labels[ny*mask.w+nx] == 0 {
							labels[ny*mask.w+nx] = next
							queue = append(queue, geometry.Point{X: nx, Y: ny})
						}
					}
				}
			}
			if len(pixels) < minIslandArea {
				continue
			}
			islands = append(islands, island{
				pixels:   pixels,
				boundary: exteriorBoundary(pixels, labels, mask.w, mask.h),
			})
		}
	}
	return islands
}

func exteriorBoundary(pixels []geometry.Point, labels []int32, w, h int) []geometry.Point {
	var boundary []geometry.Point
	for _, p := range pixels {
		own := labels[p.Y*w+p.X]
		edge := false
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d[0], p.Y+d[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h || labels[ny*w+nx] != own {
				edge = true
				break
			}
		}
		if edge {
			boundary = append(boundary, p)
		}
	}
	return boundary
}

// unionFind tracks archipelago membership with path-compressed find.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	if u.parent[i] != i {
		u.parent[i] = u.find(u.parent[i])
	}
	return u.parent[i]
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[rj] = ri
	}
}

// mergeIslands unions islands whose exterior boundaries come within
// distThreshold pixels of each other and returns the pixel sets of the
// resulting archipelagos, keyed by discovery order of their roots.
//
// For each pair the smaller boundary is queried point by point against a
// kd-tree over the larger one. Islands with an empty boundary are skipped.
func mergeIslands(islands []island, distThreshold int) [][]geometry.Point {
	n := len(islands)
	uf := newUnionFind(n)

	trees := make([]*kdtree.Tree, n)
	for i, isl := range islands {
		if len(isl.boundary) == 0 {
			continue
		}
		pts := make(kdtree.Points, len(isl.boundary))
		for k, p := range isl.boundary {
			pts[k] = kdtree.Point{float64(p.X), float64(p.Y)}
		}
		trees[i] = kdtree.New(pts, false)
	}

	// kd-tree nearest distances are squared Euclidean.
	threshSq := float64(distThreshold) * float64(distThreshold)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if trees[i] == nil || trees[j] == nil {
				continue
			}
			if uf.find(i) == uf.find(j) {
				continue
			}
			query, target := i, j
			if len(islands[i].boundary) > len(islands[j].boundary) {
				query, target = j, i
			}
			for _, p := range islands[query].boundary {
				_, distSq := trees[target].Nearest(kdtree.Point{float64(p.X), float64(p.Y)})
				if distSq < threshSq {
					uf.union(i, j)
					break
				}
			}
		}
	}

	order := make([]int, 0, n)
	groups := make(map[int][]geometry.Point, n)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], islands[i].pixels...)
	}

	archipelagos := make([][]geometry.Point, 0, len(order))
	for _, root := range order {
		archipelagos = append(archipelagos, groups[root])
	}
	return archipelagos
}
