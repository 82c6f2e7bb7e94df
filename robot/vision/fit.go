package vision

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldbots/driptape/robot/geometry"
)

// fitLine fits x = m*y + b to the pixel set by ordinary least squares.
// Row lines run near-vertical, so regressing x on y avoids the degenerate
// vertical-slope case. The returned line spans the pixel set's y extent.
//
// R^2 normalizes the x residuals against the variance of the y values. A
// perfectly vertical strip has zero x variance, so the conventional
// normalization would score the straightest possible row as zero; dividing
// by the y spread instead scores thin, tall components near 1 and compact
// blobs near 0, which is the quality the filter actually needs.
func fitLine(pixels []geometry.Point) (geometry.Line, bool) {
	if len(pixels) < 2 {
		return geometry.Line{}, false
	}

	ys := make([]float64, len(pixels))
	xs := make([]float64, len(pixels))
	minY, maxY := pixels[0].Y, pixels[0].Y
	for i, p := range pixels {
		ys[i] = float64(p.Y)
		xs[i] = float64(p.X)
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	if minY == maxY {
		// Zero y-variance: the component is a horizontal sliver, not a row.
		return geometry.Line{}, false
	}

	alpha, beta := stat.LinearRegression(ys, xs, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) || math.IsInf(beta, 0) {
		return geometry.Line{}, false
	}

	var ssRes float64
	for i := range xs {
		d := xs[i] - (alpha + beta*ys[i])
		ssRes += d * d
	}
	ssTot := stat.Variance(ys, nil) * float64(len(ys)-1)
	r2 := 1 - ssRes/ssTot

	start := geometry.Point{X: int(alpha + beta*float64(minY)), Y: minY}
	end := geometry.Point{X: int(alpha + beta*float64(maxY)), Y: maxY}
	return geometry.NewFittedLine(start, end, r2), true
}
