package vision

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// bitmap is a binary mask over the working frame. Pixels are 0 or 255.
type bitmap struct {
	w, h int
	pix  []uint8
}

func newBitmap(w, h int) *bitmap {
	return &bitmap{w: w, h: h, pix: make([]uint8, w*h)}
}

func (b *bitmap) at(x, y int) uint8 {
	return b.pix[y*b.w+x]
}

func (b *bitmap) set(x, y int, v uint8) {
	b.pix[y*b.w+x] = v
}

func (b *bitmap) clone() *bitmap {
	out := &bitmap{w: b.w, h: b.h, pix: make([]uint8, len(b.pix))}
	copy(out.pix, b.pix)
	return out
}

// hsvPlanes holds the split hue/saturation/value channels using OpenCV
// conventions: H in [0,180), S and V in [0,255].
type hsvPlanes struct {
	w, h int
	hue  []uint8
	sat  []uint8
	val  []uint8
}

func splitHSV(rgba []uint8, w, h int) *hsvPlanes {
	p := &hsvPlanes{
		w: w, h: h,
		hue: make([]uint8, w*h),
		sat: make([]uint8, w*h),
		val: make([]uint8, w*h),
	}
	for i := 0; i < w*h; i++ {
		r := rgba[i*4]
		g := rgba[i*4+1]
		b := rgba[i*4+2]
		hh, ss, vv := rgbToHSV(r, g, b)
		p.hue[i] = hh
		p.sat[i] = ss
		p.val[i] = vv
	}
	return p
}

func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	maxC := r
	if g > maxC {
		maxC = g
	}
	if b > maxC {
		maxC = b
	}
	minC := r
	if g < minC {
		minC = g
	}
	if b < minC {
		minC = b
	}

	v := maxC
	delta := int(maxC) - int(minC)
	if maxC == 0 || delta == 0 {
		return 0, 0, v
	}
	s := uint8(255 * delta / int(maxC))

	var hue float64
	switch maxC {
	case r:
		hue = 60 * float64(int(g)-int(b)) / float64(delta)
	case g:
		hue = 120 + 60*float64(int(b)-int(r))/float64(delta)
	default:
		hue = 240 + 60*float64(int(r)-int(g))/float64(delta)
	}
	if hue < 0 {
		hue += 360
	}
	return uint8(hue / 2), s, v
}

// channelBounds computes the lower/upper percentile values of a channel over
// the region of interest. Thresholds derived this way track ambient lighting
// instead of relying on fixed constants.
func channelBounds(channel []uint8, roi *bitmap, lowerPct, upperPct int) (uint8, uint8) {
	vals := make([]float64, 0, len(channel))
	for i, v := range channel {
		if roi.pix[i] != 0 {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0, 255
	}
	sort.Float64s(vals)
	lo := stat.Quantile(float64(lowerPct)/100, stat.Empirical, vals, nil)
	hi := stat.Quantile(float64(upperPct)/100, stat.Empirical, vals, nil)
	return uint8(lo), uint8(hi)
}

// rangeMask marks pixels whose channel value lies within [lo, hi].
func rangeMask(channel []uint8, w, h int, lo, hi uint8) *bitmap {
	out := newBitmap(w, h)
	for i, v := range channel {
		if v >= lo && v <= hi {
			out.pix[i] = 255
		}
	}
	return out
}

func andMasks(a, b *bitmap) *bitmap {
	out := newBitmap(a.w, a.h)
	for i := range a.pix {
		if a.pix[i] != 0 && b.pix[i] != 0 {
			out.pix[i] = 255
		}
	}
	return out
}

// lowerHalfROI restricts analysis to the bottom half of the frame, the area
// nearest the robot where row geometry is most reliable.
func lowerHalfROI(w, h int) *bitmap {
	roi := newBitmap(w, h)
	for y := h / 2; y < h; y++ {
		for x := 0; x < w; x++ {
			roi.set(x, y, 255)
		}
	}
	return roi
}

// erode with a k x k square structuring element.
func erode(src *bitmap, k int) *bitmap {
	if k <= 1 {
		return src.clone()
	}
	out := newBitmap(src.w, src.h)
	r0 := -(k / 2)
	r1 := r0 + k - 1
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			keep := true
			for dy := r0; dy <= r1 && keep; dy++ {
				for dx := r0; dx <= r1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= src.w || ny >= src.h || src.at(nx, ny) == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				out.set(x, y, 255)
			}
		}
	}
	return out
}

// dilate with a k x k square structuring element.
func dilate(src *bitmap, k int) *bitmap {
	if k <= 1 {
		return src.clone()
	}
	out := newBitmap(src.w, src.h)
	r0 := -(k / 2)
	r1 := r0 + k - 1
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			hit := false
			for dy := r0; dy <= r1 && !hit; dy++ {
				for dx := r0; dx <= r1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < src.w && ny < src.h && src.at(nx, ny) != 0 {
						hit = true
						break
					}
				}
			}
			if hit {
				out.set(x, y, 255)
			}
		}
	}
	return out
}

// open removes speckle noise, close fills small gaps.
func morphOpen(src *bitmap, k int) *bitmap {
	return dilate(erode(src, k), k)
}

func morphClose(src *bitmap, k int) *bitmap {
	return erode(dilate(src, k), k)
}

// dilateVertical applies a 5-tall, 1-wide structuring element for the given
// number of iterations. Rows run roughly vertically in the image, so this
// bridges near-vertical gaps in row markings without thickening them
// sideways.
func dilateVertical(src *bitmap, iterations int) *bitmap {
	cur := src
	for it := 0; it < iterations; it++ {
		out := newBitmap(cur.w, cur.h)
		for y := 0; y < cur.h; y++ {
			for x := 0; x < cur.w; x++ {
				for dy := -2; dy <= 2; dy++ {
					ny := y + dy
					if ny >= 0 && ny < cur.h && cur.at(x, ny) != 0 {
						out.set(x, y, 255)
						break
					}
				}
			}
		}
		cur = out
	}
	if cur == src {
		return src.clone()
	}
	return cur
}
