// Package vision turns one color frame plus tunable thresholds into the
// left/right/center row lines the driving controller steers by.
package vision

import (
	"image"
	"math"
	"sort"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/fieldbots/driptape/robot/geometry"
	"github.com/fieldbots/driptape/robot/settings"
)

// Working resolution. Every frame is resized here before analysis, so all
// pixel thresholds below are calibrated against this size.
const (
	FrameWidth  = 270
	FrameHeight = 180
)

const (
	// minArchipelagoArea is the pixel count below which a merged candidate
	// is not worth fitting.
	minArchipelagoArea = 100
	// minLineLength rejects fitted lines too short to be a row.
	minLineLength = 70
	// maxAngleDeviation is the allowed deviation from vertical in degrees.
	maxAngleDeviation = 45
)

// Lines is the per-frame detection result the controller consumes. Left and
// Right are nil when no line was confidently detected on that side of the
// frame midline. Center is always the fixed vertical centerline.
type Lines struct {
	Left   *geometry.Line
	Right  *geometry.Line
	Center geometry.Line
}

// HasContext reports whether both a left and a right row line were detected.
func (l Lines) HasContext() bool {
	return l.Left != nil && l.Right != nil
}

// Result bundles the detection output with the debug composite. Composite is
// nil when rendering was skipped; it feeds the presentation layer only and
// has no effect on control decisions.
type Result struct {
	Lines       Lines
	LostContext bool
	Composite   *image.RGBA
}

// Detector runs the row detection pipeline. It holds no per-frame state;
// each frame is processed independently.
type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Process converts one color frame into classified row lines.
func (d *Detector) Process(src image.Image, s settings.CvSettings) Result {
	frame := resizeRGBA(src, FrameWidth, FrameHeight)
	w, h := FrameWidth, FrameHeight

	planes := splitHSV(frame.Pix, w, h)
	roi := lowerHalfROI(w, h)

	loH, hiH := channelBounds(planes.hue, roi, s.HLowerPercentile, s.HUpperPercentile)
	loS, hiS := channelBounds(planes.sat, roi, s.SLowerPercentile, s.SUpperPercentile)
	loV, hiV := channelBounds(planes.val, roi, s.VLowerPercentile, s.VUpperPercentile)

	hueMask := rangeMask(planes.hue, w, h, loH, hiH)
	satMask := rangeMask(planes.sat, w, h, loS, hiS)
	valMask := rangeMask(planes.val, w, h, loV, hiV)

	combined := andMasks(hueMask, andMasks(satMask, valMask))
	combined = andMasks(combined, roi)

	denoised := morphOpen(combined, s.OpenKernel)
	denoised = morphClose(denoised, s.CloseKernel)
	denoised = dilateVertical(denoised, s.VerticalDilationIterations)

	islands := extractIslands(denoised)
	archipelagos := mergeIslands(islands, s.DistThreshold)

	var lines []geometry.Line
	for _, pixels := range archipelagos {
		if len(pixels) < minArchipelagoArea {
			continue
		}
		line, ok := fitLine(pixels)
		if !ok {
			continue
		}
		if math.Abs(line.Angle()+90) > maxAngleDeviation {
			continue
		}
		if line.Length() < minLineLength {
			continue
		}
		if line.R2 < float64(s.R2Threshold)/100 {
			continue
		}
		lines = append(lines, line)
	}

	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Midpoint().X < lines[j].Midpoint().X
	})

	leftIdx, rightIdx := selectRowLines(lines, w)

	center := geometry.NewLine(
		geometry.Point{X: w / 2, Y: h},
		geometry.Point{X: w / 2, Y: 0},
	)

	out := Lines{Center: center}
	if leftIdx >= 0 {
		l := lines[leftIdx]
		out.Left = &l
	}
	if rightIdx >= 0 {
		r := lines[rightIdx]
		out.Right = &r
	}

	composite := renderComposite(compositeInputs{
		frame:        frame,
		planes:       planes,
		hueMask:      hueMask,
		satMask:      satMask,
		valMask:      valMask,
		combinedMask: combined,
		workMask:     denoised,
		archipelagos: archipelagos,
		lines:        lines,
		leftIdx:      leftIdx,
		rightIdx:     rightIdx,
		center:       center,
	})

	return Result{
		Lines:       out,
		LostContext: !out.HasContext(),
		Composite:   composite,
	}
}

// selectRowLines scans lines sorted by midpoint x. The first line past the
// frame midline becomes the right line, its predecessor the left line. If no
// line crosses the midline both indices stay unset.
func selectRowLines(lines []geometry.Line, width int) (left, right int) {
	left, right = -1, -1
	for idx, line := range lines {
		if line.Midpoint().X > width/2 {
			right = idx
			left = idx - 1
			break
		}
	}
	return left, right
}

func resizeRGBA(src image.Image, w, h int) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Dx() == w && rgba.Bounds().Dy() == h && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
