package vision

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fieldbots/driptape/robot/geometry"
)

// Fixed palette for archipelago coloring so the debug view is stable from
// frame to frame.
var debugPalette = []color.RGBA{
	{230, 25, 75, 255}, {60, 180, 75, 255}, {255, 225, 25, 255}, {0, 130, 200, 255},
	{245, 130, 48, 255}, {145, 30, 180, 255}, {70, 240, 240, 255}, {240, 50, 230, 255},
	{210, 245, 60, 255}, {250, 190, 212, 255}, {0, 128, 128, 255}, {220, 190, 255, 255},
	{170, 110, 40, 255}, {255, 250, 200, 255}, {128, 0, 0, 255}, {170, 255, 195, 255},
	{128, 128, 0, 255}, {255, 215, 180, 255}, {0, 0, 128, 255}, {128, 128, 128, 255},
}

var (
	colorSelected  = color.RGBA{0, 255, 0, 255}
	colorRejected  = color.RGBA{255, 0, 0, 255}
	colorCenterDim = color.RGBA{128, 128, 128, 255}
	colorCenter    = color.RGBA{255, 255, 255, 255}
	colorOverlay   = color.RGBA{255, 165, 0, 255}
)

type compositeInputs struct {
	frame        *image.RGBA
	planes       *hsvPlanes
	hueMask      *bitmap
	satMask      *bitmap
	valMask      *bitmap
	combinedMask *bitmap
	workMask     *bitmap
	archipelagos [][]geometry.Point
	lines        []geometry.Line
	leftIdx      int
	rightIdx     int
	center       geometry.Line
}

// renderComposite lays out the 4x2 debug grid: the frame and the three
// channel visualizations on top; the combined mask, archipelago coloring,
// mask with lines, and annotated frame below.
func renderComposite(in compositeInputs) *image.RGBA {
	w, h := in.frame.Bounds().Dx(), in.frame.Bounds().Dy()

	hueVis := channelVis(in.planes.hue, in.hueMask, w, h)
	satVis := channelVis(in.planes.sat, in.satMask, w, h)
	valVis := channelVis(in.planes.val, in.valMask, w, h)

	maskVis := maskToRGBA(in.combinedMask)
	archVis := archipelagoVis(in.workMask, in.archipelagos)

	maskLines := maskToRGBA(in.workMask)
	frameLines := image.NewRGBA(in.frame.Bounds())
	draw.Draw(frameLines, frameLines.Bounds(), in.frame, image.Point{}, draw.Src)

	for idx, line := range in.lines {
		c := colorRejected
		if idx == in.leftIdx || idx == in.rightIdx {
			c = colorSelected
		}
		drawLine(maskLines, line, c)
		drawLine(frameLines, line, c)
	}
	drawLine(maskLines, in.center, colorCenterDim)
	drawLine(frameLines, in.center, colorCenter)

	return stackGrid(
		[]*image.RGBA{in.frame, hueVis, satVis, valVis},
		[]*image.RGBA{maskVis, archVis, maskLines, frameLines},
		w, h,
	)
}

// Passthrough pads an unprocessed frame with placeholders so the camera not
// selected for control can still be displayed in the same grid shape.
func Passthrough(src image.Image) *image.RGBA {
	frame := resizeRGBA(src, FrameWidth, FrameHeight)
	w, h := FrameWidth, FrameHeight
	placeholder := image.NewRGBA(image.Rect(0, 0, w, h))
	return stackGrid(
		[]*image.RGBA{frame, placeholder, placeholder, placeholder},
		[]*image.RGBA{placeholder, placeholder, placeholder, placeholder},
		w, h,
	)
}

func stackGrid(top, bottom []*image.RGBA, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w*len(top), h*2))
	for i, img := range top {
		draw.Draw(out, image.Rect(i*w, 0, (i+1)*w, h), img, image.Point{}, draw.Src)
	}
	for i, img := range bottom {
		draw.Draw(out, image.Rect(i*w, h, (i+1)*w, 2*h), img, image.Point{}, draw.Src)
	}
	return out
}

// channelVis renders a grayscale channel with in-range pixels painted
// orange.
func channelVis(channel []uint8, mask *bitmap, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, v := range channel {
		o := i * 4
		if mask.pix[i] != 0 {
			out.Pix[o] = colorOverlay.R
			out.Pix[o+1] = colorOverlay.G
			out.Pix[o+2] = colorOverlay.B
		} else {
			out.Pix[o] = v
			out.Pix[o+1] = v
			out.Pix[o+2] = v
		}
		out.Pix[o+3] = 255
	}
	return out
}

func maskToRGBA(mask *bitmap) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, mask.w, mask.h))
	for i, v := range mask.pix {
		o := i * 4
		out.Pix[o] = v
		out.Pix[o+1] = v
		out.Pix[o+2] = v
		out.Pix[o+3] = 255
	}
	return out
}

func archipelagoVis(mask *bitmap, archipelagos [][]geometry.Point) *image.RGBA {
	out := maskToRGBA(mask)
	for idx, pixels := range archipelagos {
		c := debugPalette[idx%len(debugPalette)]
		for _, p := range pixels {
			o := (p.Y*mask.w + p.X) * 4
			out.Pix[o] = c.R
			out.Pix[o+1] = c.G
			out.Pix[o+2] = c.B
		}
	}
	return out
}

// drawLine draws a 2px-wide segment using Bresenham's algorithm.
func drawLine(img *image.RGBA, line geometry.Line, c color.RGBA) {
	x0, y0 := line.Start.X, line.Start.Y
	x1, y1 := line.End.X, line.End.Y

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		setPixel(img, x0, y0, c)
		setPixel(img, x0+1, y0, c)
		setPixel(img, x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	b := img.Bounds()
	if x < b.Min.X || y < b.Min.Y || x >= b.Max.X || y >= b.Max.Y {
		return
	}
	img.SetRGBA(x, y, c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
