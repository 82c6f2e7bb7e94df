// Package geometry provides the integer pixel-space primitives the row
// detector and command synthesizer are built on.
package geometry

import "math"

// Point is an integer pixel coordinate. X grows rightwards, Y grows
// downwards, matching image conventions.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Line is a segment between two pixel coordinates. Start is always the
// endpoint nearest the bottom of the frame (larger Y), i.e. the end closest
// to the robot. R2 carries the fit quality when the line came out of a
// regression, and is zero otherwise.
type Line struct {
	Start Point   `json:"start"`
	End   Point   `json:"end"`
	R2    float64 `json:"r2,omitempty"`
}

// NewLine builds a Line, swapping the endpoints if needed so that
// Start.Y >= End.Y.
func NewLine(start, end Point) Line {
	if start.Y < end.Y {
		start, end = end, start
	}
	return Line{Start: start, End: end}
}

// NewFittedLine is NewLine plus the regression quality.
func NewFittedLine(start, end Point, r2 float64) Line {
	l := NewLine(start, end)
	l.R2 = r2
	return l
}

// Midpoint returns the midpoint of the line with integer truncation.
func (l Line) Midpoint() Point {
	return Point{
		X: (l.Start.X + l.End.X) / 2,
		Y: (l.Start.Y + l.End.Y) / 2,
	}
}

// Angle returns the direction from Start to End in degrees. A line pointing
// straight up the frame reports -90.
func (l Line) Angle() float64 {
	dx := float64(l.End.X - l.Start.X)
	dy := float64(l.End.Y - l.Start.Y)
	return math.Atan2(dy, dx) * 180 / math.Pi
}

// Length returns the Euclidean length of the line in pixels.
func (l Line) Length() float64 {
	return math.Hypot(float64(l.End.X-l.Start.X), float64(l.End.Y-l.Start.Y))
}

// Invert swaps the endpoints in place. It deliberately breaks the
// bottom-orientation invariant; callers use it when they need the raw
// direction reversed.
func (l *Line) Invert() {
	l.Start, l.End = l.End, l.Start
}

// Scaled returns a copy of the line stretched by factor around its midpoint.
func (l Line) Scaled(factor float64) Line {
	mid := l.Midpoint()
	return Line{
		Start: Point{
			X: mid.X - int(float64(mid.X-l.Start.X)*factor),
			Y: mid.Y - int(float64(mid.Y-l.Start.Y)*factor),
		},
		End: Point{
			X: mid.X - int(float64(mid.X-l.End.X)*factor),
			Y: mid.Y - int(float64(mid.Y-l.End.Y)*factor),
		},
	}
}

// Average returns the component-wise midpoint of two lines' endpoints.
func Average(a, b Line) Line {
	return Line{
		Start: Point{X: (a.Start.X + b.Start.X) / 2, Y: (a.Start.Y + b.Start.Y) / 2},
		End:   Point{X: (a.End.X + b.End.X) / 2, Y: (a.End.Y + b.End.Y) / 2},
	}
}
