// Package camera supplies frames from the two onboard cameras. Roles are
// relative to the robot, not to a physical device: the swap flag reassigns
// which device backs which role, and rear frames are rotated 180 degrees so
// both feeds share the same image orientation.
package camera

import (
	"image"
)

// Role names a camera position on the robot.
type Role int

const (
	Front Role = iota
	Rear
)

func (r Role) String() string {
	if r == Rear {
		return "rear"
	}
	return "front"
}

// Opposite returns the other role.
func (r Role) Opposite() Role {
	if r == Front {
		return Rear
	}
	return Front
}

// ParseRole maps the wire names used by the monitoring API.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "front":
		return Front, true
	case "rear":
		return Rear, true
	}
	return Front, false
}

// Source hands out the latest frame per role. A missing frame is reported
// with false, never an error; the control loop treats it as "no frame this
// iteration".
type Source interface {
	Frame(role Role) (image.Image, bool)
	SetSwapped(swapped bool)
}

// rotate180 flips a frame for the rear camera, which is mounted upside
// down relative to the front one.
func rotate180(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, b.Dy()-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
