// Package drive maps per-frame row lines into the actuator commands sent
// over the serial link: differential wheel speeds and hoe/gantry step
// delays. Everything here is a pure function of its inputs.
package drive

import (
	"fmt"
	"math"

	"github.com/fieldbots/driptape/robot/geometry"
	"github.com/fieldbots/driptape/robot/vision"
)

// Direction is the robot's direction of travel along the row.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Flipped returns the opposite direction.
func (d Direction) Flipped() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// Command is a newline-terminated-on-send serial command string.
type Command string

// GantryCentered is the explicit "no adjustment needed" centering command.
const GantryCentered Command = "gantry 0"

// StopDriving halts both wheels.
const StopDriving Command = "drive 0 0"

// Params are the steering tunables. All pixel values are calibrated against
// the detector's working resolution.
type Params struct {
	// MinDeltaX is the steering deadzone; offsets below it snap to zero.
	MinDeltaX int
	// MaxDeltaX caps the offset used for the differential correction.
	MaxDeltaX int

	// RearviewBaseline extrapolates offsets measured through the opposite
	// camera across the blind spot between the two camera fields of view,
	// so rear-derived corrections stay comparable to front-derived ones.
	// Empirical; depends on the physical camera baseline.
	RearviewBaseline float64

	// Differential correction gains. The wheel on the side the rows are
	// drifting away from gets the strong positive gain, the opposite wheel
	// the weak negative one, biasing towards turning in place. Reverse
	// gains are more aggressive because the hoe trails the wheels.
	StrongGain        float64
	WeakGain          float64
	StrongGainReverse float64
	WeakGainReverse   float64

	PwmLimit int

	// Gantry centering: step delay is inversely proportional to the
	// offset, scaled against MaxExpectedDelta and clamped to
	// [MinStepDelay, MaxStepDelay].
	GantryDeadzone   int
	MaxExpectedDelta int
	MinStepDelay     int
	MaxStepDelay     int
}

func DefaultParams() Params {
	return Params{
		MinDeltaX:         5,
		MaxDeltaX:         100,
		RearviewBaseline:  1.8,
		StrongGain:        2.0,
		WeakGain:          -1.0,
		StrongGainReverse: 2.5,
		WeakGainReverse:   -1.5,
		PwmLimit:          255,
		GantryDeadzone:    5,
		MaxExpectedDelta:  50,
		MinStepDelay:      5000,
		MaxStepDelay:      20000,
	}
}

// DriveCommand derives differential wheel speeds from the detected lines.
// The offset is measured at the far endpoints of the averaged row line,
// which predicts upcoming heading better than the near end. It returns
// false when either row line is absent.
func DriveCommand(lines vision.Lines, dir Direction, speed float64, rearviewSteering bool, p Params) (Command, bool) {
	if lines.Left == nil || lines.Right == nil {
		return "", false
	}

	avg := geometry.Average(*lines.Left, *lines.Right)
	speed = clampF(speed, 0, 1)

	deltaX := float64(avg.End.X - lines.Center.End.X)
	if math.Abs(deltaX) < float64(p.MinDeltaX) {
		deltaX = 0
	}
	if rearviewSteering {
		deltaX *= p.RearviewBaseline
	}
	deltaX = clampF(deltaX, -float64(p.MaxDeltaX), float64(p.MaxDeltaX))

	forwardPwm := float64(p.PwmLimit) * speed
	strong, weak := p.StrongGain, p.WeakGain
	if dir == Backward {
		strong, weak = p.StrongGainReverse, p.WeakGainReverse
	}

	magnitude := math.Abs(deltaX) / float64(p.MaxDeltaX) * forwardPwm
	var leftCorrection, rightCorrection float64
	switch {
	case deltaX > 0:
		leftCorrection, rightCorrection = magnitude*strong, magnitude*weak
	case deltaX < 0:
		leftCorrection, rightCorrection = magnitude*weak, magnitude*strong
	}

	left := int(forwardPwm + leftCorrection)
	right := int(forwardPwm + rightCorrection)

	if dir == Backward {
		left, right = -right, -left
	}

	left = clampI(left, -p.PwmLimit, p.PwmLimit)
	right = clampI(right, -p.PwmLimit, p.PwmLimit)

	return Command(fmt.Sprintf("drive %d %d", left, right)), true
}

// GantryCommand derives the hoe/gantry centering step delay: small offsets
// get a long delay (gentle correction), large offsets a short one. Within
// the deadzone it returns the explicit GantryCentered command. It returns
// false when any of the three lines is absent.
func GantryCommand(lines vision.Lines, dir Direction, p Params) (Command, bool) {
	if lines.Left == nil || lines.Right == nil {
		return "", false
	}

	avgMidX := (lines.Left.Midpoint().X + lines.Right.Midpoint().X) / 2
	deltaX := avgMidX - lines.Center.Midpoint().X

	if absI(deltaX) < p.GantryDeadzone {
		return GantryCentered, true
	}

	spread := p.MaxStepDelay - p.MinStepDelay
	magnitude := p.MaxStepDelay - int(float64(absI(deltaX))/float64(p.MaxExpectedDelta)*float64(spread))
	magnitude = clampI(magnitude, p.MinStepDelay, p.MaxStepDelay)

	stepDelay := magnitude
	if deltaX < 0 {
		stepDelay = -stepDelay
	}
	if dir == Backward {
		stepDelay = -stepDelay
	}

	return Command(fmt.Sprintf("gantry %d", stepDelay)), true
}

// RowShift is the fixed fast lateral nudge used while crossing between
// rows, when there are no lines to center against. It always moves at the
// fastest step delay, towards the next row for the current travel direction.
func RowShift(dir Direction, p Params) Command {
	delay := p.MinStepDelay
	if dir == Backward {
		delay = -delay
	}
	return Command(fmt.Sprintf("gantry %d", delay))
}

func clampF(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absI(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
