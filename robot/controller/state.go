package controller

import (
	"time"

	"github.com/fieldbots/driptape/robot/drive"
)

// Mode mirrors the RC transmitter mode reported by the actuator controller.
type Mode int

const (
	Manual Mode = iota
	Auto
	Stop
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Stop:
		return "stop"
	}
	return "manual"
}

// DrivingState is the control loop's working state. The loop is its sole
// writer; everyone else reads copies via Controller.State.
type DrivingState struct {
	Mode  Mode
	Stage Stage

	// OverallDirection is the net direction of travel along the field; it
	// flips once per cultivation cycle, when the robot leaves a row.
	// CurrentDirection is the instantaneous direction used for camera and
	// actuator selection.
	OverallDirection drive.Direction
	CurrentDirection drive.Direction

	LastStageChange time.Time
	LastHadContext  time.Time

	Speed  float64
	UseHoe bool
}

// newDrivingState returns the startup state. Speed and UseHoe survive
// resets; everything else goes back here.
func newDrivingState(speed float64, useHoe bool) DrivingState {
	return DrivingState{
		Mode:             Manual,
		Stage:            CenteringHoe,
		OverallDirection: drive.Forward,
		CurrentDirection: drive.Forward,
		Speed:            speed,
		UseHoe:           useHoe,
	}
}

// OutputState is the latest completed iteration's artifacts for the
// presentation layer. Single writer (the loop and the encoder's Done
// callbacks), many readers.
type OutputState struct {
	LatestDriveCommand  string
	LatestGantryCommand string

	FrontImage string
	RearImage  string

	FrontLostContext bool
	RearLostContext  bool
}
