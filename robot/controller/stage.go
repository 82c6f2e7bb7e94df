package controller

import "fmt"

// Stage is one step of the cultivation cycle. The robot centers the hoe over
// the row, lowers it, drives the row out (switching to the opposite camera
// near the end to cover the blind spot), raises the hoe, shifts sideways off
// the row, and searches for the next one.
type Stage int

const (
	CenteringHoe Stage = iota
	LoweringHoe
	DrivingNormal
	DrivingFromRearview
	RaisingHoe
	LeavingCurrentRow
	SearchingForNextRow
)

// NumStages is the cycle length with the hoe in use.
const NumStages = 7

var stageNames = map[Stage]string{
	CenteringHoe:        "CENTERING_HOE",
	LoweringHoe:         "LOWERING_HOE",
	DrivingNormal:       "DRIVING_NORMAL",
	DrivingFromRearview: "DRIVING_FROM_REARVIEW",
	RaisingHoe:          "RAISING_HOE",
	LeavingCurrentRow:   "LEAVING_CURRENT_ROW",
	SearchingForNextRow: "SEARCHING_FOR_NEXT_ROW",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// stageTransitions is the explicit cycle. Transitions are looked up here, not
// derived from constant ordering.
var stageTransitions = map[Stage]Stage{
	CenteringHoe:        LoweringHoe,
	LoweringHoe:         DrivingNormal,
	DrivingNormal:       DrivingFromRearview,
	DrivingFromRearview: RaisingHoe,
	RaisingHoe:          LeavingCurrentRow,
	LeavingCurrentRow:   SearchingForNextRow,
	SearchingForNextRow: CenteringHoe,
}

// hoeOnlyStages are skipped when the hoe is disabled.
var hoeOnlyStages = map[Stage]bool{
	LoweringHoe: true,
	RaisingHoe:  true,
}

// Next returns the stage after s. With useHoe false the hoe raise/lower
// stages are skipped over.
func (s Stage) Next(useHoe bool) Stage {
	next := stageTransitions[s]
	for !useHoe && hoeOnlyStages[next] {
		next = stageTransitions[next]
	}
	return next
}
