package controller

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldbots/driptape/robot/camera"
	"github.com/fieldbots/driptape/robot/drive"
	"github.com/fieldbots/driptape/robot/settings"
	"github.com/fieldbots/driptape/robot/vision"
)

type fakeActuator struct {
	mu   sync.Mutex
	cmds []string
	err  error
}

func (f *fakeActuator) SendCommand(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeActuator) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *fakeActuator) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return ""
	}
	return f.cmds[len(f.cmds)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *settings.Store {
	t.Helper()
	s := settings.CvSettings{
		HLowerPercentile:           0,
		HUpperPercentile:           100,
		SLowerPercentile:           0,
		SUpperPercentile:           100,
		VLowerPercentile:           0,
		VUpperPercentile:           5,
		CloseKernel:                3,
		OpenKernel:                 3,
		VerticalDilationIterations: 3,
		DistThreshold:              20,
		R2Threshold:                95,
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	store, err := settings.Load(path, zap.NewNop())
	require.NoError(t, err)
	return store
}

// frameWithStripes paints vertical tape stripes on a gray background, the
// same synthetic scene the detector tests use.
func frameWithStripes(stripes ...int) *image.RGBA {
	const stripeWidth = 16
	img := image.NewRGBA(image.Rect(0, 0, vision.FrameWidth, vision.FrameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)
	for _, x0 := range stripes {
		draw.Draw(img, image.Rect(x0, 0, x0+stripeWidth, vision.FrameHeight),
			image.NewUniform(color.RGBA{10, 10, 10, 255}), image.Point{}, draw.Src)
	}
	return img
}

// Stripe starts producing centered rows: midpoints 95 and 175 average to
// the frame midline at 135.
func centeredRows() *image.RGBA { return frameWithStripes(87, 167) }

// Rows shifted 20 px right of the midline.
func offCenterRows() *image.RGBA { return frameWithStripes(107, 187) }

// A single stripe cannot form a left/right pair, so context is lost.
func lostRows() *image.RGBA { return frameWithStripes(40) }

func newTestController(t *testing.T, src camera.Source) (*Controller, *fakeActuator, *fakeClock) {
	t.Helper()
	act := &fakeActuator{}
	clock := newFakeClock()
	c := New(src, vision.NewDetector(zap.NewNop()), nil, act, newTestStore(t), DefaultOptions(), zap.NewNop())
	c.now = clock.Now
	c.sleep = func(time.Duration) {}
	return c, act, clock
}

func setStage(c *Controller, st Stage) {
	c.stateMu.Lock()
	c.state.Stage = st
	c.state.LastStageChange = c.now()
	c.stateMu.Unlock()
}

func TestStageNextTable(t *testing.T) {
	tests := []struct {
		from, to Stage
	}{
		{CenteringHoe, LoweringHoe},
		{LoweringHoe, DrivingNormal},
		{DrivingNormal, DrivingFromRearview},
		{DrivingFromRearview, RaisingHoe},
		{RaisingHoe, LeavingCurrentRow},
		{LeavingCurrentRow, SearchingForNextRow},
		{SearchingForNextRow, CenteringHoe},
	}
	require.Len(t, tests, NumStages)
	for _, tt := range tests {
		assert.Equal(t, tt.to, tt.from.Next(true), tt.from.String())
	}
}

func TestStageNextSkipsHoeStages(t *testing.T) {
	assert.Equal(t, DrivingNormal, CenteringHoe.Next(false))
	assert.Equal(t, LeavingCurrentRow, DrivingFromRearview.Next(false))
}

func TestFullCycleFlipsDirectionOnce(t *testing.T) {
	c, _, _ := newTestController(t, camera.NewStaticSource())

	flips := 0
	prev := c.State().OverallDirection
	for i := 0; i < NumStages; i++ {
		c.advanceStage()
		if dir := c.State().OverallDirection; dir != prev {
			flips++
			prev = dir
		}
	}

	st := c.State()
	assert.Equal(t, CenteringHoe, st.Stage)
	assert.Equal(t, 1, flips)
	assert.Equal(t, drive.Backward, st.OverallDirection)
	assert.Equal(t, st.OverallDirection, st.CurrentDirection)
}

func TestHoelessCycleFlipsDirectionOnce(t *testing.T) {
	c, _, _ := newTestController(t, camera.NewStaticSource())
	c.stateMu.Lock()
	c.state.UseHoe = false
	c.stateMu.Unlock()

	for i := 0; i < NumStages-2; i++ {
		c.advanceStage()
	}

	st := c.State()
	assert.Equal(t, CenteringHoe, st.Stage)
	assert.Equal(t, drive.Backward, st.OverallDirection)
}

func TestHandleSerialLineModes(t *testing.T) {
	c, _, _ := newTestController(t, camera.NewStaticSource())

	c.HandleSerialLine("mode 0 BACKWARD")
	st := c.State()
	assert.Equal(t, Auto, st.Mode)
	assert.Equal(t, drive.Backward, st.OverallDirection)
	assert.Equal(t, drive.Backward, st.CurrentDirection)

	setStage(c, DrivingNormal)
	c.HandleSerialLine("mode 1")
	st = c.State()
	assert.Equal(t, Manual, st.Mode)
	assert.Equal(t, CenteringHoe, st.Stage)
	assert.Equal(t, drive.Forward, st.OverallDirection)
	assert.True(t, st.UseHoe)

	c.HandleSerialLine("mode 2")
	assert.Equal(t, Stop, c.State().Mode)

	c.HandleSerialLine("mode 0 FORWARD")
	st = c.State()
	assert.Equal(t, Auto, st.Mode)
	assert.Equal(t, drive.Forward, st.OverallDirection)

	// Unrelated lines leave the state alone.
	c.HandleSerialLine("odo 12345")
	assert.Equal(t, Auto, c.State().Mode)
}

func TestManualModePublishesWithoutActuating(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, act, _ := newTestController(t, src)

	c.iterate()

	select {
	case <-c.Ready():
	default:
		t.Fatal("iteration did not signal readiness")
	}

	out := c.Output()
	assert.Equal(t, "drive 51 51", out.LatestDriveCommand)
	assert.Equal(t, string(drive.GantryCentered), out.LatestGantryCommand)
	assert.False(t, out.FrontLostContext)
	assert.Empty(t, act.sent())
}

func TestCenteringHoeAdvancesWhenCentered(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")

	c.iterate()

	assert.Equal(t, LoweringHoe, c.State().Stage)
	assert.Empty(t, act.sent())
}

func TestCenteringHoeSendsCorrectionWhenOffCenter(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, offCenterRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")

	c.iterate()

	assert.Equal(t, CenteringHoe, c.State().Stage)

	last := act.last()
	require.True(t, strings.HasPrefix(last, "gantry "))
	delay, err := strconv.Atoi(strings.TrimPrefix(last, "gantry "))
	require.NoError(t, err)
	p := drive.DefaultParams()
	assert.GreaterOrEqual(t, delay, p.MinStepDelay)
	assert.LessOrEqual(t, delay, p.MaxStepDelay)
}

func TestHoeStagesPulseAndAdvance(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")

	setStage(c, LoweringHoe)
	c.iterate()
	assert.Equal(t, DrivingNormal, c.State().Stage)
	assert.Equal(t, []string{"drive 0 0", "hoe down"}, act.sent())

	setStage(c, RaisingHoe)
	c.iterate()
	assert.Equal(t, LeavingCurrentRow, c.State().Stage)
	assert.Equal(t, "hoe home", act.last())
}

func TestDrivingNormalDrivesWhileInContext(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")
	setStage(c, DrivingNormal)

	c.iterate()
	assert.Equal(t, DrivingNormal, c.State().Stage)
	assert.Equal(t, "drive 51 51", act.last())
}

func TestDrivingNormalAdvancesAfterLostTimeout(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, _, clock := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")
	setStage(c, DrivingNormal)

	c.iterate() // stamps LastHadContext
	require.Equal(t, DrivingNormal, c.State().Stage)

	src.SetFrame(camera.Front, lostRows())
	clock.Advance(2 * time.Second)
	c.iterate()

	assert.Equal(t, DrivingFromRearview, c.State().Stage)
}

func TestRearviewDrivesOppositeCameraThenStops(t *testing.T) {
	src := camera.NewStaticSource()
	// Front camera is blind; the rows are only visible behind the robot.
	src.SetFrame(camera.Front, lostRows())
	src.SetFrame(camera.Rear, offCenterRows())
	c, act, clock := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")
	setStage(c, DrivingFromRearview)

	c.iterate()
	assert.Equal(t, DrivingFromRearview, c.State().Stage)
	sent := act.sent()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1], "drive ")

	clock.Advance(5 * time.Second)
	c.iterate()
	assert.Equal(t, RaisingHoe, c.State().Stage)
	assert.Equal(t, "drive 0 0", act.last())
}

func TestLeavingRowNudgesUntilLost(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Rear, centeredRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 FORWARD")

	// Direction has already flipped by the time this stage runs.
	c.stateMu.Lock()
	c.state.OverallDirection = drive.Backward
	c.state.CurrentDirection = drive.Backward
	c.state.Stage = LeavingCurrentRow
	c.stateMu.Unlock()

	c.iterate()
	assert.Equal(t, LeavingCurrentRow, c.State().Stage)
	assert.Equal(t, "gantry -5000", act.last())

	src.SetFrame(camera.Rear, lostRows())
	c.iterate()
	assert.Equal(t, SearchingForNextRow, c.State().Stage)
}

func TestSearchingNudgesUntilContextRegained(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Rear, lostRows())
	c, act, _ := newTestController(t, src)
	c.HandleSerialLine("mode 0 BACKWARD")
	setStage(c, SearchingForNextRow)

	c.iterate()
	assert.Equal(t, SearchingForNextRow, c.State().Stage)
	assert.Equal(t, "gantry -5000", act.last())

	src.SetFrame(camera.Rear, centeredRows())
	c.iterate()
	assert.Equal(t, CenteringHoe, c.State().Stage)
}

func TestActiveCameraRole(t *testing.T) {
	tests := []struct {
		name  string
		state DrivingState
		want  camera.Role
	}{
		{"forward normal", DrivingState{CurrentDirection: drive.Forward, Stage: DrivingNormal}, camera.Front},
		{"backward normal", DrivingState{CurrentDirection: drive.Backward, Stage: DrivingNormal}, camera.Rear},
		{"forward rearview", DrivingState{CurrentDirection: drive.Forward, Stage: DrivingFromRearview}, camera.Rear},
		{"backward rearview", DrivingState{CurrentDirection: drive.Backward, Stage: DrivingFromRearview}, camera.Front},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, activeCameraRole(tt.state))
		})
	}
}

func TestMissingFramesKeepLoopAlive(t *testing.T) {
	c, act, _ := newTestController(t, camera.NewStaticSource())
	c.HandleSerialLine("mode 0 FORWARD")

	c.iterate()

	// No frames, no actuation, but the snapshot still went out.
	select {
	case <-c.Ready():
	default:
		t.Fatal("iteration did not signal readiness")
	}
	assert.Empty(t, act.sent())
	assert.Equal(t, CenteringHoe, c.State().Stage)
}

func TestActuatorFailureIsSwallowed(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, offCenterRows())
	c, act, _ := newTestController(t, src)
	act.err = errors.New("port gone")
	c.HandleSerialLine("mode 0 FORWARD")

	assert.NotPanics(t, func() { c.iterate() })
	assert.Equal(t, CenteringHoe, c.State().Stage)
}

func TestEncoderPublishesImages(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	src.SetFrame(camera.Rear, lostRows())

	act := &fakeActuator{}
	enc := vision.NewEncoder(8, 1, zap.NewNop())
	defer enc.Shutdown(time.Second)

	c := New(src, vision.NewDetector(zap.NewNop()), enc, act, newTestStore(t), DefaultOptions(), zap.NewNop())
	c.sleep = func(time.Duration) {}

	c.iterate()

	assert.Eventually(t, func() bool {
		out := c.Output()
		return out.FrontImage != "" && out.RearImage != ""
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, c.Output().FrontImage, "data:image/jpeg;base64,")
}

func TestResetClearsOutput(t *testing.T) {
	src := camera.NewStaticSource()
	src.SetFrame(camera.Front, centeredRows())
	c, _, _ := newTestController(t, src)

	c.iterate()
	require.NotEmpty(t, c.Output().LatestDriveCommand)

	c.HandleSerialLine("mode 2")
	assert.Empty(t, c.Output().LatestDriveCommand)
}
