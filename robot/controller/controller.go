// Package controller runs the cultivation control loop: one camera frame
// per iteration through the row detector, commands out over the serial
// link, and a stage machine sequencing the robot through the repeating
// center/lower/drive/raise/turn/search cycle.
package controller

import (
	"context"
	"image"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldbots/driptape/robot/camera"
	"github.com/fieldbots/driptape/robot/drive"
	"github.com/fieldbots/driptape/robot/settings"
	"github.com/fieldbots/driptape/robot/vision"
)

// Actuator is the outbound half of the serial link. Send failures are
// logged and swallowed here; losing the actuator must not stop the loop.
type Actuator interface {
	SendCommand(command string) error
}

// Options are the control loop tunables.
type Options struct {
	// Speed is the base driving speed in [0, 1].
	Speed float64
	// UseHoe false skips the hoe raise/lower stages of the cycle.
	UseHoe bool

	// LostContextTimeout is how long DrivingNormal keeps driving after the
	// last valid detection before handing over to the rearview camera.
	LostContextTimeout time.Duration
	// RearviewWindow bounds how long DrivingFromRearview covers the blind
	// spot at the end of a row.
	RearviewWindow time.Duration
	// HoeSettle is the fixed wait after a hoe raise/lower pulse.
	HoeSettle time.Duration
	// LoopIdle paces iterations when there is nothing to actuate.
	LoopIdle time.Duration

	DriveParams drive.Params
}

func DefaultOptions() Options {
	return Options{
		Speed:              0.2,
		UseHoe:             true,
		LostContextTimeout: 1500 * time.Millisecond,
		RearviewWindow:     4 * time.Second,
		HoeSettle:          2 * time.Second,
		LoopIdle:           100 * time.Millisecond,
		DriveParams:        drive.DefaultParams(),
	}
}

// Controller owns DrivingState and OutputState. The loop goroutine is the
// sole writer of both; readers copy snapshots under the respective mutex.
type Controller struct {
	cameras  camera.Source
	detector *vision.Detector
	encoder  *vision.Encoder
	actuator Actuator
	settings *settings.Store
	logger   *zap.Logger
	opts     Options

	stateMu sync.Mutex
	state   DrivingState

	outputMu sync.Mutex
	output   OutputState

	// ready carries at most one pending notification; the websocket pusher
	// waits on it instead of polling.
	ready chan struct{}

	now   func() time.Time
	sleep func(time.Duration)
}

func New(
	cameras camera.Source,
	detector *vision.Detector,
	encoder *vision.Encoder,
	actuator Actuator,
	store *settings.Store,
	opts Options,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		cameras:  cameras,
		detector: detector,
		encoder:  encoder,
		actuator: actuator,
		settings: store,
		logger:   logger,
		opts:     opts,
		state:    newDrivingState(opts.Speed, opts.UseHoe),
		ready:    make(chan struct{}, 1),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Run drives iterations until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop starting",
		zap.Float64("speed", c.opts.Speed),
		zap.Bool("use_hoe", c.opts.UseHoe))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.iterate()
	}
}

// State returns a copy of the driving state.
func (c *Controller) State() DrivingState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Output returns a copy of the latest completed iteration's artifacts.
func (c *Controller) Output() OutputState {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()
	return c.output
}

// Ready returns the channel signalled after each completed iteration. It
// holds at most one pending notification, so a slow consumer sees "latest
// snapshot since last wait", never a backlog.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// HandleSerialLine reacts to mode lines reported by the actuator
// controller. All other lines are advisory and handled by the transport's
// history alone.
func (c *Controller) HandleSerialLine(line string) {
	switch {
	case strings.Contains(line, "mode 0"):
		c.startAutoMode(line)
	case strings.Contains(line, "mode 1"):
		c.reset(Manual)
	case strings.Contains(line, "mode 2"):
		c.reset(Stop)
	}
}

func (c *Controller) startAutoMode(line string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if strings.Contains(line, "FORWARD") {
		c.state.OverallDirection = drive.Forward
		c.state.CurrentDirection = drive.Forward
	} else if strings.Contains(line, "BACKWARD") {
		c.state.OverallDirection = drive.Backward
		c.state.CurrentDirection = drive.Backward
	}
	c.state.Mode = Auto
	c.logger.Info("entering auto mode",
		zap.String("direction", c.state.OverallDirection.String()))
}

// reset puts the state machine back to the start of the cycle. Speed and
// the hoe flag survive; they are operator configuration, not cycle state.
func (c *Controller) reset(mode Mode) {
	c.stateMu.Lock()
	speed, useHoe := c.state.Speed, c.state.UseHoe
	c.state = newDrivingState(speed, useHoe)
	c.state.Mode = mode
	c.stateMu.Unlock()

	c.outputMu.Lock()
	c.output = OutputState{}
	c.outputMu.Unlock()

	c.logger.Info("controller state reset", zap.String("mode", mode.String()))
}

// advanceStage moves to the next stage. Entering LeavingCurrentRow is the
// one point in the cycle where the travel direction flips.
func (c *Controller) advanceStage() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	next := c.state.Stage.Next(c.state.UseHoe)
	if next == LeavingCurrentRow {
		c.state.OverallDirection = c.state.OverallDirection.Flipped()
		c.state.CurrentDirection = c.state.OverallDirection
	}
	c.state.Stage = next
	c.state.LastStageChange = c.now()

	c.logger.Info("advancing stage",
		zap.Stringer("stage", next),
		zap.String("direction", c.state.CurrentDirection.String()))
}

// activeCameraRole picks the camera steering this iteration: the one facing
// the direction of travel, except during rearview driving where the
// opposite camera deliberately covers the blind spot.
func activeCameraRole(st DrivingState) camera.Role {
	role := camera.Front
	if st.CurrentDirection == drive.Backward {
		role = camera.Rear
	}
	if st.Stage == DrivingFromRearview {
		role = role.Opposite()
	}
	return role
}

func (c *Controller) iterate() {
	snap := c.settings.Snapshot()
	c.cameras.SetSwapped(snap.SwapCameras)

	st := c.State()
	active := activeCameraRole(st)

	var (
		result     vision.Result
		haveActive bool
	)
	for _, role := range []camera.Role{camera.Front, camera.Rear} {
		frame, ok := c.cameras.Frame(role)
		if !ok {
			continue
		}
		if role == active {
			result = c.detector.Process(frame, snap)
			haveActive = true
			c.publishImage(role, result.Composite, vision.CompositeQuality)
		} else {
			// The inactive feed still gets displayed, just unprocessed.
			c.publishImage(role, vision.Passthrough(frame), vision.PassthroughQuality)
		}
	}

	lost := true
	var (
		driveCmd, gantryCmd drive.Command
		driveOK, gantryOK   bool
	)
	if haveActive {
		lost = result.LostContext
		rearview := st.Stage == DrivingFromRearview
		driveCmd, driveOK = drive.DriveCommand(result.Lines, st.CurrentDirection, st.Speed, rearview, c.opts.DriveParams)
		gantryCmd, gantryOK = drive.GantryCommand(result.Lines, st.CurrentDirection, c.opts.DriveParams)
	}

	if haveActive && !lost {
		c.stateMu.Lock()
		c.state.LastHadContext = c.now()
		c.stateMu.Unlock()
	}

	c.outputMu.Lock()
	if driveOK {
		// Keep the last known drive command visible through brief dropouts.
		c.output.LatestDriveCommand = string(driveCmd)
	}
	if gantryOK {
		c.output.LatestGantryCommand = string(gantryCmd)
	} else {
		c.output.LatestGantryCommand = ""
	}
	if haveActive {
		if active == camera.Front {
			c.output.FrontLostContext = lost
		} else {
			c.output.RearLostContext = lost
		}
	}
	c.outputMu.Unlock()

	c.signalReady()

	if st.Mode != Auto {
		c.sleep(c.opts.LoopIdle)
		return
	}

	st = c.State()
	now := c.now()

	switch st.Stage {
	case CenteringHoe:
		if gantryOK && gantryCmd == drive.GantryCentered && !lost {
			c.advanceStage()
		} else if gantryOK {
			c.send(gantryCmd)
		}

	case LoweringHoe:
		c.send(drive.StopDriving)
		c.send("hoe down")
		c.sleep(c.opts.HoeSettle)
		c.advanceStage()

	case RaisingHoe:
		c.send(drive.StopDriving)
		c.send("hoe home")
		c.sleep(c.opts.HoeSettle)
		c.advanceStage()

	case DrivingNormal:
		if now.Sub(st.LastHadContext) < c.opts.LostContextTimeout {
			if driveOK {
				c.send(driveCmd)
			}
		} else {
			c.advanceStage()
		}

	case DrivingFromRearview:
		if now.Sub(st.LastStageChange) < c.opts.RearviewWindow {
			if driveOK {
				c.send(driveCmd)
			}
		} else {
			c.send(drive.StopDriving)
			c.advanceStage()
		}

	case LeavingCurrentRow:
		// Keep nudging sideways until the old row falls out of view.
		if haveActive && !lost {
			c.send(drive.RowShift(st.CurrentDirection, c.opts.DriveParams))
		} else if haveActive {
			c.advanceStage()
		}

	case SearchingForNextRow:
		if haveActive && lost {
			c.send(drive.RowShift(st.CurrentDirection, c.opts.DriveParams))
		} else if haveActive {
			c.advanceStage()
		}
	}

	c.sleep(c.opts.LoopIdle)
}

func (c *Controller) send(cmd drive.Command) {
	if err := c.actuator.SendCommand(string(cmd)); err != nil {
		c.logger.Warn("serial send failed",
			zap.String("command", string(cmd)),
			zap.Error(err))
	}
}

// publishImage hands a debug image to the encoder pool; the data URL lands
// in the output state whenever the worker finishes. A dropped encode only
// means the monitoring UI shows a stale image for one iteration.
func (c *Controller) publishImage(role camera.Role, img *image.RGBA, quality int) {
	if c.encoder == nil || img == nil {
		return
	}
	c.encoder.Enqueue(&vision.EncodeJob{
		Camera:  role.String(),
		Img:     img,
		Quality: quality,
		Done: func(dataURL string) {
			c.outputMu.Lock()
			if role == camera.Front {
				c.output.FrontImage = dataURL
			} else {
				c.output.RearImage = dataURL
			}
			c.outputMu.Unlock()
		},
	})
}

func (c *Controller) signalReady() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
