// Package handlers is the monitoring surface: REST endpoints for settings,
// state and manual commands, plus a websocket pushing live snapshots.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldbots/driptape/robot/cache"
	"github.com/fieldbots/driptape/robot/camera"
	"github.com/fieldbots/driptape/robot/controller"
	"github.com/fieldbots/driptape/robot/settings"
)

// SerialLink is the slice of the serial transport the API needs.
type SerialLink interface {
	SendCommand(command string) error
	History() []string
	Connected() bool
}

// Snapshot is the wire form of the latest completed iteration, consumed by
// the browser UI over both the REST state endpoint and the websocket.
type Snapshot struct {
	Stage            string `json:"stage"`
	Mode             string `json:"mode"`
	OverallDirection string `json:"overall_direction"`
	CurrentDirection string `json:"current_direction"`

	DriveCommand  string `json:"drive_command"`
	GantryCommand string `json:"gantry_command"`

	FrontImage string `json:"front_image,omitempty"`
	RearImage  string `json:"rear_image,omitempty"`

	FrontLostContext bool `json:"front_lost_context"`
	RearLostContext  bool `json:"rear_lost_context"`

	SerialConnected bool     `json:"serial_connected"`
	SerialLog       []string `json:"serial_log"`

	Timestamp int64 `json:"timestamp"`
}

type API struct {
	controller *controller.Controller
	settings   *settings.Store
	serial     SerialLink
	frames     *cache.FrameCache
	logger     *zap.Logger
}

func NewAPI(
	ctrl *controller.Controller,
	store *settings.Store,
	serial SerialLink,
	frames *cache.FrameCache,
	logger *zap.Logger,
) *API {
	return &API{
		controller: ctrl,
		settings:   store,
		serial:     serial,
		frames:     frames,
		logger:     logger,
	}
}

func (a *API) snapshot() Snapshot {
	st := a.controller.State()
	out := a.controller.Output()
	return Snapshot{
		Stage:            st.Stage.String(),
		Mode:             st.Mode.String(),
		OverallDirection: st.OverallDirection.String(),
		CurrentDirection: st.CurrentDirection.String(),
		DriveCommand:     out.LatestDriveCommand,
		GantryCommand:    out.LatestGantryCommand,
		FrontImage:       out.FrontImage,
		RearImage:        out.RearImage,
		FrontLostContext: out.FrontLostContext,
		RearLostContext:  out.RearLostContext,
		SerialConnected:  a.serial.Connected(),
		SerialLog:        a.serial.History(),
		Timestamp:        time.Now().Unix(),
	}
}

// GetSettings returns the current vision thresholds.
func (a *API) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, a.settings.Snapshot())
}

// UpdateSettings replaces the vision thresholds and persists them.
func (a *API) UpdateSettings(c *gin.Context) {
	var s settings.CvSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}
	if err := a.settings.Update(s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.logger.Info("cv settings updated")
	c.JSON(http.StatusOK, a.settings.Snapshot())
}

// GetState returns the latest driving snapshot.
func (a *API) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, a.snapshot())
}

// GetSerialLog returns the retained actuator log tail.
func (a *API) GetSerialLog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lines": a.serial.History()})
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// PostCommand passes a manual command straight through to the actuator.
func (a *API) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	if err := a.serial.SendCommand(command); err != nil {
		a.logger.Warn("manual command failed",
			zap.String("command", command),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": command})
}

// GetFrame serves the latest debug composite for one camera. The frame
// cache takes the read pressure; on a miss the controller output backfills
// it.
func (a *API) GetFrame(c *gin.Context) {
	name := c.Param("camera")
	if _, ok := camera.ParseRole(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera"})
		return
	}

	frame, err := a.frames.Get(name)
	if err == nil {
		c.JSON(http.StatusOK, frame)
		return
	}

	out := a.controller.Output()
	dataURL := out.FrontImage
	if name == camera.Rear.String() {
		dataURL = out.RearImage
	}
	if dataURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}

	a.frames.Put(name, dataURL)
	frame, err = a.frames.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}
	c.JSON(http.StatusOK, frame)
}

// RegisterRoutes wires the REST API under /api/v1 and the websocket at /ws.
func RegisterRoutes(r *gin.Engine, a *API, pusher *StatePusher) {
	r.GET("/ws", pusher.Handle)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/settings", a.GetSettings)
		v1.PUT("/settings", a.UpdateSettings)
		v1.GET("/state", a.GetState)
		v1.GET("/serial-log", a.GetSerialLog)
		v1.POST("/command", a.PostCommand)
		v1.GET("/frames/:camera", a.GetFrame)
	}
}
