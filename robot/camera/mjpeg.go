package camera

import (
	"context"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const reconnectDelay = 2 * time.Second

// MJPEGSource pulls frames from two MJPEG-over-HTTP camera streams and keeps
// the latest decoded frame per device. Readers never wait on the network.
type MJPEGSource struct {
	client *http.Client
	logger *zap.Logger

	mu      sync.RWMutex
	frames  [2]image.Image
	swapped bool
}

// NewMJPEGSource starts one puller goroutine per stream URL (first front,
// then rear). The goroutines stop when ctx is cancelled.
func NewMJPEGSource(ctx context.Context, frontURL, rearURL string, logger *zap.Logger) *MJPEGSource {
	s := &MJPEGSource{
		client: &http.Client{},
		logger: logger,
	}
	go s.pull(ctx, 0, frontURL)
	go s.pull(ctx, 1, rearURL)
	return s
}

// SetSwapped reassigns which physical stream backs which role.
func (s *MJPEGSource) SetSwapped(swapped bool) {
	s.mu.Lock()
	s.swapped = swapped
	s.mu.Unlock()
}

// Frame returns the latest frame for the role, rotated for the rear camera.
func (s *MJPEGSource) Frame(role Role) (image.Image, bool) {
	s.mu.RLock()
	device := 0
	if (role == Rear) != s.swapped {
		device = 1
	}
	frame := s.frames[device]
	s.mu.RUnlock()

	if frame == nil {
		return nil, false
	}
	if role == Rear {
		return rotate180(frame), true
	}
	return frame, true
}

func (s *MJPEGSource) pull(ctx context.Context, device int, url string) {
	for ctx.Err() == nil {
		if err := s.stream(ctx, device, url); err != nil && ctx.Err() == nil {
			s.logger.Warn("camera stream dropped",
				zap.String("url", url),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// stream consumes one multipart MJPEG response, storing each decoded part
// as the device's latest frame.
func (s *MJPEGSource) stream(ctx context.Context, device int, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	reader := multipart.NewReader(resp.Body, params["boundary"])

	for {
		part, err := reader.NextPart()
		if err != nil {
			return err
		}
		frame, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			// A torn frame is not worth killing the stream over.
			continue
		}
		s.mu.Lock()
		s.frames[device] = frame
		s.mu.Unlock()
	}
}

// StaticSource serves fixed frames, for tests and bench rigs.
type StaticSource struct {
	mu      sync.RWMutex
	frames  map[Role]image.Image
	swapped bool
}

func NewStaticSource() *StaticSource {
	return &StaticSource{frames: make(map[Role]image.Image)}
}

// SetFrame installs the frame returned for the role (nil clears it).
func (s *StaticSource) SetFrame(role Role, frame image.Image) {
	s.mu.Lock()
	if frame == nil {
		delete(s.frames, role)
	} else {
		s.frames[role] = frame
	}
	s.mu.Unlock()
}

func (s *StaticSource) SetSwapped(swapped bool) {
	s.mu.Lock()
	s.swapped = swapped
	s.mu.Unlock()
}

func (s *StaticSource) Frame(role Role) (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.swapped {
		role = role.Opposite()
	}
	frame, ok := s.frames[role]
	return frame, ok
}
