package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JPEG qualities for the two debug treatments. The passthrough camera feed
// is display-only filler, so it gets compressed harder.
const (
	CompositeQuality   = 50
	PassthroughQuality = 20
)

// EncodeJob asks the encoder to turn a debug image into a base64 JPEG data
// URL and hand it to Done.
type EncodeJob struct {
	Camera  string
	Img     image.Image
	Quality int
	Done    func(dataURL string)
}

// Encoder runs JPEG encoding on background workers so the control loop never
// blocks on image compression. Jobs are dropped when the queue is full; a
// dropped encode degrades the monitoring display only, never control.
type Encoder struct {
	jobs     chan *EncodeJob
	wg       sync.WaitGroup
	shutdown chan struct{}
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
}

func NewEncoder(queueSize, workers int, logger *zap.Logger) *Encoder {
	e := &Encoder{
		jobs:      make(chan *EncodeJob, queueSize),
		shutdown:  make(chan struct{}),
		logger:    logger,
		isRunning: true,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Encoder) worker() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			if job == nil {
				continue
			}
			dataURL, err := EncodeDataURL(job.Img, job.Quality)
			if err != nil {
				e.logger.Warn("debug image encode failed",
					zap.String("camera", job.Camera),
					zap.Error(err))
				continue
			}
			job.Done(dataURL)
		case <-e.shutdown:
			return
		}
	}
}

// Enqueue submits a job without blocking. It reports false when the job was
// dropped because the queue is full or the encoder is shut down.
func (e *Encoder) Enqueue(job *EncodeJob) bool {
	e.mu.Lock()
	running := e.isRunning
	e.mu.Unlock()
	if !running {
		return false
	}
	select {
	case e.jobs <- job:
		return true
	default:
		return false
	}
}

func (e *Encoder) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = false
	e.mu.Unlock()

	close(e.shutdown)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("encoder shutdown timeout exceeded")
	}
}

// EncodeDataURL encodes an image as a base64 JPEG data URL, the format the
// browser monitoring UI renders directly.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
