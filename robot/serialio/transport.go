// Package serialio owns the text link to the actuator microcontroller:
// outbound newline-terminated commands, inbound log lines fanned out to a
// handler, and a bounded history of everything received.
package serialio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	ErrDisconnected = errors.New("serial port not connected")
	ErrWriteFailed  = fmt.Errorf("failed to write to serial port")
)

// historyCap bounds the retained log lines; the oldest are dropped.
const historyCap = 100

// Port is the minimal device surface, so tests can inject a fake.
type Port interface {
	io.ReadWriter
	io.Closer
}

// LineHandler receives every inbound line, before it is recorded.
type LineHandler func(line string)

// Transport wraps a serial port. Writes are serialized under a mutex;
// reception runs in Monitor. A nil port is a valid disconnected transport:
// sends fail softly and Monitor blocks until cancelled, so the rest of the
// process keeps working without the actuator.
type Transport struct {
	port   Port
	logger *zap.Logger

	commandMu sync.Mutex

	handlerMu sync.Mutex
	handler   LineHandler

	historyMu sync.Mutex
	history   []string
}

// Open opens the device at the given baud rate. Open failure is not fatal:
// it logs and returns a disconnected transport.
func Open(device string, baudRate int, logger *zap.Logger) *Transport {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		logger.Warn("serial port unavailable, running disconnected",
			zap.String("device", device),
			zap.Error(err))
		return NewTransport(nil, logger)
	}
	logger.Info("serial port opened",
		zap.String("device", device),
		zap.Int("baud_rate", baudRate))
	return NewTransport(port, logger)
}

// NewTransport wraps an already-open port. Pass nil for a disconnected
// transport.
func NewTransport(port Port, logger *zap.Logger) *Transport {
	return &Transport{port: port, logger: logger}
}

// SetLineHandler registers the handler called for every inbound line.
func (t *Transport) SetLineHandler(h LineHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Connected reports whether a real port backs this transport.
func (t *Transport) Connected() bool {
	return t.port != nil
}

// SendCommand writes the command to the port, appending a newline if the
// caller left it off.
func (t *Transport) SendCommand(command string) error {
	if t.port == nil {
		return ErrDisconnected
	}

	t.commandMu.Lock()
	defer t.commandMu.Unlock()

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := t.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads newline-delimited lines from the port until the context is
// cancelled or the port fails, dispatching each to the registered handler
// and appending it to the history. The blocking Scan runs in its own
// goroutine so the select below stays responsive to cancellation.
func (t *Transport) Monitor(ctx context.Context) error {
	if t.port == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	scan := bufio.NewScanner(t.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			t.dispatch(line)
		}
	}
}

func (t *Transport) dispatch(line string) {
	t.handlerMu.Lock()
	handler := t.handler
	t.handlerMu.Unlock()
	if handler != nil {
		handler(line)
	}

	t.historyMu.Lock()
	t.history = append(t.history, line)
	if len(t.history) > historyCap {
		t.history = t.history[len(t.history)-historyCap:]
	}
	t.historyMu.Unlock()
}

// History returns a copy of the retained inbound lines, oldest first.
func (t *Transport) History() []string {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()
	out := make([]string, len(t.history))
	copy(out, t.history)
	return out
}

// Close closes the underlying port, if any.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}
