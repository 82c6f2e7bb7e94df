package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// StatePusher fans the control loop's readiness signal out to websocket
// clients. Each signal produces one snapshot broadcast; a client that
// cannot keep up only ever skips to the latest snapshot, never queues.
type StatePusher struct {
	api      *API
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	send chan Snapshot
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewStatePusher(api *API, logger *zap.Logger) *StatePusher {
	return &StatePusher{
		api:    api,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Run broadcasts a snapshot whenever the control loop signals a completed
// iteration, until the context is cancelled.
func (p *StatePusher) Run(ctx context.Context) error {
	ready := p.api.controller.Ready()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
			p.broadcast(p.api.snapshot())
		}
	}
}

func (p *StatePusher) broadcast(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cl := range p.clients {
		// Latest-wins: displace a pending snapshot rather than queue.
		select {
		case cl.send <- snap:
		default:
			select {
			case <-cl.send:
			default:
			}
			select {
			case cl.send <- snap:
			default:
			}
		}
	}
}

func (p *StatePusher) register(cl *client) {
	p.mu.Lock()
	p.clients[cl] = struct{}{}
	p.mu.Unlock()
}

func (p *StatePusher) unregister(cl *client) {
	p.mu.Lock()
	delete(p.clients, cl)
	p.mu.Unlock()
}

// Handle upgrades the connection and streams snapshots until the client
// goes away.
func (p *StatePusher) Handle(c *gin.Context) {
	conn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	p.logger.Info("websocket client connected", zap.String("client_ip", c.ClientIP()))

	cl := &client{
		send: make(chan Snapshot, 1),
		done: make(chan struct{}),
	}
	p.register(cl)
	defer p.unregister(cl)

	// The client gets the current snapshot immediately, not at the next
	// loop iteration.
	cl.send <- p.api.snapshot()

	go p.writer(conn, cl)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Warn("websocket read error", zap.Error(err))
			}
			cl.close()
			return
		}
	}
}

func (p *StatePusher) writer(conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap := <-cl.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				p.logger.Warn("websocket write failed", zap.Error(err))
				cl.close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				return
			}
		case <-cl.done:
			return
		}
	}
}
