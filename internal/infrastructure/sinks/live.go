package sinks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

const (
	liveSendBuffer = 256
	liveWriteWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // debug feed, served to local dashboards
	},
}

// LiveMessage is a frame on the live feed.
type LiveMessage struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Service string          `json:"service,omitempty"`
	Span    *codec.SpanJSON `json:"span,omitempty"`
}

// Live fans finished spans out to connected WebSocket clients. Slow
// clients lose frames rather than slowing export.
type Live struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	closed  bool
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	service string
}

func (c *liveClient) wants(service string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.service == "" || c.service == service
}

// NewLive creates an empty hub.
func NewLive(logger *zap.Logger, metrics *monitoring.Metrics) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{
		logger:  logger,
		metrics: metrics,
		clients: make(map[*liveClient]struct{}),
	}
}

func (l *Live) Name() string { return "live" }

// Clients returns the number of connected clients.
func (l *Live) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// ServeHTTP upgrades the connection and streams spans until the client
// disconnects. Clients may send {"type":"ping"} and
// {"type":"subscribe","service":"name"} ("" subscribes to all services).
func (l *Live) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}
	if !l.register(c) {
		_ = conn.Close()
		return
	}
	defer l.unregister(c)

	go l.writeLoop(c)

	l.enqueue(c, LiveMessage{Type: "system", Message: "connected to span feed"})

	for {
		var msg LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			l.enqueue(c, LiveMessage{Type: "pong"})
		case "subscribe":
			c.mu.Lock()
			c.service = msg.Service
			c.mu.Unlock()
			l.enqueue(c, LiveMessage{Type: "subscribed", Service: msg.Service})
		default:
			l.enqueue(c, LiveMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (l *Live) register(c *liveClient) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.clients[c] = struct{}{}
	l.metrics.IncWSConnections()
	return true
}

func (l *Live) unregister(c *liveClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients[c]; !ok {
		return
	}
	delete(l.clients, c)
	close(c.send)
	l.metrics.DecWSConnections()
}

func (l *Live) writeLoop(c *liveClient) {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			l.logger.Debug("websocket write failed", zap.Error(err))
			l.unregister(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(liveWriteWait))
}

func (l *Live) enqueue(c *liveClient, msg LiveMessage) {
	frame, err := sonic.Marshal(msg)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (l *Live) ExportBatch(_ context.Context, batch []tracing.Record) error {
	for i := range batch {
		doc, err := codec.ToJSON(batch[i])
		if err != nil {
			return err
		}
		service := tracing.ServiceName(batch[i].Resource)
		frame, err := sonic.Marshal(LiveMessage{Type: "span", Service: service, Span: &doc})
		if err != nil {
			return err
		}
		l.broadcast(frame, service)
	}
	return nil
}

func (l *Live) broadcast(frame []byte, service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.clients {
		if !c.wants(service) {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

// Shutdown disconnects every client.
func (l *Live) Shutdown(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for c := range l.clients {
		delete(l.clients, c)
		close(c.send)
		l.metrics.DecWSConnections()
	}
	return nil
}
