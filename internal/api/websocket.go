package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"skirmish/internal/game"
	"skirmish/internal/game/action"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
	"skirmish/internal/replication"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// Per-connection intent rate
	wsIntentsPerSecond = 30
	wsIntentBurst      = 60

	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4 << 10
	wsSendBuffer     = 16
	frameQueueSize   = 8
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// WebSocketHub fans published frames out to connected clients as msgpack
// snapshot envelopes and feeds client intents back into the engine.
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	frames chan game.Frame
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	runOnce  sync.Once

	// Removed ids from frames dropped before encoding. Replicas would
	// otherwise keep ghosts of those entities.
	pendingMu      sync.Mutex
	pendingRemoved []int
	dropped        uint64

	// Last action type sent per entity
	actions map[int]int

	seq      uint64
	upgrader websocket.Upgrader
	submit   func(game.Intent) bool
	conns    *ConnLimiter
	log      *logrus.Entry
}

// NewWebSocketHub creates a hub. submit receives client intents; nil makes
// the hub broadcast-only.
func NewWebSocketHub(allowedOrigins []string, submit func(game.Intent) bool) *WebSocketHub {
	h := &WebSocketHub{
		clients: make(map[*wsClient]struct{}),
		actions: make(map[int]int),
		frames:  make(chan game.Frame, frameQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		submit:  submit,
		conns:   NewConnLimiter(MaxWSConnectionsPerIP),
		log:     logger.Component("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if IsAllowedOrigin(origin, allowedOrigins) {
				return true
			}
			h.log.WithField("origin", origin).Warn("websocket origin rejected")
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// PublishFrame queues f for broadcast. It never blocks, so it is safe to use
// as the engine's OnFrame hook. When the queue is full the frame is dropped
// but its removals are carried into the next frame sent.
func (h *WebSocketHub) PublishFrame(f game.Frame) {
	select {
	case h.frames <- f:
	default:
		h.pendingMu.Lock()
		h.pendingRemoved = append(h.pendingRemoved, f.Removed...)
		h.dropped++
		h.pendingMu.Unlock()
	}
}

// Dropped returns the number of frames dropped by PublishFrame.
func (h *WebSocketHub) Dropped() uint64 {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return h.dropped
}

// Run encodes and broadcasts frames until Stop is called.
func (h *WebSocketHub) Run() {
	h.runOnce.Do(func() {
		defer close(h.done)
		for {
			select {
			case <-h.stop:
				h.closeAll()
				return
			case f := <-h.frames:
				h.broadcastFrame(f)
			}
		}
	})
}

// Stop ends Run and closes every client connection.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// broadcastFrame sends the frame as a snapshot envelope, followed by a
// command envelope for entities whose action changed since the last frame.
func (h *WebSocketHub) broadcastFrame(f game.Frame) {
	cmds := h.actionCommands(f)
	if h.ClientCount() == 0 {
		// Nobody to tell; removals are covered by the next full snapshot.
		h.takePending()
		return
	}

	removed := append(h.takePending(), f.Removed...)
	h.seq++
	h.broadcast(replication.Snapshot(h.seq, f.Tick, f.Entities, removed))
	if len(cmds) > 0 {
		h.seq++
		h.broadcast(replication.Commands(h.seq, f.Tick, cmds...))
	}
}

// actionCommands returns a play_action command per entity whose action
// type differs from the last one seen. Commands are sequenced by tick.
func (h *WebSocketHub) actionCommands(f game.Frame) []replication.Addressed {
	for _, id := range f.Removed {
		delete(h.actions, id)
	}
	var cmds []replication.Addressed
	for _, s := range f.Entities {
		prev, seen := h.actions[s.ID]
		h.actions[s.ID] = s.Action
		if s.Action == action.NoTypeID || (seen && prev == s.Action) {
			continue
		}
		cmds = append(cmds, replication.Addressed{
			EntityID: s.ID,
			Command: world.Command{
				Seq:          f.Tick,
				Type:         world.CommandPlayAction,
				ActionTypeID: s.Action,
			},
		})
	}
	return cmds
}

func (h *WebSocketHub) broadcast(env replication.Envelope) {
	data, err := replication.Encode(env)
	if err != nil {
		h.log.WithError(err).Error("frame encode failed")
		return
	}

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; its writer goroutine sees the close and unregisters.
			go h.unregister(c)
		}
	}
	h.mu.RUnlock()
	IncrementWSMessages()
}

func (h *WebSocketHub) takePending() []int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	out := h.pendingRemoved
	h.pendingRemoved = nil
	return out
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	UpdateWSConnections(count)
	h.log.WithFields(logrus.Fields{"ip": c.ip, "total": count}).Info("client connected")
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.conns.Release(c.ip)
	UpdateWSConnections(count)
	h.log.WithFields(logrus.Fields{"ip": c.ip, "total": count}).Info("client disconnected")
}

func (h *WebSocketHub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.conns.Acquire(ip) {
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		h.conns.Release(ip)
		return
	}

	c := &wsClient{conn: conn, ip: ip, send: make(chan []byte, wsSendBuffer)}
	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump accepts JSON intents from the client.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(wsIntentsPerSecond, wsIntentBurst)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if h.submit == nil {
			continue
		}
		if !limiter.Allow() {
			RecordConnectionRejected("rate_limit")
			continue
		}
		var in game.Intent
		if err := json.Unmarshal(message, &in); err != nil || in.EntityID <= 0 {
			h.log.WithField("ip", c.ip).Debug("malformed intent")
			continue
		}
		in.ReceivedAt = time.Now()
		if !h.submit(in) {
			h.log.WithField("entity", in.EntityID).Debug("intake full, intent dropped")
		}
	}
}
