// Package ws drives C9's per-connection realtime recognition session over
// a WebSocket, and fans out the session-independent db_update/log_refresh
// notices C10 and the write-through consumer raise. Adapted from the
// teacher's internal/api/ws/hub.go (same register/unregister/broadcast
// channel shape and read/write pump goroutines), with the per-client
// state upgraded from a passive stream_id filter to an owned
// stream.Session/Recognizer pair that actually does the per-frame work.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/fd-attendance/internal/observability"
	"github.com/your-org/fd-attendance/internal/stream"
	"github.com/your-org/fd-attendance/internal/wib"
	"github.com/your-org/fd-attendance/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	CheckOrigin: func(r *http.Request) bool {
		return true // access is gated by the API key, not origin; the org is fixed per process
	},
}

// Client is one connected realtime recognition session (spec §4.9/§6).
type Client struct {
	org     string
	conn    *websocket.Conn
	send    chan []byte
	session *stream.Session
}

// Hub owns every connected Client and the shared Recognizer they drive.
// Broadcasts (db_update, log_refresh) go to every client regardless of
// org — the recognizer itself already scopes recognition to one org's C2
// index, so a broader notification fan-out is harmless per spec §6.
type Hub struct {
	recognizer *stream.Recognizer

	defaultThreshold float64
	markEnabled      bool
	loginDelay       time.Duration

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(recognizer *stream.Recognizer, defaultThreshold float64, markEnabled bool, loginDelay time.Duration) *Hub {
	return &Hub{
		recognizer:       recognizer,
		defaultThreshold: defaultThreshold,
		markEnabled:      markEnabled,
		loginDelay:       loginDelay,
		clients:          make(map[*Client]bool),
		broadcast:        make(chan []byte, 256),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			observability.ActiveSessions.Inc()
			slog.Debug("ws session connected", "org", client.org)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			observability.WSConnections.Dec()
			observability.ActiveSessions.Dec()
			slog.Debug("ws session disconnected", "org", client.org)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastDBUpdate satisfies reconcile.Notifier: it fans out a db_update
// event after an enrollment or C10 reconciliation tick changes the roster.
func (h *Hub) BroadcastDBUpdate(labels []string) {
	h.send(dto.DBUpdateEvent{Type: "db_update", Labels: labels})
}

// BroadcastLogRefresh satisfies queue.LogRefreshNotifier: it hints every
// connected client to re-fetch the event log after a write-through
// persist lands in C3.
func (h *Hub) BroadcastLogRefresh() {
	h.send(dto.LogRefreshEvent{Type: "log_refresh"})
}

func (h *Hub) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal ws broadcast", "error", err)
		return
	}
	h.broadcast <- data
}

// HandleWS upgrades the connection, sends the ready handshake (spec §6),
// and starts the read/write pumps for one C9 session.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	org := c.GetHeader("X-Org-ID")
	if org == "" {
		org = "default"
	}

	client := &Client{
		org:     org,
		conn:    conn,
		send:    make(chan []byte, 64),
		session: stream.NewSession(h.defaultThreshold, h.markEnabled, wib.Now(), h.loginDelay),
	}

	h.register <- client

	ready := dto.ReadyEvent{Type: "ready", Threshold: h.defaultThreshold, MarkEnabled: h.markEnabled}
	if data, err := json.Marshal(ready); err == nil {
		client.send <- data
	}

	go client.writePump()
	go h.readPump(client)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.handleFrame(c, data)
		case websocket.TextMessage:
			h.handleTextMessage(c, data)
		}
	}
}

// handleTextMessage dispatches a JSON {type,...} envelope: "cfg" updates
// the session, "frame" carries a base64 frame over a text connection.
func (h *Hub) handleTextMessage(c *Client, data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "cfg":
		var cfg dto.CfgMessage
		if err := json.Unmarshal(data, &cfg); err != nil {
			return
		}
		c.session.Configure(cfg.Threshold, cfg.Mark)
	case "frame":
		var frame dto.FrameMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(frame.B64)
		if err != nil {
			return
		}
		h.handleFrame(c, raw)
	}
}

func (h *Hub) handleFrame(c *Client, frameBytes []byte) {
	observability.FramesProcessed.WithLabelValues(c.org).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := h.recognizer.ProcessFrame(ctx, c.session, frameBytes, wib.Now())
	if err != nil {
		h.emit(c, dto.ErrorEvent{Type: "error", Message: err.Error()})
		return
	}
	if result == nil {
		return // dropped: rate-limited or a frame already in flight
	}

	observability.FacesDetected.WithLabelValues(c.org).Add(float64(len(result.Results)))

	resultEvent := dto.ResultEvent{Type: "result", T: wib.ISO(result.T)}
	for _, box := range result.Results {
		resultEvent.Results = append(resultEvent.Results, dto.ResultBox{
			BBox: [4]float64{box.X, box.Y, box.W, box.H}, Label: box.Label, Score: box.Score,
		})
		if box.Label != "Unknown" {
			observability.FacesRecognized.WithLabelValues(c.org).Inc()
		}
	}
	for _, m := range result.Marked {
		resultEvent.Marked = append(resultEvent.Marked, m.Label)
		resultEvent.MarkedInfo = append(resultEvent.MarkedInfo, dto.MarkedInfo{Label: m.Label, Score: m.Score, Ts: wib.ISO(m.Ts)})
		observability.AttendanceMarked.WithLabelValues(c.org).Inc()
	}
	if !result.Suppressed {
		for _, b := range result.Blocked {
			resultEvent.Blocked = append(resultEvent.Blocked, dto.BlockedInfo{Label: b.Label, Code: b.Code})
			observability.AttendanceBlocked.WithLabelValues(c.org, b.Code).Inc()
		}
	}

	h.emit(c, resultEvent)
}

func (h *Hub) emit(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
