// Package webchat is the browser channel: a websocket per open chat tab, fanned out by
// session id.
package webchat

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/protocol"
)

const (
	readLimit    = 64 << 10
	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 45 * time.Second
	outboxSize   = 64
)

// Submitter accepts inbound events. *delivery.Dispatcher implements it.
type Submitter interface {
	Submit(in protocol.Inbound) error
}

// Hub tracks the connected tabs of every session and delivers outbound events to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	conns map[string]map[*conn]struct{}
}

type conn struct {
	ws     *websocket.Conn
	outbox chan any
}

func NewHub(allowAnyOrigin bool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive a chat unless configured otherwise.
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		conns:  make(map[string]map[*conn]struct{}),
	}
}

// Send pushes out to every tab of its session. Events for a session with no open tab are
// dropped; a tab whose outbox is full misses the event.
func (h *Hub) Send(_ context.Context, out protocol.Outbound) error {
	ev := protocol.ChatEventFrom(out)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[out.SessionID] {
		select {
		case c.outbox <- ev:
		default:
			h.logger.Warn("webchat outbox full, dropping event", zap.String("kind", string(out.Kind)))
		}
	}
	return nil
}

// Connections reports the open tabs of a session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[sessionID])
}

// Serve upgrades the request and runs the tab until either side closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, submit Submitter) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws, outbox: make(chan any, outboxSize)}
	h.register(sessionID, c)
	defer func() {
		h.unregister(sessionID, c)
		_ = ws.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, c, cancel)
	}()

	c.outbox <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "connected"}
	h.readLoop(ctx, c, sessionID, submit)
	cancel()
	<-writerDone
}

func (h *Hub) writeLoop(ctx context.Context, c *conn, cancel context.CancelFunc) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		case msg := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				h.logger.Debug("webchat write failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *conn, sessionID string, submit Submitter) {
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for ctx.Err() == nil {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			h.reject(c, sessionID, "invalid_client_message", err.Error(), false)
			continue
		}
		msg := parsed.(protocol.ChatMessage)
		id := strings.TrimSpace(msg.MessageID)
		if id == "" {
			id = uuid.NewString()
		}
		in := protocol.Inbound{
			SessionID:  sessionID,
			MessageID:  id,
			Kind:       protocol.InboundText,
			Text:       msg.Text,
			Channel:    protocol.ChannelWebchat,
			ReceivedAt: h.now(),
		}
		if err := submit.Submit(in); err != nil {
			h.reject(c, sessionID, "submit_failed", err.Error(), true)
		}
	}
}

func (h *Hub) reject(c *conn, sessionID, code, detail string, retryable bool) {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "webchat",
		Retryable: retryable,
		Detail:    detail,
	}
	select {
	case c.outbox <- ev:
	default:
	}
}

func (h *Hub) register(sessionID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[sessionID]
	if set == nil {
		set = make(map[*conn]struct{})
		h.conns[sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(sessionID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[sessionID], c)
	if len(h.conns[sessionID]) == 0 {
		delete(h.conns, sessionID)
	}
}
