package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// wsMessage is the envelope pushed to connected UI shells.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// EventHub fans controller events out to websocket clients. A slow client
// is dropped rather than allowed to stall the others.
type EventHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway serves a local UI shell only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// BroadcastState pushes a call-state snapshot to every client.
func (h *EventHub) BroadcastState(state domain.CallState) {
	h.broadcast(wsMessage{Type: "state", Payload: state})
}

// BroadcastIncoming pushes an incoming-call notification to every client.
func (h *EventHub) BroadcastIncoming(record domain.CallRecord) {
	h.broadcast(wsMessage{Type: "incoming_call", Payload: record})
}

// BroadcastCallEnded notifies clients that the active call finished.
func (h *EventHub) BroadcastCallEnded() {
	h.broadcast(wsMessage{Type: "call_ended", Payload: nil})
}

func (h *EventHub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal ws message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("client_id", client.id))
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// Handle upgrades the request and streams events until the client leaves.
// The current state is sent immediately so a reconnecting shell does not
// miss the active call.
func (h *EventHub) Handle(calls ports.CallService) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &wsClient{
			id:   utils.GenerateClientID(),
			conn: conn,
			send: make(chan []byte, sendBufferSize),
		}
		h.mu.Lock()
		h.clients[client] = struct{}{}
		h.mu.Unlock()
		h.logger.Debug("websocket client connected", zap.String("client_id", client.id))

		if snapshot, err := json.Marshal(wsMessage{Type: "state", Payload: calls.State()}); err == nil {
			client.send <- snapshot
		}

		go h.writePump(client)
		go h.readPump(client)
	}
}

func (h *EventHub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; its job is detecting disconnects.
func (h *EventHub) readPump(client *wsClient) {
	defer h.drop(client)

	client.conn.SetReadLimit(1024)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}
