package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

// WebSocket message types for the batch event stream
const (
	// Client -> Server messages
	MsgTypeSubscribe = "subscribe"
	MsgTypePing      = "ping"

	// Server -> Client messages
	MsgTypeConnected     = "connected"
	MsgTypeFileFinished  = "file:finished"
	MsgTypeBatchFinished = "batch:finished"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// WSMessage is the envelope of every frame
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SubscribePayload narrows a connection to one batch. An empty BatchID
// receives every batch.
type SubscribePayload struct {
	BatchID string `json:"batchId"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const sendBuffer = 64

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage

	mu      sync.RWMutex
	batchID string
}

func (cl *wsClient) wants(batchID string) bool {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.batchID == "" || cl.batchID == batchID
}

// EventHub pushes batch progress to websocket subscribers
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewEventHub creates a hub. allowOrigin may be nil to accept any origin.
func NewEventHub(allowOrigin func(origin string) bool, logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				return allowOrigin(r.Header.Get("Origin"))
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		logger:  logger.With(zap.String("component", "websocket")),
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects
func (hub *EventHub) HandleWebSocket(c echo.Context) error {
	ws, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &wsClient{
		conn:    ws,
		send:    make(chan WSMessage, sendBuffer),
		batchID: c.QueryParam("batchId"),
	}
	hub.register(client)
	defer hub.unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.writeLoop(client)
	}()

	hub.enqueue(client, WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Debug("connection error", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			hub.enqueue(client, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		case MsgTypeSubscribe:
			var p SubscribePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				hub.enqueue(client, errorMessage("Invalid subscribe payload: "+err.Error(), "INVALID_PAYLOAD"))
				continue
			}
			client.mu.Lock()
			client.batchID = p.BatchID
			client.mu.Unlock()
		default:
			hub.enqueue(client, errorMessage("Unknown message type: "+msg.Type, "INVALID_TYPE"))
		}
	}

	hub.unregister(client)
	<-done
	return nil
}

func (hub *EventHub) writeLoop(client *wsClient) {
	defer client.conn.Close()
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteJSON(msg); err != nil {
			hub.logger.Debug("write failed", zap.Error(err))
			return
		}
	}
	client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (hub *EventHub) register(client *wsClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[client] = struct{}{}
}

// unregister removes the client and closes its send channel. Safe to call
// more than once.
func (hub *EventHub) unregister(client *wsClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)
		close(client.send)
	}
}

// enqueue drops the message when the client is gone or too slow.
func (hub *EventHub) enqueue(client *wsClient, msg WSMessage) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if _, ok := hub.clients[client]; !ok {
		return
	}
	select {
	case client.send <- msg:
	default:
		hub.logger.Warn("dropping event for slow client", zap.String("type", msg.Type))
	}
}

func (hub *EventHub) broadcast(batchID string, msg WSMessage) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.clients {
		if !client.wants(batchID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			hub.logger.Warn("dropping event for slow client", zap.String("type", msg.Type))
		}
	}
}

// FileFinished pushes a file:finished event
func (hub *EventHub) FileFinished(batchID string, result models.FileResult) {
	hub.broadcast(batchID, WSMessage{
		Type:      MsgTypeFileFinished,
		ID:        batchID,
		Payload:   mustJSON(result),
		Timestamp: time.Now().UnixMilli(),
	})
}

// BatchFinished pushes a batch:finished event
func (hub *EventHub) BatchFinished(rep models.BatchReport) {
	hub.broadcast(rep.BatchID, WSMessage{
		Type:      MsgTypeBatchFinished,
		ID:        rep.BatchID,
		Payload:   mustJSON(rep),
		Timestamp: time.Now().UnixMilli(),
	})
}

// Clients returns the number of connected clients
func (hub *EventHub) Clients() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Close disconnects every client
func (hub *EventHub) Close() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for client := range hub.clients {
		delete(hub.clients, client)
		close(client.send)
	}
}

func errorMessage(message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
		Timestamp: time.Now().UnixMilli(),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
