package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

func startHub(t *testing.T) (*EventHub, string) {
	t.Helper()
	hub := NewEventHub(nil, zap.NewNop())
	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *EventHub, url string, clients int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := read(t, conn)
	require.Equal(t, MsgTypeConnected, msg.Type)
	require.Eventually(t, func() bool { return hub.Clients() == clients }, time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestEventHub_PingPong(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing, ID: "p1"}))
	msg := read(t, conn)
	assert.Equal(t, MsgTypePong, msg.Type)
	assert.Equal(t, "p1", msg.ID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus"}))
	msg = read(t, conn)
	assert.Equal(t, MsgTypeError, msg.Type)
	assert.Contains(t, string(msg.Payload), "INVALID_TYPE")
}

func TestEventHub_Broadcast(t *testing.T) {
	hub, url := startHub(t)
	all := dial(t, hub, url, 1)
	filtered := dial(t, hub, url+"?batchId=b-2", 2)

	hub.FileFinished("b-1", models.FileResult{FileID: "f-1", Status: models.FileStatusSuccess})
	hub.FileFinished("b-2", models.FileResult{FileID: "f-2", Status: models.FileStatusError})
	hub.BatchFinished(models.NewBatchReport("b-2", "order", "", nil, time.Now(), time.Now()))

	msg := read(t, all)
	assert.Equal(t, MsgTypeFileFinished, msg.Type)
	assert.Equal(t, "b-1", msg.ID)
	var res models.FileResult
	require.NoError(t, json.Unmarshal(msg.Payload, &res))
	assert.Equal(t, "f-1", res.FileID)

	// the filtered client never sees b-1
	msg = read(t, filtered)
	assert.Equal(t, "b-2", msg.ID)
	assert.Equal(t, MsgTypeFileFinished, msg.Type)
	msg = read(t, filtered)
	assert.Equal(t, MsgTypeBatchFinished, msg.Type)
	var rep models.BatchReport
	require.NoError(t, json.Unmarshal(msg.Payload, &rep))
	assert.Equal(t, "order", rep.Prefix)
}

func TestEventHub_Subscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeSubscribe, Payload: mustJSON(SubscribePayload{BatchID: "b-9"})}))
	// a ping round trip guarantees the subscription was applied
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	require.Equal(t, MsgTypePong, read(t, conn).Type)

	hub.FileFinished("b-1", models.FileResult{FileID: "skip"})
	hub.FileFinished("b-9", models.FileResult{FileID: "keep"})

	msg := read(t, conn)
	var res models.FileResult
	require.NoError(t, json.Unmarshal(msg.Payload, &res))
	assert.Equal(t, "keep", res.FileID)
}

func TestEventHub_Disconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// broadcasting with no clients is a no-op
	hub.BatchFinished(models.BatchReport{BatchID: "b"})
}
