package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsDataToClients(t *testing.T) {
	hub := NewHub(nil, testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastData(map[string]string{"hello": "dashboard"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, MessageTypeData, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestHubBroadcastsAlerts(t *testing.T) {
	hub := NewHub(nil, testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastAlerts([]model.StablecoinAlert{{ID: "a-1", CoinSymbol: "USDT", Severity: model.SeverityHigh}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, MessageTypeAlert, msg.Type)
	assert.Contains(t, string(payload), "USDT")
}

func TestServeWSDuringShutdownClosesConnection(t *testing.T) {
	hub := NewHub(nil, testLogger())
	go hub.Run()
	hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// The upgrade itself may already fail once the hub is down; either
		// way the handler must not hang on a register nobody drains.
		return
	}
	defer conn.Close()

	begin := time.Now()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Less(t, time.Since(begin), time.Second, "connection must be closed promptly, not left dangling")
}

func TestHubTracksDisconnects(t *testing.T) {
	hub := NewHub(nil, testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
}
