package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/core/broadcast"
)

type recorder struct {
	connected    chan string
	disconnected chan string
	requests     chan [2]string
}

func newRecorder(h *Hub) *recorder {
	r := &recorder{
		connected:    make(chan string, 4),
		disconnected: make(chan string, 4),
		requests:     make(chan [2]string, 4),
	}
	h.OnConnect(func(id string) { r.connected <- id })
	h.OnDisconnect(func(id string) { r.disconnected <- id })
	h.OnRequest(func(id, bus string) { r.requests <- [2]string{id, bus} })
	return r
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	var zero T
	return zero
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubLifecycle(t *testing.T) {
	h := NewHub(Config{}, nil)
	rec := newRecorder(h)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	id := wait(t, rec.connected)
	assert.Equal(t, 1, h.Observers())

	require.NoError(t, h.SendTo(id, broadcast.Event{Type: broadcast.EventInitialData, Data: []string{}}))
	assert.Equal(t, broadcast.EventInitialData, readEvent(t, conn)["type"])

	require.NoError(t, h.Broadcast(broadcast.Event{Type: broadcast.EventBusUpdate, Data: map[string]string{"busId": "B001"}}))
	ev := readEvent(t, conn)
	assert.Equal(t, broadcast.EventBusUpdate, ev["type"])
	assert.Equal(t, "B001", ev["data"].(map[string]any)["busId"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": broadcast.EventRequest, "busId": "B002"}))
	req := wait(t, rec.requests)
	assert.Equal(t, [2]string{id, "B002"}, req)

	require.NoError(t, conn.Close())
	assert.Equal(t, id, wait(t, rec.disconnected))
	assert.Eventually(t, func() bool { return h.Observers() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.SendTo(id, broadcast.Event{Type: broadcast.EventBusUpdate}), ErrUnknownObserver)
}

func TestHubInvalidMessages(t *testing.T) {
	h := NewHub(Config{}, nil)
	rec := newRecorder(h)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	wait(t, rec.connected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, broadcast.EventError, readEvent(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": broadcast.EventRequest}))
	ev := readEvent(t, conn)
	assert.Equal(t, broadcast.EventError, ev["type"])
	assert.Equal(t, "busId is required", ev["data"].(map[string]any)["message"])
	assert.Empty(t, rec.requests)
}

func TestHubQueueFullDropsOldest(t *testing.T) {
	h := NewHub(Config{SendBuffer: 2}, nil)
	c := &client{id: "slow", send: make(chan []byte, 2), done: make(chan struct{})}
	h.clients[c.id] = c

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Broadcast(broadcast.Event{Type: broadcast.EventBusUpdate, Data: i}))
	}
	require.NoError(t, h.SendTo("slow", broadcast.Event{Type: broadcast.EventBusUpdate, Data: 4}))
	assert.Equal(t, uint64(2), h.Dropped())

	require.Len(t, c.send, 2)
	var got []float64
	for len(c.send) > 0 {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(<-c.send, &ev))
		got = append(got, ev["data"].(float64))
	}
	assert.Equal(t, []float64{3, 4}, got, "the newest updates are kept")
}

func TestHubClose(t *testing.T) {
	h := NewHub(Config{}, nil)
	rec := newRecorder(h)
	srv := httptest.NewServer(h)
	defer srv.Close()

	dial(t, srv)
	id := wait(t, rec.connected)
	require.NoError(t, h.Close())
	assert.Equal(t, id, wait(t, rec.disconnected))
	assert.ErrorIs(t, h.Broadcast(broadcast.Event{Type: broadcast.EventBusUpdate}), ErrClosed)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(Config{AllowedOrigins: []string{"https://fleet.example"}}, nil)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://FLEET.example")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))

	open := NewHub(Config{}, nil)
	assert.True(t, open.checkOrigin(r))
}
