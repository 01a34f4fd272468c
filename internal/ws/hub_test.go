package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/virtual-queue/internal/queue"
	"github.com/iliyamo/virtual-queue/internal/ws"
)

func startHub(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	e := echo.New()
	e.GET("/ws/queues/:id", hub.Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubDeliversToSubscribersOfTheQueue(t *testing.T) {
	hub, srv := startHub(t)
	follower := dial(t, srv, "/ws/queues/5")
	other := dial(t, srv, "/ws/queues/6")
	require.Eventually(t, func() bool { return hub.Subscribers(5) == 1 && hub.Subscribers(6) == 1 }, time.Second, 5*time.Millisecond)

	ev := queue.Event{Kind: queue.KindCustomerCalled, QueueID: 5, EntryID: 9, Position: 1, Waiting: 2}
	require.NoError(t, hub.Send(context.Background(), ev))

	require.NoError(t, follower.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, body, err := follower.ReadMessage()
	require.NoError(t, err)
	var got queue.Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, uint64(9), got.EntryID)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "queue 6 receives nothing")
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "/ws/queues/3")
	require.Eventually(t, func() bool { return hub.Subscribers(3) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers(3) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsBadQueueID(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL + "/ws/queues/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubSendWithoutSubscribers(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	hub := ws.NewHub(logger)
	assert.NoError(t, hub.Send(context.Background(), queue.Event{Kind: queue.KindQueueUpdated, QueueID: 1}))
}
