package websocket_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/api/websocket"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func startHub(t *testing.T, cfg *config.WebSocketConfig) (*websocket.Hub, chan *models.Event, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub(cfg)
	go hub.Run()
	t.Cleanup(hub.Stop)

	events := make(chan *models.Event, 8)
	bridge := websocket.NewEventBridge(hub, events, nil, time.Hour)
	bridge.Start()
	t.Cleanup(bridge.Stop)

	r := gin.New()
	r.GET("/ws", websocket.ServeWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, events, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *websocket.Hub, url string, want int) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

// reader splits frames that carry several newline-joined messages.
type reader struct {
	t       *testing.T
	conn    *gorilla.Conn
	pending [][]byte
}

func (r *reader) next() websocket.OutgoingMessage {
	r.t.Helper()
	for len(r.pending) == 0 {
		require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := r.conn.ReadMessage()
		require.NoError(r.t, err)
		r.pending = bytes.Split(data, []byte{'\n'})
	}
	var msg websocket.OutgoingMessage
	require.NoError(r.t, json.Unmarshal(r.pending[0], &msg))
	r.pending = r.pending[1:]
	return msg
}

func TestBridge_ForwardsMappedEvents(t *testing.T) {
	hub, events, url := startHub(t, nil)
	conn := dial(t, hub, url, 1)

	events <- models.NewEvent(models.EventTypeMemberStateChanged, "m-1", "healthy -> degraded")
	msg := (&reader{t: t, conn: conn}).next()
	assert.Equal(t, websocket.MessageTypeMemberUpdate, msg.Type)
	assert.Equal(t, "m-1", msg.MemberID)
	assert.Equal(t, "healthy -> degraded", msg.Message)
}

func TestBridge_MemberFilter(t *testing.T) {
	hub, events, url := startHub(t, nil)
	conn := dial(t, hub, url+"?member_id=m-2", 1)

	events <- models.NewEvent(models.EventTypeMemberRetiring, "m-1", "other member")
	events <- models.NewEvent(models.EventTypeDecisionMade, "", "pool wide")
	events <- models.NewEvent(models.EventTypeMemberRetiring, "m-2", "watched member")

	r := &reader{t: t, conn: conn}
	assert.Equal(t, "pool wide", r.next().Message)
	assert.Equal(t, "watched member", r.next().Message)
}

func TestHub_ConnectionLimit(t *testing.T) {
	hub, _, url := startHub(t, &config.WebSocketConfig{MaxConnections: 1})
	dial(t, hub, url, 1)

	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "second client is closed")
	assert.Equal(t, 1, hub.ClientCount())
}
