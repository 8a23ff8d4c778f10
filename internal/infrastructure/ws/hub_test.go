package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop(), []string{"*"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyReachesEveryConnectionOfUser(t *testing.T) {
	hub, srv := startHub(t)

	a := dial(t, srv, "u1")
	defer a.Close()
	b := dial(t, srv, "u1")
	defer b.Close()
	other := dial(t, srv, "u2")
	defer other.Close()
	waitFor(t, func() bool { return hub.Connections("u1") == 2 && hub.Connections("u2") == 1 })

	hub.Notify("u1", &models.Notification{ID: "n1", Title: "Task assigned", Kind: models.NotificationTaskAssigned})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame struct {
			Type string              `json:"type"`
			Data models.Notification `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &frame))
		assert.Equal(t, "notification", frame.Type)
		assert.Equal(t, "n1", frame.Data.ID)
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "u2 must not receive u1's notification")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "u1")
	waitFor(t, func() bool { return hub.Connections("u1") == 1 })

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return hub.Connections("u1") == 0 })
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "u1")
	defer conn.Close()
	waitFor(t, func() bool { return hub.Connections("u1") == 1 })

	// The client never reads; once its buffer and the socket fill up the
	// hub gives up on it.
	big := strings.Repeat("x", 256*1024)
	waitFor(t, func() bool {
		for i := 0; i < 20; i++ {
			hub.Send("u1", Frame{Type: "noise", Data: big})
		}
		return hub.Connections("u1") == 0
	})
}

func TestCloseRejectsNewClients(t *testing.T) {
	hub, srv := startHub(t)
	hub.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Equal(t, 0, hub.Connections("u1"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}
