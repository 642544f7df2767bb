package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/gate"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv(t *testing.T, conn *Connection) Message {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		require.True(t, ok, "send queue closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	return Message{}
}

func TestHubDeliversToEveryPageOfUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	tab1 := NewConnection("u1", "c1")
	tab2 := NewConnection("u1", "c2")
	other := NewConnection("u2", "c3")
	hub.Register(tab1)
	hub.Register(tab2)
	hub.Register(other)

	hub.SendToUser("u1", string(MsgGateUpdate), gate.Decision{State: gate.StateIncomplete})
	for _, c := range []*Connection{tab1, tab2} {
		msg := recv(t, c)
		assert.Equal(t, MsgGateUpdate, msg.Type)
		assert.Contains(t, string(msg.Payload), `"incomplete"`)
	}
	assert.Empty(t, other.Send)
	assert.Equal(t, 2, hub.Connected("u1"))

	hub.Unregister(tab1)
	_, ok := <-tab1.Send
	assert.False(t, ok, "unregister closes the send queue")
	assert.Equal(t, 1, hub.Connected("u1"))
}

func TestHubCloseClosesQueues(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := NewConnection("u1", "c1")
	hub.Register(conn)
	hub.Close()

	_, ok := <-conn.Send
	assert.False(t, ok)
	hub.SendToUser("u1", string(MsgAnsweredUpdate), nil)
	hub.Unregister(conn)
	hub.Close()
}

type pushRefresher struct {
	hub   *Hub
	calls chan string
}

func (p *pushRefresher) Visibility(_ context.Context, _ *storage.Client, userID string) (gate.Decision, []string) {
	p.calls <- userID
	d := gate.Decision{State: gate.StateComplete}
	p.hub.SendToUser(userID, string(MsgGateUpdate), d)
	return d, nil
}

func TestVisibilityMessageTriggersRefresh(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()
	refresher := &pushRefresher{hub: hub, calls: make(chan string, 1)}
	h := NewHandler(hub, refresher, nil, zap.NewNop())

	backends := storage.NewMemoryBackends()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.ClientKey, backends.Client("c1"))
		ctx = context.WithValue(ctx, middleware.UserIDKey, "u1")
		h.Serve(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Type: MsgVisibility}))
	select {
	case uid := <-refresher.calls:
		assert.Equal(t, "u1", uid)
	case <-time.After(2 * time.Second):
		t.Fatal("visibility not handled")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgGateUpdate, msg.Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connected("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeRejectsAnonymous(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()
	h := NewHandler(hub, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
