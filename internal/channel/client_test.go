package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chanServer is a minimal stand-in for the tuition backend's event channel.
type chanServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []model.Envelope
	connCh   chan *websocket.Conn
}

func newChanServer(t *testing.T) *chanServer {
	t.Helper()
	s := &chanServer{connCh: make(chan *websocket.Conn, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.connCh <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env model.Envelope
			if json.Unmarshal(raw, &env) == nil {
				s.mu.Lock()
				s.received = append(s.received, env)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chanServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *chanServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *chanServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, env := range s.received {
		out[i] = env.Event
	}
	return out
}

func (s *chanServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.connCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func testIdentity() Identity {
	return Identity{ID: "T1", Name: "Ms. Rao", Role: model.RoleTeacher}
}

func TestConnectAnnouncesIdentity(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())
	defer c.Disconnect()

	require.NoError(t, c.Connect(testIdentity()))
	s.waitConn(t)

	require.Eventually(t, func() bool {
		return len(s.events()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	env := s.received[0]
	s.mu.Unlock()
	assert.Equal(t, model.EventJoin, env.Event)

	var id model.IdentityPayload
	require.NoError(t, json.Unmarshal(env.Data, &id))
	assert.Equal(t, "T1", id.ID)
	assert.Equal(t, model.RoleTeacher, id.Role)
	assert.NotEmpty(t, id.ConnectionID)
}

func TestConnectTwiceOpensOneConnection(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())
	defer c.Disconnect()

	require.NoError(t, c.Connect(testIdentity()))
	s.waitConn(t)
	require.NoError(t, c.Connect(testIdentity()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.connCount())
	assert.Equal(t, StateConnected, c.State())
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", zap.NewNop())
	err := c.Emit(model.EventStartLiveClass, model.ClassDescriptor{Subject: "Physics"})
	assert.True(t, errors.Is(err, errs.ErrNotConnected))
}

func TestEmitDeliversEnvelope(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())
	defer c.Disconnect()

	require.NoError(t, c.Connect(testIdentity()))
	s.waitConn(t)
	require.NoError(t, c.Emit(model.EventJoinLiveClass, model.JoinClassPayload{ClassID: "c1"}))

	require.Eventually(t, func() bool {
		for _, ev := range s.events() {
			if ev == model.EventJoinLiveClass {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundEventDispatch(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())
	defer c.Disconnect()

	got := make(chan json.RawMessage, 1)
	c.On(model.EventLiveClassesUpdate, func(data json.RawMessage) { got <- data })

	require.NoError(t, c.Connect(testIdentity()))
	conn := s.waitConn(t)

	payload, _ := json.Marshal([]model.LiveClassRecord{{ID: "a", Subject: "Physics", IsLive: true}})
	require.NoError(t, conn.WriteJSON(model.Envelope{Event: model.EventLiveClassesUpdate, Data: payload}))

	select {
	case data := <-got:
		var list []model.LiveClassRecord
		require.NoError(t, json.Unmarshal(data, &list))
		require.Len(t, list, 1)
		assert.Equal(t, "a", list[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestLastRegistrationWins(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())
	defer c.Disconnect()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	c.On(model.EventClassEnded, func(json.RawMessage) { first <- struct{}{} })
	c.On(model.EventClassEnded, func(json.RawMessage) { second <- struct{}{} })

	require.NoError(t, c.Connect(testIdentity()))
	conn := s.waitConn(t)
	require.NoError(t, conn.WriteJSON(model.Envelope{Event: model.EventClassEnded, Data: json.RawMessage(`"e1"`)}))

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement handler not invoked")
	}
	select {
	case <-first:
		t.Fatal("overwritten handler must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop(), WithRetry(5, 20*time.Millisecond))
	defer c.Disconnect()

	require.NoError(t, c.Connect(testIdentity()))
	conn1 := s.waitConn(t)

	// server-side drop: the client must come back on its own
	_ = conn1.Close()
	s.waitConn(t)

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.connCount())

	// the identity is re-announced on the new connection
	require.Eventually(t, func() bool {
		joins := 0
		for _, ev := range s.events() {
			if ev == model.EventJoin {
				joins++
			}
		}
		return joins >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectExhaustedGoesDisconnected(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop(), WithRetry(2, 10*time.Millisecond))

	states := make(chan State, 16)
	c.OnStateChange(func(st State) { states <- st })

	require.NoError(t, c.Connect(testIdentity()))
	s.waitConn(t)

	// take the backend down entirely; every retry must fail
	s.srv.CloseClientConnections()
	s.srv.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	// terminal failure was surfaced as a state change, not swallowed
	var saw []State
	for {
		select {
		case st := <-states:
			saw = append(saw, st)
			continue
		default:
		}
		break
	}
	assert.Contains(t, saw, StateDisconnected)
}

func TestDisconnectDuringReconnectKeepsChannelDown(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop(), WithRetry(5, 30*time.Millisecond))

	require.NoError(t, c.Connect(testIdentity()))
	conn1 := s.waitConn(t)

	// server-side drop puts the client into its retry loop, then an explicit
	// disconnect lands mid-retry; no reconnected socket may survive it
	_ = conn1.Close()
	c.Disconnect()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())

	err := c.Emit(model.EventJoinLiveClass, model.JoinClassPayload{ClassID: "c1"})
	assert.True(t, errors.Is(err, errs.ErrNotConnected))

	// the identity was announced exactly once, on the original connection
	joins := 0
	for _, ev := range s.events() {
		if ev == model.EventJoin {
			joins++
		}
	}
	assert.Equal(t, 1, joins)
}

func TestDisconnectIsFinal(t *testing.T) {
	s := newChanServer(t)
	c := NewClient(s.url(), zap.NewNop())

	require.NoError(t, c.Connect(testIdentity()))
	s.waitConn(t)
	c.Disconnect()

	assert.Equal(t, StateDisconnected, c.State())
	err := c.Emit(model.EventJoinLiveClass, model.JoinClassPayload{ClassID: "c1"})
	assert.True(t, errors.Is(err, errs.ErrNotConnected))

	// disconnecting twice is safe
	c.Disconnect()
}
