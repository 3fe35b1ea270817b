package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/channel"
	"github.com/SRMV-Team/liveclass-gateway/internal/directory"
	"github.com/SRMV-Team/liveclass-gateway/internal/handler"
	"github.com/SRMV-Team/liveclass-gateway/internal/handoff"
	"github.com/SRMV-Team/liveclass-gateway/internal/meetstore"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/SRMV-Team/liveclass-gateway/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChannel struct {
	mu       sync.Mutex
	handlers map[string]channel.Handler
	onEmit   func(event string, payload interface{})
}

func newStubChannel() *stubChannel {
	return &stubChannel{handlers: make(map[string]channel.Handler)}
}

func (s *stubChannel) Connect(channel.Identity) error { return nil }
func (s *stubChannel) Disconnect()                    {}
func (s *stubChannel) On(event string, h channel.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}
func (s *stubChannel) OnStateChange(func(channel.State)) {}
func (s *stubChannel) State() channel.State              { return channel.StateConnected }
func (s *stubChannel) Emit(event string, payload interface{}) error {
	s.mu.Lock()
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(event, payload)
	}
	return nil
}

func (s *stubChannel) fire(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	require.NotNil(t, h)
	h(raw)
}

type stubBackend struct {
	subjects []model.Subject
}

func (s *stubBackend) ListLiveClasses(context.Context) ([]model.LiveClassRecord, error) {
	return nil, nil
}

func (s *stubBackend) StartLiveClass(_ context.Context, desc model.ClassDescriptor) (*model.LiveClassRecord, error) {
	return &model.LiveClassRecord{
		ID:        "c1",
		Subject:   desc.Subject,
		Cohort:    desc.Cohort,
		TeacherID: desc.TeacherID,
		Teacher:   desc.Teacher,
		RoomName:  desc.RoomName,
		IsLive:    true,
		StartTime: time.Now(),
	}, nil
}

func (s *stubBackend) EndLiveClass(context.Context, string) error { return nil }

func (s *stubBackend) ListSubjects(context.Context) ([]model.Subject, error) {
	return s.subjects, nil
}

type testGateway struct {
	http  http.Handler
	dir   *directory.Directory
	ch    *stubChannel
	store *meetstore.Store
}

func newTestGateway(t *testing.T, role model.Role, cohort string) *testGateway {
	t.Helper()
	ch := newStubChannel()
	api := &stubBackend{subjects: []model.Subject{
		{ID: "s1", Name: "Physics", TeacherID: "T1", Cohorts: model.StringList{"10"}},
		{ID: "s2", Name: "Chemistry", TeacherID: "T2", Cohorts: model.StringList{"11"}},
	}}
	store, err := meetstore.Open(filepath.Join(t.TempDir(), "meetings.db"))
	require.NoError(t, err)

	rooms := handoff.NewRooms("https://meet.jit.si")
	id := channel.Identity{ID: "T1", Name: "Ms. Rao", Role: role}
	dir := directory.New(id, ch, api, rooms, store, 100*time.Millisecond, zap.NewNop())
	require.NoError(t, dir.Start())

	dashboard := handler.NewDashboardHandler(dir, api, store, rooms, cohort, zap.NewNop())
	eventsWS := handler.NewEventsWSHandler(dir, 1024, 1024, zap.NewNop())
	return &testGateway{
		http:  router.New(dashboard, eventsWS, handler.NewHealthHandler()),
		dir:   dir,
		ch:    ch,
		store: store,
	}
}

func (g *testGateway) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.http.ServeHTTP(w, req)
	return w
}

func TestStartClassEndpoint(t *testing.T) {
	g := newTestGateway(t, model.RoleTeacher, "")

	w := g.do(t, http.MethodPost, "/classes/start", gin.H{"subject": "Physics", "class": "10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res struct {
		Ticket handoff.JoinReference `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.Ticket.URL, "https://meet.jit.si/")
	assert.Contains(t, res.Ticket.URL, res.Ticket.RoomName)

	// identical start returns the same room, not a duplicate
	w2 := g.do(t, http.MethodPost, "/classes/start", gin.H{"subject": "Physics", "class": "10"})
	require.Equal(t, http.StatusCreated, w2.Code)
	var res2 struct {
		Ticket handoff.JoinReference `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &res2))
	assert.Equal(t, res.Ticket.RoomName, res2.Ticket.RoomName)
}

func TestStartClassForbiddenForStudents(t *testing.T) {
	g := newTestGateway(t, model.RoleStudent, "10")
	w := g.do(t, http.MethodPost, "/classes/start", gin.H{"subject": "Physics", "class": "10"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJoinRejectionSurfacesServerMessage(t *testing.T) {
	g := newTestGateway(t, model.RoleStudent, "10")
	g.ch.onEmit = func(event string, _ interface{}) {
		if event == model.EventJoinLiveClass {
			g.ch.fire(t, model.EventJoinClassError, model.JoinErrorPayload{Message: "Class is no longer live"})
		}
	}

	w := g.do(t, http.MethodPost, "/classes/gone/join", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Class is no longer live")
}

func TestEndUnknownClassIs404(t *testing.T) {
	g := newTestGateway(t, model.RoleTeacher, "")
	w := g.do(t, http.MethodDelete, "/classes/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeacherDashboardFiltersByTeacher(t *testing.T) {
	g := newTestGateway(t, model.RoleTeacher, "")
	g.ch.fire(t, model.EventLiveClassesUpdate, []model.LiveClassRecord{
		{ID: "a", Subject: "Physics", Cohort: "10", TeacherID: "T1", IsLive: true},
		{ID: "b", Subject: "Chemistry", Cohort: "11", TeacherID: "T2", IsLive: true},
	})

	w := g.do(t, http.MethodGet, "/dashboard/teacher", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Subjects    []model.Subject         `json:"subjects"`
		LiveClasses []model.LiveClassRecord `json:"liveClasses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Subjects, 1)
	assert.Equal(t, "Physics", res.Subjects[0].Name)
	require.Len(t, res.LiveClasses, 1)
	assert.Equal(t, "a", res.LiveClasses[0].ID)
}

func TestStudentDashboardFiltersByCohort(t *testing.T) {
	g := newTestGateway(t, model.RoleStudent, "10")
	g.ch.fire(t, model.EventLiveClassesUpdate, []model.LiveClassRecord{
		{ID: "a", Subject: "Physics", Cohort: "10", TeacherID: "T1", IsLive: true},
		{ID: "b", Subject: "Chemistry", Cohort: "11", TeacherID: "T2", IsLive: true},
	})

	w := g.do(t, http.MethodGet, "/dashboard/student", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Subjects    []model.Subject         `json:"subjects"`
		LiveClasses []model.LiveClassRecord `json:"liveClasses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Subjects, 1)
	assert.Equal(t, "Physics", res.Subjects[0].Name)
	require.Len(t, res.LiveClasses, 1)
	assert.Equal(t, "a", res.LiveClasses[0].ID)
}

func TestClassroomRestoredFromStore(t *testing.T) {
	g := newTestGateway(t, model.RoleTeacher, "")
	require.NoError(t, g.store.Put(model.MeetingRecord{
		RoomName:    "physics-10-t1-17",
		DisplayName: "Ms. Rao",
		Subject:     "Physics",
		Cohort:      "10",
		Role:        "teacher",
		StartTime:   time.Now(),
	}))

	w := g.do(t, http.MethodGet, "/classroom?room=physics-10-t1-17", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"restored":true`)
	assert.Contains(t, w.Body.String(), "physics-10-t1-17")
}

func TestClassroomWithoutSessionIs404(t *testing.T) {
	g := newTestGateway(t, model.RoleStudent, "10")
	w := g.do(t, http.MethodGet, "/classroom", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeaveClassAlwaysSucceeds(t *testing.T) {
	g := newTestGateway(t, model.RoleStudent, "10")
	w := g.do(t, http.MethodPost, "/classes/leave", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
