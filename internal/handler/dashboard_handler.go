package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/SRMV-Team/liveclass-gateway/internal/directory"
	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/handoff"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SubjectLister is the slice of the backend client the dashboards need.
type SubjectLister interface {
	ListSubjects(ctx context.Context) ([]model.Subject, error)
}

// MeetingReader reads stored handoff records for classroom reconstruction.
type MeetingReader interface {
	Get(roomName string) (*model.MeetingRecord, error)
	Latest() (*model.MeetingRecord, error)
}

// DashboardHandler serves the per-role views and the class intents. Views
// only read directory snapshots and call intents; roster mutation stays
// inside the directory.
type DashboardHandler struct {
	dir      *directory.Directory
	subjects SubjectLister
	meetings MeetingReader
	rooms    *handoff.Rooms
	cohort   string // the local student's cohort, empty for teachers
	log      *zap.Logger
}

// NewDashboardHandler creates the dashboard handler.
func NewDashboardHandler(dir *directory.Directory, subjects SubjectLister, meetings MeetingReader, rooms *handoff.Rooms, cohort string, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		dir:      dir,
		subjects: subjects,
		meetings: meetings,
		rooms:    rooms,
		cohort:   cohort,
		log:      log,
	}
}

// TeacherDashboard godoc
// GET /dashboard/teacher — the teacher's subjects and their live classes.
func (h *DashboardHandler) TeacherDashboard(c *gin.Context) {
	id := h.dir.Identity()
	if id.Role != model.RoleTeacher && id.Role != model.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "teacher dashboard requires a teacher identity"})
		return
	}
	subjects, err := h.subjects.ListSubjects(c.Request.Context())
	if err != nil {
		h.log.Warn("subject listing failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load subjects"})
		return
	}
	mine := make([]model.Subject, 0, len(subjects))
	for _, s := range subjects {
		if s.TeacherID == id.ID || id.Role == model.RoleAdmin {
			mine = append(mine, s)
		}
	}
	live := make([]model.LiveClassRecord, 0)
	for _, rec := range h.dir.Roster() {
		if rec.TeacherID == id.ID || id.Role == model.RoleAdmin {
			live = append(live, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"subjects":        mine,
		"liveClasses":     live,
		"currentClass":    h.dir.Current(),
		"connectionState": h.dir.ConnectionState(),
	})
}

// StudentDashboard godoc
// GET /dashboard/student — subjects for the student's cohort and the live
// classes they may join.
func (h *DashboardHandler) StudentDashboard(c *gin.Context) {
	id := h.dir.Identity()
	if id.Role != model.RoleStudent {
		c.JSON(http.StatusForbidden, gin.H{"error": "student dashboard requires a student identity"})
		return
	}
	subjects, err := h.subjects.ListSubjects(c.Request.Context())
	if err != nil {
		h.log.Warn("subject listing failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load subjects"})
		return
	}
	mine := make([]model.Subject, 0, len(subjects))
	for _, s := range subjects {
		if h.cohort == "" || s.Cohorts.Contains(h.cohort) {
			mine = append(mine, s)
		}
	}
	live := make([]model.LiveClassRecord, 0)
	for _, rec := range h.dir.Roster() {
		if rec.IsLive && (h.cohort == "" || rec.Cohort == h.cohort) {
			live = append(live, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"subjects":        mine,
		"liveClasses":     live,
		"currentClass":    h.dir.Current(),
		"connectionState": h.dir.ConnectionState(),
	})
}

// ListClasses godoc
// GET /classes — the full known roster; ?live=true narrows to live sessions.
func (h *DashboardHandler) ListClasses(c *gin.Context) {
	roster := h.dir.Roster()
	if c.Query("live") == "true" {
		live := roster[:0]
		for _, rec := range roster {
			if rec.IsLive {
				live = append(live, rec)
			}
		}
		roster = live
	}
	c.JSON(http.StatusOK, gin.H{
		"liveClasses":     roster,
		"connectionState": h.dir.ConnectionState(),
	})
}

type startClassRequest struct {
	Subject string `json:"subject" binding:"required"`
	Cohort  string `json:"class" binding:"required"`
}

// StartClass godoc
// POST /classes/start
func (h *DashboardHandler) StartClass(c *gin.Context) {
	id := h.dir.Identity()
	if id.Role != model.RoleTeacher {
		c.JSON(http.StatusForbidden, gin.H{"error": "only teachers start classes"})
		return
	}
	var req startClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	ticket, err := h.dir.StartClass(c.Request.Context(), req.Subject, req.Cohort)
	if err != nil {
		h.renderIntentError(c, err, "failed to start class")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticket": ticket})
}

// EndClass godoc
// DELETE /classes/:id
func (h *DashboardHandler) EndClass(c *gin.Context) {
	recordID := c.Param("id")
	if recordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class id required"})
		return
	}
	if err := h.dir.EndClass(c.Request.Context(), recordID); err != nil {
		h.renderIntentError(c, err, "failed to end class")
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinClass godoc
// POST /classes/:id/join
func (h *DashboardHandler) JoinClass(c *gin.Context) {
	recordID := c.Param("id")
	if recordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class id required"})
		return
	}
	ticket, err := h.dir.JoinClass(c.Request.Context(), recordID)
	if err != nil {
		h.renderIntentError(c, err, "failed to join class")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// LeaveClass godoc
// POST /classes/leave
func (h *DashboardHandler) LeaveClass(c *gin.Context) {
	h.dir.LeaveClass()
	c.Status(http.StatusNoContent)
}

// Classroom godoc
// GET /classroom — the current session, or a reconstruction from the stored
// meeting record (?room=) when the process restarted mid-class.
func (h *DashboardHandler) Classroom(c *gin.Context) {
	id := h.dir.Identity()
	if cur := h.dir.Current(); cur != nil {
		c.JSON(http.StatusOK, gin.H{
			"liveClass": cur,
			"ticket":    h.rooms.BuildJoinReference(cur.RoomName, id.Name, id.Role, nil),
			"restored":  false,
		})
		return
	}
	var (
		rec *model.MeetingRecord
		err error
	)
	if room := c.Query("room"); room != "" {
		rec, err = h.meetings.Get(room)
	} else {
		rec, err = h.meetings.Latest()
	}
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not in a class"})
			return
		}
		h.log.Warn("meeting record lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load meeting record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meeting":  rec,
		"ticket":   h.rooms.BuildJoinReference(rec.RoomName, rec.DisplayName, model.Role(rec.Role), nil),
		"restored": true,
	})
}

// renderIntentError maps directory failures to HTTP codes. Business
// rejections reach the caller with the backend's message; nothing here is
// allowed to crash the view.
func (h *DashboardHandler) renderIntentError(c *gin.Context, err error, fallback string) {
	var rejected *errs.JoinRejected
	switch {
	case errors.As(err, &rejected):
		c.JSON(http.StatusConflict, gin.H{"error": "join rejected", "message": rejected.Message})
	case errors.Is(err, errs.ErrClassNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "live class not found"})
	case errors.Is(err, errs.ErrIntentPending):
		c.JSON(http.StatusConflict, gin.H{"error": "a request for this class is already in flight"})
	case errors.Is(err, errs.ErrIntentTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "backend did not respond in time"})
	case errors.Is(err, errs.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime channel is down"})
	case errors.Is(err, errs.ErrStartFailed), errors.Is(err, errs.ErrEndFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": fallback, "message": err.Error()})
	default:
		h.log.Error("intent failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
