package handoff

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/model"
)

// JoinOptions is the explicit initial-device configuration passed to the
// external room. Defaults differ by role; no hidden branching downstream.
type JoinOptions struct {
	InitialAudioMuted bool
	InitialVideoMuted bool
}

// DefaultOptions returns the role defaults: teachers enter unmuted, students muted.
func DefaultOptions(role model.Role) JoinOptions {
	if role == model.RoleTeacher {
		return JoinOptions{}
	}
	return JoinOptions{InitialAudioMuted: true, InitialVideoMuted: true}
}

// JoinReference is everything a classroom view needs to hand off into the
// external video room.
type JoinReference struct {
	RoomName    string      `json:"roomName"`
	URL         string      `json:"url"`
	DisplayName string      `json:"displayName"`
	Role        model.Role  `json:"role"`
	Options     JoinOptions `json:"-"`
}

// Rooms builds room names and join URLs for one external meeting service.
type Rooms struct {
	BaseURL string

	mu   sync.Mutex
	last int64 // last issued disambiguator, guards same-millisecond calls
}

// NewRooms creates a room builder for the given meeting service base URL
// (e.g. https://meet.jit.si).
func NewRooms(baseURL string) *Rooms {
	return &Rooms{BaseURL: strings.TrimRight(baseURL, "/")}
}

// GenerateRoomName derives a collision-resistant room name for a
// (subject, cohort, teacher) triple. Construction is deterministic from the
// inputs plus a time-derived disambiguator; two calls with identical inputs
// always yield different names, even inside one millisecond, so a rapid
// stop/restart never reuses a room.
func (r *Rooms) GenerateRoomName(subject, cohort, teacherID string) string {
	stamp := time.Now().UnixMilli()
	r.mu.Lock()
	if stamp <= r.last {
		stamp = r.last + 1
	}
	r.last = stamp
	r.mu.Unlock()
	return fmt.Sprintf("%s-%s-%s-%d", sanitize(subject), sanitize(cohort), sanitize(teacherID), stamp)
}

// BuildJoinReference constructs the external join URL for a room. nil opts
// means role defaults.
func (r *Rooms) BuildJoinReference(roomName, displayName string, role model.Role, opts *JoinOptions) JoinReference {
	o := DefaultOptions(role)
	if opts != nil {
		o = *opts
	}
	joinURL := fmt.Sprintf(
		"%s/%s#config.startWithAudioMuted=%t&config.startWithVideoMuted=%t&userInfo.displayName=%q",
		r.BaseURL, roomName, o.InitialAudioMuted, o.InitialVideoMuted, url.QueryEscape(displayName))
	return JoinReference{
		RoomName:    roomName,
		URL:         joinURL,
		DisplayName: displayName,
		Role:        role,
		Options:     o,
	}
}

// sanitize lowercases and strips whitespace so the name is valid for the
// external service.
func sanitize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
