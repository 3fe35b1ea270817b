package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role of the local user the gateway acts for.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// LiveClassRecord is one in-progress class session as mirrored from the backend.
// The id is server-assigned and stable for the session's lifetime.
type LiveClassRecord struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Cohort       string    `json:"class"`
	TeacherID    string    `json:"teacherId"`
	Teacher      string    `json:"teacher"`
	RoomName     string    `json:"roomName"`
	StartTime    time.Time `json:"startTime"`
	IsLive       bool      `json:"isLive"`
	Participants []string  `json:"participants"`
}

// Key identifies the (subject, cohort, teacher) triple a session belongs to.
// At most one live record may exist per key; reconciliation merges on it.
func (r *LiveClassRecord) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Subject)) + "|" +
		strings.ToLower(strings.TrimSpace(r.Cohort)) + "|" +
		r.TeacherID
}

// ClassDescriptor is the start-request body sent to the backend.
type ClassDescriptor struct {
	Subject   string `json:"subject"`
	Cohort    string `json:"class"`
	TeacherID string `json:"teacherId"`
	Teacher   string `json:"teacher"`
	RoomName  string `json:"roomName"`
}

// Subject is a taught subject as returned by the backend subject listing.
type Subject struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	TeacherID string     `json:"teacherId"`
	Teacher   string     `json:"teacher"`
	Cohorts   StringList `json:"class"`
}

// StringList accepts both a bare value and an array on the wire. The backend
// sends "class" sometimes as one cohort and sometimes as many; everything past
// unmarshalling sees a slice.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = StringList{one}
		}
		return nil
	}
	// Numeric cohorts ("class": 10) show up in older backend payloads.
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*l = StringList{n.String()}
		return nil
	}
	return fmt.Errorf("string list: unsupported value %s", string(data))
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
