package model

import "time"

// MeetingRecord — локальная запись о handoff во внешнюю видеокомнату (GORM).
// Not authoritative: the directory and backend remain the source of truth for
// liveness; this exists so the classroom view survives a process restart.
type MeetingRecord struct {
	RoomName    string    `gorm:"size:255;primaryKey"`
	DisplayName string    `gorm:"size:255;not null"`
	Subject     string    `gorm:"size:255"`
	Cohort      string    `gorm:"column:class;size:64"`
	Role        string    `gorm:"size:20;not null"` // teacher, student
	StartTime   time.Time `gorm:"column:start_time;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (MeetingRecord) TableName() string { return "meeting_records" }
