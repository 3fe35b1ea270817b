package meetstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists meeting handoff records locally, one row per room name. It is
// a reference cache for classroom reconstruction after a reload, never the
// source of truth for liveness.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("meetstore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&model.MeetingRecord{}); err != nil {
		return nil, fmt.Errorf("meetstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Put inserts or replaces the record for its room name.
func (s *Store) Put(rec model.MeetingRecord) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_name"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("meetstore: put %s: %w", rec.RoomName, err)
	}
	return nil
}

// Get returns the record for a room name, or ErrRecordNotFound.
func (s *Store) Get(roomName string) (*model.MeetingRecord, error) {
	var rec model.MeetingRecord
	if err := s.db.Where("room_name = ?", roomName).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrRecordNotFound
		}
		return nil, fmt.Errorf("meetstore: get %s: %w", roomName, err)
	}
	return &rec, nil
}

// Latest returns the most recently stored record, or ErrRecordNotFound when
// the store is empty. The classroom view uses it when no room is specified.
func (s *Store) Latest() (*model.MeetingRecord, error) {
	var rec model.MeetingRecord
	if err := s.db.Order("start_time DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrRecordNotFound
		}
		return nil, fmt.Errorf("meetstore: latest: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for a room name. Deleting an absent room is not
// an error.
func (s *Store) Delete(roomName string) error {
	if err := s.db.Where("room_name = ?", roomName).Delete(&model.MeetingRecord{}).Error; err != nil {
		return fmt.Errorf("meetstore: delete %s: %w", roomName, err)
	}
	return nil
}

// PurgeOlderThan removes records whose meeting started before now-age and
// returns how many were removed.
func (s *Store) PurgeOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res := s.db.Where("start_time < ?", cutoff).Delete(&model.MeetingRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("meetstore: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
