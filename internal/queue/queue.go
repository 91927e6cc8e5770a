// Package queue holds field captures on the device until the remote store accepts them.
// Records are never dropped automatically; a record leaves the queue only through Remove.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("queued record not found")

// Store is the local durable queue.
type Store interface {
	Enqueue(ctx context.Context, rec *models.QueuedRecord) error
	ListByUser(ctx context.Context, userID string) ([]models.QueuedRecord, error)
	Remove(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, rec *models.QueuedRecord) error
	// UserIDs returns the distinct owners of queued records.
	UserIDs(ctx context.Context) ([]string, error)
}

// SQLiteStore implements Store on a SQLite file.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the queue database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := db.AutoMigrate(&models.QueuedRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Enqueue stores a new record. An empty ID is filled with a UUID.
func (s *SQLiteStore) Enqueue(ctx context.Context, rec *models.QueuedRecord) error {
	if !rec.Type.IsValid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidRecordType, rec.Type)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to enqueue record %s: %w", rec.ID, err)
	}
	return nil
}

// ListByUser returns every queued record owned by userID, oldest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]models.QueuedRecord, error) {
	var recs []models.QueuedRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, rowid").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list queued records: %w", err)
	}
	return recs, nil
}

// UserIDs returns every user that still has queued records.
func (s *SQLiteStore) UserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.QueuedRecord{}).Distinct().Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue owners: %w", err)
	}
	return ids, nil
}

// Remove deletes a record after the remote store confirmed it.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.QueuedRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to remove queued record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttempt records a failed submission. The record stays queued.
func (s *SQLiteStore) MarkAttempt(ctx context.Context, rec *models.QueuedRecord) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.QueuedRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"sync_attempts":     gorm.Expr("sync_attempts + 1"),
			"last_sync_attempt": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark attempt on %s: %w", rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	rec.SyncAttempts++
	rec.LastSyncAttempt = &now
	return nil
}
