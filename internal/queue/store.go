package queue

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"wifi-attendance-agent/internal/model"
)

// Store defines the durable storage operations behind the offline queue.
// Three logical keys live here: the pending event queue, the current offline
// session, and the ready-for-sync payload; ClearAll wipes them together.
type Store interface {
	Append(ctx context.Context, entry *model.QueueEntry) error
	Unsynced(ctx context.Context) ([]model.QueueEntry, error)
	Acknowledge(ctx context.Context, sequenceNo int64) error
	SaveSession(ctx context.Context, session *model.OfflineSession) error
	OpenSession(ctx context.Context) (*model.OfflineSession, error)
	PendingSession(ctx context.Context) (*model.OfflineSession, error)
	ClearSynced(ctx context.Context, maxSeq int64) error
	ClearAll(ctx context.Context) error
}

// gormStore implements Store using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM-backed queue store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Append persists a new queue entry; the database assigns the sequence
// number, which strictly increases.
func (s *gormStore) Append(ctx context.Context, entry *model.QueueEntry) error {
	entry.CreatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append queue entry: %w", err)
	}
	return nil
}

// Unsynced returns all unacknowledged entries in ascending sequence order.
func (s *gormStore) Unsynced(ctx context.Context) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	if err := s.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("sequence_no ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load unsynced entries: %w", err)
	}
	return entries, nil
}

// Acknowledge removes an entry the server has confirmed. Marking and
// deletion happen in one transaction so a crash between them cannot strand a
// half-acknowledged row.
func (s *gormStore) Acknowledge(ctx context.Context, sequenceNo int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.QueueEntry{}).
			Where("sequence_no = ?", sequenceNo).
			Update("synced", true).Error; err != nil {
			return fmt.Errorf("failed to mark entry %d synced: %w", sequenceNo, err)
		}
		if err := tx.Delete(&model.QueueEntry{}, sequenceNo).Error; err != nil {
			return fmt.Errorf("failed to delete entry %d: %w", sequenceNo, err)
		}
		return nil
	})
}

// SaveSession upserts the offline session snapshot.
func (s *gormStore) SaveSession(ctx context.Context, session *model.OfflineSession) error {
	session.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("failed to save offline session: %w", err)
	}
	return nil
}

// OpenSession returns the current (not yet ready-for-sync) session, or nil.
func (s *gormStore) OpenSession(ctx context.Context) (*model.OfflineSession, error) {
	return s.findSession(ctx, false)
}

// PendingSession returns the session awaiting server reconciliation, or nil.
func (s *gormStore) PendingSession(ctx context.Context) (*model.OfflineSession, error) {
	return s.findSession(ctx, true)
}

func (s *gormStore) findSession(ctx context.Context, readyForSync bool) (*model.OfflineSession, error) {
	var session model.OfflineSession
	err := s.db.WithContext(ctx).
		Where("ready_for_sync = ?", readyForSync).
		Order("start_time DESC").
		First(&session).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load offline session: %w", err)
	}
	return &session, nil
}

// ClearSynced deletes queue entries up to and including maxSeq together with
// the reconciled session payload. Entries appended after the sync snapshot
// was taken keep their rows, as does an offline window opened in the
// meantime.
func (s *gormStore) ClearSynced(ctx context.Context, maxSeq int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sequence_no <= ?", maxSeq).Delete(&model.QueueEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear synced queue entries: %w", err)
		}
		if err := tx.Where("ready_for_sync = ?", true).Delete(&model.OfflineSession{}).Error; err != nil {
			return fmt.Errorf("failed to clear reconciled session: %w", err)
		}
		return nil
	})
}

// ClearAll deletes the queue and both session keys in one transaction,
// reserved for the emergency reset.
func (s *gormStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.QueueEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear queue entries: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&model.OfflineSession{}).Error; err != nil {
			return fmt.Errorf("failed to clear offline sessions: %w", err)
		}
		return nil
	})
}
