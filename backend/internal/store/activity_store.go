package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActivityStore struct{ db *gorm.DB }

func NewActivityStore(db *gorm.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Append(ctx context.Context, a *DocumentActivity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// ListSince returns the newest activities of a document at or after since.
func (s *ActivityStore) ListSince(ctx context.Context, docID string, since time.Time, limit int) ([]DocumentActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []DocumentActivity
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND timestamp >= ?", docID, since).
		Order("timestamp desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

func (s *ActivityStore) CountByType(ctx context.Context, docID string, since time.Time) ([]TypeCount, error) {
	var out []TypeCount
	err := s.db.WithContext(ctx).Model(&DocumentActivity{}).
		Select("type, COUNT(*) AS count").
		Where("document_id = ? AND timestamp >= ?", docID, since).
		Group("type").
		Order("count desc").
		Scan(&out).Error
	return out, err
}
