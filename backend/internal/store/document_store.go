package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

const mysqlDuplicateEntry = 1062

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// LoadDocument returns the stored version and content of a live document.
func (s *DocumentStore) LoadDocument(ctx context.Context, docID string) (int64, json.RawMessage, error) {
	var doc Document
	err := s.db.WithContext(ctx).Select("version", "content").Where("id = ?", docID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	return doc.Version, json.RawMessage(doc.Content), nil
}

// Exists reports whether a row exists for docID, soft-deleted rows included.
func (s *DocumentStore) Exists(ctx context.Context, docID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Unscoped().Model(&Document{}).Where("id = ?", docID).Count(&n).Error
	return n > 0, err
}

func (s *DocumentStore) Get(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Create inserts the first version of a document. A concurrent insert of the
// same id surfaces as ErrAlreadyExists.
func (s *DocumentStore) Create(ctx context.Context, docID, userID string, content json.RawMessage, at time.Time) error {
	doc := Document{
		ID:           docID,
		Title:        DefaultTitle,
		Content:      datatypes.JSON(content),
		AuthorID:     userID,
		LastEditedBy: userID,
		Version:      1,
		RevisionID:   uuid.NewString(),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return ErrAlreadyExists
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateContent writes a full content snapshot and returns the document's
// revision id for the audit row.
func (s *DocumentStore) UpdateContent(ctx context.Context, docID, userID string, content json.RawMessage, version int64, at time.Time) (string, error) {
	var revisionID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Select("id", "revision_id").Where("id = ?", docID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		revisionID = doc.RevisionID
		return tx.Model(&Document{}).Where("id = ?", docID).Updates(map[string]any{
			"content":        datatypes.JSON(content),
			"version":        version,
			"last_edited_by": userID,
			"updated_at":     at,
		}).Error
	})
	return revisionID, err
}

func (s *DocumentStore) UpdateTitle(ctx context.Context, docID, userID, title string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(map[string]any{
		"title":          title,
		"last_edited_by": userID,
		"updated_at":     at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete stamps deleted_at with the event time. Content is kept.
func (s *DocumentStore) SoftDelete(ctx context.Context, docID, userID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(map[string]any{
		"deleted_at":     at,
		"last_edited_by": userID,
		"updated_at":     at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type OperationStore struct{ db *gorm.DB }

func NewOperationStore(db *gorm.DB) *OperationStore {
	return &OperationStore{db: db}
}

func (s *OperationStore) Append(ctx context.Context, op *DocumentOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(op).Error
}

func (s *OperationStore) ListByDocument(ctx context.Context, docID string, limit int) ([]DocumentOperation, error) {
	var ops []DocumentOperation
	err := s.db.WithContext(ctx).Where("document_id = ?", docID).Order("version desc").Limit(limit).Find(&ops).Error
	return ops, err
}
