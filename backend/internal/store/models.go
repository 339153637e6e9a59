package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultTitle = "Untitled Document"

type Document struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)"`
	Title        string         `gorm:"type:varchar(255);not null"`
	Content      datatypes.JSON `gorm:"type:json"`
	AuthorID     string         `gorm:"type:varchar(64);index"`
	LastEditedBy string         `gorm:"type:varchar(64)"`
	Version      int64          `gorm:"not null;default:0"`
	RevisionID   string         `gorm:"type:varchar(64)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Document) TableName() string { return "documents" }

// DocumentOperation is the audit trail of raw client operations.
type DocumentOperation struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)"`
	DocumentID string         `gorm:"type:varchar(64);index"`
	UserID     string         `gorm:"type:varchar(64)"`
	Operation  datatypes.JSON `gorm:"type:json"`
	Version    int64
	RevisionID string `gorm:"type:varchar(64)"`
	Timestamp  time.Time
}

func (DocumentOperation) TableName() string { return "document_operations" }

type DocumentActivity struct {
	ID         string         `gorm:"primaryKey;type:varchar(96)"`
	DocumentID string         `gorm:"type:varchar(64);index:idx_activity_doc_ts,priority:1"`
	UserID     string         `gorm:"type:varchar(64)"`
	Type       string         `gorm:"type:varchar(32)"`
	Metadata   datatypes.JSON `gorm:"type:json"`
	Timestamp  time.Time      `gorm:"index:idx_activity_doc_ts,priority:2"`
	CreatedAt  time.Time
}

func (DocumentActivity) TableName() string { return "document_activities" }
