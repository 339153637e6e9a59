// Package events carries document mutations and presence events to the two
// Kafka topics that the reconciling worker consumes.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"neodocs/backend/internal/activity"
)

const (
	TopicOperations = "document-operations"
	TopicEvents     = "document-events"

	DefaultClientID = "neodocs-app"
	DefaultGroupID  = "document-processor"
)

type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

type EventType string

const (
	EventUserJoin     EventType = "USER_JOIN"
	EventUserLeave    EventType = "USER_LEAVE"
	EventCursorUpdate EventType = "CURSOR_UPDATE"
	EventTitleUpdate  EventType = "TITLE_UPDATE"
)

var (
	ErrQueueFull        = errors.New("events: dispatch queue full")
	ErrDispatcherClosed = errors.New("events: dispatcher closed")
	ErrPublisherClosed  = errors.New("events: publisher closed")
)

// OperationRecord is published on TopicOperations for every accepted edit.
// Timestamp is milliseconds since the Unix epoch.
type OperationRecord struct {
	Type       OperationType       `json:"type"`
	DocumentID string              `json:"documentId"`
	UserID     string              `json:"userId"`
	Content    json.RawMessage     `json:"content,omitempty"`
	Operation  json.RawMessage     `json:"operation,omitempty"`
	Version    int64               `json:"version"`
	Timestamp  int64               `json:"timestamp"`
	Activities []activity.Activity `json:"activities,omitempty"`
}

// DocumentEvent is published on TopicEvents.
type DocumentEvent struct {
	Type       EventType       `json:"type"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Title      string          `json:"title,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

func Millis(t time.Time) int64 { return t.UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
