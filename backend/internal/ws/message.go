package ws

import (
	"encoding/json"
	"time"

	"neodocs/backend/internal/activity"
)

// Client to server message kinds.
const (
	TypeJoinDocument = "join-document"
	TypeOperation    = "operation"
	TypeCursorUpdate = "cursor-update"
	TypeContentSync  = "content-sync"
	TypeTitleUpdate  = "title-update"
)

// Server to client message kinds. cursor-update, operation and content-sync
// are shared with the client kinds above.
const (
	TypeDocumentState    = "document-state"
	TypeOperationAck     = "operation-ack"
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeDocumentActivity = "document-activity"
	TypeTitleUpdated     = "title-updated"
	TypeError            = "error"
)

// ClientMessage is the envelope of every inbound frame.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinPayload struct {
	DocID string `json:"docId"`
}

// OperationPayload carries the client's steps and, usually, the full content
// that resulted from them.
type OperationPayload struct {
	DocID     string          `json:"docId"`
	Operation json.RawMessage `json:"operation"`
	Version   int64           `json:"version"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type CursorPayload struct {
	DocID     string          `json:"docId"`
	Cursor    json.RawMessage `json:"cursor"`
	Selection json.RawMessage `json:"selection"`
}

type ContentSyncPayload struct {
	DocID   string          `json:"docId"`
	Content json.RawMessage `json:"content"`
}

type TitlePayload struct {
	DocID string `json:"docId"`
	Title string `json:"title"`
}

// ServerMessage is the envelope of every outbound frame.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type DocumentState struct {
	DocID   string          `json:"docId"`
	Version int64           `json:"version"`
	Content json.RawMessage `json:"content"`
}

type OperationRelay struct {
	DocID     string          `json:"docId"`
	Operation json.RawMessage `json:"operation"`
	Version   int64           `json:"version"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
}

type OperationAck struct {
	DocID   string `json:"docId"`
	Version int64  `json:"version"`
}

type CursorRelay struct {
	DocID     string          `json:"docId"`
	UserID    string          `json:"userId"`
	SocketID  string          `json:"socketId"`
	Cursor    json.RawMessage `json:"cursor"`
	Selection json.RawMessage `json:"selection"`
}

type PresenceNotice struct {
	DocID    string `json:"docId"`
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

type ActivityMessage struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"documentId"`
	UserID      string            `json:"userId"`
	Type        activity.Type     `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    activity.Metadata `json:"metadata"`
	Description string            `json:"description"`
}

type ContentSyncRelay struct {
	DocID   string          `json:"docId"`
	Content json.RawMessage `json:"content"`
	Version int64           `json:"version"`
	UserID  string          `json:"userId"`
}

type TitleUpdated struct {
	DocID  string `json:"docId"`
	Title  string `json:"title"`
	UserID string `json:"userId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Data: ErrorMessage{Message: msg}}
}
