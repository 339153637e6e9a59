package collab

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"neodocs/backend/internal/richtext"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotJoined       = errors.New("connection has not joined the document")
)

// PendingOp is one accepted operation kept in the session's recent tail.
type PendingOp struct {
	Operation json.RawMessage
	UserID    string
	Version   int64
	Timestamp time.Time
}

type Presence struct {
	ConnID    string          `json:"socketId"`
	UserID    string          `json:"userId"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	LastSeen  time.Time       `json:"lastSeen"`
}

type Snapshot struct {
	Version int64           `json:"version"`
	Content json.RawMessage `json:"content"`
}

// Submission is an operation offered to a session. Content, when present,
// replaces the session content verbatim and Steps are not replayed.
type Submission struct {
	UserID        string
	Operation     json.RawMessage
	Steps         []richtext.Step
	ClientVersion int64
	Content       json.RawMessage
}

type Applied struct {
	Version   int64
	Previous  int64
	Mismatch  bool // client edited against a version other than Previous
	Content   json.RawMessage
	Timestamp time.Time
}

// Session is the live state of one open document. All mutation happens under
// mu so operations on one document are strictly sequential.
type Session struct {
	docID string
	now   func() time.Time

	mu        sync.RWMutex
	version   int64
	content   json.RawMessage
	pending   []PendingOp
	ringCap   int
	presence  map[string]*Presence
	idleSince time.Time
	evicted   bool
}

func newSession(docID string, version int64, content json.RawMessage, ringCap int, now func() time.Time) *Session {
	if richtext.IsEmptyJSON(content) {
		content = richtext.EmptyDocumentJSON()
	}
	if ringCap <= 0 {
		ringCap = 1024
	}
	return &Session{
		docID:     docID,
		now:       now,
		version:   version,
		content:   content,
		pending:   make([]PendingOp, 0, ringCap),
		ringCap:   ringCap,
		presence:  make(map[string]*Presence),
		idleSince: now(),
	}
}

func (s *Session) DocumentID() string { return s.docID }

// join registers connID and returns the state to send to it. It reports false
// when the session was evicted before the lock was taken.
func (s *Session) join(connID, userID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Snapshot{}, false
	}
	s.presence[connID] = &Presence{ConnID: connID, UserID: userID, LastSeen: s.now()}
	return Snapshot{Version: s.version, Content: s.content}, true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Version: s.version, Content: s.content}
}

// Apply accepts sub unconditionally and advances the version by one. A replay
// that cannot be carried out leaves content as it was.
func (s *Session) Apply(sub Submission) Applied {
	return s.ApplyCommit(sub, nil)
}

// ApplyCommit is Apply with commit run before the session lock is released,
// so whatever commit enqueues is ordered by version. commit must not block
// and must not call back into the session.
func (s *Session) ApplyCommit(sub Submission, commit func(Applied)) Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.version
	if !richtext.IsEmptyJSON(sub.Content) {
		s.content = append(json.RawMessage(nil), sub.Content...)
	} else if next, err := replaySteps(s.content, sub.Steps); err != nil {
		log.Warn().Err(err).Str("docId", s.docID).Msg("step replay failed, content unchanged")
	} else {
		s.content = next
	}

	s.version++
	ts := s.now()
	s.pushPending(PendingOp{Operation: sub.Operation, UserID: sub.UserID, Version: s.version, Timestamp: ts})
	if p := s.presenceOfUser(sub.UserID); p != nil {
		p.LastSeen = ts
	}

	applied := Applied{
		Version:   s.version,
		Previous:  prev,
		Mismatch:  sub.ClientVersion != prev,
		Content:   s.content,
		Timestamp: ts,
	}
	if commit != nil {
		commit(applied)
	}
	return applied
}

// ReplaceContent overwrites the content wholesale, as a client does after it
// fails to replay operations locally.
func (s *Session) ReplaceContent(content json.RawMessage) Applied {
	return s.ReplaceContentCommit(content, nil)
}

// ReplaceContentCommit runs commit under the session lock like ApplyCommit.
func (s *Session) ReplaceContentCommit(content json.RawMessage, commit func(Applied)) Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.version
	if richtext.IsEmptyJSON(content) {
		content = richtext.EmptyDocumentJSON()
	}
	s.content = append(json.RawMessage(nil), content...)
	s.version++
	applied := Applied{Version: s.version, Previous: prev, Content: s.content, Timestamp: s.now()}
	if commit != nil {
		commit(applied)
	}
	return applied
}

func (s *Session) pushPending(op PendingOp) {
	if len(s.pending) == s.ringCap {
		copy(s.pending[0:], s.pending[1:])
		s.pending = s.pending[:len(s.pending)-1]
	}
	s.pending = append(s.pending, op)
}

func (s *Session) presenceOfUser(userID string) *Presence {
	for _, p := range s.presence {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (s *Session) UpdateCursor(connID string, cursor, selection json.RawMessage) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[connID]
	if !ok {
		return Presence{}, false
	}
	p.Cursor = cursor
	p.Selection = selection
	p.LastSeen = s.now()
	return *p, true
}

// Leave drops the presence of connID only. The returned bool is false when
// connID was not a member.
func (s *Session) Leave(connID string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[connID]
	if !ok {
		return Presence{}, false
	}
	delete(s.presence, connID)
	if len(s.presence) == 0 {
		s.idleSince = s.now()
	}
	return *p, true
}

func (s *Session) HasConn(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.presence[connID]
	return ok
}

// Presence lists members ordered by connection id.
func (s *Session) Presence() []Presence {
	s.mu.RLock()
	out := make([]Presence, 0, len(s.presence))
	for _, p := range s.presence {
		out = append(out, *p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

func (s *Session) PendingOps() []PendingOp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PendingOp(nil), s.pending...)
}

// tryEvict marks the session evicted if it has been empty for at least ttl.
func (s *Session) tryEvict(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.presence) > 0 || now.Sub(s.idleSince) < ttl {
		return false
	}
	s.evicted = true
	return true
}
