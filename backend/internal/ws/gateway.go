package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"neodocs/backend/internal/activity"
	"neodocs/backend/internal/collab"
	"neodocs/backend/internal/events"
	"neodocs/backend/internal/richtext"
)

// Sink takes durable records without blocking. Errors mean the record was
// dropped.
type Sink interface {
	Operation(rec events.OperationRecord) error
	Event(evt events.DocumentEvent) error
}

// Gateway handles the messages of every connection.
type Gateway struct {
	reg  *collab.Registry
	hub  *Hub
	sink Sink
	now  func() time.Time
}

func NewGateway(reg *collab.Registry, hub *Hub, sink Sink) *Gateway {
	return &Gateway{reg: reg, hub: hub, sink: sink, now: time.Now}
}

func (g *Gateway) handle(ctx context.Context, c *Conn, msg ClientMessage) {
	var err error
	switch msg.Type {
	case TypeJoinDocument:
		var p JoinPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			g.join(ctx, c, p)
		}
	case TypeOperation:
		var p OperationPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			g.operation(c, p)
		}
	case TypeCursorUpdate:
		var p CursorPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			g.cursor(c, p)
		}
	case TypeContentSync:
		var p ContentSyncPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			g.contentSync(c, p)
		}
	case TypeTitleUpdate:
		var p TitlePayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			g.title(c, p)
		}
	default:
		c.Send(errorMessage("Unknown message type"))
		return
	}
	if err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("malformed payload")
		c.Send(errorMessage("Malformed message"))
	}
}

func (g *Gateway) join(ctx context.Context, c *Conn, p JoinPayload) {
	if p.DocID == "" {
		c.Send(errorMessage("docId is required"))
		return
	}
	_, snap := g.reg.Join(ctx, p.DocID, c.id, c.userID)
	_, rejoin := c.docs[p.DocID]
	c.docs[p.DocID] = struct{}{}
	g.hub.Join(p.DocID, c)

	now := g.now()
	if !rejoin {
		g.publishEvent(c, events.DocumentEvent{Type: events.EventUserJoin, DocumentID: p.DocID, UserID: c.userID, Timestamp: events.Millis(now)})
	}
	c.Send(ServerMessage{Type: TypeDocumentState, Data: DocumentState{DocID: p.DocID, Version: snap.Version, Content: snap.Content}})
	if rejoin {
		return
	}
	g.hub.Broadcast(p.DocID, ServerMessage{Type: TypeUserJoined, Data: PresenceNotice{DocID: p.DocID, UserID: c.userID, SocketID: c.id}}, c)
	g.hub.Broadcast(p.DocID, g.activityMessage(p.DocID, c.userID, activity.Presence(activity.UserJoined, c.id), now), c)
	c.log.Info().Str("docId", p.DocID).Int64("version", snap.Version).Msg("joined document")
}

// operation is always accepted. The session version moves even when the
// client edited against another version or the steps cannot be replayed.
func (g *Gateway) operation(c *Conn, p OperationPayload) {
	sess, err := g.reg.Session(p.DocID, c.id)
	if err != nil {
		c.Send(errorMessage(notFoundMessage(err)))
		return
	}

	op, err := richtext.ParseOperation(p.Operation)
	if err != nil {
		c.log.Warn().Err(err).Str("docId", p.DocID).Msg("operation steps could not be decoded")
	}

	acts := activity.Derive(op.Steps, c.userID)
	sub := collab.Submission{
		UserID:        c.userID,
		Operation:     p.Operation,
		Steps:         op.Steps,
		ClientVersion: p.Version,
		Content:       p.Content,
	}
	// Publishing and fan-out happen under the session lock so the log and
	// every member see operations in version order. All of it is non-blocking.
	applied := sess.ApplyCommit(sub, func(applied collab.Applied) {
		for _, a := range acts {
			g.hub.Broadcast(p.DocID, g.activityMessage(p.DocID, c.userID, a, applied.Timestamp), nil)
		}
		g.publishOperation(c, events.OperationRecord{
			Type:       events.OpUpdate,
			DocumentID: p.DocID,
			UserID:     c.userID,
			Content:    applied.Content,
			Operation:  p.Operation,
			Version:    applied.Version,
			Timestamp:  events.Millis(applied.Timestamp),
			Activities: acts,
		})
		g.hub.Broadcast(p.DocID, ServerMessage{Type: TypeOperation, Data: OperationRelay{
			DocID:     p.DocID,
			Operation: p.Operation,
			Version:   applied.Version,
			UserID:    c.userID,
			Timestamp: events.Millis(applied.Timestamp),
		}}, c)
		c.Send(ServerMessage{Type: TypeOperationAck, Data: OperationAck{DocID: p.DocID, Version: applied.Version}})
	})
	if applied.Mismatch {
		c.log.Info().Str("docId", p.DocID).Int64("client", p.Version).Int64("server", applied.Previous).
			Msg("operation version mismatch, proceeding")
	}
	g.hub.Touch(p.DocID, c)
}

// cursor is ephemeral: relayed to the room, never published.
func (g *Gateway) cursor(c *Conn, p CursorPayload) {
	sess, err := g.reg.Session(p.DocID, c.id)
	if err != nil {
		return
	}
	if _, ok := sess.UpdateCursor(c.id, p.Cursor, p.Selection); !ok {
		return
	}
	g.hub.Broadcast(p.DocID, ServerMessage{Type: TypeCursorUpdate, Data: CursorRelay{
		DocID:     p.DocID,
		UserID:    c.userID,
		SocketID:  c.id,
		Cursor:    p.Cursor,
		Selection: p.Selection,
	}}, c)
	g.hub.Touch(p.DocID, c)
}

// contentSync replaces the session content after a client failed to replay
// operations locally.
func (g *Gateway) contentSync(c *Conn, p ContentSyncPayload) {
	sess, err := g.reg.Session(p.DocID, c.id)
	if err != nil {
		return
	}
	applied := sess.ReplaceContentCommit(p.Content, func(applied collab.Applied) {
		g.hub.Broadcast(p.DocID, ServerMessage{Type: TypeContentSync, Data: ContentSyncRelay{
			DocID:   p.DocID,
			Content: applied.Content,
			Version: applied.Version,
			UserID:  c.userID,
		}}, c)
	})
	g.hub.Touch(p.DocID, c)
	c.log.Debug().Str("docId", p.DocID).Int64("version", applied.Version).Msg("content synced")
}

func (g *Gateway) title(c *Conn, p TitlePayload) {
	if _, err := g.reg.Session(p.DocID, c.id); err != nil {
		c.Send(errorMessage(notFoundMessage(err)))
		return
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		c.Send(errorMessage("title is required"))
		return
	}
	g.publishEvent(c, events.DocumentEvent{
		Type:       events.EventTitleUpdate,
		DocumentID: p.DocID,
		UserID:     c.userID,
		Title:      title,
		Timestamp:  events.Millis(g.now()),
	})
	g.hub.Broadcast(p.DocID, ServerMessage{Type: TypeTitleUpdated, Data: TitleUpdated{DocID: p.DocID, Title: title, UserID: c.userID}}, c)
}

// disconnect drops every presence entry the connection holds and tells the
// remaining members, once per document.
func (g *Gateway) disconnect(c *Conn) {
	for docID := range c.docs {
		g.hub.Leave(docID, c)
		sess, ok := g.reg.Lookup(docID)
		if !ok {
			continue
		}
		if _, left := sess.Leave(c.id); !left {
			continue
		}
		now := g.now()
		g.hub.Broadcast(docID, ServerMessage{Type: TypeUserLeft, Data: PresenceNotice{DocID: docID, UserID: c.userID, SocketID: c.id}}, c)
		g.hub.Broadcast(docID, g.activityMessage(docID, c.userID, activity.Presence(activity.UserLeft, c.id), now), c)
		g.publishEvent(c, events.DocumentEvent{Type: events.EventUserLeave, DocumentID: docID, UserID: c.userID, Timestamp: events.Millis(now)})
	}
	c.docs = map[string]struct{}{}
	c.log.Info().Msg("disconnected")
}

// touchAll renews presence for every document the connection has joined.
func (g *Gateway) touchAll(c *Conn) {
	for docID := range c.docs {
		g.hub.Touch(docID, c)
	}
}

func (g *Gateway) activityMessage(docID, userID string, a activity.Activity, at time.Time) ServerMessage {
	return ServerMessage{Type: TypeDocumentActivity, Data: ActivityMessage{
		ID:          uuid.NewString(),
		DocumentID:  docID,
		UserID:      userID,
		Type:        a.Type,
		Timestamp:   at,
		Metadata:    a.Metadata,
		Description: a.Description,
	}}
}

func (g *Gateway) publishOperation(c *Conn, rec events.OperationRecord) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Operation(rec); err != nil {
		c.log.Error().Err(err).Str("docId", rec.DocumentID).Int64("version", rec.Version).Msg("failed to publish operation")
	}
}

func (g *Gateway) publishEvent(c *Conn, evt events.DocumentEvent) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Event(evt); err != nil {
		c.log.Error().Err(err).Str("docId", evt.DocumentID).Str("type", string(evt.Type)).Msg("failed to publish document event")
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, collab.ErrSessionNotFound) || errors.Is(err, collab.ErrNotJoined) {
		return "Document not found"
	}
	return err.Error()
}
