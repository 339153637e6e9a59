// Package worker applies the durable event log to document storage. It is the
// only writer of stored document state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"neodocs/backend/internal/activity"
	"neodocs/backend/internal/events"
	"neodocs/backend/internal/store"
)

type DocumentWriter interface {
	Exists(ctx context.Context, docID string) (bool, error)
	Create(ctx context.Context, docID, userID string, content json.RawMessage, at time.Time) error
	UpdateContent(ctx context.Context, docID, userID string, content json.RawMessage, version int64, at time.Time) (string, error)
	UpdateTitle(ctx context.Context, docID, userID, title string, at time.Time) error
	SoftDelete(ctx context.Context, docID, userID string, at time.Time) error
}

type OperationAppender interface {
	Append(ctx context.Context, op *store.DocumentOperation) error
}

type ActivityAppender interface {
	Append(ctx context.Context, a *store.DocumentActivity) error
}

type Reconciler struct {
	docs DocumentWriter
	ops  OperationAppender
	acts ActivityAppender

	opTopic  string
	evtTopic string
}

func NewReconciler(docs DocumentWriter, ops OperationAppender, acts ActivityAppender) *Reconciler {
	return &Reconciler{
		docs:     docs,
		ops:      ops,
		acts:     acts,
		opTopic:  events.TopicOperations,
		evtTopic: events.TopicEvents,
	}
}

// WithTopics overrides the topic names messages are routed by.
func (r *Reconciler) WithTopics(operations, documentEvents string) *Reconciler {
	if operations != "" {
		r.opTopic = operations
	}
	if documentEvents != "" {
		r.evtTopic = documentEvents
	}
	return r
}

func (r *Reconciler) Topics() []string { return []string{r.opTopic, r.evtTopic} }

// HandleMessage decodes one log message and routes it by topic.
func (r *Reconciler) HandleMessage(ctx context.Context, topic string, value []byte) error {
	if len(value) == 0 {
		return nil
	}
	switch topic {
	case r.opTopic:
		var rec events.OperationRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode operation record: %w", err)
		}
		return r.HandleOperation(ctx, rec)
	case r.evtTopic:
		var evt events.DocumentEvent
		if err := json.Unmarshal(value, &evt); err != nil {
			return fmt.Errorf("decode document event: %w", err)
		}
		return r.HandleEvent(ctx, evt)
	default:
		return fmt.Errorf("unexpected topic %q", topic)
	}
}

// HandleOperation applies a mutation record. Its activities are stored even
// when the document write fails.
func (r *Reconciler) HandleOperation(ctx context.Context, rec events.OperationRecord) error {
	at := events.FromMillis(rec.Timestamp)
	logger := log.With().Str("type", string(rec.Type)).Str("docId", rec.DocumentID).Str("userId", rec.UserID).Logger()
	logger.Debug().Int64("version", rec.Version).Msg("processing document operation")

	var err error
	switch rec.Type {
	case events.OpCreate:
		err = r.create(ctx, rec, at)
	case events.OpUpdate:
		err = r.update(ctx, rec, at)
	case events.OpDelete:
		err = r.docs.SoftDelete(ctx, rec.DocumentID, rec.UserID, at)
	default:
		err = fmt.Errorf("unknown operation type %q", rec.Type)
	}
	if err != nil {
		logger.Error().Err(err).Msg("document operation failed")
	}

	for _, a := range rec.Activities {
		if aerr := r.appendActivity(ctx, rec.DocumentID, rec.UserID, string(a.Type), a.Metadata, at); aerr != nil {
			logger.Error().Err(aerr).Str("activity", string(a.Type)).Msg("failed to store activity")
		}
	}
	return err
}

func (r *Reconciler) create(ctx context.Context, rec events.OperationRecord, at time.Time) error {
	exists, err := r.docs.Exists(ctx, rec.DocumentID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	content := rec.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	err = r.docs.Create(ctx, rec.DocumentID, rec.UserID, content, at)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	return err
}

// update stores only a full content snapshot. Records without one are
// skipped and steps are never replayed here.
func (r *Reconciler) update(ctx context.Context, rec events.OperationRecord, at time.Time) error {
	if len(rec.Content) == 0 || string(rec.Content) == "null" {
		log.Info().Str("docId", rec.DocumentID).Msg("update without content, skipping")
		return nil
	}
	revisionID, err := r.docs.UpdateContent(ctx, rec.DocumentID, rec.UserID, rec.Content, rec.Version, at)
	if err != nil {
		return err
	}

	audit := &store.DocumentOperation{
		DocumentID: rec.DocumentID,
		UserID:     rec.UserID,
		Operation:  datatypes.JSON(rec.Operation),
		Version:    rec.Version,
		RevisionID: revisionID,
		Timestamp:  at,
	}
	if err := r.ops.Append(ctx, audit); err != nil {
		log.Warn().Err(err).Str("docId", rec.DocumentID).Int64("version", rec.Version).Msg("failed to store operation for audit")
	}
	return nil
}

// HandleEvent applies a presence or meta event and records it as an
// activity named after the lowercased event type.
func (r *Reconciler) HandleEvent(ctx context.Context, evt events.DocumentEvent) error {
	at := events.FromMillis(evt.Timestamp)
	if evt.Type == events.EventTitleUpdate && evt.Title != "" {
		if err := r.docs.UpdateTitle(ctx, evt.DocumentID, evt.UserID, evt.Title, at); err != nil {
			return fmt.Errorf("update title: %w", err)
		}
		log.Info().Str("docId", evt.DocumentID).Str("title", evt.Title).Msg("document title updated")
	}
	return r.appendActivity(ctx, evt.DocumentID, evt.UserID, strings.ToLower(string(evt.Type)), activity.Metadata{}, at)
}

func (r *Reconciler) appendActivity(ctx context.Context, docID, userID, typ string, md activity.Metadata, at time.Time) error {
	var meta datatypes.JSON
	if md != (activity.Metadata{}) {
		b, err := json.Marshal(md)
		if err != nil {
			return err
		}
		meta = b
	}
	return r.acts.Append(ctx, &store.DocumentActivity{
		DocumentID: docID,
		UserID:     userID,
		Type:       typ,
		Metadata:   meta,
		Timestamp:  at,
	})
}
