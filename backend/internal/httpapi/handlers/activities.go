package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"neodocs/backend/internal/store"
)

const (
	defaultActivityWindow = 2 * time.Hour
	maxActivities         = 100
)

type DocumentLookup interface {
	Get(ctx context.Context, docID string) (*store.Document, error)
}

type ActivityReader interface {
	ListSince(ctx context.Context, docID string, since time.Time, limit int) ([]store.DocumentActivity, error)
	CountByType(ctx context.Context, docID string, since time.Time) ([]store.TypeCount, error)
}

type ActivityHandler struct {
	docs DocumentLookup
	acts ActivityReader
	now  func() time.Time
}

func NewActivityHandler(docs DocumentLookup, acts ActivityReader) *ActivityHandler {
	return &ActivityHandler{docs: docs, acts: acts, now: time.Now}
}

type activityView struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// List serves GET /documents/:id/activities?since=&limit=. since defaults to
// two hours ago.
func (h *ActivityHandler) List(c *gin.Context) {
	docID := c.Param("id")
	if !h.documentExists(c, docID) {
		return
	}

	since := h.now().Add(-defaultActivityWindow)
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "since must be an RFC 3339 timestamp"})
			return
		}
		since = t
	}
	limit := maxActivities
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	rows, err := h.acts.ListSince(c.Request.Context(), docID, since, limit)
	if err != nil {
		log.Error().Err(err).Str("docId", docID).Msg("failed to fetch document activities")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch activities"})
		return
	}
	out := make([]activityView, 0, len(rows))
	for _, a := range rows {
		out = append(out, activityView{
			ID:         a.ID,
			DocumentID: a.DocumentID,
			UserID:     a.UserID,
			Type:       a.Type,
			Timestamp:  a.Timestamp,
			Metadata:   json.RawMessage(a.Metadata),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"activities": out,
		"total":      len(out),
		"since":      since.UTC().Format(time.RFC3339),
	})
}

// Stats serves GET /documents/:id/activity-stats: counts per type since local
// midnight.
func (h *ActivityHandler) Stats(c *gin.Context) {
	docID := c.Param("id")
	if !h.documentExists(c, docID) {
		return
	}
	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats, err := h.acts.CountByType(c.Request.Context(), docID, today)
	if err != nil {
		log.Error().Err(err).Str("docId", docID).Msg("failed to fetch activity stats")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch activity statistics"})
		return
	}
	if stats == nil {
		stats = []store.TypeCount{}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "date": today.UTC().Format(time.RFC3339)})
}

func (h *ActivityHandler) documentExists(c *gin.Context, docID string) bool {
	if _, err := h.docs.Get(c.Request.Context(), docID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Document not found"})
			return false
		}
		log.Error().Err(err).Str("docId", docID).Msg("document lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load document"})
		return false
	}
	return true
}
