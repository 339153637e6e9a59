package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type OnlineReader interface {
	GetAliveMembers(ctx context.Context, docID string) ([]string, error)
}

// LocalMembers reports users present in this instance's live session.
type LocalMembers interface {
	Members(docID string) []string
}

type PresenceHandler struct {
	presence OnlineReader
	local    LocalMembers
}

// NewPresenceHandler reads from the shared presence cache and falls back to
// local when the cache is nil or unavailable. Either may be nil.
func NewPresenceHandler(presence OnlineReader, local LocalMembers) *PresenceHandler {
	return &PresenceHandler{presence: presence, local: local}
}

// Online serves GET /documents/:id/online.
func (h *PresenceHandler) Online(c *gin.Context) {
	docID := c.Param("id")
	var (
		users []string
		err   error
	)
	if h.presence != nil {
		users, err = h.presence.GetAliveMembers(c.Request.Context(), docID)
	}
	if h.presence == nil || err != nil {
		if err != nil {
			log.Warn().Err(err).Str("docId", docID).Msg("presence cache unavailable, using local session")
		}
		if h.local == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch online users"})
			return
		}
		users = h.local.Members(docID)
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"documentId": docID, "users": users, "count": len(users)})
}
