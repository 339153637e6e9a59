package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"neodocs/backend/internal/cache"
)

const presenceQueueSize = 1024

type presenceOp struct {
	docID  string
	connID string
	userID string
	remove bool
}

// Hub tracks which connections are in which document room.
type Hub struct {
	// presence mirrors room membership to Redis for other instances. May be nil.
	presence    cache.PresenceCache
	presenceTTL time.Duration
	now         func() time.Time

	// one writer drains ops so a join and the leave after it reach Redis in order
	qmu     sync.RWMutex
	qclosed bool
	ops     chan presenceOp
	drained chan struct{}

	mu sync.RWMutex
	// docID -> set of connections; one user may hold several connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache, presenceTTL time.Duration) *Hub {
	if presenceTTL <= 0 {
		presenceTTL = 10 * time.Minute
	}
	h := &Hub{
		presence:    p,
		presenceTTL: presenceTTL,
		now:         time.Now,
		rooms:       make(map[string]map[*Conn]struct{}),
		drained:     make(chan struct{}),
	}
	if p == nil {
		close(h.drained)
		return h
	}
	h.ops = make(chan presenceOp, presenceQueueSize)
	go h.mirrorLoop()
	return h
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
	h.mu.Unlock()

	c.mirrored[docID] = h.now()
	h.mirror(presenceOp{docID: docID, connID: c.id, userID: c.userID})
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
	h.mu.Unlock()

	delete(c.mirrored, docID)
	h.mirror(presenceOp{docID: docID, connID: c.id, remove: true})
}

// Touch renews the connection's presence entry once a third of the TTL has
// passed since the last write. Must be called from the connection's read loop.
func (h *Hub) Touch(docID string, c *Conn) {
	last, ok := c.mirrored[docID]
	if !ok {
		return
	}
	now := h.now()
	if now.Sub(last) < h.presenceTTL/3 {
		return
	}
	c.mirrored[docID] = now
	h.mirror(presenceOp{docID: docID, connID: c.id, userID: c.userID})
}

// Broadcast sends msg to every connection in the room except one, which may
// be nil. Sends never block.
func (h *Hub) Broadcast(docID string, msg ServerMessage, except *Conn) {
	for _, c := range h.members(docID) {
		if c != except {
			c.Send(msg)
		}
	}
}

func (h *Hub) members(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		out = append(out, c)
	}
	return out
}

// mirror queues a presence cache write. A full queue drops the write; the
// entry then expires or is renewed by the next Touch.
func (h *Hub) mirror(op presenceOp) {
	if h.presence == nil {
		return
	}
	h.qmu.RLock()
	defer h.qmu.RUnlock()
	if h.qclosed {
		return
	}
	select {
	case h.ops <- op:
	default:
		log.Warn().Str("docId", op.docID).Str("conn", op.connID).Msg("presence queue full, update dropped")
	}
}

func (h *Hub) mirrorLoop() {
	defer close(h.drained)
	for op := range h.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var err error
		if op.remove {
			err = h.presence.RemoveMember(ctx, op.docID, op.connID)
		} else {
			err = h.presence.AddMember(ctx, op.docID, op.connID, op.userID, h.presenceTTL)
		}
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("docId", op.docID).Msg("presence cache update failed")
		}
	}
}

// Close stops taking presence writes and waits until the queued ones are
// done or ctx ends.
func (h *Hub) Close(ctx context.Context) error {
	h.qmu.Lock()
	if !h.qclosed && h.ops != nil {
		close(h.ops)
	}
	h.qclosed = true
	h.qmu.Unlock()

	select {
	case <-h.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
