package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"neodocs/backend/internal/httpapi/middleware"
)

// Manager upgrades authenticated requests and keeps track of live
// connections so they can be closed on shutdown.
type Manager struct {
	gw       *Gateway
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewManager accepts websocket origins starting with one of allowedOrigins.
// An empty list accepts every origin.
func NewManager(gw *Gateway, allowedOrigins []string) *Manager {
	m := &Manager{gw: gw, conns: make(map[*Conn]struct{})}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" || origin == "null" {
			return true
		}
		for _, p := range allowed {
			if strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}
}

// WebSocketConnect must run behind middleware.AuthMiddleware. It blocks until
// the connection closes.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := middleware.UserID(c)
	email := c.GetString(middleware.CtxEmail)

	wsConn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(wsConn, uuid.NewString(), userID, email)
	if !m.track(conn) {
		_ = conn.Close()
		return
	}
	defer m.untrack(conn)
	conn.log.Info().Msg("websocket connected")

	go conn.writeLoop()
	conn.readLoop(c.Request.Context(), m.gw)
}

// track reports false once Shutdown has started.
func (m *Manager) track(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.conns[c] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *Manager) untrack(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
	m.wg.Done()
}

// Count reports the number of open connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown closes every open connection and waits, until ctx ends, for their
// read loops to finish the normal disconnect path.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	conns := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close on shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
