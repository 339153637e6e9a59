package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendQueueSize  = 256
)

// Conn is one authenticated client connection. It may be joined to several
// documents at once. Only the read loop touches docs and mirrored.
type Conn struct {
	id     string
	userID string
	email  string

	ws   *websocket.Conn
	send chan ServerMessage
	docs map[string]struct{}
	// last presence cache write per joined document
	mirrored map[string]time.Time

	closeOnce sync.Once
	done      chan struct{}
	log       zerolog.Logger
}

func newConn(ws *websocket.Conn, id, userID, email string) *Conn {
	return &Conn{
		id:       id,
		userID:   userID,
		email:    email,
		ws:       ws,
		send:     make(chan ServerMessage, sendQueueSize),
		docs:     make(map[string]struct{}),
		mirrored: make(map[string]time.Time),
		done:     make(chan struct{}),
		log:      log.With().Str("conn", id).Str("userId", userID).Logger(),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send queues msg for the write loop. When the queue is full the message is
// dropped.
func (c *Conn) Send(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("send queue full, message dropped")
	}
}

func (c *Conn) readLoop(ctx context.Context, g *Gateway) {
	defer func() {
		g.disconnect(c)
		c.closeOnce.Do(func() { close(c.done) })
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		g.touchAll(c)
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			} else {
				c.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(errorMessage("Malformed message"))
			continue
		}
		g.handle(ctx, c, msg)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued after the read side has finished.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close ends the connection from the server side. The read loop sees the
// closed socket and runs the disconnect path.
func (c *Conn) Close() error {
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	return err
}
