// internal/realtime/conn.go
//
// One player's WebSocket.
// Responsibilities:
//   - Read pump: size and rate limits, JSON envelope decode, dispatch.
//   - Write pump: drain the send queue, keep the socket alive with pings.
//   - Close exactly once; a slow reader is cut off rather than blocking fan-out.

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueue      = 64
)

// Conn is a connected player. ref is unique per socket.
type Conn struct {
	ref      string
	userID   string
	name     string
	ws       *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	log      zerolog.Logger
	done     chan struct{}
	closeOne sync.Once
}

func newConn(ws *websocket.Conn, ref, userID, name string, limiter *rate.Limiter, log zerolog.Logger) *Conn {
	return &Conn{
		ref:     ref,
		userID:  userID,
		name:    name,
		ws:      ws,
		send:    make(chan []byte, sendQueue),
		limiter: limiter,
		log:     log.With().Str("player", ref).Logger(),
		done:    make(chan struct{}),
	}
}

// envelope is every frame in either direction.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// enqueue queues b for the write pump. A full queue closes the connection.
func (c *Conn) enqueue(b []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.log.Warn().Msg("send queue full, dropping connection")
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOne.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump decodes frames until the socket fails and hands each one to
// handle. Frames over the rate limit are answered with an error and dropped.
func (c *Conn) readPump(handle func(envelope), limited func()) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("read")
			}
			return
		}
		if !c.limiter.Allow() {
			limited()
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			handle(envelope{})
			continue
		}
		handle(env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
