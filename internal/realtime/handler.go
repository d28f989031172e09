// internal/realtime/handler.go
//
// WebSocket endpoint and message dispatch.
// Responsibilities:
//   - Upgrade the request, register the connection with the hub.
//   - Map client messages onto the room registry.
//   - Reply to the sender only for roomJoined and error frames.
//   - Leave every room when the socket goes away.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/room"
)

// Client message types.
const (
	MsgCreateRoom  = "createRoom"
	MsgJoinRoom    = "joinRoom"
	MsgReady       = "ready"
	MsgGuessLetter = "guessLetter"
	MsgChat        = "chat"
	MsgLeaveRoom   = "leaveRoom"

	// EventConnected is sent once after the upgrade with the player's ref.
	EventConnected = "connected"
)

// Transport-level error codes; game errors use game.Code.
const (
	CodeBadMessage     = "bad-message"
	CodeUnknownMessage = "unknown-message"
	CodeRateLimited    = "rate-limited"
	CodeInternal       = "internal-error"
)

const maxNameRunes = 24

// Rooms is the slice of the registry the push path drives.
type Rooms interface {
	CreateRoom(ctx context.Context, mode game.Mode, creator room.Member, policy game.Policy) (game.View, error)
	JoinRoom(ctx context.Context, code string, m room.Member) (game.View, error)
	SetReady(ctx context.Context, code, ref string) error
	Guess(ctx context.Context, code, ref, letter string) (room.GuessResult, error)
	Chat(ctx context.Context, code, ref, message string) error
	Leave(ctx context.Context, code, ref string) error
	Disconnect(ctx context.Context, ref string)
}

// Options tune the push path.
type Options struct {
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

// Handler serves GET /ws.
type Handler struct {
	hub      *Hub
	rooms    Rooms
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

// NewHandler builds the WebSocket endpoint.
func NewHandler(hub *Hub, rooms Rooms, opts Options, log zerolog.Logger) *Handler {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	h := &Handler{hub: hub, rooms: rooms, opts: opts, log: log.With().Str("component", "ws").Logger()}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Peer is who is on the other end of a socket, as established by the HTTP
// layer (authenticated user or anonymous cookie).
type Peer struct {
	UserID   string
	Username string
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, peer Peer) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	ref := uuid.NewString()
	name := peer.Username
	if name == "" {
		name = "Guest-" + ref[:4]
	}
	limiter := rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst)
	c := newConn(ws, ref, peer.UserID, name, limiter, h.log)

	h.hub.register(c)
	go c.writePump()
	h.log.Info().Str("player", ref).Str("user", peer.UserID).Msg("connected")
	h.hub.Send(ref, game.Event{Type: EventConnected, Data: map[string]string{"playerId": ref, "userId": peer.UserID, "name": name}})

	ctx := context.WithoutCancel(r.Context())
	c.readPump(
		func(env envelope) { h.dispatch(ctx, c, env) },
		func() { h.fail(c, CodeRateLimited, "too many messages") },
	)

	c.close()
	h.hub.unregister(c)
	h.rooms.Disconnect(ctx, ref)
	h.log.Info().Str("player", ref).Msg("disconnected")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ------------------------------ messages -----------------------------------

type createRoomReq struct {
	Mode       game.Mode `json:"mode"`
	IsPublic   bool      `json:"isPublic"`
	MaxPlayers int       `json:"maxPlayers"`
	Difficulty string    `json:"difficulty"`
	Category   string    `json:"category"`
	Username   string    `json:"username"`
}

type roomReq struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
	Letter   string `json:"letter"`
	Message  string `json:"message"`
}

func (h *Handler) dispatch(ctx context.Context, c *Conn, env envelope) {
	if env.Type == "" {
		h.fail(c, CodeBadMessage, "malformed message")
		return
	}

	var err error
	switch env.Type {
	case MsgCreateRoom:
		var req createRoomReq
		if err = decode(env.Data, &req); err == nil {
			_, err = h.rooms.CreateRoom(ctx, req.Mode, c.member(req.Username), game.Policy{
				Public:     req.IsPublic,
				MaxPlayers: req.MaxPlayers,
				Difficulty: strings.ToLower(req.Difficulty),
				Category:   strings.ToLower(req.Category),
			})
		}
	case MsgJoinRoom:
		var req roomReq
		if err = decode(env.Data, &req); err == nil {
			var v game.View
			v, err = h.rooms.JoinRoom(ctx, normalizeCode(req.RoomCode), c.member(req.Username))
			if err == nil {
				h.hub.Send(c.ref, game.Event{Type: game.EventRoomJoined, Data: game.Payload{Room: &v, PlayerID: c.ref}})
			}
		}
	case MsgReady:
		var req roomReq
		if err = decode(env.Data, &req); err == nil {
			err = h.rooms.SetReady(ctx, normalizeCode(req.RoomCode), c.ref)
		}
	case MsgGuessLetter:
		var req roomReq
		if err = decode(env.Data, &req); err == nil {
			_, err = h.rooms.Guess(ctx, normalizeCode(req.RoomCode), c.ref, req.Letter)
		}
	case MsgChat:
		var req roomReq
		if err = decode(env.Data, &req); err == nil {
			err = h.rooms.Chat(ctx, normalizeCode(req.RoomCode), c.ref, req.Message)
		}
	case MsgLeaveRoom:
		var req roomReq
		if err = decode(env.Data, &req); err == nil {
			err = h.rooms.Leave(ctx, normalizeCode(req.RoomCode), c.ref)
		}
	default:
		h.fail(c, CodeUnknownMessage, "unknown message type "+env.Type)
		return
	}
	if err != nil {
		h.reply(c, env.Type, err)
	}
}

var errBadPayload = errors.New("bad payload")

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadPayload
	}
	return nil
}

// reply reports err to the sender only.
func (h *Handler) reply(c *Conn, msgType string, err error) {
	if errors.Is(err, errBadPayload) {
		h.fail(c, CodeBadMessage, msgType+": malformed data")
		return
	}
	if code := game.Code(err); code != "" {
		c.log.Debug().Err(err).Str("msg", msgType).Msg("rejected")
		h.fail(c, code, err.Error())
		return
	}
	c.log.Error().Err(err).Str("msg", msgType).Msg("handle message")
	h.fail(c, CodeInternal, "internal error")
}

func (h *Handler) fail(c *Conn, code, message string) {
	h.hub.Send(c.ref, game.Event{Type: game.EventError, Data: game.ErrorPayload{Code: code, Message: message}})
}

// member names the sender. Authenticated users keep their account name;
// guests may pick one per room.
func (c *Conn) member(requested string) room.Member {
	name := c.name
	if c.userID == "" {
		if n := strings.TrimSpace(requested); n != "" {
			if utf8.RuneCountInString(n) > maxNameRunes {
				n = string([]rune(n)[:maxNameRunes])
			}
			name = n
		}
	}
	return room.Member{Ref: c.ref, UserID: c.userID, Name: name}
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
