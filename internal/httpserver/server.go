// internal/httpserver/server.go
//
// HTTP server wiring for the gallows backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs,
//     access logging).
//   - Public endpoints: "/", "/health".
//   - Solo game endpoints (optional auth): POST /game/start, POST /game/guess.
//   - Read-only queries: GET /game/{code}, GET /rooms, GET /leaderboard/{mode},
//     GET /stats/{userID}; GET /stats/me requires auth.
//   - The WebSocket upgrade at /ws, outside the handler timeout.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with the identity when a valid token
//     is present; guests are identified by an anonymous cookie instead.
//   - Game errors map to HTTP statuses in writeError.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/identity"
	"github.com/robalobadob/gallows/internal/realtime"
	"github.com/robalobadob/gallows/internal/room"
	"github.com/robalobadob/gallows/internal/stats"
	"github.com/robalobadob/gallows/internal/words"
)

// Rooms is what the synchronous path needs from the room registry.
type Rooms interface {
	StartSolo(ctx context.Context, mode game.Mode, m room.Member, f words.Filter) (room.SoloStart, error)
	Guess(ctx context.Context, code, ref, letter string) (room.GuessResult, error)
	View(code string) (game.View, error)
	PublicRooms(mode game.Mode) iter.Seq[game.Summary]
	Len() int
}

// Stats answers the profile and leaderboard queries.
type Stats interface {
	Snapshot(ctx context.Context, userID string) (*stats.Record, error)
	Leaderboard(ctx context.Context, mode game.Mode, limit int) ([]stats.Entry, error)
}

// Options configure cookies and CORS.
type Options struct {
	ClientOrigin  string
	CookieName    string
	SecureCookies bool
}

// Server bundles the router and the services behind it.
type Server struct {
	r        *chi.Mux
	rooms    Rooms
	stats    Stats
	verifier identity.Verifier
	ws       *realtime.Handler
	opts     Options
	log      zerolog.Logger
}

// New constructs a Server, installs middleware, and registers routes.
func New(rooms Rooms, st Stats, v identity.Verifier, ws *realtime.Handler, opts Options, log zerolog.Logger) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "gallows_token"
	}
	s := &Server{r: chi.NewRouter(), rooms: rooms, stats: st, verifier: v, ws: ws, opts: opts, log: log}

	// --- middleware ---
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(hlog.NewHandler(log))
	s.r.Use(chimw.Recoverer)
	s.r.Use(s.corsHandler())
	s.r.Use(s.withOptionalAuth())

	// Push path: long-lived, no timeout, no JSON content type.
	s.r.Get("/ws", s.handleWS)

	s.r.Group(func(r chi.Router) {
		r.Use(accessLog)
		r.Use(chimw.Timeout(10 * time.Second))
		r.Use(jsonContentType)

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"service":"gallows","endpoints":["/health","POST /game/start","POST /game/guess","GET /rooms","GET /leaderboard/{mode}","/ws"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rooms": s.rooms.Len()})
		})

		// Solo games. OPTIONAL AUTH (guests can play)
		r.Post("/game/start", s.handleStart)
		r.Post("/game/guess", s.handleGuess)
		r.Get("/game/{code}", s.handleGetGame)

		// Lobby + rankings
		r.Get("/rooms", s.handleRooms)
		r.Get("/leaderboard/{mode}", s.handleLeaderboard)
		r.With(s.requireAuth()).Get("/stats/me", s.handleMyStats)
		r.Get("/stats/{userID}", s.handleUserStats)
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Handler is the root http.Handler.
func (s *Server) Handler() http.Handler { return s.r }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsHandler enables credentialed CORS for the configured client origin.
func (s *Server) corsHandler() func(http.Handler) http.Handler {
	origin := s.opts.ClientOrigin
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler
}

// accessLog writes one line per request with status and duration.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// withOptionalAuth decorates requests with the identity if a valid JWT is
// present. It never 401s.
func (s *Server) withOptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := identity.TokenFrom(r, s.opts.CookieName); tok != "" && s.verifier != nil {
				if who, err := s.verifier.Verify(tok); err == nil {
					r = r.WithContext(identity.With(r.Context(), who))
				} else {
					hlog.FromRequest(r).Debug().Err(err).Msg("ignoring invalid token")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth rejects requests that withOptionalAuth did not authenticate.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := identity.From(r.Context()); !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const anonCookieName = "gallows_anon"

// ensureAnonID returns an existing anon cookie or sets a new one.
func (s *Server) ensureAnonID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	sameSite := http.SameSiteLaxMode
	if s.opts.SecureCookies {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: sameSite,
		Expires:  time.Now().Add(180 * 24 * time.Hour),
	})
	return id
}

// member identifies the HTTP caller: the account when authenticated, else the
// anonymous cookie.
func (s *Server) member(w http.ResponseWriter, r *http.Request) room.Member {
	if who, ok := identity.From(r.Context()); ok {
		return room.Member{Ref: who.UserID, UserID: who.UserID, Name: who.Username}
	}
	anon := s.ensureAnonID(w, r)
	return room.Member{Ref: anon, Name: "Guest-" + anon[:min(4, len(anon))]}
}

// ------------------------------- /ws ---------------------------------------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "realtime_disabled"})
		return
	}
	var peer realtime.Peer
	if who, ok := identity.From(r.Context()); ok {
		peer = realtime.Peer{UserID: who.UserID, Username: who.Username}
	}
	s.ws.Serve(w, r, peer)
}

// ------------------------------ GAME ---------------------------------------

// startReq is the body of POST /game/start.
type startReq struct {
	Mode       game.Mode `json:"mode"`
	Difficulty string    `json:"difficulty"`
	Category   string    `json:"category"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_json"})
		return
	}
	if req.Mode == "" {
		req.Mode = game.SoloNormal
	}
	diff := strings.ToLower(strings.TrimSpace(req.Difficulty))
	if !words.ValidDifficulty(diff) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-difficulty"})
		return
	}
	out, err := s.rooms.StartSolo(r.Context(), req.Mode, s.member(w, r), words.Filter{
		Difficulty: diff,
		Category:   strings.ToLower(strings.TrimSpace(req.Category)),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// guessReq/Res payloads for POST /game/guess.
type guessReq struct {
	RoomCode string `json:"roomCode"`
	Letter   string `json:"letter"`
}

type nextWord struct {
	WordLength int    `json:"wordLength"`
	Category   string `json:"category,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

type guessRes struct {
	Correct         bool      `json:"correct"`
	RevealedPattern string    `json:"revealedPattern"`
	GuessedLetters  []string  `json:"guessedLetters"`
	WrongGuesses    []string  `json:"wrongGuesses"`
	LivesRemaining  int       `json:"livesRemaining"`
	GameOver        bool      `json:"gameOver"`
	Won             bool      `json:"won"`
	Reason          string    `json:"reason,omitempty"`
	Word            string    `json:"word,omitempty"`
	CompletedWord   string    `json:"completedWord,omitempty"`
	SurvivalPool    *int      `json:"survivalPool,omitempty"`
	WordsCompleted  *int      `json:"wordsCompleted,omitempty"`
	NewWord         *nextWord `json:"newWord,omitempty"`
}

func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var req guessReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_json"})
		return
	}
	m := s.member(w, r)
	res, err := s.rooms.Guess(r.Context(), strings.ToUpper(strings.TrimSpace(req.RoomCode)), m.Ref, req.Letter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := res.View
	out := guessRes{
		Correct:         res.Correct,
		RevealedPattern: v.RevealedPattern,
		GuessedLetters:  v.GuessedLetters,
		WrongGuesses:    v.WrongGuesses,
		LivesRemaining:  v.Lives,
		GameOver:        res.GameOver,
		Won:             res.Won,
		Reason:          res.Reason,
		Word:            v.Word,
		CompletedWord:   res.CompletedWord,
		SurvivalPool:    v.SurvivalPool,
		WordsCompleted:  v.WordsCompleted,
	}
	if res.WordCompleted && !res.GameOver {
		out.NewWord = &nextWord{WordLength: v.WordLength, Category: v.Category, Hint: v.Hint}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	v, err := s.rooms.View(strings.ToUpper(chi.URLParam(r, "code")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ------------------------------ LOBBY --------------------------------------

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	var mode game.Mode
	if q := r.URL.Query().Get("mode"); q != "" {
		m, err := game.ParseMode(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		mode = m
	}
	out := []game.Summary{}
	for sum := range s.rooms.PublicRooms(mode) {
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	mode, err := game.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-limit"})
			return
		}
		limit = n
	}
	entries, err := s.stats.Leaderboard(r.Context(), mode, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []stats.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode, "entries": entries})
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	who, _ := identity.From(r.Context())
	s.writeStats(w, r, who.UserID)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	s.writeStats(w, r, chi.URLParam(r, "userID"))
}

func (s *Server) writeStats(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := s.stats.Snapshot(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ------------------------------- small util --------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, game.ErrRoomNotFound), errors.Is(err, stats.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, game.ErrWordPoolExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, game.ErrRoomFull), errors.Is(err, game.ErrGameAlreadyStarted),
		errors.Is(err, game.ErrGameNotPlaying), errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrLetterAlreadyGuessed), errors.Is(err, game.ErrPlayersNotReady):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidLetter), errors.Is(err, game.ErrInvalidMode),
		errors.Is(err, game.ErrSoloModeRequired), errors.Is(err, game.ErrInvalidMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError reports err as {"error": code}. Unknown errors are logged and
// hidden behind a generic code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	code := game.Code(err)
	if errors.Is(err, stats.ErrNotFound) {
		code = stats.ErrNotFound.Error()
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		code = "internal_error"
	}
	writeJSON(w, status, map[string]string{"error": code})
}
