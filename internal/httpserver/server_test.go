package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/identity"
	"github.com/robalobadob/gallows/internal/realtime"
	"github.com/robalobadob/gallows/internal/room"
	"github.com/robalobadob/gallows/internal/stats"
	"github.com/robalobadob/gallows/internal/store"
	"github.com/robalobadob/gallows/internal/words"
)

type fixture struct {
	srv      *Server
	reg      *room.Registry
	agg      *stats.Aggregator
	verifier *identity.JWTVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := words.NewCatalog([]words.Entry{{ID: "chat", Text: "CHAT", Category: "animaux", Difficulty: words.Easy, Hint: "Félin"}})
	agg := stats.NewAggregator(store.NewMemoryStore(), zerolog.Nop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = agg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hub := realtime.NewHub(zerolog.Nop())
	reg := room.New(catalog, hub, agg, nil, zerolog.Nop(), room.Options{})
	v := identity.NewJWTVerifier("test-secret")
	ws := realtime.NewHandler(hub, reg, realtime.Options{}, zerolog.Nop())
	srv := New(reg, agg, v, ws, Options{ClientOrigin: "http://localhost:5173"}, zerolog.Nop())
	return &fixture{srv: srv, reg: reg, agg: agg, verifier: v}
}

type call struct {
	method string
	path   string
	body   any
	token  string
	cookie *http.Cookie
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func anonCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == anonCookieName {
			return c
		}
	}
	t.Fatal("no anonymous cookie")
	return nil
}

func TestHealthAndNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"ok":true,"rooms":0}`, rec.Body.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["error"])
}

func TestGuestSoloGame(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/game/start", body: map[string]string{"mode": "solo-normal"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := decode[room.SoloStart](t, rec)
	assert.Len(t, start.RoomCode, 6)
	assert.Equal(t, 4, start.WordLength)
	assert.Equal(t, game.MaxLives, start.Lives)
	assert.Equal(t, "Félin", start.Hint)
	cookie := anonCookie(t, rec)

	// Someone else cannot play this game.
	rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: "C"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not-a-participant", decode[map[string]string](t, rec)["error"])

	rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: "z"}, cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[guessRes](t, rec)
	assert.False(t, res.Correct)
	assert.Equal(t, []string{"Z"}, res.WrongGuesses)
	assert.Equal(t, game.MaxLives-1, res.LivesRemaining)
	assert.Empty(t, res.Word)

	rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: "Z"}, cookie: cookie})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "letter-already-guessed", decode[map[string]string](t, rec)["error"])

	for _, l := range []string{"C", "H", "A", "T"} {
		rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: l}, cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	res = decode[guessRes](t, rec)
	assert.True(t, res.GameOver)
	assert.True(t, res.Won)
	assert.Equal(t, "CHAT", res.Word)
	assert.Equal(t, "CHAT", res.RevealedPattern)

	rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: "B"}, cookie: cookie})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "game-not-playing", decode[map[string]string](t, rec)["error"])
}

func TestSurvivalAdvertisesNextWord(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/game/start", body: map[string]string{"mode": "solo-survival"}})
	require.Equal(t, http.StatusOK, rec.Code)
	start := decode[room.SoloStart](t, rec)
	assert.Equal(t, game.SurvivalPool, start.SurvivalPool)
	cookie := anonCookie(t, rec)

	for _, l := range []string{"C", "H", "A", "T"} {
		rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: start.RoomCode, Letter: l}, cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	res := decode[guessRes](t, rec)
	assert.False(t, res.GameOver)
	assert.Equal(t, "CHAT", res.CompletedWord)
	require.NotNil(t, res.WordsCompleted)
	assert.Equal(t, 1, *res.WordsCompleted)
	require.NotNil(t, res.NewWord)
	assert.Equal(t, 4, res.NewWord.WordLength)
	assert.Equal(t, "____", res.RevealedPattern)
}

func TestStartRejects(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		body any
		code string
	}{
		"room mode":  {map[string]string{"mode": "private-room"}, "solo-mode-required"},
		"bad mode":   {map[string]string{"mode": "arcade"}, "invalid-mode"},
		"difficulty": {map[string]string{"mode": "solo-normal", "difficulty": "insane"}, "invalid-difficulty"},
		"json":       {"nope", "bad_json"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, call{method: http.MethodPost, path: "/game/start", body: tc.body})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestGetGameAndRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.do(t, call{method: http.MethodGet, path: "/game/ZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room-not-found", decode[map[string]string](t, rec)["error"])

	v, err := f.reg.CreateRoom(ctx, game.OpenRoom, room.Member{Ref: "a", Name: "Ann"}, game.Policy{MaxPlayers: 4})
	require.NoError(t, err)

	rec = f.do(t, call{method: http.MethodGet, path: "/game/" + v.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[game.View](t, rec)
	assert.Equal(t, game.Waiting, view.Status)
	assert.Empty(t, view.Word)

	rec = f.do(t, call{method: http.MethodGet, path: "/rooms"})
	require.Equal(t, http.StatusOK, rec.Code)
	rooms := decode[[]game.Summary](t, rec)
	require.Len(t, rooms, 1)
	assert.Equal(t, v.Code, rooms[0].Code)
	assert.Equal(t, 1, rooms[0].PlayerCount)

	rec = f.do(t, call{method: http.MethodGet, path: "/rooms?mode=ranked-duel"})
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/rooms?mode=arcade"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndLeaderboard(t *testing.T) {
	f := newFixture(t)
	tok, err := f.verifier.Sign(identity.Identity{UserID: "u1", Username: "alice"}, time.Hour)
	require.NoError(t, err)

	rec := f.do(t, call{method: http.MethodGet, path: "/stats/me"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, call{method: http.MethodGet, path: "/stats/me", token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// An authenticated solo win flows through the aggregator.
	rec = f.do(t, call{method: http.MethodPost, path: "/game/start", body: map[string]string{"mode": "solo-normal"}, token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	code := decode[room.SoloStart](t, rec).RoomCode
	for _, l := range []string{"C", "H", "A", "T"} {
		rec = f.do(t, call{method: http.MethodPost, path: "/game/guess", body: guessReq{RoomCode: code, Letter: l}, token: tok})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Eventually(t, func() bool {
		rec := f.do(t, call{method: http.MethodGet, path: "/stats/me", token: tok})
		r := decode[stats.Record](t, rec)
		return r.Mode(game.SoloNormal).Wins == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, call{method: http.MethodGet, path: "/stats/u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode[stats.Record](t, rec)
	assert.Equal(t, "alice", r.Username)
	assert.Equal(t, 1, r.Mode(game.SoloNormal).CurrentStreak)

	rec = f.do(t, call{method: http.MethodGet, path: "/leaderboard/solo-normal?limit=5"})
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[struct {
		Mode    game.Mode     `json:"mode"`
		Entries []stats.Entry `json:"entries"`
	}](t, rec)
	assert.Equal(t, game.SoloNormal, board.Mode)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "u1", board.Entries[0].UserID)

	rec = f.do(t, call{method: http.MethodGet, path: "/leaderboard/ranked-duel"})
	assert.JSONEq(t, `{"mode":"ranked-duel","entries":[]}`, rec.Body.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/leaderboard/arcade"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, call{method: http.MethodGet, path: "/leaderboard/solo-normal?limit=lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/game/start", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		game.ErrRoomNotFound:         http.StatusNotFound,
		stats.ErrNotFound:            http.StatusNotFound,
		game.ErrNotAParticipant:      http.StatusForbidden,
		game.ErrWordPoolExhausted:    http.StatusServiceUnavailable,
		game.ErrNotYourTurn:          http.StatusConflict,
		game.ErrRoomFull:             http.StatusConflict,
		game.ErrInvalidLetter:        http.StatusBadRequest,
		assert.AnError:               http.StatusInternalServerError,
		game.ErrLetterAlreadyGuessed: http.StatusConflict,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusOf(err), err.Error())
	}
}
