package room

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/words"
)

type harness struct {
	reg   *Registry
	clock *fakeClock
	pub   *fakePublisher
	rec   *fakeRecorder
}

func newHarness(oracle words.Oracle) *harness {
	h := &harness{clock: newFakeClock(), pub: newFakePublisher(), rec: &fakeRecorder{}}
	h.reg = New(oracle, h.pub, h.rec, h.clock, zerolog.Nop(), Options{
		FinishedTTL: time.Minute,
		IdleTTL:     10 * time.Minute,
	})
	return h
}

func chatCatalog() *words.Catalog {
	return words.NewCatalog([]words.Entry{{ID: "chat", Text: "CHAT", Category: "animaux", Difficulty: words.Easy, Hint: "Félin"}})
}

func member(ref string) Member { return Member{Ref: ref, UserID: "user-" + ref, Name: ref} }

func (h *harness) startedRoom(t *testing.T, mode game.Mode, refs ...string) string {
	t.Helper()
	ctx := context.Background()
	v, err := h.reg.CreateRoom(ctx, mode, member(refs[0]), game.Policy{MaxPlayers: 4})
	require.NoError(t, err)
	for _, ref := range refs[1:] {
		_, err := h.reg.JoinRoom(ctx, v.Code, member(ref))
		require.NoError(t, err)
	}
	for _, ref := range refs {
		require.NoError(t, h.reg.SetReady(ctx, v.Code, ref))
	}
	view, err := h.reg.View(v.Code)
	require.NoError(t, err)
	require.Equal(t, game.Playing, view.Status)
	return v.Code
}

func TestRoomLifecycleEvents(t *testing.T) {
	h := newHarness(chatCatalog())
	code := h.startedRoom(t, game.PrivateRoom, "a", "b")

	assert.Equal(t, []string{
		game.EventRoomCreated, game.EventPlayerJoined,
		game.EventPlayerReady, game.EventPlayerReady, game.EventGameStarted,
	}, h.pub.types(code))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, h.pub.attached[code])
	assert.Len(t, code, 6)
}

func TestJoinErrors(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()

	_, err := h.reg.JoinRoom(ctx, "NOPE22", member("x"))
	assert.ErrorIs(t, err, game.ErrRoomNotFound)

	v, err := h.reg.CreateRoom(ctx, game.OpenRoom, member("a"), game.Policy{MaxPlayers: 4})
	require.NoError(t, err)
	for _, ref := range []string{"b", "c", "d"} {
		_, err := h.reg.JoinRoom(ctx, v.Code, member(ref))
		require.NoError(t, err)
	}
	_, err = h.reg.JoinRoom(ctx, v.Code, member("e"))
	assert.ErrorIs(t, err, game.ErrRoomFull)

	code := h.startedRoom(t, game.OpenRoom, "z")
	_, err = h.reg.JoinRoom(ctx, code, member("late"))
	assert.ErrorIs(t, err, game.ErrGameAlreadyStarted)
}

func TestCodeCollisionRetries(t *testing.T) {
	h := newHarness(chatCatalog())
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var i int
	h.reg.newCode = func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}

	v1, err := h.reg.CreateRoom(context.Background(), game.OpenRoom, member("a"), game.Policy{})
	require.NoError(t, err)
	v2, err := h.reg.CreateRoom(context.Background(), game.OpenRoom, member("b"), game.Policy{})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", v1.Code)
	assert.Equal(t, "BBBBBB", v2.Code)
}

func TestDuelFinishSubmitsAndReaps(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	code := h.startedRoom(t, game.RankedDuel, "a", "b")

	for i, l := range []string{"C", "H", "A", "T"} {
		ref := []string{"a", "b"}[i%2]
		_, err := h.reg.Guess(ctx, code, ref, l)
		require.NoError(t, err)
	}

	results := h.rec.all()
	require.Len(t, results, 1)
	assert.Equal(t, game.RankedDuel, results[0].Mode)
	assert.Equal(t, "b", results[0].Winner.Ref)
	assert.Contains(t, h.pub.types(code), game.EventGameOver)

	v, err := h.reg.View(code)
	require.NoError(t, err)
	assert.Equal(t, game.Finished, v.Status)
	assert.Equal(t, "CHAT", v.Word)

	h.clock.Advance(time.Minute)
	_, err = h.reg.View(code)
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
	assert.Contains(t, h.pub.closed, code)
	assert.Zero(t, h.reg.Len())
}

func TestChronoTimerExpires(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()

	start, err := h.reg.StartSolo(ctx, game.SoloChrono, member("p"), words.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 30, start.TimeLimit)
	assert.Equal(t, 4, start.WordLength)

	_, err = h.reg.Guess(ctx, start.RoomCode, "p", "C")
	require.NoError(t, err)

	h.clock.Advance(29 * time.Second)
	v, err := h.reg.View(start.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, game.Playing, v.Status)

	h.clock.Advance(time.Second)
	v, err = h.reg.View(start.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, game.Finished, v.Status)
	assert.Equal(t, game.ReasonTimeout, v.Reason)

	_, err = h.reg.Guess(ctx, start.RoomCode, "p", "H")
	assert.ErrorIs(t, err, game.ErrGameNotPlaying)
	require.Len(t, h.rec.all(), 1)
	assert.Nil(t, h.rec.all()[0].Winner)
}

func TestChronoTimerCancelledOnWin(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()

	start, err := h.reg.StartSolo(ctx, game.SoloChrono, member("p"), words.Filter{})
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	var res GuessResult
	for _, l := range []string{"C", "H", "A", "T"} {
		res, err = h.reg.Guess(ctx, start.RoomCode, "p", l)
		require.NoError(t, err)
	}
	assert.True(t, res.Won)

	h.clock.Advance(30 * time.Second)
	results := h.rec.all()
	require.Len(t, results, 1)
	assert.Equal(t, game.ReasonSolved, results[0].Reason)
	assert.Equal(t, 5*time.Second, results[0].Duration())
	assert.Equal(t, 1, h.clock.pending())

	h.clock.Advance(time.Minute)
	assert.Zero(t, h.clock.pending())
	assert.Zero(t, h.reg.Len())
}

func TestSurvivalDrawsNextWord(t *testing.T) {
	oracle := &scriptedOracle{words: []words.Word{
		{SourceID: "w1", Text: "CHAT"},
		{SourceID: "w2", Text: "LION"},
	}}
	h := newHarness(oracle)
	ctx := context.Background()

	start, err := h.reg.StartSolo(ctx, game.SoloSurvival, member("p"), words.Filter{})
	require.NoError(t, err)
	assert.Equal(t, game.SurvivalPool, start.SurvivalPool)

	var res GuessResult
	for _, l := range []string{"C", "H", "A", "T"} {
		res, err = h.reg.Guess(ctx, start.RoomCode, "p", l)
		require.NoError(t, err)
	}
	assert.True(t, res.WordCompleted)
	assert.Equal(t, "CHAT", res.CompletedWord)
	assert.Equal(t, 1, *res.View.WordsCompleted)
	assert.Equal(t, "____", res.View.RevealedPattern)
	assert.Equal(t, []string{"w1", "w2"}, oracle.used)

	for _, l := range []string{"L", "I", "O"} {
		_, err = h.reg.Guess(ctx, start.RoomCode, "p", l)
		require.NoError(t, err)
	}
	_, err = h.reg.Guess(ctx, start.RoomCode, "p", "N")
	assert.ErrorIs(t, err, game.ErrWordPoolExhausted)

	v, err := h.reg.View(start.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, game.Playing, v.Status)
	assert.Equal(t, "LIO_", v.RevealedPattern)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	v, err := h.reg.CreateRoom(ctx, game.PrivateRoom, member("a"), game.Policy{})
	require.NoError(t, err)
	_, err = h.reg.JoinRoom(ctx, v.Code, member("b"))
	require.NoError(t, err)

	require.NoError(t, h.reg.Leave(ctx, v.Code, "b"))
	require.NoError(t, h.reg.Leave(ctx, v.Code, "b"))
	view, err := h.reg.View(v.Code)
	require.NoError(t, err)
	assert.Len(t, view.Players, 1)
	assert.Equal(t, 1, slices.Index(h.pub.types(v.Code), game.EventPlayerJoined))
	assert.Equal(t, 1, countOf(h.pub.types(v.Code), game.EventPlayerLeft))

	require.NoError(t, h.reg.Leave(ctx, v.Code, "a"))
	require.NoError(t, h.reg.Leave(ctx, v.Code, "a"))
	_, err = h.reg.View(v.Code)
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
	assert.Contains(t, h.pub.types(v.Code), game.EventRoomClosed)
	assert.Equal(t, []string{v.Code}, h.pub.closed)
}

func TestLeaveCompletesReadiness(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	v, err := h.reg.CreateRoom(ctx, game.PrivateRoom, member("a"), game.Policy{})
	require.NoError(t, err)
	_, err = h.reg.JoinRoom(ctx, v.Code, member("b"))
	require.NoError(t, err)
	require.NoError(t, h.reg.SetReady(ctx, v.Code, "a"))

	require.NoError(t, h.reg.Leave(ctx, v.Code, "b"))

	view, err := h.reg.View(v.Code)
	require.NoError(t, err)
	assert.Equal(t, game.Playing, view.Status)
}

func TestDuelForfeitOnLeave(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	code := h.startedRoom(t, game.RankedDuel, "a", "b")

	h.reg.Disconnect(ctx, "a")

	results := h.rec.all()
	require.Len(t, results, 1)
	assert.Equal(t, game.ReasonForfeit, results[0].Reason)
	assert.Equal(t, "b", results[0].Winner.Ref)
	assert.Len(t, results[0].Participants, 2)

	require.NoError(t, h.reg.Leave(ctx, code, "b"))
	assert.Len(t, h.rec.all(), 1)
	assert.Zero(t, h.reg.Len())
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	for range 3 {
		_, err := h.reg.CreateRoom(ctx, game.OpenRoom, member("a"), game.Policy{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.reg.Len())

	h.reg.Disconnect(ctx, "a")
	h.reg.Disconnect(ctx, "a")
	assert.Zero(t, h.reg.Len())
}

func TestPublicRooms(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()

	open, err := h.reg.CreateRoom(ctx, game.OpenRoom, member("a"), game.Policy{})
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	duel, err := h.reg.CreateRoom(ctx, game.RankedDuel, member("b"), game.Policy{Public: true})
	require.NoError(t, err)
	_, err = h.reg.CreateRoom(ctx, game.PrivateRoom, member("c"), game.Policy{Public: true})
	require.NoError(t, err)
	h.startedRoom(t, game.OpenRoom, "d")

	var all []string
	for s := range h.reg.PublicRooms("") {
		all = append(all, s.Code)
	}
	assert.Equal(t, []string{duel.Code, open.Code}, all)

	var opens []game.Summary
	for s := range h.reg.PublicRooms(game.OpenRoom) {
		opens = append(opens, s)
	}
	require.Len(t, opens, 1)
	assert.Equal(t, 1, opens[0].PlayerCount)
}

func TestSweepIdleRooms(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	_, err := h.reg.CreateRoom(ctx, game.OpenRoom, member("a"), game.Policy{})
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)
	_, err = h.reg.StartSolo(ctx, game.SoloNormal, member("b"), words.Filter{})
	require.NoError(t, err)

	assert.Zero(t, h.reg.Sweep(h.clock.Now()))
	h.clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, h.reg.Sweep(h.clock.Now()))
	assert.Equal(t, 1, h.reg.Len())
}

func TestStartSoloRejectsRoomModes(t *testing.T) {
	h := newHarness(chatCatalog())
	_, err := h.reg.StartSolo(context.Background(), game.OpenRoom, member("a"), words.Filter{})
	assert.ErrorIs(t, err, game.ErrSoloModeRequired)
	_, err = h.reg.StartSolo(context.Background(), "arcade", member("a"), words.Filter{})
	assert.ErrorIs(t, err, game.ErrInvalidMode)
}

func TestStartSoloFallsBackToAnyWord(t *testing.T) {
	h := newHarness(chatCatalog())
	start, err := h.reg.StartSolo(context.Background(), game.SoloNormal, member("a"), words.Filter{Category: "villes"})
	require.NoError(t, err)
	assert.Equal(t, "animaux", start.Category)
}

func TestConcurrentDuplicateGuesses(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	code := h.startedRoom(t, game.RankedDuel, "a", "b")

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reg.Guess(ctx, code, "a", "C")
			if err == nil {
				ok.Add(1)
				return
			}
			if assert.True(t, game.Code(err) == "not-your-turn" || game.Code(err) == "letter-already-guessed", err.Error()) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 15, rejected.Load())
	v, err := h.reg.View(code)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, v.GuessedLetters)
	assert.Equal(t, "b", v.CurrentPlayer)
}

func countOf(xs []string, x string) int {
	n := 0
	for _, v := range xs {
		if v == x {
			n++
		}
	}
	return n
}

func TestChatReachesRoom(t *testing.T) {
	h := newHarness(chatCatalog())
	ctx := context.Background()
	v, err := h.reg.CreateRoom(ctx, game.PrivateRoom, member("a"), game.Policy{})
	require.NoError(t, err)

	require.NoError(t, h.reg.Chat(ctx, v.Code, "a", "bonjour"))
	assert.ErrorIs(t, h.reg.Chat(ctx, v.Code, "b", "bonjour"), game.ErrNotAParticipant)
	assert.ErrorIs(t, h.reg.Chat(ctx, "NOPE22", "a", "bonjour"), game.ErrRoomNotFound)
	assert.Equal(t, []string{game.EventRoomCreated, game.EventChatMessage}, h.pub.types(v.Code))
}
