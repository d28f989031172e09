// internal/room/registry.go
//
// Session registry: the only way in to a game session.
// Responsibilities:
//   - Allocate unique room codes and own the code → room map.
//   - Serialize every action on a room under that room's mutex.
//   - Draw words from the oracle before taking a room lock; record usage,
//     submit finished games and fan out events after releasing it.
//   - Own the chrono timer and the retention/idle disposal of rooms.
//
// Lock order: room.mu may be held while taking Registry.mu, never the
// reverse. Publisher calls are made with neither lock held.

package room

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/words"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeAttempts = 16
)

// Publisher fans room events out to the transport.
type Publisher interface {
	Attach(code, ref string)
	Detach(code, ref string)
	Publish(code string, ev game.Event)
	Close(code string)
}

// Recorder receives finished games.
type Recorder interface {
	Submit(r game.Result)
}

// Member is who is acting.
type Member struct {
	Ref    string
	UserID string
	Name   string
}

func (m Member) player() game.Player {
	return game.Player{Ref: m.Ref, UserID: m.UserID, Name: m.Name}
}

// Options tune room lifetimes.
type Options struct {
	ChronoLimit       time.Duration
	FinishedTTL       time.Duration
	IdleTTL           time.Duration
	SweepInterval     time.Duration
	DefaultDifficulty string
}

func (o *Options) defaults() {
	if o.ChronoLimit <= 0 {
		o.ChronoLimit = game.DefaultTimeLimit
	}
	if o.FinishedTTL <= 0 {
		o.FinishedTTL = 5 * time.Minute
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
}

// Registry owns every live room.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[string]map[string]struct{} // ref → room codes

	oracle  words.Oracle
	pub     Publisher
	rec     Recorder
	clock   Clock
	log     zerolog.Logger
	opts    Options
	newCode func() (string, error)
}

// New builds a registry. clock may be nil for the wall clock.
func New(oracle words.Oracle, pub Publisher, rec Recorder, clock Clock, log zerolog.Logger, opts Options) *Registry {
	opts.defaults()
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		rooms:   map[string]*Room{},
		members: map[string]map[string]struct{}{},
		oracle:  oracle,
		pub:     pub,
		rec:     rec,
		clock:   clock,
		log:     log.With().Str("component", "rooms").Logger(),
		opts:    opts,
		newCode: func() (string, error) { return gonanoid.Generate(codeAlphabet, codeLength) },
	}
}

// Resolve returns the live room with code.
func (r *Registry) Resolve(code string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[code]; ok {
		return rm, nil
	}
	return nil, fmt.Errorf("%w: %s", game.ErrRoomNotFound, code)
}

// View returns the public state of a room.
func (r *Registry) View(code string) (game.View, error) {
	rm, err := r.Resolve(code)
	if err != nil {
		return game.View{}, err
	}
	return rm.View()
}

// Len is the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CreateRoom opens a waiting room with the creator seated.
func (r *Registry) CreateRoom(ctx context.Context, mode game.Mode, creator Member, policy game.Policy) (game.View, error) {
	if policy.Difficulty == "" {
		policy.Difficulty = r.opts.DefaultDifficulty
	}
	policy.TimeLimit = r.opts.ChronoLimit
	now := r.clock.Now()

	rm, err := r.insert(func(code string) (*game.Session, error) {
		return game.New(code, mode, creator.player(), policy, now)
	}, creator.Ref)
	if err != nil {
		return game.View{}, err
	}

	rm.mu.Lock()
	rm.touch(now)
	rm.emit(op{attach: creator.Ref}, op{event: rm.s.RoomEvent(game.EventRoomCreated)})
	v := rm.s.View()
	rm.mu.Unlock()
	r.flush(rm)

	r.log.Info().Str("room", v.Code).Str("mode", string(mode)).Str("player", creator.Ref).Msg("room created")
	return v, nil
}

// insert allocates a fresh code and registers the session built by mk.
func (r *Registry) insert(mk func(code string) (*game.Session, error), ref string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for range codeAttempts {
		code, err := r.newCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}
		s, err := mk(code)
		if err != nil {
			return nil, err
		}
		rm := &Room{code: code, s: s, lastActivity: s.CreatedAt}
		r.rooms[code] = rm
		r.addMemberLocked(ref, code)
		return rm, nil
	}
	return nil, errors.New("room code space exhausted")
}

// JoinRoom seats m in a waiting room.
func (r *Registry) JoinRoom(ctx context.Context, code string, m Member) (game.View, error) {
	rm, err := r.Resolve(code)
	if err != nil {
		return game.View{}, err
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return game.View{}, fmt.Errorf("%w: %s", game.ErrRoomNotFound, code)
	}
	joined, err := rm.s.Join(m.player())
	if err != nil {
		rm.mu.Unlock()
		return game.View{}, err
	}
	if joined {
		rm.touch(r.clock.Now())
		r.addMember(m.Ref, code)
		rm.emit(op{attach: m.Ref}, op{event: rm.s.RoomEvent(game.EventPlayerJoined)})
	}
	v := rm.s.View()
	rm.mu.Unlock()
	r.flush(rm)

	if joined {
		r.log.Info().Str("room", code).Str("player", m.Ref).Int("players", len(v.Players)).Msg("player joined")
	}
	return v, nil
}

// SetReady marks ref ready and starts the game once everyone is.
func (r *Registry) SetReady(ctx context.Context, code, ref string) error {
	rm, err := r.Resolve(code)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrRoomNotFound, code)
	}
	ev, err := rm.s.SetReady(ref)
	if err != nil {
		rm.mu.Unlock()
		return err
	}
	rm.touch(r.clock.Now())
	rm.emit(op{event: ev})
	ready := rm.s.ReadyToStart()
	filter := rm.s.Policy.Filter()
	rm.mu.Unlock()
	r.flush(rm)

	if !ready {
		return nil
	}
	return r.start(ctx, rm, filter)
}

// start draws a word and runs the start transition if the room is still
// ready once the lock is re-taken.
func (r *Registry) start(ctx context.Context, rm *Room, filter words.Filter) error {
	w, err := r.draw(ctx, filter)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	if rm.closed || !rm.s.ReadyToStart() {
		rm.mu.Unlock()
		return nil
	}
	ev, err := rm.s.Start(w, r.clock.Now())
	if err != nil {
		rm.mu.Unlock()
		return err
	}
	rm.emit(op{event: ev})
	r.armChrono(rm)
	mode, players := rm.s.Mode, len(rm.s.Players)
	rm.mu.Unlock()
	r.flush(rm)

	r.recordUsage(ctx, w.SourceID)
	r.log.Info().Str("room", rm.code).Str("mode", string(mode)).Int("players", players).Msg("game started")
	return nil
}

// draw asks the oracle for a word, widening to any word when the filtered
// pool is empty.
func (r *Registry) draw(ctx context.Context, f words.Filter) (words.Word, error) {
	w, err := r.oracle.Draw(ctx, f)
	if errors.Is(err, words.ErrPoolExhausted) && f != (words.Filter{}) {
		r.log.Warn().Str("difficulty", f.Difficulty).Str("category", f.Category).Msg("no word for filter, drawing from full catalog")
		w, err = r.oracle.Draw(ctx, words.Filter{})
	}
	return w, err
}

// GuessResult is the outcome of an accepted guess plus the room state after it.
type GuessResult struct {
	game.Outcome
	View game.View
}

// Guess applies a letter guess.
func (r *Registry) Guess(ctx context.Context, code, ref, letter string) (GuessResult, error) {
	rm, err := r.Resolve(code)
	if err != nil {
		return GuessResult{}, err
	}

	var next *words.Word
	rm.mu.Lock()
	needNext := !rm.closed && rm.s.Mode == game.SoloSurvival && rm.s.WouldComplete(letter)
	filter := rm.s.Policy.Filter()
	rm.mu.Unlock()
	if needNext {
		w, err := r.draw(ctx, filter)
		switch {
		case err == nil:
			next = &w
		case !errors.Is(err, words.ErrPoolExhausted):
			return GuessResult{}, err
		}
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return GuessResult{}, fmt.Errorf("%w: %s", game.ErrRoomNotFound, code)
	}
	out, events, err := rm.s.Guess(ref, letter, next, r.clock.Now())
	if err != nil {
		rm.mu.Unlock()
		return GuessResult{}, err
	}
	rm.touch(r.clock.Now())
	for _, ev := range events {
		rm.emit(op{event: ev})
	}
	var result *game.Result
	if out.GameOver {
		result = r.finishLocked(rm)
	}
	res := GuessResult{Outcome: out, View: rm.s.View()}
	rm.mu.Unlock()
	r.flush(rm)

	if out.WordCompleted && next != nil {
		r.recordUsage(ctx, next.SourceID)
	}
	r.submit(result)
	return res, nil
}

// Chat relays a message to every member of the room.
func (r *Registry) Chat(ctx context.Context, code, ref, message string) error {
	rm, err := r.Resolve(code)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrRoomNotFound, code)
	}
	ev, err := rm.s.Chat(ref, message, r.clock.Now())
	if err != nil {
		rm.mu.Unlock()
		return err
	}
	rm.touch(r.clock.Now())
	rm.emit(op{event: ev})
	rm.mu.Unlock()
	r.flush(rm)
	return nil
}

// Leave removes ref from the room. Leaving a room twice, or a room that no
// longer exists, is a no-op.
func (r *Registry) Leave(ctx context.Context, code, ref string) error {
	rm, err := r.Resolve(code)
	if err != nil {
		r.removeMember(ref, code)
		return nil
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil
	}
	removed, events := rm.s.Remove(ref, r.clock.Now())
	if !removed {
		rm.mu.Unlock()
		return nil
	}
	r.removeMember(ref, code)
	rm.touch(r.clock.Now())
	rm.emit(op{detach: ref})

	var result *game.Result
	empty := len(rm.s.Players) == 0
	if empty {
		r.closeLocked(rm)
	} else {
		for _, ev := range events {
			rm.emit(op{event: ev})
		}
		if rm.s.Status == game.Finished && rm.reaper == nil {
			result = r.finishLocked(rm)
		}
	}
	ready := rm.s.ReadyToStart()
	filter := rm.s.Policy.Filter()
	rm.mu.Unlock()
	r.flush(rm)

	r.log.Info().Str("room", code).Str("player", ref).Bool("closed", empty).Msg("player left")
	if empty {
		r.dispose(rm)
		return nil
	}
	r.submit(result)
	if ready {
		return r.start(ctx, rm, filter)
	}
	return nil
}

// Disconnect leaves every room ref belongs to.
func (r *Registry) Disconnect(ctx context.Context, ref string) {
	for _, code := range r.roomsOf(ref) {
		if err := r.Leave(ctx, code, ref); err != nil {
			r.log.Warn().Err(err).Str("room", code).Str("player", ref).Msg("leave on disconnect")
		}
	}
}

// SoloStart is what the synchronous path returns when a solo game begins.
type SoloStart struct {
	RoomCode     string    `json:"roomCode"`
	Mode         game.Mode `json:"mode"`
	WordLength   int       `json:"wordLength"`
	Category     string    `json:"category"`
	Hint         string    `json:"hint"`
	Lives        int       `json:"lives"`
	TimeLimit    int       `json:"timeLimit,omitempty"`
	SurvivalPool int       `json:"survivalPool,omitempty"`
}

// StartSolo creates and immediately starts a one-player game. Nothing is
// attached to the publisher; the caller polls with Guess and View.
func (r *Registry) StartSolo(ctx context.Context, mode game.Mode, m Member, f words.Filter) (SoloStart, error) {
	if _, err := game.ParseMode(string(mode)); err != nil {
		return SoloStart{}, err
	}
	if !mode.Solo() {
		return SoloStart{}, game.ErrSoloModeRequired
	}
	if f.Difficulty == "" {
		f.Difficulty = r.opts.DefaultDifficulty
	}
	w, err := r.draw(ctx, f)
	if err != nil {
		return SoloStart{}, err
	}
	now := r.clock.Now()
	policy := game.Policy{Difficulty: f.Difficulty, Category: f.Category, TimeLimit: r.opts.ChronoLimit}

	rm, err := r.insert(func(code string) (*game.Session, error) {
		s, err := game.New(code, mode, m.player(), policy, now)
		if err != nil {
			return nil, err
		}
		if _, err := s.SetReady(m.Ref); err != nil {
			return nil, err
		}
		if _, err := s.Start(w, now); err != nil {
			return nil, err
		}
		return s, nil
	}, m.Ref)
	if err != nil {
		return SoloStart{}, err
	}

	rm.mu.Lock()
	rm.touch(now)
	r.armChrono(rm)
	v := rm.s.View()
	rm.mu.Unlock()

	r.recordUsage(ctx, w.SourceID)
	r.log.Info().Str("room", v.Code).Str("mode", string(mode)).Str("player", m.Ref).Msg("solo game started")

	out := SoloStart{
		RoomCode:   v.Code,
		Mode:       mode,
		WordLength: v.WordLength,
		Category:   v.Category,
		Hint:       v.Hint,
		Lives:      v.Lives,
		TimeLimit:  v.TimeLimit,
	}
	if v.SurvivalPool != nil {
		out.SurvivalPool = *v.SurvivalPool
	}
	return out, nil
}

// PublicRooms lists joinable public rooms, newest first. An empty mode
// matches every mode. The sequence is computed when iterated.
func (r *Registry) PublicRooms(mode game.Mode) iter.Seq[game.Summary] {
	return func(yield func(game.Summary) bool) {
		var out []game.Summary
		for _, rm := range r.snapshot() {
			rm.mu.Lock()
			s := rm.s
			if !rm.closed && s.Status == game.Waiting && s.Policy.Public && (mode == "" || s.Mode == mode) &&
				len(s.Players) < s.Policy.MaxPlayers {
				out = append(out, s.Summary())
			}
			rm.mu.Unlock()
		}
		slices.SortFunc(out, func(a, b game.Summary) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.Code, b.Code)
		})
		for _, s := range out {
			if !yield(s) {
				return
			}
		}
	}
}

// Sweep closes rooms idle for longer than the idle TTL and returns how many.
func (r *Registry) Sweep(now time.Time) int {
	n := 0
	for _, rm := range r.snapshot() {
		rm.mu.Lock()
		if rm.closed || now.Sub(rm.lastActivity) < r.opts.IdleTTL {
			rm.mu.Unlock()
			continue
		}
		r.closeLocked(rm)
		rm.mu.Unlock()
		r.flush(rm)
		r.dispose(rm)
		n++
	}
	if n > 0 {
		r.log.Info().Int("rooms", n).Msg("swept idle rooms")
	}
	return n
}

// Run sweeps idle rooms until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	t := time.NewTicker(r.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Sweep(r.clock.Now())
		}
	}
}

// ----------------------------- internals -----------------------------------

// armChrono starts the server-side deadline of a chrono session.
func (r *Registry) armChrono(rm *Room) {
	st, ok := rm.s.Variant.(*game.ChronoState)
	if !ok || rm.s.Status != game.Playing {
		return
	}
	rm.timer = r.clock.AfterFunc(st.TimeLimit, func() { r.expire(rm) })
}

func (r *Registry) expire(rm *Room) {
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return
	}
	events := rm.s.Expire(r.clock.Now())
	if events == nil {
		rm.mu.Unlock()
		return
	}
	for _, ev := range events {
		rm.emit(op{event: ev})
	}
	result := r.finishLocked(rm)
	rm.mu.Unlock()
	r.flush(rm)

	r.log.Info().Str("room", rm.code).Msg("chrono expired")
	r.submit(result)
}

// finishLocked stops the chrono timer, schedules disposal and returns the
// result to submit (nil for abandoned games).
func (r *Registry) finishLocked(rm *Room) *game.Result {
	rm.stopTimer()
	if rm.reaper == nil {
		rm.reaper = r.clock.AfterFunc(r.opts.FinishedTTL, func() { r.reap(rm) })
	}
	if rm.s.Reason == game.ReasonAbandoned {
		return nil
	}
	res := rm.s.Result()
	return &res
}

func (r *Registry) reap(rm *Room) {
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return
	}
	r.closeLocked(rm)
	rm.mu.Unlock()
	r.flush(rm)
	r.dispose(rm)
}

// closeLocked marks the room closed and queues the roomClosed notification.
func (r *Registry) closeLocked(rm *Room) {
	rm.closed = true
	rm.stopTimer()
	if rm.reaper != nil {
		rm.reaper.Stop()
	}
	rm.emit(op{event: game.Event{Type: game.EventRoomClosed, Data: game.Payload{Reason: rm.s.Reason}}}, op{close: true})
}

// dispose drops a closed room from the registry and the member index.
func (r *Registry) dispose(rm *Room) {
	rm.mu.Lock()
	var refs []string
	for _, p := range rm.s.Players {
		refs = append(refs, p.Ref)
	}
	rm.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.code] == rm {
		delete(r.rooms, rm.code)
	}
	for _, ref := range refs {
		r.removeMemberLocked(ref, rm.code)
	}
}

func (r *Registry) submit(res *game.Result) {
	if res != nil && r.rec != nil {
		r.rec.Submit(*res)
	}
}

func (r *Registry) recordUsage(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := r.oracle.RecordUsage(ctx, id); err != nil {
		r.log.Warn().Err(err).Str("word", id).Msg("record word usage")
	}
}

// flush delivers queued operations in the order they were emitted.
func (r *Registry) flush(rm *Room) {
	rm.outMu.Lock()
	defer rm.outMu.Unlock()
	rm.mu.Lock()
	ops := rm.outbox
	rm.outbox = nil
	rm.mu.Unlock()

	if r.pub == nil {
		return
	}
	for _, o := range ops {
		switch {
		case o.attach != "":
			r.pub.Attach(rm.code, o.attach)
		case o.detach != "":
			r.pub.Detach(rm.code, o.detach)
		case o.close:
			r.pub.Close(rm.code)
		default:
			r.pub.Publish(rm.code, o.event)
		}
	}
}

func (r *Registry) snapshot() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

func (r *Registry) roomsOf(ref string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for code := range r.members[ref] {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) addMember(ref, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addMemberLocked(ref, code)
}

func (r *Registry) addMemberLocked(ref, code string) {
	if r.members[ref] == nil {
		r.members[ref] = map[string]struct{}{}
	}
	r.members[ref][code] = struct{}{}
}

func (r *Registry) removeMember(ref, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(ref, code)
}

func (r *Registry) removeMemberLocked(ref, code string) {
	if codes, ok := r.members[ref]; ok {
		delete(codes, code)
		if len(codes) == 0 {
			delete(r.members, ref)
		}
	}
}
