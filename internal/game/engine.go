// internal/game/engine.go
//
// State machine for a single gallows session.
// Responsibilities:
//   - Membership while waiting (Join, SetReady) and shrink-only while playing (Remove).
//   - The start transition (Start) once every player is ready.
//   - Validate and apply letter guesses (Guess), including the survival
//     word advance and the turn rotation of turn-based modes.
//   - Terminal transitions: solved, out of lives, chrono timeout, duel forfeit.
//
// Notes:
//   - A Session is NOT safe for concurrent use. The room registry serializes
//     every call under a per-room mutex.
//   - Words never leave the session before it is finished; clients see
//     RevealedPattern instead.
//   - Every method that changes state returns the events to fan out.
package game

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/robalobadob/gallows/internal/words"
)

// Session is the authoritative state of one room.
type Session struct {
	Code      string
	Mode      Mode
	Status    Status
	Policy    Policy
	Players   []*Player
	Roster    []*Player
	Word      words.Word
	Guessed   []rune
	Wrong     []rune
	Lives     int
	Turn      int
	History   []TurnRecord
	Variant   Variant
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Winner    *Winner
	Reason    string

	joinOrder map[string]int
}

// New creates a waiting session with creator as its only player.
// The policy is normalized for the mode: solo and duel rooms have a fixed
// size, open rooms are always listed and private rooms never are.
func New(code string, mode Mode, creator Player, policy Policy, now time.Time) (*Session, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	policy.MaxPlayers = mode.capacity(policy.MaxPlayers)
	policy.Public = mode == OpenRoom || (mode == RankedDuel && policy.Public)
	policy.CreatedBy = creator.UserID
	if policy.TimeLimit <= 0 {
		policy.TimeLimit = DefaultTimeLimit
	}

	s := &Session{
		Code:      code,
		Mode:      mode,
		Status:    Waiting,
		Policy:    policy,
		Lives:     MaxLives,
		CreatedAt: now,
		joinOrder: map[string]int{},
	}
	switch mode {
	case SoloChrono:
		s.Variant = &ChronoState{TimeLimit: policy.TimeLimit}
	case SoloSurvival:
		s.Variant = &SurvivalState{Pool: SurvivalPool}
	}
	s.add(creator)
	return s, nil
}

// Join seats p. Joining twice with the same ref is a no-op (joined=false).
func (s *Session) Join(p Player) (joined bool, err error) {
	if s.Status != Waiting {
		return false, ErrGameAlreadyStarted
	}
	if s.player(p.Ref) != nil {
		return false, nil
	}
	if len(s.Players) >= s.Policy.MaxPlayers {
		return false, ErrRoomFull
	}
	s.add(p)
	return true, nil
}

func (s *Session) add(p Player) {
	p.Ready, p.Score, p.Lives = false, 0, MaxLives
	s.joinOrder[p.Ref] = len(s.joinOrder)
	s.Players = append(s.Players, &p)
}

// SetReady marks the player ready.
func (s *Session) SetReady(ref string) (Event, error) {
	if s.Status != Waiting {
		return Event{}, ErrGameAlreadyStarted
	}
	p := s.player(ref)
	if p == nil {
		return Event{}, ErrNotAParticipant
	}
	p.Ready = true
	return s.event(EventPlayerReady, Payload{PlayerID: p.Ref, PlayerName: p.Name}), nil
}

// Chat relays a message from a seated player. Messages are trimmed and
// capped at MaxChatRunes.
func (s *Session) Chat(ref, message string, now time.Time) (Event, error) {
	p := s.player(ref)
	if p == nil {
		return Event{}, ErrNotAParticipant
	}
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > MaxChatRunes {
		return Event{}, ErrInvalidMessage
	}
	return Event{Type: EventChatMessage, Data: Payload{PlayerID: p.Ref, PlayerName: p.Name, Message: message, At: now}}, nil
}

// ReadyToStart reports whether the start precondition holds.
func (s *Session) ReadyToStart() bool {
	if s.Status != Waiting || len(s.Players) < s.Mode.MinPlayers() {
		return false
	}
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Start moves a ready session to playing with w as the secret word.
func (s *Session) Start(w words.Word, now time.Time) (Event, error) {
	if s.Status != Waiting {
		return Event{}, ErrGameAlreadyStarted
	}
	if !s.ReadyToStart() {
		return Event{}, ErrPlayersNotReady
	}
	s.load(w)
	s.Status = Playing
	s.StartedAt = now
	s.Turn = 0
	s.Roster = slices.Clone(s.Players)
	for _, p := range s.Players {
		p.Lives = MaxLives
	}
	switch v := s.Variant.(type) {
	case *ChronoState:
		v.Deadline = now.Add(v.TimeLimit)
	case *SurvivalState:
		v.Pool, v.WordsCompleted = SurvivalPool, 0
	}
	return s.RoomEvent(EventGameStarted), nil
}

// load installs a new secret word and resets the per-word state.
func (s *Session) load(w words.Word) {
	w.Text = strings.ToUpper(w.Text)
	s.Word = w
	s.Guessed = s.Guessed[:0]
	s.Wrong = s.Wrong[:0]
	s.Lives = MaxLives
}

// Outcome describes the effect of an accepted guess.
type Outcome struct {
	Letter        string
	Correct       bool
	WordCompleted bool
	CompletedWord string
	GameOver      bool
	Won           bool
	Reason        string
}

// Guess applies a letter guess by ref. next is the replacement word for a
// survival session and is only consumed when this guess completes the
// current word; when it is nil in that case the guess is rejected with
// ErrWordPoolExhausted and the session is left untouched.
func (s *Session) Guess(ref, letter string, next *words.Word, now time.Time) (Outcome, []Event, error) {
	if s.Status != Playing {
		return Outcome{}, nil, ErrGameNotPlaying
	}
	p := s.player(ref)
	if p == nil {
		return Outcome{}, nil, ErrNotAParticipant
	}
	r, ok := normalizeLetter(letter)
	if !ok {
		return Outcome{}, nil, ErrInvalidLetter
	}
	if s.Mode.TurnBased() && s.Players[s.Turn].Ref != ref {
		return Outcome{}, nil, ErrNotYourTurn
	}
	if slices.Contains(s.Guessed, r) || slices.Contains(s.Wrong, r) {
		return Outcome{}, nil, ErrLetterAlreadyGuessed
	}

	correct := strings.ContainsRune(s.Word.Text, r)
	survival, _ := s.Variant.(*SurvivalState)
	if correct && survival != nil && next == nil && s.solvedWith(r) {
		return Outcome{}, nil, ErrWordPoolExhausted
	}

	out := Outcome{Letter: string(r), Correct: correct}
	if correct {
		s.Guessed = append(s.Guessed, r)
		p.Score += PointsPerLetter
	} else {
		s.Wrong = append(s.Wrong, r)
		s.Lives--
		if survival != nil {
			survival.Pool--
		}
		if p.Lives > 0 {
			p.Lives--
		}
	}
	s.History = append(s.History, TurnRecord{ActorRef: ref, Letter: out.Letter, Correct: correct, At: now})
	if s.Mode.TurnBased() {
		s.Turn = (s.Turn + 1) % len(s.Players)
	}

	won := s.Solved()
	lost := s.Lives <= 0 || (survival != nil && survival.Pool <= 0)

	switch {
	case won && survival != nil:
		out.WordCompleted = true
		out.CompletedWord = s.Word.Text
		survival.WordsCompleted++
		guessed := s.event(EventLetterGuessed, s.guessPayload(p, out))
		s.load(*next)
		return out, []Event{guessed, s.event(EventNewWord, Payload{CompletedWord: out.CompletedWord})}, nil
	case won:
		out.GameOver, out.Won, out.Reason = true, true, ReasonSolved
		out.CompletedWord = s.Word.Text
		s.finish(now, p, ReasonSolved)
	case lost:
		out.GameOver, out.Reason = true, ReasonLives
		out.CompletedWord = s.Word.Text
		s.finish(now, nil, ReasonLives)
	default:
		return out, []Event{s.event(EventLetterGuessed, s.guessPayload(p, out))}, nil
	}
	return out, []Event{s.event(EventLetterGuessed, s.guessPayload(p, out)), s.gameOverEvent()}, nil
}

func (s *Session) guessPayload(p *Player, out Outcome) Payload {
	correct := out.Correct
	pl := Payload{
		PlayerID:   p.Ref,
		PlayerName: p.Name,
		Letter:     out.Letter,
		Correct:    &correct,
		GameOver:   out.GameOver,
	}
	if out.GameOver {
		pl.Word = s.Word.Text
	}
	return pl
}

// Expire ends a playing session on its chrono deadline. It is a no-op for
// sessions that already left the playing state.
func (s *Session) Expire(now time.Time) []Event {
	if s.Status != Playing {
		return nil
	}
	s.finish(now, nil, ReasonTimeout)
	return []Event{s.gameOverEvent()}
}

// Remove drops ref from the room. The turn pointer keeps pointing at the
// same player when possible; removing the current player hands the turn to
// the next remaining player. A ranked duel left with one player while
// playing is won by forfeit.
func (s *Session) Remove(ref string, now time.Time) (removed bool, events []Event) {
	i := slices.IndexFunc(s.Players, func(p *Player) bool { return p.Ref == ref })
	if i < 0 {
		return false, nil
	}
	left := s.Players[i]
	s.Players = slices.Delete(s.Players, i, i+1)
	if i < s.Turn {
		s.Turn--
	}
	if s.Turn >= len(s.Players) {
		s.Turn = 0
	}
	events = append(events, s.event(EventPlayerLeft, Payload{PlayerID: left.Ref, PlayerName: left.Name}))

	if s.Status == Playing {
		switch {
		case len(s.Players) == 0:
			s.finish(now, nil, ReasonAbandoned)
		case s.Mode == RankedDuel && len(s.Players) == 1:
			s.finish(now, s.Players[0], ReasonForfeit)
			events = append(events, s.gameOverEvent())
		}
	}
	return true, events
}

func (s *Session) finish(now time.Time, winner *Player, reason string) {
	s.Status = Finished
	s.EndedAt = now
	s.Reason = reason
	if winner != nil {
		s.Winner = &Winner{Ref: winner.Ref, UserID: winner.UserID, Name: winner.Name, Score: winner.Score}
	}
}

func (s *Session) gameOverEvent() Event {
	return s.event(EventGameOver, Payload{
		GameOver: true,
		Reason:   s.Reason,
		Winner:   s.Winner,
		Word:     s.Word.Text,
	})
}

// WouldComplete reports whether guessing letter right now would solve the
// current word. The registry uses it to fetch a survival replacement word
// before taking the room lock.
func (s *Session) WouldComplete(letter string) bool {
	r, ok := normalizeLetter(letter)
	if !ok || s.Status != Playing || !strings.ContainsRune(s.Word.Text, r) || slices.Contains(s.Guessed, r) {
		return false
	}
	return s.solvedWith(r)
}

// Solved reports whether every letter of the word has been guessed.
// Spaces, hyphens and other non-letters never need guessing.
func (s *Session) Solved() bool { return s.solvedWith(0) }

func (s *Session) solvedWith(extra rune) bool {
	if s.Word.Text == "" {
		return false
	}
	for _, r := range s.Word.Text {
		if unicode.IsLetter(r) && r != extra && !slices.Contains(s.Guessed, r) {
			return false
		}
	}
	return true
}

// RevealedPattern masks unguessed letters with '_'.
func (s *Session) RevealedPattern() string {
	var b strings.Builder
	for _, r := range s.Word.Text {
		if !unicode.IsLetter(r) || slices.Contains(s.Guessed, r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// HasPlayer reports whether ref currently holds a seat.
func (s *Session) HasPlayer(ref string) bool { return s.player(ref) != nil }

func (s *Session) player(ref string) *Player {
	for _, p := range s.Players {
		if p.Ref == ref {
			return p
		}
	}
	return nil
}

// View projects the session for clients.
func (s *Session) View() View {
	v := View{
		Code:            s.Code,
		Mode:            s.Mode,
		Status:          s.Status,
		Public:          s.Policy.Public,
		MaxPlayers:      s.Policy.MaxPlayers,
		Difficulty:      s.Policy.Difficulty,
		Players:         make([]Player, 0, len(s.Players)),
		Category:        s.Word.Category,
		Hint:            s.Word.Hint,
		WordLength:      utf8.RuneCountInString(s.Word.Text),
		RevealedPattern: s.RevealedPattern(),
		GuessedLetters:  letters(s.Guessed),
		WrongGuesses:    letters(s.Wrong),
		Lives:           s.Lives,
		CurrentTurn:     s.Turn,
		Winner:          s.Winner,
		Reason:          s.Reason,
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, *p)
	}
	if s.Mode.TurnBased() && len(s.Players) > 0 {
		v.CurrentPlayer = s.Players[s.Turn].Ref
	}
	switch st := s.Variant.(type) {
	case *ChronoState:
		v.TimeLimit = int(st.TimeLimit / time.Second)
		if !st.Deadline.IsZero() {
			d := st.Deadline
			v.Deadline = &d
		}
	case *SurvivalState:
		pool, done := st.Pool, st.WordsCompleted
		v.SurvivalPool, v.WordsCompleted = &pool, &done
	}
	if s.Status == Finished {
		v.Word = s.Word.Text
	}
	return v
}

// Summary is the listing row for this session.
func (s *Session) Summary() Summary {
	return Summary{
		Code:        s.Code,
		Mode:        s.Mode,
		PlayerCount: len(s.Players),
		MaxPlayers:  s.Policy.MaxPlayers,
		Difficulty:  s.Policy.Difficulty,
		Category:    s.Policy.Category,
		CreatedAt:   s.CreatedAt,
	}
}

// Result summarizes a finished session for the stats aggregator.
// Participants are everyone seated at start, in join order, including
// players who left mid-game.
func (s *Session) Result() Result {
	r := Result{
		Code:          s.Code,
		Mode:          s.Mode,
		Reason:        s.Reason,
		CreatorUserID: s.Policy.CreatedBy,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Winner:        s.Winner,
	}
	if st, ok := s.Variant.(*SurvivalState); ok {
		r.WordsCompleted = st.WordsCompleted
	}
	guesses := map[string]int{}
	for _, h := range s.History {
		guesses[h.ActorRef]++
	}
	for _, p := range s.Roster {
		r.Participants = append(r.Participants, Participant{
			Ref:       p.Ref,
			UserID:    p.UserID,
			Name:      p.Name,
			Score:     p.Score,
			Guesses:   guesses[p.Ref],
			JoinOrder: s.joinOrder[p.Ref],
		})
	}
	return r
}

// normalizeLetter accepts exactly one letter and upper-cases it.
func normalizeLetter(s string) (rune, bool) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsLetter(r) {
		return 0, false
	}
	return unicode.ToUpper(r), true
}

func letters(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
