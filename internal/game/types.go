// internal/game/types.go
//
// Domain types for a single gallows room.
//
// Contents:
//   - Mode: the six play modes and their structural rules (solo, turn-based,
//     player bounds).
//   - Status: waiting → playing → finished, monotonic.
//   - Player: a seat in the room, ordered by join time (= turn order).
//   - Policy: room settings fixed at creation.
//   - Variant: mode-specific state as a closed tagged union
//     (*ChronoState | *SurvivalState | nil).
//   - View: the public, client-safe projection of a Session. It never carries
//     the secret word until the game is finished.

package game

import (
	"fmt"
	"time"

	"github.com/robalobadob/gallows/internal/words"
)

// Mode identifies a play mode. Fixed for the lifetime of a session.
type Mode string

const (
	SoloNormal   Mode = "solo-normal"
	SoloChrono   Mode = "solo-chrono"
	SoloSurvival Mode = "solo-survival"
	PrivateRoom  Mode = "private-room"
	OpenRoom     Mode = "open-room"
	RankedDuel   Mode = "ranked-duel"
)

// Modes lists every mode in display order.
var Modes = []Mode{SoloNormal, SoloChrono, SoloSurvival, PrivateRoom, OpenRoom, RankedDuel}

// Tunables shared by every session.
const (
	MaxLives          = 6
	SurvivalPool      = 10
	PointsPerLetter   = 10
	DefaultMaxPlayers = 4
	MaxRoomPlayers    = 8
	DefaultTimeLimit  = 30 * time.Second
	MaxChatRunes      = 500
)

// ParseMode validates a wire mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Solo reports whether the mode is single-player.
func (m Mode) Solo() bool {
	return m == SoloNormal || m == SoloChrono || m == SoloSurvival
}

// TurnBased reports whether players guess in strict rotation.
func (m Mode) TurnBased() bool {
	return m == PrivateRoom || m == RankedDuel
}

// MinPlayers is the player count required before a start.
func (m Mode) MinPlayers() int {
	if m == RankedDuel {
		return 2
	}
	return 1
}

// capacity clamps a requested room size to what the mode allows.
func (m Mode) capacity(requested int) int {
	switch {
	case m.Solo():
		return 1
	case m == RankedDuel:
		return 2
	case requested <= 0:
		return DefaultMaxPlayers
	case requested < 2:
		return 2
	case requested > MaxRoomPlayers:
		return MaxRoomPlayers
	}
	return requested
}

// Status is the lifecycle stage of a session.
type Status string

const (
	Waiting  Status = "waiting"
	Playing  Status = "playing"
	Finished Status = "finished"
)

// End reasons reported in gameOver events and results.
const (
	ReasonSolved    = "solved"
	ReasonLives     = "lives"
	ReasonTimeout   = "timeout"
	ReasonForfeit   = "forfeit"
	ReasonAbandoned = "abandoned"
)

// Player is a seat in a room. Ref is the opaque handle the transport uses
// (connection id or anonymous cookie); UserID is empty for guests.
type Player struct {
	Ref    string `json:"id"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Ready  bool   `json:"ready"`
	Lives  int    `json:"lives"`
}

// Policy holds the room settings chosen at creation.
type Policy struct {
	Public     bool          `json:"isPublic"`
	MaxPlayers int           `json:"maxPlayers"`
	CreatedBy  string        `json:"createdBy,omitempty"`
	Difficulty string        `json:"difficulty,omitempty"`
	Category   string        `json:"category,omitempty"`
	TimeLimit  time.Duration `json:"-"`
}

// Filter is the word filter implied by the policy.
func (p Policy) Filter() words.Filter {
	return words.Filter{Difficulty: p.Difficulty, Category: p.Category}
}

// Variant is mode-specific session state.
type Variant interface{ variant() }

// ChronoState belongs to solo-chrono sessions.
type ChronoState struct {
	TimeLimit time.Duration
	Deadline  time.Time
}

// SurvivalState belongs to solo-survival sessions. Pool is the shared
// wrong-guess budget across all words.
type SurvivalState struct {
	Pool           int
	WordsCompleted int
}

func (*ChronoState) variant()   {}
func (*SurvivalState) variant() {}

// TurnRecord is one accepted guess.
type TurnRecord struct {
	ActorRef string    `json:"playerId"`
	Letter   string    `json:"letter"`
	Correct  bool      `json:"correct"`
	At       time.Time `json:"at"`
}

// Winner identifies who ended the game on a win.
type Winner struct {
	Ref    string `json:"id"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}

// View is the public projection of a session.
type View struct {
	Code            string     `json:"roomCode"`
	Mode            Mode       `json:"mode"`
	Status          Status     `json:"status"`
	Public          bool       `json:"isPublic"`
	MaxPlayers      int        `json:"maxPlayers"`
	Difficulty      string     `json:"difficulty,omitempty"`
	Players         []Player   `json:"players"`
	Category        string     `json:"category,omitempty"`
	Hint            string     `json:"hint,omitempty"`
	WordLength      int        `json:"wordLength,omitempty"`
	RevealedPattern string     `json:"revealedPattern,omitempty"`
	GuessedLetters  []string   `json:"guessedLetters"`
	WrongGuesses    []string   `json:"wrongGuesses"`
	Lives           int        `json:"livesRemaining"`
	CurrentTurn     int        `json:"currentTurn"`
	CurrentPlayer   string     `json:"currentPlayer,omitempty"`
	SurvivalPool    *int       `json:"survivalPool,omitempty"`
	WordsCompleted  *int       `json:"wordsCompleted,omitempty"`
	TimeLimit       int        `json:"timeLimit,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Winner          *Winner    `json:"winner,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Word            string     `json:"word,omitempty"`
}

// Summary is a row of the public room listing.
type Summary struct {
	Code        string    `json:"roomCode"`
	Mode        Mode      `json:"mode"`
	PlayerCount int       `json:"players"`
	MaxPlayers  int       `json:"maxPlayers"`
	Difficulty  string    `json:"difficulty,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Participant is a player as seen by the stats aggregator.
type Participant struct {
	Ref       string
	UserID    string
	Name      string
	Score     int
	Guesses   int
	JoinOrder int
}

// Result is the immutable summary of a finished session.
type Result struct {
	Code           string
	Mode           Mode
	Reason         string
	CreatorUserID  string
	StartedAt      time.Time
	EndedAt        time.Time
	Winner         *Winner
	WordsCompleted int
	Participants   []Participant
}

// Duration is the elapsed play time.
func (r Result) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Won reports whether the participant with ref won.
func (r Result) Won(ref string) bool { return r.Winner != nil && r.Winner.Ref == ref }
