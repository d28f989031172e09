package game

import (
	"errors"

	"github.com/robalobadob/gallows/internal/words"
)

// Error codes are sent to clients verbatim.
var (
	ErrRoomNotFound         = errors.New("room-not-found")
	ErrRoomFull             = errors.New("room-full")
	ErrGameAlreadyStarted   = errors.New("game-already-started")
	ErrGameNotPlaying       = errors.New("game-not-playing")
	ErrNotYourTurn          = errors.New("not-your-turn")
	ErrLetterAlreadyGuessed = errors.New("letter-already-guessed")
	ErrNotAParticipant      = errors.New("not-a-participant")
	ErrInvalidLetter        = errors.New("invalid-letter")
	ErrInvalidMode          = errors.New("invalid-mode")
	ErrPlayersNotReady      = errors.New("players-not-ready")
	ErrSoloModeRequired     = errors.New("solo-mode-required")
	ErrInvalidMessage       = errors.New("invalid-message")
	ErrWordPoolExhausted    = words.ErrPoolExhausted
)

var codes = []error{
	ErrRoomNotFound, ErrRoomFull, ErrGameAlreadyStarted, ErrGameNotPlaying,
	ErrNotYourTurn, ErrLetterAlreadyGuessed, ErrNotAParticipant,
	ErrInvalidLetter, ErrInvalidMode, ErrPlayersNotReady, ErrSoloModeRequired,
	ErrInvalidMessage,
	ErrWordPoolExhausted,
}

// Code maps err to its wire code, or "" when err is not a game error.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	return ""
}
