// internal/stats/stats.go
//
// Durable per-player statistics.
//
// A Record holds one counter block (ModeStats) per game mode plus a single
// cross-mode Rating used by ranked duels. Records are created lazily on the
// first finished game of a registered player; guests never get one.
//
// Leaderboard ordering per mode:
//   - ranked-duel:   rating desc
//   - solo-survival: best streak (words in one run) desc
//   - solo-chrono:   best time asc (only players with a recorded time)
//   - others:        wins desc
// Ties fall back to games played desc, then user id asc.

package stats

import (
	"context"
	"errors"
	"maps"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/rating"
)

// ErrNotFound is returned by Store.Get for users without a record.
var ErrNotFound = errors.New("stats-not-found")

// ModeStats are the counters kept for one mode. BestTimeMs is 0 until the
// first chrono win.
type ModeStats struct {
	GamesPlayed   int   `json:"gamesPlayed"`
	Wins          int   `json:"wins"`
	Losses        int   `json:"losses"`
	Draws         int   `json:"draws"`
	CurrentStreak int   `json:"currentStreak"`
	BestStreak    int   `json:"bestStreak"`
	TotalGuesses  int   `json:"totalGuesses"`
	TotalWords    int   `json:"totalWords"`
	TotalScore    int   `json:"totalScore"`
	BestTimeMs    int64 `json:"bestTimeMs,omitempty"`
	Podiums       int   `json:"podiums"`
	RoomsCreated  int   `json:"roomsCreated"`
}

// Record is everything stored for one user.
type Record struct {
	UserID   string                  `json:"userId"`
	Username string                  `json:"username"`
	Rating   int                     `json:"rating"`
	Modes    map[game.Mode]ModeStats `json:"modes"`
}

// NewRecord returns an empty record at the default rating.
func NewRecord(userID, username string) *Record {
	return &Record{
		UserID:   userID,
		Username: username,
		Rating:   rating.Default,
		Modes:    map[game.Mode]ModeStats{},
	}
}

// Mode returns the counters for m (zero value when never played).
func (r *Record) Mode(m game.Mode) ModeStats { return r.Modes[m] }

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Modes = maps.Clone(r.Modes)
	if c.Modes == nil {
		c.Modes = map[game.Mode]ModeStats{}
	}
	return &c
}

// Entry is one leaderboard row.
type Entry struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Rating   int       `json:"rating"`
	Stats    ModeStats `json:"stats"`
}

// Store persists records.
type Store interface {
	// Get loads a record or returns ErrNotFound.
	Get(ctx context.Context, userID string) (*Record, error)

	// Save inserts or replaces a record.
	Save(ctx context.Context, r *Record) error

	// Leaderboard returns at most limit ranked entries for mode.
	Leaderboard(ctx context.Context, mode game.Mode, limit int) ([]Entry, error)
}

// Ranked reports whether an entry belongs on the mode's leaderboard.
func Ranked(mode game.Mode, s ModeStats) bool {
	if mode == game.SoloChrono {
		return s.BestTimeMs > 0
	}
	return s.GamesPlayed > 0
}

// Less orders two entries of the same mode leaderboard.
func Less(mode game.Mode, a, b Entry) bool {
	switch mode {
	case game.RankedDuel:
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
	case game.SoloSurvival:
		if a.Stats.BestStreak != b.Stats.BestStreak {
			return a.Stats.BestStreak > b.Stats.BestStreak
		}
	case game.SoloChrono:
		if a.Stats.BestTimeMs != b.Stats.BestTimeMs {
			return a.Stats.BestTimeMs < b.Stats.BestTimeMs
		}
	default:
		if a.Stats.Wins != b.Stats.Wins {
			return a.Stats.Wins > b.Stats.Wins
		}
	}
	if a.Stats.GamesPlayed != b.Stats.GamesPlayed {
		return a.Stats.GamesPlayed > b.Stats.GamesPlayed
	}
	return a.UserID < b.UserID
}
