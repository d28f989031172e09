package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/stats"
)

var modeColumns = []string{
	"games_played", "wins", "losses", "draws", "current_streak", "best_streak",
	"total_guesses", "total_words", "total_score", "best_time_ms", "podiums", "rooms_created",
}

const modeSelect = `games_played, wins, losses, draws, current_streak, best_streak,
	total_guesses, total_words, total_score, best_time_ms, podiums, rooms_created`

// Stats is the SQL-backed stats.Store.
type Stats struct {
	db *DB
}

// NewStats wraps db.
func NewStats(db *DB) *Stats { return &Stats{db: db} }

func (s *Stats) q(query string) string { return s.db.dialect.Rebind(query) }

// Get loads a record and all of its mode rows.
func (s *Stats) Get(ctx context.Context, userID string) (*stats.Record, error) {
	rec := stats.NewRecord(userID, "")
	err := s.db.QueryRowContext(ctx, s.q(`SELECT username, rating FROM player_ratings WHERE user_id = ?`), userID).
		Scan(&rec.Username, &rec.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stats.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select rating: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT mode, `+modeSelect+` FROM mode_stats WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("select mode stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var m stats.ModeStats
		if err := rows.Scan(append([]any{&mode}, modeDest(&m)...)...); err != nil {
			return nil, err
		}
		rec.Modes[game.Mode(mode)] = m
	}
	return rec, rows.Err()
}

// Save upserts the rating row and every mode row in one transaction.
func (s *Stats) Save(ctx context.Context, r *stats.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	d := s.db.dialect
	upRating := d.Rebind(d.Upsert("player_ratings", []string{"user_id"}, []string{"username", "rating", "updated_at"}))
	if _, err := tx.ExecContext(ctx, upRating, r.UserID, r.Username, r.Rating, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}

	upMode := d.Rebind(d.Upsert("mode_stats", []string{"user_id", "mode"}, modeColumns))
	for mode, m := range r.Modes {
		args := append([]any{r.UserID, string(mode)}, modeValues(m)...)
		if _, err := tx.ExecContext(ctx, upMode, args...); err != nil {
			return fmt.Errorf("upsert %s stats: %w", mode, err)
		}
	}
	return tx.Commit()
}

// Leaderboard ranks players of mode in SQL.
func (s *Stats) Leaderboard(ctx context.Context, mode game.Mode, limit int) ([]stats.Entry, error) {
	where, order := "s.games_played > 0", "s.wins DESC"
	switch mode {
	case game.RankedDuel:
		order = "r.rating DESC"
	case game.SoloSurvival:
		order = "s.best_streak DESC"
	case game.SoloChrono:
		where, order = "s.best_time_ms > 0", "s.best_time_ms ASC"
	}
	query := `SELECT r.user_id, r.username, r.rating, ` + prefixed("s.", modeColumns) + `
		FROM mode_stats s JOIN player_ratings r ON r.user_id = s.user_id
		WHERE s.mode = ? AND ` + where + `
		ORDER BY ` + order + `, s.games_played DESC, r.user_id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.q(query), string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", mode, err)
	}
	defer rows.Close()

	out := []stats.Entry{}
	for rows.Next() {
		var e stats.Entry
		if err := rows.Scan(append([]any{&e.UserID, &e.Username, &e.Rating}, modeDest(&e.Stats)...)...); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func modeDest(m *stats.ModeStats) []any {
	return []any{
		&m.GamesPlayed, &m.Wins, &m.Losses, &m.Draws, &m.CurrentStreak, &m.BestStreak,
		&m.TotalGuesses, &m.TotalWords, &m.TotalScore, &m.BestTimeMs, &m.Podiums, &m.RoomsCreated,
	}
}

func modeValues(m stats.ModeStats) []any {
	return []any{
		m.GamesPlayed, m.Wins, m.Losses, m.Draws, m.CurrentStreak, m.BestStreak,
		m.TotalGuesses, m.TotalWords, m.TotalScore, m.BestTimeMs, m.Podiums, m.RoomsCreated,
	}
}

func prefixed(p string, cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += p + c
	}
	return out
}
