package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/robalobadob/gallows/internal/words"
)

// Words is the SQL-backed word catalog; it implements words.Oracle.
type Words struct {
	db *DB
}

// NewWords wraps db.
func NewWords(db *DB) *Words { return &Words{db: db} }

func (w *Words) q(query string) string { return w.db.dialect.Rebind(query) }

// Draw picks a random word matching f.
func (w *Words) Draw(ctx context.Context, f words.Filter) (words.Word, error) {
	diff, cat := strings.ToLower(f.Difficulty), strings.ToLower(f.Category)
	query := `SELECT id, word, category, hint FROM words
		WHERE (? = '' OR difficulty = ?) AND (? = '' OR category = ?)
		ORDER BY ` + w.db.dialect.Random() + ` LIMIT 1`

	var out words.Word
	err := w.db.QueryRowContext(ctx, w.q(query), diff, diff, cat, cat).
		Scan(&out.SourceID, &out.Text, &out.Category, &out.Hint)
	if errors.Is(err, sql.ErrNoRows) {
		return words.Word{}, words.ErrPoolExhausted
	}
	if err != nil {
		return words.Word{}, fmt.Errorf("draw word: %w", err)
	}
	return out, nil
}

// RecordUsage bumps usage_count for id.
func (w *Words) RecordUsage(ctx context.Context, id string) error {
	_, err := w.db.ExecContext(ctx, w.q(`UPDATE words SET usage_count = usage_count + 1 WHERE id = ?`), id)
	return err
}

// Usage returns the usage counter for id.
func (w *Words) Usage(ctx context.Context, id string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, w.q(`SELECT usage_count FROM words WHERE id = ?`), id).Scan(&n)
	return n, err
}

// Count returns the catalog size.
func (w *Words) Count(ctx context.Context) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM words`).Scan(&n)
	return n, err
}

// Seed inserts entries when the catalog is empty and reports how many rows
// were written.
func (w *Words) Seed(ctx context.Context, entries []words.Entry) (int, error) {
	n, err := w.Count(ctx)
	if err != nil || n > 0 {
		return 0, err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, w.q(`INSERT INTO words (id, word, category, difficulty, hint, usage_count) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = gonanoid.Must()
		}
		if _, err := stmt.ExecContext(ctx, id, strings.ToUpper(e.Text), strings.ToLower(e.Category),
			strings.ToLower(e.Difficulty), e.Hint, e.UsageCount); err != nil {
			return 0, fmt.Errorf("insert %s: %w", e.Text, err)
		}
	}
	return len(entries), tx.Commit()
}
