// internal/words/words.go
//
// Word selection for the game engine.
//
// Responsibilities:
//   - Define the Oracle contract the room registry draws words from.
//   - Provide an in-memory Catalog backed by the embedded seed list
//     (assets/words.tsv) or by caller-supplied entries.
//   - Track per-word usage counters (best effort; a lost increment is fine).
//
// Filters:
//   - Difficulty: "easy" | "medium" | "hard"; empty matches any.
//   - Category: free-form label ("animaux", "villes", ...); empty matches any.
//
// A draw that matches nothing returns ErrPoolExhausted.

package words

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/robalobadob/gallows/assets"
)

// Difficulty levels understood by the catalog.
const (
	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

// ErrPoolExhausted is returned when no word satisfies a Filter.
var ErrPoolExhausted = errors.New("word-pool-exhausted")

// Word is what a game session needs from the catalog.
// Text is upper-case and may contain spaces or hyphens.
type Word struct {
	SourceID string `json:"-"`
	Text     string `json:"-"`
	Hint     string `json:"hint"`
	Category string `json:"category"`
}

// Filter narrows a draw.
type Filter struct {
	Difficulty string `json:"difficulty,omitempty"`
	Category   string `json:"category,omitempty"`
}

// Oracle hands out random words and records their usage.
type Oracle interface {
	// Draw returns a random word matching f or ErrPoolExhausted.
	Draw(ctx context.Context, f Filter) (Word, error)

	// RecordUsage bumps the usage counter of the word with the given id.
	RecordUsage(ctx context.Context, sourceID string) error
}

// Entry is a catalog row.
type Entry struct {
	ID         string
	Text       string
	Category   string
	Difficulty string
	Hint       string
	UsageCount int
}

// Catalog is an in-memory Oracle.
type Catalog struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// NewCatalog builds a catalog from entries. Missing ids are generated.
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = gonanoid.Must()
		}
		e.Text = strings.ToUpper(strings.TrimSpace(e.Text))
		if e.Text == "" {
			continue
		}
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// NewSeedCatalog loads the embedded seed list.
func NewSeedCatalog() (*Catalog, error) {
	seed, err := SeedEntries()
	if err != nil {
		return nil, err
	}
	return NewCatalog(seed), nil
}

// SeedEntries converts the embedded asset rows into catalog entries.
func SeedEntries() ([]Entry, error) {
	rows, err := assets.SeedWords()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			Text:       r.Word,
			Category:   r.Category,
			Difficulty: r.Difficulty,
			Hint:       r.Hint,
		})
	}
	return out, nil
}

// Draw picks a uniformly random matching entry.
func (c *Catalog) Draw(ctx context.Context, f Filter) (Word, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pool []int
	for i, e := range c.entries {
		if f.matches(e) {
			pool = append(pool, i)
		}
	}
	if len(pool) == 0 {
		return Word{}, ErrPoolExhausted
	}
	e := c.entries[pool[randIndex(len(pool))]]
	return e.word(), nil
}

// RecordUsage increments the usage counter; unknown ids are ignored.
func (c *Catalog) RecordUsage(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.byID[sourceID]; ok {
		c.entries[i].UsageCount++
	}
	return nil
}

// Usage reports the usage counter of a word (0 when unknown).
func (c *Catalog) Usage(sourceID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.byID[sourceID]; ok {
		return c.entries[i].UsageCount
	}
	return 0
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (f Filter) matches(e Entry) bool {
	if f.Difficulty != "" && !strings.EqualFold(f.Difficulty, e.Difficulty) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, e.Category) {
		return false
	}
	return true
}

func (e Entry) word() Word {
	return Word{SourceID: e.ID, Text: e.Text, Hint: e.Hint, Category: e.Category}
}

// randIndex returns a crypto-random index in [0,n).
func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// ValidDifficulty reports whether d is empty or a known level.
func ValidDifficulty(d string) bool {
	switch strings.ToLower(d) {
	case "", Easy, Medium, Hard:
		return true
	}
	return false
}
