// internal/store/memory.go
//
// In-memory implementation of stats.Store.
// Used when no database is configured and throughout the tests.
//
// Characteristics:
//   - Records keyed by user id in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Records are cloned on the way in and out so callers never share state
//     with the map.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/stats"
)

// Memory is a map-based stats.Store.
type Memory struct {
	mu   sync.RWMutex             // guards recs
	recs map[string]*stats.Record // keyed by Record.UserID
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *Memory {
	return &Memory{recs: make(map[string]*stats.Record)}
}

// Get returns a copy of the stored record or stats.ErrNotFound.
func (m *Memory) Get(ctx context.Context, userID string) (*stats.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.recs[userID]; ok {
		return r.Clone(), nil
	}
	return nil, stats.ErrNotFound
}

// Save adds or replaces the record.
func (m *Memory) Save(ctx context.Context, r *stats.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[r.UserID] = r.Clone()
	return nil
}

// Leaderboard ranks every record that has played mode.
func (m *Memory) Leaderboard(ctx context.Context, mode game.Mode, limit int) ([]stats.Entry, error) {
	m.mu.RLock()
	out := make([]stats.Entry, 0, len(m.recs))
	for _, r := range m.recs {
		s := r.Mode(mode)
		if !stats.Ranked(mode, s) {
			continue
		}
		out = append(out, stats.Entry{UserID: r.UserID, Username: r.Username, Rating: r.Rating, Stats: s})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b stats.Entry) int {
		if stats.Less(mode, a, b) {
			return -1
		}
		if stats.Less(mode, b, a) {
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
