package stats

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/rating"
)

const (
	podiumSize       = 3
	defaultLimit     = 100
	defaultQueueSize = 256
)

// Aggregator folds finished games into player records. Submitted results
// are applied one at a time by Run, so two games finishing together never
// overwrite each other's counters.
type Aggregator struct {
	store Store
	log   zerolog.Logger
	queue chan game.Result
}

// NewAggregator builds an aggregator over st. queueSize <= 0 uses a default.
func NewAggregator(st Store, log zerolog.Logger, queueSize int) *Aggregator {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Aggregator{
		store: st,
		log:   log.With().Str("component", "stats").Logger(),
		queue: make(chan game.Result, queueSize),
	}
}

// Submit queues r for Run. It never blocks; a full queue drops the result.
func (a *Aggregator) Submit(r game.Result) {
	select {
	case a.queue <- r:
	default:
		a.log.Error().Str("room", r.Code).Str("mode", string(r.Mode)).Msg("stats queue full, result dropped")
	}
}

// Run applies queued results until ctx is done, then drains what is left.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case r := <-a.queue:
			a.apply(ctx, r)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case r := <-a.queue:
					a.apply(drain, r)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Aggregator) apply(ctx context.Context, r game.Result) {
	if err := a.Record(ctx, r); err != nil {
		a.log.Error().Err(err).Str("room", r.Code).Msg("record game result")
	}
}

// Record applies a finished game to every registered participant.
func (a *Aggregator) Record(ctx context.Context, r game.Result) error {
	if r.Reason == game.ReasonAbandoned {
		return nil
	}

	var rated []game.Participant
	seen := map[string]bool{}
	for _, p := range r.Participants {
		if p.UserID == "" || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		rated = append(rated, p)
	}
	if len(rated) == 0 {
		return nil
	}

	recs := make([]*Record, len(rated))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range rated {
		g.Go(func() error {
			rec, err := a.store.Get(gctx, p.UserID)
			switch {
			case errors.Is(err, ErrNotFound):
				rec = NewRecord(p.UserID, p.Name)
			case err != nil:
				return fmt.Errorf("load %s: %w", p.UserID, err)
			}
			if p.Name != "" {
				rec.Username = p.Name
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	podium := podiumRefs(r)
	for i, p := range rated {
		s := recs[i].Mode(r.Mode)
		applyMode(&s, r, p, podium[p.Ref])
		recs[i].Modes[r.Mode] = s
	}
	if r.Mode == game.RankedDuel && len(rated) == 2 {
		a.rate(r, rated, recs)
	}

	var errs []error
	for _, rec := range recs {
		if err := a.store.Save(ctx, rec); err != nil {
			a.log.Warn().Err(err).Str("user", rec.UserID).Msg("save stats")
			errs = append(errs, fmt.Errorf("save %s: %w", rec.UserID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) rate(r game.Result, rated []game.Participant, recs []*Record) {
	w, l := 0, 1
	draw := r.Winner == nil
	if !draw && rated[1].Ref == r.Winner.Ref {
		w, l = 1, 0
	}
	before := [2]int{recs[w].Rating, recs[l].Rating}
	recs[w].Rating, recs[l].Rating = rating.Update(recs[w].Rating, recs[l].Rating, draw)
	a.log.Info().
		Str("room", r.Code).
		Bool("draw", draw).
		Ints("before", before[:]).
		Ints("after", []int{recs[w].Rating, recs[l].Rating}).
		Msg("duel rated")
}

func applyMode(s *ModeStats, r game.Result, p game.Participant, onPodium bool) {
	won := r.Won(p.Ref)
	s.GamesPlayed++
	s.TotalScore += p.Score

	switch r.Mode {
	case game.SoloNormal:
		s.TotalGuesses += p.Guesses
		if won {
			s.Wins++
			s.CurrentStreak++
			s.BestStreak = max(s.BestStreak, s.CurrentStreak)
		} else {
			s.Losses++
			s.CurrentStreak = 0
		}
	case game.SoloChrono:
		if won {
			s.Wins++
			ms := r.Duration().Milliseconds()
			if s.BestTimeMs == 0 || ms < s.BestTimeMs {
				s.BestTimeMs = ms
			}
		} else {
			s.Losses++
		}
	case game.SoloSurvival:
		s.TotalWords += r.WordsCompleted
		s.BestStreak = max(s.BestStreak, r.WordsCompleted)
	case game.RankedDuel:
		switch {
		case r.Winner == nil:
			s.Draws++
		case won:
			s.Wins++
		default:
			s.Losses++
		}
	case game.PrivateRoom, game.OpenRoom:
		if won {
			s.Wins++
		} else {
			s.Losses++
		}
		if onPodium {
			s.Podiums++
		}
		if r.CreatorUserID != "" && p.UserID == r.CreatorUserID {
			s.RoomsCreated++
		}
	}
}

// podiumRefs ranks open-room participants by score desc, join order asc,
// and returns the top three.
func podiumRefs(r game.Result) map[string]bool {
	if r.Mode != game.OpenRoom {
		return nil
	}
	ranked := slices.Clone(r.Participants)
	slices.SortStableFunc(ranked, func(a, b game.Participant) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.JoinOrder, b.JoinOrder)
	})
	top := map[string]bool{}
	for _, p := range ranked[:min(podiumSize, len(ranked))] {
		top[p.Ref] = true
	}
	return top
}

// Snapshot returns the stored record or a fresh one for unknown users.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (*Record, error) {
	rec, err := a.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return NewRecord(userID, ""), nil
	}
	return rec, err
}

// Leaderboard returns the top entries for mode. limit is clamped to 1..100.
func (a *Aggregator) Leaderboard(ctx context.Context, mode game.Mode, limit int) ([]Entry, error) {
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	return a.store.Leaderboard(ctx, mode, limit)
}
