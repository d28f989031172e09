package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/robalobadob/gallows/internal/config"
	"github.com/robalobadob/gallows/internal/httpserver"
	"github.com/robalobadob/gallows/internal/identity"
	"github.com/robalobadob/gallows/internal/logger"
	"github.com/robalobadob/gallows/internal/realtime"
	"github.com/robalobadob/gallows/internal/room"
	"github.com/robalobadob/gallows/internal/stats"
	"github.com/robalobadob/gallows/internal/store"
	"github.com/robalobadob/gallows/internal/words"
)

const openTimeout = 30 * time.Second

func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel)
}

// Backends are the persistence-facing services.
type Backends struct {
	fx.Out

	Stats stats.Store
	Words words.Oracle
}

// ProvideBackends opens the configured database, migrates it and seeds the
// word catalog. DB_DRIVER=memory keeps everything in process.
func ProvideBackends(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (Backends, error) {
	if cfg.DBDriver == "memory" {
		catalog, err := words.NewSeedCatalog()
		if err != nil {
			return Backends{}, err
		}
		log.Info().Int("words", catalog.Len()).Msg("using in-memory stores")
		return Backends{Stats: store.NewMemoryStore(), Words: catalog}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	db, err := store.Open(ctx, store.Options{Driver: cfg.DBDriver, Path: cfg.DBPath, URL: cfg.DatabaseURL}, log)
	if err != nil {
		return Backends{}, fmt.Errorf("open database: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		log.Info().Msg("closing database")
		return db.Close()
	}})

	out := Backends{Stats: store.NewStats(db)}
	if cfg.WordSource == "memory" {
		catalog, err := words.NewSeedCatalog()
		if err != nil {
			return Backends{}, err
		}
		out.Words = catalog
		return out, nil
	}

	entries, err := words.SeedEntries()
	if err != nil {
		return Backends{}, err
	}
	ws := store.NewWords(db)
	n, err := ws.Seed(ctx, entries)
	if err != nil {
		return Backends{}, fmt.Errorf("seed words: %w", err)
	}
	if n > 0 {
		log.Info().Int("words", n).Msg("seeded word catalog")
	}
	out.Words = ws
	return out, nil
}

func ProvideAggregator(st stats.Store, cfg *config.Config, log zerolog.Logger) *stats.Aggregator {
	return stats.NewAggregator(st, log, cfg.StatsQueue)
}

func ProvideRegistry(oracle words.Oracle, hub *realtime.Hub, agg *stats.Aggregator, cfg *config.Config, log zerolog.Logger) *room.Registry {
	return room.New(oracle, hub, agg, room.SystemClock(), log, room.Options{
		ChronoLimit:       cfg.ChronoLimit,
		FinishedTTL:       cfg.FinishedRoomTTL,
		IdleTTL:           cfg.IdleRoomTTL,
		SweepInterval:     cfg.SweepInterval,
		DefaultDifficulty: cfg.DefaultDifficulty,
	})
}

func ProvideVerifier(cfg *config.Config) identity.Verifier {
	return identity.NewJWTVerifier(cfg.JWTSecret)
}

func ProvideWSHandler(hub *realtime.Hub, reg *room.Registry, cfg *config.Config, log zerolog.Logger) *realtime.Handler {
	return realtime.NewHandler(hub, reg, realtime.Options{
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		Burst:             cfg.WSBurst,
		AllowedOrigins:    []string{cfg.ClientOrigin},
	}, log)
}

func ProvideServer(reg *room.Registry, agg *stats.Aggregator, v identity.Verifier, ws *realtime.Handler, cfg *config.Config, log zerolog.Logger) *httpserver.Server {
	return httpserver.New(reg, agg, v, ws, httpserver.Options{
		ClientOrigin:  cfg.ClientOrigin,
		CookieName:    cfg.CookieName,
		SecureCookies: cfg.Production(),
	}, log)
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(ProvideLogger),
	// storage
	fx.Provide(ProvideBackends),
	fx.Provide(ProvideAggregator),
	// rooms + transport
	fx.Provide(realtime.NewHub),
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideVerifier),
	fx.Provide(ProvideWSHandler),
	// server
	fx.Provide(ProvideServer),
)
