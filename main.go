package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/gallows/internal/config"
	fxmodules "github.com/robalobadob/gallows/internal/fx"
	"github.com/robalobadob/gallows/internal/httpserver"
	"github.com/robalobadob/gallows/internal/room"
	"github.com/robalobadob/gallows/internal/stats"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	srv *httpserver.Server,
	reg *room.Registry,
	agg *stats.Aggregator,
	cfg *config.Config,
	logger zerolog.Logger,
) {
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var (
		cancel context.CancelFunc
		g      *errgroup.Group
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			g, ctx = errgroup.WithContext(ctx)
			g.Go(func() error { return agg.Run(ctx) })
			g.Go(func() error { return reg.Run(ctx) })

			go func() {
				logger.Info().Str("addr", httpSrv.Addr).Str("db", cfg.DBDriver).Str("words", cfg.WordSource).Msg("starting gallows server")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()

			err := httpSrv.Shutdown(shutdownCtx)
			if err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
			}
			cancel()
			if werr := g.Wait(); werr != nil {
				logger.Warn().Err(werr).Msg("background workers")
			}
			logger.Info().Msg("server stopped gracefully")
			return err
		},
	})
}
