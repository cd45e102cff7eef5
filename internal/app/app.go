package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/auth"
	"github.com/redgreen/redgreen-server/internal/config"
	"github.com/redgreen/redgreen-server/internal/game"
	"github.com/redgreen/redgreen-server/internal/log"
	"github.com/redgreen/redgreen-server/internal/ops"
	"github.com/redgreen/redgreen-server/internal/server"
	"github.com/redgreen/redgreen-server/internal/store"
	"github.com/redgreen/redgreen-server/internal/store/sqlite"
	"github.com/redgreen/redgreen-server/internal/wire"
)

// App wires together store, auth, rooms and the transport layers.
type App struct {
	server *server.Server
	ops    *ops.Server
	store  store.Store
	log    *zerolog.Logger
}

// New constructs the application with the provided configuration. The
// detector factory plugs in the external detection/tracking capability.
func New(cfg config.Config, detectors game.DetectorFactory, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	kx, err := wire.NewKeyExchange()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init key exchange: %w", err)
	}

	authService := auth.NewService(st)
	registry := game.NewRegistry(detectors, st, log.Component(logger, "room"))
	srv := server.New(cfg, kx, authService, registry, st, log.Component(logger, "server"))

	a := &App{
		server: srv,
		store:  st,
		log:    logger,
	}
	if cfg.OpsAddr != "" {
		a.ops = ops.New(cfg.OpsAddr, registry, log.Component(logger, "ops"))
	}
	return a, nil
}

// Run starts the TCP server (and the ops endpoint when configured) and blocks
// until context cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	errCh := make(chan error, 2)
	if a.ops != nil {
		go func() {
			errCh <- a.ops.Run(ctx)
		}()
	}
	go func() {
		errCh <- a.server.Serve(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return <-errCh
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
