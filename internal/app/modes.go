package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainauction/internal/server"
	"github.com/alanyoungcy/chainauction/internal/server/handler"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode runs the auction view model behind the HTTP + WebSocket API
// until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	g.Go(func() error {
		return deps.Agent.Run(ctx)
	})
	g.Go(func() error {
		return deps.Auctions.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	network := a.cfg.Chain.Network()
	srv := server.NewServer(server.Config{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Clock, a.logger),
		Status:   handler.NewStatusHandler(network, a.cfg.Ledger.Contract),
		Session:  handler.NewSessionHandler(deps.Auctions, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Auctions, a.logger),
	}, deps.Hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// SnapshotMode connects with the keystore's first account, runs one
// synchronization pass and writes the snapshot to stdout as JSON.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode")

	sess, err := deps.Auctions.Connect(ctx)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	snap, err := deps.Auctions.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	if len(snap.Missing) > 0 {
		a.logger.WarnContext(ctx, "snapshot mode: some auctions could not be read",
			slog.Any("missing", snap.Missing),
		)
	}
	a.logger.InfoContext(ctx, "snapshot mode: synchronized",
		slog.String("address", sess.Address),
		slog.Uint64("height", snap.Height),
		slog.Int("auctions", len(snap.Auctions)),
	)

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("snapshot mode: write: %w", err)
	}
	return nil
}
