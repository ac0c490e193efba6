package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/nazar-pal/breadly-sub000/internal/actions"
	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/config"
	"github.com/nazar-pal/breadly-sub000/internal/entitlement"
	"github.com/nazar-pal/breadly-sub000/internal/identity"
	"github.com/nazar-pal/breadly-sub000/internal/orchestrator"
	"github.com/nazar-pal/breadly-sub000/internal/recovery"
	"github.com/nazar-pal/breadly-sub000/internal/store"
	"github.com/nazar-pal/breadly-sub000/internal/syncclient"
)

// App is a fully wired daemon.
type App struct {
	Store        *store.Store
	Identity     *identity.Provider
	Entitlements *entitlement.Service
	Recovery     *recovery.Store
	Client       *syncclient.Client
	Queue        *syncclient.QueueWatcher
	Orchestrator *orchestrator.Orchestrator

	runnables []supervisor.Runnable
}

// NewApp opens the database and builds every collaborator from cfg.
// Close releases the database.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	app, err := wire(ctx, db, cfg, logger, clock.System{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func wire(ctx context.Context, db *store.Store, cfg config.Config, logger *slog.Logger, clk clock.Clock) (*App, error) {
	ids, err := identity.Open(ctx, db, identity.WithLogger(logger.With("component", "identity")))
	if err != nil {
		return nil, fmt.Errorf("open identity: %w", err)
	}

	ents := entitlement.New(checkerFor(cfg), db, entitlement.WithLogger(logger.With("component", "entitlement")))
	rec := recovery.New(db,
		recovery.WithClock(clk),
		recovery.WithErrorRetention(cfg.Recovery.ErrorRetention),
		recovery.WithLogger(logger.With("component", "recovery")),
	)
	client := syncclient.New(cfg.Backend.URL, db,
		syncclient.WithClock(clk),
		syncclient.WithLogger(logger.With("component", "syncclient")),
	)
	queue := syncclient.NewQueueWatcher(db, cfg.Queue.PollInterval, clk, logger.With("component", "queue"))

	warnUndrained := func(pending int) {
		logger.Warn("upload queue not drained before sync was disabled", "pending", pending)
	}
	exec := actions.New(actions.Deps{
		Storage:      db,
		Identity:     ids,
		Entitlements: ents,
		Backend:      client,
		Recovery:     rec,
		IDs:          identity.UUIDv7Generator{},
	},
		actions.WithClock(clk),
		actions.WithLogger(logger.With("component", "actions")),
		actions.WithDrain(cfg.Drain.PollInterval, cfg.Drain.Timeout),
		actions.WithDrainTimeoutWarning(warnUndrained),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Identity:     ids,
		Entitlements: ents,
		Queue:        queue,
		Storage:      db,
		Executor:     exec,
		Recovery:     rec,
	},
		orchestrator.WithClock(clk),
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
		orchestrator.WithWatchdogGrace(cfg.Drain.WatchdogGrace),
		orchestrator.WithDrainTimeoutWarning(warnUndrained),
	)

	// Order matters: the orchestrator starts last so the watchers are
	// already polling when it takes its first snapshot.
	runnables := []supervisor.Runnable{
		identity.NewWatcher(ids, cfg.Identity.PollInterval, clk),
		entitlement.NewRefresher(ents, cfg.Entitlements.RefreshInterval, clk),
		queue,
		syncclient.NewReconnector(client, cfg.Backend.ReconnectInterval, clk),
		orch,
	}

	return &App{
		Store:        db,
		Identity:     ids,
		Entitlements: ents,
		Recovery:     rec,
		Client:       client,
		Queue:        queue,
		Orchestrator: orch,
		runnables:    runnables,
	}, nil
}

// Runnables returns the supervised components in start order.
func (a *App) Runnables() []supervisor.Runnable {
	return a.runnables
}

// Close disconnects from the backend and closes the database.
func (a *App) Close(ctx context.Context) error {
	if err := a.Client.Disconnect(ctx); err != nil {
		slog.Warn("disconnect on shutdown failed", "error", err)
	}
	return a.Store.Close()
}

// checkerFor returns the HTTP checker for the configured entitlement
// backend, or one that entitles nobody when none is configured.
func checkerFor(cfg config.Config) entitlement.Checker {
	if cfg.Entitlements.URL == "" {
		return entitlement.CheckerFunc(func(context.Context, string) (bool, error) {
			return false, nil
		})
	}
	return entitlement.NewHTTPChecker(cfg.Entitlements.URL, nil)
}
