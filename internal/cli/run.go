package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/spf13/cobra"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/orchestrator"
)

// shutdownTimeout bounds the disconnect performed after the supervisor
// returns.
const shutdownTimeout = 5 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync lifecycle daemon",
		Long: `Run the breadly sync lifecycle until interrupted.

The daemon opens the database (creating it if needed), resumes the last
recorded lifecycle state, and then follows identity, entitlement and upload
queue changes. SIGINT or SIGTERM stops it gracefully.

Example:
  breadly run --db ./breadly.db
  breadly run --config /etc/breadly.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	logger, err := opts.logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to configure logging", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	logger.Info("opening database", "path", cfg.Database)
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to start", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	go reportTransitions(app.Orchestrator.Subscribe(ctx), f)

	super, err := supervisor.New(
		supervisor.WithContext(ctx),
		supervisor.WithLogHandler(logger.Handler()),
		supervisor.WithRunnables(app.Runnables()...),
	)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create supervisor", err)
	}

	logger.Info("daemon starting", "db", cfg.Database, "backend", cfg.Backend.URL != "")
	if err := super.Run(); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	logger.Info("daemon stopped gracefully", "state", app.Orchestrator.State().String())
	return nil
}

// transitionReport is one committed transition as printed by run.
type transitionReport struct {
	Seq    int64  `json:"seq"`
	From   string `json:"from"`
	To     string `json:"to"`
	Event  string `json:"event,omitempty"`
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

func (r transitionReport) String() string {
	event := r.Event
	if event == "" {
		event = "-"
	}
	return fmt.Sprintf("#%d %s -> %s [%s via %s] mode=%s", r.Seq, r.From, r.To, event, r.Source, r.Mode)
}

func reportTransitions(transitions <-chan orchestrator.Transition, f *OutputFormatter) {
	for t := range transitions {
		r := transitionReport{
			Seq:    t.Seq,
			From:   t.From.String(),
			To:     t.To.String(),
			Source: t.Source,
			Mode:   string(lifecycle.ModeOf(t.To)),
		}
		if t.Event != nil {
			r.Event = string(t.Event.Type())
		}
		_ = f.Success(r)
	}
}
