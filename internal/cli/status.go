package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nazar-pal/breadly-sub000/internal/config"
	"github.com/nazar-pal/breadly-sub000/internal/identity"
	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/recovery"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// StatusReport is the output of the status command.
type StatusReport struct {
	State          string `json:"state"`
	Kind           string `json:"kind"`
	Mode           string `json:"mode"`
	SyncActive     bool   `json:"sync_active"`
	UserID         string `json:"user_id"`
	Anonymous      bool   `json:"anonymous"`
	Variant        string `json:"schema_variant"`
	PendingUploads int    `json:"pending_uploads"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state:           %s\n", r.State)
	fmt.Fprintf(&b, "mode:            %s\n", r.Mode)
	fmt.Fprintf(&b, "sync active:     %t\n", r.SyncActive)
	who := r.UserID
	if r.Anonymous {
		who += " (guest)"
	}
	fmt.Fprintf(&b, "identity:        %s\n", who)
	fmt.Fprintf(&b, "schema variant:  %s\n", r.Variant)
	fmt.Fprintf(&b, "pending uploads: %d", r.PendingUploads)
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded lifecycle state",
		Long: `Show the last lifecycle state recorded by the daemon, the current
identity, the active schema variant and the number of queued uploads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
			}
			return withStore(cmd, cfg, f, func(ctx context.Context, db *store.Store) error {
				report, err := collectStatus(ctx, db, cfg)
				if err != nil {
					return f.Fail(ExitFailure, ErrCodeRecovery, "failed to read status", err)
				}
				return f.Success(report)
			})
		},
	}
}

func collectStatus(ctx context.Context, db *store.Store, cfg config.Config) (StatusReport, error) {
	rec := recovery.New(db, recovery.WithErrorRetention(cfg.Recovery.ErrorRetention))
	st, ok, err := rec.Load(ctx)
	switch {
	case errors.Is(err, recovery.ErrStale):
		st = lifecycle.Uninitialized{}
	case err != nil:
		return StatusReport{}, err
	case !ok:
		st = lifecycle.Uninitialized{}
	}

	ids, err := identity.Open(ctx, db)
	if err != nil {
		return StatusReport{}, err
	}
	variant, err := db.Variant(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	pending, err := db.PendingUploads(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	who := ids.Current()
	return StatusReport{
		State:          st.String(),
		Kind:           string(st.Kind()),
		Mode:           string(lifecycle.ModeOf(st)),
		SyncActive:     lifecycle.IsSyncActive(st),
		UserID:         who.UserID,
		Anonymous:      who.Anonymous,
		Variant:        string(variant),
		PendingUploads: pending,
	}, nil
}

// withStore opens the configured database for the duration of fn.
func withStore(cmd *cobra.Command, cfg config.Config, f *OutputFormatter, fn func(ctx context.Context, db *store.Store) error) error {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, db)
}
