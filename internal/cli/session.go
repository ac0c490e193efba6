package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nazar-pal/breadly-sub000/internal/identity"
	"github.com/nazar-pal/breadly-sub000/internal/recovery"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// sessionResult is printed by login and logout.
type sessionResult struct {
	UserID    string `json:"user_id"`
	Anonymous bool   `json:"anonymous"`
}

func (r sessionResult) String() string {
	if r.Anonymous {
		return fmt.Sprintf("signed out; running as guest %s", r.UserID)
	}
	return fmt.Sprintf("signed in as %s", r.UserID)
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Record a signed-in session",
		Long: `Record a signed-in session for user-id. A running daemon notices the
session on its next identity poll and migrates guest data to the user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSession(rootOpts, cmd, func(ctx context.Context, p *identity.Provider) error {
				return p.SignIn(ctx, args[0])
			})
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the signed-in session",
		Long: `End the signed-in session. A running daemon notices on its next identity
poll, clears synced data and continues as a fresh guest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSession(rootOpts, cmd, func(ctx context.Context, p *identity.Provider) error {
				return p.SignOut(ctx)
			})
		},
	}
}

func changeSession(opts *RootOptions, cmd *cobra.Command, change func(context.Context, *identity.Provider) error) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	return withStore(cmd, cfg, f, func(ctx context.Context, db *store.Store) error {
		p, err := identity.Open(ctx, db)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeIdentity, "failed to open identity", err)
		}
		if err := change(ctx, p); err != nil {
			return f.Fail(ExitFailure, ErrCodeIdentity, "failed to change session", err)
		}
		who := p.Current()
		return f.Success(sessionResult{UserID: who.UserID, Anonymous: who.Anonymous})
	})
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the recorded lifecycle state",
		Long: `Delete the crash-recovery record so the next daemon start initializes
from scratch. Local data is not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
			}
			return withStore(cmd, cfg, f, func(ctx context.Context, db *store.Store) error {
				if err := recovery.New(db).Clear(ctx); err != nil {
					return f.Fail(ExitFailure, ErrCodeRecovery, "failed to clear recovery record", err)
				}
				return f.Success("recovery record cleared")
			})
		},
	}
}
