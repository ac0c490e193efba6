// Package actions performs the side effect owned by each acting lifecycle
// state and translates its outcome into the next event.
//
// Execute never returns an error: every failure becomes a Failure event.
// When the context is cancelled the result is withheld, so a superseded
// action can never move the lifecycle.
package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

const (
	DefaultDrainPollInterval = time.Second
	DefaultDrainTimeout      = 30 * time.Second
	DefaultVerifyTimeout     = 30 * time.Second
)

// Storage is the local database as the actions use it. *store.Store
// satisfies it.
type Storage interface {
	Update(ctx context.Context, fn func(tx *store.Tx) error) error
	CountOwned(ctx context.Context, owner string) (int, error)
	SetVariant(ctx context.Context, v store.Variant) error
	CopyReferenceData(ctx context.Context) (int64, error)
	ReferenceCount(ctx context.Context) (int, error)
	SeedReferenceData(ctx context.Context) error
}

// Identity is the identity provider.
type Identity interface {
	SignOut(ctx context.Context) error
	NewAnonymousID(ctx context.Context) (string, error)
}

// Entitlements is the entitlement service.
type Entitlements interface {
	AwaitVerified(ctx context.Context, userID string) (bool, error)
	Clear(ctx context.Context) error
}

// Backend is the sync backend client.
type Backend interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context) error
	DisconnectAndClear(ctx context.Context) error
	PendingCount(ctx context.Context) (int, error)
}

// Recovery is the crash-recovery record.
type Recovery interface {
	Clear(ctx context.Context) error
}

// IDGenerator creates row ids for seeded data.
type IDGenerator interface {
	Generate() string
}

// Deps are the collaborators every action needs.
type Deps struct {
	Storage      Storage
	Identity     Identity
	Entitlements Entitlements
	Backend      Backend
	Recovery     Recovery
	IDs          IDGenerator
}

// DrainProgress is reported after every poll of the upload queue that
// found it non-empty.
type DrainProgress struct {
	Pending   int
	Elapsed   time.Duration
	Remaining time.Duration
}

// Executor runs actions.
type Executor struct {
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger

	drainPoll     time.Duration
	drainTimeout  time.Duration
	verifyTimeout time.Duration

	onDrainProgress func(DrainProgress)
	onDrainTimeout  func(pending int)
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for drain polling and timeouts.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithDrain sets the upload queue poll interval and total budget.
func WithDrain(poll, timeout time.Duration) Option {
	return func(e *Executor) {
		e.drainPoll = poll
		e.drainTimeout = timeout
	}
}

// WithVerifyTimeout bounds how long a migration waits for the
// authenticated user's entitlement to be verified. On timeout the
// migration completes as not entitled; sync is enabled later once the
// entitlement is verified.
func WithVerifyTimeout(d time.Duration) Option {
	return func(e *Executor) { e.verifyTimeout = d }
}

// WithDrainProgress registers a callback for drain progress.
func WithDrainProgress(fn func(DrainProgress)) Option {
	return func(e *Executor) { e.onDrainProgress = fn }
}

// WithDrainTimeoutWarning registers a callback invoked once when the drain
// budget runs out with changes still queued.
func WithDrainTimeoutWarning(fn func(pending int)) Option {
	return func(e *Executor) { e.onDrainTimeout = fn }
}

// New returns an Executor over deps.
func New(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:          deps,
		clock:         clock.System{},
		logger:        slog.Default(),
		drainPoll:     DefaultDrainPollInterval,
		drainTimeout:  DefaultDrainTimeout,
		verifyTimeout: DefaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DrainTimeout returns the configured drain budget.
func (e *Executor) DrainTimeout() time.Duration { return e.drainTimeout }

// Execute runs the action owned by s and returns the event it resolved.
// Steady and waiting states own no action and return false at once, as
// does an action whose context was cancelled.
func (e *Executor) Execute(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
	var (
		ev   lifecycle.Event
		err  error
		code ErrorCode
		user string
	)

	switch st := s.(type) {
	case lifecycle.SeedingGuest:
		code, user = ErrCodeSeed, st.UserID
		ev, err = e.seed(ctx, st)
	case lifecycle.MigratingGuestToAuth:
		code, user = ErrCodeMigrate, st.AuthID
		ev, err = e.migrate(ctx, st)
	case lifecycle.SwitchingToSync:
		code, user = ErrCodeSchemaSwitch, st.UserID
		ev, err = e.switchToSync(ctx, st)
	case lifecycle.DrainingUploadQueue:
		code, user = ErrCodeDrain, st.UserID
		ev, err = e.drain(ctx, st)
	case lifecycle.SwitchingToLocal:
		code, user = ErrCodeSchemaSwitch, st.UserID
		ev, err = e.switchToLocal(ctx, st)
	case lifecycle.SigningOut:
		code, user = ErrCodeSignOut, st.UserID
		ev, err = e.signOut(ctx, st)
	default:
		return nil, false
	}

	if ctx.Err() != nil {
		e.logger.Debug("action cancelled", "state", s.Kind(), "user_id", user)
		return nil, false
	}
	if err != nil {
		ae := &ActionError{Code: code, State: s.Kind(), UserID: user, Err: err}
		e.logger.Error("action failed", "state", s.Kind(), "user_id", user, "error", err)
		return lifecycle.Failure{Reason: ae.Error()}, true
	}
	e.logger.Debug("action completed", "state", s.Kind(), "event", ev.Type())
	return ev, true
}
