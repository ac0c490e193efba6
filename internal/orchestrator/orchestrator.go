// Package orchestrator drives the sync lifecycle.
//
// An Orchestrator is the single writer of the lifecycle state. Its Run loop
// merges three external signals (identity, entitlement, upload queue) into
// one "conditions changed" signal, derives events from condition snapshots,
// applies explicitly dispatched events, persists every committed state,
// and runs the action owned by each acting state.
//
// Thread-safety model:
//   - Dispatch, State, Mode, IsSyncActive, Subscribe: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Error handling: action failures arrive as Failure events; persistence and
// condition-gathering errors are logged and the loop continues.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/entitlement"
	"github.com/nazar-pal/breadly-sub000/internal/identity"
	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/recovery"
)

// DefaultWatchdogGrace is added to the drain budget before the watchdog
// forces QueueDrainTimeout.
const DefaultWatchdogGrace = 5 * time.Second

// maxDerivations bounds how many derived events one reconcile may apply.
const maxDerivations = 16

// Identity is the identity provider.
type Identity interface {
	Current() identity.Identity
	AnonymousID() string
	SignIn(ctx context.Context, userID string) error
	Subscribe() (<-chan struct{}, func())
}

// Entitlements is the entitlement service.
type Entitlements interface {
	Identify(ctx context.Context, userID string, anonymous bool)
	Snapshot() entitlement.Snapshot
	Subscribe() (<-chan struct{}, func())
}

// Queue reports the last observed upload queue size.
type Queue interface {
	Pending() int
	Subscribe() (<-chan struct{}, func())
}

// Storage answers the one-time initialization questions.
type Storage interface {
	CountOwned(ctx context.Context, owner string) (int, error)
}

// Executor runs the action owned by an acting state.
type Executor interface {
	Execute(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool)
	DrainTimeout() time.Duration
}

// Recovery persists the committed state.
type Recovery interface {
	Save(ctx context.Context, s lifecycle.State) error
	Load(ctx context.Context) (lifecycle.State, bool, error)
	Clear(ctx context.Context) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Identity     Identity
	Entitlements Entitlements
	Queue        Queue
	Storage      Storage
	Executor     Executor
	Recovery     Recovery
}

// Transition is one committed state change.
type Transition struct {
	Seq    int64
	From   lifecycle.State
	To     lifecycle.State
	Event  lifecycle.Event
	Source string
	At     time.Time
}

type actionResult struct {
	gen   uint64
	event lifecycle.Event
}

// Orchestrator owns the lifecycle state and the running action.
type Orchestrator struct {
	deps   Deps
	clock  clock.Clock
	seq    *clock.Sequence
	logger *slog.Logger
	grace  time.Duration

	onDrainTimeout func(pending int)

	queue    *eventQueue
	results  chan actionResult
	watchdog chan uint64
	done     chan struct{}
	doneOnce sync.Once

	mu    sync.RWMutex
	state lifecycle.State

	runMu     sync.Mutex
	cancelRun context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan Transition
	nextSub int

	// Owned by the Run goroutine.
	actionGen      uint64
	actionCancel   context.CancelFunc
	actions        sync.WaitGroup
	watchdogGen    uint64
	watchdogCancel context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for timestamps and the watchdog.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithWatchdogGrace overrides DefaultWatchdogGrace.
func WithWatchdogGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.grace = d }
}

// WithDrainTimeoutWarning registers the callback the watchdog invokes when
// it gives up on the upload queue, mirroring the drain action's warning.
func WithDrainTimeoutWarning(fn func(pending int)) Option {
	return func(o *Orchestrator) { o.onDrainTimeout = fn }
}

// New returns an Orchestrator in the Uninitialized state.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:     deps,
		clock:    clock.System{},
		seq:      &clock.Sequence{},
		logger:   slog.Default(),
		grace:    DefaultWatchdogGrace,
		queue:    newEventQueue(),
		results:  make(chan actionResult),
		watchdog: make(chan uint64),
		done:     make(chan struct{}),
		state:    lifecycle.Uninitialized{},
		subs:     make(map[int]chan Transition),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() lifecycle.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Mode returns the coarse mode of the current state.
func (o *Orchestrator) Mode() lifecycle.Mode {
	return lifecycle.ModeOf(o.State())
}

// IsSyncActive reports whether the backend connection should be open.
func (o *Orchestrator) IsSyncActive() bool {
	return lifecycle.IsSyncActive(o.State())
}

// Dispatch submits an explicit event to the Run loop. Returns false once
// the orchestrator has stopped.
func (o *Orchestrator) Dispatch(ev lifecycle.Event) bool {
	if ev == nil {
		return false
	}
	return o.queue.Enqueue(ev)
}

// SignOut raises UserSignedOut.
func (o *Orchestrator) SignOut() bool {
	return o.Dispatch(lifecycle.UserSignedOut{})
}

// Retry re-enters the state that preceded an Error.
func (o *Orchestrator) Retry() bool {
	return o.Dispatch(lifecycle.Retry{})
}

// Authenticated records a completed sign-in and raises UserAuthenticated
// for it.
func (o *Orchestrator) Authenticated(ctx context.Context, userID string) error {
	guestID := o.deps.Identity.AnonymousID()
	if err := o.deps.Identity.SignIn(ctx, userID); err != nil {
		return err
	}
	o.Dispatch(lifecycle.UserAuthenticated{UserID: identity.NormalizeUserID(userID), GuestID: guestID})
	return nil
}

// Subscribe streams committed transitions until ctx is done or the
// orchestrator stops. A subscriber that falls behind misses transitions
// rather than stalling the loop.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, 32)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-o.done:
		}
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
		close(ch)
	}()
	return ch
}

// Run drives the lifecycle until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runMu.Lock()
	o.cancelRun = cancel
	o.runMu.Unlock()

	defer func() {
		cancel()
		o.cancelAction()
		o.disarmWatchdog()
		o.actions.Wait()
		o.queue.Close()
		o.doneOnce.Do(func() { close(o.done) })
	}()

	o.logger.Info("orchestrator starting")

	changed, stopMerge := merge(ctx, o.deps.Identity.Subscribe, o.deps.Entitlements.Subscribe, o.deps.Queue.Subscribe)
	defer stopMerge()

	o.restore(ctx)
	o.reconcile(ctx)

	for {
		if ev, ok := o.queue.TryDequeue(); ok {
			if o.apply(ctx, ev, "dispatch") {
				o.reconcile(ctx)
			}
			continue
		}

		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping", "state", o.State().String())
			return nil

		case <-o.queue.Wait():

		case <-changed:
			o.reconcile(ctx)

		case r := <-o.results:
			if r.gen != o.actionGen {
				o.logger.Debug("discarded superseded action result", "event", r.event.Type())
				continue
			}
			o.actionCancel = nil
			if o.apply(ctx, r.event, "action") {
				o.reconcile(ctx)
			}

		case gen := <-o.watchdog:
			if gen != o.watchdogGen {
				continue
			}
			d, draining := o.State().(lifecycle.DrainingUploadQueue)
			if !draining {
				continue
			}
			pending := o.deps.Queue.Pending()
			o.logger.Warn("upload queue drain timed out", "user_id", d.UserID, "pending", pending, "source", "watchdog")
			if o.onDrainTimeout != nil {
				o.onDrainTimeout(pending)
			}
			if o.apply(ctx, lifecycle.QueueDrainTimeout{}, "watchdog") {
				o.reconcile(ctx)
			}
		}
	}
}

// Stop ends Run.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
}

func (o *Orchestrator) String() string { return "orchestrator.Orchestrator" }

// restore loads the persisted state and resumes its action. A Synced state
// resumes as SwitchingToSync so the schema is confirmed and the backend
// reconnected before the lifecycle reports Synced again.
func (o *Orchestrator) restore(ctx context.Context) {
	st, ok, err := o.deps.Recovery.Load(ctx)
	switch {
	case errors.Is(err, recovery.ErrStale):
		o.logger.Info("discarded stale error state, starting fresh")
		return
	case err != nil:
		o.logger.Warn("unreadable recovery record, starting fresh", "error", err)
		if err := o.deps.Recovery.Clear(ctx); err != nil {
			o.logger.Warn("clear recovery record failed", "error", err)
		}
		return
	case !ok:
		return
	}

	if synced, isSynced := st.(lifecycle.Synced); isSynced {
		st = lifecycle.SwitchingToSync{UserID: synced.UserID}
	}

	o.setState(st)
	o.logger.Info("restored lifecycle state", "state", st.String())
	o.enter(ctx, st)
	o.publish(Transition{Seq: o.seq.Next(), From: lifecycle.Uninitialized{}, To: st, Source: "restore", At: o.clock.Now()})
}

// reconcile re-derives events from fresh condition snapshots until the
// lifecycle settles.
func (o *Orchestrator) reconcile(ctx context.Context) {
	for i := 0; i < maxDerivations; i++ {
		if ctx.Err() != nil {
			return
		}
		c, ok := o.conditions(ctx)
		if !ok {
			return
		}
		ev, derived := lifecycle.Derive(o.State(), c)
		if !derived {
			return
		}
		if !o.apply(ctx, ev, "derived") {
			return
		}
	}
	o.logger.Warn("event derivation did not settle", "state", o.State().String())
}

// conditions snapshots the external signals. It also points the
// entitlement service at the current identity. The bool is false when the
// snapshot could not be gathered.
func (o *Orchestrator) conditions(ctx context.Context) (lifecycle.Conditions, bool) {
	id := o.deps.Identity.Current()
	if id.UserID != "" {
		o.deps.Entitlements.Identify(ctx, id.UserID, id.Anonymous)
	}
	snap := o.deps.Entitlements.Snapshot()
	current := snap.UserID == id.UserID

	c := lifecycle.Conditions{
		UserID:              id.UserID,
		IsAnonymous:         id.Anonymous,
		IsPremium:           current && snap.Entitled,
		EntitlementVerified: current && snap.Verified,
		HasUploadQueue:      o.deps.Queue.Pending() > 0,
		ObservedAt:          o.clock.Now(),
	}

	if _, initializing := o.State().(lifecycle.Initializing); !initializing || id.UserID == "" {
		return c, true
	}

	if id.Anonymous {
		n, err := o.deps.Storage.CountOwned(ctx, id.UserID)
		if err != nil {
			o.logger.Error("count identity rows failed", "user_id", id.UserID, "error", err)
			return c, false
		}
		c.NeedsSeed = n == 0
		return c, true
	}

	if guest := o.deps.Identity.AnonymousID(); guest != "" && guest != id.UserID {
		n, err := o.deps.Storage.CountOwned(ctx, guest)
		if err != nil {
			o.logger.Error("count guest rows failed", "guest_id", guest, "error", err)
			return c, false
		}
		c.GuestID = guest
		c.HasGuestData = n > 0
	}
	return c, true
}

// apply feeds ev to the reducer and commits the result. It reports whether
// the state changed.
func (o *Orchestrator) apply(ctx context.Context, ev lifecycle.Event, source string) bool {
	prev := o.State()
	next := lifecycle.Transition(prev, ev)
	if next == prev {
		o.logger.Debug("event ignored", "event", ev.Type(), "state", prev.String(), "source", source)
		return false
	}

	o.setState(next)
	seq := o.seq.Next()
	o.logger.Info("lifecycle transition",
		"seq", seq,
		"from", prev.String(),
		"to", next.String(),
		"event", ev.Type(),
		"source", source,
	)

	if err := o.deps.Recovery.Save(ctx, next); err != nil {
		o.logger.Error("persist lifecycle state failed", "state", next.String(), "error", err)
	}

	if keepsAction(prev, next) {
		o.logger.Debug("action continues", "state", next.String())
	} else {
		o.enter(ctx, next)
	}
	o.publish(Transition{Seq: seq, From: prev, To: next, Event: ev, Source: source, At: o.clock.Now()})
	return true
}

// keepsAction reports whether the action started for prev still serves
// next. Seeding is never interrupted: a pending authentication only changes
// what SeedingComplete leads to.
func keepsAction(prev, next lifecycle.State) bool {
	p, ok := prev.(lifecycle.SeedingGuest)
	if !ok {
		return false
	}
	n, ok := next.(lifecycle.SeedingGuest)
	return ok && n.UserID == p.UserID
}

// enter supersedes whatever ran for the previous state and starts what the
// new state owns.
func (o *Orchestrator) enter(ctx context.Context, s lifecycle.State) {
	o.cancelAction()
	o.disarmWatchdog()

	if lifecycle.IsActing(s) {
		o.startAction(ctx, s)
	}
	if d, ok := s.(lifecycle.DrainingUploadQueue); ok {
		o.armWatchdog(ctx, d)
	}
}

func (o *Orchestrator) startAction(ctx context.Context, s lifecycle.State) {
	o.actionGen++
	gen := o.actionGen
	actx, cancel := context.WithCancel(ctx)
	o.actionCancel = cancel

	o.actions.Add(1)
	go func() {
		defer o.actions.Done()
		ev, ok := o.deps.Executor.Execute(actx, s)
		if !ok {
			return
		}
		select {
		case o.results <- actionResult{gen: gen, event: ev}:
		case <-actx.Done():
		}
	}()
}

func (o *Orchestrator) cancelAction() {
	o.actionGen++
	if o.actionCancel != nil {
		o.actionCancel()
		o.actionCancel = nil
	}
}

// armWatchdog forces QueueDrainTimeout once the drain budget plus grace has
// passed, in case the drain action's own timer never fires.
func (o *Orchestrator) armWatchdog(ctx context.Context, st lifecycle.DrainingUploadQueue) {
	o.watchdogGen++
	gen := o.watchdogGen
	wctx, cancel := context.WithCancel(ctx)
	o.watchdogCancel = cancel

	started := st.StartedAt
	if started.IsZero() {
		started = o.clock.Now()
	}
	wait := max(started.Add(o.deps.Executor.DrainTimeout()+o.grace).Sub(o.clock.Now()), 0)

	go func() {
		select {
		case <-wctx.Done():
			return
		case <-o.clock.After(wait):
		}
		select {
		case o.watchdog <- gen:
		case <-wctx.Done():
		}
	}()
}

func (o *Orchestrator) disarmWatchdog() {
	o.watchdogGen++
	if o.watchdogCancel != nil {
		o.watchdogCancel()
		o.watchdogCancel = nil
	}
}

func (o *Orchestrator) setState(s lifecycle.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) publish(t Transition) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- t:
		default:
			o.logger.Warn("transition subscriber lagging, dropped transition", "seq", t.Seq)
		}
	}
}

// merge combines several change signals into one coalescing signal.
func merge(ctx context.Context, sources ...func() (<-chan struct{}, func())) (<-chan struct{}, func()) {
	out := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	for _, subscribe := range sources {
		in, unsubscribe := subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	return out, func() {
		cancel()
		wg.Wait()
	}
}
