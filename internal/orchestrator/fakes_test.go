package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nazar-pal/breadly-sub000/internal/entitlement"
	"github.com/nazar-pal/breadly-sub000/internal/identity"
	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/notify"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	mu        sync.Mutex
	anonID    string
	session   string
	changes   notify.Broadcaster
	signInErr error
}

func newFakeIdentity(anonID string) *fakeIdentity {
	return &fakeIdentity{anonID: anonID}
}

func (f *fakeIdentity) Current() identity.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != "" {
		return identity.Identity{UserID: f.session}
	}
	return identity.Identity{UserID: f.anonID, Anonymous: true}
}

func (f *fakeIdentity) AnonymousID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anonID
}

func (f *fakeIdentity) SignIn(_ context.Context, userID string) error {
	if f.signInErr != nil {
		return f.signInErr
	}
	f.setSession(identity.NormalizeUserID(userID))
	return nil
}

func (f *fakeIdentity) setSession(userID string) {
	f.mu.Lock()
	f.session = userID
	f.mu.Unlock()
	f.changes.Notify()
}

func (f *fakeIdentity) Subscribe() (<-chan struct{}, func()) {
	return f.changes.Subscribe()
}

// fakeEntitlements verifies non-anonymous users from answers unless held.
type fakeEntitlements struct {
	mu       sync.Mutex
	answers  map[string]bool
	hold     bool
	snapshot entitlement.Snapshot
	changes  notify.Broadcaster
}

func newFakeEntitlements() *fakeEntitlements {
	return &fakeEntitlements{answers: make(map[string]bool)}
}

func (f *fakeEntitlements) Identify(_ context.Context, userID string, anonymous bool) {
	f.mu.Lock()
	if f.snapshot.UserID == userID {
		f.mu.Unlock()
		return
	}
	f.snapshot = entitlement.Snapshot{UserID: userID, Verified: anonymous}
	if !anonymous && !f.hold {
		f.snapshot.Verified = true
		f.snapshot.Entitled = f.answers[userID]
	}
	f.mu.Unlock()
	f.changes.Notify()
}

func (f *fakeEntitlements) Snapshot() entitlement.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeEntitlements) Subscribe() (<-chan struct{}, func()) {
	return f.changes.Subscribe()
}

// set records a verified answer for userID.
func (f *fakeEntitlements) set(userID string, entitled bool) {
	f.mu.Lock()
	f.answers[userID] = entitled
	f.hold = false
	if f.snapshot.UserID == userID {
		f.snapshot.Entitled = entitled
		f.snapshot.Verified = true
	}
	f.mu.Unlock()
	f.changes.Notify()
}

// fakeQueue is both the upload queue signal and the drain backend.
type fakeQueue struct {
	mu      sync.Mutex
	pending int
	calls   []string
	changes notify.Broadcaster
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *fakeQueue) set(n int) {
	q.mu.Lock()
	q.pending = n
	q.mu.Unlock()
	q.changes.Notify()
}

func (q *fakeQueue) Subscribe() (<-chan struct{}, func()) {
	return q.changes.Subscribe()
}

func (q *fakeQueue) record(call string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call)
}

func (q *fakeQueue) Calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.calls...)
}

func (q *fakeQueue) Connect(_ context.Context, userID string) error {
	q.record("connect " + userID)
	return nil
}

func (q *fakeQueue) Disconnect(context.Context) error {
	q.record("disconnect")
	return nil
}

func (q *fakeQueue) DisconnectAndClear(context.Context) error {
	q.record("disconnect_and_clear")
	q.set(0)
	return nil
}

func (q *fakeQueue) PendingCount(context.Context) (int, error) {
	return q.Pending(), nil
}

type fakeStorage struct {
	mu    sync.Mutex
	owned map[string]int
	err   error
}

func (s *fakeStorage) CountOwned(_ context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[owner], s.err
}

type fakeRecovery struct {
	mu      sync.Mutex
	loaded  lifecycle.State
	loadErr error
	saved   []lifecycle.State
	cleared int
}

func (r *fakeRecovery) Save(_ context.Context, s lifecycle.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return nil
}

func (r *fakeRecovery) Load(context.Context) (lifecycle.State, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded, r.loaded != nil, r.loadErr
}

func (r *fakeRecovery) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

func (r *fakeRecovery) Saved() []lifecycle.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.State(nil), r.saved...)
}

// scriptedExecutor answers each acting state with fn.
type scriptedExecutor struct {
	fn    func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool)
	drain time.Duration
}

func (e *scriptedExecutor) Execute(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
	return e.fn(ctx, s)
}

func (e *scriptedExecutor) DrainTimeout() time.Duration { return e.drain }

// completeAll finishes every action successfully at once.
func completeAll(_ context.Context, s lifecycle.State) (lifecycle.Event, bool) {
	switch s.(type) {
	case lifecycle.SeedingGuest:
		return lifecycle.SeedingComplete{}, true
	case lifecycle.MigratingGuestToAuth:
		return lifecycle.MigrationComplete{}, true
	case lifecycle.SwitchingToSync, lifecycle.SwitchingToLocal:
		return lifecycle.SchemaSwitchComplete{}, true
	case lifecycle.DrainingUploadQueue:
		return lifecycle.QueueDrained{}, true
	case lifecycle.SigningOut:
		return lifecycle.SignOutComplete{}, true
	}
	return nil, false
}

type fixture struct {
	identity     *fakeIdentity
	entitlements *fakeEntitlements
	queue        *fakeQueue
	storage      *fakeStorage
	recovery     *fakeRecovery
	executor     *scriptedExecutor
}

func newFixture() *fixture {
	return &fixture{
		identity:     newFakeIdentity("guest-1"),
		entitlements: newFakeEntitlements(),
		queue:        &fakeQueue{},
		storage:      &fakeStorage{owned: make(map[string]int)},
		recovery:     &fakeRecovery{},
		executor:     &scriptedExecutor{fn: completeAll, drain: 30 * time.Second},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Identity:     f.identity,
		Entitlements: f.entitlements,
		Queue:        f.queue,
		Storage:      f.storage,
		Executor:     f.executor,
		Recovery:     f.recovery,
	}
}

// start runs o until the test ends.
func start(t *testing.T, o *Orchestrator) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	t.Cleanup(func() {
		o.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
}

func waitForState(t *testing.T, o *Orchestrator, want lifecycle.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.State() == want
	}, 5*time.Second, 5*time.Millisecond, "last state: %s", o.State())
}

func kinds(states []lifecycle.State) []lifecycle.Kind {
	out := make([]lifecycle.Kind, len(states))
	for i, s := range states {
		out[i] = s.Kind()
	}
	return out
}
