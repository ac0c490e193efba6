package actions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nazar-pal/breadly-sub000/internal/store"
	"github.com/nazar-pal/breadly-sub000/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder collects collaborator calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeBackend struct {
	*recorder
	connectErr error
	clearErr   error
	// pending returns the queue size for the nth PendingCount call (from 1).
	pending func(n int) int
	polls   int
}

func (b *fakeBackend) Connect(_ context.Context, userID string) error {
	b.record("connect " + userID)
	return b.connectErr
}

func (b *fakeBackend) Disconnect(context.Context) error {
	b.record("disconnect")
	return nil
}

func (b *fakeBackend) DisconnectAndClear(context.Context) error {
	b.record("disconnect_and_clear")
	return b.clearErr
}

func (b *fakeBackend) PendingCount(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	if b.pending == nil {
		return 0, nil
	}
	return b.pending(b.polls), nil
}

func (b *fakeBackend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

type fakeIdentity struct {
	*recorder
	ids        *testutil.SequentialIDs
	signOutErr error
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.record("identity_sign_out")
	return f.signOutErr
}

func (f *fakeIdentity) NewAnonymousID(context.Context) (string, error) {
	id := f.ids.Generate()
	f.record("new_anonymous_id " + id)
	return id, nil
}

type fakeEntitlements struct {
	*recorder
	// verified is closed when the entitlement becomes verified.
	verified chan struct{}
	entitled bool
}

func (f *fakeEntitlements) AwaitVerified(ctx context.Context, userID string) (bool, error) {
	select {
	case <-f.verified:
		f.record("verified " + userID)
		return f.entitled, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (f *fakeEntitlements) Clear(context.Context) error {
	f.record("entitlement_clear")
	return nil
}

type fakeRecovery struct{ *recorder }

func (f fakeRecovery) Clear(context.Context) error {
	f.record("recovery_clear")
	return nil
}

// failingStorage lets tests break the schema switch.
type failingStorage struct {
	*store.Store
	variantErr error
}

func (f failingStorage) SetVariant(ctx context.Context, v store.Variant) error {
	if f.variantErr != nil {
		return f.variantErr
	}
	return f.Store.SetVariant(ctx, v)
}

type harness struct {
	db           *store.Store
	rec          *recorder
	backend      *fakeBackend
	identity     *fakeIdentity
	entitlements *fakeEntitlements
	clock        *testutil.FakeClock
	deps         Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &recorder{}
	verified := make(chan struct{})
	close(verified)

	h := &harness{
		db:           db,
		rec:          rec,
		backend:      &fakeBackend{recorder: rec},
		identity:     &fakeIdentity{recorder: rec, ids: testutil.NewSequentialIDs("guest")},
		entitlements: &fakeEntitlements{recorder: rec, verified: verified},
		clock:        testutil.NewAutoClock(epoch),
	}
	h.deps = Deps{
		Storage:      db,
		Identity:     h.identity,
		Entitlements: h.entitlements,
		Backend:      h.backend,
		Recovery:     fakeRecovery{recorder: rec},
		IDs:          testutil.NewSequentialIDs("row"),
	}
	return h
}

func (h *harness) executor(opts ...Option) *Executor {
	return New(h.deps, append([]Option{WithClock(h.clock)}, opts...)...)
}

var errBoom = errors.New("boom")
