package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/recovery"
	"github.com/nazar-pal/breadly-sub000/internal/testutil"
)

func TestRun_FreshInstallSeedsGuest(t *testing.T) {
	f := newFixture()
	o := New(f.deps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transitions := o.Subscribe(ctx)
	start(t, o)

	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})

	var got []lifecycle.Kind
	var lastSeq int64
	for i := 0; i < 3; i++ {
		tr := <-transitions
		assert.Greater(t, tr.Seq, lastSeq)
		lastSeq = tr.Seq
		got = append(got, tr.To.Kind())
	}
	assert.Equal(t, []lifecycle.Kind{
		lifecycle.KindInitializing,
		lifecycle.KindSeedingGuest,
		lifecycle.KindLocalOnly,
	}, got)
	assert.Equal(t, got, kinds(f.recovery.Saved()))
	assert.Equal(t, lifecycle.ModeLocalOnly, o.Mode())
	assert.False(t, o.IsSyncActive())
}

func TestRun_ExistingGuestSkipsSeeding(t *testing.T) {
	f := newFixture()
	f.storage.owned["guest-1"] = 4
	o := New(f.deps())
	start(t, o)

	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})
	assert.NotContains(t, kinds(f.recovery.Saved()), lifecycle.KindSeedingGuest)
}

func TestRun_WaitsForVerifiedEntitlement(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.hold = true
	o := New(f.deps())
	start(t, o)

	require.Never(t, func() bool {
		k := o.State().Kind()
		return k != lifecycle.KindUninitialized && k != lifecycle.KindInitializing
	}, 100*time.Millisecond, 5*time.Millisecond)

	f.entitlements.set("alice", true)
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})
	assert.True(t, o.IsSyncActive())
}

func TestRun_StorageErrorHoldsInitialization(t *testing.T) {
	f := newFixture()
	f.storage.err = errors.New("disk I/O error")
	o := New(f.deps())
	start(t, o)

	waitForState(t, o, lifecycle.Initializing{})
	require.Never(t, func() bool {
		return o.State() != lifecycle.Initializing{}
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestAuthenticated_GuestMigratesThenSyncs(t *testing.T) {
	f := newFixture()
	f.storage.owned["guest-1"] = 3
	f.entitlements.answers["alice"] = true
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})

	require.NoError(t, o.Authenticated(context.Background(), " alice "))
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})

	// The scripted migration reports no entitlement, so sync is enabled by
	// the derived SubscriptionActivated from LocalOnly.
	assert.Equal(t, []lifecycle.Kind{
		lifecycle.KindInitializing,
		lifecycle.KindLocalOnly,
		lifecycle.KindMigratingGuestToAuth,
		lifecycle.KindLocalOnly,
		lifecycle.KindSwitchingToSync,
		lifecycle.KindSynced,
	}, kinds(f.recovery.Saved()))
}

func TestAuthenticated_DuringSeedKeepsSeeding(t *testing.T) {
	f := newFixture()
	f.entitlements.answers["alice"] = false

	var runs, cancelled atomic.Int32
	release := make(chan struct{})
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		if _, ok := s.(lifecycle.SeedingGuest); !ok {
			return completeAll(ctx, s)
		}
		runs.Add(1)
		select {
		case <-release:
			return lifecycle.SeedingComplete{}, true
		case <-ctx.Done():
			cancelled.Add(1)
			return nil, false
		}
	}
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.SeedingGuest{UserID: "guest-1"})

	require.NoError(t, o.Authenticated(context.Background(), "alice"))
	waitForState(t, o, lifecycle.SeedingGuest{UserID: "guest-1", PendingAuthID: "alice"})
	close(release)

	waitForState(t, o, lifecycle.LocalOnly{UserID: "alice"})
	assert.Equal(t, int32(1), runs.Load(), "seed runs")
	assert.Equal(t, int32(0), cancelled.Load(), "seed cancellations")
	assert.Contains(t, kinds(f.recovery.Saved()), lifecycle.KindMigratingGuestToAuth)
}

func TestAuthenticated_SignInErrorDispatchesNothing(t *testing.T) {
	f := newFixture()
	f.storage.owned["guest-1"] = 3
	f.identity.signInErr = errors.New("rejected")
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})

	require.Error(t, o.Authenticated(context.Background(), "alice"))
	require.Never(t, func() bool {
		return o.State().Kind() != lifecycle.KindLocalOnly
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestExpiry_DrainsQueueBeforeLeavingSync(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = true
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		if _, ok := s.(lifecycle.DrainingUploadQueue); !ok {
			return completeAll(ctx, s)
		}
		for f.queue.Pending() > 0 {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(time.Millisecond):
			}
		}
		return lifecycle.QueueDrained{}, true
	}
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})

	f.queue.set(3)
	f.entitlements.set("alice", false)
	require.Eventually(t, func() bool {
		return o.State().Kind() == lifecycle.KindDrainingUploadQueue
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, o.IsSyncActive(), "draining keeps the connection open")

	f.queue.set(0)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "alice"})
}

func TestExpiry_EmptyQueueSkipsDrain(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = true
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})

	f.entitlements.set("alice", false)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "alice"})
	assert.NotContains(t, kinds(f.recovery.Saved()), lifecycle.KindDrainingUploadQueue)
}

func TestSignOut_ReturnsToFreshGuest(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = true
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		if _, ok := s.(lifecycle.SigningOut); !ok {
			return completeAll(ctx, s)
		}
		f.identity.mu.Lock()
		f.identity.anonID = "guest-2"
		f.identity.mu.Unlock()
		f.identity.setSession("")
		return lifecycle.SignOutComplete{GuestID: "guest-2"}, true
	}
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})

	require.True(t, o.SignOut())
	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-2", IsGuest: true})

	// The new guest owns nothing, so re-initialisation seeds it.
	saved := kinds(f.recovery.Saved())
	require.GreaterOrEqual(t, len(saved), 5)
	assert.Equal(t, []lifecycle.Kind{
		lifecycle.KindSigningOut,
		lifecycle.KindUninitialized,
		lifecycle.KindInitializing,
		lifecycle.KindSeedingGuest,
		lifecycle.KindLocalOnly,
	}, saved[len(saved)-5:])
}

func TestSignOut_ObservedFromIdentity(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	o := New(f.deps())
	start(t, o)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "alice"})

	f.identity.setSession("")
	require.Eventually(t, func() bool {
		for _, k := range kinds(f.recovery.Saved()) {
			if k == lifecycle.KindSigningOut {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func TestFailure_RetryReentersPreviousState(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = true
	attempts := 0
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		if _, ok := s.(lifecycle.SwitchingToSync); ok {
			attempts++
			if attempts == 1 {
				return lifecycle.Failure{Reason: "SCHEMA_SWITCH_FAILED: locked"}, true
			}
		}
		return completeAll(ctx, s)
	}
	o := New(f.deps())
	start(t, o)

	waitForState(t, o, lifecycle.Error{
		Reason:   "SCHEMA_SWITCH_FAILED: locked",
		Previous: lifecycle.SwitchingToSync{UserID: "alice"},
	})
	assert.Equal(t, lifecycle.ModeError, o.Mode())

	require.True(t, o.Retry())
	waitForState(t, o, lifecycle.Synced{UserID: "alice"})
}

func TestRestore_SyncedReconnects(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = true
	f.recovery.loaded = lifecycle.Synced{UserID: "alice"}

	var ran []lifecycle.Kind
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		ran = append(ran, s.Kind())
		return completeAll(ctx, s)
	}
	o := New(f.deps())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transitions := o.Subscribe(ctx)
	start(t, o)

	first := <-transitions
	assert.Equal(t, "restore", first.Source)
	assert.Equal(t, lifecycle.SwitchingToSync{UserID: "alice"}, first.To)

	waitForState(t, o, lifecycle.Synced{UserID: "alice"})
	assert.Equal(t, []lifecycle.Kind{lifecycle.KindSwitchingToSync}, ran)
}

func TestRestore_StaleErrorStartsFresh(t *testing.T) {
	f := newFixture()
	f.recovery.loadErr = recovery.ErrStale
	o := New(f.deps())
	start(t, o)

	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})
	assert.Zero(t, f.recovery.cleared)
}

func TestRestore_CorruptRecordIsCleared(t *testing.T) {
	f := newFixture()
	f.recovery.loadErr = errors.New("decode recovery record: unexpected end of JSON input")
	o := New(f.deps())
	start(t, o)

	waitForState(t, o, lifecycle.LocalOnly{UserID: "guest-1", IsGuest: true})
	f.recovery.mu.Lock()
	defer f.recovery.mu.Unlock()
	assert.Equal(t, 1, f.recovery.cleared)
}

func TestWatchdog_ForcesDrainTimeout(t *testing.T) {
	f := newFixture()
	f.identity.session = "alice"
	f.entitlements.answers["alice"] = false
	f.recovery.loaded = lifecycle.DrainingUploadQueue{UserID: "alice", StartedAt: epoch}
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		if _, ok := s.(lifecycle.DrainingUploadQueue); ok {
			<-ctx.Done()
			return nil, false
		}
		return completeAll(ctx, s)
	}

	f.queue.pending = 3

	warned := make(chan int, 1)
	fc := testutil.NewFakeClock(epoch)
	o := New(f.deps(), WithClock(fc), WithDrainTimeoutWarning(func(pending int) { warned <- pending }))
	start(t, o)

	fc.BlockUntil(1)
	assert.Equal(t, lifecycle.KindDrainingUploadQueue, o.State().Kind())

	fc.Advance(30*time.Second + DefaultWatchdogGrace)
	waitForState(t, o, lifecycle.LocalOnly{UserID: "alice"})
	select {
	case n := <-warned:
		assert.Equal(t, 3, n)
	default:
		t.Fatal("watchdog timeout raised no drain warning")
	}
}

func TestStop_CancelsRunningAction(t *testing.T) {
	f := newFixture()
	cancelled := make(chan struct{})
	f.executor.fn = func(ctx context.Context, s lifecycle.State) (lifecycle.Event, bool) {
		<-ctx.Done()
		close(cancelled)
		return nil, false
	}
	o := New(f.deps())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	waitForState(t, o, lifecycle.SeedingGuest{UserID: "guest-1"})

	o.Stop()
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("action was not cancelled")
	}
	require.NoError(t, <-done)
	assert.False(t, o.Dispatch(lifecycle.Retry{}), "stopped orchestrator rejects events")
}

func TestSubscribe_ClosesWithContext(t *testing.T) {
	o := New(newFixture().deps())
	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestDispatch_IgnoresNil(t *testing.T) {
	o := New(newFixture().deps())
	assert.False(t, o.Dispatch(nil))
	assert.Equal(t, "orchestrator.Orchestrator", o.String())
}
