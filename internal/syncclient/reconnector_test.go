package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazar-pal/breadly-sub000/internal/testutil"
)

func TestReconnector_RestoresLostConnection(t *testing.T) {
	backend := &fakeBackend{}
	accept := backend.handler(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		accept.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(wsURL(srv), newSyncStore(t))
	ctx := context.Background()
	require.Error(t, c.Connect(ctx, "alice"))
	defer c.Disconnect(ctx)

	clk := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := NewReconnector(c, time.Second, clk)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	clk.BlockUntil(1)
	clk.Advance(time.Second)

	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
