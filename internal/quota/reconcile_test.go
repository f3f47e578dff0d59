package quota

import (
	"context"
	"testing"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	return cfg
}

func TestReconciler_RefetchesAtLimit(t *testing.T) {
	f := newFixture()
	f.quota.set(f.today(), 5)
	tr := f.tracker(t, uuid.New(), fastConfig())
	ctx := context.Background()

	tr.Load(ctx)
	require.False(t, tr.CheckCanSend())
	tr.Start(ctx)

	assert.Eventually(t, func() bool {
		get, _ := f.quota.calls()
		return get >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_RestoresAllowanceAfterMidnight(t *testing.T) {
	f := newFixture()
	f.clock.now = time.Date(2025, 3, 14, 23, 59, 0, 0, f.loc)
	f.quota.set(f.today(), 5)
	tr := f.tracker(t, uuid.New(), fastConfig())
	ctx := context.Background()

	tr.Load(ctx)
	require.False(t, tr.CheckCanSend())
	tr.Start(ctx)

	f.clock.Advance(2 * time.Minute)

	assert.Eventually(t, tr.CheckCanSend, time.Second, 5*time.Millisecond)
	e, ok := tr.Entitlement()
	require.True(t, ok)
	assert.Equal(t, domain.Day("2025-03-15"), e.Day)
	assert.Equal(t, 0, e.MessagesUsed)
}

func TestReconciler_IdleWhileAllowanceRemains(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.ProfileFact
		used    int
	}{
		{"free user under limit", domain.ProfileFact{Role: domain.RoleUser}, 2},
		{"premium user over limit", domain.ProfileFact{Role: domain.RoleUser, IsPremium: true}, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.profiles.profile = tt.profile
			f.quota.set(f.today(), tt.used)
			tr := f.tracker(t, uuid.New(), fastConfig())
			ctx := context.Background()

			tr.Load(ctx)
			tr.Start(ctx)
			time.Sleep(60 * time.Millisecond)

			get, _ := f.quota.calls()
			assert.Equal(t, 1, get)
		})
	}
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	f := newFixture()
	tr := f.tracker(t, uuid.New(), fastConfig())
	r := newReconciler(tr, 10*time.Millisecond, testLogger())

	// Stop before Start.
	r.Stop()
	assert.False(t, r.Running())

	r.Start(context.Background())
	r.Start(context.Background())
	assert.True(t, r.Running())

	r.Stop()
	r.Stop()
	assert.False(t, r.Running())

	// Restart after Stop.
	r.Start(context.Background())
	assert.True(t, r.Running())
	r.Stop()
}

func TestReconciler_StartAfterCloseStaysStopped(t *testing.T) {
	f := newFixture()
	tr := f.tracker(t, uuid.New(), fastConfig())
	r := newReconciler(tr, 10*time.Millisecond, testLogger())

	r.Start(context.Background())
	require.True(t, r.Running())

	r.Close()
	assert.False(t, r.Running())

	// A Start that lost the race with Close must not leave a loop behind.
	r.Start(context.Background())
	assert.False(t, r.Running())
	r.Close()
}

func TestReconciler_ExitsWithParentContext(t *testing.T) {
	f := newFixture()
	f.quota.set(f.today(), 5)
	tr := f.tracker(t, uuid.New(), fastConfig())
	ctx, cancel := context.WithCancel(context.Background())

	tr.Load(ctx)
	tr.Start(ctx)
	cancel()

	// Stop must still return once the loop has exited on its own.
	done := make(chan struct{})
	go func() {
		tr.Clear()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Clear did not return after parent context was cancelled")
	}
}
