package gacha_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/killunetwork/gacha/internal/gacha"
)

func newReconcilerFixture(t *testing.T) (*gacha.Reconciler, *serviceFixture) {
	t.Helper()
	f := newServiceFixture(t, nil)

	rec, err := gacha.NewReconciler(gacha.ReconcilerParams{
		Pool:     f.svc.Pool(),
		Outbox:   f.outbox,
		Identity: memIdentity{names: map[string]string{"player-1": "Steve"}},
		Interval: 10 * time.Millisecond,
		Grace:    time.Minute,
		Batch:    100,
		Logger:   zaptest.NewLogger(t),
		Now:      func() time.Time { return f.now.Add(time.Hour) },
	})
	require.NoError(t, err)
	return rec, f
}

// TestReconcileOnce_RepairsUnqueuedRoll drives the dispatch-inconsistency
// path end to end: a roll whose enqueue failed is repaired by the next
// reconcile pass, idempotently keyed by the roll id.
func TestReconcileOnce_RepairsUnqueuedRoll(t *testing.T) {
	rec, f := newReconcilerFixture(t)

	f.outbox.failNext = 100
	result, err := f.svc.Roll(context.Background(), "player-1")
	require.NoError(t, err)
	require.True(t, result.DispatchDeferred)
	require.Equal(t, 0, f.outbox.pendingCount())

	require.NoError(t, rec.ReconcileOnce(context.Background()))
	assert.Equal(t, 1, f.outbox.pendingCount())

	// A second pass must not double-queue the same roll.
	require.NoError(t, rec.ReconcileOnce(context.Background()))
	assert.Equal(t, 1, f.outbox.pendingCount())
}

// TestReconcileOnce_GracePeriod verifies rolls younger than the grace period
// are left alone so the repair never races a still-running enqueue.
func TestReconcileOnce_GracePeriod(t *testing.T) {
	f := newServiceFixture(t, nil)
	rec, err := gacha.NewReconciler(gacha.ReconcilerParams{
		Pool:     f.svc.Pool(),
		Outbox:   f.outbox,
		Identity: memIdentity{names: map[string]string{"player-1": "Steve"}},
		Interval: 10 * time.Millisecond,
		Grace:    time.Hour,
		Batch:    100,
		Logger:   zaptest.NewLogger(t),
		Now:      func() time.Time { return f.now }, // same instant as the roll
	})
	require.NoError(t, err)

	f.outbox.failNext = 100
	_, err = f.svc.Roll(context.Background(), "player-1")
	require.NoError(t, err)

	require.NoError(t, rec.ReconcileOnce(context.Background()))
	assert.Equal(t, 0, f.outbox.pendingCount(), "a roll inside the grace period must not be repaired yet")
}

// TestReconcileOnce_SkipsUnrepairable verifies a roll whose identity is no
// longer linked is logged and skipped, not dropped or crashed on.
func TestReconcileOnce_SkipsUnrepairable(t *testing.T) {
	f := newServiceFixture(t, nil)
	rec, err := gacha.NewReconciler(gacha.ReconcilerParams{
		Pool:     f.svc.Pool(),
		Outbox:   f.outbox,
		Identity: memIdentity{names: map[string]string{}}, // link removed after the roll
		Interval: 10 * time.Millisecond,
		Grace:    time.Minute,
		Batch:    100,
		Logger:   zaptest.NewLogger(t),
		Now:      func() time.Time { return f.now.Add(time.Hour) },
	})
	require.NoError(t, err)

	f.outbox.failNext = 100
	_, err = f.svc.Roll(context.Background(), "player-1")
	require.NoError(t, err)

	require.NoError(t, rec.ReconcileOnce(context.Background()))
	assert.Equal(t, 0, f.outbox.pendingCount())
}

// TestReconciler_StartStop exercises the loop lifecycle: the background pass
// repairs an unqueued roll, and Stop terminates the loop.
func TestReconciler_StartStop(t *testing.T) {
	rec, f := newReconcilerFixture(t)

	f.outbox.failNext = 100
	_, err := f.svc.Roll(context.Background(), "player-1")
	require.NoError(t, err)

	startDone := make(chan error, 1)
	go func() { startDone <- rec.Start(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for f.outbox.pendingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("reconciler did not repair the roll in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Stop(stopCtx))

	select {
	case err := <-startDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop in time")
	}
}

func TestNewReconciler_Validation(t *testing.T) {
	f := newServiceFixture(t, nil)
	base := gacha.ReconcilerParams{
		Pool:     f.svc.Pool(),
		Outbox:   f.outbox,
		Identity: memIdentity{},
		Interval: time.Second,
		Grace:    time.Second,
		Batch:    10,
		Logger:   zaptest.NewLogger(t),
	}

	cases := []struct {
		name   string
		mutate func(*gacha.ReconcilerParams)
	}{
		{"nil pool", func(p *gacha.ReconcilerParams) { p.Pool = nil }},
		{"nil outbox", func(p *gacha.ReconcilerParams) { p.Outbox = nil }},
		{"nil identity", func(p *gacha.ReconcilerParams) { p.Identity = nil }},
		{"nil logger", func(p *gacha.ReconcilerParams) { p.Logger = nil }},
		{"zero interval", func(p *gacha.ReconcilerParams) { p.Interval = 0 }},
		{"zero grace", func(p *gacha.ReconcilerParams) { p.Grace = 0 }},
		{"zero batch", func(p *gacha.ReconcilerParams) { p.Batch = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, err := gacha.NewReconciler(params)
			assert.Error(t, err)
		})
	}
}
