package gacha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reconciler repairs dispatch inconsistencies: ledger records that committed
// without their bridge commands reaching the outbox (a crash or storage
// failure between append and enqueue). It periodically re-translates such
// rolls and enqueues them idempotently, keyed by roll id. It never re-rolls.
type Reconciler struct {
	pool     *Pool
	outbox   Outbox
	identity IdentityResolver
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// ReconcilerParams collects the Reconciler dependencies.
type ReconcilerParams struct {
	Pool     *Pool
	Outbox   Outbox
	Identity IdentityResolver
	// Interval is the scan period.
	Interval time.Duration
	// Grace excludes rolls younger than this from the scan so the repair
	// never races an in-flight enqueue.
	Grace time.Duration
	// Batch caps how many rolls one scan repairs.
	Batch int
	Logger *zap.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// NewReconciler validates params and builds a Reconciler.
//
// Precondition: Pool, Outbox, Identity, and Logger must be non-nil; Interval,
// Grace, and Batch must be positive.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Pool == nil:
		return nil, errors.New("gacha: reconciler requires a pool")
	case params.Outbox == nil:
		return nil, errors.New("gacha: reconciler requires an outbox")
	case params.Identity == nil:
		return nil, errors.New("gacha: reconciler requires an identity resolver")
	case params.Logger == nil:
		return nil, errors.New("gacha: reconciler requires a logger")
	case params.Interval <= 0:
		return nil, fmt.Errorf("gacha: reconcile interval must be positive, got %v", params.Interval)
	case params.Grace <= 0:
		return nil, fmt.Errorf("gacha: reconcile grace must be positive, got %v", params.Grace)
	case params.Batch <= 0:
		return nil, fmt.Errorf("gacha: reconcile batch must be positive, got %v", params.Batch)
	}

	r := &Reconciler{
		pool:     params.Pool,
		outbox:   params.Outbox,
		identity: params.Identity,
		interval: params.Interval,
		grace:    params.Grace,
		batch:    params.Batch,
		logger:   params.Logger,
		now:      params.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Start runs the reconcile loop until Stop is called. It blocks, matching
// the lifecycle Service contract.
func (r *Reconciler) Start(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		case <-r.stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop terminates the reconcile loop and waits for the current pass.
func (r *Reconciler) Stop(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReconcileOnce performs a single repair pass: every committed roll past the
// grace period with no dispatch entries gets its commands re-translated and
// idempotently enqueued. Rolls that can no longer be translated (unlinked
// identity, reward removed from the pool) are logged and left for the next
// pass rather than dropped.
//
// Postcondition: Returns an error only when the scan itself fails; per-roll
// repair failures are logged and do not abort the pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	cutoff := r.now().Add(-r.grace)
	rolls, err := r.outbox.UnqueuedRolls(ctx, cutoff, r.batch)
	if err != nil {
		return fmt.Errorf("scanning for unqueued rolls: %w", err)
	}

	for _, roll := range rolls {
		if err := r.repair(ctx, roll); err != nil {
			r.logger.Error("could not repair unqueued roll",
				zap.String("roll_id", roll.ID.String()),
				zap.String("player_id", roll.PlayerID),
				zap.String("reward_id", roll.RewardID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("re-enqueued commands for unqueued roll",
			zap.String("roll_id", roll.ID.String()),
			zap.String("player_id", roll.PlayerID),
			zap.String("reward_id", roll.RewardID),
		)
	}
	return nil
}

func (r *Reconciler) repair(ctx context.Context, roll RollRecord) error {
	reward, ok := r.pool.ByID(roll.RewardID)
	if !ok {
		return fmt.Errorf("reward %q is no longer in the active pool", roll.RewardID)
	}

	target, err := r.identity.ResolveGameName(ctx, roll.PlayerID)
	if err != nil {
		return fmt.Errorf("resolving game identity: %w", err)
	}

	commands, err := Commands(reward, target)
	if err != nil {
		return fmt.Errorf("translating reward: %w", err)
	}

	for seq, cmd := range commands {
		if _, err := r.outbox.Enqueue(ctx, roll.ID, seq, cmd); err != nil {
			return fmt.Errorf("enqueueing command %d: %w", seq, err)
		}
	}
	return nil
}
