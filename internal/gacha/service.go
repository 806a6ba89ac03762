package gacha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// History limits for the caller-facing roll history.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// RollResult is the outcome of a successful roll.
type RollResult struct {
	Record RollRecord
	Reward RewardDefinition
	// Dispatched holds the queued bridge commands. Empty when
	// DispatchDeferred is true.
	Dispatched []DispatchEntry
	// DispatchDeferred is true when the ledger committed but enqueueing the
	// bridge commands failed after retries. The reward is owed and the
	// reconciler repairs the queue; the win stands.
	DispatchDeferred bool
}

// Service orchestrates a roll: identity resolution, weighted selection,
// atomic cooldown-checked ledger append, and idempotent command dispatch.
//
// Invariant: a reward is reported as won if and only if its ledger record
// committed. A committed record whose commands could not be queued is logged
// for reconciliation, never dropped.
type Service struct {
	pool       *Pool
	source     DrawSource
	ledger     Ledger
	outbox     Outbox
	identity   IdentityResolver
	window     time.Duration
	logger     *zap.Logger
	now        func() time.Time
	newBackoff func() backoff.BackOff
}

// ServiceParams collects the Service dependencies.
type ServiceParams struct {
	Pool     *Pool
	Source   DrawSource
	Ledger   Ledger
	Outbox   Outbox
	Identity IdentityResolver
	// Window is the per-player cooldown between successful rolls.
	Window time.Duration
	Logger *zap.Logger

	// Now overrides the clock; nil means time.Now. Tests inject fixed times.
	Now func() time.Time
	// NewBackoff overrides the enqueue retry policy; nil means a short
	// exponential backoff.
	NewBackoff func() backoff.BackOff
}

// NewService validates params and builds a Service.
//
// Precondition: Pool, Source, Ledger, Outbox, Identity, and Logger must be
// non-nil; Window must be positive.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Pool == nil:
		return nil, errors.New("gacha: service requires a pool")
	case params.Source == nil:
		return nil, errors.New("gacha: service requires a draw source")
	case params.Ledger == nil:
		return nil, errors.New("gacha: service requires a ledger")
	case params.Outbox == nil:
		return nil, errors.New("gacha: service requires an outbox")
	case params.Identity == nil:
		return nil, errors.New("gacha: service requires an identity resolver")
	case params.Logger == nil:
		return nil, errors.New("gacha: service requires a logger")
	case params.Window <= 0:
		return nil, fmt.Errorf("gacha: cooldown window must be positive, got %v", params.Window)
	}

	s := &Service{
		pool:       params.Pool,
		source:     params.Source,
		ledger:     params.Ledger,
		outbox:     params.Outbox,
		identity:   params.Identity,
		window:     params.Window,
		logger:     params.Logger,
		now:        params.Now,
		newBackoff: params.NewBackoff,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newBackoff == nil {
		s.newBackoff = defaultEnqueueBackoff
	}
	return s, nil
}

// Pool returns the active reward pool.
func (s *Service) Pool() *Pool {
	return s.pool
}

// Window returns the configured cooldown window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Roll performs one roll for playerID.
//
// Ordering: the in-game identity is resolved and the commands are proven
// translatable before the ledger is touched, so a record can never commit
// with an undeliverable effect. The cooldown check and the append are a
// single atomic unit inside the Ledger.
//
// Postcondition: On success the returned record is durably committed and its
// commands are queued (or flagged DispatchDeferred and logged for
// reconciliation). On *CooldownActiveError no record was created.
func (s *Service) Roll(ctx context.Context, playerID string) (RollResult, error) {
	if playerID == "" {
		return RollResult{}, errors.New("gacha: player id must not be empty")
	}

	target, err := s.identity.ResolveGameName(ctx, playerID)
	if err != nil {
		return RollResult{}, fmt.Errorf("resolving game identity for player %s: %w", playerID, err)
	}

	draw := s.source.Draw()
	reward, err := Select(s.pool, draw)
	if err != nil {
		return RollResult{}, fmt.Errorf("selecting reward for draw %v: %w", draw, err)
	}

	commands, err := Commands(reward, target)
	if err != nil {
		return RollResult{}, fmt.Errorf("translating reward %q: %w", reward.ID, err)
	}

	record, err := s.ledger.AppendIfEligible(ctx, playerID, reward.ID, s.now(), s.window)
	if err != nil {
		var cooldown *CooldownActiveError
		if errors.As(err, &cooldown) {
			return RollResult{}, err
		}
		return RollResult{}, fmt.Errorf("recording roll for player %s: %w", playerID, err)
	}

	result := RollResult{Record: record, Reward: reward}

	entries, err := s.enqueueAll(ctx, record.ID, commands)
	if err != nil {
		// The win is committed; the reward is owed. Surface the gap loudly
		// and let the reconciler repair the queue keyed by the roll id.
		s.logger.Error("roll recorded but dispatch enqueue failed; awaiting reconciliation",
			zap.String("player_id", playerID),
			zap.String("roll_id", record.ID.String()),
			zap.String("reward_id", reward.ID),
			zap.Error(err),
		)
		result.DispatchDeferred = true
		return result, nil
	}
	result.Dispatched = entries

	s.logger.Info("roll completed",
		zap.String("player_id", playerID),
		zap.String("roll_id", record.ID.String()),
		zap.String("reward_id", reward.ID),
		zap.String("rarity", string(reward.Rarity)),
		zap.Int("commands", len(entries)),
	)
	return result, nil
}

// History returns the caller's rolls, newest first. A non-positive limit
// falls back to DefaultHistoryLimit; limits above MaxHistoryLimit are capped.
func (s *Service) History(ctx context.Context, playerID string, limit int) ([]RollRecord, error) {
	if playerID == "" {
		return nil, errors.New("gacha: player id must not be empty")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := s.ledger.HistoryFor(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading roll history for player %s: %w", playerID, err)
	}
	return records, nil
}

// enqueueAll queues every command for rollID with bounded retry. Enqueueing
// is idempotent over (rollID, seq), so a retry after an ambiguous timeout
// cannot double-queue an effect.
func (s *Service) enqueueAll(ctx context.Context, rollID uuid.UUID, commands []string) ([]DispatchEntry, error) {
	entries := make([]DispatchEntry, 0, len(commands))
	for seq, cmd := range commands {
		var entry DispatchEntry
		op := func() error {
			var err error
			entry, err = s.outbox.Enqueue(ctx, rollID, seq, cmd)
			return err
		}
		if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
			return nil, fmt.Errorf("enqueueing command %d for roll %s: %w", seq, rollID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func defaultEnqueueBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}
