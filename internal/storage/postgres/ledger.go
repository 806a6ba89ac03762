package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/killunetwork/gacha/internal/gacha"
)

// ErrNoRolls is returned when a player has no roll history.
var ErrNoRolls = errors.New("no rolls recorded")

// RollLedger provides append-only persistence for completed rolls. It
// implements gacha.Ledger.
type RollLedger struct {
	db *pgxpool.Pool
}

// NewRollLedger creates a RollLedger backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRollLedger(db *pgxpool.Pool) *RollLedger {
	return &RollLedger{db: db}
}

// AppendIfEligible atomically checks the cooldown window for playerID and
// appends a new roll record.
//
// The check and the insert run in one transaction holding a per-player
// advisory lock (pg_advisory_xact_lock over a hash of the player id), making
// the sequence linearizable per player: of any set of racing calls inside
// one window, exactly one commits a record. Different players hash to
// different locks and proceed in parallel.
//
// Postcondition: Returns the committed record, *gacha.CooldownActiveError
// when a roll exists within window of now, or a wrapped storage error (in
// which case nothing was inserted).
func (r *RollLedger) AppendIfEligible(ctx context.Context, playerID, rewardID string, now time.Time, window time.Duration) (gacha.RollRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return gacha.RollRecord{}, fmt.Errorf("beginning roll transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, playerID,
	); err != nil {
		return gacha.RollRecord{}, fmt.Errorf("acquiring player roll lock: %w", err)
	}

	var last time.Time
	err = tx.QueryRow(ctx,
		`SELECT rolled_at FROM gacha_rolls
		 WHERE player_id = $1
		 ORDER BY rolled_at DESC
		 LIMIT 1`,
		playerID,
	).Scan(&last)
	switch {
	case err == nil:
		if now.Sub(last) < window {
			return gacha.RollRecord{}, &gacha.CooldownActiveError{
				PlayerID: playerID,
				RetryAt:  last.Add(window),
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
		// First roll for this player.
	default:
		return gacha.RollRecord{}, fmt.Errorf("querying last roll: %w", err)
	}

	record := gacha.RollRecord{
		ID:       uuid.New(),
		PlayerID: playerID,
		RewardID: rewardID,
		RolledAt: now.UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO gacha_rolls (id, player_id, reward_id, rolled_at)
		 VALUES ($1, $2, $3, $4)`,
		record.ID, record.PlayerID, record.RewardID, record.RolledAt,
	); err != nil {
		return gacha.RollRecord{}, fmt.Errorf("inserting roll record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return gacha.RollRecord{}, fmt.Errorf("committing roll record: %w", err)
	}
	return record, nil
}

// LastRollFor retrieves the most recent roll for playerID.
//
// Postcondition: Returns the record or ErrNoRolls.
func (r *RollLedger) LastRollFor(ctx context.Context, playerID string) (gacha.RollRecord, error) {
	var rec gacha.RollRecord
	err := r.db.QueryRow(ctx,
		`SELECT id, player_id, reward_id, rolled_at FROM gacha_rolls
		 WHERE player_id = $1
		 ORDER BY rolled_at DESC
		 LIMIT 1`,
		playerID,
	).Scan(&rec.ID, &rec.PlayerID, &rec.RewardID, &rec.RolledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gacha.RollRecord{}, ErrNoRolls
		}
		return gacha.RollRecord{}, fmt.Errorf("querying last roll: %w", err)
	}
	return rec, nil
}

// HistoryFor returns up to limit rolls for playerID, newest first.
//
// Precondition: limit must be positive.
func (r *RollLedger) HistoryFor(ctx context.Context, playerID string, limit int) ([]gacha.RollRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, player_id, reward_id, rolled_at FROM gacha_rolls
		 WHERE player_id = $1
		 ORDER BY rolled_at DESC
		 LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying roll history: %w", err)
	}
	defer rows.Close()

	var records []gacha.RollRecord
	for rows.Next() {
		var rec gacha.RollRecord
		if err := rows.Scan(&rec.ID, &rec.PlayerID, &rec.RewardID, &rec.RolledAt); err != nil {
			return nil, fmt.Errorf("scanning roll record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roll history: %w", err)
	}
	return records, nil
}
