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

// ErrEntryNotFound is returned when a dispatch queue lookup yields no results.
var ErrEntryNotFound = errors.New("dispatch entry not found")

// ErrEntryResolved is returned when a status transition targets an entry
// that already left the pending state. Transitions only move forward.
var ErrEntryResolved = errors.New("dispatch entry already resolved")

// DispatchQueue is the durable outbox of bridge commands. Entries are
// produced here and consumed by the external bridge; this service never
// executes them. It implements gacha.Outbox.
type DispatchQueue struct {
	db *pgxpool.Pool
}

// NewDispatchQueue creates a DispatchQueue backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewDispatchQueue(db *pgxpool.Pool) *DispatchQueue {
	return &DispatchQueue{db: db}
}

const dispatchColumns = `id, roll_record_id, seq, command, status, created_at, delivered_at, failed_at, COALESCE(fail_reason, '')`

// Enqueue durably queues a command for the bridge. The insert is keyed by
// (rollRecordID, seq): re-enqueueing after an ambiguous failure returns the
// existing entry instead of creating a second one.
//
// Postcondition: Exactly one entry exists for (rollRecordID, seq); the
// returned entry reflects the stored row.
func (q *DispatchQueue) Enqueue(ctx context.Context, rollRecordID uuid.UUID, seq int, command string) (gacha.DispatchEntry, error) {
	_, err := q.db.Exec(ctx,
		`INSERT INTO gacha_dispatch_queue (id, roll_record_id, seq, command, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 ON CONFLICT (roll_record_id, seq) DO NOTHING`,
		uuid.New(), rollRecordID, seq, command,
	)
	if err != nil {
		return gacha.DispatchEntry{}, fmt.Errorf("inserting dispatch entry: %w", err)
	}

	var entry gacha.DispatchEntry
	err = q.db.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM gacha_dispatch_queue
		 WHERE roll_record_id = $1 AND seq = $2`,
		rollRecordID, seq,
	).Scan(&entry.ID, &entry.RollRecordID, &entry.Seq, &entry.Command,
		&entry.Status, &entry.CreatedAt, &entry.DeliveredAt, &entry.FailedAt, &entry.FailReason)
	if err != nil {
		return gacha.DispatchEntry{}, fmt.Errorf("reading dispatch entry: %w", err)
	}
	return entry, nil
}

// Pending returns up to limit pending entries, oldest first, for the bridge
// to execute.
//
// Precondition: limit must be positive.
func (q *DispatchQueue) Pending(ctx context.Context, limit int) ([]gacha.DispatchEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+dispatchColumns+` FROM gacha_dispatch_queue
		 WHERE status = 'pending'
		 ORDER BY created_at, seq
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending dispatch entries: %w", err)
	}
	defer rows.Close()

	var entries []gacha.DispatchEntry
	for rows.Next() {
		var entry gacha.DispatchEntry
		if err := rows.Scan(&entry.ID, &entry.RollRecordID, &entry.Seq, &entry.Command,
			&entry.Status, &entry.CreatedAt, &entry.DeliveredAt, &entry.FailedAt, &entry.FailReason); err != nil {
			return nil, fmt.Errorf("scanning dispatch entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch entries: %w", err)
	}
	return entries, nil
}

// MarkDelivered transitions a pending entry to delivered.
//
// Postcondition: Returns nil on transition, ErrEntryNotFound for an unknown
// id, or ErrEntryResolved when the entry already left pending.
func (q *DispatchQueue) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE gacha_dispatch_queue
		 SET status = 'delivered', delivered_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking dispatch entry delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.resolveTransitionFailure(ctx, id)
	}
	return nil
}

// MarkFailed transitions a pending entry to failed with a reason.
//
// Postcondition: Returns nil on transition, ErrEntryNotFound for an unknown
// id, or ErrEntryResolved when the entry already left pending.
func (q *DispatchQueue) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE gacha_dispatch_queue
		 SET status = 'failed', failed_at = NOW(), fail_reason = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("marking dispatch entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.resolveTransitionFailure(ctx, id)
	}
	return nil
}

// resolveTransitionFailure distinguishes an unknown entry from one that has
// already been resolved.
func (q *DispatchQueue) resolveTransitionFailure(ctx context.Context, id uuid.UUID) error {
	var status gacha.DispatchStatus
	err := q.db.QueryRow(ctx,
		`SELECT status FROM gacha_dispatch_queue WHERE id = $1`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("querying dispatch entry status: %w", err)
	}
	return fmt.Errorf("%w: status is %s", ErrEntryResolved, status)
}

// UnqueuedRolls returns rolls committed before cutoff that have no dispatch
// entries at all, oldest first. These are dispatch inconsistencies awaiting
// reconciliation.
//
// Precondition: limit must be positive.
func (q *DispatchQueue) UnqueuedRolls(ctx context.Context, cutoff time.Time, limit int) ([]gacha.RollRecord, error) {
	rows, err := q.db.Query(ctx,
		`SELECT r.id, r.player_id, r.reward_id, r.rolled_at
		 FROM gacha_rolls r
		 LEFT JOIN gacha_dispatch_queue d ON d.roll_record_id = r.id
		 WHERE d.id IS NULL AND r.rolled_at < $1
		 ORDER BY r.rolled_at
		 LIMIT $2`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unqueued rolls: %w", err)
	}
	defer rows.Close()

	var records []gacha.RollRecord
	for rows.Next() {
		var rec gacha.RollRecord
		if err := rows.Scan(&rec.ID, &rec.PlayerID, &rec.RewardID, &rec.RolledAt); err != nil {
			return nil, fmt.Errorf("scanning unqueued roll: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unqueued rolls: %w", err)
	}
	return records, nil
}
