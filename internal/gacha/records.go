package gacha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RollRecord is one completed roll in the append-only ledger. Records are
// created exactly once per successful roll and never mutated or deleted.
//
// Invariant: for any PlayerID, no two records have RolledAt values less than
// the cooldown window apart.
type RollRecord struct {
	ID       uuid.UUID
	PlayerID string
	RewardID string
	RolledAt time.Time
}

// DispatchStatus is the lifecycle state of a dispatch queue entry.
type DispatchStatus string

// Dispatch queue entry states. Entries start pending and only move forward;
// the external bridge (never this service) transitions them.
const (
	DispatchPending   DispatchStatus = "pending"
	DispatchDelivered DispatchStatus = "delivered"
	DispatchFailed    DispatchStatus = "failed"
)

// DispatchEntry is a durable outbox row holding one bridge command awaiting
// execution. Seq disambiguates multiple commands produced by a single roll;
// (RollRecordID, Seq) is unique, which makes re-enqueueing after an ambiguous
// failure idempotent.
type DispatchEntry struct {
	ID           uuid.UUID
	RollRecordID uuid.UUID
	Seq          int
	Command      string
	Status       DispatchStatus
	CreatedAt    time.Time
	DeliveredAt  *time.Time
	FailedAt     *time.Time
	FailReason   string
}

// CooldownActiveError reports that a player's cooldown window has not yet
// elapsed. It is an expected, frequent outcome and is returned to the caller
// without incident logging.
type CooldownActiveError struct {
	PlayerID string
	RetryAt  time.Time
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("gacha: cooldown active for player %s until %s",
		e.PlayerID, e.RetryAt.UTC().Format(time.RFC3339))
}

// ErrIdentityNotLinked is returned when a player has no linked in-game
// account. The caller can retry after linking.
var ErrIdentityNotLinked = errors.New("gacha: player has no linked game account")

// Ledger is the append-only roll history the Service records into. The
// check-and-append must be linearizable per player: two racing calls for the
// same player inside one cooldown window must yield exactly one record.
type Ledger interface {
	// AppendIfEligible atomically verifies that playerID has no roll within
	// window of now and appends a new record. Returns *CooldownActiveError
	// when the window has not elapsed.
	AppendIfEligible(ctx context.Context, playerID, rewardID string, now time.Time, window time.Duration) (RollRecord, error)

	// HistoryFor returns up to limit records for playerID, newest first.
	HistoryFor(ctx context.Context, playerID string, limit int) ([]RollRecord, error)
}

// Outbox is the durable dispatch queue the Service enqueues bridge commands
// into. Enqueue is idempotent over (rollRecordID, seq).
type Outbox interface {
	Enqueue(ctx context.Context, rollRecordID uuid.UUID, seq int, command string) (DispatchEntry, error)

	// UnqueuedRolls returns rolls older than cutoff that have no dispatch
	// entries at all, oldest first. Input for reconciliation.
	UnqueuedRolls(ctx context.Context, cutoff time.Time, limit int) ([]RollRecord, error)
}

// IdentityResolver maps a web player identity to the game server's own
// addressing scheme.
type IdentityResolver interface {
	// ResolveGameName returns the in-game username linked to playerID, or
	// ErrIdentityNotLinked.
	ResolveGameName(ctx context.Context, playerID string) (string, error)
}
