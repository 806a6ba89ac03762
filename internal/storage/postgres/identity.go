package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/killunetwork/gacha/internal/gacha"
)

// LinkedAccounts resolves web player identities to in-game usernames. The
// link itself is written by the account-linking flow outside this service;
// rolls only read it. It implements gacha.IdentityResolver.
type LinkedAccounts struct {
	db *pgxpool.Pool
}

// NewLinkedAccounts creates a LinkedAccounts repository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewLinkedAccounts(db *pgxpool.Pool) *LinkedAccounts {
	return &LinkedAccounts{db: db}
}

// ResolveGameName returns the in-game username linked to playerID.
//
// Postcondition: Returns the username or gacha.ErrIdentityNotLinked.
func (l *LinkedAccounts) ResolveGameName(ctx context.Context, playerID string) (string, error) {
	var name string
	err := l.db.QueryRow(ctx,
		`SELECT minecraft_name FROM linked_accounts WHERE player_id = $1`,
		playerID,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", gacha.ErrIdentityNotLinked
		}
		return "", fmt.Errorf("querying linked account: %w", err)
	}
	return name, nil
}

// Link upserts the in-game username for playerID. Used by the account
// linking flow and by tests seeding fixtures.
//
// Precondition: playerID and name must be non-empty.
func (l *LinkedAccounts) Link(ctx context.Context, playerID, name string) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO linked_accounts (player_id, minecraft_name)
		 VALUES ($1, $2)
		 ON CONFLICT (player_id) DO UPDATE SET minecraft_name = EXCLUDED.minecraft_name`,
		playerID, name,
	)
	if err != nil {
		return fmt.Errorf("linking account: %w", err)
	}
	return nil
}
