package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const tokenExpiry = 15 * time.Minute

var (
	// ErrTokenInvalid covers unknown, used and expired reset tokens.
	ErrTokenInvalid = errors.New("lien de réinitialisation invalide ou expiré")
)

// TokenStore manages single-use password reset tokens.
type TokenStore struct {
	db *sqlx.DB
}

// NewTokenStore creates a token store.
func NewTokenStore(db *sqlx.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Create generates a reset token for the profile and returns it.
func (s *TokenStore) Create(ctx context.Context, profileID int64) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().UTC().Add(tokenExpiry)

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO reset_tokens (token, profile_id, expires_at) VALUES (?, ?, ?)"),
		token, profileID, expiresAt,
	); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}

	return token, nil
}

// Consume checks a token and returns its profile ID.
// The token is marked as used and cannot be reused.
func (s *TokenStore) Consume(ctx context.Context, token string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		ProfileID int64     `db:"profile_id"`
		Used      bool      `db:"used"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err = tx.GetContext(ctx, &row, tx.Rebind(
		"SELECT profile_id, used, expires_at FROM reset_tokens WHERE token = ?"), token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("querying token: %w", err)
	}

	if row.Used || time.Now().After(row.ExpiresAt) {
		return 0, ErrTokenInvalid
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE reset_tokens SET used = ? WHERE token = ?"), true, token); err != nil {
		return 0, fmt.Errorf("marking token used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing token: %w", err)
	}

	return row.ProfileID, nil
}

// Cleanup removes expired tokens.
func (s *TokenStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM reset_tokens WHERE expires_at < ?"), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
