package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	apiKeyBytes  = 32 // 256-bit keys
	apiKeyPrefix = "crm_"
)

// ErrKeyNotFound is returned when deleting a key the profile does not own.
var ErrKeyNotFound = errors.New("clé API introuvable")

// APIKey is the stored representation of an API key (no raw key).
type APIKey struct {
	ID         int64      `db:"id" json:"id"`
	ProfileID  int64      `db:"profile_id" json:"profile_id"`
	Name       string     `db:"name" json:"name"`
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// APIKeyStore manages profile-owned API keys.
type APIKeyStore struct {
	db *sqlx.DB
}

// NewAPIKeyStore creates an API key store.
func NewAPIKeyStore(db *sqlx.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Create generates a new API key for the profile.
// Returns the raw key (shown once) and the stored record.
func (s *APIKeyStore) Create(ctx context.Context, profileID int64, name string) (string, *APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "CLI"
	}

	raw, err := generateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}

	key := &APIKey{
		ProfileID: profileID,
		Name:      name,
		KeyPrefix: raw[:len(apiKeyPrefix)+8],
		CreatedAt: time.Now().UTC(),
	}

	err = s.db.QueryRowxContext(ctx, s.db.Rebind(
		"INSERT INTO api_keys (profile_id, name, key_prefix, key_hash, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		profileID, key.Name, key.KeyPrefix, hashAPIKey(raw), key.CreatedAt,
	).Scan(&key.ID)
	if err != nil {
		return "", nil, fmt.Errorf("storing key: %w", err)
	}

	return raw, key, nil
}

// List returns the profile's API keys, newest first.
func (s *APIKeyStore) List(ctx context.Context, profileID int64) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.SelectContext(ctx, &keys, s.db.Rebind(
		"SELECT id, profile_id, name, key_prefix, created_at, last_used_at FROM api_keys WHERE profile_id = ? ORDER BY created_at DESC, id DESC"),
		profileID)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	return keys, nil
}

// Delete removes one of the profile's API keys.
func (s *APIKeyStore) Delete(ctx context.Context, profileID, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM api_keys WHERE id = ? AND profile_id = ?"), id, profileID)
	if err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// Validate checks a raw API key and returns the owning profile ID.
// A valid key has its last_used_at refreshed.
func (s *APIKeyStore) Validate(ctx context.Context, rawKey string) (int64, bool, error) {
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return 0, false, nil
	}

	var profileID int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		"UPDATE api_keys SET last_used_at = ? WHERE key_hash = ? RETURNING profile_id"),
		time.Now().UTC(), hashAPIKey(rawKey),
	).Scan(&profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("validating key: %w", err)
	}

	return profileID, true, nil
}

func generateAPIKey() (string, error) {
	h, err := randomHex(apiKeyBytes)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + h, nil
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
