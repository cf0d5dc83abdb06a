package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jmoiron/sqlx"
)

// ErrPasskeyNotFound is returned when deleting an unknown credential.
var ErrPasskeyNotFound = errors.New("clé d'accès introuvable")

// PasskeyUser implements webauthn.User for a profile.
type PasskeyUser struct {
	profile     *Profile
	credentials []webauthn.Credential
}

// NewPasskeyUser creates a PasskeyUser for the given profile.
func NewPasskeyUser(p *Profile, credentials []webauthn.Credential) *PasskeyUser {
	return &PasskeyUser{profile: p, credentials: credentials}
}

// WebAuthnID returns the user handle: the decimal profile ID.
func (u *PasskeyUser) WebAuthnID() []byte {
	return UserHandle(u.profile.ID)
}

// WebAuthnName returns the username.
func (u *PasskeyUser) WebAuthnName() string { return u.profile.Username }

// WebAuthnDisplayName returns the display name, or the username when unset.
func (u *PasskeyUser) WebAuthnDisplayName() string {
	if u.profile.DisplayName != "" {
		return u.profile.DisplayName
	}
	return u.profile.Username
}

// WebAuthnCredentials returns the stored credentials.
func (u *PasskeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// Profile returns the underlying profile.
func (u *PasskeyUser) Profile() *Profile { return u.profile }

// UserHandle encodes a profile ID as a WebAuthn user handle.
func UserHandle(profileID int64) []byte {
	return []byte(strconv.FormatInt(profileID, 10))
}

// ProfileIDFromHandle decodes a user handle produced by UserHandle.
func ProfileIDFromHandle(handle []byte) (int64, error) {
	id, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user handle")
	}
	return id, nil
}

// StoredCredential is a passkey credential with metadata.
type StoredCredential struct {
	ID         string              `json:"id"`
	ProfileID  int64               `json:"profile_id"`
	Name       string              `json:"name"`
	CreatedAt  time.Time           `json:"created_at"`
	Credential webauthn.Credential `json:"-"`
}

// PasskeyStore manages passkey credentials.
type PasskeyStore struct {
	db *sqlx.DB
}

// NewPasskeyStore creates a passkey store.
func NewPasskeyStore(db *sqlx.DB) *PasskeyStore {
	return &PasskeyStore{db: db}
}

// Save stores a new passkey credential for the profile.
func (s *PasskeyStore) Save(ctx context.Context, profileID int64, name string, cred *webauthn.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	id := fmt.Sprintf("%x", cred.ID)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO passkey_credentials (id, profile_id, name, credential_json) VALUES (?, ?, ?, ?)"),
		id, profileID, name, string(data),
	); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	return nil
}

// ListByProfile returns all credentials registered by the profile.
func (s *PasskeyStore) ListByProfile(ctx context.Context, profileID int64) ([]StoredCredential, error) {
	var rows []struct {
		ID        string    `db:"id"`
		ProfileID int64     `db:"profile_id"`
		Name      string    `db:"name"`
		Data      string    `db:"credential_json"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT id, profile_id, name, credential_json, created_at FROM passkey_credentials WHERE profile_id = ? ORDER BY created_at"),
		profileID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	result := make([]StoredCredential, 0, len(rows))
	for _, row := range rows {
		sc := StoredCredential{ID: row.ID, ProfileID: row.ProfileID, Name: row.Name, CreatedAt: row.CreatedAt}
		if err := json.Unmarshal([]byte(row.Data), &sc.Credential); err != nil {
			return nil, fmt.Errorf("unmarshaling credential: %w", err)
		}
		result = append(result, sc)
	}

	return result, nil
}

// WebAuthnCredentials returns just the webauthn.Credential slice for the profile.
func (s *PasskeyStore) WebAuthnCredentials(ctx context.Context, profileID int64) ([]webauthn.Credential, error) {
	stored, err := s.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(stored))
	for i, sc := range stored {
		creds[i] = sc.Credential
	}

	return creds, nil
}

// Delete removes one of the profile's credentials.
func (s *PasskeyStore) Delete(ctx context.Context, profileID int64, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM passkey_credentials WHERE id = ? AND profile_id = ?"), id, profileID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return ErrPasskeyNotFound
	}

	return nil
}
