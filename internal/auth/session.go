package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	sessionExpiry = 30 * 24 * time.Hour // 30 days
	cookieName    = "crm_session"
)

// ErrNoSession is returned when a request carries no valid session.
var ErrNoSession = errors.New("session invalide ou expirée")

// SessionStore manages server-side sessions.
type SessionStore struct {
	db     *sqlx.DB
	secure bool
}

// NewSessionStore creates a session store. secure marks cookies HTTPS-only.
func NewSessionStore(db *sqlx.DB, secure bool) *SessionStore {
	return &SessionStore{db: db, secure: secure}
}

// Create starts a session for the profile and sets the cookie.
func (s *SessionStore) Create(ctx context.Context, w http.ResponseWriter, profileID int64) error {
	id, err := randomHex(32)
	if err != nil {
		return fmt.Errorf("generating session ID: %w", err)
	}

	expiresAt := time.Now().UTC().Add(sessionExpiry)

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO sessions (id, profile_id, expires_at) VALUES (?, ?, ?)"),
		id, profileID, expiresAt,
	); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Validate checks the session cookie and returns the profile ID.
func (s *SessionStore) Validate(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return 0, ErrNoSession
	}

	var row struct {
		ProfileID int64     `db:"profile_id"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err = s.db.GetContext(r.Context(), &row, s.db.Rebind(
		"SELECT profile_id, expires_at FROM sessions WHERE id = ?"), cookie.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, fmt.Errorf("querying session: %w", err)
	}

	if time.Now().After(row.ExpiresAt) {
		if _, delErr := s.db.ExecContext(r.Context(), s.db.Rebind("DELETE FROM sessions WHERE id = ?"), cookie.Value); delErr != nil {
			return 0, fmt.Errorf("deleting expired session: %w", delErr)
		}
		return 0, ErrNoSession
	}

	return row.ProfileID, nil
}

// Destroy removes the session and clears the cookie.
func (s *SessionStore) Destroy(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil
	}

	if _, err := s.db.ExecContext(r.Context(), s.db.Rebind("DELETE FROM sessions WHERE id = ?"), cookie.Value); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// DestroyForProfile ends every session of a profile, used on password
// change and deactivation.
func (s *SessionStore) DestroyForProfile(ctx context.Context, profileID int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE profile_id = ?"), profileID); err != nil {
		return fmt.Errorf("deleting sessions for profile %d: %w", profileID, err)
	}
	return nil
}

// Cleanup removes expired sessions and reports how many were deleted.
func (s *SessionStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE expires_at < ?"), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
