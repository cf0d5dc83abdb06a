package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/asd12288/meydacrm/internal/validation"
)

var (
	// ErrNotFound is returned when a profile does not exist.
	ErrNotFound = errors.New("profil introuvable")
	// ErrInvalidCredentials is returned for a bad username/password pair
	// or an inactive profile.
	ErrInvalidCredentials = errors.New("identifiant ou mot de passe incorrect")
	// ErrUsernameTaken is returned when creating a duplicate username.
	ErrUsernameTaken = errors.New("ce nom d'utilisateur est déjà pris")
	// ErrLastAdmin protects the last active admin from demotion or deactivation.
	ErrLastAdmin = errors.New("impossible de retirer le dernier administrateur actif")
)

// Profile is a CRM user.
type Profile struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	Email        string     `db:"email" json:"email"`
	Role         Role       `db:"role" json:"role"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// Principal converts the profile into a request principal.
func (p *Profile) Principal() Principal {
	return Principal{ProfileID: p.ID, Username: p.Username, DisplayName: p.DisplayName, Role: p.Role}
}

// NewProfile is the input for Create.
type NewProfile struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	DisplayName string `json:"display_name" validate:"max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	Role        Role   `json:"role" validate:"required,oneof=admin sales"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
}

// ProfileUpdate holds optional changes for Update.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
	Email       *string `json:"email" validate:"omitempty,email,max=254"`
	Role        *Role   `json:"role" validate:"omitempty,oneof=admin sales"`
}

// ProfileStore manages profiles.
type ProfileStore struct {
	db *sqlx.DB
}

// NewProfileStore creates a profile store.
func NewProfileStore(db *sqlx.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileColumns = `id, username, display_name, email, role, password_hash, active, created_at, last_login_at`

// Create adds a profile with a bcrypt-hashed password.
func (s *ProfileStore) Create(ctx context.Context, in NewProfile) (*Profile, error) {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(
		`INSERT INTO profiles (username, display_name, email, role, password_hash)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		in.Username, in.DisplayName, in.Email, string(in.Role), hash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("inserting profile: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns a profile by ID.
func (s *ProfileStore) GetByID(ctx context.Context, id int64) (*Profile, error) {
	var p Profile
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT "+profileColumns+" FROM profiles WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile %d: %w", id, err)
	}
	return &p, nil
}

// GetByUsername returns a profile by username (case-insensitive).
func (s *ProfileStore) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT "+profileColumns+" FROM profiles WHERE username = ?"),
		strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile %q: %w", username, err)
	}
	return &p, nil
}

// Authenticate checks a username/password pair and records the login time.
func (s *ProfileStore) Authenticate(ctx context.Context, username, password string) (*Profile, error) {
	p, err := s.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Burn comparable time so unknown usernames are not distinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !p.Active {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE profiles SET last_login_at = ? WHERE id = ?"), now, p.ID); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	p.LastLoginAt = &now

	return p, nil
}

// List returns all profiles ordered by username.
func (s *ProfileStore) List(ctx context.Context) ([]*Profile, error) {
	var profiles []*Profile
	if err := s.db.SelectContext(ctx, &profiles, "SELECT "+profileColumns+" FROM profiles ORDER BY username"); err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	return profiles, nil
}

// ListAssignable returns active sales profiles, the pool for lead assignment.
func (s *ProfileStore) ListAssignable(ctx context.Context) ([]*Profile, error) {
	var profiles []*Profile
	err := s.db.SelectContext(ctx, &profiles, s.db.Rebind(
		"SELECT "+profileColumns+" FROM profiles WHERE role = ? AND active = ? ORDER BY id"),
		string(RoleSales), true)
	if err != nil {
		return nil, fmt.Errorf("listing assignable profiles: %w", err)
	}
	return profiles, nil
}

// Update applies the non-nil fields of u.
func (s *ProfileStore) Update(ctx context.Context, id int64, u ProfileUpdate) (*Profile, error) {
	if err := validation.Struct(u); err != nil {
		return nil, err
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []interface{}
	if u.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, strings.TrimSpace(*u.DisplayName))
	}
	if u.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, strings.TrimSpace(*u.Email))
	}
	if u.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, string(*u.Role))
	}
	if len(sets) == 0 {
		return current, nil
	}

	args = append(args, id)
	query := "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	demotes := u.Role != nil && *u.Role != RoleAdmin
	if err := s.execGuarded(ctx, id, demotes, query, args...); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// SetPassword replaces a profile's password.
func (s *ProfileStore) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 || len(password) > 72 {
		return validation.Field("password", "Entre 8 et 72 caractères")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.execOne(ctx, s.db, id, "UPDATE profiles SET password_hash = ? WHERE id = ?", hash, id)
}

// SetActive enables or disables a profile. Disabled profiles cannot log in.
func (s *ProfileStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.execGuarded(ctx, id, !active, "UPDATE profiles SET active = ? WHERE id = ?", active, id)
}

// EnsureAdmin creates an admin profile when no active admin exists.
// It returns true if a profile was created.
func (s *ProfileStore) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	n, err := s.countActiveAdmins(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if username == "" || password == "" {
		return false, fmt.Errorf("no admin profile exists and CRM_ADMIN_USERNAME/CRM_ADMIN_PASSWORD are not set")
	}

	if _, err := s.Create(ctx, NewProfile{
		Username:    username,
		DisplayName: "Administrateur",
		Role:        RoleAdmin,
		Password:    password,
	}); err != nil {
		return false, fmt.Errorf("creating admin profile: %w", err)
	}
	return true, nil
}

// execGuarded runs a single-profile update. When removesAdmin is set and
// the profile is an active admin, the update is refused if it would leave
// no active admin. The check and the write share one transaction, and the
// admin rows are locked on PostgreSQL, so two admins demoting each other
// cannot both succeed.
func (s *ProfileStore) execGuarded(ctx context.Context, id int64, removesAdmin bool, query string, args ...interface{}) error {
	if !removesAdmin {
		return s.execOne(ctx, s.db, id, query, args...)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if s.db.DriverName() == "postgres" {
		lock = " FOR UPDATE"
	}
	var admins []int64
	if err := tx.SelectContext(ctx, &admins, tx.Rebind(
		"SELECT id FROM profiles WHERE role = ? AND active = ?"+lock), string(RoleAdmin), true); err != nil {
		return fmt.Errorf("listing active admins: %w", err)
	}
	if len(admins) <= 1 {
		for _, a := range admins {
			if a == id {
				return ErrLastAdmin
			}
		}
	}

	if err := s.execOne(ctx, tx, id, query, args...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profile %d: %w", id, err)
	}
	return nil
}

func (s *ProfileStore) countActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM profiles WHERE role = ? AND active = ?"),
		string(RoleAdmin), true)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

func (s *ProfileStore) execOne(ctx context.Context, e sqlx.ExtContext, id int64, query string, args ...interface{}) error {
	result, err := e.ExecContext(ctx, e.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating profile %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// dummyHash is compared against when the username does not exist. It uses
// the same cost as real hashes so both paths take as long.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), passwordCost)

const passwordCost = bcrypt.DefaultCost

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// isUniqueViolation matches both SQLite and Postgres unique constraint errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

const pqUniqueViolation pq.ErrorCode = "23505"
