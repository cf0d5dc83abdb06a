package banner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/validation"
)

// Repository stores banners, their targets and dismissals.
type Repository struct {
	db     *sqlx.DB
	events realtime.Publisher
}

// NewRepository creates a banner repository. Newly live banners are
// announced through events.
func NewRepository(db *sqlx.DB, events realtime.Publisher) *Repository {
	if events == nil {
		events = realtime.Discard
	}
	return &Repository{db: db, events: events}
}

const selectBanner = `SELECT id, message, level, audience, target_role, active, starts_at, expires_at, created_by, created_at FROM banners`

func normalize(in *Input, now time.Time) error {
	in.Message = strings.TrimSpace(in.Message)
	if in.Level == "" {
		in.Level = LevelInfo
	}
	if in.Audience == "" {
		in.Audience = AudienceAll
	}
	if err := validation.Struct(*in); err != nil {
		return err
	}

	switch in.Audience {
	case AudienceRole:
		if in.TargetRole == "" {
			return validation.Field("target_role", "Ce champ est obligatoire")
		}
		in.TargetIDs = nil
	case AudienceUsers:
		if len(in.TargetIDs) == 0 {
			return validation.Field("target_ids", "Sélectionnez au moins un utilisateur")
		}
		in.TargetRole = ""
	default:
		in.TargetRole = ""
		in.TargetIDs = nil
	}

	if in.StartsAt == nil {
		in.StartsAt = &now
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(*in.StartsAt) {
		return validation.Field("expires_at", "Doit être postérieure à la date de début")
	}
	return nil
}

// Create stores a new active banner.
func (r *Repository) Create(ctx context.Context, in Input, actor auth.Principal) (*Banner, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	now := time.Now().UTC()
	if err := normalize(&in, now); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	author := actor.ProfileID
	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO banners
		(message, level, audience, target_role, active, starts_at, expires_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		in.Message, string(in.Level), string(in.Audience), in.TargetRole, true,
		in.StartsAt.UTC(), utcPtr(in.ExpiresAt), author, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting banner: %w", err)
	}
	if err := replaceTargets(ctx, tx, id, in.TargetIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing banner: %w", err)
	}

	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.announce(b, now)
	return b, nil
}

// Update replaces a banner's content and targeting. Dismissals are kept.
func (r *Repository) Update(ctx context.Context, id int64, in Input, actor auth.Principal) (*Banner, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	now := time.Now().UTC()
	if err := normalize(&in, now); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE banners SET message = ?, level = ?, audience = ?, target_role = ?,
		starts_at = ?, expires_at = ? WHERE id = ?`),
		in.Message, string(in.Level), string(in.Audience), in.TargetRole, in.StartsAt.UTC(), utcPtr(in.ExpiresAt), id)
	if err != nil {
		return nil, fmt.Errorf("updating banner: %w", err)
	}
	if err := oneRow(result); err != nil {
		return nil, err
	}
	if err := replaceTargets(ctx, tx, id, in.TargetIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing banner: %w", err)
	}

	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.announce(b, now)
	return b, nil
}

// SetActive shows or hides a banner.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool, actor auth.Principal) (*Banner, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE banners SET active = ? WHERE id = ?"), active, id)
	if err != nil {
		return nil, fmt.Errorf("updating banner: %w", err)
	}
	if err := oneRow(result); err != nil {
		return nil, err
	}

	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if active {
		r.announce(b, time.Now().UTC())
	}
	return b, nil
}

// Delete removes a banner with its targets and dismissals.
func (r *Repository) Delete(ctx context.Context, id int64, actor auth.Principal) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM banners WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting banner: %w", err)
	}
	return oneRow(result)
}

// Get returns a banner with its target profiles.
func (r *Repository) Get(ctx context.Context, id int64) (*Banner, error) {
	var b Banner
	err := r.db.GetContext(ctx, &b, r.db.Rebind(selectBanner+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading banner %d: %w", id, err)
	}
	if err := r.loadTargets(ctx, []*Banner{&b}); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns every banner, newest first.
func (r *Repository) List(ctx context.Context, actor auth.Principal) ([]*Banner, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	banners := []*Banner{}
	if err := r.db.SelectContext(ctx, &banners, selectBanner+" ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("listing banners: %w", err)
	}
	if err := r.loadTargets(ctx, banners); err != nil {
		return nil, err
	}
	return banners, nil
}

// ActiveFor returns the banners p should see at now: active, started, not
// expired, addressed to p, and not dismissed by p. Critical banners come
// first.
func (r *Repository) ActiveFor(ctx context.Context, p auth.Principal, now time.Time) ([]*Banner, error) {
	now = now.UTC()
	query := selectBanner + ` b WHERE b.active = ? AND b.starts_at <= ? AND (b.expires_at IS NULL OR b.expires_at > ?)
		AND NOT EXISTS (SELECT 1 FROM banner_dismissals d WHERE d.banner_id = b.id AND d.profile_id = ?)
		AND (b.audience = 'all'
			OR (b.audience = 'role' AND b.target_role = ?)
			OR (b.audience = 'users' AND EXISTS (SELECT 1 FROM banner_targets t WHERE t.banner_id = b.id AND t.profile_id = ?)))
		ORDER BY CASE b.level WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, b.created_at DESC, b.id DESC`

	banners := []*Banner{}
	err := r.db.SelectContext(ctx, &banners, r.db.Rebind(query),
		true, now, now, p.ProfileID, string(p.Role), p.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("listing active banners: %w", err)
	}
	return banners, nil
}

// Dismiss hides a banner for one profile. Dismissing twice is a no-op.
func (r *Repository) Dismiss(ctx context.Context, bannerID, profileID int64) error {
	if _, err := r.Get(ctx, bannerID); err != nil {
		return err
	}
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(
		"SELECT EXISTS (SELECT 1 FROM banner_dismissals WHERE banner_id = ? AND profile_id = ?)"), bannerID, profileID)
	if err != nil {
		return fmt.Errorf("checking dismissal: %w", err)
	}
	if exists {
		return nil
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		"INSERT INTO banner_dismissals (banner_id, profile_id, dismissed_at) VALUES (?, ?, ?)"),
		bannerID, profileID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dismissing banner: %w", err)
	}
	return nil
}

// DeactivateExpired switches off active banners whose expiry has passed.
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		"UPDATE banners SET active = ? WHERE active = ? AND expires_at IS NOT NULL AND expires_at <= ?"),
		false, true, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivating expired banners: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func (r *Repository) loadTargets(ctx context.Context, banners []*Banner) error {
	if len(banners) == 0 {
		return nil
	}
	byID := make(map[int64]*Banner, len(banners))
	ids := make([]int64, 0, len(banners))
	for _, b := range banners {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	query, args, err := sqlx.In("SELECT banner_id, profile_id FROM banner_targets WHERE banner_id IN (?) ORDER BY profile_id", ids)
	if err != nil {
		return fmt.Errorf("building target query: %w", err)
	}
	var rows []struct {
		BannerID  int64 `db:"banner_id"`
		ProfileID int64 `db:"profile_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading banner targets: %w", err)
	}
	for _, row := range rows {
		b := byID[row.BannerID]
		b.TargetIDs = append(b.TargetIDs, row.ProfileID)
	}
	return nil
}

func replaceTargets(ctx context.Context, tx *sqlx.Tx, bannerID int64, profileIDs []int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM banner_targets WHERE banner_id = ?"), bannerID); err != nil {
		return fmt.Errorf("clearing banner targets: %w", err)
	}
	seen := map[int64]bool{}
	for _, id := range profileIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO banner_targets (banner_id, profile_id) VALUES (?, ?)"), bannerID, id); err != nil {
			return fmt.Errorf("adding banner target %d: %w", id, err)
		}
	}
	return nil
}

// announce publishes b when it is already live.
func (r *Repository) announce(b *Banner, now time.Time) {
	if !b.Live(now) {
		return
	}
	ev := realtime.Event{Type: realtime.BannerPublished, Data: b}
	if b.Audience == AudienceUsers {
		ev.ProfileIDs = b.TargetIDs
	} else {
		ev.Everyone = true
	}
	r.events.Publish(ev)
}

func oneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
