package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/asd12288/meydacrm/internal/auth"
)

// Repository runs lead queries. Methods take the querier so the service
// can run them inside a transaction.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a lead repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `l.id, l.external_id, l.first_name, l.last_name, l.email, l.phone, l.company, l.job_title,
	l.address, l.city, l.postal_code, l.country, l.source, l.status, l.notes, l.assigned_to,
	COALESCE(NULLIF(p.display_name, ''), p.username, '') AS assignee_name,
	l.created_by, l.latitude, l.longitude, l.created_at, l.updated_at, l.deleted_at`

const fromLeads = ` FROM leads l LEFT JOIN profiles p ON p.id = l.assigned_to`

// visibility is the row-level policy: live leads only, and sales see
// only their own.
func visibility(scope auth.Principal) (string, []interface{}) {
	if scope.IsAdmin() {
		return "l.deleted_at IS NULL", nil
	}
	return "l.deleted_at IS NULL AND l.assigned_to = ?", []interface{}{scope.ProfileID}
}

func (r *Repository) insert(ctx context.Context, q sqlx.ExtContext, in Input, createdBy *int64) (int64, error) {
	now := time.Now().UTC()
	status := in.Status
	if status == "" {
		status = StatusNew
	}

	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`INSERT INTO leads
		(external_id, first_name, last_name, email, phone, company, job_title, address, city, postal_code,
		 country, source, status, notes, assigned_to, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		in.ExternalID, in.FirstName, in.LastName, in.Email, in.Phone, in.Company, in.JobTitle,
		in.Address, in.City, in.PostalCode, in.Country, in.Source, string(status), in.Notes,
		in.AssignedTo, createdBy, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting lead: %w", err)
	}
	return id, nil
}

// get returns a lead visible to scope.
func (r *Repository) get(ctx context.Context, q sqlx.ExtContext, id int64, scope auth.Principal) (*Lead, error) {
	cond, args := visibility(scope)
	var l Lead
	err := sqlx.GetContext(ctx, q, &l, q.Rebind("SELECT "+selectColumns+fromLeads+" WHERE l.id = ? AND "+cond),
		append([]interface{}{id}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lead %d: %w", id, err)
	}
	return &l, nil
}

// getAny returns a lead regardless of deletion, for admin-only paths.
func (r *Repository) getAny(ctx context.Context, q sqlx.ExtContext, id int64) (*Lead, error) {
	var l Lead
	err := sqlx.GetContext(ctx, q, &l, q.Rebind("SELECT "+selectColumns+fromLeads+" WHERE l.id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lead %d: %w", id, err)
	}
	return &l, nil
}

// where builds the WHERE clause for a filter within scope.
func where(f Filter, scope auth.Principal) (string, []interface{}) {
	cond, args := visibility(scope)
	conditions := []string{cond}

	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "l.status IN ("+strings.Join(marks, ", ")+")")
	}

	switch {
	case f.Unassigned:
		conditions = append(conditions, "l.assigned_to IS NULL")
	case f.AssignedTo != nil:
		conditions = append(conditions, "l.assigned_to = ?")
		args = append(args, *f.AssignedTo)
	}

	if f.Source != "" {
		conditions = append(conditions, "l.source = ?")
		args = append(args, f.Source)
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		var ors []string
		for _, col := range []string{"l.first_name", "l.last_name", "l.email", "l.phone", "l.company"} {
			ors = append(ors, "LOWER("+col+`) LIKE ? ESCAPE '\'`)
			args = append(args, like)
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
	}

	if f.CreatedFrom != nil {
		conditions = append(conditions, "l.created_at >= ?")
		args = append(args, f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		conditions = append(conditions, "l.created_at < ?")
		args = append(args, f.CreatedTo.UTC())
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func orderBy(f Filter) string {
	col := "l.created_at"
	switch f.Sort {
	case "updated_at":
		col = "l.updated_at"
	case "last_name":
		col = "LOWER(l.last_name)"
	}
	dir := " ASC"
	if f.Desc {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir + ", l.id" + dir
}

// list returns matching leads; limit 0 means all.
func (r *Repository) list(ctx context.Context, f Filter, scope auth.Principal, limit, offset int) ([]*Lead, error) {
	clause, args := where(f, scope)
	query := "SELECT " + selectColumns + fromLeads + clause + orderBy(f)
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	leads := []*Lead{}
	if err := r.db.SelectContext(ctx, &leads, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}
	return leads, nil
}

func (r *Repository) count(ctx context.Context, f Filter, scope auth.Principal) (int, error) {
	clause, args := where(f, scope)
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind("SELECT COUNT(*)"+fromLeads+clause), args...); err != nil {
		return 0, fmt.Errorf("counting leads: %w", err)
	}
	return n, nil
}

// listDeleted returns soft-deleted leads, most recently deleted first.
func (r *Repository) listDeleted(ctx context.Context) ([]*Lead, error) {
	leads := []*Lead{}
	if err := r.db.SelectContext(ctx, &leads,
		"SELECT "+selectColumns+fromLeads+" WHERE l.deleted_at IS NOT NULL ORDER BY l.deleted_at DESC, l.id DESC"); err != nil {
		return nil, fmt.Errorf("listing deleted leads: %w", err)
	}
	return leads, nil
}

// execOne runs an update that must touch exactly one row.
func execOne(ctx context.Context, e sqlx.ExecerContext, query string, args ...interface{}) error {
	result, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return err
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

func (r *Repository) updateFields(ctx context.Context, tx *sqlx.Tx, id int64, cols []string, vals []interface{}) error {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	sets = append(sets, "updated_at = ?")
	args := append(vals, time.Now().UTC(), id)
	query := tx.Rebind("UPDATE leads SET " + strings.Join(sets, ", ") + " WHERE id = ? AND deleted_at IS NULL")
	if err := execOne(ctx, tx, query, args...); err != nil {
		return fmt.Errorf("updating lead %d: %w", id, err)
	}
	return nil
}

func (r *Repository) setCoordinates(ctx context.Context, id int64, lat, lon float64) error {
	err := execOne(ctx, r.db, r.db.Rebind("UPDATE leads SET latitude = ?, longitude = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL"),
		lat, lon, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("storing coordinates for lead %d: %w", id, err)
	}
	return nil
}

// activeProfiles returns which of ids are active profiles.
func (r *Repository) activeProfiles(ctx context.Context, q sqlx.ExtContext, ids []int64) (map[int64]bool, error) {
	if len(ids) == 0 {
		return map[int64]bool{}, nil
	}
	query, args, err := sqlx.In("SELECT id FROM profiles WHERE active = ? AND id IN (?)", true, ids)
	if err != nil {
		return nil, fmt.Errorf("building profile query: %w", err)
	}
	var found []int64
	if err := sqlx.SelectContext(ctx, q, &found, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("checking profiles: %w", err)
	}
	out := make(map[int64]bool, len(found))
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// purgeDeleted hard-deletes leads soft-deleted before cutoff.
func (r *Repository) purgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM leads WHERE deleted_at IS NOT NULL AND deleted_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging deleted leads: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
