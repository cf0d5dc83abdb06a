package lead

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/cache"
	"github.com/asd12288/meydacrm/internal/geocode"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/validation"
)

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (*geocode.Result, error)
}

// Service provides lead business logic and enforces the access policy.
type Service struct {
	db       *sqlx.DB
	repo     *Repository
	cache    cache.Cache
	statsTTL time.Duration
	events   realtime.Publisher
	geocoder Geocoder
	assigned prometheus.Counter
	loc      *time.Location
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores dashboard stats in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.statsTTL = c, ttl }
}

// WithPublisher sends change events to p.
func WithPublisher(p realtime.Publisher) Option { return func(s *Service) { s.events = p } }

// WithGeocoder enables Geocode.
func WithGeocoder(g Geocoder) Option { return func(s *Service) { s.geocoder = g } }

// WithAssignedCounter counts leads handed to a profile.
func WithAssignedCounter(c prometheus.Counter) Option { return func(s *Service) { s.assigned = c } }

// WithLocation sets the time zone of exported dates.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// NewService creates a lead service.
func NewService(db *sqlx.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		repo:     NewRepository(db),
		cache:    cache.NewMemory(),
		statsTTL: time.Minute,
		events:   realtime.Discard,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func actorRef(actor auth.Principal) *int64 {
	if actor.ProfileID == 0 {
		return nil
	}
	id := actor.ProfileID
	return &id
}

func requireAdmin(actor auth.Principal) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// Create validates and stores a new lead. Leads created by sales are
// assigned to their creator.
func (s *Service) Create(ctx context.Context, in Input, actor auth.Principal) (*Lead, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		id, err = s.createTx(ctx, tx, in, actor, history.Created)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	l, err := s.repo.getAny(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.publish(realtime.LeadCreated, l, l.AssignedTo)
	return l, nil
}

func (s *Service) createTx(ctx context.Context, tx *sqlx.Tx, in Input, actor auth.Principal, event history.EventType) (int64, error) {
	in.trim()
	if err := validation.Struct(in); err != nil {
		return 0, err
	}

	if !actor.IsAdmin() {
		self := actor.ProfileID
		in.AssignedTo = &self
	} else if in.AssignedTo != nil {
		if err := s.checkAssignees(ctx, tx, []int64{*in.AssignedTo}); err != nil {
			return 0, err
		}
	}

	id, err := s.repo.insert(ctx, tx, in, actorRef(actor))
	if err != nil {
		return 0, err
	}

	status := in.Status
	if status == "" {
		status = StatusNew
	}
	payload := map[string]interface{}{"status": status, "assigned_to": in.AssignedTo}
	if err := history.Record(ctx, tx, id, actorRef(actor), event, payload); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns a lead visible to scope.
func (s *Service) Get(ctx context.Context, id int64, scope auth.Principal) (*Lead, error) {
	return s.repo.get(ctx, s.db, id, scope)
}

// List returns one page of leads matching f within scope.
func (s *Service) List(ctx context.Context, f Filter, scope auth.Principal) (*Page, error) {
	for _, st := range f.Statuses {
		if !st.IsValid() {
			return nil, ErrInvalidStatus
		}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}

	page := &Page{Page: f.Page, PageSize: f.PageSize}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		leads, err := s.repo.list(gctx, f, scope, f.PageSize, (f.Page-1)*f.PageSize)
		page.Leads = leads
		return err
	})
	g.Go(func() error {
		n, err := s.repo.count(gctx, f, scope)
		page.Total = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}

// Update applies p and records one history event with the field diff.
// A patch that changes nothing records nothing.
func (s *Service) Update(ctx context.Context, id int64, p Patch, actor auth.Principal) (*Lead, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.repo.get(ctx, tx, id, actor)
		if err != nil {
			return err
		}

		next := *current
		diff := map[string]history.Change{}
		var cols []string
		var vals []interface{}
		for _, f := range editableFields {
			v := f.patch(&p)
			if v == nil {
				continue
			}
			nv := strings.TrimSpace(*v)
			if old := *f.get(&next); old != nv {
				diff[f.column] = history.Change{From: old, To: nv}
				*f.get(&next) = nv
				cols = append(cols, f.column)
				vals = append(vals, nv)
			}
		}
		if len(cols) == 0 {
			return nil
		}

		if err := validation.Struct(inputFrom(&next)); err != nil {
			return err
		}
		if err := s.repo.updateFields(ctx, tx, id, cols, vals); err != nil {
			return err
		}
		changed = true
		return history.Record(ctx, tx, id, actorRef(actor), history.Updated, diff)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.invalidateStats(ctx)
	}
	return s.repo.get(ctx, s.db, id, actor)
}

// MoveStatus sets a lead's status, as when dragged across board columns.
// Moving to the current status is a no-op.
func (s *Service) MoveStatus(ctx context.Context, id int64, status Status, actor auth.Principal) (*Lead, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	var from Status
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.repo.get(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		from = current.Status
		if from == status {
			return nil
		}
		if err := s.repo.updateFields(ctx, tx, id, []string{"status"}, []interface{}{string(status)}); err != nil {
			return err
		}
		return history.Record(ctx, tx, id, actorRef(actor), history.StatusChanged, history.Change{From: from, To: status})
	})
	if err != nil {
		return nil, err
	}

	l, err := s.repo.get(ctx, s.db, id, actor)
	if err != nil {
		return nil, err
	}
	if from != status {
		s.invalidateStats(ctx)
		s.publish(realtime.LeadStatusChanged, map[string]interface{}{"lead": l, "from": from, "to": status}, l.AssignedTo)
	}
	return l, nil
}

// Assign hands a lead to a profile, or unassigns it when assignee is nil.
func (s *Service) Assign(ctx context.Context, id int64, assignee *int64, actor auth.Principal) (*Lead, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var previous *int64
	changed := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if assignee != nil {
			if err := s.checkAssignees(ctx, tx, []int64{*assignee}); err != nil {
				return err
			}
		}
		var err error
		previous, changed, err = s.assignTx(ctx, tx, id, assignee, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	l, err := s.repo.get(ctx, s.db, id, actor)
	if err != nil {
		return nil, err
	}
	if changed {
		s.invalidateStats(ctx)
		s.countAssigned(assignee, 1)
		s.publish(realtime.LeadAssigned, map[string]interface{}{"lead": l, "from": previous, "to": assignee}, previous, assignee)
	}
	return l, nil
}

func (s *Service) assignTx(ctx context.Context, tx *sqlx.Tx, id int64, assignee *int64, actor auth.Principal) (*int64, bool, error) {
	current, err := s.repo.get(ctx, tx, id, actor)
	if err != nil {
		return nil, false, fmt.Errorf("lead %d: %w", id, err)
	}
	if sameRef(current.AssignedTo, assignee) {
		return current.AssignedTo, false, nil
	}
	if err := s.repo.updateFields(ctx, tx, id, []string{"assigned_to"}, []interface{}{assignee}); err != nil {
		return nil, false, err
	}

	event := history.Assigned
	if assignee == nil {
		event = history.Unassigned
	}
	if err := history.Record(ctx, tx, id, actorRef(actor), event, history.Change{From: current.AssignedTo, To: assignee}); err != nil {
		return nil, false, err
	}
	return current.AssignedTo, true, nil
}

// BulkAssign assigns every lead in ids in one transaction.
func (s *Service) BulkAssign(ctx context.Context, ids []int64, assignee *int64, actor auth.Principal) (*BulkResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)

	res := &BulkResult{}
	touched := fanout{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if assignee != nil {
			if err := s.checkAssignees(ctx, tx, []int64{*assignee}); err != nil {
				return err
			}
		}
		for _, id := range ids {
			prev, changed, err := s.assignTx(ctx, tx, id, assignee, actor)
			if err != nil {
				return err
			}
			if changed {
				res.Affected++
				touched.add(prev, id)
				touched.add(assignee, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Affected > 0 {
		s.invalidateStats(ctx)
		s.countAssigned(assignee, res.Affected)
		s.publishSplit(realtime.LeadAssigned, map[string]interface{}{"lead_ids": ids, "to": assignee}, touched.profiles(), func(profile int64) interface{} {
			return map[string]interface{}{"lead_ids": touched[profile], "to": assignee}
		})
	}
	return res, nil
}

// BulkStatus moves every lead in ids to status in one transaction.
func (s *Service) BulkStatus(ctx context.Context, ids []int64, status Status, actor auth.Principal) (*BulkResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	ids = uniqueIDs(ids)

	res := &BulkResult{}
	touched := fanout{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			current, err := s.repo.get(ctx, tx, id, actor)
			if err != nil {
				return fmt.Errorf("lead %d: %w", id, err)
			}
			if current.Status == status {
				continue
			}
			if err := s.repo.updateFields(ctx, tx, id, []string{"status"}, []interface{}{string(status)}); err != nil {
				return err
			}
			if err := history.Record(ctx, tx, id, actorRef(actor), history.StatusChanged, history.Change{From: current.Status, To: status}); err != nil {
				return err
			}
			res.Affected++
			touched.add(current.AssignedTo, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Affected > 0 {
		s.invalidateStats(ctx)
		s.publishSplit(realtime.LeadStatusChanged, map[string]interface{}{"lead_ids": ids, "to": status}, touched.profiles(), func(profile int64) interface{} {
			return map[string]interface{}{"lead_ids": touched[profile], "to": status}
		})
	}
	return res, nil
}

// BulkDelete soft-deletes every lead in ids in one transaction.
func (s *Service) BulkDelete(ctx context.Context, ids []int64, actor auth.Principal) (*BulkResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)

	res := &BulkResult{}
	touched := fanout{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			assignee, err := s.softDeleteTx(ctx, tx, id, actor)
			if err != nil {
				return err
			}
			res.Affected++
			touched.add(assignee, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Affected > 0 {
		s.invalidateStats(ctx)
		s.publishSplit(realtime.LeadDeleted, map[string]interface{}{"lead_ids": ids}, touched.profiles(), func(profile int64) interface{} {
			return map[string]interface{}{"lead_ids": touched[profile]}
		})
	}
	return res, nil
}

// Distribute assigns ids round-robin across assignees, starting at offset.
func (s *Service) Distribute(ctx context.Context, ids, assignees []int64, offset int, actor auth.Principal) ([]Assignment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	assignees = uniqueIDs(assignees)
	if len(assignees) == 0 {
		return nil, ErrNoAssignees
	}
	ids = uniqueIDs(ids)

	plan, err := RoundRobin(ids, assignees, offset)
	if err != nil {
		return nil, err
	}

	touched := fanout{}
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkAssignees(ctx, tx, assignees); err != nil {
			return err
		}
		for _, a := range plan {
			to := a.AssignedTo
			prev, _, err := s.assignTx(ctx, tx, a.LeadID, &to, actor)
			if err != nil {
				return err
			}
			touched.add(prev, a.LeadID)
			touched.add(&to, a.LeadID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(plan) > 0 {
		s.invalidateStats(ctx)
		if s.assigned != nil {
			s.assigned.Add(float64(len(plan)))
		}
		s.publishSplit(realtime.LeadAssigned, map[string]interface{}{"assignments": plan}, touched.profiles(), func(profile int64) interface{} {
			mine := map[int64]bool{}
			for _, id := range touched[profile] {
				mine[id] = true
			}
			var own []Assignment
			for _, a := range plan {
				if mine[a.LeadID] {
					own = append(own, a)
				}
			}
			return map[string]interface{}{"assignments": own}
		})
	}
	return plan, nil
}

// SoftDelete moves a lead to the trash.
func (s *Service) SoftDelete(ctx context.Context, id int64, actor auth.Principal) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	var assignee *int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		assignee, err = s.softDeleteTx(ctx, tx, id, actor)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateStats(ctx)
	s.publish(realtime.LeadDeleted, map[string]int64{"id": id}, assignee)
	return nil
}

func (s *Service) softDeleteTx(ctx context.Context, tx *sqlx.Tx, id int64, actor auth.Principal) (*int64, error) {
	current, err := s.repo.get(ctx, tx, id, actor)
	if err != nil {
		return nil, fmt.Errorf("lead %d: %w", id, err)
	}
	now := time.Now().UTC()
	if err := execOne(ctx, tx, tx.Rebind("UPDATE leads SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL"), now, now, id); err != nil {
		return nil, fmt.Errorf("deleting lead %d: %w", id, err)
	}
	if err := history.Record(ctx, tx, id, actorRef(actor), history.Deleted, nil); err != nil {
		return nil, err
	}
	return current.AssignedTo, nil
}

// Restore brings a lead back from the trash.
func (s *Service) Restore(ctx context.Context, id int64, actor auth.Principal) (*Lead, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, tx.Rebind("UPDATE leads SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL"),
			time.Now().UTC(), id); err != nil {
			return fmt.Errorf("restoring lead %d: %w", id, err)
		}
		return history.Record(ctx, tx, id, actorRef(actor), history.Restored, nil)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	return s.repo.get(ctx, s.db, id, actor)
}

// ListDeleted returns the trash.
func (s *Service) ListDeleted(ctx context.Context, actor auth.Principal) ([]*Lead, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.listDeleted(ctx)
}

// PurgeDeleted permanently removes leads trashed more than olderThan ago.
func (s *Service) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.repo.purgeDeleted(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateStats(ctx)
	}
	return n, nil
}

// Board returns the kanban columns, one per status in pipeline order.
func (s *Service) Board(ctx context.Context, scope auth.Principal) ([]Column, error) {
	leads, err := s.repo.list(ctx, Filter{Sort: "updated_at", Desc: true}, scope, 0, 0)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[Status][]*Lead, len(Statuses))
	for _, l := range leads {
		byStatus[l.Status] = append(byStatus[l.Status], l)
	}

	cols := make([]Column, len(Statuses))
	for i, st := range Statuses {
		cols[i] = Column{Status: st, Label: st.Label(), Leads: byStatus[st]}
		if cols[i].Leads == nil {
			cols[i].Leads = []*Lead{}
		}
	}
	return cols, nil
}

// Geocode resolves the lead's address and stores its coordinates.
func (s *Service) Geocode(ctx context.Context, id int64, scope auth.Principal) (*Lead, error) {
	if s.geocoder == nil {
		return nil, geocode.ErrUnavailable
	}
	l, err := s.repo.get(ctx, s.db, id, scope)
	if err != nil {
		return nil, err
	}
	addr := l.FullAddress()
	if addr == "" {
		return nil, ErrNoAddress
	}

	res, err := s.geocoder.Lookup(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := s.repo.setCoordinates(ctx, id, res.Latitude, res.Longitude); err != nil {
		return nil, err
	}
	return s.repo.get(ctx, s.db, id, scope)
}

func (s *Service) checkAssignees(ctx context.Context, q sqlx.ExtContext, ids []int64) error {
	active, err := s.repo.activeProfiles(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !active[id] {
			return fmt.Errorf("profile %d: %w", id, ErrInvalidAssignee)
		}
	}
	return nil
}

func (s *Service) countAssigned(assignee *int64, n int) {
	if s.assigned != nil && assignee != nil {
		s.assigned.Add(float64(n))
	}
}

// publish notifies admins and the given profiles.
// publishSplit sends full to admins and, to each profile, only the part
// built for it by own.
func (s *Service) publishSplit(typ string, full interface{}, profiles []int64, own func(profile int64) interface{}) {
	s.events.Publish(realtime.Event{Type: typ, Data: full})
	for _, p := range profiles {
		s.events.Publish(realtime.Event{Type: typ, Data: own(p), ProfileIDs: []int64{p}, SkipAdmins: true})
	}
}

// fanout maps a profile to the lead ids of a bulk change that concern it.
type fanout map[int64][]int64

func (f fanout) add(profile *int64, leadID int64) {
	if profile == nil {
		return
	}
	for _, id := range f[*profile] {
		if id == leadID {
			return
		}
	}
	f[*profile] = append(f[*profile], leadID)
}

func (f fanout) profiles() []int64 {
	out := make([]int64, 0, len(f))
	for p := range f {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) publish(typ string, data interface{}, profiles ...*int64) {
	seen := map[int64]bool{}
	var ids []int64
	for _, p := range profiles {
		if p != nil && !seen[*p] {
			seen[*p] = true
			ids = append(ids, *p)
		}
	}
	s.events.Publish(realtime.Event{Type: typ, Data: data, ProfileIDs: ids})
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
