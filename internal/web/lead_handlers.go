package web

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asd12288/meydacrm/internal/geocode"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/validation"
)

const maxImportBody = 10 << 20

// parseFilter reads list and export filters from the query string:
// status (repeatable or comma separated), assignee (id or "unassigned"),
// source, q, from/to (YYYY-MM-DD), sort, desc, page and page_size.
func parseFilter(q url.Values) (lead.Filter, error) {
	f := lead.Filter{
		Source: strings.TrimSpace(q.Get("source")),
		Query:  strings.TrimSpace(q.Get("q")),
		Sort:   q.Get("sort"),
	}
	errs := validation.Errors{}

	for _, v := range q["status"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := lead.ParseStatus(part)
			if err != nil {
				errs["status"] = err.Error()
				continue
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	switch a := q.Get("assignee"); a {
	case "":
	case "unassigned":
		f.Unassigned = true
	default:
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			errs["assignee"] = "Identifiant invalide"
		} else {
			f.AssignedTo = &id
		}
	}

	for key, dst := range map[string]**time.Time{"from": &f.CreatedFrom, "to": &f.CreatedTo} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			errs[key] = "Date invalide (AAAA-MM-JJ)"
			continue
		}
		if key == "to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*dst = &t
	}

	if v := q.Get("desc"); v != "" {
		f.Desc, _ = strconv.ParseBool(v)
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	if len(errs) > 0 {
		return f, errs
	}
	return f, nil
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := s.leads.List(r.Context(), f, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	page.Leads = nonNil(page.Leads)
	apiJSON(w, page, http.StatusOK)
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var in lead.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	l, err := s.leads.Create(r.Context(), in, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusCreated)
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.Get(r.Context(), pathID(r), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	var p lead.Patch
	if !decodeJSON(w, r, &p) {
		return
	}
	l, err := s.leads.Update(r.Context(), pathID(r), p, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.leads.SoftDelete(r.Context(), pathID(r), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreLead(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.Restore(r.Context(), pathID(r), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

// handleMoveStatus is the kanban drop target.
func (s *Server) handleMoveStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := lead.ParseStatus(req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	l, err := s.leads.MoveStatus(r.Context(), pathID(r), st, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

// handleAssignLead sets or clears the assignee; a null assignee_id
// unassigns.
func (s *Server) handleAssignLead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeID *int64 `json:"assignee_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := s.leads.Assign(r.Context(), pathID(r), req.AssigneeID, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

func (s *Server) handleGeocodeLead(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.Geocode(r.Context(), pathID(r), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, l, http.StatusOK)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	cols, err := s.leads.Board(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, cols, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.leads.Stats(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, st, http.StatusOK)
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	leads, err := s.leads.ListDeleted(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(leads), http.StatusOK)
}

type bulkRequest struct {
	Action     string  `json:"action"` // assign, status, delete or distribute
	IDs        []int64 `json:"ids"`
	AssigneeID *int64  `json:"assignee_id"`
	Status     string  `json:"status"`
	Assignees  []int64 `json:"assignees"`
	Offset     int     `json:"offset"`
}

// handleBulk applies one action to a selection of leads.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		fail(w, r, validation.Field("ids", "Sélectionnez au moins un prospect"))
		return
	}

	ctx, actor := r.Context(), principal(r)
	var (
		result interface{}
		err    error
	)
	switch req.Action {
	case "assign":
		result, err = s.leads.BulkAssign(ctx, req.IDs, req.AssigneeID, actor)
	case "status":
		st, perr := lead.ParseStatus(req.Status)
		if perr != nil {
			fail(w, r, perr)
			return
		}
		result, err = s.leads.BulkStatus(ctx, req.IDs, st, actor)
	case "delete":
		result, err = s.leads.BulkDelete(ctx, req.IDs, actor)
	case "distribute":
		var assignments []lead.Assignment
		assignments, err = s.leads.Distribute(ctx, req.IDs, req.Assignees, req.Offset, actor)
		result = map[string]interface{}{"affected": len(assignments), "assignments": assignments}
	default:
		fail(w, r, validation.Field("action", "Action inconnue"))
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, result, http.StatusOK)
}

// download sets the attachment headers on the first write, so a failure
// before any CSV is produced can still be answered with a JSON error.
type download struct {
	w       http.ResponseWriter
	name    string
	started bool
}

func (d *download) Write(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		d.w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.name}))
	}
	return d.w.Write(p)
}

// handleExport streams the filtered leads as a CSV download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		fail(w, r, err)
		return
	}

	out := &download{w: w, name: fmt.Sprintf("prospects-%s.csv", s.now().Format("2006-01-02"))}
	if _, err := s.leads.Export(r.Context(), out, f, principal(r)); err != nil {
		if !out.started {
			fail(w, r, err)
			return
		}
		// Part of the file is already sent; log only.
		logger(r).Error().Err(err).Msg("exporting leads")
	}
}

// handleImport accepts a CSV file, either as the raw body or as the
// "file" field of a multipart form. assign_to sets the default assignee.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var defaultAssignee *int64
	if v := r.URL.Query().Get("assign_to"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(w, r, validation.Field("assign_to", "Identifiant invalide"))
			return
		}
		defaultAssignee = &id
	}

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			fail(w, r, validation.Field("file", "Fichier CSV manquant"))
			return
		}
		defer file.Close()
		body = file
	}

	res, err := s.leads.Import(r.Context(), body, principal(r), defaultAssignee)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, res, http.StatusOK)
}

// handleLeadHistory returns a visible lead's audit trail.
func (s *Server) handleLeadHistory(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.leads.Get(r.Context(), id, principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	events, err := s.history.ListByLead(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(events), http.StatusOK)
}

// handleRecentHistory is the admin activity feed.
func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(events), http.StatusOK)
}

// handleGeocode resolves a free-form address.
func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if s.geocoder == nil {
		fail(w, r, geocode.ErrUnavailable)
		return
	}
	res, err := s.geocoder.Lookup(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, res, http.StatusOK)
}
