// Package lead provides the lead domain model, its data access, and the
// service enforcing the row-level access policy.
package lead

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for missing leads and for leads the caller
	// is not allowed to see.
	ErrNotFound = errors.New("prospect introuvable")
	// ErrForbidden is returned for admin-only operations.
	ErrForbidden = errors.New("action réservée aux administrateurs")
	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("statut inconnu")
	// ErrNoAssignees is returned when distributing to an empty list.
	ErrNoAssignees = errors.New("aucun commercial sélectionné")
	// ErrInvalidAssignee is returned for unknown or inactive profiles.
	ErrInvalidAssignee = errors.New("commercial inconnu ou inactif")
	// ErrNoAddress is returned when geocoding a lead without an address.
	ErrNoAddress = errors.New("le prospect n'a pas d'adresse")
)

// Status is a lead's position in the sales pipeline.
type Status string

const (
	StatusNew         Status = "new"
	StatusContacted   Status = "contacted"
	StatusCallback    Status = "callback"
	StatusNoAnswer    Status = "no_answer"
	StatusQualified   Status = "qualified"
	StatusNegotiation Status = "negotiation"
	StatusWon         Status = "won"
	StatusLost        Status = "lost"
)

// Statuses lists every status in board order.
var Statuses = []Status{
	StatusNew, StatusContacted, StatusCallback, StatusNoAnswer,
	StatusQualified, StatusNegotiation, StatusWon, StatusLost,
}

var statusLabels = map[Status]string{
	StatusNew:         "Nouveau",
	StatusContacted:   "Contacté",
	StatusCallback:    "À rappeler",
	StatusNoAnswer:    "Injoignable",
	StatusQualified:   "Qualifié",
	StatusNegotiation: "Négociation",
	StatusWon:         "Gagné",
	StatusLost:        "Perdu",
}

// IsValid returns true if s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the French label.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts a status value or its French label.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if st := Status(strings.ToLower(s)); st.IsValid() {
		return st, nil
	}
	for st, label := range statusLabels {
		if foldKey(label) == foldKey(s) {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// Lead is a sales prospect.
type Lead struct {
	ID           int64      `db:"id" json:"id"`
	ExternalID   string     `db:"external_id" json:"external_id,omitempty"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Email        string     `db:"email" json:"email"`
	Phone        string     `db:"phone" json:"phone"`
	Company      string     `db:"company" json:"company"`
	JobTitle     string     `db:"job_title" json:"job_title"`
	Address      string     `db:"address" json:"address"`
	City         string     `db:"city" json:"city"`
	PostalCode   string     `db:"postal_code" json:"postal_code"`
	Country      string     `db:"country" json:"country"`
	Source       string     `db:"source" json:"source"`
	Status       Status     `db:"status" json:"status"`
	Notes        string     `db:"notes" json:"notes"`
	AssignedTo   *int64     `db:"assigned_to" json:"assigned_to"`
	AssigneeName string     `db:"assignee_name" json:"assignee_name,omitempty"`
	CreatedBy    *int64     `db:"created_by" json:"created_by"`
	Latitude     *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64   `db:"longitude" json:"longitude,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// FullName joins first and last name.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// FullAddress joins the address parts for geocoding.
func (l *Lead) FullAddress() string {
	var parts []string
	for _, p := range []string{l.Address, strings.TrimSpace(l.PostalCode + " " + l.City), l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Input is the editable part of a lead, validated on create and update.
type Input struct {
	ExternalID string `json:"external_id" validate:"max=100"`
	FirstName  string `json:"first_name" validate:"required_without=LastName,max=100"`
	LastName   string `json:"last_name" validate:"required_without=FirstName,max=100"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	Phone      string `json:"phone" validate:"omitempty,phone"`
	Company    string `json:"company" validate:"max=200"`
	JobTitle   string `json:"job_title" validate:"max=100"`
	Address    string `json:"address" validate:"max=300"`
	City       string `json:"city" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"max=100"`
	Source     string `json:"source" validate:"max=100"`
	Status     Status `json:"status" validate:"omitempty,oneof=new contacted callback no_answer qualified negotiation won lost"`
	Notes      string `json:"notes" validate:"max=5000"`
	AssignedTo *int64 `json:"assigned_to"`
}

func (in *Input) trim() {
	for _, f := range []*string{
		&in.ExternalID, &in.FirstName, &in.LastName, &in.Email, &in.Phone, &in.Company,
		&in.JobTitle, &in.Address, &in.City, &in.PostalCode, &in.Country, &in.Source, &in.Notes,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// Patch holds optional field changes for Update. Status and assignment
// have their own operations.
type Patch struct {
	ExternalID *string `json:"external_id"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Company    *string `json:"company"`
	JobTitle   *string `json:"job_title"`
	Address    *string `json:"address"`
	City       *string `json:"city"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
	Source     *string `json:"source"`
	Notes      *string `json:"notes"`
}

// field pairs a column with its accessor for diffs and patches.
type field struct {
	column string
	get    func(*Lead) *string
	patch  func(*Patch) *string
}

var editableFields = []field{
	{"external_id", func(l *Lead) *string { return &l.ExternalID }, func(p *Patch) *string { return p.ExternalID }},
	{"first_name", func(l *Lead) *string { return &l.FirstName }, func(p *Patch) *string { return p.FirstName }},
	{"last_name", func(l *Lead) *string { return &l.LastName }, func(p *Patch) *string { return p.LastName }},
	{"email", func(l *Lead) *string { return &l.Email }, func(p *Patch) *string { return p.Email }},
	{"phone", func(l *Lead) *string { return &l.Phone }, func(p *Patch) *string { return p.Phone }},
	{"company", func(l *Lead) *string { return &l.Company }, func(p *Patch) *string { return p.Company }},
	{"job_title", func(l *Lead) *string { return &l.JobTitle }, func(p *Patch) *string { return p.JobTitle }},
	{"address", func(l *Lead) *string { return &l.Address }, func(p *Patch) *string { return p.Address }},
	{"city", func(l *Lead) *string { return &l.City }, func(p *Patch) *string { return p.City }},
	{"postal_code", func(l *Lead) *string { return &l.PostalCode }, func(p *Patch) *string { return p.PostalCode }},
	{"country", func(l *Lead) *string { return &l.Country }, func(p *Patch) *string { return p.Country }},
	{"source", func(l *Lead) *string { return &l.Source }, func(p *Patch) *string { return p.Source }},
	{"notes", func(l *Lead) *string { return &l.Notes }, func(p *Patch) *string { return p.Notes }},
}

func inputFrom(l *Lead) Input {
	return Input{
		ExternalID: l.ExternalID, FirstName: l.FirstName, LastName: l.LastName,
		Email: l.Email, Phone: l.Phone, Company: l.Company, JobTitle: l.JobTitle,
		Address: l.Address, City: l.City, PostalCode: l.PostalCode, Country: l.Country,
		Source: l.Source, Status: l.Status, Notes: l.Notes, AssignedTo: l.AssignedTo,
	}
}

// Filter selects leads for List and Export.
type Filter struct {
	Statuses    []Status
	AssignedTo  *int64
	Unassigned  bool
	Source      string
	Query       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Sort        string // created_at, updated_at or last_name
	Desc        bool
	Page        int
	PageSize    int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is one page of List results.
type Page struct {
	Leads    []*Lead `json:"leads"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// Column is one kanban column.
type Column struct {
	Status Status  `json:"status"`
	Label  string  `json:"label"`
	Leads  []*Lead `json:"leads"`
}

// AssigneeCount is the number of leads held by one profile.
type AssigneeCount struct {
	ProfileID int64  `db:"profile_id" json:"profile_id"`
	Name      string `db:"name" json:"name"`
	Count     int    `db:"n" json:"count"`
}

// StatusCount is the number of leads in one status.
type StatusCount struct {
	Status Status `db:"status" json:"status"`
	Label  string `json:"label"`
	Count  int    `db:"n" json:"count"`
}

// Stats summarizes the leads visible to a caller.
type Stats struct {
	Total      int             `json:"total"`
	Unassigned int             `json:"unassigned"`
	ByStatus   []StatusCount   `json:"by_status"`
	ByAssignee []AssigneeCount `json:"by_assignee"`
}

// BulkResult reports how many leads a bulk operation touched.
type BulkResult struct {
	Affected int `json:"affected"`
}

// Assignment is one lead handed to one profile by Distribute.
type Assignment struct {
	LeadID     int64 `json:"lead_id"`
	AssignedTo int64 `json:"assigned_to"`
}
