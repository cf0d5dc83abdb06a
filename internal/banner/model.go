// Package banner provides admin-authored announcements shown to all
// users, to one role, or to chosen profiles.
package banner

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for missing banners.
	ErrNotFound = errors.New("annonce introuvable")
	// ErrForbidden is returned for admin-only operations.
	ErrForbidden = errors.New("action réservée aux administrateurs")
)

// Level is a banner's severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Audience selects who sees a banner.
type Audience string

const (
	AudienceAll   Audience = "all"
	AudienceRole  Audience = "role"
	AudienceUsers Audience = "users"
)

// Banner is an announcement.
type Banner struct {
	ID         int64      `db:"id" json:"id"`
	Message    string     `db:"message" json:"message"`
	Level      Level      `db:"level" json:"level"`
	Audience   Audience   `db:"audience" json:"audience"`
	TargetRole string     `db:"target_role" json:"target_role,omitempty"`
	TargetIDs  []int64    `db:"-" json:"target_ids,omitempty"`
	Active     bool       `db:"active" json:"active"`
	StartsAt   time.Time  `db:"starts_at" json:"starts_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy  *int64     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Live reports whether b is shown at now, ignoring audience and dismissals.
func (b *Banner) Live(now time.Time) bool {
	if !b.Active || now.Before(b.StartsAt) {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// Input creates or replaces a banner.
type Input struct {
	Message    string     `json:"message" validate:"required,max=500"`
	Level      Level      `json:"level" validate:"omitempty,oneof=info warning critical"`
	Audience   Audience   `json:"audience" validate:"omitempty,oneof=all role users"`
	TargetRole string     `json:"target_role" validate:"omitempty,oneof=admin sales"`
	TargetIDs  []int64    `json:"target_ids"`
	StartsAt   *time.Time `json:"starts_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}
