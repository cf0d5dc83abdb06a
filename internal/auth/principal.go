// Package auth provides profiles, password and passkey login, sessions,
// API keys, and the middleware that turns a request into a Principal.
package auth

import "context"

// Role is a profile's authorization level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleSales Role = "sales"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSales
}

// Label returns the French display label.
func (r Role) Label() string {
	switch r {
	case RoleAdmin:
		return "Administrateur"
	case RoleSales:
		return "Commercial"
	default:
		return string(r)
	}
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ProfileID   int64  `json:"profile_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// IsAdmin reports whether the caller has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Name returns the display name, falling back to the username.
func (p Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
