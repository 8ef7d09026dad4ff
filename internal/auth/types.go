package auth

import (
	"errors"
	"regexp"
)

// Role is an authorisation tier for an API client.
type Role string

const (
	// RoleViewer reads state, definitions and recordings.
	RoleViewer Role = "viewer"

	// RoleOperator can also run actions and write values, the way a
	// control surface does.
	RoleOperator Role = "operator"

	// RoleAdmin can also send raw commands and manage recordings.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// subjectPattern is the accepted format of a token subject (the API
// client name): alphanumeric, dots, hyphens, underscores, 1-64 characters.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidSubject reports whether s can name an API client.
func IsValidSubject(s string) bool {
	return subjectPattern.MatchString(s)
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrInvalidRole  = errors.New("invalid role")
)
