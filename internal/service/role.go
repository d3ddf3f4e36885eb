package service

import (
	"strings"

	"github.com/fieldline/be-sales-conversions/internal/errors"
)

// Role is the closed set of user roles. Capabilities are derived from it
// once per request so the transition methods stay free of role string
// comparisons.
type Role string

const (
	RoleRep      Role = "rep"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
	RoleAdmin    Role = "admin"
)

// ParseRole maps an identity-provider role string onto the enumeration.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleRep:
		return RoleRep, nil
	case RoleManager:
		return RoleManager, nil
	case RoleDirector:
		return RoleDirector, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", errors.Newf(errors.ErrCodeUnauthorized, "unknown role %q", s)
	}
}

// CanRecommend reports whether the role may move pending records to
// recommended.
func (r Role) CanRecommend() bool {
	return r == RoleManager || r == RoleAdmin
}

// CanApprove reports whether the role may approve or reject recommended
// records (and reject pending ones via the fast path).
func (r Role) CanApprove() bool {
	return r == RoleDirector || r == RoleAdmin
}
