// Package role defines the closed set of member roles.
package role

import (
	"strings"

	"github.com/smallbiznis/vervex/pkg/errs"
)

type Role string

const (
	User       Role = "user"
	VIP        Role = "vip"
	Ambassador Role = "ambassador"
	Supreme    Role = "supreme"
	Admin      Role = "admin"
	Cashier    Role = "cashier"
	Superadmin Role = "superadmin"
)

var ErrInvalidRole = errs.New(errs.KindInvalidArgument, "invalid_role")

var all = []Role{User, VIP, Ambassador, Supreme, Admin, Cashier, Superadmin}

// All returns every known role.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Parse accepts a role name case-insensitively and rejects anything
// outside the closed set.
func Parse(raw string) (Role, error) {
	value := Role(strings.ToLower(strings.TrimSpace(raw)))
	if value.Valid() {
		return value, nil
	}
	return "", ErrInvalidRole
}

func (r Role) Valid() bool {
	for _, candidate := range all {
		if r == candidate {
			return true
		}
	}
	return false
}

// Staff reports whether the role operates the back office.
func (r Role) Staff() bool {
	switch r {
	case Admin, Cashier, Superadmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
