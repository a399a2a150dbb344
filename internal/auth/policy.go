package auth

import (
	"slices"

	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// Operation names a protected boundary operation.
type Operation string

const (
	OpCurrentSession Operation = "session.current"
	OpListUsers      Operation = "users.list"
	OpGetUser        Operation = "users.get"
	OpUpdateUser     Operation = "users.update"
	OpDeleteUser     Operation = "users.delete"
	OpUpdateRoles    Operation = "users.roles.update"
	OpSetActive      Operation = "users.status.update"
	OpSetLock        Operation = "users.lock.update"
	OpUpdatePassword Operation = "users.password.update"
	OpListRoles      Operation = "roles.list"
)

// Rule describes who may invoke an operation. An empty Roles list with
// SelfOrAdmin false admits any authenticated caller.
type Rule struct {
	Roles       []string
	SelfOrAdmin bool
}

// Caller is the authenticated identity asking for an operation.
type Caller struct {
	UserID string
	Roles  []string
}

// Policy maps operations to rules. Operations without a rule are denied.
type Policy struct {
	rules map[Operation]Rule
}

// NewPolicy creates a Policy from rules.
func NewPolicy(rules map[Operation]Rule) *Policy {
	return &Policy{rules: rules}
}

// DefaultPolicy returns the role requirements of the HTTP surface.
func DefaultPolicy() *Policy {
	admin := []string{domain.RoleAdmin}
	return NewPolicy(map[Operation]Rule{
		OpCurrentSession: {},
		OpListUsers:      {Roles: admin},
		OpGetUser:        {Roles: []string{domain.RoleAdmin, domain.RoleManager}},
		OpUpdateUser:     {Roles: admin},
		OpDeleteUser:     {Roles: admin},
		OpUpdateRoles:    {Roles: admin},
		OpSetActive:      {Roles: admin},
		OpSetLock:        {Roles: admin},
		OpUpdatePassword: {SelfOrAdmin: true},
		OpListRoles:      {Roles: admin},
	})
}

// Authorize returns nil when caller may invoke op on a resource owned by
// ownerID, an Unauthorized error when there is no caller, and a Forbidden
// error otherwise.
func (p *Policy) Authorize(op Operation, caller *Caller, ownerID string) error {
	if caller == nil || caller.UserID == "" {
		return apperrors.Unauthorized("authentication required")
	}
	rule, ok := p.rules[op]
	if !ok {
		return apperrors.Forbidden("operation not permitted")
	}

	if rule.SelfOrAdmin {
		if ownerID != "" && caller.UserID == ownerID {
			return nil
		}
		if slices.Contains(caller.Roles, domain.RoleAdmin) {
			return nil
		}
		return apperrors.Forbidden("operation permitted only on own account")
	}

	if len(rule.Roles) == 0 {
		return nil
	}
	for _, r := range caller.Roles {
		if slices.Contains(rule.Roles, r) {
			return nil
		}
	}
	return apperrors.Forbidden("insufficient role")
}
