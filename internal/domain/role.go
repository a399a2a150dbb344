package domain

import "time"

// Canonical role names created at bootstrap.
const (
	RoleAdmin   = "ROLE_ADMIN"
	RoleManager = "ROLE_MANAGER"
	RoleUser    = "ROLE_USER"
	RoleGuest   = "ROLE_GUEST"
)

// Role is a named permission group. Roles are created at bootstrap and read-only afterwards.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

var canonicalRoles = []Role{
	{Name: RoleAdmin, Description: "Administrator with full access", IsDefault: true},
	{Name: RoleManager, Description: "Manager with limited administrative access", IsDefault: true},
	{Name: RoleUser, Description: "Regular user with basic access", IsDefault: true},
	{Name: RoleGuest, Description: "Guest with read-only access", IsDefault: true},
}

// CanonicalRoles returns a fresh copy of the bootstrap role set.
func CanonicalRoles() []Role {
	out := make([]Role, len(canonicalRoles))
	copy(out, canonicalRoles)
	return out
}

// IsCanonicalRole reports whether name is one of the bootstrap role names.
func IsCanonicalRole(name string) bool {
	for _, r := range canonicalRoles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// DedupeRoleIDs returns ids without duplicates, preserving first occurrence order.
func DedupeRoleIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
