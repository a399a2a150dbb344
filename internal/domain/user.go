package domain

import (
	"sort"
	"strings"
	"time"
)

// User is a local account. PasswordHash never leaves the process.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Phone               string     `json:"phone_number,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsLocked            bool       `json:"is_locked"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastLoginAt         *time.Time `json:"last_login,omitempty"`
	Roles               []Role     `json:"roles"`
	Version             int64      `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewUser returns an active, unlocked account with no failed attempts.
func NewUser(username, email, passwordHash, firstName, lastName, phone string) *User {
	return &User{
		Username:     NormalizeUsername(username),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Phone:        strings.TrimSpace(phone),
		IsActive:     true,
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims surrounding whitespace. Usernames are case sensitive.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// RoleNames returns the sorted names of the user's roles.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// SetRoles replaces the role set, dropping duplicate role ids.
func (u *User) SetRoles(roles []Role) {
	seen := make(map[int64]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	u.Roles = out
}

// RoleIDs returns the ids of the user's roles.
func (u *User) RoleIDs() []int64 {
	ids := make([]int64, 0, len(u.Roles))
	for _, r := range u.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// CanAuthenticate reports whether the account may log in or refresh.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && !u.IsLocked
}

// ProfileUpdate holds the administratively editable profile fields. Nil
// pointers leave the field unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
}

// Apply copies the non-nil fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Email != nil {
		u.Email = NormalizeEmail(*p.Email)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
}

// UserFilter describes a page of users.
type UserFilter struct {
	Offset  int
	Limit   int
	SortBy  string
	SortDir string
}
