package http

import (
	"time"

	"github.com/altenburg/erp-identity/internal/domain"
)

// UserResponse is the public view of an account. It is the only shape in
// which accounts leave the service.
type UserResponse struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	PhoneNumber         string     `json:"phone_number,omitempty"`
	IsActive            bool       `json:"is_active"`
	IsLocked            bool       `json:"is_locked"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	Roles               []string   `json:"roles"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// UserRolesResponse is returned after a role change.
type UserRolesResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// UserStatusResponse is returned after an activation change.
type UserStatusResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// UserLockResponse is returned after a lock change.
type UserLockResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsLocked bool   `json:"is_locked"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Username     string   `json:"username"`
	Roles        []string `json:"roles"`
}

// RoleResponse is the public view of a role.
type RoleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

func toUserResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		PhoneNumber:         u.Phone,
		IsActive:            u.IsActive,
		IsLocked:            u.IsLocked,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LastLogin:           u.LastLoginAt,
		Roles:               u.RoleNames(),
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func toUserRolesResponse(u *domain.User) UserRolesResponse {
	return UserRolesResponse{ID: u.ID, Username: u.Username, Email: u.Email, Roles: u.RoleNames()}
}

func toUserStatusResponse(u *domain.User) UserStatusResponse {
	return UserStatusResponse{ID: u.ID, Username: u.Username, IsActive: u.IsActive}
}

func toUserLockResponse(u *domain.User) UserLockResponse {
	return UserLockResponse{ID: u.ID, Username: u.Username, IsLocked: u.IsLocked}
}

func toSessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Tokens.ExpiresIn / time.Second),
		Username:     s.User.Username,
		Roles:        s.Roles,
	}
}

func toRoleResponse(r domain.Role) RoleResponse {
	return RoleResponse{ID: r.ID, Name: r.Name, Description: r.Description, IsDefault: r.IsDefault}
}
