package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
	"github.com/altenburg/erp-identity/pkg/httputil"
	"github.com/altenburg/erp-identity/pkg/pagination"
	"github.com/altenburg/erp-identity/pkg/validator"
)

// UserAdministrator is the account administration the admin endpoints drive.
type UserAdministrator interface {
	ListUsers(ctx context.Context, p pagination.Params) (pagination.Result[domain.User], error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateRoles(ctx context.Context, id string, roleIDs []int64) (*domain.User, error)
	SetActiveStatus(ctx context.Context, id string, active bool) (*domain.User, error)
	SetLockStatus(ctx context.Context, id string, locked bool) (*domain.User, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)
}

// userSorting maps public sort keys to columns.
var userSorting = pagination.Sorting{
	Columns: map[string]string{
		"username":   "username",
		"email":      "email",
		"created_at": "created_at",
		"last_login": "last_login",
	},
	Default: "created_at",
}

// UserHandler handles HTTP requests for account administration.
type UserHandler struct {
	service UserAdministrator
	logger  *slog.Logger
}

// NewUserHandler creates a new user administration handler.
func NewUserHandler(svc UserAdministrator, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// UpdateUserRequest is the JSON request body for a profile update. Omitted
// fields are left unchanged.
type UpdateUserRequest struct {
	FirstName   *string `json:"first_name" validate:"omitempty,min=2,max=50"`
	LastName    *string `json:"last_name" validate:"omitempty,min=2,max=50"`
	Email       *string `json:"email" validate:"omitempty,email,max=100"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,min=10,max=20,phone"`
}

// UpdateRolesRequest is the JSON request body for a role replacement.
type UpdateRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required,min=1,dive,gt=0"`
}

// --- Handlers ---

// List handles GET /api/v1/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r, userSorting)

	page, err := h.service.ListUsers(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, pagination.Map(page, toUserResponse))
}

// Get handles GET /api/v1/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserResponse(*user))
}

// Update handles PUT /api/v1/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, domain.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.PhoneNumber,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserResponse(*user))
}

// Delete handles DELETE /api/v1/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateRoles handles PUT /api/v1/users/{id}/roles
func (h *UserHandler) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateRolesRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.service.UpdateRoles(r.Context(), id, req.RoleIDs)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserRolesResponse(user))
}

// SetStatus handles PUT /api/v1/users/{id}/status?active=
func (h *UserHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	active, ok := boolQuery(w, r, "active")
	if !ok {
		return
	}

	user, err := h.service.SetActiveStatus(r.Context(), id, active)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserStatusResponse(user))
}

// SetLock handles PUT /api/v1/users/{id}/lock?locked=
func (h *UserHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	locked, ok := boolQuery(w, r, "locked")
	if !ok {
		return
	}

	user, err := h.service.SetLockStatus(r.Context(), id, locked)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toUserLockResponse(user))
}

// ListRoles handles GET /api/v1/roles
func (h *UserHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]RoleResponse, len(roles))
	for i, role := range roles {
		out[i] = toRoleResponse(role)
	}
	httputil.WriteData(w, http.StatusOK, out)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	return httputil.ParseUUID(w, chi.URLParam(r, "id"))
}

func boolQuery(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("query parameter "+name+" must be true or false"), nil)
		return false, false
	}
	return v, true
}
