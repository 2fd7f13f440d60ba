// admin_handler.go -- HTTP handlers for the admin-only user management
// endpoints. All routes here sit behind RequireAuth -> RequireActive ->
// RequireAdmin.
package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"contacts-api/internal/store"

	"github.com/go-chi/chi/v5"
)

// Dashboard handles GET /api/auth/admin -- user statistics.
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	total, err := h.PS.CountUsers(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	admins, err := h.PS.CountUsersByRole(r.Context(), store.RoleAdmin)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	regular, err := h.PS.CountUsersByRole(r.Context(), store.RoleUser)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_users":   total,
		"admin_users":   admins,
		"regular_users": regular,
	})
}

// paginationParams reads offset/limit query params with defaults and caps.
func paginationParams(r *http.Request) (offset, limit int) {
	offset = 0
	limit = 100
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return offset, limit
}

// idParam reads the {id} chi URL parameter as int64.
func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// ListUsers handles GET /api/auth/admin/users -- paginated user listing,
// optionally filtered by role.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r)

	var role store.Role
	if v := r.URL.Query().Get("role"); v != "" {
		parsed, err := store.ParseRole(v)
		if err != nil {
			BadRequest(w, r, "unknown role")
			return
		}
		role = parsed
	}

	users, err := h.PS.ListUsers(r.Context(), role, offset, limit)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser handles GET /api/auth/admin/users/{id}.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		BadRequest(w, r, "invalid user id")
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateUser handles PUT /api/auth/admin/users/{id} -- admin update of any
// user field, including role promotion/demotion. Invalidates the target's
// cache entry before responding.
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		BadRequest(w, r, "invalid user id")
		return
	}

	var updateInput struct {
		Email      *string `json:"email"`
		Password   *string `json:"password"`
		IsActive   *bool   `json:"is_active"`
		IsVerified *bool   `json:"is_verified"`
		Role       *string `json:"role"`
	}
	if !decodeJSON(w, r, &updateInput) {
		return
	}

	upd := store.UserUpdate{
		IsActive:   updateInput.IsActive,
		IsVerified: updateInput.IsVerified,
	}
	if updateInput.Email != nil {
		email := strings.ToLower(*updateInput.Email)
		if msg := ValidateEmail(email); msg != "" {
			BadRequest(w, r, msg)
			return
		}
		upd.Email = &email
	}
	if updateInput.Password != nil {
		if invalidMsg := ValidatePassword(*updateInput.Password); invalidMsg != "" {
			BadRequest(w, r, invalidMsg)
			return
		}
		hashed, err := HashPassword(*updateInput.Password)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		upd.PasswordHash = &hashed
	}
	if updateInput.Role != nil {
		role, err := store.ParseRole(*updateInput.Role)
		if err != nil {
			BadRequest(w, r, "unknown role")
			return
		}
		upd.Role = &role
	}

	updated, err := h.PS.UpdateUser(r.Context(), id, upd)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			NotFound(w, "user not found")
		case errors.Is(err, store.ErrDuplicateEmail):
			Conflict(w, "email already registered")
		default:
			InternalServerError(w, r, err)
		}
		return
	}

	// The target may be mid-session; drop their cached snapshot so the next
	// request sees the new role/active flags.
	h.RS.DeleteUser(r.Context(), id)

	admin, _ := UserFromContext(r.Context())
	logInfo(r, "admin updated user", "admin_id", admin.ID, "user_id", id)
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// DeleteUser handles DELETE /api/auth/admin/users/{id}.
// An admin cannot delete their own account.
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := UserFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	id, err := idParam(r)
	if err != nil {
		BadRequest(w, r, "invalid user id")
		return
	}

	if id == admin.ID {
		BadRequest(w, r, "cannot delete yourself")
		return
	}

	if err := h.PS.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	// Contacts cascade in Postgres. Drop the user snapshot and the owner's
	// cached list pages; single-contact entries are unreachable once the
	// owner cannot authenticate and expire by TTL.
	h.RS.DeleteUser(r.Context(), id)
	h.RS.InvalidateContactLists(r.Context(), id)

	logInfo(r, "admin deleted user", "admin_id", admin.ID, "user_id", id)
	OK(w, "user deleted")
}
