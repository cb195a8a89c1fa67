package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ledlocator/internal/auth"
)

const minPasswordLength = 8

type newUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

// userPatch holds the fields PATCH /users/{id} may change. Nil means
// leave as is.
type userPatch struct {
	DisplayName *string    `json:"display_name"`
	Email       *string    `json:"email"`
	Role        *auth.Role `json:"role"`
	IsActive    *bool      `json:"is_active"`
}

func checkPasswordStrength(pw string) string {
	if len(pw) < minPasswordLength {
		return "password must be at least 8 characters"
	}
	return ""
}

func (req *newUserRequest) complete() bool {
	return strings.TrimSpace(req.Username) != "" && req.Password != "" && strings.TrimSpace(req.DisplayName) != ""
}

// validate fills defaults and returns a message for the first problem.
func (req *newUserRequest) validate() string {
	req.Username = strings.TrimSpace(req.Username)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Role == "" {
		req.Role = auth.RoleUser
	}

	switch {
	case !auth.IsValidUsername(req.Username):
		return "username may only contain letters, digits, dots, dashes and underscores (max 64)"
	case !auth.IsValidUserRole(req.Role):
		return "invalid role: must be user, admin, or owner"
	}
	return checkPasswordStrength(req.Password)
}

// canManage reports whether caller may create, change or remove an
// account holding role: nobody manages a tier above their own.
func canManage(caller auth.Principal, role auth.Role) bool {
	return caller.Role.AtLeast(role)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req newUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.complete() {
		writeBadRequest(w, "username, password, and display_name are required")
		return
	}
	if msg := req.validate(); msg != "" {
		writeValidationError(w, msg)
		return
	}

	caller := principal(r)
	if !canManage(caller, req.Role) {
		writeForbidden(w, "only owners can create owner accounts")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}
	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    caller.UserID,
	}

	switch err := s.users.Create(r.Context(), user); {
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already exists")
		return
	case err != nil:
		s.logger.Error("creating user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "by", caller.UserID)
	s.auditLog("create", "user", user.ID, caller.UserID, map[string]any{
		"username": user.Username,
		"role":     user.Role,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if user, ok := s.loadUser(w, r); ok {
		writeJSON(w, http.StatusOK, user)
	}
}

// handleUpdateUser applies a partial update. Nobody may change their own
// role or deactivate themselves.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch userPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}

	caller := principal(r)
	if !canManage(caller, user.Role) {
		writeForbidden(w, "only owners can modify owner accounts")
		return
	}
	self := user.ID == caller.UserID

	changed := map[string]any{}
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			writeValidationError(w, "display_name cannot be empty")
			return
		}
		user.DisplayName = name
		changed["display_name"] = name
	}
	if patch.Email != nil {
		user.Email = strings.TrimSpace(*patch.Email)
		changed["email"] = user.Email
	}
	if patch.Role != nil && *patch.Role != user.Role {
		switch {
		case !auth.IsValidUserRole(*patch.Role):
			writeValidationError(w, "invalid role: must be user, admin, or owner")
			return
		case self:
			writeForbidden(w, "cannot change your own role")
			return
		case !canManage(caller, *patch.Role):
			writeForbidden(w, "only owners can grant the owner role")
			return
		}
		user.Role = *patch.Role
		changed["role"] = user.Role
	}
	if patch.IsActive != nil && *patch.IsActive != user.IsActive {
		if self {
			writeForbidden(w, "cannot deactivate your own account")
			return
		}
		user.IsActive = *patch.IsActive
		changed["is_active"] = user.IsActive
	}

	if len(changed) > 0 {
		if err := s.users.Update(r.Context(), user); err != nil {
			s.logger.Error("updating user failed", "user_id", user.ID, "error", err)
			writeInternalError(w, "failed to update user")
			return
		}
		s.auditLog("update", "user", user.ID, caller.UserID, changed)
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	caller := principal(r)
	switch {
	case user.ID == caller.UserID:
		writeForbidden(w, "cannot delete your own account")
		return
	case !canManage(caller, user.Role):
		writeForbidden(w, "only owners can delete owner accounts")
		return
	}

	if err := s.users.Delete(r.Context(), user.ID); err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		s.logger.Error("deleting user failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}
	s.logger.Info("user deleted", "user_id", user.ID, "by", caller.UserID)
	s.auditLog("delete", "user", user.ID, caller.UserID, map[string]any{"username": user.Username})
	w.WriteHeader(http.StatusNoContent)
}

// loadUser fetches the {id} URL parameter's account, writing a 404 or 500
// when it cannot.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	id := chi.URLParam(r, "id")
	user, err := s.users.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
		return nil, false
	case err != nil:
		s.logger.Error("loading user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to get user")
		return nil, false
	}
	return user, true
}
