package server

import (
	"errors"
	"net/http"
	"strings"

	"storybook/pkg/domain"
	"storybook/services/storybook/internal/app"
)

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, r, s.messageLimiter, "signup") {
		return
	}
	var req domain.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user data")
		return
	}
	user, err := s.app.SignUp(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, user)
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already exists")
	case isValidation(err):
		writeInvalid(w, "Invalid user data", err)
	default:
		internalError(w, r, "Failed to create user", err)
	}
}

// /api/users/{id}
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/api/users/"))
	if !ok {
		notFound(w, "User not found")
		return
	}
	user, ok, err := s.app.GetUser(r.Context(), id)
	if err != nil {
		internalError(w, r, "Failed to fetch user", err)
		return
	}
	if !ok {
		notFound(w, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
