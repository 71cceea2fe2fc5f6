package server

import (
	"net/http"
	"strings"

	"storybook/pkg/domain"
)

type contactResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitContact(w, r)
	case http.MethodGet:
		subs, err := s.app.ListContactSubmissions(r.Context())
		if err != nil {
			internalError(w, r, "Failed to fetch contact submissions", err)
			return
		}
		writeJSON(w, http.StatusOK, subs)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSubmitContact(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.messageLimiter, "contact") {
		return
	}
	var req domain.NewContactSubmission
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contact data")
		return
	}
	sub, err := s.app.SubmitContact(r.Context(), req)
	if err != nil {
		if isValidation(err) {
			writeInvalid(w, "Invalid contact data", err)
			return
		}
		internalError(w, r, "Failed to submit contact information", err)
		return
	}
	writeJSON(w, http.StatusCreated, contactResponse{
		Success: true,
		Message: "Contact information submitted successfully",
		ID:      sub.ID,
	})
}

// /api/contact/{id}
func (s *Server) handleContactByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/api/contact/"))
	if !ok {
		notFound(w, "Contact submission not found")
		return
	}
	sub, ok, err := s.app.GetContactSubmission(r.Context(), id)
	if err != nil {
		internalError(w, r, "Failed to fetch contact submissions", err)
		return
	}
	if !ok {
		notFound(w, "Contact submission not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
