package server

import (
	"errors"
	"net/http"

	"storybook/pkg/domain"
	"storybook/services/storybook/internal/app"
)

type chatRequest struct {
	Message  string                `json:"message"`
	IsEditor domain.Optional[bool] `json:"isEditor"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, storyID int64) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.ListChatMessages(r.Context(), storyID)
		if errors.Is(err, app.ErrStoryNotFound) {
			notFound(w, "Story not found")
			return
		}
		if err != nil {
			internalError(w, r, "Failed to fetch messages", err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	case http.MethodPost:
		s.handlePostChat(w, r, storyID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request, storyID int64) {
	if !s.allow(w, r, s.messageLimiter, "message") {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message data")
		return
	}
	msg, err := s.app.PostChatMessage(r.Context(), storyID, req.Message, req.IsEditor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, app.ErrStoryNotFound):
		notFound(w, "Story not found")
	case isValidation(err):
		writeInvalid(w, "Invalid message data", err)
	default:
		internalError(w, r, "Failed to send message", err)
	}
}
