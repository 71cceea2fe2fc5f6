package server

import (
	"errors"
	"net/http"
	"strings"

	"storybook/internal/metrics"
)

func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateStory(w, r)
	case http.MethodGet:
		s.handleListStories(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/stories/{id}, /api/stories/{id}/purchase or /api/stories/{id}/chat
func (s *Server) handleStoryByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stories/")
	parts := strings.SplitN(path, "/", 2)
	id, ok := parseID(parts[0])
	if !ok {
		notFound(w, "Story not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "purchase":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			s.handlePurchaseStory(w, r, id)
		case "chat":
			s.handleChat(w, r, id)
		default:
			notFound(w, "Not found")
		}
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	story, ok, err := s.app.GetStory(r.Context(), id)
	if err != nil {
		internalError(w, r, "Failed to fetch story", err)
		return
	}
	if !ok {
		notFound(w, "Story not found")
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.storyLimiter, "story") {
		return
	}
	draft, err := s.decodeStoryForm(w, r)
	if err != nil {
		var uerr *uploadError
		if errors.As(err, &uerr) {
			metrics.UploadsRejected.WithLabelValues(uerr.reason).Inc()
			writeFieldErrors(w, http.StatusBadRequest, "Invalid upload", uploadFieldErrors(uerr))
			return
		}
		internalError(w, r, "Failed to create story", err)
		return
	}
	story, err := s.app.CreateStory(r.Context(), draft)
	if err != nil {
		if isValidation(err) {
			writeInvalid(w, "Invalid story data", err)
			return
		}
		internalError(w, r, "Failed to create story", err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.app.ListStories(r.Context())
	if err != nil {
		internalError(w, r, "Failed to fetch stories", err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

func (s *Server) handlePurchaseStory(w http.ResponseWriter, r *http.Request, id int64) {
	story, ok, err := s.app.PurchaseStory(r.Context(), id)
	if err != nil {
		internalError(w, r, "Failed to process purchase", err)
		return
	}
	if !ok {
		notFound(w, "Story not found")
		return
	}
	writeJSON(w, http.StatusOK, story)
}
