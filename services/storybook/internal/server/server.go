package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"storybook/internal/metrics"
	"storybook/internal/ratelimit"
	"storybook/internal/util"
	"storybook/pkg/domain"
	"storybook/services/storybook/internal/app"
)

const maxJSONBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	MaxPhotos          int
	MaxPhotoBytes      int64
	AllowedPhotoTypes  []string
	StoryLimiter       *ratelimit.FixedWindowLimiter
	MessageLimiter     *ratelimit.FixedWindowLimiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes HTTP endpoints for the storybook service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	uploads        uploadLimits
	storyLimiter   *ratelimit.FixedWindowLimiter
	messageLimiter *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		uploads:        newUploadLimits(cfg.MaxPhotos, cfg.MaxPhotoBytes, cfg.AllowedPhotoTypes),
		storyLimiter:   cfg.StoryLimiter,
		messageLimiter: cfg.MessageLimiter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("storybook", s.trusted,
			util.WithRecover(
				metrics.WithHTTPMetrics(
					util.WithSecurityHeaders(
						util.WithCORS(s.corsOrigins, s.mux))))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// stories
	s.mux.HandleFunc("/api/stories", s.handleStories)
	s.mux.HandleFunc("/api/stories/", s.handleStoryByID)

	// contact form
	s.mux.HandleFunc("/api/contact", s.handleContact)
	s.mux.HandleFunc("/api/contact/", s.handleContactByID)

	// users
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserByID)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		notFound(w, "Not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// allow consumes quota from limiter for the caller's IP. A nil limiter means
// rate limiting is disabled.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, name string) bool {
	if limiter == nil {
		return true
	}
	decision := limiter.Allow(r.Context(), name+":"+util.ClientIP(r, s.trusted))
	if decision.Allowed {
		return true
	}
	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	metrics.RateLimited.WithLabelValues(name).Inc()
	writeError(w, http.StatusTooManyRequests, "Too many requests")
	return false
}

// parseID accepts positive decimal ids only; anything else is reported as
// an unknown record.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeJSON reads an optional JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Message   string              `json:"message"`
	Code      string              `json:"code"`
	RequestID string              `json:"requestId,omitempty"`
	Errors    []domain.FieldError `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeFieldErrors(w, status, msg, nil)
}

func writeFieldErrors(w http.ResponseWriter, status int, msg string, fields []domain.FieldError) {
	writeJSON(w, status, errorResponse{
		Message:   msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
		Errors:    fields,
	})
}

// writeInvalid answers 400 with the per-field errors of a validation
// failure, or without a list when err carries none.
func writeInvalid(w http.ResponseWriter, msg string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeFieldErrors(w, http.StatusBadRequest, msg, verr.Fields)
		return
	}
	writeError(w, http.StatusBadRequest, msg)
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "err", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, msg)
}

func errorCode(status int, msg string) string {
	switch msg {
	case "Invalid story data":
		return "STORY_INVALID_REQUEST"
	case "Invalid upload":
		return "STORY_INVALID_UPLOAD"
	case "Story not found":
		return "STORY_NOT_FOUND"
	case "Invalid message data":
		return "CHAT_INVALID_REQUEST"
	case "Invalid contact data":
		return "CONTACT_INVALID_REQUEST"
	case "Contact submission not found":
		return "CONTACT_NOT_FOUND"
	case "Invalid user data":
		return "USER_INVALID_REQUEST"
	case "Username already exists":
		return "USER_USERNAME_TAKEN"
	case "User not found":
		return "USER_NOT_FOUND"
	case "Too many requests":
		return "SYSTEM_RATE_LIMITED"
	case "Method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "Not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func isValidation(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr)
}
