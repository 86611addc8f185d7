package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/internal/interface/http/handlers"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Course Progress Engine API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":    "/health",
			"courses":   "/api/v1/courses/{course}",
			"dashboard": "/api/v1/admin/dashboard",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			handlers.WriteJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		handlers.WriteJSON(w, r, http.StatusOK, status)
		return
	}

	handlers.WriteJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().Round(time.Second).String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			handlers.WriteJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	handlers.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// fail writes err; server side failures are logged with the request logger.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := handlers.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", logger.Operation(op), logger.Err(err))
	}
	handlers.WriteDomainError(w, r, err)
}

func notConfigured(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusNotImplemented, "not_implemented", "Handler not configured")
}

// errBadBody marks an undecodable request body.
var errBadBody = shared.NewDomainError("http", "Decode", shared.ErrInvalidFormat, "request body is not valid JSON")

// decodeBody decodes a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return shared.Detail(errBadBody, "%v", err)
	}
	return nil
}

func userID(r *http.Request) string {
	return handlers.UserIDFrom(r.Context())
}

func courseParam(r *http.Request) string { return chi.URLParam(r, "course") }
func moduleParam(r *http.Request) string { return chi.URLParam(r, "module") }
func lessonParam(r *http.Request) string { return chi.URLParam(r, "lesson") }

// splitList parses comma separated and repeated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgressDTO is the wire form of a lesson progress row.
type LessonProgressDTO struct {
	CourseSlug        string                `json:"course_slug"`
	ModuleSlug        string                `json:"module_slug"`
	LessonSlug        string                `json:"lesson_slug"`
	Status            shared.ProgressStatus `json:"status"`
	TimeSpentSeconds  int                   `json:"time_spent_seconds"`
	ActiveTimeSeconds int                   `json:"active_time_seconds"`
	MaxScrollDepth    int                   `json:"max_scroll_depth"`
	FirstViewedAt     time.Time             `json:"first_viewed_at"`
	LastViewedAt      time.Time             `json:"last_viewed_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

func newLessonProgressDTO(p *progress.LessonProgress) *LessonProgressDTO {
	if p == nil {
		return nil
	}
	return &LessonProgressDTO{
		CourseSlug:        p.CourseSlug,
		ModuleSlug:        p.ModuleSlug,
		LessonSlug:        p.LessonSlug,
		Status:            p.Status,
		TimeSpentSeconds:  p.TimeSpentSeconds,
		ActiveTimeSeconds: p.ActiveTimeSeconds,
		MaxScrollDepth:    p.MaxScrollDepth,
		FirstViewedAt:     p.FirstViewedAt,
		LastViewedAt:      p.LastViewedAt,
		CompletedAt:       p.CompletedAt,
	}
}
