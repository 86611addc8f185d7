package http

import (
	"net/http"

	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

type enrollResponse struct {
	Created  bool                     `json:"created"`
	Progress *query.CourseProgressDTO `json:"progress,omitempty"`
}

// handleEnroll handles POST /api/v1/courses/{course}/enroll
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if s.deps.EnrollLearner == nil {
		notConfigured(w, r)
		return
	}

	res, err := s.deps.EnrollLearner.Handle(r.Context(), command.EnrollLearnerCommand{
		UserID:        userID(r),
		CourseSlug:    courseParam(r),
		CorrelationID: handlers.RequestIDFrom(r),
	})
	if err != nil {
		s.fail(w, r, "enroll", err)
		return
	}

	out := enrollResponse{Created: res.Created}
	if res.Progress != nil {
		out.Progress = query.NewCourseProgressDTO(res.Progress)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	handlers.WriteJSON(w, r, status, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEARTBEAT
// ══════════════════════════════════════════════════════════════════════════════

type heartbeatRequest struct {
	TotalDeltaSeconds       int  `json:"total_delta_seconds"`
	ActiveDeltaSeconds      int  `json:"active_delta_seconds"`
	SecondsSinceInteraction *int `json:"seconds_since_interaction,omitempty"`
	ScrollDepth             int  `json:"scroll_depth"`
}

type heartbeatResponse struct {
	Lesson *LessonProgressDTO `json:"lesson"`

	// Applied is the sample after clamping.
	Applied struct {
		TotalDeltaSeconds  int `json:"total_delta_seconds"`
		ActiveDeltaSeconds int `json:"active_delta_seconds"`
		ScrollDepth        int `json:"scroll_depth"`
	} `json:"applied"`

	NextHeartbeatSeconds int `json:"next_heartbeat_seconds,omitempty"`
}

// handleHeartbeat handles POST .../lessons/{lesson}/heartbeat
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.deps.ApplyHeartbeat == nil {
		notConfigured(w, r)
		return
	}

	var req heartbeatRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, "heartbeat", err)
		return
	}

	res, err := s.deps.ApplyHeartbeat.Handle(r.Context(), command.ApplyHeartbeatCommand{
		UserID:                  userID(r),
		CourseSlug:              courseParam(r),
		ModuleSlug:              moduleParam(r),
		LessonSlug:              lessonParam(r),
		TotalDeltaSeconds:       req.TotalDeltaSeconds,
		ActiveDeltaSeconds:      req.ActiveDeltaSeconds,
		SecondsSinceInteraction: req.SecondsSinceInteraction,
		ScrollDepth:             req.ScrollDepth,
	})
	if err != nil {
		s.fail(w, r, "heartbeat", err)
		return
	}

	out := heartbeatResponse{
		Lesson:               newLessonProgressDTO(res.Progress),
		NextHeartbeatSeconds: s.config.HeartbeatIntervalSeconds,
	}
	out.Applied.TotalDeltaSeconds = res.Applied.TotalDeltaSeconds
	out.Applied.ActiveDeltaSeconds = res.Applied.ActiveDeltaSeconds
	out.Applied.ScrollDepth = res.Applied.ScrollDepth
	handlers.WriteJSON(w, r, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON COMPLETION / ACCESS
// ══════════════════════════════════════════════════════════════════════════════

type completeLessonResponse struct {
	Lesson           *LessonProgressDTO       `json:"lesson"`
	Course           *query.CourseProgressDTO `json:"course,omitempty"`
	AlreadyCompleted bool                     `json:"already_completed"`
}

// handleCompleteLesson handles POST .../lessons/{lesson}/complete
func (s *Server) handleCompleteLesson(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteLesson == nil {
		notConfigured(w, r)
		return
	}

	res, err := s.deps.CompleteLesson.Handle(r.Context(), command.CompleteLessonCommand{
		UserID:        userID(r),
		CourseSlug:    courseParam(r),
		ModuleSlug:    moduleParam(r),
		LessonSlug:    lessonParam(r),
		CorrelationID: handlers.RequestIDFrom(r),
	})
	if err != nil {
		s.fail(w, r, "complete_lesson", err)
		return
	}

	out := completeLessonResponse{
		Lesson:           newLessonProgressDTO(res.Lesson),
		AlreadyCompleted: res.AlreadyCompleted,
	}
	if res.Course != nil {
		out.Course = query.NewCourseProgressDTO(res.Course)
	}
	handlers.WriteJSON(w, r, http.StatusOK, out)
}

// handleLessonAccess handles GET .../lessons/{lesson}/access
func (s *Server) handleLessonAccess(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckLessonAccess == nil {
		notConfigured(w, r)
		return
	}

	res, err := s.deps.CheckLessonAccess.Handle(r.Context(), query.CheckLessonAccessQuery{
		UserID:     userID(r),
		CourseSlug: courseParam(r),
		ModuleSlug: moduleParam(r),
		LessonSlug: lessonParam(r),
	})
	if err != nil {
		s.fail(w, r, "lesson_access", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// NAVIGATION / COURSE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// handleNavigation handles GET /api/v1/courses/{course}/navigation
func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetNavigation == nil {
		notConfigured(w, r)
		return
	}

	res, err := s.deps.GetNavigation.Handle(r.Context(), query.GetNavigationQuery{
		UserID:     userID(r),
		CourseSlug: courseParam(r),
	})
	if err != nil {
		s.fail(w, r, "navigation", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}

// handleCourseProgress handles GET /api/v1/courses/{course}/progress
func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetCourseProgress == nil {
		notConfigured(w, r)
		return
	}

	res, err := s.deps.GetCourseProgress.Handle(r.Context(), query.GetCourseProgressQuery{
		UserID:     userID(r),
		CourseSlug: courseParam(r),
	})
	if err != nil {
		s.fail(w, r, "course_progress", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}
