package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// KNOWLEDGE CHECK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSessionState handles GET .../modules/{module}/knowledge-check
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSessionState == nil {
		notConfigured(w, r)
		return
	}

	uid := userID(r)
	res, err := s.deps.GetSessionState.Handle(r.Context(), query.GetSessionStateQuery{
		UserID:          uid,
		CourseSlug:      courseParam(r),
		ModuleSlug:      moduleParam(r),
		WithRemediation: s.deps.RemediationLinks != nil && s.deps.RemediationLinks(uid),
	})
	if err != nil {
		s.fail(w, r, "knowledge_check_state", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}

type draftAnswerRequest struct {
	Answer json.RawMessage `json:"answer"`
}

type draftAnswerResponse struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Status     string `json:"status"`
}

// handleSaveDraftAnswer handles PUT .../knowledge-check/answers/{question}
func (s *Server) handleSaveDraftAnswer(w http.ResponseWriter, r *http.Request) {
	if s.deps.SaveDraftAnswer == nil {
		notConfigured(w, r)
		return
	}

	var req draftAnswerRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, "save_draft_answer", err)
		return
	}

	res, err := s.deps.SaveDraftAnswer.Handle(r.Context(), command.SaveDraftAnswerCommand{
		UserID:     userID(r),
		CourseSlug: courseParam(r),
		ModuleSlug: moduleParam(r),
		QuestionID: chi.URLParam(r, "question"),
		Answer:     req.Answer,
	})
	if err != nil {
		s.fail(w, r, "save_draft_answer", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, draftAnswerResponse{
		QuestionID: res.QuestionID,
		Correct:    res.Correct,
		Status:     string(res.Status),
	})
}

type submitRequest struct {
	Answers []knowledgecheck.SubmittedAnswer `json:"answers"`
}

// handleSubmitKnowledgeCheck handles POST .../knowledge-check/submit
// A repeated submission is answered 200 with already_completed set.
func (s *Server) handleSubmitKnowledgeCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.SubmitKnowledgeCheck == nil {
		notConfigured(w, r)
		return
	}

	var req submitRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, "submit_knowledge_check", err)
		return
	}

	res, err := s.deps.SubmitKnowledgeCheck.Handle(r.Context(), command.SubmitKnowledgeCheckCommand{
		UserID:        userID(r),
		CourseSlug:    courseParam(r),
		ModuleSlug:    moduleParam(r),
		Answers:       req.Answers,
		CorrelationID: handlers.RequestIDFrom(r),
	})
	if err != nil {
		s.fail(w, r, "submit_knowledge_check", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// handleDashboard handles GET /api/v1/admin/dashboard?course=&user_ids=
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetDashboardMetrics == nil {
		notConfigured(w, r)
		return
	}

	q := r.URL.Query()
	res, err := s.deps.GetDashboardMetrics.Handle(r.Context(), query.GetDashboardMetricsQuery{
		CourseSlug: q.Get("course"),
		UserIDs:    splitList(q["user_ids"]),
	})
	if err != nil {
		s.fail(w, r, "dashboard", err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}
