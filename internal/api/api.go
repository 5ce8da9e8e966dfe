// Package api exposes the tutor engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/report"
	"github.com/mathgaling/tutor/internal/tutor"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Config holds dependencies for the HTTP handler.
type Config struct {
	Engine *tutor.Engine
	Hub    *tutor.Hub // nil disables the mastery feed

	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]Check

	// FeedOrigins lists extra origin patterns allowed to open the mastery feed.
	FeedOrigins []string
}

type handler struct {
	engine    *tutor.Engine
	hub       *tutor.Hub
	checks    map[string]Check
	origins   []string
	validator *requestValidator
}

// NewHandler creates the HTTP router.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		engine:    cfg.Engine,
		hub:       cfg.Hub,
		checks:    cfg.Checks,
		origins:   cfg.FeedOrigins,
		validator: newRequestValidator(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	mux.HandleFunc("GET /api/knowledge-components", h.handleKnowledgeComponents)
	mux.HandleFunc("GET /api/students/kcs/sequence", h.handleSequence)
	mux.HandleFunc("GET /api/students/{id}/knowledge-states", h.handleKnowledgeStates)
	mux.HandleFunc("GET /api/students/{id}/recommended-content", h.handleRecommendedContent)
	mux.HandleFunc("POST /api/students/{id}/responses", h.handleSubmitResponse)
	mux.HandleFunc("GET /api/students/{id}/responses", h.handleRecentResponses)
	mux.HandleFunc("GET /api/students/{id}/kid-friendly-next-activity", h.handleNextActivity)
	mux.HandleFunc("GET /api/students/{id}/learning-path", h.handleLearningPath)
	mux.HandleFunc("GET /api/students/{id}/progress-report.xlsx", h.handleProgressReport)
	mux.HandleFunc("POST /api/students/{id}/quiz-sessions", h.handleStartQuiz)
	mux.HandleFunc("GET /api/quiz-sessions/{sid}", h.handleGetQuiz)
	mux.HandleFunc("GET /api/students/{id}/mastery-feed", h.handleMasteryFeed)
	return mux
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) handleKnowledgeComponents(w http.ResponseWriter, r *http.Request) {
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kcs, err := h.engine.KnowledgeComponents(r.Context(), int(grade))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kcs)
}

func (h *handler) handleKnowledgeStates(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	states, err := h.engine.KnowledgeStates(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *handler) handleRecommendedContent(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kcID, grade, limit, err := kcGradeLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.engine.Recommend(r.Context(), studentID, kcID, grade, limit)
	if errors.Is(err, apperr.ErrNoContentAvailable) {
		writeJSON(w, http.StatusOK, map[string]any{"status": statusNoContentAvailable, "items": items})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) handleSequence(w http.ResponseWriter, r *http.Request) {
	studentID, err := queryInt(r, "student_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if studentID == 0 {
		writeError(w, r, &apperr.ValidationError{
			Msg:    "invalid query parameter",
			Fields: []apperr.FieldError{{Field: "student_id", Message: "student_id is required"}},
		})
		return
	}
	kcID, grade, limit, err := kcGradeLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.Sequence(r.Context(), tutor.SequenceRequest{
		StudentID: studentID,
		KCID:      kcID,
		AfterCode: r.URL.Query().Get("after"),
		Grade:     grade,
		Limit:     limit,
	})
	if errors.Is(err, apperr.ErrNoContentAvailable) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":              statusNoContentAvailable,
			"knowledge_component": res.KnowledgeComponent,
			"p_mastery":           res.PMastery,
			"questions":           res.Questions,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// submitRequest is the body of a response submission.
type submitRequest struct {
	ContentItemID   int64          `json:"content_item_id" validate:"required,gt=0"`
	Answer          string         `json:"answer" validate:"max=1000"`
	TimeSpent       int            `json:"time_spent" validate:"gte=0,lte=86400"`
	InteractionData map[string]any `json:"interaction_data"`
	Correct         *bool          `json:"correct"`
	PracticeMode    bool           `json:"practice_mode"`
	SessionID       string         `json:"session_id" validate:"omitempty,uuid"`
	IdempotencyKey  string         `json:"idempotency_key" validate:"omitempty,max=200"`
}

func (h *handler) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.Submit(r.Context(), tutor.Submission{
		StudentID:       studentID,
		ContentItemID:   req.ContentItemID,
		Answer:          req.Answer,
		Correct:         req.Correct,
		TimeSpent:       req.TimeSpent,
		InteractionData: req.InteractionData,
		PracticeMode:    req.PracticeMode,
		SessionID:       req.SessionID,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *handler) handleRecentResponses(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	responses, err := h.engine.RecentResponses(r.Context(), studentID, int(limit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *handler) handleNextActivity(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, r, err)
		return
	}
	activity, err := h.engine.NextActivity(r.Context(), studentID, int(grade))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (h *handler) handleLearningPath(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, err := h.engine.LearningPath(r.Context(), studentID, int(grade))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (h *handler) handleProgressReport(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, r, err)
		return
	}
	progress, err := h.engine.Progress(r.Context(), studentID, int(grade))
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := report.Build(progress)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="progress-%d.xlsx"`, studentID))
	if err := f.Write(w); err != nil {
		// Headers are already sent.
		writeFailed(r, err)
	}
}

// startQuizRequest is the body of a quiz session request.
type startQuizRequest struct {
	KCID  int64  `json:"kc_id" validate:"gte=0"`
	Grade int    `json:"grade" validate:"gte=0,lte=12"`
	Mode  string `json:"mode" validate:"omitempty,oneof=sequential book practice"`
}

func (h *handler) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req startQuizRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.engine.StartQuiz(r.Context(), tutor.StartQuizRequest{
		StudentID: studentID,
		KCID:      req.KCID,
		Grade:     req.Grade,
		Mode:      tutor.QuizMode(req.Mode),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Session(r.Context(), r.PathValue("sid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func kcGradeLimit(r *http.Request) (kcID int64, grade, limit int, err error) {
	if kcID, err = queryInt(r, "kc_id"); err != nil {
		return 0, 0, 0, err
	}
	g, err := queryInt(r, "grade")
	if err != nil {
		return 0, 0, 0, err
	}
	l, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, 0, err
	}
	return kcID, int(g), int(l), nil
}
