// Package tutor is the adaptive learning engine: it records responses, updates
// mastery, selects content and sequences knowledge components.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/tracing"
)

const (
	defaultSequentialSize = 8
	defaultBlockSize      = 5
	defaultRecentLimit    = 20
	maxRecentLimit        = 200
)

// Presentation gates for the kid-friendly activity view. Only the engine
// threshold decides whether a component is mastered.
const (
	developingGate = 0.6
	almostGate     = 0.75
)

// EngineConfig holds dependencies for the engine.
type EngineConfig struct {
	Catalog      curriculum.Catalog
	Roster       curriculum.Roster // optional; grade must then be passed explicitly
	States       tracing.Store
	Responses    ResponseLog
	Sessions     SessionStore
	Guard        Guard
	Events       EventLogger
	Tx           Transactor // optional; groups response and state writes
	Threshold    float64    // mastered cut-off (default 0.8)
	MaxRetries   int        // CAS attempts per update (default 3)
	DedupeWindow time.Duration

	SequentialSize int // sequential quiz block (default 8)
	BookSize       int // book quiz block (default 5)
	PracticeSize   int // practice quiz block (default 5)
}

// Engine wires the store, updater, selector and sequencer together.
type Engine struct {
	catalog   curriculum.Catalog
	roster    curriculum.Roster
	states    tracing.Store
	responses ResponseLog
	sessions  SessionStore
	events    EventLogger
	updater   *Updater
	selector  *Selector
	sequencer *Sequencer
	threshold float64
	blockSize map[QuizMode]int
}

// NewEngine creates a new engine. Nil stores default to in-memory ones.
func NewEngine(cfg EngineConfig) *Engine {
	states := cfg.States
	if states == nil {
		states = tracing.NewMemoryStore()
	}
	responses := cfg.Responses
	if responses == nil {
		responses = NewMemoryResponseLog()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = tracing.DefaultMasteryThreshold
	}

	sizeOr := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}

	return &Engine{
		catalog:   cfg.Catalog,
		roster:    cfg.Roster,
		states:    states,
		responses: responses,
		sessions:  sessions,
		events:    events,
		updater: NewUpdater(UpdaterConfig{
			Catalog:      cfg.Catalog,
			States:       states,
			Responses:    responses,
			Guard:        cfg.Guard,
			Events:       events,
			Tx:           cfg.Tx,
			Threshold:    threshold,
			MaxRetries:   cfg.MaxRetries,
			DedupeWindow: cfg.DedupeWindow,
		}),
		selector:  NewSelector(cfg.Catalog, states, responses),
		sequencer: NewSequencer(cfg.Catalog, states, threshold),
		threshold: threshold,
		blockSize: map[QuizMode]int{
			ModeSequential: sizeOr(cfg.SequentialSize, defaultSequentialSize),
			ModeBook:       sizeOr(cfg.BookSize, defaultBlockSize),
			ModePractice:   sizeOr(cfg.PracticeSize, defaultBlockSize),
		},
	}
}

// Threshold returns the mastered cut-off.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// BlockSize returns the number of items a quiz of the given mode draws.
func (e *Engine) BlockSize(mode QuizMode) int {
	return e.blockSize[mode]
}

// ComponentRef is the summary of a knowledge component embedded in other views.
type ComponentRef struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	CurriculumCode string `json:"curriculum_code"`
	GradeLevel     int    `json:"grade_level"`
}

func refOf(kc curriculum.KnowledgeComponent) ComponentRef {
	return ComponentRef{
		ID:             kc.ID,
		Name:           kc.Name,
		CurriculumCode: kc.CurriculumCode,
		GradeLevel:     kc.GradeLevel,
	}
}

// StateView is a knowledge state joined with its component.
type StateView struct {
	tracing.KnowledgeState
	Mastered           bool         `json:"mastered"`
	KnowledgeComponent ComponentRef `json:"KnowledgeComponent"`
}

// KnowledgeStates lists the student's states in curriculum order.
func (e *Engine) KnowledgeStates(ctx context.Context, studentID int64) ([]StateView, error) {
	states, err := e.states.List(ctx, studentID)
	if err != nil {
		return nil, err
	}

	kcs := make([]curriculum.KnowledgeComponent, 0, len(states))
	byKC := make(map[int64]tracing.KnowledgeState, len(states))
	for _, st := range states {
		kc, err := e.catalog.KnowledgeComponent(ctx, st.KnowledgeComponentID)
		if errors.Is(err, apperr.ErrNotFound) {
			slog.Warn("knowledge state references missing component",
				"student_id", studentID,
				"kc_id", st.KnowledgeComponentID,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		kcs = append(kcs, kc)
		byKC[kc.ID] = st
	}
	curriculum.SortKnowledgeComponents(kcs)

	out := make([]StateView, 0, len(kcs))
	for _, kc := range kcs {
		st := byKC[kc.ID]
		out = append(out, StateView{
			KnowledgeState:     st,
			Mastered:           st.Mastered(e.threshold),
			KnowledgeComponent: refOf(kc),
		})
	}
	return out, nil
}

// KnowledgeComponents lists a grade's components in curriculum order (0 = all).
func (e *Engine) KnowledgeComponents(ctx context.Context, grade int) ([]curriculum.KnowledgeComponent, error) {
	return e.catalog.KnowledgeComponents(ctx, grade)
}

// ResolveGrade returns override when positive, otherwise the roster grade.
func (e *Engine) ResolveGrade(ctx context.Context, studentID int64, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if e.roster == nil {
		return 0, apperr.Validation("grade is required for student %d", studentID)
	}
	return e.roster.GradeLevel(ctx, studentID)
}

// Recommend returns up to limit items for kcID, or for the student's next
// component in sequence when kcID is 0. A non-positive limit means one block.
func (e *Engine) Recommend(ctx context.Context, studentID, kcID int64, grade, limit int) ([]curriculum.ContentItem, error) {
	if limit <= 0 {
		limit = defaultBlockSize
	}
	if kcID == 0 {
		kc, err := e.nextComponent(ctx, studentID, grade, "")
		if err != nil {
			return nil, err
		}
		kcID = kc.ID
	} else if _, err := e.catalog.KnowledgeComponent(ctx, kcID); err != nil {
		return nil, err
	}
	return e.selector.Recommend(ctx, studentID, kcID, limit)
}

// SequenceResult is a component with the question block to present for it.
type SequenceResult struct {
	KnowledgeComponent *curriculum.KnowledgeComponent `json:"knowledge_component"`
	PMastery           float64                        `json:"p_mastery"`
	Complete           bool                           `json:"complete"`
	Questions          []curriculum.ContentItem       `json:"questions"`
}

// SequenceRequest selects the component to build a block for: KCID when set,
// otherwise the Sequencer's next component after AfterCode.
type SequenceRequest struct {
	StudentID int64
	KCID      int64
	AfterCode string
	Grade     int
	Limit     int
}

// Sequence combines the Sequencer and Content Selector into one ordered block.
func (e *Engine) Sequence(ctx context.Context, req SequenceRequest) (SequenceResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = e.blockSize[ModeSequential]
	}

	var kc curriculum.KnowledgeComponent
	var mastery float64
	if req.KCID != 0 {
		var err error
		kc, err = e.catalog.KnowledgeComponent(ctx, req.KCID)
		if err != nil {
			return SequenceResult{}, err
		}
		mastery, err = e.masteryOf(ctx, req.StudentID, kc.ID)
		if err != nil {
			return SequenceResult{}, err
		}
	} else {
		grade, err := e.ResolveGrade(ctx, req.StudentID, req.Grade)
		if err != nil {
			return SequenceResult{}, err
		}
		step, err := e.sequencer.Next(ctx, req.StudentID, grade, req.AfterCode)
		if err != nil {
			return SequenceResult{}, err
		}
		if step.Complete {
			return SequenceResult{Complete: true, Questions: []curriculum.ContentItem{}}, nil
		}
		kc, mastery = *step.KnowledgeComponent, step.PMastery
	}

	questions, err := e.selector.Recommend(ctx, req.StudentID, kc.ID, limit)
	if err != nil {
		return SequenceResult{KnowledgeComponent: &kc, PMastery: mastery, Questions: []curriculum.ContentItem{}}, err
	}
	return SequenceResult{KnowledgeComponent: &kc, PMastery: mastery, Questions: questions}, nil
}

// LearningPath returns the grade's components with the student's mastery.
func (e *Engine) LearningPath(ctx context.Context, studentID int64, grade int) ([]PathEntry, error) {
	grade, err := e.ResolveGrade(ctx, studentID, grade)
	if err != nil {
		return nil, err
	}
	return e.sequencer.Path(ctx, studentID, grade)
}

// RecentResponses returns the student's latest responses, newest first.
func (e *Engine) RecentResponses(ctx context.Context, studentID int64, limit int) ([]Response, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)
	return e.responses.Recent(ctx, studentID, limit)
}

// StartQuizRequest asks for a new quiz block.
type StartQuizRequest struct {
	StudentID int64
	KCID      int64 // 0: next component in sequence
	Grade     int   // overrides the roster when KCID is 0
	Mode      QuizMode
}

// QuizView is a session with its items and progress.
type QuizView struct {
	Session            QuizSession              `json:"session"`
	KnowledgeComponent ComponentRef             `json:"knowledge_component"`
	Items              []curriculum.ContentItem `json:"items"`
	Status             QuizCompletionStatus     `json:"status"`
	NextContentItemID  *int64                   `json:"nextContentItemId"`
}

// StartQuiz draws a block for one component and opens a session for it.
func (e *Engine) StartQuiz(ctx context.Context, req StartQuizRequest) (QuizView, error) {
	if req.StudentID <= 0 {
		return QuizView{}, apperr.Validation("student_id must be positive")
	}
	if req.Mode == "" {
		req.Mode = ModeSequential
	}
	if !req.Mode.Valid() {
		return QuizView{}, apperr.Validation("unknown quiz mode %q", req.Mode)
	}

	var kc curriculum.KnowledgeComponent
	var err error
	if req.KCID != 0 {
		kc, err = e.catalog.KnowledgeComponent(ctx, req.KCID)
	} else {
		kc, err = e.nextComponent(ctx, req.StudentID, req.Grade, "")
	}
	if err != nil {
		return QuizView{}, err
	}

	items, err := e.selector.QuizBlock(ctx, req.StudentID, kc.ID, e.blockSize[req.Mode])
	if err != nil {
		return QuizView{}, err
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	session, err := e.sessions.CreateSession(ctx, QuizSession{
		StudentID:            req.StudentID,
		KnowledgeComponentID: kc.ID,
		Mode:                 req.Mode,
		ItemIDs:              ids,
	})
	if err != nil {
		return QuizView{}, err
	}

	slog.Info("quiz started",
		"student_id", req.StudentID,
		"kc_id", kc.ID,
		"mode", req.Mode,
		"session_id", session.ID,
		"items", len(ids),
	)
	e.emit(Event{
		StudentID: req.StudentID,
		EventType: EventQuizStarted,
		Data: map[string]any{
			"session_id":             session.ID,
			"knowledge_component_id": kc.ID,
			"mode":                   string(req.Mode),
		},
	})

	return e.view(ctx, session, kc, items)
}

// Session returns a quiz session with its items and progress.
func (e *Engine) Session(ctx context.Context, id string) (QuizView, error) {
	session, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return QuizView{}, err
	}
	kc, err := e.catalog.KnowledgeComponent(ctx, session.KnowledgeComponentID)
	if err != nil {
		return QuizView{}, err
	}
	items := make([]curriculum.ContentItem, 0, len(session.ItemIDs))
	for _, itemID := range session.ItemIDs {
		it, err := e.catalog.ContentItem(ctx, itemID)
		if err != nil {
			return QuizView{}, err
		}
		items = append(items, it)
	}
	return e.view(ctx, session, kc, items)
}

func (e *Engine) view(ctx context.Context, session QuizSession, kc curriculum.KnowledgeComponent, items []curriculum.ContentItem) (QuizView, error) {
	status, err := e.completionStatus(ctx, session, kc)
	if err != nil {
		return QuizView{}, err
	}
	v := QuizView{
		Session:            session,
		KnowledgeComponent: refOf(kc),
		Items:              items,
		Status:             status,
	}
	if id, ok := session.NextItemID(); ok {
		v.NextContentItemID = &id
	}
	return v, nil
}

// QuizCompletionStatus reports progress through a quiz block.
type QuizCompletionStatus struct {
	Completed              bool          `json:"completed"`
	Answered               int           `json:"answered"`
	TotalQuestions         int           `json:"total_questions"`
	CorrectAnswers         int           `json:"correct_answers"`
	Score                  int           `json:"score"`
	MasteryAchieved        bool          `json:"mastery_achieved"`
	NextKnowledgeComponent *ComponentRef `json:"next_knowledge_component,omitempty"`
}

func (e *Engine) completionStatus(ctx context.Context, session QuizSession, kc curriculum.KnowledgeComponent) (QuizCompletionStatus, error) {
	mastery, err := e.masteryOf(ctx, session.StudentID, kc.ID)
	if err != nil {
		return QuizCompletionStatus{}, err
	}

	s := QuizCompletionStatus{
		Completed:       session.Completed(),
		Answered:        len(session.Answers),
		TotalQuestions:  len(session.ItemIDs),
		CorrectAnswers:  session.CorrectCount(),
		MasteryAchieved: mastery >= e.threshold,
	}
	if s.TotalQuestions > 0 {
		s.Score = int(math.Round(100 * float64(s.CorrectAnswers) / float64(s.TotalQuestions)))
	}

	// The Sequencer is consulted once the block is finished, not per item.
	if s.Completed && kc.GradeLevel > 0 {
		step, err := e.sequencer.Next(ctx, session.StudentID, kc.GradeLevel, kc.CurriculumCode)
		if err != nil {
			return QuizCompletionStatus{}, err
		}
		if !step.Complete {
			ref := refOf(*step.KnowledgeComponent)
			s.NextKnowledgeComponent = &ref
		}
	}
	return s, nil
}

// SubmitResult is the outcome of a submitted response.
type SubmitResult struct {
	Response                *Response              `json:"response"`
	KnowledgeState          tracing.KnowledgeState `json:"knowledgeState"`
	MasteryThresholdCrossed bool                   `json:"masteryThresholdCrossed"`
	Duplicate               bool                   `json:"duplicate"`
	NextContentItemID       *int64                 `json:"nextContentItemId"`
	QuizCompletionStatus    *QuizCompletionStatus  `json:"quizCompletionStatus,omitempty"`
}

// Submit records a response, updates mastery and advances the quiz session
// it belongs to, if any.
func (e *Engine) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	var session *QuizSession
	if sub.SessionID != "" {
		s, err := e.sessions.GetSession(ctx, sub.SessionID)
		if err != nil {
			return SubmitResult{}, err
		}
		if s.StudentID != sub.StudentID {
			return SubmitResult{}, apperr.Validation("quiz session %s belongs to another student", s.ID)
		}
		if _, err := s.withAnswer(QuizAnswer{ContentItemID: sub.ContentItemID}, time.Now()); err != nil {
			return SubmitResult{}, err
		}
		switch {
		case s.Mode == ModePractice:
			// Practice sessions never count toward mastery.
			sub.PracticeMode = true
		case s.EndedAt != nil || s.answered(sub.ContentItemID):
			// Only the first answer to each item of an open block counts.
			slog.Info("repeat answer in quiz session logged as practice",
				"student_id", sub.StudentID,
				"session_id", s.ID,
				"content_item_id", sub.ContentItemID,
			)
			sub.PracticeMode = true
		}
		session = &s
	}

	res, err := e.updater.Record(ctx, sub)
	if err != nil {
		return SubmitResult{}, err
	}

	out := SubmitResult{
		KnowledgeState:          res.State,
		MasteryThresholdCrossed: res.ThresholdCrossed,
		Duplicate:               res.Duplicate,
	}
	if !res.Duplicate {
		out.Response = &res.Response
	}

	if session == nil {
		next, err := e.selector.Recommend(ctx, sub.StudentID, res.State.KnowledgeComponentID, 1)
		switch {
		case err == nil && len(next) > 0:
			out.NextContentItemID = &next[0].ID
		case err != nil && !errors.Is(err, apperr.ErrNoContentAvailable):
			return SubmitResult{}, err
		}
		return out, nil
	}

	s := *session
	if !res.Duplicate {
		wasOpen := s.EndedAt == nil
		s, err = e.sessions.RecordAnswer(ctx, s.ID, QuizAnswer{
			ContentItemID: sub.ContentItemID,
			Correct:       res.Response.Correct,
		})
		if err != nil {
			return SubmitResult{}, err
		}
		if wasOpen && s.Completed() {
			slog.Info("quiz completed",
				"student_id", s.StudentID,
				"session_id", s.ID,
				"correct", s.CorrectCount(),
				"total", len(s.ItemIDs),
			)
			e.emit(Event{
				StudentID: s.StudentID,
				EventType: EventQuizCompleted,
				Data: map[string]any{
					"session_id":      s.ID,
					"correct_answers": s.CorrectCount(),
					"total_questions": len(s.ItemIDs),
					"p_mastery":       res.State.PMastery,
				},
			})
		}
	}

	kc, err := e.catalog.KnowledgeComponent(ctx, s.KnowledgeComponentID)
	if err != nil {
		return SubmitResult{}, err
	}
	status, err := e.completionStatus(ctx, s, kc)
	if err != nil {
		return SubmitResult{}, err
	}
	out.QuizCompletionStatus = &status
	if id, ok := s.NextItemID(); ok {
		out.NextContentItemID = &id
	}
	return out, nil
}

// Activity is the next step for a student, phrased for young learners.
type Activity struct {
	Type               string        `json:"type"`
	Message            string        `json:"message"`
	KnowledgeComponent *ComponentRef `json:"knowledge_component"`
	PMastery           float64       `json:"p_mastery"`
	MasteryLevel       string        `json:"mastery_level"`
	NextContentItemID  *int64        `json:"nextContentItemId"`
}

// Activity types.
const (
	ActivityLesson   = "lesson"
	ActivityQuiz     = "quiz"
	ActivityReview   = "review"
	ActivityComplete = "complete"
)

// MasteryLevel names the presentation band of a mastery estimate.
func (e *Engine) MasteryLevel(p float64) string {
	switch {
	case p >= e.threshold:
		return "mastered"
	case p >= almostGate:
		return "almost_there"
	case p >= developingGate:
		return "developing"
	default:
		return "beginning"
	}
}

// NextActivity returns the Sequencer's next step formatted for the student view.
func (e *Engine) NextActivity(ctx context.Context, studentID int64, grade int) (Activity, error) {
	grade, err := e.ResolveGrade(ctx, studentID, grade)
	if err != nil {
		return Activity{}, err
	}
	step, err := e.sequencer.Next(ctx, studentID, grade, "")
	if err != nil {
		return Activity{}, err
	}
	if step.Complete {
		return Activity{
			Type:         ActivityComplete,
			Message:      fmt.Sprintf("Amazing! You have mastered every Grade %d topic.", grade),
			PMastery:     1,
			MasteryLevel: "mastered",
		}, nil
	}

	kc := *step.KnowledgeComponent
	ref := refOf(kc)
	a := Activity{
		KnowledgeComponent: &ref,
		PMastery:           step.PMastery,
		MasteryLevel:       e.MasteryLevel(step.PMastery),
	}

	items, err := e.catalog.ContentItems(ctx, kc.ID)
	if err != nil {
		return Activity{}, err
	}
	attempts, err := e.attemptsOf(ctx, studentID, kc.ID)
	if err != nil {
		return Activity{}, err
	}

	for _, it := range items {
		if attempts == 0 && !it.Type.Answerable() {
			id := it.ID
			a.Type = ActivityLesson
			a.Message = fmt.Sprintf("Let's learn something new: %s!", kc.Name)
			a.NextContentItemID = &id
			return a, nil
		}
	}

	next, err := e.selector.QuizBlock(ctx, studentID, kc.ID, 1)
	if err != nil && !errors.Is(err, apperr.ErrNoContentAvailable) {
		return Activity{}, err
	}
	if len(next) > 0 {
		a.NextContentItemID = &next[0].ID
	}

	switch a.MasteryLevel {
	case "almost_there":
		a.Type = ActivityReview
		a.Message = fmt.Sprintf("You're almost there with %s. A few more questions!", kc.Name)
	case "developing":
		a.Type = ActivityQuiz
		a.Message = fmt.Sprintf("Great progress on %s! Keep practicing.", kc.Name)
	default:
		a.Type = ActivityQuiz
		a.Message = fmt.Sprintf("Ready for a challenge? Let's practice %s.", kc.Name)
	}
	return a, nil
}

// Progress is the data behind a student's progress report.
type Progress struct {
	StudentID int64       `json:"student_id"`
	Grade     int         `json:"grade"`
	Threshold float64     `json:"threshold"`
	Path      []PathEntry `json:"path"`
	Recent    []Response  `json:"recent"`
}

// Progress gathers the learning path and recent activity for a report.
func (e *Engine) Progress(ctx context.Context, studentID int64, grade int) (Progress, error) {
	grade, err := e.ResolveGrade(ctx, studentID, grade)
	if err != nil {
		return Progress{}, err
	}
	path, err := e.sequencer.Path(ctx, studentID, grade)
	if err != nil {
		return Progress{}, err
	}
	recent, err := e.responses.Recent(ctx, studentID, maxRecentLimit)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		StudentID: studentID,
		Grade:     grade,
		Threshold: e.threshold,
		Path:      path,
		Recent:    recent,
	}, nil
}

func (e *Engine) nextComponent(ctx context.Context, studentID int64, grade int, afterCode string) (curriculum.KnowledgeComponent, error) {
	grade, err := e.ResolveGrade(ctx, studentID, grade)
	if err != nil {
		return curriculum.KnowledgeComponent{}, err
	}
	step, err := e.sequencer.Next(ctx, studentID, grade, afterCode)
	if err != nil {
		return curriculum.KnowledgeComponent{}, err
	}
	if step.Complete {
		return curriculum.KnowledgeComponent{}, fmt.Errorf("grade %d complete for student %d: %w", grade, studentID, apperr.ErrNoContentAvailable)
	}
	return *step.KnowledgeComponent, nil
}

func (e *Engine) masteryOf(ctx context.Context, studentID, kcID int64) (float64, error) {
	st, err := e.states.Get(ctx, studentID, kcID)
	if errors.Is(err, apperr.ErrNotFound) {
		return tracing.DefaultPMastery, nil
	}
	if err != nil {
		return 0, err
	}
	return st.PMastery, nil
}

func (e *Engine) attemptsOf(ctx context.Context, studentID, kcID int64) (int, error) {
	st, err := e.states.Get(ctx, studentID, kcID)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.Attempts, nil
}

func (e *Engine) emit(ev Event) {
	if err := e.events.LogEvent(ev); err != nil {
		slog.Warn("failed to log event", "type", ev.EventType, "error", err)
	}
}
