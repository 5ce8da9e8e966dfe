package tracing

import (
	"context"
	"time"
)

// KnowledgeState is one student's estimate for one knowledge component.
type KnowledgeState struct {
	ID                   int64 `json:"id"`
	StudentID            int64 `json:"student_id"`
	KnowledgeComponentID int64 `json:"knowledge_component_id"`
	Params
	Attempts           int       `json:"attempts"`
	CorrectCount       int       `json:"correct_count"`
	ConsecutiveCorrect int       `json:"consecutive_correct"`
	Version            int64     `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Mastered reports whether the state is at or above threshold.
func (s KnowledgeState) Mastered(threshold float64) bool {
	return s.PMastery >= threshold
}

// Observe returns s after one scored response under the BKT update. The
// counters move even when the observation is degenerate; ok reports whether
// the mastery estimate could be updated.
func (s KnowledgeState) Observe(correct bool) (next KnowledgeState, ok bool) {
	next = s
	next.PMastery, ok = Step(s.Params, correct)
	next.Attempts++
	if correct {
		next.CorrectCount++
		next.ConsecutiveCorrect++
	} else {
		next.ConsecutiveCorrect = 0
	}
	return next, ok
}

// Unseen returns the state a student has before their first response.
// It is not persisted.
func Unseen(studentID, kcID int64, defaults Params) KnowledgeState {
	return KnowledgeState{
		StudentID:            studentID,
		KnowledgeComponentID: kcID,
		Params:               defaults,
	}
}

// Store persists knowledge states, one per (student, knowledge component).
type Store interface {
	// GetOrCreate returns the state, inserting one with defaults if absent.
	// Concurrent callers for the same pair observe a single row.
	GetOrCreate(ctx context.Context, studentID, kcID int64, defaults Params) (KnowledgeState, error)
	Get(ctx context.Context, studentID, kcID int64) (KnowledgeState, error)
	List(ctx context.Context, studentID int64) ([]KnowledgeState, error)
	// Update writes state if the stored version still equals state.Version and
	// returns the stored row with its new version; otherwise ErrConcurrencyConflict.
	Update(ctx context.Context, state KnowledgeState) (KnowledgeState, error)
}
