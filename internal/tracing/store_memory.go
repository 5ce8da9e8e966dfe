package tracing

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

type stateKey struct {
	studentID int64
	kcID      int64
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	states map[stateKey]KnowledgeState
	nextID int64
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory knowledge state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[stateKey]KnowledgeState),
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, studentID, kcID int64, defaults Params) (KnowledgeState, error) {
	if err := defaults.Validate(); err != nil {
		return KnowledgeState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{studentID, kcID}
	if st, ok := s.states[key]; ok {
		return st, nil
	}

	s.nextID++
	now := time.Now()
	st := Unseen(studentID, kcID, defaults)
	st.ID = s.nextID
	st.Version = 1
	st.CreatedAt = now
	st.UpdatedAt = now
	s.states[key] = st
	return st, nil
}

func (s *MemoryStore) Get(_ context.Context, studentID, kcID int64) (KnowledgeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[stateKey{studentID, kcID}]
	if !ok {
		return KnowledgeState{}, apperr.NotFound("knowledge state", fmt.Sprintf("%d/%d", studentID, kcID))
	}
	return st, nil
}

func (s *MemoryStore) List(_ context.Context, studentID int64) ([]KnowledgeState, error) {
	s.mu.RLock()
	out := []KnowledgeState{}
	for k, st := range s.states {
		if k.studentID == studentID {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b KnowledgeState) int {
		return cmp.Compare(a.KnowledgeComponentID, b.KnowledgeComponentID)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, state KnowledgeState) (KnowledgeState, error) {
	if err := state.Params.Validate(); err != nil {
		return KnowledgeState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{state.StudentID, state.KnowledgeComponentID}
	cur, ok := s.states[key]
	if !ok {
		return KnowledgeState{}, apperr.NotFound("knowledge state", fmt.Sprintf("%d/%d", state.StudentID, state.KnowledgeComponentID))
	}
	if cur.Version != state.Version {
		return KnowledgeState{}, fmt.Errorf("knowledge state %d/%d at version %d, expected %d: %w",
			state.StudentID, state.KnowledgeComponentID, cur.Version, state.Version, apperr.ErrConcurrencyConflict)
	}

	state.ID = cur.ID
	state.CreatedAt = cur.CreatedAt
	state.UpdatedAt = time.Now()
	state.Version = cur.Version + 1
	s.states[key] = state
	return state, nil
}
