package tutor

import (
	"context"
	"strings"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/tracing"
)

// Step is the Sequencer's answer: the next component to work on, or Complete.
type Step struct {
	KnowledgeComponent *curriculum.KnowledgeComponent `json:"knowledge_component,omitempty"`
	PMastery           float64                        `json:"p_mastery"`
	Complete           bool                           `json:"complete"`
}

// PathEntry is one component of a grade's learning path.
type PathEntry struct {
	KnowledgeComponent curriculum.KnowledgeComponent `json:"knowledge_component"`
	PMastery           float64                       `json:"p_mastery"`
	Attempts           int                           `json:"attempts"`
	Mastered           bool                          `json:"mastered"`
	Current            bool                          `json:"current"`
}

// Sequencer walks a grade's components in curriculum order.
type Sequencer struct {
	catalog   curriculum.Catalog
	states    tracing.Store
	threshold float64
}

// NewSequencer creates a sequencer; threshold 0 means the default 0.8.
func NewSequencer(catalog curriculum.Catalog, states tracing.Store, threshold float64) *Sequencer {
	if threshold == 0 {
		threshold = tracing.DefaultMasteryThreshold
	}
	return &Sequencer{catalog: catalog, states: states, threshold: threshold}
}

// Next returns the first unmastered component of the grade, skipping the one
// identified by currentCode unless it is the only unmastered component left.
func (s *Sequencer) Next(ctx context.Context, studentID int64, grade int, currentCode string) (Step, error) {
	path, err := s.Path(ctx, studentID, grade)
	if err != nil {
		return Step{}, err
	}

	var current *PathEntry
	for i := range path {
		e := &path[i]
		if e.Mastered {
			continue
		}
		if currentCode != "" && strings.EqualFold(e.KnowledgeComponent.CurriculumCode, currentCode) {
			current = e
			continue
		}
		return Step{KnowledgeComponent: &e.KnowledgeComponent, PMastery: e.PMastery}, nil
	}
	if current != nil {
		return Step{KnowledgeComponent: &current.KnowledgeComponent, PMastery: current.PMastery}, nil
	}
	return Step{Complete: true}, nil
}

// Path returns every component of the grade in curriculum order with the
// student's mastery; the first unmastered entry is marked current.
func (s *Sequencer) Path(ctx context.Context, studentID int64, grade int) ([]PathEntry, error) {
	if grade <= 0 {
		return nil, apperr.Validation("grade must be positive, got %d", grade)
	}

	kcs, err := s.catalog.KnowledgeComponents(ctx, grade)
	if err != nil {
		return nil, err
	}
	states, err := s.states.List(ctx, studentID)
	if err != nil {
		return nil, err
	}
	byKC := make(map[int64]tracing.KnowledgeState, len(states))
	for _, st := range states {
		byKC[st.KnowledgeComponentID] = st
	}

	// Catalogs already sort; sorting again keeps the order independent of the backend.
	curriculum.SortKnowledgeComponents(kcs)

	out := make([]PathEntry, 0, len(kcs))
	marked := false
	for _, kc := range kcs {
		e := PathEntry{KnowledgeComponent: kc, PMastery: tracing.DefaultPMastery}
		if st, ok := byKC[kc.ID]; ok {
			e.PMastery = st.PMastery
			e.Attempts = st.Attempts
		}
		e.Mastered = e.PMastery >= s.threshold
		if !e.Mastered && !marked {
			e.Current = true
			marked = true
		}
		out = append(out, e)
	}
	return out, nil
}
