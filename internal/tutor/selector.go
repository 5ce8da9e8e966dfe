package tutor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/tracing"
)

// Difficulty scale of content items.
const (
	minDifficulty     = 1
	maxDifficulty     = 5
	unratedDifficulty = 3
)

// TargetDifficulty maps a mastery estimate to the difficulty an item should have.
func TargetDifficulty(pMastery float64) int {
	t := int(math.Ceil(pMastery * maxDifficulty))
	return min(max(t, minDifficulty), maxDifficulty)
}

// Rank orders items by distance from target difficulty, then by id.
// Items without a difficulty rank as medium. The input is not modified.
func Rank(items []curriculum.ContentItem, target int) []curriculum.ContentItem {
	out := slices.Clone(items)
	dist := func(it curriculum.ContentItem) int {
		d := it.Difficulty
		if d == 0 {
			d = unratedDifficulty
		}
		if d > target {
			return d - target
		}
		return target - d
	}
	slices.SortStableFunc(out, func(a, b curriculum.ContentItem) int {
		if n := cmp.Compare(dist(a), dist(b)); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Selector picks content items matched to a student's mastery.
type Selector struct {
	catalog   curriculum.Catalog
	states    tracing.Store
	responses ResponseLog
}

// NewSelector creates a content selector.
func NewSelector(catalog curriculum.Catalog, states tracing.Store, responses ResponseLog) *Selector {
	return &Selector{catalog: catalog, states: states, responses: responses}
}

// SelectNext returns up to count items of the component, closest to the
// student's target difficulty first. Items in exclude are used only when the
// unexcluded ones run out, so the result has min(count, candidates) items.
func (s *Selector) SelectNext(ctx context.Context, studentID, kcID int64, exclude []int64, count int) ([]curriculum.ContentItem, error) {
	return s.selectFrom(ctx, studentID, kcID, exclude, count, nil)
}

// Recommend is SelectNext with the student's answered items excluded.
func (s *Selector) Recommend(ctx context.Context, studentID, kcID int64, count int) ([]curriculum.ContentItem, error) {
	answered, err := s.responses.AnsweredItemIDs(ctx, studentID, kcID)
	if err != nil {
		return nil, err
	}
	return s.SelectNext(ctx, studentID, kcID, answered, count)
}

// QuizBlock is Recommend restricted to items that can be scored.
func (s *Selector) QuizBlock(ctx context.Context, studentID, kcID int64, count int) ([]curriculum.ContentItem, error) {
	answered, err := s.responses.AnsweredItemIDs(ctx, studentID, kcID)
	if err != nil {
		return nil, err
	}
	return s.selectFrom(ctx, studentID, kcID, answered, count, func(it curriculum.ContentItem) bool {
		return it.Type.Answerable()
	})
}

func (s *Selector) selectFrom(ctx context.Context, studentID, kcID int64, exclude []int64, count int, keep func(curriculum.ContentItem) bool) ([]curriculum.ContentItem, error) {
	if count <= 0 {
		return nil, apperr.Validation("count must be positive, got %d", count)
	}

	items, err := s.catalog.ContentItems(ctx, kcID)
	if err != nil {
		return nil, err
	}
	candidates := items[:0:0]
	for _, it := range items {
		if it.KnowledgeComponentID == kcID && (keep == nil || keep(it)) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return []curriculum.ContentItem{}, fmt.Errorf("knowledge component %d: %w", kcID, apperr.ErrNoContentAvailable)
	}

	mastery := tracing.DefaultPMastery
	st, err := s.states.Get(ctx, studentID, kcID)
	switch {
	case err == nil:
		mastery = st.PMastery
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	ranked := Rank(candidates, TargetDifficulty(mastery))
	excluded := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	out := make([]curriculum.ContentItem, 0, min(count, len(ranked)))
	var fill []curriculum.ContentItem
	for _, it := range ranked {
		if _, skip := excluded[it.ID]; skip {
			fill = append(fill, it)
			continue
		}
		if len(out) < count {
			out = append(out, it)
		}
	}
	for _, it := range fill {
		if len(out) >= count {
			break
		}
		out = append(out, it)
	}
	return out, nil
}
