package tutor_test

import (
	"cmp"
	"context"
	"slices"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
)

// fakeCatalog is an in-memory Catalog and Roster.
type fakeCatalog struct {
	kcs    []curriculum.KnowledgeComponent
	items  []curriculum.ContentItem
	grades map[int64]int
}

func (c *fakeCatalog) KnowledgeComponent(_ context.Context, id int64) (curriculum.KnowledgeComponent, error) {
	for _, kc := range c.kcs {
		if kc.ID == id {
			return kc, nil
		}
	}
	return curriculum.KnowledgeComponent{}, apperr.NotFound("knowledge component", id)
}

func (c *fakeCatalog) KnowledgeComponentByCode(_ context.Context, code string) (curriculum.KnowledgeComponent, error) {
	for _, kc := range c.kcs {
		if kc.CurriculumCode == code {
			return kc, nil
		}
	}
	return curriculum.KnowledgeComponent{}, apperr.NotFound("knowledge component", code)
}

func (c *fakeCatalog) KnowledgeComponents(_ context.Context, grade int) ([]curriculum.KnowledgeComponent, error) {
	out := []curriculum.KnowledgeComponent{}
	for _, kc := range c.kcs {
		if grade == 0 || kc.GradeLevel == grade {
			out = append(out, kc)
		}
	}
	curriculum.SortKnowledgeComponents(out)
	return out, nil
}

func (c *fakeCatalog) ContentItem(_ context.Context, id int64) (curriculum.ContentItem, error) {
	for _, it := range c.items {
		if it.ID == id {
			return it, nil
		}
	}
	return curriculum.ContentItem{}, apperr.NotFound("content item", id)
}

func (c *fakeCatalog) ContentItems(_ context.Context, kcID int64) ([]curriculum.ContentItem, error) {
	out := []curriculum.ContentItem{}
	for _, it := range c.items {
		if it.KnowledgeComponentID == kcID {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b curriculum.ContentItem) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (c *fakeCatalog) GradeLevel(_ context.Context, studentID int64) (int, error) {
	g, ok := c.grades[studentID]
	if !ok {
		return 0, apperr.NotFound("student", studentID)
	}
	return g, nil
}

const (
	studentID = 501

	kcPlaceValue = 1  // G3-NS-1
	kcAddition   = 2  // G3-NS-2
	kcDivision   = 10 // G3-NS-10
	kcEmpty      = 20 // G3-SP-1, no items
)

// newCatalog returns a grade 3 curriculum. Ids are chosen so that id order
// and numeric curriculum order disagree with plain string order.
func newCatalog() *fakeCatalog {
	c := &fakeCatalog{
		kcs: []curriculum.KnowledgeComponent{
			{ID: kcDivision, Name: "Division", GradeLevel: 3, CurriculumCode: "G3-NS-10"},
			{ID: kcAddition, Name: "Addition", GradeLevel: 3, CurriculumCode: "G3-NS-2"},
			{ID: kcPlaceValue, Name: "Place value", GradeLevel: 3, CurriculumCode: "G3-NS-1"},
			{ID: kcEmpty, Name: "Shapes", GradeLevel: 3, CurriculumCode: "G3-SP-1"},
			{ID: 30, Name: "Fractions", GradeLevel: 4, CurriculumCode: "G4-NS-1"},
		},
		grades: map[int64]int{studentID: 3},
	}

	// Ten computation items per numeric component, difficulties 1..5 twice.
	for _, kcID := range []int64{kcPlaceValue, kcAddition, kcDivision} {
		for i := int64(0); i < 10; i++ {
			c.items = append(c.items, curriculum.ContentItem{
				ID:                   kcID*100 + i + 1,
				Type:                 curriculum.TypeComputation,
				Content:              "question",
				Difficulty:           int(i%5) + 1,
				Metadata:             curriculum.Metadata{Answer: "42"},
				KnowledgeComponentID: kcID,
			})
		}
	}
	// Lesson for place value and an unassigned item.
	c.items = append(c.items,
		curriculum.ContentItem{ID: 199, Type: curriculum.TypeLesson, Content: "Ones, tens, hundreds", KnowledgeComponentID: kcPlaceValue},
		curriculum.ContentItem{ID: 900, Type: curriculum.TypeFillInBlank, Content: "5 + ___ = 9", Metadata: curriculum.Metadata{Answer: "4"}},
	)
	return c
}

func boolPtr(b bool) *bool { return &b }
