package curriculum_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
)

func TestLoader_LoadKnowledgeComponents(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	kcs, err := loader.KnowledgeComponents(context.Background(), 3)
	if err != nil {
		t.Fatalf("KnowledgeComponents() error = %v", err)
	}
	if len(kcs) != 2 {
		t.Fatalf("KnowledgeComponents(3) = %d, want 2", len(kcs))
	}
	if kcs[0].CurriculumCode != "G3-NS-2" || kcs[1].CurriculumCode != "G3-NS-10" {
		t.Errorf("order = [%s %s], want [G3-NS-2 G3-NS-10]", kcs[0].CurriculumCode, kcs[1].CurriculumCode)
	}
}

func TestLoader_GradeDerivedFromCode(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	kc, err := loader.KnowledgeComponent(context.Background(), 10)
	if err != nil {
		t.Fatalf("KnowledgeComponent(10) error = %v", err)
	}
	if kc.GradeLevel != 3 {
		t.Errorf("GradeLevel = %d, want 3 (from G3-NS-10)", kc.GradeLevel)
	}
	if kc.PSlip == nil || *kc.PSlip != 0.15 {
		t.Errorf("PSlip = %v, want override 0.15", kc.PSlip)
	}
}

func TestLoader_KnowledgeComponent_NotFound(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	_, err = loader.KnowledgeComponent(context.Background(), 999)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("KnowledgeComponent(999) error = %v, want ErrNotFound", err)
	}
}

func TestLoader_KnowledgeComponentByCode(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	kc, err := loader.KnowledgeComponentByCode(context.Background(), "g3-ns-2")
	if err != nil {
		t.Fatalf("KnowledgeComponentByCode() error = %v", err)
	}
	if kc.ID != 2 {
		t.Errorf("ID = %d, want 2", kc.ID)
	}
}

func TestLoader_ContentItemsTaggedFromSibling(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	items, err := loader.ContentItems(context.Background(), 2)
	if err != nil {
		t.Fatalf("ContentItems() error = %v", err)
	}
	// The invalid multiple-choice item is skipped.
	if len(items) != 2 {
		t.Fatalf("ContentItems(2) = %d items, want 2", len(items))
	}
	for _, item := range items {
		if item.KnowledgeComponentID != 2 {
			t.Errorf("item %d KnowledgeComponentID = %d, want 2", item.ID, item.KnowledgeComponentID)
		}
	}
	if items[0].ID != 201 || items[1].ID != 202 {
		t.Errorf("items not ordered by id: %d, %d", items[0].ID, items[1].ID)
	}
}

func TestLoader_OrphanItemsAreUnassigned(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	item, err := loader.ContentItem(context.Background(), 900)
	if err != nil {
		t.Fatalf("ContentItem(900) error = %v", err)
	}
	if item.KnowledgeComponentID != 0 {
		t.Errorf("KnowledgeComponentID = %d, want 0 for an orphan item", item.KnowledgeComponentID)
	}
}

func TestLoader_LessonNotes(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	notes, found := loader.LessonNotes(2)
	if !found {
		t.Fatal("LessonNotes(2) not found")
	}
	if notes == "" {
		t.Error("lesson notes are empty")
	}
}

func TestLoader_Roster(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	grade, err := loader.GradeLevel(context.Background(), 501)
	if err != nil {
		t.Fatalf("GradeLevel(501) error = %v", err)
	}
	if grade != 3 {
		t.Errorf("GradeLevel(501) = %d, want 3", grade)
	}

	_, err = loader.GradeLevel(context.Background(), 777)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GradeLevel(777) error = %v, want ErrNotFound", err)
	}

	if got := len(loader.Roster()); got != 1 {
		t.Errorf("Roster() = %d entries, want 1", got)
	}
}

func TestLoader_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	kcs, _ := loader.KnowledgeComponents(context.Background(), 0)
	if len(kcs) != 0 {
		t.Errorf("KnowledgeComponents() = %d, want 0 for empty dir", len(kcs))
	}
}

func TestLoader_LessonNotesWithoutYAML(t *testing.T) {
	dir := t.TempDir()

	os.WriteFile(filepath.Join(dir, "orphan.lesson.md"), []byte("# Orphan notes"), 0o644)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, found := loader.LessonNotes(0); found {
		t.Error("should not find lesson notes without matching component YAML")
	}
}

func setupTestCurriculum(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	nsDir := filepath.Join(dir, "grade3", "number-sense")
	os.MkdirAll(nsDir, 0o755)

	os.WriteFile(filepath.Join(nsDir, "02-addition.yaml"), []byte(`
id: 2
name: "Addition of 3- to 4-digit numbers"
grade_level: 3
curriculum_code: G3-NS-2
difficulty: 2
`), 0o644)

	os.WriteFile(filepath.Join(nsDir, "10-division.yaml"), []byte(`
id: 10
name: "Division of 2- to 3-digit numbers"
curriculum_code: G3-NS-10
difficulty: 4
p_slip: 0.15
`), 0o644)

	os.WriteFile(filepath.Join(nsDir, "02-addition.items.yaml"), []byte(`
items:
  - id: 202
    type: computation
    content: "What is 1 234 + 2 345?"
    difficulty: 3
    metadata:
      answer: "3579"
  - id: 201
    type: multiple_choice
    content: "What is 125 + 75?"
    difficulty: 1
    metadata:
      answer: "200"
      choices: ["150", "200", "250"]
      hint: "Add the tens first."
  - id: 203
    type: multiple_choice
    content: "Broken item"
    metadata:
      answer: "7"
`), 0o644)

	os.WriteFile(filepath.Join(nsDir, "02-addition.lesson.md"), []byte(`# Addition

Regroup when the ones add up to ten or more.
`), 0o644)

	os.WriteFile(filepath.Join(dir, "loose.items.yaml"), []byte(`
items:
  - id: 900
    type: fill_in_blank
    content: "5 + ___ = 9"
    difficulty: 1
    metadata:
      answer: "4"
`), 0o644)

	os.WriteFile(filepath.Join(dir, "section-a.students.yaml"), []byte(`
students:
  - id: 501
    name: "Juan"
    grade_level: 3
  - id: 0
    name: "No id"
    grade_level: 3
`), 0o644)

	return dir
}
