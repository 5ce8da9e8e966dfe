package tutor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/tracing"
	"github.com/mathgaling/tutor/internal/tutor"
)

// setMastery stores a knowledge state with the given mastery.
func setMastery(t *testing.T, store tracing.Store, student, kcID int64, p float64) {
	t.Helper()
	ctx := context.Background()
	st, err := store.GetOrCreate(ctx, student, kcID, tracing.DefaultParams())
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	st.PMastery = p
	if _, err := store.Update(ctx, st); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestSequencer_Next(t *testing.T) {
	tests := []struct {
		name     string
		mastery  map[int64]float64
		current  string
		wantKC   int64
		complete bool
	}{
		{
			name:   "fresh student starts at the first code",
			wantKC: kcPlaceValue,
		},
		{
			name:    "mastered components are passed",
			mastery: map[int64]float64{kcPlaceValue: 0.85},
			wantKC:  kcAddition,
		},
		{
			name:    "numeric order puts NS-2 before NS-10",
			mastery: map[int64]float64{kcPlaceValue: 0.9},
			wantKC:  kcAddition,
		},
		{
			name:    "current component is skipped",
			current: "G3-NS-1",
			wantKC:  kcAddition,
		},
		{
			name:    "current code matches case-insensitively",
			current: "g3-ns-1",
			wantKC:  kcAddition,
		},
		{
			name:    "threshold is inclusive",
			mastery: map[int64]float64{kcPlaceValue: 0.8, kcAddition: 0.79},
			wantKC:  kcAddition,
		},
		{
			name: "only the current component is left",
			mastery: map[int64]float64{
				kcPlaceValue: 0.9, kcAddition: 0.9, kcEmpty: 0.9,
			},
			current: "G3-NS-10",
			wantKC:  kcDivision,
		},
		{
			name: "everything mastered",
			mastery: map[int64]float64{
				kcPlaceValue: 0.9, kcAddition: 0.9, kcDivision: 0.81, kcEmpty: 1,
			},
			complete: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tracing.NewMemoryStore()
			for kc, p := range tt.mastery {
				setMastery(t, store, studentID, kc, p)
			}
			seq := tutor.NewSequencer(newCatalog(), store, 0)

			step, err := seq.Next(context.Background(), studentID, 3, tt.current)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if step.Complete != tt.complete {
				t.Fatalf("Complete = %v, want %v", step.Complete, tt.complete)
			}
			if tt.complete {
				if step.KnowledgeComponent != nil {
					t.Errorf("complete step carries component %+v", step.KnowledgeComponent)
				}
				return
			}
			if step.KnowledgeComponent.ID != tt.wantKC {
				t.Errorf("Next() = %s (%d), want %d", step.KnowledgeComponent.CurriculumCode, step.KnowledgeComponent.ID, tt.wantKC)
			}
		})
	}
}

func TestSequencer_NeverSkipsEarlierUnmastered(t *testing.T) {
	store := tracing.NewMemoryStore()
	setMastery(t, store, studentID, kcDivision, 0.95)
	seq := tutor.NewSequencer(newCatalog(), store, 0)

	step, err := seq.Next(context.Background(), studentID, 3, "")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if step.KnowledgeComponent.ID != kcPlaceValue {
		t.Errorf("Next() = %d, want %d", step.KnowledgeComponent.ID, kcPlaceValue)
	}
	if step.PMastery != tracing.DefaultPMastery {
		t.Errorf("PMastery = %v, want unseen default", step.PMastery)
	}
}

func TestSequencer_Path(t *testing.T) {
	store := tracing.NewMemoryStore()
	setMastery(t, store, studentID, kcPlaceValue, 0.9)
	seq := tutor.NewSequencer(newCatalog(), store, 0)

	path, err := seq.Path(context.Background(), studentID, 3)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}

	wantCodes := []string{"G3-NS-1", "G3-NS-2", "G3-NS-10", "G3-SP-1"}
	if len(path) != len(wantCodes) {
		t.Fatalf("Path() = %d entries, want %d", len(path), len(wantCodes))
	}
	for i, code := range wantCodes {
		if path[i].KnowledgeComponent.CurriculumCode != code {
			t.Errorf("path[%d] = %s, want %s", i, path[i].KnowledgeComponent.CurriculumCode, code)
		}
	}
	if !path[0].Mastered || path[0].Current {
		t.Errorf("path[0] = %+v, want mastered and not current", path[0])
	}
	if !path[1].Current {
		t.Error("path[1] should be current")
	}
	for _, e := range path[2:] {
		if e.Current {
			t.Errorf("%s marked current", e.KnowledgeComponent.CurriculumCode)
		}
	}
}

func TestSequencer_CustomThreshold(t *testing.T) {
	store := tracing.NewMemoryStore()
	setMastery(t, store, studentID, kcPlaceValue, 0.7)
	seq := tutor.NewSequencer(newCatalog(), store, 0.65)

	step, err := seq.Next(context.Background(), studentID, 3, "")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if step.KnowledgeComponent.ID != kcAddition {
		t.Errorf("Next() = %d, want %d with threshold 0.65", step.KnowledgeComponent.ID, kcAddition)
	}
}

func TestSequencer_InvalidGrade(t *testing.T) {
	seq := tutor.NewSequencer(newCatalog(), tracing.NewMemoryStore(), 0)
	if _, err := seq.Next(context.Background(), studentID, 0, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Next(grade 0) error = %v, want ErrValidation", err)
	}
}
