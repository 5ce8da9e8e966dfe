package tracing_test

import (
	"context"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/database/dbtest"
	"github.com/mathgaling/tutor/internal/tracing"
)

func TestPostgresStore(t *testing.T) {
	pool := dbtest.Pool(t)

	_, err := pool.Exec(context.Background(),
		`INSERT INTO knowledge_components (id, name, grade_level, curriculum_code)
		 VALUES (1, 'Place value', 3, 'G3-NS-1'), (2, 'Addition', 3, 'G3-NS-2')`)
	if err != nil {
		t.Fatalf("seed knowledge components: %v", err)
	}

	store, err := tracing.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	storeContract(t, store, 7, 1, 2)
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := tracing.NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
