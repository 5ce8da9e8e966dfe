package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/config"
)

func TestSetup_MemoryStore(t *testing.T) {
	dir := t.TempDir()
	kc := []byte("id: 1\nname: Place value\ncurriculum_code: G3-NS-1\n")
	if err := os.WriteFile(filepath.Join(dir, "place-value.yaml"), kc, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Store:          config.StoreMemory,
		Mastery:        config.MasteryConfig{Threshold: 0.8, MaxRetries: 3},
		Quiz:           config.QuizConfig{SequentialSize: 8, BookSize: 5, PracticeSize: 5},
		CurriculumPath: dir,
	}

	app, err := setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	defer app.close()

	if app.engine.Threshold() != 0.8 {
		t.Errorf("Threshold() = %v, want 0.8", app.engine.Threshold())
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   "{\"status\":\"ok\"}\n",
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   "{\"status\":\"ready\"}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			app.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge-components", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("knowledge-components status = %d, want 200", rec.Code)
	}
}

func TestSetup_UnreachableDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	cfg := &config.Config{
		Store:          config.StorePostgres,
		Database:       config.DatabaseConfig{URL: "postgres://x:x@127.0.0.1:1/x?connect_timeout=1", MaxConns: 2, MinConns: 0},
		Mastery:        config.MasteryConfig{Threshold: 0.8, MaxRetries: 3},
		CurriculumPath: t.TempDir(),
	}
	if _, err := setup(context.Background(), cfg); err == nil {
		t.Fatal("setup() should fail when the database is unreachable")
	}
}
