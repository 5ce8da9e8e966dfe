package tutor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/platform/database"
	"github.com/mathgaling/tutor/internal/platform/database/dbtest"
	"github.com/mathgaling/tutor/internal/tutor"
)

func TestPostgresStores(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	t.Run("sessions", func(t *testing.T) {
		store, err := tutor.NewPostgresSessionStore(pool)
		if err != nil {
			t.Fatalf("NewPostgresSessionStore() error = %v", err)
		}
		sessionContract(t, store)
	})

	t.Run("responses", func(t *testing.T) {
		log, err := tutor.NewPostgresResponseLog(pool)
		if err != nil {
			t.Fatalf("NewPostgresResponseLog() error = %v", err)
		}

		first, err := log.Append(ctx, tutor.Response{
			StudentID:            studentID,
			ContentItemID:        201,
			KnowledgeComponentID: kcAddition,
			Answer:               "42",
			Correct:              true,
			InteractionData:      map[string]any{"hints_used": 1.0},
			IdempotencyKey:       "pg-1",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if first.ID == "" || first.CreatedAt.IsZero() {
			t.Errorf("Append() = %+v, want id and timestamp", first)
		}

		_, err = log.Append(ctx, tutor.Response{StudentID: studentID, ContentItemID: 201, KnowledgeComponentID: kcAddition, IdempotencyKey: "pg-1"})
		if !errors.Is(err, apperr.ErrDuplicate) {
			t.Errorf("Append(reused key) error = %v, want ErrDuplicate", err)
		}

		// Responses without a key never collide.
		for range 2 {
			if _, err := log.Append(ctx, tutor.Response{StudentID: studentID, ContentItemID: 202, KnowledgeComponentID: kcAddition}); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		ids, err := log.AnsweredItemIDs(ctx, studentID, kcAddition)
		if err != nil {
			t.Fatalf("AnsweredItemIDs() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != 201 || ids[1] != 202 {
			t.Errorf("AnsweredItemIDs() = %v, want [201 202]", ids)
		}

		recent, err := log.Recent(ctx, studentID, 2)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recent) != 2 {
			t.Fatalf("Recent() = %d responses, want 2", len(recent))
		}
		all, _ := log.Recent(ctx, studentID, 10)
		oldest := all[len(all)-1]
		if oldest.ID != first.ID || oldest.InteractionData["hints_used"] != 1.0 {
			t.Errorf("oldest response = %+v, want the first append with its interaction data", oldest)
		}

		// Keys are scoped to the student.
		other, err := log.Append(ctx, tutor.Response{StudentID: studentID + 1, ContentItemID: 201, KnowledgeComponentID: kcAddition, IdempotencyKey: "pg-1"})
		if err != nil {
			t.Fatalf("Append(other student, same key) error = %v", err)
		}

		if err := log.Remove(ctx, other.ID); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if err := log.Remove(ctx, other.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Remove(removed) error = %v, want ErrNotFound", err)
		}
		if _, err := log.Append(ctx, tutor.Response{StudentID: studentID + 1, ContentItemID: 201, KnowledgeComponentID: kcAddition, IdempotencyKey: "pg-1"}); err != nil {
			t.Errorf("Append() after Remove() error = %v, want the key free again", err)
		}
	})

	t.Run("responses roll back with the transaction", func(t *testing.T) {
		log, err := tutor.NewPostgresResponseLog(pool)
		if err != nil {
			t.Fatalf("NewPostgresResponseLog() error = %v", err)
		}
		tx, err := database.NewTransactor(pool)
		if err != nil {
			t.Fatalf("NewTransactor() error = %v", err)
		}

		const student = studentID + 50
		boom := errors.New("state update failed")
		err = tx.InTx(ctx, func(ctx context.Context) error {
			if _, err := log.Append(ctx, tutor.Response{StudentID: student, ContentItemID: 201, KnowledgeComponentID: kcAddition, IdempotencyKey: "k1"}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want %v", err, boom)
		}
		if got, _ := log.Recent(ctx, student, 0); len(got) != 0 {
			t.Errorf("rolled back append left %d responses", len(got))
		}
		if _, err := log.Append(ctx, tutor.Response{StudentID: student, ContentItemID: 201, KnowledgeComponentID: kcAddition, IdempotencyKey: "k1"}); err != nil {
			t.Errorf("Append() after rollback error = %v, want the key free", err)
		}
	})

	t.Run("events", func(t *testing.T) {
		logger := tutor.NewPostgresEventLogger(pool)
		if err := logger.LogEvent(tutor.Event{
			StudentID: studentID,
			EventType: tutor.EventMasteryUpdated,
			Data:      map[string]any{"p_mastery": 0.69},
		}); err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}

		var n int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM events WHERE student_id = $1`, studentID).Scan(&n); err != nil {
			t.Fatalf("count events: %v", err)
		}
		if n != 1 {
			t.Errorf("events = %d, want 1", n)
		}

		if err := logger.LogEvent(tutor.Event{EventType: tutor.EventMasteryUpdated}); err == nil {
			t.Error("expected error for missing student")
		}
	})
}

func TestNewPostgresStores_NilPool(t *testing.T) {
	if _, err := tutor.NewPostgresSessionStore(nil); err == nil {
		t.Error("NewPostgresSessionStore(nil) should fail")
	}
	if _, err := tutor.NewPostgresResponseLog(nil); err == nil {
		t.Error("NewPostgresResponseLog(nil) should fail")
	}
}
