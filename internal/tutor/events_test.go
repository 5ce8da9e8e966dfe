package tutor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mathgaling/tutor/internal/tutor"
)

func TestMemoryEventLogger_LogEvent(t *testing.T) {
	logger := tutor.NewMemoryEventLogger()

	err := logger.LogEvent(tutor.Event{
		StudentID: studentID,
		EventType: tutor.EventMasteryUpdated,
		Data: map[string]any{
			"p_mastery": 0.69,
		},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].EventType != tutor.EventMasteryUpdated {
		t.Errorf("EventType = %q, want %s", events[0].EventType, tutor.EventMasteryUpdated)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if err := logger.LogEvent(tutor.Event{StudentID: studentID}); err == nil {
		t.Error("expected error for missing event type")
	}
}

func TestPostgresEventLogger_LogEvent_NilPool(t *testing.T) {
	logger := tutor.NewPostgresEventLogger(nil)

	err := logger.LogEvent(tutor.Event{
		StudentID: studentID,
		EventType: tutor.EventQuizStarted,
	})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

type failingLogger struct{}

func (failingLogger) LogEvent(tutor.Event) error { return errors.New("down") }

func TestMultiEventLogger(t *testing.T) {
	mem := tutor.NewMemoryEventLogger()
	multi := tutor.MultiEventLogger{failingLogger{}, mem}

	err := multi.LogEvent(tutor.Event{StudentID: 1, EventType: tutor.EventQuizCompleted})
	if err == nil {
		t.Error("expected the failing logger's error")
	}
	if len(mem.Events()) != 1 {
		t.Error("later loggers should still receive the event")
	}
}

func TestHub(t *testing.T) {
	hub := tutor.NewHub(2)

	ch, cancel := hub.Subscribe(studentID)
	other, cancelOther := hub.Subscribe(studentID + 1)
	defer cancelOther()

	if n := hub.Subscribers(studentID); n != 1 {
		t.Fatalf("Subscribers() = %d, want 1", n)
	}

	if err := hub.LogEvent(tutor.Event{StudentID: studentID, EventType: tutor.EventMasteryUpdated}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	select {
	case e := <-ch:
		if e.EventType != tutor.EventMasteryUpdated || e.CreatedAt.IsZero() {
			t.Errorf("received %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case e := <-other:
		t.Errorf("other student received %+v", e)
	default:
	}

	// A full buffer drops instead of blocking.
	for range 5 {
		_ = hub.LogEvent(tutor.Event{StudentID: studentID, EventType: tutor.EventMasteryUpdated})
	}
	if len(ch) != 2 {
		t.Errorf("buffered events = %d, want 2", len(ch))
	}

	cancel()
	cancel() // idempotent
	if n := hub.Subscribers(studentID); n != 0 {
		t.Errorf("Subscribers() after cancel = %d, want 0", n)
	}
	for range ch {
	}
}
