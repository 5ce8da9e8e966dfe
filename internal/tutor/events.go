package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted by the engine.
const (
	EventMasteryUpdated          = "mastery_updated"
	EventMasteryThresholdCrossed = "mastery_threshold_crossed"
	EventQuizStarted             = "quiz_started"
	EventQuizCompleted           = "quiz_completed"
	EventDuplicateSubmission     = "duplicate_submission"
)

// Event is an analytics record persisted to the events table and pushed to
// live mastery feeds.
type Event struct {
	StudentID int64          `json:"student_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MultiEventLogger fans an event out to every logger. All loggers run; the
// first error is returned.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) LogEvent(event Event) error {
	var first error
	for _, l := range m {
		if err := l.LogEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.StudentID == 0 {
		return fmt.Errorf("student_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO events (student_id, event_type, data, created_at)
		 VALUES ($1, $2, $3::jsonb, $4)`,
		event.StudentID,
		event.EventType,
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"student_id", event.StudentID,
	)
	return nil
}

// Hub broadcasts events to live subscribers, keyed by student.
// Slow subscribers miss events rather than block the writer.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]map[chan Event]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[int64]map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of the student's events and a cancel func that
// closes it.
func (h *Hub) Subscribe(studentID int64) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[studentID] == nil {
		h.subs[studentID] = make(map[chan Event]struct{})
	}
	h.subs[studentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[studentID], ch)
			if len(h.subs[studentID]) == 0 {
				delete(h.subs, studentID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of open subscriptions for a student.
func (h *Hub) Subscribers(studentID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[studentID])
}

func (h *Hub) LogEvent(event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.StudentID] {
		select {
		case ch <- event:
		default:
			slog.Debug("mastery feed subscriber lagging, event dropped",
				"student_id", event.StudentID,
				"type", event.EventType,
			)
		}
	}
	return nil
}

var (
	_ EventLogger = NopEventLogger{}
	_ EventLogger = MultiEventLogger(nil)
	_ EventLogger = (*MemoryEventLogger)(nil)
	_ EventLogger = (*PostgresEventLogger)(nil)
	_ EventLogger = (*Hub)(nil)
)
