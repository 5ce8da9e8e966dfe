package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/platform/database"
)

// QuizMode selects the block size and whether answers count toward mastery.
type QuizMode string

const (
	ModeSequential QuizMode = "sequential"
	ModeBook       QuizMode = "book"
	ModePractice   QuizMode = "practice"
)

// Valid reports whether m is a known quiz mode.
func (m QuizMode) Valid() bool {
	return m == ModeSequential || m == ModeBook || m == ModePractice
}

// QuizAnswer is the first recorded answer to one item of a block.
type QuizAnswer struct {
	ContentItemID int64 `json:"content_item_id"`
	Correct       bool  `json:"correct"`
}

// QuizSession is a server-tracked block of questions for one component.
type QuizSession struct {
	ID                   string       `json:"id"`
	StudentID            int64        `json:"student_id"`
	KnowledgeComponentID int64        `json:"knowledge_component_id"`
	Mode                 QuizMode     `json:"mode"`
	ItemIDs              []int64      `json:"item_ids"`
	Answers              []QuizAnswer `json:"answers"`
	StartedAt            time.Time    `json:"started_at"`
	EndedAt              *time.Time   `json:"ended_at,omitempty"`
}

// CorrectCount returns the number of correct answers so far.
func (q QuizSession) CorrectCount() int {
	n := 0
	for _, a := range q.Answers {
		if a.Correct {
			n++
		}
	}
	return n
}

// Completed reports whether every item of the block has an answer.
func (q QuizSession) Completed() bool {
	return len(q.Answers) >= len(q.ItemIDs)
}

// NextItemID returns the first item of the block without an answer.
func (q QuizSession) NextItemID() (int64, bool) {
	for _, id := range q.ItemIDs {
		if !q.answered(id) {
			return id, true
		}
	}
	return 0, false
}

func (q QuizSession) answered(itemID int64) bool {
	return slices.ContainsFunc(q.Answers, func(a QuizAnswer) bool { return a.ContentItemID == itemID })
}

// withAnswer returns q with a recorded; repeat answers to an item keep the first.
func (q QuizSession) withAnswer(a QuizAnswer, now time.Time) (QuizSession, error) {
	if !slices.Contains(q.ItemIDs, a.ContentItemID) {
		return q, apperr.Validation("content item %d is not part of quiz session %s", a.ContentItemID, q.ID)
	}
	if q.answered(a.ContentItemID) {
		return q, nil
	}
	q.Answers = append(slices.Clone(q.Answers), a)
	if q.Completed() && q.EndedAt == nil {
		q.EndedAt = &now
	}
	return q, nil
}

// SessionStore persists quiz sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, q QuizSession) (QuizSession, error)
	GetSession(ctx context.Context, id string) (QuizSession, error)
	// RecordAnswer adds an answer to a block item and closes the session once
	// every item is answered.
	RecordAnswer(ctx context.Context, id string, a QuizAnswer) (QuizSession, error)
}

// MemorySessionStore is an in-memory implementation of SessionStore.
type MemorySessionStore struct {
	sessions map[string]QuizSession
	mu       sync.RWMutex
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]QuizSession),
	}
}

func (s *MemorySessionStore) CreateSession(_ context.Context, q QuizSession) (QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.ID = uuid.NewString()
	q.StartedAt = time.Now()
	if q.Answers == nil {
		q.Answers = []QuizAnswer{}
	}
	s.sessions[q.ID] = q
	return q, nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, id string) (QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.sessions[id]
	if !ok {
		return QuizSession{}, apperr.NotFound("quiz session", id)
	}
	return q, nil
}

func (s *MemorySessionStore) RecordAnswer(_ context.Context, id string, a QuizAnswer) (QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.sessions[id]
	if !ok {
		return QuizSession{}, apperr.NotFound("quiz session", id)
	}
	q, err := q.withAnswer(a, time.Now())
	if err != nil {
		return QuizSession{}, err
	}
	s.sessions[id] = q
	return q, nil
}

// PostgresSessionStore is a PostgreSQL-backed SessionStore. Item lists and
// answers are stored as JSONB.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a session store over the quiz_sessions table.
func NewPostgresSessionStore(pool *pgxpool.Pool) (*PostgresSessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresSessionStore{pool: pool}, nil
}

func (s *PostgresSessionStore) CreateSession(ctx context.Context, q QuizSession) (QuizSession, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if q.Answers == nil {
		q.Answers = []QuizAnswer{}
	}
	items, answers, err := encodeSession(q)
	if err != nil {
		return QuizSession{}, err
	}

	q.ID = uuid.NewString()
	err = s.pool.QueryRow(ctx,
		`INSERT INTO quiz_sessions (id, student_id, knowledge_component_id, mode, item_ids, answers)
		 VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6::jsonb)
		 RETURNING started_at`,
		q.ID, q.StudentID, q.KnowledgeComponentID, string(q.Mode), items, answers,
	).Scan(&q.StartedAt)
	if err != nil {
		return QuizSession{}, fmt.Errorf("create quiz session: %w", err)
	}
	return q, nil
}

func (s *PostgresSessionStore) GetSession(ctx context.Context, id string) (QuizSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return QuizSession{}, apperr.NotFound("quiz session", id)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return getSession(ctx, s.pool, id, false)
}

func (s *PostgresSessionStore) RecordAnswer(ctx context.Context, id string, a QuizAnswer) (QuizSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return QuizSession{}, apperr.NotFound("quiz session", id)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out QuizSession
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		q, err := getSession(ctx, tx, id, true)
		if err != nil {
			return err
		}
		q, err = q.withAnswer(a, time.Now())
		if err != nil {
			return err
		}
		_, answers, err := encodeSession(q)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE quiz_sessions SET answers = $2::jsonb, ended_at = $3 WHERE id = $1::uuid`,
			id, answers, q.EndedAt,
		); err != nil {
			return fmt.Errorf("update quiz session: %w", err)
		}
		out = q
		return nil
	})
	if err != nil {
		return QuizSession{}, err
	}
	return out, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSession(ctx context.Context, db rowQuerier, id string, forUpdate bool) (QuizSession, error) {
	query := `SELECT id::text, student_id, knowledge_component_id, mode, item_ids, answers, started_at, ended_at
		 FROM quiz_sessions
		 WHERE id = $1::uuid`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var q QuizSession
	var mode string
	var items, answers []byte
	err := db.QueryRow(ctx, query, id).Scan(
		&q.ID,
		&q.StudentID,
		&q.KnowledgeComponentID,
		&mode,
		&items,
		&answers,
		&q.StartedAt,
		&q.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuizSession{}, apperr.NotFound("quiz session", id)
	}
	if err != nil {
		return QuizSession{}, fmt.Errorf("get quiz session: %w", err)
	}
	q.Mode = QuizMode(mode)
	if err := json.Unmarshal(items, &q.ItemIDs); err != nil {
		return QuizSession{}, fmt.Errorf("decode quiz session items: %w", err)
	}
	if err := json.Unmarshal(answers, &q.Answers); err != nil {
		return QuizSession{}, fmt.Errorf("decode quiz session answers: %w", err)
	}
	return q, nil
}

func encodeSession(q QuizSession) (items, answers string, err error) {
	ib, err := json.Marshal(q.ItemIDs)
	if err != nil {
		return "", "", fmt.Errorf("encode quiz session items: %w", err)
	}
	ab, err := json.Marshal(q.Answers)
	if err != nil {
		return "", "", fmt.Errorf("encode quiz session answers: %w", err)
	}
	return string(ib), string(ab), nil
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ SessionStore = (*PostgresSessionStore)(nil)
)
