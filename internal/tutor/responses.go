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

const dbTimeout = 5 * time.Second

// Response is one immutable answer record.
type Response struct {
	ID                   string         `json:"id"`
	StudentID            int64          `json:"student_id"`
	ContentItemID        int64          `json:"content_item_id"`
	KnowledgeComponentID int64          `json:"knowledge_component_id"`
	Answer               string         `json:"answer"`
	Correct              bool           `json:"correct"`
	TimeSpent            int            `json:"time_spent"`
	InteractionData      map[string]any `json:"interaction_data,omitempty"`
	PracticeMode         bool           `json:"practice_mode"`
	SessionID            string         `json:"session_id,omitempty"`
	IdempotencyKey       string         `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// ResponseLog is the append-only response history.
type ResponseLog interface {
	// Append assigns ID and CreatedAt and stores r. A repeated non-empty
	// IdempotencyKey yields ErrDuplicate.
	Append(ctx context.Context, r Response) (Response, error)
	// AnsweredItemIDs returns the distinct items a student answered for a component.
	AnsweredItemIDs(ctx context.Context, studentID, kcID int64) ([]int64, error)
	// Recent returns the student's latest responses, newest first.
	Recent(ctx context.Context, studentID int64, limit int) ([]Response, error)
	// Remove deletes a response whose mastery update could not be applied,
	// freeing its idempotency key for a retry.
	Remove(ctx context.Context, id string) error
}

// responseKey scopes idempotency keys to a student.
type responseKey struct {
	studentID int64
	key       string
}

// MemoryResponseLog is an in-memory implementation of ResponseLog.
type MemoryResponseLog struct {
	responses []Response
	keys      map[responseKey]struct{}
	mu        sync.RWMutex
}

// NewMemoryResponseLog creates a new in-memory response log.
func NewMemoryResponseLog() *MemoryResponseLog {
	return &MemoryResponseLog{
		keys: make(map[responseKey]struct{}),
	}
}

func (l *MemoryResponseLog) Append(_ context.Context, r Response) (Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.IdempotencyKey != "" {
		k := responseKey{studentID: r.StudentID, key: r.IdempotencyKey}
		if _, seen := l.keys[k]; seen {
			return Response{}, fmt.Errorf("idempotency key %q: %w", r.IdempotencyKey, apperr.ErrDuplicate)
		}
		l.keys[k] = struct{}{}
	}

	r.ID = uuid.NewString()
	r.CreatedAt = time.Now()
	l.responses = append(l.responses, r)
	return r, nil
}

func (l *MemoryResponseLog) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.responses, func(r Response) bool { return r.ID == id })
	if i < 0 {
		return apperr.NotFound("response", id)
	}
	if key := l.responses[i].IdempotencyKey; key != "" {
		delete(l.keys, responseKey{studentID: l.responses[i].StudentID, key: key})
	}
	l.responses = slices.Delete(l.responses, i, i+1)
	return nil
}

func (l *MemoryResponseLog) AnsweredItemIDs(_ context.Context, studentID, kcID int64) ([]int64, error) {
	l.mu.RLock()
	seen := make(map[int64]struct{})
	for _, r := range l.responses {
		if r.StudentID == studentID && r.KnowledgeComponentID == kcID {
			seen[r.ContentItemID] = struct{}{}
		}
	}
	l.mu.RUnlock()

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (l *MemoryResponseLog) Recent(_ context.Context, studentID int64, limit int) ([]Response, error) {
	l.mu.RLock()
	out := []Response{}
	for _, r := range l.responses {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	l.mu.RUnlock()

	// Appends are in time order; newest first.
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PostgresResponseLog is a PostgreSQL-backed ResponseLog. Statements join a
// transaction carried on the context.
type PostgresResponseLog struct {
	pool *pgxpool.Pool
}

// NewPostgresResponseLog creates a response log over the responses table.
func NewPostgresResponseLog(pool *pgxpool.Pool) (*PostgresResponseLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresResponseLog{pool: pool}, nil
}

func (l *PostgresResponseLog) Append(ctx context.Context, r Response) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	data := r.InteractionData
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("marshal interaction data: %w", err)
	}

	r.ID = uuid.NewString()
	err = database.Conn(ctx, l.pool).QueryRow(ctx,
		`INSERT INTO responses (id, student_id, content_item_id, knowledge_component_id, answer, correct,
		                        time_spent, interaction_data, practice_mode, session_id, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)
		 ON CONFLICT (student_id, idempotency_key) DO NOTHING
		 RETURNING created_at`,
		r.ID,
		r.StudentID,
		r.ContentItemID,
		r.KnowledgeComponentID,
		r.Answer,
		r.Correct,
		r.TimeSpent,
		string(payload),
		r.PracticeMode,
		nullIfEmpty(r.SessionID),
		nullIfEmpty(r.IdempotencyKey),
	).Scan(&r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Response{}, fmt.Errorf("idempotency key %q: %w", r.IdempotencyKey, apperr.ErrDuplicate)
	}
	if err != nil {
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	return r, nil
}

func (l *PostgresResponseLog) Remove(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := database.Conn(ctx, l.pool).Exec(ctx, `DELETE FROM responses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("response", id)
	}
	return nil
}

func (l *PostgresResponseLog) AnsweredItemIDs(ctx context.Context, studentID, kcID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := database.Conn(ctx, l.pool).Query(ctx,
		`SELECT DISTINCT content_item_id
		 FROM responses
		 WHERE student_id = $1 AND knowledge_component_id = $2
		 ORDER BY content_item_id`,
		studentID, kcID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answered items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect answered items: %w", err)
	}
	return ids, nil
}

func (l *PostgresResponseLog) Recent(ctx context.Context, studentID int64, limit int) ([]Response, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := database.Conn(ctx, l.pool).Query(ctx,
		`SELECT id, student_id, content_item_id, knowledge_component_id, answer, correct, time_spent,
		        interaction_data, practice_mode, COALESCE(session_id, ''), COALESCE(idempotency_key, ''), created_at
		 FROM responses
		 WHERE student_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		studentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	out := []Response{}
	for rows.Next() {
		var r Response
		var data []byte
		if err := rows.Scan(
			&r.ID,
			&r.StudentID,
			&r.ContentItemID,
			&r.KnowledgeComponentID,
			&r.Answer,
			&r.Correct,
			&r.TimeSpent,
			&data,
			&r.PracticeMode,
			&r.SessionID,
			&r.IdempotencyKey,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &r.InteractionData); err != nil {
				return nil, fmt.Errorf("decode interaction data of response %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ ResponseLog = (*MemoryResponseLog)(nil)
	_ ResponseLog = (*PostgresResponseLog)(nil)
)
