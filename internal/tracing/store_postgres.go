package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/platform/database"
)

const dbTimeout = 5 * time.Second

const stateColumns = `id, student_id, knowledge_component_id, p_mastery, p_transit, p_guess, p_slip,
	attempts, correct_count, consecutive_correct, version, created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store. Creation relies on the unique
// (student_id, knowledge_component_id) index; updates are version-checked.
// Statements join a transaction carried on the context.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed knowledge state store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, studentID, kcID int64, defaults Params) (KnowledgeState, error) {
	if err := defaults.Validate(); err != nil {
		return KnowledgeState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st, err := scanState(database.Conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO knowledge_states (student_id, knowledge_component_id, p_mastery, p_transit, p_guess, p_slip)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (student_id, knowledge_component_id) DO NOTHING
		 RETURNING `+stateColumns,
		studentID, kcID, defaults.PMastery, defaults.PTransit, defaults.PGuess, defaults.PSlip,
	))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeState{}, fmt.Errorf("create knowledge state: %w", err)
	}

	// Lost the insert race or the row already existed.
	return s.get(ctx, studentID, kcID)
}

func (s *PostgresStore) Get(ctx context.Context, studentID, kcID int64) (KnowledgeState, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return s.get(ctx, studentID, kcID)
}

func (s *PostgresStore) get(ctx context.Context, studentID, kcID int64) (KnowledgeState, error) {
	st, err := scanState(database.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+stateColumns+`
		 FROM knowledge_states
		 WHERE student_id = $1 AND knowledge_component_id = $2`,
		studentID, kcID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeState{}, apperr.NotFound("knowledge state", fmt.Sprintf("%d/%d", studentID, kcID))
	}
	if err != nil {
		return KnowledgeState{}, fmt.Errorf("get knowledge state: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) List(ctx context.Context, studentID int64) ([]KnowledgeState, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := database.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+stateColumns+`
		 FROM knowledge_states
		 WHERE student_id = $1
		 ORDER BY knowledge_component_id ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge states: %w", err)
	}
	defer rows.Close()

	out := []KnowledgeState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge states: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, state KnowledgeState) (KnowledgeState, error) {
	if err := state.Params.Validate(); err != nil {
		return KnowledgeState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st, err := scanState(database.Conn(ctx, s.pool).QueryRow(ctx,
		`UPDATE knowledge_states
		 SET p_mastery = $3,
		     p_transit = $4,
		     p_guess = $5,
		     p_slip = $6,
		     attempts = $7,
		     correct_count = $8,
		     consecutive_correct = $9,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE student_id = $1
		   AND knowledge_component_id = $2
		   AND version = $10
		 RETURNING `+stateColumns,
		state.StudentID,
		state.KnowledgeComponentID,
		state.PMastery,
		state.PTransit,
		state.PGuess,
		state.PSlip,
		state.Attempts,
		state.CorrectCount,
		state.ConsecutiveCorrect,
		state.Version,
	))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeState{}, fmt.Errorf("update knowledge state: %w", err)
	}

	// Either the row is gone or its version moved on.
	if _, getErr := s.get(ctx, state.StudentID, state.KnowledgeComponentID); getErr != nil {
		return KnowledgeState{}, getErr
	}
	return KnowledgeState{}, fmt.Errorf("knowledge state %d/%d changed since version %d: %w",
		state.StudentID, state.KnowledgeComponentID, state.Version, apperr.ErrConcurrencyConflict)
}

func scanState(row pgx.Row) (KnowledgeState, error) {
	var st KnowledgeState
	err := row.Scan(
		&st.ID,
		&st.StudentID,
		&st.KnowledgeComponentID,
		&st.PMastery,
		&st.PTransit,
		&st.PGuess,
		&st.PSlip,
		&st.Attempts,
		&st.CorrectCount,
		&st.ConsecutiveCorrect,
		&st.Version,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	return st, err
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
