package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is idempotent; Migrate can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS knowledge_components (
    id              BIGINT PRIMARY KEY,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    grade_level     INT NOT NULL,
    curriculum_code TEXT NOT NULL UNIQUE,
    difficulty      INT NOT NULL DEFAULT 0,
    p_transit       DOUBLE PRECISION,
    p_guess         DOUBLE PRECISION,
    p_slip          DOUBLE PRECISION,
    lesson_notes    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_knowledge_components_grade ON knowledge_components (grade_level);

CREATE TABLE IF NOT EXISTS content_items (
    id                     BIGINT PRIMARY KEY,
    type                   TEXT NOT NULL,
    content                TEXT NOT NULL,
    difficulty             INT NOT NULL DEFAULT 0,
    metadata               JSONB NOT NULL DEFAULT '{}'::jsonb,
    knowledge_component_id BIGINT REFERENCES knowledge_components (id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_content_items_kc ON content_items (knowledge_component_id);

CREATE TABLE IF NOT EXISTS students (
    id          BIGINT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    grade_level INT NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_states (
    id                     BIGSERIAL PRIMARY KEY,
    student_id             BIGINT NOT NULL,
    knowledge_component_id BIGINT NOT NULL REFERENCES knowledge_components (id) ON DELETE CASCADE,
    p_mastery              DOUBLE PRECISION NOT NULL CHECK (p_mastery BETWEEN 0 AND 1),
    p_transit              DOUBLE PRECISION NOT NULL CHECK (p_transit BETWEEN 0 AND 1),
    p_guess                DOUBLE PRECISION NOT NULL CHECK (p_guess BETWEEN 0 AND 1),
    p_slip                 DOUBLE PRECISION NOT NULL CHECK (p_slip BETWEEN 0 AND 1),
    attempts               INT NOT NULL DEFAULT 0,
    correct_count          INT NOT NULL DEFAULT 0,
    consecutive_correct    INT NOT NULL DEFAULT 0,
    version                BIGINT NOT NULL DEFAULT 1,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (student_id, knowledge_component_id)
);

CREATE TABLE IF NOT EXISTS responses (
    id                     TEXT PRIMARY KEY,
    student_id             BIGINT NOT NULL,
    content_item_id        BIGINT NOT NULL,
    knowledge_component_id BIGINT NOT NULL,
    answer                 TEXT NOT NULL DEFAULT '',
    correct                BOOLEAN NOT NULL,
    time_spent             INT NOT NULL DEFAULT 0,
    interaction_data       JSONB NOT NULL DEFAULT '{}'::jsonb,
    practice_mode          BOOLEAN NOT NULL DEFAULT FALSE,
    session_id             TEXT,
    idempotency_key        TEXT,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Idempotency keys are client-chosen, so they are unique per student only.
ALTER TABLE responses DROP CONSTRAINT IF EXISTS responses_idempotency_key_key;
CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_student_idempotency_key ON responses (student_id, idempotency_key);

CREATE INDEX IF NOT EXISTS idx_responses_student_kc ON responses (student_id, knowledge_component_id);
CREATE INDEX IF NOT EXISTS idx_responses_student_created ON responses (student_id, created_at DESC);

CREATE TABLE IF NOT EXISTS quiz_sessions (
    id                     UUID PRIMARY KEY,
    student_id             BIGINT NOT NULL,
    knowledge_component_id BIGINT NOT NULL,
    mode                   TEXT NOT NULL,
    item_ids               JSONB NOT NULL DEFAULT '[]'::jsonb,
    answers                JSONB NOT NULL DEFAULT '[]'::jsonb,
    started_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    ended_at               TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_quiz_sessions_student ON quiz_sessions (student_id, started_at DESC);

CREATE TABLE IF NOT EXISTS events (
    id         BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL,
    event_type TEXT NOT NULL,
    data       JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the engine tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	slog.Info("database schema applied")
	return nil
}
