package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

const dbTimeout = 5 * time.Second

const kcColumns = `id, name, description, grade_level, curriculum_code, difficulty, p_transit, p_guess, p_slip`

const itemColumns = `id, type, content, difficulty, metadata, COALESCE(knowledge_component_id, 0)`

// PostgresCatalog is a PostgreSQL-backed Catalog and Roster.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates a catalog over the knowledge_components, content_items and students tables.
func NewPostgresCatalog(pool *pgxpool.Pool) (*PostgresCatalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresCatalog{pool: pool}, nil
}

func (c *PostgresCatalog) KnowledgeComponent(ctx context.Context, id int64) (KnowledgeComponent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	kc, err := scanKnowledgeComponent(c.pool.QueryRow(ctx,
		`SELECT `+kcColumns+` FROM knowledge_components WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeComponent{}, apperr.NotFound("knowledge component", id)
	}
	if err != nil {
		return KnowledgeComponent{}, fmt.Errorf("get knowledge component: %w", err)
	}
	return kc, nil
}

func (c *PostgresCatalog) KnowledgeComponentByCode(ctx context.Context, code string) (KnowledgeComponent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	kc, err := scanKnowledgeComponent(c.pool.QueryRow(ctx,
		`SELECT `+kcColumns+` FROM knowledge_components WHERE upper(curriculum_code) = upper($1) LIMIT 1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeComponent{}, apperr.NotFound("knowledge component", code)
	}
	if err != nil {
		return KnowledgeComponent{}, fmt.Errorf("get knowledge component by code: %w", err)
	}
	return kc, nil
}

func (c *PostgresCatalog) KnowledgeComponents(ctx context.Context, grade int) ([]KnowledgeComponent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx,
		`SELECT `+kcColumns+` FROM knowledge_components
		 WHERE $1 = 0 OR grade_level = $1`, grade)
	if err != nil {
		return nil, fmt.Errorf("query knowledge components: %w", err)
	}
	defer rows.Close()

	out := []KnowledgeComponent{}
	for rows.Next() {
		kc, err := scanKnowledgeComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge component: %w", err)
		}
		out = append(out, kc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge components: %w", err)
	}

	// Curriculum order is numeric-aware, which ORDER BY on text is not.
	SortKnowledgeComponents(out)
	return out, nil
}

func (c *PostgresCatalog) ContentItem(ctx context.Context, id int64) (ContentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	item, err := scanContentItem(c.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ContentItem{}, apperr.NotFound("content item", id)
	}
	if err != nil {
		return ContentItem{}, fmt.Errorf("get content item: %w", err)
	}
	return item, nil
}

func (c *PostgresCatalog) ContentItems(ctx context.Context, kcID int64) ([]ContentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM content_items
		 WHERE knowledge_component_id = $1
		 ORDER BY id ASC`, kcID)
	if err != nil {
		return nil, fmt.Errorf("query content items: %w", err)
	}
	defer rows.Close()

	out := []ContentItem{}
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content items: %w", err)
	}
	return out, nil
}

func (c *PostgresCatalog) GradeLevel(ctx context.Context, studentID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var grade int
	err := c.pool.QueryRow(ctx, `SELECT grade_level FROM students WHERE id = $1`, studentID).Scan(&grade)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("student", studentID)
	}
	if err != nil {
		return 0, fmt.Errorf("get student grade: %w", err)
	}
	return grade, nil
}

// Sync upserts everything the loader holds into PostgreSQL so file-authored
// curriculum and the database agree.
func (c *PostgresCatalog) Sync(ctx context.Context, l *Loader) error {
	kcs, err := l.KnowledgeComponents(ctx, 0)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, kc := range kcs {
		notes, _ := l.LessonNotes(kc.ID)
		batch.Queue(
			`INSERT INTO knowledge_components (`+kcColumns+`, lesson_notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   description = EXCLUDED.description,
			   grade_level = EXCLUDED.grade_level,
			   curriculum_code = EXCLUDED.curriculum_code,
			   difficulty = EXCLUDED.difficulty,
			   p_transit = EXCLUDED.p_transit,
			   p_guess = EXCLUDED.p_guess,
			   p_slip = EXCLUDED.p_slip,
			   lesson_notes = EXCLUDED.lesson_notes`,
			kc.ID, kc.Name, kc.Description, kc.GradeLevel, kc.CurriculumCode, kc.Difficulty,
			kc.PTransit, kc.PGuess, kc.PSlip, notes,
		)
	}
	for _, item := range l.AllContentItems() {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("marshal content item %d metadata: %w", item.ID, err)
		}
		batch.Queue(
			`INSERT INTO content_items (id, type, content, difficulty, metadata, knowledge_component_id)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
			 ON CONFLICT (id) DO UPDATE SET
			   type = EXCLUDED.type,
			   content = EXCLUDED.content,
			   difficulty = EXCLUDED.difficulty,
			   metadata = EXCLUDED.metadata,
			   knowledge_component_id = EXCLUDED.knowledge_component_id`,
			item.ID, string(item.Type), item.Content, item.Difficulty, string(meta), nullIfZero(item.KnowledgeComponentID),
		)
	}
	for _, s := range l.Roster() {
		batch.Queue(
			`INSERT INTO students (id, name, grade_level) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, grade_level = EXCLUDED.grade_level`,
			s.ID, s.Name, s.GradeLevel,
		)
	}

	if batch.Len() == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 4*dbTimeout)
	defer cancel()
	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sync curriculum: %w", err)
	}

	slog.Info("curriculum synced to database", "statements", batch.Len())
	return nil
}

func scanKnowledgeComponent(row pgx.Row) (KnowledgeComponent, error) {
	var kc KnowledgeComponent
	err := row.Scan(
		&kc.ID,
		&kc.Name,
		&kc.Description,
		&kc.GradeLevel,
		&kc.CurriculumCode,
		&kc.Difficulty,
		&kc.PTransit,
		&kc.PGuess,
		&kc.PSlip,
	)
	return kc, err
}

func scanContentItem(row pgx.Row) (ContentItem, error) {
	var item ContentItem
	var itemType string
	var meta []byte
	if err := row.Scan(
		&item.ID,
		&itemType,
		&item.Content,
		&item.Difficulty,
		&meta,
		&item.KnowledgeComponentID,
	); err != nil {
		return ContentItem{}, err
	}
	item.Type = ContentType(itemType)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &item.Metadata); err != nil {
			return ContentItem{}, fmt.Errorf("decode metadata of content item %d: %w", item.ID, err)
		}
	}
	return item, nil
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
