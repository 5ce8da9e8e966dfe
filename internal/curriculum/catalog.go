// Package curriculum holds knowledge components, content items and the student
// roster, loaded from YAML files or PostgreSQL.
package curriculum

import "context"

// Catalog is read access to knowledge components and content items.
type Catalog interface {
	KnowledgeComponent(ctx context.Context, id int64) (KnowledgeComponent, error)
	KnowledgeComponentByCode(ctx context.Context, code string) (KnowledgeComponent, error)
	// KnowledgeComponents returns a grade's components in curriculum order; grade 0 means all.
	KnowledgeComponents(ctx context.Context, grade int) ([]KnowledgeComponent, error)
	ContentItem(ctx context.Context, id int64) (ContentItem, error)
	ContentItems(ctx context.Context, kcID int64) ([]ContentItem, error)
}

// Roster resolves a student's grade level.
type Roster interface {
	GradeLevel(ctx context.Context, studentID int64) (int, error)
}

var (
	_ Catalog = (*Loader)(nil)
	_ Roster  = (*Loader)(nil)
	_ Catalog = (*PostgresCatalog)(nil)
	_ Roster  = (*PostgresCatalog)(nil)
)
