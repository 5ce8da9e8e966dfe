package curriculum

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

// Loader loads and caches curriculum content from the filesystem.
//
// Layout, per knowledge component:
//
//	place-value.yaml        knowledge component
//	place-value.items.yaml  content items tagged with that component
//	place-value.lesson.md   lesson notes
//
// Files ending in .students.yaml hold roster entries.
type Loader struct {
	rootDir     string
	kcs         map[int64]KnowledgeComponent
	items       map[int64]ContentItem
	lessonNotes map[int64]string
	roster      map[int64]RosterEntry
	mu          sync.RWMutex
}

type itemsFile struct {
	KnowledgeComponentID int64         `yaml:"knowledge_component_id"`
	Items                []ContentItem `yaml:"items"`
}

type rosterFile struct {
	Students []RosterEntry `yaml:"students"`
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:     rootDir,
		kcs:         make(map[int64]KnowledgeComponent),
		items:       make(map[int64]ContentItem),
		lessonNotes: make(map[int64]string),
		roster:      make(map[int64]RosterEntry),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded",
		"knowledge_components", len(l.kcs),
		"content_items", len(l.items),
		"students", len(l.roster),
	)
	return l, nil
}

// KnowledgeComponent returns a knowledge component by id.
func (l *Loader) KnowledgeComponent(_ context.Context, id int64) (KnowledgeComponent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kc, ok := l.kcs[id]
	if !ok {
		return KnowledgeComponent{}, apperr.NotFound("knowledge component", id)
	}
	return kc, nil
}

// KnowledgeComponentByCode returns the knowledge component with the given curriculum code.
func (l *Loader) KnowledgeComponentByCode(_ context.Context, code string) (KnowledgeComponent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, kc := range l.kcs {
		if strings.EqualFold(kc.CurriculumCode, code) {
			return kc, nil
		}
	}
	return KnowledgeComponent{}, apperr.NotFound("knowledge component", code)
}

// KnowledgeComponents returns the components of a grade (0 = all) in curriculum order.
func (l *Loader) KnowledgeComponents(_ context.Context, grade int) ([]KnowledgeComponent, error) {
	l.mu.RLock()
	out := make([]KnowledgeComponent, 0, len(l.kcs))
	for _, kc := range l.kcs {
		if grade == 0 || kc.GradeLevel == grade {
			out = append(out, kc)
		}
	}
	l.mu.RUnlock()

	SortKnowledgeComponents(out)
	return out, nil
}

// ContentItem returns a content item by id.
func (l *Loader) ContentItem(_ context.Context, id int64) (ContentItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.items[id]
	if !ok {
		return ContentItem{}, apperr.NotFound("content item", id)
	}
	return item, nil
}

// ContentItems returns the items tagged with a knowledge component, by id.
func (l *Loader) ContentItems(_ context.Context, kcID int64) ([]ContentItem, error) {
	l.mu.RLock()
	out := []ContentItem{}
	for _, item := range l.items {
		if item.KnowledgeComponentID == kcID {
			out = append(out, item)
		}
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b ContentItem) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// LessonNotes returns lesson notes for a knowledge component.
func (l *Loader) LessonNotes(kcID int64) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.lessonNotes[kcID]
	return n, ok
}

// Roster returns all roster entries ordered by id.
func (l *Loader) Roster() []RosterEntry {
	l.mu.RLock()
	out := make([]RosterEntry, 0, len(l.roster))
	for _, s := range l.roster {
		out = append(out, s)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b RosterEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// AllContentItems returns every loaded item ordered by id.
func (l *Loader) AllContentItems() []ContentItem {
	l.mu.RLock()
	out := make([]ContentItem, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b ContentItem) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (l *Loader) loadAll() error {
	// Components first so item files can resolve their sibling component.
	var itemFiles, noteFiles []string
	err := filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".lesson.md"):
			noteFiles = append(noteFiles, path)
		case strings.HasSuffix(path, ".items.yaml"):
			itemFiles = append(itemFiles, path)
		case strings.HasSuffix(path, ".students.yaml"):
			return l.loadRoster(path)
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadKnowledgeComponent(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, path := range itemFiles {
		if err := l.loadItems(path); err != nil {
			return err
		}
	}
	for _, path := range noteFiles {
		if err := l.loadLessonNotes(path); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadKnowledgeComponent(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var kc KnowledgeComponent
	if err := yaml.Unmarshal(data, &kc); err != nil {
		slog.Warn("skipping invalid knowledge component YAML", "path", path, "error", err)
		return nil
	}

	if kc.ID == 0 {
		return nil // Not a knowledge component file
	}

	if kc.GradeLevel == 0 {
		if code, err := ParseCode(kc.CurriculumCode); err == nil {
			kc.GradeLevel = code.Grade
		}
	}
	if err := ValidateKnowledgeComponent(kc); err != nil {
		slog.Warn("skipping invalid knowledge component", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	l.kcs[kc.ID] = kc
	l.mu.Unlock()

	return nil
}

func (l *Loader) loadItems(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f itemsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid content items YAML", "path", path, "error", err)
		return nil
	}

	kcID := f.KnowledgeComponentID
	if kcID == 0 {
		kcID = siblingComponentID(strings.TrimSuffix(path, ".items.yaml") + ".yaml")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range f.Items {
		if item.KnowledgeComponentID == 0 {
			item.KnowledgeComponentID = kcID
		}
		if err := ValidateItem(item); err != nil {
			slog.Warn("skipping invalid content item", "path", path, "item_id", item.ID, "error", err)
			continue
		}
		if item.ID == 0 {
			slog.Warn("skipping content item without id", "path", path)
			continue
		}
		l.items[item.ID] = item
	}
	return nil
}

func (l *Loader) loadLessonNotes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	kcID := siblingComponentID(strings.TrimSuffix(path, ".lesson.md") + ".yaml")
	if kcID == 0 {
		return nil // No matching YAML, skip
	}

	l.mu.Lock()
	l.lessonNotes[kcID] = string(data)
	l.mu.Unlock()

	return nil
}

func (l *Loader) loadRoster(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid roster YAML", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range f.Students {
		if s.ID == 0 || s.GradeLevel == 0 {
			continue
		}
		l.roster[s.ID] = s
	}
	return nil
}

// siblingComponentID reads only the id of a knowledge component file.
func siblingComponentID(yamlPath string) int64 {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return 0
	}
	var partial struct {
		ID int64 `yaml:"id"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return 0
	}
	return partial.ID
}

// GradeLevel returns the grade of a student on the roster.
func (l *Loader) GradeLevel(_ context.Context, studentID int64) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.roster[studentID]
	if !ok {
		return 0, apperr.NotFound("student", studentID)
	}
	return s.GradeLevel, nil
}
