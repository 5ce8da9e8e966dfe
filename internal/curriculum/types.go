package curriculum

// ContentType is the kind of a content item.
type ContentType string

const (
	TypeMultipleChoice ContentType = "multiple_choice"
	TypeFillInBlank    ContentType = "fill_in_blank"
	TypeWordProblem    ContentType = "word_problem"
	TypeComputation    ContentType = "computation"
	TypeLesson         ContentType = "lesson"
	TypeActivity       ContentType = "activity"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case TypeMultipleChoice, TypeFillInBlank, TypeWordProblem, TypeComputation, TypeLesson, TypeActivity:
		return true
	}
	return false
}

// Answerable reports whether items of this type carry an answer key.
func (t ContentType) Answerable() bool {
	return t != TypeLesson && t != TypeActivity
}

// KnowledgeComponent is a discrete curriculum skill, e.g. G3-NS-1 "Place value to 10 000".
type KnowledgeComponent struct {
	ID             int64  `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description,omitempty"`
	GradeLevel     int    `yaml:"grade_level" json:"grade_level"`
	CurriculumCode string `yaml:"curriculum_code" json:"curriculum_code"`
	Difficulty     int    `yaml:"difficulty" json:"difficulty,omitempty"`

	// Admin overrides for the tracing parameters; nil means engine default.
	PTransit *float64 `yaml:"p_transit,omitempty" json:"p_transit,omitempty"`
	PGuess   *float64 `yaml:"p_guess,omitempty" json:"p_guess,omitempty"`
	PSlip    *float64 `yaml:"p_slip,omitempty" json:"p_slip,omitempty"`
}

// Metadata holds the answer key and presentation extras of a content item.
type Metadata struct {
	Answer      string   `yaml:"answer" json:"answer,omitempty"`
	Choices     []string `yaml:"choices" json:"choices,omitempty"`
	Hint        string   `yaml:"hint" json:"hint,omitempty"`
	Explanation string   `yaml:"explanation" json:"explanation,omitempty"`
}

// ContentItem is a quiz question or lesson unit tagged with a knowledge component.
type ContentItem struct {
	ID                   int64       `yaml:"id" json:"id"`
	Type                 ContentType `yaml:"type" json:"type"`
	Content              string      `yaml:"content" json:"content"`
	Difficulty           int         `yaml:"difficulty" json:"difficulty"`
	Metadata             Metadata    `yaml:"metadata" json:"metadata"`
	KnowledgeComponentID int64       `yaml:"knowledge_component_id" json:"knowledge_component_id"`
}

// RosterEntry maps a student to a grade level.
type RosterEntry struct {
	ID         int64  `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	GradeLevel int    `yaml:"grade_level" json:"grade_level"`
}
