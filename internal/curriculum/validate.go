package curriculum

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

const choiceSchema = `{
  "type": "object",
  "required": ["answer", "choices"],
  "properties": {
    "answer":      {"type": "string", "minLength": 1},
    "choices":     {"type": "array", "minItems": 2, "items": {"type": "string", "minLength": 1}},
    "hint":        {"type": "string"},
    "explanation": {"type": "string"}
  }
}`

const answerSchema = `{
  "type": "object",
  "required": ["answer"],
  "properties": {
    "answer":      {"type": "string", "minLength": 1},
    "choices":     {"type": "array", "items": {"type": "string"}},
    "hint":        {"type": "string"},
    "explanation": {"type": "string"}
  }
}`

const freeSchema = `{
  "type": "object",
  "properties": {
    "hint":        {"type": "string"},
    "explanation": {"type": "string"}
  }
}`

var (
	schemasOnce sync.Once
	schemas     map[ContentType]*gojsonschema.Schema
	schemasErr  error
)

func metadataSchema(t ContentType) (*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		sources := map[ContentType]string{
			TypeMultipleChoice: choiceSchema,
			TypeFillInBlank:    answerSchema,
			TypeWordProblem:    answerSchema,
			TypeComputation:    answerSchema,
			TypeLesson:         freeSchema,
			TypeActivity:       freeSchema,
		}
		schemas = make(map[ContentType]*gojsonschema.Schema, len(sources))
		for ct, src := range sources {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				schemasErr = fmt.Errorf("compile %s metadata schema: %w", ct, err)
				return
			}
			schemas[ct] = s
		}
	})
	if schemasErr != nil {
		return nil, schemasErr
	}
	return schemas[t], nil
}

// ValidateItem checks the item type, difficulty range and metadata shape.
func ValidateItem(item ContentItem) error {
	if !item.Type.Valid() {
		return apperr.Validation("content item %d: unknown type %q", item.ID, item.Type)
	}
	if item.Difficulty < 0 || item.Difficulty > 5 {
		return apperr.Validation("content item %d: difficulty %d outside 1-5", item.ID, item.Difficulty)
	}

	schema, err := metadataSchema(item.Type)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(item.Metadata))
	if err != nil {
		return fmt.Errorf("validate content item %d metadata: %w", item.ID, err)
	}
	if !result.Valid() {
		verr := &apperr.ValidationError{Msg: fmt.Sprintf("content item %d metadata", item.ID)}
		for _, e := range result.Errors() {
			verr.Fields = append(verr.Fields, apperr.FieldError{Field: e.Field(), Message: e.Description()})
		}
		return verr
	}

	if item.Type == TypeMultipleChoice {
		want := NormalizeAnswer(item.Metadata.Answer)
		if !slices.ContainsFunc(item.Metadata.Choices, func(c string) bool { return NormalizeAnswer(c) == want }) {
			return apperr.Validation("content item %d: answer %q is not one of the choices", item.ID, item.Metadata.Answer)
		}
	}
	return nil
}

// ValidateKnowledgeComponent checks the code format and parameter overrides.
func ValidateKnowledgeComponent(kc KnowledgeComponent) error {
	if strings.TrimSpace(kc.Name) == "" {
		return apperr.Validation("knowledge component %d: name is required", kc.ID)
	}
	code, err := ParseCode(kc.CurriculumCode)
	if err != nil {
		return err
	}
	if kc.GradeLevel != 0 && kc.GradeLevel != code.Grade {
		return apperr.Validation("knowledge component %d: grade_level %d disagrees with code %s", kc.ID, kc.GradeLevel, kc.CurriculumCode)
	}
	if kc.Difficulty < 0 || kc.Difficulty > 5 {
		return apperr.Validation("knowledge component %d: difficulty %d outside 1-5", kc.ID, kc.Difficulty)
	}
	for name, p := range map[string]*float64{"p_transit": kc.PTransit, "p_guess": kc.PGuess, "p_slip": kc.PSlip} {
		if p != nil && (*p < 0 || *p > 1) {
			return apperr.Validation("knowledge component %d: %s %v outside [0,1]", kc.ID, name, *p)
		}
	}
	return nil
}
