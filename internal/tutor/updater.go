package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/apperr"
	"github.com/mathgaling/tutor/internal/tracing"
)

const (
	defaultMaxRetries   = 3
	defaultDedupeWindow = 10 * time.Second
)

// Submission is one answer posted by a student.
type Submission struct {
	StudentID       int64
	ContentItemID   int64
	Answer          string
	Correct         *bool // nil: score against the item's answer key
	TimeSpent       int
	InteractionData map[string]any
	PracticeMode    bool
	SessionID       string
	IdempotencyKey  string
}

// UpdateResult is the outcome of recording a submission.
type UpdateResult struct {
	Response         Response
	State            tracing.KnowledgeState
	ThresholdCrossed bool
	Duplicate        bool
}

// UpdaterConfig holds dependencies for the mastery updater.
type UpdaterConfig struct {
	Catalog      curriculum.Catalog
	States       tracing.Store
	Responses    ResponseLog
	Guard        Guard       // default: in-process MemoryGuard
	Events       EventLogger // default: NopEventLogger
	Tx           Transactor  // groups append and update; default: undo the append on failure
	Threshold    float64     // default 0.8
	MaxRetries   int         // CAS attempts (default 3)
	DedupeWindow time.Duration
}

// Updater applies scored responses to knowledge states.
type Updater struct {
	catalog      curriculum.Catalog
	states       tracing.Store
	responses    ResponseLog
	guard        Guard
	events       EventLogger
	tx           Transactor
	compensate   bool
	threshold    float64
	maxRetries   int
	dedupeWindow time.Duration
}

// NewUpdater creates a mastery updater.
func NewUpdater(cfg UpdaterConfig) *Updater {
	u := &Updater{
		catalog:      cfg.Catalog,
		states:       cfg.States,
		responses:    cfg.Responses,
		guard:        cfg.Guard,
		events:       cfg.Events,
		tx:           cfg.Tx,
		threshold:    cfg.Threshold,
		maxRetries:   cfg.MaxRetries,
		dedupeWindow: cfg.DedupeWindow,
	}
	if u.guard == nil {
		u.guard = NewMemoryGuard()
	}
	if u.events == nil {
		u.events = NopEventLogger{}
	}
	if u.tx == nil {
		u.tx = noTx{}
		u.compensate = true
	}
	if u.threshold == 0 {
		u.threshold = tracing.DefaultMasteryThreshold
	}
	if u.maxRetries == 0 {
		u.maxRetries = defaultMaxRetries
	}
	if u.dedupeWindow == 0 {
		u.dedupeWindow = defaultDedupeWindow
	}
	return u
}

// Transactor runs fn so that every store call made with its ctx commits or
// rolls back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// noTx runs fn directly, for in-memory stores.
type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Threshold returns the mastered cut-off in use.
func (u *Updater) Threshold() float64 {
	return u.threshold
}

// Record logs the submission and, unless it is practice, updates the
// student's knowledge state for the item's component.
func (u *Updater) Record(ctx context.Context, sub Submission) (UpdateResult, error) {
	if sub.StudentID <= 0 {
		return UpdateResult{}, apperr.Validation("student_id must be positive")
	}

	item, err := u.catalog.ContentItem(ctx, sub.ContentItemID)
	if err != nil {
		return UpdateResult{}, err
	}
	if item.KnowledgeComponentID == 0 {
		return UpdateResult{}, apperr.Validation("content item %d has no knowledge component", item.ID)
	}
	kc, err := u.catalog.KnowledgeComponent(ctx, item.KnowledgeComponentID)
	if err != nil {
		return UpdateResult{}, err
	}
	defaults := ParamsFor(kc)

	correct, err := score(item, sub)
	if err != nil {
		return UpdateResult{}, err
	}

	key := Fingerprint(sub)
	claimed, err := u.guard.Claim(ctx, key, u.dedupeWindow)
	if err != nil {
		// The idempotency key still protects retries that carry one.
		slog.Warn("duplicate guard unavailable", "student_id", sub.StudentID, "error", err)
		claimed = true
	}
	if !claimed {
		return u.duplicate(ctx, sub, defaults, kc.ID)
	}

	resp, before, after, err := u.store(ctx, sub, item.ID, kc.ID, defaults, correct)
	if errors.Is(err, apperr.ErrDuplicate) {
		return u.duplicate(ctx, sub, defaults, kc.ID)
	}
	if err != nil {
		// Nothing was kept, so the same submission must be accepted again.
		if relErr := u.guard.Release(ctx, key); relErr != nil {
			slog.Warn("failed to release duplicate guard", "student_id", sub.StudentID, "error", relErr)
		}
		return UpdateResult{}, err
	}
	if sub.PracticeMode {
		return UpdateResult{Response: resp, State: after}, nil
	}

	crossed := tracing.Crossed(before.PMastery, after.PMastery, u.threshold)
	u.emit(Event{
		StudentID: sub.StudentID,
		EventType: EventMasteryUpdated,
		Data: map[string]any{
			"knowledge_component_id": kc.ID,
			"content_item_id":        item.ID,
			"correct":                correct,
			"previous_p_mastery":     before.PMastery,
			"p_mastery":              after.PMastery,
		},
	})
	if crossed {
		slog.Info("mastery threshold crossed",
			"student_id", sub.StudentID,
			"kc_id", kc.ID,
			"p_mastery", after.PMastery,
		)
		u.emit(Event{
			StudentID: sub.StudentID,
			EventType: EventMasteryThresholdCrossed,
			Data: map[string]any{
				"knowledge_component_id": kc.ID,
				"curriculum_code":        kc.CurriculumCode,
				"p_mastery":              after.PMastery,
			},
		})
	}

	return UpdateResult{
		Response:         resp,
		State:            after,
		ThresholdCrossed: crossed,
	}, nil
}

// store appends the response and applies it to the knowledge state as one
// unit: either both are kept or neither is.
func (u *Updater) store(ctx context.Context, sub Submission, itemID, kcID int64, defaults tracing.Params, correct bool) (resp Response, before, after tracing.KnowledgeState, err error) {
	appended := false
	err = u.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		resp, err = u.responses.Append(ctx, Response{
			StudentID:            sub.StudentID,
			ContentItemID:        itemID,
			KnowledgeComponentID: kcID,
			Answer:               sub.Answer,
			Correct:              correct,
			TimeSpent:            sub.TimeSpent,
			InteractionData:      sub.InteractionData,
			PracticeMode:         sub.PracticeMode,
			SessionID:            sub.SessionID,
			IdempotencyKey:       sub.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		appended = true

		if sub.PracticeMode {
			after, err = u.peek(ctx, sub.StudentID, kcID, defaults)
			return err
		}
		before, after, err = u.apply(ctx, sub.StudentID, kcID, defaults, correct)
		return err
	})
	if err == nil {
		return resp, before, after, nil
	}

	// A database transaction has already rolled the response back.
	if appended && u.compensate {
		if rmErr := u.responses.Remove(ctx, resp.ID); rmErr != nil {
			slog.Error("failed to remove response after failed update",
				"student_id", sub.StudentID,
				"response_id", resp.ID,
				"error", rmErr,
			)
		}
	}
	return Response{}, before, after, err
}

// apply runs the read, compute, compare-and-swap loop.
func (u *Updater) apply(ctx context.Context, studentID, kcID int64, defaults tracing.Params, correct bool) (before, after tracing.KnowledgeState, err error) {
	for attempt := 1; attempt <= u.maxRetries; attempt++ {
		before, err = u.states.GetOrCreate(ctx, studentID, kcID, defaults)
		if err != nil {
			return before, after, err
		}

		next, ok := before.Observe(correct)
		if !ok {
			slog.Warn("degenerate knowledge tracing update, mastery unchanged",
				"student_id", studentID,
				"kc_id", kcID,
				"p_mastery", before.PMastery,
				"p_guess", before.PGuess,
				"p_slip", before.PSlip,
			)
		}

		after, err = u.states.Update(ctx, next)
		if err == nil {
			return before, after, nil
		}
		if !errors.Is(err, apperr.ErrConcurrencyConflict) {
			return before, after, err
		}
		slog.Debug("knowledge state update conflicted, retrying",
			"student_id", studentID,
			"kc_id", kcID,
			"attempt", attempt,
		)
	}
	return before, after, fmt.Errorf("update knowledge state after %d attempts: %w", u.maxRetries, err)
}

// peek reads a state without creating it.
func (u *Updater) peek(ctx context.Context, studentID, kcID int64, defaults tracing.Params) (tracing.KnowledgeState, error) {
	st, err := u.states.Get(ctx, studentID, kcID)
	if errors.Is(err, apperr.ErrNotFound) {
		return tracing.Unseen(studentID, kcID, defaults), nil
	}
	return st, err
}

func (u *Updater) duplicate(ctx context.Context, sub Submission, defaults tracing.Params, kcID int64) (UpdateResult, error) {
	slog.Info("duplicate submission ignored",
		"student_id", sub.StudentID,
		"content_item_id", sub.ContentItemID,
	)
	u.emit(Event{
		StudentID: sub.StudentID,
		EventType: EventDuplicateSubmission,
		Data:      map[string]any{"content_item_id": sub.ContentItemID},
	})

	st, err := u.peek(ctx, sub.StudentID, kcID, defaults)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{State: st, Duplicate: true}, nil
}

func (u *Updater) emit(e Event) {
	if err := u.events.LogEvent(e); err != nil {
		slog.Warn("failed to log event", "type", e.EventType, "error", err)
	}
}

// score returns the client's verdict or checks the answer key.
func score(item curriculum.ContentItem, sub Submission) (bool, error) {
	if sub.Correct != nil {
		return *sub.Correct, nil
	}
	correct, ok := item.Check(sub.Answer)
	if !ok {
		return false, apperr.Validation("content item %d has no answer key; correct is required", item.ID)
	}
	return correct, nil
}

// ParamsFor returns the creation defaults for a component, applying its overrides.
func ParamsFor(kc curriculum.KnowledgeComponent) tracing.Params {
	p := tracing.DefaultParams()
	if kc.PTransit != nil {
		p.PTransit = *kc.PTransit
	}
	if kc.PGuess != nil {
		p.PGuess = *kc.PGuess
	}
	if kc.PSlip != nil {
		p.PSlip = *kc.PSlip
	}
	return p
}
