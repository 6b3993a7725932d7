package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET UNLOCK REQUIREMENTS QUERY
// Evaluates a week's unlock rules against the student's current state
// without performing the unlock. This is the read model behind "what do
// I still need to open week N" screens: every criterion is returned
// with its required and current values, met or not.
// ══════════════════════════════════════════════════════════════════════════════

// GetUnlockRequirementsQuery contains the parameters of the evaluation.
type GetUnlockRequirementsQuery struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// CohortID identifies the cohort.
	CohortID uuid.UUID

	// WeekNumber is the 1-based week to evaluate.
	WeekNumber int
}

// Validate checks query parameters.
func (q *GetUnlockRequirementsQuery) Validate() error {
	if q.StudentID.IsZero() {
		return errors.New("student_id is required")
	}
	if q.CohortID == uuid.Nil {
		return errors.New("cohort_id is required")
	}
	if q.WeekNumber < 1 {
		return errors.New("week_number must be positive")
	}
	return nil
}

// RequirementDTO is the read model of one unlock criterion.
type RequirementDTO struct {
	// Criterion names the rule: previous_week_completed, min_coins,
	// required_completions, min_previous_week_progress, drip_days.
	Criterion string `json:"criterion"`

	// Met reports whether the student currently satisfies the criterion.
	Met bool `json:"met"`

	// Required is the threshold the rule demands.
	Required string `json:"required"`

	// Current is the student's present value for the criterion.
	Current string `json:"current"`

	// Detail is a human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

// GetUnlockRequirementsResult contains the evaluation outcome.
type GetUnlockRequirementsResult struct {
	// StudentID identifies the student.
	StudentID string `json:"student_id"`

	// WeekNumber is the evaluated week.
	WeekNumber int `json:"week_number"`

	// WeekTitle is the week's display title.
	WeekTitle string `json:"week_title"`

	// AlreadyUnlocked reports that the week is open and no evaluation
	// was needed.
	AlreadyUnlocked bool `json:"already_unlocked"`

	// WouldUnlock reports whether an unlock attempt right now would
	// succeed.
	WouldUnlock bool `json:"would_unlock"`

	// Requirements lists every evaluated criterion with its state.
	Requirements []RequirementDTO `json:"requirements"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// GetUnlockRequirementsHandler handles unlock requirement lookups.
type GetUnlockRequirementsHandler struct {
	repos command.Repositories
	log   *logger.Logger
	now   func() time.Time
}

// NewGetUnlockRequirementsHandler creates the handler. The repositories
// here are pool-backed reads, no transaction is opened.
func NewGetUnlockRequirementsHandler(repos command.Repositories, log *logger.Logger) *GetUnlockRequirementsHandler {
	return &GetUnlockRequirementsHandler{
		repos: repos,
		log:   log.With(logger.Component("get_unlock_requirements")),
		now:   time.Now,
	}
}

// Handle evaluates the week's rules and returns the per-criterion state.
func (h *GetUnlockRequirementsHandler) Handle(ctx context.Context, query GetUnlockRequirementsQuery) (*GetUnlockRequirementsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetUnlockRequirements", shared.ErrValidation, err.Error(), err)
	}

	cohort, err := h.repos.Content.GetCohort(ctx, query.CohortID)
	if err != nil {
		return nil, err
	}
	week, err := h.repos.Content.GetWeekByNumber(ctx, query.CohortID, query.WeekNumber)
	if err != nil {
		return nil, err
	}

	now := h.now()
	result := &GetUnlockRequirementsResult{
		StudentID:   query.StudentID.String(),
		WeekNumber:  week.Number,
		WeekTitle:   week.Title,
		EvaluatedAt: now,
	}

	// An already open week needs no evaluation.
	wp, err := h.repos.WeekProgress.Get(ctx, query.StudentID, week.ID)
	if err != nil && !errors.Is(err, shared.ErrWeekProgressNotFound) {
		return nil, err
	}
	if wp != nil && wp.IsUnlocked {
		result.AlreadyUnlocked = true
		result.WouldUnlock = true
		return result, nil
	}

	state, err := command.BuildUnlockState(ctx, h.repos, query.StudentID, cohort, week, now)
	if err != nil {
		return nil, err
	}

	decision := unlock.EvaluateWeek(week.Number, week.UnlockRules, state)
	result.WouldUnlock = decision.Allowed
	result.Requirements = make([]RequirementDTO, 0, len(decision.Requirements))
	for _, req := range decision.Requirements {
		result.Requirements = append(result.Requirements, RequirementDTO{
			Criterion: string(req.Criterion),
			Met:       req.Met,
			Required:  req.Required,
			Current:   req.Current,
			Detail:    req.Detail,
		})
	}
	return result, nil
}
