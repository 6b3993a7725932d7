// Package content models the curriculum hierarchy the engine progresses
// students through: Cohort → Week → Module → Lesson → Topic. The engine
// reads this tree; authoring it is a content-editor concern handled
// elsewhere.
package content

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// CohortStatus defines the lifecycle state of a cohort.
type CohortStatus string

const (
	// CohortStatusDraft - cohort is being authored, not open for enrollment.
	CohortStatusDraft CohortStatus = "draft"
	// CohortStatusActive - cohort is running, students may enroll and progress.
	CohortStatusActive CohortStatus = "active"
	// CohortStatusCompleted - cohort has finished its schedule.
	CohortStatusCompleted CohortStatus = "completed"
	// CohortStatusArchived - cohort is retained for history only.
	CohortStatusArchived CohortStatus = "archived"
)

// IsValid reports whether the status is a known cohort status.
func (s CohortStatus) IsValid() bool {
	switch s {
	case CohortStatusDraft, CohortStatusActive, CohortStatusCompleted, CohortStatusArchived:
		return true
	default:
		return false
	}
}

// AcceptsEnrollments reports whether students may enroll into this cohort.
func (s CohortStatus) AcceptsEnrollments() bool {
	return s == CohortStatusActive
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORT
// ══════════════════════════════════════════════════════════════════════════════

// Cohort is a scheduled run of a course with its own enrolled students.
// StartDate anchors the drip clock for every week in the cohort.
type Cohort struct {
	// ID - unique cohort identifier.
	ID uuid.UUID

	// Title - display name, e.g. "Go Backend, Spring 2026".
	Title string

	// Status - lifecycle state.
	Status CohortStatus

	// StartDate - when the cohort begins. Drip offsets count from this
	// date for all students regardless of when they enrolled.
	StartDate time.Time

	// EndDate - when the cohort is scheduled to finish.
	EndDate time.Time

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// Domain errors for content validation.
var (
	ErrInvalidTitle     = errors.New("invalid title: must be 1-200 chars")
	ErrInvalidSchedule  = errors.New("invalid schedule: end date must not precede start date")
	ErrInvalidWeekOrder = errors.New("invalid week number: must be positive")
	ErrInvalidPosition  = errors.New("invalid position: must be non-negative")
	ErrInvalidReward    = errors.New("invalid reward: must be non-negative")
	ErrInvalidMinTime   = errors.New("invalid minimum time: must be non-negative")
)

// NewCohort creates a cohort with validated fields.
func NewCohort(id uuid.UUID, title string, startDate, endDate time.Time) (*Cohort, error) {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if endDate.Before(startDate) {
		return nil, ErrInvalidSchedule
	}

	now := time.Now().UTC()
	return &Cohort{
		ID:        id,
		Title:     title,
		Status:    CohortStatusDraft,
		StartDate: startDate.UTC(),
		EndDate:   endDate.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Activate opens the cohort for enrollment.
func (c *Cohort) Activate() {
	c.Status = CohortStatusActive
	c.UpdatedAt = time.Now().UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK
// ══════════════════════════════════════════════════════════════════════════════

// Week is the top-level unlockable unit of a cohort's curriculum. Its
// unlock rules gate advancement from the previous week, and week-scoped
// quizzes, assignments, and live classes count toward its own completion
// percentage alongside its modules.
type Week struct {
	// ID - unique week identifier.
	ID uuid.UUID

	// CohortID - owning cohort.
	CohortID uuid.UUID

	// Number - 1-based position within the cohort. Week 1 is always
	// unlocked at enrollment.
	Number int

	// Title - display name.
	Title string

	// UnlockRules - the gating configuration for entering this week.
	UnlockRules unlock.RuleSet

	// RewardCoins - coins awarded when the week reaches completion.
	// Zero means no reward.
	RewardCoins int64

	// QuizIDs - week-scoped quizzes counted in the week aggregate.
	QuizIDs []uuid.UUID

	// AssignmentIDs - week-scoped assignments counted in the week aggregate.
	AssignmentIDs []uuid.UUID

	// LiveClassIDs - week-scoped live classes counted in the week aggregate.
	LiveClassIDs []uuid.UUID

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewWeek creates a week with validated fields.
func NewWeek(id, cohortID uuid.UUID, number int, title string, rules unlock.RuleSet) (*Week, error) {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if number < 1 {
		return nil, ErrInvalidWeekOrder
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Week{
		ID:          id,
		CohortID:    cohortID,
		Number:      number,
		Title:       title,
		UnlockRules: rules,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsFirst reports whether this is the cohort's opening week.
func (w *Week) IsFirst() bool {
	return w.Number == 1
}

// ScopedItemCount returns how many week-scoped evidence items (quizzes,
// assignments, live classes) the week carries in addition to its modules.
func (w *Week) ScopedItemCount() int {
	return len(w.QuizIDs) + len(w.AssignmentIDs) + len(w.LiveClassIDs)
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULE
// ══════════════════════════════════════════════════════════════════════════════

// Module groups lessons within a week.
type Module struct {
	// ID - unique module identifier.
	ID uuid.UUID

	// WeekID - owning week.
	WeekID uuid.UUID

	// Position - ordering within the week.
	Position int

	// Title - display name.
	Title string

	// RewardCoins - coins awarded on module completion. Zero means none.
	RewardCoins int64

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewModule creates a module with validated fields.
func NewModule(id, weekID uuid.UUID, position int, title string, rewardCoins int64) (*Module, error) {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if position < 0 {
		return nil, ErrInvalidPosition
	}
	if rewardCoins < 0 {
		return nil, ErrInvalidReward
	}

	now := time.Now().UTC()
	return &Module{
		ID:          id,
		WeekID:      weekID,
		Position:    position,
		Title:       title,
		RewardCoins: rewardCoins,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON
// ══════════════════════════════════════════════════════════════════════════════

// Lesson groups topics within a module and may embed quiz, assignment,
// and live-class blocks that count toward its completion percentage.
type Lesson struct {
	// ID - unique lesson identifier.
	ID uuid.UUID

	// ModuleID - owning module.
	ModuleID uuid.UUID

	// Position - ordering within the module.
	Position int

	// Title - display name.
	Title string

	// QuizIDs - embedded quiz blocks counted in the lesson aggregate.
	QuizIDs []uuid.UUID

	// AssignmentIDs - embedded assignment blocks counted in the lesson aggregate.
	AssignmentIDs []uuid.UUID

	// LiveClassIDs - embedded live-class blocks counted in the lesson aggregate.
	LiveClassIDs []uuid.UUID

	// MinTimeSeconds - minimum cumulative time-on-lesson before the lesson
	// itself may be marked completed. Zero disables the check.
	MinTimeSeconds int

	// RewardCoins - coins awarded on lesson completion. Zero means none.
	RewardCoins int64

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewLesson creates a lesson with validated fields.
func NewLesson(id, moduleID uuid.UUID, position int, title string, minTimeSeconds int, rewardCoins int64) (*Lesson, error) {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if position < 0 {
		return nil, ErrInvalidPosition
	}
	if minTimeSeconds < 0 {
		return nil, ErrInvalidMinTime
	}
	if rewardCoins < 0 {
		return nil, ErrInvalidReward
	}

	now := time.Now().UTC()
	return &Lesson{
		ID:             id,
		ModuleID:       moduleID,
		Position:       position,
		Title:          title,
		MinTimeSeconds: minTimeSeconds,
		RewardCoins:    rewardCoins,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// EmbeddedItemCount returns the number of embedded evidence blocks that
// count toward the lesson aggregate alongside its topics.
func (l *Lesson) EmbeddedItemCount() int {
	return len(l.QuizIDs) + len(l.AssignmentIDs) + len(l.LiveClassIDs)
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC
// ══════════════════════════════════════════════════════════════════════════════

// Topic is the leaf content unit a student directly interacts with.
type Topic struct {
	// ID - unique topic identifier.
	ID uuid.UUID

	// LessonID - owning lesson.
	LessonID uuid.UUID

	// Position - ordering within the lesson.
	Position int

	// Title - display name.
	Title string

	// RewardCoins - coins awarded on first completion. Zero means none.
	RewardCoins int64

	// MinTimeSeconds - minimum time-on-topic before completion is allowed.
	// Zero disables the check.
	MinTimeSeconds int

	// PrerequisiteTopicID - an optional topic that must be completed first.
	PrerequisiteTopicID *uuid.UUID

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewTopic creates a topic with validated fields.
func NewTopic(id, lessonID uuid.UUID, position int, title string, minTimeSeconds int, rewardCoins int64) (*Topic, error) {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if position < 0 {
		return nil, ErrInvalidPosition
	}
	if minTimeSeconds < 0 {
		return nil, ErrInvalidMinTime
	}
	if rewardCoins < 0 {
		return nil, ErrInvalidReward
	}

	now := time.Now().UTC()
	return &Topic{
		ID:             id,
		LessonID:       lessonID,
		Position:       position,
		Title:          title,
		MinTimeSeconds: minTimeSeconds,
		RewardCoins:    rewardCoins,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// HasPrerequisite reports whether the topic requires another topic first.
func (t *Topic) HasPrerequisite() bool {
	return t.PrerequisiteTopicID != nil && *t.PrerequisiteTopicID != uuid.Nil
}
