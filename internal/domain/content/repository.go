package content

import (
	"context"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// The implementation lives in infrastructure/persistence. All lookups
// return shared.ErrCohortNotFound / ErrWeekNotFound / ErrUnitNotFound
// wrapped errors when the entity does not exist.
// ══════════════════════════════════════════════════════════════════════════════

// Repository provides read access to the curriculum tree.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Cohorts & Weeks
	// ─────────────────────────────────────────────────────────────────────────

	// GetCohort returns a cohort by ID.
	GetCohort(ctx context.Context, id uuid.UUID) (*Cohort, error)

	// ListCohorts returns all cohorts ordered by start date. Used by
	// maintenance sweeps that walk every cohort.
	ListCohorts(ctx context.Context) ([]*Cohort, error)

	// GetWeek returns a week by ID.
	GetWeek(ctx context.Context, id uuid.UUID) (*Week, error)

	// GetWeekByNumber returns the week at the given 1-based position.
	GetWeekByNumber(ctx context.Context, cohortID uuid.UUID, number int) (*Week, error)

	// ListWeeks returns all weeks of a cohort ordered by number.
	ListWeeks(ctx context.Context, cohortID uuid.UUID) ([]*Week, error)

	// CountWeeks returns the number of weeks in a cohort.
	CountWeeks(ctx context.Context, cohortID uuid.UUID) (int, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Modules, Lessons, Topics
	// ─────────────────────────────────────────────────────────────────────────

	// GetModule returns a module by ID.
	GetModule(ctx context.Context, id uuid.UUID) (*Module, error)

	// ListModules returns all modules of a week ordered by position.
	ListModules(ctx context.Context, weekID uuid.UUID) ([]*Module, error)

	// GetLesson returns a lesson by ID.
	GetLesson(ctx context.Context, id uuid.UUID) (*Lesson, error)

	// ListLessons returns all lessons of a module ordered by position.
	ListLessons(ctx context.Context, moduleID uuid.UUID) ([]*Lesson, error)

	// GetTopic returns a topic by ID.
	GetTopic(ctx context.Context, id uuid.UUID) (*Topic, error)

	// ListTopics returns all topics of a lesson ordered by position.
	ListTopics(ctx context.Context, lessonID uuid.UUID) ([]*Topic, error)
}

// Chain is the resolved parent chain of a leaf unit, used by the cascade
// to walk upward from the triggering completion. Fields above the leaf's
// own level are nil-free; a topic chain always carries its lesson, module,
// week, and cohort.
type Chain struct {
	Cohort *Cohort
	Week   *Week
	Module *Module
	Lesson *Lesson
	Topic  *Topic
}

// ChainResolver resolves the parent chain for leaf units. Separated from
// Repository so implementations can satisfy it with a single joined query.
type ChainResolver interface {
	// ResolveTopicChain resolves topic → lesson → module → week → cohort.
	ResolveTopicChain(ctx context.Context, topicID uuid.UUID) (*Chain, error)

	// ResolveLessonChain resolves lesson → module → week → cohort.
	ResolveLessonChain(ctx context.Context, lessonID uuid.UUID) (*Chain, error)

	// ResolveModuleChain resolves module → week → cohort.
	ResolveModuleChain(ctx context.Context, moduleID uuid.UUID) (*Chain, error)
}
