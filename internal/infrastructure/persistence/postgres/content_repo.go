package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ContentRepository implements content.Repository and content.ChainResolver.
type ContentRepository struct {
	db Querier
}

// NewContentRepository creates a content repository over a pool or transaction.
func NewContentRepository(db Querier) *ContentRepository {
	return &ContentRepository{db: db}
}

// ─────────────────────────────────────────────────────────────────────────────
// Cohorts & Weeks
// ─────────────────────────────────────────────────────────────────────────────

const cohortColumns = `id, title, status, start_date, end_date, created_at, updated_at`

// GetCohort returns a cohort by ID.
func (r *ContentRepository) GetCohort(ctx context.Context, id uuid.UUID) (*content.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts WHERE id = $1`, cohortColumns)

	var c content.Cohort
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Title, &c.Status, &c.StartDate, &c.EndDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCohortNotFound
		}
		return nil, fmt.Errorf("failed to get cohort: %w", err)
	}
	return &c, nil
}

func (r *ContentRepository) ListCohorts(ctx context.Context) ([]*content.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts ORDER BY start_date, id`, cohortColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cohorts: %w", err)
	}
	defer rows.Close()

	var cohorts []*content.Cohort
	for rows.Next() {
		var c content.Cohort
		if err := rows.Scan(&c.ID, &c.Title, &c.Status, &c.StartDate, &c.EndDate, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cohort: %w", err)
		}
		cohorts = append(cohorts, &c)
	}
	return cohorts, rows.Err()
}

const weekColumns = `id, cohort_id, number, title, unlock_rules, reward_coins,
		quiz_ids, assignment_ids, live_class_ids, created_at, updated_at`

func scanWeek(row interface{ Scan(...interface{}) error }) (*content.Week, error) {
	var w content.Week
	var rulesRaw []byte
	err := row.Scan(
		&w.ID, &w.CohortID, &w.Number, &w.Title, &rulesRaw, &w.RewardCoins,
		&w.QuizIDs, &w.AssignmentIDs, &w.LiveClassIDs, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rules, err := unlock.ParseRuleSet(rulesRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unlock rules for week %s: %w", w.ID, err)
	}
	w.UnlockRules = rules
	return &w, nil
}

// GetWeek returns a week by ID.
func (r *ContentRepository) GetWeek(ctx context.Context, id uuid.UUID) (*content.Week, error) {
	query := fmt.Sprintf(`SELECT %s FROM weeks WHERE id = $1`, weekColumns)

	w, err := scanWeek(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrWeekNotFound
		}
		return nil, fmt.Errorf("failed to get week: %w", err)
	}
	return w, nil
}

// GetWeekByNumber returns the week at the given 1-based position.
func (r *ContentRepository) GetWeekByNumber(ctx context.Context, cohortID uuid.UUID, number int) (*content.Week, error) {
	query := fmt.Sprintf(`SELECT %s FROM weeks WHERE cohort_id = $1 AND number = $2`, weekColumns)

	w, err := scanWeek(r.db.QueryRow(ctx, query, cohortID, number))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrWeekNotFound
		}
		return nil, fmt.Errorf("failed to get week by number: %w", err)
	}
	return w, nil
}

// ListWeeks returns all weeks of a cohort ordered by number.
func (r *ContentRepository) ListWeeks(ctx context.Context, cohortID uuid.UUID) ([]*content.Week, error) {
	query := fmt.Sprintf(`SELECT %s FROM weeks WHERE cohort_id = $1 ORDER BY number`, weekColumns)

	rows, err := r.db.Query(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weeks: %w", err)
	}
	defer rows.Close()

	var weeks []*content.Week
	for rows.Next() {
		w, err := scanWeek(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan week: %w", err)
		}
		weeks = append(weeks, w)
	}
	return weeks, rows.Err()
}

// CountWeeks returns the number of weeks in a cohort.
func (r *ContentRepository) CountWeeks(ctx context.Context, cohortID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM weeks WHERE cohort_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, cohortID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count weeks: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Modules, Lessons, Topics
// ─────────────────────────────────────────────────────────────────────────────

const moduleColumns = `id, week_id, position, title, reward_coins, created_at, updated_at`

func scanModule(row interface{ Scan(...interface{}) error }) (*content.Module, error) {
	var m content.Module
	err := row.Scan(&m.ID, &m.WeekID, &m.Position, &m.Title, &m.RewardCoins, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModule returns a module by ID.
func (r *ContentRepository) GetModule(ctx context.Context, id uuid.UUID) (*content.Module, error) {
	query := fmt.Sprintf(`SELECT %s FROM modules WHERE id = $1`, moduleColumns)

	m, err := scanModule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return m, nil
}

// ListModules returns all modules of a week ordered by position.
func (r *ContentRepository) ListModules(ctx context.Context, weekID uuid.UUID) ([]*content.Module, error) {
	query := fmt.Sprintf(`SELECT %s FROM modules WHERE week_id = $1 ORDER BY position`, moduleColumns)

	rows, err := r.db.Query(ctx, query, weekID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []*content.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

const lessonColumns = `id, module_id, position, title, quiz_ids, assignment_ids,
		live_class_ids, min_time_seconds, reward_coins, created_at, updated_at`

func scanLesson(row interface{ Scan(...interface{}) error }) (*content.Lesson, error) {
	var l content.Lesson
	err := row.Scan(
		&l.ID, &l.ModuleID, &l.Position, &l.Title, &l.QuizIDs, &l.AssignmentIDs,
		&l.LiveClassIDs, &l.MinTimeSeconds, &l.RewardCoins, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLesson returns a lesson by ID.
func (r *ContentRepository) GetLesson(ctx context.Context, id uuid.UUID) (*content.Lesson, error) {
	query := fmt.Sprintf(`SELECT %s FROM lessons WHERE id = $1`, lessonColumns)

	l, err := scanLesson(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return l, nil
}

// ListLessons returns all lessons of a module ordered by position.
func (r *ContentRepository) ListLessons(ctx context.Context, moduleID uuid.UUID) ([]*content.Lesson, error) {
	query := fmt.Sprintf(`SELECT %s FROM lessons WHERE module_id = $1 ORDER BY position`, lessonColumns)

	rows, err := r.db.Query(ctx, query, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*content.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

const topicColumns = `id, lesson_id, position, title, reward_coins, min_time_seconds,
		prerequisite_topic_id, created_at, updated_at`

func scanTopic(row interface{ Scan(...interface{}) error }) (*content.Topic, error) {
	var t content.Topic
	err := row.Scan(
		&t.ID, &t.LessonID, &t.Position, &t.Title, &t.RewardCoins, &t.MinTimeSeconds,
		&t.PrerequisiteTopicID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTopic returns a topic by ID.
func (r *ContentRepository) GetTopic(ctx context.Context, id uuid.UUID) (*content.Topic, error) {
	query := fmt.Sprintf(`SELECT %s FROM topics WHERE id = $1`, topicColumns)

	t, err := scanTopic(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return t, nil
}

// ListTopics returns all topics of a lesson ordered by position.
func (r *ContentRepository) ListTopics(ctx context.Context, lessonID uuid.UUID) ([]*content.Topic, error) {
	query := fmt.Sprintf(`SELECT %s FROM topics WHERE lesson_id = $1 ORDER BY position`, topicColumns)

	rows, err := r.db.Query(ctx, query, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []*content.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain resolution
// The cascade resolves the full parent chain on every run. One joined
// query per resolve keeps that path a single round trip.
// ─────────────────────────────────────────────────────────────────────────────

// ResolveTopicChain resolves topic → lesson → module → week → cohort.
func (r *ContentRepository) ResolveTopicChain(ctx context.Context, topicID uuid.UUID) (*content.Chain, error) {
	query := `
		SELECT
			t.id, t.lesson_id, t.position, t.title, t.reward_coins, t.min_time_seconds,
			t.prerequisite_topic_id, t.created_at, t.updated_at,
			l.id, l.module_id, l.position, l.title, l.quiz_ids, l.assignment_ids,
			l.live_class_ids, l.min_time_seconds, l.reward_coins, l.created_at, l.updated_at,
			m.id, m.week_id, m.position, m.title, m.reward_coins, m.created_at, m.updated_at,
			w.id, w.cohort_id, w.number, w.title, w.unlock_rules, w.reward_coins,
			w.quiz_ids, w.assignment_ids, w.live_class_ids, w.created_at, w.updated_at,
			c.id, c.title, c.status, c.start_date, c.end_date, c.created_at, c.updated_at
		FROM topics t
		JOIN lessons l ON l.id = t.lesson_id
		JOIN modules m ON m.id = l.module_id
		JOIN weeks w ON w.id = m.week_id
		JOIN cohorts c ON c.id = w.cohort_id
		WHERE t.id = $1`

	var (
		topic    content.Topic
		lesson   content.Lesson
		module   content.Module
		week     content.Week
		cohort   content.Cohort
		rulesRaw []byte
	)
	err := r.db.QueryRow(ctx, query, topicID).Scan(
		&topic.ID, &topic.LessonID, &topic.Position, &topic.Title, &topic.RewardCoins, &topic.MinTimeSeconds,
		&topic.PrerequisiteTopicID, &topic.CreatedAt, &topic.UpdatedAt,
		&lesson.ID, &lesson.ModuleID, &lesson.Position, &lesson.Title, &lesson.QuizIDs, &lesson.AssignmentIDs,
		&lesson.LiveClassIDs, &lesson.MinTimeSeconds, &lesson.RewardCoins, &lesson.CreatedAt, &lesson.UpdatedAt,
		&module.ID, &module.WeekID, &module.Position, &module.Title, &module.RewardCoins, &module.CreatedAt, &module.UpdatedAt,
		&week.ID, &week.CohortID, &week.Number, &week.Title, &rulesRaw, &week.RewardCoins,
		&week.QuizIDs, &week.AssignmentIDs, &week.LiveClassIDs, &week.CreatedAt, &week.UpdatedAt,
		&cohort.ID, &cohort.Title, &cohort.Status, &cohort.StartDate, &cohort.EndDate, &cohort.CreatedAt, &cohort.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to resolve topic chain: %w", err)
	}

	rules, err := unlock.ParseRuleSet(rulesRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unlock rules for week %s: %w", week.ID, err)
	}
	week.UnlockRules = rules

	return &content.Chain{
		Cohort: &cohort,
		Week:   &week,
		Module: &module,
		Lesson: &lesson,
		Topic:  &topic,
	}, nil
}

// ResolveLessonChain resolves lesson → module → week → cohort.
func (r *ContentRepository) ResolveLessonChain(ctx context.Context, lessonID uuid.UUID) (*content.Chain, error) {
	query := `
		SELECT
			l.id, l.module_id, l.position, l.title, l.quiz_ids, l.assignment_ids,
			l.live_class_ids, l.min_time_seconds, l.reward_coins, l.created_at, l.updated_at,
			m.id, m.week_id, m.position, m.title, m.reward_coins, m.created_at, m.updated_at,
			w.id, w.cohort_id, w.number, w.title, w.unlock_rules, w.reward_coins,
			w.quiz_ids, w.assignment_ids, w.live_class_ids, w.created_at, w.updated_at,
			c.id, c.title, c.status, c.start_date, c.end_date, c.created_at, c.updated_at
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		JOIN weeks w ON w.id = m.week_id
		JOIN cohorts c ON c.id = w.cohort_id
		WHERE l.id = $1`

	var (
		lesson   content.Lesson
		module   content.Module
		week     content.Week
		cohort   content.Cohort
		rulesRaw []byte
	)
	err := r.db.QueryRow(ctx, query, lessonID).Scan(
		&lesson.ID, &lesson.ModuleID, &lesson.Position, &lesson.Title, &lesson.QuizIDs, &lesson.AssignmentIDs,
		&lesson.LiveClassIDs, &lesson.MinTimeSeconds, &lesson.RewardCoins, &lesson.CreatedAt, &lesson.UpdatedAt,
		&module.ID, &module.WeekID, &module.Position, &module.Title, &module.RewardCoins, &module.CreatedAt, &module.UpdatedAt,
		&week.ID, &week.CohortID, &week.Number, &week.Title, &rulesRaw, &week.RewardCoins,
		&week.QuizIDs, &week.AssignmentIDs, &week.LiveClassIDs, &week.CreatedAt, &week.UpdatedAt,
		&cohort.ID, &cohort.Title, &cohort.Status, &cohort.StartDate, &cohort.EndDate, &cohort.CreatedAt, &cohort.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to resolve lesson chain: %w", err)
	}

	rules, err := unlock.ParseRuleSet(rulesRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unlock rules for week %s: %w", week.ID, err)
	}
	week.UnlockRules = rules

	return &content.Chain{
		Cohort: &cohort,
		Week:   &week,
		Module: &module,
		Lesson: &lesson,
	}, nil
}

// ResolveModuleChain resolves module → week → cohort.
func (r *ContentRepository) ResolveModuleChain(ctx context.Context, moduleID uuid.UUID) (*content.Chain, error) {
	query := `
		SELECT
			m.id, m.week_id, m.position, m.title, m.reward_coins, m.created_at, m.updated_at,
			w.id, w.cohort_id, w.number, w.title, w.unlock_rules, w.reward_coins,
			w.quiz_ids, w.assignment_ids, w.live_class_ids, w.created_at, w.updated_at,
			c.id, c.title, c.status, c.start_date, c.end_date, c.created_at, c.updated_at
		FROM modules m
		JOIN weeks w ON w.id = m.week_id
		JOIN cohorts c ON c.id = w.cohort_id
		WHERE m.id = $1`

	var (
		module   content.Module
		week     content.Week
		cohort   content.Cohort
		rulesRaw []byte
	)
	err := r.db.QueryRow(ctx, query, moduleID).Scan(
		&module.ID, &module.WeekID, &module.Position, &module.Title, &module.RewardCoins, &module.CreatedAt, &module.UpdatedAt,
		&week.ID, &week.CohortID, &week.Number, &week.Title, &rulesRaw, &week.RewardCoins,
		&week.QuizIDs, &week.AssignmentIDs, &week.LiveClassIDs, &week.CreatedAt, &week.UpdatedAt,
		&cohort.ID, &cohort.Title, &cohort.Status, &cohort.StartDate, &cohort.EndDate, &cohort.CreatedAt, &cohort.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to resolve module chain: %w", err)
	}

	rules, err := unlock.ParseRuleSet(rulesRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unlock rules for week %s: %w", week.ID, err)
	}
	week.UnlockRules = rules

	return &content.Chain{
		Cohort: &cohort,
		Week:   &week,
		Module: &module,
	}, nil
}
