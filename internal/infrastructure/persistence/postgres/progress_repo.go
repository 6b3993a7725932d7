package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository implements progress.Repository.
type CompletionRepository struct {
	db Querier
}

// NewCompletionRepository creates a completion repository over a pool or
// transaction.
func NewCompletionRepository(db Querier) *CompletionRepository {
	return &CompletionRepository{db: db}
}

const completionColumns = `id, student_id, unit_kind, unit_id, started_at, completed_at,
		time_spent_seconds, completion_percentage, completion_data, coins_awarded, created_at, updated_at`

// prefixColumns qualifies a comma separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanCompletion(row interface{ Scan(...interface{}) error }) (*progress.CompletionRecord, error) {
	var rec progress.CompletionRecord
	err := row.Scan(
		&rec.ID, &rec.StudentID, &rec.Unit.Kind, &rec.Unit.ID, &rec.StartedAt, &rec.CompletedAt,
		&rec.TimeSpentSeconds, &rec.CompletionPercentage, &rec.CompletionData, &rec.CoinsAwarded,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create persists a first-touch record.
func (r *CompletionRepository) Create(ctx context.Context, rec *progress.CompletionRecord) error {
	query := `
		INSERT INTO unit_completions (id, student_id, unit_kind, unit_id, started_at,
			time_spent_seconds, completion_percentage, completion_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb), $9, $10)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.StudentID, rec.Unit.Kind, rec.Unit.ID, rec.StartedAt,
		rec.TimeSpentSeconds, rec.CompletionPercentage, rec.CompletionData, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create completion record: %w", err)
	}
	return nil
}

// Get returns the record for a (student, unit) pair.
func (r *CompletionRepository) Get(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) (*progress.CompletionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM unit_completions WHERE student_id = $1 AND unit_kind = $2 AND unit_id = $3`, completionColumns)

	rec, err := scanCompletion(r.db.QueryRow(ctx, query, studentID, unit.Kind, unit.ID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to get completion record: %w", err)
	}
	return rec, nil
}

// Update persists time, percentage, and data changes.
func (r *CompletionRepository) Update(ctx context.Context, rec *progress.CompletionRecord) error {
	query := `
		UPDATE unit_completions
		SET time_spent_seconds = $2, completion_percentage = $3,
			completion_data = COALESCE($4, '{}'::jsonb), updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.TimeSpentSeconds, rec.CompletionPercentage, rec.CompletionData, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update completion record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCompletionNotFound
	}
	return nil
}

// MarkCompleted stamps the record completed in one conditional UPDATE.
// The completed_at IS NULL guard makes the first-completion decision
// race-safe; at most one caller ever sees true.
func (r *CompletionRepository) MarkCompleted(ctx context.Context, rec *progress.CompletionRecord) (bool, error) {
	query := `
		UPDATE unit_completions
		SET completed_at = $4, completion_percentage = 100, time_spent_seconds = $5,
			completion_data = COALESCE($6, '{}'::jsonb), coins_awarded = $7, updated_at = $4
		WHERE student_id = $1 AND unit_kind = $2 AND unit_id = $3 AND completed_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		rec.StudentID, rec.Unit.Kind, rec.Unit.ID, rec.CompletedAt,
		rec.TimeSpentSeconds, rec.CompletionData, rec.CoinsAwarded,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark completion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the record outright. Administrative resets only.
func (r *CompletionRepository) Delete(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) error {
	query := `DELETE FROM unit_completions WHERE student_id = $1 AND unit_kind = $2 AND unit_id = $3`

	tag, err := r.db.Exec(ctx, query, studentID, unit.Kind, unit.ID)
	if err != nil {
		return fmt.Errorf("failed to delete completion record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCompletionNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Aggregate counts
// ─────────────────────────────────────────────────────────────────────────────

// CountCompletedTopics counts the student's completed topics within a lesson.
func (r *CompletionRepository) CountCompletedTopics(ctx context.Context, studentID shared.StudentID, lessonID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM unit_completions uc
		JOIN topics t ON t.id = uc.unit_id
		WHERE uc.student_id = $1 AND uc.unit_kind = 'topic'
			AND uc.completed_at IS NOT NULL AND t.lesson_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, lessonID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed topics: %w", err)
	}
	return count, nil
}

// CountCompletedLessons counts the student's completed lessons within a module.
func (r *CompletionRepository) CountCompletedLessons(ctx context.Context, studentID shared.StudentID, moduleID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM unit_completions uc
		JOIN lessons l ON l.id = uc.unit_id
		WHERE uc.student_id = $1 AND uc.unit_kind = 'lesson'
			AND uc.completed_at IS NOT NULL AND l.module_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, moduleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed lessons: %w", err)
	}
	return count, nil
}

// CountCompletedModules counts the student's completed modules within a week.
func (r *CompletionRepository) CountCompletedModules(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM unit_completions uc
		JOIN modules m ON m.id = uc.unit_id
		WHERE uc.student_id = $1 AND uc.unit_kind = 'module'
			AND uc.completed_at IS NOT NULL AND m.week_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, weekID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed modules: %w", err)
	}
	return count, nil
}

// CountCompletedByKind counts the student's completed units of a kind
// across a cohort, optionally scoped to one week number.
func (r *CompletionRepository) CountCompletedByKind(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, kind shared.UnitKind, weekNumber int) (int, error) {
	var query string
	switch kind {
	case shared.UnitTopic:
		query = `
			SELECT COUNT(*)
			FROM unit_completions uc
			JOIN topics t ON t.id = uc.unit_id
			JOIN lessons l ON l.id = t.lesson_id
			JOIN modules m ON m.id = l.module_id
			JOIN weeks w ON w.id = m.week_id
			WHERE uc.student_id = $1 AND uc.unit_kind = 'topic' AND uc.completed_at IS NOT NULL
				AND w.cohort_id = $2 AND ($3 = 0 OR w.number = $3)`
	case shared.UnitLesson:
		query = `
			SELECT COUNT(*)
			FROM unit_completions uc
			JOIN lessons l ON l.id = uc.unit_id
			JOIN modules m ON m.id = l.module_id
			JOIN weeks w ON w.id = m.week_id
			WHERE uc.student_id = $1 AND uc.unit_kind = 'lesson' AND uc.completed_at IS NOT NULL
				AND w.cohort_id = $2 AND ($3 = 0 OR w.number = $3)`
	case shared.UnitModule:
		query = `
			SELECT COUNT(*)
			FROM unit_completions uc
			JOIN modules m ON m.id = uc.unit_id
			JOIN weeks w ON w.id = m.week_id
			WHERE uc.student_id = $1 AND uc.unit_kind = 'module' AND uc.completed_at IS NOT NULL
				AND w.cohort_id = $2 AND ($3 = 0 OR w.number = $3)`
	default:
		return 0, shared.NewDomainError("progress", "CountCompletedByKind", shared.ErrInvalidInput,
			fmt.Sprintf("unknown unit kind %q", kind))
	}

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, cohortID, weekNumber).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completions by kind: %w", err)
	}
	return count, nil
}

// ListByStudent returns all of a student's records for units under the
// given cohort, most recent first.
func (r *CompletionRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, limit int) ([]*progress.CompletionRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM unit_completions uc
		WHERE uc.student_id = $1 AND (
			(uc.unit_kind = 'topic' AND uc.unit_id IN (
				SELECT t.id FROM topics t
				JOIN lessons l ON l.id = t.lesson_id
				JOIN modules m ON m.id = l.module_id
				JOIN weeks w ON w.id = m.week_id
				WHERE w.cohort_id = $2))
			OR (uc.unit_kind = 'lesson' AND uc.unit_id IN (
				SELECT l.id FROM lessons l
				JOIN modules m ON m.id = l.module_id
				JOIN weeks w ON w.id = m.week_id
				WHERE w.cohort_id = $2))
			OR (uc.unit_kind = 'module' AND uc.unit_id IN (
				SELECT m.id FROM modules m
				JOIN weeks w ON w.id = m.week_id
				WHERE w.cohort_id = $2))
		)
		ORDER BY uc.updated_at DESC
		LIMIT $3`, prefixColumns("uc", completionColumns))

	rows, err := r.db.Query(ctx, query, studentID, cohortID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list completion records: %w", err)
	}
	defer rows.Close()

	var records []*progress.CompletionRecord
	for rows.Next() {
		rec, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVIDENCE REPOSITORY
// Evidence rows are written by the grading and attendance collaborators;
// this repository only counts them.
// ══════════════════════════════════════════════════════════════════════════════

// EvidenceRepository implements progress.EvidenceRepository.
type EvidenceRepository struct {
	db Querier
}

// NewEvidenceRepository creates an evidence repository over a pool or
// transaction.
func NewEvidenceRepository(db Querier) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// CountPassed counts the student's passed items among the given evidence IDs.
func (r *EvidenceRepository) CountPassed(ctx context.Context, studentID shared.StudentID, kind progress.EvidenceKind, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		SELECT COUNT(*) FROM evidence_passes
		WHERE student_id = $1 AND kind = $2 AND evidence_id = ANY($3)`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, kind, ids).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count passed evidence: %w", err)
	}
	return count, nil
}

// CountPassedByWeek counts the student's passed items of a kind across a
// cohort, optionally scoped to one week number.
func (r *EvidenceRepository) CountPassedByWeek(ctx context.Context, studentID shared.StudentID, kind progress.EvidenceKind, cohortID uuid.UUID, weekNumber int) (int, error) {
	query := `
		SELECT COUNT(*) FROM evidence_passes
		WHERE student_id = $1 AND kind = $2 AND cohort_id = $3
			AND ($4 = 0 OR week_number = $4)`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, kind, cohortID, weekNumber).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count passed evidence by week: %w", err)
	}
	return count, nil
}
