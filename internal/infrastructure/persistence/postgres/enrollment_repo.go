package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements enrollment.Repository.
type EnrollmentRepository struct {
	db Querier
}

// NewEnrollmentRepository creates an enrollment repository over a pool or
// transaction.
func NewEnrollmentRepository(db Querier) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, cohort_id, status, enrolled_at,
		completed_at, withdrawn_at, created_at, updated_at`

func scanEnrollment(row interface{ Scan(...interface{}) error }) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := row.Scan(
		&e.ID, &e.StudentID, &e.CohortID, &e.Status, &e.EnrolledAt,
		&e.CompletedAt, &e.WithdrawnAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create persists a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	query := `
		INSERT INTO enrollments (id, student_id, cohort_id, status, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.StudentID, e.CohortID, e.Status, e.EnrolledAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrEnrollmentExists
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// GetByID returns an enrollment by ID.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*enrollment.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)

	e, err := scanEnrollment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// GetByStudentAndCohort returns the enrollment for a (student, cohort) pair.
func (r *EnrollmentRepository) GetByStudentAndCohort(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) (*enrollment.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND cohort_id = $2`, enrollmentColumns)

	e, err := scanEnrollment(r.db.QueryRow(ctx, query, studentID, cohortID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// Update persists enrollment state changes.
func (r *EnrollmentRepository) Update(ctx context.Context, e *enrollment.Enrollment) error {
	query := `
		UPDATE enrollments
		SET status = $2, completed_at = $3, withdrawn_at = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, e.ID, e.Status, e.CompletedAt, e.WithdrawnAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEnrollmentNotFound
	}
	return nil
}

// ListByCohort returns all enrollments for a cohort.
func (r *EnrollmentRepository) ListByCohort(ctx context.Context, cohortID uuid.UUID) ([]*enrollment.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE cohort_id = $1 ORDER BY enrolled_at`, enrollmentColumns)

	rows, err := r.db.Query(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by cohort: %w", err)
	}
	defer rows.Close()

	var enrollments []*enrollment.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// ListByStudent returns all enrollments of a student.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*enrollment.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at`, enrollmentColumns)

	rows, err := r.db.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by student: %w", err)
	}
	defer rows.Close()

	var enrollments []*enrollment.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// WeekProgressRepository implements enrollment.WeekProgressRepository.
type WeekProgressRepository struct {
	db Querier
}

// NewWeekProgressRepository creates a week progress repository over a pool
// or transaction.
func NewWeekProgressRepository(db Querier) *WeekProgressRepository {
	return &WeekProgressRepository{db: db}
}

const weekProgressColumns = `id, enrollment_id, student_id, cohort_id, week_id, week_number,
		completion_percentage, is_unlocked, unlocked_at, completed_at, created_at, updated_at`

func scanWeekProgress(row interface{ Scan(...interface{}) error }) (*enrollment.WeekProgress, error) {
	var wp enrollment.WeekProgress
	err := row.Scan(
		&wp.ID, &wp.EnrollmentID, &wp.StudentID, &wp.CohortID, &wp.WeekID, &wp.WeekNumber,
		&wp.CompletionPercentage, &wp.IsUnlocked, &wp.UnlockedAt, &wp.CompletedAt, &wp.CreatedAt, &wp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wp, nil
}

// CreateBatch persists the pre-created progress rows for a new enrollment.
func (r *WeekProgressRepository) CreateBatch(ctx context.Context, rows []*enrollment.WeekProgress) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO week_progress (id, enrollment_id, student_id, cohort_id, week_id, week_number,
			completion_percentage, is_unlocked, unlocked_at, created_at, updated_at)
		SELECT * FROM unnest(
			$1::uuid[], $2::uuid[], $3::uuid[], $4::uuid[], $5::uuid[], $6::int[],
			$7::numeric[], $8::boolean[], $9::timestamptz[], $10::timestamptz[], $11::timestamptz[]
		)`

	n := len(rows)
	ids := make([]uuid.UUID, n)
	enrollmentIDs := make([]uuid.UUID, n)
	studentIDs := make([]uuid.UUID, n)
	cohortIDs := make([]uuid.UUID, n)
	weekIDs := make([]uuid.UUID, n)
	numbers := make([]int, n)
	percentages := make([]float64, n)
	unlocked := make([]bool, n)
	unlockedAts := make([]*time.Time, n)
	createdAts := make([]time.Time, n)
	updatedAts := make([]time.Time, n)
	for i, wp := range rows {
		ids[i] = wp.ID
		enrollmentIDs[i] = wp.EnrollmentID
		studentIDs[i] = wp.StudentID.UUID()
		cohortIDs[i] = wp.CohortID
		weekIDs[i] = wp.WeekID
		numbers[i] = wp.WeekNumber
		percentages[i] = wp.CompletionPercentage.Float64()
		unlocked[i] = wp.IsUnlocked
		unlockedAts[i] = wp.UnlockedAt
		createdAts[i] = wp.CreatedAt
		updatedAts[i] = wp.UpdatedAt
	}

	_, err := r.db.Exec(ctx, query,
		ids, enrollmentIDs, studentIDs, cohortIDs, weekIDs, numbers,
		percentages, unlocked, unlockedAts, createdAts, updatedAts,
	)
	if err != nil {
		return fmt.Errorf("failed to create week progress rows: %w", err)
	}
	return nil
}

// Get returns the progress row for a (student, week) pair.
func (r *WeekProgressRepository) Get(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (*enrollment.WeekProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM week_progress WHERE student_id = $1 AND week_id = $2`, weekProgressColumns)

	wp, err := scanWeekProgress(r.db.QueryRow(ctx, query, studentID, weekID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrWeekProgressNotFound
		}
		return nil, fmt.Errorf("failed to get week progress: %w", err)
	}
	return wp, nil
}

// GetByNumber returns the progress row for a (student, cohort, week number) triple.
func (r *WeekProgressRepository) GetByNumber(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, weekNumber int) (*enrollment.WeekProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM week_progress WHERE student_id = $1 AND cohort_id = $2 AND week_number = $3`, weekProgressColumns)

	wp, err := scanWeekProgress(r.db.QueryRow(ctx, query, studentID, cohortID, weekNumber))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrWeekProgressNotFound
		}
		return nil, fmt.Errorf("failed to get week progress by number: %w", err)
	}
	return wp, nil
}

// Update persists percentage, unlock, and completion changes.
func (r *WeekProgressRepository) Update(ctx context.Context, wp *enrollment.WeekProgress) error {
	query := `
		UPDATE week_progress
		SET completion_percentage = $2, is_unlocked = $3, unlocked_at = $4,
			completed_at = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		wp.ID, wp.CompletionPercentage, wp.IsUnlocked, wp.UnlockedAt, wp.CompletedAt, wp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update week progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrWeekProgressNotFound
	}
	return nil
}

// ListByStudent returns all progress rows for a student in a cohort.
func (r *WeekProgressRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*enrollment.WeekProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM week_progress WHERE student_id = $1 AND cohort_id = $2 ORDER BY week_number`, weekProgressColumns)

	rows, err := r.db.Query(ctx, query, studentID, cohortID)
	if err != nil {
		return nil, fmt.Errorf("failed to list week progress: %w", err)
	}
	defer rows.Close()

	var list []*enrollment.WeekProgress
	for rows.Next() {
		wp, err := scanWeekProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan week progress: %w", err)
		}
		list = append(list, wp)
	}
	return list, rows.Err()
}

// MarkWeekCompleted stamps completed_at and pins the percentage at 100 in
// one conditional UPDATE. RowsAffected tells us whether this call won the
// stamp or another writer got there first.
func (r *WeekProgressRepository) MarkWeekCompleted(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (bool, error) {
	query := `
		UPDATE week_progress
		SET completion_percentage = 100, completed_at = NOW(), updated_at = NOW()
		WHERE student_id = $1 AND week_id = $2 AND completed_at IS NULL`

	tag, err := r.db.Exec(ctx, query, studentID, weekID)
	if err != nil {
		return false, fmt.Errorf("failed to mark week completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountCompletedByCohort returns how many weeks the student has completed
// within the cohort.
func (r *WeekProgressRepository) CountCompletedByCohort(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM week_progress
		WHERE student_id = $1 AND cohort_id = $2 AND completed_at IS NOT NULL`

	var count int
	if err := r.db.QueryRow(ctx, query, studentID, cohortID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed weeks: %w", err)
	}
	return count, nil
}
