package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a single database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt *time.Time
	IsApplied bool
}

// migration001Up creates the curriculum tables.
const migration001Up = `
CREATE TABLE IF NOT EXISTS cohorts (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_cohort_status CHECK (status IN ('draft', 'active', 'completed', 'archived')),
    CONSTRAINT valid_schedule CHECK (end_date >= start_date)
);

CREATE TABLE IF NOT EXISTS weeks (
    id UUID PRIMARY KEY,
    cohort_id UUID NOT NULL REFERENCES cohorts(id) ON DELETE CASCADE,
    number INT NOT NULL CHECK (number >= 1),
    title TEXT NOT NULL,
    unlock_rules JSONB NOT NULL DEFAULT '{}',
    reward_coins BIGINT NOT NULL DEFAULT 0 CHECK (reward_coins >= 0),
    quiz_ids UUID[] NOT NULL DEFAULT '{}',
    assignment_ids UUID[] NOT NULL DEFAULT '{}',
    live_class_ids UUID[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT unique_week_number UNIQUE (cohort_id, number)
);

CREATE INDEX IF NOT EXISTS idx_weeks_cohort ON weeks(cohort_id, number);

CREATE TABLE IF NOT EXISTS modules (
    id UUID PRIMARY KEY,
    week_id UUID NOT NULL REFERENCES weeks(id) ON DELETE CASCADE,
    position INT NOT NULL DEFAULT 0 CHECK (position >= 0),
    title TEXT NOT NULL,
    reward_coins BIGINT NOT NULL DEFAULT 0 CHECK (reward_coins >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_modules_week ON modules(week_id, position);

CREATE TABLE IF NOT EXISTS lessons (
    id UUID PRIMARY KEY,
    module_id UUID NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
    position INT NOT NULL DEFAULT 0 CHECK (position >= 0),
    title TEXT NOT NULL,
    quiz_ids UUID[] NOT NULL DEFAULT '{}',
    assignment_ids UUID[] NOT NULL DEFAULT '{}',
    live_class_ids UUID[] NOT NULL DEFAULT '{}',
    min_time_seconds INT NOT NULL DEFAULT 0 CHECK (min_time_seconds >= 0),
    reward_coins BIGINT NOT NULL DEFAULT 0 CHECK (reward_coins >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_lessons_module ON lessons(module_id, position);

CREATE TABLE IF NOT EXISTS topics (
    id UUID PRIMARY KEY,
    lesson_id UUID NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
    position INT NOT NULL DEFAULT 0 CHECK (position >= 0),
    title TEXT NOT NULL,
    reward_coins BIGINT NOT NULL DEFAULT 0 CHECK (reward_coins >= 0),
    min_time_seconds INT NOT NULL DEFAULT 0 CHECK (min_time_seconds >= 0),
    prerequisite_topic_id UUID REFERENCES topics(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_topics_lesson ON topics(lesson_id, position);
`

const migration001Down = `
DROP TABLE IF EXISTS topics;
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS modules;
DROP TABLE IF EXISTS weeks;
DROP TABLE IF EXISTS cohorts;
`

// migration002Up creates enrollments and per-week progress rows.
const migration002Up = `
CREATE TABLE IF NOT EXISTS enrollments (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL,
    cohort_id UUID NOT NULL REFERENCES cohorts(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'active',
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    withdrawn_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_enrollment_status CHECK (status IN ('active', 'completed', 'dropped', 'suspended')),
    CONSTRAINT unique_enrollment UNIQUE (student_id, cohort_id)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_student ON enrollments(student_id);
CREATE INDEX IF NOT EXISTS idx_enrollments_cohort ON enrollments(cohort_id, status);

CREATE TABLE IF NOT EXISTS week_progress (
    id UUID PRIMARY KEY,
    enrollment_id UUID NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
    student_id UUID NOT NULL,
    cohort_id UUID NOT NULL,
    week_id UUID NOT NULL REFERENCES weeks(id) ON DELETE CASCADE,
    week_number INT NOT NULL CHECK (week_number >= 1),
    completion_percentage NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (completion_percentage BETWEEN 0 AND 100),
    is_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
    unlocked_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT unique_week_progress UNIQUE (student_id, week_id)
);

CREATE INDEX IF NOT EXISTS idx_week_progress_student ON week_progress(student_id, cohort_id, week_number);
`

const migration002Down = `
DROP TABLE IF EXISTS week_progress;
DROP TABLE IF EXISTS enrollments;
`

// migration003Up creates unit completions and the external evidence view.
const migration003Up = `
CREATE TABLE IF NOT EXISTS unit_completions (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL,
    unit_kind TEXT NOT NULL CHECK (unit_kind IN ('topic', 'lesson', 'module')),
    unit_id UUID NOT NULL,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    time_spent_seconds INT NOT NULL DEFAULT 0 CHECK (time_spent_seconds >= 0),
    completion_percentage NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (completion_percentage BETWEEN 0 AND 100),
    completion_data JSONB NOT NULL DEFAULT '{}',
    coins_awarded BIGINT NOT NULL DEFAULT 0 CHECK (coins_awarded >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT unique_unit_completion UNIQUE (student_id, unit_kind, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_completions_student ON unit_completions(student_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_completions_unit ON unit_completions(unit_kind, unit_id) WHERE completed_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS evidence_passes (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('quiz', 'assignment', 'live_class')),
    evidence_id UUID NOT NULL,
    cohort_id UUID NOT NULL,
    week_number INT NOT NULL DEFAULT 0,
    passed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT unique_evidence_pass UNIQUE (student_id, kind, evidence_id)
);

CREATE INDEX IF NOT EXISTS idx_evidence_student ON evidence_passes(student_id, kind, cohort_id, week_number);
`

const migration003Down = `
DROP TABLE IF EXISTS evidence_passes;
DROP TABLE IF EXISTS unit_completions;
`

// migration004Up creates the coin ledger. The partial unique index on
// earned rows is the storage-level guard behind at-most-one reward per
// (student, source).
const migration004Up = `
CREATE TABLE IF NOT EXISTS coin_transactions (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('earned', 'spent', 'bonus', 'penalty', 'adjustment')),
    amount BIGINT NOT NULL CHECK (amount <> 0),
    source_type TEXT NOT NULL,
    source_id UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
    description TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_earned_source
    ON coin_transactions(student_id, source_type, source_id)
    WHERE type = 'earned';

CREATE INDEX IF NOT EXISTS idx_transactions_student ON coin_transactions(student_id, created_at DESC);

CREATE TABLE IF NOT EXISTS coin_balances (
    student_id UUID PRIMARY KEY,
    total_balance BIGINT NOT NULL DEFAULT 0 CHECK (total_balance >= 0),
    lifetime_earned BIGINT NOT NULL DEFAULT 0 CHECK (lifetime_earned >= 0),
    lifetime_spent BIGINT NOT NULL DEFAULT 0 CHECK (lifetime_spent >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const migration004Down = `
DROP TABLE IF EXISTS coin_balances;
DROP TABLE IF EXISTS coin_transactions;
`

// GetMigrations returns all migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_curriculum_tables", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_enrollment_tables", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_completion_tables", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_ledger_tables", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator manages database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the default migration set.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if needed.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.tableName)

	if _, err := m.conn.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: failed to create migration table: %v", ErrMigrationFailed, err)
	}
	return nil
}

// GetAppliedMigrations returns versions that have been applied, with times.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf(`SELECT version, applied_at FROM %s ORDER BY version`, m.tableName)

	rows, err := m.conn.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query applied migrations: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan migration row: %v", ErrMigrationFailed, err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations in order, each inside its own
// transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0)
	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, migration := range pending {
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migration.UpSQL); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
			}

			record := fmt.Sprintf(`INSERT INTO %s (version, name) VALUES ($1, $2)`, m.tableName)
			if _, err := tx.Exec(ctx, record, migration.Version, migration.Name); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	latest := 0
	for version := range applied {
		if version > latest {
			latest = version
		}
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == latest {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: no definition for applied migration %d", ErrMigrationFailed, latest)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("rollback of migration %d failed: %w", target.Version, err)
		}

		remove := fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, m.tableName)
		if _, err := tx.Exec(ctx, remove, target.Version); err != nil {
			return fmt.Errorf("failed to remove migration record %d: %w", target.Version, err)
		}
		return nil
	})
}

// Status returns every known migration annotated with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]Migration, len(m.migrations))
	copy(status, m.migrations)
	for i := range status {
		if at, ok := applied[status[i].Version]; ok {
			status[i].IsApplied = true
			appliedAt := at
			status[i].AppliedAt = &appliedAt
		}
	}
	return status, nil
}
