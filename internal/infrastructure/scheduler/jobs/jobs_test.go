package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/application/apptest"
	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/cohortly/progression-engine/pkg/logger"
)

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discardLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

// sweepFixture wires a two-week cohort where week 2 is gated by a drip
// criterion, plus one enrolled student.
type sweepFixture struct {
	store     *apptest.Store
	uow       *apptest.UnitOfWork
	publisher *apptest.Publisher

	studentID shared.StudentID
	cohortID  uuid.UUID
	week1     *content.Week
	week2     *content.Week
}

func newSweepFixture(t *testing.T, dripDays int, cohortStatus content.CohortStatus) *sweepFixture {
	t.Helper()

	f := &sweepFixture{
		store:     apptest.NewStore(),
		publisher: apptest.NewPublisher(),
		studentID: shared.StudentID(uuid.New()),
		cohortID:  uuid.New(),
	}
	f.uow = apptest.NewUnitOfWork(f.store)

	start := time.Now().UTC().AddDate(0, 0, -30)
	cohort := &content.Cohort{
		ID:        f.cohortID,
		Title:     "Backend Bootcamp",
		Status:    content.CohortStatusActive,
		StartDate: start,
		EndDate:   start.AddDate(0, 3, 0),
	}
	f.store.AddCohort(cohort)

	f.week1 = &content.Week{ID: uuid.New(), CohortID: f.cohortID, Number: 1, Title: "Week 1"}
	f.week2 = &content.Week{
		ID: uuid.New(), CohortID: f.cohortID, Number: 2, Title: "Week 2",
		UnlockRules: unlock.RuleSet{DripDays: dripDays},
	}
	f.store.AddWeek(f.week1)
	f.store.AddWeek(f.week2)

	enroll := command.NewEnrollStudentHandler(f.uow, f.publisher, discardLogger())
	_, err := enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)

	// Enrollment needs an active cohort. Cohorts that later leave the
	// active state keep their enrolled students, so flip it afterwards.
	cohort.Status = cohortStatus

	return f
}

func (f *sweepFixture) dripJob() *jobs.DripUnlockSweepJob {
	repos := f.store.Repos()
	unlocker := command.NewUnlockWeekHandler(f.uow, f.publisher, discardLogger())
	return jobs.NewDripUnlockSweepJob(
		repos.Content,
		repos.Enrollments,
		repos.WeekProgress,
		unlocker,
		discardSlog(),
		jobs.DripUnlockSweepConfig{},
	)
}

func TestDripUnlockSweep_UnlocksDueWeek(t *testing.T) {
	f := newSweepFixture(t, 7, content.CohortStatusActive)
	ctx := context.Background()

	// The only remaining gate besides the drip day is the previous week.
	won, err := f.store.Repos().WeekProgress.MarkWeekCompleted(ctx, f.studentID, f.week1.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, f.dripJob().Run(ctx))

	row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, row)
	assert.True(t, row.IsUnlocked)
	assert.Len(t, f.publisher.EventsOfType(shared.EventWeekUnlocked), 1)
}

func TestDripUnlockSweep_DeniedStudentStaysLocked(t *testing.T) {
	// Drip day has arrived but week 1 is unfinished. A denial is an
	// expected outcome, not a job failure.
	f := newSweepFixture(t, 7, content.CohortStatusActive)
	ctx := context.Background()

	require.NoError(t, f.dripJob().Run(ctx))

	row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, row)
	assert.False(t, row.IsUnlocked)
	assert.Empty(t, f.publisher.EventsOfType(shared.EventWeekUnlocked))
}

func TestDripUnlockSweep_FutureDripNotTouched(t *testing.T) {
	f := newSweepFixture(t, 60, content.CohortStatusActive)
	ctx := context.Background()

	_, err := f.store.Repos().WeekProgress.MarkWeekCompleted(ctx, f.studentID, f.week1.ID)
	require.NoError(t, err)

	require.NoError(t, f.dripJob().Run(ctx))

	row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, row)
	assert.False(t, row.IsUnlocked)
}

func TestDripUnlockSweep_SkipsInactiveCohorts(t *testing.T) {
	f := newSweepFixture(t, 7, content.CohortStatusCompleted)
	ctx := context.Background()

	_, err := f.store.Repos().WeekProgress.MarkWeekCompleted(ctx, f.studentID, f.week1.ID)
	require.NoError(t, err)

	require.NoError(t, f.dripJob().Run(ctx))

	row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, row)
	assert.False(t, row.IsUnlocked)
}

func TestReconcileBalances_RepairsDrift(t *testing.T) {
	store := apptest.NewStore()
	uow := apptest.NewUnitOfWork(store)
	publisher := apptest.NewPublisher()
	studentID := shared.StudentID(uuid.New())
	ctx := context.Background()

	award := command.NewAwardCoinsHandler(uow, publisher, discardLogger())
	_, err := award.Handle(ctx, command.AwardCoinsCommand{
		StudentID:   studentID,
		Amount:      100,
		Source:      ledger.ManualSource(),
		Description: "Seed",
		Bonus:       true,
	})
	require.NoError(t, err)

	// Corrupt the cached balance so it disagrees with the log.
	repos := store.Repos()
	require.NoError(t, repos.Ledger.OverwriteBalance(ctx, &ledger.Balance{
		StudentID:      studentID,
		TotalBalance:   40,
		LifetimeEarned: 40,
	}))

	recalc := command.NewRecalculateBalanceHandler(uow, publisher, discardLogger())
	job := jobs.NewReconcileBalancesJob(repos.Ledger, recalc, discardSlog(), jobs.ReconcileBalancesConfig{})

	require.NoError(t, job.Run(ctx))

	balance, err := repos.Ledger.GetBalance(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(100), balance.TotalBalance)
	assert.Len(t, publisher.EventsOfType(shared.EventBalanceReconciled), 1)
}

func TestReconcileBalances_NoActivityIsANoOp(t *testing.T) {
	store := apptest.NewStore()
	uow := apptest.NewUnitOfWork(store)
	publisher := apptest.NewPublisher()

	recalc := command.NewRecalculateBalanceHandler(uow, publisher, discardLogger())
	job := jobs.NewReconcileBalancesJob(store.Repos().Ledger, recalc, discardSlog(), jobs.ReconcileBalancesConfig{})

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, publisher.Events())
}
