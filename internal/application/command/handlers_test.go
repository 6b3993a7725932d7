package command_test

import (
	"context"
	"io"
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
	"github.com/cohortly/progression-engine/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

// stubCascade satisfies command.CascadeRunner without recomputing
// anything. Cascade behavior itself is covered in the saga package.
type stubCascade struct {
	outcome command.CascadeOutcome
	calls   int
}

func (s *stubCascade) Run(_ context.Context, _ shared.StudentID, _ shared.UnitRef) command.CascadeOutcome {
	s.calls++
	return s.outcome
}

// fixture wires two weeks of curriculum, an in-memory store, and every
// handler under test.
type fixture struct {
	store     *apptest.Store
	uow       *apptest.UnitOfWork
	publisher *apptest.Publisher
	cascade   *stubCascade

	studentID shared.StudentID
	cohortID  uuid.UUID
	week1     *content.Week
	week2     *content.Week
	module1   *content.Module
	lesson1   *content.Lesson
	topic1    *content.Topic
	topic2    *content.Topic
	topic3    *content.Topic // lives in the locked week 2

	enroll     *command.EnrollStudentHandler
	start      *command.StartUnitHandler
	update     *command.UpdateProgressHandler
	complete   *command.CompleteUnitHandler
	reset      *command.ResetUnitHandler
	unlockWeek *command.UnlockWeekHandler
	award      *command.AwardCoinsHandler
	spend      *command.SpendCoinsHandler
	penalty    *command.ApplyPenaltyHandler
	adjust     *command.AdjustBalanceHandler
	recalc     *command.RecalculateBalanceHandler
	withdraw   *command.WithdrawStudentHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     apptest.NewStore(),
		publisher: apptest.NewPublisher(),
		cascade:   &stubCascade{},
		studentID: shared.StudentID(uuid.New()),
		cohortID:  uuid.New(),
	}
	f.uow = apptest.NewUnitOfWork(f.store)

	start := time.Now().UTC().AddDate(0, 0, -30)
	f.store.AddCohort(&content.Cohort{
		ID:        f.cohortID,
		Title:     "Backend Bootcamp",
		Status:    content.CohortStatusActive,
		StartDate: start,
		EndDate:   start.AddDate(0, 3, 0),
	})

	f.week1 = &content.Week{ID: uuid.New(), CohortID: f.cohortID, Number: 1, Title: "Week 1", RewardCoins: 50}
	f.week2 = &content.Week{
		ID: uuid.New(), CohortID: f.cohortID, Number: 2, Title: "Week 2",
		UnlockRules: unlock.RuleSet{MinCoins: 20},
	}
	f.store.AddWeek(f.week1)
	f.store.AddWeek(f.week2)

	f.module1 = &content.Module{ID: uuid.New(), WeekID: f.week1.ID, Position: 1, Title: "Module 1"}
	f.store.AddModule(f.module1)

	f.lesson1 = &content.Lesson{ID: uuid.New(), ModuleID: f.module1.ID, Position: 1, Title: "Lesson 1", RewardCoins: 5}
	f.store.AddLesson(f.lesson1)

	f.topic1 = &content.Topic{ID: uuid.New(), LessonID: f.lesson1.ID, Position: 1, Title: "Topic 1", RewardCoins: 10}
	f.topic2 = &content.Topic{ID: uuid.New(), LessonID: f.lesson1.ID, Position: 2, Title: "Topic 2", RewardCoins: 10}
	f.store.AddTopic(f.topic1)
	f.store.AddTopic(f.topic2)

	module2 := &content.Module{ID: uuid.New(), WeekID: f.week2.ID, Position: 1, Title: "Module 2"}
	f.store.AddModule(module2)
	lesson2 := &content.Lesson{ID: uuid.New(), ModuleID: module2.ID, Position: 1, Title: "Lesson 2"}
	f.store.AddLesson(lesson2)
	f.topic3 = &content.Topic{ID: uuid.New(), LessonID: lesson2.ID, Position: 1, Title: "Topic 3", RewardCoins: 10}
	f.store.AddTopic(f.topic3)

	log := testLogger()
	f.enroll = command.NewEnrollStudentHandler(f.uow, f.publisher, log)
	f.start = command.NewStartUnitHandler(f.uow, f.publisher, log)
	f.update = command.NewUpdateProgressHandler(f.uow, log)
	f.complete = command.NewCompleteUnitHandler(f.uow, f.cascade, f.publisher, log)
	f.reset = command.NewResetUnitHandler(f.uow, f.cascade, f.publisher, log)
	f.unlockWeek = command.NewUnlockWeekHandler(f.uow, f.publisher, log)
	f.award = command.NewAwardCoinsHandler(f.uow, f.publisher, log)
	f.spend = command.NewSpendCoinsHandler(f.uow, f.publisher, log)
	f.penalty = command.NewApplyPenaltyHandler(f.uow, f.publisher, log)
	f.adjust = command.NewAdjustBalanceHandler(f.uow, f.publisher, log)
	f.recalc = command.NewRecalculateBalanceHandler(f.uow, f.publisher, log)
	f.withdraw = command.NewWithdrawStudentHandler(f.uow, f.publisher, log)
	return f
}

func (f *fixture) enrollStudent(t *testing.T) {
	t.Helper()
	_, err := f.enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)
}

func (f *fixture) unitRef(t *testing.T, kind shared.UnitKind, id uuid.UUID) shared.UnitRef {
	t.Helper()
	unit, err := shared.NewUnitRef(kind, id)
	require.NoError(t, err)
	return unit
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollment
// ─────────────────────────────────────────────────────────────────────────────

func TestEnrollStudent_CreatesProgressRows(t *testing.T) {
	f := newFixture(t)

	result, err := f.enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.WeeksCreated)

	row1 := f.store.WeekRow(f.studentID, f.week1.ID)
	require.NotNil(t, row1)
	assert.True(t, row1.IsUnlocked, "week 1 opens on enrollment")

	row2 := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, row2)
	assert.False(t, row2.IsUnlocked, "later weeks start locked")

	events := f.publisher.EventsOfType(shared.EventStudentEnrolled)
	assert.Len(t, events, 1)
}

func TestEnrollStudent_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)

	_, err := f.enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestEnrollStudent_DraftCohortRejected(t *testing.T) {
	f := newFixture(t)
	draftID := uuid.New()
	f.store.AddCohort(&content.Cohort{ID: draftID, Title: "Draft", Status: content.CohortStatusDraft})

	_, err := f.enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  draftID,
	})
	assert.Error(t, err)
}

func TestWithdrawStudent(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)

	err := f.withdraw.Handle(context.Background(), command.WithdrawStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)

	updated, err := f.store.Repos().Enrollments.GetByStudentAndCohort(context.Background(), f.studentID, f.cohortID)
	require.NoError(t, err)
	assert.False(t, updated.Status.CanProgress())
	assert.NotNil(t, updated.WithdrawnAt)
}

// ─────────────────────────────────────────────────────────────────────────────
// Start / update
// ─────────────────────────────────────────────────────────────────────────────

func TestStartUnit_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, f.topic1.ID)

	first, err := f.start.Handle(context.Background(), command.StartUnitCommand{StudentID: f.studentID, Unit: unit})
	require.NoError(t, err)
	assert.False(t, first.AlreadyStarted)

	second, err := f.start.Handle(context.Background(), command.StartUnitCommand{StudentID: f.studentID, Unit: unit})
	require.NoError(t, err)
	assert.True(t, second.AlreadyStarted)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	assert.Len(t, f.publisher.EventsOfType(shared.EventUnitStarted), 1)
}

func TestUpdateProgress_AccumulatesAndClamps(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, f.topic1.ID)

	_, err := f.start.Handle(context.Background(), command.StartUnitCommand{StudentID: f.studentID, Unit: unit})
	require.NoError(t, err)

	result, err := f.update.Handle(context.Background(), command.UpdateProgressCommand{
		StudentID:        f.studentID,
		Unit:             unit,
		Percentage:       150, // clamped to 100
		TimeSpentSeconds: 40,
	})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.InDelta(t, 100.0, result.Record.CompletionPercentage.Float64(), 0.001)
	assert.Equal(t, 40, result.Record.TimeSpentSeconds)

	// Progress never moves backwards.
	result, err = f.update.Handle(context.Background(), command.UpdateProgressCommand{
		StudentID:        f.studentID,
		Unit:             unit,
		Percentage:       10,
		TimeSpentSeconds: 5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, result.Record.CompletionPercentage.Float64(), 0.001)
	assert.Equal(t, 45, result.Record.TimeSpentSeconds)
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion
// ─────────────────────────────────────────────────────────────────────────────

func TestCompleteUnit_AwardsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, f.topic1.ID)

	result, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, shared.Coins(10), result.CoinsAwarded)
	require.NotNil(t, result.RewardTransaction)
	assert.Equal(t, 1, f.cascade.calls)

	// Completing again touches nothing.
	again, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, shared.Coins(0), again.CoinsAwarded)

	var earned []*ledger.Transaction
	for _, tx := range f.store.Transactions() {
		if tx.Type == ledger.TypeEarned {
			earned = append(earned, tx)
		}
	}
	require.Len(t, earned, 1, "one reward per unit, ever")
	assert.Equal(t, shared.Coins(10), earned[0].Amount)

	balance, err := f.store.Repos().Ledger.GetBalance(context.Background(), f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(10), balance.TotalBalance)

	assert.Len(t, f.publisher.EventsOfType(shared.EventUnitCompleted), 1)
}

func TestCompleteUnit_LockedWeekDenied(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, f.topic3.ID)

	_, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	assert.ErrorIs(t, err, shared.ErrEligibility)
	assert.Empty(t, f.store.Transactions())
}

func TestCompleteUnit_MinimumTimeEnforced(t *testing.T) {
	f := newFixture(t)
	timed := &content.Topic{ID: uuid.New(), LessonID: f.lesson1.ID, Position: 3, Title: "Timed", MinTimeSeconds: 60}
	f.store.AddTopic(timed)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, timed.ID)

	_, err := f.start.Handle(context.Background(), command.StartUnitCommand{StudentID: f.studentID, Unit: unit})
	require.NoError(t, err)

	_, err = f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	assert.ErrorIs(t, err, shared.ErrMinimumTimeNotMet)

	_, err = f.update.Handle(context.Background(), command.UpdateProgressCommand{
		StudentID:        f.studentID,
		Unit:             unit,
		TimeSpentSeconds: 61,
	})
	require.NoError(t, err)

	result, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyCompleted)
}

func TestCompleteUnit_PrerequisiteEnforced(t *testing.T) {
	f := newFixture(t)
	f.topic2.PrerequisiteTopicID = &f.topic1.ID
	f.enrollStudent(t)

	_, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      f.unitRef(t, shared.UnitTopic, f.topic2.ID),
	})
	assert.ErrorIs(t, err, shared.ErrPrerequisiteMissing)

	_, err = f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      f.unitRef(t, shared.UnitTopic, f.topic1.ID),
	})
	require.NoError(t, err)

	_, err = f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      f.unitRef(t, shared.UnitTopic, f.topic2.ID),
	})
	assert.NoError(t, err)
}

func TestCompleteUnit_CascadeFailureDoesNotFailCompletion(t *testing.T) {
	f := newFixture(t)
	f.cascade.outcome = command.CascadeOutcome{
		Attempted:  true,
		FailedStep: "recalc_lesson",
		Err:        assert.AnError,
	}
	f.enrollStudent(t)

	result, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      f.unitRef(t, shared.UnitTopic, f.topic1.ID),
	})
	require.NoError(t, err, "the durable completion survives cascade degradation")
	assert.True(t, result.Cascade.Failed())
	assert.Equal(t, shared.Coins(10), result.CoinsAwarded)

	assert.Len(t, f.publisher.EventsOfType(shared.EventCascadeFailed), 1)
}

func TestResetUnit_DeletesRecordKeepsCoins(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	unit := f.unitRef(t, shared.UnitTopic, f.topic1.ID)

	_, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)

	_, err = f.reset.Handle(context.Background(), command.ResetUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
		Reason:    "re-grading after content fix",
	})
	require.NoError(t, err)
	assert.Nil(t, f.store.Completion(f.studentID, unit))

	// The earned entry stays; redoing the unit cannot double-pay.
	balance, err := f.store.Repos().Ledger.GetBalance(context.Background(), f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(10), balance.TotalBalance)

	result, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(0), result.CoinsAwarded, "per-source dedup blocks a second reward")

	balance, err = f.store.Repos().Ledger.GetBalance(context.Background(), f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(10), balance.TotalBalance)
}

// ─────────────────────────────────────────────────────────────────────────────
// Unlocking
// ─────────────────────────────────────────────────────────────────────────────

func TestUnlockWeek_GatedOnCoinsAndPreviousWeek(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	ctx := context.Background()

	// Nothing completed, no coins: denied on both criteria.
	_, err := f.unlockWeek.Handle(ctx, command.UnlockWeekCommand{
		StudentID: f.studentID,
		WeekID:    f.week2.ID,
	})
	assert.ErrorIs(t, err, shared.ErrUnlockDenied)

	// Finish week 1 but stay under the coin threshold.
	won, err := f.store.Repos().WeekProgress.MarkWeekCompleted(ctx, f.studentID, f.week1.ID)
	require.NoError(t, err)
	require.True(t, won)

	_, err = f.unlockWeek.Handle(ctx, command.UnlockWeekCommand{
		StudentID: f.studentID,
		WeekID:    f.week2.ID,
	})
	assert.ErrorIs(t, err, shared.ErrUnlockDenied)

	// Cross the coin threshold.
	src, err := ledger.NewSource(ledger.SourceWeek, f.week1.ID)
	require.NoError(t, err)
	_, err = f.award.Handle(ctx, command.AwardCoinsCommand{
		StudentID:   f.studentID,
		Amount:      25,
		Source:      src,
		Description: "Week 1 reward",
	})
	require.NoError(t, err)

	result, err := f.unlockWeek.Handle(ctx, command.UnlockWeekCommand{
		StudentID: f.studentID,
		WeekID:    f.week2.ID,
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyUnlocked)
	assert.True(t, result.Progress.IsUnlocked)
	assert.Len(t, f.publisher.EventsOfType(shared.EventWeekUnlocked), 1)

	// Unlocking an open week is a no-op.
	again, err := f.unlockWeek.Handle(ctx, command.UnlockWeekCommand{
		StudentID: f.studentID,
		WeekID:    f.week2.ID,
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyUnlocked)
}

// ─────────────────────────────────────────────────────────────────────────────
// Ledger
// ─────────────────────────────────────────────────────────────────────────────

func TestAwardCoins_DuplicateSourceIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, err := ledger.NewSource(ledger.SourceQuiz, uuid.New())
	require.NoError(t, err)

	cmd := command.AwardCoinsCommand{
		StudentID:   f.studentID,
		Amount:      15,
		Source:      src,
		Description: "Quiz passed",
	}
	first, err := f.award.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.award.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	balance, err := f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(15), balance.TotalBalance)
}

func TestSpendCoins_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, err := ledger.NewSource(ledger.SourceQuiz, uuid.New())
	require.NoError(t, err)
	_, err = f.award.Handle(ctx, command.AwardCoinsCommand{
		StudentID: f.studentID, Amount: 30, Source: src, Description: "seed",
	})
	require.NoError(t, err)

	shopSrc, err := ledger.NewSource(ledger.SourceShop, uuid.New())
	require.NoError(t, err)

	declined, err := f.spend.Handle(ctx, command.SpendCoinsCommand{
		StudentID: f.studentID, Amount: 50, Source: shopSrc, Description: "hoodie",
	})
	require.NoError(t, err, "a declined spend is an outcome, not an error")
	assert.True(t, declined.InsufficientFunds)
	assert.Nil(t, declined.Transaction)

	// Nothing moved, nothing was written.
	balance, err := f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(30), balance.TotalBalance)
	assert.Len(t, f.store.Transactions(), 1)

	accepted, err := f.spend.Handle(ctx, command.SpendCoinsCommand{
		StudentID: f.studentID, Amount: 20, Source: shopSrc, Description: "sticker pack",
	})
	require.NoError(t, err)
	assert.False(t, accepted.InsufficientFunds)
	require.NotNil(t, accepted.Transaction)
	assert.Equal(t, shared.Coins(-20), accepted.Transaction.Amount)

	balance, err = f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(10), balance.TotalBalance)
}

func TestApplyPenalty_ClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, err := ledger.NewSource(ledger.SourceQuiz, uuid.New())
	require.NoError(t, err)
	_, err = f.award.Handle(ctx, command.AwardCoinsCommand{
		StudentID: f.studentID, Amount: 30, Source: src, Description: "seed",
	})
	require.NoError(t, err)

	result, err := f.penalty.Handle(ctx, command.ApplyPenaltyCommand{
		StudentID: f.studentID,
		Amount:    50,
		Reason:    "plagiarism finding",
	})
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(30), result.AppliedAmount)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, shared.Coins(-30), result.Transaction.Amount)
	assert.Equal(t, true, result.Transaction.Metadata["clamped"])

	balance, err := f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(0), balance.TotalBalance)

	// Penalizing an empty balance writes nothing.
	empty, err := f.penalty.Handle(ctx, command.ApplyPenaltyCommand{
		StudentID: f.studentID,
		Amount:    10,
		Reason:    "second finding",
	})
	require.NoError(t, err)
	assert.Nil(t, empty.Transaction)
	assert.Equal(t, shared.Coins(0), empty.AppliedAmount)
}

func TestAdjustBalance_SignedDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.adjust.Handle(ctx, command.AdjustBalanceCommand{
		StudentID: f.studentID,
		Delta:     40,
		Reason:    "migration backfill",
	})
	require.NoError(t, err)

	_, err = f.adjust.Handle(ctx, command.AdjustBalanceCommand{
		StudentID: f.studentID,
		Delta:     -15,
		Reason:    "double credit correction",
	})
	require.NoError(t, err)

	balance, err := f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(25), balance.TotalBalance)
	assert.Len(t, f.store.Transactions(), 2)
}

func TestRecalculateBalance_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, err := ledger.NewSource(ledger.SourceQuiz, uuid.New())
	require.NoError(t, err)
	_, err = f.award.Handle(ctx, command.AwardCoinsCommand{
		StudentID: f.studentID, Amount: 100, Source: src, Description: "seed",
	})
	require.NoError(t, err)

	// Corrupt the materialized row behind the ledger's back.
	drifted := ledger.NewBalance(f.studentID)
	drifted.TotalBalance = 40
	drifted.LifetimeEarned = 40
	require.NoError(t, f.store.Repos().Ledger.OverwriteBalance(ctx, drifted))

	result, err := f.recalc.Handle(ctx, command.RecalculateBalanceCommand{StudentID: f.studentID})
	require.NoError(t, err)
	assert.True(t, result.DriftDetected)
	assert.Equal(t, shared.Coins(40), result.PreviousTotal)
	assert.Equal(t, shared.Coins(100), result.NewTotal)
	assert.Equal(t, 1, result.TransactionCount)

	balance, err := f.store.Repos().Ledger.GetBalance(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(100), balance.TotalBalance)

	// A clean row reconciles without touching anything.
	clean, err := f.recalc.Handle(ctx, command.RecalculateBalanceCommand{StudentID: f.studentID})
	require.NoError(t, err)
	assert.False(t, clean.DriftDetected)
}
