package query_test

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
	"github.com/cohortly/progression-engine/internal/application/query"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

// stubBalanceCache is an in-process ledger.BalanceCache. A nil balance
// behaves as a miss.
type stubBalanceCache struct {
	balance *ledger.Balance
	gets    int
	sets    int
}

func (c *stubBalanceCache) GetBalance(_ context.Context, _ shared.StudentID) (*ledger.Balance, error) {
	c.gets++
	if c.balance == nil {
		return nil, shared.ErrNotFound
	}
	return c.balance, nil
}

func (c *stubBalanceCache) SetBalance(_ context.Context, balance *ledger.Balance, _ time.Duration) error {
	c.sets++
	c.balance = balance
	return nil
}

func (c *stubBalanceCache) InvalidateBalance(_ context.Context, _ shared.StudentID) error {
	c.balance = nil
	return nil
}

// stubProgressCache is an in-process enrollment.ProgressCache holding
// rows for a single (student, cohort) pair.
type stubProgressCache struct {
	rows []*enrollment.WeekProgress
	sets int
}

func (c *stubProgressCache) GetWeekProgress(_ context.Context, _ shared.StudentID, _ uuid.UUID) ([]*enrollment.WeekProgress, error) {
	if c.rows == nil {
		return nil, shared.ErrNotFound
	}
	return c.rows, nil
}

func (c *stubProgressCache) SetWeekProgress(_ context.Context, _ shared.StudentID, _ uuid.UUID, rows []*enrollment.WeekProgress, _ time.Duration) error {
	c.sets++
	c.rows = rows
	return nil
}

func (c *stubProgressCache) InvalidateWeekProgress(_ context.Context, _ shared.StudentID, _ uuid.UUID) error {
	c.rows = nil
	return nil
}

func (c *stubProgressCache) InvalidateStudent(_ context.Context, _ shared.StudentID) error {
	c.rows = nil
	return nil
}

// fixture seeds a two-week cohort where week 2 requires 20 coins.
type fixture struct {
	store     *apptest.Store
	uow       *apptest.UnitOfWork
	publisher *apptest.Publisher

	studentID shared.StudentID
	cohortID  uuid.UUID
	week1     *content.Week
	week2     *content.Week

	enroll *command.EnrollStudentHandler
	award  *command.AwardCoinsHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     apptest.NewStore(),
		publisher: apptest.NewPublisher(),
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
	f.week1 = &content.Week{ID: uuid.New(), CohortID: f.cohortID, Number: 1, Title: "Week 1"}
	f.week2 = &content.Week{
		ID: uuid.New(), CohortID: f.cohortID, Number: 2, Title: "Week 2",
		UnlockRules: unlock.RuleSet{MinCoins: 20},
	}
	f.store.AddWeek(f.week1)
	f.store.AddWeek(f.week2)

	log := testLogger()
	f.enroll = command.NewEnrollStudentHandler(f.uow, f.publisher, log)
	f.award = command.NewAwardCoinsHandler(f.uow, f.publisher, log)
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

func (f *fixture) awardCoins(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.award.Handle(context.Background(), command.AwardCoinsCommand{
		StudentID:   f.studentID,
		Amount:      shared.Coins(amount),
		Source:      ledger.ManualSource(),
		Bonus:       true,
		Description: "test credit",
	})
	require.NoError(t, err)
}

func (f *fixture) completeWeek(t *testing.T, weekID uuid.UUID) {
	t.Helper()
	won, err := f.store.Repos().WeekProgress.MarkWeekCompleted(context.Background(), f.studentID, weekID)
	require.NoError(t, err)
	require.True(t, won)
}

func (f *fixture) balanceHandler(cache ledger.BalanceCache) *query.GetBalanceHandler {
	return query.NewGetBalanceHandler(f.store.Repos().Ledger, cache, testLogger())
}

func (f *fixture) overviewHandler(cache enrollment.ProgressCache) *query.GetProgressOverviewHandler {
	repos := f.store.Repos()
	return query.NewGetProgressOverviewHandler(
		repos.Enrollments, repos.WeekProgress, repos.Content, repos.Ledger, cache, testLogger(),
	)
}

func (f *fixture) requirementsHandler() *query.GetUnlockRequirementsHandler {
	return query.NewGetUnlockRequirementsHandler(f.store.Repos(), testLogger())
}

// ─────────────────────────────────────────────────────────────────────────────
// GetBalance
// ─────────────────────────────────────────────────────────────────────────────

func TestGetBalance_NoHistoryReturnsZeros(t *testing.T) {
	f := newFixture(t)

	result, err := f.balanceHandler(nil).Handle(context.Background(), query.GetBalanceQuery{
		StudentID: f.studentID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.studentID.String(), result.StudentID)
	assert.Zero(t, result.TotalBalance)
	assert.Zero(t, result.LifetimeEarned)
	assert.False(t, result.FromCache)
}

func TestGetBalance_WithTransactions(t *testing.T) {
	f := newFixture(t)
	f.awardCoins(t, 100)

	result, err := f.balanceHandler(nil).Handle(context.Background(), query.GetBalanceQuery{
		StudentID:           f.studentID,
		IncludeTransactions: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.TotalBalance)
	assert.Equal(t, int64(100), result.LifetimeEarned)
	require.Len(t, result.Transactions, 1)

	tx := result.Transactions[0]
	assert.Equal(t, int64(100), tx.Amount)
	assert.Equal(t, string(ledger.SourceManual), tx.SourceType)
	assert.Equal(t, "test credit", tx.Description)
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestGetBalance_CacheHitSkipsRepository(t *testing.T) {
	f := newFixture(t)
	f.awardCoins(t, 100)

	cache := &stubBalanceCache{}
	handler := f.balanceHandler(cache)

	first, err := handler.Handle(context.Background(), query.GetBalanceQuery{StudentID: f.studentID})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, cache.sets, "miss populates the cache")

	second, err := handler.Handle(context.Background(), query.GetBalanceQuery{StudentID: f.studentID})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.TotalBalance, second.TotalBalance)
	assert.Equal(t, 1, cache.sets, "hit does not rewrite the cache")
}

func TestGetBalance_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.balanceHandler(nil).Handle(context.Background(), query.GetBalanceQuery{})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.balanceHandler(nil).Handle(context.Background(), query.GetBalanceQuery{
		StudentID:        f.studentID,
		TransactionLimit: -1,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ─────────────────────────────────────────────────────────────────────────────
// GetProgressOverview
// ─────────────────────────────────────────────────────────────────────────────

func TestGetProgressOverview_AssemblesDashboard(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	f.completeWeek(t, f.week1.ID)
	f.awardCoins(t, 35)

	result, err := f.overviewHandler(nil).Handle(context.Background(), query.GetProgressOverviewQuery{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)

	assert.Equal(t, "Backend Bootcamp", result.CohortTitle)
	assert.Equal(t, string(enrollment.StatusActive), result.EnrollmentStatus)
	require.Len(t, result.Weeks, 2)

	assert.Equal(t, 1, result.Weeks[0].WeekNumber)
	assert.True(t, result.Weeks[0].IsCompleted)
	assert.True(t, result.Weeks[0].IsUnlocked)
	assert.Equal(t, 100.0, result.Weeks[0].CompletionPercentage)
	require.NotNil(t, result.Weeks[0].CompletedAt)

	assert.Equal(t, 2, result.Weeks[1].WeekNumber)
	assert.False(t, result.Weeks[1].IsUnlocked)
	assert.Nil(t, result.Weeks[1].CompletedAt)

	assert.Equal(t, 1, result.CompletedWeeks)
	assert.Equal(t, 1, result.UnlockedWeeks)
	assert.Equal(t, 50.0, result.OverallPercentage)
	assert.Equal(t, int64(35), result.CoinBalance)
}

func TestGetProgressOverview_ReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)

	cache := &stubProgressCache{}
	handler := f.overviewHandler(cache)

	_, err := handler.Handle(context.Background(), query.GetProgressOverviewQuery{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "miss populates the cache")

	// Complete a week behind the cache's back. The cached rows win
	// until the TTL or an invalidation drops them.
	f.completeWeek(t, f.week1.ID)

	stale, err := handler.Handle(context.Background(), query.GetProgressOverviewQuery{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stale.CompletedWeeks)
	assert.Equal(t, 1, cache.sets)
}

func TestGetProgressOverview_UnknownEnrollment(t *testing.T) {
	f := newFixture(t)

	_, err := f.overviewHandler(nil).Handle(context.Background(), query.GetProgressOverviewQuery{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetProgressOverview_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.overviewHandler(nil).Handle(context.Background(), query.GetProgressOverviewQuery{
		CohortID: f.cohortID,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ─────────────────────────────────────────────────────────────────────────────
// GetUnlockRequirements
// ─────────────────────────────────────────────────────────────────────────────

func TestGetUnlockRequirements_ItemizesUnmetCriteria(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)

	result, err := f.requirementsHandler().Handle(context.Background(), query.GetUnlockRequirementsQuery{
		StudentID:  f.studentID,
		CohortID:   f.cohortID,
		WeekNumber: 2,
	})
	require.NoError(t, err)

	assert.False(t, result.AlreadyUnlocked)
	assert.False(t, result.WouldUnlock)
	assert.Equal(t, "Week 2", result.WeekTitle)
	assert.False(t, result.EvaluatedAt.IsZero())

	byCriterion := make(map[string]query.RequirementDTO, len(result.Requirements))
	for _, req := range result.Requirements {
		byCriterion[req.Criterion] = req
	}

	prev, ok := byCriterion[string(unlock.CriterionPreviousWeek)]
	require.True(t, ok)
	assert.False(t, prev.Met)

	coins, ok := byCriterion[string(unlock.CriterionMinCoins)]
	require.True(t, ok)
	assert.False(t, coins.Met)
	assert.Equal(t, "20 coins", coins.Required)
	assert.Equal(t, "0 coins", coins.Current)
}

func TestGetUnlockRequirements_SatisfiedState(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)
	f.completeWeek(t, f.week1.ID)
	f.awardCoins(t, 25)

	result, err := f.requirementsHandler().Handle(context.Background(), query.GetUnlockRequirementsQuery{
		StudentID:  f.studentID,
		CohortID:   f.cohortID,
		WeekNumber: 2,
	})
	require.NoError(t, err)

	assert.True(t, result.WouldUnlock)
	assert.False(t, result.AlreadyUnlocked)
	for _, req := range result.Requirements {
		assert.True(t, req.Met, "criterion %s should be met", req.Criterion)
	}
}

func TestGetUnlockRequirements_AlreadyUnlockedShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.enrollStudent(t)

	result, err := f.requirementsHandler().Handle(context.Background(), query.GetUnlockRequirementsQuery{
		StudentID:  f.studentID,
		CohortID:   f.cohortID,
		WeekNumber: 1,
	})
	require.NoError(t, err)

	assert.True(t, result.AlreadyUnlocked)
	assert.True(t, result.WouldUnlock)
	assert.Empty(t, result.Requirements)
}

func TestGetUnlockRequirements_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.requirementsHandler().Handle(context.Background(), query.GetUnlockRequirementsQuery{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.requirementsHandler().Handle(context.Background(), query.GetUnlockRequirementsQuery{
		StudentID:  f.studentID,
		CohortID:   f.cohortID,
		WeekNumber: 99,
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
