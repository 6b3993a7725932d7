package saga_test

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
	"github.com/cohortly/progression-engine/internal/application/saga"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// cascadeFixture wires a two-week cohort against the real cascade
// coordinator and the real completion handler, so tests drive the full
// leaf-to-cohort progression path.
type cascadeFixture struct {
	store     *apptest.Store
	publisher *apptest.Publisher
	complete  *command.CompleteUnitHandler
	cascade   *saga.Coordinator

	studentID shared.StudentID
	cohortID  uuid.UUID
	week1     *content.Week
	week2     *content.Week
	module1   *content.Module
	lesson1   *content.Lesson
	topic1    *content.Topic
	topic2    *content.Topic
	topic3    *content.Topic // the only leaf of week 2
}

func newCascadeFixture(t *testing.T) *cascadeFixture {
	t.Helper()

	f := &cascadeFixture{
		store:     apptest.NewStore(),
		publisher: apptest.NewPublisher(),
		studentID: shared.StudentID(uuid.New()),
		cohortID:  uuid.New(),
	}
	uow := apptest.NewUnitOfWork(f.store)
	log := logger.New(logger.Options{Output: io.Discard})

	start := time.Now().UTC().AddDate(0, 0, -14)
	f.store.AddCohort(&content.Cohort{
		ID:        f.cohortID,
		Title:     "Data Track",
		Status:    content.CohortStatusActive,
		StartDate: start,
		EndDate:   start.AddDate(0, 2, 0),
	})

	// Week 2 has no explicit rules, so it unlocks as soon as week 1 is
	// completed.
	f.week1 = &content.Week{ID: uuid.New(), CohortID: f.cohortID, Number: 1, Title: "Week 1", RewardCoins: 50}
	f.week2 = &content.Week{ID: uuid.New(), CohortID: f.cohortID, Number: 2, Title: "Week 2", RewardCoins: 50}
	f.store.AddWeek(f.week1)
	f.store.AddWeek(f.week2)

	f.module1 = &content.Module{ID: uuid.New(), WeekID: f.week1.ID, Position: 1, Title: "Module 1", RewardCoins: 20}
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
	f.topic3 = &content.Topic{ID: uuid.New(), LessonID: lesson2.ID, Position: 1, Title: "Topic 3"}
	f.store.AddTopic(f.topic3)

	f.cascade = saga.NewCoordinator(uow, f.publisher, log)
	f.complete = command.NewCompleteUnitHandler(uow, f.cascade, f.publisher, log)

	enroll := command.NewEnrollStudentHandler(uow, f.publisher, log)
	_, err := enroll.Handle(context.Background(), command.EnrollStudentCommand{
		StudentID: f.studentID,
		CohortID:  f.cohortID,
	})
	require.NoError(t, err)

	return f
}

func (f *cascadeFixture) completeTopic(t *testing.T, topic *content.Topic) *command.CompleteUnitResult {
	t.Helper()
	unit, err := shared.NewUnitRef(shared.UnitTopic, topic.ID)
	require.NoError(t, err)
	result, err := f.complete.Handle(context.Background(), command.CompleteUnitCommand{
		StudentID: f.studentID,
		Unit:      unit,
	})
	require.NoError(t, err)
	require.False(t, result.Cascade.Failed(), "cascade step %s: %v", result.Cascade.FailedStep, result.Cascade.Err)
	return result
}

func (f *cascadeFixture) completionFor(t *testing.T, kind shared.UnitKind, id uuid.UUID) *progress.CompletionRecord {
	t.Helper()
	unit, err := shared.NewUnitRef(kind, id)
	require.NoError(t, err)
	return f.store.Completion(f.studentID, unit)
}

func TestCascade_PartialLessonOnlyUpdatesPercentages(t *testing.T) {
	f := newCascadeFixture(t)

	result := f.completeTopic(t, f.topic1)
	assert.False(t, result.Cascade.LessonCompleted)
	assert.False(t, result.Cascade.WeekCompleted)

	lessonRec := f.completionFor(t, shared.UnitLesson, f.lesson1.ID)
	require.NotNil(t, lessonRec)
	assert.False(t, lessonRec.IsCompleted())
	assert.InDelta(t, 50.0, lessonRec.CompletionPercentage.Float64(), 0.001, "one of two topics done")

	row := f.store.WeekRow(f.studentID, f.week1.ID)
	require.NotNil(t, row)
	assert.Nil(t, row.CompletedAt)
}

func TestCascade_FullChainCompletesWeekAndUnlocksNext(t *testing.T) {
	f := newCascadeFixture(t)

	f.completeTopic(t, f.topic1)
	result := f.completeTopic(t, f.topic2)

	assert.True(t, result.Cascade.LessonCompleted)
	assert.True(t, result.Cascade.ModuleCompleted)
	assert.True(t, result.Cascade.WeekCompleted)
	assert.True(t, result.Cascade.NextWeekUnlocked)
	assert.False(t, result.Cascade.CohortCompleted)

	lessonRec := f.completionFor(t, shared.UnitLesson, f.lesson1.ID)
	require.NotNil(t, lessonRec)
	assert.True(t, lessonRec.IsCompleted())

	moduleRec := f.completionFor(t, shared.UnitModule, f.module1.ID)
	require.NotNil(t, moduleRec)
	assert.True(t, moduleRec.IsCompleted())

	week1Row := f.store.WeekRow(f.studentID, f.week1.ID)
	require.NotNil(t, week1Row)
	assert.NotNil(t, week1Row.CompletedAt)
	assert.InDelta(t, 100.0, week1Row.CompletionPercentage.Float64(), 0.001)

	week2Row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, week2Row)
	assert.True(t, week2Row.IsUnlocked)

	// Every level pays exactly once: 10+10 topics, 5 lesson, 20 module,
	// 50 week.
	balance, err := f.store.Repos().Ledger.GetBalance(context.Background(), f.studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(95), balance.TotalBalance)

	assert.Len(t, f.publisher.EventsOfType(shared.EventWeekCompleted), 1)
	assert.Len(t, f.publisher.EventsOfType(shared.EventWeekUnlocked), 1)
}

func TestCascade_Reentrant(t *testing.T) {
	f := newCascadeFixture(t)

	f.completeTopic(t, f.topic1)
	f.completeTopic(t, f.topic2)

	unit, err := shared.NewUnitRef(shared.UnitTopic, f.topic2.ID)
	require.NoError(t, err)

	// Re-running the cascade over an already converged chain changes
	// nothing: no new completions, no new coins, no new events.
	before := len(f.store.Transactions())
	outcome := f.cascade.Run(context.Background(), f.studentID, unit)
	require.False(t, outcome.Failed())
	assert.False(t, outcome.LessonCompleted)
	assert.False(t, outcome.ModuleCompleted)
	assert.False(t, outcome.WeekCompleted)
	assert.Len(t, f.store.Transactions(), before)
	assert.Len(t, f.publisher.EventsOfType(shared.EventWeekCompleted), 1)
}

func TestCascade_LessonGatedOnEmbeddedEvidence(t *testing.T) {
	f := newCascadeFixture(t)
	quizID := uuid.New()
	f.lesson1.QuizIDs = []uuid.UUID{quizID}

	f.completeTopic(t, f.topic1)
	result := f.completeTopic(t, f.topic2)

	// Both topics are done but the quiz is not: the lesson sits below 100.
	assert.False(t, result.Cascade.LessonCompleted)
	lessonRec := f.completionFor(t, shared.UnitLesson, f.lesson1.ID)
	require.NotNil(t, lessonRec)
	assert.InDelta(t, 66.67, lessonRec.CompletionPercentage.Float64(), 0.01)

	// Passing the quiz and re-running the cascade converges the chain.
	f.store.RecordPassed(f.studentID, progress.EvidenceQuiz, quizID,
		apptest.EvidenceMeta{CohortID: f.cohortID, WeekNumber: 1})

	unit, err := shared.NewUnitRef(shared.UnitTopic, f.topic2.ID)
	require.NoError(t, err)
	outcome := f.cascade.Run(context.Background(), f.studentID, unit)
	require.False(t, outcome.Failed())
	assert.True(t, outcome.LessonCompleted)
	assert.True(t, outcome.WeekCompleted)
}

func TestCascade_CohortCompletionAfterLastWeek(t *testing.T) {
	f := newCascadeFixture(t)

	f.completeTopic(t, f.topic1)
	f.completeTopic(t, f.topic2)
	result := f.completeTopic(t, f.topic3)

	assert.True(t, result.Cascade.WeekCompleted)
	assert.False(t, result.Cascade.NextWeekUnlocked, "there is no week 3")
	assert.True(t, result.Cascade.CohortCompleted)

	enr, err := f.store.Repos().Enrollments.GetByStudentAndCohort(context.Background(), f.studentID, f.cohortID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, enr.Status)
	assert.NotNil(t, enr.CompletedAt)
}

func TestCascade_NextWeekStaysLockedUntilRulesMet(t *testing.T) {
	f := newCascadeFixture(t)
	f.week2.UnlockRules = unlock.RuleSet{MinCoins: 500}

	f.completeTopic(t, f.topic1)
	result := f.completeTopic(t, f.topic2)

	assert.True(t, result.Cascade.WeekCompleted)
	assert.False(t, result.Cascade.NextWeekUnlocked, "coin gate is far above the earned total")

	week2Row := f.store.WeekRow(f.studentID, f.week2.ID)
	require.NotNil(t, week2Row)
	assert.False(t, week2Row.IsUnlocked)
}

func TestCascade_UnknownUnitKindCapturedInOutcome(t *testing.T) {
	f := newCascadeFixture(t)

	outcome := f.cascade.Run(context.Background(), f.studentID, shared.UnitRef{Kind: "exam", ID: uuid.New()})
	assert.True(t, outcome.Failed())
	assert.Equal(t, "resolve_chain", outcome.FailedStep)
	assert.Error(t, outcome.Err)
}

func TestCascade_WeekRewardDedupedAcrossRuns(t *testing.T) {
	f := newCascadeFixture(t)

	f.completeTopic(t, f.topic1)
	f.completeTopic(t, f.topic2)

	var weekEarned []*ledger.Transaction
	for _, tx := range f.store.Transactions() {
		if tx.Type == ledger.TypeEarned && tx.Source.Type == ledger.SourceWeek {
			weekEarned = append(weekEarned, tx)
		}
	}
	require.Len(t, weekEarned, 1)
	assert.Equal(t, shared.Coins(50), weekEarned[0].Amount)
}
