package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

func testStudentID() shared.StudentID {
	return shared.StudentID(uuid.New())
}

func TestNewSource_Validation(t *testing.T) {
	topicID := uuid.New()

	src, err := NewSource(SourceTopic, topicID)
	require.NoError(t, err)
	assert.Equal(t, SourceTopic, src.Type)
	assert.Equal(t, topicID, src.ID)

	// Entity-backed sources require an id.
	_, err = NewSource(SourceQuiz, uuid.Nil)
	assert.Error(t, err)

	// Standalone sources reject one.
	_, err = NewSource(SourceManual, uuid.New())
	assert.Error(t, err)

	_, err = NewSource(SourceType("karma"), uuid.New())
	assert.Error(t, err)
}

func TestUnitSource_MapsUnitKinds(t *testing.T) {
	id := uuid.New()

	for kind, want := range map[shared.UnitKind]SourceType{
		shared.UnitTopic:  SourceTopic,
		shared.UnitLesson: SourceLesson,
		shared.UnitModule: SourceModule,
	} {
		unit, err := shared.NewUnitRef(kind, id)
		require.NoError(t, err)

		src, err := UnitSource(unit)
		require.NoError(t, err)
		assert.Equal(t, want, src.Type)
	}
}

func TestNewSpent_StoresNegativeAmount(t *testing.T) {
	src, err := NewSource(SourceShop, uuid.New())
	require.NoError(t, err)

	tx, err := NewSpent(uuid.New(), testStudentID(), 50, src, "avatar frame")
	require.NoError(t, err)

	assert.Equal(t, TypeSpent, tx.Type)
	assert.Equal(t, shared.Coins(-50), tx.Amount)
	assert.False(t, tx.IsCredit())

	_, err = NewSpent(uuid.New(), testStudentID(), 0, src, "free")
	assert.Error(t, err)
}

func TestNewEarned_RequiresPositiveAmount(t *testing.T) {
	src, err := NewSource(SourceTopic, uuid.New())
	require.NoError(t, err)

	tx, err := NewEarned(uuid.New(), testStudentID(), 10, src, "Completed: Pointers 101")
	require.NoError(t, err)
	assert.True(t, tx.IsCredit())

	_, err = NewEarned(uuid.New(), testStudentID(), -10, src, "bad")
	assert.Error(t, err)
}

func TestNewPenalty_RecordsClampedIntent(t *testing.T) {
	student := testStudentID()

	// Applied equals intended: no clamp metadata.
	tx, err := NewPenalty(uuid.New(), student, 30, 30, "late submission")
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(-30), tx.Amount)
	assert.Nil(t, tx.Metadata)

	// Balance only covered part of the penalty: full intent preserved.
	tx, err = NewPenalty(uuid.New(), student, 20, 50, "late submission")
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(-20), tx.Amount)
	assert.Equal(t, int64(50), tx.Metadata["intended_amount"])
	assert.Equal(t, true, tx.Metadata["clamped"])

	// Nothing debited: no row.
	_, err = NewPenalty(uuid.New(), student, 0, 50, "late submission")
	assert.Error(t, err)

	_, err = NewPenalty(uuid.New(), student, 60, 50, "late submission")
	assert.Error(t, err)
}

func TestNewAdjustment_AllowsSignedDeltas(t *testing.T) {
	up, err := NewAdjustment(uuid.New(), testStudentID(), 25, "support ticket #1204")
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(25), up.Amount)

	down, err := NewAdjustment(uuid.New(), testStudentID(), -25, "support ticket #1205")
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(-25), down.Amount)

	_, err = NewAdjustment(uuid.New(), testStudentID(), 0, "noop")
	assert.Error(t, err)
}

func TestBalance_Invariant(t *testing.T) {
	b := NewBalance(testStudentID())
	assert.NoError(t, b.CheckInvariant())

	b.TotalBalance = 70
	b.LifetimeEarned = 100
	b.LifetimeSpent = 30
	assert.NoError(t, b.CheckInvariant())
	assert.True(t, b.CanAfford(70))
	assert.False(t, b.CanAfford(71))

	b.TotalBalance = 80
	err := b.CheckInvariant()
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrBalanceDrift)
}

func TestRebuiltFromSums_ClampsAtZero(t *testing.T) {
	createdAt := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	b := RebuiltFromSums(testStudentID(), 100, 40, createdAt)
	assert.Equal(t, shared.Coins(60), b.TotalBalance)
	assert.Equal(t, createdAt, b.CreatedAt)

	// Spent exceeding earned can only come from drift; the rebuilt total
	// is clamped but the lifetime figures keep the evidence.
	b = RebuiltFromSums(testStudentID(), 40, 100, createdAt)
	assert.Equal(t, shared.Coins(0), b.TotalBalance)
	assert.Equal(t, shared.Coins(40), b.LifetimeEarned)
	assert.Equal(t, shared.Coins(100), b.LifetimeSpent)
}

func TestTransactionSums_Net(t *testing.T) {
	sums := TransactionSums{Earned: 120, Spent: 45, Count: 7}
	assert.Equal(t, shared.Coins(75), sums.Net())
}
