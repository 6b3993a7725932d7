// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"

	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// Every state-changing operation runs inside one database transaction so
// the triggering fact and its derived writes commit atomically.
// ══════════════════════════════════════════════════════════════════════════════

// Repositories is the transaction-scoped repository set handed to the
// function a UnitOfWork executes. All repositories share one transaction;
// an error from the function rolls back everything.
type Repositories struct {
	Enrollments  enrollment.Repository
	WeekProgress enrollment.WeekProgressRepository
	Content      content.Repository
	Chains       content.ChainResolver
	Completions  progress.Repository
	Evidence     progress.EvidenceRepository
	Ledger       ledger.Repository
}

// UnitOfWork executes a function within a single database transaction.
type UnitOfWork interface {
	// Do begins a transaction, runs fn with transaction-scoped
	// repositories, and commits. Any error from fn rolls the whole
	// transaction back and is returned unchanged.
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
