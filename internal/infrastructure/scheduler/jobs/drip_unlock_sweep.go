// Package jobs contains the scheduled maintenance jobs for the progression
// engine: the drip unlock sweep and the ledger reconciliation sweep. Both
// call the same command handlers the synchronous API uses, so a job run is
// just another caller.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DRIP UNLOCK SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// DripUnlockSweepJob walks every active cohort and attempts to unlock weeks
// whose drip day has arrived for students who are otherwise eligible. The
// unlock handler re-evaluates the full rule set per student, so the sweep
// never unlocks a week the student could not unlock themselves; it only
// saves them the explicit call.
type DripUnlockSweepJob struct {
	contentRepo  content.Repository
	enrollments  enrollment.Repository
	weekProgress enrollment.WeekProgressRepository
	unlocker     *command.UnlockWeekHandler
	logger       *slog.Logger

	config DripUnlockSweepConfig
}

// DripUnlockSweepConfig contains configuration for the sweep.
type DripUnlockSweepConfig struct {
	// Concurrency is the number of students processed in parallel.
	Concurrency int

	// Timeout is the maximum duration for the entire sweep.
	Timeout time.Duration
}

// DefaultDripUnlockSweepConfig returns sensible defaults.
func DefaultDripUnlockSweepConfig() DripUnlockSweepConfig {
	return DripUnlockSweepConfig{
		Concurrency: 5,
		Timeout:     10 * time.Minute,
	}
}

// DripSweepStats contains counters from a sweep run.
type DripSweepStats struct {
	CohortsSwept    int
	StudentsChecked int64
	Unlocked        int64
	Denied          int64
	Failed          int64
}

// NewDripUnlockSweepJob creates a new drip unlock sweep job.
func NewDripUnlockSweepJob(
	contentRepo content.Repository,
	enrollments enrollment.Repository,
	weekProgress enrollment.WeekProgressRepository,
	unlocker *command.UnlockWeekHandler,
	logger *slog.Logger,
	config DripUnlockSweepConfig,
) *DripUnlockSweepJob {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultDripUnlockSweepConfig().Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDripUnlockSweepConfig().Timeout
	}

	return &DripUnlockSweepJob{
		contentRepo:  contentRepo,
		enrollments:  enrollments,
		weekProgress: weekProgress,
		unlocker:     unlocker,
		logger:       logger,
		config:       config,
	}
}

// Name returns the job name.
func (j *DripUnlockSweepJob) Name() string {
	return "drip_unlock_sweep"
}

// Description returns a human-readable description.
func (j *DripUnlockSweepJob) Description() string {
	return "Unlocks weeks whose drip day has arrived for eligible students"
}

// Run executes the sweep across all active cohorts.
func (j *DripUnlockSweepJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	now := time.Now().UTC()

	cohorts, err := j.contentRepo.ListCohorts(ctx)
	if err != nil {
		return fmt.Errorf("drip sweep: list cohorts: %w", err)
	}

	var stats DripSweepStats
	for _, cohort := range cohorts {
		if cohort.Status != content.CohortStatusActive {
			continue
		}
		if err := j.sweepCohort(ctx, cohort, now, &stats); err != nil {
			return err
		}
		stats.CohortsSwept++
	}

	j.logger.Info("drip unlock sweep finished",
		"cohorts", stats.CohortsSwept,
		"students", stats.StudentsChecked,
		"unlocked", stats.Unlocked,
		"denied", stats.Denied,
		"failed", stats.Failed,
	)

	if stats.Failed > 0 {
		return fmt.Errorf("drip sweep: %d unlock attempts failed", stats.Failed)
	}
	return nil
}

func (j *DripUnlockSweepJob) sweepCohort(ctx context.Context, cohort *content.Cohort, now time.Time, stats *DripSweepStats) error {
	weeks, err := j.contentRepo.ListWeeks(ctx, cohort.ID)
	if err != nil {
		return fmt.Errorf("drip sweep: list weeks for cohort %s: %w", cohort.ID, err)
	}

	// Only weeks gated by a drip criterion whose day has arrived are worth
	// attempting; everything else is unlocked by the student's own activity.
	due := weeks[:0:0]
	for _, w := range weeks {
		if w.UnlockRules.DripDays == 0 {
			continue
		}
		if timeutil.HasDripElapsed(cohort.StartDate, w.UnlockRules.DripDays, now) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}

	enrollments, err := j.enrollments.ListByCohort(ctx, cohort.ID)
	if err != nil {
		return fmt.Errorf("drip sweep: list enrollments for cohort %s: %w", cohort.ID, err)
	}

	sem := make(chan struct{}, j.config.Concurrency)
	var wg sync.WaitGroup

	for _, enr := range enrollments {
		if !enr.Status.CanProgress() {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(enr *enrollment.Enrollment) {
			defer wg.Done()
			defer func() { <-sem }()
			j.sweepStudent(ctx, enr, due, stats)
		}(enr)
	}

	wg.Wait()
	return ctx.Err()
}

func (j *DripUnlockSweepJob) sweepStudent(ctx context.Context, enr *enrollment.Enrollment, due []*content.Week, stats *DripSweepStats) {
	atomic.AddInt64(&stats.StudentsChecked, 1)

	rows, err := j.weekProgress.ListByStudent(ctx, enr.StudentID, enr.CohortID)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		j.logger.Error("drip sweep: load progress rows",
			"student_id", enr.StudentID.String(),
			"cohort_id", enr.CohortID.String(),
			"error", err,
		)
		return
	}

	locked := make(map[string]bool, len(rows))
	for _, row := range rows {
		locked[row.WeekID.String()] = !row.IsUnlocked
	}

	for _, week := range due {
		if !locked[week.ID.String()] {
			continue
		}

		_, err := j.unlocker.Handle(ctx, command.UnlockWeekCommand{
			StudentID: enr.StudentID,
			WeekID:    week.ID,
		})
		switch {
		case err == nil:
			atomic.AddInt64(&stats.Unlocked, 1)
		case shared.IsUnlockDenied(err):
			// Drip day arrived but another criterion still blocks this
			// student. Expected, not an error.
			atomic.AddInt64(&stats.Denied, 1)
		default:
			atomic.AddInt64(&stats.Failed, 1)
			j.logger.Error("drip sweep: unlock attempt failed",
				"student_id", enr.StudentID.String(),
				"week_number", week.Number,
				"error", err,
			)
		}
	}
}
