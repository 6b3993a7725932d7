// Package apptest provides in-memory implementations of the domain
// repository interfaces for application-layer tests. The store behaves
// like the real persistence layer for the semantics the handlers rely
// on: uniqueness constraints, conditional atomic updates, and not-found
// errors. It is not safe for production use.
package apptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// One mutex guards everything. The conditional updates the real schema
// enforces with single SQL statements are check-and-write under that
// mutex here, which preserves their atomicity for concurrent tests.
// ══════════════════════════════════════════════════════════════════════════════

type evidenceKey struct {
	student shared.StudentID
	kind    progress.EvidenceKind
	id      uuid.UUID
}

// EvidenceMeta places an externally graded item in the curriculum so
// week-scoped counts work.
type EvidenceMeta struct {
	CohortID   uuid.UUID
	WeekNumber int
}

// Store is the shared in-memory state behind every fake repository.
type Store struct {
	mu sync.Mutex

	cohorts map[uuid.UUID]*content.Cohort
	weeks   map[uuid.UUID]*content.Week
	modules map[uuid.UUID]*content.Module
	lessons map[uuid.UUID]*content.Lesson
	topics  map[uuid.UUID]*content.Topic

	enrollments map[uuid.UUID]*enrollment.Enrollment
	weekRows    map[uuid.UUID]*enrollment.WeekProgress

	completions map[string]*progress.CompletionRecord

	passed       map[evidenceKey]struct{}
	evidenceMeta map[uuid.UUID]EvidenceMeta

	transactions []*ledger.Transaction
	balances     map[shared.StudentID]*ledger.Balance
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		cohorts:      make(map[uuid.UUID]*content.Cohort),
		weeks:        make(map[uuid.UUID]*content.Week),
		modules:      make(map[uuid.UUID]*content.Module),
		lessons:      make(map[uuid.UUID]*content.Lesson),
		topics:       make(map[uuid.UUID]*content.Topic),
		enrollments:  make(map[uuid.UUID]*enrollment.Enrollment),
		weekRows:     make(map[uuid.UUID]*enrollment.WeekProgress),
		completions:  make(map[string]*progress.CompletionRecord),
		passed:       make(map[evidenceKey]struct{}),
		evidenceMeta: make(map[uuid.UUID]EvidenceMeta),
		balances:     make(map[shared.StudentID]*ledger.Balance),
	}
}

// Repos returns the full transaction-scoped repository set backed by
// this store.
func (s *Store) Repos() command.Repositories {
	return command.Repositories{
		Enrollments:  &enrollmentRepo{s},
		WeekProgress: &weekProgressRepo{s},
		Content:      &contentRepo{s},
		Chains:       &chainResolver{s},
		Completions:  &completionRepo{s},
		Evidence:     &evidenceRepo{s},
		Ledger:       &ledgerRepo{s},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Seeding helpers
// ─────────────────────────────────────────────────────────────────────────────

// AddCohort registers a cohort.
func (s *Store) AddCohort(c *content.Cohort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cohorts[c.ID] = c
}

// AddWeek registers a week.
func (s *Store) AddWeek(w *content.Week) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weeks[w.ID] = w
}

// AddModule registers a module.
func (s *Store) AddModule(m *content.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ID] = m
}

// AddLesson registers a lesson.
func (s *Store) AddLesson(l *content.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.ID] = l
}

// AddTopic registers a topic.
func (s *Store) AddTopic(t *content.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[t.ID] = t
}

// RecordPassed marks an externally graded item as passed for a student.
func (s *Store) RecordPassed(studentID shared.StudentID, kind progress.EvidenceKind, id uuid.UUID, meta EvidenceMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passed[evidenceKey{studentID, kind, id}] = struct{}{}
	s.evidenceMeta[id] = meta
}

// Transactions returns a copy of every appended ledger entry.
func (s *Store) Transactions() []*ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ledger.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Completion returns the stored record for a (student, unit) pair, nil
// when absent.
func (s *Store) Completion(studentID shared.StudentID, unit shared.UnitRef) *progress.CompletionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.completions[completionKey(studentID, unit)]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// WeekRow returns the stored progress row for a (student, week) pair,
// nil when absent.
func (s *Store) WeekRow(studentID shared.StudentID, weekID uuid.UUID) *enrollment.WeekProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.weekRows {
		if row.StudentID == studentID && row.WeekID == weekID {
			clone := *row
			return &clone
		}
	}
	return nil
}

func completionKey(studentID shared.StudentID, unit shared.UnitRef) string {
	return studentID.String() + "|" + unit.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ═══════════════════════════════════════════════════════════════════════════

// UnitOfWork runs the function directly against the store. There is no
// rollback: tests exercising failure paths assert on the reported error,
// not on state reversal.
type UnitOfWork struct {
	store *Store

	// FailWith, when set, makes Do return the error without running fn.
	FailWith error
}

// NewUnitOfWork creates a unit of work over the store.
func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// Do implements command.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos command.Repositories) error) error {
	if u.FailWith != nil {
		return u.FailWith
	}
	return fn(ctx, u.store.Repos())
}

// ═══════════════════════════════════════════════════════════════════════════
// EVENT PUBLISHER
// ═══════════════════════════════════════════════════════════════════════════

// Publisher captures published events for assertions.
type Publisher struct {
	mu     sync.Mutex
	events []shared.Event
}

// NewPublisher creates an empty capturing publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish implements shared.EventPublisher.
func (p *Publisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns every captured event.
func (p *Publisher) Events() []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsOfType returns captured events of one type.
func (p *Publisher) EventsOfType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// CONTENT REPOSITORY
// ═══════════════════════════════════════════════════════════════════════════

type contentRepo struct{ s *Store }

func (r *contentRepo) GetCohort(_ context.Context, id uuid.UUID) (*content.Cohort, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cohorts[id]
	if !ok {
		return nil, shared.ErrCohortNotFound
	}
	return c, nil
}

func (r *contentRepo) ListCohorts(_ context.Context) ([]*content.Cohort, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cohorts := make([]*content.Cohort, 0, len(r.s.cohorts))
	for _, c := range r.s.cohorts {
		cohorts = append(cohorts, c)
	}
	sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].StartDate.Before(cohorts[j].StartDate) })
	return cohorts, nil
}

func (r *contentRepo) GetWeek(_ context.Context, id uuid.UUID) (*content.Week, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.weeks[id]
	if !ok {
		return nil, shared.ErrWeekNotFound
	}
	return w, nil
}

func (r *contentRepo) GetWeekByNumber(_ context.Context, cohortID uuid.UUID, number int) (*content.Week, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.weeks {
		if w.CohortID == cohortID && w.Number == number {
			return w, nil
		}
	}
	return nil, shared.ErrWeekNotFound
}

func (r *contentRepo) ListWeeks(_ context.Context, cohortID uuid.UUID) ([]*content.Week, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*content.Week
	for _, w := range r.s.weeks {
		if w.CohortID == cohortID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *contentRepo) CountWeeks(ctx context.Context, cohortID uuid.UUID) (int, error) {
	weeks, err := r.ListWeeks(ctx, cohortID)
	if err != nil {
		return 0, err
	}
	return len(weeks), nil
}

func (r *contentRepo) GetModule(_ context.Context, id uuid.UUID) (*content.Module, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.modules[id]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	return m, nil
}

func (r *contentRepo) ListModules(_ context.Context, weekID uuid.UUID) ([]*content.Module, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*content.Module
	for _, m := range r.s.modules {
		if m.WeekID == weekID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *contentRepo) GetLesson(_ context.Context, id uuid.UUID) (*content.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.lessons[id]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	return l, nil
}

func (r *contentRepo) ListLessons(_ context.Context, moduleID uuid.UUID) ([]*content.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*content.Lesson
	for _, l := range r.s.lessons {
		if l.ModuleID == moduleID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *contentRepo) GetTopic(_ context.Context, id uuid.UUID) (*content.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	return t, nil
}

func (r *contentRepo) ListTopics(_ context.Context, lessonID uuid.UUID) ([]*content.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*content.Topic
	for _, t := range r.s.topics {
		if t.LessonID == lessonID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// CHAIN RESOLVER
// ═══════════════════════════════════════════════════════════════════════════

type chainResolver struct{ s *Store }

func (r *chainResolver) ResolveTopicChain(_ context.Context, topicID uuid.UUID) (*content.Chain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	topic, ok := r.s.topics[topicID]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	chain, err := r.lessonChainLocked(topic.LessonID)
	if err != nil {
		return nil, err
	}
	chain.Topic = topic
	return chain, nil
}

func (r *chainResolver) ResolveLessonChain(_ context.Context, lessonID uuid.UUID) (*content.Chain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.lessonChainLocked(lessonID)
}

func (r *chainResolver) ResolveModuleChain(_ context.Context, moduleID uuid.UUID) (*content.Chain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.moduleChainLocked(moduleID)
}

func (r *chainResolver) lessonChainLocked(lessonID uuid.UUID) (*content.Chain, error) {
	lesson, ok := r.s.lessons[lessonID]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	chain, err := r.moduleChainLocked(lesson.ModuleID)
	if err != nil {
		return nil, err
	}
	chain.Lesson = lesson
	return chain, nil
}

func (r *chainResolver) moduleChainLocked(moduleID uuid.UUID) (*content.Chain, error) {
	module, ok := r.s.modules[moduleID]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	week, ok := r.s.weeks[module.WeekID]
	if !ok {
		return nil, shared.ErrWeekNotFound
	}
	cohort, ok := r.s.cohorts[week.CohortID]
	if !ok {
		return nil, shared.ErrCohortNotFound
	}
	return &content.Chain{Cohort: cohort, Week: week, Module: module}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORIES
// ═══════════════════════════════════════════════════════════════════════════

type enrollmentRepo struct{ s *Store }

func (r *enrollmentRepo) Create(_ context.Context, e *enrollment.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.enrollments {
		if existing.StudentID == e.StudentID && existing.CohortID == e.CohortID {
			return shared.ErrEnrollmentExists
		}
	}
	clone := *e
	r.s.enrollments[e.ID] = &clone
	return nil
}

func (r *enrollmentRepo) GetByID(_ context.Context, id uuid.UUID) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	clone := *e
	return &clone, nil
}

func (r *enrollmentRepo) GetByStudentAndCohort(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID) (*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.enrollments {
		if e.StudentID == studentID && e.CohortID == cohortID {
			clone := *e
			return &clone, nil
		}
	}
	return nil, shared.ErrEnrollmentNotFound
}

func (r *enrollmentRepo) Update(_ context.Context, e *enrollment.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.enrollments[e.ID]; !ok {
		return shared.ErrEnrollmentNotFound
	}
	clone := *e
	r.s.enrollments[e.ID] = &clone
	return nil
}

func (r *enrollmentRepo) ListByCohort(_ context.Context, cohortID uuid.UUID) ([]*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*enrollment.Enrollment
	for _, e := range r.s.enrollments {
		if e.CohortID == cohortID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *enrollmentRepo) ListByStudent(_ context.Context, studentID shared.StudentID) ([]*enrollment.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*enrollment.Enrollment
	for _, e := range r.s.enrollments {
		if e.StudentID == studentID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

type weekProgressRepo struct{ s *Store }

func (r *weekProgressRepo) CreateBatch(_ context.Context, rows []*enrollment.WeekProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range rows {
		clone := *row
		r.s.weekRows[row.ID] = &clone
	}
	return nil
}

func (r *weekProgressRepo) Get(_ context.Context, studentID shared.StudentID, weekID uuid.UUID) (*enrollment.WeekProgress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.getLocked(studentID, weekID)
}

func (r *weekProgressRepo) getLocked(studentID shared.StudentID, weekID uuid.UUID) (*enrollment.WeekProgress, error) {
	for _, row := range r.s.weekRows {
		if row.StudentID == studentID && row.WeekID == weekID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, shared.ErrWeekProgressNotFound
}

func (r *weekProgressRepo) GetByNumber(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID, weekNumber int) (*enrollment.WeekProgress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range r.s.weekRows {
		if row.StudentID == studentID && row.CohortID == cohortID && row.WeekNumber == weekNumber {
			clone := *row
			return &clone, nil
		}
	}
	return nil, shared.ErrWeekProgressNotFound
}

func (r *weekProgressRepo) Update(_ context.Context, wp *enrollment.WeekProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.weekRows[wp.ID]; !ok {
		return shared.ErrWeekProgressNotFound
	}
	clone := *wp
	r.s.weekRows[wp.ID] = &clone
	return nil
}

func (r *weekProgressRepo) ListByStudent(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*enrollment.WeekProgress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*enrollment.WeekProgress
	for _, row := range r.s.weekRows {
		if row.StudentID == studentID && row.CohortID == cohortID {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekNumber < out[j].WeekNumber })
	return out, nil
}

func (r *weekProgressRepo) MarkWeekCompleted(_ context.Context, studentID shared.StudentID, weekID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range r.s.weekRows {
		if row.StudentID == studentID && row.WeekID == weekID {
			if row.CompletedAt != nil {
				return false, nil
			}
			now := time.Now().UTC()
			row.CompletedAt = &now
			row.CompletionPercentage = shared.PercentageComplete
			return true, nil
		}
	}
	return false, shared.ErrWeekProgressNotFound
}

func (r *weekProgressRepo) CountCompletedByCohort(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, row := range r.s.weekRows {
		if row.StudentID == studentID && row.CohortID == cohortID && row.CompletedAt != nil {
			count++
		}
	}
	return count, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// COMPLETION & EVIDENCE REPOSITORIES
// ═══════════════════════════════════════════════════════════════════════════

type completionRepo struct{ s *Store }

func (r *completionRepo) Create(_ context.Context, rec *progress.CompletionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := completionKey(rec.StudentID, rec.Unit)
	if _, ok := r.s.completions[key]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.completions[key] = rec.Clone()
	return nil
}

func (r *completionRepo) Get(_ context.Context, studentID shared.StudentID, unit shared.UnitRef) (*progress.CompletionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.completions[completionKey(studentID, unit)]
	if !ok {
		return nil, shared.ErrCompletionNotFound
	}
	return rec.Clone(), nil
}

func (r *completionRepo) Update(_ context.Context, rec *progress.CompletionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := completionKey(rec.StudentID, rec.Unit)
	if _, ok := r.s.completions[key]; !ok {
		return shared.ErrCompletionNotFound
	}
	r.s.completions[key] = rec.Clone()
	return nil
}

func (r *completionRepo) MarkCompleted(_ context.Context, rec *progress.CompletionRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := completionKey(rec.StudentID, rec.Unit)
	existing, ok := r.s.completions[key]
	if !ok {
		return false, shared.ErrCompletionNotFound
	}
	if existing.IsCompleted() {
		return false, nil
	}
	r.s.completions[key] = rec.Clone()
	return true, nil
}

func (r *completionRepo) Delete(_ context.Context, studentID shared.StudentID, unit shared.UnitRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := completionKey(studentID, unit)
	if _, ok := r.s.completions[key]; !ok {
		return shared.ErrCompletionNotFound
	}
	delete(r.s.completions, key)
	return nil
}

func (r *completionRepo) CountCompletedTopics(_ context.Context, studentID shared.StudentID, lessonID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, rec := range r.s.completions {
		if rec.StudentID != studentID || rec.Unit.Kind != shared.UnitTopic || !rec.IsCompleted() {
			continue
		}
		if topic, ok := r.s.topics[rec.Unit.ID]; ok && topic.LessonID == lessonID {
			count++
		}
	}
	return count, nil
}

func (r *completionRepo) CountCompletedLessons(_ context.Context, studentID shared.StudentID, moduleID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, rec := range r.s.completions {
		if rec.StudentID != studentID || rec.Unit.Kind != shared.UnitLesson || !rec.IsCompleted() {
			continue
		}
		if lesson, ok := r.s.lessons[rec.Unit.ID]; ok && lesson.ModuleID == moduleID {
			count++
		}
	}
	return count, nil
}

func (r *completionRepo) CountCompletedModules(_ context.Context, studentID shared.StudentID, weekID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, rec := range r.s.completions {
		if rec.StudentID != studentID || rec.Unit.Kind != shared.UnitModule || !rec.IsCompleted() {
			continue
		}
		if module, ok := r.s.modules[rec.Unit.ID]; ok && module.WeekID == weekID {
			count++
		}
	}
	return count, nil
}

func (r *completionRepo) CountCompletedByKind(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID, kind shared.UnitKind, weekNumber int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, rec := range r.s.completions {
		if rec.StudentID != studentID || rec.Unit.Kind != kind || !rec.IsCompleted() {
			continue
		}
		week, ok := r.unitWeekLocked(rec.Unit)
		if !ok || week.CohortID != cohortID {
			continue
		}
		if weekNumber != 0 && week.Number != weekNumber {
			continue
		}
		count++
	}
	return count, nil
}

func (r *completionRepo) ListByStudent(_ context.Context, studentID shared.StudentID, cohortID uuid.UUID, limit int) ([]*progress.CompletionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*progress.CompletionRecord
	for _, rec := range r.s.completions {
		if rec.StudentID != studentID {
			continue
		}
		if week, ok := r.unitWeekLocked(rec.Unit); !ok || week.CohortID != cohortID {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// unitWeekLocked walks a unit up to its week.
func (r *completionRepo) unitWeekLocked(unit shared.UnitRef) (*content.Week, bool) {
	var weekID uuid.UUID
	switch unit.Kind {
	case shared.UnitTopic:
		topic, ok := r.s.topics[unit.ID]
		if !ok {
			return nil, false
		}
		lesson, ok := r.s.lessons[topic.LessonID]
		if !ok {
			return nil, false
		}
		module, ok := r.s.modules[lesson.ModuleID]
		if !ok {
			return nil, false
		}
		weekID = module.WeekID
	case shared.UnitLesson:
		lesson, ok := r.s.lessons[unit.ID]
		if !ok {
			return nil, false
		}
		module, ok := r.s.modules[lesson.ModuleID]
		if !ok {
			return nil, false
		}
		weekID = module.WeekID
	case shared.UnitModule:
		module, ok := r.s.modules[unit.ID]
		if !ok {
			return nil, false
		}
		weekID = module.WeekID
	default:
		return nil, false
	}
	week, ok := r.s.weeks[weekID]
	return week, ok
}

type evidenceRepo struct{ s *Store }

func (r *evidenceRepo) CountPassed(_ context.Context, studentID shared.StudentID, kind progress.EvidenceKind, ids []uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, id := range ids {
		if _, ok := r.s.passed[evidenceKey{studentID, kind, id}]; ok {
			count++
		}
	}
	return count, nil
}

func (r *evidenceRepo) CountPassedByWeek(_ context.Context, studentID shared.StudentID, kind progress.EvidenceKind, cohortID uuid.UUID, weekNumber int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for key := range r.s.passed {
		if key.student != studentID || key.kind != kind {
			continue
		}
		meta, ok := r.s.evidenceMeta[key.id]
		if !ok || meta.CohortID != cohortID {
			continue
		}
		if weekNumber != 0 && meta.WeekNumber != weekNumber {
			continue
		}
		count++
	}
	return count, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY
// ═══════════════════════════════════════════════════════════════════════════

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Append(_ context.Context, tx *ledger.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *tx
	r.s.transactions = append(r.s.transactions, &clone)
	return nil
}

func (r *ledgerRepo) AppendEarned(_ context.Context, tx *ledger.Transaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.transactions {
		if existing.Type == ledger.TypeEarned &&
			existing.StudentID == tx.StudentID &&
			existing.Source.Type == tx.Source.Type &&
			existing.Source.ID == tx.Source.ID {
			return false, nil
		}
	}
	clone := *tx
	r.s.transactions = append(r.s.transactions, &clone)
	return true, nil
}

func (r *ledgerRepo) GetEarnedBySource(_ context.Context, studentID shared.StudentID, source ledger.Source) (*ledger.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tx := range r.s.transactions {
		if tx.Type == ledger.TypeEarned && tx.StudentID == studentID &&
			tx.Source.Type == source.Type && tx.Source.ID == source.ID {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (r *ledgerRepo) GetByID(_ context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tx := range r.s.transactions {
		if tx.ID == id {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (r *ledgerRepo) ListByStudent(_ context.Context, studentID shared.StudentID, limit, offset int) ([]*ledger.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*ledger.Transaction
	for i := len(r.s.transactions) - 1; i >= 0; i-- {
		if r.s.transactions[i].StudentID == studentID {
			clone := *r.s.transactions[i]
			out = append(out, &clone)
		}
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ledgerRepo) SumByStudent(_ context.Context, studentID shared.StudentID) (ledger.TransactionSums, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sums ledger.TransactionSums
	for _, tx := range r.s.transactions {
		if tx.StudentID != studentID {
			continue
		}
		sums.Count++
		if tx.Amount > 0 {
			sums.Earned += tx.Amount
		} else {
			sums.Spent += tx.Amount.Abs()
		}
	}
	return sums, nil
}

func (r *ledgerRepo) ListActiveStudents(_ context.Context, since time.Time) ([]shared.StudentID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[shared.StudentID]struct{})
	var out []shared.StudentID
	for _, tx := range r.s.transactions {
		if tx.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[tx.StudentID]; ok {
			continue
		}
		seen[tx.StudentID] = struct{}{}
		out = append(out, tx.StudentID)
	}
	return out, nil
}

func (r *ledgerRepo) GetBalance(_ context.Context, studentID shared.StudentID) (*ledger.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.balances[studentID]
	if !ok {
		return nil, shared.ErrBalanceNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *ledgerRepo) ApplyCredit(_ context.Context, studentID shared.StudentID, amount shared.Coins) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.balanceLocked(studentID)
	b.TotalBalance += amount
	b.LifetimeEarned += amount
	return nil
}

func (r *ledgerRepo) ApplyDebit(_ context.Context, studentID shared.StudentID, amount shared.Coins) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.balanceLocked(studentID)
	if b.TotalBalance < amount {
		return false, nil
	}
	b.TotalBalance -= amount
	b.LifetimeSpent += amount
	return true, nil
}

func (r *ledgerRepo) ApplyDebitClamped(_ context.Context, studentID shared.StudentID, amount shared.Coins) (shared.Coins, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.balanceLocked(studentID)
	taken := amount
	if b.TotalBalance < taken {
		taken = b.TotalBalance
	}
	if taken < 0 {
		taken = 0
	}
	b.TotalBalance -= taken
	b.LifetimeSpent += taken
	return taken, nil
}

func (r *ledgerRepo) ApplyAdjustment(_ context.Context, studentID shared.StudentID, delta shared.Coins) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.balanceLocked(studentID)
	b.TotalBalance += delta
	if delta > 0 {
		b.LifetimeEarned += delta
	} else {
		b.LifetimeSpent += delta.Abs()
	}
	return nil
}

func (r *ledgerRepo) OverwriteBalance(_ context.Context, balance *ledger.Balance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *balance
	r.s.balances[balance.StudentID] = &clone
	return nil
}

func (r *ledgerRepo) balanceLocked(studentID shared.StudentID) *ledger.Balance {
	b, ok := r.s.balances[studentID]
	if !ok {
		b = ledger.NewBalance(studentID)
		r.s.balances[studentID] = b
	}
	return b
}
