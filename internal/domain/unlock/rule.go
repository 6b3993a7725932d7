// Package unlock contains the week gating rules and their evaluator.
// The evaluator is pure: it works on a snapshot of student state and
// never touches storage, which keeps it trivially testable.
package unlock

import (
	"encoding/json"
	"fmt"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CRITERION TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CompletionType identifies what kind of completed work a requirement counts.
type CompletionType string

const (
	// CompletionTopics counts completed topics.
	CompletionTopics CompletionType = "topics"
	// CompletionLessons counts completed lessons.
	CompletionLessons CompletionType = "lessons"
	// CompletionModules counts completed modules.
	CompletionModules CompletionType = "modules"
	// CompletionQuizzes counts passed quiz attempts.
	CompletionQuizzes CompletionType = "quizzes"
	// CompletionAssignments counts approved assignment submissions.
	CompletionAssignments CompletionType = "assignments"
	// CompletionLiveClasses counts attended live sessions.
	CompletionLiveClasses CompletionType = "live_classes"
)

// IsValid reports whether the completion type is one the evaluator knows
// how to count.
func (t CompletionType) IsValid() bool {
	switch t {
	case CompletionTopics, CompletionLessons, CompletionModules,
		CompletionQuizzes, CompletionAssignments, CompletionLiveClasses:
		return true
	default:
		return false
	}
}

// CompletionRequirement is one entry of the required_completions criterion.
type CompletionRequirement struct {
	// Type - what kind of completion to count.
	Type CompletionType `json:"type"`

	// Count - how many completions of that type are required.
	Count int `json:"count"`

	// WeekNumber optionally scopes counting to a specific week.
	// Zero means count across the whole cohort.
	WeekNumber int `json:"week_number,omitempty"`
}

// String returns a short human-readable description of the requirement.
func (r CompletionRequirement) String() string {
	if r.WeekNumber > 0 {
		return fmt.Sprintf("%d %s in week %d", r.Count, r.Type, r.WeekNumber)
	}
	return fmt.Sprintf("%d %s", r.Count, r.Type)
}

// ══════════════════════════════════════════════════════════════════════════════
// RULE SET
// ══════════════════════════════════════════════════════════════════════════════

// RuleSet is the structured gating configuration embedded on a week.
// Every configured criterion must hold for the week to unlock (logical AND).
// Criterion types the engine does not recognize are retained in
// UnknownCriteria and treated as satisfied, so newer content configurations
// degrade gracefully on older engine versions.
type RuleSet struct {
	// MinCoins - required coin balance. Zero means no coin requirement.
	MinCoins int64

	// RequiredCompletions - completion count requirements, all must hold.
	RequiredCompletions []CompletionRequirement

	// MinPreviousWeekProgress - minimum completion percentage of the
	// previous week. Zero means no percentage requirement beyond the
	// implicit previous-week-completed precondition.
	MinPreviousWeekProgress float64

	// DripDays - days after the cohort start date before the week becomes
	// eligible. Zero disables the drip criterion entirely.
	DripDays int

	// UnknownCriteria - criterion keys present in the stored document that
	// this engine version does not recognize.
	UnknownCriteria []string
}

// knownRuleKeys are the criterion keys this engine version evaluates.
var knownRuleKeys = map[string]struct{}{
	"min_coins":                  {},
	"required_completions":       {},
	"min_previous_week_progress": {},
	"drip_days":                  {},
}

// ruleDocument mirrors the stored JSON shape of a rule set.
type ruleDocument struct {
	MinCoins                int64                   `json:"min_coins,omitempty"`
	RequiredCompletions     []CompletionRequirement `json:"required_completions,omitempty"`
	MinPreviousWeekProgress float64                 `json:"min_previous_week_progress,omitempty"`
	DripDays                int                     `json:"drip_days,omitempty"`
}

// ParseRuleSet decodes a stored rule document. Unrecognized top-level keys
// and completion requirements with an unrecognized type are collected as
// unknown criteria rather than rejected, so a document authored for a newer
// engine version stays readable. An empty or null document yields an empty
// rule set.
func ParseRuleSet(raw []byte) (RuleSet, error) {
	if len(raw) == 0 {
		return RuleSet{}, nil
	}

	var doc ruleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RuleSet{}, shared.WrapError("unlock", "ParseRuleSet", shared.ErrInvalidInput, "malformed unlock rule document", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return RuleSet{}, shared.WrapError("unlock", "ParseRuleSet", shared.ErrInvalidInput, "unlock rule document must be an object", err)
	}

	rules := RuleSet{
		MinCoins:                doc.MinCoins,
		MinPreviousWeekProgress: doc.MinPreviousWeekProgress,
		DripDays:                doc.DripDays,
	}

	for _, req := range doc.RequiredCompletions {
		if !req.Type.IsValid() {
			rules.UnknownCriteria = append(rules.UnknownCriteria, "required_completions."+string(req.Type))
			continue
		}
		rules.RequiredCompletions = append(rules.RequiredCompletions, req)
	}

	for key := range keys {
		if _, known := knownRuleKeys[key]; !known {
			rules.UnknownCriteria = append(rules.UnknownCriteria, key)
		}
	}

	if err := rules.Validate(); err != nil {
		return RuleSet{}, err
	}

	return rules, nil
}

// MarshalDocument encodes the rule set back into its stored JSON shape.
// Unknown criteria are dropped; only content editors author rule documents,
// the engine never writes them back in normal operation.
func (r RuleSet) MarshalDocument() ([]byte, error) {
	doc := ruleDocument{
		MinCoins:                r.MinCoins,
		RequiredCompletions:     r.RequiredCompletions,
		MinPreviousWeekProgress: r.MinPreviousWeekProgress,
		DripDays:                r.DripDays,
	}
	return json.Marshal(doc)
}

// Validate checks the rule set for structurally invalid criteria.
func (r RuleSet) Validate() error {
	if r.MinCoins < 0 {
		return shared.NewDomainError("unlock", "Validate", shared.ErrValidation, "min_coins must be non-negative")
	}
	if r.MinPreviousWeekProgress < 0 || r.MinPreviousWeekProgress > 100 {
		return shared.NewDomainError("unlock", "Validate", shared.ErrValidation, "min_previous_week_progress must be within [0,100]")
	}
	if r.DripDays < 0 {
		return shared.NewDomainError("unlock", "Validate", shared.ErrValidation, "drip_days must be non-negative")
	}
	for _, req := range r.RequiredCompletions {
		if !req.Type.IsValid() {
			return shared.NewDomainError("unlock", "Validate", shared.ErrValidation,
				fmt.Sprintf("unknown completion type %q", req.Type))
		}
		if req.Count <= 0 {
			return shared.NewDomainError("unlock", "Validate", shared.ErrValidation, "completion requirement count must be positive")
		}
		if req.WeekNumber < 0 {
			return shared.NewDomainError("unlock", "Validate", shared.ErrValidation, "completion requirement week_number must be non-negative")
		}
	}
	return nil
}

// IsEmpty reports whether the rule set has no configured criteria.
// An empty rule set means the week unlocks as soon as the previous week
// is completed.
func (r RuleSet) IsEmpty() bool {
	return r.MinCoins == 0 &&
		len(r.RequiredCompletions) == 0 &&
		r.MinPreviousWeekProgress == 0 &&
		r.DripDays == 0
}
