// Package status is the authoritative workflow state machine. All project
// status reads resolve legacy aliases here, and all transitions go through
// Next so the two review phases cannot drift apart.
package status

import (
	"errors"
	"fmt"
)

// Status represents the production lifecycle of a project.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusAwaitingManuscript Status = "awaiting_manuscript"

	// Character phase.
	StatusCharactersGenerating      Status = "characters_generating"
	StatusCharactersGenerated       Status = "characters_generated"
	StatusCharacterGenerationFailed Status = "character_generation_failed"
	StatusCharacterReview           Status = "character_review"
	StatusCharacterRevision         Status = "character_revision"
	StatusCharactersApproved        Status = "characters_approved"

	// Illustration phase.
	StatusSketchesGenerating     Status = "sketches_generating"
	StatusSketchGenerationFailed Status = "sketch_generation_failed"
	StatusSketchesReview         Status = "sketches_review"
	StatusSketchesRevision       Status = "sketches_revision"
	StatusIllustrationsApproved  Status = "illustrations_approved"

	StatusCompleted Status = "completed"
)

// legacyAliases maps statuses from the retired trial-page workflow onto the
// current enumeration. Aliases are accepted as input during the migration
// window but never produced by a transition.
var legacyAliases = map[Status]Status{
	"new":            StatusDraft,
	"pending_upload": StatusAwaitingManuscript,
	"trial_review":   StatusCharacterReview,
	"trial_revision": StatusCharacterRevision,
	"trial_approved": StatusCharactersApproved,
	"in_progress":    StatusSketchesGenerating,
	"done":           StatusCompleted,
}

var canonical = map[Status]bool{
	StatusDraft:                     true,
	StatusAwaitingManuscript:        true,
	StatusCharactersGenerating:      true,
	StatusCharactersGenerated:       true,
	StatusCharacterGenerationFailed: true,
	StatusCharacterReview:           true,
	StatusCharacterRevision:         true,
	StatusCharactersApproved:        true,
	StatusSketchesGenerating:        true,
	StatusSketchGenerationFailed:    true,
	StatusSketchesReview:            true,
	StatusSketchesRevision:          true,
	StatusIllustrationsApproved:     true,
	StatusCompleted:                 true,
}

// Canonical resolves a legacy alias to its current status. Canonical
// statuses pass through unchanged.
func Canonical(s Status) Status {
	if mapped, ok := legacyAliases[s]; ok {
		return mapped
	}
	return s
}

// Valid reports whether s is a canonical status or a known legacy alias.
func Valid(s Status) bool {
	return canonical[Canonical(s)]
}

// IsLegacy reports whether s is a retired alias.
func IsLegacy(s Status) bool {
	_, ok := legacyAliases[s]
	return ok
}

// Aliases returns the legacy statuses that resolve to s. Used by the store
// so conditional status updates still match rows written before the
// migration.
func Aliases(s Status) []Status {
	var out []Status
	for alias, target := range legacyAliases {
		if target == s {
			out = append(out, alias)
		}
	}
	return out
}

// All returns every canonical status. Order is chronological.
func All() []Status {
	return []Status{
		StatusDraft,
		StatusAwaitingManuscript,
		StatusCharactersGenerating,
		StatusCharactersGenerated,
		StatusCharacterGenerationFailed,
		StatusCharacterReview,
		StatusCharacterRevision,
		StatusCharactersApproved,
		StatusSketchesGenerating,
		StatusSketchGenerationFailed,
		StatusSketchesReview,
		StatusSketchesRevision,
		StatusIllustrationsApproved,
		StatusCompleted,
	}
}

type EventKind string

const (
	EventManuscriptSubmitted         EventKind = "manuscript_submitted"
	EventCharacterBatchCompleted     EventKind = "character_batch_completed"
	EventSketchBatchCompleted        EventKind = "sketch_batch_completed"
	EventCharactersSent              EventKind = "characters_sent"
	EventIllustrationsSent           EventKind = "illustrations_sent"
	EventCharacterReviewSubmitted    EventKind = "character_review_submitted"
	EventIllustrationReviewSubmitted EventKind = "illustration_review_submitted"
	EventProjectCompleted            EventKind = "project_completed"
)

// Event is an incoming workflow event. Only the fields relevant to the
// event's kind are consulted.
type Event struct {
	Kind EventKind

	// Batch completion counts.
	Succeeded int
	Failed    int

	// Character review inputs.
	MissingImages      bool
	UnresolvedFeedback bool

	// The phase's send counter at the time the event fires. Distinguishes
	// first-pass outcomes from revision rounds.
	SendCount int
}

// accepted lists the statuses each event may fire from. Events arriving in
// any other status are rejected; this covers the other phase's states too,
// since the two phases share the status field.
var accepted = map[EventKind][]Status{
	EventManuscriptSubmitted:         {StatusDraft, StatusAwaitingManuscript},
	EventCharacterBatchCompleted:     {StatusCharactersGenerating},
	EventSketchBatchCompleted:        {StatusSketchesGenerating},
	EventCharactersSent:              {StatusCharactersGenerated, StatusCharacterRevision},
	EventIllustrationsSent:           {StatusSketchesReview, StatusSketchesRevision},
	EventCharacterReviewSubmitted:    {StatusCharacterReview, StatusCharacterRevision},
	EventIllustrationReviewSubmitted: {StatusSketchesReview, StatusSketchesRevision},
	EventProjectCompleted:            {StatusIllustrationsApproved},
}

var ErrUnknownStatus = errors.New("unknown status")

// InvalidTransitionError reports an event fired from a status outside its
// accepted set.
type InvalidTransitionError struct {
	From  Status
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not accepted from status %s", e.Event, e.From)
}

// Next computes the status that follows cur when ev fires. The current
// status is alias-resolved first; the returned status is always canonical.
// Same inputs always produce the same output.
func Next(cur Status, ev Event) (Status, error) {
	cur = Canonical(cur)
	if !canonical[cur] {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, cur)
	}

	ok := false
	for _, s := range accepted[ev.Kind] {
		if s == cur {
			ok = true
			break
		}
	}
	if !ok {
		return "", &InvalidTransitionError{From: cur, Event: ev.Kind}
	}

	switch ev.Kind {
	case EventManuscriptSubmitted:
		return StatusCharactersGenerating, nil

	case EventCharacterBatchCompleted:
		if ev.Failed > 0 {
			return StatusCharacterGenerationFailed, nil
		}
		return StatusCharactersGenerated, nil

	case EventSketchBatchCompleted:
		if ev.Failed > 0 {
			return StatusSketchGenerationFailed, nil
		}
		return StatusSketchesReview, nil

	case EventCharactersSent:
		return StatusCharacterReview, nil

	case EventIllustrationsSent:
		return StatusSketchesReview, nil

	case EventCharacterReviewSubmitted:
		return characterReviewOutcome(ev), nil

	case EventIllustrationReviewSubmitted:
		if ev.UnresolvedFeedback {
			if ev.SendCount >= 1 {
				return StatusSketchesRevision, nil
			}
			return StatusSketchesReview, nil
		}
		return StatusIllustrationsApproved, nil

	case EventProjectCompleted:
		return StatusCompleted, nil
	}

	return "", fmt.Errorf("unknown event kind %q", ev.Kind)
}

// characterReviewOutcome applies the three-way priority rule: missing
// images beat feedback, feedback beats approval. The order is load-bearing;
// a character without an image must be generated before any revision round.
func characterReviewOutcome(ev Event) Status {
	if ev.MissingImages {
		return StatusCharactersGenerating
	}
	if ev.UnresolvedFeedback {
		if ev.SendCount >= 1 {
			return StatusCharacterRevision
		}
		return StatusCharacterReview
	}
	return StatusCharactersApproved
}
