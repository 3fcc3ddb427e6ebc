package models

import (
	"time"

	"github.com/google/uuid"
)

// SceneDescription is the structured description an illustration is
// generated from. Actions are keyed by character name.
type SceneDescription struct {
	Actions    map[string]string `json:"actions,omitempty"`
	Background string            `json:"background,omitempty"`
	Atmosphere string            `json:"atmosphere,omitempty"`
}

// Empty reports whether no scene content has been recorded yet.
func (s SceneDescription) Empty() bool {
	return len(s.Actions) == 0 && s.Background == "" && s.Atmosphere == ""
}

// PageSettings are per-page overrides of the project settings.
type PageSettings struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	TextMode    string `json:"text_mode,omitempty"`
	Layout      string `json:"layout,omitempty"` // "normal", "spread", "spot"
}

type Page struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	PageNumber int
	StoryText  string

	Scene               SceneDescription
	SceneAuthorSupplied bool

	CharacterIDs []uuid.UUID

	IllustrationURL string
	// PreviousIllustrationURL holds the superseded artifact between a
	// regeneration and the keep-vs-revert decision.
	PreviousIllustrationURL string
	// OriginalIllustrationURL is captured on the first successful generation
	// and never overwritten. Later regenerations anchor on it so style does
	// not degrade copy-over-copy.
	OriginalIllustrationURL string
	SketchURL               string

	Settings PageSettings
	Feedback Feedback

	CreatedAt time.Time
	UpdatedAt time.Time
}
