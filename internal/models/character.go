package models

import (
	"time"

	"github.com/google/uuid"
)

// Feedback is the customer note state shared by characters and pages.
// History accumulates resolved notes; Note is the one currently open.
type Feedback struct {
	Note     string   `json:"note,omitempty"`
	Resolved bool     `json:"resolved"`
	History  []string `json:"history,omitempty"`
}

// Unresolved reports whether a note is open and awaiting action.
func (f Feedback) Unresolved() bool {
	return f.Note != "" && !f.Resolved
}

type Character struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Role      string
	IsMain    bool

	// Free-text physical traits captured from the intake form or extraction.
	Age                    string
	Gender                 string
	Skin                   string
	Hair                   string
	Eyes                   string
	Clothing               string
	Accessories            string
	DistinguishingFeatures string

	// Page numbers (as strings) this character appears on, validated
	// against the project's page range.
	AppearsIn []string

	ImageURL  string
	SketchURL string

	Feedback Feedback

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the character is persistable. A character with no
// name and no role carries no identity and must never be stored.
func (c *Character) Valid() bool {
	return c.Name != "" || c.Role != ""
}

// DisplayName prefers the proper name and falls back to the role.
func (c *Character) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Role
}
