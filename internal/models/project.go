package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ProjectSettings holds the project-level generation configuration. Stored
// as jsonb; zero values mean "use defaults".
type ProjectSettings struct {
	AspectRatio        string   `json:"aspect_ratio,omitempty"` // "1:1", "3:4", "4:3", "16:9"
	TextMode           string   `json:"text_mode,omitempty"`    // "none" or "embedded"
	StyleReferenceURLs []string `json:"style_reference_urls,omitempty"`
}

type Project struct {
	ID                    uuid.UUID
	Title                 string
	ContactName           string
	ContactEmail          string
	Status                string
	StatusChangedAt       time.Time
	PageCount             int
	CharacterSendCount    int
	IllustrationSendCount int
	ReviewToken           string
	Settings              ProjectSettings
	ErrorMessage          sql.NullString
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
