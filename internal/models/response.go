package models

import "time"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ProjectResponse struct {
	ID                    string          `json:"project_id"`
	Title                 string          `json:"title"`
	Status                string          `json:"status"`
	PageCount             int             `json:"page_count"`
	CharacterSendCount    int             `json:"character_send_count"`
	IllustrationSendCount int             `json:"illustration_send_count"`
	ReviewToken           string          `json:"review_token,omitempty"`
	Settings              ProjectSettings `json:"settings"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ProjectDetailResponse struct {
	ProjectResponse
	Characters []CharacterResponse `json:"characters"`
	Pages      []PageResponse      `json:"pages"`
}

type CharacterResponse struct {
	ID        string   `json:"character_id"`
	Name      string   `json:"name"`
	Role      string   `json:"role,omitempty"`
	IsMain    bool     `json:"is_main"`
	AppearsIn []string `json:"appears_in,omitempty"`
	ImageURL  string   `json:"image_url,omitempty"`
	SketchURL string   `json:"sketch_url,omitempty"`
	Feedback  Feedback `json:"feedback"`
}

type PageResponse struct {
	ID                      string           `json:"page_id"`
	PageNumber              int              `json:"page_number"`
	StoryText               string           `json:"story_text"`
	Scene                   SceneDescription `json:"scene"`
	SceneAuthorSupplied     bool             `json:"scene_author_supplied"`
	CharacterIDs            []string         `json:"character_ids,omitempty"`
	IllustrationURL         string           `json:"illustration_url,omitempty"`
	PreviousIllustrationURL string           `json:"previous_illustration_url,omitempty"`
	OriginalIllustrationURL string           `json:"original_illustration_url,omitempty"`
	SketchURL               string           `json:"sketch_url,omitempty"`
	Feedback                Feedback         `json:"feedback"`
}

type StatusResponse struct {
	ProjectID             string    `json:"project_id"`
	Status                string    `json:"status"`
	StatusChangedAt       time.Time `json:"status_changed_at"`
	CharacterSendCount    int       `json:"character_send_count"`
	IllustrationSendCount int       `json:"illustration_send_count"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type ManuscriptResponse struct {
	ProjectID  string            `json:"project_id"`
	Status     string            `json:"status"`
	PageCount  int               `json:"page_count"`
	Extraction ExtractionSummary `json:"extraction"`
}

// ExtractionSummary reports what the deduplication filters removed, for
// observability. Filtered candidates are normal operation, not failures.
type ExtractionSummary struct {
	Created          int `json:"created"`
	RemovedAsMain    int `json:"removed_as_main"`
	RemovedAsPlural  int `json:"removed_as_plural"`
	RemovedDuplicate int `json:"removed_duplicate"`
	DroppedPageRefs  int `json:"dropped_page_refs"`
	ScenesGenerated  int `json:"scenes_generated"`
}

type RegenerateResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
}
