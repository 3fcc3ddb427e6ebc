package models

type CreateProjectRequest struct {
	Title        string `json:"title" binding:"required"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	PageCount    int    `json:"page_count" binding:"required,min=1"`

	// Main character intake: traits plus the admin-supplied reference photo.
	MainCharacter MainCharacterRequest `json:"main_character" binding:"required"`

	Settings *ProjectSettings `json:"settings,omitempty"`
}

type MainCharacterRequest struct {
	Name                   string `json:"name" binding:"required"`
	Role                   string `json:"role"`
	Age                    string `json:"age"`
	Gender                 string `json:"gender"`
	Skin                   string `json:"skin"`
	Hair                   string `json:"hair"`
	Eyes                   string `json:"eyes"`
	Clothing               string `json:"clothing"`
	Accessories            string `json:"accessories"`
	DistinguishingFeatures string `json:"distinguishing_features"`
	ReferencePhotoURL      string `json:"reference_photo_url" binding:"required"`
}

type ManuscriptRequest struct {
	Pages []ManuscriptPage `json:"pages" binding:"required,min=1"`
}

type ManuscriptPage struct {
	StoryText string `json:"story_text" binding:"required"`
	// Optional author-supplied scene description; when absent the scene is
	// machine-generated later and flagged as such.
	Scene *SceneDescription `json:"scene,omitempty"`
}

type RegeneratePageRequest struct {
	// EditInstructions and ExtraReferenceURLs select edit mode.
	EditInstructions   string   `json:"edit_instructions,omitempty"`
	ExtraReferenceURLs []string `json:"extra_reference_urls,omitempty"`
	// RecreateSceneURL selects scene-recreation mode; the referenced
	// artifact becomes the environment ground truth.
	RecreateSceneURL string `json:"recreate_scene_url,omitempty"`
}

type IllustrationDecisionRequest struct {
	// "keep" accepts the newest artifact and deletes the superseded one;
	// "revert" restores the previous artifact and deletes the new one.
	Decision string `json:"decision" binding:"required,oneof=keep revert"`
}

type CharacterReviewRequest struct {
	Approved bool                    `json:"approved"`
	Items    []ReviewItem `json:"items,omitempty"`
}

type IllustrationReviewRequest struct {
	Approved bool         `json:"approved"`
	Items    []ReviewItem `json:"items,omitempty"`
}

type ReviewItem struct {
	ID       string `json:"id" binding:"required"` // character or page id
	Note     string `json:"note,omitempty"`
	Resolved bool   `json:"resolved"`
}
