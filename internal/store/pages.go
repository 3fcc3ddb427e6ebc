package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"storybook-backend/internal/models"
)

const pageColumns = `id, project_id, page_number, story_text, scene, scene_author_supplied,
	character_ids, illustration_url, previous_illustration_url, original_illustration_url,
	sketch_url, settings, feedback, created_at, updated_at`

func (s *Store) scanPage(row interface{ Scan(...interface{}) error }) (*models.Page, error) {
	var p models.Page
	var scene, characterIDs, settings, feedback []byte
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.PageNumber, &p.StoryText, &scene, &p.SceneAuthorSupplied,
		&characterIDs, &p.IllustrationURL, &p.PreviousIllustrationURL, &p.OriginalIllustrationURL,
		&p.SketchURL, &settings, &feedback, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}
	unmarshalJSON(scene, &p.Scene)
	unmarshalJSON(characterIDs, &p.CharacterIDs)
	unmarshalJSON(settings, &p.Settings)
	unmarshalJSON(feedback, &p.Feedback)
	return &p, nil
}

func (s *Store) CreatePage(p *models.Page) (*models.Page, error) {
	row := s.db.QueryRow(`
		INSERT INTO pages (id, project_id, page_number, story_text, scene, scene_author_supplied,
			character_ids, settings, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+pageColumns+`
	`, p.ID, p.ProjectID, p.PageNumber, p.StoryText, marshalJSON(p.Scene), p.SceneAuthorSupplied,
		marshalJSON(p.CharacterIDs), marshalJSON(p.Settings), marshalJSON(p.Feedback))

	created, err := s.scanPage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return created, nil
}

func (s *Store) GetPage(pageID uuid.UUID) (*models.Page, error) {
	row := s.db.QueryRow(`SELECT `+pageColumns+` FROM pages WHERE id = $1`, pageID)
	return s.scanPage(row)
}

func (s *Store) GetProjectPages(projectID uuid.UUID) ([]models.Page, error) {
	rows, err := s.db.Query(`
		SELECT `+pageColumns+`
		FROM pages
		WHERE project_id = $1
		ORDER BY page_number ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		p, err := s.scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, nil
}

// UpdatePageIllustration records a new artifact. The superseded artifact
// moves to previous_illustration_url until the keep-vs-revert decision.
// original_illustration_url is written only while still empty; once
// captured it is immutable so every later regeneration can anchor on the
// first-generation artifact.
func (s *Store) UpdatePageIllustration(pageID uuid.UUID, illustrationURL string) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET previous_illustration_url = illustration_url,
			illustration_url = $1,
			original_illustration_url = CASE
				WHEN original_illustration_url = '' THEN $1
				ELSE original_illustration_url
			END,
			updated_at = now()
		WHERE id = $2
	`, illustrationURL, pageID)
	return err
}

// ClearPreviousIllustration finalizes a "keep" decision.
func (s *Store) ClearPreviousIllustration(pageID uuid.UUID) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET previous_illustration_url = '', updated_at = now()
		WHERE id = $1
	`, pageID)
	return err
}

func (s *Store) UpdatePageSketchURL(pageID uuid.UUID, sketchURL string) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET sketch_url = $1, updated_at = now()
		WHERE id = $2
	`, sketchURL, pageID)
	return err
}

func (s *Store) UpdatePageCharacterIDs(pageID uuid.UUID, characterIDs []uuid.UUID) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET character_ids = $1, updated_at = now()
		WHERE id = $2
	`, marshalJSON(characterIDs), pageID)
	return err
}

func (s *Store) UpdatePageScene(pageID uuid.UUID, scene models.SceneDescription, authorSupplied bool) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET scene = $1, scene_author_supplied = $2, updated_at = now()
		WHERE id = $3
	`, marshalJSON(scene), authorSupplied, pageID)
	return err
}

func (s *Store) UpdatePageFeedback(pageID uuid.UUID, feedback models.Feedback) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET feedback = $1, updated_at = now()
		WHERE id = $2
	`, marshalJSON(feedback), pageID)
	return err
}

// RevertPageIllustration restores the superseded artifact after a
// keep-vs-revert decision went to "revert". The original URL is untouched.
func (s *Store) RevertPageIllustration(pageID uuid.UUID) error {
	_, err := s.db.Exec(`
		UPDATE pages
		SET illustration_url = previous_illustration_url,
			previous_illustration_url = '',
			updated_at = now()
		WHERE id = $1
	`, pageID)
	return err
}
