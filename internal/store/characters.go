package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"storybook-backend/internal/models"
)

const characterColumns = `id, project_id, name, role, is_main, age, gender, skin, hair, eyes,
	clothing, accessories, distinguishing_features, appears_in, image_url, sketch_url,
	feedback, created_at, updated_at`

func (s *Store) scanCharacter(row interface{ Scan(...interface{}) error }) (*models.Character, error) {
	var c models.Character
	var appearsIn, feedback []byte
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.Name, &c.Role, &c.IsMain, &c.Age, &c.Gender, &c.Skin, &c.Hair, &c.Eyes,
		&c.Clothing, &c.Accessories, &c.DistinguishingFeatures, &appearsIn, &c.ImageURL, &c.SketchURL,
		&feedback, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan character: %w", err)
	}
	unmarshalJSON(appearsIn, &c.AppearsIn)
	unmarshalJSON(feedback, &c.Feedback)
	return &c, nil
}

func (s *Store) CreateCharacter(c *models.Character) (*models.Character, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("character requires a name or role")
	}

	row := s.db.QueryRow(`
		INSERT INTO characters (id, project_id, name, role, is_main, age, gender, skin, hair, eyes,
			clothing, accessories, distinguishing_features, appears_in, image_url, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+characterColumns+`
	`, c.ID, c.ProjectID, c.Name, c.Role, c.IsMain, c.Age, c.Gender, c.Skin, c.Hair, c.Eyes,
		c.Clothing, c.Accessories, c.DistinguishingFeatures, marshalJSON(c.AppearsIn), c.ImageURL,
		marshalJSON(c.Feedback))

	created, err := s.scanCharacter(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create character: %w", err)
	}
	return created, nil
}

func (s *Store) GetCharacter(characterID uuid.UUID) (*models.Character, error) {
	row := s.db.QueryRow(`SELECT `+characterColumns+` FROM characters WHERE id = $1`, characterID)
	return s.scanCharacter(row)
}

func (s *Store) GetProjectCharacters(projectID uuid.UUID) ([]models.Character, error) {
	rows, err := s.db.Query(`
		SELECT `+characterColumns+`
		FROM characters
		WHERE project_id = $1
		ORDER BY is_main DESC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get characters: %w", err)
	}
	defer rows.Close()

	var characters []models.Character
	for rows.Next() {
		c, err := s.scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		characters = append(characters, *c)
	}
	return characters, nil
}

// GetMainCharacter returns the single is_main character of a project.
func (s *Store) GetMainCharacter(projectID uuid.UUID) (*models.Character, error) {
	row := s.db.QueryRow(`
		SELECT `+characterColumns+`
		FROM characters
		WHERE project_id = $1 AND is_main = true
	`, projectID)
	return s.scanCharacter(row)
}

func (s *Store) UpdateCharacterImageURL(characterID uuid.UUID, imageURL string) error {
	_, err := s.db.Exec(`
		UPDATE characters
		SET image_url = $1, updated_at = now()
		WHERE id = $2
	`, imageURL, characterID)
	return err
}

func (s *Store) UpdateCharacterSketchURL(characterID uuid.UUID, sketchURL string) error {
	_, err := s.db.Exec(`
		UPDATE characters
		SET sketch_url = $1, updated_at = now()
		WHERE id = $2
	`, sketchURL, characterID)
	return err
}

func (s *Store) UpdateCharacterAppearsIn(characterID uuid.UUID, appearsIn []string) error {
	_, err := s.db.Exec(`
		UPDATE characters
		SET appears_in = $1, updated_at = now()
		WHERE id = $2
	`, marshalJSON(appearsIn), characterID)
	return err
}

func (s *Store) UpdateCharacterFeedback(characterID uuid.UUID, feedback models.Feedback) error {
	_, err := s.db.Exec(`
		UPDATE characters
		SET feedback = $1, updated_at = now()
		WHERE id = $2
	`, marshalJSON(feedback), characterID)
	return err
}
