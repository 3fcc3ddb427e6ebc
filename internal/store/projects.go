package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"storybook-backend/internal/models"
	"storybook-backend/internal/status"
)

const projectColumns = `id, title, contact_name, contact_email, status, status_changed_at,
	page_count, character_send_count, illustration_send_count, review_token,
	settings, error_message, created_at, updated_at`

func (s *Store) scanProject(row interface{ Scan(...interface{}) error }) (*models.Project, error) {
	var p models.Project
	var settings []byte
	err := row.Scan(
		&p.ID, &p.Title, &p.ContactName, &p.ContactEmail, &p.Status, &p.StatusChangedAt,
		&p.PageCount, &p.CharacterSendCount, &p.IllustrationSendCount, &p.ReviewToken,
		&settings, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	unmarshalJSON(settings, &p.Settings)
	return &p, nil
}

func (s *Store) CreateProject(p *models.Project) (*models.Project, error) {
	row := s.db.QueryRow(`
		INSERT INTO projects (id, title, contact_name, contact_email, status, page_count, review_token, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+projectColumns+`
	`, p.ID, p.Title, p.ContactName, p.ContactEmail, p.Status, p.PageCount, p.ReviewToken, marshalJSON(p.Settings))

	created, err := s.scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return created, nil
}

func (s *Store) GetProject(projectID uuid.UUID) (*models.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return s.scanProject(row)
}

func (s *Store) GetProjectByReviewToken(token string) (*models.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE review_token = $1`, token)
	return s.scanProject(row)
}

func (s *Store) ListProjects() ([]models.Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

func (s *Store) DeleteProject(projectID uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = $1`, projectID)
	return err
}

// TransitionStatus performs the optimistic status write: the update applies
// only if the row still holds the status observed at read time (legacy
// aliases match too). Zero affected rows means another actor advanced the
// project first; that surfaces as ErrConflict.
func (s *Store) TransitionStatus(projectID uuid.UUID, from, to status.Status) error {
	res, err := s.db.Exec(`
		UPDATE projects
		SET status = $1, status_changed_at = now(), updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, string(to), projectID, statusMatchSet(from))
	if err != nil {
		return fmt.Errorf("failed to transition status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// statusMatchSet returns the stored values that count as "still at from":
// the canonical status plus any legacy aliases resolving to it, so a row
// written before the migration still satisfies the guard.
func statusMatchSet(from status.Status) interface{} {
	canonical := status.Canonical(from)
	values := []string{string(canonical)}
	for _, s := range status.Aliases(canonical) {
		values = append(values, string(s))
	}
	return pq.Array(values)
}

// UpdateProjectPageCount records the true page count once the manuscript
// arrives.
func (s *Store) UpdateProjectPageCount(projectID uuid.UUID, pageCount int) error {
	_, err := s.db.Exec(`
		UPDATE projects
		SET page_count = $1, updated_at = now()
		WHERE id = $2
	`, pageCount, projectID)
	return err
}

// UpdateErrorMessage records a failure detail without touching status.
func (s *Store) UpdateErrorMessage(projectID uuid.UUID, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE projects
		SET error_message = $1, updated_at = now()
		WHERE id = $2
	`, errorMsg, projectID)
	return err
}

func (s *Store) IncrementCharacterSendCount(projectID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(`
		UPDATE projects
		SET character_send_count = character_send_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING character_send_count
	`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment character send count: %w", err)
	}
	return count, nil
}

func (s *Store) IncrementIllustrationSendCount(projectID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(`
		UPDATE projects
		SET illustration_send_count = illustration_send_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING illustration_send_count
	`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment illustration send count: %w", err)
	}
	return count, nil
}
