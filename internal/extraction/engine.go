// Package extraction turns manuscript text into secondary character rows.
// The model proposes candidates; deterministic filters decide what gets
// persisted.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
)

// TextModel is the AI text-completion boundary.
type TextModel interface {
	GenerateJSON(ctx context.Context, prompt string) ([]byte, error)
}

// Store is the slice of the entity store the engine writes through.
type Store interface {
	CreateCharacter(c *models.Character) (*models.Character, error)
	UpdateCharacterAppearsIn(characterID uuid.UUID, appearsIn []string) error
	UpdatePageCharacterIDs(pageID uuid.UUID, characterIDs []uuid.UUID) error
	UpdatePageScene(pageID uuid.UUID, scene models.SceneDescription, authorSupplied bool) error
}

// Candidate is one secondary character proposed by the model.
type Candidate struct {
	Name                   string   `json:"name"`
	Role                   string   `json:"role"`
	Age                    string   `json:"age"`
	Gender                 string   `json:"gender"`
	Skin                   string   `json:"skin"`
	Hair                   string   `json:"hair"`
	Eyes                   string   `json:"eyes"`
	Clothing               string   `json:"clothing"`
	Accessories            string   `json:"accessories"`
	DistinguishingFeatures string   `json:"distinguishing_features"`
	AppearsIn              []string `json:"appears_in"`
}

type modelResponse struct {
	MainAppearsIn       []string    `json:"main_appears_in"`
	SecondaryCharacters []Candidate `json:"secondary_characters"`
}

// sceneCandidate is one generated scene description. The page number is a
// string because the model reports page references as strings throughout.
type sceneCandidate struct {
	Page       string            `json:"page"`
	Actions    map[string]string `json:"actions"`
	Background string            `json:"background"`
	Atmosphere string            `json:"atmosphere"`
}

type sceneModelResponse struct {
	Scenes []sceneCandidate `json:"scenes"`
}

// Result summarizes one extraction run. Filtered candidates are normal
// operation; the counts exist for observability.
type Result struct {
	Created          []models.Character
	RemovedAsMain    int
	RemovedAsPlural  int
	RemovedDuplicate int
	DroppedPageRefs  int
	ScenesGenerated  int
}

type Engine struct {
	model TextModel
	store Store
	log   *logger.Logger
}

func NewEngine(model TextModel, store Store, log *logger.Logger) *Engine {
	return &Engine{
		model: model,
		store: store,
		log:   log,
	}
}

// Run extracts secondary characters from the manuscript and merges them
// into the project's cast. A malformed model response is a hard failure;
// the caller retries or surfaces it.
func (e *Engine) Run(ctx context.Context, project *models.Project, pages []models.Page, existing []models.Character) (*Result, error) {
	main := mainCharacter(existing)
	if main == nil {
		return nil, fmt.Errorf("project %s has no main character", project.ID)
	}

	prompt := buildPrompt(buildManuscript(pages), main, project.PageCount)
	raw, err := e.model.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extraction model call failed: %w", err)
	}

	var resp modelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("extraction response is not valid JSON: %w", err)
	}
	if resp.SecondaryCharacters == nil {
		return nil, fmt.Errorf("extraction response missing secondary_characters")
	}

	result := &Result{}
	var survivors []Candidate
	for _, cand := range resp.SecondaryCharacters {
		if cand.Name == "" && cand.Role == "" {
			// No identity at all; nothing to persist.
			continue
		}
		if matchesMainCharacter(cand, main) {
			result.RemovedAsMain++
			e.log.Info("extraction removed main-character duplicate",
				"project_id", project.ID, "candidate", cand.Name, "role", cand.Role)
			continue
		}
		if isPluralReference(cand.Name, cand.Role) {
			result.RemovedAsPlural++
			e.log.Info("extraction removed plural reference",
				"project_id", project.ID, "candidate", cand.Name, "role", cand.Role)
			continue
		}
		if isDuplicateOfExisting(cand, existing) {
			result.RemovedDuplicate++
			e.log.Info("extraction removed existing duplicate",
				"project_id", project.ID, "candidate", cand.Name, "role", cand.Role)
			continue
		}
		cand.AppearsIn, result.DroppedPageRefs = e.validPageRefs(cand.AppearsIn, project.PageCount, result.DroppedPageRefs)
		survivors = append(survivors, cand)
	}

	for _, cand := range survivors {
		created, err := e.store.CreateCharacter(&models.Character{
			ID:                     uuid.New(),
			ProjectID:              project.ID,
			Name:                   cand.Name,
			Role:                   cand.Role,
			Age:                    cand.Age,
			Gender:                 cand.Gender,
			Skin:                   cand.Skin,
			Hair:                   cand.Hair,
			Eyes:                   cand.Eyes,
			Clothing:               cand.Clothing,
			Accessories:            cand.Accessories,
			DistinguishingFeatures: cand.DistinguishingFeatures,
			AppearsIn:              cand.AppearsIn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist character %q: %w", cand.Name, err)
		}
		result.Created = append(result.Created, *created)
	}

	// Main-character appearances: trust the model when valid, otherwise
	// fall back to "appears on every page" rather than leaving it empty.
	mainAppears, dropped := validPageNumbers(resp.MainAppearsIn, project.PageCount)
	result.DroppedPageRefs += dropped
	if len(mainAppears) == 0 {
		mainAppears = everyPage(project.PageCount)
	}
	if err := e.store.UpdateCharacterAppearsIn(main.ID, mainAppears); err != nil {
		return nil, fmt.Errorf("failed to update main character appearances: %w", err)
	}
	main.AppearsIn = mainAppears

	if err := e.recomputePageCharacters(pages, existing, result.Created); err != nil {
		return nil, err
	}

	generated, err := e.generateScenes(ctx, project, pages, existing, result.Created)
	if err != nil {
		return nil, err
	}
	result.ScenesGenerated = generated

	e.log.Info("extraction completed",
		"project_id", project.ID,
		"created", len(result.Created),
		"removed_as_main", result.RemovedAsMain,
		"removed_as_plural", result.RemovedAsPlural,
		"removed_duplicate", result.RemovedDuplicate,
		"dropped_page_refs", result.DroppedPageRefs,
		"scenes_generated", result.ScenesGenerated)

	return result, nil
}

// generateScenes fills in structured scene descriptions for the pages the
// author left blank. Author-supplied scenes are never touched.
func (e *Engine) generateScenes(ctx context.Context, project *models.Project, pages []models.Page, existing, created []models.Character) (int, error) {
	var targets []models.Page
	for _, p := range pages {
		if !p.SceneAuthorSupplied && p.Scene.Empty() {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	all := make([]models.Character, 0, len(existing)+len(created))
	all = append(all, existing...)
	all = append(all, created...)
	casts := map[int][]string{}
	for i := range all {
		for _, ref := range all[i].AppearsIn {
			if n, err := strconv.Atoi(ref); err == nil {
				casts[n] = append(casts[n], all[i].DisplayName())
			}
		}
	}

	raw, err := e.model.GenerateJSON(ctx, buildScenePrompt(targets, casts))
	if err != nil {
		return 0, fmt.Errorf("scene model call failed: %w", err)
	}
	var resp sceneModelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("scene response is not valid JSON: %w", err)
	}

	byNumber := map[int]models.Page{}
	for _, p := range targets {
		byNumber[p.PageNumber] = p
	}

	generated := 0
	for _, sc := range resp.Scenes {
		n, err := strconv.Atoi(sc.Page)
		if err != nil {
			continue
		}
		page, ok := byNumber[n]
		if !ok {
			continue
		}
		scene := models.SceneDescription{
			Actions:    sc.Actions,
			Background: sc.Background,
			Atmosphere: sc.Atmosphere,
		}
		if scene.Empty() {
			continue
		}
		if err := e.store.UpdatePageScene(page.ID, scene, false); err != nil {
			return generated, fmt.Errorf("failed to save scene for page %d: %w", n, err)
		}
		generated++
	}

	if generated < len(targets) {
		e.log.Warn("scene generation incomplete",
			"project_id", project.ID, "targets", len(targets), "generated", generated)
	}
	return generated, nil
}

func (e *Engine) validPageRefs(refs []string, pageCount, droppedSoFar int) ([]string, int) {
	valid, dropped := validPageNumbers(refs, pageCount)
	return valid, droppedSoFar + dropped
}

// validPageNumbers drops out-of-range references instead of failing the
// whole batch.
func validPageNumbers(refs []string, pageCount int) ([]string, int) {
	var valid []string
	dropped := 0
	seen := map[string]bool{}
	for _, ref := range refs {
		n, err := strconv.Atoi(ref)
		if err != nil || n < 1 || n > pageCount {
			dropped++
			continue
		}
		key := strconv.Itoa(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, key)
	}
	return valid, dropped
}

func everyPage(pageCount int) []string {
	pages := make([]string, pageCount)
	for i := range pages {
		pages[i] = strconv.Itoa(i + 1)
	}
	return pages
}

// recomputePageCharacters rebuilds each page's character_ids from the
// validated appearance lists.
func (e *Engine) recomputePageCharacters(pages []models.Page, existing, created []models.Character) error {
	all := make([]models.Character, 0, len(existing)+len(created))
	all = append(all, existing...)
	all = append(all, created...)

	for _, page := range pages {
		num := strconv.Itoa(page.PageNumber)
		var ids []uuid.UUID
		for i := range all {
			for _, ref := range all[i].AppearsIn {
				if ref == num {
					ids = append(ids, all[i].ID)
					break
				}
			}
		}
		if err := e.store.UpdatePageCharacterIDs(page.ID, ids); err != nil {
			return fmt.Errorf("failed to update page %d characters: %w", page.PageNumber, err)
		}
	}
	return nil
}

func mainCharacter(characters []models.Character) *models.Character {
	for i := range characters {
		if characters[i].IsMain {
			return &characters[i]
		}
	}
	return nil
}
