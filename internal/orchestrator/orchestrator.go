// Package orchestrator supervises detached generation batches. A batch is
// claimed with an optimistic status write, fans out one goroutine per
// entity, and reports completion through a second conditional write so a
// concurrent foreground transition always wins.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
	"storybook-backend/internal/pipeline"
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
	"storybook-backend/internal/supabase"
)

// Store is the slice of the entity store the orchestrator needs.
type Store interface {
	GetProject(projectID uuid.UUID) (*models.Project, error)
	GetProjectCharacters(projectID uuid.UUID) ([]models.Character, error)
	GetProjectPages(projectID uuid.UUID) ([]models.Page, error)
	TransitionStatus(projectID uuid.UUID, from, to status.Status) error
	UpdateErrorMessage(projectID uuid.UUID, errorMsg string) error
	UpdateCharacterImageURL(characterID uuid.UUID, imageURL string) error
	UpdateCharacterSketchURL(characterID uuid.UUID, sketchURL string) error
	UpdatePageIllustration(pageID uuid.UUID, illustrationURL string) error
	UpdatePageSketchURL(pageID uuid.UUID, sketchURL string) error
}

// Generator is the image pipeline boundary.
type Generator interface {
	GenerateCharacterImage(ctx context.Context, project *models.Project, character *models.Character, main *models.Character) (*pipeline.Artifact, error)
	GeneratePageIllustration(ctx context.Context, project *models.Project, page *models.Page, firstPage *models.Page, characters []models.Character, main *models.Character, opts pipeline.Options) (*pipeline.Artifact, error)
	GenerateSketch(ctx context.Context, project *models.Project, entityID uuid.UUID, sourceURL string) (*pipeline.Artifact, error)
}

// Publisher pushes UI-refresh events; always best-effort.
type Publisher interface {
	PublishProjectEvent(projectID uuid.UUID, event string, payload map[string]interface{}) error
}

type Orchestrator struct {
	store     Store
	generator Generator
	publisher Publisher
	log       *logger.Logger
}

func New(s Store, g Generator, p Publisher, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     s,
		generator: g,
		publisher: p,
		log:       log,
	}
}

// StartCharacterBatch dispatches character image generation detached from
// the caller. from is the status the caller observed; the claim fails
// cleanly if anyone advanced the project since.
func (o *Orchestrator) StartCharacterBatch(projectID uuid.UUID, from status.Status) {
	go o.runGuarded(projectID, status.StatusCharacterGenerationFailed, func() {
		o.runCharacterBatch(projectID, from)
	})
}

// StartIllustrationBatch dispatches page illustration generation for the
// sketch phase.
func (o *Orchestrator) StartIllustrationBatch(projectID uuid.UUID, from status.Status) {
	go o.runGuarded(projectID, status.StatusSketchGenerationFailed, func() {
		o.runIllustrationBatch(projectID, from)
	})
}

// StartCharacterSketch re-derives line art after a single character image
// changes outside a batch.
func (o *Orchestrator) StartCharacterSketch(project *models.Project, characterID uuid.UUID, sourceURL string) {
	o.startSketch(project, characterID, sourceURL, o.store.UpdateCharacterSketchURL)
}

// StartPageSketch is the page counterpart of StartCharacterSketch.
func (o *Orchestrator) StartPageSketch(project *models.Project, pageID uuid.UUID, sourceURL string) {
	o.startSketch(project, pageID, sourceURL, o.store.UpdatePageSketchURL)
}

// runGuarded is the task error boundary: a panic inside a detached batch
// becomes a terminal status update and a log line, never a silent crash.
func (o *Orchestrator) runGuarded(projectID uuid.UUID, failStatus status.Status, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("generation batch panicked", "project_id", projectID, "panic", r)
			msg := fmt.Sprintf("generation batch panicked: %v", r)
			if err := o.store.UpdateErrorMessage(projectID, msg); err != nil {
				o.log.Error("failed to record batch panic", "project_id", projectID, "error", err)
			}
			o.forceFailure(projectID, failStatus)
		}
	}()
	fn()
}

// forceFailure moves a project that is still mid-generation into the
// explicit failure status. Projects already advanced elsewhere are left
// alone.
func (o *Orchestrator) forceFailure(projectID uuid.UUID, failStatus status.Status) {
	var generating status.Status
	if failStatus == status.StatusSketchGenerationFailed {
		generating = status.StatusSketchesGenerating
	} else {
		generating = status.StatusCharactersGenerating
	}
	err := o.store.TransitionStatus(projectID, generating, failStatus)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		o.log.Error("failed to set failure status", "project_id", projectID, "error", err)
	}
}

type entityResult struct {
	id   uuid.UUID
	name string
	url  string
	err  error
}

func (o *Orchestrator) runCharacterBatch(projectID uuid.UUID, from status.Status) {
	ctx := context.Background()

	// Claim the transition. Zero affected rows means another actor already
	// advanced the project: a normal outcome, not an error.
	err := o.store.TransitionStatus(projectID, from, status.StatusCharactersGenerating)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			o.log.Info("character batch skipped, project already advanced", "project_id", projectID)
			return
		}
		o.log.Error("character batch claim failed", "project_id", projectID, "error", err)
		return
	}

	project, characters, main, err := o.loadCast(projectID)
	if err != nil {
		o.log.Error("character batch load failed", "project_id", projectID, "error", err)
		o.failBatch(projectID, status.StatusCharactersGenerating, status.StatusCharacterGenerationFailed, err.Error())
		return
	}

	var targets []models.Character
	for i := range characters {
		if !characters[i].IsMain && characters[i].ImageURL == "" {
			targets = append(targets, characters[i])
		}
	}

	if len(targets) == 0 {
		o.completeBatch(projectID, status.StatusCharactersGenerating, status.Event{
			Kind: status.EventCharacterBatchCompleted,
		})
		return
	}

	o.publish(projectID, "generation_started", supabase.GenerationStartedPayload(projectID, len(targets)))

	results := make(chan entityResult, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(c models.Character) {
			defer wg.Done()
			artifact, err := o.generator.GenerateCharacterImage(ctx, project, &c, main)
			if err != nil {
				results <- entityResult{id: c.ID, name: c.DisplayName(), err: err}
				return
			}
			if err := o.store.UpdateCharacterImageURL(c.ID, artifact.URL); err != nil {
				results <- entityResult{id: c.ID, name: c.DisplayName(), err: err}
				return
			}
			results <- entityResult{id: c.ID, name: c.DisplayName(), url: artifact.URL}
		}(targets[i])
	}
	wg.Wait()
	close(results)

	succeeded, failed, errMsg := o.collect(projectID, results)

	// Sketches chain for every successfully generated character, even when
	// siblings failed. Each is independently retryable and independently
	// failing.
	for _, r := range succeeded {
		o.startSketch(project, r.id, r.url, o.store.UpdateCharacterSketchURL)
	}

	ev := status.Event{
		Kind:      status.EventCharacterBatchCompleted,
		Succeeded: len(succeeded),
		Failed:    len(failed),
	}
	if len(failed) > 0 {
		next, _ := status.Next(status.StatusCharactersGenerating, ev)
		o.failBatch(projectID, status.StatusCharactersGenerating, next, errMsg)
		return
	}
	o.completeBatch(projectID, status.StatusCharactersGenerating, ev)
}

func (o *Orchestrator) runIllustrationBatch(projectID uuid.UUID, from status.Status) {
	ctx := context.Background()

	err := o.store.TransitionStatus(projectID, from, status.StatusSketchesGenerating)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			o.log.Info("illustration batch skipped, project already advanced", "project_id", projectID)
			return
		}
		o.log.Error("illustration batch claim failed", "project_id", projectID, "error", err)
		return
	}

	project, characters, main, err := o.loadCast(projectID)
	if err != nil {
		o.log.Error("illustration batch load failed", "project_id", projectID, "error", err)
		o.failBatch(projectID, status.StatusSketchesGenerating, status.StatusSketchGenerationFailed, err.Error())
		return
	}

	pages, err := o.store.GetProjectPages(projectID)
	if err != nil {
		o.failBatch(projectID, status.StatusSketchesGenerating, status.StatusSketchGenerationFailed, err.Error())
		return
	}

	var firstPage *models.Page
	for i := range pages {
		if pages[i].PageNumber == 1 {
			firstPage = &pages[i]
			break
		}
	}

	var targets []models.Page
	for i := range pages {
		if pages[i].IllustrationURL == "" {
			targets = append(targets, pages[i])
		}
	}

	if len(targets) == 0 {
		o.completeBatch(projectID, status.StatusSketchesGenerating, status.Event{
			Kind: status.EventSketchBatchCompleted,
		})
		return
	}

	o.publish(projectID, "generation_started", supabase.GenerationStartedPayload(projectID, len(targets)))

	byID := map[uuid.UUID]models.Character{}
	for i := range characters {
		byID[characters[i].ID] = characters[i]
	}

	results := make(chan entityResult, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(page models.Page) {
			defer wg.Done()
			cast := make([]models.Character, 0, len(page.CharacterIDs))
			for _, id := range page.CharacterIDs {
				if c, ok := byID[id]; ok {
					cast = append(cast, c)
				}
			}
			artifact, err := o.generator.GeneratePageIllustration(ctx, project, &page, firstPage, cast, main, pipeline.Options{})
			if err != nil {
				results <- entityResult{id: page.ID, name: fmt.Sprintf("page %d", page.PageNumber), err: err}
				return
			}
			if err := o.store.UpdatePageIllustration(page.ID, artifact.URL); err != nil {
				results <- entityResult{id: page.ID, name: fmt.Sprintf("page %d", page.PageNumber), err: err}
				return
			}
			results <- entityResult{id: page.ID, name: fmt.Sprintf("page %d", page.PageNumber), url: artifact.URL}
		}(targets[i])
	}
	wg.Wait()
	close(results)

	succeeded, failed, errMsg := o.collect(projectID, results)

	for _, r := range succeeded {
		o.startSketch(project, r.id, r.url, o.store.UpdatePageSketchURL)
	}

	ev := status.Event{
		Kind:      status.EventSketchBatchCompleted,
		Succeeded: len(succeeded),
		Failed:    len(failed),
	}
	if len(failed) > 0 {
		next, _ := status.Next(status.StatusSketchesGenerating, ev)
		o.failBatch(projectID, status.StatusSketchesGenerating, next, errMsg)
		return
	}
	o.completeBatch(projectID, status.StatusSketchesGenerating, ev)
}

// startSketch chains line-art generation for one entity, detached, with its
// own error boundary. Sketch failures never block siblings or the batch
// status.
func (o *Orchestrator) startSketch(project *models.Project, entityID uuid.UUID, sourceURL string, save func(uuid.UUID, string) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("sketch generation panicked", "entity_id", entityID, "panic", r)
			}
		}()

		artifact, err := o.generator.GenerateSketch(context.Background(), project, entityID, sourceURL)
		if err != nil {
			o.log.Warn("sketch generation failed", "project_id", project.ID, "entity_id", entityID, "error", err)
			return
		}
		if err := save(entityID, artifact.URL); err != nil {
			o.log.Warn("sketch save failed", "project_id", project.ID, "entity_id", entityID, "error", err)
		}
	}()
}

func (o *Orchestrator) loadCast(projectID uuid.UUID) (*models.Project, []models.Character, *models.Character, error) {
	project, err := o.store.GetProject(projectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load project: %w", err)
	}
	characters, err := o.store.GetProjectCharacters(projectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load characters: %w", err)
	}
	var main *models.Character
	for i := range characters {
		if characters[i].IsMain {
			main = &characters[i]
			break
		}
	}
	return project, characters, main, nil
}

func (o *Orchestrator) collect(projectID uuid.UUID, results chan entityResult) (succeeded, failed []entityResult, errMsg string) {
	for r := range results {
		if r.err != nil {
			o.log.Warn("entity generation failed", "project_id", projectID, "entity", r.name, "error", r.err)
			failed = append(failed, r)
			if errMsg == "" {
				errMsg = fmt.Sprintf("%s: %v", r.name, r.err)
			}
			continue
		}
		succeeded = append(succeeded, r)
	}
	return succeeded, failed, errMsg
}

// completeBatch writes the success status. The write is conditional on the
// claimed status so a manual override that happened mid-batch wins; the
// stale result is logged and dropped.
func (o *Orchestrator) completeBatch(projectID uuid.UUID, claimed status.Status, ev status.Event) {
	next, err := status.Next(claimed, ev)
	if err != nil {
		o.log.Error("batch completion produced invalid transition", "project_id", projectID, "error", err)
		return
	}
	if err := o.store.TransitionStatus(projectID, claimed, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			o.log.Info("batch result stale, project already advanced", "project_id", projectID)
			return
		}
		o.log.Error("batch completion write failed", "project_id", projectID, "error", err)
		return
	}
	o.publish(projectID, "generation_completed", supabase.GenerationCompletedPayload(projectID, string(next), ev.Succeeded, ev.Failed, ""))
	o.log.Info("generation batch completed",
		"project_id", projectID, "status", next, "succeeded", ev.Succeeded, "failed", ev.Failed)
}

func (o *Orchestrator) failBatch(projectID uuid.UUID, claimed, failStatus status.Status, errMsg string) {
	if err := o.store.TransitionStatus(projectID, claimed, failStatus); err != nil {
		if errors.Is(err, store.ErrConflict) {
			o.log.Info("batch failure stale, project already advanced", "project_id", projectID)
			return
		}
		o.log.Error("batch failure write failed", "project_id", projectID, "error", err)
		return
	}
	if errMsg != "" {
		if err := o.store.UpdateErrorMessage(projectID, errMsg); err != nil {
			o.log.Error("failed to record batch error", "project_id", projectID, "error", err)
		}
	}
	o.publish(projectID, "generation_completed", supabase.GenerationCompletedPayload(projectID, string(failStatus), 0, 0, errMsg))
	o.log.Warn("generation batch needs attention", "project_id", projectID, "status", failStatus, "error", errMsg)
}

func (o *Orchestrator) publish(projectID uuid.UUID, event string, payload map[string]interface{}) {
	if o.publisher == nil {
		return
	}
	payload["project_id"] = projectID.String()
	if err := o.publisher.PublishProjectEvent(projectID, event, payload); err != nil {
		o.log.Warn("realtime publish failed", "project_id", projectID, "error", err)
	}
}
