package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
	"storybook-backend/internal/notify"
	"storybook-backend/internal/orchestrator"
	"storybook-backend/internal/pipeline"
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
	"storybook-backend/internal/supabase"
)

type CharactersHandler struct {
	store         *store.Store
	pipeline      *pipeline.Pipeline
	orch          *orchestrator.Orchestrator
	notifier      *notify.Notifier
	realtime      *supabase.RealtimeClient
	storageClient *supabase.StorageClient
	baseURL       string
	log           *logger.Logger
}

func NewCharactersHandler(
	s *store.Store,
	p *pipeline.Pipeline,
	orch *orchestrator.Orchestrator,
	notifier *notify.Notifier,
	realtime *supabase.RealtimeClient,
	storageClient *supabase.StorageClient,
	baseURL string,
	log *logger.Logger,
) *CharactersHandler {
	return &CharactersHandler{
		store:         s,
		pipeline:      p,
		orch:          orch,
		notifier:      notifier,
		realtime:      realtime,
		storageClient: storageClient,
		baseURL:       baseURL,
		log:           log,
	}
}

// characterRetryStatuses are the statuses the character batch may be
// restarted from. A failed round is not terminal; the admin repairs or
// retries and dispatches again.
var characterRetryStatuses = []status.Status{
	status.StatusCharacterGenerationFailed,
}

// GenerateCharacters re-dispatches the character generation batch after a
// failed round. The batch claims the status transition itself, so a double
// click loses the claim and does nothing.
func (h *CharactersHandler) GenerateCharacters(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	observed := status.Status(project.Status)
	canonical := status.Canonical(observed)
	allowed := false
	for _, s := range characterRetryStatuses {
		if canonical == s {
			allowed = true
			break
		}
	}
	if !allowed {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "characters cannot be generated in current status",
			Message: fmt.Sprintf("project is %s", canonical),
		})
		return
	}

	h.orch.StartCharacterBatch(project.ID, observed)

	c.JSON(http.StatusAccepted, models.StatusResponse{
		ProjectID: project.ID.String(),
		Status:    string(status.StatusCharactersGenerating),
	})
}

// SendCharacters releases the generated cast to the customer for review.
// The optimistic transition loses to any concurrent actor, which surfaces
// as a conflict rather than a double send.
func (h *CharactersHandler) SendCharacters(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	observed := status.Status(project.Status)
	next, err := status.Next(observed, status.Event{Kind: status.EventCharactersSent})
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "characters cannot be sent in current status",
			Message: err.Error(),
		})
		return
	}

	characters, err := h.store.GetProjectCharacters(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load characters",
			Message: err.Error(),
		})
		return
	}
	for i := range characters {
		if !characters[i].IsMain && characters[i].ImageURL == "" {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "characters missing images",
				Message: fmt.Sprintf("character %q has no image", characters[i].DisplayName()),
			})
			return
		}
	}

	if err := h.store.TransitionStatus(project.ID, observed, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: "project status changed, reload and retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to update status",
			Message: err.Error(),
		})
		return
	}

	count, err := h.store.IncrementCharacterSendCount(project.ID)
	if err != nil {
		h.log.Error("failed to increment character send count", "project_id", project.ID, "error", err)
		count = project.CharacterSendCount + 1
	}

	reviewURL := fmt.Sprintf("%s/review/%s", h.baseURL, project.ReviewToken)
	h.notifier.CustomerEmail(project.ContactEmail,
		fmt.Sprintf("Your character illustrations for %q are ready", project.Title),
		fmt.Sprintf("Hi %s,\n\nThe character illustrations for %q are ready for your review:\n%s\n", project.ContactName, project.Title, reviewURL))
	h.notifier.TeamMessage(fmt.Sprintf("Characters sent for review: %s (round %d)", project.Title, count))

	if h.realtime != nil {
		if err := h.realtime.PublishProjectEvent(project.ID, "status_changed",
			supabase.StatusChangedPayload(project.ID, string(next))); err != nil {
			h.log.Warn("failed to publish status event", "project_id", project.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:             project.ID.String(),
		Status:                string(next),
		CharacterSendCount:    count,
		IllustrationSendCount: project.IllustrationSendCount,
	})
}

// RegenerateCharacter regenerates a single character image in place. The
// superseded artifact is deleted once the new one is saved; the sketch is
// re-derived in the background.
func (h *CharactersHandler) RegenerateCharacter(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	characterID, err := uuid.Parse(c.Param("character_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid character id"})
		return
	}

	character, err := h.store.GetCharacter(characterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "character not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load character",
			Message: err.Error(),
		})
		return
	}
	if character.ProjectID != project.ID {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "character not found"})
		return
	}

	var main *models.Character
	if !character.IsMain {
		main, err = h.store.GetMainCharacter(project.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to load main character",
				Message: err.Error(),
			})
			return
		}
	}

	oldURL := character.ImageURL
	if character.IsMain {
		// The main character's image_url starts as the uploaded photo; the
		// photo itself is never treated as a replaceable artifact.
		oldURL = ""
	}

	artifact, err := h.pipeline.GenerateCharacterImage(c.Request.Context(), project, character, main)
	if err != nil {
		h.log.Error("character regeneration failed",
			"project_id", project.ID, "character_id", characterID, "error", err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "character generation failed",
			Message: err.Error(),
		})
		return
	}

	if err := h.store.UpdateCharacterImageURL(character.ID, artifact.URL); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to save character image",
			Message: err.Error(),
		})
		return
	}

	if oldURL != "" {
		if path := h.storageClient.PathFromPublicURL(oldURL); path != "" {
			if err := h.storageClient.DeleteFile(path); err != nil {
				h.log.Warn("failed to delete superseded character image",
					"project_id", project.ID, "path", path, "error", err)
			}
		}
	}

	h.orch.StartCharacterSketch(project, character.ID, artifact.URL)

	c.JSON(http.StatusOK, models.RegenerateResponse{
		ID:       character.ID.String(),
		Status:   "generated",
		ImageURL: artifact.URL,
	})
}
