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

type PagesHandler struct {
	store         *store.Store
	pipeline      *pipeline.Pipeline
	orch          *orchestrator.Orchestrator
	notifier      *notify.Notifier
	realtime      *supabase.RealtimeClient
	storageClient *supabase.StorageClient
	baseURL       string
	log           *logger.Logger
}

func NewPagesHandler(
	s *store.Store,
	p *pipeline.Pipeline,
	orch *orchestrator.Orchestrator,
	notifier *notify.Notifier,
	realtime *supabase.RealtimeClient,
	storageClient *supabase.StorageClient,
	baseURL string,
	log *logger.Logger,
) *PagesHandler {
	return &PagesHandler{
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

// illustrationStartStatuses are the statuses the illustration batch may be
// kicked off from. Failed batches restart from the failure status.
var illustrationStartStatuses = []status.Status{
	status.StatusCharactersApproved,
	status.StatusSketchGenerationFailed,
}

// GenerateIllustrations dispatches the page illustration batch. The batch
// claims the status transition itself, so a double click loses the claim
// and does nothing.
func (h *PagesHandler) GenerateIllustrations(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	observed := status.Status(project.Status)
	canonical := status.Canonical(observed)
	allowed := false
	for _, s := range illustrationStartStatuses {
		if canonical == s {
			allowed = true
			break
		}
	}
	if !allowed {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "illustrations cannot be generated in current status",
			Message: fmt.Sprintf("project is %s", canonical),
		})
		return
	}

	h.orch.StartIllustrationBatch(project.ID, observed)

	c.JSON(http.StatusAccepted, models.StatusResponse{
		ProjectID: project.ID.String(),
		Status:    string(status.StatusSketchesGenerating),
	})
}

// RegeneratePage regenerates a single page illustration. The request body
// selects the mode: a scene URL wins over edit instructions, which win over
// a plain re-roll. The superseded artifact is retained until the keep/revert
// decision.
func (h *PagesHandler) RegeneratePage(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	page, ok := h.lookupPage(c, project)
	if !ok {
		return
	}

	var req models.RegeneratePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
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
	var main *models.Character
	byID := map[uuid.UUID]models.Character{}
	for i := range characters {
		byID[characters[i].ID] = characters[i]
		if characters[i].IsMain {
			main = &characters[i]
		}
	}
	cast := make([]models.Character, 0, len(page.CharacterIDs))
	for _, id := range page.CharacterIDs {
		if ch, ok := byID[id]; ok {
			cast = append(cast, ch)
		}
	}

	var firstPage *models.Page
	if page.PageNumber != 1 {
		pages, err := h.store.GetProjectPages(project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to load pages",
				Message: err.Error(),
			})
			return
		}
		for i := range pages {
			if pages[i].PageNumber == 1 {
				firstPage = &pages[i]
				break
			}
		}
	}

	opts := pipeline.Options{
		EditInstructions:   req.EditInstructions,
		ExtraReferenceURLs: req.ExtraReferenceURLs,
		RecreateSceneURL:   req.RecreateSceneURL,
	}

	artifact, err := h.pipeline.GeneratePageIllustration(c.Request.Context(), project, page, firstPage, cast, main, opts)
	if err != nil {
		h.log.Error("page regeneration failed",
			"project_id", project.ID, "page", page.PageNumber, "error", err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "page generation failed",
			Message: err.Error(),
		})
		return
	}

	// The previous artifact stays in storage until keep/revert; if a pending
	// previous already exists it is superseded now and can go.
	pendingPrevious := page.PreviousIllustrationURL

	if err := h.store.UpdatePageIllustration(page.ID, artifact.URL); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to save illustration",
			Message: err.Error(),
		})
		return
	}

	if pendingPrevious != "" {
		h.deleteArtifact(project.ID, pendingPrevious)
	}

	h.orch.StartPageSketch(project, page.ID, artifact.URL)

	c.JSON(http.StatusOK, models.RegenerateResponse{
		ID:       page.ID.String(),
		Status:   "generated",
		ImageURL: artifact.URL,
	})
}

// DecideIllustration resolves a pending regeneration: keep accepts the new
// artifact and discards the old, revert restores the old and discards the
// new. Storage deletes happen only after the row is updated.
func (h *PagesHandler) DecideIllustration(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	page, ok := h.lookupPage(c, project)
	if !ok {
		return
	}

	var req models.IllustrationDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	if page.PreviousIllustrationURL == "" {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "no pending regeneration to decide"})
		return
	}

	switch req.Decision {
	case "keep":
		if err := h.store.ClearPreviousIllustration(page.ID); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to record decision",
				Message: err.Error(),
			})
			return
		}
		h.deleteArtifact(project.ID, page.PreviousIllustrationURL)
		c.JSON(http.StatusOK, models.RegenerateResponse{
			ID:       page.ID.String(),
			Status:   "kept",
			ImageURL: page.IllustrationURL,
		})

	case "revert":
		if err := h.store.RevertPageIllustration(page.ID); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to record decision",
				Message: err.Error(),
			})
			return
		}
		h.deleteArtifact(project.ID, page.IllustrationURL)
		// The sketch tracks the current illustration; re-derive it from the
		// restored artifact.
		h.orch.StartPageSketch(project, page.ID, page.PreviousIllustrationURL)
		c.JSON(http.StatusOK, models.RegenerateResponse{
			ID:       page.ID.String(),
			Status:   "reverted",
			ImageURL: page.PreviousIllustrationURL,
		})
	}
}

// SendIllustrations releases the illustrated pages to the customer.
func (h *PagesHandler) SendIllustrations(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	observed := status.Status(project.Status)
	next, err := status.Next(observed, status.Event{Kind: status.EventIllustrationsSent})
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "illustrations cannot be sent in current status",
			Message: err.Error(),
		})
		return
	}

	pages, err := h.store.GetProjectPages(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load pages",
			Message: err.Error(),
		})
		return
	}
	for i := range pages {
		if pages[i].IllustrationURL == "" {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "pages missing illustrations",
				Message: fmt.Sprintf("page %d has no illustration", pages[i].PageNumber),
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

	count, err := h.store.IncrementIllustrationSendCount(project.ID)
	if err != nil {
		h.log.Error("failed to increment illustration send count", "project_id", project.ID, "error", err)
		count = project.IllustrationSendCount + 1
	}

	reviewURL := fmt.Sprintf("%s/review/%s", h.baseURL, project.ReviewToken)
	h.notifier.CustomerEmail(project.ContactEmail,
		fmt.Sprintf("Your illustrations for %q are ready", project.Title),
		fmt.Sprintf("Hi %s,\n\nThe page illustrations for %q are ready for your review:\n%s\n", project.ContactName, project.Title, reviewURL))
	h.notifier.TeamMessage(fmt.Sprintf("Illustrations sent for review: %s (round %d)", project.Title, count))

	if h.realtime != nil {
		if err := h.realtime.PublishProjectEvent(project.ID, "status_changed",
			supabase.StatusChangedPayload(project.ID, string(next))); err != nil {
			h.log.Warn("failed to publish status event", "project_id", project.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:             project.ID.String(),
		Status:                string(next),
		CharacterSendCount:    project.CharacterSendCount,
		IllustrationSendCount: count,
	})
}

// CompleteProject closes out an approved project.
func (h *PagesHandler) CompleteProject(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	observed := status.Status(project.Status)
	next, err := status.Next(observed, status.Event{Kind: status.EventProjectCompleted})
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "project cannot be completed in current status",
			Message: err.Error(),
		})
		return
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

	h.notifier.TeamMessage(fmt.Sprintf("Project completed: %s", project.Title))

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:             project.ID.String(),
		Status:                string(next),
		CharacterSendCount:    project.CharacterSendCount,
		IllustrationSendCount: project.IllustrationSendCount,
	})
}

func (h *PagesHandler) lookupPage(c *gin.Context, project *models.Project) (*models.Page, bool) {
	pageID, err := uuid.Parse(c.Param("page_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid page id"})
		return nil, false
	}

	page, err := h.store.GetPage(pageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "page not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load page",
			Message: err.Error(),
		})
		return nil, false
	}
	if page.ProjectID != project.ID {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "page not found"})
		return nil, false
	}
	return page, true
}

// deleteArtifact removes a superseded file from storage, best effort. URLs
// outside the bucket resolve to an empty path and are skipped.
func (h *PagesHandler) deleteArtifact(projectID uuid.UUID, publicURL string) {
	path := h.storageClient.PathFromPublicURL(publicURL)
	if path == "" {
		return
	}
	if err := h.storageClient.DeleteFile(path); err != nil {
		h.log.Warn("failed to delete superseded artifact",
			"project_id", projectID, "path", path, "error", err)
	}
}
