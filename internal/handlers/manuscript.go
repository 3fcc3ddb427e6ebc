package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storybook-backend/internal/extraction"
	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
	"storybook-backend/internal/orchestrator"
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
	"storybook-backend/internal/supabase"
)

type ManuscriptHandler struct {
	store    *store.Store
	engine   *extraction.Engine
	orch     *orchestrator.Orchestrator
	realtime *supabase.RealtimeClient
	log      *logger.Logger
}

func NewManuscriptHandler(s *store.Store, engine *extraction.Engine, orch *orchestrator.Orchestrator, realtime *supabase.RealtimeClient, log *logger.Logger) *ManuscriptHandler {
	return &ManuscriptHandler{
		store:    s,
		engine:   engine,
		orch:     orch,
		realtime: realtime,
		log:      log,
	}
}

// SubmitManuscript ingests the page texts, runs character extraction
// synchronously, and kicks off the character generation batch. Extraction
// failures leave the project where it was so the admin can resubmit.
func (h *ManuscriptHandler) SubmitManuscript(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	var req models.ManuscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	observed := status.Status(project.Status)
	next, err := status.Next(observed, status.Event{Kind: status.EventManuscriptSubmitted})
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "manuscript not accepted in current status",
			Message: err.Error(),
		})
		return
	}

	existing, err := h.store.GetProjectPages(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load pages",
			Message: err.Error(),
		})
		return
	}
	if len(existing) > 0 {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "manuscript already submitted"})
		return
	}

	pages := make([]models.Page, 0, len(req.Pages))
	for i, mp := range req.Pages {
		page := &models.Page{
			ID:         uuid.New(),
			ProjectID:  project.ID,
			PageNumber: i + 1,
			StoryText:  mp.StoryText,
		}
		if mp.Scene != nil {
			page.Scene = *mp.Scene
			page.SceneAuthorSupplied = true
		}
		created, err := h.store.CreatePage(page)
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to create page",
				Message: err.Error(),
			})
			return
		}
		pages = append(pages, *created)
	}

	if project.PageCount != len(pages) {
		if err := h.store.UpdateProjectPageCount(project.ID, len(pages)); err != nil {
			h.log.Warn("failed to update page count", "project_id", project.ID, "error", err)
		}
		project.PageCount = len(pages)
	}

	cast, err := h.store.GetProjectCharacters(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load characters",
			Message: err.Error(),
		})
		return
	}

	result, err := h.engine.Run(c.Request.Context(), project, pages, cast)
	if err != nil {
		h.log.Error("character extraction failed", "project_id", project.ID, "error", err)
		if uerr := h.store.UpdateErrorMessage(project.ID, err.Error()); uerr != nil {
			h.log.Error("failed to record extraction error", "project_id", project.ID, "error", uerr)
		}
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "character extraction failed",
			Message: err.Error(),
		})
		return
	}

	if h.realtime != nil {
		if err := h.realtime.PublishProjectEvent(project.ID, "extraction_completed",
			supabase.ExtractionCompletedPayload(project.ID, len(result.Created))); err != nil {
			h.log.Warn("failed to publish extraction event", "project_id", project.ID, "error", err)
		}
	}

	// The batch claims the status transition itself; a concurrent submit
	// loses the claim and becomes a no-op.
	h.orch.StartCharacterBatch(project.ID, observed)

	c.JSON(http.StatusAccepted, models.ManuscriptResponse{
		ProjectID: project.ID.String(),
		Status:    string(next),
		PageCount: len(pages),
		Extraction: models.ExtractionSummary{
			Created:          len(result.Created),
			RemovedAsMain:    result.RemovedAsMain,
			RemovedAsPlural:  result.RemovedAsPlural,
			RemovedDuplicate: result.RemovedDuplicate,
			DroppedPageRefs:  result.DroppedPageRefs,
			ScenesGenerated:  result.ScenesGenerated,
		},
	})
}
