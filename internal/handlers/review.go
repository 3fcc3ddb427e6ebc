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
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
)

// ReviewHandler serves the customer-facing review surface. Requests carry
// the project's review token in the path instead of a JWT.
type ReviewHandler struct {
	store    *store.Store
	orch     *orchestrator.Orchestrator
	notifier *notify.Notifier
	log      *logger.Logger
}

func NewReviewHandler(s *store.Store, orch *orchestrator.Orchestrator, notifier *notify.Notifier, log *logger.Logger) *ReviewHandler {
	return &ReviewHandler{
		store:    s,
		orch:     orch,
		notifier: notifier,
		log:      log,
	}
}

// GetProject returns the review view: the project with its cast and pages.
func (h *ReviewHandler) GetProject(c *gin.Context) {
	project, ok := h.lookupByToken(c)
	if !ok {
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
	pages, err := h.store.GetProjectPages(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load pages",
			Message: err.Error(),
		})
		return
	}

	resp := models.ProjectDetailResponse{ProjectResponse: toProjectResponse(project)}
	for i := range characters {
		resp.Characters = append(resp.Characters, toCharacterResponse(&characters[i]))
	}
	for i := range pages {
		resp.Pages = append(resp.Pages, toPageResponse(&pages[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitCharacterReview applies the customer's character verdicts and moves
// the workflow. Missing images force another generation round regardless of
// the verdict; open notes beat approval.
func (h *ReviewHandler) SubmitCharacterReview(c *gin.Context) {
	project, ok := h.lookupByToken(c)
	if !ok {
		return
	}

	var req models.CharacterReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	for _, item := range req.Items {
		characterID, err := uuid.Parse(item.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid character id",
				Message: item.ID,
			})
			return
		}
		character, err := h.store.GetCharacter(characterID)
		if err != nil || character.ProjectID != project.ID {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "character not found"})
			return
		}
		if err := h.store.UpdateCharacterFeedback(characterID, applyReviewItem(character.Feedback, item)); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to save feedback",
				Message: err.Error(),
			})
			return
		}
	}

	characters, err := h.store.GetProjectCharacters(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load characters",
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

	missing := false
	for i := range characters {
		if !characters[i].IsMain && characters[i].ImageURL == "" {
			missing = true
			break
		}
	}
	unresolved := !req.Approved || hasOpenFeedback(characters, pages)

	observed := status.Status(project.Status)
	ev := status.Event{
		Kind:               status.EventCharacterReviewSubmitted,
		MissingImages:      missing,
		UnresolvedFeedback: unresolved,
		SendCount:          project.CharacterSendCount,
	}
	next, err := status.Next(observed, ev)
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "review not accepted in current status",
			Message: err.Error(),
		})
		return
	}

	if next == status.StatusCharactersGenerating {
		// The generation batch claims the transition itself.
		h.orch.StartCharacterBatch(project.ID, observed)
	} else {
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
	}

	h.notifier.TeamMessage(fmt.Sprintf("Character review for %s: %s", project.Title, next))

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:          project.ID.String(),
		Status:             string(next),
		CharacterSendCount: project.CharacterSendCount,
	})
}

// SubmitIllustrationReview applies the customer's page verdicts. Open notes
// beat approval; approval moves the project to illustrations_approved.
func (h *ReviewHandler) SubmitIllustrationReview(c *gin.Context) {
	project, ok := h.lookupByToken(c)
	if !ok {
		return
	}

	var req models.IllustrationReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	for _, item := range req.Items {
		pageID, err := uuid.Parse(item.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid page id",
				Message: item.ID,
			})
			return
		}
		page, err := h.store.GetPage(pageID)
		if err != nil || page.ProjectID != project.ID {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "page not found"})
			return
		}
		if err := h.store.UpdatePageFeedback(pageID, applyReviewItem(page.Feedback, item)); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "failed to save feedback",
				Message: err.Error(),
			})
			return
		}
	}

	pages, err := h.store.GetProjectPages(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load pages",
			Message: err.Error(),
		})
		return
	}

	unresolved := !req.Approved || hasOpenFeedback(nil, pages)

	observed := status.Status(project.Status)
	ev := status.Event{
		Kind:               status.EventIllustrationReviewSubmitted,
		UnresolvedFeedback: unresolved,
		SendCount:          project.IllustrationSendCount,
	}
	next, err := status.Next(observed, ev)
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "review not accepted in current status",
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

	h.notifier.TeamMessage(fmt.Sprintf("Illustration review for %s: %s", project.Title, next))

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:             project.ID.String(),
		Status:                string(next),
		IllustrationSendCount: project.IllustrationSendCount,
	})
}

func (h *ReviewHandler) lookupByToken(c *gin.Context) (*models.Project, bool) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "project not found"})
		return nil, false
	}
	project, err := h.store.GetProjectByReviewToken(token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "project not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load project",
			Message: err.Error(),
		})
		return nil, false
	}
	return project, true
}

// hasOpenFeedback reports whether any character or page still carries an
// open note. The character-phase decision consults page notes too; a note
// left on a page blocks approval the same as one on a character.
func hasOpenFeedback(characters []models.Character, pages []models.Page) bool {
	for i := range characters {
		if characters[i].Feedback.Unresolved() {
			return true
		}
	}
	for i := range pages {
		if pages[i].Feedback.Unresolved() {
			return true
		}
	}
	return false
}

// applyReviewItem folds one verdict into the feedback state. A new note
// archives the old one; resolving closes the open note.
func applyReviewItem(f models.Feedback, item models.ReviewItem) models.Feedback {
	if item.Note != "" {
		if f.Note != "" && f.Note != item.Note {
			f.History = append(f.History, f.Note)
		}
		f.Note = item.Note
		f.Resolved = false
	}
	if item.Resolved {
		f.Resolved = true
	}
	return f
}
