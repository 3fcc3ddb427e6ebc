package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
	"storybook-backend/internal/supabase"
)

type ProjectsHandler struct {
	store         *store.Store
	storageClient *supabase.StorageClient
	log           *logger.Logger
}

func NewProjectsHandler(s *store.Store, storageClient *supabase.StorageClient, log *logger.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		store:         s,
		storageClient: storageClient,
		log:           log,
	}
}

func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	project := &models.Project{
		ID:           uuid.New(),
		Title:        req.Title,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		Status:       string(status.StatusDraft),
		PageCount:    req.PageCount,
		ReviewToken:  newReviewToken(),
	}
	if req.Settings != nil {
		project.Settings = *req.Settings
	}

	created, err := h.store.CreateProject(project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to create project",
			Message: err.Error(),
		})
		return
	}

	// The main character exists before any extraction runs; its image URL
	// is the uploaded reference photo.
	main := &models.Character{
		ID:                     uuid.New(),
		ProjectID:              created.ID,
		Name:                   req.MainCharacter.Name,
		Role:                   req.MainCharacter.Role,
		IsMain:                 true,
		Age:                    req.MainCharacter.Age,
		Gender:                 req.MainCharacter.Gender,
		Skin:                   req.MainCharacter.Skin,
		Hair:                   req.MainCharacter.Hair,
		Eyes:                   req.MainCharacter.Eyes,
		Clothing:               req.MainCharacter.Clothing,
		Accessories:            req.MainCharacter.Accessories,
		DistinguishingFeatures: req.MainCharacter.DistinguishingFeatures,
		ImageURL:               req.MainCharacter.ReferencePhotoURL,
	}
	if _, err := h.store.CreateCharacter(main); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to create main character",
			Message: err.Error(),
		})
		return
	}

	h.log.Info("project created", "project_id", created.ID, "title", created.Title)
	c.JSON(http.StatusCreated, toProjectResponse(created))
}

func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	projects, err := h.store.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list projects",
			Message: err.Error(),
		})
		return
	}

	resp := models.ProjectListResponse{Projects: []models.ProjectResponse{}}
	for i := range projects {
		resp.Projects = append(resp.Projects, toProjectResponse(&projects[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ProjectsHandler) GetProject(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
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

	resp := models.ProjectDetailResponse{
		ProjectResponse: toProjectResponse(project),
		Characters:      []models.CharacterResponse{},
		Pages:           []models.PageResponse{},
	}
	for i := range characters {
		resp.Characters = append(resp.Characters, toCharacterResponse(&characters[i]))
	}
	for i := range pages {
		resp.Pages = append(resp.Pages, toPageResponse(&pages[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	// Storage cleanup is best-effort; the row delete is authoritative.
	if err := h.storageClient.DeleteProjectFiles(project.ID); err != nil {
		h.log.Warn("failed to delete project artifacts", "project_id", project.ID, "error", err)
	}

	if err := h.store.DeleteProject(project.ID); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to delete project",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ProjectsHandler) GetStatus(c *gin.Context) {
	project, ok := lookupProject(c, h.store)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:             project.ID.String(),
		Status:                string(status.Canonical(status.Status(project.Status))),
		StatusChangedAt:       project.StatusChangedAt,
		CharacterSendCount:    project.CharacterSendCount,
		IllustrationSendCount: project.IllustrationSendCount,
		ErrorMessage:          project.ErrorMessage.String,
		UpdatedAt:             project.UpdatedAt,
	})
}

func lookupProject(c *gin.Context, s *store.Store) (*models.Project, bool) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid project id"})
		return nil, false
	}

	project, err := s.GetProject(projectID)
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

func newReviewToken() string {
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}

func toProjectResponse(p *models.Project) models.ProjectResponse {
	return models.ProjectResponse{
		ID:                    p.ID.String(),
		Title:                 p.Title,
		Status:                string(status.Canonical(status.Status(p.Status))),
		PageCount:             p.PageCount,
		CharacterSendCount:    p.CharacterSendCount,
		IllustrationSendCount: p.IllustrationSendCount,
		ReviewToken:           p.ReviewToken,
		Settings:              p.Settings,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func toCharacterResponse(c *models.Character) models.CharacterResponse {
	return models.CharacterResponse{
		ID:        c.ID.String(),
		Name:      c.Name,
		Role:      c.Role,
		IsMain:    c.IsMain,
		AppearsIn: c.AppearsIn,
		ImageURL:  c.ImageURL,
		SketchURL: c.SketchURL,
		Feedback:  c.Feedback,
	}
}

func toPageResponse(p *models.Page) models.PageResponse {
	ids := make([]string, 0, len(p.CharacterIDs))
	for _, id := range p.CharacterIDs {
		ids = append(ids, id.String())
	}
	return models.PageResponse{
		ID:                      p.ID.String(),
		PageNumber:              p.PageNumber,
		StoryText:               p.StoryText,
		Scene:                   p.Scene,
		SceneAuthorSupplied:     p.SceneAuthorSupplied,
		CharacterIDs:            ids,
		IllustrationURL:         p.IllustrationURL,
		PreviousIllustrationURL: p.PreviousIllustrationURL,
		OriginalIllustrationURL: p.OriginalIllustrationURL,
		SketchURL:               p.SketchURL,
		Feedback:                p.Feedback,
	}
}
