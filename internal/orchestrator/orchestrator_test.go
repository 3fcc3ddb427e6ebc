package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
	"storybook-backend/internal/orchestrator"
	"storybook-backend/internal/pipeline"
	"storybook-backend/internal/status"
	"storybook-backend/internal/store"
)

type memStore struct {
	mu sync.Mutex

	project    *models.Project
	characters []models.Character
	pages      []models.Page

	claimAttempted chan struct{}
	claimOnce      sync.Once

	panicOnGetProject bool

	errorMsg   string
	imageURLs  map[uuid.UUID]string
	sketchURLs map[uuid.UUID]string
}

func newMemStore(project *models.Project) *memStore {
	return &memStore{
		project:        project,
		claimAttempted: make(chan struct{}),
		imageURLs:      map[uuid.UUID]string{},
		sketchURLs:     map[uuid.UUID]string{},
	}
}

func (m *memStore) GetProject(uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnGetProject {
		panic("database gone")
	}
	p := *m.project
	return &p, nil
}

func (m *memStore) GetProjectCharacters(uuid.UUID) ([]models.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Character, len(m.characters))
	copy(out, m.characters)
	for i := range out {
		if url, ok := m.imageURLs[out[i].ID]; ok {
			out[i].ImageURL = url
		}
	}
	return out, nil
}

func (m *memStore) GetProjectPages(uuid.UUID) ([]models.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Page, len(m.pages))
	copy(out, m.pages)
	for i := range out {
		if url, ok := m.imageURLs[out[i].ID]; ok {
			out[i].IllustrationURL = url
		}
	}
	return out, nil
}

func (m *memStore) TransitionStatus(_ uuid.UUID, from, to status.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimOnce.Do(func() { close(m.claimAttempted) })
	if status.Canonical(status.Status(m.project.Status)) != status.Canonical(from) {
		return store.ErrConflict
	}
	m.project.Status = string(to)
	return nil
}

func (m *memStore) UpdateErrorMessage(_ uuid.UUID, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsg = errorMsg
	return nil
}

func (m *memStore) UpdateCharacterImageURL(id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageURLs[id] = url
	return nil
}

func (m *memStore) UpdateCharacterSketchURL(id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sketchURLs[id] = url
	return nil
}

func (m *memStore) UpdatePageIllustration(id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageURLs[id] = url
	return nil
}

func (m *memStore) UpdatePageSketchURL(id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sketchURLs[id] = url
	return nil
}

func (m *memStore) currentStatus() status.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return status.Status(m.project.Status)
}

func (m *memStore) recordedError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorMsg
}

func (m *memStore) savedImages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imageURLs)
}

func (m *memStore) savedSketches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sketchURLs)
}

// fakeGenerator succeeds for every entity except those named in failFor.
type fakeGenerator struct {
	mu       sync.Mutex
	failFor  map[string]bool
	calls    int
	sketches int
}

func (g *fakeGenerator) GenerateCharacterImage(_ context.Context, project *models.Project, c *models.Character, _ *models.Character) (*pipeline.Artifact, error) {
	g.mu.Lock()
	g.calls++
	fail := g.failFor[c.DisplayName()]
	g.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("generation safety: SAFETY")
	}
	return &pipeline.Artifact{URL: "https://cdn/" + c.ID.String() + ".png"}, nil
}

func (g *fakeGenerator) GeneratePageIllustration(_ context.Context, project *models.Project, page *models.Page, _ *models.Page, _ []models.Character, _ *models.Character, _ pipeline.Options) (*pipeline.Artifact, error) {
	g.mu.Lock()
	g.calls++
	fail := g.failFor[fmt.Sprintf("page %d", page.PageNumber)]
	g.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("generation empty: no image data")
	}
	return &pipeline.Artifact{URL: "https://cdn/" + page.ID.String() + ".png"}, nil
}

func (g *fakeGenerator) GenerateSketch(_ context.Context, _ *models.Project, entityID uuid.UUID, _ string) (*pipeline.Artifact, error) {
	g.mu.Lock()
	g.sketches++
	g.mu.Unlock()
	return &pipeline.Artifact{URL: "https://cdn/" + entityID.String() + "-sketch.png"}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testCast(projectID uuid.UUID) []models.Character {
	return []models.Character{
		{ID: uuid.New(), ProjectID: projectID, Name: "Zara", IsMain: true, ImageURL: "https://cdn/zara.png"},
		{ID: uuid.New(), ProjectID: projectID, Name: "Luna"},
		{ID: uuid.New(), ProjectID: projectID, Name: "Pip"},
	}
}

func waitStatus(t *testing.T, s *memStore, want status.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.currentStatus() == want
	}, 3*time.Second, 10*time.Millisecond, "waiting for status %s, at %s", want, s.currentStatus())
}

func TestCharacterBatch_Success(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusDraft)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusDraft)

	waitStatus(t, s, status.StatusCharactersGenerated)

	// Both secondaries generated; the main character is untouched.
	assert.Equal(t, 2, gen.callCount())
	assert.Equal(t, 2, s.savedImages())

	// Sketches chain in the background for every success.
	require.Eventually(t, func() bool { return s.savedSketches() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestCharacterBatch_PartialFailure(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCharacterRevision)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	gen := &fakeGenerator{failFor: map[string]bool{"Pip": true}}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusCharacterRevision)

	waitStatus(t, s, status.StatusCharacterGenerationFailed)

	assert.Contains(t, s.recordedError(), "Pip")

	// The winner's image is saved and its sketch still chains, even though
	// the batch as a whole failed.
	assert.Equal(t, 1, s.savedImages())
	require.Eventually(t, func() bool { return s.savedSketches() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestCharacterBatch_RetryAfterFailure(t *testing.T) {
	// A failed round is not terminal: the batch claims from the failure
	// status and only regenerates the characters still missing images.
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCharacterGenerationFailed)}
	s := newMemStore(project)
	cast := testCast(project.ID)
	cast[1].ImageURL = "https://cdn/luna.png" // survived the failed round
	s.characters = cast
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusCharacterGenerationFailed)

	waitStatus(t, s, status.StatusCharactersGenerated)
	assert.Equal(t, 1, gen.callCount())
}

func TestCharacterBatch_ClaimConflict(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCompleted)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusDraft)

	<-s.claimAttempted
	time.Sleep(50 * time.Millisecond)

	// The claim lost; nothing was generated and the status is untouched.
	assert.Equal(t, 0, gen.callCount())
	assert.Equal(t, status.StatusCompleted, s.currentStatus())
}

func TestCharacterBatch_LegacyAliasClaim(t *testing.T) {
	// A row still carrying a pre-migration status satisfies the claim.
	project := &models.Project{ID: uuid.New(), Status: "new"}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusDraft)

	waitStatus(t, s, status.StatusCharactersGenerated)
}

func TestCharacterBatch_NoTargets(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusDraft)}
	s := newMemStore(project)
	cast := testCast(project.ID)
	for i := range cast {
		cast[i].ImageURL = "https://cdn/existing.png"
	}
	s.characters = cast
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusDraft)

	waitStatus(t, s, status.StatusCharactersGenerated)
	assert.Equal(t, 0, gen.callCount())
}

func TestCharacterBatch_PanicRecovery(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusDraft)}
	s := newMemStore(project)
	s.panicOnGetProject = true
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartCharacterBatch(project.ID, status.StatusDraft)

	waitStatus(t, s, status.StatusCharacterGenerationFailed)
	assert.NotEmpty(t, s.recordedError())
}

func TestIllustrationBatch_Success(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCharactersApproved)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	s.pages = []models.Page{
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 1},
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 2},
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 3},
	}
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartIllustrationBatch(project.ID, status.StatusCharactersApproved)

	waitStatus(t, s, status.StatusSketchesReview)
	assert.Equal(t, 3, gen.callCount())
	assert.Equal(t, 3, s.savedImages())
	require.Eventually(t, func() bool { return s.savedSketches() == 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestIllustrationBatch_PartialFailure(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCharactersApproved)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	s.pages = []models.Page{
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 1},
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 2},
	}
	gen := &fakeGenerator{failFor: map[string]bool{"page 2": true}}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartIllustrationBatch(project.ID, status.StatusCharactersApproved)

	waitStatus(t, s, status.StatusSketchGenerationFailed)
	assert.Contains(t, s.recordedError(), "page 2")
	assert.Equal(t, 1, s.savedImages())
}

func TestIllustrationBatch_SkipsAlreadyIllustrated(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Status: string(status.StatusCharactersApproved)}
	s := newMemStore(project)
	s.characters = testCast(project.ID)
	s.pages = []models.Page{
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 1, IllustrationURL: "https://cdn/p1.png"},
		{ID: uuid.New(), ProjectID: project.ID, PageNumber: 2},
	}
	gen := &fakeGenerator{}

	orch := orchestrator.New(s, gen, nil, logger.NewNop())
	orch.StartIllustrationBatch(project.ID, status.StatusCharactersApproved)

	waitStatus(t, s, status.StatusSketchesReview)
	assert.Equal(t, 1, gen.callCount())
}
