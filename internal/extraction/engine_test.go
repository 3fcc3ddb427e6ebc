package extraction_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-backend/internal/extraction"
	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
)

type fakeTextModel struct {
	response      string
	sceneResponse string
	err           error
	prompts       []string
}

func (f *fakeTextModel) GenerateJSON(_ context.Context, prompt string) ([]byte, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.prompts) > 1 && f.sceneResponse != "" {
		return []byte(f.sceneResponse), nil
	}
	return []byte(f.response), nil
}

type fakeStore struct {
	created       []models.Character
	appearsIn     map[uuid.UUID][]string
	pageCasts     map[uuid.UUID][]uuid.UUID
	scenes        map[uuid.UUID]models.SceneDescription
	sceneSupplied map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appearsIn:     map[uuid.UUID][]string{},
		pageCasts:     map[uuid.UUID][]uuid.UUID{},
		scenes:        map[uuid.UUID]models.SceneDescription{},
		sceneSupplied: map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) CreateCharacter(c *models.Character) (*models.Character, error) {
	f.created = append(f.created, *c)
	return c, nil
}

func (f *fakeStore) UpdateCharacterAppearsIn(characterID uuid.UUID, appearsIn []string) error {
	f.appearsIn[characterID] = appearsIn
	return nil
}

func (f *fakeStore) UpdatePageCharacterIDs(pageID uuid.UUID, characterIDs []uuid.UUID) error {
	f.pageCasts[pageID] = characterIDs
	return nil
}

func (f *fakeStore) UpdatePageScene(pageID uuid.UUID, scene models.SceneDescription, authorSupplied bool) error {
	f.scenes[pageID] = scene
	f.sceneSupplied[pageID] = authorSupplied
	return nil
}

func testProject(pageCount int) (*models.Project, []models.Page, []models.Character) {
	project := &models.Project{ID: uuid.New(), PageCount: pageCount}
	pages := make([]models.Page, pageCount)
	for i := range pages {
		pages[i] = models.Page{ID: uuid.New(), ProjectID: project.ID, PageNumber: i + 1}
	}
	main := models.Character{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Name:      "Zara",
		Role:      "a brave young explorer",
		IsMain:    true,
	}
	return project, pages, []models.Character{main}
}

func TestEngine_Run(t *testing.T) {
	model := &fakeTextModel{response: `{
		"main_appears_in": ["1", "2", "3"],
		"secondary_characters": [
			{"name": "Luna", "role": "a talking owl", "appears_in": ["1", "3"]},
			{"name": "Zara the Explorer", "role": "explorer", "appears_in": ["2"]},
			{"name": "Teachers", "role": "", "appears_in": ["2"]},
			{"name": "Pip", "role": "a small mouse", "appears_in": ["2", "9"]}
		]
	}`}
	store := newFakeStore()
	engine := extraction.NewEngine(model, store, logger.NewNop())

	project, pages, cast := testProject(3)
	result, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)

	assert.Len(t, result.Created, 2)
	assert.Equal(t, "Luna", result.Created[0].Name)
	assert.Equal(t, "Pip", result.Created[1].Name)
	assert.Equal(t, 1, result.RemovedAsMain)
	assert.Equal(t, 1, result.RemovedAsPlural)
	assert.Equal(t, 0, result.RemovedDuplicate)
	assert.Equal(t, 1, result.DroppedPageRefs) // Pip's page 9

	// The manuscript prompt carries each page's text marker.
	assert.Contains(t, model.prompts[0], "--- PAGE 1 ---")
	assert.Contains(t, model.prompts[0], "--- PAGE 3 ---")

	// Main appearances come from the model when valid.
	mainID := cast[0].ID
	assert.Equal(t, []string{"1", "2", "3"}, store.appearsIn[mainID])

	// Page casts rebuilt from validated appearances: page 1 has main + Luna.
	lunaID := store.created[0].ID
	assert.ElementsMatch(t, []uuid.UUID{mainID, lunaID}, store.pageCasts[pages[0].ID])
}

func TestEngine_Run_Idempotent(t *testing.T) {
	response := `{
		"main_appears_in": ["1"],
		"secondary_characters": [
			{"name": "Luna", "role": "a talking owl", "appears_in": ["1"]}
		]
	}`
	store := newFakeStore()
	engine := extraction.NewEngine(&fakeTextModel{response: response}, store, logger.NewNop())

	project, pages, cast := testProject(1)
	first, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	// A re-run against the grown cast creates nothing new.
	cast = append(cast, first.Created...)
	second, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, 1, second.RemovedDuplicate)
}

func TestEngine_Run_GeneratesScenes(t *testing.T) {
	model := &fakeTextModel{
		response: `{
			"main_appears_in": ["1", "2"],
			"secondary_characters": [
				{"name": "Luna", "role": "a talking owl", "appears_in": ["2"]}
			]
		}`,
		sceneResponse: `{"scenes": [
			{"page": "1", "actions": {"Zara": "runs down the hill"}, "background": "a green hillside", "atmosphere": "bright afternoon"},
			{"page": "2", "actions": {"Zara": "stops to listen", "Luna": "perches on a low branch"}, "background": "the forest edge", "atmosphere": "dusky and quiet"}
		]}`,
	}
	store := newFakeStore()
	engine := extraction.NewEngine(model, store, logger.NewNop())

	project, pages, cast := testProject(2)
	result, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ScenesGenerated)

	// The scene prompt lists each blank page with its cast.
	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[1], "--- PAGE 2 ---")
	assert.Contains(t, model.prompts[1], "Characters: Zara, Luna")

	// Generated scenes are persisted as machine-generated, ready to drive
	// the illustration instruction.
	scene := store.scenes[pages[0].ID]
	assert.Equal(t, "runs down the hill", scene.Actions["Zara"])
	assert.Equal(t, "a green hillside", scene.Background)
	assert.False(t, store.sceneSupplied[pages[0].ID])
	assert.Equal(t, "the forest edge", store.scenes[pages[1].ID].Background)
}

func TestEngine_Run_AuthorScenesUntouched(t *testing.T) {
	model := &fakeTextModel{
		response:      `{"main_appears_in": ["1"], "secondary_characters": []}`,
		sceneResponse: `{"scenes": [{"page": "1", "background": "a replacement scene"}]}`,
	}
	store := newFakeStore()
	engine := extraction.NewEngine(model, store, logger.NewNop())

	project, pages, cast := testProject(1)
	pages[0].Scene = models.SceneDescription{Background: "the author's kitchen"}
	pages[0].SceneAuthorSupplied = true

	result, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ScenesGenerated)

	// No blank pages, so no scene model call and no scene writes.
	assert.Len(t, model.prompts, 1)
	assert.Empty(t, store.scenes)
}

func TestEngine_Run_MalformedResponse(t *testing.T) {
	store := newFakeStore()
	engine := extraction.NewEngine(&fakeTextModel{response: `not json`}, store, logger.NewNop())

	project, pages, cast := testProject(1)
	_, err := engine.Run(context.Background(), project, pages, cast)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
	assert.Empty(t, store.created)
}

func TestEngine_Run_MissingSecondaryField(t *testing.T) {
	engine := extraction.NewEngine(&fakeTextModel{response: `{"main_appears_in": ["1"]}`}, newFakeStore(), logger.NewNop())

	project, pages, cast := testProject(1)
	_, err := engine.Run(context.Background(), project, pages, cast)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing secondary_characters")
}

func TestEngine_Run_MainAppearanceFallback(t *testing.T) {
	// All model-reported main appearances are out of range; the engine falls
	// back to every page rather than an empty list.
	model := &fakeTextModel{response: `{
		"main_appears_in": ["9", "10"],
		"secondary_characters": []
	}`}
	store := newFakeStore()
	engine := extraction.NewEngine(model, store, logger.NewNop())

	project, pages, cast := testProject(2)
	result, err := engine.Run(context.Background(), project, pages, cast)
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Equal(t, []string{"1", "2"}, store.appearsIn[cast[0].ID])
}

func TestEngine_Run_NoMainCharacter(t *testing.T) {
	engine := extraction.NewEngine(&fakeTextModel{}, newFakeStore(), logger.NewNop())

	project, pages, _ := testProject(1)
	_, err := engine.Run(context.Background(), project, pages, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no main character")
}
