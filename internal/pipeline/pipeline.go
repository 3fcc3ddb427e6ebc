// Package pipeline produces one image artifact per request, selecting the
// reference set and instruction so every generation stays visually
// consistent with the book's style anchor.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"storybook-backend/internal/gemini"
	"storybook-backend/internal/logger"
	"storybook-backend/internal/models"
)

// ImageModel is the AI image-generation boundary.
type ImageModel interface {
	GenerateImage(ctx context.Context, req gemini.ImageRequest) (*gemini.ImageResult, error)
}

// ArtifactStore persists produced images under fresh keys.
type ArtifactStore interface {
	UploadArtifact(projectID, entityID uuid.UUID, kind string, data []byte, mimeType string) (string, string, error)
}

// Artifact is the result of one generation: where it landed and the
// instruction that produced it.
type Artifact struct {
	URL         string
	StoragePath string
	Instruction string
	Mode        Mode
}

type Pipeline struct {
	model   ImageModel
	fetcher Fetcher
	store   ArtifactStore
	log     *logger.Logger
}

func New(model ImageModel, fetcher Fetcher, store ArtifactStore, log *logger.Logger) *Pipeline {
	return &Pipeline{
		model:   model,
		fetcher: fetcher,
		store:   store,
		log:     log,
	}
}

// GeneratePageIllustration produces one illustration for a page. firstPage
// supplies the book-wide style source for pages after the first; characters
// are the page's cast in display order.
func (p *Pipeline) GeneratePageIllustration(
	ctx context.Context,
	project *models.Project,
	page *models.Page,
	firstPage *models.Page,
	characters []models.Character,
	main *models.Character,
	opts Options,
) (*Artifact, error) {
	settings := resolveSettings(project, page)
	mode := DetectMode(opts)

	refs := newRefLoader(ctx, p.fetcher)
	var instruction string

	switch mode {
	case ModeSceneRecreation:
		refs.add(labelBaseScene, opts.RecreateSceneURL)
		addCharacterRefs(refs, characters)
		instruction = buildSceneRecreationInstruction(page, characters, settings)

	case ModeEdit:
		if page.IllustrationURL == "" {
			return nil, fmt.Errorf("page %d has no current illustration to edit", page.PageNumber)
		}
		refs.add(labelEditTarget, page.IllustrationURL)
		for _, url := range opts.ExtraReferenceURLs {
			refs.add(labelExtraRef, url)
		}
		instruction = buildEditInstruction(opts.EditInstructions)

	default:
		anchor := selectAnchor(project, page, firstPage, main)
		if anchor.AnchorURL != "" {
			refs.add(labelStyleAnchor, anchor.AnchorURL)
		}
		for _, url := range anchor.SecondaryURLs {
			refs.add(labelStyleRef, url)
		}
		addCharacterRefs(refs, characters)
		instruction = buildStandardInstruction(page, characters, settings)
	}

	if err := refs.err(); err != nil {
		return nil, err
	}

	result, err := p.generate(ctx, gemini.ImageRequest{
		Instruction: instruction,
		References:  refs.refs(),
		AspectRatio: settings.AspectRatio,
	})
	if err != nil {
		return nil, err
	}

	path, url, err := p.store.UploadArtifact(project.ID, page.ID, "illustrations", result.Data, result.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store illustration: %w", err)
	}

	p.log.Info("illustration generated",
		"project_id", project.ID, "page", page.PageNumber, "mode", mode, "url", url)

	return &Artifact{URL: url, StoragePath: path, Instruction: instruction, Mode: mode}, nil
}

// GenerateCharacterImage produces a character reference illustration. The
// main character anchors on its uploaded photo; secondaries anchor on the
// main character's generated image so the cast shares one style.
func (p *Pipeline) GenerateCharacterImage(
	ctx context.Context,
	project *models.Project,
	character *models.Character,
	main *models.Character,
) (*Artifact, error) {
	refs := newRefLoader(ctx, p.fetcher)
	hasAnchor := false

	if styleRefs := project.Settings.StyleReferenceURLs; len(styleRefs) > 0 {
		refs.add(labelStyleAnchor, styleRefs[0])
		for _, url := range styleRefs[1:] {
			refs.add(labelStyleRef, url)
		}
		hasAnchor = true
	} else if !character.IsMain && main != nil && main.ImageURL != "" {
		refs.add(labelStyleAnchor, main.ImageURL)
		hasAnchor = true
	}

	if character.IsMain && character.ImageURL != "" {
		// For the main character the uploaded photo drives likeness.
		refs.add("PHOTO REFERENCE", character.ImageURL)
	}

	instruction := buildCharacterInstruction(character, hasAnchor)

	if err := refs.err(); err != nil {
		return nil, err
	}

	result, err := p.generate(ctx, gemini.ImageRequest{
		Instruction: instruction,
		References:  refs.refs(),
		AspectRatio: "3:4",
	})
	if err != nil {
		return nil, err
	}

	path, url, err := p.store.UploadArtifact(project.ID, character.ID, "characters", result.Data, result.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store character image: %w", err)
	}

	p.log.Info("character image generated",
		"project_id", project.ID, "character", character.DisplayName(), "url", url)

	return &Artifact{URL: url, StoragePath: path, Instruction: instruction, Mode: ModeStandard}, nil
}

// GenerateSketch converts an existing artifact into line art.
func (p *Pipeline) GenerateSketch(
	ctx context.Context,
	project *models.Project,
	entityID uuid.UUID,
	sourceURL string,
) (*Artifact, error) {
	refs := newRefLoader(ctx, p.fetcher)
	refs.add("SOURCE IMAGE", sourceURL)
	if err := refs.err(); err != nil {
		return nil, err
	}

	result, err := p.generate(ctx, gemini.ImageRequest{
		Instruction: sketchInstruction,
		References:  refs.refs(),
	})
	if err != nil {
		return nil, err
	}

	path, url, err := p.store.UploadArtifact(project.ID, entityID, "sketches", result.Data, result.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store sketch: %w", err)
	}

	return &Artifact{URL: url, StoragePath: path, Instruction: sketchInstruction, Mode: ModeStandard}, nil
}

// generate calls the model with the bounded transient-only retry. Terminal
// reasons pass through untouched so callers see the specific cause.
func (p *Pipeline) generate(ctx context.Context, req gemini.ImageRequest) (*gemini.ImageResult, error) {
	var result *gemini.ImageResult
	err := gemini.RetryTransient(ctx, func() error {
		var genErr error
		result, genErr = p.model.GenerateImage(ctx, req)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func addCharacterRefs(refs *refLoader, characters []models.Character) {
	for i := range characters {
		if characters[i].ImageURL == "" {
			continue
		}
		refs.add(labelCharPrefix+characters[i].DisplayName(), characters[i].ImageURL)
	}
}

// refLoader accumulates labeled references, fetching each URL once and
// keeping the label-then-image order the model expects.
type refLoader struct {
	ctx     context.Context
	fetcher Fetcher
	loaded  []gemini.ImageRef
	cache   map[string][]byte
	mimes   map[string]string
	firstE  error
}

func newRefLoader(ctx context.Context, fetcher Fetcher) *refLoader {
	return &refLoader{
		ctx:     ctx,
		fetcher: fetcher,
		cache:   map[string][]byte{},
		mimes:   map[string]string{},
	}
}

func (r *refLoader) add(label, url string) {
	if r.firstE != nil || url == "" {
		return
	}
	data, ok := r.cache[url]
	mime := r.mimes[url]
	if !ok {
		var err error
		data, mime, err = r.fetcher.Fetch(r.ctx, url)
		if err != nil {
			r.firstE = fmt.Errorf("reference %q: %w", label, err)
			return
		}
		r.cache[url] = data
		r.mimes[url] = mime
	}
	r.loaded = append(r.loaded, gemini.ImageRef{Label: label, Data: data, MimeType: mime})
}

func (r *refLoader) refs() []gemini.ImageRef { return r.loaded }
func (r *refLoader) err() error             { return r.firstE }
