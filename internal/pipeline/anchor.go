package pipeline

import (
	"storybook-backend/internal/models"
)

// Mode is the generation mode for one illustration request. Detection is
// strict priority: scene recreation beats edit beats standard.
type Mode string

const (
	ModeSceneRecreation Mode = "scene_recreation"
	ModeEdit            Mode = "edit"
	ModeStandard        Mode = "standard"
)

// Options are the caller-supplied knobs for a page generation.
type Options struct {
	EditInstructions   string
	ExtraReferenceURLs []string
	RecreateSceneURL   string
}

func DetectMode(opts Options) Mode {
	if opts.RecreateSceneURL != "" {
		return ModeSceneRecreation
	}
	if opts.EditInstructions != "" || len(opts.ExtraReferenceURLs) > 0 {
		return ModeEdit
	}
	return ModeStandard
}

// anchorSelection is the resolved style source for a standard generation.
type anchorSelection struct {
	AnchorURL     string
	SecondaryURLs []string
}

// selectAnchor picks the master style anchor for standard mode, top rule
// wins: explicit project style references, then the first page's original
// artifact (the immutable first-generation copy, so style never degrades
// copy-over-copy), then the main character's reference image for page one.
func selectAnchor(project *models.Project, page *models.Page, firstPage *models.Page, main *models.Character) anchorSelection {
	if refs := project.Settings.StyleReferenceURLs; len(refs) > 0 {
		return anchorSelection{AnchorURL: refs[0], SecondaryURLs: refs[1:]}
	}

	if page.PageNumber > 1 && firstPage != nil && firstPage.OriginalIllustrationURL != "" {
		return anchorSelection{AnchorURL: firstPage.OriginalIllustrationURL}
	}

	if main != nil && main.ImageURL != "" {
		return anchorSelection{AnchorURL: main.ImageURL}
	}

	return anchorSelection{}
}
