package pipeline

import (
	"fmt"
	"strings"

	"storybook-backend/internal/models"
)

// Reference labels. Each label is sent immediately before its image so the
// model binds identity to appearance instead of inferring it from prose.
const (
	labelStyleAnchor = "MASTER STYLE ANCHOR"
	labelStyleRef    = "Secondary style reference"
	labelCharPrefix  = "Character reference: "
	labelBaseScene   = "BASE SCENE"
	labelEditTarget  = "CURRENT IMAGE"
	labelExtraRef    = "Additional reference"
)

const styleAnchorClause = "Match the rendering technique of the MASTER STYLE ANCHOR exactly: " +
	"the same line weight, the same palette, flat/vector versus painterly exactly as the anchor. " +
	"Do not drift toward photorealism or any style the anchor does not show."

func buildStandardInstruction(page *models.Page, characters []models.Character, settings renderSettings) string {
	var b strings.Builder

	b.WriteString("Illustrate one scene of a children's picture book.\n\n")

	if len(page.Scene.Actions) > 0 {
		b.WriteString("Characters in this scene:\n")
		for i := range characters {
			name := characters[i].DisplayName()
			action, ok := page.Scene.Actions[name]
			if !ok {
				action = "present in the scene"
			}
			fmt.Fprintf(&b, "- %s: %s\n", name, action)
		}
		b.WriteString("\n")
	}

	if page.Scene.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", page.Scene.Background)
	}
	if page.Scene.Atmosphere != "" {
		fmt.Fprintf(&b, "Atmosphere: %s\n", page.Scene.Atmosphere)
	}
	b.WriteString("\n")

	b.WriteString("Each character must look exactly like its labeled reference image above.\n")
	b.WriteString(styleAnchorClause)
	b.WriteString("\n\n")

	writeLayoutRules(&b, settings)
	writeTextRules(&b, settings)

	return b.String()
}

func buildEditInstruction(instructions string) string {
	var b strings.Builder
	b.WriteString("Modify the CURRENT IMAGE. This is an edit of an existing illustration, ")
	b.WriteString("not a new scene: keep everything not mentioned below exactly as it is.\n\n")
	fmt.Fprintf(&b, "Requested changes:\n%s\n\n", instructions)
	b.WriteString("Preserve the current image's rendering style, palette, and line weight.\n")
	return b.String()
}

func buildSceneRecreationInstruction(page *models.Page, characters []models.Character, settings renderSettings) string {
	var b strings.Builder

	b.WriteString("Recreate the environment of the BASE SCENE image with different characters.\n")
	b.WriteString("The BASE SCENE is ground truth for the setting: keep its location, background ")
	b.WriteString("elements, lighting, and rendering style.\n")
	b.WriteString("Remove every character that appears in the BASE SCENE.\n\n")

	b.WriteString("Insert the characters shown in the labeled references, doing the following:\n")
	for i := range characters {
		name := characters[i].DisplayName()
		action := page.Scene.Actions[name]
		if action == "" {
			action = "present in the scene"
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, action)
	}
	b.WriteString("\nDo not copy the poses or positions of the characters from the BASE SCENE; ")
	b.WriteString("pose the new characters from their described actions only.\n\n")

	writeLayoutRules(&b, settings)
	writeTextRules(&b, settings)

	return b.String()
}

type renderSettings struct {
	AspectRatio string
	TextMode    string
	Layout      string
}

// resolveSettings applies the per-page overrides on top of the project
// defaults.
func resolveSettings(project *models.Project, page *models.Page) renderSettings {
	s := renderSettings{
		AspectRatio: project.Settings.AspectRatio,
		TextMode:    project.Settings.TextMode,
		Layout:      "normal",
	}
	if page == nil {
		return s
	}
	if page.Settings.AspectRatio != "" {
		s.AspectRatio = page.Settings.AspectRatio
	}
	if page.Settings.TextMode != "" {
		s.TextMode = page.Settings.TextMode
	}
	if page.Settings.Layout != "" {
		s.Layout = page.Settings.Layout
	}
	return s
}

func writeLayoutRules(b *strings.Builder, settings renderSettings) {
	switch settings.Layout {
	case "spread":
		b.WriteString("Composition: this is a double-page spread. Keep all focal content ")
		b.WriteString("(faces, hands, key objects) out of the central 10% of the image width, ")
		b.WriteString("where the binding gutter falls. The background may cross the center.\n")
	case "spot":
		b.WriteString("Composition: this is a spot illustration. Use an unbounded vignette ")
		b.WriteString("composition that fades into plain white at the edges. Do not fill the ")
		b.WriteString("rectangle; no background wall-to-wall.\n")
	default:
		b.WriteString("Composition: a single full page.\n")
	}
}

func writeTextRules(b *strings.Builder, settings renderSettings) {
	if settings.TextMode != "embedded" {
		return
	}
	b.WriteString("Reserve an empty, visually calm region inset from the edges where the ")
	b.WriteString("story text will be typeset later. Do not render any letters, words, ")
	b.WriteString("or glyphs of any kind yourself; leave the reserved region blank.\n")
}

func buildCharacterInstruction(c *models.Character, hasStyleAnchor bool) string {
	var b strings.Builder

	b.WriteString("Create a full-body character reference illustration for a children's ")
	b.WriteString("picture book: the character standing, facing forward, on a plain white ")
	b.WriteString("background, no scenery, no text.\n\n")

	fmt.Fprintf(&b, "Character: %s", c.DisplayName())
	if c.Role != "" && c.Name != "" {
		fmt.Fprintf(&b, " (%s)", c.Role)
	}
	b.WriteString("\n")

	traits := []struct{ label, value string }{
		{"Age", c.Age},
		{"Gender", c.Gender},
		{"Skin", c.Skin},
		{"Hair", c.Hair},
		{"Eyes", c.Eyes},
		{"Clothing", c.Clothing},
		{"Accessories", c.Accessories},
		{"Distinguishing features", c.DistinguishingFeatures},
	}
	for _, t := range traits {
		if t.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", t.label, t.value)
		}
	}
	b.WriteString("\n")

	if hasStyleAnchor {
		b.WriteString(styleAnchorClause)
		b.WriteString("\n")
	}

	return b.String()
}

const sketchInstruction = "Convert this illustration into clean black-and-white line art: " +
	"uniform line weight, no shading, no color fills, white background. " +
	"Keep every shape and proportion exactly as the original."
