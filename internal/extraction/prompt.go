package extraction

import (
	"fmt"
	"strings"

	"storybook-backend/internal/models"
)

// buildManuscript concatenates the story text with explicit page markers so
// the model can report appearances by page number.
func buildManuscript(pages []models.Page) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "--- PAGE %d ---\n%s\n\n", p.PageNumber, p.StoryText)
	}
	return b.String()
}

func buildPrompt(manuscript string, main *models.Character, pageCount int) string {
	var b strings.Builder

	b.WriteString("You are analyzing a children's book manuscript to build its character list.\n\n")

	fmt.Fprintf(&b, "The main character is already known: %q", main.Name)
	if main.Role != "" {
		fmt.Fprintf(&b, " (%s)", main.Role)
	}
	b.WriteString(".\n")
	b.WriteString("Track every page the main character appears on, counting name variants, ")
	b.WriteString("nicknames, pronoun-only scenes, and role references (\"the girl\", \"our hero\") ")
	b.WriteString("as appearances of the same character.\n\n")

	b.WriteString("Then list the secondary characters. Include a character only if the author ")
	b.WriteString("would plausibly fill out a reference form for it: it is named or visually ")
	b.WriteString("distinct and matters to the story. Never include plural or group references ")
	b.WriteString("(\"the children\", \"several birds\"). Do not include the main character under ")
	b.WriteString("any name or alias. Strip possessives when naming (\"Zara's mom\" becomes \"Mom\").\n\n")

	fmt.Fprintf(&b, "The book has %d pages. Page numbers are strings.\n\n", pageCount)

	b.WriteString("Respond with JSON exactly in this shape:\n")
	b.WriteString(`{
  "main_appears_in": ["1", "2"],
  "secondary_characters": [
    {
      "name": "Mom",
      "role": "the main character's mother",
      "age": "", "gender": "", "skin": "", "hair": "", "eyes": "",
      "clothing": "", "accessories": "", "distinguishing_features": "",
      "appears_in": ["2", "3"]
    }
  ]
}`)
	b.WriteString("\n\nManuscript:\n\n")
	b.WriteString(manuscript)

	return b.String()
}

// buildScenePrompt asks for structured scene descriptions for the pages the
// author left blank. Actions are keyed by the character names listed per
// page so they line up with the reference labels at render time.
func buildScenePrompt(pages []models.Page, casts map[int][]string) string {
	var b strings.Builder

	b.WriteString("You are planning the illustrations of a children's picture book.\n")
	b.WriteString("For each page below, describe the scene to illustrate: what each listed ")
	b.WriteString("character is doing, the background, and the atmosphere. Use only the ")
	b.WriteString("characters listed for the page, with their names exactly as given. Keep ")
	b.WriteString("every description to one concrete sentence.\n\n")

	for _, p := range pages {
		fmt.Fprintf(&b, "--- PAGE %d ---\n%s\n", p.PageNumber, p.StoryText)
		if names := casts[p.PageNumber]; len(names) > 0 {
			fmt.Fprintf(&b, "Characters: %s\n", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with JSON exactly in this shape:\n")
	b.WriteString(`{
  "scenes": [
    {
      "page": "1",
      "actions": {"Mom": "waves from the doorway"},
      "background": "a sunlit kitchen",
      "atmosphere": "warm morning light"
    }
  ]
}`)
	b.WriteString("\n")

	return b.String()
}
