package extraction

import (
	"strings"

	"storybook-backend/internal/models"
)

// The model's own main/secondary split is not trusted: the filters below
// re-check every candidate deterministically. The heuristics are tuned
// empirically and are an approximation, not a classifier.

var articles = []string{"the ", "a ", "an "}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,!?'\"")
	for _, a := range articles {
		if strings.HasPrefix(s, a) {
			s = strings.TrimSpace(strings.TrimPrefix(s, a))
			break
		}
	}
	return s
}

var roleStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true,
	"who": true, "is": true, "in": true, "to": true, "with": true,
}

func roleTokens(role string) map[string]bool {
	tokens := map[string]bool{}
	for _, t := range strings.Fields(strings.ToLower(role)) {
		t = strings.Trim(t, ".,!?'\"")
		if t == "" || roleStopwords[t] {
			continue
		}
		tokens[t] = true
	}
	return tokens
}

func rolesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ta, tb := roleTokens(a), roleTokens(b)
	for t := range ta {
		if tb[t] {
			return true
		}
	}
	return false
}

// matchesMainCharacter is the fuzzy safety net against the model listing
// the main character as a secondary under an alias. Checks, in order:
// exact normalized name, substring containment either direction (guarded to
// names of at least three characters), role overlap, and for unnamed
// candidates a frequency heuristic combined with role overlap.
func matchesMainCharacter(candidate Candidate, main *models.Character) bool {
	if main == nil {
		return false
	}

	candName := normalize(candidate.Name)
	mainName := normalize(main.Name)

	if candName != "" && mainName != "" {
		if candName == mainName {
			return true
		}
		// Substring either way: "Zara the Explorer" contains "zara".
		// The length guard avoids false positives on very short names.
		if len(candName) >= 3 && len(mainName) >= 3 {
			if strings.Contains(candName, mainName) || strings.Contains(mainName, candName) {
				return true
			}
		}
	}

	if candName != "" && rolesOverlap(candidate.Role, main.Role) {
		return true
	}

	// An unnamed candidate that shows up on most pages and shares role
	// wording with the main character is almost always the main character.
	if candName == "" && len(candidate.AppearsIn) >= 3 && rolesOverlap(candidate.Role, main.Role) {
		return true
	}

	return false
}

// pluralExceptions are singular words the suffix rule would otherwise
// reject. Family titles stay here regardless of their final letter.
var pluralExceptions = map[string]bool{
	"mom":      true,
	"mum":      true,
	"dad":      true,
	"mama":     true,
	"papa":     true,
	"grandma":  true,
	"grandpa":  true,
	"granny":   true,
	"boss":     true,
	"princess": true,
	"ms":       true,
	"mrs":      true,
}

// pluralIndicators are phrases that mark a group reference even without a
// plural suffix.
var pluralIndicators = []string{
	"group of",
	"bunch of",
	"crowd of",
	"pair of",
	"several",
	"many",
	"some of",
	"children",
	"people",
	"kids",
	"classmates",
	"villagers",
	"townspeople",
}

// isPluralReference rejects group candidates: each character row must be
// one person, animal, or object the author would fill a form out for.
func isPluralReference(name, role string) bool {
	for _, phrase := range []string{name, role} {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		for _, ind := range pluralIndicators {
			if strings.Contains(p, ind) {
				return true
			}
		}
		words := strings.Fields(p)
		last := strings.Trim(words[len(words)-1], ".,!?'\"")
		if pluralExceptions[last] {
			continue
		}
		if strings.HasSuffix(last, "ss") {
			continue
		}
		if strings.HasSuffix(last, "s") {
			return true
		}
	}
	return false
}

// genericRoles may legitimately repeat across projects' casts (every book
// has a mom); they are deduplicated by verbatim comparison only.
var genericRoles = map[string]bool{
	"mom":     true,
	"mum":     true,
	"dad":     true,
	"mother":  true,
	"father":  true,
	"grandma": true,
	"grandpa": true,
	"teacher": true,
	"friend":  true,
}

// isDuplicateOfExisting drops candidates already present among the
// project's characters, so re-running extraction on an unchanged manuscript
// never creates duplicate rows.
func isDuplicateOfExisting(candidate Candidate, existing []models.Character) bool {
	candName := normalize(candidate.Name)
	candRole := normalize(candidate.Role)

	for i := range existing {
		name := normalize(existing[i].Name)
		role := normalize(existing[i].Role)

		if candName != "" && candName == name {
			return true
		}
		if candRole == "" || role == "" {
			continue
		}
		if genericRoles[candRole] {
			// Generic roles repeat unless the exact same role is already
			// on file.
			if strings.EqualFold(strings.TrimSpace(candidate.Role), strings.TrimSpace(existing[i].Role)) {
				return true
			}
			continue
		}
		if candRole == role {
			return true
		}
	}
	return false
}
