package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storybook-backend/internal/models"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "zara", normalize("  The Zara "))
	assert.Equal(t, "old wizard", normalize("an Old Wizard"))
	assert.Equal(t, "luna", normalize("Luna!"))
	assert.Equal(t, "", normalize("  "))
}

func TestMatchesMainCharacter(t *testing.T) {
	main := &models.Character{Name: "Zara", Role: "a brave young explorer", IsMain: true}

	tests := []struct {
		name      string
		candidate Candidate
		want      bool
	}{
		{"exact name", Candidate{Name: "Zara"}, true},
		{"aliased name", Candidate{Name: "Zara the Explorer"}, true},
		{"article prefix", Candidate{Name: "the zara"}, true},
		{"role overlap with name", Candidate{Name: "Brave Girl", Role: "explorer of the jungle"}, true},
		{"unnamed frequent with role overlap", Candidate{Role: "young explorer", AppearsIn: []string{"1", "2", "3"}}, true},
		{"unnamed infrequent", Candidate{Role: "young explorer", AppearsIn: []string{"1"}}, false},
		{"different character", Candidate{Name: "Luna", Role: "a talking owl"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesMainCharacter(tt.candidate, main))
		})
	}
}

func TestMatchesMainCharacter_ShortNameGuard(t *testing.T) {
	main := &models.Character{Name: "Al", Role: "pilot"}

	// Two-letter names are never matched by containment; "Alice" would
	// otherwise swallow "Al".
	assert.False(t, matchesMainCharacter(Candidate{Name: "Alice", Role: "baker"}, main))
	assert.True(t, matchesMainCharacter(Candidate{Name: "Al"}, main))
}

func TestMatchesMainCharacter_NilMain(t *testing.T) {
	assert.False(t, matchesMainCharacter(Candidate{Name: "Zara"}, nil))
}

func TestIsPluralReference(t *testing.T) {
	tests := []struct {
		name string
		role string
		want bool
	}{
		{"Teachers", "", true},
		{"", "the villagers", true},
		{"", "group of kids", true},
		{"The Children", "", true},
		{"", "several townspeople", true},
		{"Mom", "", false},
		{"", "her dad", false},
		{"Grandma", "", false},
		{"The Boss", "", false},
		{"Princess", "", false},
		{"Miss Daisy", "", false},
		{"Luna", "a talking owl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, isPluralReference(tt.name, tt.role))
		})
	}
}

func TestIsDuplicateOfExisting(t *testing.T) {
	existing := []models.Character{
		{Name: "Luna", Role: "a talking owl"},
		{Role: "Mom"},
		{Role: "the royal baker"},
	}

	// Name match wins regardless of role.
	assert.True(t, isDuplicateOfExisting(Candidate{Name: "luna", Role: "something else"}, existing))

	// Generic roles compare verbatim only: the same "Mom" is a duplicate,
	// a differently-worded parent is not.
	assert.True(t, isDuplicateOfExisting(Candidate{Role: "mom"}, existing))
	assert.False(t, isDuplicateOfExisting(Candidate{Role: "mother"}, existing))

	// Specific roles compare normalized.
	assert.True(t, isDuplicateOfExisting(Candidate{Role: "The Royal Baker"}, existing))
	assert.False(t, isDuplicateOfExisting(Candidate{Name: "Pip", Role: "a mouse"}, existing))
}

func TestValidPageNumbers(t *testing.T) {
	valid, dropped := validPageNumbers([]string{"1", "2", "2", "7", "x", "0"}, 3)
	assert.Equal(t, []string{"1", "2"}, valid)
	assert.Equal(t, 3, dropped)
}
