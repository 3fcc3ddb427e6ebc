package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storybook-backend/internal/models"
)

func TestCharacterValid(t *testing.T) {
	assert.True(t, (&models.Character{Name: "Luna"}).Valid())
	assert.True(t, (&models.Character{Role: "a talking owl"}).Valid())
	assert.False(t, (&models.Character{}).Valid())
}

func TestCharacterDisplayName(t *testing.T) {
	assert.Equal(t, "Luna", (&models.Character{Name: "Luna", Role: "owl"}).DisplayName())
	assert.Equal(t, "owl", (&models.Character{Role: "owl"}).DisplayName())
}

func TestFeedbackUnresolved(t *testing.T) {
	assert.False(t, models.Feedback{}.Unresolved())
	assert.True(t, models.Feedback{Note: "fix the hat"}.Unresolved())
	assert.False(t, models.Feedback{Note: "fix the hat", Resolved: true}.Unresolved())
}
