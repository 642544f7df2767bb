package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	names := make([]string, 0, len(c.Steps))
	for _, s := range c.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"gender", "relationship", "ethnicity", "education", "diet",
		"faith", "politics", "kids", "exercise", "habits",
	}, names)
	assert.Equal(t, "/matches", c.CompletePath)

	diet, ok := c.Step("diet")
	require.True(t, ok)
	assert.True(t, diet.Mandatory)
	assert.Equal(t, "/onboarding/diet", c.Path(diet))

	s, ok := c.StepForNumber(11)
	require.True(t, ok)
	assert.Equal(t, "habits", s.Name)
	assert.Len(t, c.AllNumbers(), 11)
}

func TestLoadCatalogRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "steps: []"},
		{"unnamed", "steps:\n  - question_numbers: [1]"},
		{"duplicate", "steps:\n  - {name: a, question_numbers: [1]}\n  - {name: a, question_numbers: [2]}"},
		{"no numbers", "steps:\n  - {name: a}"},
		{"shared number", "steps:\n  - {name: a, question_numbers: [1]}\n  - {name: b, question_numbers: [1]}"},
		{"not yaml", "steps: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
