package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTaxonomy_EmbeddedDefault(t *testing.T) {
	tax, err := LoadTaxonomy("")
	require.NoError(t, err)
	assert.NotEmpty(t, tax.Version)
	assert.NotEmpty(t, tax.Categories)

	// The default taxonomy must carry at least one required category so gap
	// analysis has something to check.
	assert.NotEmpty(t, tax.Required())

	for _, c := range tax.Categories {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Description, "category %s needs a description for the classify prompt", c.Name)
	}
}

func TestLoadTaxonomy_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	content := `version: "test-1"
categories:
  - name: indemnification
    description: Who covers whose losses.
    required: true
    risk_guidance: Uncapped indemnities are high risk.
  - name: governing_law
    description: Which jurisdiction's law applies.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	assert.Equal(t, "test-1", tax.Version)
	assert.Equal(t, []string{"indemnification", "governing_law"}, tax.Names())

	cat, ok := tax.Category("indemnification")
	require.True(t, ok)
	assert.True(t, cat.Required)
	assert.Equal(t, "Uncapped indemnities are high risk.", cat.RiskGuidance)

	_, ok = tax.Category("nonsense")
	assert.False(t, ok)

	req := tax.Required()
	require.Len(t, req, 1)
	assert.Equal(t, "indemnification", req[0].Name)
}

func TestLoadTaxonomy_MissingFile(t *testing.T) {
	_, err := LoadTaxonomy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadTaxonomy_EmptyCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "v"`), 0o644))

	_, err := LoadTaxonomy(path)
	assert.Error(t, err)
}
