package model

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

// TaxonomyCategory defines one clause category the classifier can assign.
type TaxonomyCategory struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// Required categories drive gap analysis: a required category with no
	// confident classification becomes a Gap record.
	Required bool `yaml:"required" json:"required"`
	// RiskGuidance is passed to the scoring prompt for this category.
	RiskGuidance string `yaml:"risk_guidance" json:"risk_guidance,omitempty"`
}

// Taxonomy is the closed set of clause categories for classification and
// gap analysis.
type Taxonomy struct {
	Version    string             `yaml:"version" json:"version"`
	Categories []TaxonomyCategory `yaml:"categories" json:"categories"`
}

// Category returns the category with the given name, if present.
func (t *Taxonomy) Category(name string) (TaxonomyCategory, bool) {
	for _, c := range t.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return TaxonomyCategory{}, false
}

// Required returns the categories that must be present in a document.
func (t *Taxonomy) Required() []TaxonomyCategory {
	var out []TaxonomyCategory
	for _, c := range t.Categories {
		if c.Required {
			out = append(out, c)
		}
	}
	return out
}

// Names returns all category names in definition order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		names[i] = c.Name
	}
	return names
}

// LoadTaxonomy reads a taxonomy from a YAML file, falling back to the
// embedded default when path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data := defaultTaxonomyYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "taxonomy: read %s", path)
		}
		data = b
	}

	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "taxonomy: unmarshal")
	}
	if len(t.Categories) == 0 {
		return nil, eris.New("taxonomy: no categories defined")
	}
	return &t, nil
}
