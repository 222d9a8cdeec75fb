package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"levra.org/internal/lifecycle"
)

// catalogFile models the optional project-type catalog:
//
//	project_types:
//	  mobile-app:
//	    label: Mobile App
//	    hours: 60
//	    cost: 40000
type catalogFile struct {
	// Replace drops the built-in catalog instead of extending it.
	Replace      bool                     `yaml:"replace"`
	ProjectTypes map[string]catalogRecord `yaml:"project_types"`
}

type catalogRecord struct {
	Label string `yaml:"label"`
	Hours int    `yaml:"hours"`
	Cost  int64  `yaml:"cost"`
}

// CatalogFromYAML merges the YAML catalog into the built-in defaults.
func CatalogFromYAML(data []byte) (lifecycle.Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	out := lifecycle.DefaultCatalog()
	if f.Replace {
		out = lifecycle.Catalog{}
	}
	for tag, rec := range f.ProjectTypes {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return nil, fmt.Errorf("catalog has an empty project type")
		}
		if rec.Hours < 0 || rec.Cost < 0 {
			return nil, fmt.Errorf("project type %s has a negative estimate", tag)
		}
		label := strings.TrimSpace(rec.Label)
		if label == "" {
			label = tag
		}
		out[tag] = lifecycle.Estimate{Label: label, Hours: rec.Hours, Cost: decimal.NewFromInt(rec.Cost)}
	}
	return out, nil
}

// LoadCatalog reads path, or returns the defaults when path is empty.
func LoadCatalog(path string) (lifecycle.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return lifecycle.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return CatalogFromYAML(data)
}
