package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"generation-gateway/internal/entity"
)

// Catalog lists the providers, models and credentials seeded at api start.
type Catalog struct {
	Providers []CatalogProvider `yaml:"providers"`
}

type CatalogProvider struct {
	Slug    string         `yaml:"slug"`
	Name    string         `yaml:"name"`
	BaseURL string         `yaml:"base_url"`
	Keys    []CatalogKey   `yaml:"keys"`
	Models  []CatalogModel `yaml:"models"`
}

type CatalogKey struct {
	Key      string `yaml:"key"`
	Priority int    `yaml:"priority"`
}

type CatalogModel struct {
	ID            string `yaml:"id"`
	Category      string `yaml:"category"`
	ExternalModel string `yaml:"external_model"`
	MaxRetries    *int   `yaml:"max_retries"`
}

// LoadCatalog reads a YAML catalog. ${VAR} references are expanded so keys
// can stay in the environment.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := map[string]bool{}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
		if p.Slug == "" {
			return fmt.Errorf("catalog: provider #%d has no slug", i+1)
		}
		if p.Name == "" {
			p.Name = p.Slug
		}
		for j := range p.Models {
			m := &p.Models[j]
			if m.ID == "" {
				return fmt.Errorf("catalog: provider %s model #%d has no id", p.Slug, j+1)
			}
			if seen[m.ID] {
				return fmt.Errorf("catalog: duplicate model id %s", m.ID)
			}
			seen[m.ID] = true
			cat, ok := entity.ParseCategory(m.Category)
			if !ok {
				return fmt.Errorf("catalog: model %s has unknown category %q", m.ID, m.Category)
			}
			m.Category = string(cat)
		}
		keys := p.Keys[:0]
		for _, k := range p.Keys {
			if strings.TrimSpace(k.Key) != "" {
				keys = append(keys, k)
			}
		}
		p.Keys = keys
	}
	return nil
}

// AddKeys appends env-provided keys to a provider, creating the entry when the
// catalog does not mention it. Earlier keys get higher priority.
func (c *Catalog) AddKeys(slug, name string, keys []string) {
	if len(keys) == 0 {
		return
	}
	var p *CatalogProvider
	for i := range c.Providers {
		if c.Providers[i].Slug == slug {
			p = &c.Providers[i]
			break
		}
	}
	if p == nil {
		c.Providers = append(c.Providers, CatalogProvider{Slug: slug, Name: name})
		p = &c.Providers[len(c.Providers)-1]
	}
	for i, k := range keys {
		p.Keys = append(p.Keys, CatalogKey{Key: k, Priority: len(keys) - i})
	}
}
