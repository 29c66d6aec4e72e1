package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one entry of the policy menu offered to the language model.
type Category struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Level       string   `yaml:"level"`
	Keywords    []string `yaml:"keywords"`
	Tags        []string `yaml:"civic_tags"`
}

type Catalog struct {
	Version    int        `yaml:"version"`
	Categories []Category `yaml:"categories"`
}

// Default is the built-in ten-area menu.
func Default() Catalog {
	return Catalog{
		Version: 1,
		Categories: []Category{
			{ID: "climate-environment", Name: "Climate & Environmental Protection", Level: "federal",
				Description: "Environmental regulations, climate change mitigation, clean energy, and pollution control.",
				Keywords:    []string{"climate", "environment", "pollution", "renewable", "conservation"},
				Tags:        []string{"environment", "climate"}},
			{ID: "healthcare-access", Name: "Healthcare Access & Reform", Level: "federal",
				Description: "Healthcare accessibility, insurance, Medicare, Medicaid, and medical cost reduction.",
				Keywords:    []string{"health", "medical", "insurance", "hospital", "prescription"},
				Tags:        []string{"healthcare", "insurance"}},
			{ID: "education-support", Name: "Education & Student Support", Level: "federal",
				Description: "Educational funding, student loans, school quality, and teacher support.",
				Keywords:    []string{"education", "school", "college", "student", "teachers"},
				Tags:        []string{"education", "students"}},
			{ID: "economic-development", Name: "Economic Development & Jobs", Level: "federal",
				Description: "Job creation, economic growth, wages, trade, and employment opportunities.",
				Keywords:    []string{"job", "economy", "employment", "wages", "inflation"},
				Tags:        []string{"economy", "jobs"}},
			{ID: "civil-rights", Name: "Civil Rights & Liberties", Level: "federal",
				Description: "Individual rights, free speech, voting access, and civil liberties.",
				Keywords:    []string{"rights", "freedom", "speech", "voting", "discrimination"},
				Tags:        []string{"rights", "freedom"}},
			{ID: "government-transparency", Name: "Government Transparency & Ethics", Level: "federal",
				Description: "Open government, campaign finance, lobbying rules, and public ethics.",
				Keywords:    []string{"transparency", "corruption", "ethics", "lobbying", "accountability"},
				Tags:        []string{"governance", "ethics"}},
			{ID: "infrastructure-transportation", Name: "Infrastructure & Transportation", Level: "state",
				Description: "Roads, bridges, public transit, broadband, and utilities.",
				Keywords:    []string{"roads", "transit", "bridges", "broadband", "traffic"},
				Tags:        []string{"infrastructure", "transportation"}},
			{ID: "housing-development", Name: "Housing & Development", Level: "local",
				Description: "Housing affordability, zoning, homelessness, and rent.",
				Keywords:    []string{"housing", "rent", "zoning", "homeless", "mortgage"},
				Tags:        []string{"housing", "development"}},
			{ID: "public-safety", Name: "Public Safety & Justice", Level: "local",
				Description: "Policing, criminal justice reform, emergency services, and community safety.",
				Keywords:    []string{"police", "crime", "safety", "justice", "prison"},
				Tags:        []string{"safety", "justice"}},
			{ID: "social-services", Name: "Social Services & Welfare", Level: "state",
				Description: "Safety-net programs, childcare, senior services, and food assistance.",
				Keywords:    []string{"welfare", "childcare", "seniors", "food", "benefits"},
				Tags:        []string{"social_services", "welfare"}},
		},
	}
}

// Load reads a catalog from YAML. An empty path yields the default catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func (c Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return errors.New("no categories defined")
	}
	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if strings.TrimSpace(cat.ID) == "" || strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("category %d: id and name are required", i)
		}
		if seen[cat.ID] {
			return fmt.Errorf("duplicate category id %q", cat.ID)
		}
		seen[cat.ID] = true
	}
	return nil
}

// Lookup finds a category by id.
func (c Catalog) Lookup(id string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

// Menu renders the catalog as the bullet list embedded in model instructions.
func (c Catalog) Menu() string {
	var b strings.Builder
	for _, cat := range c.Categories {
		fmt.Fprintf(&b, "- %s (id: %s)\n", cat.Name, cat.ID)
	}
	return b.String()
}
