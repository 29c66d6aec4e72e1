package provider

import (
	"strings"

	"civicmatch/internal/match"
)

type family struct {
	ID          string
	Title       string
	Description string
	Topic       string
	Keywords    []string
	Tags        []string
}

// families is scanned in order; the first family with a keyword present in
// the input wins.
var families = []family{
	{
		ID:          "climate-environment",
		Title:       "Climate & Environmental Protection",
		Description: "Policies addressing environmental concerns, climate change, and pollution control",
		Topic:       "environmental",
		Keywords:    []string{"environment", "climate", "pollution"},
		Tags:        []string{"environment", "climate"},
	},
	{
		ID:          "healthcare-access",
		Title:       "Healthcare Access & Reform",
		Description: "Policies related to healthcare accessibility, insurance, and medical services",
		Topic:       "healthcare",
		Keywords:    []string{"health", "medical", "insurance"},
		Tags:        []string{"healthcare", "insurance"},
	},
	{
		ID:          "education-support",
		Title:       "Education & Student Support",
		Description: "Policies addressing educational funding, accessibility, and student support",
		Topic:       "education",
		Keywords:    []string{"education", "school", "college"},
		Tags:        []string{"education", "students"},
	},
	{
		ID:          "economic-development",
		Title:       "Economic Development & Jobs",
		Description: "Policies focused on job creation, economic growth, and employment opportunities",
		Topic:       "economic",
		Keywords:    []string{"job", "economy", "employment"},
		Tags:        []string{"economy", "jobs"},
	},
	{
		ID:          "civil-rights",
		Title:       "Civil Rights & Liberties",
		Description: "Policies protecting individual rights, freedoms, and civil liberties",
		Topic:       "civil rights",
		Keywords:    []string{"speech", "freedom", "rights"},
		Tags:        []string{"rights", "freedom"},
	},
}

var generalPolicy = family{
	ID:          "general-policy",
	Title:       "General Policy & Governance",
	Description: "Broad policy category addressing citizen concerns and government responsiveness",
	Topic:       "general civic",
	Tags:        []string{"general", "governance"},
}

// pickFamily returns the first family whose keywords occur in input and
// whose id is not skipped. The generic category is returned when nothing
// hits; ok is false only when the generic category is skipped as well.
func pickFamily(input string, skip func(id string) bool) (family, bool) {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	lower := strings.ToLower(input)
	for _, f := range families {
		if skip(f.ID) {
			continue
		}
		for _, kw := range f.Keywords {
			if strings.Contains(lower, kw) {
				return f, true
			}
		}
	}
	if skip(generalPolicy.ID) {
		return family{}, false
	}
	return generalPolicy, true
}

func (f family) generic() bool { return f.ID == generalPolicy.ID }

func (f family) toMatch(confidence int, reasoning string) match.PolicyMatch {
	priority := match.PriorityMedium
	if f.generic() {
		priority = match.PriorityLow
	}
	return match.PolicyMatch{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Category:    f.ID,
		Confidence:  confidence,
		Reasoning:   reasoning,
		Tags:        append([]string(nil), f.Tags...),
		Priority:    priority,
	}
}
