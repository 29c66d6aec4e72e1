// Package match holds the records exchanged between the matching service,
// its providers and the screens that consume them.
package match

import (
	"math"
	"slices"
	"strings"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three known tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Request is built fresh by the caller for every match call.
type Request struct {
	UserInput         string   `json:"user_input"`
	LocationHint      string   `json:"location_hint,omitempty"`
	RejectedIDs       []string `json:"rejected_ids,omitempty"`
	ClarificationText string   `json:"clarification_text,omitempty"`
}

// Refinement carries the feedback that previously shown matches were wrong.
type Refinement struct {
	OriginalInput string   `json:"original_input"`
	RejectedIDs   []string `json:"rejected_ids"`
	Clarification string   `json:"clarification,omitempty"`
	LocationHint  string   `json:"location_hint,omitempty"`
}

// Input returns the text a provider should match on when refining: the
// clarification when one was supplied, the original input otherwise.
func (r Refinement) Input() string {
	if c := strings.TrimSpace(r.Clarification); c != "" {
		return c
	}
	return r.OriginalInput
}

type PolicyMatch struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Confidence  int            `json:"confidence"`
	Reasoning   string         `json:"reasoning"`
	Tags        []string       `json:"tags"`
	Priority    Priority       `json:"priority"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	Matches        []PolicyMatch  `json:"matches"`
	ProcessingTime int64          `json:"processing_time_ms"`
	Confidence     *int           `json:"confidence,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Primary returns the highest-ranked match, if any.
func (r Response) Primary() (PolicyMatch, bool) {
	if len(r.Matches) == 0 {
		return PolicyMatch{}, false
	}
	return r.Matches[0], true
}

// Clone returns a deep copy so that cached responses are never shared with
// callers.
func (r Response) Clone() Response {
	out := Response{
		ProcessingTime: r.ProcessingTime,
		Metadata:       cloneMap(r.Metadata),
	}
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	if r.Matches != nil {
		out.Matches = make([]PolicyMatch, len(r.Matches))
		for i, m := range r.Matches {
			out.Matches[i] = m.Clone()
		}
	}
	return out
}

func (m PolicyMatch) Clone() PolicyMatch {
	out := m
	out.Tags = slices.Clone(m.Tags)
	out.Metadata = cloneMap(m.Metadata)
	return out
}

// Normalize enforces the invariants every returned response must satisfy:
// a non-nil match list, confidences within [0,100] and an aggregate equal to
// their mean.
func (r *Response) Normalize() {
	if r.Matches == nil {
		r.Matches = []PolicyMatch{}
	}
	for i := range r.Matches {
		r.Matches[i].Confidence = ClampConfidence(r.Matches[i].Confidence)
		if r.Matches[i].Tags == nil {
			r.Matches[i].Tags = []string{}
		}
	}
	r.Confidence = MeanConfidence(r.Matches)
}

// ClampConfidence forces c into [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// MeanConfidence is the rounded mean confidence, nil for an empty list.
func MeanConfidence(matches []PolicyMatch) *int {
	if len(matches) == 0 {
		return nil
	}
	var sum int
	for _, m := range matches {
		sum += m.Confidence
	}
	mean := int(math.Round(float64(sum) / float64(len(matches))))
	return &mean
}

// ScoreToConfidence converts a [0,1] score into the 0-100 confidence scale.
func ScoreToConfidence(score float64) int {
	return ClampConfidence(int(math.Round(score * 100)))
}

// PriorityFor combines a [0,1] confidence score with sentiment intensity
// (1-10) and urgency.
func PriorityFor(score, intensity float64, urgency string) Priority {
	switch {
	case score >= 0.7 || intensity >= 8 || urgency == "high":
		return PriorityHigh
	case score >= 0.4 || intensity >= 6 || urgency == "medium":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []string:
			out[k] = slices.Clone(val)
		case []any:
			out[k] = slices.Clone(val)
		default:
			out[k] = v
		}
	}
	return out
}
