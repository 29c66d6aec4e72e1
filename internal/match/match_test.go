package match

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClampsAndAggregates(t *testing.T) {
	resp := Response{Matches: []PolicyMatch{
		{ID: "a", Confidence: 140},
		{ID: "b", Confidence: -20},
		{ID: "c", Confidence: 50},
	}}
	resp.Normalize()

	require.Equal(t, 100, resp.Matches[0].Confidence)
	require.Equal(t, 0, resp.Matches[1].Confidence)
	require.Equal(t, 50, resp.Matches[2].Confidence)
	require.NotNil(t, resp.Confidence)
	require.Equal(t, 50, *resp.Confidence)
	for _, m := range resp.Matches {
		require.NotNil(t, m.Tags)
	}
}

func TestNormalizeEmptyResponse(t *testing.T) {
	var resp Response
	resp.Normalize()
	require.NotNil(t, resp.Matches)
	require.Empty(t, resp.Matches)
	require.Nil(t, resp.Confidence)
}

func TestCloneIsDeep(t *testing.T) {
	conf := 80
	orig := Response{
		Matches: []PolicyMatch{{
			ID:       "climate-environment",
			Tags:     []string{"environment"},
			Metadata: map[string]any{"nested": map[string]any{"k": "v"}},
		}},
		Confidence: &conf,
		Metadata:   map[string]any{"provider": "stub"},
	}
	clone := orig.Clone()
	require.Empty(t, cmp.Diff(orig, clone))

	clone.Matches[0].Tags[0] = "changed"
	clone.Matches[0].Metadata["nested"].(map[string]any)["k"] = "changed"
	clone.Metadata["provider"] = "changed"
	*clone.Confidence = 1

	require.Equal(t, "environment", orig.Matches[0].Tags[0])
	require.Equal(t, "v", orig.Matches[0].Metadata["nested"].(map[string]any)["k"])
	require.Equal(t, "stub", orig.Metadata["provider"])
	require.Equal(t, 80, *orig.Confidence)
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		intensity float64
		urgency   string
		want      Priority
	}{
		{"confident", 0.72, 5, "low", PriorityHigh},
		{"intense", 0.1, 8, "low", PriorityHigh},
		{"urgent", 0.1, 2, "high", PriorityHigh},
		{"moderate score", 0.45, 2, "low", PriorityMedium},
		{"moderate intensity", 0.1, 6, "low", PriorityMedium},
		{"neutral urgency", 0.1, 2, "medium", PriorityMedium},
		{"weak", 0.2, 3, "low", PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, PriorityFor(tt.score, tt.intensity, tt.urgency))
		})
	}
}

func TestScoreToConfidence(t *testing.T) {
	require.Equal(t, 83, ScoreToConfidence(0.834))
	require.Equal(t, 100, ScoreToConfidence(1.7))
	require.Equal(t, 0, ScoreToConfidence(-0.2))
}

func TestRefinementInput(t *testing.T) {
	ref := Refinement{OriginalInput: "taxes", Clarification: "  "}
	require.Equal(t, "taxes", ref.Input())
	ref.Clarification = "property taxes for seniors"
	require.Equal(t, "property taxes for seniors", ref.Input())
}

func TestCloneKeepsEmptySlicesEmpty(t *testing.T) {
	resp := Response{Matches: []PolicyMatch{
		{ID: "a", Tags: []string{}, Metadata: map[string]any{"ids": []string{}, "raw": []any{}}},
		{ID: "b"},
	}}
	out := resp.Clone()
	require.Empty(t, cmp.Diff(resp, out))
	require.NotNil(t, out.Matches[0].Tags)
	require.NotNil(t, out.Matches[0].Metadata["ids"])
	require.NotNil(t, out.Matches[0].Metadata["raw"])
	require.Nil(t, out.Matches[1].Tags)
}
