package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"civicmatch/internal/match"
)

func TestStubClimateConcern(t *testing.T) {
	stub := NewStub(0)
	resp, err := stub.MatchPolicies(context.Background(), match.Request{UserInput: "I'm worried about climate change and pollution"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)

	m := resp.Matches[0]
	require.Equal(t, "climate-environment", m.ID)
	require.Equal(t, "Climate & Environmental Protection", m.Title)
	require.GreaterOrEqual(t, m.Confidence, 75)
	require.LessOrEqual(t, m.Confidence, 95)
	require.NotEmpty(t, m.Reasoning)
}

func TestStubGenericFallback(t *testing.T) {
	stub := NewStub(0)
	for i := 0; i < 20; i++ {
		resp, err := stub.MatchPolicies(context.Background(), match.Request{UserInput: "nonsense qwerty zyx"})
		require.NoError(t, err)
		require.Len(t, resp.Matches, 1)
		require.Equal(t, "general-policy", resp.Matches[0].ID)
		require.GreaterOrEqual(t, resp.Matches[0].Confidence, 65)
		require.LessOrEqual(t, resp.Matches[0].Confidence, 80)
	}
}

func TestStubFamilyPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"School pollution near my kids", "climate-environment"},
		{"medical bills and college tuition", "healthcare-access"},
		{"college costs", "education-support"},
		{"no job prospects", "economic-development"},
		{"free speech on campus", "civil-rights"},
	}
	stub := NewStub(0)
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			resp, err := stub.MatchPolicies(context.Background(), match.Request{UserInput: tt.input})
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.Matches[0].ID)
		})
	}
}

func TestStubRefineSkipsRejected(t *testing.T) {
	stub := NewStub(0)
	resp, err := stub.RefinePolicies(context.Background(), match.Refinement{
		OriginalInput: "climate and health insurance",
		RejectedIDs:   []string{"climate-environment"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	require.Equal(t, "healthcare-access", resp.Matches[0].ID)

	resp, err = stub.RefinePolicies(context.Background(), match.Refinement{
		OriginalInput: "climate",
		Clarification: "really about schools",
		RejectedIDs:   []string{"climate-environment"},
	})
	require.NoError(t, err)
	require.Equal(t, "education-support", resp.Matches[0].ID)
}

func TestStubRefineEverythingRejected(t *testing.T) {
	stub := NewStub(0)
	resp, err := stub.RefinePolicies(context.Background(), match.Refinement{
		OriginalInput: "potholes",
		RejectedIDs:   []string{"general-policy"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Matches)
	require.Empty(t, resp.Matches)
	require.Nil(t, resp.Confidence)
}

func TestStubLatencyIsCancellable(t *testing.T) {
	stub := NewStub(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := stub.MatchPolicies(ctx, match.Request{UserInput: "climate"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}
