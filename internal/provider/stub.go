package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"civicmatch/internal/match"
)

// Stub answers from the keyword families after an artificial delay. It is
// meant for offline demos and UI work, and never fails on its own.
type Stub struct {
	latency time.Duration
}

func NewStub(latency time.Duration) *Stub {
	return &Stub{latency: latency}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) MatchPolicies(ctx context.Context, req match.Request) (match.Response, error) {
	return s.respond(ctx, req.UserInput, nil)
}

// RefinePolicies re-matches on the clarification, or the original input when
// none was given, skipping every family the user rejected.
func (s *Stub) RefinePolicies(ctx context.Context, ref match.Refinement) (match.Response, error) {
	return s.respond(ctx, ref.Input(), rejectedSet(ref.RejectedIDs))
}

func (s *Stub) respond(ctx context.Context, input string, skip func(string) bool) (match.Response, error) {
	start := time.Now()
	if err := sleep(ctx, s.latency); err != nil {
		return match.Response{}, err
	}

	resp := match.Response{Matches: []match.PolicyMatch{}}
	if f, ok := pickFamily(input, skip); ok {
		var confidence int
		var reasoning string
		if f.generic() {
			confidence = 65 + rand.IntN(16)
			reasoning = "Mock match for general civic concern"
		} else {
			confidence = 75 + rand.IntN(21)
			reasoning = "Mock match based on " + f.Topic + " keywords"
		}
		resp.Matches = append(resp.Matches, f.toMatch(confidence, reasoning))
	}
	resp.ProcessingTime = time.Since(start).Milliseconds()
	resp.Confidence = match.MeanConfidence(resp.Matches)
	resp.Metadata = map[string]any{"total_categories": len(families) + 1}
	return resp, nil
}

func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
