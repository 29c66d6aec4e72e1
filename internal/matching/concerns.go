package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"civicmatch/internal/match"
)

// Batch holds one response per concern, in input order. Confirmation state
// lives beside the responses so they are never mutated.
type Batch struct {
	Responses []match.Response `json:"responses"`

	mu        sync.Mutex
	confirmed map[int]bool
}

// Confidences returns the primary match confidence for each concern, or nil
// where a concern produced no match.
func (b *Batch) Confidences() []*int {
	out := make([]*int, len(b.Responses))
	for i, resp := range b.Responses {
		if m, ok := resp.Primary(); ok {
			c := m.Confidence
			out[i] = &c
		}
	}
	return out
}

func (b *Batch) Confirm(i int) error {
	if i < 0 || i >= len(b.Responses) {
		return fmt.Errorf("concern index %d out of range [0,%d)", i, len(b.Responses))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.confirmed == nil {
		b.confirmed = make(map[int]bool)
	}
	b.confirmed[i] = true
	return nil
}

func (b *Batch) Confirmed(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirmed[i]
}

// MatchConcerns matches each concern strictly one after another, pausing
// between calls. The first failure aborts the remaining concerns and no
// partial results are returned.
func (s *Service) MatchConcerns(ctx context.Context, concerns []string, locationHint string) (*Batch, error) {
	batch := &Batch{Responses: make([]match.Response, 0, len(concerns))}
	for i, concern := range concerns {
		if i > 0 && s.interItemDelay > 0 {
			t := time.NewTimer(s.interItemDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := s.MatchPolicies(ctx, match.Request{
			UserInput:    concern,
			LocationHint: locationHint,
		})
		if err != nil {
			s.logger.Warn("concern batch aborted",
				zap.Int("index", i),
				zap.Int("concerns", len(concerns)))
			return nil, fmt.Errorf("concern %d: %w", i+1, err)
		}
		batch.Responses = append(batch.Responses, resp)
	}
	return batch, nil
}
