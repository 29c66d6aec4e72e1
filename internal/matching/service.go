// Package matching is the facade the rest of the application talks to. It
// wraps exactly one provider, measures each call, enforces the response
// invariants and hides provider failures behind generic errors.
package matching

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"civicmatch/internal/match"
	"civicmatch/internal/provider"
)

var (
	ErrInvalidInput = errors.New("user input is required")
	ErrMatchFailed  = errors.New("failed to match policies, please try again")
	ErrRefineFailed = errors.New("failed to refine policies, please try again")
)

type Operation string

const (
	OpMatch  Operation = "match"
	OpRefine Operation = "refine"
)

type FeedbackKind string

const (
	FeedbackAccepted FeedbackKind = "accepted"
	FeedbackRejected FeedbackKind = "rejected"
	FeedbackRefined  FeedbackKind = "refined"
)

func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackAccepted, FeedbackRejected, FeedbackRefined:
		return true
	}
	return false
}

// Interaction is what the service hands to a Recorder after every
// successful call.
type Interaction struct {
	RequestID    string
	Operation    Operation
	Provider     string
	Input        string
	LocationHint string
	RejectedIDs  []string
	Response     match.Response
	CreatedAt    time.Time
}

type Feedback struct {
	RequestID string       `json:"request_id"`
	MatchID   string       `json:"match_id"`
	Kind      FeedbackKind `json:"kind"`
	Comment   string       `json:"comment,omitempty"`
}

// Recorder persists interactions and feedback. Failures are logged by the
// service and never reach callers of MatchPolicies or RefinePolicies.
type Recorder interface {
	RecordInteraction(ctx context.Context, in Interaction) error
	RecordFeedback(ctx context.Context, fb Feedback) error
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithDebug(debug bool) Option {
	return func(s *Service) { s.debug = debug }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithInterItemDelay(d time.Duration) Option {
	return func(s *Service) { s.interItemDelay = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	provider       provider.Provider
	logger         *zap.Logger
	recorder       Recorder
	debug          bool
	interItemDelay time.Duration
	now            func() time.Time
}

func NewService(p provider.Provider, opts ...Option) *Service {
	s := &Service{
		provider:       p,
		logger:         zap.NewNop(),
		interItemDelay: 500 * time.Millisecond,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ProviderName() string { return s.provider.Name() }

func (s *Service) MatchPolicies(ctx context.Context, req match.Request) (match.Response, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return match.Response{}, ErrInvalidInput
	}
	start := s.now()
	resp, err := s.provider.MatchPolicies(ctx, req)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Error("match policies failed",
			zap.String("provider", s.provider.Name()),
			zap.Int("input_len", len(req.UserInput)),
			zap.Error(err))
		return match.Response{}, ErrMatchFailed
	}

	requestID := uuid.NewString()
	resp = s.finish(resp, elapsed, nil, requestID)
	if s.debug {
		s.logger.Debug("match policies",
			zap.String("provider", s.provider.Name()),
			zap.String("input", req.UserInput),
			zap.Int("matches", len(resp.Matches)),
			zap.Int64("processing_ms", resp.ProcessingTime))
	}
	s.record(ctx, Interaction{
		RequestID:    requestID,
		Operation:    OpMatch,
		Provider:     s.provider.Name(),
		Input:        req.UserInput,
		LocationHint: req.LocationHint,
		Response:     resp.Clone(),
		CreatedAt:    start,
	})
	return resp, nil
}

func (s *Service) RefinePolicies(ctx context.Context, ref match.Refinement) (match.Response, error) {
	if strings.TrimSpace(ref.OriginalInput) == "" && strings.TrimSpace(ref.Clarification) == "" {
		return match.Response{}, ErrInvalidInput
	}
	start := s.now()
	resp, err := s.provider.RefinePolicies(ctx, ref)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Error("refine policies failed",
			zap.String("provider", s.provider.Name()),
			zap.Int("rejected", len(ref.RejectedIDs)),
			zap.Error(err))
		return match.Response{}, ErrRefineFailed
	}

	requestID := uuid.NewString()
	resp = s.finish(resp, elapsed, ref.RejectedIDs, requestID)
	if s.debug {
		s.logger.Debug("refine policies",
			zap.String("provider", s.provider.Name()),
			zap.String("input", ref.Input()),
			zap.Strings("rejected", ref.RejectedIDs),
			zap.Int("matches", len(resp.Matches)),
			zap.Int64("processing_ms", resp.ProcessingTime))
	}
	s.record(ctx, Interaction{
		RequestID:    requestID,
		Operation:    OpRefine,
		Provider:     s.provider.Name(),
		Input:        ref.Input(),
		LocationHint: ref.LocationHint,
		RejectedIDs:  append([]string(nil), ref.RejectedIDs...),
		Response:     resp.Clone(),
		CreatedAt:    start,
	})
	return resp, nil
}

// RecordFeedback stores a user's verdict on a shown match. Without a
// recorder it is a no-op.
func (s *Service) RecordFeedback(ctx context.Context, fb Feedback) error {
	if strings.TrimSpace(fb.MatchID) == "" || !fb.Kind.Valid() {
		return ErrInvalidInput
	}
	if s.recorder == nil {
		return nil
	}
	return s.recorder.RecordFeedback(ctx, fb)
}

// finish returns a private copy of resp that satisfies every response
// invariant, stamped with the measured time and the request id.
func (s *Service) finish(resp match.Response, elapsed time.Duration, rejected []string, requestID string) match.Response {
	out := resp.Clone()
	if len(rejected) > 0 {
		skip := make(map[string]struct{}, len(rejected))
		for _, id := range rejected {
			skip[id] = struct{}{}
		}
		kept := out.Matches[:0]
		for _, m := range out.Matches {
			if _, ok := skip[m.ID]; ok {
				s.logger.Warn("provider returned rejected match", zap.String("match_id", m.ID))
				continue
			}
			kept = append(kept, m)
		}
		out.Matches = kept
	}
	out.Normalize()
	out.ProcessingTime = elapsed.Milliseconds()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 2)
	}
	out.Metadata["provider"] = s.provider.Name()
	out.Metadata["request_id"] = requestID
	return out
}

func (s *Service) record(ctx context.Context, in Interaction) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordInteraction(ctx, in); err != nil {
		s.logger.Warn("record interaction failed",
			zap.String("request_id", in.RequestID),
			zap.Error(err))
	}
}
