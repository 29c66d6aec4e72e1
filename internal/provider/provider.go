// Package provider contains the interchangeable policy-matching backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"civicmatch/internal/cache"
	"civicmatch/internal/config"
	"civicmatch/internal/match"
	"civicmatch/internal/observability"
	"civicmatch/internal/policy"
)

type Provider interface {
	MatchPolicies(ctx context.Context, req match.Request) (match.Response, error)
	// RefinePolicies never returns a match whose id is in ref.RejectedIDs.
	RefinePolicies(ctx context.Context, ref match.Refinement) (match.Response, error)
	Name() string
}

var ErrUnknownMode = errors.New("unknown provider mode")

// Deps are the shared collaborators handed to whichever provider is built.
// Zero values are replaced with working defaults.
type Deps struct {
	Catalog    policy.Catalog
	Cache      cache.Cache
	Logger     *zap.Logger
	Observer   *observability.FallbackObserver
	HTTPClient *http.Client
}

// New selects the provider for cfg.Mode. It is called once at startup.
func New(cfg config.Config, deps Deps) (Provider, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if len(deps.Catalog.Categories) == 0 {
		deps.Catalog = policy.Default()
	}

	switch config.NormalizeMode(cfg.Mode) {
	case config.ModeStub:
		return NewStub(cfg.Stub.Latency), nil
	case config.ModeLLM:
		return NewClaude(ClaudeConfig{
			APIKey:           cfg.LLM.APIKey,
			BaseURL:          cfg.LLM.BaseURL,
			Model:            cfg.LLM.Model,
			MaxTokens:        cfg.LLM.MaxTokens,
			ThrottleInterval: cfg.LLM.ThrottleInterval,
			Timeout:          cfg.LLM.Timeout,
			MaxRetries:       cfg.LLM.MaxRetries,
			HTTPClient:       deps.HTTPClient,
		}, deps)
	case config.ModeBackend:
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Backend.Timeout}
		}
		return NewBackend(cfg.Backend.BaseURL, cfg.Backend.TopK, client, deps.Logger)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, cfg.Mode)
	}
}

func rejectedSet(ids []string) func(string) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}
