// Package cache stores computed match responses keyed by their inputs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"civicmatch/internal/match"
)

type Cache interface {
	Get(ctx context.Context, key string) (match.Response, bool, error)
	Set(ctx context.Context, key string, resp match.Response) error
	Name() string
}

// Key derives a stable cache key from an ordered tuple of inputs.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

// Memory is an unbounded, process-lifetime cache. Entries are never evicted,
// so it suits per-session cardinality only; use Redis with a TTL for
// long-running deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]match.Response
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]match.Response)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) (match.Response, bool, error) {
	m.mu.RLock()
	resp, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return match.Response{}, false, nil
	}
	return resp.Clone(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, resp match.Response) error {
	m.mu.Lock()
	m.entries[key] = resp.Clone()
	m.mu.Unlock()
	return nil
}
