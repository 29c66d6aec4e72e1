package observability

import (
	"sync"

	"go.uber.org/zap"
)

// FallbackObserver counts degraded answers per provider so that a failing
// upstream shows up in the logs before users notice.
type FallbackObserver struct {
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int64
}

func NewFallbackObserver(logger *zap.Logger) *FallbackObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackObserver{
		logger: logger,
		counts: make(map[string]int64),
	}
}

func (o *FallbackObserver) RecordFallback(provider string, reason string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.counts[provider]++
	count := o.counts[provider]
	o.mu.Unlock()

	o.logger.Warn("provider fallback",
		zap.String("provider", provider),
		zap.String("reason", reason),
		zap.Int64("count", count))

	if count%10 == 0 {
		o.logger.Error("provider fallback alert",
			zap.String("provider", provider),
			zap.Int64("repeated_fallback_count", count))
	}
}

func (o *FallbackObserver) Count(provider string) int64 {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[provider]
}
