// Package cache holds the in-process caches used by the summary resolver.
package cache

import (
	"context"
	"time"

	"bollette/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// Purge drops every entry.
	Purge()
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically cleans registered caches until its context ends.
type Janitor struct {
	caches []Cleaner
	logger *log.Logger
	done   chan struct{}
}

func NewJanitor(logger *log.Logger, caches ...Cleaner) *Janitor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Janitor{
		caches: caches,
		logger: logger.WithComponent(log.ComponentCache),
		done:   make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range j.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				j.logger.DebugContext(ctx, "Expired cache entries removed", "count", cleaned)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when Run returns.
func (j *Janitor) Done() <-chan struct{} {
	return j.done
}
