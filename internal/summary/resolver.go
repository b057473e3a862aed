// Package summary computes count, total amount and latest bill for a filter.
//
// Three tiers are tried from the cheapest to the most expensive:
//
//	fast      one server-side aggregate call
//	degraded  count, sum and latest issued concurrently
//	manual    count and latest, with the amounts summed locally
//
// A tier is abandoned only when the server reports the capability missing.
// The outcome is remembered until Reset so later calls skip the probe.
package summary

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/cache"
	"bollette/internal/core"
	"bollette/internal/log"
)

type Tier int

const (
	TierUnknown Tier = iota
	TierFast
	TierDegraded
	TierManual
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierDegraded:
		return "degraded"
	case TierManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Source is the subset of the gateway used here. Every method applies the
// same filter predicates.
type Source interface {
	Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error)
	Count(ctx context.Context, f core.FilterSpec) (int, error)
	Sum(ctx context.Context, f core.FilterSpec) (core.Money, error)
	Latest(ctx context.Context, f core.FilterSpec) (core.Bill, bool, error)
	Amounts(ctx context.Context, f core.FilterSpec) ([]core.Money, error)
}

type Options struct {
	CacheTTL  time.Duration // 0 disables memoization
	CacheSize int
}

type Resolver struct {
	source Source
	logger *log.Logger
	cache  *cache.LRUCache[core.Summary]

	mu    sync.Mutex
	tier  Tier
	epoch uint64
}

func NewResolver(source Source, opts Options, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Discard()
	}
	r := &Resolver{
		source: source,
		logger: logger.WithComponent(log.ComponentSummary),
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 64
		}
		r.cache = cache.NewLRUCache[core.Summary](size, opts.CacheTTL)
	}
	return r
}

// Cache exposes the memo for periodic cleanup; nil when disabled.
func (r *Resolver) Cache() *cache.LRUCache[core.Summary] {
	return r.cache
}

// Tier reports the capability learned so far.
func (r *Resolver) Tier() Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tier
}

// Reset forgets the learned capability and all memoized results. Call it
// when the session changes.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.tier = TierUnknown
	r.epoch++
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Invalidate drops memoized results after the collection changed.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.epoch++
	r.mu.Unlock()
}

// Resolve returns the summary of every bill matching f.
func (r *Resolver) Resolve(ctx context.Context, f core.FilterSpec) (core.Summary, error) {
	if err := f.Validate(); err != nil {
		return core.Summary{}, err
	}

	r.mu.Lock()
	tier, epoch := r.tier, r.epoch
	r.mu.Unlock()

	key := strconv.FormatUint(epoch, 10) + "|" + f.Key()
	if r.cache != nil {
		if s, ok := r.cache.Get(key); ok {
			return s, nil
		}
	}

	s, used, err := r.resolve(ctx, f, tier)
	if err != nil {
		return core.Summary{}, err
	}

	r.mu.Lock()
	if r.epoch == epoch && used != r.tier {
		r.logger.InfoContext(ctx, "Summary capability detected", log.FieldTier, used.String())
		r.tier = used
	}
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Set(key, s)
	}
	return s, nil
}

func (r *Resolver) resolve(ctx context.Context, f core.FilterSpec, tier Tier) (core.Summary, Tier, error) {
	if tier == TierUnknown || tier == TierFast {
		s, err := r.source.Summarize(ctx, f)
		if err == nil {
			return s, TierFast, nil
		}
		if !errors.Is(err, core.ErrAggregationUnsupported) {
			return core.Summary{}, tier, err
		}
		r.logger.DebugContext(ctx, "Summary function unavailable, using fallback", log.FieldError, err)
		tier = TierDegraded
	}
	return r.fallback(ctx, f, tier)
}

// fallback runs count, amount total and latest concurrently with the same
// filter. On the manual tier, or when the sum aggregate turns out to be
// missing, the amounts are fetched and added locally.
func (r *Resolver) fallback(ctx context.Context, f core.FilterSpec, tier Tier) (core.Summary, Tier, error) {
	var (
		count  int
		total  core.Money
		latest core.Bill
		found  bool
		used   = tier
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.source.Count(gctx, f)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	g.Go(func() error {
		b, ok, err := r.source.Latest(gctx, f)
		if err != nil {
			return err
		}
		latest, found = b, ok
		return nil
	})
	g.Go(func() error {
		if tier == TierDegraded {
			sum, err := r.source.Sum(gctx, f)
			if err == nil {
				total = sum
				return nil
			}
			if !errors.Is(err, core.ErrAggregationUnsupported) {
				return err
			}
			used = TierManual
		}
		amounts, err := r.source.Amounts(gctx, f)
		if err != nil {
			return err
		}
		total = core.SumMoney(amounts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Summary{}, tier, err
	}

	s := core.Summary{TotalCount: count, TotalAmount: total}
	if found {
		s.Latest = &latest
	}
	return s, used, nil
}
