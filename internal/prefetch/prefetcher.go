// Package prefetch turns navigation predictions into speculative cache
// warms and bundle preloads.
package prefetch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/authgrid/authcache/internal/cache"
	"github.com/authgrid/authcache/internal/navigation"
)

// AuthSource fetches authorization payloads from the authoritative service.
// Supplied by the host application; out of scope here.
type AuthSource interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// BundleLoader is the code-splitting runtime's preload hook. It is assumed
// idempotent and safe to call speculatively; deduplication of repeated
// preloads is the loader's own contract, not re-implemented here.
type BundleLoader interface {
	Preload(ctx context.Context, route string) error
}

// NopBundleLoader ignores preload requests.
type NopBundleLoader struct{}

// Preload implements BundleLoader.
func (NopBundleLoader) Preload(context.Context, string) error { return nil }

// Hooks receives prefetch observations. Implemented by the performance
// monitor.
type Hooks interface {
	RecordPrediction(routes []string)
	PrefetchIssued()
	PrefetchFailed()
}

// Options configures a Prefetcher.
type Options struct {
	// TopK is how many candidate routes to consider per navigation.
	TopK int
	// Threshold is the minimum transition probability to act on.
	Threshold float64
	// RatePerSecond bounds prefetch attempts; bursts up to TopK.
	RatePerSecond float64
	Hooks         Hooks
}

// Prefetcher consumes transition-model predictions and asynchronously warms
// the cache and preloads bundles for confident candidates. All failures are
// swallowed at this boundary: a wrong or failed prefetch costs bandwidth,
// never correctness.
type Prefetcher struct {
	model   *navigation.Model
	manager *cache.Manager
	source  AuthSource
	bundles BundleLoader
	logger  *zap.Logger
	limiter *rate.Limiter

	topK      int
	threshold float64
	hooks     Hooks

	mu          sync.Mutex
	cancelCycle context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a prefetcher. A nil bundle loader is replaced with a no-op.
func New(model *navigation.Model, manager *cache.Manager, source AuthSource, bundles BundleLoader, logger *zap.Logger, opts Options) *Prefetcher {
	if bundles == nil {
		bundles = NopBundleLoader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.3
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}

	return &Prefetcher{
		model:     model,
		manager:   manager,
		source:    source,
		bundles:   bundles,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.TopK),
		topK:      opts.TopK,
		threshold: opts.Threshold,
		hooks:     opts.Hooks,
	}
}

// SetThreshold adjusts the confidence cutoff at runtime (config reload).
func (p *Prefetcher) SetThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if threshold > 0 {
		p.threshold = threshold
	}
}

// PermissionKeyFor is the cache key warmed for a predicted route.
func PermissionKeyFor(route string) string {
	return "permission:route:" + route
}

// Evaluate predicts likely next routes from currentRoute and, for each
// candidate at or above the threshold, asynchronously warms the permission
// cache and requests a bundle preload. In-flight prefetches from the
// previous cycle are cancelled first: their route prediction is stale once
// the user has navigated again. Each candidate is attempted at most once
// per cycle; duplicate suppression across cycles is the cache's
// single-flight warm and the bundle loader's own dedup.
func (p *Prefetcher) Evaluate(ctx context.Context, currentRoute string) {
	predictions := p.model.Predict(currentRoute, p.topK)

	p.mu.Lock()
	if p.cancelCycle != nil {
		p.cancelCycle()
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	p.cancelCycle = cancel
	threshold := p.threshold
	p.mu.Unlock()

	var confident []string
	for _, pred := range predictions {
		if pred.Probability >= threshold {
			confident = append(confident, pred.Route)
		}
	}

	if p.hooks != nil {
		p.hooks.RecordPrediction(confident)
	}
	if len(confident) == 0 {
		return
	}

	for _, route := range confident {
		if !p.limiter.Allow() {
			p.logger.Debug("prefetch rate limited", zap.String("route", route))
			continue
		}

		p.wg.Add(1)
		go p.prefetch(cycleCtx, route)
	}
}

// Close cancels any in-flight prefetches and waits for them to settle.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	if p.cancelCycle != nil {
		p.cancelCycle()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Prefetcher) prefetch(ctx context.Context, route string) {
	defer p.wg.Done()

	if p.hooks != nil {
		p.hooks.PrefetchIssued()
	}

	key := PermissionKeyFor(route)
	if _, err := p.manager.Warm(ctx, key, cache.CategoryPermission, func(ctx context.Context) ([]byte, error) {
		return p.source.Load(ctx, key)
	}); err != nil {
		p.fail("cache warm", route, err)
	}

	// Bundle preload is fully speculative; a throwing or no-op loader is
	// tolerated.
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Debug("bundle loader panicked",
					zap.String("route", route), zap.Any("panic", r))
			}
		}()
		if err := p.bundles.Preload(ctx, route); err != nil {
			p.fail("bundle preload", route, err)
		}
	}()
}

func (p *Prefetcher) fail(op, route string, err error) {
	if p.hooks != nil {
		p.hooks.PrefetchFailed()
	}
	p.logger.Debug("prefetch failed",
		zap.String("op", op), zap.String("route", route), zap.Error(err))
}
