package llm

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/paperflow/internal/config"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/metrics"
)

const bestKey = "best"

// ResolverOptions tunes availability caching and call limits
type ResolverOptions struct {
	CallTimeout       time.Duration
	ProbeTimeout      time.Duration
	AvailabilityTTL   time.Duration // 0 keeps the answer until Reset
	RequestsPerMinute int
	BreakerTimeout    time.Duration
	BreakerFailures   uint32
}

// Resolver picks the best available backend and routes completions to it.
// Remote failures fall back once to the local model within the same call.
type Resolver struct {
	remote  Transport
	local   LocalBackend
	opts    ResolverOptions
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker[*Completion]
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewResolverFromConfig builds the remote and local clients from config.
// The remote client is only created when a base URL and API key are set.
func NewResolverFromConfig(cfg config.AIConfig, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	var remote Transport
	if cfg.Remote.APIKey != "" && cfg.Remote.BaseURL != "" {
		remote = NewClient(cfg.Remote)
	}
	var local LocalBackend
	if cfg.Local.BaseURL != "" && cfg.Local.Model != "" {
		local = NewOllamaClient(cfg.Local)
	}
	return NewResolver(remote, local, ResolverOptions{
		CallTimeout:       cfg.CallTimeout,
		ProbeTimeout:      cfg.ProbeTimeout,
		AvailabilityTTL:   cfg.AvailabilityTTL,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BreakerTimeout:    cfg.BreakerTimeout,
	}, m, logger)
}

// NewResolver wires explicit backends; either may be nil
func NewResolver(remote Transport, local LocalBackend, opts ResolverOptions, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 3
	}

	ttl := opts.AvailabilityTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
	}

	r := &Resolver{
		remote:  remote,
		local:   local,
		opts:    opts,
		cache:   cache.New(ttl, 10*time.Minute),
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
		logger:  logger,
	}

	failures := opts.BreakerFailures
	r.breaker = gobreaker.NewCircuitBreaker[*Completion](gobreaker.Settings{
		Name:        "remote-ai",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("AI circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// Configured reports whether any backend exists at all
func (r *Resolver) Configured() bool {
	return r.remote != nil || r.local != nil
}

// Reset forgets the cached resolution
func (r *Resolver) Reset() {
	r.cache.Delete(bestKey)
}

// Best returns the preferred available backend, cached per TTL
func (r *Resolver) Best(ctx context.Context) Provider {
	if v, ok := r.cache.Get(bestKey); ok {
		return v.(Provider)
	}

	p := r.resolve(ctx)
	r.cache.Set(bestKey, p, cache.DefaultExpiration)
	r.logger.Info("AI provider resolved", zap.String("provider", string(p)))
	return p
}

func (r *Resolver) resolve(ctx context.Context) Provider {
	if r.remote != nil && r.breaker.State() != gobreaker.StateOpen {
		return ProviderRemote
	}
	if r.localAvailable(ctx) {
		return ProviderLocal
	}
	return ProviderNone
}

func (r *Resolver) localAvailable(ctx context.Context) bool {
	if r.local == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()
	if err := r.local.Probe(probeCtx); err != nil {
		r.logger.Debug("local AI probe failed", zap.Error(err))
		return false
	}
	return true
}

// Complete sends req to the resolved backend. When the remote call fails,
// the local model is probed and tried once. The cached resolution is left
// unchanged by the fallback.
func (r *Resolver) Complete(ctx context.Context, req Request) (*Completion, error) {
	switch r.Best(ctx) {
	case ProviderRemote:
		out, err := r.callRemote(ctx, req)
		if err == nil {
			return out, nil
		}
		r.logger.Warn("remote AI call failed", zap.Error(err))
		if !r.localAvailable(ctx) {
			return nil, err
		}
		r.metrics.RecordAIFallback()
		return r.callLocal(ctx, req)
	case ProviderLocal:
		return r.callLocal(ctx, req)
	}
	return nil, apperrors.ErrProviderNotConfigured
}

func (r *Resolver) callRemote(ctx context.Context, req Request) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperrors.ErrRateLimited.WithCause(err)
	}

	callCtx, cancel := r.withCallTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := r.breaker.Execute(func() (*Completion, error) {
		return r.remote.Complete(callCtx, req)
	})
	r.metrics.RecordAIRequest(string(ProviderRemote), err == nil, time.Since(start))
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.ErrProviderUnavailable.WithCause(err)
	}
	return out, err
}

func (r *Resolver) callLocal(ctx context.Context, req Request) (*Completion, error) {
	if r.local == nil {
		return nil, apperrors.ErrProviderUnavailable
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperrors.ErrRateLimited.WithCause(err)
	}

	callCtx, cancel := r.withCallTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := r.local.Complete(callCtx, req)
	r.metrics.RecordAIRequest(string(ProviderLocal), err == nil, time.Since(start))
	return out, err
}

func (r *Resolver) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}
