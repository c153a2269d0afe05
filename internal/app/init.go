package app

import (
	"context"
	"fmt"
	"log/slog"

	npCache "github.com/riftproxy/llmgw/internal/cache"
	"github.com/riftproxy/llmgw/internal/logger"
	"github.com/riftproxy/llmgw/internal/metrics"
	"github.com/riftproxy/llmgw/internal/proxy"
	"github.com/riftproxy/llmgw/internal/queue"
	"github.com/riftproxy/llmgw/internal/ratelimit"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis or rate limiting is enabled.
func (a *App) initInfra(ctx context.Context) error {
	needsRedis := a.cfg.Cache.Mode == "redis" ||
		a.cfg.RateLimit.RPMLimit > 0 || a.cfg.RateLimit.QuotaTokensPerWindow > 0

	if needsRedis && a.cfg.Redis.URL != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initKeyPool builds the Key Pool from every configured service's
// credential list and starts one background Checker per service.
func (a *App) initKeyPool(_ context.Context) error {
	pool, checkers, err := buildKeyPool(a.cfg)
	if err != nil {
		return err
	}
	a.pool = pool
	a.checkers = checkers

	checkerCtx, cancel := context.WithCancel(a.baseCtx)
	a.checkersCtl = cancel
	for _, c := range checkers {
		go c.Run(checkerCtx)
	}

	names := make([]string, 0, len(pool.List()))
	for svc := range pool.List() {
		names = append(names, string(svc))
	}
	a.log.Info("key pool loaded", slog.Any("services", names), slog.Int("checkers", len(checkers)))

	return nil
}

// initServices creates the cache backend, Prometheus metrics registry, and
// the request scheduler.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.scheduler = queue.New(a.pool, queue.Config{
		UserConcurrencyLimit: a.cfg.Queue.UserConcurrencyLimit,
		OnStats:              a.prom.SetQueueStats,
	}, a.log)

	reqLogger, err := logger.New(a.baseCtx, a.log, a.cfg.EventsClickHouseDSN)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger
	if a.cfg.EventsClickHouseDSN != "" {
		a.log.Info("request log durable sink: clickhouse")
	}

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	// ── Determine cache implementation ────────────────────────────────────────
	var cacheImpl npCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = npCache.NewExactCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	dispatchers := buildDispatchers(a.pool)

	// ── Build the gateway ────────────────────────────────────────────────────
	opts := proxy.GatewayOptions{
		Logger:               a.log,
		CacheTTL:             a.cfg.Cache.TTL,
		Metrics:              a.prom,
		AllowClientAPIKeys:   a.cfg.AllowClientAPIKeys,
		AzureAPIVersion:      a.cfg.AzureAPIVersion,
		OriginBlacklist:      a.cfg.OriginBlacklist,
		MaxContextTokens:     a.cfg.Limits.MaxContextTokens,
		QuotaTokensPerWindow: a.cfg.RateLimit.QuotaTokensPerWindow,
		CBConfig: proxy.CBConfig{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
	}

	gw := proxy.NewGateway(a.baseCtx, a.pool, dispatchers, a.scheduler, cacheImpl, cacheReady, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// Rate limiting — only when Redis is available.
	var rpm *ratelimit.RPMLimiter
	var quota *ratelimit.QuotaLimiter
	if a.rdb != nil {
		if a.cfg.RateLimit.RPMLimit > 0 {
			rpm = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
			a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
		}
		if a.cfg.RateLimit.QuotaTokensPerWindow > 0 {
			quota = ratelimit.NewQuotaLimiter(a.rdb, a.cfg.RateLimit.QuotaWindow)
			a.log.Info("quota limiting enabled", slog.Int64("tokens_per_window", a.cfg.RateLimit.QuotaTokensPerWindow))
		}
	}
	gw.SetRateLimiters(rpm, quota)
	gw.SetLogger(a.reqLogger)

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}
