// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Redis when needed)
//  2. initKeyPool   — builds the multi-tenant keys.Pool and starts one
//     background Key Checker per configured service
//  3. initServices  — cache, metrics registry, request queue
//  4. initGateway   — proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	npCache "github.com/riftproxy/llmgw/internal/cache"
	"github.com/riftproxy/llmgw/internal/config"
	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/keys/checker"
	"github.com/riftproxy/llmgw/internal/logger"
	"github.com/riftproxy/llmgw/internal/metrics"
	"github.com/riftproxy/llmgw/internal/providers"
	anthropicprov "github.com/riftproxy/llmgw/internal/providers/anthropic"
	azureprov "github.com/riftproxy/llmgw/internal/providers/azure"
	bedrockprov "github.com/riftproxy/llmgw/internal/providers/bedrock"
	googleaiprov "github.com/riftproxy/llmgw/internal/providers/googleai"
	mistralprov "github.com/riftproxy/llmgw/internal/providers/mistral"
	openaiprov "github.com/riftproxy/llmgw/internal/providers/openai"
	vertexaiprov "github.com/riftproxy/llmgw/internal/providers/vertexai"
	"github.com/riftproxy/llmgw/internal/proxy"
	"github.com/riftproxy/llmgw/internal/queue"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	reqLogger *logger.Logger
	memCache  *npCache.MemoryCache

	prom *metrics.Registry

	pool        *keys.Pool
	checkers    []*checker.Checker
	checkersCtl context.CancelFunc
	scheduler   *queue.Scheduler

	mgmt *proxy.ManagementRoutes
	gw   *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"keypool", a.initKeyPool},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times; it takes no lock, so calls must not run concurrently.
func (a *App) Close() {
	if a.checkersCtl != nil {
		a.checkersCtl()
		a.checkersCtl = nil
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function used as the cache
// readiness check. Reuses the existing client — no new connections.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// buildKeyPool parses every configured credential list into keys.Key values,
// assigns the per-service eligibility predicate and tiebreaker (spec §4.2),
// and returns the assembled Pool alongside one Checker per non-empty
// service, ready to be started in the background (spec §4.3).
func buildKeyPool(cfg *config.Config) (*keys.Pool, []*checker.Checker, error) {
	providersMap := make(map[keys.Service]*keys.Provider)
	var checkers []*checker.Checker

	add := func(svc keys.Service, raw string, eligible keys.EligibilityFunc, tiebreak keys.Tiebreaker, parse func(string) (*keys.Key, error), prober checker.Prober) error {
		creds := keys.ParseCredentialList(raw)
		if len(creds) == 0 {
			return nil
		}
		prov := keys.NewProvider(svc, eligible, tiebreak)
		for _, c := range creds {
			k, err := parse(c)
			if err != nil {
				return fmt.Errorf("%s credential: %w", svc, err)
			}
			prov.Add(k)
		}
		providersMap[svc] = prov
		if prober != nil {
			ccfg := checker.Config{}
			if svc == keys.ServiceAWS {
				ccfg.Concurrency = 2
			}
			checkers = append(checkers, checker.New(prov, prober, ccfg, nil))
		}
		return nil
	}

	bareKey := func(svc keys.Service) func(string) (*keys.Key, error) {
		return func(secret string) (*keys.Key, error) {
			return keys.NewSimpleKey(svc, secret), nil
		}
	}
	alwaysEligible := func(*keys.Key, string) bool { return true }

	if err := add(keys.ServiceOpenAI, cfg.Credentials.OpenAI,
		keys.OpenAIEligible(false), keys.OpenAITiebreak,
		bareKey(keys.ServiceOpenAI), &checker.OpenAIProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceAnthropic, cfg.Credentials.Anthropic,
		keys.AnthropicEligible(false), nil,
		bareKey(keys.ServiceAnthropic), &checker.AnthropicProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceGoogleAI, cfg.Credentials.GoogleAI,
		alwaysEligible, nil,
		bareKey(keys.ServiceGoogleAI), &checker.GoogleAIProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceMistral, cfg.Credentials.Mistral,
		alwaysEligible, nil,
		bareKey(keys.ServiceMistral), &checker.MistralProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceAWS, cfg.Credentials.AWS,
		keys.AWSEligible(cfg.AllowAWSLogging, ""), keys.AWSTiebreak(""),
		keys.ParseAWSComposite, &checker.AWSProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceGCP, cfg.Credentials.GCP,
		keys.GCPEligible(""), nil,
		keys.ParseGCPComposite, &checker.GCPProber{}); err != nil {
		return nil, nil, err
	}
	if err := add(keys.ServiceAzure, cfg.Credentials.Azure,
		alwaysEligible, nil,
		keys.ParseAzureComposite, nil); err != nil {
		return nil, nil, err
	}

	if len(providersMap) == 0 {
		return nil, nil, fmt.Errorf("no provider credentials configured")
	}

	return keys.NewPool(providersMap), checkers, nil
}

// buildDispatchers maps every configured service to its wire dispatcher
// (spec §6.2). Only services present in pool get an entry.
func buildDispatchers(pool *keys.Pool) map[keys.Service]providers.Dispatcher {
	all := map[keys.Service]providers.Dispatcher{
		keys.ServiceOpenAI:    openaiprov.New(),
		keys.ServiceAnthropic: anthropicprov.New(),
		keys.ServiceGoogleAI:  googleaiprov.New(),
		keys.ServiceMistral:   mistralprov.New(),
		keys.ServiceAzure:     azureprov.New(),
		keys.ServiceAWS:       bedrockprov.New(),
		keys.ServiceGCP:       vertexaiprov.New(),
	}
	out := make(map[keys.Service]providers.Dispatcher, len(all))
	for svc := range pool.List() {
		if d, ok := all[svc]; ok {
			out[svc] = d
		}
	}
	return out
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
