// Package proxy is the core LLM request dispatcher.
//
// The Gateway receives an incoming provider-shaped request on its
// /proxy/<service>/... namespace, runs it through the one-time preprocessors
// (internal/preprocess), admits it to the global scheduler (internal/queue),
// and — once dequeued — mutates it for dispatch (internal/mutate), sends it
// to the owning upstream (internal/providers), and classifies the response
// (internal/respond), retrying transparently through the same scheduler
// continuation when the classification says so.
//
// Key design constraints:
//   - All blocking I/O happens off the HTTP goroutine's stack only insofar as
//     the scheduler's tick loop invokes continuations; the HTTP handler
//     itself blocks on a per-request channel until a terminal result arrives.
//   - Streaming responses are piped live (SSE); they are never cached and a
//     retryable failure is only possible before the first byte is sent.
//   - Logger, cache, and rate limiters are optional and nil-safe.
package proxy

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riftproxy/llmgw/internal/cache"
	"github.com/riftproxy/llmgw/internal/gcpauth"
	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/logger"
	"github.com/riftproxy/llmgw/internal/metrics"
	"github.com/riftproxy/llmgw/internal/mutate"
	"github.com/riftproxy/llmgw/internal/preprocess"
	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/queue"
	"github.com/riftproxy/llmgw/internal/ratelimit"
	"github.com/riftproxy/llmgw/internal/reqctx"
	"github.com/riftproxy/llmgw/internal/respond"
	"github.com/riftproxy/llmgw/internal/sse"
	"github.com/riftproxy/llmgw/internal/translate"
	"github.com/riftproxy/llmgw/pkg/apierr"
	"github.com/valyala/fasthttp"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"
)

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	Logger *slog.Logger

	// ProviderTimeout is the per-attempt HTTP request timeout.
	ProviderTimeout time.Duration

	// CBConfig configures the per-service circuit breaker thresholds.
	CBConfig CBConfig

	// AllowClientAPIKeys enables deriving a cache/queue identity from the
	// client's own Authorization header. It never changes which credential
	// is used upstream — that remains pool-managed (spec §6.3).
	AllowClientAPIKeys bool

	// Metrics enables Prometheus metrics collection. Nil disables it.
	Metrics *metrics.Registry

	// CacheTTL controls the default TTL for cached responses.
	CacheTTL time.Duration

	// AzureAPIVersion is the api-version query parameter for Azure OpenAI.
	AzureAPIVersion string

	// OriginBlacklist rejects requests whose Origin/Referer header contains
	// any of these substrings (spec §4.6 step 2).
	OriginBlacklist []string

	// MaxContextTokens bounds admission (spec §4.6 step 6). 0 disables it.
	MaxContextTokens int

	// QuotaTokensPerWindow is the per-identity, per-family token budget
	// enforced by CheckQuota (spec §4.6 step 7). 0 disables it.
	QuotaTokensPerWindow int64
}

// Gateway is the proxy's top-level orchestrator. All collaborators are
// injected via the constructor so they can be swapped for doubles in tests.
type Gateway struct {
	pool        *keys.Pool
	dispatchers map[keys.Service]providers.Dispatcher
	scheduler   *queue.Scheduler
	cache       cache.Cache

	cb     *CircuitBreaker
	health *HealthChecker

	reqTransformer  translate.RequestTransformer
	respTransformer translate.ResponseTransformer

	log     *slog.Logger
	metrics *metrics.Registry

	providerTimeout  time.Duration
	cacheTTL         time.Duration
	azureAPIVersion  string
	maxContextTokens int
	quotaLimit       int64
	originBlacklist  []string

	gcpTokenSources map[string]*gcpauth.TokenSource

	rpmLimiter      *ratelimit.RPMLimiter
	quota           *ratelimit.QuotaLimiter
	reqLogger       *logger.Logger
	cacheExclusions *cache.ExclusionList

	corsOrigins        []string
	allowClientAPIKeys bool

	httpClient *http.Client
}

// NewGateway builds a fully wired Gateway. pool, dispatchers, and scheduler
// are the three collaborators app.go assembles from configuration; cache and
// cacheReady may be nil to disable caching.
func NewGateway(
	baseCtx context.Context,
	pool *keys.Pool,
	dispatchers map[keys.Service]providers.Dispatcher,
	scheduler *queue.Scheduler,
	c cache.Cache,
	cacheReady func() bool,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	if pool == nil {
		panic("gateway: pool must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	providerTimeout := opts.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = providers.ProviderTimeout
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	gw := &Gateway{
		pool:               pool,
		dispatchers:        dispatchers,
		scheduler:          scheduler,
		cache:              c,
		cb:                 NewCircuitBreakerWithConfig(opts.CBConfig),
		log:                log,
		metrics:            opts.Metrics,
		providerTimeout:    providerTimeout,
		cacheTTL:           cacheTTL,
		azureAPIVersion:    opts.AzureAPIVersion,
		maxContextTokens:   opts.MaxContextTokens,
		quotaLimit:         opts.QuotaTokensPerWindow,
		originBlacklist:    opts.OriginBlacklist,
		gcpTokenSources:    make(map[string]*gcpauth.TokenSource),
		allowClientAPIKeys: opts.AllowClientAPIKeys,
		httpClient:         &http.Client{Timeout: providerTimeout},
	}

	if gw.metrics != nil && gw.cb != nil {
		for _, svc := range providers.DefaultFallbackOrder {
			gw.metrics.SetCircuitBreaker(string(svc), int64(gw.cb.State(svc)))
		}
	}

	gw.health = NewHealthChecker(pool, cacheReady, nil, gw.metrics)

	return gw
}

// SetRateLimiters injects the RPM and per-identity quota limiters.
func (g *Gateway) SetRateLimiters(rpm *ratelimit.RPMLimiter, quota *ratelimit.QuotaLimiter) {
	g.rpmLimiter = rpm
	g.quota = quota
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// SetCacheExclusions injects the cache exclusion list.
func (g *Gateway) SetCacheExclusions(el *cache.ExclusionList) {
	g.cacheExclusions = el
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// ── per-attempt pipeline ────────────────────────────────────────────────────

// blockAttempt is one terminal (non-retry) outcome of the blocking pipeline,
// handed back to the waiting HTTP handler over a channel.
type blockAttempt struct {
	result *respond.Result
	err    error
}

// attemptBlocking runs one dequeue attempt for a non-streaming request: it
// mutates req for dispatch, performs the HTTP call, and classifies the
// response. On a retryable classification respond.HandleBlocking re-enqueues
// req with the very same continuation and returns without a terminal
// result — attemptBlocking then returns without writing to resultCh, and the
// scheduler invokes this continuation again on a later tick.
func (g *Gateway) attemptBlocking(ctx context.Context, req *reqctx.Request, resultCh chan<- *blockAttempt) {
	if err := mutate.Run(ctx, req, g.mutateOptions(req)); err != nil {
		resultCh <- &blockAttempt{err: fmt.Errorf("gateway: mutate: %w", err)}
		return
	}

	dispatcher := g.dispatchers[req.Service]
	if dispatcher == nil {
		resultCh <- &blockAttempt{err: fmt.Errorf("gateway: no dispatcher configured for service %q", req.Service)}
		return
	}

	httpReq, err := dispatcher.BuildRequest(ctx, req)
	if err != nil {
		resultCh <- &blockAttempt{err: fmt.Errorf("gateway: build request: %w", err)}
		return
	}

	continuation := func(r *reqctx.Request) { g.attemptBlocking(ctx, r, resultCh) }

	httpResp, err := providers.Do(g.httpClient, httpReq)
	if err != nil {
		g.handleTransportError(req, err, continuation, func(res *respond.Result) {
			resultCh <- &blockAttempt{result: res}
		}, func(err error) {
			resultCh <- &blockAttempt{err: err}
		})
		return
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		resultCh <- &blockAttempt{err: fmt.Errorf("gateway: read upstream body: %w", err)}
		return
	}
	body, err := respond.Decompress(httpResp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		body = raw
	}

	up := respond.Upstream{
		Status:  httpResp.StatusCode,
		Headers: flattenHeaders(httpResp.Header),
		Body:    body,
	}

	res, err := respond.HandleBlocking(req, up, g.respondDeps(), continuation)
	if err != nil {
		resultCh <- &blockAttempt{err: fmt.Errorf("gateway: handle response: %w", err)}
		return
	}
	if res.Retried {
		g.recordRetry(req.Service)
		return
	}
	g.recordOutcome(req.Service, res.Status)
	resultCh <- &blockAttempt{result: res}
}

// streamAttempt is one outcome of the streaming pipeline. Either result is
// set (a classified, non-retry failure surfaced before any bytes were sent
// to the client) or httpResp/req are set (a 2xx ready to be piped live).
type streamAttempt struct {
	result   *respond.Result
	httpResp *http.Response
	req      *reqctx.Request
	err      error
}

// attemptStream mirrors attemptBlocking up through the HTTP call. A non-2xx
// response is small (providers return JSON error bodies even for streaming
// routes) so it is classified the same way as the blocking path, supporting
// a transparent retry before any stream bytes reach the client. A 2xx
// response is handed back to the handler for live piping through sse.Run —
// it is never buffered here.
func (g *Gateway) attemptStream(ctx context.Context, req *reqctx.Request, resultCh chan<- *streamAttempt) {
	if err := mutate.Run(ctx, req, g.mutateOptions(req)); err != nil {
		resultCh <- &streamAttempt{err: fmt.Errorf("gateway: mutate: %w", err)}
		return
	}

	dispatcher := g.dispatchers[req.Service]
	if dispatcher == nil {
		resultCh <- &streamAttempt{err: fmt.Errorf("gateway: no dispatcher configured for service %q", req.Service)}
		return
	}

	httpReq, err := dispatcher.BuildRequest(ctx, req)
	if err != nil {
		resultCh <- &streamAttempt{err: fmt.Errorf("gateway: build request: %w", err)}
		return
	}

	continuation := func(r *reqctx.Request) { g.attemptStream(ctx, r, resultCh) }

	httpResp, err := providers.Do(g.httpClient, httpReq)
	if err != nil {
		g.handleTransportError(req, err, continuation, func(res *respond.Result) {
			resultCh <- &streamAttempt{result: res}
		}, func(err error) {
			resultCh <- &streamAttempt{err: err}
		})
		return
	}

	if httpResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		body, derr := respond.Decompress(httpResp.Header.Get("Content-Encoding"), raw)
		if derr != nil {
			body = raw
		}
		up := respond.Upstream{
			Status:  httpResp.StatusCode,
			Headers: flattenHeaders(httpResp.Header),
			Body:    body,
		}
		res, herr := respond.HandleBlocking(req, up, g.respondDeps(), continuation)
		if herr != nil {
			resultCh <- &streamAttempt{err: fmt.Errorf("gateway: handle response: %w", herr)}
			return
		}
		if res.Retried {
			g.recordRetry(req.Service)
			return
		}
		g.recordOutcome(req.Service, res.Status)
		resultCh <- &streamAttempt{result: res}
		return
	}

	// Mutations are no longer needed once the upstream call returns
	// successfully (mirrors respond.HandleBlocking's first step).
	req.Revert()
	g.cb.RecordSuccess(req.Service)
	resultCh <- &streamAttempt{req: req, httpResp: httpResp}
}

// handleTransportError folds a network-level failure (dial/timeout/reset)
// into the same classification pipeline a non-2xx HTTP response goes
// through, by synthesizing the 503 the classification table already treats
// as a surfaced-but-not-internally-retried transient failure.
func (g *Gateway) handleTransportError(
	req *reqctx.Request,
	err error,
	continuation func(*reqctx.Request),
	onResult func(*respond.Result),
	onErr func(error),
) {
	up := respond.Upstream{Status: http.StatusServiceUnavailable, Body: []byte(err.Error())}
	res, herr := respond.HandleBlocking(req, up, g.respondDeps(), continuation)
	if herr != nil {
		onErr(fmt.Errorf("gateway: handle transport error: %w", herr))
		return
	}
	if res.Retried {
		g.recordRetry(req.Service)
		return
	}
	g.recordOutcome(req.Service, res.Status)
	onResult(res)
}

func (g *Gateway) recordRetry(svc keys.Service) {
	if g.metrics != nil {
		g.metrics.IncRetry(string(svc))
	}
}

func (g *Gateway) recordOutcome(svc keys.Service, status int) {
	if status >= 200 && status < 300 {
		g.cb.RecordSuccess(svc)
	} else {
		g.cb.RecordFailure(svc)
	}
	if g.metrics != nil {
		g.metrics.SetCircuitBreaker(string(svc), int64(g.cb.State(svc)))
	}
}

func (g *Gateway) mutateOptions(req *reqctx.Request) *mutate.Options {
	return &mutate.Options{
		Pool:            g.pool,
		Model:           req.Model,
		AzureAPIVersion: g.azureAPIVersion,
		GCPTokenSources: g.gcpTokenSources,
	}
}

func (g *Gateway) respondDeps() *respond.Deps {
	return &respond.Deps{
		Keys:        g.pool,
		Queue:       g.scheduler,
		Transformer: g.respTransformer,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// ── HTTP entry point ────────────────────────────────────────────────────────

// routeSpec tags a registered route with the static, route-level format and
// service information preprocess.SetAPIFormat needs (spec §4.6 step 1).
type routeSpec struct {
	Service        keys.Service
	InboundFormat  string
	OutboundFormat string
	ForceStream    bool // true for Google AI's dedicated streamGenerateContent route
}

// modelFromURL extracts the model from the fasthttp router's named segment
// for Google AI style routes (e.g. "{model}:generateContent"), splitting the
// ":action" suffix the wire format encodes in the final path segment.
func modelFromURL(raw string) (model, action string) {
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}

type modelPeek struct {
	Model string `json:"model"`
}

type streamPeek struct {
	Stream bool `json:"stream"`
}

func peekModel(body []byte) string {
	var mp modelPeek
	_ = json.Unmarshal(body, &mp)
	return mp.Model
}

func bodyWantsStream(body []byte) bool {
	var sp streamPeek
	_ = json.Unmarshal(body, &sp)
	return sp.Stream
}

// handle builds the fasthttp handler for one routeSpec. modelFromPath, when
// non-empty, names the router's path parameter carrying "{model}[:action]"
// (Google AI routes); for every other route the model comes from the JSON
// body's "model" field.
func (g *Gateway) handle(spec routeSpec, modelFromPath string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		g.serve(ctx, spec, modelFromPath)
	}
}

func (g *Gateway) serve(ctx *fasthttp.RequestCtx, spec routeSpec, modelFromPath string) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)
	rawBody := append([]byte(nil), ctx.PostBody()...)

	var model string
	streaming := spec.ForceStream
	if modelFromPath != "" {
		raw, _ := ctx.UserValue(modelFromPath).(string)
		var action string
		model, action = modelFromURL(raw)
		streaming = streaming || action == "streamGenerateContent"
	} else {
		model = peekModel(rawBody)
		streaming = streaming || bodyWantsStream(rawBody)
	}

	if model == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "field 'model' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	family, _ := resolveFamily(model)

	req := &reqctx.Request{
		ID:          reqID,
		Identity:    g.identityFor(ctx),
		Model:       model,
		ModelFamily: family,
		Service:     spec.Service,
		Headers:     flattenRequestHeaders(&ctx.Request.Header),
		Body:        rawBody,
		Streaming:   streaming,
		StartTime:   start,
	}

	deps := &preprocess.Deps{
		Route: preprocess.RouteConfig{
			InboundFormat:  spec.InboundFormat,
			OutboundFormat: spec.OutboundFormat,
			Service:        spec.Service,
		},
		Transformer:     g.reqTransformer,
		Quota:           g.quota,
		Limits:          preprocess.Limits{MaxContextTokens: g.maxContextTokens},
		QuotaLimit:      g.quotaLimit,
		OriginBlacklist: g.originBlacklist,
	}
	if err := preprocess.Run(ctx, req, deps); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error(),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	if g.rpmLimiter != nil {
		allowed, err := g.rpmLimiter.Allow(ctx)
		if err == nil && !allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("blocked")
			}
			apierr.WriteRateLimit(ctx)
			return
		}
	}

	if !g.cb.Allow(req.Service) {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			fmt.Sprintf("service %q is temporarily unavailable", req.Service),
			apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}

	cacheEligible := !streaming && g.cache != nil &&
		(g.cacheExclusions == nil || !g.cacheExclusions.Matches(req.Model))
	var cacheKey string
	if cacheEligible {
		cacheKey = buildCacheKey(req)
		if cached, ok := g.cache.Get(ctx, cacheKey); ok {
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(cached)
			g.logRequest(reqID, string(req.Service), req.Model, 0, 0, time.Since(start), fasthttp.StatusOK, true)
			return
		}
	}

	providerCtx, cancel := context.WithTimeout(ctx, g.providerTimeout)
	defer cancel()

	if streaming {
		g.serveStream(ctx, providerCtx, req, start)
		return
	}
	g.serveBlocking(ctx, providerCtx, req, start, cacheEligible, cacheKey)
}

func (g *Gateway) serveBlocking(
	ctx *fasthttp.RequestCtx,
	providerCtx context.Context,
	req *reqctx.Request,
	start time.Time,
	cacheEligible bool,
	cacheKey string,
) {
	resultCh := make(chan *blockAttempt, 1)
	continuation := func(r *reqctx.Request) { g.attemptBlocking(providerCtx, r, resultCh) }
	if err := g.scheduler.Enqueue(req, continuation, nil); err != nil {
		g.writeAdmissionError(ctx, err)
		return
	}

	select {
	case att := <-resultCh:
		if att.err != nil {
			g.writeGatewayError(ctx, att.err)
			return
		}
		res := att.result
		for k, v := range res.Headers {
			ctx.Response.Header.Set(k, v)
		}
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(res.Status)
		ctx.SetBody(res.Body)

		if cacheEligible && res.Status == fasthttp.StatusOK {
			ctx.Response.Header.Set("X-Cache", xCacheMISS)
			_ = g.cache.Set(ctx, cacheKey, res.Body, g.cacheTTL)
		}

		g.logRequest(req.ID, string(req.Service), req.Model,
			req.PromptTokens, req.OutputTokens, time.Since(start), res.Status, false)

	case <-ctx.Done():
		g.scheduler.Abort(req.ID)
		apierr.WriteTimeout(ctx)
	}
}

// serveStream admits req to the scheduler and immediately opens the SSE
// body stream so the client sees a "joining at position N" comment and
// periodic heartbeats while the request waits in queue (spec §4.8) —
// the stream is never closed and reopened once dispatch actually happens;
// pipeStream below takes over the same body-stream-writer callback.
func (g *Gateway) serveStream(
	ctx *fasthttp.RequestCtx,
	providerCtx context.Context,
	req *reqctx.Request,
	start time.Time,
) {
	resultCh := make(chan *streamAttempt, 1)
	continuation := func(r *reqctx.Request) { g.attemptStream(providerCtx, r, resultCh) }
	if err := g.scheduler.Enqueue(req, continuation, nil); err != nil {
		g.writeAdmissionError(ctx, err)
		return
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	position := g.scheduler.Position(req.ID)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		sw := queue.NewBufioStreamWriter(w)
		hw, err := queue.NewHeartbeatWriter(sw, position)
		if err != nil {
			g.log.ErrorContext(ctx, "stream_error",
				slog.String("request_id", req.ID), slog.String("error", err.Error()))
			g.scheduler.Abort(req.ID)
			return
		}

		ticker := time.NewTicker(queue.HeartbeatInterval)
		defer ticker.Stop()
		misses := 0

		for {
			select {
			case att := <-resultCh:
				if att.err != nil {
					g.log.ErrorContext(ctx, "stream_error",
						slog.String("request_id", req.ID), slog.String("error", att.err.Error()))
					return
				}
				if att.result != nil {
					// The join comment already committed this response to
					// text/event-stream, so a classified failure is surfaced
					// as an SSE data event rather than a fresh status code.
					res := att.result
					fmt.Fprintf(w, "data: %s\n\n", res.Body)
					_ = w.Flush()
					g.logRequest(req.ID, string(req.Service), req.Model, 0, 0, time.Since(start), res.Status, false)
					return
				}
				g.pipeStream(ctx, w, att.httpResp, att.req, start)
				return

			case <-ticker.C:
				load := g.scheduler.Load()
				if err := hw.Beat(load); err != nil {
					g.log.ErrorContext(ctx, "stream_error",
						slog.String("request_id", req.ID), slog.String("error", err.Error()))
					g.scheduler.Abort(req.ID)
					return
				}
				if g.metrics != nil {
					g.metrics.IncHeartbeat()
				}
				expected := queue.HeartbeatSize(load)
				if queue.WatchdogTripped(hw.FlushedSinceTick(), expected) {
					misses++
					if g.metrics != nil {
						g.metrics.IncWatchdogTripped()
					}
					if misses >= queue.MaxMissedHeartbeats {
						g.log.WarnContext(ctx, "stream_client_unresponsive",
							slog.String("request_id", req.ID))
						g.scheduler.Abort(req.ID)
						return
					}
				} else {
					misses = 0
				}

			case <-ctx.Done():
				g.scheduler.Abort(req.ID)
				return
			}
		}
	})
}

// pipeStream takes over an already-open body stream (past the queue-wait
// heartbeat phase) and pipes the live provider stream through sse.Run.
func (g *Gateway) pipeStream(ctx *fasthttp.RequestCtx, w *bufio.Writer, httpResp *http.Response, req *reqctx.Request, start time.Time) {
	defer httpResp.Body.Close()

	sseOpts := sse.Options{
		ContentEncoding: httpResp.Header.Get("Content-Encoding"),
		UseEventStream:  strings.Contains(httpResp.Header.Get("Content-Type"), "vnd.amazon.eventstream"),
		Adapter:         sse.AdapterFor(req.Service),
		Renderer:        sse.RendererFor(req.InboundFormat),
		EstimateTokens:  preprocess.EstimateTokens,
	}

	final, err := sse.Run(ctx, httpResp.Body, w, sseOpts)
	if err != nil {
		g.log.ErrorContext(ctx, "stream_error",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
	if g.pool != nil && req.Key != nil {
		g.pool.IncrementUsage(req.Key.Service, req.Key.Hash, req.ModelFamily,
			int64(req.PromptTokens+final.OutputTokens))
	}
	g.logRequest(req.ID, string(req.Service), req.Model,
		req.PromptTokens, final.OutputTokens, time.Since(start), fasthttp.StatusOK, false)
}

func (g *Gateway) writeAdmissionError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, queue.ErrUserConcurrencyLimit) {
		apierr.WriteRateLimit(ctx)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

func (g *Gateway) writeGatewayError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}
	if errors.Is(err, keys.ErrNoKeyAvailable) {
		apierr.WriteNoKeyAvailable(ctx)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

// identityFor derives the scheduler/quota identity for a request: the
// client's own API key when AllowClientAPIKeys is set and present, otherwise
// the remote address.
func (g *Gateway) identityFor(ctx *fasthttp.RequestCtx) string {
	if g.allowClientAPIKeys {
		if tok := parseBearerToken(string(ctx.Request.Header.Peek("Authorization"))); tok != "" {
			sum := sha256.Sum256([]byte(tok))
			return hex.EncodeToString(sum[:])
		}
	}
	return ctx.RemoteIP().String()
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func flattenRequestHeaders(h *fasthttp.RequestHeader) map[string]string {
	out := make(map[string]string)
	h.VisitAll(func(k, v []byte) {
		out[string(k)] = string(v)
	})
	return out
}

// buildCacheKey returns a deterministic SHA-256 cache key, scoped by
// identity, service, and model so two identities or providers never share a
// cached response (generalized from the teacher's buildCacheKey).
func buildCacheKey(req *reqctx.Request) string {
	data, _ := json.Marshal(struct {
		Identity string `json:"identity"`
		Service  string `json:"service"`
		Model    string `json:"model"`
		Body     string `json:"body"`
	}{
		req.Identity,
		string(req.Service),
		req.Model,
		string(req.Body),
	})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(
	requestID, provider, model string,
	inputTokens, outputTokens int,
	latency time.Duration,
	status int,
	isCached bool,
) {
	if g.reqLogger == nil {
		return
	}
	reqUUID, _ := uuid.Parse(requestID)
	latencyMs := uint16(latency.Milliseconds())
	if latency.Milliseconds() > 65535 {
		latencyMs = 65535
	}
	g.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		Provider:     provider,
		Model:        model,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    latencyMs,
		Status:       uint16(status),
		Cached:       isCached,
		CreatedAt:    time.Now(),
	})
}
