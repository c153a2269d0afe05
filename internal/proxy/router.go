package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// providerSegment describes one /proxy/<segment>/... namespace and the
// native outbound wire formats it dispatches to (spec §6.2's per-service
// format table).
type providerSegment struct {
	segment        string
	service        keys.Service
	chatFormat     string
	textFormat     string
	supportsImages bool
}

// providerSegments lists every provider namespace the gateway exposes. Order
// is immaterial; it mirrors providers.DefaultFallbackOrder for readability.
var providerSegments = []providerSegment{
	{segment: "openai", service: keys.ServiceOpenAI, chatFormat: "openai-chat", textFormat: "openai-text", supportsImages: true},
	{segment: "anthropic", service: keys.ServiceAnthropic, chatFormat: "anthropic-chat", textFormat: "anthropic-chat"},
	{segment: "googleai", service: keys.ServiceGoogleAI, chatFormat: "googleai", textFormat: "googleai"},
	{segment: "mistral", service: keys.ServiceMistral, chatFormat: "mistral-chat", textFormat: "mistral-text"},
	{segment: "azure", service: keys.ServiceAzure, chatFormat: "openai-chat", textFormat: "openai-text"},
	{segment: "bedrock", service: keys.ServiceAWS, chatFormat: "anthropic-chat", textFormat: "anthropic-chat"},
	{segment: "vertexai", service: keys.ServiceGCP, chatFormat: "anthropic-chat", textFormat: "anthropic-chat"},
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start in proxy-only mode.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
//
// Every upstream service gets its own /proxy/<segment>/... namespace (spec
// §6.1): the URL segment, not the request body's model field, selects the
// provider. Each namespace exposes the five route shapes a client-side SDK
// for that provider would expect, cross-translated by internal/translate
// when the client's own inboundFormat differs from the provider's native
// wire shape.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	for _, ps := range providerSegments {
		base := "/proxy/" + ps.segment

		r.POST(base+"/v1/chat/completions", g.handle(routeSpec{
			Service: ps.service, InboundFormat: "openai-chat", OutboundFormat: ps.chatFormat,
		}, ""))

		r.POST(base+"/v1/completions", g.handle(routeSpec{
			Service: ps.service, InboundFormat: "openai-text", OutboundFormat: ps.textFormat,
		}, ""))

		r.POST(base+"/v1/messages", g.handle(routeSpec{
			Service: ps.service, InboundFormat: "anthropic-chat", OutboundFormat: ps.chatFormat,
		}, ""))

		r.POST(base+"/v1/complete", g.handle(routeSpec{
			Service: ps.service, InboundFormat: "anthropic-chat", OutboundFormat: ps.textFormat,
		}, ""))

		r.POST(base+"/v1beta/models/{modelAction}", g.handle(routeSpec{
			Service: ps.service, InboundFormat: "googleai", OutboundFormat: ps.chatFormat,
		}, "modelAction"))

		if ps.supportsImages {
			r.POST(base+"/v1/images/generations", g.handle(routeSpec{
				Service: ps.service, InboundFormat: "openai-image", OutboundFormat: "openai-image",
			}, ""))
		}
	}

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok"})
		return
	}
	writeJSON(ctx, g.health.Snapshot())
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
