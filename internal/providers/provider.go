// Package providers builds the final outbound *http.Request for each of the
// seven supported upstream services (spec §6.2). By the time a request
// reaches this package every provider-specific concern other than the wire
// target has already been handled elsewhere: internal/translate has shaped
// the body, internal/mutate has injected auth and — for AWS/GCP/Azure —
// pre-computed the full host/path/headers envelope. A Dispatcher here only
// decides where the bytes go.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// Dispatcher builds the outbound HTTP request for one service's requests.
// Implementations never touch the network themselves — Do() is shared.
type Dispatcher interface {
	BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error)
}

// BuildFromEnvelope builds an *http.Request straight from a mutator's
// pre-computed envelope (AWS, GCP, Azure) — the common path those three
// dispatchers share.
func BuildFromEnvelope(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	env := req.SignedRequest
	if env == nil {
		return nil, fmt.Errorf("providers: no signed envelope on request (service %q)", req.Service)
	}
	u := fmt.Sprintf("https://%s%s", env.Host, env.Path)
	httpReq, err := http.NewRequestWithContext(ctx, env.Method, u, bytes.NewReader(env.Body))
	if err != nil {
		return nil, fmt.Errorf("providers: build request: %w", err)
	}
	for k, v := range env.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// BuildFromHeaders builds an *http.Request for the simple-bearer services
// (OpenAI, Anthropic, Google AI, Mistral): a fixed host, a route-dependent
// path, and whatever headers mutate.InjectAuth already set on req.Headers.
func BuildFromHeaders(ctx context.Context, req *reqctx.Request, host, path string) (*http.Request, error) {
	u := fmt.Sprintf("https://%s%s", host, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("providers: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Do sends an already-built request with the shared client and returns the
// raw response; callers own draining/closing the body.
func Do(client *http.Client, httpReq *http.Request) (*http.Response, error) {
	if client == nil {
		client = DefaultClient
	}
	return client.Do(httpReq)
}

// DefaultClient is the shared HTTP client used when a caller doesn't supply
// its own (tests inject their own via an httptest.Server transport).
var DefaultClient = &http.Client{Timeout: ProviderTimeout}

// ModelAliases maps a wire-level model name to the service that serves it
// (spec §6.4's constant table; scoped to the seven in-pool services).
var ModelAliases = map[string]keys.Service{
	"gpt-4o":      keys.ServiceOpenAI,
	"gpt-4o-mini": keys.ServiceOpenAI,
	"gpt-4-turbo": keys.ServiceOpenAI,
	"gpt-4":       keys.ServiceOpenAI,
	"o1":          keys.ServiceOpenAI,
	"o3-mini":     keys.ServiceOpenAI,

	"claude-3-5-sonnet-20241022": keys.ServiceAnthropic,
	"claude-3-5-haiku-20241022":  keys.ServiceAnthropic,
	"claude-3-opus-20240229":     keys.ServiceAnthropic,
	"claude-3-haiku-20240307":    keys.ServiceAnthropic,
	"claude-opus-4":              keys.ServiceAnthropic,
	"claude-sonnet-4":            keys.ServiceAnthropic,

	"gemini-1.5-pro":   keys.ServiceGoogleAI,
	"gemini-1.5-flash": keys.ServiceGoogleAI,
	"gemini-2.0-flash": keys.ServiceGoogleAI,
	"gemini-2.5-pro":   keys.ServiceGoogleAI,

	"mistral-large-latest": keys.ServiceMistral,
	"mistral-small-latest": keys.ServiceMistral,
	"codestral-latest":     keys.ServiceMistral,

	"anthropic.claude-3-5-sonnet-20241022-v2:0": keys.ServiceAWS,
	"anthropic.claude-3-opus-20240229-v1:0":     keys.ServiceAWS,
	"anthropic.claude-3-haiku-20240307-v1:0":    keys.ServiceAWS,

	"azure-gpt-4o":      keys.ServiceAzure,
	"azure-gpt-4":       keys.ServiceAzure,
	"azure-gpt-4-turbo": keys.ServiceAzure,

	"vertexai-claude-3-5-sonnet": keys.ServiceGCP,
	"vertexai-claude-3-opus":     keys.ServiceGCP,
}

// DefaultFallbackOrder lists every service once, in a fixed order; callers
// iterate it for per-service setup such as circuit breakers and metrics.
// The Key Prioritizer does not consult it.
var DefaultFallbackOrder = []keys.Service{
	keys.ServiceOpenAI,
	keys.ServiceAnthropic,
	keys.ServiceGoogleAI,
	keys.ServiceMistral,
	keys.ServiceAzure,
	keys.ServiceAWS,
	keys.ServiceGCP,
}

// Default circuit breaker and failover constants.
const (
	CBErrorThreshold  = 5
	CBTimeWindow      = 60 * time.Second
	CBHalfOpenTimeout = 30 * time.Second
	MaxRetries        = 3
	ProviderTimeout   = 30 * time.Second
)

// StatusCoder is implemented by errors that carry the HTTP status the
// upstream actually returned.
type StatusCoder interface {
	HTTPStatus() int
}
