// Package anthropic builds outbound requests for api.anthropic.com (spec
// §6.2). Body shaping lives in internal/translate, auth in internal/mutate;
// this package only resolves host and path.
package anthropic

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

const defaultHost = "api.anthropic.com"

// Provider dispatches Anthropic Messages/legacy-Complete requests.
type Provider struct {
	Host string
}

// New returns an Anthropic dispatcher targeting the public API host.
func New() *Provider { return &Provider{Host: defaultHost} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	path := "/v1/messages"
	if req.OutboundFormat == "anthropic-text" {
		path = "/v1/complete"
	}
	return providers.BuildFromHeaders(ctx, req, p.host(), path)
}

func (p *Provider) host() string {
	if p.Host != "" {
		return p.Host
	}
	return defaultHost
}

// ProviderError is a structured error returned by the Anthropic API,
// preserved for internal/respond's classifier to read a status code off of.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return "anthropic: " + e.Message
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }
