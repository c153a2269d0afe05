// Package mistral builds outbound requests for api.mistral.ai (spec §6.2).
// Body shaping lives in internal/translate, auth in internal/mutate; this
// package only resolves host and path.
package mistral

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

const defaultHost = "api.mistral.ai"

// Provider dispatches Mistral chat/completions requests.
type Provider struct {
	Host string
}

// New returns a Mistral dispatcher targeting the public API host.
func New() *Provider { return &Provider{Host: defaultHost} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	path := "/v1/chat/completions"
	if req.OutboundFormat == "mistral-text" {
		path = "/v1/fim/completions"
	}
	return providers.BuildFromHeaders(ctx, req, p.host(), path)
}

func (p *Provider) host() string {
	if p.Host != "" {
		return p.Host
	}
	return defaultHost
}
