// Package openai builds outbound requests for api.openai.com (spec §6.2).
// Body shaping lives in internal/translate, auth in internal/mutate; this
// package only resolves host and path.
package openai

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

const defaultHost = "api.openai.com"

// Provider dispatches OpenAI chat/completions requests. The struct exists
// (rather than a bare function) so a test double host can be swapped in.
type Provider struct {
	Host string
}

// New returns an OpenAI dispatcher targeting the public API host.
func New() *Provider { return &Provider{Host: defaultHost} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	path := "/v1/chat/completions"
	switch req.OutboundFormat {
	case "openai-text":
		path = "/v1/completions"
	case "openai-image":
		path = "/v1/images/generations"
	}
	return providers.BuildFromHeaders(ctx, req, p.host(), path)
}

func (p *Provider) host() string {
	if p.Host != "" {
		return p.Host
	}
	return defaultHost
}
