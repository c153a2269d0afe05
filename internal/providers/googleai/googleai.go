// Package googleai builds outbound requests for the Google AI Studio REST
// API (spec §6.2). Body shaping lives in internal/translate, auth in
// internal/mutate; this package only resolves host and path, which for
// Google AI embeds the model name directly (there is no "model" body field).
package googleai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

const defaultHost = "generativelanguage.googleapis.com"

// Provider dispatches Google AI generateContent/streamGenerateContent
// requests.
type Provider struct {
	Host string
}

// New returns a Google AI dispatcher targeting the public API host.
func New() *Provider { return &Provider{Host: defaultHost} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	action := "generateContent"
	if req.Streaming {
		action = "streamGenerateContent"
	}
	path := fmt.Sprintf("/v1beta/models/%s:%s", req.Model, action)
	if req.Streaming {
		path += "?alt=sse"
	}
	return providers.BuildFromHeaders(ctx, req, p.host(), path)
}

func (p *Provider) host() string {
	if p.Host != "" {
		return p.Host
	}
	return defaultHost
}
