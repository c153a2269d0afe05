// Package vertexai builds outbound requests for GCP Vertex AI's Anthropic
// publisher-model endpoint (spec §6.2). Token exchange and the
// rawPredict/streamRawPredict envelope are built by internal/mutate's
// injectGCPAuth (replacing the teacher's ADC approach with the pool's
// per-key RS256 JWT-bearer exchange, see DESIGN.md); this package only turns
// that envelope into an *http.Request.
package vertexai

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// Provider dispatches Vertex AI rawPredict/streamRawPredict requests.
type Provider struct{}

// New returns a Vertex AI dispatcher.
func New() *Provider { return &Provider{} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	return providers.BuildFromEnvelope(ctx, req)
}
