// Package azure builds outbound requests for Azure OpenAI (spec §6.2).
// internal/mutate's injectAzureAuth already computed the full deployment
// host/path/api-key envelope, grounded on the teacher's completionsURL
// scheme; this package only turns that envelope into an *http.Request.
package azure

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// Provider dispatches Azure OpenAI deployment requests.
type Provider struct{}

// New returns an Azure dispatcher.
func New() *Provider { return &Provider{} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	return providers.BuildFromEnvelope(ctx, req)
}
