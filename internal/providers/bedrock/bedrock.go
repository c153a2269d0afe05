// Package bedrock builds outbound requests for AWS Bedrock's invoke/
// invoke-with-response-stream API (spec §6.2). Signing now lives in
// internal/awssig (extracted from the teacher's signRequest) and is run by
// internal/mutate, which leaves a fully-addressed envelope on the request;
// this package only turns that envelope into an *http.Request. The response
// side's AWS event-stream framing is handled by internal/sse, not here.
package bedrock

import (
	"context"
	"net/http"

	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// Provider dispatches Bedrock invoke/invoke-with-response-stream requests.
type Provider struct{}

// New returns a Bedrock dispatcher.
func New() *Provider { return &Provider{} }

// BuildRequest implements providers.Dispatcher.
func (p *Provider) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	return providers.BuildFromEnvelope(ctx, req)
}
