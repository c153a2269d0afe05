package bedrock

import (
	"context"
	"testing"

	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestBuildRequest_UsesSignedEnvelope(t *testing.T) {
	p := New()
	req := &reqctx.Request{
		SignedRequest: &reqctx.SignedEnvelope{
			Method:  "POST",
			Host:    "bedrock-runtime.us-east-1.amazonaws.com",
			Path:    "/model/anthropic.claude-3-5-sonnet-20241022-v2:0/invoke",
			Headers: map[string]string{"Authorization": "AWS4-HMAC-SHA256 ..."},
			Body:    []byte(`{"anthropic_version":"bedrock-2023-05-31"}`),
		},
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "bedrock-runtime.us-east-1.amazonaws.com" {
		t.Fatalf("unexpected host: %s", httpReq.URL.Host)
	}
	if httpReq.URL.Path != "/model/anthropic.claude-3-5-sonnet-20241022-v2:0/invoke" {
		t.Fatalf("unexpected path: %s", httpReq.URL.Path)
	}
}
