package azure

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
			Host:    "myresource.openai.azure.com",
			Path:    "/openai/deployments/gpt-4o-deployment/chat/completions?api-version=2024-12-01-preview",
			Headers: map[string]string{"api-key": "az-key"},
			Body:    []byte(`{"messages":[]}`),
		},
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "myresource.openai.azure.com" {
		t.Fatalf("unexpected host: %s", httpReq.URL.Host)
	}
	if httpReq.Header.Get("api-key") != "az-key" {
		t.Fatalf("expected api-key header from envelope")
	}
}

func TestBuildRequest_NoEnvelope_Errors(t *testing.T) {
	p := New()
	if _, err := p.BuildRequest(context.Background(), &reqctx.Request{}); err == nil {
		t.Fatalf("expected error when mutate never produced an envelope")
	}
}
