package mistral

import (
	"context"
	"testing"

	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestBuildRequest_ChatCompletionsRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{
		OutboundFormat: "mistral-chat",
		Headers:        map[string]string{"Authorization": "Bearer mist-key"},
		Body:           []byte(`{"model":"mistral-large-latest"}`),
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "api.mistral.ai" || httpReq.URL.Path != "/v1/chat/completions" {
		t.Fatalf("unexpected target: %s%s", httpReq.URL.Host, httpReq.URL.Path)
	}
	if httpReq.Header.Get("Authorization") != "Bearer mist-key" {
		t.Fatalf("expected auth header carried through, got %q", httpReq.Header.Get("Authorization"))
	}
}
