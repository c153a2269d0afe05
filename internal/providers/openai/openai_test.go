package openai

import (
	"context"
	"io"
	"testing"

	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestBuildRequest_ChatCompletionsRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{
		OutboundFormat: "openai-chat",
		Headers:        map[string]string{"Authorization": "Bearer sk-test"},
		Body:           []byte(`{"model":"gpt-4o"}`),
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "api.openai.com" || httpReq.URL.Path != "/v1/chat/completions" {
		t.Fatalf("unexpected target: %s%s", httpReq.URL.Host, httpReq.URL.Path)
	}
	if httpReq.Header.Get("Authorization") != "Bearer sk-test" {
		t.Fatalf("expected auth header carried through, got %q", httpReq.Header.Get("Authorization"))
	}
	body, _ := io.ReadAll(httpReq.Body)
	if string(body) != `{"model":"gpt-4o"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestBuildRequest_LegacyCompletionsRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{OutboundFormat: "openai-text", Body: []byte(`{}`)}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Path != "/v1/completions" {
		t.Fatalf("expected legacy completions route, got %s", httpReq.URL.Path)
	}
}

func TestBuildRequest_CustomHost(t *testing.T) {
	p := &Provider{Host: "mock.local"}
	req := &reqctx.Request{OutboundFormat: "openai-chat", Body: []byte(`{}`)}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "mock.local" {
		t.Fatalf("expected overridden host, got %s", httpReq.URL.Host)
	}
}
