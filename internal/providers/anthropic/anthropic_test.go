package anthropic

import (
	"context"
	"io"
	"testing"

	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestBuildRequest_MessagesRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{
		OutboundFormat: "anthropic-chat",
		Headers:        map[string]string{"x-api-key": "sk-ant-test"},
		Body:           []byte(`{"model":"claude-3-5-sonnet-20241022"}`),
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Host != "api.anthropic.com" || httpReq.URL.Path != "/v1/messages" {
		t.Fatalf("unexpected target: %s%s", httpReq.URL.Host, httpReq.URL.Path)
	}
	if httpReq.Header.Get("x-api-key") != "sk-ant-test" {
		t.Fatalf("expected auth header carried through, got %q", httpReq.Header.Get("x-api-key"))
	}
	body, _ := io.ReadAll(httpReq.Body)
	if string(body) != `{"model":"claude-3-5-sonnet-20241022"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestBuildRequest_LegacyCompleteRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{OutboundFormat: "anthropic-text", Body: []byte(`{}`)}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Path != "/v1/complete" {
		t.Fatalf("expected legacy complete route, got %s", httpReq.URL.Path)
	}
}
