package googleai

import (
	"context"
	"strings"
	"testing"

	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestBuildRequest_GenerateContentRoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{Model: "gemini-1.5-pro", Body: []byte(`{}`)}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if httpReq.URL.Path != "/v1beta/models/gemini-1.5-pro:generateContent" {
		t.Fatalf("unexpected path: %s", httpReq.URL.Path)
	}
}

func TestBuildRequest_StreamingUsesSSERoute(t *testing.T) {
	p := New()
	req := &reqctx.Request{Model: "gemini-1.5-flash", Streaming: true, Body: []byte(`{}`)}

	httpReq, err := p.BuildRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(httpReq.URL.Path, ":streamGenerateContent") {
		t.Fatalf("expected streamGenerateContent route, got %s", httpReq.URL.Path)
	}
	if httpReq.URL.RawQuery != "alt=sse" {
		t.Fatalf("expected alt=sse query, got %q", httpReq.URL.RawQuery)
	}
}
