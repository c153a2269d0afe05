package proxy

import (
	"net/http"
	"testing"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

func TestModelFromURL_SplitsAction(t *testing.T) {
	model, action := modelFromURL("gemini-1.5-pro:generateContent")
	if model != "gemini-1.5-pro" || action != "generateContent" {
		t.Errorf("got model=%q action=%q", model, action)
	}
}

func TestModelFromURL_StreamAction(t *testing.T) {
	model, action := modelFromURL("gemini-1.5-pro:streamGenerateContent")
	if model != "gemini-1.5-pro" || action != "streamGenerateContent" {
		t.Errorf("got model=%q action=%q", model, action)
	}
}

func TestModelFromURL_NoAction(t *testing.T) {
	model, action := modelFromURL("gemini-1.5-pro")
	if model != "gemini-1.5-pro" || action != "" {
		t.Errorf("got model=%q action=%q", model, action)
	}
}

func TestPeekModel(t *testing.T) {
	if got := peekModel([]byte(`{"model":"gpt-4o","messages":[]}`)); got != "gpt-4o" {
		t.Errorf("got %q", got)
	}
	if got := peekModel([]byte(`not json`)); got != "" {
		t.Errorf("expected empty model on bad json, got %q", got)
	}
}

func TestBodyWantsStream(t *testing.T) {
	if !bodyWantsStream([]byte(`{"stream":true}`)) {
		t.Error("expected true")
	}
	if bodyWantsStream([]byte(`{"stream":false}`)) {
		t.Error("expected false")
	}
	if bodyWantsStream([]byte(`{}`)) {
		t.Error("missing field should default false")
	}
}

func TestParseBearerToken(t *testing.T) {
	if got := parseBearerToken("Bearer abc123"); got != "abc123" {
		t.Errorf("got %q", got)
	}
	if got := parseBearerToken("bearer abc123"); got != "abc123" {
		t.Errorf("expected case-insensitive match, got %q", got)
	}
	if got := parseBearerToken("Basic abc123"); got != "" {
		t.Errorf("expected empty for non-bearer scheme, got %q", got)
	}
	if got := parseBearerToken(""); got != "" {
		t.Errorf("expected empty for missing header, got %q", got)
	}
}

func TestBuildCacheKey_DeterministicAndScoped(t *testing.T) {
	base := &reqctx.Request{Identity: "id-1", Service: keys.ServiceOpenAI, Model: "gpt-4o", Body: []byte(`{"a":1}`)}
	if buildCacheKey(base) != buildCacheKey(base) {
		t.Error("expected deterministic key for identical requests")
	}

	other := &reqctx.Request{Identity: "id-2", Service: keys.ServiceOpenAI, Model: "gpt-4o", Body: []byte(`{"a":1}`)}
	if buildCacheKey(base) == buildCacheKey(other) {
		t.Error("expected distinct keys for distinct identities")
	}

	otherService := &reqctx.Request{Identity: "id-1", Service: keys.ServiceAzure, Model: "gpt-4o", Body: []byte(`{"a":1}`)}
	if buildCacheKey(base) == buildCacheKey(otherService) {
		t.Error("expected distinct keys for distinct services")
	}
}

func TestFlattenHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Request-Id", "abc")

	out := flattenHeaders(h)
	if out["Content-Type"] != "application/json" || out["X-Request-Id"] != "abc" {
		t.Errorf("got %#v", out)
	}
}

func TestRecordOutcome_TripsCircuitBreaker(t *testing.T) {
	gw := &Gateway{cb: NewCircuitBreaker()}
	for i := 0; i < 10; i++ {
		gw.recordOutcome(keys.ServiceOpenAI, 503)
	}
	if gw.cb.Allow(keys.ServiceOpenAI) {
		t.Error("expected circuit breaker to trip after repeated failures")
	}
	if gw.cb.Allow(keys.ServiceAnthropic) == false {
		t.Error("unrelated service should remain unaffected")
	}
}
