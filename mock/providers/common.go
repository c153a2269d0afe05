package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeWords is a pool of words used to build mock responses.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"mock", "provider", "simulating", "a", "real", "LLM", "API", "call",
	"for", "development", "and", "testing", "purposes",
}

// fakeSentence returns a fake response text of roughly n words.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

// fakeEmbedding returns a slice of floats simulating an embedding vector.
func fakeEmbedding(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rand.Float32()*2 - 1
	}
	return v
}

// applyLatency sleeps for the configured latency.
func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// shouldError returns true if this request should simulate an error.
func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

// scriptKey extracts a per-credential identity from whichever auth scheme
// the caller used, so a test can script behavior for one specific key
// regardless of which service it authenticates against: OpenAI/Mistral's
// bearer token, Anthropic's x-api-key header, or the access key ID out of
// an AWS SigV4 Authorization header.
func scriptKey(r *http.Request) string {
	if v := r.Header.Get("X-Api-Key"); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if strings.HasPrefix(auth, "AWS4-HMAC-SHA256") {
		if idx := strings.Index(auth, "Credential="); idx >= 0 {
			rest := auth[idx+len("Credential="):]
			if slash := strings.Index(rest, "/"); slash >= 0 {
				return rest[:slash]
			}
		}
	}
	return auth
}

// scriptedRateLimits maps a bearer token to the number of remaining requests
// that should be answered with a 429 before the mock resumes normal
// behavior for that token. Tests script specific keys through this instead
// of relying on Config's global, randomized ErrorRate, so multi-key
// rotation scenarios get deterministic outcomes per key.
var scriptedRateLimits sync.Map // string -> *int32

// ScriptRateLimit arranges for the next n requests bearing bearerTok to
// receive a 429 rate_limit_error before the mock answers normally again.
func ScriptRateLimit(bearerTok string, n int) {
	remaining := int32(n)
	scriptedRateLimits.Store(bearerTok, &remaining)
}

// consumeScriptedRateLimit reports whether this request's key has a
// scripted 429 remaining, decrementing the count if so.
func consumeScriptedRateLimit(r *http.Request) bool {
	tok := scriptKey(r)
	if tok == "" {
		return false
	}
	v, ok := scriptedRateLimits.Load(tok)
	if !ok {
		return false
	}
	remaining := v.(*int32)
	for {
		cur := atomic.LoadInt32(remaining)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(remaining, cur, cur-1) {
			return true
		}
	}
}

// scriptedMidStreamThrottle marks bearer tokens whose next streamed
// response should emit one throttling event partway through the stream
// instead of completing normally (spec scenario: mid-stream retryable
// error from a Bedrock upstream).
var scriptedMidStreamThrottle sync.Map // string -> struct{}

// ScriptMidStreamThrottle arranges for the next streaming request bearing
// bearerTok to be cut short by a throttling event after its first chunk.
func ScriptMidStreamThrottle(bearerTok string) {
	scriptedMidStreamThrottle.Store(bearerTok, struct{}{})
}

// consumeScriptedMidStreamThrottle reports whether this request's key has
// a scripted mid-stream throttle pending, clearing it if so.
func consumeScriptedMidStreamThrottle(r *http.Request) bool {
	tok := scriptKey(r)
	if tok == "" {
		return false
	}
	_, ok := scriptedMidStreamThrottle.LoadAndDelete(tok)
	return ok
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the generic OpenAI-style error envelope.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Message: msg,
		Type:    typ,
		Code:    strings.ToLower(strings.ReplaceAll(typ, " ", "_")),
	}})
}
