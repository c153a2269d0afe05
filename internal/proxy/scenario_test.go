package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/providers"
	"github.com/riftproxy/llmgw/internal/queue"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// fakeDispatcher builds a plain POST to an httptest server instead of a real
// provider host, tagging the request with the dispatching key's hash so the
// test server can script per-key behavior (spec §8.2 scenarios key their
// setup on the credential, not the wire target).
type fakeDispatcher struct{ baseURL string }

func (d *fakeDispatcher) BuildRequest(ctx context.Context, req *reqctx.Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Test-Key-Hash", req.Key.Hash)
	return httpReq, nil
}

// newScenarioGateway builds a minimally-wired Gateway suitable for driving
// attemptBlocking/attemptStream directly, bypassing the fasthttp entry point
// (ServeHTTP) and the preprocess stage, neither of which this package's
// pipeline tests need to exercise. The real mutate/queue/respond pipeline
// runs unmodified; only the outbound wire target is faked.
func newScenarioGateway(pool *keys.Pool, svc keys.Service, dispatcherURL string) *Gateway {
	sched := queue.New(pool, queue.Config{UserConcurrencyLimit: 10}, nil)
	gw := NewGateway(context.Background(), pool, map[keys.Service]providers.Dispatcher{
		svc: &fakeDispatcher{baseURL: dispatcherURL},
	}, sched, nil, nil, GatewayOptions{})
	gw.httpClient = http.DefaultClient
	return gw
}

// TestScenario_SingleKeyHappyPath mirrors spec §8.2 scenario 1: one valid
// OpenAI key, one request, a 200 upstream response.
func TestScenario_SingleKeyHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer upstream.Close()

	key := keys.NewSimpleKey(keys.ServiceOpenAI, "sk-live", "gpt4o")
	key.Hash = "aaaaaaaa"
	prov := keys.NewProvider(keys.ServiceOpenAI, trivialEligible, nil)
	prov.Add(key)
	pool := keys.NewPool(map[keys.Service]*keys.Provider{keys.ServiceOpenAI: prov})

	gw := newScenarioGateway(pool, keys.ServiceOpenAI, upstream.URL)

	dispatchTime := time.Now()
	req := &reqctx.Request{
		ID:           "req-1",
		Identity:     "user-1",
		Service:      keys.ServiceOpenAI,
		Model:        "gpt-4o-2024-05-13",
		ModelFamily:  "gpt4o",
		Headers:      map[string]string{},
		Body:         []byte(`{"model":"gpt-4o-2024-05-13","messages":[{"role":"user","content":"hi"}],"stream":false}`),
		StartTime:    dispatchTime,
		PromptTokens: 8,
		OutputTokens: 4,
	}

	resultCh := make(chan *blockAttempt, 1)
	gw.attemptBlocking(context.Background(), req, resultCh)

	att := <-resultCh
	if att.err != nil {
		t.Fatalf("unexpected error: %v", att.err)
	}
	if att.result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", att.result.Status)
	}

	live, ok := prov.ByHash("aaaaaaaa")
	if !ok {
		t.Fatalf("key not found")
	}
	if !live.RateLimitedUntil.After(dispatchTime.Add(999 * time.Millisecond)) {
		t.Fatalf("expected throttle >= dispatch+1000ms, got %v", live.RateLimitedUntil)
	}
	if live.PromptCount != 1 {
		t.Fatalf("expected promptCount 1, got %d", live.PromptCount)
	}
	if live.FamilyTokens["gpt4o"] != 12 {
		t.Fatalf("expected 12 tokens accounted, got %d", live.FamilyTokens["gpt4o"])
	}
}

// TestScenario_KeyRotationUnderRateLimit mirrors spec §8.2 scenario 2: two
// Anthropic keys, key A answers 429, the request is reverted and
// re-enqueued, and the next dispatch (key B, the only remaining eligible
// key) succeeds.
func TestScenario_KeyRotationUnderRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Key-Hash") == "aaaaaaaa" {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":[{"type":"text","text":"hi"}]}`))
	}))
	defer upstream.Close()

	keyA := keys.NewSimpleKey(keys.ServiceAnthropic, "secretA", "claude-sonnet35")
	keyA.Hash = "aaaaaaaa"
	keyB := keys.NewSimpleKey(keys.ServiceAnthropic, "secretB", "claude-sonnet35")
	keyB.Hash = "bbbbbbbb"
	prov := keys.NewProvider(keys.ServiceAnthropic, trivialEligible, nil)
	prov.Add(keyA)
	prov.Add(keyB)
	pool := keys.NewPool(map[keys.Service]*keys.Provider{keys.ServiceAnthropic: prov})

	gw := newScenarioGateway(pool, keys.ServiceAnthropic, upstream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.scheduler.Run(ctx)

	before429 := time.Now()
	req := &reqctx.Request{
		ID:          "req-2",
		Identity:    "user-2",
		Service:     keys.ServiceAnthropic,
		Model:       "claude-3-5-sonnet-20240620",
		ModelFamily: "claude-sonnet35",
		Headers:     map[string]string{},
		Body:        []byte(`{"model":"claude-3-5-sonnet-20240620","messages":[{"role":"user","content":"hi"}],"stream":false}`),
		StartTime:   before429,
	}

	resultCh := make(chan *blockAttempt, 1)
	continuation := func(r *reqctx.Request) { gw.attemptBlocking(ctx, r, resultCh) }
	if err := gw.scheduler.Enqueue(req, continuation, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case att := <-resultCh:
		if att.err != nil {
			t.Fatalf("unexpected error: %v", att.err)
		}
		if att.result.Status != http.StatusOK {
			t.Fatalf("expected eventual 200 after rotation, got %d", att.result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rotation to key B to complete")
	}

	liveA, _ := prov.ByHash("aaaaaaaa")
	wantUntil := before429.Add(2 * time.Second)
	if liveA.RateLimitedUntil.Before(wantUntil.Add(-500*time.Millisecond)) || liveA.RateLimitedUntil.After(wantUntil.Add(500*time.Millisecond)) {
		t.Fatalf("expected key A's RateLimitedUntil ~= 429-time+2000ms, got %v want ~%v", liveA.RateLimitedUntil, wantUntil)
	}
}

// TestScenario_QueuePartitionIsolation mirrors spec §8.2 scenario 4: every
// claude-opus key is rate-limited while gpt4o has an available key; a
// concurrently-enqueued gpt4o request must dispatch within one scheduler
// tick despite the claude-opus partition being stuck.
func TestScenario_QueuePartitionIsolation(t *testing.T) {
	opusKey := keys.NewSimpleKey(keys.ServiceAnthropic, "secret-opus", "claude-opus")
	opusProv := keys.NewProvider(keys.ServiceAnthropic, trivialEligible, nil)
	opusProv.Add(opusKey)
	opusProv.MarkRateLimited(opusKey.Hash, time.Minute)

	gptKey := keys.NewSimpleKey(keys.ServiceOpenAI, "sk-live", "gpt4o")
	gptProv := keys.NewProvider(keys.ServiceOpenAI, trivialEligible, nil)
	gptProv.Add(gptKey)

	pool := keys.NewPool(map[keys.Service]*keys.Provider{
		keys.ServiceAnthropic: opusProv,
		keys.ServiceOpenAI:    gptProv,
	})

	sched := queue.New(pool, queue.Config{UserConcurrencyLimit: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	dispatched := make(chan string, 2)
	cont := func(r *reqctx.Request) { dispatched <- r.ID }

	opusReq := &reqctx.Request{ID: "opus-1", Identity: "user-opus", ModelFamily: "claude-opus", StartTime: time.Now()}
	gptReq := &reqctx.Request{ID: "gpt-1", Identity: "user-gpt", ModelFamily: "gpt4o", StartTime: time.Now()}

	if err := sched.Enqueue(opusReq, cont, nil); err != nil {
		t.Fatalf("enqueue opus: %v", err)
	}
	if err := sched.Enqueue(gptReq, cont, nil); err != nil {
		t.Fatalf("enqueue gpt: %v", err)
	}

	select {
	case id := <-dispatched:
		if id != "gpt-1" {
			t.Fatalf("expected the gpt4o request to dispatch first, got %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the gpt4o request to dispatch")
	}

	select {
	case id := <-dispatched:
		t.Fatalf("expected the claude-opus request to stay queued, but %q dispatched", id)
	case <-time.After(200 * time.Millisecond):
	}

	if sched.Len() != 1 {
		t.Fatalf("expected claude-opus request to remain queued, got len %d", sched.Len())
	}
	if pool.GetLockoutPeriod("claude-opus") <= 0 {
		t.Fatalf("expected claude-opus to report a positive lockout period")
	}
	if pool.GetLockoutPeriod("gpt4o") != 0 {
		t.Fatalf("expected gpt4o lockout period 0, got %v", pool.GetLockoutPeriod("gpt4o"))
	}
}
