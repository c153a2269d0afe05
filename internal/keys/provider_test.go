package keys

import (
	"testing"
	"time"
)

func newTestProvider(svc Service) *Provider {
	p := NewProvider(svc, nil, nil)
	return p
}

// TestProvider_Get_HappyPath mirrors spec §8.2 scenario 1's key setup:
// one valid OpenAI key serving the gpt4o family.
func TestProvider_Get_HappyPath(t *testing.T) {
	p := newTestProvider(ServiceOpenAI)
	k := NewSimpleKey(ServiceOpenAI, "sk-test", "gpt4o")
	k.Hash = "aaaaaaaa"
	p.Add(k)

	got, err := p.Get("gpt4o")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Secret() != "sk-test" {
		t.Fatalf("Get must keep the secret on the returned copy for auth injection")
	}
	if got.Hash != "aaaaaaaa" {
		t.Fatalf("unexpected hash %s", got.Hash)
	}

	live, _ := p.ByHash("aaaaaaaa")
	if !live.RateLimitedUntil.After(time.Now().Add(999 * time.Millisecond)) {
		t.Fatalf("expected throttle to advance RateLimitedUntil by >= 1000ms, got %v", live.RateLimitedUntil)
	}
}

func TestProvider_Get_NoKeyAvailable(t *testing.T) {
	p := newTestProvider(ServiceMistral)
	if _, err := p.Get("mistral-large"); err != ErrNoKeyAvailable {
		t.Fatalf("expected ErrNoKeyAvailable, got %v", err)
	}
}

func TestProvider_Get_ExcludesDisabled(t *testing.T) {
	p := newTestProvider(ServiceMistral)
	k := NewSimpleKey(ServiceMistral, "key", "mistral-large")
	p.Add(k)
	p.Disable(k.Hash, false)

	if _, err := p.Get("mistral-large"); err != ErrNoKeyAvailable {
		t.Fatalf("expected ErrNoKeyAvailable after disable, got %v", err)
	}
}

// TestProvider_KeyRotationUnderRateLimit mirrors spec §8.2 scenario 2: two
// Anthropic keys, A rate-limited, expect B selected next.
func TestProvider_KeyRotationUnderRateLimit(t *testing.T) {
	p := newTestProvider(ServiceAnthropic)
	a := NewSimpleKey(ServiceAnthropic, "secretA", "claude-sonnet35")
	a.Hash = "aaaaaaaa"
	b := NewSimpleKey(ServiceAnthropic, "secretB", "claude-sonnet35")
	b.Hash = "bbbbbbbb"
	p.Add(a)
	p.Add(b)

	before429 := time.Now()
	p.MarkRateLimited("aaaaaaaa", 0)

	live, _ := p.ByHash("aaaaaaaa")
	wantUntil := before429.Add(anthropicRateLimitLockout)
	if live.RateLimitedUntil.Before(wantUntil.Add(-50*time.Millisecond)) || live.RateLimitedUntil.After(wantUntil.Add(50*time.Millisecond)) {
		t.Fatalf("expected RateLimitedUntil ~= markedAt+2000ms, got %v want ~%v", live.RateLimitedUntil, wantUntil)
	}

	got, err := p.Get("claude-sonnet35")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hash != "bbbbbbbb" {
		t.Fatalf("expected rotation to key B, got %s", got.Hash)
	}
}

func TestProvider_Disable_Idempotent(t *testing.T) {
	p := newTestProvider(ServiceOpenAI)
	k := NewSimpleKey(ServiceOpenAI, "sk", "gpt4o")
	p.Add(k)

	p.Disable(k.Hash, true)
	p.Disable(k.Hash, true)

	live, _ := p.ByHash(k.Hash)
	if !live.IsDisabled || !live.IsRevoked {
		t.Fatalf("expected disabled+revoked after idempotent double-disable")
	}
}

func TestProvider_GetLockoutPeriod(t *testing.T) {
	p := newTestProvider(ServiceOpenAI)

	// No keys in the family at all → 0.
	if got := p.GetLockoutPeriod("gpt4o"); got != 0 {
		t.Fatalf("expected 0 lockout with no keys, got %v", got)
	}

	k := NewSimpleKey(ServiceOpenAI, "sk", "gpt4o")
	p.Add(k)
	if got := p.GetLockoutPeriod("gpt4o"); got != 0 {
		t.Fatalf("expected 0 lockout with an unthrottled key, got %v", got)
	}

	p.MarkRateLimited(k.Hash, 3*time.Second)
	got := p.GetLockoutPeriod("gpt4o")
	if got <= 0 || got > 3*time.Second {
		t.Fatalf("expected lockout in (0, 3s], got %v", got)
	}
}

func TestProvider_IncrementUsage(t *testing.T) {
	p := newTestProvider(ServiceOpenAI)
	k := NewSimpleKey(ServiceOpenAI, "sk", "gpt4o")
	p.Add(k)

	p.IncrementUsage(k.Hash, "gpt4o", 42)
	p.IncrementUsage(k.Hash, "gpt4o", 8)

	live, _ := p.ByHash(k.Hash)
	if live.PromptCount != 2 {
		t.Fatalf("expected PromptCount 2, got %d", live.PromptCount)
	}
	if live.FamilyTokens["gpt4o"] != 50 {
		t.Fatalf("expected 50 tokens accounted, got %d", live.FamilyTokens["gpt4o"])
	}
}

func TestProvider_Recheck_ResetsDisabledAndWakes(t *testing.T) {
	p := newTestProvider(ServiceOpenAI)
	k := NewSimpleKey(ServiceOpenAI, "sk", "gpt4o")
	p.Add(k)
	p.Disable(k.Hash, true)

	p.Recheck()

	live, _ := p.ByHash(k.Hash)
	if live.IsDisabled || live.IsRevoked {
		t.Fatalf("expected Recheck to clear disabled/revoked state")
	}

	select {
	case <-p.Wake():
	default:
		t.Fatalf("expected Recheck to signal the wake channel")
	}
}
