package keys

import (
	"fmt"
	"sync"
	"time"
)

// ErrNoKeyAvailable is returned by Get when every eligible credential in the
// family is disabled or the family has no registered keys at all.
var ErrNoKeyAvailable = fmt.Errorf("keys: no key available")

// EligibilityFunc filters candidates beyond the generic !isDisabled ∧
// family-membership test: OpenAI excludes over-quota/trial keys on request,
// AWS checks logging policy only (model/variant availability is not
// filtered), GCP checks per-variant flags. Returning false excludes the key
// from selection.
type EligibilityFunc func(k *Key, family string) bool

// Provider owns the slice of Key records for one upstream service and
// serializes all mutation through a single mutex, per spec §5's "mutex per
// provider or per key is acceptable" guidance.
type Provider struct {
	mu      sync.Mutex
	service Service
	byHash  map[string]*Key
	order   []string // insertion order, for stable listing

	eligible  EligibilityFunc
	tiebreak  Tiebreaker
	wake      chan struct{} // recheck() signals the Key Checker via this channel
	clockNow  func() time.Time
}

// NewProvider constructs an empty Provider for the given service.
func NewProvider(svc Service, eligible EligibilityFunc, tiebreak Tiebreaker) *Provider {
	return &Provider{
		service:  svc,
		byHash:   make(map[string]*Key),
		eligible: eligible,
		tiebreak: tiebreak,
		wake:     make(chan struct{}, 1),
		clockNow: time.Now,
	}
}

// Wake returns the channel the Key Checker should select on to learn that
// Recheck() was called.
func (p *Provider) Wake() <-chan struct{} { return p.wake }

// Add registers a newly parsed credential. Used at startup only.
func (p *Provider) Add(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byHash[k.Hash]; exists {
		return
	}
	p.byHash[k.Hash] = k
	p.order = append(p.order, k.Hash)
}

// Get selects, throttles, and returns a shallow copy of the best-matching
// key for the given model family (spec §4.2).
func (p *Provider) Get(family string) (*Key, error) {
	now := p.clockNow()

	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*Key
	for _, h := range p.order {
		k := p.byHash[h]
		if k.IsDisabled || !k.HasFamily(family) {
			continue
		}
		if p.eligible != nil && !p.eligible(k, family) {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return nil, ErrNoKeyAvailable
	}

	ordered := Prioritize(candidates, now, p.tiebreak)
	chosen := ordered[0]

	// Throttle: always advance the lockout window by KEY_REUSE_DELAY,
	// uniformly across providers (spec §9 open-question resolution).
	reuse := now.Add(KeyReuseDelay(p.service))
	if reuse.After(chosen.RateLimitedUntil) {
		chosen.RateLimitedUntil = reuse
	}
	chosen.LastUsed = now

	// The copy keeps the bearer secret: the auth mutator builds the
	// outbound header from it.
	out := chosen.Clone()
	out.secret = chosen.secret
	return out, nil
}

// List returns a snapshot of every key, with the bearer secret and the
// composite services' secret fields cleared.
func (p *Provider) List() []*Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Key, 0, len(p.order))
	for _, h := range p.order {
		c := p.byHash[h].Clone()
		c.AWS.SecretAccessKey = ""
		c.GCP.PrivateKeyPKCS8 = nil
		c.GCP.AccessToken = ""
		c.Azure.APIKey = ""
		out = append(out, c)
	}
	return out
}

// Disable marks a key unusable. Idempotent (spec §8.1 invariant 8).
func (p *Provider) Disable(hash string, revoke bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	if !ok {
		return
	}
	k.IsDisabled = true
	if revoke {
		k.IsRevoked = true
	}
}

// Update merges a patch function onto the key and stamps LastChecked.
func (p *Provider) Update(hash string, patch func(*Key)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	if !ok {
		return
	}
	patch(k)
	k.LastChecked = p.clockNow()
}

// IncrementUsage bumps PromptCount and the family's token counter.
func (p *Provider) IncrementUsage(hash, family string, tokens int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	if !ok {
		return
	}
	k.PromptCount++
	k.FamilyTokens[family] += tokens
}

// MarkRateLimited opens a lockout window starting now. lockout, when
// positive, overrides the provider's design-constant floor; otherwise
// RateLimitLockout(service) is used.
func (p *Provider) MarkRateLimited(hash string, lockout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	if !ok {
		return
	}
	now := p.clockNow()
	if lockout <= 0 {
		lockout = RateLimitLockout(p.service)
	}
	k.RateLimitedAt = now
	k.RateLimitedUntil = now.Add(lockout)
}

// RefundThrottle reverts the KEY_REUSE_DELAY throttle that Get applied the
// last time this key was selected, for classifications that shouldn't cost
// the key a selection slot (spec §4.9 "Refund rate-limit attempt").
func (p *Provider) RefundThrottle(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	if !ok {
		return
	}
	reverted := k.RateLimitedUntil.Add(-KeyReuseDelay(p.service))
	if reverted.Before(p.clockNow()) {
		k.RateLimitedUntil = time.Time{}
	} else {
		k.RateLimitedUntil = reverted
	}
}

// GetLockoutPeriod returns 0 if any enabled key in family is currently not
// rate-limited, the minimum remaining lockout across enabled keys otherwise,
// or 0 when the family has no enabled keys (spec §4.2).
func (p *Provider) GetLockoutPeriod(family string) time.Duration {
	now := p.clockNow()

	p.mu.Lock()
	defer p.mu.Unlock()

	var minRemaining time.Duration = -1
	found := false
	for _, h := range p.order {
		k := p.byHash[h]
		if k.IsDisabled || !k.HasFamily(family) {
			continue
		}
		found = true
		if !k.IsRateLimited(now) {
			return 0
		}
		remaining := k.RateLimitedUntil.Sub(now)
		if minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}
	}
	if !found {
		return 0
	}
	return minRemaining
}

// Recheck resets check bookkeeping on every key and wakes the Key Checker.
func (p *Provider) Recheck() {
	p.mu.Lock()
	for _, h := range p.order {
		k := p.byHash[h]
		k.LastChecked = time.Time{}
		k.IsDisabled = false
		k.IsRevoked = false
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ByHash returns the live key (not a copy) for internal use by the checker
// and mutators, which need to read/write provider-specific fields directly.
// Callers must not retain the pointer beyond the current goroutine's use,
// and must go through Update for persisted changes outside this package.
func (p *Provider) ByHash(hash string) (*Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.byHash[hash]
	return k, ok
}

// Snapshot returns the live keys (not copies) for the checker's internal
// iteration. Only internal/keys/checker may call this.
func (p *Provider) Snapshot() []*Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Key, 0, len(p.order))
	for _, h := range p.order {
		out = append(out, p.byHash[h])
	}
	return out
}

// Service returns the provider's service tag.
func (p *Provider) Service() Service { return p.service }

// AddClone registers a sibling key sharing the same secret but a distinct
// hash — used by OpenAI's organization-membership clone (spec §4.2).
func (p *Provider) AddClone(original *Key, newHash string, mutate func(*Key)) *Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byHash[newHash]; exists {
		return p.byHash[newHash]
	}
	clone := *original
	clone.Hash = newHash
	clone.ModelFamilies = cloneSet(original.ModelFamilies)
	clone.FamilyTokens = map[string]int64{}
	if mutate != nil {
		mutate(&clone)
	}
	p.byHash[newHash] = &clone
	p.order = append(p.order, newHash)
	return &clone
}
