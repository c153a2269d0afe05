// Package checker implements the Key Checker: a per-provider background
// probe loop that validates credentials, discovers their capabilities, and
// classifies upstream errors into the disable/revoke/rate-limit taxonomy
// shared with the response handler (spec §4.3).
//
// The loop/ticker/bounded-concurrency shape follows the teacher's
// proxy.HealthChecker (internal/proxy/healthchecker.go); semaphore-bounded
// fan-out is new plumbing since the teacher's health checker probes one
// provider per tick rather than many keys per provider concurrently.
package checker

import (
	"context"
	"log/slog"
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
)

// Outcome classifies the result of probing or dispatching against a key.
type Outcome int

const (
	// OutcomeOK — the key is healthy; Patch (if any) is applied.
	OutcomeOK Outcome = iota
	// OutcomeInvalid — credential is revoked/invalid: disable + revoke.
	OutcomeInvalid
	// OutcomeQuotaExhausted — billing/quota exhausted: disable, not revoked.
	OutcomeQuotaExhausted
	// OutcomeRateLimited — 429: reschedule the next check later.
	OutcomeRateLimited
	// OutcomeNetworkError — transport failure: reschedule the next check later.
	OutcomeNetworkError
	// OutcomeUnknown — unrecognized status: log and reschedule normally.
	OutcomeUnknown
)

// ProbeResult is what a Prober reports back for one key.
type ProbeResult struct {
	Outcome Outcome
	// Patch mutates discovered capability/state fields (ModelFamilies,
	// provider-specific ModelIDs, OAuth tokens, logging status, ...).
	// Applied even on non-OK outcomes, since a rate-limited key may still
	// have had its capability snapshot refreshed by an earlier attempt.
	Patch func(*keys.Key)
	// Detail is a short human-readable reason, logged but not surfaced to clients.
	Detail string
}

// Prober implements one provider's probe strategy (spec §4.3 bullet list).
type Prober interface {
	// Probe validates and discovers capabilities for a single key.
	Probe(ctx context.Context, k *keys.Key) ProbeResult
	// Recurring reports whether this provider's checker loop runs forever
	// (OpenAI/Anthropic/AWS) or only performs a one-shot pass at startup
	// (Google AI/GCP/Mistral), per spec §4.3.
	Recurring() bool
}

// Config tunes one Checker instance.
type Config struct {
	// MinCheckInterval is the minimum time between probes of the same key.
	MinCheckInterval time.Duration
	// Concurrency bounds the number of simultaneous probes (spec example:
	// 2 concurrent for AWS).
	Concurrency int
	// ScanInterval is how often the loop wakes to look for due keys.
	ScanInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinCheckInterval <= 0 {
		c.MinCheckInterval = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 10 * time.Second
	}
	return c
}

// rateLimitedBackoff and networkErrorBackoff are the "~1 minute later"
// reschedule delays spec §4.3 names for 429 and network-error outcomes.
const (
	rateLimitedBackoff = time.Minute
	networkErrorBackoff = time.Minute
)

// Checker runs Prober against every key owned by a keys.Provider.
type Checker struct {
	prov   *keys.Provider
	prober Prober
	cfg    Config
	log    *slog.Logger

	// nextDue overrides LastChecked-based scheduling for keys that were
	// rate-limited or hit a network error, so they're revisited sooner
	// than a fresh success would dictate, or later per spec's "~1 minute".
	nextDue map[string]time.Time
}

// New constructs a Checker. log may be nil (defaults to slog.Default()).
func New(prov *keys.Provider, prober Prober, cfg Config, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		prov:    prov,
		prober:  prober,
		cfg:     cfg.withDefaults(),
		log:     log,
		nextDue: make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, scanning for due keys on ScanInterval
// and probing up to Concurrency at a time. On the first pass every key is
// probed regardless of LastChecked. For non-recurring providers, Run
// performs exactly one scan pass and returns.
func (c *Checker) Run(ctx context.Context) {
	c.scanAndProbe(ctx, true)
	if !c.prober.Recurring() {
		return
	}

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.prov.Wake():
			c.scanAndProbe(ctx, true)
		case <-ticker.C:
			c.scanAndProbe(ctx, false)
		}
	}
}

func (c *Checker) scanAndProbe(ctx context.Context, force bool) {
	now := time.Now()
	due := make([]*keys.Key, 0)
	for _, k := range c.prov.Snapshot() {
		if !force && !c.isDue(k, now) {
			continue
		}
		due = append(due, k)
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	results := make(chan struct{}, len(due))

	for _, k := range due {
		k := k
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; results <- struct{}{} }()
			c.probeOne(ctx, k)
		}()
	}
	for range due {
		<-results
	}
}

func (c *Checker) isDue(k *keys.Key, now time.Time) bool {
	if next, ok := c.nextDue[k.Hash]; ok {
		return now.After(next)
	}
	return now.Sub(k.LastChecked) >= c.cfg.MinCheckInterval
}

func (c *Checker) probeOne(ctx context.Context, k *keys.Key) {
	res := c.prober.Probe(ctx, k)

	c.prov.Update(k.Hash, func(live *keys.Key) {
		if res.Patch != nil {
			res.Patch(live)
		}
	})

	switch res.Outcome {
	case OutcomeInvalid:
		c.prov.Disable(k.Hash, true)
		c.log.Warn("key checker: disabling invalid key", slog.String("hash", k.Hash), slog.String("detail", res.Detail))
		delete(c.nextDue, k.Hash)
	case OutcomeQuotaExhausted:
		c.prov.Disable(k.Hash, false)
		c.log.Info("key checker: disabling over-quota key", slog.String("hash", k.Hash), slog.String("detail", res.Detail))
		delete(c.nextDue, k.Hash)
	case OutcomeRateLimited:
		c.nextDue[k.Hash] = time.Now().Add(rateLimitedBackoff)
	case OutcomeNetworkError:
		c.nextDue[k.Hash] = time.Now().Add(networkErrorBackoff)
	case OutcomeUnknown:
		c.log.Warn("key checker: unrecognized probe outcome", slog.String("hash", k.Hash), slog.String("detail", res.Detail))
		delete(c.nextDue, k.Hash)
	default: // OutcomeOK
		delete(c.nextDue, k.Hash)
	}
}
