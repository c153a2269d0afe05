package checker

import (
	"context"

	"github.com/riftproxy/llmgw/internal/keys"
)

// MistralProber performs no network probe: Mistral credentials are trusted
// for whatever families they were configured with (spec §4.3). It exists so
// Mistral keys still flow through the same Checker.Run loop and get their
// LastChecked stamp refreshed, rather than special-casing Mistral out of the
// checker entirely.
type MistralProber struct{}

func (p *MistralProber) Recurring() bool { return false }

func (p *MistralProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	return ProbeResult{Outcome: OutcomeOK}
}
