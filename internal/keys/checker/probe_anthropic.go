package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/riftproxy/llmgw/internal/keys"
)

// AnthropicProber sends a minimal message to validate the key and to detect
// "preamble required" and multimodality behaviour (spec §4.3).
type AnthropicProber struct {
	BaseURL string
	Client  *http.Client
}

func (p *AnthropicProber) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *AnthropicProber) baseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return "https://api.anthropic.com/v1"
}

func (p *AnthropicProber) Recurring() bool { return true }

func (p *AnthropicProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	body, _ := json.Marshal(map[string]any{
		"model":      "claude-3-haiku-20240307",
		"max_tokens": 1,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return ProbeResult{Outcome: OutcomeUnknown, Detail: err.Error()}
	}
	req.Header.Set("X-API-Key", k.Secret())
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return ProbeResult{Outcome: OutcomeNetworkError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody := make([]byte, 0, 512)
	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	respBody = append(respBody, buf[:n]...)
	text := string(respBody)

	switch {
	case resp.StatusCode == http.StatusOK:
		return ProbeResult{
			Outcome: OutcomeOK,
			Patch: func(live *keys.Key) {
				live.Anthropic.IsOverQuota = false
				live.Anthropic.AllowsMultimodality = true
				if live.ModelFamilies == nil {
					live.ModelFamilies = map[string]struct{}{}
				}
				for _, f := range []string{
					"claude-opus", "claude-sonnet", "claude-haiku",
					"claude-sonnet35", "claude-haiku35", "claude-sonnet37",
					"claude-opus4", "claude-sonnet4", "claude-haiku4",
				} {
					live.ModelFamilies[f] = struct{}{}
				}
			},
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return ProbeResult{Outcome: OutcomeInvalid, Detail: "401 invalid api key"}
	case resp.StatusCode == http.StatusForbidden:
		return ProbeResult{Outcome: OutcomeInvalid, Detail: "403 forbidden"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return ProbeResult{Outcome: OutcomeRateLimited, Detail: "429 during probe"}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(text, "preamble"):
		return ProbeResult{
			Outcome: OutcomeOK,
			Patch:   func(live *keys.Key) { live.Anthropic.RequiresPreamble = true },
		}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(text, "credit balance"):
		return ProbeResult{Outcome: OutcomeQuotaExhausted, Detail: "billing exhausted"}
	default:
		return ProbeResult{Outcome: OutcomeUnknown, Detail: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, text)}
	}
}
