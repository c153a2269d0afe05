package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/riftproxy/llmgw/internal/keys"
)

// GoogleAIProber lists available models once and categorizes them by name
// (spec §4.3: "call list-models once; categorize by name"). Non-recurring.
type GoogleAIProber struct {
	Client  *http.Client
	BaseURL string
}

func (p *GoogleAIProber) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *GoogleAIProber) baseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return "https://generativelanguage.googleapis.com/v1beta"
}

func (p *GoogleAIProber) Recurring() bool { return false }

func (p *GoogleAIProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	url := fmt.Sprintf("%s/models?key=%s", p.baseURL(), k.Secret())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Outcome: OutcomeUnknown, Detail: err.Error()}
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return ProbeResult{Outcome: OutcomeNetworkError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ProbeResult{Outcome: OutcomeInvalid, Detail: fmt.Sprintf("%d on list-models", resp.StatusCode)}
	case http.StatusTooManyRequests:
		return ProbeResult{Outcome: OutcomeRateLimited, Detail: "429 on list-models"}
	case http.StatusOK:
		// fall through
	default:
		return ProbeResult{Outcome: OutcomeUnknown, Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ProbeResult{Outcome: OutcomeUnknown, Detail: fmt.Sprintf("decode list-models response: %v", err)}
	}

	families := map[string]struct{}{}
	for _, m := range payload.Models {
		name := strings.TrimPrefix(m.Name, "models/")
		if family, svc, ok := keys.ModelFamily(name); ok && svc == keys.ServiceGoogleAI {
			families[family] = struct{}{}
		}
	}

	return ProbeResult{
		Outcome: OutcomeOK,
		Patch: func(live *keys.Key) {
			if live.ModelFamilies == nil {
				live.ModelFamilies = map[string]struct{}{}
			}
			for f := range families {
				live.ModelFamilies[f] = struct{}{}
			}
		},
	}
}
