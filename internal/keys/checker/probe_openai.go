package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/riftproxy/llmgw/internal/keys"
)

// OpenAIProber discovers models via list-models and tags the key's
// families from the listed IDs (spec §4.3). It sends no test completion and
// does not detect organization membership or trial status.
type OpenAIProber struct {
	BaseURL string // defaults to https://api.openai.com/v1
	Client  *http.Client
}

func (p *OpenAIProber) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *OpenAIProber) baseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return "https://api.openai.com/v1"
}

func (p *OpenAIProber) Recurring() bool { return true }

func (p *OpenAIProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+"/models", nil)
	if err != nil {
		return ProbeResult{Outcome: OutcomeUnknown, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+k.Secret())
	if k.OpenAI.OrganizationID != "" {
		req.Header.Set("OpenAI-Organization", k.OpenAI.OrganizationID)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return ProbeResult{Outcome: OutcomeNetworkError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ProbeResult{Outcome: OutcomeInvalid, Detail: "401 invalid api key"}
	case resp.StatusCode == http.StatusForbidden:
		return ProbeResult{Outcome: OutcomeInvalid, Detail: "403 forbidden"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return ProbeResult{Outcome: OutcomeRateLimited, Detail: "429 during probe"}
	case resp.StatusCode == http.StatusPaymentRequired:
		return ProbeResult{Outcome: OutcomeQuotaExhausted, Detail: "402 quota exceeded"}
	case resp.StatusCode != http.StatusOK:
		return ProbeResult{Outcome: OutcomeUnknown, Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return ProbeResult{Outcome: OutcomeUnknown, Detail: "decode models listing: " + err.Error()}
	}

	ids := make([]string, 0, len(listing.Data))
	families := map[string]struct{}{}
	for _, m := range listing.Data {
		ids = append(ids, m.ID)
		if family, svc, ok := keys.ModelFamily(m.ID); ok && svc == keys.ServiceOpenAI {
			families[family] = struct{}{}
		}
	}

	return ProbeResult{
		Outcome: OutcomeOK,
		Patch: func(live *keys.Key) {
			live.OpenAI.ModelIDs = ids
			live.OpenAI.IsOverQuota = false
			if live.ModelFamilies == nil {
				live.ModelFamilies = map[string]struct{}{}
			}
			for f := range families {
				live.ModelFamilies[f] = struct{}{}
			}
		},
	}
}
