package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/riftproxy/llmgw/internal/gcpauth"
	"github.com/riftproxy/llmgw/internal/keys"
)

// gcpVariants maps the three Claude-on-Vertex variants this prober checks to
// the flag it sets and the model ID used to probe it (spec §4.3: "on first
// check, probe all Claude variants in parallel").
var gcpVariants = []struct {
	name    string
	modelID string
	family  string
	set     func(*keys.GCPFields)
}{
	{"sonnet", "claude-3-5-sonnet@20240620", "vertex-claude-sonnet", func(f *keys.GCPFields) { f.SonnetEnabled = true }},
	{"haiku", "claude-3-haiku@20240307", "vertex-claude-haiku", func(f *keys.GCPFields) { f.HaikuEnabled = true }},
	{"sonnet35", "claude-3-5-sonnet-v2@20241022", "vertex-claude-sonnet35", func(f *keys.GCPFields) { f.Sonnet35Enabled = true }},
}

// GCPProber exchanges the service-account assertion for an access token once,
// then probes each Claude variant concurrently with a minimal completion
// request. Non-recurring: once eligibility is known it does not change
// without a credential swap (spec §4.3).
type GCPProber struct {
	Client   *http.Client
	BaseHost string // overrides "<region>-aiplatform.googleapis.com", for mocks
}

func (p *GCPProber) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *GCPProber) Recurring() bool { return false }

func (p *GCPProber) host(region string) string {
	if p.BaseHost != "" {
		return p.BaseHost
	}
	return fmt.Sprintf("%s-aiplatform.googleapis.com", region)
}

func (p *GCPProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	src, err := gcpauth.New(k.GCP.ClientEmail, k.GCP.PrivateKeyPKCS8, p.client())
	if err != nil {
		return ProbeResult{Outcome: OutcomeInvalid, Detail: err.Error()}
	}
	token, err := src.AccessToken(ctx)
	if err != nil {
		return ProbeResult{Outcome: OutcomeInvalid, Detail: fmt.Sprintf("oauth exchange failed: %v", err)}
	}

	results := make([]bool, len(gcpVariants))
	var wg sync.WaitGroup
	for i, v := range gcpVariants {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			results[i] = p.probeVariant(ctx, k, token, modelID)
		}(i, v.modelID)
	}
	wg.Wait()

	anyOK := false
	for _, ok := range results {
		if ok {
			anyOK = true
		}
	}
	if !anyOK {
		return ProbeResult{Outcome: OutcomeInvalid, Detail: "no Claude variant reachable on this Vertex project"}
	}

	return ProbeResult{
		Outcome: OutcomeOK,
		Patch: func(live *keys.Key) {
			live.GCP.AccessToken = token
			if live.ModelFamilies == nil {
				live.ModelFamilies = map[string]struct{}{}
			}
			for i, v := range gcpVariants {
				if results[i] {
					v.set(&live.GCP)
					live.ModelFamilies[v.family] = struct{}{}
				}
			}
		},
	}
}

// probeVariant sends a 1-token completion request and reports whether the
// variant is reachable (2xx, or 400 for a malformed-but-authorized request;
// 403/404 means no access to that model).
func (p *GCPProber) probeVariant(ctx context.Context, k *keys.Key, token, modelID string) bool {
	url := fmt.Sprintf("https://%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:rawPredict",
		p.host(k.GCP.Region), k.GCP.ProjectID, k.GCP.Region, modelID)

	body, _ := json.Marshal(map[string]any{
		"anthropic_version": "vertex-2023-10-16",
		"max_tokens":         1,
		"messages":           []map[string]string{{"role": "user", "content": "hi"}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return false
	default:
		// Any other status (e.g. 400 validation) still implies the project
		// has access to the model, just not to this exact probe payload.
		return !strings.Contains(strings.ToLower(resp.Status), "not found")
	}
}
