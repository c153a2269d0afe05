package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riftproxy/llmgw/internal/awssig"
	"github.com/riftproxy/llmgw/internal/keys"
)

// probeModelIDs is the set of Bedrock model IDs checked for access, one per
// known family, per spec §4.3's "each known model ID family-enabled in
// config" probe strategy.
var probeModelIDs = []string{
	"anthropic.claude-3-5-sonnet-20241022-v2:0",
	"anthropic.claude-3-opus-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"meta.llama3-70b-instruct-v1:0",
	"amazon.titan-text-express-v1",
	"amazon.nova-pro-v1:0",
	"mistral.mistral-large-2402-v1:0",
}

// AWSProber POSTs an intentionally malformed invoke payload per model ID
// and classifies access from the resulting status (spec §4.3).
type AWSProber struct {
	Client      *http.Client
	EndpointURL string // overrides the regional bedrock-runtime host, for mocks
}

func (p *AWSProber) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *AWSProber) Recurring() bool { return true }

func (p *AWSProber) endpoint(region, modelID string) (host, rawURL string) {
	if p.EndpointURL != "" {
		return strings.TrimPrefix(strings.TrimPrefix(p.EndpointURL, "https://"), "http://"),
			fmt.Sprintf("%s/model/%s/invoke", strings.TrimRight(p.EndpointURL, "/"), modelID)
	}
	host = fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", region)
	rawURL = fmt.Sprintf("https://%s/model/%s/invoke", host, modelID)
	return
}

func (p *AWSProber) Probe(ctx context.Context, k *keys.Key) ProbeResult {
	creds := awssig.Credentials{
		AccessKeyID:     k.AWS.AccessKeyID,
		SecretAccessKey: k.AWS.SecretAccessKey,
		Region:          k.AWS.Region,
	}

	accessible := make([]string, 0, len(probeModelIDs))
	var lastErr error

	// Malformed payload: missing required fields triggers a validation
	// error (400) when the model is reachable at all.
	body := []byte(`{"malformed":true}`)

	for _, modelID := range probeModelIDs {
		host, rawURL := p.endpoint(k.AWS.Region, modelID)

		headers := http.Header{}
		headers.Set("Content-Type", "application/json")
		headers.Set("Host", host)

		signed, err := awssig.Sign(creds, http.MethodPost, rawURL, "/model/"+modelID+"/invoke", "", headers, body, time.Now())
		if err != nil {
			lastErr = err
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header = signed

		resp, err := p.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		text := string(respBody)

		switch {
		case resp.StatusCode == http.StatusBadRequest && strings.Contains(text, "max_tokens"):
			accessible = append(accessible, modelID)
		case resp.StatusCode == http.StatusForbidden && strings.Contains(text, "access to the model with the specified model ID"):
			// no access; skip
		case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusTooManyRequests:
			accessible = append(accessible, modelID)
		}
	}

	if len(accessible) == 0 && lastErr != nil {
		return ProbeResult{Outcome: OutcomeNetworkError, Detail: lastErr.Error()}
	}

	families := map[string]struct{}{}
	for _, id := range accessible {
		if family, svc, ok := keys.ModelFamily(id); ok && svc == keys.ServiceAWS {
			families[family] = struct{}{}
		}
	}

	return ProbeResult{
		Outcome: OutcomeOK,
		Patch: func(live *keys.Key) {
			live.AWS.ModelIDs = accessible
			if live.ModelFamilies == nil {
				live.ModelFamilies = map[string]struct{}{}
			}
			for f := range families {
				live.ModelFamilies[f] = struct{}{}
			}
			// Logging status cannot be discovered without
			// cloudtrail/bedrock-logging API access; an unresolved
			// status is recorded as Disabled, and a status set by a
			// previous check is kept.
			if live.AWS.AWSLoggingStatus == keys.AWSLoggingUnknown {
				live.AWS.AWSLoggingStatus = keys.AWSLoggingDisabled
			}
		},
	}
}
