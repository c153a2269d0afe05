// Package respond implements the Response Handler (spec §4.9): the blocking
// and streaming pipelines that run once an upstream call returns, plus the
// uniform error-classification table shared by every provider.
package respond

import (
	"strings"

	"github.com/riftproxy/llmgw/pkg/apierr"
)

// keyAction is what, if anything, the classifier wants done to the key that
// served the failed attempt.
type keyAction int

const (
	keyActionNone keyAction = iota
	keyActionDisable
	keyActionDisableRevoke
	keyActionMarkRateLimited
	keyActionMarkRequiresPreamble
	keyActionMarkNoMultimodal
	keyActionRefundRateLimit
)

// Classification is the result of running the uniform error-classification
// table (spec §4.9) against an upstream status code and body.
type Classification struct {
	Kind      apierr.Kind
	KeyAction keyAction
	Retry     bool // revert mutations and re-enqueue rather than surface
}

// reasonMatch pairs a body substring with the classification it selects for
// a given status code. Substrings are the provider error "code"/"type"
// fields as rendered into JSON by OpenAI, Anthropic, Google AI and Bedrock
// error envelopes — e.g. `"code":"content_filter"`, `"type":"overloaded_error"`.
type reasonMatch struct {
	substr string
	result Classification
}

// classificationTable implements the spec §4.9 table exactly, keyed by
// upstream HTTP status. Within a status, reasonMatch entries are tried in
// order and the first substring match wins; the final entry with an empty
// substring is the status's default.
var classificationTable = map[int][]reasonMatch{
	400: {
		{"content_filter", Classification{Kind: apierr.BadRequest, KeyAction: keyActionRefundRateLimit}},
		{"content_policy", Classification{Kind: apierr.BadRequest, KeyAction: keyActionRefundRateLimit}},
		{"billing", Classification{Kind: apierr.KeyQuotaExceeded, KeyAction: keyActionDisable}},
		{"insufficient_quota", Classification{Kind: apierr.KeyQuotaExceeded, KeyAction: keyActionDisable}},
		{"preamble", Classification{Kind: apierr.RetryableUpstream, KeyAction: keyActionMarkRequiresPreamble, Retry: true}},
		{"does not support image", Classification{Kind: apierr.RetryableUpstream, KeyAction: keyActionMarkNoMultimodal, Retry: true}},
		{"vision", Classification{Kind: apierr.RetryableUpstream, KeyAction: keyActionMarkNoMultimodal, Retry: true}},
		{"", Classification{Kind: apierr.BadRequest}},
	},
	401: {
		{"", Classification{Kind: apierr.KeyInvalid, KeyAction: keyActionDisableRevoke}},
	},
	403: {
		{"model", Classification{Kind: apierr.Forbidden}}, // model-not-accessible: surface, do not disable
		{"", Classification{Kind: apierr.KeyInvalid, KeyAction: keyActionDisableRevoke}},
	},
	404: {
		{"", Classification{Kind: apierr.Forbidden}}, // model-not-found: key lacks the snapshot, surface
	},
	429: {
		{"daily", Classification{Kind: apierr.TooManyRequests}},
		{"quota", Classification{Kind: apierr.KeyQuotaExceeded, KeyAction: keyActionDisable}},
		{"billing", Classification{Kind: apierr.KeyQuotaExceeded, KeyAction: keyActionDisable}},
		{"", Classification{Kind: apierr.RetryableUpstream, KeyAction: keyActionMarkRateLimited, Retry: true}},
	},
	503: {
		{"", Classification{Kind: apierr.RetryableUpstream, Retry: false}}, // surfaced as transient, not retried internally
	},
}

// Classify maps an upstream status code and raw response body to a
// Classification, per the uniform table in spec §4.9. Statuses outside the
// table (2xx, unexpected 5xx) classify to Success/UpstreamFatal.
func Classify(status int, body []byte) Classification {
	if status >= 200 && status < 300 {
		return Classification{Kind: apierr.Success}
	}
	matches, ok := classificationTable[status]
	if !ok {
		if status >= 500 {
			return Classification{Kind: apierr.UpstreamFatal}
		}
		return Classification{Kind: apierr.BadRequest}
	}
	lower := strings.ToLower(string(body))
	for _, m := range matches {
		if m.substr == "" || strings.Contains(lower, m.substr) {
			return m.result
		}
	}
	return Classification{Kind: apierr.UpstreamFatal}
}
