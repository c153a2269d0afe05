// Package preprocess implements the seven one-time, pre-enqueue transforms
// (spec §4.6). Each step runs exactly once per request lifetime, before the
// request is ever queued; any failure is rendered to the client immediately
// and the request never enters the queue (spec invariant: "preprocessors run
// exactly once per request lifetime").
package preprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/ratelimit"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// Step is one ordered pre-enqueue transform.
type Step func(ctx context.Context, req *reqctx.Request, deps *Deps) error

// Transformer performs the cross-format body transform (step 3), implemented
// concretely by internal/translate. Declared here as an interface to avoid a
// preprocess↔translate import cycle.
type Transformer interface {
	Transform(inboundFormat, outboundFormat string, body []byte) ([]byte, error)
}

// ContentFilter performs optional moderation (step 5). Returns an error to
// reject the request.
type ContentFilter interface {
	Check(ctx context.Context, body []byte) error
}

// RouteConfig supplies the static, route-level format/service tagging used
// by step 1.
type RouteConfig struct {
	InboundFormat  string
	OutboundFormat string
	Service        keys.Service
}

// Limits bounds step 6's context-size and family validation. AllowVision is
// carried here but ValidateLimits does not check it.
type Limits struct {
	MaxContextTokens int
	AllowVision      bool
	AllowedFamilies  map[string]bool // nil means "no restriction"
}

// Deps bundles every preprocessor's external collaborators. Fields may be
// nil to skip the corresponding optional step (content filter, quota).
type Deps struct {
	Route       RouteConfig
	Transformer Transformer
	Filter      ContentFilter
	Quota       *ratelimit.QuotaLimiter
	Limits      Limits
	QuotaLimit  int64

	// OriginBlacklist rejects requests whose Origin/Referer header matches any
	// entry (spec §4.6 step 2); mirrors the teacher's CORS allow-list
	// (internal/proxy/middleware.go corsHandler) inverted into a deny-list.
	OriginBlacklist []string
}

// Steps is the full ordered pipeline, spec §4.6 bullets 1-7.
var Steps = []Step{
	SetAPIFormat,
	BlockDisallowedOrigins,
	TransformAPIFormat,
	CountPromptTokens,
	RunContentFilter,
	ValidateLimits,
	CheckQuota,
}

// Run executes every step in order, stopping at the first error.
func Run(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	for _, step := range Steps {
		if err := step(ctx, req, deps); err != nil {
			return err
		}
	}
	return nil
}

// SetAPIFormat tags inboundFormat/outboundFormat/service from route
// configuration (spec §4.6 step 1).
func SetAPIFormat(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	req.InboundFormat = deps.Route.InboundFormat
	req.OutboundFormat = deps.Route.OutboundFormat
	req.Service = deps.Route.Service
	return nil
}

// BlockDisallowedOrigins rejects requests whose Origin or Referer header
// matches a configured blacklist entry (spec §4.6 step 2).
func BlockDisallowedOrigins(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	if len(deps.OriginBlacklist) == 0 {
		return nil
	}
	origin := req.Headers["Origin"]
	referer := req.Headers["Referer"]
	for _, blocked := range deps.OriginBlacklist {
		if blocked == "" {
			continue
		}
		if strings.Contains(origin, blocked) || strings.Contains(referer, blocked) {
			return fmt.Errorf("preprocess: origin %q is not allowed", origin)
		}
	}
	return nil
}

// TransformAPIFormat runs the pairwise cross-format transformer when inbound
// and outbound formats differ (spec §4.6 step 3).
func TransformAPIFormat(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	if req.InboundFormat == req.OutboundFormat || deps.Transformer == nil {
		return nil
	}
	out, err := deps.Transformer.Transform(req.InboundFormat, req.OutboundFormat, req.Body)
	if err != nil {
		return fmt.Errorf("preprocess: api-format transform: %w", err)
	}
	req.Body = out
	return nil
}

// EstimateTokens is the byte-based estimator (len/4, at least 1 for
// non-empty input) used by CountPromptTokens, generalized from the teacher's
// sb.Len()/4 heuristic in internal/proxy/gateway.go's writeSSE.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// CountPromptTokens computes promptTokens from the current body and, when
// outputTokens is still zero, sets it equal to promptTokens (spec §4.6
// step 4). The request's own maximum-tokens field is not read.
//
// The body is treated as opaque bytes here: by this point TransformAPIFormat
// has already normalized it to the outbound wire format, so preprocess just
// estimates over the raw bytes rather than parsing provider-specific JSON.
func CountPromptTokens(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	req.PromptTokens = EstimateTokens(string(req.Body))
	if req.OutputTokens == 0 {
		req.OutputTokens = req.PromptTokens
	}
	return nil
}

// RunContentFilter performs optional moderation with the configured filter
// (spec §4.6 step 5). A nil filter means the step is a no-op.
func RunContentFilter(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	if deps.Filter == nil {
		return nil
	}
	if err := deps.Filter.Check(ctx, req.Body); err != nil {
		return fmt.Errorf("preprocess: content filter rejected request: %w", err)
	}
	return nil
}

// ValidateLimits rejects requests that would exceed the configured context
// size or whose family is not enabled (spec §4.6 step 6). Vision content is
// not checked.
func ValidateLimits(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	if deps.Limits.MaxContextTokens > 0 && req.PromptTokens+req.OutputTokens > deps.Limits.MaxContextTokens {
		return fmt.Errorf("preprocess: request exceeds max context size (%d > %d)",
			req.PromptTokens+req.OutputTokens, deps.Limits.MaxContextTokens)
	}
	if deps.Limits.AllowedFamilies != nil && !deps.Limits.AllowedFamilies[req.ModelFamily] {
		return fmt.Errorf("preprocess: model family %q is not enabled", req.ModelFamily)
	}
	return nil
}

// CheckQuota denies the request if consuming promptTokens+outputTokens would
// exceed the identity's per-family quota (spec §4.6 step 7).
func CheckQuota(ctx context.Context, req *reqctx.Request, deps *Deps) error {
	if deps.Quota == nil || deps.QuotaLimit <= 0 {
		return nil
	}
	allowed, err := deps.Quota.Allow(ctx, req.Identity, req.ModelFamily,
		int64(req.PromptTokens+req.OutputTokens), deps.QuotaLimit)
	if err != nil {
		return fmt.Errorf("preprocess: quota check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("preprocess: quota exceeded for family %q", req.ModelFamily)
	}
	return nil
}
