package respond

import (
	"fmt"
	"strings"
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/reqctx"
	"github.com/riftproxy/llmgw/pkg/apierr"
)

// disallowedHeaders are stripped from the upstream response before copying
// the rest to the client: hop-by-hop headers and provider infrastructure
// headers that would leak upstream topology or break framing once re-served
// behind a different transport.
var disallowedHeaders = map[string]bool{
	"Connection":                         true,
	"Transfer-Encoding":                  true,
	"Content-Encoding":                   true, // body is already decompressed by this point
	"Content-Length":                     true, // recomputed after body transformation
	"Keep-Alive":                         true,
	"Proxy-Authenticate":                 true,
	"Proxy-Authorization":                true,
	"Trailer":                            true,
	"Upgrade":                            true,
	"Cf-Ray":                             true,
	"X-Request-Id":                       true,
	"Openai-Organization":                true,
	"Anthropic-Ratelimit-Requests-Limit": true,
}

// KeyUpdater is the subset of *keys.Pool the classifier's key actions need.
// Declared locally to avoid a respond↔keys.Pool import beyond keys itself.
type KeyUpdater interface {
	Disable(svc keys.Service, hash string, revoke bool)
	MarkRateLimited(svc keys.Service, hash string, lockout time.Duration)
	Update(svc keys.Service, hash string, patch func(*keys.Key))
	IncrementUsage(svc keys.Service, hash, family string, tokens int64)
	GetLockoutPeriod(family string) time.Duration
	RefundThrottle(svc keys.Service, hash string)
}

// Reenqueuer is the subset of *queue.Scheduler needed to retry a request
// after a retryable classification.
type Reenqueuer interface {
	Reenqueue(req *reqctx.Request, continuation func(*reqctx.Request), onAbort func()) error
}

// Transformer performs the per-route body transform (e.g. Anthropic-chat →
// OpenAI-chat) once a response has been classified as a success. Declared
// locally, concretely implemented by internal/translate.
type Transformer interface {
	Transform(outboundFormat, inboundFormat string, body []byte) ([]byte, error)
}

// Upstream is the raw, already-decompressed upstream response fed into the
// blocking pipeline.
type Upstream struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Result is what the blocking pipeline hands back to the caller: either a
// response ready to serve to the client, or an instruction to retry.
type Result struct {
	Retried bool // true if the request was re-enqueued; caller should not respond yet
	Status  int
	Headers map[string]string
	Body    []byte
}

// Deps bundles the blocking pipeline's collaborators.
type Deps struct {
	Keys        KeyUpdater
	Queue       Reenqueuer
	Transformer Transformer
}

// applyKeyAction executes the classifier's chosen key-state mutation (spec
// §4.9's per-branch "Disable+revoke key" / "markRateLimited" / "Mark key
// requiresPreamble" / "Mark key no-multimodal" actions).
func applyKeyAction(keyUpd KeyUpdater, key *keys.Key, family string, action keyAction) {
	if keyUpd == nil || key == nil {
		return
	}
	switch action {
	case keyActionDisable:
		keyUpd.Disable(key.Service, key.Hash, false)
	case keyActionDisableRevoke:
		keyUpd.Disable(key.Service, key.Hash, true)
	case keyActionMarkRateLimited:
		keyUpd.MarkRateLimited(key.Service, key.Hash, keyUpd.GetLockoutPeriod(family))
	case keyActionMarkRequiresPreamble:
		keyUpd.Update(key.Service, key.Hash, func(k *keys.Key) { k.Anthropic.RequiresPreamble = true })
	case keyActionMarkNoMultimodal:
		keyUpd.Update(key.Service, key.Hash, func(k *keys.Key) { k.Anthropic.AllowsMultimodality = false })
	case keyActionRefundRateLimit:
		keyUpd.RefundThrottle(key.Service, key.Hash)
	}
}

// copyAllowedHeaders copies upstream headers to the result, minus the
// disallowed set (spec §4.9 "header copy (minus disallowed)").
func copyAllowedHeaders(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		if disallowedHeaders[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// HandleBlocking runs the full non-streaming response pipeline (spec §4.9
// "Blocking"): revert request mutations, apply the classifier's key action,
// account usage, copy headers, and run the per-route body transformer. On a
// retryable classification it reverts and re-enqueues instead of returning a
// client-facing Result.
func HandleBlocking(req *reqctx.Request, up Upstream, deps *Deps, continuation func(*reqctx.Request)) (*Result, error) {
	// Mutations are no longer needed once the upstream call has returned,
	// whether it succeeded or failed (spec §4.9 first bullet).
	req.Revert()

	class := Classify(up.Status, up.Body)
	family := req.ModelFamily
	applyKeyAction(deps.Keys, req.Key, family, class.KeyAction)

	if class.Retry {
		if deps.Queue == nil {
			return nil, fmt.Errorf("respond: retryable classification %s with no queue to re-enqueue into", class.Kind)
		}
		if err := deps.Queue.Reenqueue(req, continuation, nil); err != nil {
			return nil, fmt.Errorf("respond: re-enqueue: %w", err)
		}
		return &Result{Retried: true}, nil
	}

	if class.Kind == apierr.Success && deps.Keys != nil && req.Key != nil {
		deps.Keys.IncrementUsage(req.Key.Service, req.Key.Hash, family, int64(req.PromptTokens+req.OutputTokens))
	}

	body := up.Body
	if class.Kind == apierr.Success && deps.Transformer != nil && req.InboundFormat != req.OutboundFormat {
		transformed, err := deps.Transformer.Transform(req.OutboundFormat, req.InboundFormat, body)
		if err != nil {
			return nil, fmt.Errorf("respond: response transform: %w", err)
		}
		body = transformed
	}

	status := up.Status
	if class.Kind != apierr.Success {
		status = class.Kind.HTTPStatus()
	}

	return &Result{
		Status:  status,
		Headers: copyAllowedHeaders(up.Headers),
		Body:    body,
	}, nil
}

// ParseContentType reports whether a Content-Type header value indicates a
// JSON body, used by callers deciding whether best-effort JSON parsing
// applies (spec §4.9 "parse as JSON if Content-Type indicates JSON").
func ParseContentType(contentType string) (isJSON bool) {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}
