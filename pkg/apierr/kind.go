package apierr

// Kind is the closed set of outcomes the Response Handler can settle a
// dispatch attempt into. Every upstream status/body combination classifies
// into exactly one Kind, which is then consumed at exactly one boundary
// (internal/respond) to decide whether to surface a client response, mutate
// key state, or trigger a re-enqueue.
type Kind int

const (
	// Success means the upstream call completed normally.
	Success Kind = iota
	// BadRequest covers client-caused 400s that cannot succeed on retry
	// (content-filter rejections, vision-not-allowed when permanently
	// unsupported by the model, malformed payloads).
	BadRequest
	// Forbidden covers 403s where the key itself is not at fault (model not
	// accessible to this particular credential) and are surfaced as-is.
	Forbidden
	// TooManyRequests covers daily-quota and similar 429s that are surfaced
	// to the client without any retry.
	TooManyRequests
	// NoKeyAvailable means the pool had nothing eligible to dispatch with.
	NoKeyAvailable
	// RetryableUpstream covers transient failures (429 rate-limit,
	// preamble-required, vision-not-allowed-yet, 503 overloaded) that revert
	// mutations and re-enqueue the request.
	RetryableUpstream
	// KeyInvalid means the credential was rejected outright (401, or 403
	// for reasons other than model access) and must be disabled+revoked.
	KeyInvalid
	// KeyQuotaExceeded means the credential's quota/billing is exhausted
	// permanently; the key is disabled but the request is surfaced, not
	// retried.
	KeyQuotaExceeded
	// UpstreamFatal covers errors with no defined recovery (unexpected 5xx
	// shapes, decode failures).
	UpstreamFatal
	// ClientAborted means the client disconnected before a response could
	// be produced.
	ClientAborted
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case BadRequest:
		return "bad_request"
	case Forbidden:
		return "forbidden"
	case TooManyRequests:
		return "too_many_requests"
	case NoKeyAvailable:
		return "no_key_available"
	case RetryableUpstream:
		return "retryable_upstream"
	case KeyInvalid:
		return "key_invalid"
	case KeyQuotaExceeded:
		return "key_quota_exceeded"
	case UpstreamFatal:
		return "upstream_fatal"
	case ClientAborted:
		return "client_aborted"
	default:
		return "unknown"
	}
}

// HTTPStatus is the status surfaced to the client for Kinds that reach the
// client directly (RetryableUpstream and NoKeyAvailable are resolved before
// they would ever need one — a retry either succeeds or exhausts into one of
// the surfaced kinds below).
func (k Kind) HTTPStatus() int {
	switch k {
	case Success:
		return 200
	case BadRequest:
		return 400
	case Forbidden:
		return 403
	case TooManyRequests:
		return 429
	case NoKeyAvailable:
		return 402
	case KeyInvalid:
		return 401
	case KeyQuotaExceeded:
		return 429
	case ClientAborted:
		return 499
	default:
		return 502
	}
}
