// Package reqctx implements the in-flight Request value and the Request
// Manager: a reversible mutation log that every per-attempt mutator writes
// through instead of touching request state directly (spec §3.2/§4.5).
package reqctx

import (
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
)

// SignedEnvelope is the pre-computed HTTP envelope for providers that sign
// or otherwise finalize requests ahead of dispatch (AWS SigV4, GCP Vertex).
type SignedEnvelope struct {
	Method   string
	Host     string
	Path     string
	RawQuery string
	Headers  map[string]string
	Body     []byte
}

// Request is the in-flight value threaded through preprocess, the queue, and
// mutate/dispatch/respond. It is never touched directly by a mutator —
// mutators only see a *Manager (spec §4.5 contract).
type Request struct {
	ID       string
	Identity string

	InboundFormat  string
	OutboundFormat string
	Service        keys.Service
	ModelFamily    string
	Model          string

	Headers map[string]string
	Body    []byte

	Key           *keys.Key
	SignedRequest *SignedEnvelope

	Streaming bool

	StartTime    time.Time
	QueueOutTime time.Time
	RetryCount   int

	PromptTokens int
	OutputTokens int

	mutationLog []mutation
}

// mutation is a single reversible change with enough information to undo it.
type mutation struct {
	kind mutationKind
	undo func(*Request)
}

type mutationKind int

const (
	mutationSetHeader mutationKind = iota
	mutationRemoveHeader
	mutationReplaceBody
	mutationSetPath
	mutationSetSignedRequest
)

// Manager is the narrow interface mutators receive. It never exposes the
// underlying *Request, so a retry always starts from the same
// transformed-but-unauthenticated state the first attempt's mutators saw.
type Manager struct {
	req *Request
}

// NewManager wraps a Request for the duration of one dispatch attempt.
func NewManager(req *Request) *Manager {
	return &Manager{req: req}
}

// SetHeader sets a header, recording the prior value (or its absence) for revert.
func (m *Manager) SetHeader(key, value string) {
	prior, existed := m.req.Headers[key]
	m.req.mutationLog = append(m.req.mutationLog, mutation{
		kind: mutationSetHeader,
		undo: func(r *Request) {
			if existed {
				r.Headers[key] = prior
			} else {
				delete(r.Headers, key)
			}
		},
	})
	if m.req.Headers == nil {
		m.req.Headers = map[string]string{}
	}
	m.req.Headers[key] = value
}

// RemoveHeader deletes a header, recording its value for revert.
func (m *Manager) RemoveHeader(key string) {
	prior, existed := m.req.Headers[key]
	if !existed {
		return
	}
	m.req.mutationLog = append(m.req.mutationLog, mutation{
		kind: mutationRemoveHeader,
		undo: func(r *Request) { r.Headers[key] = prior },
	})
	delete(m.req.Headers, key)
}

// ReplaceBody swaps the request body, recording the prior bytes for revert.
func (m *Manager) ReplaceBody(body []byte) {
	prior := m.req.Body
	m.req.mutationLog = append(m.req.mutationLog, mutation{
		kind: mutationReplaceBody,
		undo: func(r *Request) { r.Body = prior },
	})
	m.req.Body = body
}

// SetKey assigns the credential chosen for this attempt. Per spec §4.5, key
// assignment is not reverted: the key is opaque to the client and a retry is
// expected to acquire a (possibly different) key again, not restore the old
// one.
func (m *Manager) SetKey(k *keys.Key) {
	m.req.Key = k
}

// SetSignedRequest records the pre-computed signed envelope, recording the
// prior envelope for revert.
func (m *Manager) SetSignedRequest(env *SignedEnvelope) {
	prior := m.req.SignedRequest
	m.req.mutationLog = append(m.req.mutationLog, mutation{
		kind: mutationSetSignedRequest,
		undo: func(r *Request) { r.SignedRequest = prior },
	})
	m.req.SignedRequest = env
}

// Header returns the current value of a header, for mutators that need to
// read state set by an earlier mutator in the same attempt.
func (m *Manager) Header(key string) (string, bool) {
	v, ok := m.req.Headers[key]
	return v, ok
}

// Body returns the current request body.
func (m *Manager) Body() []byte { return m.req.Body }

// Key returns the currently assigned credential, if any.
func (m *Manager) Key() *keys.Key { return m.req.Key }

// SignedRequest returns the pre-computed envelope set by a mutator for
// providers that build their own host/path (AWS, GCP, Azure), or nil.
func (m *Manager) SignedRequest() *SignedEnvelope { return m.req.SignedRequest }

// Service returns the request's target provider tag.
func (m *Manager) Service() keys.Service { return m.req.Service }

// ModelFamily returns the request's routing family.
func (m *Manager) ModelFamily() string { return m.req.ModelFamily }

// Model returns the request's wire-level model identifier.
func (m *Manager) Model() string { return m.req.Model }

// Streaming reports whether this attempt was opened for a streamed response.
func (m *Manager) Streaming() bool { return m.req.Streaming }

// Revert pops every mutation since the last revert (or since the request was
// created) and reapplies its inverse in reverse order, per spec §4.5 and
// invariant 5: mutation log is empty before each dispatch.
func (m *Manager) Revert() {
	m.req.Revert()
}

// Revert reverts the request's own mutation log directly, used by the
// scheduler on retry without needing to construct a Manager.
func (r *Request) Revert() {
	for i := len(r.mutationLog) - 1; i >= 0; i-- {
		r.mutationLog[i].undo(r)
	}
	r.mutationLog = r.mutationLog[:0]
}

// PendingMutations reports how many reversible mutations are currently
// applied, used by tests asserting invariant 5.
func (r *Request) PendingMutations() int {
	return len(r.mutationLog)
}
