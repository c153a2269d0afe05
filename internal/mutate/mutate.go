// Package mutate implements the three-stage, per-attempt reversible request
// transforms that run on every dequeue, immediately before dispatch (spec
// §4.7). Every mutation is written through a *reqctx.Manager so a retryable
// failure can revert back to the transformed-but-unauthenticated state the
// next attempt starts from.
package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/riftproxy/llmgw/internal/awssig"
	"github.com/riftproxy/llmgw/internal/gcpauth"
	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

// strippedHeaders are client identity, CORS/fetch, and infrastructure
// headers removed before any provider sees the request (spec §4.7 step 1).
var strippedHeaders = []string{
	"Origin", "Referer",
	"Sec-Fetch-Site", "Sec-Fetch-Mode", "Sec-Fetch-Dest", "Sec-Fetch-User",
	"Sec-Ch-Ua", "Sec-Ch-Ua-Mobile", "Sec-Ch-Ua-Platform",
	"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto",
	"X-Real-Ip", "Cf-Connecting-Ip", "Cf-Ray", "Cf-Ipcountry",
	"Authorization", // the client's own Authorization is never forwarded upstream
}

// KeyGetter resolves a credential for a model, mirroring keys.Pool.Get.
// Declared as an interface to avoid a mutate↔keys.Pool import cycle beyond
// what keys itself already provides.
type KeyGetter interface {
	Get(model string) (*keys.Key, string, error)
}

// Options carries the per-deployment configuration mutators need (Azure API
// version, GCP token-source cache).
type Options struct {
	Pool            KeyGetter
	Model           string
	AzureAPIVersion string
	GCPTokenSources map[string]*gcpauth.TokenSource // keyed by key hash
}

// StripHeaders removes client identity/CORS/infrastructure headers (spec
// §4.7 step 1).
func StripHeaders(ctx context.Context, mgr *reqctx.Manager, _ *Options) error {
	for _, h := range strippedHeaders {
		mgr.RemoveHeader(h)
	}
	return nil
}

// InjectAuth acquires a key from the pool and applies the provider-specific
// authentication scheme (spec §4.7 step 2).
func InjectAuth(ctx context.Context, mgr *reqctx.Manager, opts *Options) error {
	key, family, err := opts.Pool.Get(opts.Model)
	if err != nil {
		return fmt.Errorf("mutate: acquire key: %w", err)
	}
	mgr.SetKey(key)

	switch key.Service {
	case keys.ServiceOpenAI, keys.ServiceMistral:
		mgr.SetHeader("Authorization", "Bearer "+key.Secret())
	case keys.ServiceAnthropic:
		mgr.SetHeader("x-api-key", key.Secret())
		mgr.SetHeader("anthropic-version", "2023-06-01")
	case keys.ServiceGoogleAI:
		mgr.SetHeader("X-Goog-Api-Key", key.Secret())
	case keys.ServiceAWS:
		return injectAWSAuth(ctx, mgr, opts, key)
	case keys.ServiceGCP:
		return injectGCPAuth(ctx, mgr, opts, key)
	case keys.ServiceAzure:
		return injectAzureAuth(mgr, opts, key)
	default:
		return fmt.Errorf("mutate: unknown service %q for family %q", key.Service, family)
	}
	return nil
}

// injectAWSAuth signs the current body with SigV4 and records the signed
// envelope, grounded on the teacher's bedrock.go signRequest, now lifted
// into internal/awssig (spec §4.7 step 2 AWS bullet, §6.2 Bedrock URL shape).
func injectAWSAuth(ctx context.Context, mgr *reqctx.Manager, opts *Options, key *keys.Key) error {
	creds := awssig.Credentials{
		AccessKeyID:     key.AWS.AccessKeyID,
		SecretAccessKey: key.AWS.SecretAccessKey,
		Region:          key.AWS.Region,
	}
	host := fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", key.AWS.Region)
	action := "invoke"
	if mgr.Streaming() {
		action = "invoke-with-response-stream"
	}
	path := fmt.Sprintf("/model/%s/%s", opts.Model, action)

	httpHeaders := http.Header{}
	httpHeaders.Set("Host", host)
	httpHeaders.Set("Content-Type", "application/json")
	signed, err := awssig.Sign(creds, "POST", "", path, "", httpHeaders, mgr.Body(), time.Now())
	if err != nil {
		return fmt.Errorf("mutate: sign AWS request: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k := range signed {
		headers[k] = signed.Get(k)
		mgr.SetHeader(k, signed.Get(k))
	}
	mgr.SetSignedRequest(&reqctx.SignedEnvelope{
		Method:  "POST",
		Host:    host,
		Path:    path,
		Headers: headers,
		Body:    mgr.Body(),
	})
	return nil
}

// gcpAnthropicVersion is the Vertex-specific request field Anthropic models
// require in place of the public API's "model" field (spec §6.2 GCP bullet).
const gcpAnthropicVersion = "vertex-2023-10-16"

// injectGCPAuth ensures a cached, unexpired OAuth access token (refreshing
// via RS256 JWT-bearer exchange if needed), builds the Vertex publisher-model
// URL, and stamps the body with "anthropic_version" in place of "model" (spec
// §4.7 step 2 GCP bullet, §6.2 Vertex URL shape, §9's OAuth-refresh-race
// resolution — TokenSource owns the refresh lock).
func injectGCPAuth(ctx context.Context, mgr *reqctx.Manager, opts *Options, key *keys.Key) error {
	src, ok := opts.GCPTokenSources[key.Hash]
	if !ok {
		var err error
		src, err = gcpauth.New(key.GCP.ClientEmail, key.GCP.PrivateKeyPKCS8, nil)
		if err != nil {
			return fmt.Errorf("mutate: build GCP token source: %w", err)
		}
		if opts.GCPTokenSources == nil {
			opts.GCPTokenSources = map[string]*gcpauth.TokenSource{}
		}
		opts.GCPTokenSources[key.Hash] = src
	}
	token, err := src.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("mutate: GCP OAuth exchange: %w", err)
	}

	body, err := stampVertexBody(mgr.Body())
	if err != nil {
		return fmt.Errorf("mutate: stamp Vertex body: %w", err)
	}
	mgr.ReplaceBody(body)

	action := "rawPredict"
	if mgr.Streaming() {
		action = "streamRawPredict"
	}
	host := fmt.Sprintf("%s-aiplatform.googleapis.com", key.GCP.Region)
	path := fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		key.GCP.ProjectID, key.GCP.Region, opts.Model, action)

	mgr.SetSignedRequest(&reqctx.SignedEnvelope{
		Method:  "POST",
		Host:    host,
		Path:    path,
		Headers: map[string]string{"Authorization": "Bearer " + token, "Content-Type": "application/json"},
		Body:    body,
	})
	return nil
}

// stampVertexBody drops the "model" field (carried in the URL instead) and
// adds "anthropic_version", leaving every other field from the Anthropic
// chat body untouched.
func stampVertexBody(body []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	delete(m, "model")
	m["anthropic_version"] = gcpAnthropicVersion
	return json.Marshal(m)
}

// injectAzureAuth builds the deployment URL and sets the api-key header,
// grounded on the teacher's azure.go completionsURL/"api-key" scheme,
// generalized from a single configured deployment to a per-key composite
// (spec §6.3 resourceName:deploymentId:apiKey).
func injectAzureAuth(mgr *reqctx.Manager, opts *Options, key *keys.Key) error {
	mgr.SetHeader("api-key", key.Azure.APIKey)
	apiVersion := opts.AzureAPIVersion
	if apiVersion == "" {
		apiVersion = "2024-12-01-preview"
	}
	path := fmt.Sprintf("/openai/deployments/%s/chat/completions?api-version=%s",
		key.Azure.DeploymentID, apiVersion)
	env := &reqctx.SignedEnvelope{
		Method:   "POST",
		Host:     key.Azure.ResourceName + ".openai.azure.com",
		Path:     path,
		RawQuery: "api-version=" + apiVersion,
		Headers:  map[string]string{"api-key": key.Azure.APIKey},
		Body:     mgr.Body(),
	}
	mgr.SetSignedRequest(env)
	return nil
}

// FinalizeBody sets Content-Length from whichever body will actually be
// sent: the signed envelope's, if InjectAuth produced one, otherwise the
// plain request body (spec §4.7 step 3).
func FinalizeBody(ctx context.Context, mgr *reqctx.Manager, _ *Options) error {
	body := mgr.Body()
	if env := mgr.SignedRequest(); env != nil {
		body = env.Body
	}
	mgr.SetHeader("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// Pipeline is the ordered three-stage sequence, spec §4.7.
var Pipeline = []func(context.Context, *reqctx.Manager, *Options) error{
	StripHeaders,
	InjectAuth,
	FinalizeBody,
}

// Run executes the mutator pipeline against req, stopping at the first
// error. Callers are expected to reqctx.Request.Revert() on a retryable
// failure before re-enqueueing (spec §4.7's "manager reverts everything").
func Run(ctx context.Context, req *reqctx.Request, opts *Options) error {
	mgr := reqctx.NewManager(req)
	for _, stage := range Pipeline {
		if err := stage(ctx, mgr, opts); err != nil {
			return err
		}
	}
	return nil
}
