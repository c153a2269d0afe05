package mutate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/reqctx"
)

type fakePool struct {
	key    *keys.Key
	family string
	err    error
}

func (f fakePool) Get(model string) (*keys.Key, string, error) {
	return f.key, f.family, f.err
}

func newTestRequest() *reqctx.Request {
	return &reqctx.Request{
		Headers: map[string]string{
			"Origin":        "https://client.example.com",
			"Authorization": "Bearer client-supplied-key",
			"Content-Type":  "application/json",
		},
		Body: []byte(`{"model":"gpt-4o","messages":[]}`),
	}
}

func TestStripHeaders_RemovesClientAndInfraHeaders(t *testing.T) {
	req := newTestRequest()
	mgr := reqctx.NewManager(req)

	if err := StripHeaders(context.Background(), mgr, &Options{}); err != nil {
		t.Fatalf("StripHeaders: %v", err)
	}
	if _, ok := req.Headers["Origin"]; ok {
		t.Fatalf("expected Origin stripped")
	}
	if _, ok := req.Headers["Authorization"]; ok {
		t.Fatalf("expected client Authorization stripped")
	}
	if _, ok := req.Headers["Content-Type"]; !ok {
		t.Fatalf("expected Content-Type preserved")
	}
}

func TestInjectAuth_OpenAI_SetsBearerHeader(t *testing.T) {
	k := keys.NewSimpleKey(keys.ServiceOpenAI, "sk-live-xyz", "gpt4o")
	req := newTestRequest()
	mgr := reqctx.NewManager(req)
	opts := &Options{Pool: fakePool{key: k, family: "gpt4o"}, Model: "gpt-4o"}

	if err := InjectAuth(context.Background(), mgr, opts); err != nil {
		t.Fatalf("InjectAuth: %v", err)
	}
	if req.Headers["Authorization"] != "Bearer sk-live-xyz" {
		t.Fatalf("unexpected Authorization header: %q", req.Headers["Authorization"])
	}
	if req.Key == nil || req.Key.Hash != k.Hash {
		t.Fatalf("expected key assigned on request")
	}
}

func TestInjectAuth_Anthropic_SetsXAPIKeyAndVersion(t *testing.T) {
	k := keys.NewSimpleKey(keys.ServiceAnthropic, "sk-ant-xyz", "claude-opus")
	req := newTestRequest()
	mgr := reqctx.NewManager(req)
	opts := &Options{Pool: fakePool{key: k, family: "claude-opus"}, Model: "claude-3-opus"}

	if err := InjectAuth(context.Background(), mgr, opts); err != nil {
		t.Fatalf("InjectAuth: %v", err)
	}
	if req.Headers["x-api-key"] != "sk-ant-xyz" {
		t.Fatalf("unexpected x-api-key header: %q", req.Headers["x-api-key"])
	}
	if req.Headers["anthropic-version"] == "" {
		t.Fatalf("expected anthropic-version header set")
	}
}

func TestInjectAuth_AWS_ProducesSigV4AuthorizationHeader(t *testing.T) {
	k, err := keys.ParseAWSComposite("AKIDEXAMPLE:secretkey123:us-east-1")
	if err != nil {
		t.Fatalf("ParseAWSComposite: %v", err)
	}
	req := newTestRequest()
	mgr := reqctx.NewManager(req)
	opts := &Options{Pool: fakePool{key: k, family: "aws-claude"}, Model: "anthropic.claude-3-5-sonnet-20241022-v2:0"}

	if err := InjectAuth(context.Background(), mgr, opts); err != nil {
		t.Fatalf("InjectAuth: %v", err)
	}
	if req.Headers["Authorization"] == "" {
		t.Fatalf("expected SigV4 Authorization header set")
	}
	if req.Headers["X-Amz-Date"] == "" {
		t.Fatalf("expected X-Amz-Date header set")
	}
}

func TestInjectAuth_Azure_SetsAPIKeyAndSignedEnvelope(t *testing.T) {
	k, err := keys.ParseAzureComposite("myresource:gpt-4o-deployment:az-key-123")
	if err != nil {
		t.Fatalf("ParseAzureComposite: %v", err)
	}
	req := newTestRequest()
	mgr := reqctx.NewManager(req)
	opts := &Options{Pool: fakePool{key: k, family: "azure"}, Model: "azure-gpt-4o"}

	if err := InjectAuth(context.Background(), mgr, opts); err != nil {
		t.Fatalf("InjectAuth: %v", err)
	}
	if req.Headers["api-key"] != "az-key-123" {
		t.Fatalf("unexpected api-key header: %q", req.Headers["api-key"])
	}
	if req.SignedRequest == nil || req.SignedRequest.Host != "myresource.openai.azure.com" {
		t.Fatalf("expected signed envelope with deployment host, got %+v", req.SignedRequest)
	}
}

func TestInjectAuth_GCP_ExchangesOAuthToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	composite := "my-project:svc@my-project.iam.gserviceaccount.com:us-central1:" + base64.StdEncoding.EncodeToString(pkcs8)
	k, err := keys.ParseGCPComposite(composite)
	if err != nil {
		t.Fatalf("ParseGCPComposite: %v", err)
	}
	req := newTestRequest()
	mgr := reqctx.NewManager(req)
	opts := &Options{Pool: fakePool{key: k, family: "vertex-claude-sonnet"}, Model: "claude-3-5-sonnet@20240620"}

	// The OAuth exchange will fail against the real Google endpoint in a test
	// sandbox; assert that InjectAuth attempts it and surfaces an error rather
	// than silently skipping GCP auth.
	err = InjectAuth(context.Background(), mgr, opts)
	if err == nil {
		t.Fatalf("expected an error from the (unreachable in test) OAuth exchange")
	}
}

func TestFinalizeBody_SetsContentLength(t *testing.T) {
	req := newTestRequest()
	mgr := reqctx.NewManager(req)

	if err := FinalizeBody(context.Background(), mgr, &Options{}); err != nil {
		t.Fatalf("FinalizeBody: %v", err)
	}
	if req.Headers["Content-Length"] == "" {
		t.Fatalf("expected Content-Length header set")
	}
}
