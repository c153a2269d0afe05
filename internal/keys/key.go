// Package keys implements the credential pool: per-provider Key records,
// the Key Prioritizer, the per-provider Key Provider, and the
// service-agnostic Key Pool that routes by model family.
//
// Key state is mutated only through Provider methods; callers observe
// shallow copies. List() copies have the secret material cleared; the copy
// Get() returns keeps it so the auth mutator can sign the outbound request.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Service identifies an upstream LLM provider tag.
type Service string

const (
	ServiceOpenAI    Service = "openai"
	ServiceAnthropic Service = "anthropic"
	ServiceAWS       Service = "aws"
	ServiceGCP       Service = "gcp"
	ServiceAzure     Service = "azure"
	ServiceGoogleAI  Service = "googleai"
	ServiceMistral   Service = "mistral"
)

// Per-provider design constants (spec §6.4). Not user-tunable.
const (
	openaiKeyReuseDelay    = 1000 * time.Millisecond
	anthropicKeyReuseDelay = 500 * time.Millisecond
	awsKeyReuseDelay       = 250 * time.Millisecond
	gcpKeyReuseDelay       = 500 * time.Millisecond
	azureKeyReuseDelay     = 500 * time.Millisecond
	googleAIKeyReuseDelay  = 500 * time.Millisecond
	mistralKeyReuseDelay   = 500 * time.Millisecond

	openaiRateLimitLockoutMin = 10 * time.Second // derived from headers; this is the floor
	anthropicRateLimitLockout = 2000 * time.Millisecond
	awsRateLimitLockout       = 5000 * time.Millisecond
	gcpRateLimitLockout       = 4000 * time.Millisecond
	azureRateLimitLockout     = 4000 * time.Millisecond
	googleAIRateLimitLockout  = 2000 * time.Millisecond
	mistralRateLimitLockout   = 2000 * time.Millisecond
)

// KeyReuseDelay returns the design-constant reuse delay for a service.
func KeyReuseDelay(svc Service) time.Duration {
	switch svc {
	case ServiceOpenAI:
		return openaiKeyReuseDelay
	case ServiceAnthropic:
		return anthropicKeyReuseDelay
	case ServiceAWS:
		return awsKeyReuseDelay
	case ServiceGCP:
		return gcpKeyReuseDelay
	case ServiceAzure:
		return azureKeyReuseDelay
	case ServiceGoogleAI:
		return googleAIKeyReuseDelay
	case ServiceMistral:
		return mistralKeyReuseDelay
	default:
		return 500 * time.Millisecond
	}
}

// RateLimitLockout returns the design-constant lockout window for a service.
// For OpenAI this is a floor; callers with header-derived reset times should
// prefer that value when it is larger.
func RateLimitLockout(svc Service) time.Duration {
	switch svc {
	case ServiceOpenAI:
		return openaiRateLimitLockoutMin
	case ServiceAnthropic:
		return anthropicRateLimitLockout
	case ServiceAWS:
		return awsRateLimitLockout
	case ServiceGCP:
		return gcpRateLimitLockout
	case ServiceAzure:
		return azureRateLimitLockout
	case ServiceGoogleAI:
		return googleAIRateLimitLockout
	case ServiceMistral:
		return mistralRateLimitLockout
	default:
		return 2000 * time.Millisecond
	}
}

// OpenAIFields holds provider-specific state for an OpenAI credential.
type OpenAIFields struct {
	IsTrial                bool
	IsOverQuota            bool
	OrganizationID         string
	RateLimitRequestsReset time.Time
	RateLimitTokensReset   time.Time
	ModelIDs               []string
}

// AnthropicFields holds provider-specific state for an Anthropic credential.
type AnthropicFields struct {
	Tier               string
	IsPozzed           bool
	IsOverQuota        bool
	RequiresPreamble   bool
	AllowsMultimodality bool
}

// AWSFields holds provider-specific state for an AWS Bedrock credential.
// Secret composite: accessKeyId:secretAccessKey:region.
type AWSFields struct {
	AccessKeyID        string
	SecretAccessKey    string
	Region             string
	AWSLoggingStatus   AWSLoggingStatus
	ModelIDs           []string
	InferenceProfileIDs []string
}

// AWSLoggingStatus tracks whether the account logs model invocations.
type AWSLoggingStatus int

const (
	AWSLoggingUnknown AWSLoggingStatus = iota
	AWSLoggingDisabled
	AWSLoggingEnabled
)

// GCPFields holds provider-specific state for a GCP Vertex credential.
// Secret composite: projectId:clientEmail:region:base64PKCS8PrivateKey.
type GCPFields struct {
	ProjectID      string
	ClientEmail    string
	Region         string
	PrivateKeyPKCS8 []byte // decoded from the base64 composite field

	// Cached OAuth state, refreshed by the GCP mutator.
	AccessToken          string
	AccessTokenExpiresAt time.Time

	SonnetEnabled     bool
	HaikuEnabled      bool
	Sonnet35Enabled   bool
}

// AzureFields holds provider-specific state for an Azure OpenAI credential.
// Secret composite: resourceName:deploymentId:apiKey.
type AzureFields struct {
	ResourceName     string
	DeploymentID     string
	APIKey           string
	ContentFiltering bool
	ModelIDs         []string
}

// Key is a single provider credential plus its runtime state.
//
// The secret material itself is never exposed through List(); the shallow
// copy handed out by Get() keeps it for building the outbound auth.
type Key struct {
	Hash    string
	Service Service

	// ModelFamilies is the set of model-family tags this credential is
	// believed to be able to service, as discovered by the Key Checker.
	ModelFamilies map[string]struct{}

	IsDisabled bool
	IsRevoked  bool

	PromptCount int64
	LastUsed    time.Time
	LastChecked time.Time

	RateLimitedAt    time.Time
	RateLimitedUntil time.Time

	// FamilyTokens counts tokens consumed per family.
	FamilyTokens map[string]int64

	OpenAI    OpenAIFields
	Anthropic AnthropicFields
	AWS       AWSFields
	GCP       GCPFields
	Azure     AzureFields

	// secret is the bearer string for simple-bearer services (Google AI,
	// Mistral, OpenAI, Anthropic). Cleared by Clone and in List() copies;
	// kept in the copy Get() returns.
	secret string
}

// Secret returns the raw bearer secret. Only the mutate package (building
// the outbound auth header) and the checker (probing) may call this.
func (k *Key) Secret() string { return k.secret }

// Clone returns a deep-enough copy safe to hand to callers: maps are copied,
// the secret is cleared.
func (k *Key) Clone() *Key {
	c := *k
	c.secret = ""
	c.ModelFamilies = cloneSet(k.ModelFamilies)
	c.FamilyTokens = make(map[string]int64, len(k.FamilyTokens))
	for f, n := range k.FamilyTokens {
		c.FamilyTokens[f] = n
	}
	c.AWS.ModelIDs = append([]string(nil), k.AWS.ModelIDs...)
	c.AWS.InferenceProfileIDs = append([]string(nil), k.AWS.InferenceProfileIDs...)
	c.OpenAI.ModelIDs = append([]string(nil), k.OpenAI.ModelIDs...)
	c.Azure.ModelIDs = append([]string(nil), k.Azure.ModelIDs...)
	return &c
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	c := make(map[string]struct{}, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// HasFamily reports whether the key has (or is assumed to have) access to
// the given model family.
func (k *Key) HasFamily(family string) bool {
	_, ok := k.ModelFamilies[family]
	return ok
}

// IsRateLimited reports whether the key is currently within a lockout window.
func (k *Key) IsRateLimited(now time.Time) bool {
	return k.RateLimitedUntil.After(now)
}

// hashSecret derives the short stable identifier used to reference a
// credential without ever logging or exposing the secret itself.
func hashSecret(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])[:8]
}

// NewSimpleKey builds a Key for a bare-bearer-string provider
// (OpenAI, Anthropic, Google AI, Mistral).
func NewSimpleKey(svc Service, secret string, families ...string) *Key {
	return &Key{
		Hash:          hashSecret(string(svc), secret),
		Service:       svc,
		ModelFamilies: toSet(families),
		FamilyTokens:  map[string]int64{},
		secret:        secret,
	}
}

func toSet(vals []string) map[string]struct{} {
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// ParseAWSComposite parses "accessKeyId:secretAccessKey:region".
func ParseAWSComposite(composite string) (*Key, error) {
	parts := strings.SplitN(composite, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("keys: invalid AWS credential composite (want accessKeyId:secretAccessKey:region)")
	}
	k := &Key{
		Hash:          hashSecret("aws", parts[0], parts[2]),
		Service:       ServiceAWS,
		ModelFamilies: map[string]struct{}{},
		FamilyTokens:  map[string]int64{},
		AWS: AWSFields{
			AccessKeyID:     parts[0],
			SecretAccessKey: parts[1],
			Region:          parts[2],
		},
	}
	return k, nil
}

// ParseGCPComposite parses "projectId:clientEmail:region:base64PKCS8PrivateKey".
func ParseGCPComposite(composite string) (*Key, error) {
	parts := strings.SplitN(composite, ":", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("keys: invalid GCP credential composite (want projectId:clientEmail:region:base64PrivateKey)")
	}
	pk, err := decodeBase64PKCS8(parts[3])
	if err != nil {
		return nil, fmt.Errorf("keys: decode GCP private key: %w", err)
	}
	k := &Key{
		Hash:          hashSecret("gcp", parts[0], parts[1]),
		Service:       ServiceGCP,
		ModelFamilies: map[string]struct{}{},
		FamilyTokens:  map[string]int64{},
		GCP: GCPFields{
			ProjectID:       parts[0],
			ClientEmail:     parts[1],
			Region:          parts[2],
			PrivateKeyPKCS8: pk,
		},
	}
	return k, nil
}

// ParseAzureComposite parses "resourceName:deploymentId:apiKey".
func ParseAzureComposite(composite string) (*Key, error) {
	parts := strings.SplitN(composite, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("keys: invalid Azure credential composite (want resourceName:deploymentId:apiKey)")
	}
	k := &Key{
		Hash:          hashSecret("azure", parts[0], parts[1], parts[2]),
		Service:       ServiceAzure,
		ModelFamilies: map[string]struct{}{"azure": {}},
		FamilyTokens:  map[string]int64{},
		Azure: AzureFields{
			ResourceName: parts[0],
			DeploymentID: parts[1],
			APIKey:       parts[2],
		},
	}
	return k, nil
}

// ParseCredentialList splits a comma-separated config string into
// whitespace-trimmed credential strings. Empty elements are dropped.
func ParseCredentialList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
