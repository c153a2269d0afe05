// Package gcpauth implements the GCP service-account JWT-bearer OAuth
// exchange (RFC 7523) for credentials supplied directly to the key pool,
// since the teacher's Vertex provider relied on Application Default
// Credentials and never needed to mint its own bearer assertions.
//
// Grounded on golang-jwt/jwt/v5, a dependency already present in the
// retrieval pack (BaSui01-agentflow), used here instead of hand-rolling
// RS256 signing.
package gcpauth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenURL is a var, not a const, so tests can redirect the exchange at an
// httptest server.
var tokenURL = "https://oauth2.googleapis.com/token"
const scope = "https://www.googleapis.com/auth/cloud-platform"
const assertionLifetime = time.Hour

// TokenSource exchanges an RS256-signed JWT assertion for a short-lived
// OAuth access token, caching it until shortly before expiry. Safe for
// concurrent use: a refresh-in-flight lock prevents duplicate exchanges
// when multiple mutators observe an expired token at once (spec §9 "OAuth
// refresh race").
type TokenSource struct {
	ClientEmail string
	PrivateKey  *rsa.PrivateKey

	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	refreshing  bool
	refreshDone chan struct{}

	cachedToken   string
	cachedExpires time.Time
}

// New parses the PKCS8 private key bytes decoded from the GCP composite
// secret and returns a ready-to-use TokenSource.
func New(clientEmail string, pkcs8 []byte, httpClient *http.Client) (*TokenSource, error) {
	key, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, fmt.Errorf("gcpauth: parse PKCS8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("gcpauth: private key is not RSA")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{
		ClientEmail: clientEmail,
		PrivateKey:  rsaKey,
		httpClient:  httpClient,
		now:         time.Now,
	}, nil
}

// AccessToken returns a valid bearer token, refreshing it if expired or
// within 60s of expiry. Concurrent callers observing an expired token block
// on the same in-flight refresh rather than triggering parallel exchanges.
func (t *TokenSource) AccessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.now().Before(t.cachedExpires.Add(-60 * time.Second)) {
		tok := t.cachedToken
		t.mu.Unlock()
		return tok, nil
	}
	if t.refreshing {
		done := t.refreshDone
		t.mu.Unlock()
		<-done
		t.mu.Lock()
		tok := t.cachedToken
		valid := t.now().Before(t.cachedExpires)
		t.mu.Unlock()
		if valid {
			return tok, nil
		}
		return "", fmt.Errorf("gcpauth: refresh in flight failed to produce a valid token")
	}
	t.refreshing = true
	t.refreshDone = make(chan struct{})
	t.mu.Unlock()

	tok, expires, err := t.exchange(ctx)

	t.mu.Lock()
	if err == nil {
		t.cachedToken = tok
		t.cachedExpires = expires
	}
	t.refreshing = false
	close(t.refreshDone)
	t.mu.Unlock()

	if err != nil {
		return "", err
	}
	return tok, nil
}

func (t *TokenSource) exchange(ctx context.Context) (string, time.Time, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"iss":   t.ClientEmail,
		"scope": scope,
		"aud":   tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	assertion, err := token.SignedString(t.PrivateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gcpauth: sign JWT assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gcpauth: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, fmt.Errorf("gcpauth: token exchange status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("gcpauth: decode token response: %w", err)
	}

	return payload.AccessToken, now.Add(time.Duration(payload.ExpiresIn) * time.Second), nil
}
