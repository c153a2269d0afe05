package gcpauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testKeySource(t *testing.T, srv *httptest.Server) *TokenSource {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	src, err := New("svc@project.iam.gserviceaccount.com", pkcs8, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src
}

func TestTokenSource_AccessToken_CachesUntilExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	src := testKeySource(t, srv)
	src.httpClient = srv.Client()

	prevURL := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = prevURL }()

	tok1, err := src.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	tok2, err := src.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok1 != "tok-1" || tok2 != "tok-1" {
		t.Fatalf("expected cached token tok-1, got %q then %q", tok1, tok2)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 token exchange, got %d", calls)
	}
}

func TestTokenSource_AccessToken_RefreshesAfterExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   1,
		})
	}))
	defer srv.Close()

	src := testKeySource(t, srv)
	src.httpClient = srv.Client()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fakeNow }

	prevURL := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = prevURL }()

	if _, err := src.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	fakeNow = fakeNow.Add(2 * time.Hour)
	if _, err := src.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a refresh after expiry, got %d calls", calls)
	}
}
