package awssig

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSign_ProducesAuthorizationHeader(t *testing.T) {
	creds := Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		Region:          "us-east-1",
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Host", "bedrock-runtime.us-east-1.amazonaws.com")

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body := []byte(`{"max_tokens":1}`)

	signed, err := Sign(creds, http.MethodPost, "", "/model/foo/invoke", "", headers, body, fixed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	auth := signed.Get("Authorization")
	if !strings.HasPrefix(auth, algorithm+" Credential=AKIDEXAMPLE/20240102/us-east-1/bedrock/aws4_request") {
		t.Fatalf("unexpected Authorization header: %s", auth)
	}
	if signed.Get("X-Amz-Date") != "20240102T030405Z" {
		t.Fatalf("unexpected X-Amz-Date: %s", signed.Get("X-Amz-Date"))
	}
}

func TestSign_RequiresHostHeader(t *testing.T) {
	creds := Credentials{AccessKeyID: "a", SecretAccessKey: "b", Region: "us-east-1"}
	if _, err := Sign(creds, http.MethodPost, "", "/x", "", http.Header{}, nil, time.Now()); err == nil {
		t.Fatalf("expected an error when Host header is missing")
	}
}

func TestSign_Deterministic(t *testing.T) {
	creds := Credentials{AccessKeyID: "a", SecretAccessKey: "b", Region: "us-east-1"}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Host", "bedrock-runtime.us-east-1.amazonaws.com")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	a, err1 := Sign(creds, http.MethodPost, "", "/m", "", headers, []byte("x"), fixed)
	b, err2 := Sign(creds, http.MethodPost, "", "/m", "", headers, []byte("x"), fixed)
	if err1 != nil || err2 != nil {
		t.Fatalf("Sign errored: %v %v", err1, err2)
	}
	if a.Get("Authorization") != b.Get("Authorization") {
		t.Fatalf("expected deterministic signature for identical inputs")
	}
}
