// Package awssig implements AWS Signature Version 4 request signing.
//
// Lifted out of the teacher's internal/providers/bedrock signRequest /
// deriveSigningKey / hmacSHA256 / sha256Hex functions and generalized to
// sign an arbitrary method/URL/headers/body tuple rather than a concrete
// *http.Request, since request state here is owned by the Request Manager
// (internal/reqctx), not by a provider struct holding its own *http.Request.
package awssig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const algorithm = "AWS4-HMAC-SHA256"
const service = "bedrock"

// Credentials are the three fields of the AWS composite secret
// (accessKeyId:secretAccessKey:region), plus an optional session token.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// Sign computes the SigV4 Authorization header (and X-Amz-Date / security
// token headers) for the given request components, returning the headers
// to merge into the outbound request. It does not mutate its inputs.
func Sign(creds Credentials, method, rawURL, path, rawQuery string, headers http.Header, body []byte, now time.Time) (http.Header, error) {
	amzdate := now.UTC().Format("20060102T150405Z")
	datestamp := now.UTC().Format("20060102")

	out := headers.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set("X-Amz-Date", amzdate)
	if creds.SessionToken != "" {
		out.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	host := out.Get("Host")
	if host == "" {
		return nil, fmt.Errorf("awssig: Host header is required before signing")
	}

	payloadHash := sha256Hex(body)

	signedHeaderNames, canonicalHeaders := canonicalize(out, host, amzdate)

	canonicalURI := path
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		rawQuery,
		canonicalHeaders,
		signedHeaderNames,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", datestamp, creds.Region, service)

	stringToSign := strings.Join([]string{
		algorithm,
		amzdate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, datestamp, creds.Region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	out.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, creds.AccessKeyID, credentialScope, signedHeaderNames, signature,
	))

	return out, nil
}

// canonicalize builds the canonical header block over content-type, host,
// x-amz-date, and (when present) x-amz-security-token, sorted by name as
// SigV4 requires.
func canonicalize(headers http.Header, host, amzdate string) (signedHeaderNames, canonicalHeaders string) {
	type hv struct{ name, value string }
	entries := []hv{
		{"content-type", headers.Get("Content-Type")},
		{"host", host},
		{"x-amz-date", amzdate},
	}
	if tok := headers.Get("X-Amz-Security-Token"); tok != "" {
		entries = append(entries, hv{"x-amz-security-token", tok})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var hb strings.Builder
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		hb.WriteString(e.name)
		hb.WriteString(":")
		hb.WriteString(e.value)
		hb.WriteString("\n")
		names = append(names, e.name)
	}
	return strings.Join(names, ";"), hb.String()
}

func deriveSigningKey(secretKey, date, region, svc string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, svc)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
