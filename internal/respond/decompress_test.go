package respond

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestDecompress_IdentityPassesThrough(t *testing.T) {
	out, err := Decompress("", []byte("hello"))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

func TestDecompress_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("gzipped body"))
	gw.Close()

	out, err := Decompress("gzip", buf.Bytes())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(out) != "gzipped body" {
		t.Fatalf("unexpected body: %q", out)
	}
}

func TestDecompress_UnsupportedEncoding(t *testing.T) {
	if _, err := Decompress("identity-v2-frobnicate", []byte("x")); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
}
