package sse

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decompressStream wraps r in a streaming decompressor selected by
// Content-Encoding (spec §4.9 bullet 1), unlike internal/respond.Decompress
// which operates on an already-buffered blocking-path body.
func decompressStream(contentEncoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	case "br":
		return brotli.NewReader(r), nil
	default:
		return nil, fmt.Errorf("sse: unsupported content-encoding %q", contentEncoding)
	}
}
