package sse

import (
	"context"
	"fmt"
	"io"
)

// Writer is the minimal sink the pipeline flushes rendered SSE frames to.
// Declared locally (rather than importing internal/queue.StreamWriter) so
// sse has no dependency on the scheduler package; both are satisfied by the
// same *bufio.Writer adapter at the call site.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
}

// Options configures one streaming pipeline run.
type Options struct {
	// ContentEncoding selects the decompressor (spec §4.9 bullet 1).
	ContentEncoding string
	// UseEventStream selects AWS event-stream framing over line-oriented
	// SSE (spec §4.9 bullet 2, "detected by Content-Type").
	UseEventStream bool
	// Adapter converts provider-specific payloads into internal Chunks.
	Adapter Adapter
	// Renderer converts internal Chunks into the client's requested wire
	// format. When nil, chunks are not written to w (aggregation only).
	Renderer Renderer
	// EstimateTokens estimates output tokens from the assembled content.
	EstimateTokens func(string) int
}

// Run decompresses body, decodes it into provider payloads, adapts each into
// the internal event model, renders it out to w in the client's format, and
// concurrently aggregates a FinalResponse (spec §4.10). On a mid-stream
// decode error, Run returns whatever was aggregated so far alongside the
// error: per spec §4.9, "On stream abort mid-flight: if any events were
// aggregated, continue to post-stream accounting; else propagate the error."
func Run(ctx context.Context, r io.Reader, w Writer, opts Options) (FinalResponse, error) {
	body := r
	if opts.ContentEncoding != "" && opts.ContentEncoding != "identity" {
		decompressed, err := decompressStream(opts.ContentEncoding, r)
		if err != nil {
			return FinalResponse{}, fmt.Errorf("sse: decompress: %w", err)
		}
		body = decompressed
	}

	var dec Decoder
	if opts.UseEventStream {
		dec = NewAWSEventStreamDecoder(body)
	} else {
		dec = NewLineDecoder(body)
	}

	agg := &Aggregator{}
	adapter := opts.Adapter
	if adapter == nil {
		adapter = AdaptOpenAI
	}

	for {
		select {
		case <-ctx.Done():
			return agg.Finalize(opts.EstimateTokens), ctx.Err()
		default:
		}

		payload, done, err := dec.Next()
		if done {
			return agg.Finalize(opts.EstimateTokens), err
		}

		chunk, ok := adapter(payload)
		if !ok {
			continue
		}
		agg.Add(chunk)

		if opts.Renderer != nil {
			frame, err := opts.Renderer(chunk)
			if err != nil {
				return agg.Finalize(opts.EstimateTokens), fmt.Errorf("sse: render: %w", err)
			}
			if _, err := w.Write(frame); err != nil {
				return agg.Finalize(opts.EstimateTokens), fmt.Errorf("sse: write: %w", err)
			}
			if err := w.Flush(); err != nil {
				return agg.Finalize(opts.EstimateTokens), fmt.Errorf("sse: flush: %w", err)
			}
		}
	}
}
