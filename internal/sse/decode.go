package sse

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Decoder yields successive raw JSON payloads from an upstream stream body.
// Next returns done=true once the stream is exhausted (no more payloads);
// implementations skip non-payload framing (SSE comments, "[DONE]" markers,
// keep-alive pings) transparently.
type Decoder interface {
	Next() (payload []byte, done bool, err error)
}

// LineDecoder implements the line-oriented UTF-8 SSE framing used by
// OpenAI, Anthropic, Google AI and Mistral (spec §4.9 bullet 2, "line-
// oriented UTF-8"), grounded on the teacher's bufio.Scanner + "data: "
// stripping in providers/azure/azure.go and providers/mistral/mistral.go.
type LineDecoder struct {
	scanner *bufio.Scanner
}

// NewLineDecoder wraps r for "data: <payload>" framed SSE bodies.
func NewLineDecoder(r io.Reader) *LineDecoder {
	return &LineDecoder{scanner: bufio.NewScanner(r)}
}

func (d *LineDecoder) Next() ([]byte, bool, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, true, nil
		}
		return []byte(data), false, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}

// eventStreamEnvelope is Bedrock's wire envelope: each event-stream
// message's payload is itself a JSON object carrying the provider chunk as
// base64 under "bytes" (InvokeModelWithResponseStream's documented shape).
type eventStreamEnvelope struct {
	Bytes string `json:"bytes"`
}

// AWSEventStreamDecoder decodes AWS event-stream binary framing (spec §4.9
// bullet 2, "AWS event-stream framing"), unwrapping each message's base64
// "bytes" envelope to recover the inner provider-specific JSON chunk, then
// handing it off to the same adapters as the line-oriented path (spec
// §4.10: "decoded to the inner JSON then treated as one of the above").
type AWSEventStreamDecoder struct {
	dec *eventstream.Decoder
}

// NewAWSEventStreamDecoder wraps r for Bedrock's binary event-stream body.
func NewAWSEventStreamDecoder(r io.Reader) *AWSEventStreamDecoder {
	return &AWSEventStreamDecoder{dec: eventstream.NewDecoder(r)}
}

func (d *AWSEventStreamDecoder) Next() ([]byte, bool, error) {
	for {
		msg, err := d.dec.Decode(nil)
		if err != nil {
			if err == io.EOF {
				return nil, true, nil
			}
			return nil, true, fmt.Errorf("sse: decode event-stream message: %w", err)
		}
		for _, h := range msg.Headers {
			if h.Name == ":exception-type" {
				return nil, true, fmt.Errorf("sse: upstream event-stream exception: %s", string(msg.Payload))
			}
		}
		var env eventStreamEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil || env.Bytes == "" {
			// Some frames (e.g. initial-response control messages) carry no
			// "bytes" envelope; skip rather than fail the whole stream.
			continue
		}
		inner, err := base64.StdEncoding.DecodeString(env.Bytes)
		if err != nil {
			return nil, true, fmt.Errorf("sse: decode event-stream bytes envelope: %w", err)
		}
		return inner, false, nil
	}
}
