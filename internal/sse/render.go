package sse

import (
	"encoding/json"
	"fmt"
	"time"
)

// Renderer turns one internal Chunk into a client-facing SSE "data: ..."
// line in a specific outbound wire format. Grounded on the teacher's
// writeSSE in internal/proxy/gateway.go, generalized from a single
// hardcoded OpenAI-chat delta shape to one renderer per client format (spec
// §4.10: "Aggregators are the inverse... one per output format").
type Renderer func(c Chunk) ([]byte, error)

func sseLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sse: render: %w", err)
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}

// RenderOpenAIChat renders an OpenAI chat.completion.chunk frame.
func RenderOpenAIChat(c Chunk) ([]byte, error) {
	delta := map[string]any{}
	if c.Role != "" {
		delta["role"] = c.Role
	}
	if c.ContentDelta != "" {
		delta["content"] = c.ContentDelta
	}
	return sseLine(map[string]any{
		"id":      orDefault(c.ID, "chatcmpl-stream"),
		"object":  "chat.completion.chunk",
		"created": streamCreated(),
		"model":   c.Model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": finishReasonOrNil(c.FinishReason)},
		},
	})
}

// RenderOpenAIText renders an OpenAI legacy text-completion chunk.
func RenderOpenAIText(c Chunk) ([]byte, error) {
	return sseLine(map[string]any{
		"id":      orDefault(c.ID, "cmpl-stream"),
		"object":  "text_completion",
		"created": streamCreated(),
		"model":   c.Model,
		"choices": []map[string]any{
			{"index": 0, "text": c.ContentDelta, "finish_reason": finishReasonOrNil(c.FinishReason)},
		},
	})
}

// RenderAnthropicChat renders an Anthropic messages-stream
// content_block_delta/message_delta event.
func RenderAnthropicChat(c Chunk) ([]byte, error) {
	if c.FinishReason != "" {
		return sseLine(map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": c.FinishReason},
		})
	}
	return sseLine(map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": c.ContentDelta},
	})
}

// RenderAnthropicText renders an Anthropic legacy text-completion event.
func RenderAnthropicText(c Chunk) ([]byte, error) {
	return sseLine(map[string]any{
		"completion":  c.ContentDelta,
		"stop_reason": finishReasonOrNil(c.FinishReason),
		"model":       c.Model,
	})
}

// RenderGoogleAI renders a Google AI generateContent streaming chunk.
func RenderGoogleAI(c Chunk) ([]byte, error) {
	return sseLine(map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": c.ContentDelta}}},
				"finishReason": finishReasonOrNil(c.FinishReason),
			},
		},
	})
}

// RenderMistralChat renders a Mistral chat streaming chunk.
func RenderMistralChat(c Chunk) ([]byte, error) {
	return sseLine(map[string]any{
		"id":      orDefault(c.ID, "mistral-stream"),
		"object":  "chat.completion.chunk",
		"model":   c.Model,
		"created": streamCreated(),
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": c.ContentDelta}, "finish_reason": finishReasonOrNil(c.FinishReason)},
		},
	})
}

// RenderMistralText renders a Mistral legacy text completion chunk.
func RenderMistralText(c Chunk) ([]byte, error) {
	return sseLine(map[string]any{
		"id":      orDefault(c.ID, "mistral-stream"),
		"object":  "text_completion",
		"model":   c.Model,
		"choices": []map[string]any{
			{"index": 0, "text": c.ContentDelta, "finish_reason": finishReasonOrNil(c.FinishReason)},
		},
	})
}

// RendererFor selects the renderer for the client's wire format (the
// request's inbound format).
func RendererFor(format string) Renderer {
	switch format {
	case "openai-chat":
		return RenderOpenAIChat
	case "openai-text":
		return RenderOpenAIText
	case "anthropic-chat":
		return RenderAnthropicChat
	case "anthropic-text":
		return RenderAnthropicText
	case "googleai":
		return RenderGoogleAI
	case "mistral-chat":
		return RenderMistralChat
	case "mistral-text":
		return RenderMistralText
	default:
		return RenderOpenAIChat
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func finishReasonOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func streamCreated() int64 {
	return time.Now().Unix()
}
