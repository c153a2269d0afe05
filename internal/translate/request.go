// Package translate implements the pairwise cross-format request/response
// transformers (spec §4.6 step 3, §4.9's "per-route body transformer",
// §8.1 invariant 7). Every format composes through one canonical
// representation rather than needing an NxN transformer matrix, mirroring
// the same "funnel through one shape" design the spec already mandates for
// the SSE internal event model (spec §9).
package translate

import (
	"encoding/json"
	"fmt"
)

// Message is one canonical conversational turn.
type Message struct {
	Role    string
	Content string
}

// CanonicalRequest is the format-agnostic intermediate representation every
// parser produces and every renderer consumes.
type CanonicalRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// RequestParser decodes one wire format into the canonical representation.
type RequestParser func(body []byte) (CanonicalRequest, error)

// RequestRenderer encodes the canonical representation into one wire format.
type RequestRenderer func(CanonicalRequest) ([]byte, error)

// RequestTransformer implements the Transformer interface shape both
// internal/preprocess (request-side, step 3) and mock test harnesses
// expect: Transform(inboundFormat, outboundFormat string, body []byte)
// ([]byte, error).
type RequestTransformer struct{}

// Transform parses body as inboundFormat and renders it as outboundFormat.
// Callers (internal/preprocess.TransformAPIFormat) already skip calling this
// when the two formats are equal.
func (RequestTransformer) Transform(inboundFormat, outboundFormat string, body []byte) ([]byte, error) {
	parser, ok := requestParsers[inboundFormat]
	if !ok {
		return nil, fmt.Errorf("translate: no request parser for format %q", inboundFormat)
	}
	renderer, ok := requestRenderers[outboundFormat]
	if !ok {
		return nil, fmt.Errorf("translate: no request renderer for format %q", outboundFormat)
	}
	canonical, err := parser(body)
	if err != nil {
		return nil, fmt.Errorf("translate: parse %s request: %w", inboundFormat, err)
	}
	out, err := renderer(canonical)
	if err != nil {
		return nil, fmt.Errorf("translate: render %s request: %w", outboundFormat, err)
	}
	return out, nil
}

var requestParsers = map[string]RequestParser{
	"openai-chat":    parseOpenAIChatRequest,
	"openai-text":    parseOpenAITextRequest,
	"anthropic-chat": parseAnthropicChatRequest,
	"anthropic-text": parseAnthropicTextRequest,
	"googleai":       parseGoogleAIRequest,
	"mistral-chat":   parseMistralChatRequest,
	"mistral-text":   parseMistralTextRequest,
}

var requestRenderers = map[string]RequestRenderer{
	"openai-chat":    renderOpenAIChatRequest,
	"openai-text":    renderOpenAITextRequest,
	"anthropic-chat": renderAnthropicChatRequest,
	"anthropic-text": renderAnthropicTextRequest,
	"googleai":       renderGoogleAIRequest,
	"mistral-chat":   renderMistralChatRequest,
	"mistral-text":   renderMistralTextRequest,
}

// ── OpenAI chat ──────────────────────────────────────────────────────────

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

func parseOpenAIChatRequest(body []byte) (CanonicalRequest, error) {
	var r openAIChatRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	c := CanonicalRequest{Model: r.Model, MaxTokens: r.MaxTokens, Temperature: r.Temperature, Stream: r.Stream}
	for _, m := range r.Messages {
		if m.Role == "system" {
			c.System = m.Content
			continue
		}
		c.Messages = append(c.Messages, Message{Role: m.Role, Content: m.Content})
	}
	return c, nil
}

func renderOpenAIChatRequest(c CanonicalRequest) ([]byte, error) {
	r := openAIChatRequest{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature, Stream: c.Stream}
	if c.System != "" {
		r.Messages = append(r.Messages, openAIChatMessage{Role: "system", Content: c.System})
	}
	for _, m := range c.Messages {
		r.Messages = append(r.Messages, openAIChatMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(r)
}

// ── OpenAI legacy text completion ───────────────────────────────────────

type openAITextRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

func parseOpenAITextRequest(body []byte) (CanonicalRequest, error) {
	var r openAITextRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	return CanonicalRequest{
		Model: r.Model, MaxTokens: r.MaxTokens, Temperature: r.Temperature, Stream: r.Stream,
		Messages: []Message{{Role: "user", Content: r.Prompt}},
	}, nil
}

func renderOpenAITextRequest(c CanonicalRequest) ([]byte, error) {
	return json.Marshal(openAITextRequest{
		Model: c.Model, Prompt: flattenPrompt(c), MaxTokens: c.MaxTokens, Temperature: c.Temperature, Stream: c.Stream,
	})
}

// ── Anthropic chat (messages API) ───────────────────────────────────────

type anthropicChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicChatRequest struct {
	Model       string                 `json:"model"`
	System      string                 `json:"system,omitempty"`
	Messages    []anthropicChatMessage `json:"messages"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
}

func parseAnthropicChatRequest(body []byte) (CanonicalRequest, error) {
	var r anthropicChatRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	c := CanonicalRequest{Model: r.Model, System: r.System, MaxTokens: r.MaxTokens, Temperature: r.Temperature, Stream: r.Stream}
	for _, m := range r.Messages {
		c.Messages = append(c.Messages, Message{Role: m.Role, Content: m.Content})
	}
	return c, nil
}

func renderAnthropicChatRequest(c CanonicalRequest) ([]byte, error) {
	r := anthropicChatRequest{Model: c.Model, System: c.System, MaxTokens: defaultMaxTokens(c.MaxTokens), Temperature: c.Temperature, Stream: c.Stream}
	for _, m := range c.Messages {
		r.Messages = append(r.Messages, anthropicChatMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(r)
}

// ── Anthropic legacy text completion ────────────────────────────────────

type anthropicTextRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens_to_sample"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

func parseAnthropicTextRequest(body []byte) (CanonicalRequest, error) {
	var r anthropicTextRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	return CanonicalRequest{
		Model: r.Model, MaxTokens: r.MaxTokens, Temperature: r.Temperature, Stream: r.Stream,
		Messages: []Message{{Role: "user", Content: r.Prompt}},
	}, nil
}

func renderAnthropicTextRequest(c CanonicalRequest) ([]byte, error) {
	return json.Marshal(anthropicTextRequest{
		Model: c.Model, Prompt: flattenPrompt(c), MaxTokens: defaultMaxTokens(c.MaxTokens), Temperature: c.Temperature, Stream: c.Stream,
	})
}

// ── Google AI generateContent ───────────────────────────────────────────

type googleAIPart struct {
	Text string `json:"text"`
}

type googleAIContent struct {
	Role  string         `json:"role"`
	Parts []googleAIPart `json:"parts"`
}

type googleAIRequest struct {
	Contents         []googleAIContent `json:"contents"`
	SystemInstruction *googleAIContent `json:"systemInstruction,omitempty"`
}

func parseGoogleAIRequest(body []byte) (CanonicalRequest, error) {
	var r googleAIRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	var c CanonicalRequest
	if r.SystemInstruction != nil && len(r.SystemInstruction.Parts) > 0 {
		c.System = r.SystemInstruction.Parts[0].Text
	}
	for _, content := range r.Contents {
		role := content.Role
		if role == "model" {
			role = "assistant"
		}
		text := ""
		if len(content.Parts) > 0 {
			text = content.Parts[0].Text
		}
		c.Messages = append(c.Messages, Message{Role: role, Content: text})
	}
	return c, nil
}

func renderGoogleAIRequest(c CanonicalRequest) ([]byte, error) {
	r := googleAIRequest{}
	if c.System != "" {
		r.SystemInstruction = &googleAIContent{Role: "system", Parts: []googleAIPart{{Text: c.System}}}
	}
	for _, m := range c.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		r.Contents = append(r.Contents, googleAIContent{Role: role, Parts: []googleAIPart{{Text: m.Content}}})
	}
	return json.Marshal(r)
}

// ── Mistral chat ─────────────────────────────────────────────────────────

type mistralChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralChatRequest struct {
	Model       string               `json:"model"`
	Messages    []mistralChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

func parseMistralChatRequest(body []byte) (CanonicalRequest, error) {
	var r mistralChatRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	c := CanonicalRequest{Model: r.Model, MaxTokens: r.MaxTokens, Temperature: r.Temperature, Stream: r.Stream}
	for _, m := range r.Messages {
		if m.Role == "system" {
			c.System = m.Content
			continue
		}
		c.Messages = append(c.Messages, Message{Role: m.Role, Content: m.Content})
	}
	return c, nil
}

func renderMistralChatRequest(c CanonicalRequest) ([]byte, error) {
	r := mistralChatRequest{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature, Stream: c.Stream}
	if c.System != "" {
		r.Messages = append(r.Messages, mistralChatMessage{Role: "system", Content: c.System})
	}
	for _, m := range c.Messages {
		r.Messages = append(r.Messages, mistralChatMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(r)
}

// ── Mistral legacy text completion ──────────────────────────────────────

type mistralTextRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

func parseMistralTextRequest(body []byte) (CanonicalRequest, error) {
	var r mistralTextRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalRequest{}, err
	}
	return CanonicalRequest{
		Model: r.Model, MaxTokens: r.MaxTokens, Stream: r.Stream,
		Messages: []Message{{Role: "user", Content: r.Prompt}},
	}, nil
}

func renderMistralTextRequest(c CanonicalRequest) ([]byte, error) {
	return json.Marshal(mistralTextRequest{Model: c.Model, Prompt: flattenPrompt(c), MaxTokens: c.MaxTokens, Stream: c.Stream})
}

// flattenPrompt collapses a canonical message list into a single prompt
// string for legacy text-completion formats, preserving role labels so
// multi-turn context isn't silently dropped.
func flattenPrompt(c CanonicalRequest) string {
	if len(c.Messages) == 1 && c.Messages[0].Role == "user" {
		return c.Messages[0].Content
	}
	var out string
	for _, m := range c.Messages {
		out += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}
	return out
}

// defaultMaxTokens applies Anthropic's required-field floor when the
// canonical request carried no explicit limit.
func defaultMaxTokens(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}
