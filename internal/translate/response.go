package translate

import (
	"encoding/json"
	"fmt"
)

// CanonicalResponse is the format-agnostic intermediate representation for
// a finished (non-streaming) upstream response.
type CanonicalResponse struct {
	ID               string
	Model            string
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// ResponseParser decodes one provider's wire response into the canonical
// representation.
type ResponseParser func(body []byte) (CanonicalResponse, error)

// ResponseRenderer encodes the canonical representation into a specific
// client-facing wire response.
type ResponseRenderer func(CanonicalResponse) ([]byte, error)

// ResponseTransformer implements the per-route body transformer
// internal/respond runs after a successful blocking dispatch (spec §4.9:
// "per-route body transformer (e.g., Anthropic-chat → OpenAI-chat)").
type ResponseTransformer struct{}

// Transform parses body as outboundFormat (the format the upstream actually
// replied in) and renders it back out as inboundFormat (what the client
// asked for).
func (ResponseTransformer) Transform(outboundFormat, inboundFormat string, body []byte) ([]byte, error) {
	parser, ok := responseParsers[outboundFormat]
	if !ok {
		return nil, fmt.Errorf("translate: no response parser for format %q", outboundFormat)
	}
	renderer, ok := responseRenderers[inboundFormat]
	if !ok {
		return nil, fmt.Errorf("translate: no response renderer for format %q", inboundFormat)
	}
	canonical, err := parser(body)
	if err != nil {
		return nil, fmt.Errorf("translate: parse %s response: %w", outboundFormat, err)
	}
	out, err := renderer(canonical)
	if err != nil {
		return nil, fmt.Errorf("translate: render %s response: %w", inboundFormat, err)
	}
	return out, nil
}

var responseParsers = map[string]ResponseParser{
	"openai-chat":    parseOpenAIChatResponse,
	"openai-text":    parseOpenAITextResponse,
	"anthropic-chat": parseAnthropicChatResponse,
	"anthropic-text": parseAnthropicTextResponse,
	"googleai":       parseGoogleAIResponse,
	"mistral-chat":   parseMistralChatResponse,
	"mistral-text":   parseMistralTextResponse,
}

var responseRenderers = map[string]ResponseRenderer{
	"openai-chat":    renderOpenAIChatResponse,
	"openai-text":    renderOpenAITextResponse,
	"anthropic-chat": renderAnthropicChatResponse,
	"anthropic-text": renderAnthropicTextResponse,
	"googleai":       renderGoogleAIResponse,
	"mistral-chat":   renderMistralChatResponse,
	"mistral-text":   renderMistralTextResponse,
}

// ── OpenAI chat ──────────────────────────────────────────────────────────

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseOpenAIChatResponse(body []byte) (CanonicalResponse, error) {
	var r openAIChatResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{ID: r.ID, Model: r.Model, PromptTokens: r.Usage.PromptTokens, CompletionTokens: r.Usage.CompletionTokens}
	if len(r.Choices) > 0 {
		c.Content = r.Choices[0].Message.Content
		c.FinishReason = r.Choices[0].FinishReason
	}
	return c, nil
}

func renderOpenAIChatResponse(c CanonicalResponse) ([]byte, error) {
	r := openAIChatResponse{ID: orDefaultResp(c.ID, "chatcmpl-0"), Model: c.Model}
	r.Choices = []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	}{{Message: openAIChatMessage{Role: "assistant", Content: c.Content}, FinishReason: c.FinishReason}}
	r.Usage.PromptTokens = c.PromptTokens
	r.Usage.CompletionTokens = c.CompletionTokens
	return json.Marshal(r)
}

// ── OpenAI legacy text completion ───────────────────────────────────────

type openAITextResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func parseOpenAITextResponse(body []byte) (CanonicalResponse, error) {
	var r openAITextResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{ID: r.ID, Model: r.Model}
	if len(r.Choices) > 0 {
		c.Content = r.Choices[0].Text
		c.FinishReason = r.Choices[0].FinishReason
	}
	return c, nil
}

func renderOpenAITextResponse(c CanonicalResponse) ([]byte, error) {
	r := openAITextResponse{ID: orDefaultResp(c.ID, "cmpl-0"), Model: c.Model}
	r.Choices = []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	}{{Text: c.Content, FinishReason: c.FinishReason}}
	return json.Marshal(r)
}

// ── Anthropic chat (messages API) ───────────────────────────────────────

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicChatResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicChatResponse(body []byte) (CanonicalResponse, error) {
	var r anthropicChatResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{ID: r.ID, Model: r.Model, FinishReason: r.StopReason, PromptTokens: r.Usage.InputTokens, CompletionTokens: r.Usage.OutputTokens}
	if len(r.Content) > 0 {
		c.Content = r.Content[0].Text
	}
	return c, nil
}

func renderAnthropicChatResponse(c CanonicalResponse) ([]byte, error) {
	r := anthropicChatResponse{ID: orDefaultResp(c.ID, "msg_0"), Model: c.Model, StopReason: c.FinishReason}
	r.Content = []anthropicContentBlock{{Type: "text", Text: c.Content}}
	r.Usage.InputTokens = c.PromptTokens
	r.Usage.OutputTokens = c.CompletionTokens
	return json.Marshal(r)
}

// ── Anthropic legacy text completion ────────────────────────────────────

type anthropicTextResponse struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
	Model      string `json:"model"`
}

func parseAnthropicTextResponse(body []byte) (CanonicalResponse, error) {
	var r anthropicTextResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	return CanonicalResponse{Model: r.Model, Content: r.Completion, FinishReason: r.StopReason}, nil
}

func renderAnthropicTextResponse(c CanonicalResponse) ([]byte, error) {
	return json.Marshal(anthropicTextResponse{Completion: c.Content, StopReason: c.FinishReason, Model: c.Model})
}

// ── Google AI generateContent ───────────────────────────────────────────

type googleAIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googleAIPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func parseGoogleAIResponse(body []byte) (CanonicalResponse, error) {
	var r googleAIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{PromptTokens: r.UsageMetadata.PromptTokenCount, CompletionTokens: r.UsageMetadata.CandidatesTokenCount}
	if len(r.Candidates) > 0 {
		cand := r.Candidates[0]
		c.FinishReason = cand.FinishReason
		if len(cand.Content.Parts) > 0 {
			c.Content = cand.Content.Parts[0].Text
		}
	}
	return c, nil
}

func renderGoogleAIResponse(c CanonicalResponse) ([]byte, error) {
	r := googleAIResponse{}
	r.Candidates = []struct {
		Content struct {
			Parts []googleAIPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	}{{FinishReason: c.FinishReason}}
	r.Candidates[0].Content.Parts = []googleAIPart{{Text: c.Content}}
	r.UsageMetadata.PromptTokenCount = c.PromptTokens
	r.UsageMetadata.CandidatesTokenCount = c.CompletionTokens
	return json.Marshal(r)
}

// ── Mistral chat ─────────────────────────────────────────────────────────

type mistralChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      mistralChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseMistralChatResponse(body []byte) (CanonicalResponse, error) {
	var r mistralChatResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{ID: r.ID, Model: r.Model, PromptTokens: r.Usage.PromptTokens, CompletionTokens: r.Usage.CompletionTokens}
	if len(r.Choices) > 0 {
		c.Content = r.Choices[0].Message.Content
		c.FinishReason = r.Choices[0].FinishReason
	}
	return c, nil
}

func renderMistralChatResponse(c CanonicalResponse) ([]byte, error) {
	r := mistralChatResponse{ID: orDefaultResp(c.ID, "mistral-0"), Model: c.Model}
	r.Choices = []struct {
		Message      mistralChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	}{{Message: mistralChatMessage{Role: "assistant", Content: c.Content}, FinishReason: c.FinishReason}}
	r.Usage.PromptTokens = c.PromptTokens
	r.Usage.CompletionTokens = c.CompletionTokens
	return json.Marshal(r)
}

// ── Mistral legacy text completion ──────────────────────────────────────

type mistralTextResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func parseMistralTextResponse(body []byte) (CanonicalResponse, error) {
	var r mistralTextResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return CanonicalResponse{}, err
	}
	c := CanonicalResponse{ID: r.ID, Model: r.Model}
	if len(r.Choices) > 0 {
		c.Content = r.Choices[0].Text
		c.FinishReason = r.Choices[0].FinishReason
	}
	return c, nil
}

func renderMistralTextResponse(c CanonicalResponse) ([]byte, error) {
	r := mistralTextResponse{ID: orDefaultResp(c.ID, "mistral-0"), Model: c.Model}
	r.Choices = []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	}{{Text: c.Content, FinishReason: c.FinishReason}}
	return json.Marshal(r)
}

func orDefaultResp(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
