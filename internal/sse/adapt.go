package sse

import (
	"encoding/json"

	"github.com/riftproxy/llmgw/internal/keys"
)

// Adapter converts one raw provider payload into zero or one canonical
// Chunk. ok=false means the payload carried no renderable delta (e.g. an
// Anthropic content_block_start or ping event) and should be skipped.
type Adapter func(payload []byte) (chunk Chunk, ok bool)

// AdaptOpenAI passes an OpenAI chat completion chunk straight through,
// since it already is the internal event model (spec §4.10: "OpenAI SSE →
// passthrough").
func AdaptOpenAI(payload []byte) (Chunk, bool) {
	var raw struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || len(raw.Choices) == 0 {
		return Chunk{}, false
	}
	c := raw.Choices[0]
	return Chunk{
		ID:           raw.ID,
		Model:        raw.Model,
		ContentDelta: c.Delta.Content,
		FinishReason: c.FinishReason,
		Role:         c.Delta.Role,
	}, true
}

// anthropicEvent mirrors the subset of Anthropic's messages-stream event
// shapes needed to synthesize an OpenAI chunk, grounded on the teacher's
// providers/anthropic/types.go streamEvent/streamDelta and extended with
// the message_stop/stop_reason fields the teacher's SDK-backed path never
// needed to parse by hand.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		ID         string `json:"id"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
	} `json:"message"`
}

// AdaptAnthropic synthesizes an OpenAI chunk from Anthropic's v2
// content_block_delta / message_delta / message_stop events (spec §4.10:
// "Anthropic v2 text SSE, Anthropic chat SSE → synthesized OpenAI chunks").
// Legacy text-completions events (type "completion") carry the text and
// stop_reason at the top level and are handled by their own case.
func AdaptAnthropic(payload []byte) (Chunk, bool) {
	var ev anthropicEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Chunk{}, false
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Text == "" {
			return Chunk{}, false
		}
		return Chunk{ContentDelta: ev.Delta.Text}, true
	case "message_start":
		return Chunk{ID: ev.Message.ID, Model: ev.Message.Model, Role: "assistant"}, true
	case "message_delta":
		if ev.Delta.StopReason == "" {
			return Chunk{}, false
		}
		return Chunk{FinishReason: ev.Delta.StopReason}, true
	case "message_stop":
		return Chunk{FinishReason: "stop"}, true
	case "completion":
		var legacy struct {
			Completion string `json:"completion"`
			StopReason string `json:"stop_reason"`
		}
		if err := json.Unmarshal(payload, &legacy); err != nil || (legacy.Completion == "" && legacy.StopReason == "") {
			return Chunk{}, false
		}
		return Chunk{ContentDelta: legacy.Completion, FinishReason: legacy.StopReason}, true
	default:
		// ping, content_block_start, content_block_stop: no renderable delta.
		return Chunk{}, false
	}
}

// AdaptGoogleAI synthesizes an OpenAI chunk from a Google AI
// generateContent streaming response, extracting the first candidate's
// text parts and preserving its stop reason verbatim (spec §4.10: "extracts
// first candidate's text parts; stop reasons preserved").
func AdaptGoogleAI(payload []byte) (Chunk, bool) {
	var raw struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || len(raw.Candidates) == 0 {
		return Chunk{}, false
	}
	cand := raw.Candidates[0]
	var text string
	if len(cand.Content.Parts) > 0 {
		text = cand.Content.Parts[0].Text
	}
	if text == "" && cand.FinishReason == "" {
		return Chunk{}, false
	}
	return Chunk{ContentDelta: text, FinishReason: cand.FinishReason}, true
}

// AdaptMistral synthesizes an OpenAI chunk from either Mistral's chat
// (delta.content) or legacy text-completion (choices[].text) streaming
// shapes (spec §4.10: "Mistral chat SSE, Mistral text SSE → synthesized
// OpenAI chunks").
func AdaptMistral(payload []byte) (Chunk, bool) {
	var raw struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Text         string `json:"text"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || len(raw.Choices) == 0 {
		return Chunk{}, false
	}
	c := raw.Choices[0]
	content := c.Delta.Content
	if content == "" {
		content = c.Text
	}
	return Chunk{ID: raw.ID, Model: raw.Model, ContentDelta: content, FinishReason: c.FinishReason}, true
}

// AdapterFor selects the provider adapter for a Service tag. AWS and GCP
// both serve Anthropic-shaped Claude models, so they share the Anthropic
// adapter once their event-stream/line framing has been decoded to inner
// JSON (spec §4.10: "AWS event-stream envelopes are decoded to the inner
// JSON then treated as one of the above by provider").
func AdapterFor(service keys.Service) Adapter {
	switch service {
	case keys.ServiceOpenAI, keys.ServiceAzure:
		return AdaptOpenAI
	case keys.ServiceAnthropic, keys.ServiceAWS, keys.ServiceGCP:
		return AdaptAnthropic
	case keys.ServiceGoogleAI:
		return AdaptGoogleAI
	case keys.ServiceMistral:
		return AdaptMistral
	default:
		return AdaptOpenAI
	}
}
