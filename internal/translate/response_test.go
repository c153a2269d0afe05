package translate

import (
	"encoding/json"
	"testing"
)

func TestResponseTransformer_AnthropicChatToOpenAIChat(t *testing.T) {
	body := []byte(`{"id":"msg_1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hello there"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`)
	xf := ResponseTransformer{}

	out, err := xf.Transform("anthropic-chat", "openai-chat", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got openAIChatResponse
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Choices) != 1 || got.Choices[0].Message.Content != "hello there" {
		t.Fatalf("unexpected choices: %+v", got.Choices)
	}
	if got.Usage.PromptTokens != 5 || got.Usage.CompletionTokens != 3 {
		t.Fatalf("unexpected usage: %+v", got.Usage)
	}
}

func TestResponseTransformer_GoogleAIToOpenAIChat(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"bonjour"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":1}}`)
	xf := ResponseTransformer{}

	out, err := xf.Transform("googleai", "openai-chat", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got openAIChatResponse
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Choices[0].Message.Content != "bonjour" || got.Choices[0].FinishReason != "STOP" {
		t.Fatalf("unexpected choices: %+v", got.Choices)
	}
}

func TestResponseTransformer_SameFormat_Identity(t *testing.T) {
	body := []byte(`{"id":"cmpl-1","model":"mistral-large","choices":[{"text":"x","finish_reason":"stop"}]}`)
	xf := ResponseTransformer{}

	out, err := xf.Transform("mistral-text", "mistral-text", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got mistralTextResponse
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Choices[0].Text != "x" {
		t.Fatalf("unexpected round-tripped content: %+v", got.Choices)
	}
}
