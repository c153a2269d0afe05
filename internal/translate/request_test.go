package translate

import (
	"encoding/json"
	"testing"
)

func TestRequestTransformer_OpenAIToAnthropicChat_PreservesSystemAndMessages(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}],"max_tokens":100}`)
	xf := RequestTransformer{}

	out, err := xf.Transform("openai-chat", "anthropic-chat", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got anthropicChatRequest
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.System != "be terse" {
		t.Fatalf("expected system preserved, got %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestRequestTransformer_RoundTrip_PreservesRolesAndOrder(t *testing.T) {
	// Spec invariant 7: translate(OpenAI-chat -> Anthropic-chat -> OpenAI-chat)
	// preserves the set of message roles and the order of messages.
	body := []byte(`{"model":"gpt-4o","messages":[
		{"role":"system","content":"be terse"},
		{"role":"user","content":"first"},
		{"role":"assistant","content":"second"},
		{"role":"user","content":"third"}
	]}`)
	xf := RequestTransformer{}

	toAnthropic, err := xf.Transform("openai-chat", "anthropic-chat", body)
	if err != nil {
		t.Fatalf("Transform to anthropic: %v", err)
	}
	backToOpenAI, err := xf.Transform("anthropic-chat", "openai-chat", toAnthropic)
	if err != nil {
		t.Fatalf("Transform back to openai: %v", err)
	}

	original, err := parseOpenAIChatRequest(body)
	if err != nil {
		t.Fatalf("parse original: %v", err)
	}
	roundTripped, err := parseOpenAIChatRequest(backToOpenAI)
	if err != nil {
		t.Fatalf("parse round-tripped: %v", err)
	}

	if original.System != roundTripped.System {
		t.Fatalf("system changed: %q != %q", original.System, roundTripped.System)
	}
	if len(original.Messages) != len(roundTripped.Messages) {
		t.Fatalf("message count changed: %d != %d", len(original.Messages), len(roundTripped.Messages))
	}
	for i := range original.Messages {
		if original.Messages[i].Role != roundTripped.Messages[i].Role {
			t.Fatalf("role order changed at %d: %q != %q", i, original.Messages[i].Role, roundTripped.Messages[i].Role)
		}
		if original.Messages[i].Content != roundTripped.Messages[i].Content {
			t.Fatalf("content changed at %d: %q != %q", i, original.Messages[i].Content, roundTripped.Messages[i].Content)
		}
	}
}

func TestRequestTransformer_ChatToGoogleAI_MapsAssistantToModelRole(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	xf := RequestTransformer{}

	out, err := xf.Transform("openai-chat", "googleai", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got googleAIRequest
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Contents) != 2 || got.Contents[1].Role != "model" {
		t.Fatalf("expected assistant mapped to model role, got %+v", got.Contents)
	}
}

func TestRequestTransformer_ChatToLegacyText_FlattensSingleUserMessage(t *testing.T) {
	body := []byte(`{"model":"mistral-large","messages":[{"role":"user","content":"just this"}]}`)
	xf := RequestTransformer{}

	out, err := xf.Transform("mistral-chat", "mistral-text", body)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	var got mistralTextRequest
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Prompt != "just this" {
		t.Fatalf("expected flattened prompt, got %q", got.Prompt)
	}
}

func TestRequestTransformer_UnknownFormat_Errors(t *testing.T) {
	xf := RequestTransformer{}
	if _, err := xf.Transform("not-a-format", "openai-chat", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown inbound format")
	}
}
