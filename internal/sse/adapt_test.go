package sse

import "testing"

func TestAdaptOpenAI_ExtractsDeltaAndFinishReason(t *testing.T) {
	payload := []byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"content":"hi"},"finish_reason":"stop"}]}`)
	c, ok := AdaptOpenAI(payload)
	if !ok {
		t.Fatalf("expected ok")
	}
	if c.ContentDelta != "hi" || c.FinishReason != "stop" || c.ID != "chatcmpl-1" {
		t.Fatalf("unexpected chunk: %+v", c)
	}
}

func TestAdaptOpenAI_NoChoices_NotOK(t *testing.T) {
	if _, ok := AdaptOpenAI([]byte(`{"choices":[]}`)); ok {
		t.Fatalf("expected not ok for empty choices")
	}
}

func TestAdaptAnthropic_ContentBlockDelta(t *testing.T) {
	payload := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"world"}}`)
	c, ok := AdaptAnthropic(payload)
	if !ok || c.ContentDelta != "world" {
		t.Fatalf("unexpected chunk: %+v ok=%v", c, ok)
	}
}

func TestAdaptAnthropic_MessageStop_SetsFinishReason(t *testing.T) {
	c, ok := AdaptAnthropic([]byte(`{"type":"message_stop"}`))
	if !ok || c.FinishReason != "stop" {
		t.Fatalf("unexpected chunk: %+v ok=%v", c, ok)
	}
}

func TestAdaptAnthropic_Ping_SkippedAsNotOK(t *testing.T) {
	if _, ok := AdaptAnthropic([]byte(`{"type":"ping"}`)); ok {
		t.Fatalf("expected ping event to be skipped")
	}
}

func TestAdaptGoogleAI_ExtractsFirstCandidateText(t *testing.T) {
	payload := []byte(`{"candidates":[{"content":{"parts":[{"text":"bonjour"}]},"finishReason":"STOP"}]}`)
	c, ok := AdaptGoogleAI(payload)
	if !ok || c.ContentDelta != "bonjour" || c.FinishReason != "STOP" {
		t.Fatalf("unexpected chunk: %+v ok=%v", c, ok)
	}
}

func TestAdaptMistral_FallsBackToLegacyTextField(t *testing.T) {
	payload := []byte(`{"id":"cmpl-1","model":"mistral-large","choices":[{"text":"legacy text"}]}`)
	c, ok := AdaptMistral(payload)
	if !ok || c.ContentDelta != "legacy text" {
		t.Fatalf("unexpected chunk: %+v ok=%v", c, ok)
	}
}
