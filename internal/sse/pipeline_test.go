package sse

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type bufWriter struct {
	buf     bytes.Buffer
	flushes int
}

func (b *bufWriter) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *bufWriter) Flush() error                { b.flushes++; return nil }

func TestRun_LineDecoded_RendersAndAggregates(t *testing.T) {
	body := strings.NewReader(
		"data: {\"id\":\"chatcmpl-1\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}]}\n\n" +
			"data: [DONE]\n\n",
	)
	w := &bufWriter{}
	final, err := Run(context.Background(), body, w, Options{
		Adapter:        AdaptOpenAI,
		Renderer:       RenderOpenAIChat,
		EstimateTokens: func(s string) int { return len(s) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Content != "hello" || final.FinishReason != "stop" {
		t.Fatalf("unexpected final response: %+v", final)
	}
	if w.flushes != 2 {
		t.Fatalf("expected 2 flushes, got %d", w.flushes)
	}
	if !strings.Contains(w.buf.String(), "chat.completion.chunk") {
		t.Fatalf("expected rendered OpenAI chunk frames, got %q", w.buf.String())
	}
}

func TestRun_SkipsNonDeltaEvents(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"ping\"}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n",
	)
	w := &bufWriter{}
	final, err := Run(context.Background(), body, w, Options{
		Adapter:        AdaptAnthropic,
		Renderer:       RenderOpenAIChat,
		EstimateTokens: func(s string) int { return len(s) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Content != "hi" || final.FinishReason != "stop" {
		t.Fatalf("unexpected final response: %+v", final)
	}
	if w.flushes != 2 {
		t.Fatalf("expected 2 flushes (ping skipped), got %d", w.flushes)
	}
}

func TestRun_AggregatesWithoutRendererWhenNil(t *testing.T) {
	body := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
	w := &bufWriter{}
	final, err := Run(context.Background(), body, w, Options{
		Adapter:        AdaptOpenAI,
		EstimateTokens: func(s string) int { return len(s) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Content != "x" {
		t.Fatalf("unexpected final response: %+v", final)
	}
	if w.flushes != 0 {
		t.Fatalf("expected no flushes when renderer is nil, got %d", w.flushes)
	}
}
