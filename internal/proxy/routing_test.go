package proxy

import (
	"testing"

	"github.com/riftproxy/llmgw/internal/keys"
)

func TestResolveFamily_KnownModels(t *testing.T) {
	tests := []struct {
		model       string
		wantService keys.Service
	}{
		{"gpt-4o", keys.ServiceOpenAI},
		{"gpt-4-turbo", keys.ServiceOpenAI},
		{"claude-3-5-sonnet", keys.ServiceAnthropic},
		{"claude-3-opus", keys.ServiceAnthropic},
		{"gemini-1.5-pro", keys.ServiceGoogleAI},
		{"mistral-large", keys.ServiceMistral},
		{"mixtral-8x7b", keys.ServiceMistral},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, svc := resolveFamily(tt.model)
			if svc != tt.wantService {
				t.Errorf("resolveFamily(%q) service = %q, want %q", tt.model, svc, tt.wantService)
			}
		})
	}
}

func TestResolveFamily_UnknownModel_DefaultsToOpenAI(t *testing.T) {
	family, svc := resolveFamily("some-unknown-model")
	if svc != keys.ServiceOpenAI {
		t.Errorf("resolveFamily(unknown) service = %q, want %q", svc, keys.ServiceOpenAI)
	}
	if family != "unknown" {
		t.Errorf("resolveFamily(unknown) family = %q, want %q", family, "unknown")
	}
}
