package proxy

import (
	"testing"

	"github.com/riftproxy/llmgw/internal/keys"
)

func TestProviderSegments_CoverAllServices(t *testing.T) {
	want := map[keys.Service]bool{
		keys.ServiceOpenAI:    false,
		keys.ServiceAnthropic: false,
		keys.ServiceGoogleAI:  false,
		keys.ServiceMistral:   false,
		keys.ServiceAzure:     false,
		keys.ServiceAWS:       false,
		keys.ServiceGCP:       false,
	}
	for _, ps := range providerSegments {
		if _, ok := want[ps.service]; !ok {
			t.Errorf("unexpected service %q in providerSegments", ps.service)
		}
		want[ps.service] = true
	}
	for svc, seen := range want {
		if !seen {
			t.Errorf("service %q missing from providerSegments", svc)
		}
	}
}

func TestProviderSegments_OnlyOpenAISupportsImages(t *testing.T) {
	for _, ps := range providerSegments {
		if ps.supportsImages && ps.segment != "openai" {
			t.Errorf("unexpected image support on segment %q", ps.segment)
		}
	}
}

func TestProviderSegments_UniqueSegments(t *testing.T) {
	seen := make(map[string]bool)
	for _, ps := range providerSegments {
		if seen[ps.segment] {
			t.Errorf("duplicate segment %q", ps.segment)
		}
		seen[ps.segment] = true
	}
}
