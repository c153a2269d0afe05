package keys

import "testing"

func TestModelFamily_LongestPrefixWins(t *testing.T) {
	cases := []struct {
		model      string
		wantFamily string
		wantSvc    Service
	}{
		{"gpt-4o-2024-05-13", "gpt4o", ServiceOpenAI},
		{"claude-3-5-sonnet-20240620", "claude-sonnet35", ServiceAnthropic},
		{"claude-3-opus-20240229", "claude-opus", ServiceAnthropic},
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", "aws-claude-sonnet35", ServiceAWS},
		{"anthropic.claude-3-haiku-20240307-v1:0", "aws-claude-haiku", ServiceAWS},
		{"azure-gpt-4o", "azure", ServiceAzure},
		{"vertexai-gemini-2.5-pro", "vertex-gemini", ServiceGCP},
		{"mistral-large-latest", "mistral-large", ServiceMistral},
		{"gemini-1.5-flash", "gemini-flash", ServiceGoogleAI},
	}

	for _, c := range cases {
		family, svc, ok := ModelFamily(c.model)
		if !ok {
			t.Fatalf("%s: expected a match", c.model)
		}
		if family != c.wantFamily || svc != c.wantSvc {
			t.Fatalf("%s: got (%s, %s), want (%s, %s)", c.model, family, svc, c.wantFamily, c.wantSvc)
		}
	}
}

func TestModelFamily_Unknown(t *testing.T) {
	if _, _, ok := ModelFamily("totally-unknown-model"); ok {
		t.Fatalf("expected no match for an unknown model")
	}
}
