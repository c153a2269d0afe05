package keys

import "strings"

// Family is a coarse model class used for rate-limit partitioning, queue
// partitioning, and key eligibility (spec glossary). The model→family
// mapping is a pure function defined once; model→service is derived from
// family (spec §4.4).
//
// This table carries forward the teacher's ModelAliases routing table
// (internal/providers/provider.go), narrowed to the seven services the key
// pool manages and re-keyed by family rather than flat provider name.
var modelFamilyPrefixes = []struct {
	prefix string
	family string
	svc    Service
}{
	// OpenAI
	{"gpt-4o", "gpt4o", ServiceOpenAI},
	{"gpt-4-turbo", "gpt4-turbo", ServiceOpenAI},
	{"gpt-4", "gpt4", ServiceOpenAI},
	{"gpt-3.5", "gpt35", ServiceOpenAI},
	{"o1", "o1", ServiceOpenAI},
	{"o3", "o3", ServiceOpenAI},
	{"o4", "o4", ServiceOpenAI},
	{"gpt-4.1", "gpt41", ServiceOpenAI},

	// Azure (explicit prefix routes here regardless of the underlying model)
	{"azure-", "azure", ServiceAzure},

	// Vertex AI (explicit prefix)
	{"vertexai-", "vertex-gemini", ServiceGCP},

	// AWS Bedrock (provider-namespaced IDs)
	{"anthropic.claude-3-5-sonnet", "aws-claude-sonnet35", ServiceAWS},
	{"anthropic.claude-3-opus", "aws-claude-opus", ServiceAWS},
	{"anthropic.claude-3-haiku", "aws-claude-haiku", ServiceAWS},
	{"anthropic.claude-3-sonnet", "aws-claude-sonnet", ServiceAWS},
	{"anthropic.", "aws-claude", ServiceAWS},
	{"meta.llama3", "aws-llama3", ServiceAWS},
	{"amazon.titan", "aws-titan", ServiceAWS},
	{"amazon.nova", "aws-nova", ServiceAWS},
	{"mistral.", "aws-mistral", ServiceAWS},
	{"ai21.", "aws-ai21", ServiceAWS},

	// Anthropic direct API
	{"claude-3-5-sonnet", "claude-sonnet35", ServiceAnthropic},
	{"claude-3-5-haiku", "claude-haiku35", ServiceAnthropic},
	{"claude-3-opus", "claude-opus", ServiceAnthropic},
	{"claude-3-haiku", "claude-haiku", ServiceAnthropic},
	{"claude-3-sonnet", "claude-sonnet", ServiceAnthropic},
	{"claude-3-7-sonnet", "claude-sonnet37", ServiceAnthropic},
	{"claude-opus-4", "claude-opus4", ServiceAnthropic},
	{"claude-sonnet-4", "claude-sonnet4", ServiceAnthropic},
	{"claude-haiku-4", "claude-haiku4", ServiceAnthropic},

	// Google AI Studio
	{"gemini-2.5-pro", "gemini-pro", ServiceGoogleAI},
	{"gemini-2.5-flash", "gemini-flash", ServiceGoogleAI},
	{"gemini-2.0", "gemini-2", ServiceGoogleAI},
	{"gemini-1.5-pro", "gemini-pro", ServiceGoogleAI},
	{"gemini-1.5-flash", "gemini-flash", ServiceGoogleAI},
	{"gemini", "gemini", ServiceGoogleAI},
	{"gemma", "gemma", ServiceGoogleAI},
	{"learnlm", "gemini", ServiceGoogleAI},

	// Mistral
	{"mistral-large", "mistral-large", ServiceMistral},
	{"mistral-small", "mistral-small", ServiceMistral},
	{"mistral-medium", "mistral-medium", ServiceMistral},
	{"mistral-nemo", "mistral-nemo", ServiceMistral},
	{"open-mistral", "mistral-nemo", ServiceMistral},
	{"mixtral", "mistral-mixtral", ServiceMistral},
	{"pixtral", "mistral-pixtral", ServiceMistral},
	{"codestral", "mistral-codestral", ServiceMistral},
	{"ministral", "mistral-ministral", ServiceMistral},
}

// ModelFamily maps a client-supplied model name to its coarse family tag.
// Longest-prefix match wins, since several prefixes nest (e.g. "gemini-1.5-
// pro" must win over the bare "gemini" row).
func ModelFamily(model string) (family string, svc Service, ok bool) {
	bestLen := -1
	for _, row := range modelFamilyPrefixes {
		if strings.HasPrefix(model, row.prefix) && len(row.prefix) > bestLen {
			family, svc, ok = row.family, row.svc, true
			bestLen = len(row.prefix)
		}
	}
	return
}

// ModelService derives the owning service directly from the model name.
func ModelService(model string) (Service, bool) {
	_, svc, ok := ModelFamily(model)
	return svc, ok
}
