package proxy

import "github.com/riftproxy/llmgw/internal/keys"

// resolveFamily returns the model family and owning service for a wire-level
// model name, falling back to a default family when the model is unknown to
// the static table (spec §4.4's model→family pattern matching).
func resolveFamily(model string) (family string, svc keys.Service) {
	if f, s, ok := keys.ModelFamily(model); ok {
		return f, s
	}
	return "unknown", keys.ServiceOpenAI
}
