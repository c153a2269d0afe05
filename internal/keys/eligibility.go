package keys

// Provider-specific eligibility predicates for Get (spec §4.2) and their
// tiebreakers (spec §4.1 bullet 3). These are data, not behaviour that
// belongs on Key itself, since they depend on caller intent (e.g. whether
// the caller wants to exclude trial OpenAI keys).

// OpenAIEligible excludes disabled-by-quota and (optionally) trial keys.
func OpenAIEligible(excludeTrial bool) EligibilityFunc {
	return func(k *Key, _ string) bool {
		if k.OpenAI.IsOverQuota {
			return false
		}
		if excludeTrial && k.OpenAI.IsTrial {
			return false
		}
		return true
	}
}

// OpenAITiebreak prefers non-trial keys.
func OpenAITiebreak(a, b *Key) bool {
	return !a.OpenAI.IsTrial && b.OpenAI.IsTrial
}

// AnthropicEligible excludes over-quota keys, and when needsMultimodal
// is set, excludes keys known not to allow multimodal content.
func AnthropicEligible(needsMultimodal bool) EligibilityFunc {
	return func(k *Key, _ string) bool {
		if k.Anthropic.IsOverQuota {
			return false
		}
		if needsMultimodal && !k.Anthropic.AllowsMultimodality {
			return false
		}
		return true
	}
}

// AWSEligible applies the logging-policy hard filter (spec §9 open
// question: allowAwsLogging is treated as a hard eligibility criterion when
// disabled). It does not check the key's model IDs or inference profiles
// against targetModel; that argument only feeds AWSTiebreak's ordering.
func AWSEligible(allowAwsLogging bool, targetModel string) EligibilityFunc {
	return func(k *Key, _ string) bool {
		if !allowAwsLogging && k.AWS.AWSLoggingStatus == AWSLoggingEnabled {
			return false
		}
		return true
	}
}

// AWSTiebreak prefers keys whose InferenceProfileIDs contains the target model.
func AWSTiebreak(targetModel string) Tiebreaker {
	return func(a, b *Key) bool {
		return contains(a.AWS.InferenceProfileIDs, targetModel) && !contains(b.AWS.InferenceProfileIDs, targetModel)
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// GCPEligible enforces the per-variant availability flags discovered by the
// checker (sonnet/haiku/sonnet3.5).
func GCPEligible(variant string) EligibilityFunc {
	return func(k *Key, _ string) bool {
		switch variant {
		case "sonnet":
			return k.GCP.SonnetEnabled
		case "haiku":
			return k.GCP.HaikuEnabled
		case "sonnet35":
			return k.GCP.Sonnet35Enabled
		default:
			return true
		}
	}
}
