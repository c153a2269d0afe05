package keys

import (
	"sort"
	"time"
)

// Tiebreaker optionally reorders within an equal-preference tier, e.g.
// "prefer non-trial" for OpenAI or "prefer keys whose InferenceProfileIDs
// contains the target model" for AWS. It should return true when a is
// strictly preferred over b; ties are left to the caller (Prioritize).
type Tiebreaker func(a, b *Key) bool

// Prioritize orders candidates from most to least preferred:
//
//  1. Not rate-limited before rate-limited.
//  2. Among rate-limited, earliest RateLimitedUntil wins.
//  3. Optional caller tiebreaker.
//  4. Smaller LastUsed wins (least-recently-used).
//
// Pure, deterministic, and allocation-light: it sorts a copy of the slice
// and never mutates the Key values themselves.
func Prioritize(candidates []*Key, now time.Time, tiebreak Tiebreaker) []*Key {
	out := make([]*Key, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]

		aLimited := a.IsRateLimited(now)
		bLimited := b.IsRateLimited(now)
		if aLimited != bLimited {
			return !aLimited // not-rate-limited sorts first
		}

		if aLimited && bLimited && !a.RateLimitedUntil.Equal(b.RateLimitedUntil) {
			return a.RateLimitedUntil.Before(b.RateLimitedUntil)
		}

		if tiebreak != nil {
			if tiebreak(a, b) {
				return true
			}
			if tiebreak(b, a) {
				return false
			}
		}

		return a.LastUsed.Before(b.LastUsed)
	})

	return out
}
