package keys

import (
	"testing"
	"time"
)

func TestPrioritize_NotRateLimitedWinsOverRateLimited(t *testing.T) {
	now := time.Now()
	limited := &Key{Hash: "aaaaaaaa", RateLimitedUntil: now.Add(time.Minute)}
	free := &Key{Hash: "bbbbbbbb"}

	ordered := Prioritize([]*Key{limited, free}, now, nil)

	if ordered[0].Hash != "bbbbbbbb" {
		t.Fatalf("expected free key first, got %s", ordered[0].Hash)
	}
}

func TestPrioritize_EarliestRateLimitedUntilWins(t *testing.T) {
	now := time.Now()
	soon := &Key{Hash: "aaaaaaaa", RateLimitedUntil: now.Add(time.Second)}
	later := &Key{Hash: "bbbbbbbb", RateLimitedUntil: now.Add(time.Minute)}

	ordered := Prioritize([]*Key{later, soon}, now, nil)

	if ordered[0].Hash != "aaaaaaaa" {
		t.Fatalf("expected soon-to-unlock key first, got %s", ordered[0].Hash)
	}
}

func TestPrioritize_LeastRecentlyUsedWins(t *testing.T) {
	now := time.Now()
	recent := &Key{Hash: "aaaaaaaa", LastUsed: now}
	stale := &Key{Hash: "bbbbbbbb", LastUsed: now.Add(-time.Hour)}

	ordered := Prioritize([]*Key{recent, stale}, now, nil)

	if ordered[0].Hash != "bbbbbbbb" {
		t.Fatalf("expected least-recently-used key first, got %s", ordered[0].Hash)
	}
}

func TestPrioritize_TiebreakerAppliedBeforeLRU(t *testing.T) {
	now := time.Now()
	preferred := &Key{Hash: "aaaaaaaa", LastUsed: now, OpenAI: OpenAIFields{IsTrial: false}}
	stale := &Key{Hash: "bbbbbbbb", LastUsed: now.Add(-time.Hour), OpenAI: OpenAIFields{IsTrial: true}}

	ordered := Prioritize([]*Key{stale, preferred}, now, OpenAITiebreak)

	if ordered[0].Hash != "aaaaaaaa" {
		t.Fatalf("expected non-trial key preferred over LRU, got %s", ordered[0].Hash)
	}
}
