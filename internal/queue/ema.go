package queue

import (
	"sync"
	"time"
)

// WaitTimeInterval is how often the EMA estimators are recomputed (spec §4.8).
const WaitTimeInterval = 3 * time.Second

const (
	alphaHistorical = 0.2
	alphaCurrent    = 0.3
)

// waitSample is a single completed (family, start, end) triple, matching
// spec §3.3's waitSamples ring.
type waitSample struct {
	family string
	start  time.Time
	end    time.Time
}

// emaEstimator tracks the smoothed wait-time estimate per family exactly per
// spec §4.8: historicalEma/currentEma/estimate, each seeded from recent
// completed samples and the longest currently-queued wait.
type emaEstimator struct {
	mu sync.Mutex

	samples []waitSample

	historical map[string]time.Duration
	current    map[string]time.Duration
	estimate   map[string]time.Duration
}

func newEMAEstimator() *emaEstimator {
	return &emaEstimator{
		historical: map[string]time.Duration{},
		current:    map[string]time.Duration{},
		estimate:   map[string]time.Duration{},
	}
}

func (e *emaEstimator) recordWaitSample(family string, start, end time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, waitSample{family: family, start: start, end: end})
}

func (e *emaEstimator) pruneSamples(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.samples[:0:0]
	for _, s := range e.samples {
		if now.Sub(s.end) <= WaitSampleRetention {
			kept = append(kept, s)
		}
	}
	e.samples = kept
}

// update recomputes historicalEma/currentEma/estimate for every family that
// has either a recent sample or a request currently queued (longestWait).
func (e *emaEstimator) update(longestCurrentWait map[string]time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recentAverage := map[string]time.Duration{}
	counts := map[string]int{}
	for _, s := range e.samples {
		recentAverage[s.family] += s.end.Sub(s.start)
		counts[s.family]++
	}
	for family, total := range recentAverage {
		recentAverage[family] = total / time.Duration(counts[family])
	}

	families := map[string]bool{}
	for f := range recentAverage {
		families[f] = true
	}
	for f := range longestCurrentWait {
		families[f] = true
	}
	for f := range e.historical {
		families[f] = true
	}

	for family := range families {
		avg := recentAverage[family] // zero if no samples this window
		e.historical[family] = ema(alphaHistorical, float64(avg), e.historical[family])

		longest := longestCurrentWait[family]
		e.current[family] = ema(alphaCurrent, float64(longest), e.current[family])

		e.estimate[family] = (e.historical[family] + e.current[family]) / 2
	}
}

func ema(alpha float64, sample float64, prior time.Duration) time.Duration {
	return time.Duration(alpha*sample + (1-alpha)*float64(prior))
}

func (e *emaEstimator) estimateFor(family string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate[family]
}
