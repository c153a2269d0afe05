package proxy

import (
	"time"

	"github.com/riftproxy/llmgw/internal/keys"
	"github.com/riftproxy/llmgw/internal/metrics"
)

// HealthChecker reports the current health of every upstream service by
// inspecting the key pool's live state. Credential validity itself is owned
// by internal/keys/checker, which continuously probes and disables keys in
// the background; HealthChecker only summarizes what the pool already knows,
// so there is nothing left here to actively probe.
type HealthChecker struct {
	pool       *keys.Pool
	cacheReady func() bool
	dbReady    func() bool
	metrics    *metrics.Registry
	startTime  time.Time
}

// NewHealthChecker creates a HealthChecker backed by pool.
func NewHealthChecker(pool *keys.Pool, cacheReady, dbReady func() bool, met *metrics.Registry) *HealthChecker {
	if pool == nil {
		panic("healthchecker: pool must not be nil")
	}
	return &HealthChecker{
		pool:       pool,
		cacheReady: cacheReady,
		dbReady:    dbReady,
		metrics:    met,
		startTime:  time.Now(),
	}
}

// HealthSnapshot is the JSON body served by GET /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
	Cache         string            `json:"cache"`
	Database      string            `json:"database"`
}

// Snapshot derives a service's status from whether the pool holds at least
// one enabled, non-rate-limited key for it. A service with zero configured
// keys is reported "unconfigured" rather than "degraded" since that reflects
// an operator choice, not a fault.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	byService := hc.pool.List()
	providerStatus := make(map[string]string, len(byService))

	for svc, ks := range byService {
		status := healthStatusOf(ks)
		providerStatus[string(svc)] = status
		if hc.metrics != nil {
			hc.metrics.SetProviderHealth(string(svc), status == "ok")
			hc.metrics.SetKeyPoolCounts(string(svc), countEligible(ks), countDisabled(ks))
		}
		if status == "degraded" {
			overall = "degraded"
		}
	}

	cache := "ok"
	if hc.cacheReady != nil && !hc.cacheReady() {
		cache = "degraded"
		overall = "degraded"
	}

	db := "ok"
	if hc.dbReady != nil && !hc.dbReady() {
		db = "down"
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     providerStatus,
		Cache:         cache,
		Database:      db,
	}
}

// ReadinessOK reports whether the database dependency (when configured) is
// reachable, the signal used by GET /readiness for orchestrator probes.
func (hc *HealthChecker) ReadinessOK() bool {
	if hc.dbReady == nil {
		return true
	}
	return hc.dbReady()
}

func countEligible(ks []*keys.Key) int {
	now := time.Now()
	n := 0
	for _, k := range ks {
		if !k.IsDisabled && !k.IsRateLimited(now) {
			n++
		}
	}
	return n
}

func countDisabled(ks []*keys.Key) int {
	n := 0
	for _, k := range ks {
		if k.IsDisabled {
			n++
		}
	}
	return n
}

func healthStatusOf(ks []*keys.Key) string {
	if len(ks) == 0 {
		return "unconfigured"
	}
	now := time.Now()
	for _, k := range ks {
		if !k.IsDisabled && !k.IsRateLimited(now) {
			return "ok"
		}
	}
	return "degraded"
}
