package keys

import (
	"time"
)

// Pool is the service-agnostic aggregator (spec §4.4): given a model name it
// maps to a family and service, then forwards to the owning Provider.
type Pool struct {
	providers map[Service]*Provider
}

// NewPool builds a Pool from a set of already-populated providers.
func NewPool(providers map[Service]*Provider) *Pool {
	return &Pool{providers: providers}
}

// Provider returns the per-service registry, or nil if the service was not
// configured at startup (no credentials supplied).
func (p *Pool) Provider(svc Service) *Provider {
	return p.providers[svc]
}

// Resolve maps a model name to its family and owning Provider.
func (p *Pool) Resolve(model string) (family string, prov *Provider, err error) {
	family, svc, ok := ModelFamily(model)
	if !ok {
		return "", nil, ErrNoKeyAvailable
	}
	prov = p.providers[svc]
	if prov == nil {
		return family, nil, ErrNoKeyAvailable
	}
	return family, prov, nil
}

// Get resolves model to a provider and family, then calls Provider.Get.
func (p *Pool) Get(model string) (*Key, string, error) {
	family, prov, err := p.Resolve(model)
	if err != nil {
		return nil, family, err
	}
	k, err := prov.Get(family)
	return k, family, err
}

// List aggregates every configured provider's snapshot.
func (p *Pool) List() map[Service][]*Key {
	out := make(map[Service][]*Key, len(p.providers))
	for svc, prov := range p.providers {
		out[svc] = prov.List()
	}
	return out
}

// Disable forwards to the owning provider.
func (p *Pool) Disable(svc Service, hash string, revoke bool) {
	if prov := p.providers[svc]; prov != nil {
		prov.Disable(hash, revoke)
	}
}

// Update forwards to the owning provider.
func (p *Pool) Update(svc Service, hash string, patch func(*Key)) {
	if prov := p.providers[svc]; prov != nil {
		prov.Update(hash, patch)
	}
}

// MarkRateLimited forwards to the owning provider.
func (p *Pool) MarkRateLimited(svc Service, hash string, lockout time.Duration) {
	if prov := p.providers[svc]; prov != nil {
		prov.MarkRateLimited(hash, lockout)
	}
}

// IncrementUsage forwards to the owning provider.
func (p *Pool) IncrementUsage(svc Service, hash, family string, tokens int64) {
	if prov := p.providers[svc]; prov != nil {
		prov.IncrementUsage(hash, family, tokens)
	}
}

// RefundThrottle forwards to the owning provider.
func (p *Pool) RefundThrottle(svc Service, hash string) {
	if prov := p.providers[svc]; prov != nil {
		prov.RefundThrottle(hash)
	}
}

// GetLockoutPeriod forwards to the family's owning provider. Families are
// globally unique across services by construction (see family.go), so the
// caller only needs the family tag, not the service.
func (p *Pool) GetLockoutPeriod(family string) time.Duration {
	for _, row := range modelFamilyPrefixes {
		if row.family == family {
			if prov := p.providers[row.svc]; prov != nil {
				return prov.GetLockoutPeriod(family)
			}
			return 0
		}
	}
	return 0
}

// Recheck forwards to every configured provider.
func (p *Pool) Recheck() {
	for _, prov := range p.providers {
		prov.Recheck()
	}
}
