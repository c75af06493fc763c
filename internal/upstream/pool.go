package upstream

import (
	"errors"
)

var ErrNoProviders = errors.New("no upstream providers configured")

type Pool struct {
	strategy  Strategy
	providers []*Provider
}

func NewPool(strategy Strategy, providers []*Provider) (*Pool, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return &Pool{
		strategy:  strategy,
		providers: providers,
	}, nil
}

// Candidates returns healthy providers in strategy order followed by the
// unhealthy ones, so a refresh can still reach a provider that recovered.
func (p *Pool) Candidates() []*Provider {
	ordered := p.strategy.Order(p.providers)

	healthy := make([]*Provider, 0, len(ordered))
	var unhealthy []*Provider
	for _, pr := range ordered {
		if pr.IsHealthy() {
			healthy = append(healthy, pr)
		} else {
			unhealthy = append(unhealthy, pr)
		}
	}
	return append(healthy, unhealthy...)
}

func (p *Pool) Providers() []*Provider {
	return p.providers
}

func (p *Pool) Strategy() Strategy {
	return p.strategy
}
