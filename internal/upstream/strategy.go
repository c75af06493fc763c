package upstream

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// Strategy orders providers for a refresh. The first entry is tried first and
// the rest are fallbacks.
type Strategy interface {
	Name() string
	Order(providers []*Provider) []*Provider
}

const (
	StrategyFailover      = "failover"
	StrategyRoundRobin    = "round-robin"
	StrategyLeastResponse = "least-response"
)

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyFailover:
		return NewFailoverStrategy(), nil
	case StrategyRoundRobin:
		return NewRoundRobinStrategy(), nil
	case StrategyLeastResponse:
		return NewLeastResponseStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown upstream strategy %q", name)
	}
}

type failoverStrategy struct{}

func NewFailoverStrategy() Strategy {
	return failoverStrategy{}
}

func (failoverStrategy) Name() string { return StrategyFailover }

func (failoverStrategy) Order(providers []*Provider) []*Provider {
	ordered := slices.Clone(providers)
	slices.SortStableFunc(ordered, func(a, b *Provider) int {
		return a.Priority() - b.Priority()
	})
	return ordered
}

type roundRobinStrategy struct {
	current uint64
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}

func (rr *roundRobinStrategy) Name() string { return StrategyRoundRobin }

// Order rotates the list so each refresh starts at the next provider.
func (rr *roundRobinStrategy) Order(providers []*Provider) []*Provider {
	if len(providers) == 0 {
		return nil
	}

	n := atomic.AddUint64(&rr.current, 1)
	start := int((n - 1) % uint64(len(providers)))

	ordered := make([]*Provider, 0, len(providers))
	ordered = append(ordered, providers[start:]...)
	ordered = append(ordered, providers[:start]...)
	return ordered
}

type leastResponseStrategy struct{}

func NewLeastResponseStrategy() Strategy {
	return leastResponseStrategy{}
}

func (leastResponseStrategy) Name() string { return StrategyLeastResponse }

// Order sorts by EWMA scaled by in-flight calls. Unmeasured providers go first
// so they get sampled.
func (leastResponseStrategy) Order(providers []*Provider) []*Provider {
	ordered := slices.Clone(providers)
	slices.SortStableFunc(ordered, func(a, b *Provider) int {
		sa, sb := score(a), score(b)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	})
	return ordered
}

func score(p *Provider) time.Duration {
	ewma := p.EWMATime()
	if ewma == 0 {
		return 0
	}
	return ewma * (time.Duration(p.InFlight()) + 1)
}
