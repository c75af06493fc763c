package upstream

import (
	"net/url"
	"sync"
	"time"
)

// Provider is one marine data source with health status, in-flight tracking
// and response time monitoring.
type Provider struct {
	name             string
	url              *url.URL
	priority         int
	mutex            sync.Mutex
	isHealthy        bool
	inFlight         int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// NewProvider creates a healthy provider. Lower priority values are tried first
// by the failover strategy.
func NewProvider(name string, u *url.URL, priority int) *Provider {
	return &Provider{
		name:      name,
		url:       u,
		priority:  priority,
		isHealthy: true,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) URL() *url.URL {
	return p.url
}

func (p *Provider) Priority() int {
	return p.priority
}

func (p *Provider) IncrementInFlight() {
	p.mutex.Lock()
	p.inFlight++
	p.mutex.Unlock()
}

func (p *Provider) DecrementInFlight() {
	p.mutex.Lock()
	if p.inFlight > 0 {
		p.inFlight--
	}
	p.mutex.Unlock()
}

func (p *Provider) InFlight() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.inFlight
}

func (p *Provider) IsHealthy() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.isHealthy
}

// SetHealthy updates the health status and reports whether it changed.
func (p *Provider) SetHealthy(healthy bool) (changed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isHealthy == healthy {
		return false
	}

	p.isHealthy = healthy
	return true
}

// RecordResponse folds a successful call duration into the EWMA.
func (p *Provider) RecordResponse(duration time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasEWMA {
		p.ewmaResponseTime = duration
		p.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	p.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(p.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns 0 until a response has been recorded.
func (p *Provider) EWMATime() time.Duration {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasEWMA {
		return 0
	}
	return p.ewmaResponseTime
}
