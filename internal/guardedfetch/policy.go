package guardedfetch

import (
	"math"
	"time"
)

const (
	DefaultTimeout       = 8 * time.Second
	DefaultRetries       = 2
	DefaultBackoff       = 400 * time.Millisecond
	DefaultBackoffFactor = 2.0
)

// Policy controls how a single Fetch behaves. Zero values for CircuitThreshold
// and CircuitCooldown are derived from Retries and Timeout.
type Policy struct {
	Timeout           time.Duration
	Retries           int
	Backoff           time.Duration
	BackoffFactor     float64
	JitterRatio       float64
	CircuitThreshold  int
	CircuitCooldown   time.Duration
	RetryClientErrors bool
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:       DefaultTimeout,
		Retries:       DefaultRetries,
		Backoff:       DefaultBackoff,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// normalized fills derived defaults and clamps out-of-range values.
func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	p.JitterRatio = math.Min(math.Max(p.JitterRatio, 0), 1)
	if p.CircuitThreshold <= 0 {
		p.CircuitThreshold = max(1, p.Retries+1)
	}
	if p.CircuitCooldown <= 0 {
		p.CircuitCooldown = 2 * p.Timeout
	}
	return p
}

// Delay returns the un-jittered wait before the attempt following attempt
// (zero based): Backoff * BackoffFactor^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Backoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// jitter spreads d uniformly over [d*(1-r), d*(1+r)] using u in [0,1).
func jitter(d time.Duration, ratio, u float64) time.Duration {
	if ratio <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * ratio
	j := float64(d) - spread + 2*spread*u
	if j < 0 {
		return 0
	}
	return time.Duration(j)
}
