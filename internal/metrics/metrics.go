package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex          sync.RWMutex
	requests       map[string]int64
	requestTimes   map[string][]time.Duration
	requestCodes   map[string]map[int]int64
	attempts       map[string]int64
	failures       map[string]int64
	attemptTimes   map[string][]time.Duration
	attemptCodes   map[string]map[int]int64
	circuitOpens   map[string]int64
	circuitRejects map[string]int64
	snapshots      map[string]int64
	startTime      time.Time
}

type Snapshot struct {
	TotalRequests int64                      `json:"total_requests"`
	Uptime        time.Duration              `json:"uptime"`
	Routes        map[string]RouteMetrics    `json:"routes"`
	Upstreams     map[string]UpstreamMetrics `json:"upstreams"`
	Snapshots     map[string]int64           `json:"snapshots"`
	Strategy      string                     `json:"strategy"`
}

type RouteMetrics struct {
	Requests    int64         `json:"requests"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

// UpstreamMetrics is keyed by circuit key ("<provider>:<port>").
type UpstreamMetrics struct {
	Attempts     int64         `json:"attempts"`
	Failures     int64         `json:"failures"`
	CircuitOpens int64         `json:"circuit_opens"`
	Rejections   int64         `json:"rejections"`
	AvgResponse  time.Duration `json:"avg_response"`
	P95Response  time.Duration `json:"p95_response"`
	StatusCodes  map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:       make(map[string]int64),
		requestTimes:   make(map[string][]time.Duration),
		requestCodes:   make(map[string]map[int]int64),
		attempts:       make(map[string]int64),
		failures:       make(map[string]int64),
		attemptTimes:   make(map[string][]time.Duration),
		attemptCodes:   make(map[string]map[int]int64),
		circuitOpens:   make(map[string]int64),
		circuitRejects: make(map[string]int64),
		snapshots:      make(map[string]int64),
		startTime:      time.Now(),
	}
}

func (m *Metrics) RecordRequest(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[route]++
	m.requestTimes[route] = appendSample(m.requestTimes[route], duration)
	m.requestCodes[route] = countCode(m.requestCodes[route], statusCode)
}

func (m *Metrics) RecordAttempt(key string, duration time.Duration, statusCode int, failed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempts[key]++
	if failed {
		m.failures[key]++
	}
	m.attemptTimes[key] = appendSample(m.attemptTimes[key], duration)
	m.attemptCodes[key] = countCode(m.attemptCodes[key], statusCode)
}

func (m *Metrics) RecordCircuitOpened(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitOpens[key]++
}

func (m *Metrics) RecordCircuitRejected(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitRejects[key]++
}

func (m *Metrics) RecordSnapshot(outcome string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.snapshots[outcome]++
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(m.startTime),
		Routes:    make(map[string]RouteMetrics, len(m.requests)),
		Upstreams: make(map[string]UpstreamMetrics),
		Snapshots: make(map[string]int64, len(m.snapshots)),
		Strategy:  strategy,
	}

	for route, count := range m.requests {
		snap.TotalRequests += count

		rm := RouteMetrics{
			Requests:    count,
			StatusCodes: copyCodes(m.requestCodes[route]),
		}
		if sorted := sortedCopy(m.requestTimes[route]); len(sorted) > 0 {
			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}
		snap.Routes[route] = rm
	}

	// Collect every key seen by any upstream counter
	keys := make(map[string]bool)
	for key := range m.attempts {
		keys[key] = true
	}
	for key := range m.circuitOpens {
		keys[key] = true
	}
	for key := range m.circuitRejects {
		keys[key] = true
	}

	for key := range keys {
		um := UpstreamMetrics{
			Attempts:     m.attempts[key],
			Failures:     m.failures[key],
			CircuitOpens: m.circuitOpens[key],
			Rejections:   m.circuitRejects[key],
			StatusCodes:  copyCodes(m.attemptCodes[key]),
		}
		if sorted := sortedCopy(m.attemptTimes[key]); len(sorted) > 0 {
			um.AvgResponse = average(sorted)
			um.P95Response = percentile(sorted, 0.95)
		}
		snap.Upstreams[key] = um
	}

	for outcome, count := range m.snapshots {
		snap.Snapshots[outcome] = count
	}

	return snap
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxSamples {
		samples = samples[1:]
	}
	return samples
}

func countCode(codes map[int]int64, statusCode int) map[int]int64 {
	if codes == nil {
		codes = make(map[int]int64)
	}
	codes[statusCode]++
	return codes
}

func copyCodes(codes map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(codes))
	for code, n := range codes {
		out[code] = n
	}
	return out
}

func sortedCopy(durations []time.Duration) []time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	return sorted
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
