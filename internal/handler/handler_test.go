package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.trai.ch/zerr"

	"github.com/macho715/marine-weather-dashboard/internal/circuitbreaker"
	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
	"github.com/macho715/marine-weather-dashboard/internal/handler"
	"github.com/macho715/marine-weather-dashboard/internal/marine"
	"github.com/macho715/marine-weather-dashboard/internal/upstream"
	"github.com/macho715/marine-weather-dashboard/pkg/logger"
)

type fakeService struct {
	catalog *marine.Catalog
	report  marine.Report
	err     error
	codes   []string
}

func (f *fakeService) Snapshot(_ context.Context, code string) (marine.Report, error) {
	f.codes = append(f.codes, code)
	return f.report, f.err
}

func (f *fakeService) Catalog() *marine.Catalog {
	return f.catalog
}

type requestLog struct {
	mu      sync.Mutex
	routes  []string
	statuses []int
}

func (l *requestLog) RequestCompleted(route string, statusCode int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes = append(l.routes, route)
	l.statuses = append(l.statuses, statusCode)
}

func ptr(v float64) *float64 {
	return &v
}

var _ = Describe("MarineHandler", func() {
	var (
		svc      *fakeService
		h        *handler.MarineHandler
		breakers *circuitbreaker.Registry
		pool     *upstream.Pool
		provider *upstream.Provider
		recorder *requestLog
		clock    clockwork.Clock
		fetched  time.Time
	)

	BeforeEach(func() {
		catalog, err := marine.DefaultCatalog()
		Expect(err).NotTo(HaveOccurred())

		port, err := catalog.Lookup("AEJEA")
		Expect(err).NotTo(HaveOccurred())

		fetched = time.Date(2025, 3, 17, 6, 0, 0, 0, time.UTC)
		svc = &fakeService{
			catalog: catalog,
			report: marine.Report{
				Port: port,
				Conditions: marine.Conditions{
					Hs:          ptr(1.2),
					WindKt:      ptr(15.55072),
					SwellPeriod: ptr(10),
					IOI:         87,
					Source:      "open-meteo",
				},
				FetchedAt: fetched,
			},
		}

		clock = clockwork.NewFakeClockAt(fetched.Add(time.Minute))
		breakers = circuitbreaker.NewRegistry(1, time.Minute, clock)

		u, err := url.Parse("https://marine-api.open-meteo.com/v1/marine")
		Expect(err).NotTo(HaveOccurred())
		provider = upstream.NewProvider("open-meteo", u, 0)
		pool, err = upstream.NewPool(upstream.NewFailoverStrategy(), []*upstream.Provider{provider})
		Expect(err).NotTo(HaveOccurred())

		recorder = &requestLog{}
		h = handler.NewMarineHandler(handler.Config{
			Service:  svc,
			Breakers: breakers,
			Pool:     pool,
			Recorder: recorder,
			Logger:   logger.Discard(),
			Clock:    clock,
		})
	})

	get := func(fn http.HandlerFunc, target string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var body map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("Marine", func() {
		It("should serve a fresh snapshot", func() {
			w := get(h.Marine, "/api/marine?port=AEJEA")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(svc.codes).To(Equal([]string{"AEJEA"}))

			body := decode(w)
			Expect(body).To(HaveKeyWithValue("port", "AEJEA"))
			Expect(body).To(HaveKeyWithValue("hs", 1.2))
			Expect(body).To(HaveKeyWithValue("ioi", BeNumerically("==", 87)))
			Expect(body).To(HaveKeyWithValue("cached", false))
			Expect(body).To(HaveKeyWithValue("stale", false))
			Expect(body).To(HaveKeyWithValue("fetchedAt", "2025-03-17T06:00:00.000Z"))
			Expect(body).To(HaveKeyWithValue("coords", HaveKeyWithValue("lat", BeNumerically("~", 25.0, 0.5))))
		})

		It("should pass an empty port through for the default", func() {
			get(h.Marine, "/api/marine")
			Expect(svc.codes).To(Equal([]string{""}))
		})

		It("should serve null for missing readings", func() {
			svc.report.Hs = nil
			body := decode(get(h.Marine, "/api/marine?port=AEJEA"))
			Expect(body).To(HaveKeyWithValue("hs", BeNil()))
		})

		It("should flag stale snapshots", func() {
			svc.report.Cached = true
			svc.report.Stale = true

			w := get(h.Marine, "/api/marine?port=AEJEA")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(HaveKeyWithValue("stale", true))
		})

		It("should answer 304 for a matching ETag", func() {
			first := get(h.Marine, "/api/marine?port=AEJEA")
			etag := first.Header().Get("ETag")
			Expect(etag).To(MatchRegexp(`^"[0-9a-f]+"$`))

			second := get(h.Marine, "/api/marine?port=AEJEA", "If-None-Match", etag)
			Expect(second.Code).To(Equal(http.StatusNotModified))
			Expect(second.Body.Len()).To(BeZero())

			svc.report.Stale = true
			third := get(h.Marine, "/api/marine?port=AEJEA", "If-None-Match", etag)
			Expect(third.Code).To(Equal(http.StatusOK))
			Expect(third.Header().Get("ETag")).NotTo(Equal(etag))
		})

		It("should reject unknown ports with 400", func() {
			svc.err = zerr.With(marine.ErrUnknownPort, "port", "ZZZZZ")

			w := get(h.Marine, "/api/marine?port=ZZZZZ")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(Equal(map[string]any{"error": "Unknown port"}))
		})

		It("should answer 502 when every provider fails", func() {
			svc.err = &marine.RefreshError{Port: "AEJEA", Failures: []error{
				&guardedfetch.GuardedFetchError{Key: "open-meteo:AEJEA", Attempts: 3, Cause: errors.New("connection refused")},
			}}

			w := get(h.Marine, "/api/marine?port=AEJEA")
			Expect(w.Code).To(Equal(http.StatusBadGateway))
			body := decode(w)
			Expect(body).To(HaveKeyWithValue("error", ContainSubstring("connection refused")))
			Expect(body).NotTo(HaveKey("circuitOpen"))
		})

		It("should answer 503 with Retry-After when every circuit is open", func() {
			svc.err = &marine.RefreshError{Port: "AEJEA", Failures: []error{
				&guardedfetch.CircuitOpenError{Key: "open-meteo:AEJEA", RetryAfter: 1500 * time.Millisecond},
				&guardedfetch.CircuitOpenError{Key: "mirror:AEJEA", RetryAfter: 10 * time.Second},
			}}

			w := get(h.Marine, "/api/marine?port=AEJEA")
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(w.Header().Get("Retry-After")).To(Equal("2"))
			Expect(decode(w)).To(HaveKeyWithValue("circuitOpen", true))
		})

		It("should never send a zero Retry-After", func() {
			svc.err = &marine.RefreshError{Port: "AEJEA", Failures: []error{
				&guardedfetch.CircuitOpenError{Key: "open-meteo:AEJEA"},
			}}

			w := get(h.Marine, "/api/marine?port=AEJEA")
			Expect(w.Header().Get("Retry-After")).To(Equal("1"))
		})
	})

	Describe("Ports", func() {
		It("should list the catalog with its default", func() {
			body := decode(get(h.Ports, "/api/ports"))
			Expect(body).To(HaveKeyWithValue("default", "AEJEA"))
			Expect(body["ports"]).To(HaveLen(len(svc.catalog.Ports())))
		})
	})

	Describe("Health", func() {
		It("should report ok when circuits are closed and providers healthy", func() {
			w := get(h.Health, "/health")
			Expect(w.Code).To(Equal(http.StatusOK))

			body := decode(w)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body).To(HaveKeyWithValue("timestamp", "2025-03-17T06:01:00.000Z"))
			Expect(body).To(HaveKeyWithValue("ports", BeNumerically("==", len(svc.catalog.Ports()))))
		})

		It("should report degraded while a circuit is open", func() {
			Expect(breakers.GetBreaker("open-meteo:AEJEA").RecordFailure()).To(BeTrue())

			body := decode(get(h.Health, "/health"))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
			Expect(body).To(HaveKeyWithValue("circuits",
				HaveKeyWithValue("open-meteo:AEJEA", HaveKeyWithValue("state", "OPEN"))))
		})

		It("should report degraded while a provider is down", func() {
			provider.SetHealthy(false)

			body := decode(get(h.Health, "/health"))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
			Expect(body).To(HaveKeyWithValue("providers",
				ContainElement(HaveKeyWithValue("healthy", false))))
		})
	})

	Describe("Instrument", func() {
		It("should assign a request ID and record the request", func() {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = handler.RequestID(r.Context())
				w.WriteHeader(http.StatusTeapot)
			})

			w := httptest.NewRecorder()
			h.Instrument("/test", next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			Expect(seen).NotTo(BeEmpty())
			Expect(w.Header().Get(handler.RequestIDHeader)).To(Equal(seen))
			Expect(recorder.routes).To(Equal([]string{"/test"}))
			Expect(recorder.statuses).To(Equal([]int{http.StatusTeapot}))
		})

		It("should keep a caller supplied request ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(handler.RequestIDHeader, "abc-123")

			w := httptest.NewRecorder()
			h.Instrument("/test", http.HandlerFunc(h.Health)).ServeHTTP(w, req)

			Expect(w.Header().Get(handler.RequestIDHeader)).To(Equal("abc-123"))
			Expect(recorder.statuses).To(Equal([]int{http.StatusOK}))
		})
	})
})
