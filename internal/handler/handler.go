package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/macho715/marine-weather-dashboard/internal/circuitbreaker"
	"github.com/macho715/marine-weather-dashboard/internal/marine"
	"github.com/macho715/marine-weather-dashboard/internal/upstream"
)

// ISOMillis renders UTC timestamps with millisecond precision and a Z suffix.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// MarineService is satisfied by *marine.Service.
type MarineService interface {
	Snapshot(ctx context.Context, code string) (marine.Report, error)
	Catalog() *marine.Catalog
}

// RequestRecorder is satisfied by *metrics.Collector.
type RequestRecorder interface {
	RequestCompleted(route string, statusCode int, duration time.Duration)
}

type Config struct {
	Service  MarineService
	Breakers *circuitbreaker.Registry
	Pool     *upstream.Pool
	Recorder RequestRecorder
	Logger   *slog.Logger
	Clock    clockwork.Clock
}

type MarineHandler struct {
	logger   *slog.Logger
	service  MarineService
	breakers *circuitbreaker.Registry
	pool     *upstream.Pool
	recorder RequestRecorder
	clock    clockwork.Clock
}

func NewMarineHandler(cfg Config) *MarineHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &MarineHandler{
		logger:   cfg.Logger,
		service:  cfg.Service,
		breakers: cfg.Breakers,
		pool:     cfg.Pool,
		recorder: cfg.Recorder,
		clock:    cfg.Clock,
	}
}

type coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type marineResponse struct {
	Port        string   `json:"port"`
	Name        string   `json:"name"`
	Coords      coords   `json:"coords"`
	Hs          *float64 `json:"hs"`
	WindKt      *float64 `json:"windKt"`
	SwellPeriod *float64 `json:"swellPeriod"`
	IOI         int      `json:"ioi"`
	Source      string   `json:"source,omitempty"`
	FetchedAt   string   `json:"fetchedAt"`
	Cached      bool     `json:"cached"`
	Stale       bool     `json:"stale"`
}

type errorResponse struct {
	Error       string `json:"error"`
	CircuitOpen bool   `json:"circuitOpen,omitempty"`
}

// Marine serves GET /api/marine?port=CODE.
func (h *MarineHandler) Marine(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("port")

	report, err := h.service.Snapshot(r.Context(), code)
	if err != nil {
		h.writeError(w, r, code, err)
		return
	}

	if report.Stale {
		h.logger.Warn("Serving stale marine snapshot",
			slog.String("port", report.Port.Code),
			slog.String("request_id", RequestID(r.Context())),
			slog.Time("fetched_at", report.FetchedAt))
	}

	writeCachedJSON(w, r, marineResponse{
		Port:        report.Port.Code,
		Name:        report.Port.Name,
		Coords:      coords{Lat: report.Port.Lat, Lon: report.Port.Lon},
		Hs:          report.Hs,
		WindKt:      report.WindKt,
		SwellPeriod: report.SwellPeriod,
		IOI:         report.IOI,
		Source:      report.Source,
		FetchedAt:   report.FetchedAt.UTC().Format(ISOMillis),
		Cached:      report.Cached,
		Stale:       report.Stale,
	})
}

func (h *MarineHandler) writeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	status := marine.StatusCode(err)

	switch status {
	case http.StatusBadRequest:
		writeJSON(w, status, errorResponse{Error: "Unknown port"})

	case http.StatusServiceUnavailable:
		wait := marine.RetryAfter(err)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		h.logger.Warn("Marine upstream circuit open",
			slog.String("port", code),
			slog.String("request_id", RequestID(r.Context())),
			slog.Duration("retry_after", wait))
		writeJSON(w, status, errorResponse{Error: "Marine upstream temporarily unavailable", CircuitOpen: true})

	default:
		h.logger.Error("Marine snapshot unavailable",
			slog.String("port", code),
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err))
		writeJSON(w, status, errorResponse{Error: err.Error()})
	}
}

type portsResponse struct {
	Default string        `json:"default"`
	Ports   []marine.Port `json:"ports"`
}

// Ports serves GET /api/ports.
func (h *MarineHandler) Ports(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	writeCachedJSON(w, r, portsResponse{
		Default: catalog.Default(),
		Ports:   catalog.Ports(),
	})
}

type providerStatus struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	InFlight int    `json:"in_flight"`
	EWMAMs   int64  `json:"ewma_ms"`
}

type healthResponse struct {
	Status    string                                 `json:"status"`
	Timestamp string                                 `json:"timestamp"`
	Ports     int                                    `json:"ports"`
	Providers []providerStatus                       `json:"providers,omitempty"`
	Circuits  map[string]circuitbreaker.CircuitState `json:"circuits"`
}

// Health serves GET /health. It always answers 200; status is "degraded"
// while any circuit is not closed or any provider is marked down.
func (h *MarineHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC().Format(ISOMillis),
		Ports:     len(h.service.Catalog().Ports()),
		Circuits:  map[string]circuitbreaker.CircuitState{},
	}

	if h.breakers != nil {
		resp.Circuits = h.breakers.Stats()
		for _, state := range resp.Circuits {
			if state.State != circuitbreaker.StateClosed {
				resp.Status = "degraded"
			}
		}
	}

	if h.pool != nil {
		for _, p := range h.pool.Providers() {
			resp.Providers = append(resp.Providers, providerStatus{
				Name:     p.Name(),
				Healthy:  p.IsHealthy(),
				InFlight: p.InFlight(),
				EWMAMs:   p.EWMATime().Milliseconds(),
			})
			if !p.IsHealthy() {
				resp.Status = "degraded"
			}
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
