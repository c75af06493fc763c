package main

import (
	"net/http"

	"github.com/macho715/marine-weather-dashboard/internal/handler"
	"github.com/macho715/marine-weather-dashboard/internal/metrics"
)

func setupRouter(marineHandler *handler.MarineHandler, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /api/marine", marineHandler.Instrument("/api/marine", http.HandlerFunc(marineHandler.Marine)))
	mux.Handle("GET /api/ports", marineHandler.Instrument("/api/ports", http.HandlerFunc(marineHandler.Ports)))
	mux.Handle("GET /health", marineHandler.Instrument("/health", http.HandlerFunc(marineHandler.Health)))
	mux.Handle("GET /metrics", metricsCollector.PrometheusHandler())
	mux.HandleFunc("GET /stats", metricsCollector.StatsHandler())

	return mux
}
