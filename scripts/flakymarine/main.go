// Flakymarine is a stand-in for the Open-Meteo marine API used to exercise
// retries, circuit breaking and stale fallback locally.
//
// Usage:
//
//	go run ./scripts/flakymarine -port 8091 -fail-rate 0.3 -latency 200ms
//
// POST /control?status=500 forces every response to that status until
// POST /control?status=0 restores normal behavior.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type hourly struct {
	WaveHeight      []float64 `json:"wave_height"`
	WindSpeed10m    []float64 `json:"wind_speed_10m"`
	SwellWavePeriod []float64 `json:"swell_wave_period"`
}

type marineResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    hourly  `json:"hourly"`
}

func main() {
	var (
		port     = flag.Int("port", 8091, "port to listen on")
		failRate = flag.Float64("fail-rate", 0, "fraction of requests answered with 503")
		latency  = flag.Duration("latency", 0, "delay added to every response")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var forced atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/marine", func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		query := r.URL.Query()

		time.Sleep(*latency)

		status := int(forced.Load())
		if status == 0 && rand.Float64() < *failRate {
			status = http.StatusServiceUnavailable
		}
		if status != 0 && status != http.StatusOK {
			log.Warn("failing request",
				slog.String("id", id),
				slog.Int("status", status),
				slog.String("query", r.URL.RawQuery))
			http.Error(w, http.StatusText(status), status)
			return
		}

		lat, _ := strconv.ParseFloat(query.Get("latitude"), 64)
		lon, _ := strconv.ParseFloat(query.Get("longitude"), 64)

		resp := marineResponse{
			Latitude:  lat,
			Longitude: lon,
			Hourly: hourly{
				WaveHeight:      []float64{0.5 + rand.Float64()*2},
				WindSpeed10m:    []float64{2 + rand.Float64()*10},
				SwellWavePeriod: []float64{6 + rand.Float64()*6},
			},
		}

		log.Info("serving marine forecast",
			slog.String("id", id),
			slog.Float64("lat", lat),
			slog.Float64("lon", lon))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("POST /control", func(w http.ResponseWriter, r *http.Request) {
		status, err := strconv.Atoi(r.URL.Query().Get("status"))
		if err != nil || (status != 0 && (status < 100 || status > 599)) {
			http.Error(w, "status must be 0 or an HTTP status code", http.StatusBadRequest)
			return
		}
		forced.Store(int32(status))
		log.Info("forced status changed", slog.Int("status", status))
		w.WriteHeader(http.StatusNoContent)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting flaky marine upstream", slog.String("addr", addr), slog.Float64("fail_rate", *failRate))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
