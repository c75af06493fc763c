package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// StatsHandler serves the in-memory snapshot for /stats. The body is encoded
// before any header is written so a failure still yields a clean 500.
func (c *Collector) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body, err := json.Marshal(c.Snapshot())
		if err != nil {
			c.logger.Error("Failed to encode stats", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(append(body, '\n'))
	}
}
