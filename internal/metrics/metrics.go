package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"travel-booking/internal/config"

	"github.com/VictoriaMetrics/metrics"
)

func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		logger.Error("Error initializing metrics push", "error", err)
	}
}

// Handler exposes all registered metrics in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
}

func ObserveRequest(route, method string, status int, duration time.Duration) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`http_requests_total{route=%q,method=%q,status="%d"}`, route, method, status)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`http_request_duration_seconds{route=%q}`, route)).Update(duration.Seconds())
}
