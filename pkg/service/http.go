package service

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/rtc"
	"github.com/meshcast/sfu/pkg/telemetry"
)

// NewRouter assembles the process's full HTTP surface: health, metrics,
// the signaling websocket, and the admin API.
func NewRouter(manager *rtc.Manager, metrics *telemetry.Metrics, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	signalServer := NewSignalServer(manager, cfg.Signal)
	r.Get("/rtc/ws", signalServer.ServeHTTP)

	admin := NewAdminAPI(manager, cfg.Admin)
	r.Mount("/admin", admin.Router())

	return r
}
