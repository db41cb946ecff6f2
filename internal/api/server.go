// Package api exposes the coordinator's RPC surface (spec §6) over HTTP:
// worker registration/heartbeat/scheduling, the chunked byte-stream pair,
// progress/outcome reporting, the WebSocket event stream, and the admin
// surface operators use to nudge individual files and workers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gwlsn/avfarm/internal/config"
	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/lifecycle"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/scan"
	"github.com/gwlsn/avfarm/internal/scheduler"
	"github.com/gwlsn/avfarm/internal/store"
)

// Server wires the coordinator's in-process components to chi routes.
type Server struct {
	store     store.Store
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	lifecycle *lifecycle.Lifecycle
	bus       *eventbus.Bus
	scanner   *scan.Scanner
	cfg       *config.CoordinatorConfig

	minSavingsPercent float64
	testingMode       bool

	router *chi.Mux
}

// New builds a Server and registers every route from spec §6. cfg is the
// canonical cluster config handed back to workers on registration (spec
// §12) so they can detect drift against it.
func New(s store.Store, reg *registry.Registry, sch *scheduler.Scheduler, lc *lifecycle.Lifecycle, bus *eventbus.Bus, sc *scan.Scanner, cfg *config.CoordinatorConfig) *Server {
	srv := &Server{
		store: s, registry: reg, scheduler: sch, lifecycle: lc, bus: bus, scanner: sc, cfg: cfg,
		minSavingsPercent: lifecycle.DefaultMinSavingsPercent,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Route("/workers", func(r chi.Router) {
		r.Post("/register", srv.handleRegister)
		r.Post("/{workerID}/heartbeat", srv.handleHeartbeat)
		r.Get("/{workerID}/next", srv.handleNext)
	})

	r.Route("/files/{fileID}", func(r chi.Router) {
		r.Get("/bytes", srv.handleDownloadBytes)
		r.Post("/result", srv.handleUploadResult)
		r.Post("/progress", srv.handleProgress)
		r.Post("/report", srv.handleReport)
	})

	r.Get("/status", srv.handleStatus)
	r.Get("/events", srv.handleEvents)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Post("/scan", srv.handleAdminScan)
		r.Post("/files/{fileID}/reset", srv.handleAdminReset)
		r.Post("/files/{fileID}/retry", srv.handleAdminReset)
		r.Post("/files/{fileID}/skip", srv.handleAdminSkip)
		r.Delete("/files/{fileID}", srv.handleAdminDelete)
		r.Post("/files/{fileID}/priority", srv.handleAdminPriority)
		r.Post("/files/{fileID}/preferred_worker", srv.handleAdminPreferredWorker)
		r.Post("/workers/{workerID}/fade_out", srv.handleAdminFadeOut)
		r.Post("/workers/{workerID}/cancel_current", srv.handleAdminCancelCurrent)
	})

	srv.router = r
	return srv
}

// Router returns the chi router for use with http.Server or httptest.
func (s *Server) Router() http.Handler { return s.router }

// SetTestingMode controls whether SafeReplace keeps the original file's
// backup sibling instead of unlinking it (spec §4.E); wired from the
// coordinator config's testing_mode key.
func (s *Server) SetTestingMode(testing bool) { s.testingMode = testing }

// SetMinSavingsPercent overrides MIN_SAVINGS_PCT for SafeReplace's
// insufficient-savings rejection.
func (s *Server) SetMinSavingsPercent(pct float64) { s.minSavingsPercent = pct }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Component("api").Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start),
		)
	})
}
