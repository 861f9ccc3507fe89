package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"carerounds/internal/audit"
	"carerounds/internal/auth"
	"carerounds/internal/compliance"
	"carerounds/internal/config"
	"carerounds/internal/geo"
	"carerounds/internal/metrics"
	"carerounds/internal/opt"
	"carerounds/internal/schedule"
	"carerounds/internal/store"
	"carerounds/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Sched  *schedule.Service
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier
	Broker EventBroker
	Log    *zap.Logger
}

// New wires storage, the optimizer, the scheduling service and the event
// broker from configuration. An empty database URL selects the in-memory
// store.
func New(cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.MigrateDir("db/migrations"); err != nil {
				return nil, err
			}
		}
		st = pg
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Warn("redis broker unavailable, using in-process broker", zap.Error(err))
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	var provider geo.Provider = geo.NewHaversine(cfg.Geo.SpeedKph)
	if cfg.Geo.RateRPS > 0 {
		provider = geo.NewRateLimited(provider, cfg.Geo.RateRPS, cfg.Geo.RateBurst)
	}

	optimizer := opt.New(provider, log.Named("opt"))
	recorder := audit.NewRecorder(st, log.Named("audit"))
	sched := schedule.NewService(st, optimizer, compliance.NewRules(), recorder, log.Named("schedule"))

	metrics.RegisterDefault()

	verifier := auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.Secret, cfg.Auth.JWKS)
	verifier.Issuer = cfg.Auth.Issuer

	return &Server{
		Cfg:    cfg,
		Store:  st,
		Sched:  sched,
		Pub:    webhooks.NewPublisher(st, log.Named("webhooks")),
		Auth:   verifier,
		Broker: broker,
		Log:    log,
	}, nil
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts, s.Log.Named("webhooks"))
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/visits", s.VisitsHandler)
	mux.HandleFunc("/v1/visits/import", s.ImportVisitsHandler)
	mux.HandleFunc("/v1/visits/", s.VisitByIDHandler)
	mux.HandleFunc("/v1/staff", s.StaffHandler)
	mux.HandleFunc("/v1/schedule", s.ScheduleHandler)
	mux.HandleFunc("/v1/schedule/stream", s.ScheduleStreamHandler)
	mux.HandleFunc("/v1/schedule/ws", s.EventsWSHandler)
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/v1/admin/schedule/stats", s.ScheduleStatsHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return s.withMiddleware(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withMiddleware adds request logging and Prometheus counters. Streaming
// endpoints are left out of the duration histogram since their lifetime is
// the connection, not the request.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/schedule/ws" {
			// websocket hijack is incompatible with the recorder
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)
		path := routePattern(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		if path != "/v1/schedule/stream" {
			metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
		}
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

// routePattern collapses IDs out of paths so metric cardinality stays bounded.
func routePattern(path string) string {
	for _, prefix := range []string{"/v1/visits/", "/v1/subscriptions/", "/v1/admin/webhook-deliveries/"} {
		if strings.HasPrefix(path, prefix) && path != prefix {
			rest := strings.TrimPrefix(path, prefix)
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				return prefix + "{id}" + rest[i:]
			}
			if prefix == "/v1/visits/" && rest == "import" {
				return path
			}
			return prefix + "{id}"
		}
	}
	return path
}

// recordRun feeds optimizer run metrics into Prometheus.
func (s *Server) recordRun(m opt.RunMetrics, unresolved int) {
	if m.Mode == "" {
		return
	}
	outcome := "full"
	if unresolved > 0 {
		outcome = "partial"
	}
	metrics.OptimizerRuns.WithLabelValues(m.Mode, outcome).Inc()
	metrics.OptimizerDuration.WithLabelValues(m.Mode).Observe(float64(m.ElapsedMs))
	metrics.UnstaffedVisits.Observe(float64(unresolved))
}
