// Package server assembles the modhost HTTP API.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/httpx"
	commonmiddleware "github.com/tansive/modhost/internal/common/middleware"
	"github.com/tansive/modhost/internal/modhost/activation"
	"github.com/tansive/modhost/internal/modhost/auth"
	"github.com/tansive/modhost/internal/modhost/config"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/orchestration"
	"github.com/tansive/modhost/internal/modhost/providers"
	"github.com/tansive/modhost/internal/modhost/queryrouter"
	"github.com/tansive/modhost/internal/modhost/ratelimit"
	"github.com/tansive/modhost/internal/modhost/secrets"
	"github.com/tansive/modhost/internal/modhost/workload"
)

// Deps are the collaborators the server is built from. Limiter and Verifier
// may be nil, which disables rate limiting and token verification.
type Deps struct {
	Store     db.Store
	Runtime   workload.Runtime
	Secrets   secrets.Backend
	Retriever queryrouter.ContextProvider
	Tiers     []queryrouter.Tier
	Limiter   *ratelimit.Limiter
	Verifier  *auth.Verifier
	Metrics   *metrics.Metrics
}

type ModhostServer struct {
	Router *chi.Mux

	cfg          *config.ConfigParam
	store        db.Store
	metrics      *metrics.Metrics
	limiter      *ratelimit.Limiter
	verifier     *auth.Verifier
	recorder     *events.Recorder
	controller   *activation.Controller
	orchestrator *orchestration.Service
	runner       *orchestration.Runner
	providers    *providers.Service
	router       *queryrouter.Router
}

func CreateNewServer(cfg *config.ConfigParam, deps Deps) (*ModhostServer, error) {
	if deps.Store == nil || deps.Runtime == nil || deps.Secrets == nil || deps.Retriever == nil {
		return nil, fmt.Errorf("store, runtime, secrets and retriever are required")
	}
	stepTimeout := 30 * time.Second
	if cfg.Invoker.StepTimeout != "" {
		d, err := config.ParseDuration(cfg.Invoker.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid invoker.step_timeout: %w", err)
		}
		stepTimeout = d
	}

	recorder := events.NewRecorder(deps.Store)
	invoker := orchestration.KindInvoker{
		modcommon.ModuleKindService: orchestration.NewServiceInvoker(deps.Store, stepTimeout),
		modcommon.ModuleKindJob:     orchestration.NewJobInvoker(deps.Runtime, stepTimeout),
	}

	s := &ModhostServer{
		Router:       chi.NewRouter(),
		cfg:          cfg,
		store:        deps.Store,
		metrics:      deps.Metrics,
		limiter:      deps.Limiter,
		verifier:     deps.Verifier,
		recorder:     recorder,
		controller:   activation.NewController(deps.Store, deps.Runtime, recorder, deps.Metrics),
		orchestrator: orchestration.NewService(deps.Store, invoker, recorder, deps.Metrics),
		runner:       orchestration.NewRunner(deps.Store, invoker, recorder, deps.Metrics),
		providers:    providers.NewService(deps.Store, secrets.NewBroker(deps.Secrets), recorder),
		router:       queryrouter.NewRouter(deps.Retriever, deps.Tiers, recorder, deps.Metrics),
	}
	return s, nil
}

func (s *ModhostServer) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	s.Router.Use(s.metrics.Middleware)
	if s.cfg.HandleCORS {
		s.Router.Use(s.corsHandler())
	}
	s.Router.Use(limitBody(s.cfg.MaxRequestBodySize))
	if s.cfg.RequestTimeout != "" {
		if d, err := config.ParseDuration(s.cfg.RequestTimeout); err == nil {
			s.Router.Use(commonmiddleware.SetTimeout(d))
		}
	}

	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/ready", s.getReadiness)
	if s.metrics != nil {
		s.Router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	s.Router.Group(s.mountResourceHandlers)

	walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		log.Trace().Str("method", method).Str("route", route).Msg("route")
		return nil
	}
	if err := chi.Walk(s.Router, walkFunc); err != nil {
		log.Error().Err(err).Msg("unable to walk routes")
	}
}

func (s *ModhostServer) mountResourceHandlers(r chi.Router) {
	r.Use(auth.Middleware(s.verifier))
	r.Use(auth.TenantMiddleware(s.cfg.DefaultTenantID))

	r.Mount("/modules", s.controller.Router(s.runner.Handlers()...))
	r.Mount("/orchestrations", s.orchestrator.Router())
	r.Mount("/providers", s.providers.Router())
	r.Mount("/ask", s.router.Router(ratelimit.Middleware(s.limiter, s.metrics, "/ask")))
	for _, h := range s.recorder.Handlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
}

func (s *ModhostServer) corsHandler() func(http.Handler) http.Handler {
	origins := s.cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.TenantHeader, commonmiddleware.RequestIDHeader},
		ExposedHeaders:   []string{"Location", "Retry-After", commonmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *ModhostServer) getVersion(w http.ResponseWriter, r *http.Request) {
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &GetVersionRsp{
		ServerVersion: "Modhost Server: " + modcommon.ServerVersion,
		ApiVersion:    modcommon.ApiVersion,
	})
}

func (s *ModhostServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("database ping failed during readiness check")
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database connection failed",
		})
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}
