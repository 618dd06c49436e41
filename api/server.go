/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP, RequestID: client address and per-request id
  2. requestLogger:     One structured log line per request
  3. Recoverer:         Panic recovery (500 instead of crash)
  4. Timeout:           Per-request deadline from config
  5. secure:            Security headers
  6. httprate:          Per-IP rate limit (disabled when 0)
  7. CORS:              Cross-origin requests
  8. Metrics:           Prometheus request counters/latency

ROUTE GROUPS:
  /api/clients/*    Client management
  /api/contracts/*  Contracts and their schedules
  /api/payments/*   Payment edits and recording
  /api/reports*     Delinquency reports (JSON, XLSX)
  /api/admin/*      Arrears batch
  /healthz          Liveness
  /metrics          Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/warp/installment-engine/config"
	"github.com/warp/installment-engine/observability"
)

// RouterOptions carries the optional pieces of the middleware stack.
type RouterOptions struct {
	Config  *config.Config
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	for _, mw := range middlewareStack(opts, logger) {
		r.Use(mw)
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
			r.Delete("/{id}", h.DeleteClient)
			r.Get("/{id}/contracts", h.ListClientContracts)
			r.Get("/{id}/payments", h.ListClientPayments)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Put("/{id}", h.UpdateContract)
			r.Delete("/{id}", h.DeleteContract)
			r.Get("/{id}/payments", h.ListContractPayments)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Get("/{id}", h.GetPayment)
			r.Put("/{id}", h.UpdatePayment)
			r.Post("/{id}/pay", h.RecordPayment)
		})

		r.Post("/reports", h.GenerateReport)
		r.Post("/reports/export", h.ExportReport)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/accrual", h.AccrualStatus)
			r.Post("/accrual", h.TriggerAccrual)
		})
	})

	return r
}

func middlewareStack(opts RouterOptions, logger *slog.Logger) []func(http.Handler) http.Handler {
	cfg := opts.Config

	timeout := 30 * time.Second
	origins := []string{"*"}
	rateLimit := 0
	if cfg != nil {
		if cfg.AppRequestTimeout > 0 {
			timeout = cfg.AppRequestTimeout
		}
		if len(cfg.CORSOrigins) > 0 {
			origins = cfg.CORSOrigins
		}
		rateLimit = cfg.RateLimitPerMinute
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.IsProduction(),
	})

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		requestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
	if rateLimit > 0 {
		middlewares = append(middlewares, httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	middlewares = append(middlewares, cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	if opts.Metrics != nil {
		middlewares = append(middlewares, opts.Metrics.Middleware)
	}
	return middlewares
}

// requestLogger logs method, path, status and latency through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
