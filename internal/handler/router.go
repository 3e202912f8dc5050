package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"quota-service/internal/config"
	"quota-service/internal/ratelimit"
	"quota-service/internal/util"
)

// NewRouter configures the Chi router: middleware stack, quota-protected API
// routes and the admin subtree. Route policies are built once here, at
// startup.
func NewRouter(cfg *config.Config, engine *ratelimit.Engine, admin *AdminHandler, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"quota-service"}`))
	})

	// Tier-aware policy for the regular API surface; IP-keyed policy for
	// endpoints that must stay strict regardless of who is calling.
	tierPolicy := Policy{
		Strategy:   StrategyTier,
		TierLimits: cfg.RateLimit.TierLimits,
		Default:    cfg.RateLimit.Default,
		Anonymous:  cfg.RateLimit.Anonymous,
	}
	ipPolicy := Policy{
		Strategy:  StrategyIP,
		Anonymous: cfg.RateLimit.Anonymous,
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.RateLimit.Enabled {
				r.Use(RateLimit(engine, tierPolicy, logger))
			}
			r.Post("/extract", acceptedHandler)
		})

		r.Group(func(r chi.Router) {
			if cfg.RateLimit.Enabled {
				r.Use(RateLimit(engine, ipPolicy, logger))
			}
			r.Post("/auth/login", acceptedHandler)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		admin.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// acceptedHandler stands in for the downstream business handlers; request
// routing and the extraction engine live outside this service's scope.
func acceptedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"accepted"}`))
}

// LoggerMiddleware logs every HTTP request with latency and status.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
