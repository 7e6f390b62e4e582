package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/services"
)

// ServerConfig tunes the API server.
type ServerConfig struct {
	Addr             string
	SummaryCacheSize int
	SummaryCacheTTL  time.Duration
	// MutationsPerMinute limits POST/PUT/DELETE requests per client.
	MutationsPerMinute int
}

// DefaultServerConfig mirrors the configuration defaults.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:               addr,
		SummaryCacheSize:   128,
		SummaryCacheTTL:    5 * time.Minute,
		MutationsPerMinute: 60,
	}
}

type appMetrics struct {
	uptime      time.Time
	mutations   int64
	cacheHits   int64
	cacheMisses int64
}

// Server is the JSON API over a LedgerService.
type Server struct {
	http.Server
	ledger *services.LedgerService
	logger *log.Logger

	summaryCache     *cache.LRUCache[core.PeriodSummary]
	cacheManager     *cache.Manager
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg ServerConfig, ledger *services.LedgerService) *Server {
	logger := log.FromDefault(log.ComponentHTTP)
	mux := http.NewServeMux()

	s := &Server{
		ledger:           ledger,
		logger:           logger,
		summaryCache:     cache.NewLRUCache[core.PeriodSummary](cfg.SummaryCacheSize, cfg.SummaryCacheTTL),
		cacheManager:     cache.NewManager(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.MutationsPerMinute}),
		securityDetector: security.NewDetector(),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.securityDetector.ExtractClientIP)

	if cfg.SummaryCacheTTL > 0 {
		s.cacheManager.Register(s.summaryCache)
		s.cacheManager.StartCleanup(cfg.SummaryCacheTTL)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/periods", s.handleListPeriods)
	mux.HandleFunc("GET /api/periods/{period}/entries", s.handleListEntries)
	mux.HandleFunc("GET /api/periods/{period}/summary", s.handleSummary)
	mux.HandleFunc("POST /api/periods/{period}/replicate", s.mutation(s.handleReplicate))
	mux.HandleFunc("POST /api/periods/{period}/clone", s.mutation(s.handleClone))

	mux.HandleFunc("POST /api/entries", s.mutation(s.handleCreateEntry))
	mux.HandleFunc("PUT /api/entries/{id}", s.mutation(s.handleUpdateEntry))
	mux.HandleFunc("DELETE /api/entries/{id}", s.mutation(s.handleDeleteEntry))
	mux.HandleFunc("POST /api/entries/settle", s.mutation(s.handleSettleEntries))
	mux.HandleFunc("POST /api/entries/delete", s.mutation(s.handleDeleteEntries))

	mux.HandleFunc("POST /api/cascade", s.mutation(s.handleCascade))
	mux.HandleFunc("POST /api/cascade/resume", s.mutation(s.handleResumeCascades))

	mux.HandleFunc("GET /api/groups", s.handleListGroups)
	mux.HandleFunc("POST /api/groups", s.mutation(s.handleAddGroup))
	mux.HandleFunc("DELETE /api/groups/{name}", s.mutation(s.handleDeleteGroup))

	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	}, http.MethodPost, http.MethodPut, http.MethodDelete)

	var handler http.Handler = mux
	handler = limited(handler)
	handler = s.withDetection(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// withDetection logs requests that look like scans; they are still served.
func (s *Server) withDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.securityDetector.ExtractClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

// mutation purges the summary cache after a ledger write. A cascade can
// touch any later period, so single-key invalidation is not enough.
func (s *Server) mutation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			s.summaryCache.Purge()
			atomic.AddInt64(&s.appMetrics.mutations, 1)
		}()
		next(w, r)
	}
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func traceID(r *http.Request) string {
	return trace.GetRequestID(r.Context())
}
