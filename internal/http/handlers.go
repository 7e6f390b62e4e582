package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.ledger == nil {
		checks["storage"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else if _, err := s.ledger.ListGroups(ctx); err != nil {
		checks["storage"] = fmt.Sprintf("failed: %v", err)
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	checks["cache"] = map[string]any{
		"summary_entries": s.summaryCache.Size(),
		"status":          "ok",
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewJSONResponse().Status(httpStatus).Data(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	fmt.Fprintf(w, "# HELP saldo_uptime_seconds Process uptime\n")
	fmt.Fprintf(w, "saldo_uptime_seconds %d\n", int64(time.Since(s.appMetrics.uptime).Seconds()))
	fmt.Fprintf(w, "# HELP saldo_http_requests_total Requests served\n")
	fmt.Fprintf(w, "saldo_http_requests_total %d\n", traceMetrics.TotalRequests)
	fmt.Fprintf(w, "saldo_http_errors_total %d\n", traceMetrics.TotalErrors)
	fmt.Fprintf(w, "saldo_http_response_time_avg_us %d\n", traceMetrics.AverageResponseTime)
	fmt.Fprintf(w, "# HELP saldo_ledger_mutations_total Mutating API calls\n")
	fmt.Fprintf(w, "saldo_ledger_mutations_total %d\n", atomic.LoadInt64(&s.appMetrics.mutations))
	fmt.Fprintf(w, "# HELP saldo_summary_cache Summary cache statistics\n")
	fmt.Fprintf(w, "saldo_summary_cache_hits_total %d\n", atomic.LoadInt64(&s.appMetrics.cacheHits))
	fmt.Fprintf(w, "saldo_summary_cache_misses_total %d\n", atomic.LoadInt64(&s.appMetrics.cacheMisses))
	fmt.Fprintf(w, "saldo_summary_cache_entries %d\n", s.summaryCache.Size())
	fmt.Fprintf(w, "# HELP saldo_security Security events\n")
	fmt.Fprintf(w, "saldo_rate_limit_hits_total %d\n", rateLimitMetrics.TotalHits)
	fmt.Fprintf(w, "saldo_rate_limit_clients %d\n", rateLimitMetrics.ClientCount)
	fmt.Fprintf(w, "saldo_suspicious_requests_total %d\n", securityMetrics.SuspiciousRequests)
	fmt.Fprintf(w, "saldo_invalid_ip_attempts_total %d\n", securityMetrics.InvalidIPAttempts)
}
