package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// AdminHandler serves the operational endpoints on the admin listener.
func (s *Server) AdminHandler() http.Handler {
	r := httprouter.New()
	r.GET("/healthz", s.handleLive)
	r.GET("/readyz", s.handleReady)
	r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	r.GET("/brands", s.handleBrands)
	r.GET("/aliases", s.handleAliases)
	r.GET("/decision", s.handleDecision)
	r.GET("/backends", s.handleBackends)
	r.GET("/rate-limits", s.handleRateLimits)
	r.GET("/reload/status", s.handleReloadStatus)
	r.POST("/reload", s.handleReload)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ready := s.checker.Ready()
	reasons := []string{}
	if !ready {
		reasons = append(reasons, "no healthy backend")
	}

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			ready = false
			reasons = append(reasons, "redis unavailable: "+err.Error())
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":   boolStatus(ready),
		"backends": s.checker.GetAllStatus(),
		"reasons":  reasons,
	})
}

func boolStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_ready"
}

func (s *Server) handleBrands(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.edge.Brands())
}

func (s *Server) handleAliases(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.edge.Aliases())
}

// handleDecision explains how a path would be routed:
// /decision?path=/abc/events&env=staging&host=...&brand=...
// Remaining query parameters are passed through as the request query.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path parameter is required"})
		return
	}
	host := q.Get("host")
	if host == "" {
		host = r.Host
	}
	envName := q.Get("env")
	q.Del("path")
	q.Del("host")
	q.Del("env")
	writeJSON(w, http.StatusOK, s.edge.Explain(path, q, envName, host, r.Header))
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":   s.checker.GetAllStatus(),
		"breakers": s.edge.BreakerStates(),
	})
}

func (s *Server) handleRateLimits(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	limits := s.edge.RateLimits()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": limits != nil,
		"brands":  limits,
	})
}

func (s *Server) handleReloadStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.ReloadHistory())
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	result := s.ReloadConfig()
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
