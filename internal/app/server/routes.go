package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxypool/internal/pool"
)

// Server exposes the pool over HTTP. Every handler is a thin translation
// layer; all behavior lives in the pool facade.
type Server struct {
	pool      *pool.Pool
	instances func(ctx context.Context) (int, error)
}

func NewServer(p *pool.Pool) *Server {
	return &Server{pool: p}
}

// WithInstanceCounter adds a fleet size readout to the statistics endpoint.
// Only meaningful when probe work is shared across instances.
func (s *Server) WithInstanceCounter(counter func(ctx context.Context) (int, error)) *Server {
	s.instances = counter
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Routes builds the full API surface.
func (s *Server) Routes() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("POST /pool/acquire", s.acquireProxy)
	router.HandleFunc("POST /pool/report", s.reportResult)

	router.HandleFunc("POST /proxies", s.addProxy)
	router.HandleFunc("POST /proxies/import", s.importProxies)
	router.HandleFunc("GET /proxies", s.listProxies)
	router.HandleFunc("GET /proxies/{id}", s.getProxy)
	router.HandleFunc("DELETE /proxies/{id}", s.deleteProxy)
	router.HandleFunc("POST /proxies/{id}/test", s.testProxy)
	router.HandleFunc("POST /proxies/{id}/disable", s.disableProxy)
	router.HandleFunc("POST /proxies/{id}/enable", s.enableProxy)

	router.HandleFunc("GET /settings", s.getSettings)
	router.HandleFunc("PUT /settings", s.updateSettings)

	router.HandleFunc("GET /statistics", s.getStatistics)
	router.Handle("GET /metrics", promhttp.Handler())

	return enableCORS(router)
}

// OpenRoutes serves the API until the listener fails.
func (s *Server) OpenRoutes(port int) error {
	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Routes(),
	}

	log.Infof("Starting proxy pool API on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
