package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"proxypool/internal/api/dto"
	"proxypool/internal/domain"
	"proxypool/internal/registry"
)

const defaultPageSize = 100

func (s *Server) addProxy(w http.ResponseWriter, r *http.Request) {
	var req dto.AddProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	protocol, err := domain.ParseProtocol(req.Protocol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	proxy, err := domain.NewProxy(req.Host, req.Port, protocol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	proxy.Username = req.Username
	proxy.Password = req.Password
	proxy.Tags = domain.StringList(req.Tags)
	if req.MaxConcurrent > 0 {
		proxy.MaxConcurrent = req.MaxConcurrent
	}

	id, err := s.pool.AddProxy(proxy)
	if errors.Is(err, registry.ErrDuplicate) {
		writeJSON(w, http.StatusConflict, map[string]string{"id": id, "error": err.Error()})
		return
	}
	if err != nil {
		log.Error("Failed to add proxy", "error", err)
		writeError(w, "Failed to add proxy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) importProxies(w http.ResponseWriter, r *http.Request) {
	var req dto.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	protocol, err := domain.ParseProtocol(req.Protocol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.pool.Import(req.Text, protocol)
	log.Info("Proxy import finished",
		"added", len(result.Added), "duplicates", result.Duplicates, "rejected", result.Rejected)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Country: r.URL.Query().Get("country"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.IsValid() {
			writeError(w, "unknown status "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("protocol"); raw != "" {
		protocol, err := domain.ParseProtocol(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Protocol = protocol
	}

	limit := queryInt(r, "limit", defaultPageSize)
	offset := queryInt(r, "offset", 0)

	writeJSON(w, http.StatusOK, s.pool.List(filter, limit, offset))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pool.Describe(r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteProxy(w http.ResponseWriter, r *http.Request) {
	err := s.pool.RemoveProxy(r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("Failed to remove proxy", "error", err)
		writeError(w, "Failed to remove proxy", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testProxy(w http.ResponseWriter, r *http.Request) {
	result, err := s.pool.TestProxy(r.Context(), r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("Failed to test proxy", "error", err)
		writeError(w, "Failed to test proxy", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) disableProxy(w http.ResponseWriter, r *http.Request) {
	s.toggleProxy(w, r, s.pool.DisableProxy)
}

func (s *Server) enableProxy(w http.ResponseWriter, r *http.Request) {
	s.toggleProxy(w, r, s.pool.EnableProxy)
}

func (s *Server) toggleProxy(w http.ResponseWriter, r *http.Request, toggle func(string) error) {
	err := toggle(r.PathValue("id"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
