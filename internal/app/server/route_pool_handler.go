package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"proxypool/internal/api/dto"
	"proxypool/internal/domain"
	"proxypool/internal/pool"
)

func (s *Server) acquireProxy(w http.ResponseWriter, r *http.Request) {
	var req dto.AcquireRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	kind, err := domain.ParseStrategyKind(req.Strategy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	strategy := domain.SelectionStrategy{
		Kind:             kind,
		PreferredCountry: req.PreferredCountry,
		MinScore:         req.MinScore,
	}

	filters := pool.Filters{Country: req.Country, Tags: req.Tags}
	if req.Protocol != "" {
		protocol, err := domain.ParseProtocol(req.Protocol)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filters.Protocol = protocol
	}

	lease, proxy, err := s.pool.Acquire(filters, strategy)
	if errors.Is(err, pool.ErrNoAvailableProxy) {
		// Recoverable: the caller should back off and retry.
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Error("Failed to acquire proxy", "error", err)
		writeError(w, "Failed to acquire proxy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.LeaseInfo{
		LeaseId:   lease.ID,
		Proxy:     dto.ProxyInfoFrom(proxy),
		IssuedAt:  lease.IssuedAt,
		ExpiresAt: lease.ExpiresAt,
	})
}

func (s *Server) reportResult(w http.ResponseWriter, r *http.Request) {
	var req dto.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LeaseId == "" {
		writeError(w, "lease_id is required", http.StatusBadRequest)
		return
	}

	s.pool.Report(req.LeaseId, req.Success, int64(req.ResponseTimeMs), req.ErrorCode)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Statistics()
	if s.instances != nil {
		if count, err := s.instances(r.Context()); err != nil {
			log.Debug("Instance count unavailable", "error", err)
		} else {
			stats.Instances = count
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
