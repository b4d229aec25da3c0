package server

import (
	"encoding/json"
	"net/http"

	"proxypool/internal/config"
)

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

// updateSettings swaps the runtime configuration and persists it. Interval
// changes propagate to the check scheduler without a restart.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config.SetConfig(cfg)
	w.WriteHeader(http.StatusNoContent)
}
