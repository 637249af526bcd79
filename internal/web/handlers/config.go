package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-gate/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	IndexKind      string               `json:"index_kind"`
	Dimension      int                  `json:"dimension"`
	RecoveryPolicy string               `json:"recovery_policy"`
	GateEnabled    bool                 `json:"gate_enabled"`
	MirrorsEnabled bool                 `json:"mirrors_enabled"`
	Quality        config.QualityConfig `json:"quality"`
}

// Get returns the non-secret runtime configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		IndexKind:      h.config.Store.Kind,
		Dimension:      h.config.Store.Dim,
		RecoveryPolicy: h.config.Store.RecoveryPolicy,
		GateEnabled:    h.config.Gate.Addr != "",
		MirrorsEnabled: h.config.MirrorsEnabled(),
		Quality:        h.config.Quality,
	})
}
