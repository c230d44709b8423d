package api

import (
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/logging"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// configMu serialises writes to the config file.
var configMu sync.Mutex

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config     *config.Config `json:"config"`
	ConfigFile string         `json:"config_file"` // path to the active config file
}

// handleGetConfig returns the running configuration. Secrets carry
// json:"-" tags and never leave the process.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	configMu.Lock()
	defer configMu.Unlock()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.cfg,
			ConfigFile: config.ConfigFilePath(),
		},
	})
}

// handleUpdateConfig merges the non-zero fields of a partial configuration
// into the running one and persists it. Only settings that take effect
// without a restart are accepted.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if f := incoming.Screener.Defaults.SortField; f != "" {
		if _, err := models.ParseSortField(f); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if o := incoming.Screener.Defaults.SortOrder; o != "" {
		if _, err := models.ParseSortOrder(o); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	configMu.Lock()
	defer configMu.Unlock()

	mergeConfig(s.cfg, &incoming)
	if incoming.Logging.Level != "" {
		logging.Setup(s.cfg.Logging)
	}

	cfgPath := config.ConfigFilePath()
	if err := config.SaveToFile(s.cfg, cfgPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.cfg,
			ConfigFile: cfgPath,
		},
	})
}

// defaultView is the configured initial view.
func (s *Server) defaultView() models.ViewState {
	configMu.Lock()
	defer configMu.Unlock()
	return s.cfg.Screener.Defaults.ViewState()
}

// handleGetConfigKeys returns the masked status of every API key.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.cfg),
	})
}

// mergeConfig copies non-zero values from src into dst.
func mergeConfig(dst, src *config.Config) {
	// Screener defaults
	d, sd := &dst.Screener.Defaults, src.Screener.Defaults
	if sd.MinYield != 0 {
		d.MinYield = sd.MinYield
	}
	if sd.MaxPrice != 0 {
		d.MaxPrice = sd.MaxPrice
	}
	if sd.MinVolume != 0 {
		d.MinVolume = sd.MinVolume
	}
	if sd.MaxDurationDays != 0 {
		d.MaxDurationDays = sd.MaxDurationDays
	}
	if sd.SortField != "" {
		d.SortField = sd.SortField
	}
	if sd.SortOrder != "" {
		d.SortOrder = sd.SortOrder
	}
	if sd.PageSize != 0 {
		d.PageSize = sd.PageSize
	}

	// Macro
	if src.Macro.KeyRate != 0 {
		dst.Macro.KeyRate = src.Macro.KeyRate
	}
	if src.Macro.Inflation != 0 {
		dst.Macro.Inflation = src.Macro.Inflation
	}

	// Logging
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}
