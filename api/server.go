// Package api provides the HTTP REST API server for moexbonds.
//
// It exposes the screened bond list, single bonds, feed refresh, user
// preferences, LLM analysis and a WebSocket feed of refresh events.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/app"
	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/datasource"
	"github.com/moexbonds/moexbonds/internal/llm"
	"github.com/moexbonds/moexbonds/internal/logging"
	"github.com/moexbonds/moexbonds/internal/screener"
	"github.com/moexbonds/moexbonds/internal/store"
	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	app     *app.App
	cfg     *config.Config
	wsHub   *WSHub
	cron    *cron.Cron
	version string
}

// NewServer creates a configured API server with all routes and middleware.
// Refresh outcomes are pushed to WebSocket clients.
func NewServer(a *app.App, version string) *Server {
	srv := &Server{
		app:     a,
		cfg:     a.Config,
		wsHub:   NewWSHub(),
		version: version,
	}
	a.Service.OnRefresh(srv.broadcastRefresh)
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server, the WebSocket hub and the refresh
// schedule, and shuts down gracefully on SIGINT/SIGTERM.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.wsHub.Run(ctx)

	if err := s.startSchedule(ctx); err != nil {
		return err
	}
	defer s.stopSchedule()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-done:
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return httpSrv.Shutdown(shutdownCtx)
}

// startSchedule registers the periodic refresh and runs the first one when
// configured to.
func (s *Server) startSchedule(ctx context.Context) error {
	if s.cfg.Refresh.OnStart {
		go s.refreshInBackground(ctx)
	}
	if s.cfg.Refresh.Schedule == "" {
		return nil
	}
	s.cron = cron.New(cron.WithLocation(utils.MSK))
	if _, err := s.cron.AddFunc(s.cfg.Refresh.Schedule, func() { s.refreshInBackground(ctx) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", s.cfg.Refresh.Schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.cfg.Refresh.Schedule).Msg("feed refresh scheduled")
	return nil
}

func (s *Server) stopSchedule() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Server) refreshInBackground(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	// Failures reach clients through the refresh listener.
	_, _ = s.app.Service.Refresh(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	if s.app.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Screener
		r.Get("/bonds", s.handleListBonds)
		r.Get("/bonds/{secid}", s.handleGetBond)
		r.Post("/refresh", s.handleRefresh)

		// Preferences
		r.Get("/favorites", s.handleListFavorites)
		r.Post("/favorites", s.handleAddFavorite)
		r.Delete("/favorites/{secid}", s.handleRemoveFavorite)
		r.Get("/presets", s.handleListPresets)
		r.Post("/presets", s.handleSavePreset)
		r.Delete("/presets/{id}", s.handleDeletePreset)
		r.Get("/macro", s.handleGetMacro)
		r.Put("/macro", s.handlePutMacro)

		// Analysis
		r.With(middleware.Timeout(3*time.Minute)).Post("/analyze", s.handleAnalyzeMarket)
		r.With(middleware.Timeout(3*time.Minute)).Post("/bonds/{secid}/analyze", s.handleAnalyzeBond)
		r.Get("/llm/models", s.handleListModels)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Retry   bool   `json:"retry,omitempty"` // the failure is transient; try again later
}

// FavoriteRequest is the body for POST /api/v1/favorites.
type FavoriteRequest struct {
	SecID string `json:"secid"`
}

// PresetRequest is the body for POST /api/v1/presets. Omitted filters or
// sort take the configured defaults.
type PresetRequest struct {
	ID      string               `json:"id,omitempty"`
	Name    string               `json:"name"`
	Filters *models.FilterConfig `json:"filters,omitempty"`
	Sort    *models.SortKey      `json:"sort,omitempty"`
}

// MacroRequest is the body for PUT /api/v1/macro.
type MacroRequest struct {
	KeyRate   float64 `json:"key_rate"`
	Inflation float64 `json:"inflation"`
	Date      string  `json:"date,omitempty"` // YYYY-MM-DD, default today
}

// AnalyzeRequest is the body for POST /api/v1/analyze. The bonds sent to
// the model are the ones passing Filters (or the preset's filters).
type AnalyzeRequest struct {
	Query   string               `json:"query,omitempty"`
	Model   string               `json:"model,omitempty"`
	Preset  string               `json:"preset,omitempty"`
	Filters *models.FilterConfig `json:"filters,omitempty"`
}

// AnalyzeBondRequest is the optional body for POST /api/v1/bonds/{secid}/analyze.
type AnalyzeBondRequest struct {
	Model string `json:"model,omitempty"`
}

// HealthStatus is returned by the health endpoints.
type HealthStatus struct {
	Status       string                `json:"status"`
	Version      string                `json:"version"`
	MarketStatus string                `json:"market_status"`
	TimeMSK      string                `json:"time_msk"`
	Snapshot     screener.SnapshotInfo `json:"snapshot"`
	SnapshotAge  float64               `json:"snapshot_age_sec,omitempty"`
	LLMEnabled   bool                  `json:"llm_enabled"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Service.Snapshot()
	h := HealthStatus{
		Status:       "ok",
		Version:      s.version,
		MarketStatus: utils.MarketStatus(),
		TimeMSK:      utils.FormatDateTimeMSK(utils.NowMSK()),
		Snapshot:     snap,
		LLMEnabled:   s.app.Router != nil,
	}
	if !snap.FetchedAt.IsZero() {
		h.SnapshotAge = time.Since(snap.FetchedAt).Seconds()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: h})
}

func (s *Server) handleListBonds(w http.ResponseWriter, r *http.Request) {
	base := s.defaultView()
	if name := r.URL.Query().Get("preset"); name != "" {
		p, err := s.app.Store.Preset(name)
		if err != nil {
			writeFailure(w, err)
			return
		}
		sess := screener.NewSession(base)
		sess.ApplyPreset(p)
		base = sess.State()
	}

	vs, err := parseViewState(r.URL.Query(), base)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ensureLoaded(w, r) {
		return
	}

	res := s.app.Service.View(vs, s.app.Favorites())
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

func (s *Server) handleGetBond(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLoaded(w, r) {
		return
	}
	rb, err := s.app.Service.Lookup(utils.NormalizeSecID(chi.URLParam(r, "secid")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rb})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	info, err := s.app.Service.ForceRefresh(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := s.app.Store.Favorites()
	if err != nil {
		writeFailure(w, err)
		return
	}
	list := make([]models.Bond, 0, len(favs))
	for _, b := range favs {
		list = append(list, b)
	}
	slices.SortFunc(list, func(a, b models.Bond) int { return strings.Compare(a.SecID, b.SecID) })
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req FavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	secid := utils.NormalizeSecID(req.SecID)
	if secid == "" {
		writeError(w, http.StatusBadRequest, "secid is required")
		return
	}
	if !s.ensureLoaded(w, r) {
		return
	}
	rb, err := s.app.Service.Lookup(secid)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.app.Store.AddFavorite(rb.Bond); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: rb.Bond})
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	secid := utils.NormalizeSecID(chi.URLParam(r, "secid"))
	if err := s.app.Store.RemoveFavorite(secid); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"removed": secid}})
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.app.Store.Presets()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if presets == nil {
		presets = []models.Preset{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: presets})
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	defaults := s.defaultView()
	p := models.Preset{ID: req.ID, Name: strings.TrimSpace(req.Name), Filters: defaults.Filters, Sort: defaults.Sort}
	if req.Filters != nil {
		p.Filters = *req.Filters
	}
	if req.Sort != nil {
		field, err := models.ParseSortField(string(req.Sort.Field))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		order, err := models.ParseSortOrder(string(req.Sort.Order))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.Sort = models.SortKey{Field: field, Order: order}
	}

	saved, err := s.app.Store.SavePreset(p)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: saved})
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.app.Store.DeletePreset(id); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"deleted": id}})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.app.Macro(r.Context())})
}

func (s *Server) handlePutMacro(w http.ResponseWriter, r *http.Request) {
	var req MacroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.KeyRate < 0 || req.KeyRate > 100 || req.Inflation < -50 || req.Inflation > 100 {
		writeError(w, http.StatusBadRequest, "key_rate or inflation out of range")
		return
	}

	m := models.MacroContext{
		KeyRate:   req.KeyRate,
		Inflation: req.Inflation,
		Date:      civil.DateOf(utils.NowMSK()),
		Source:    "manual",
	}
	if req.Date != "" {
		d, err := civil.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, use YYYY-MM-DD")
			return
		}
		m.Date = d
	}
	if err := s.app.Store.SaveMacro(m); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: m})
}

func (s *Server) handleAnalyzeMarket(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filters := s.defaultView().Filters
	switch {
	case req.Filters != nil:
		filters = *req.Filters
	case req.Preset != "":
		p, err := s.app.Store.Preset(req.Preset)
		if err != nil {
			writeFailure(w, err)
			return
		}
		filters = p.Filters
	}
	if !s.ensureLoaded(w, r) {
		return
	}

	bonds := s.app.Service.Filtered(filters, s.app.Favorites())
	analysis, err := s.app.Advisor.AnalyzeMarket(r.Context(), bonds, req.Query, req.Model)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: analysis})
}

func (s *Server) handleAnalyzeBond(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeBondRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.ensureLoaded(w, r) {
		return
	}
	rb, err := s.app.Service.Lookup(utils.NormalizeSecID(chi.URLParam(r, "secid")))
	if err != nil {
		writeFailure(w, err)
		return
	}

	seq := s.app.Service.Snapshot().Seq
	analysis, err := s.app.Advisor.AnalyzeBond(r.Context(), rb, s.app.Macro(r.Context()), req.Model, seq)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: analysis})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.app.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "model catalog not configured")
		return
	}
	list, err := s.app.Catalog.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if r.URL.Query().Get("free") == "true" {
		list = slices.DeleteFunc(slices.Clone(list), func(m llm.ModelInfo) bool { return !m.IsFree() })
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

// ensureLoaded makes sure a working set exists, writing the failure
// response when the first fetch fails.
func (s *Server) ensureLoaded(w http.ResponseWriter, r *http.Request) bool {
	if err := s.app.Service.EnsureLoaded(r.Context()); err != nil {
		writeFailure(w, err)
		return false
	}
	return true
}

// broadcastRefresh pushes refresh outcomes to WebSocket clients.
func (s *Server) broadcastRefresh(ev screener.RefreshEvent) {
	switch {
	case ev.Err != nil:
		s.wsHub.Broadcast(WSMessage{Type: "feed_error", Data: map[string]any{
			"error": ev.Err.Error(),
			"retry": datasource.IsFetchError(ev.Err),
		}})
	case ev.Discarded:
		// A newer snapshot is already committed and was announced.
	default:
		s.wsHub.Broadcast(WSMessage{Type: "feed_refreshed", Data: ev.Info})
	}
}

// ============================================================
// Helpers
// ============================================================

func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// writeFailure maps domain errors to HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case datasource.IsFetchError(err), errors.Is(err, datasource.ErrRateLimited):
		writeJSON(w, http.StatusBadGateway, APIResponse{Error: err.Error(), Retry: true})
	case errors.Is(err, screener.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrNoAPIKey):
		writeError(w, http.StatusServiceUnavailable, "LLM API key is not configured; set MOEXBONDS_LLM_OPENROUTER_KEY")
	case errors.Is(err, llm.ErrRateLimit):
		writeJSON(w, http.StatusTooManyRequests, APIResponse{Error: err.Error(), Retry: true})
	case errors.Is(err, llm.ErrProviderDown), errors.Is(err, llm.ErrInvalidModel),
		errors.Is(err, llm.ErrEmptyResponse), errors.Is(err, llm.ErrContextLength):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, APIResponse{Error: err.Error(), Retry: true})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
