package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guardianpath/internal/alerts"
	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
	"guardianpath/internal/monitor"
	"guardianpath/internal/registry"
)

type Server struct {
	cfg      *config.Manager
	monitor  *monitor.Monitor
	alerts   *alerts.Processor
	metrics  *metrics.Store
	registry *registry.Registry
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string         `json:"status"`
	Time       string         `json:"time"`
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path"`
	Monitor    monitor.Status `json:"monitor"`
	Stats      monitor.Stats  `json:"stats"`
	Ingest     ingestStatus   `json:"ingest"`
	API        apiStatus      `json:"api"`
	Simulate   bool           `json:"simulate"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
	Redis    bool `json:"redis"`
	Syslog   bool `json:"syslog"`
	TCP      bool `json:"tcp"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(cfg *config.Manager, mon *monitor.Monitor, processor *alerts.Processor, metricsStore *metrics.Store, reg *registry.Registry, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		monitor:  mon,
		alerts:   processor,
		metrics:  metricsStore,
		registry: reg,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/analyses", s.handleAnalyses)
	mux.HandleFunc("/behavior", s.handleBehavior)
	mux.HandleFunc("/behavior/", s.handleBehavior)
	mux.HandleFunc("/behavior/summary", s.handleBehaviorSummary)
	mux.HandleFunc("/identities/metrics", s.handleIdentityMetrics)
	mux.HandleFunc("/identities/metrics/", s.handleIdentityMetrics)
	mux.HandleFunc("/registry/locations", s.handleLocations)
	mux.HandleFunc("/registry/identities", s.handleIdentities)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/alerts/read", s.handleMarkRead)
	mux.HandleFunc("/alerts/read_all", s.handleMarkAllRead)
	mux.HandleFunc("/alerts/clear", s.handleClearAlerts)
	mux.HandleFunc("/alerts/test", s.handleTestAlert)
	mux.HandleFunc("/alerts/stream", s.handleStream)
	mux.HandleFunc("/config/thresholds", s.handleThresholds)
	mux.HandleFunc("/admin/refresh", s.handleRefresh)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Monitor:    s.monitor.Status(),
		Stats:      s.monitor.Snapshot().Stats,
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
			Redis:    cfg.Ingest.Redis.Enabled,
			Syslog:   cfg.Ingest.Syslog.Enabled,
			TCP:      cfg.Ingest.TCP.Enabled,
		},
		API:      apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Simulate: cfg.Monitor.Simulate.Enabled,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := s.monitor.Snapshot()
	status := model.TravelStatus(strings.ToLower(r.URL.Query().Get("status")))
	staff := r.URL.Query().Get("staff_id")
	limit := queryLimit(r)
	list := make([]model.TravelAnalysis, 0)
	for _, a := range snap.Analyses {
		if status != "" && a.Status != status {
			continue
		}
		if staff != "" && a.StaffID != staff {
			continue
		}
		list = append(list, a)
		if limit > 0 && len(list) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses":    list,
		"count":       len(list),
		"stats":       snap.Stats,
		"computed_at": snap.ComputedAt,
	})
}

func (s *Server) handleBehavior(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/behavior"), "/")
	if id != "" {
		p, ok := s.monitor.Pattern(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	risk := model.RiskLevel(strings.ToLower(r.URL.Query().Get("risk_level")))
	snap := s.monitor.Snapshot()
	list := make([]model.BehaviorPattern, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		if risk != "" && p.RiskLevel != risk {
			continue
		}
		list = append(list, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": list,
		"count":    len(list),
	})
}

func (s *Server) handleBehaviorSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Snapshot().Summary)
}

func (s *Server) handleIdentityMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/identities/metrics"), "/")
	if id != "" {
		m, ok := s.metrics.Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.registry.Locations()
	writeJSON(w, http.StatusOK, map[string]any{"locations": list, "count": len(list)})
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.registry.Identities()
	writeJSON(w, http.StatusOK, map[string]any{"identities": list, "count": len(list)})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.alerts.List(queryLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
		"unread": s.alerts.UnreadCount(),
		"state":  s.alerts.State(),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	updated := s.alerts.MarkAsRead(req.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
		"unread":  s.alerts.UnreadCount(),
	})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n := s.alerts.MarkAllAsRead()
	writeJSON(w, http.StatusOK, map[string]any{"updated": n, "unread": 0})
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Type model.AlertType `json:"type"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Type != "" && !alerts.ValidType(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown alert type")
		return
	}
	alert, err := s.alerts.TriggerTest(req.Type)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// handleThresholds reads or replaces the detection thresholds. POST bodies
// overlay the current values, so a partial object changes only its fields.
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"detection": s.cfg.Get().Detection})
	case http.MethodPost:
		next := s.cfg.Get().Detection
		if err := decodeBody(w, r, &next); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		updated, err := s.cfg.UpdateDetection(next)
		if err != nil {
			if errors.Is(err, config.ErrConfigOutOfRange) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if s.logger != nil {
				s.logger.Error("threshold update failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := s.monitor.UpdateConfig(updated); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if s.logger != nil {
			s.logger.Info("detection thresholds updated",
				"impossible_ratio", updated.Detection.ImpossibleTravelRatio,
				"suspicious_ratio", updated.Detection.SuspiciousTravelRatio,
				"max_speed_kmh", updated.Detection.MaxHumanSpeedKmh,
			)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "detection": updated.Detection})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := s.monitor.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"stats":      snap.Stats,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid reset request")
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.monitor.Reset()
		s.alerts.Clear()
	case "history", "monitor":
		s.monitor.Reset()
	case "alerts":
		s.alerts.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
