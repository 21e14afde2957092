// Package api implements the Control Plane API (C6): the HTTP surface a
// panel frontend and the bot speak to reach the Store, Scheduler, Backup
// Engine and Telemetry Fabric.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gamepanel/control-plane/internal/auth"
	"github.com/gamepanel/control-plane/internal/config"
	"github.com/gamepanel/control-plane/internal/metrics"
	"github.com/gamepanel/control-plane/internal/notifier"
	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/scheduler"
	"github.com/gamepanel/control-plane/internal/store"
	"github.com/gamepanel/control-plane/internal/telemetry"
)

const maxBannerBytes = 5 * 1024 * 1024

// Scheduler is the subset of the Scheduler (C4) surface the API drives.
type Scheduler interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// BackupEngine is the subset of the Backup Engine (C5) surface the API drives.
type BackupEngine interface {
	Create(ctx context.Context, serverID string) (store.Backup, error)
	Restore(ctx context.Context, serverID string, backupID int64) error
	Delete(serverID string, backupID int64) error
}

// NotifierSink is the error-reporting half of the Notifier (C7) surface.
type NotifierSink interface {
	Error(payload notifier.ErrorPayload)
}

type Server struct {
	cfg       config.Config
	store     *store.Store
	sched     Scheduler
	backups   BackupEngine
	rt        runtime.Runtime
	notif     NotifierSink
	authz     *auth.Resolver
	metrics   *metrics.Registry
	logger    *slog.Logger
	startedAt time.Time
}

func New(cfg config.Config, st *store.Store, sched Scheduler, backups BackupEngine, rt runtime.Runtime, notif NotifierSink, authz *auth.Resolver, reg *metrics.Registry, logger *slog.Logger) *Server {
	return &Server{
		cfg: cfg, store: st, sched: sched, backups: backups, rt: rt,
		notif: notif, authz: authz, metrics: reg, logger: logger, startedAt: time.Now().UTC(),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/health", auth.Open(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/health/status", auth.Open(http.HandlerFunc(s.handleHealthStatus)))
	mux.Handle("/api/servers", auth.Open(http.HandlerFunc(s.handleServersRoot)))
	mux.Handle("/api/servers/catalog", auth.Open(http.HandlerFunc(s.handleCatalog)))
	mux.Handle("/api/servers/", http.HandlerFunc(s.handleServerSubroute))
	mux.Handle("/api/settings", http.HandlerFunc(s.handleSettingsRoot))
	mux.Handle("/api/bot/settings", s.authz.RequireUser(http.HandlerFunc(s.handleBotSettings)))
	mux.Handle("/api/bot/channels", s.authz.RequireUser(http.HandlerFunc(s.handleBotChannels)))
	mux.Handle("/api/notifications/error", s.authz.RequireUser(http.HandlerFunc(s.handleNotifyError)))
	mux.Handle("/api/services/", s.authz.RequireUser(http.HandlerFunc(s.handleServicesSubroute)))
	mux.Handle(s.cfg.Observability.MetricsPath, auth.Open(s.metrics.Handler()))

	return mux
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	status := "operational"
	services := []ServiceHealth{}
	if containers, err := s.rt.ListContainers(r.Context(), true); err == nil {
		for _, c := range containers {
			if _, isOrch := c.Labels[s.cfg.Runtime.OrchestrationProject+".service"]; !isOrch {
				continue
			}
			svcStatus := "down"
			if c.State == "running" {
				svcStatus = "up"
			} else {
				status = "degraded"
			}
			services = append(services, ServiceHealth{Name: c.Name, Status: svcStatus})
		}
	} else {
		status = "degraded"
	}

	activeGame := ""
	if run, ok, err := s.store.AnyOpenRun(); err == nil && ok {
		activeGame = run.ServerID
	}

	writeJSON(w, http.StatusOK, HealthStatusResponse{
		Status:        status,
		BackendUptime: int64(time.Since(s.startedAt).Seconds()),
		Services:      services,
		ActiveGame:    activeGame,
		Timestamp:     store.Now().Unix(),
	})
}

// --- servers: list/create/catalog ---

func (s *Server) handleServersRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listServers(w, r)
	case http.MethodPost:
		s.authz.RequireUser(http.HandlerFunc(s.createServer)).ServeHTTP(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	all, err := s.store.GetAllServers()
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	activeID := ""
	if run, ok, err := s.store.AnyOpenRun(); err == nil && ok {
		activeID = run.ServerID
	}
	out := make([]ServerSummary, 0, len(all))
	for _, rec := range all {
		if search != "" && !containsFold(rec.Name, search) && !containsFold(rec.ID, search) {
			continue
		}
		status := "stopped"
		if rec.ID == activeID {
			status = "running"
		}
		out = append(out, toServerSummary(rec, status))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	writeJSON(w, http.StatusOK, filterCatalog(r.URL.Query().Get("search")))
}

func (s *Server) createServer(w http.ResponseWriter, r *http.Request) {
	var req CreateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Body must be a JSON object.", nil)
		return
	}
	if req.TemplateID != "" {
		for _, entry := range catalog {
			if entry.TemplateID == req.TemplateID {
				if req.Image == "" {
					req.Image = entry.Image
				}
				if req.Port == 0 {
					req.Port = entry.DefaultPort
				}
				break
			}
		}
	}
	if !validServerID(req.ID) || req.Name == "" || req.Image == "" || req.Port == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "Missing or invalid required fields.", map[string]any{
			"required": []string{"id", "name", "docker_image", "port"},
		})
		return
	}

	if _, ok, err := s.store.GetServerByID(req.ID); err != nil {
		s.writeDomainErr(w, err)
		return
	} else if ok {
		writeError(w, http.StatusConflict, "conflict", "A server with this id already exists.", nil)
		return
	}
	if _, ok, err := s.store.GetServerByPort(req.Port); err != nil {
		s.writeDomainErr(w, err)
		return
	} else if ok {
		writeError(w, http.StatusConflict, "conflict", "Port already in use.", nil)
		return
	}

	gameType := ""
	for _, entry := range catalog {
		if entry.TemplateID == req.TemplateID {
			gameType = entry.GameType
			break
		}
	}
	rec := store.Server{
		ID: req.ID, Name: req.Name, GameType: gameType, Image: req.Image, Port: req.Port,
		Env: req.Env, Volumes: req.Volumes, CreatedAt: store.Now().Unix(),
	}
	if err := s.store.InsertServer(rec); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OKResponse{OK: true})
}

// --- servers/:id subtree ---

func (s *Server) handleServerSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/servers/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "Server not found.", nil)
		return
	}
	tail := parts[1:]

	switch {
	case len(tail) == 0:
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.deleteServer(w, r, id) })).ServeHTTP(w, r)
	case len(tail) == 1 && (tail[0] == "start" || tail[0] == "stop"):
		s.authz.RequireEither(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.startStopServer(w, r, id, tail[0] == "start") })).ServeHTTP(w, r)
	case len(tail) == 1 && tail[0] == "logs":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.streamLogs(w, r, id) })).ServeHTTP(w, r)
	case len(tail) == 1 && tail[0] == "stats":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.streamStats(w, r, id) })).ServeHTTP(w, r)
	case len(tail) == 1 && tail[0] == "config":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.serverConfig(w, r, id) })).ServeHTTP(w, r)
	case len(tail) == 1 && tail[0] == "history":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.serverHistory(w, r, id) })).ServeHTTP(w, r)
	case len(tail) == 1 && tail[0] == "banner":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.uploadBanner(w, r, id) })).ServeHTTP(w, r)
	case tail[0] == "backups":
		s.authz.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.handleBackups(w, r, id, tail[1:]) })).ServeHTTP(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found.", nil)
	}
}

func (s *Server) deleteServer(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if err := s.sched.Delete(r.Context(), id); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) startStopServer(w http.ResponseWriter, r *http.Request, id string, start bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	var err error
	if start {
		err = s.sched.Start(r.Context(), id)
	} else {
		err = s.sched.Stop(r.Context(), id)
	}
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if s.metrics != nil {
		if start {
			s.metrics.IncServerStart()
		} else {
			s.metrics.IncServerStop()
		}
	}
	msg := "Server stopped."
	if start {
		msg = "Server started."
	}
	writeJSON(w, http.StatusOK, StartStopResponse{OK: true, Message: msg})
}

func (s *Server) serverConfig(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok, err := s.store.GetServerByID(id)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Server not found.", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ServerConfigPayload{Image: rec.Image, Env: rec.Env, AccentColor: rec.AccentColor})
	case http.MethodPut:
		name := s.cfg.Runtime.ManagedNamePrefix + id
		if insp, err := s.rt.Inspect(r.Context(), name); err == nil && insp.Running {
			s.writeDomainErr(w, scheduler.ErrRunning)
			return
		}
		var req ServerConfigPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Body must be a JSON object.", nil)
			return
		}
		if req.Image != "" {
			rec.Image = req.Image
		}
		if req.Env != nil {
			rec.Env = req.Env
		}
		if req.AccentColor != "" {
			rec.AccentColor = req.AccentColor
		}
		if err := s.store.UpdateServer(rec); err != nil {
			s.writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) serverHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	runs, err := s.store.RunHistory(id)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	out := make([]HistoryEntry, 0, len(runs))
	for _, run := range runs {
		out = append(out, toHistoryEntry(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) uploadBanner(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if _, ok, err := s.store.GetServerByID(id); err != nil {
		s.writeDomainErr(w, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Server not found.", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBannerBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Unable to read upload.", nil)
		return
	}
	if len(body) > maxBannerBytes {
		writeError(w, http.StatusBadRequest, "validation_failed", "Banner exceeds the 5 MiB limit.", nil)
		return
	}
	ext, ok := bannerExtFor(http.DetectContentType(body))
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "Banner must be JPEG, PNG, or WebP.", nil)
		return
	}

	dir := filepath.Join(s.cfg.Storage.DataDir, "banners")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	path := filepath.Join(dir, id+ext)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if err := s.store.UpdateServerTheme(id, path, ""); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func bannerExtFor(mimeType string) (string, bool) {
	switch mimeType {
	case "image/jpeg":
		return ".jpg", true
	case "image/png":
		return ".png", true
	case "image/webp":
		return ".webp", true
	default:
		return "", false
	}
}

// --- backups ---

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request, id string, tail []string) {
	switch {
	case len(tail) == 0:
		s.backupsRoot(w, r, id)
	case len(tail) == 1:
		s.deleteBackup(w, r, id, tail[0])
	case len(tail) == 2 && tail[1] == "restore":
		s.restoreBackup(w, r, id, tail[0])
	case len(tail) == 2 && tail[1] == "download":
		s.downloadBackup(w, r, id, tail[0])
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found.", nil)
	}
}

func (s *Server) backupsRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		recs, err := s.store.ListBackups(id)
		if err != nil {
			s.writeDomainErr(w, err)
			return
		}
		out := make([]BackupPayload, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toBackupPayload(rec))
		}
		writeJSON(w, http.StatusOK, BackupListResponse{OK: true, Backups: out})
	case http.MethodPost:
		rec, err := s.backups.Create(r.Context(), id)
		if err != nil {
			s.writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBackupPayload(rec))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request, id, bidStr string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	bid, err := strconv.ParseInt(bidStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid backup id.", nil)
		return
	}
	if err := s.backups.Delete(id, bid); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request, id, bidStr string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	bid, err := strconv.ParseInt(bidStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid backup id.", nil)
		return
	}
	if err := s.backups.Restore(r.Context(), id, bid); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) downloadBackup(w http.ResponseWriter, r *http.Request, id, bidStr string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	bid, err := strconv.ParseInt(bidStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid backup id.", nil)
		return
	}
	rec, ok, err := s.store.GetBackupByID(bid)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if !ok || rec.ServerID != id {
		writeError(w, http.StatusNotFound, "not_found", "Backup not found.", nil)
		return
	}
	path := filepath.Join(s.cfg.Backup.Root, id, rec.Filename)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Backup file not found.", nil)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rec.Filename))
	_, _ = io.Copy(w, f)
}

// --- settings ---

func (s *Server) handleSettingsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.authz.RequireEither(http.HandlerFunc(s.getPanelSettings)).ServeHTTP(w, r)
	case http.MethodPut:
		s.authz.RequireUser(http.HandlerFunc(s.putPanelSettings)).ServeHTTP(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) getPanelSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetAllSettings(store.ScopePanel)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{OK: true, Settings: settings})
}

func (s *Server) putPanelSettings(w http.ResponseWriter, r *http.Request) {
	s.putSettings(w, r, store.ScopePanel)
}

func (s *Server) handleBotSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.GetAllSettings(store.ScopeBot)
		if err != nil {
			s.writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SettingsResponse{OK: true, Settings: settings})
	case http.MethodPut:
		s.putSettings(w, r, store.ScopeBot)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
	}
}

func (s *Server) handleBotChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	settings, err := s.store.GetAllSettings(store.ScopeBot)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	channels := map[string]string{}
	for _, key := range []string{"allowed_channel_id", "errors_channel_id", "crashes_channel_id", "logs_channel_id"} {
		if v, ok := settings[key]; ok {
			channels[key] = v
		}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request, scope store.SettingScope) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Body must be a JSON object.", nil)
		return
	}
	for k, v := range body {
		if err := s.store.SetSetting(scope, k, v); err != nil {
			s.writeDomainErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// --- notifications ---

func (s *Server) handleNotifyError(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	var req NotifyErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Body requires a non-empty message.", nil)
		return
	}
	s.notif.Error(notifier.ErrorPayload{Message: req.Message, Stack: req.Stack, URL: req.URL, Component: req.Component})
	writeJSON(w, http.StatusOK, NotifyErrorResponse{OK: true, Sent: true})
}

// --- infrastructure services ---

func (s *Server) handleServicesSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/services/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	name := parts[0]
	tail := parts[1:]

	switch {
	case name == "stats" && len(tail) == 0:
		s.streamAggregateServiceStats(w, r)
	case name == "host" && len(tail) == 1 && tail[0] == "stats":
		s.streamHostStats(w, r)
	case len(tail) == 1 && tail[0] == "restart":
		s.restartService(w, r, name)
	case len(tail) == 1 && tail[0] == "logs":
		s.streamServiceLogs(w, r, name)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found.", nil)
	}
}

func (s *Server) restartService(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if err := s.rt.Restart(r.Context(), name, 10); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) infrastructureServiceNames(ctx context.Context) []string {
	containers, err := s.rt.ListContainers(ctx, false)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(containers))
	for _, c := range containers {
		if _, ok := c.Labels[s.cfg.Runtime.OrchestrationProject+".service"]; ok {
			out = append(out, c.Name)
		}
	}
	return out
}

// --- streaming endpoints ---

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// writeSSEStreamEnded emits the terminal record spec.md §7 requires when a
// producer's underlying engine stream breaks mid-read, so the client can
// tell a broken connection apart from a server-initiated close.
func writeSSEStreamEnded(w http.ResponseWriter, flusher http.Flusher) {
	if _, err := fmt.Fprint(w, "data: \"..stream ended..\"\n\n"); err != nil {
		return
	}
	flusher.Flush()
}

func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Streaming not supported.", nil)
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	name := s.cfg.Runtime.ManagedNamePrefix + id
	opener := func(ctx context.Context, n string) (io.ReadCloser, bool, error) { return s.rt.Logs(ctx, n, true, 500, true) }
	ch := telemetry.SubscribeLogs(r.Context(), opener, name)
	for line := range ch {
		if line.Err != nil {
			writeSSEStreamEnded(w, flusher)
			return
		}
		if !writeSSE(w, flusher, logLineEvent{Text: line.Text}) {
			return
		}
	}
}

func (s *Server) streamStats(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Streaming not supported.", nil)
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	name := s.cfg.Runtime.ManagedNamePrefix + id
	opener := func(ctx context.Context, n string) (io.ReadCloser, error) { return s.rt.Stats(ctx, n, true) }
	ch := telemetry.SubscribeStats(r.Context(), opener, name)
	for sample := range ch {
		if sample.Err != nil {
			writeSSEStreamEnded(w, flusher)
			return
		}
		if !writeSSE(w, flusher, sample) {
			return
		}
	}
}

func (s *Server) streamServiceLogs(w http.ResponseWriter, r *http.Request, name string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Streaming not supported.", nil)
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := telemetry.SubscribeLogs(r.Context(), s.rt.Logs, name)
	for line := range ch {
		if line.Err != nil {
			writeSSEStreamEnded(w, flusher)
			return
		}
		if !writeSSE(w, flusher, logLineEvent{Text: line.Text}) {
			return
		}
	}
}

func (s *Server) streamHostStats(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Streaming not supported.", nil)
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := telemetry.StreamHostStats(r.Context(), s.cfg.Storage.DataDir)
	for sample := range ch {
		if !writeSSE(w, flusher, sample) {
			return
		}
	}
}

func (s *Server) streamAggregateServiceStats(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "runtime_failed", "Streaming not supported.", nil)
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	services := s.infrastructureServiceNames(r.Context())
	opener := func(ctx context.Context, n string) (io.ReadCloser, error) { return s.rt.Stats(ctx, n, true) }
	ch := telemetry.SubscribeNamedStats(r.Context(), opener, services)
	for sample := range ch {
		if sample.Err != nil {
			writeSSEStreamEnded(w, flusher)
			return
		}
		if !writeSSE(w, flusher, sample) {
			return
		}
	}
}

func containsFold(haystack, needleLower string) bool {
	return strings.Contains(strings.ToLower(haystack), needleLower)
}
