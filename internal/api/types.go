package api

import "github.com/gamepanel/control-plane/internal/store"

// ErrorEnvelope is the JSON shape of every non-2xx response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ServiceHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type HealthStatusResponse struct {
	Status         string          `json:"status"`
	BackendUptime  int64           `json:"backendUptime"`
	Services       []ServiceHealth `json:"services"`
	ActiveGame     string          `json:"activeGame,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

// ServerSummary is the list-view payload for GET /servers.
type ServerSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GameType string `json:"game_type"`
	Port     uint16 `json:"port"`
	Status   string `json:"status"`
}

func toServerSummary(rec store.Server, status string) ServerSummary {
	return ServerSummary{ID: rec.ID, Name: rec.Name, GameType: rec.GameType, Port: rec.Port, Status: status}
}

type CatalogEntry struct {
	TemplateID  string `json:"template_id"`
	Name        string `json:"name"`
	GameType    string `json:"game_type"`
	Image       string `json:"image"`
	DefaultPort uint16 `json:"default_port"`
}

type CreateServerRequest struct {
	TemplateID string            `json:"template_id"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Image      string            `json:"docker_image"`
	Port       uint16            `json:"port"`
	Env        map[string]string `json:"env_vars"`
	Volumes    map[string]string `json:"volumes"`
}

type StartStopResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type ServerConfigPayload struct {
	Image       string            `json:"docker_image"`
	Env         map[string]string `json:"env_vars"`
	AccentColor string            `json:"accent_color,omitempty"`
}

type HistoryEntry struct {
	ID              int64  `json:"id"`
	StartedAt       int64  `json:"started_at"`
	StoppedAt       int64  `json:"stopped_at"`
	DurationSeconds int64  `json:"duration_seconds"`
	StopReason      string `json:"stop_reason"`
}

func toHistoryEntry(run store.Run) HistoryEntry {
	duration := int64(0)
	if run.StoppedAt > 0 {
		duration = run.StoppedAt - run.StartedAt
	}
	return HistoryEntry{
		ID:              run.ID,
		StartedAt:       run.StartedAt,
		StoppedAt:       run.StoppedAt,
		DurationSeconds: duration,
		StopReason:      run.StopReason,
	}
}

type BackupPayload struct {
	ID        int64  `json:"id"`
	ServerID  string `json:"server_id"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"`
}

func toBackupPayload(rec store.Backup) BackupPayload {
	return BackupPayload{ID: rec.ID, ServerID: rec.ServerID, Filename: rec.Filename, SizeBytes: rec.SizeBytes, CreatedAt: rec.CreatedAt}
}

type BackupListResponse struct {
	OK      bool            `json:"ok"`
	Backups []BackupPayload `json:"backups"`
}

type SettingsResponse struct {
	OK       bool              `json:"ok"`
	Settings map[string]string `json:"settings"`
}

type NotifyErrorRequest struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	URL       string `json:"url,omitempty"`
	Component string `json:"component,omitempty"`
}

type NotifyErrorResponse struct {
	OK   bool `json:"ok"`
	Sent bool `json:"sent"`
}

type logLineEvent struct {
	Text string `json:"text"`
}
