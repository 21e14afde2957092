package store

import "time"

// Server is a managed game server configuration. Mutated only while not
// running; deleted only while not running.
type Server struct {
	ID          string            `json:"id" xorm:"'id' pk notnull"`
	Name        string            `json:"name" xorm:"'name' notnull"`
	GameType    string            `json:"game_type" xorm:"'game_type'"`
	Image       string            `json:"image" xorm:"'image' notnull"`
	Port        uint16            `json:"port" xorm:"'port' notnull unique"`
	Env         map[string]string `json:"env" xorm:"'env' json"`
	Volumes     map[string]string `json:"volumes" xorm:"'volumes' json"`
	CreatedAt   int64             `json:"created_at" xorm:"'created_at' notnull"`
	BannerPath  string            `json:"banner_path" xorm:"'banner_path'"`
	AccentColor string            `json:"accent_color" xorm:"'accent_color'"`
}

func (Server) TableName() string { return "servers" }

// StopReason classifies why a Run ended.
type StopReason string

const (
	StopReasonUser     StopReason = "user"
	StopReasonCrash    StopReason = "crash"
	StopReasonReplaced StopReason = "replaced"
)

// Run (a.k.a. ServerSession) records one interval of a Server being live.
// At most one row with StoppedAt == 0 may exist across the whole table.
type Run struct {
	ID         int64  `json:"id" xorm:"'id' pk autoincr"`
	ServerID   string `json:"server_id" xorm:"'server_id' notnull index"`
	StartedAt  int64  `json:"started_at" xorm:"'started_at' notnull"`
	StoppedAt  int64  `json:"stopped_at" xorm:"'stopped_at'"`
	StopReason string `json:"stop_reason" xorm:"'stop_reason'"`
}

func (Run) TableName() string { return "server_sessions" }

// AuthSession is opaque to the core beyond token lookup and expiry.
type AuthSession struct {
	Token       string `json:"token" xorm:"'token' pk notnull"`
	PrincipalID string `json:"principal_id" xorm:"'principal_id' notnull"`
	DisplayName string `json:"display_name" xorm:"'display_name'"`
	AvatarRef   string `json:"avatar_ref" xorm:"'avatar_ref'"`
	ExpiresAt   int64  `json:"expires_at" xorm:"'expires_at' notnull"`
}

func (AuthSession) TableName() string { return "sessions" }

// Backup records one snapshot archive on disk under
// <BACKUP_ROOT>/<server_id>/<filename>.
type Backup struct {
	ID        int64  `json:"id" xorm:"'id' pk autoincr"`
	ServerID  string `json:"server_id" xorm:"'server_id' notnull index"`
	Filename  string `json:"filename" xorm:"'filename' notnull"`
	SizeBytes int64  `json:"size_bytes" xorm:"'size_bytes' notnull"`
	CreatedAt int64  `json:"created_at" xorm:"'created_at' notnull"`
}

func (Backup) TableName() string { return "backups" }

// SettingScope distinguishes the panel settings bag from the bot settings bag.
// Both share the settings table; the spec treats them as two keyed bags.
type SettingScope string

const (
	ScopePanel SettingScope = "panel"
	ScopeBot   SettingScope = "bot"
)

// Setting is one key/value row in the panel or bot configuration bag.
type Setting struct {
	Scope string `json:"scope" xorm:"'scope' pk notnull"`
	Key   string `json:"key" xorm:"'key' pk notnull"`
	Value string `json:"value" xorm:"'value'"`
}

func (Setting) TableName() string { return "settings" }

// Now is overridable in tests; production code always calls time.Now().UTC().
var Now = func() time.Time { return time.Now().UTC() }
