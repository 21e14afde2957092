// Package store is the durable, single-writer persistence layer: servers,
// runs (server_sessions), auth sessions, backups and the settings bag.
// It is backed by xorm.io/xorm over a pure-Go modernc.org/sqlite connection.
package store

import (
	"fmt"

	"xorm.io/xorm"
	"xorm.io/xorm/names"

	_ "modernc.org/sqlite"
)

// defaultSettings is the static fallback chain settings.get(k) consults
// after a stored value is absent.
var defaultSettings = map[string]string{
	"host_domain":                "aypapol.com",
	"game_memory_limit_gb":       "6",
	"game_cpu_limit":             "3",
	"auto_stop_hours":            "0",
	"max_backups_per_server":     "5",
	"auto_backup_interval_hours": "0",
}

// Store wraps the xorm engine and exposes the prepared operations named in
// the spec: servers.*, runs.*, backups.*, settings.*.
type Store struct {
	engine *xorm.Engine
}

// Open connects to the sqlite database at path (created if absent) and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	engine, err := xorm.NewEngine("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	engine.SetMapper(names.SameMapper{})
	if err := engine.Sync2(new(Server), new(Run), new(AuthSession), new(Backup), new(Setting)); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("sync schema: %w", err)
	}
	return &Store{engine: engine}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.engine.Close()
}
