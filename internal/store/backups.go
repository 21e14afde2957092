package store

import "fmt"

// ListBackups returns every Backup row for serverID, newest first.
func (s *Store) ListBackups(serverID string) ([]Backup, error) {
	var out []Backup
	if err := s.engine.Where("server_id = ?", serverID).Desc("created_at").Find(&out); err != nil {
		return nil, fmt.Errorf("list backups for %s: %w", serverID, err)
	}
	return out, nil
}

// ListAllBackups returns every Backup row across every server.
func (s *Store) ListAllBackups() ([]Backup, error) {
	var out []Backup
	if err := s.engine.Desc("created_at").Find(&out); err != nil {
		return nil, fmt.Errorf("list all backups: %w", err)
	}
	return out, nil
}

// CountBackups returns the number of Backup rows for serverID (I4).
func (s *Store) CountBackups(serverID string) (int64, error) {
	n, err := s.engine.Where("server_id = ?", serverID).Count(new(Backup))
	if err != nil {
		return 0, fmt.Errorf("count backups for %s: %w", serverID, err)
	}
	return n, nil
}

// OldestBackup returns the Backup row with the smallest created_at for
// serverID, used by retention pruning.
func (s *Store) OldestBackup(serverID string) (Backup, bool, error) {
	var rec Backup
	ok, err := s.engine.Where("server_id = ?", serverID).Asc("created_at").Get(&rec)
	if err != nil {
		return Backup{}, false, fmt.Errorf("oldest backup for %s: %w", serverID, err)
	}
	return rec, ok, nil
}

// NewestBackup returns the Backup row with the largest created_at for
// serverID, used by the auto-backup due check.
func (s *Store) NewestBackup(serverID string) (Backup, bool, error) {
	var rec Backup
	ok, err := s.engine.Where("server_id = ?", serverID).Desc("created_at").Get(&rec)
	if err != nil {
		return Backup{}, false, fmt.Errorf("newest backup for %s: %w", serverID, err)
	}
	return rec, ok, nil
}

// InsertBackup records a newly-created archive.
func (s *Store) InsertBackup(rec Backup) (Backup, error) {
	if _, err := s.engine.Insert(&rec); err != nil {
		return Backup{}, fmt.Errorf("insert backup for %s: %w", rec.ServerID, err)
	}
	return rec, nil
}

// GetBackupByID returns the Backup row, or ok=false if absent.
func (s *Store) GetBackupByID(id int64) (Backup, bool, error) {
	var rec Backup
	ok, err := s.engine.ID(id).Get(&rec)
	if err != nil {
		return Backup{}, false, fmt.Errorf("get backup %d: %w", id, err)
	}
	return rec, ok, nil
}

// DeleteBackupByID removes the DB row. The caller unlinks the file
// separately (orphan files are tolerated).
func (s *Store) DeleteBackupByID(id int64) error {
	if _, err := s.engine.ID(id).Delete(new(Backup)); err != nil {
		return fmt.Errorf("delete backup %d: %w", id, err)
	}
	return nil
}
