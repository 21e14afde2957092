package store

import "fmt"

// StartRun opens a new Run for serverID at startedAt. The caller (Scheduler)
// is responsible for ensuring no other open Run exists anywhere in the
// table at the moment this is called (I2).
func (s *Store) StartRun(serverID string, startedAt int64) (Run, error) {
	rec := Run{ServerID: serverID, StartedAt: startedAt}
	if _, err := s.engine.Insert(&rec); err != nil {
		return Run{}, fmt.Errorf("start run for %s: %w", serverID, err)
	}
	return rec, nil
}

// StopOpenRun closes the open Run (StoppedAt == 0) for serverID, if any,
// recording stoppedAt and reason. Returns ok=false if no open run existed.
func (s *Store) StopOpenRun(serverID string, stoppedAt int64, reason StopReason) (bool, error) {
	var rec Run
	ok, err := s.engine.Where("server_id = ? AND stopped_at = 0", serverID).Get(&rec)
	if err != nil {
		return false, fmt.Errorf("find open run for %s: %w", serverID, err)
	}
	if !ok {
		return false, nil
	}
	rec.StoppedAt = stoppedAt
	rec.StopReason = string(reason)
	if _, err := s.engine.ID(rec.ID).Cols("stopped_at", "stop_reason").Update(&rec); err != nil {
		return false, fmt.Errorf("close run %d: %w", rec.ID, err)
	}
	return true, nil
}

// OpenRunForServer returns the currently-open Run for serverID, if any.
func (s *Store) OpenRunForServer(serverID string) (Run, bool, error) {
	var rec Run
	ok, err := s.engine.Where("server_id = ? AND stopped_at = 0", serverID).Get(&rec)
	if err != nil {
		return Run{}, false, fmt.Errorf("find open run for %s: %w", serverID, err)
	}
	return rec, ok, nil
}

// AnyOpenRun returns the single open Run across the whole table, if any.
// Used to verify I2 and to report the running server (health, server list,
// auto-stop and auto-backup).
func (s *Store) AnyOpenRun() (Run, bool, error) {
	var rec Run
	ok, err := s.engine.Where("stopped_at = 0").Get(&rec)
	if err != nil {
		return Run{}, false, fmt.Errorf("find any open run: %w", err)
	}
	return rec, ok, nil
}

// RunHistory returns every Run for serverID, newest first.
func (s *Store) RunHistory(serverID string) ([]Run, error) {
	var out []Run
	if err := s.engine.Where("server_id = ?", serverID).Desc("started_at").Find(&out); err != nil {
		return nil, fmt.Errorf("run history for %s: %w", serverID, err)
	}
	return out, nil
}

// DeleteRunsByServer removes every Run row for serverID. Called from
// Server delete; it never cascades to Backups.
func (s *Store) DeleteRunsByServer(serverID string) error {
	if _, err := s.engine.Where("server_id = ?", serverID).Delete(new(Run)); err != nil {
		return fmt.Errorf("delete runs for %s: %w", serverID, err)
	}
	return nil
}
