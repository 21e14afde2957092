package store

import "fmt"

// GetAuthSession looks up a session by token. ok=false if absent or
// expired relative to nowUnix.
func (s *Store) GetAuthSession(token string, nowUnix int64) (AuthSession, bool, error) {
	var rec AuthSession
	ok, err := s.engine.ID(token).Get(&rec)
	if err != nil {
		return AuthSession{}, false, fmt.Errorf("get session: %w", err)
	}
	if !ok || rec.ExpiresAt <= nowUnix {
		return AuthSession{}, false, nil
	}
	return rec, true, nil
}

// UpsertAuthSession creates or refreshes a session row.
func (s *Store) UpsertAuthSession(rec AuthSession) error {
	affected, err := s.engine.ID(rec.Token).Update(&rec)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		if _, err := s.engine.Insert(&rec); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}
	return nil
}

// DeleteAuthSession removes a session row (logout).
func (s *Store) DeleteAuthSession(token string) error {
	if _, err := s.engine.ID(token).Delete(new(AuthSession)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes every session whose expires_at is past
// nowUnix and returns how many rows were removed.
func (s *Store) CleanupExpiredSessions(nowUnix int64) (int64, error) {
	n, err := s.engine.Where("expires_at <= ?", nowUnix).Delete(new(AuthSession))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}
