package store

import "fmt"

// GetAllServers returns every Server row, in no particular guaranteed order.
func (s *Store) GetAllServers() ([]Server, error) {
	var out []Server
	if err := s.engine.Find(&out); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return out, nil
}

// GetServerByID returns the Server row, or ok=false if no such id exists.
func (s *Store) GetServerByID(id string) (Server, bool, error) {
	var rec Server
	ok, err := s.engine.ID(id).Get(&rec)
	if err != nil {
		return Server{}, false, fmt.Errorf("get server %s: %w", id, err)
	}
	return rec, ok, nil
}

// GetServerByPort returns the Server row bound to port, used for the port
// uniqueness check (I3) on insert.
func (s *Store) GetServerByPort(port uint16) (Server, bool, error) {
	var rec Server
	ok, err := s.engine.Where("port = ?", port).Get(&rec)
	if err != nil {
		return Server{}, false, fmt.Errorf("get server by port %d: %w", port, err)
	}
	return rec, ok, nil
}

// InsertServer creates a new Server row. Callers must have already checked
// id/port uniqueness (I3) to produce the right Conflict error.
func (s *Store) InsertServer(rec Server) error {
	if _, err := s.engine.Insert(&rec); err != nil {
		return fmt.Errorf("insert server %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateServer overwrites name/game_type/image/env/volumes/accent for an
// existing Server.
// Callers must ensure the server is not currently running.
func (s *Store) UpdateServer(rec Server) error {
	if _, err := s.engine.ID(rec.ID).Cols("name", "game_type", "image", "env", "volumes", "accent_color").Update(&rec); err != nil {
		return fmt.Errorf("update server %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateServerTheme patches only the banner path and accent color.
func (s *Store) UpdateServerTheme(id, bannerPath, accentColor string) error {
	rec := Server{BannerPath: bannerPath, AccentColor: accentColor}
	if _, err := s.engine.ID(id).Cols("banner_path", "accent_color").Update(&rec); err != nil {
		return fmt.Errorf("update server theme %s: %w", id, err)
	}
	return nil
}

// DeleteServerByID removes the Server row. Callers must ensure it is not
// running and have already deleted its Run rows.
func (s *Store) DeleteServerByID(id string) error {
	if _, err := s.engine.ID(id).Delete(new(Server)); err != nil {
		return fmt.Errorf("delete server %s: %w", id, err)
	}
	return nil
}
