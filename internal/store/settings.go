package store

import "fmt"

// recognizedPanelKeys is the settings PUT allow-list; unknown keys are
// dropped silently rather than rejected (see Design Notes).
var recognizedPanelKeys = map[string]bool{
	"host_domain":                true,
	"game_memory_limit_gb":       true,
	"game_cpu_limit":             true,
	"auto_stop_hours":            true,
	"max_backups_per_server":     true,
	"auto_backup_interval_hours": true,
}

var recognizedBotKeys = map[string]bool{
	"bot_token":          true,
	"allowed_channel_id": true,
	"errors_channel_id":  true,
	"crashes_channel_id": true,
	"logs_channel_id":    true,
}

// GetSetting returns the first of: stored value, static default, "".
func (s *Store) GetSetting(scope SettingScope, key string) (string, error) {
	var rec Setting
	ok, err := s.engine.Where("scope = ? AND key = ?", string(scope), key).Get(&rec)
	if err != nil {
		return "", fmt.Errorf("get setting %s/%s: %w", scope, key, err)
	}
	if ok {
		return rec.Value, nil
	}
	if scope == ScopePanel {
		if v, ok := defaultSettings[key]; ok {
			return v, nil
		}
	}
	return "", nil
}

// GetAllSettings returns the full bag for scope, with defaults filled in
// for any recognized panel key not yet stored.
func (s *Store) GetAllSettings(scope SettingScope) (map[string]string, error) {
	var rows []Setting
	if err := s.engine.Where("scope = ?", string(scope)).Find(&rows); err != nil {
		return nil, fmt.Errorf("list settings %s: %w", scope, err)
	}
	out := map[string]string{}
	if scope == ScopePanel {
		for k, v := range defaultSettings {
			out[k] = v
		}
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// SetSetting writes one key/value, dropping it silently if key is not in
// the recognized allow-list for scope.
func (s *Store) SetSetting(scope SettingScope, key, value string) error {
	allowList := recognizedPanelKeys
	if scope == ScopeBot {
		allowList = recognizedBotKeys
	}
	if !allowList[key] {
		return nil
	}
	affected, err := s.engine.Where("scope = ? AND key = ?", string(scope), key).Update(&Setting{Value: value})
	if err != nil {
		return fmt.Errorf("update setting %s/%s: %w", scope, key, err)
	}
	if affected == 0 {
		if _, err := s.engine.Insert(&Setting{Scope: string(scope), Key: key, Value: value}); err != nil {
			return fmt.Errorf("insert setting %s/%s: %w", scope, key, err)
		}
	}
	return nil
}

// UnsetSetting removes a stored override, reverting settings.get to its
// static default.
func (s *Store) UnsetSetting(scope SettingScope, key string) error {
	if _, err := s.engine.Where("scope = ? AND key = ?", string(scope), key).Delete(new(Setting)); err != nil {
		return fmt.Errorf("unset setting %s/%s: %w", scope, key, err)
	}
	return nil
}
