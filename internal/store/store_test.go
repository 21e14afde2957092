package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServerInsertGetDelete(t *testing.T) {
	s := newTestStore(t)

	rec := Server{ID: "mc", Name: "Minecraft", Image: "itzg/minecraft-server:latest", Port: 25565, CreatedAt: 1000}
	if err := s.InsertServer(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := s.GetServerByID("mc")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "Minecraft" || got.Port != 25565 {
		t.Fatalf("unexpected record: %+v", got)
	}

	byPort, ok, err := s.GetServerByPort(25565)
	if err != nil || !ok || byPort.ID != "mc" {
		t.Fatalf("get by port failed: ok=%v err=%v rec=%+v", ok, err, byPort)
	}

	if err := s.DeleteServerByID("mc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetServerByID("mc"); ok {
		t.Fatalf("expected server gone after delete")
	}
}

func TestRunLifecycleSingleOpenInvariant(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StartRun("mc", 100); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, ok, _ := s.AnyOpenRun(); !ok {
		t.Fatalf("expected an open run")
	}

	closed, err := s.StopOpenRun("mc", 200, StopReasonUser)
	if err != nil || !closed {
		t.Fatalf("stop run: closed=%v err=%v", closed, err)
	}
	if _, ok, _ := s.AnyOpenRun(); ok {
		t.Fatalf("expected no open run after stop")
	}

	hist, err := s.RunHistory("mc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].StopReason != string(StopReasonUser) {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestBackupRetentionHelpers(t *testing.T) {
	s := newTestStore(t)

	for i := int64(0); i < 3; i++ {
		if _, err := s.InsertBackup(Backup{ServerID: "mc", Filename: "b.tar.gz", SizeBytes: 10, CreatedAt: i}); err != nil {
			t.Fatalf("insert backup: %v", err)
		}
	}
	count, err := s.CountBackups("mc")
	if err != nil || count != 3 {
		t.Fatalf("count=%d err=%v", count, err)
	}
	oldest, ok, err := s.OldestBackup("mc")
	if err != nil || !ok || oldest.CreatedAt != 0 {
		t.Fatalf("oldest=%+v ok=%v err=%v", oldest, ok, err)
	}
	newest, ok, err := s.NewestBackup("mc")
	if err != nil || !ok || newest.CreatedAt != 2 {
		t.Fatalf("newest=%+v ok=%v err=%v", newest, ok, err)
	}
}

func TestSettingsDefaultFallbackAndAllowList(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSetting(ScopePanel, "max_backups_per_server")
	if err != nil || v != "5" {
		t.Fatalf("expected default 5, got %q err=%v", v, err)
	}

	if err := s.SetSetting(ScopePanel, "max_backups_per_server", "3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err = s.GetSetting(ScopePanel, "max_backups_per_server")
	if err != nil || v != "3" {
		t.Fatalf("expected override 3, got %q err=%v", v, err)
	}

	// Unknown key is dropped silently, not stored.
	if err := s.SetSetting(ScopePanel, "not_a_real_key", "x"); err != nil {
		t.Fatalf("set unknown: %v", err)
	}
	v, err = s.GetSetting(ScopePanel, "not_a_real_key")
	if err != nil || v != "" {
		t.Fatalf("expected empty for unknown key, got %q err=%v", v, err)
	}
}
