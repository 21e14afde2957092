package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/store"
)

type fakeRuntime struct {
	running map[string]bool
	paused  map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: map[string]bool{}, paused: map[string]bool{}}
}

func (f *fakeRuntime) ListContainers(ctx context.Context, includeStopped bool) ([]runtime.Info, error) {
	return nil, nil
}
func (f *fakeRuntime) Inspect(ctx context.Context, name string) (runtime.Inspection, error) {
	return runtime.Inspection{Running: f.running[name]}, nil
}
func (f *fakeRuntime) Create(ctx context.Context, spec runtime.CreateSpec) error { return nil }
func (f *fakeRuntime) Start(ctx context.Context, name string) error             { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, name string, graceSeconds int) error {
	f.running[name] = false
	return nil
}
func (f *fakeRuntime) Pause(ctx context.Context, name string) error {
	f.paused[name] = true
	return nil
}
func (f *fakeRuntime) Unpause(ctx context.Context, name string) error {
	f.paused[name] = false
	return nil
}
func (f *fakeRuntime) Remove(ctx context.Context, name string, force bool) error { return nil }
func (f *fakeRuntime) Restart(ctx context.Context, name string, graceSeconds int) error {
	return nil
}
func (f *fakeRuntime) PullImage(ctx context.Context, image string) error { return nil }
func (f *fakeRuntime) Logs(ctx context.Context, name string, follow bool, sinceTailN int, timestamps bool) (io.ReadCloser, bool, error) {
	return nil, false, nil
}
func (f *fakeRuntime) Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error) {
	return nil, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(t *testing.T) (*Engine, *store.Store, *fakeRuntime, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hostData := filepath.Join(dir, "host-data")
	if err := os.MkdirAll(filepath.Join(hostData, "mc-world"), 0o755); err != nil {
		t.Fatalf("mkdir host data: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hostData, "mc-world", "level.dat"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}

	rt := newFakeRuntime()
	backupRoot := filepath.Join(dir, "backups")
	eng := New(st, rt, backupRoot, hostData, "game-panel-", testLogger())
	return eng, st, rt, hostData
}

func insertServerWithVolume(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if err := st.InsertServer(store.Server{
		ID:      id,
		Name:    id,
		Image:   "itzg/minecraft-server:latest",
		Port:    25565,
		Volumes: map[string]string{"/data/mc-world": "/data"},
		CreatedAt: 1,
	}); err != nil {
		t.Fatalf("insert server: %v", err)
	}
}

func TestCreateErrorsWithoutDataVolumes(t *testing.T) {
	eng, st, _, _ := setup(t)
	if err := st.InsertServer(store.Server{ID: "mc", Name: "mc", Image: "x", Port: 1, CreatedAt: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := eng.Create(context.Background(), "mc")
	if err != ErrNoDataVolumes {
		t.Fatalf("expected ErrNoDataVolumes, got %v", err)
	}
}

func TestCreateThenRestoreRoundTrip(t *testing.T) {
	eng, st, _, hostData := setup(t)
	insertServerWithVolume(t, st, "mc")

	rec, err := eng.Create(context.Background(), "mc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SizeBytes <= 0 {
		t.Fatalf("expected a non-empty archive, got size %d", rec.SizeBytes)
	}

	if err := os.RemoveAll(filepath.Join(hostData, "mc-world")); err != nil {
		t.Fatalf("remove fixture dir: %v", err)
	}

	if err := eng.Restore(context.Background(), "mc", rec.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(hostData, "mc-world", "level.dat"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected restored content: %q", got)
	}
}

func TestEnforceRetentionPrunesOldest(t *testing.T) {
	eng, st, _, _ := setup(t)
	insertServerWithVolume(t, st, "mc")
	_ = st.SetSetting(store.ScopePanel, "max_backups_per_server", "3")

	for i := int64(0); i < 4; i++ {
		if _, err := st.InsertBackup(store.Backup{ServerID: "mc", Filename: "f.tar.gz", SizeBytes: 1, CreatedAt: i}); err != nil {
			t.Fatalf("insert backup: %v", err)
		}
	}
	if err := eng.enforceRetention("mc"); err != nil {
		t.Fatalf("enforce retention: %v", err)
	}
	count, err := st.CountBackups("mc")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 backups remaining, got %d err=%v", count, err)
	}
	oldest, ok, err := st.OldestBackup("mc")
	if err != nil || !ok || oldest.CreatedAt != 1 {
		t.Fatalf("expected oldest remaining created_at=1, got %+v ok=%v err=%v", oldest, ok, err)
	}
}

func TestRunAutoBackupPassUsesNewestBackup(t *testing.T) {
	eng, st, _, _ := setup(t)
	insertServerWithVolume(t, st, "mc")
	_ = st.SetSetting(store.ScopePanel, "auto_backup_interval_hours", "24")

	// Oldest backup is long overdue, but the newest is recent: not due.
	if _, err := st.InsertBackup(store.Backup{ServerID: "mc", Filename: "old.tar.gz", SizeBytes: 1, CreatedAt: store.Now().Unix() - 100*3600}); err != nil {
		t.Fatalf("insert old backup: %v", err)
	}
	if _, err := st.InsertBackup(store.Backup{ServerID: "mc", Filename: "recent.tar.gz", SizeBytes: 1, CreatedAt: store.Now().Unix()}); err != nil {
		t.Fatalf("insert recent backup: %v", err)
	}

	eng.runAutoBackupPass(context.Background(), []string{"mc"})

	count, err := st.CountBackups("mc")
	if err != nil || count != 2 {
		t.Fatalf("expected no new backup while newest is recent, count=%d err=%v", count, err)
	}

	// Start over with only an overdue backup: now due, since the newest
	// (not the oldest) row drives the check.
	all, err := st.ListBackups("mc")
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	for _, b := range all {
		if err := st.DeleteBackupByID(b.ID); err != nil {
			t.Fatalf("delete backup %d: %v", b.ID, err)
		}
	}
	if _, err := st.InsertBackup(store.Backup{ServerID: "mc", Filename: "aged.tar.gz", SizeBytes: 1, CreatedAt: store.Now().Unix() - 48*3600}); err != nil {
		t.Fatalf("insert aged backup: %v", err)
	}

	eng.runAutoBackupPass(context.Background(), []string{"mc"})

	count, err = st.CountBackups("mc")
	if err != nil || count != 2 {
		t.Fatalf("expected a new backup once newest is overdue, count=%d err=%v", count, err)
	}
}

func TestRestoreRefusesWhileRunning(t *testing.T) {
	eng, st, rt, _ := setup(t)
	insertServerWithVolume(t, st, "mc")
	rt.running["game-panel-mc"] = true

	err := eng.Restore(context.Background(), "mc", 1)
	if err != ErrRunning {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
}

func TestDeleteIsBestEffortOnMissingFile(t *testing.T) {
	eng, st, _, _ := setup(t)
	insertServerWithVolume(t, st, "mc")
	rec, err := st.InsertBackup(store.Backup{ServerID: "mc", Filename: "missing.tar.gz", SizeBytes: 1, CreatedAt: 1})
	if err != nil {
		t.Fatalf("insert backup: %v", err)
	}
	if err := eng.Delete("mc", rec.ID); err != nil {
		t.Fatalf("delete should succeed despite missing file: %v", err)
	}
	if _, ok, _ := st.GetBackupByID(rec.ID); ok {
		t.Fatalf("expected backup row to be gone")
	}
}
