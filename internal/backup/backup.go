// Package backup implements the Backup Engine (C5): pause-archive-resume
// snapshots of a server's /data/ volumes into gzip-compressed tarballs
// under <BACKUP_ROOT>/<server_id>/, with retention pruning and restore.
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/store"
)

var (
	// ErrNoDataVolumes is returned when a Server has no volumes rooted at /data/.
	ErrNoDataVolumes = errors.New("no /data/ volumes configured")
	// ErrRunning is returned by Restore when the target container is running.
	ErrRunning = errors.New("server is running")
	// ErrNotFound is returned when a Backup row or file is missing.
	ErrNotFound = errors.New("backup not found")
)

const (
	dataPrefix           = "/data/"
	defaultHostDataRoot  = "/host-data/"
	autoBackupPeriod     = time.Hour
	filenameLayout       = "2006-01-02_15-04-05"
)

// Engine implements the Create/Restore/Delete/auto-backup protocols.
type Engine struct {
	store         *store.Store
	rt            runtime.Runtime
	backupRoot    string
	hostDataRoot  string
	managedPrefix string
	log           *slog.Logger

	serverLocks sync.Map // server id -> *sync.Mutex
}

// New builds an Engine. hostDataRoot is the directory archives are taken
// from and restored into (defaultHostDataRoot in production; tests may
// point it at a scratch directory).
func New(st *store.Store, rt runtime.Runtime, backupRoot, hostDataRoot, managedPrefix string, logger *slog.Logger) *Engine {
	if hostDataRoot == "" {
		hostDataRoot = defaultHostDataRoot
	}
	return &Engine{store: st, rt: rt, backupRoot: backupRoot, hostDataRoot: hostDataRoot, managedPrefix: managedPrefix, log: logger}
}

func (e *Engine) lockFor(id string) func() {
	v, _ := e.serverLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) containerName(id string) string {
	return e.managedPrefix + id
}

// relativeDataDirs returns, for every volume host-path under /data/, the
// path relative to that prefix (the same subtree Restore re-extracts into).
func relativeDataDirs(volumes map[string]string) []string {
	var out []string
	for hostPath := range volumes {
		if !strings.HasPrefix(hostPath, dataPrefix) {
			continue
		}
		rel := strings.TrimPrefix(hostPath, dataPrefix)
		if rel != "" {
			out = append(out, rel)
		}
	}
	return out
}

// Create runs the seven-step backup protocol from spec.md §4.5.
func (e *Engine) Create(ctx context.Context, serverID string) (store.Backup, error) {
	unlock := e.lockFor(serverID)
	defer unlock()

	srv, ok, err := e.store.GetServerByID(serverID)
	if err != nil {
		return store.Backup{}, fmt.Errorf("resolve server %s: %w", serverID, err)
	}
	if !ok {
		return store.Backup{}, ErrNotFound
	}

	relDirs := relativeDataDirs(srv.Volumes)
	if len(relDirs) == 0 {
		return store.Backup{}, ErrNoDataVolumes
	}

	destDir := filepath.Join(e.backupRoot, serverID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return store.Backup{}, fmt.Errorf("ensure backup dir: %w", err)
	}

	now := store.Now()
	filename := fmt.Sprintf("%s_%s.tar.gz", serverID, now.Format(filenameLayout))
	destPath := filepath.Join(destDir, filename)

	paused := false
	name := e.containerName(serverID)
	if insp, err := e.rt.Inspect(ctx, name); err == nil && insp.Running {
		if pauseErr := e.rt.Pause(ctx, name); pauseErr == nil {
			paused = true
		} else {
			e.log.Warn("backup_pause_failed", slog.String("server_id", serverID), slog.String("error", pauseErr.Error()))
		}
	}
	defer func() {
		if paused {
			if err := e.rt.Unpause(ctx, name); err != nil {
				e.log.Warn("backup_unpause_failed", slog.String("server_id", serverID), slog.String("error", err.Error()))
			}
		}
	}()

	size, err := archiveDirs(destPath, e.hostDataRoot, relDirs)
	if err != nil {
		_ = os.Remove(destPath)
		return store.Backup{}, fmt.Errorf("archive backup: %w", err)
	}

	rec := store.Backup{ServerID: serverID, Filename: filename, SizeBytes: size, CreatedAt: now.Unix()}
	inserted, err := e.store.InsertBackup(rec)
	if err != nil {
		return store.Backup{}, fmt.Errorf("insert backup row: %w", err)
	}

	if err := e.enforceRetention(serverID); err != nil {
		e.log.Warn("backup_retention_failed", slog.String("server_id", serverID), slog.String("error", err.Error()))
	}
	return inserted, nil
}

// enforceRetention implements I4: while count > max_backups_per_server,
// delete the oldest Backup row and its file.
func (e *Engine) enforceRetention(serverID string) error {
	limitStr, err := e.store.GetSetting(store.ScopePanel, "max_backups_per_server")
	if err != nil {
		return err
	}
	limit, convErr := strconv.Atoi(limitStr)
	if convErr != nil || limit <= 0 {
		limit = 5
	}
	for {
		count, err := e.store.CountBackups(serverID)
		if err != nil {
			return err
		}
		if count <= int64(limit) {
			return nil
		}
		oldest, ok, err := e.store.OldestBackup(serverID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.deleteRow(oldest); err != nil {
			return err
		}
	}
}

// Restore extracts a Backup archive back into /host-data/, refusing while
// the container is running.
func (e *Engine) Restore(ctx context.Context, serverID string, backupID int64) error {
	unlock := e.lockFor(serverID)
	defer unlock()

	name := e.containerName(serverID)
	if insp, err := e.rt.Inspect(ctx, name); err == nil && insp.Running {
		return ErrRunning
	}

	rec, ok, err := e.store.GetBackupByID(backupID)
	if err != nil {
		return fmt.Errorf("resolve backup %d: %w", backupID, err)
	}
	if !ok || rec.ServerID != serverID {
		return ErrNotFound
	}
	path := filepath.Join(e.backupRoot, serverID, rec.Filename)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := extractArchive(path, e.hostDataRoot); err != nil {
		return fmt.Errorf("extract backup: %w", err)
	}
	return nil
}

// Delete best-effort unlinks the file and always deletes the DB row.
func (e *Engine) Delete(serverID string, backupID int64) error {
	rec, ok, err := e.store.GetBackupByID(backupID)
	if err != nil {
		return fmt.Errorf("resolve backup %d: %w", backupID, err)
	}
	if !ok || rec.ServerID != serverID {
		return ErrNotFound
	}
	return e.deleteRow(rec)
}

func (e *Engine) deleteRow(rec store.Backup) error {
	path := filepath.Join(e.backupRoot, rec.ServerID, rec.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.log.Warn("backup_file_unlink_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if err := e.store.DeleteBackupByID(rec.ID); err != nil {
		return fmt.Errorf("delete backup row %d: %w", rec.ID, err)
	}
	return nil
}

// RunAutoBackupTicker fires once per hour: for every server with an active
// game container whose auto_backup_interval_hours setting is positive and
// whose most recent backup is at least that old, it invokes Create.
func (e *Engine) RunAutoBackupTicker(ctx context.Context, activeServerIDs func() []string) {
	ticker := time.NewTicker(autoBackupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		e.runAutoBackupPass(ctx, activeServerIDs())
	}
}

func (e *Engine) runAutoBackupPass(ctx context.Context, activeServerIDs []string) {
	intervalStr, err := e.store.GetSetting(store.ScopePanel, "auto_backup_interval_hours")
	if err != nil {
		return
	}
	hours, convErr := strconv.Atoi(intervalStr)
	if convErr != nil || hours <= 0 {
		return
	}
	for _, id := range activeServerIDs {
		newest, ok, err := e.store.NewestBackup(id)
		if err != nil {
			e.log.Warn("auto_backup_lookup_failed", slog.String("server_id", id), slog.String("error", err.Error()))
			continue
		}
		due := !ok || store.Now().Unix()-newest.CreatedAt >= int64(hours)*3600
		if !due {
			continue
		}
		if _, err := e.Create(ctx, id); err != nil {
			e.log.Warn("auto_backup_failed", slog.String("server_id", id), slog.String("error", err.Error()))
		}
	}
}

// archiveDirs writes a gzip-compressed tar of relDirs (resolved under
// baseDir) to destPath, returning the resulting file size in bytes.
func archiveDirs(destPath, baseDir string, relDirs []string) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, rel := range relDirs {
		root := filepath.Join(baseDir, rel)
		if err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				if os.IsNotExist(walkErr) {
					return nil
				}
				return walkErr
			}
			relName, err := filepath.Rel(baseDir, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(relName)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		}); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return 0, err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip writer: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return info.Size(), nil
}

// extractArchive restores a gzip-compressed tar into baseDir, recreating
// the same relative paths it was captured with.
func extractArchive(srcPath, baseDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		target := filepath.Join(baseDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
