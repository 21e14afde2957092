package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/store"
)

// fakeRuntime is an in-memory runtime.Runtime double that tracks which
// container names are "running", for exercising exclusivity and crash
// scenarios without a real engine.
type fakeRuntime struct {
	mu       sync.Mutex
	running  map[string]bool
	labels   map[string]map[string]string
	pullErr  error
	failures map[string]error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: map[string]bool{}, labels: map[string]map[string]string{}, failures: map[string]error{}}
}

func (f *fakeRuntime) ListContainers(ctx context.Context, includeStopped bool) ([]runtime.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.Info
	for name, running := range f.running {
		if !running && !includeStopped {
			continue
		}
		state := "exited"
		if running {
			state = "running"
		}
		out = append(out, runtime.Info{Name: name, State: state, Labels: f.labels[name]})
	}
	return out, nil
}

func (f *fakeRuntime) ListManagedGameContainers(ctx context.Context, prefix, orchestrationLabel string) ([]runtime.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.Info
	for name, running := range f.running {
		if !running {
			continue
		}
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		if _, has := f.labels[name][orchestrationLabel]; has {
			continue
		}
		out = append(out, runtime.Info{Name: name, State: "running", Labels: f.labels[name]})
	}
	return out, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, name string) (runtime.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.running[name]
	if !ok {
		return runtime.Inspection{}, fmt.Errorf("no such container: %s", name)
	}
	return runtime.Inspection{Running: running}, nil
}

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.CreateSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[spec.Name] = false
	f.labels[spec.Name] = spec.Labels
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[name]; err != nil {
		return err
	}
	f.running[name] = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, name string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
	return nil
}

func (f *fakeRuntime) Pause(ctx context.Context, name string) error   { return nil }
func (f *fakeRuntime) Unpause(ctx context.Context, name string) error { return nil }

func (f *fakeRuntime) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	delete(f.labels, name)
	return nil
}

func (f *fakeRuntime) Restart(ctx context.Context, name string, graceSeconds int) error { return nil }

func (f *fakeRuntime) PullImage(ctx context.Context, image string) error { return f.pullErr }

func (f *fakeRuntime) Logs(ctx context.Context, name string, follow bool, sinceTailN int, timestamps bool) (io.ReadCloser, bool, error) {
	return nil, false, fmt.Errorf("not implemented")
}

func (f *fakeRuntime) Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

// simulateCrash marks a running container stopped without going through
// Stop(), so the crash watcher (not the Scheduler) observes the change.
func (f *fakeRuntime) simulateCrash(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
}

type recordingNotifier struct {
	mu     sync.Mutex
	crashes []string
}

func (n *recordingNotifier) Crash(serverName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.crashes = append(n.crashes, serverName)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.crashes)
}

func newTestScheduler(t *testing.T, rt *fakeRuntime, notifier Notifier) (*Scheduler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, rt, notifier, "game-panel-", logger), st
}

func insertServer(t *testing.T, st *store.Store, id, image string, port uint16) {
	t.Helper()
	if err := st.InsertServer(store.Server{ID: id, Name: id, Image: image, Port: port, CreatedAt: 1}); err != nil {
		t.Fatalf("insert server %s: %v", id, err)
	}
}

func TestStartExclusiveReplacement(t *testing.T) {
	rt := newFakeRuntime()
	sched, st := newTestScheduler(t, rt, nil)
	ctx := context.Background()

	insertServer(t, st, "mc", "itzg/minecraft-server:latest", 25565)
	insertServer(t, st, "vh", "lloesche/valheim-server", 2456)

	if err := sched.Start(ctx, "mc"); err != nil {
		t.Fatalf("start mc: %v", err)
	}
	if err := sched.Start(ctx, "vh"); err != nil {
		t.Fatalf("start vh: %v", err)
	}

	hist, err := st.RunHistory("mc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].StopReason != string(store.StopReasonReplaced) {
		t.Fatalf("expected mc's run to be closed as replaced, got %+v", hist)
	}

	insp, err := rt.Inspect(ctx, "game-panel-vh")
	if err != nil || !insp.Running {
		t.Fatalf("expected vh running: insp=%+v err=%v", insp, err)
	}
	insp, err = rt.Inspect(ctx, "game-panel-mc")
	if err != nil || insp.Running {
		t.Fatalf("expected mc stopped: insp=%+v err=%v", insp, err)
	}
}

func TestCrashWatcherClosesRunAndNotifies(t *testing.T) {
	rt := newFakeRuntime()
	notifier := &recordingNotifier{}
	sched, st := newTestScheduler(t, rt, notifier)
	ctx := context.Background()

	insertServer(t, st, "mc", "itzg/minecraft-server:latest", 25565)
	if err := sched.Start(ctx, "mc"); err != nil {
		t.Fatalf("start: %v", err)
	}

	rt.simulateCrash("game-panel-mc")

	sched.mu.Lock()
	cancel := sched.watchers["mc"]
	sched.mu.Unlock()
	if cancel == nil {
		t.Fatalf("expected a registered crash watcher")
	}
	// Stop the registered watcher and drive one poll by hand, so exactly one
	// watcher observes the crash.
	cancel()
	sched.runCrashWatcher(context.Background(), "mc", "game-panel-mc", "mc")

	hist, err := st.RunHistory("mc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].StopReason != string(store.StopReasonCrash) {
		t.Fatalf("expected crash-closed run, got %+v", hist)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one crash notification, got %d", notifier.count())
	}
}

func TestStopActivePseudoIDWithNothingRunning(t *testing.T) {
	rt := newFakeRuntime()
	sched, _ := newTestScheduler(t, rt, nil)
	if err := sched.Stop(context.Background(), "active"); err != ErrNoActiveServer {
		t.Fatalf("expected ErrNoActiveServer, got %v", err)
	}
}

func TestDeleteRefusesWhileRunning(t *testing.T) {
	rt := newFakeRuntime()
	sched, st := newTestScheduler(t, rt, nil)
	ctx := context.Background()
	insertServer(t, st, "mc", "itzg/minecraft-server:latest", 25565)
	if err := sched.Start(ctx, "mc"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Delete(ctx, "mc"); err != ErrRunning {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	if err := sched.Stop(ctx, "mc"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sched.Delete(ctx, "mc"); err != nil {
		t.Fatalf("delete after stop: %v", err)
	}
}

func TestEnvPlaceholderResolution(t *testing.T) {
	t.Setenv("GAME_SEED", "42")
	out := resolveEnvPlaceholders(map[string]string{"SEED": "${GAME_SEED}", "MISSING": "${NOT_SET}"})
	got := map[string]bool{}
	for _, kv := range out {
		got[kv] = true
	}
	if !got["SEED=42"] {
		t.Fatalf("expected SEED=42 in %v", out)
	}
	if !got["MISSING="] {
		t.Fatalf("expected MISSING= (empty) in %v", out)
	}
}

func TestRegisterCrashWatcherCancelsPrior(t *testing.T) {
	rt := newFakeRuntime()
	sched, st := newTestScheduler(t, rt, nil)
	insertServer(t, st, "mc", "itzg/minecraft-server:latest", 25565)
	ctx := context.Background()
	if err := sched.Start(ctx, "mc"); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.mu.Lock()
	first := sched.watchers["mc"]
	sched.mu.Unlock()

	sched.registerCrashWatcher("mc", "game-panel-mc", "mc")

	sched.mu.Lock()
	second := sched.watchers["mc"]
	sched.mu.Unlock()
	if first == nil || second == nil {
		t.Fatalf("expected both watcher handles to be registered")
	}
	// Give the cancelled first watcher's goroutine a moment to exit; it
	// should not double-close the run the second watcher owns.
	time.Sleep(10 * time.Millisecond)
}
