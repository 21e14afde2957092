// Package scheduler owns every Server×RuntimeStatus and Run transition: it
// enforces the single-running-game-container invariant (I1), runs the
// per-id crash watcher, and serializes state changes with a shard-mutex so
// concurrent Start/Stop calls for the same id never interleave.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gamepanel/control-plane/internal/runtime"
	"github.com/gamepanel/control-plane/internal/store"
)

const (
	stopGraceSeconds   = 10
	crashPollInterval  = 30 * time.Second
	autoStopInterval   = 5 * time.Minute
	orchestrationLabel = "gamepanel.orchestration"
	activePseudoID     = "active"
	gibibyte           = 1 << 30
	nanoCPUsPerCore    = 1e9
	shardCount         = 32
)

// Notifier is the subset of the notification sink the Scheduler drives.
// Crash is the only event the Scheduler itself raises.
type Notifier interface {
	Crash(serverName string)
}

type noopNotifier struct{}

func (noopNotifier) Crash(string) {}

// Scheduler implements the Start/Stop/Delete protocols from spec.md §4.4.
type Scheduler struct {
	store          *store.Store
	rt             runtime.Runtime
	notifier       Notifier
	log            *slog.Logger
	managedPrefix  string
	locks          *shardLocks

	mu               sync.Mutex
	watchers         map[string]context.CancelFunc
	intentionalStops map[string]bool

	stopAutoStop context.CancelFunc
}

// New builds a Scheduler. managedPrefix names every game container this
// process controls (e.g. "game-panel-"); notifier may be nil.
func New(st *store.Store, rt runtime.Runtime, notifier Notifier, managedPrefix string, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Scheduler{
		store:            st,
		rt:               rt,
		notifier:         notifier,
		log:              logger,
		managedPrefix:    managedPrefix,
		locks:            newShardLocks(shardCount),
		watchers:         map[string]context.CancelFunc{},
		intentionalStops: map[string]bool{},
	}
}

func (s *Scheduler) containerName(id string) string {
	return s.managedPrefix + id
}

func (s *Scheduler) serverIDFromContainerName(name string) string {
	return strings.TrimPrefix(name, s.managedPrefix)
}

// activeGameContainer returns the sole Running container matching the
// managed prefix and lacking the orchestration-service label (I5), if any.
func (s *Scheduler) activeGameContainer(ctx context.Context) (runtime.Info, bool, error) {
	list, err := queryManaged(ctx, s.rt, s.managedPrefix)
	if err != nil {
		return runtime.Info{}, false, err
	}
	if len(list) == 0 {
		return runtime.Info{}, false, nil
	}
	return list[0], true, nil
}

// queryManaged is a narrow seam so the Scheduler depends only on the
// runtime.Runtime interface, while still reaching ListManagedGameContainers
// on the concrete adapter when available.
func queryManaged(ctx context.Context, rt runtime.Runtime, prefix string) ([]runtime.Info, error) {
	type managedLister interface {
		ListManagedGameContainers(ctx context.Context, prefix, orchestrationLabel string) ([]runtime.Info, error)
	}
	if lister, ok := rt.(managedLister); ok {
		return lister.ListManagedGameContainers(ctx, prefix, orchestrationLabel)
	}
	all, err := rt.ListContainers(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]runtime.Info, 0, len(all))
	for _, c := range all {
		if !strings.HasPrefix(c.Name, prefix) {
			continue
		}
		if _, hasLabel := c.Labels[orchestrationLabel]; hasLabel {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Start implements the nine-step protocol in spec.md §4.4.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	srv, ok, err := s.store.GetServerByID(id)
	if err != nil {
		return fmt.Errorf("resolve server %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}

	if active, found, err := s.activeGameContainer(ctx); err != nil {
		return fmt.Errorf("query active container: %w", err)
	} else if found {
		activeID := s.serverIDFromContainerName(active.Name)
		if activeID != id {
			if err := s.replaceActive(ctx, activeID, active.Name); err != nil {
				return fmt.Errorf("replace active server %s: %w", activeID, err)
			}
		}
	}

	name := s.containerName(id)
	_ = s.rt.Remove(ctx, name, true)

	env := resolveEnvPlaceholders(srv.Env)

	if err := s.rt.PullImage(ctx, srv.Image); err != nil {
		return fmt.Errorf("pull image %s: %w", srv.Image, err)
	}

	memLimit, err := s.settingInt64("game_memory_limit_gb", 6)
	if err != nil {
		return err
	}
	cpuLimit, err := s.settingFloat64("game_cpu_limit", 3)
	if err != nil {
		return err
	}

	spec := runtime.CreateSpec{
		Name:             name,
		Image:            srv.Image,
		Env:              env,
		BindMounts:       srv.Volumes,
		MemoryLimitBytes: memLimit * gibibyte,
		NanoCPUs:         int64(cpuLimit * nanoCPUsPerCore),
		Labels:           map[string]string{"gamepanel.server_id": id},
	}
	if err := s.rt.Create(ctx, spec); err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}
	if err := s.rt.Start(ctx, name); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}

	if _, err := s.store.StartRun(id, store.Now().Unix()); err != nil {
		return fmt.Errorf("open run for %s: %w", id, err)
	}

	s.registerCrashWatcher(id, name, srv.Name)
	return nil
}

// replaceActive tears down the currently-running server activeID to make
// room for the one being started, per Start step 3.
func (s *Scheduler) replaceActive(ctx context.Context, activeID, containerName string) error {
	s.mu.Lock()
	s.intentionalStops[activeID] = true
	if cancel, ok := s.watchers[activeID]; ok {
		cancel()
		delete(s.watchers, activeID)
	}
	s.mu.Unlock()

	if err := s.rt.Stop(ctx, containerName, stopGraceSeconds); err != nil {
		s.log.Warn("stop_during_replace_failed", slog.String("server_id", activeID), slog.String("error", err.Error()))
	}
	if _, err := s.store.StopOpenRun(activeID, store.Now().Unix(), store.StopReasonReplaced); err != nil {
		return fmt.Errorf("close replaced run: %w", err)
	}
	return nil
}

// Stop implements the Stop protocol, including the "active" pseudo-id.
func (s *Scheduler) Stop(ctx context.Context, id string) error {
	resolvedID := id
	var containerName string

	if id == activePseudoID {
		active, found, err := s.activeGameContainer(ctx)
		if err != nil {
			return fmt.Errorf("query active container: %w", err)
		}
		if !found {
			return ErrNoActiveServer
		}
		resolvedID = s.serverIDFromContainerName(active.Name)
		containerName = active.Name
	} else {
		if _, ok, err := s.store.GetServerByID(id); err != nil {
			return fmt.Errorf("resolve server %s: %w", id, err)
		} else if !ok {
			return ErrNotFound
		}
		containerName = s.containerName(id)
	}

	unlock := s.locks.Lock(resolvedID)
	defer unlock()

	s.mu.Lock()
	s.intentionalStops[resolvedID] = true
	if cancel, ok := s.watchers[resolvedID]; ok {
		cancel()
		delete(s.watchers, resolvedID)
	}
	s.mu.Unlock()

	if err := s.rt.Stop(ctx, containerName, stopGraceSeconds); err != nil {
		s.log.Warn("stop_failed", slog.String("server_id", resolvedID), slog.String("error", err.Error()))
	}
	if _, err := s.store.StopOpenRun(resolvedID, store.Now().Unix(), store.StopReasonUser); err != nil {
		return fmt.Errorf("close run for %s: %w", resolvedID, err)
	}
	return nil
}

// Delete removes a Server and its Run history. It refuses while running;
// Backup rows and files are intentionally left untouched.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	srv, ok, err := s.store.GetServerByID(id)
	if err != nil {
		return fmt.Errorf("resolve server %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	insp, err := s.rt.Inspect(ctx, s.containerName(id))
	if err == nil && insp.Running {
		return ErrRunning
	}
	if err := s.store.DeleteRunsByServer(id); err != nil {
		return fmt.Errorf("delete runs for %s: %w", id, err)
	}
	if err := s.store.DeleteServerByID(srv.ID); err != nil {
		return fmt.Errorf("delete server %s: %w", id, err)
	}
	return nil
}

// registerCrashWatcher starts a single-shot 30s poller for id, cancelling
// any prior watcher for the same id first.
func (s *Scheduler) registerCrashWatcher(id, containerName, serverName string) {
	s.mu.Lock()
	if cancel, ok := s.watchers[id]; ok {
		cancel()
	}
	delete(s.intentionalStops, id)
	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchers[id] = cancel
	s.mu.Unlock()

	go s.runCrashWatcher(watchCtx, id, containerName, serverName)
}

func (s *Scheduler) runCrashWatcher(ctx context.Context, id, containerName, serverName string) {
	ticker := time.NewTicker(crashPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		insp, err := s.rt.Inspect(ctx, containerName)
		if err != nil {
			// Transient runtime errors are swallowed and retried next tick.
			continue
		}
		if insp.Running {
			continue
		}

		s.mu.Lock()
		intentional := s.intentionalStops[id]
		delete(s.intentionalStops, id)
		delete(s.watchers, id)
		s.mu.Unlock()

		if intentional {
			return
		}
		if _, err := s.store.StopOpenRun(id, store.Now().Unix(), store.StopReasonCrash); err != nil {
			s.log.Error("crash_close_run_failed", slog.String("server_id", id), slog.String("error", err.Error()))
		}
		s.notifier.Crash(serverName)
		return
	}
}

// StartAutoStopTicker enforces the resolved auto_stop_hours setting: every
// tick it closes the open Run (if any) whose age exceeds the configured
// number of hours, reusing the Stop protocol.
func (s *Scheduler) StartAutoStopTicker(ctx context.Context) {
	tickerCtx, cancel := context.WithCancel(ctx)
	s.stopAutoStop = cancel
	go func() {
		ticker := time.NewTicker(autoStopInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
			}
			if _, err := s.ExpireOverAgeRun(tickerCtx); err != nil {
				s.log.Warn("auto_stop_failed", slog.String("error", err.Error()))
			}
		}
	}()
}

// ExpireOverAgeRun closes the open Run, if any, whose age exceeds the
// resolved auto_stop_hours setting, reusing the Stop protocol. It reports
// whether a run was expired, so cron-driven callers (the "reconcile"
// command) can run the same check the ticker runs.
func (s *Scheduler) ExpireOverAgeRun(ctx context.Context) (bool, error) {
	hours, err := s.settingInt64("auto_stop_hours", 0)
	if err != nil || hours <= 0 {
		return false, err
	}
	run, ok, err := s.store.AnyOpenRun()
	if err != nil || !ok {
		return false, err
	}
	age := store.Now().Unix() - run.StartedAt
	if age < hours*3600 {
		return false, nil
	}
	if err := s.Stop(ctx, run.ServerID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) settingInt64(key string, fallback int64) (int64, error) {
	v, err := s.store.GetSetting(store.ScopePanel, key)
	if err != nil {
		return 0, err
	}
	var n int64
	if _, scanErr := fmt.Sscanf(v, "%d", &n); scanErr != nil || n <= 0 {
		return fallback, nil
	}
	return n, nil
}

func (s *Scheduler) settingFloat64(key string, fallback float64) (float64, error) {
	v, err := s.store.GetSetting(store.ScopePanel, key)
	if err != nil {
		return 0, err
	}
	var f float64
	if _, scanErr := fmt.Sscanf(v, "%g", &f); scanErr != nil || f <= 0 {
		return fallback, nil
	}
	return f, nil
}

// resolveEnvPlaceholders rewrites "${VAR}" occurrences in env values using
// the process environment; a missing VAR resolves to the empty string.
func resolveEnvPlaceholders(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+os.Expand(v, os.Getenv))
	}
	return out
}
