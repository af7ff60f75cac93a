// Package devloop keeps the staging directory current while sources are
// edited. Watch rules map source changes to asset classes, rebuilds are
// coalesced per rule and never overlap for one class, and staging changes
// are broadcast to preview browsers through the reload hub.
package devloop

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/metrics"
	"github.com/conneroisu/assetstage/internal/pipeline"
	"github.com/conneroisu/assetstage/internal/watcher"
)

// State is the dev loop state.
type State int32

const (
	StateIdle State = iota
	StateWatching
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Builder rebuilds asset classes into staging.
type Builder interface {
	Assemble(ctx context.Context, classes ...string) (pipeline.StageResult, error)
}

// Loop is the dev loop.
type Loop struct {
	config   *config.Config
	builder  Builder
	hub      *Hub
	recorder metrics.Recorder
	logger   logging.Logger

	state  atomic.Int32
	active atomic.Int32

	mu          sync.Mutex
	closing     bool
	serializers map[string]*serializer
	classLocks  map[string]*sync.Mutex
}

// New creates a dev loop that rebuilds through builder and announces
// staging changes on hub.
func New(cfg *config.Config, builder Builder, hub *Hub, recorder metrics.Recorder, logger logging.Logger) *Loop {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Loop{
		config:      cfg,
		builder:     builder,
		hub:         hub,
		recorder:    recorder,
		logger:      logger.WithComponent("devloop"),
		serializers: make(map[string]*serializer),
		classLocks:  make(map[string]*sync.Mutex),
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run watches sources and staging until ctx is done, then waits for
// in-flight rebuilds to finish. Rebuilds are never interrupted.
func (l *Loop) Run(ctx context.Context) error {
	sources, err := l.watchSources(ctx)
	if err != nil {
		return err
	}
	defer sources.Stop()

	if l.config.Development.LiveReload {
		staging, err := l.watchStaging(ctx)
		if err != nil {
			return err
		}
		defer staging.Stop()
	}

	l.state.Store(int32(StateWatching))
	l.logger.Info(ctx, "Watching for changes",
		"rules", len(l.config.Development.Watch),
		"debounce", l.config.Development.Debounce.String())

	<-ctx.Done()

	l.mu.Lock()
	l.closing = true
	serializers := make([]*serializer, 0, len(l.serializers))
	for _, s := range l.serializers {
		serializers = append(serializers, s)
	}
	l.mu.Unlock()
	for _, s := range serializers {
		s.Close()
	}

	l.state.Store(int32(StateIdle))
	l.logger.Info(context.WithoutCancel(ctx), "Dev loop stopped")
	return nil
}

func (l *Loop) watchSources(ctx context.Context) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(l.config.Development.Debounce, l.logger)
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, rule := range l.config.Development.Watch {
		patterns = append(patterns, rule.Globs...)
	}
	for _, root := range watcher.Roots(l.config.Root, patterns) {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			l.logger.Debug(ctx, "Watch root does not exist", "path", root)
			continue
		}
		if err := fw.AddRecursive(root); err != nil {
			_ = fw.Stop()
			return nil, fmt.Errorf("watching %s: %w", root, err)
		}
	}

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoTempFilter)
	fw.AddFilter(watcher.GlobFilter(l.config.Root, patterns, nil))
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		l.HandleChanges(ctx, events)
		return nil
	})
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

func (l *Loop) watchStaging(ctx context.Context) (*watcher.FileWatcher, error) {
	dir := l.config.StagingDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	fw, err := watcher.NewFileWatcher(l.config.Development.Debounce, l.logger)
	if err != nil {
		return nil, err
	}
	if err := fw.AddRecursive(dir); err != nil {
		_ = fw.Stop()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		l.Reload(ctx, stagingPaths(dir, events))
		return nil
	})
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

// stagingPaths returns the changed staging files, without the marker.
func stagingPaths(dir string, events []watcher.ChangeEvent) []string {
	paths := make([]string, 0, len(events))
	for _, e := range events {
		rel, ok := watcher.Rel(dir, e.Path)
		if !ok || rel == config.MarkerFile {
			continue
		}
		paths = append(paths, rel)
	}
	return paths
}

// Reload broadcasts a reload message for the changed staging paths. A
// batch without paths, such as a marker-only update, is not announced.
func (l *Loop) Reload(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	n := l.hub.Broadcast(Message{Type: MessageReload, Paths: paths})
	l.logger.Debug(ctx, "Reload broadcast", "paths", len(paths), "subscribers", n)
}

// HandleChanges maps changed source files to watch rules and triggers one
// rebuild per matched rule.
func (l *Loop) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) {
	matched := make(map[int]bool)
	for _, e := range events {
		rel, ok := watcher.Rel(l.config.Root, e.Path)
		if !ok {
			continue
		}
		for i, rule := range l.config.Development.Watch {
			if watcher.MatchAny(rule.Globs, rel) && !watcher.MatchAny(rule.Exclude, rel) {
				matched[i] = true
			}
		}
	}

	rules := make([]int, 0, len(matched))
	for i := range matched {
		rules = append(rules, i)
	}
	sort.Ints(rules)
	for _, i := range rules {
		l.Trigger(ctx, l.config.Development.Watch[i].Classes...)
	}
}

// Trigger schedules a rebuild of classes. Classes triggered together are
// rebuilt together, so fragment classes stay ordered before the markup
// that includes them. Rebuilds that share a class never overlap, even when
// they come from different watch rules. It reports false once the loop is
// shutting down.
func (l *Loop) Trigger(ctx context.Context, classes ...string) bool {
	key := strings.Join(classes, ",")

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return false
	}
	s, ok := l.serializers[key]
	if !ok {
		s = newSerializer(func(ctx context.Context) { l.rebuild(ctx, classes) })
		l.serializers[key] = s
	}
	l.mu.Unlock()

	return s.Trigger(context.WithoutCancel(ctx))
}

// lockClasses takes the lock of every class in name order and returns the
// matching unlock.
func (l *Loop) lockClasses(classes []string) func() {
	names := append([]string(nil), classes...)
	sort.Strings(names)

	l.mu.Lock()
	locks := make([]*sync.Mutex, 0, len(names))
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		m, ok := l.classLocks[name]
		if !ok {
			m = &sync.Mutex{}
			l.classLocks[name] = m
		}
		locks = append(locks, m)
	}
	l.mu.Unlock()

	for _, m := range locks {
		m.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (l *Loop) rebuild(ctx context.Context, classes []string) {
	unlock := l.lockClasses(classes)
	defer unlock()

	if l.active.Add(1) == 1 {
		l.state.CompareAndSwap(int32(StateWatching), int32(StateRebuilding))
	}
	defer func() {
		if l.active.Add(-1) == 0 {
			l.state.CompareAndSwap(int32(StateRebuilding), int32(StateWatching))
		}
	}()

	start := time.Now()
	result, err := l.builder.Assemble(ctx, classes...)
	label := metrics.ResultOf(err, len(result.Warnings))
	for _, class := range classes {
		l.recorder.IncClassRebuild(class, label)
	}

	if err != nil {
		l.logger.Error(ctx, err, "Rebuild failed", "classes", classes)
		return
	}
	l.logger.Info(ctx, "Rebuilt",
		"classes", classes,
		"outputs", len(result.Outputs),
		"duration_ms", time.Since(start).Milliseconds())
}
