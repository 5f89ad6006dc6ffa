package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// ErrNoNotifier is returned by StartWatching when the engine was built
// without a notification source.
var ErrNoNotifier = errors.New("no notification source configured")

// Option tunes engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	metrics  Metrics
	workers  int
	dryRun   bool
	failFast bool
}

// WithMetrics installs a metrics collector. The default is NoopMetrics.
func WithMetrics(m Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithWorkers bounds apply parallelism during reconciliation passes. The
// default of 1 means strictly sequential.
func WithWorkers(n int) Option {
	return func(o *engineOptions) { o.workers = n }
}

// WithDryRun logs every operation without touching the destination.
func WithDryRun(dryRun bool) Option {
	return func(o *engineOptions) { o.dryRun = dryRun }
}

// WithFailFast aborts a reconciliation pass on the first copy failure.
func WithFailFast(failFast bool) Option {
	return func(o *engineOptions) { o.failFast = failFast }
}

// WatchSession holds the subscription handle and completion signal of one
// live watch. At most one instance exists per engine.
type WatchSession struct {
	notifier Notifier
	// done is closed when the event loop has drained and exited.
	done chan struct{}
}

// SyncEngine owns the configuration, the watch session and the single apply
// serialization point. Full reconciliation passes and the live watcher may
// run concurrently; the apply point guarantees that two operations on the
// same destination path never interleave.
type SyncEngine struct {
	cfg     config.SyncConfig
	fsys    afero.Fs
	notify  NotifierFactory
	metrics Metrics

	policy     *ExclusionPolicy
	mapper     PathMapper
	applier    *Applier
	reconciler *TreeReconciler
	translator *MirrorEventTranslator

	mu      sync.Mutex
	session *WatchSession
}

// New validates the configuration and wires the engine. A nil notify factory
// disables StartWatching; RunFullSync remains available.
func New(cfg config.SyncConfig, fsys afero.Fs, notify NotifierFactory, opts ...Option) (*SyncEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{metrics: &NoopMetrics{}, workers: 1}
	for _, opt := range opts {
		opt(&o)
	}

	policy := NewExclusionPolicy(cfg)
	mapper := NewPathMapper(cfg.SourceRoot, cfg.DestRoot)
	applier := NewApplier(fsys, mapper, o.metrics, o.dryRun)
	reconciler := NewTreeReconciler(fsys, policy, mapper, applier, o.metrics, o.workers, o.failFast)

	return &SyncEngine{
		cfg:        cfg,
		fsys:       fsys,
		notify:     notify,
		metrics:    o.metrics,
		policy:     policy,
		mapper:     mapper,
		applier:    applier,
		reconciler: reconciler,
		translator: NewMirrorEventTranslator(fsys, policy, mapper, applier, reconciler, o.metrics),
	}, nil
}

// Config returns the validated, immutable configuration the engine owns.
func (e *SyncEngine) Config() config.SyncConfig { return e.cfg }

// Metrics returns the engine's metrics collector.
func (e *SyncEngine) Metrics() Metrics { return e.metrics }

// RunFullSync performs one full reconciliation pass, synchronously. It is
// safe to call repeatedly and idempotent: a second immediate call finds
// every destination file already current and copies nothing. It may run
// concurrently with the live watcher.
func (e *SyncEngine) RunFullSync(ctx context.Context) (*Result, error) {
	plog.Info("Starting full reconciliation", "source", e.cfg.SourceRoot, "dest", e.cfg.DestRoot)

	result, err := e.reconciler.Run(ctx)
	if err != nil {
		return result, err
	}

	plog.Notice("Full reconciliation finished", "files_copied", result.CopiedCount(), "failed", result.Failed)
	return result, nil
}

// WatchState returns the lifecycle state of the live watch path.
func (e *SyncEngine) WatchState() WatchState {
	return e.translator.State()
}

// StartWatching establishes the notification subscription and begins
// translating live events into mirror operations. It fails when a watch is
// already running or when the subscription cannot be established, in which
// case the engine remains stopped.
func (e *SyncEngine) StartWatching(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.notify == nil {
		return ErrNoNotifier
	}
	if err := e.translator.beginStart(); err != nil {
		return err
	}

	notifier, err := e.notify(e.cfg.SourceRoot)
	if err != nil {
		e.translator.abortStart()
		return fmt.Errorf("failed to start watching %s: %w", e.cfg.SourceRoot, err)
	}

	session := &WatchSession{notifier: notifier, done: make(chan struct{})}
	e.translator.completeStart()
	e.session = session

	go e.eventLoop(ctx, session)

	plog.Notice("Watching for changes", "source", e.cfg.SourceRoot)
	return nil
}

// StopWatching ends the live watch. It stops new deliveries, waits for the
// event already being applied to finish, then releases the session. Safe to
// call at any time after StartWatching succeeded.
func (e *SyncEngine) StopWatching() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.translator.beginStop(); err != nil {
		return err
	}

	if err := e.session.notifier.Close(); err != nil {
		plog.Warn("Failed to close notification source", "error", err)
	}
	// Wait for the event loop to drain; partially applied operations are
	// never rolled back.
	<-e.session.done

	e.translator.completeStop()
	e.session = nil

	plog.Notice("Stopped watching", "source", e.cfg.SourceRoot)
	return nil
}

// eventLoop drains the notification channels until both are closed.
func (e *SyncEngine) eventLoop(ctx context.Context, session *WatchSession) {
	defer close(session.done)

	events := session.notifier.Events()
	errs := session.notifier.Errors()

	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.translator.Handle(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				plog.Warn("Watcher error", "error", err)
			}
		}
	}
}
