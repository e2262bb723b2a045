package lecture

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"go.uber.org/zap"
)

// retainedViews bounds how many finished views stay queryable
const retainedViews = 32

// Loader fetches lecture content
type Loader interface {
	Load(ctx context.Context, contentID, token string) (*content.Item, error)
}

// FetcherFactory returns the external block fetcher for a learner's token
type FetcherFactory func(token string) Fetcher

// Options configures views created by a Manager
type Options struct {
	Executor ExecutorOptions
	Sandbox  sandbox.Config
}

// DefaultOptions returns manager defaults
func DefaultOptions() Options {
	return Options{
		Executor: DefaultExecutorOptions(),
		Sandbox:  sandbox.DefaultConfig(),
	}
}

// Manager owns the lecture view lifecycle. At most one view is active:
// mounting a lecture tears down the previous one first.
type Manager struct {
	loader   Loader
	fetchers FetcherFactory
	opts     Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	mu     sync.Mutex
	active *View
	views  map[id.ViewID]*View
	order  []id.ViewID

	closers sync.WaitGroup
}

// NewManager creates a view manager
func NewManager(loader Loader, fetchers FetcherFactory, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		loader:   loader,
		fetchers: fetchers,
		opts:     opts,
		logger:   logger,
		views:    make(map[id.ViewID]*View),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithTracer adds span tracing to mounts
func (m *Manager) WithTracer(tracer *tracing.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// Mount tears down the active view, then loads, injects and executes
// contentID in a fresh view. The view is returned even when mounting fails
// so its error can be shown; the error is a loader error,
// ErrContainerNotReady, or ErrViewClosed if the view was unmounted while
// mounting.
func (m *Manager) Mount(ctx context.Context, contentID, token string) (*View, error) {
	var v *View
	if m.tracer != nil {
		var span *tracing.Span
		span, ctx = m.tracer.StartSpan(ctx, "lecture.mount")
		span.SetTag("content_id", contentID)
		defer func() {
			span.SetTag("state", v.State().String())
			m.tracer.End(span)
		}()
	}

	v = newView(contentID, m.logger)

	m.mu.Lock()
	prev := m.active
	m.active = v
	m.rememberLocked(v)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("Leaving lecture view",
			zap.String("view_id", prev.ID.String()),
			zap.String("content_id", prev.ContentID))
		m.release(ctx, prev)
	}
	if m.metrics != nil {
		m.metrics.IncViewsTotal()
		m.metrics.SetViewsActive(1)
	}

	err := m.run(ctx, v, token)
	if err != nil {
		v.logger.Warn("Lecture mount stopped", zap.Stringer("state", v.State()), zap.Error(err))
	}
	return v, err
}

func (m *Manager) run(ctx context.Context, v *View, token string) error {
	defer close(v.walkDone)

	if err := v.scope.State.Transition(StateLoading); err != nil {
		return ErrViewClosed
	}

	item, err := m.loader.Load(ctx, v.ContentID, token)
	if err != nil {
		v.setErr(err)
		// a failed load leaves the view retryable
		_ = v.scope.State.Transition(StateIdle)
		return err
	}
	v.setItem(item)
	tracing.Mark(ctx, "loaded")

	v.container.Inject(item.Markup)
	if err := v.scope.State.Transition(StateInjected); err != nil {
		return ErrViewClosed
	}
	tracing.Mark(ctx, "injected")

	cfg := m.opts.Sandbox
	cfg.ContentID = v.ContentID
	rt, err := sandbox.New(cfg, v.container, sandbox.Bindings{
		Recorder:  v.scope.Tracker,
		OnCleanup: v.scope.SetCleanup,
		OnError:   v.callbackError,
		Logger:    v.logger,
	})
	if err != nil {
		err = fmt.Errorf("create runtime: %w", err)
		v.setErr(err)
		return err
	}
	v.setRuntime(rt)
	if !v.teardown.Attach(rt) {
		return ErrViewClosed
	}
	if m.metrics != nil {
		v.scope.Tracker.OnRecord(func(kind sandbox.Kind) { m.metrics.RecordRegistered(kind.String()) })
		v.teardown.WithMetrics(m.metrics)
	}

	var fetcher Fetcher
	if m.fetchers != nil {
		fetcher = m.fetchers(token)
	}
	exec := NewExecutor(v.scope, v.container, rt, fetcher, m.opts.Executor, v.logger).WithMetrics(m.metrics)
	exec.OnBlockError = v.blockError

	signal, err := exec.Run(ctx)
	if err != nil {
		v.setErr(err)
		return err
	}
	v.setSignal(signal)
	tracing.Mark(ctx, "executed")
	return nil
}

// release tears v down and closes its runtime once its walk has finished
func (m *Manager) release(ctx context.Context, v *View) TeardownResult {
	result := v.teardown.Run(ctx)
	if !result.AlreadyTornDown {
		res := result
		v.events.Publish(Event{Type: EventTornDown, ViewID: v.ID, State: StateTornDown, Teardown: &res})
	}

	select {
	case <-v.walkDone:
		v.closeRuntime()
	default:
		m.closers.Add(1)
		go func() {
			defer m.closers.Done()
			<-v.walkDone
			v.closeRuntime()
		}()
	}
	return result
}

// Get returns a mounted or recently torn down view
func (m *Manager) Get(viewID id.ViewID) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, viewID)
	}
	return v, nil
}

// Active returns the active view, or nil
func (m *Manager) Active() *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Unmount tears down a view. Unmounting a view that is already torn down is
// a no-op reported through TeardownResult.AlreadyTornDown.
func (m *Manager) Unmount(ctx context.Context, viewID id.ViewID) (TeardownResult, error) {
	m.mu.Lock()
	v, ok := m.views[viewID]
	if !ok {
		m.mu.Unlock()
		return TeardownResult{}, fmt.Errorf("%w: %s", ErrViewNotFound, viewID)
	}
	if m.active == v {
		m.active = nil
	}
	m.mu.Unlock()

	result := m.release(ctx, v)
	if m.metrics != nil && m.Active() == nil {
		m.metrics.SetViewsActive(0)
	}
	return result, nil
}

// Close tears down the active view and waits for every runtime to stop
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.mu.Unlock()

	if active != nil {
		m.release(ctx, active)
	}
	m.closers.Wait()
	if m.metrics != nil {
		m.metrics.SetViewsActive(0)
	}
}

func (m *Manager) rememberLocked(v *View) {
	m.views[v.ID] = v
	m.order = append(m.order, v.ID)

	for len(m.order) > retainedViews {
		oldest := m.order[0]
		if m.views[oldest] == m.active {
			break
		}
		m.order = m.order[1:]
		delete(m.views, oldest)
	}
}
