package lecture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"go.uber.org/zap"
)

// Teardown step names
const (
	StepAnimationFrames = "animation_frames"
	StepTimers          = "timers"
	StepIntervals       = "intervals"
	StepListeners       = "listeners"
	StepCleanupHook     = "cleanup_hook"
	StepMirrors         = "mirrors"
)

// Releaser cancels host resources by handle
type Releaser interface {
	Cancel(ref sandbox.Handle) bool
	Release(source, event string, ref sandbox.Handle) bool
	ClearMirrors(ctx context.Context) error
}

// TeardownResult summarizes one teardown
type TeardownResult struct {
	AlreadyTornDown bool          `json:"already_torn_down"`
	Released        Counts        `json:"released"`
	HookInvoked     bool          `json:"hook_invoked"`
	Failures        []string      `json:"failures,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// Teardown releases everything a view's content left behind. It is
// idempotent: every call after the first is a no-op.
type Teardown struct {
	scope   *Scope
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu  sync.Mutex
	rel Releaser
}

// NewTeardown creates a teardown coordinator for scope. rel may be attached
// later with Attach once the runtime exists.
func NewTeardown(scope *Scope, rel Releaser, logger *zap.Logger) *Teardown {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Teardown{
		scope:  scope,
		rel:    rel,
		logger: logger.With(zap.String("view_id", scope.ViewID.String()), zap.String("content_id", scope.ContentID)),
	}
}

// WithMetrics adds metrics tracking to the coordinator
func (td *Teardown) WithMetrics(metrics *monitoring.Metrics) *Teardown {
	td.metrics = metrics
	return td
}

// Attach sets the releaser. It reports false if teardown already ran.
func (td *Teardown) Attach(rel Releaser) bool {
	td.mu.Lock()
	defer td.mu.Unlock()
	if td.scope.State.Current() == StateTornDown {
		return false
	}
	td.rel = rel
	return true
}

// Run releases frames, timers, intervals and listeners, then invokes and
// clears the cleanup hook. Each step is guarded: a failure is logged and the
// next step still runs.
func (td *Teardown) Run(ctx context.Context) TeardownResult {
	td.mu.Lock()
	defer td.mu.Unlock()

	if td.scope.State.Current() == StateTornDown {
		return TeardownResult{AlreadyTornDown: true}
	}

	start := time.Now()
	// nothing created from here on can escape the drain below
	td.scope.Tracker.Close()

	var result TeardownResult
	steps := []struct {
		name string
		run  func() error
	}{
		{StepAnimationFrames, func() error {
			n, err := td.cancelAll(sandbox.KindAnimationFrame, StepAnimationFrames)
			result.Released.AnimationFrames = n
			return err
		}},
		{StepTimers, func() error {
			n, err := td.cancelAll(sandbox.KindTimer, StepTimers)
			result.Released.Timers = n
			return err
		}},
		{StepIntervals, func() error {
			n, err := td.cancelAll(sandbox.KindInterval, StepIntervals)
			result.Released.Intervals = n
			return err
		}},
		{StepListeners, func() error {
			n, err := td.releaseListeners()
			result.Released.Listeners = n
			return err
		}},
		{StepCleanupHook, func() error {
			hook := td.scope.takeCleanup()
			if hook == nil {
				return nil
			}
			result.HookInvoked = true
			return hook()
		}},
		{StepMirrors, func() error {
			if td.rel == nil {
				return nil
			}
			return td.rel.ClearMirrors(ctx)
		}},
	}

	for _, step := range steps {
		if err := guardStep(step.run); err != nil {
			result.Failures = append(result.Failures, step.name)
			td.logger.Warn("Teardown step failed",
				zap.String("step", step.name),
				zap.String("kind", string(KindResourceRelease)),
				zap.Error(err))
			if td.metrics != nil {
				td.metrics.RecordReleaseFailure(step.name)
			}
		}
	}

	td.scope.Tracker.Reset()
	if err := td.scope.State.Transition(StateTornDown); err != nil {
		td.logger.Error("Failed to enter torn down state", zap.Error(err))
	}

	result.Duration = time.Since(start)
	if td.metrics != nil {
		td.metrics.RecordReleased(sandbox.KindAnimationFrame.String(), result.Released.AnimationFrames)
		td.metrics.RecordReleased(sandbox.KindTimer.String(), result.Released.Timers)
		td.metrics.RecordReleased(sandbox.KindInterval.String(), result.Released.Intervals)
		td.metrics.RecordReleased(sandbox.KindListener.String(), result.Released.Listeners)
		td.metrics.IncTeardowns()
	}

	td.logger.Info("View torn down",
		zap.Int("frames", result.Released.AnimationFrames),
		zap.Int("timers", result.Released.Timers),
		zap.Int("intervals", result.Released.Intervals),
		zap.Int("listeners", result.Released.Listeners),
		zap.Bool("hook_invoked", result.HookInvoked),
		zap.Strings("failures", result.Failures),
		zap.Duration("duration", result.Duration))
	return result
}

// cancelAll drains kind and cancels every handle. It returns the number of
// cancellations issued.
func (td *Teardown) cancelAll(kind sandbox.Kind, step string) (int, error) {
	entries := td.scope.Tracker.Drain(kind)
	if td.rel == nil {
		return 0, nil
	}

	var errs []error
	n := 0
	for _, e := range entries {
		n++
		if err := guardStep(func() error {
			td.rel.Cancel(e.Ref)
			return nil
		}); err != nil {
			errs = append(errs, &ReleaseError{Step: step, Kind: kind, Ref: e.Ref, Err: err})
		}
	}
	return n, errors.Join(errs...)
}

// releaseListeners drains listeners and unsubscribes each with the exact
// {source, event, handler} it was registered with
func (td *Teardown) releaseListeners() (int, error) {
	entries := td.scope.Tracker.Drain(sandbox.KindListener)
	if td.rel == nil {
		return 0, nil
	}

	var errs []error
	n := 0
	for _, e := range entries {
		n++
		if err := guardStep(func() error {
			td.rel.Release(e.Source, e.Event, e.Ref)
			return nil
		}); err != nil {
			errs = append(errs, &ReleaseError{Step: StepListeners, Kind: sandbox.KindListener, Ref: e.Ref, Err: err})
		}
	}
	return n, errors.Join(errs...)
}

func guardStep(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
