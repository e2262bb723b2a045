package lecture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Lifecycle events fired once every block has been processed
const (
	EventContentReady        = "DOMContentLoaded"
	EventLectureContentReady = "lecturecontentready"
)

// Block state attribute values
const (
	BlockLoading  = "loading"
	BlockExecuted = "executed"
	BlockFailed   = "failed"
	BlockSkipped  = "skipped"
)

var closingScriptTag = regexp.MustCompile(`(?i)</script`)

// Runner executes code in the view's global scope
type Runner interface {
	Execute(ctx context.Context, block sandbox.Block) error
	Dispatch(ctx context.Context, target, event string, detail any) (int, error)
}

// Fetcher loads the source of externally-sourced blocks
type Fetcher interface {
	FetchScript(ctx context.Context, src string) (string, error)
}

// Document is the container the executor walks
type Document interface {
	Populated() bool
	Scripts() []sandbox.ScriptNode
	ReplaceScript(old sandbox.ScriptNode, text string, attrs map[string]string) (*html.Node, error)
	SetAttr(n *html.Node, key, value string)
}

// ExecutorOptions bounds the readiness poll and external loads
type ExecutorOptions struct {
	PollAttempts    uint
	PollInterval    time.Duration
	ExternalTimeout time.Duration
}

// DefaultExecutorOptions returns the executor defaults
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		PollAttempts:    10,
		PollInterval:    20 * time.Millisecond,
		ExternalTimeout: 10 * time.Second,
	}
}

// CompletionSignal reports that every block has been processed. It is
// produced exactly once per view.
type CompletionSignal struct {
	ContentID   string        `json:"content_id"`
	Blocks      int           `json:"blocks"`
	Executed    int           `json:"executed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Listeners   int           `json:"listeners_notified"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Executor runs a view's code blocks in document order
type Executor struct {
	scope   *Scope
	doc     Document
	runner  Runner
	fetcher Fetcher
	opts    ExecutorOptions
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// OnBlockError observes isolated block failures
	OnBlockError func(err *BlockError)

	once sync.Once
}

// NewExecutor creates an executor for scope
func NewExecutor(scope *Scope, doc Document, runner Runner, fetcher Fetcher, opts ExecutorOptions, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollAttempts == 0 {
		opts.PollAttempts = 1
	}
	return &Executor{
		scope:   scope,
		doc:     doc,
		runner:  runner,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With(zap.String("view_id", scope.ViewID.String()), zap.String("content_id", scope.ContentID)),
	}
}

// WithMetrics adds metrics tracking to the executor
func (e *Executor) WithMetrics(metrics *monitoring.Metrics) *Executor {
	e.metrics = metrics
	return e
}

// Run waits for the container, processes every block and fires the
// content-ready events. Only ErrContainerNotReady (or a view torn down
// before execution began) is returned; block failures are isolated. Run may
// be called once; later calls return ErrInvalidTransition.
func (e *Executor) Run(ctx context.Context) (*CompletionSignal, error) {
	started := false
	e.once.Do(func() { started = true })
	if !started {
		return nil, fmt.Errorf("%w: executor already ran", ErrInvalidTransition)
	}

	// the walk is not cancelled by the caller going away
	ctx = context.WithoutCancel(ctx)

	if err := e.awaitContainer(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.IncContainerFaults()
		}
		e.logger.Error("Content container never became ready",
			zap.Uint("attempts", e.opts.PollAttempts),
			zap.Error(err))
		return nil, fmt.Errorf("%w after %d attempts", ErrContainerNotReady, e.opts.PollAttempts)
	}

	if err := e.scope.State.Transition(StateExecuting); err != nil {
		return nil, err
	}

	start := time.Now()
	blocks := e.doc.Scripts()
	signal := &CompletionSignal{ContentID: e.scope.ContentID, Blocks: len(blocks)}

	for i, block := range blocks {
		switch outcome := e.process(ctx, i, block); outcome {
		case BlockExecuted:
			signal.Executed++
		case BlockSkipped:
			signal.Skipped++
		default:
			signal.Failed++
		}
	}

	if e.scope.State.Current() == StateExecuting {
		signal.Listeners = e.fireReady(ctx)
	} else {
		e.logger.Info("View torn down during execution, not firing ready events")
	}

	signal.CompletedAt = time.Now()
	signal.Duration = time.Since(start)

	if err := e.scope.State.Transition(StateReady); err != nil {
		e.logger.Debug("Not entering ready", zap.Error(err))
	}

	e.logger.Info("Lecture content executed",
		zap.Int("blocks", signal.Blocks),
		zap.Int("executed", signal.Executed),
		zap.Int("failed", signal.Failed),
		zap.Int("skipped", signal.Skipped),
		zap.Duration("duration", signal.Duration))
	return signal, nil
}

// awaitContainer polls until the container has content, backing off
// between attempts
func (e *Executor) awaitContainer(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.PollInterval
	b.MaxInterval = 8 * e.opts.PollInterval
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if e.doc.Populated() {
			return struct{}{}, nil
		}
		return struct{}{}, ErrContainerNotReady
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.opts.PollAttempts),
		backoff.WithNotify(func(_ error, next time.Duration) {
			e.logger.Debug("Container not populated yet", zap.Duration("retry_in", next))
		}),
	)
	return err
}

// process handles one block and returns its final state attribute
func (e *Executor) process(ctx context.Context, index int, block sandbox.ScriptNode) string {
	start := time.Now()
	kind := "inline"
	if block.Src != "" {
		kind = "external"
	}

	var outcome string
	switch {
	case !block.IsJavaScript():
		kind = "data"
		outcome = BlockSkipped
	case block.Src != "":
		outcome = e.runExternal(ctx, index, block)
	default:
		outcome = e.runInline(ctx, index, block)
	}

	if e.metrics != nil {
		result := "ok"
		if outcome == BlockFailed {
			result = "error"
		} else if outcome == BlockSkipped {
			result = "skipped"
		}
		e.metrics.RecordBlock(kind, result, time.Since(start))
	}
	return outcome
}

// runExternal swaps the placeholder for a fresh node, then loads and runs
// the source. Load failure and success both let the walk continue.
func (e *Executor) runExternal(ctx context.Context, index int, block sandbox.ScriptNode) string {
	fresh, err := e.doc.ReplaceScript(block, "", map[string]string{sandbox.BlockStateAttr: BlockLoading})
	if err != nil {
		e.fail(&BlockError{Index: index, Name: block.Src, External: true, Err: err})
		return BlockFailed
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.ExternalTimeout)
	source, err := e.guard(func() (string, error) {
		if e.fetcher == nil {
			return "", errors.New("no fetcher configured for external blocks")
		}
		return e.fetcher.FetchScript(fetchCtx, block.Src)
	})
	cancel()
	if err == nil {
		_, err = e.guard(func() (string, error) {
			return "", e.runner.Execute(ctx, sandbox.Block{Index: index, Name: block.Src, Source: source})
		})
	}

	if err != nil {
		e.doc.SetAttr(fresh, sandbox.BlockStateAttr, BlockFailed)
		e.fail(&BlockError{Index: index, Name: block.Src, External: true, Err: err})
		return BlockFailed
	}
	e.doc.SetAttr(fresh, sandbox.BlockStateAttr, BlockExecuted)
	return BlockExecuted
}

// runInline replaces the block with an executable copy and runs it under a
// guard; the walk moves on immediately afterwards
func (e *Executor) runInline(ctx context.Context, index int, block sandbox.ScriptNode) string {
	name := fmt.Sprintf("inline-%d", index)
	text := closingScriptTag.ReplaceAllString(block.Text, `<\/script`)

	fresh, err := e.doc.ReplaceScript(block, text, map[string]string{sandbox.BlockStateAttr: BlockExecuted})
	if err != nil {
		e.fail(&BlockError{Index: index, Name: name, Err: err})
		return BlockFailed
	}

	_, err = e.guard(func() (string, error) {
		return "", e.runner.Execute(ctx, sandbox.Block{Index: index, Name: name, Source: text})
	})
	if err != nil {
		e.doc.SetAttr(fresh, sandbox.BlockStateAttr, BlockFailed)
		e.fail(&BlockError{Index: index, Name: name, Err: err})
		return BlockFailed
	}
	return BlockExecuted
}

func (e *Executor) guard(fn func() (string, error)) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (e *Executor) fail(err *BlockError) {
	e.logger.Warn("Code block failed",
		zap.Int("block", err.Index),
		zap.String("name", err.Name),
		zap.Bool("external", err.External),
		zap.String("kind", string(KindBlockExecution)),
		zap.Error(err.Err))
	if e.OnBlockError != nil {
		e.OnBlockError(err)
	}
}

// fireReady dispatches the content-ready events and returns how many
// listeners ran
func (e *Executor) fireReady(ctx context.Context) int {
	total := 0
	events := []struct {
		target string
		name   string
		detail any
	}{
		{sandbox.TargetDocument, EventContentReady, nil},
		{sandbox.TargetWindow, EventLectureContentReady, map[string]any{"contentId": e.scope.ContentID}},
	}
	for _, ev := range events {
		n, err := e.runner.Dispatch(ctx, ev.target, ev.name, ev.detail)
		if err != nil {
			e.logger.Warn("Failed to fire lifecycle event", zap.String("event", ev.name), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}
