package lecture

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"go.uber.org/zap"
)

// BlockErrorInfo describes an isolated block failure
type BlockErrorInfo struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	External bool   `json:"external"`
	Message  string `json:"message"`
	Count    int    `json:"count"`
}

// maxBlockErrors bounds the distinct block errors a view retains. Repeats
// of a retained error only bump its count.
const maxBlockErrors = 50

// Snapshot is a point-in-time view description
type Snapshot struct {
	ViewID      id.ViewID          `json:"view_id"`
	ContentID   string             `json:"content_id"`
	State       State              `json:"state"`
	Title       string             `json:"title,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Digest      string             `json:"digest,omitempty"`
	MediaType   string             `json:"media_type,omitempty"`
	LoadedAt    *time.Time         `json:"loaded_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Resources   Counts             `json:"resources"`
	CleanupHook bool               `json:"cleanup_hook"`
	Completion  *CompletionSignal  `json:"completion,omitempty"`
	Error       *ErrorInfo         `json:"error,omitempty"`
	BlockErrors []BlockErrorInfo   `json:"block_errors,omitempty"`
	Dropped     int                `json:"block_errors_dropped,omitempty"`
	Console     []sandbox.LogEntry `json:"console,omitempty"`
	Markup      string             `json:"markup,omitempty"`
}

// View is one mounted lecture: its scope, document, runtime and lifecycle
type View struct {
	ID        id.ViewID
	ContentID string
	CreatedAt time.Time

	scope     *Scope
	teardown  *Teardown
	events    *Notifier
	container *sandbox.Container
	logger    *zap.Logger

	mu        sync.RWMutex
	item      *content.Item
	runtime   *sandbox.Runtime
	signal    *CompletionSignal
	err       error
	blockErrs []BlockErrorInfo
	dropped   int

	walkDone  chan struct{}
	closeOnce sync.Once
}

func newView(contentID string, logger *zap.Logger) *View {
	viewID := id.NewViewID()
	logger = logger.With(zap.String("view_id", viewID.String()), zap.String("content_id", contentID))

	v := &View{
		ID:        viewID,
		ContentID: contentID,
		CreatedAt: viewID.MountedAt(),
		events:    NewNotifier(),
		container: sandbox.NewContainer(),
		logger:    logger,
		walkDone:  make(chan struct{}),
	}
	v.scope = NewScope(viewID, contentID, logger, func(from, to State) {
		f := from
		v.events.Publish(Event{Type: EventState, ViewID: viewID, State: to, From: &f})
	})
	v.teardown = NewTeardown(v.scope, nil, logger)
	return v
}

// State returns the current execution state
func (v *View) State() State {
	return v.scope.State.Current()
}

// Signal returns the completion signal, or nil before execution finished
func (v *View) Signal() *CompletionSignal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.signal
}

// Err returns the error that stopped the view, if any
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Item returns the loaded content, or nil
func (v *View) Item() *content.Item {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.item
}

// Markup returns the container's current markup
func (v *View) Markup() string {
	return v.container.HTML()
}

// Subscribe streams lifecycle events until the view is closed
func (v *View) Subscribe() (<-chan Event, func()) {
	return v.events.Subscribe()
}

// Dispatch fires an event into the running content
func (v *View) Dispatch(ctx context.Context, target, event string, detail any) (int, error) {
	rt := v.liveRuntime()
	if rt == nil {
		return 0, ErrViewClosed
	}
	return rt.Dispatch(ctx, target, event, detail)
}

// Eval evaluates an expression in the view's global scope
func (v *View) Eval(ctx context.Context, expr string) (any, error) {
	rt := v.liveRuntime()
	if rt == nil {
		return nil, ErrViewClosed
	}
	return rt.Eval(ctx, expr)
}

func (v *View) liveRuntime() *sandbox.Runtime {
	if v.State() == StateTornDown {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.runtime
}

// Snapshot describes the view. Markup is included when withMarkup is set.
func (v *View) Snapshot(withMarkup bool) Snapshot {
	v.mu.RLock()
	s := Snapshot{
		ViewID:      v.ID,
		ContentID:   v.ContentID,
		CreatedAt:   v.CreatedAt,
		Completion:  v.signal,
		Error:       Describe(v.err),
		BlockErrors: append([]BlockErrorInfo(nil), v.blockErrs...),
		Dropped:     v.dropped,
	}
	if v.item != nil {
		loaded := v.item.LoadedAt
		s.Title = v.item.Title
		s.Summary = v.item.Summary
		s.Digest = v.item.Digest
		s.MediaType = v.item.MediaType
		s.LoadedAt = &loaded
	}
	rt := v.runtime
	v.mu.RUnlock()

	s.State = v.State()
	s.Resources = v.scope.Tracker.Counts()
	s.CleanupHook = v.scope.HasCleanup()
	if rt != nil {
		s.Console = rt.Console()
	}
	if withMarkup {
		s.Markup = v.container.HTML()
	}
	return s
}

func (v *View) setItem(item *content.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.item = item
}

func (v *View) setRuntime(rt *sandbox.Runtime) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.runtime = rt
}

func (v *View) setErr(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.events.Publish(Event{Type: EventState, ViewID: v.ID, State: v.State(), Error: Describe(err)})
}

func (v *View) setSignal(signal *CompletionSignal) {
	v.mu.Lock()
	v.signal = signal
	v.mu.Unlock()
	v.events.Publish(Event{Type: EventReady, ViewID: v.ID, State: v.State(), Signal: signal})
}

func (v *View) blockError(err *BlockError) {
	info := BlockErrorInfo{Index: err.Index, Name: err.Name, External: err.External, Message: err.Err.Error(), Count: 1}
	if !v.recordBlockError(info) {
		return
	}

	index := err.Index
	v.events.Publish(Event{
		Type:   EventBlockError,
		ViewID: v.ID,
		State:  v.State(),
		Block:  &index,
		Error:  &ErrorInfo{Kind: KindBlockExecution, Message: info.Message},
	})
}

// recordBlockError retains info and reports whether it is new. A throwing
// interval repeats the same error, so repeats are counted, not stored.
func (v *View) recordBlockError(info BlockErrorInfo) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.blockErrs {
		e := &v.blockErrs[i]
		if e.Index == info.Index && e.Name == info.Name && e.Message == info.Message {
			e.Count++
			return false
		}
	}
	if len(v.blockErrs) >= maxBlockErrors {
		v.dropped++
		return false
	}
	v.blockErrs = append(v.blockErrs, info)
	return true
}

// callbackError records failures thrown by timers and listeners after their
// block finished
func (v *View) callbackError(origin int, err error) {
	v.blockError(&BlockError{Index: origin, Name: "callback", Err: err})
}

// closeRuntime stops the runtime and ends event subscriptions. It runs once
// the walk has finished and teardown has released every resource.
func (v *View) closeRuntime() {
	v.closeOnce.Do(func() {
		v.mu.RLock()
		rt := v.runtime
		v.mu.RUnlock()
		if rt != nil {
			rt.Close()
		}
		v.events.Close()
		v.logger.Debug("View runtime closed")
	})
}
