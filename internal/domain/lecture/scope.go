package lecture

import (
	"sync"

	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"go.uber.org/zap"
)

// CleanupHook is the author-supplied cleanup function registered by content
type CleanupHook func() error

// Scope is the per-view context shared by the executor, the runtime
// bindings and teardown. It replaces any ambient global state: the resource
// set and the cleanup hook live here and nowhere else.
type Scope struct {
	ViewID    id.ViewID
	ContentID string
	Tracker   *Tracker
	State     *StateMachine

	mu      sync.Mutex
	cleanup CleanupHook
	logger  *zap.Logger
}

// NewScope creates a scope in Idle. onChange observes state transitions.
func NewScope(viewID id.ViewID, contentID string, logger *zap.Logger, onChange func(from, to State)) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{
		ViewID:    viewID,
		ContentID: contentID,
		Tracker:   NewTracker(logger),
		State:     NewStateMachine(onChange),
		logger:    logger,
	}
}

// SetCleanup stores the cleanup hook. A later hook replaces an earlier one;
// registration after teardown has begun is ignored.
func (s *Scope) SetCleanup(hook func() error) {
	if hook == nil {
		return
	}
	if s.Tracker.Closed() {
		s.logger.Warn("Cleanup hook registered after teardown, ignoring",
			zap.String("view_id", s.ViewID.String()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanup != nil {
		s.logger.Debug("Replacing cleanup hook", zap.String("view_id", s.ViewID.String()))
	}
	s.cleanup = hook
}

// HasCleanup reports whether a cleanup hook is registered
func (s *Scope) HasCleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanup != nil
}

// takeCleanup returns the hook and clears it so it runs at most once
func (s *Scope) takeCleanup() CleanupHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook := s.cleanup
	s.cleanup = nil
	return hook
}
