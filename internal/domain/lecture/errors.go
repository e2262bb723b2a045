package lecture

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
)

// ErrorKind is the stable name of a failure category
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = ErrorKind(content.KindUnauthorized)
	KindForbidden       ErrorKind = ErrorKind(content.KindForbidden)
	KindNotFound        ErrorKind = ErrorKind(content.KindNotFound)
	KindEmptyContent    ErrorKind = ErrorKind(content.KindEmptyContent)
	KindTransport       ErrorKind = ErrorKind(content.KindTransport)
	KindBlockExecution  ErrorKind = "block_execution_error"
	KindResourceRelease ErrorKind = "resource_release_error"
	KindContainer       ErrorKind = "container_not_ready"
)

var (
	// ErrContainerNotReady aborts execution when the container never populates
	ErrContainerNotReady = errors.New("content container not ready")
	// ErrBlockExecution matches every *BlockError
	ErrBlockExecution = errors.New("block execution failed")
	// ErrResourceRelease matches every *ReleaseError
	ErrResourceRelease = errors.New("resource release failed")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrViewNotFound      = errors.New("view not found")
	ErrViewClosed        = errors.New("view is not running")
)

// BlockError records a code block that failed to load or run. It is logged
// and reported, never propagated out of the executor.
type BlockError struct {
	Index    int
	Name     string
	External bool
	Err      error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

func (e *BlockError) Is(target error) bool {
	return target == ErrBlockExecution
}

// ReleaseError records a teardown step that failed
type ReleaseError struct {
	Step string
	Kind sandbox.Kind
	Ref  sandbox.Handle
	Err  error
}

func (e *ReleaseError) Error() string {
	if e.Ref != 0 {
		return fmt.Sprintf("release %s %d: %v", e.Step, e.Ref, e.Err)
	}
	return fmt.Sprintf("release %s: %v", e.Step, e.Err)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}

func (e *ReleaseError) Is(target error) bool {
	return target == ErrResourceRelease
}

// KindOf classifies err, returning "" for errors outside the taxonomy
func KindOf(err error) ErrorKind {
	if k := content.KindOf(err); k != "" {
		return ErrorKind(k)
	}
	switch {
	case errors.Is(err, ErrContainerNotReady):
		return KindContainer
	case errors.Is(err, ErrBlockExecution):
		return KindBlockExecution
	case errors.Is(err, ErrResourceRelease):
		return KindResourceRelease
	}
	return ""
}

// ErrorInfo is the learner-facing description of a failed view
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Describe converts err into an ErrorInfo, or nil for a nil error
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var loadErr *content.Error
	if errors.As(err, &loadErr) {
		return &ErrorInfo{Kind: ErrorKind(loadErr.Kind), Message: loadErr.Message()}
	}

	kind := KindOf(err)
	switch kind {
	case KindContainer:
		return &ErrorInfo{Kind: kind, Message: "The lecture could not be displayed. Please reload the page."}
	case "":
		return &ErrorInfo{Kind: "internal", Message: err.Error()}
	}
	return &ErrorInfo{Kind: kind, Message: err.Error()}
}
