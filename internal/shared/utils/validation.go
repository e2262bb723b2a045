package utils

import (
	"fmt"
	"regexp"
)

// String length limits
const (
	MaxContentIDLength = 128
	MaxEventTypeLength = 64
	MaxSelectorLength  = 256
)

var (
	// ContentIDPattern allows alphanumerics, dots, hyphens and underscores
	// ("db-intro.html")
	ContentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// EventTypePattern matches DOM event names, including custom ones
	// ("lecturecontentready", "quiz:answered")
	EventTypePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.:-]*$`)
)

// ValidationError describes a rejected client value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateContentID checks a lecture identifier received from a client
func ValidateContentID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: "content id", Message: "must not be empty"}
	case len(id) > MaxContentIDLength:
		return &ValidationError{Field: "content id", Message: fmt.Sprintf("longer than %d characters", MaxContentIDLength)}
	case !ContentIDPattern.MatchString(id):
		return &ValidationError{Field: "content id", Message: "may only contain letters, digits, '.', '-' and '_'"}
	case id == "." || id == "..":
		return &ValidationError{Field: "content id", Message: "must not be a path segment"}
	}
	return nil
}

// ValidateEventType checks an event name for host dispatch
func ValidateEventType(event string) error {
	switch {
	case event == "":
		return &ValidationError{Field: "event type", Message: "must not be empty"}
	case len(event) > MaxEventTypeLength:
		return &ValidationError{Field: "event type", Message: fmt.Sprintf("longer than %d characters", MaxEventTypeLength)}
	case !EventTypePattern.MatchString(event):
		return &ValidationError{Field: "event type", Message: "not a valid event name"}
	}
	return nil
}

// ValidateTarget checks a dispatch target: "window", "document" or a selector
func ValidateTarget(target string) error {
	if len(target) > MaxSelectorLength {
		return &ValidationError{Field: "target", Message: fmt.Sprintf("longer than %d characters", MaxSelectorLength)}
	}
	return nil
}
