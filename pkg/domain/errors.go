package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by stores. Callers match them with errors.Is.
var (
	// ErrNotFound reports a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid reports a record that fails field validation.
	ErrInvalid = errors.New("invalid record")
	// ErrConflict reports an identifier collision.
	ErrConflict = errors.New("conflict")
)

// NotFound wraps ErrNotFound with the entity and identifier.
func NotFound(entity EntityType, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}

// Validate checks that the position carries a name.
func (p Position) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("position name required: %w", ErrInvalid)
	}
	return nil
}

// Validate checks that the worker carries a name.
func (w Worker) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("worker name required: %w", ErrInvalid)
	}
	return nil
}

// Validate checks the task date and duration.
func (t Task) Validate() error {
	if t.Date.IsZero() {
		return fmt.Errorf("task date required: %w", ErrInvalid)
	}
	if t.Duration <= 0 {
		return fmt.Errorf("task duration must be positive, got %d: %w", t.Duration, ErrInvalid)
	}
	return nil
}
