package comments

import (
	"context"
	"errors"
	"fmt"

	"community/pkg/storage"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("service unavailable")

	ErrCommentNotFound = fmt.Errorf("comment %w", ErrNotFound)
	ErrParentNotFound  = fmt.Errorf("parent comment %w", ErrNotFound)
)

// ValidationError reports request input that was rejected before reaching the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// storeErr maps storage failures onto the service error set.
func storeErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrCommentNotFound):
		return ErrCommentNotFound
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("store: %w", err)
}
