package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

var (
	// ErrInvalidTransition is returned when a lifecycle rule is violated.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrRunLocked is returned when a result mutation targets a run that is
	// COMPLETED or CANCELLED.
	ErrRunLocked = errors.New("run is locked")

	// ErrEmptySelection is returned when a bulk request resolves to nothing.
	ErrEmptySelection = errors.New("selection resolved to no test cases")

	// ErrNotFound is returned for unknown runs, test cases, suites or modules.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStatus is returned for result statuses outside the closed set.
	ErrInvalidStatus = errors.New("invalid result status")

	// ErrValidation is returned for malformed input other than statuses.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable wraps failures of the persistence layer.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ItemFailure records why a single item of a bulk operation failed.
type ItemFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// MarshalJSON renders the failure with its error text.
func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	return json.Marshal(struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}{ID: f.ID, Error: msg})
}

// PartialFailureError is an error view over the failed items of a bulk
// operation whose other items succeeded.
type PartialFailureError struct {
	Succeeded int
	Failures  []ItemFailure
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}

	return fmt.Sprintf("%d items succeeded, %d failed: %s",
		e.Succeeded, len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap exposes the individual item errors to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}

	return errs
}

// sortFailures orders failures by item ID for deterministic output.
func sortFailures(failures []ItemFailure) {
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].ID < failures[j].ID
	})
}

// classify maps store errors onto the engine's error taxonomy. Errors that
// are already domain errors pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrRunLocked):
		return fmt.Errorf("%w: %w", ErrRunLocked, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrRunLocked, ErrEmptySelection, ErrNotFound,
		ErrInvalidStatus, ErrValidation, ErrStorageUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
