package execution

import (
	"fmt"
	"time"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// Event names a lifecycle transition.
type Event string

// Lifecycle events.
const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventReopen   Event = "reopen"
	EventCancel   Event = "cancel"
)

// transitions lists, per event, the states it may be applied in and the
// state it leads to.
var transitions = map[Event]struct {
	from []store.RunStatus
	to   store.RunStatus
}{
	EventStart:    {from: []store.RunStatus{store.RunPlanned}, to: store.RunInProgress},
	EventComplete: {from: []store.RunStatus{store.RunInProgress}, to: store.RunCompleted},
	EventReopen:   {from: []store.RunStatus{store.RunCompleted}, to: store.RunInProgress},
	EventCancel: {
		from: []store.RunStatus{store.RunPlanned, store.RunInProgress},
		to:   store.RunCancelled,
	},
}

// ParseEvent converts a string into a lifecycle Event.
func ParseEvent(s string) (Event, error) {
	ev := Event(s)
	if _, ok := transitions[ev]; !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrValidation, s)
	}

	return ev, nil
}

// Apply applies ev to run in memory and returns the state the run was in
// before. Timestamps follow the lifecycle rules: StartedAt is set only when
// leaving PLANNED for IN_PROGRESS, CompletedAt only on completion and it is
// cleared again on reopen.
func Apply(run *store.Run, ev Event, now time.Time) (store.RunStatus, error) {
	t, ok := transitions[ev]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrValidation, ev)
	}

	from := run.Status

	allowed := false

	for _, s := range t.from {
		if s == from {
			allowed = true

			break
		}
	}

	if !allowed {
		return "", fmt.Errorf("%w: cannot %s a run that is %s",
			ErrInvalidTransition, ev, from)
	}

	run.Status = t.to

	switch ev {
	case EventStart:
		run.StartedAt = &now
	case EventComplete:
		run.CompletedAt = &now
	case EventReopen:
		run.CompletedAt = nil
	case EventCancel:
	}

	return from, nil
}

// Start moves a PLANNED run to IN_PROGRESS.
func Start(run *store.Run, now time.Time) error {
	_, err := Apply(run, EventStart, now)

	return err
}

// Complete moves an IN_PROGRESS run to COMPLETED.
func Complete(run *store.Run, now time.Time) error {
	_, err := Apply(run, EventComplete, now)

	return err
}

// Reopen moves a COMPLETED run back to IN_PROGRESS.
func Reopen(run *store.Run) error {
	_, err := Apply(run, EventReopen, time.Time{})

	return err
}

// Cancel moves a PLANNED or IN_PROGRESS run to CANCELLED.
func Cancel(run *store.Run) error {
	_, err := Apply(run, EventCancel, time.Time{})

	return err
}

// CheckMutable fails with ErrRunLocked unless the run's result set may
// still change.
func CheckMutable(run *store.Run) error {
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrRunLocked, run.ID, run.Status)
	}

	return nil
}
