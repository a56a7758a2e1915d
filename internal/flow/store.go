package flow

import (
	"errors"
	"time"
)

var (
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotCancellable means the run already started or finished.
	ErrRunNotCancellable = errors.New("run is not cancellable")
)

// EventStore persists received events.
type EventStore interface {
	CreateEvent(event *Event) error
	// GetEvent returns nil, nil when the event does not exist.
	GetEvent(id string) (*Event, error)
}

// RunStore persists runs and their status transitions.
type RunStore interface {
	CreateRun(run *Run) error
	// GetRun returns nil, nil when the run does not exist.
	GetRun(id string) (*Run, error)
	ListRunsByEventID(eventID string) ([]Run, error)
	MarkRunning(id string, attempt int, at time.Time) error
	// RequeueRun puts a failed attempt back in line and records the error.
	RequeueRun(id string, errMsg string) error
	CompleteRun(id string, output string, at time.Time) error
	FailRun(id string, errMsg string, at time.Time) error
	// CancelRun cancels a run that is still Queued. It returns
	// ErrRunNotCancellable once the run started and ErrRunNotFound for
	// unknown ids.
	CancelRun(id string, at time.Time) error
}

// StepStore persists memoized step outputs.
type StepStore interface {
	// GetStep returns nil, nil when the step has not run yet.
	GetStep(runID, stepID string) (*RunStep, error)
	SaveStep(step *RunStep) error
}
