package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses. A run starts Queued, moves to Running when a worker picks
// it up, and ends in exactly one of Completed, Failed or Cancelled.
const (
	StatusQueued    = "Queued"
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusCancelled = "Cancelled"
)

// Event is a received trigger with its raw JSON data.
type Event struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:128;not null;index" json:"name"`
	Data       string    `gorm:"type:text" json:"data"` // raw JSON object
	ReceivedAt time.Time `json:"received_at"`
}

// UnmarshalData decodes the event data into v.
func (e *Event) UnmarshalData(v interface{}) error {
	if e.Data == "" {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("decode event data failed: %w", err)
	}
	return nil
}

// Run is one execution of a function for one event.
type Run struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	EventID    string     `gorm:"size:36;not null;index" json:"event_id"`
	FunctionID string     `gorm:"size:128;not null;index" json:"function_id"`
	Status     string     `gorm:"size:16;not null;index" json:"status"`
	Attempt    int        `gorm:"not null;default:0" json:"attempt"`
	Output     string     `gorm:"type:text" json:"output"` // JSON
	Error      string     `gorm:"type:text" json:"error"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
}

// Terminal reports whether the run reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RunStep is the memoized output of one step of a run. Once a step row
// exists, replays of the run reuse its output instead of re-executing.
type RunStep struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"size:36;not null;uniqueIndex:uniq_run_step" json:"run_id"`
	StepID    string    `gorm:"size:128;not null;uniqueIndex:uniq_run_step" json:"step_id"`
	Output    string    `gorm:"type:text" json:"output"` // JSON
	CreatedAt time.Time `json:"created_at"`
}
