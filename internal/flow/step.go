package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Context is handed to function handlers. It carries the triggering
// event, the current run and access to memoized step outputs.
type Context struct {
	ctx   context.Context
	event *Event
	run   *Run
	steps StepStore
}

func NewContext(ctx context.Context, event *Event, run *Run, steps StepStore) *Context {
	return &Context{ctx: ctx, event: event, run: run, steps: steps}
}

func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) Event() *Event { return c.event }

func (c *Context) Run() *Run { return c.run }

// UnmarshalData decodes the triggering event's data into v.
func (c *Context) UnmarshalData(v interface{}) error {
	return c.event.UnmarshalData(v)
}

// StepError marks a handler error as coming from a specific step.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step executes fn once per run. The first successful execution
// persists the JSON-encoded result; later executions of the same run,
// for example retries after a failure in a later step, return the saved
// result without calling fn again.
func Step[T any](fctx *Context, stepID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if stepID == "" {
		return zero, errors.New("step id is empty")
	}

	saved, err := fctx.steps.GetStep(fctx.run.ID, stepID)
	if err != nil {
		return zero, fmt.Errorf("load step %q failed: %w", stepID, err)
	}
	if saved != nil {
		var out T
		if err := json.Unmarshal([]byte(saved.Output), &out); err != nil {
			return zero, fmt.Errorf("decode saved step %q failed: %w", stepID, err)
		}
		return out, nil
	}

	out, err := fn(fctx.ctx)
	if err != nil {
		return zero, &StepError{StepID: stepID, Err: err}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("marshal step %q output failed: %w", stepID, err)
	}
	if err := fctx.steps.SaveStep(&RunStep{
		RunID:  fctx.run.ID,
		StepID: stepID,
		Output: string(payload),
	}); err != nil {
		return zero, fmt.Errorf("save step %q failed: %w", stepID, err)
	}
	return out, nil
}
