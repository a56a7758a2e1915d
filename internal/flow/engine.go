package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

const retryBackoffBase = 3 * time.Second

// Publisher hands a run id to the queue for asynchronous execution.
type Publisher interface {
	PublishRun(ctx context.Context, runID string) error
}

// Retry asks the caller to deliver the run again after Delay.
type Retry struct {
	Delay time.Duration
}

type EngineConfig struct {
	AppID     string
	Events    EventStore
	Runs      RunStore
	Steps     StepStore
	Limiter   Limiter
	Publisher Publisher
}

// Engine matches events to registered functions, creates queued runs for
// them and executes runs delivered back from the queue. Step outputs are
// memoized, so a retried run only redoes the steps that never finished.
type Engine struct {
	appID     string
	events    EventStore
	runs      RunStore
	steps     StepStore
	limiter   Limiter
	publisher Publisher

	functions []*Function
	byEvent   map[string][]*Function
	byID      map[string]*Function
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		appID:     cfg.AppID,
		events:    cfg.Events,
		runs:      cfg.Runs,
		steps:     cfg.Steps,
		limiter:   cfg.Limiter,
		publisher: cfg.Publisher,
		byEvent:   make(map[string][]*Function),
		byID:      make(map[string]*Function),
	}
}

func (e *Engine) AppID() string { return e.appID }

// Register adds a function to the engine. It is meant to be called at
// boot, before events are accepted; it is not safe to call concurrently
// with Send or ExecuteRun.
func (e *Engine) Register(fn *Function) error {
	if fn == nil || fn.ID == "" {
		return fmt.Errorf("function id is required")
	}
	if fn.EventName == "" {
		return fmt.Errorf("function %s has no trigger event", fn.ID)
	}
	if fn.Handler == nil {
		return fmt.Errorf("function %s has no handler", fn.ID)
	}
	if _, exists := e.byID[fn.ID]; exists {
		return fmt.Errorf("function %s already registered", fn.ID)
	}

	if fn.Retries == 0 {
		fn.Retries = DefaultRetries
	} else if fn.Retries < 0 {
		fn.Retries = 0
	}

	e.functions = append(e.functions, fn)
	e.byEvent[fn.EventName] = append(e.byEvent[fn.EventName], fn)
	e.byID[fn.ID] = fn
	return nil
}

// Functions returns the registered functions in registration order.
func (e *Engine) Functions() []*Function {
	return e.functions
}

// Send stores the event and creates one queued run per matching
// function, skipping functions whose rate limit window is exhausted.
// It returns the stored event and the ids of the created runs.
func (e *Engine) Send(ctx context.Context, name string, data json.RawMessage) (*Event, []string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("event name is empty")
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	event := &Event{
		ID:         uuid.New().String(),
		Name:       name,
		Data:       string(data),
		ReceivedAt: time.Now(),
	}
	if err := e.events.CreateEvent(event); err != nil {
		return nil, nil, err
	}

	runIDs := make([]string, 0, len(e.byEvent[name]))
	for _, fn := range e.byEvent[name] {
		if fn.RateLimit != nil {
			key := rateLimitKey(fn, data)
			allowed, err := e.limiter.AllowRate(ctx, key, fn.RateLimit.Limit, fn.RateLimit.Period)
			if err != nil {
				log.Printf("rate limit check for %s failed, allowing: %v", fn.ID, err)
				allowed = true
			}
			if !allowed {
				log.Printf("event %s rate limited for function %s", event.ID, fn.ID)
				continue
			}
		}

		run := &Run{
			ID:         uuid.New().String(),
			EventID:    event.ID,
			FunctionID: fn.ID,
			Status:     StatusQueued,
			QueuedAt:   time.Now(),
		}
		if err := e.runs.CreateRun(run); err != nil {
			return nil, nil, err
		}
		if err := e.publisher.PublishRun(ctx, run.ID); err != nil {
			return nil, nil, err
		}
		runIDs = append(runIDs, run.ID)
	}
	return event, runIDs, nil
}

// ExecuteRun runs one queued run to its next state. A nil Retry means
// the run is settled (or was already terminal); a non-nil Retry asks the
// caller to redeliver after the delay, either because the function is
// throttled or because a failed attempt has retries left.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) (*Retry, error) {
	run, err := e.runs.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Terminal() {
		return nil, nil
	}

	fn := e.byID[run.FunctionID]
	if fn == nil {
		return nil, e.runs.FailRun(run.ID, fmt.Sprintf("unknown function %q", run.FunctionID), time.Now())
	}

	if fn.Throttle != nil {
		allowed, delay, err := e.limiter.AllowThrottle(ctx, fn.ID, fn.Throttle.Limit, fn.Throttle.Period)
		if err != nil {
			log.Printf("throttle check for %s failed, allowing: %v", fn.ID, err)
			allowed = true
		}
		if !allowed {
			return &Retry{Delay: delay}, nil
		}
	}

	event, err := e.events.GetEvent(run.EventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, e.runs.FailRun(run.ID, fmt.Sprintf("event %s not found", run.EventID), time.Now())
	}

	attempt := run.Attempt + 1
	startedAt := time.Now()
	if err := e.runs.MarkRunning(run.ID, attempt, startedAt); err != nil {
		return nil, err
	}
	run.Status = StatusRunning
	run.Attempt = attempt
	run.StartedAt = &startedAt

	output, handlerErr := e.invoke(ctx, fn, event, run)
	if handlerErr != nil {
		if run.Attempt <= fn.Retries {
			if err := e.runs.RequeueRun(run.ID, handlerErr.Error()); err != nil {
				return nil, err
			}
			log.Printf("run %s attempt %d failed, retrying: %v", run.ID, run.Attempt, handlerErr)
			return &Retry{Delay: retryBackoff(run.Attempt)}, nil
		}
		log.Printf("run %s failed after %d attempts: %v", run.ID, run.Attempt, handlerErr)
		return nil, e.runs.FailRun(run.ID, handlerErr.Error(), time.Now())
	}

	payload, err := json.Marshal(output)
	if err != nil {
		return nil, e.runs.FailRun(run.ID, fmt.Sprintf("encode output failed: %v", err), time.Now())
	}
	return nil, e.runs.CompleteRun(run.ID, string(payload), time.Now())
}

func (e *Engine) invoke(ctx context.Context, fn *Function, event *Event, run *Run) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function panic: %v", r)
		}
	}()
	return fn.Handler(NewContext(ctx, event, run, e.steps))
}

// GetEvent returns the stored event or nil, nil when unknown.
func (e *Engine) GetEvent(eventID string) (*Event, error) {
	return e.events.GetEvent(eventID)
}

// RunsForEvent lists the runs created for an event, oldest first.
func (e *Engine) RunsForEvent(eventID string) ([]Run, error) {
	return e.runs.ListRunsByEventID(eventID)
}

// GetRun returns the run or nil, nil when unknown.
func (e *Engine) GetRun(runID string) (*Run, error) {
	return e.runs.GetRun(runID)
}

// CancelRun cancels a run that has not started yet.
func (e *Engine) CancelRun(runID string) error {
	return e.runs.CancelRun(runID, time.Now())
}

func rateLimitKey(fn *Function, data json.RawMessage) string {
	key := fn.ID
	if fn.RateLimit == nil || fn.RateLimit.Key == "" {
		return key
	}
	if value := lookupEventField(data, fn.RateLimit.Key); value != "" {
		key += ":" + value
	}
	return key
}

// lookupEventField resolves a dotted path like "event.data.source_id"
// against the raw event data.
func lookupEventField(data json.RawMessage, path string) string {
	parts := strings.Split(path, ".")
	if len(parts) > 0 && parts[0] == "event" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[0] == "data" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}

	var node interface{}
	if err := json.Unmarshal(data, &node); err != nil {
		return ""
	}
	for _, part := range parts {
		m, ok := node.(map[string]interface{})
		if !ok {
			return ""
		}
		node = m[part]
	}

	switch v := node.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBackoffBase * time.Duration(1<<uint(attempt-1))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
