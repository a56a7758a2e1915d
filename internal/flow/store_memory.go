package flow

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of EventStore, RunStore and
// StepStore. It backs tests and local experiments where MySQL is overkill.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]Event
	runs   map[string]Run
	steps  map[string]RunStep // keyed runID + "/" + stepID
	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]Event),
		runs:   make(map[string]Run),
		steps:  make(map[string]RunStep),
	}
}

func (s *MemoryStore) CreateEvent(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = *event
	return nil
}

func (s *MemoryStore) GetEvent(id string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &event, nil
}

func (s *MemoryStore) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (s *MemoryStore) ListRunsByEventID(eventID string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []Run
	for _, run := range s.runs {
		if run.EventID == eventID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].QueuedAt.Before(runs[j].QueuedAt)
	})
	return runs, nil
}

func (s *MemoryStore) MarkRunning(id string, attempt int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusRunning
	run.Attempt = attempt
	run.StartedAt = &at
	s.runs[id] = run
	return nil
}

func (s *MemoryStore) RequeueRun(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusQueued
	run.Error = errMsg
	s.runs[id] = run
	return nil
}

func (s *MemoryStore) CompleteRun(id string, output string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusCompleted
	run.Output = output
	run.Error = ""
	run.EndedAt = &at
	s.runs[id] = run
	return nil
}

func (s *MemoryStore) FailRun(id string, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusFailed
	run.Error = errMsg
	run.EndedAt = &at
	s.runs[id] = run
	return nil
}

func (s *MemoryStore) CancelRun(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != StatusQueued {
		return ErrRunNotCancellable
	}
	run.Status = StatusCancelled
	run.EndedAt = &at
	s.runs[id] = run
	return nil
}

func (s *MemoryStore) GetStep(runID, stepID string) (*RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[runID+"/"+stepID]
	if !ok {
		return nil, nil
	}
	return &step, nil
}

func (s *MemoryStore) SaveStep(step *RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	step.ID = s.nextID
	step.CreatedAt = time.Now()
	s.steps[step.RunID+"/"+step.StepID] = *step
	return nil
}
