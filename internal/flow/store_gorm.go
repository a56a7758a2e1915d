package flow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormEventStore keeps events in MySQL.
type GormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

func (s *GormEventStore) CreateEvent(event *Event) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("create event failed: %w", err)
	}
	return nil
}

func (s *GormEventStore) GetEvent(id string) (*Event, error) {
	var event Event
	if err := s.db.Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event failed: %w", err)
	}
	return &event, nil
}

// GormRunStore keeps runs in MySQL.
type GormRunStore struct {
	db *gorm.DB
}

func NewGormRunStore(db *gorm.DB) *GormRunStore {
	return &GormRunStore{db: db}
}

func (s *GormRunStore) CreateRun(run *Run) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("create run failed: %w", err)
	}
	return nil
}

func (s *GormRunStore) GetRun(id string) (*Run, error) {
	var run Run
	if err := s.db.Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run failed: %w", err)
	}
	return &run, nil
}

func (s *GormRunStore) ListRunsByEventID(eventID string) ([]Run, error) {
	var runs []Run
	if err := s.db.Where("event_id = ?", eventID).Order("queued_at ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs failed: %w", err)
	}
	return runs, nil
}

func (s *GormRunStore) MarkRunning(id string, attempt int, at time.Time) error {
	updates := map[string]interface{}{
		"status":     StatusRunning,
		"attempt":    attempt,
		"started_at": at,
	}
	if err := s.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark run running failed: %w", err)
	}
	return nil
}

func (s *GormRunStore) RequeueRun(id string, errMsg string) error {
	updates := map[string]interface{}{
		"status": StatusQueued,
		"error":  errMsg,
	}
	if err := s.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("requeue run failed: %w", err)
	}
	return nil
}

func (s *GormRunStore) CompleteRun(id string, output string, at time.Time) error {
	updates := map[string]interface{}{
		"status":   StatusCompleted,
		"output":   output,
		"error":    "",
		"ended_at": at,
	}
	if err := s.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("complete run failed: %w", err)
	}
	return nil
}

func (s *GormRunStore) FailRun(id string, errMsg string, at time.Time) error {
	updates := map[string]interface{}{
		"status":   StatusFailed,
		"error":    errMsg,
		"ended_at": at,
	}
	if err := s.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("fail run failed: %w", err)
	}
	return nil
}

func (s *GormRunStore) CancelRun(id string, at time.Time) error {
	res := s.db.Model(&Run{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]interface{}{
			"status":   StatusCancelled,
			"ended_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("cancel run failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		run, err := s.GetRun(id)
		if err != nil {
			return err
		}
		if run == nil {
			return ErrRunNotFound
		}
		return ErrRunNotCancellable
	}
	return nil
}

// GormStepStore keeps memoized step outputs in MySQL.
type GormStepStore struct {
	db *gorm.DB
}

func NewGormStepStore(db *gorm.DB) *GormStepStore {
	return &GormStepStore{db: db}
}

func (s *GormStepStore) GetStep(runID, stepID string) (*RunStep, error) {
	var step RunStep
	if err := s.db.Where("run_id = ? AND step_id = ?", runID, stepID).First(&step).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get step failed: %w", err)
	}
	return &step, nil
}

func (s *GormStepStore) SaveStep(step *RunStep) error {
	if err := s.db.Create(step).Error; err != nil {
		return fmt.Errorf("save step failed: %w", err)
	}
	return nil
}
