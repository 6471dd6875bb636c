package execution

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrVersionConflict is returned when a guarded update matched no row.
var ErrVersionConflict = errors.New("job run version conflict")

// RunTransition is a version guarded status change of a run.
type RunTransition struct {
	From           []RunStatus
	To             RunStatus
	Version        int64
	FailureReason  string
	FailureMessage string
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

type ListFilter struct {
	JobTemplateID int64
	ScheduleID    int64
	Status        RunStatus
	TriggerSource TriggerSource
}

// Repository describes persistence of runs and their results.
type Repository interface {
	CreateRun(ctx context.Context, run *JobRun) error
	GetRun(ctx context.Context, id int64) (*JobRun, error)
	GetRunWithResults(ctx context.Context, id int64) (*JobRun, error)
	TransitionRun(ctx context.Context, id int64, t RunTransition) error
	ListRuns(ctx context.Context, filter ListFilter, beforeID int64, limit int) ([]JobRun, error)
	ListActive(ctx context.Context) ([]JobRun, error)
	HasActiveRun(ctx context.Context, scheduleID int64) (bool, error)

	ListHostResults(ctx context.Context, runID int64) ([]HostJobResult, error)
	StartHost(ctx context.Context, resultID int64, at time.Time) (bool, error)
	FinishHost(ctx context.Context, result *HostJobResult, steps []StepExecutionResult) error
	CancelOpenHosts(ctx context.Context, runID int64, statuses []HostStatus, reason, message string, at time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateRun inserts the run together with its host results.
func (r *gormRepository) CreateRun(ctx context.Context, run *JobRun) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	hosts := run.Hosts
	run.Hosts = nil
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(hosts) > 0 {
			return tx.Create(&hosts).Error
		}
		return nil
	})
	run.Hosts = hosts
	return err
}

func (r *gormRepository) GetRun(ctx context.Context, id int64) (*JobRun, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var run JobRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *gormRepository) GetRunWithResults(ctx context.Context, id int64) (*JobRun, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var run JobRun
	err := r.db.WithContext(ctx).
		Preload("Hosts", func(db *gorm.DB) *gorm.DB { return db.Order("host_id ASC") }).
		Preload("Hosts.Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// TransitionRun applies t when the run is in one of t.From at t.Version.
func (r *gormRepository) TransitionRun(ctx context.Context, id int64, t RunTransition) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	updates := map[string]any{
		"status":     t.To,
		"version":    t.Version + 1,
		"updated_at": time.Now().UTC(),
	}
	if t.FailureReason != "" {
		updates["failure_reason"] = t.FailureReason
		updates["failure_message"] = t.FailureMessage
	}
	if t.StartedAt != nil {
		updates["started_at"] = *t.StartedAt
	}
	if t.FinishedAt != nil {
		updates["finished_at"] = *t.FinishedAt
	}

	res := r.db.WithContext(ctx).
		Model(&JobRun{}).
		Where("id = ? AND version = ? AND status IN ?", id, t.Version, t.From).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListRuns returns up to limit runs with id below beforeID (when non-zero),
// newest first.
func (r *gormRepository) ListRuns(ctx context.Context, filter ListFilter, beforeID int64, limit int) ([]JobRun, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx).Model(&JobRun{})
	if filter.JobTemplateID != 0 {
		q = q.Where("job_template_id = ?", filter.JobTemplateID)
	}
	if filter.ScheduleID != 0 {
		q = q.Where("schedule_id = ?", filter.ScheduleID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TriggerSource != "" {
		q = q.Where("trigger_source = ?", filter.TriggerSource)
	}
	if beforeID != 0 {
		q = q.Where("id < ?", beforeID)
	}

	var runs []JobRun
	err := q.Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *gormRepository) ListActive(ctx context.Context) ([]JobRun, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var runs []JobRun
	err := r.db.WithContext(ctx).
		Where("status IN ?", ActiveStatuses).
		Order("id ASC").
		Find(&runs).Error
	return runs, err
}

func (r *gormRepository) HasActiveRun(ctx context.Context, scheduleID int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&JobRun{}).
		Where("schedule_id = ? AND status IN ?", scheduleID, ActiveStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) ListHostResults(ctx context.Context, runID int64) ([]HostJobResult, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var results []HostJobResult
	err := r.db.WithContext(ctx).
		Where("job_run_id = ?", runID).
		Order("host_id ASC").
		Find(&results).Error
	return results, err
}

// StartHost moves a host result from Pending to Running. It reports false
// when the result was no longer Pending.
func (r *gormRepository) StartHost(ctx context.Context, resultID int64, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&HostJobResult{}).
		Where("id = ? AND status = ?", resultID, HostPending).
		Updates(map[string]any{"status": HostRunning, "started_at": at})
	return res.RowsAffected == 1, res.Error
}

// FinishHost writes the terminal host result and its step results. A result
// already cancelled is left untouched apart from its steps.
func (r *gormRepository) FinishHost(ctx context.Context, result *HostJobResult, steps []StepExecutionResult) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		return tx.Model(&HostJobResult{}).
			Where("id = ? AND status IN ?", result.ID, []HostStatus{HostPending, HostRunning}).
			Updates(map[string]any{
				"status":        result.Status,
				"output":        result.Output,
				"output_object": result.OutputObject,
				"exit_code":     result.ExitCode,
				"error_reason":  result.ErrorReason,
				"error_message": result.ErrorMessage,
				"attempts":      result.Attempts,
				"started_at":    result.StartedAt,
				"finished_at":   result.FinishedAt,
			}).Error
	})
}

func (r *gormRepository) CancelOpenHosts(ctx context.Context, runID int64, statuses []HostStatus, reason, message string, at time.Time) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	return r.db.WithContext(ctx).
		Model(&HostJobResult{}).
		Where("job_run_id = ? AND status IN ?", runID, statuses).
		Updates(map[string]any{
			"status":        HostCancelled,
			"error_reason":  reason,
			"error_message": message,
			"finished_at":   at,
		}).Error
}
