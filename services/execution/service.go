package execution

import (
	"context"
	"errors"
	"fmt"

	"fleetops-controlplane/pkg/db/pagination"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/inventory"

	"gorm.io/gorm"
)

// TriggerOptions are the caller supplied parts of a manual trigger.
type TriggerOptions struct {
	Target      *inventory.TargetSpec `json:"target,omitempty"`
	Variables   map[string]string     `json:"variables,omitempty"`
	TriggeredBy string                `json:"triggered_by,omitempty"`
}

type Service struct {
	repo     Repository
	executor *Executor
}

func NewService(repo Repository, executor *Executor) *Service {
	return &Service{repo: repo, executor: executor}
}

// TriggerJob starts a manual run and returns without waiting for it.
func (s *Service) TriggerJob(ctx context.Context, templateID int64, opts TriggerOptions) (*JobRun, error) {
	if templateID == 0 {
		return nil, errutil.BadRequest("job template id is required", nil)
	}
	return s.executor.Start(ctx, TriggerRequest{
		JobTemplateID: templateID,
		Source:        TriggerManual,
		Target:        opts.Target,
		Variables:     opts.Variables,
		TriggeredBy:   opts.TriggeredBy,
	})
}

func (s *Service) GetJobRun(ctx context.Context, id int64) (*JobRun, error) {
	run, err := s.repo.GetRunWithResults(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("job run %d not found", id), ErrRunNotFound)
		}
		return nil, err
	}
	return run, nil
}

func (s *Service) CancelJobRun(ctx context.Context, id int64) (*JobRun, error) {
	return s.executor.Cancel(ctx, id)
}

// ListJobRuns returns runs newest first.
func (s *Service) ListJobRuns(ctx context.Context, filter ListFilter, page pagination.Pagination) ([]JobRun, *pagination.PageInfo, error) {
	page = page.Normalize()
	before, err := pagination.DecodeIDCursor(page.Cursor)
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}
	runs, err := s.repo.ListRuns(ctx, filter, before, page.Limit+1)
	if err != nil {
		return nil, nil, err
	}
	data, info := pagination.Trim(runs, page.Limit, func(r JobRun) int64 { return r.ID })
	return data, info, nil
}
