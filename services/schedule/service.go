package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetops-controlplane/pkg/cronexpr"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/inventory"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name           string               `json:"name"`
	JobTemplateID  int64                `json:"job_template_id,string"`
	Target         inventory.TargetSpec `json:"target"`
	CronExpression string               `json:"cron_expression"`
	Timezone       string               `json:"timezone"`
	Variables      map[string]string    `json:"variables,omitempty"`
	Disabled       bool                 `json:"disabled,omitempty"`
}

type Service struct {
	repo Repository
	node *snowflake.Node
}

func NewService(repo Repository, node *snowflake.Node) *Service {
	return &Service{repo: repo, node: node}
}

// CreateSchedule validates and stores a schedule. The first run is picked up
// by the next poll once next_run_at has been initialised.
func (s *Service) CreateSchedule(ctx context.Context, req CreateRequest) (*JobSchedule, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}
	if req.JobTemplateID == 0 {
		return nil, errutil.BadRequest("job_template_id is required", nil)
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	if err := cronexpr.Validate(req.CronExpression, req.Timezone); err != nil {
		return nil, errutil.ValidationFailed(err.Error(), err)
	}

	vars := make(datatypes.JSONMap, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = v
	}

	sch := &JobSchedule{
		ID:             s.node.Generate().Int64(),
		Name:           req.Name,
		JobTemplateID:  req.JobTemplateID,
		Target:         req.Target,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Variables:      vars,
		Enabled:        !req.Disabled,
		Healthy:        true,
		Version:        1,
	}
	if err := s.repo.Create(ctx, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (*JobSchedule, error) {
	sch, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("schedule %d not found", id), err)
		}
		return nil, err
	}
	return sch, nil
}

func (s *Service) ListSchedules(ctx context.Context) ([]JobSchedule, error) {
	return s.repo.List(ctx)
}

// SetEnabled toggles a schedule. A run already in flight is not affected.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) (*JobSchedule, error) {
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("schedule %d not found", id), err)
		}
		return nil, err
	}
	return s.repo.Get(ctx, id)
}
