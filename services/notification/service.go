package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetops-controlplane/pkg/db/pagination"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/execution"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateChannelRequest struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Config   map[string]any `json:"config"`
	Disabled bool           `json:"disabled,omitempty"`
}

type PolicyChannelRequest struct {
	ChannelID int64  `json:"channel_id,string"`
	Priority  string `json:"priority,omitempty"`
}

type CreatePolicyRequest struct {
	Name          string                 `json:"name"`
	Disabled      bool                   `json:"disabled,omitempty"`
	OnSuccess     bool                   `json:"on_success"`
	OnFailure     bool                   `json:"on_failure"`
	OnPartial     bool                   `json:"on_partial"`
	OnTimeout     bool                   `json:"on_timeout"`
	JobTypeIDs    []int64                `json:"job_type_ids,omitempty"`
	HostIDs       []int64                `json:"host_ids,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	MinSeverity   string                 `json:"min_severity,omitempty"`
	MaxPerHour    int                    `json:"max_per_hour"`
	TitleTemplate string                 `json:"title_template,omitempty"`
	BodyTemplate  string                 `json:"body_template,omitempty"`
	Condition     string                 `json:"condition,omitempty"`
	Channels      []PolicyChannelRequest `json:"channels"`
}

type Service struct {
	repo       Repository
	dispatcher *Dispatcher
	node       *snowflake.Node
}

func NewService(repo Repository, dispatcher *Dispatcher, node *snowflake.Node) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, node: node}
}

func (s *Service) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}
	if _, ok := s.dispatcher.providers[req.Kind]; !ok {
		return nil, errutil.BadRequest(fmt.Sprintf("unsupported channel kind %q", req.Kind), nil)
	}

	ch := &Channel{
		ID:      s.node.Generate().Int64(),
		Name:    req.Name,
		Kind:    req.Kind,
		Config:  datatypes.JSONMap(req.Config),
		Enabled: !req.Disabled,
	}
	if err := s.repo.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Service) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.repo.ListChannels(ctx)
}

// CreatePolicy validates and stores a policy with its ordered channels.
func (s *Service) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*Policy, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}
	if req.MaxPerHour < 0 {
		return nil, errutil.ValidationFailed("max_per_hour must not be negative", nil)
	}
	if req.MinSeverity != "" && Severity(execution.RunStatus(req.MinSeverity)) == 0 {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown severity %q", req.MinSeverity), nil)
	}
	if req.Condition != "" {
		if err := s.dispatcher.conditions.Validate(req.Condition); err != nil {
			return nil, errutil.ValidationFailed("invalid condition: "+err.Error(), err)
		}
	}

	ids := make([]int64, 0, len(req.Channels))
	for _, c := range req.Channels {
		ids = append(ids, c.ChannelID)
	}
	known, err := s.repo.GetChannels(ctx, ids)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		ID:            s.node.Generate().Int64(),
		Name:          req.Name,
		Enabled:       !req.Disabled,
		OnSuccess:     req.OnSuccess,
		OnFailure:     req.OnFailure,
		OnPartial:     req.OnPartial,
		OnTimeout:     req.OnTimeout,
		JobTypeIDs:    datatypes.JSONSlice[int64](req.JobTypeIDs),
		HostIDs:       datatypes.JSONSlice[int64](req.HostIDs),
		Tags:          datatypes.JSONSlice[string](req.Tags),
		MinSeverity:   req.MinSeverity,
		MaxPerHour:    req.MaxPerHour,
		TitleTemplate: req.TitleTemplate,
		BodyTemplate:  req.BodyTemplate,
		Condition:     req.Condition,
	}
	for i, c := range req.Channels {
		if _, ok := known[c.ChannelID]; !ok {
			return nil, errutil.ValidationFailed(fmt.Sprintf("channel %d does not exist", c.ChannelID), nil)
		}
		p.Channels = append(p.Channels, PolicyChannel{
			ID:        s.node.Generate().Int64(),
			PolicyID:  p.ID,
			ChannelID: c.ChannelID,
			Position:  i,
			Priority:  c.Priority,
		})
	}

	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("notification policy %d not found", id), err)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.repo.ListPolicies(ctx, false)
}

// ListLog returns log entries newest first.
func (s *Service) ListLog(ctx context.Context, filter LogFilter, page pagination.Pagination) ([]LogEntry, *pagination.PageInfo, error) {
	page = page.Normalize()
	before, err := pagination.DecodeIDCursor(page.Cursor)
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}
	entries, err := s.repo.ListLog(ctx, filter, before, page.Limit+1)
	if err != nil {
		return nil, nil, err
	}
	data, info := pagination.Trim(entries, page.Limit, func(e LogEntry) int64 { return e.ID })
	return data, info, nil
}

// Redispatch runs the dispatcher again for a finished run. Channels already
// delivered to are skipped.
func (s *Service) Redispatch(ctx context.Context, runID int64) ([]LogEntry, error) {
	if err := s.dispatcher.Dispatch(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.RunEntries(ctx, runID)
}
