package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	queue "fleetops-controlplane/pkg/asynq"
	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/rediskey"
	"fleetops-controlplane/pkg/taskname"
	"fleetops-controlplane/services/execution"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DispatchPayload struct {
	JobRunID int64 `json:"job_run_id,string"`
}

func NewDispatchTask(runID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(DispatchPayload{JobRunID: runID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotificationDispatch, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Publisher hands finished runs to the dispatcher, through the queue when
// one is configured and inline otherwise.
type Publisher struct {
	dispatcher *Dispatcher
	enqueuer   queue.Enqueuer
	async      bool
}

type PublisherParams struct {
	fx.In
	Config     *config.Config
	Dispatcher *Dispatcher
	Enqueuer   queue.Enqueuer `optional:"true"`
}

func NewPublisher(p PublisherParams) *Publisher {
	return &Publisher{
		dispatcher: p.Dispatcher,
		enqueuer:   p.Enqueuer,
		async:      p.Config.Notification.Async,
	}
}

// RunFinished implements execution.RunObserver.
func (p *Publisher) RunFinished(ctx context.Context, run *execution.JobRun) {
	if p.async && p.enqueuer != nil {
		err := p.enqueue(run.ID)
		if err == nil {
			return
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			zap.L().Debug("[Notification] dispatch already queued", zap.Int64("run_id", run.ID))
			return
		}
		zap.L().Warn("[Notification] enqueue failed, dispatching inline", zap.Int64("run_id", run.ID), zap.Error(err))
	}

	if err := p.dispatcher.Dispatch(ctx, run.ID); err != nil {
		zap.L().Error("[Notification] dispatch failed", zap.Int64("run_id", run.ID), zap.Error(err))
	}
}

func (p *Publisher) enqueue(runID int64) error {
	task, err := NewDispatchTask(runID)
	if err != nil {
		return err
	}
	info, err := p.enqueuer.Enqueue(task, asynq.TaskID(rediskey.BuildNotificationDispatchKey(runID)))
	if err != nil {
		return err
	}
	zap.L().Debug("[Notification] dispatch queued", zap.Int64("run_id", runID), zap.String("task_id", info.ID))
	return nil
}

// HandleDispatchTask is the worker side of notification:dispatch.
func (d *Dispatcher) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %v: %w", err, asynq.SkipRetry)
	}
	err := d.Dispatch(ctx, payload.JobRunID)
	if errutil.IsStatus(err, errutil.StatusNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
