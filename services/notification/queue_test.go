package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"fleetops-controlplane/pkg/rediskey"
	"fleetops-controlplane/pkg/taskname"
	"fleetops-controlplane/services/execution"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks   []*asynq.Task
	taskIDs []string
	err     error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", f.err)
	}
	f.tasks = append(f.tasks, task)
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			f.taskIDs = append(f.taskIDs, o.Value().(string))
		}
	}
	return &asynq.TaskInfo{ID: f.taskIDs[len(f.taskIDs)-1]}, nil
}

func TestPublisherEnqueuesDispatchTask(t *testing.T) {
	env := newDispatchEnv(t)
	ch := env.channel(t, "pager", true)
	env.policy(t, Policy{OnFailure: true}, ch)
	run := env.run(t, 7, execution.RunFailed, hostResult(1, "web-1", execution.HostFailed))

	q := &fakeEnqueuer{}
	p := &Publisher{dispatcher: env.dispatcher, enqueuer: q, async: true}
	p.RunFinished(context.Background(), run)

	require.Len(t, q.tasks, 1)
	require.Equal(t, taskname.NotificationDispatch, q.tasks[0].Type())
	require.Equal(t, []string{rediskey.BuildNotificationDispatchKey(7)}, q.taskIDs)
	require.Empty(t, env.provider.Sent())

	// The worker side delivers.
	require.NoError(t, env.dispatcher.HandleDispatchTask(context.Background(), q.tasks[0]))
	require.Len(t, env.provider.Sent(), 1)
}

func TestPublisherDuplicateTaskIsNotDispatchedInline(t *testing.T) {
	env := newDispatchEnv(t)
	ch := env.channel(t, "pager", true)
	env.policy(t, Policy{OnFailure: true}, ch)
	run := env.run(t, 7, execution.RunFailed, hostResult(1, "web-1", execution.HostFailed))

	p := &Publisher{dispatcher: env.dispatcher, enqueuer: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, async: true}
	p.RunFinished(context.Background(), run)

	require.Empty(t, env.provider.Sent())
}

func TestPublisherFallsBackToInline(t *testing.T) {
	for _, tc := range []struct {
		name      string
		publisher func(d *Dispatcher) *Publisher
	}{
		{name: "sync mode", publisher: func(d *Dispatcher) *Publisher {
			return &Publisher{dispatcher: d, enqueuer: &fakeEnqueuer{}, async: false}
		}},
		{name: "no queue", publisher: func(d *Dispatcher) *Publisher {
			return &Publisher{dispatcher: d, async: true}
		}},
		{name: "enqueue error", publisher: func(d *Dispatcher) *Publisher {
			return &Publisher{dispatcher: d, enqueuer: &fakeEnqueuer{err: errors.New("redis down")}, async: true}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newDispatchEnv(t)
			ch := env.channel(t, "pager", true)
			env.policy(t, Policy{OnFailure: true}, ch)
			run := env.run(t, 7, execution.RunFailed, hostResult(1, "web-1", execution.HostFailed))

			tc.publisher(env.dispatcher).RunFinished(context.Background(), run)

			require.Len(t, env.provider.Sent(), 1)
		})
	}
}

func TestHandleDispatchTaskSkipsRetryForBadPayload(t *testing.T) {
	env := newDispatchEnv(t)

	err := env.dispatcher.HandleDispatchTask(context.Background(), asynq.NewTask(taskname.NotificationDispatch, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	payload, _ := json.Marshal(DispatchPayload{JobRunID: 404})
	err = env.dispatcher.HandleDispatchTask(context.Background(), asynq.NewTask(taskname.NotificationDispatch, payload))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
