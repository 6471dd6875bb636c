package notification

import (
	"context"
	"testing"

	"fleetops-controlplane/pkg/db/pagination"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/execution"

	"github.com/stretchr/testify/require"
)

func TestCreateChannelValidatesKind(t *testing.T) {
	env := newDispatchEnv(t)
	svc := NewService(env.repo, env.dispatcher, env.node)
	ctx := context.Background()

	_, err := svc.CreateChannel(ctx, CreateChannelRequest{Name: "pager", Kind: "carrier-pigeon"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	_, err = svc.CreateChannel(ctx, CreateChannelRequest{Kind: fakeKind})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	ch, err := svc.CreateChannel(ctx, CreateChannelRequest{Name: "pager", Kind: fakeKind, Config: map[string]any{"name": "pager"}})
	require.NoError(t, err)
	require.True(t, ch.Enabled)

	all, err := svc.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCreatePolicyValidates(t *testing.T) {
	env := newDispatchEnv(t)
	svc := NewService(env.repo, env.dispatcher, env.node)
	ctx := context.Background()
	ch := env.channel(t, "pager", true)

	for name, req := range map[string]CreatePolicyRequest{
		"negative limit":  {Name: "p", MaxPerHour: -1},
		"unknown level":   {Name: "p", MinSeverity: "Catastrophic"},
		"bad condition":   {Name: "p", Condition: "host_count >"},
		"unknown channel": {Name: "p", Channels: []PolicyChannelRequest{{ChannelID: ch}, {ChannelID: 404}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreatePolicy(ctx, req)
			require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed), "got %v", err)
		})
	}

	_, err := svc.CreatePolicy(ctx, CreatePolicyRequest{})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}

func TestCreatePolicyKeepsChannelOrder(t *testing.T) {
	env := newDispatchEnv(t)
	svc := NewService(env.repo, env.dispatcher, env.node)
	ctx := context.Background()
	a := env.channel(t, "a", true)
	b := env.channel(t, "b", true)

	created, err := svc.CreatePolicy(ctx, CreatePolicyRequest{
		Name:       "failures",
		OnFailure:  true,
		MaxPerHour: 3,
		Condition:  "failed_count > 0",
		Channels:   []PolicyChannelRequest{{ChannelID: b, Priority: "high"}, {ChannelID: a}},
	})
	require.NoError(t, err)

	got, err := svc.GetPolicy(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Channels, 2)
	require.Equal(t, b, got.Channels[0].ChannelID)
	require.Equal(t, "high", got.Channels[0].Priority)
	require.Equal(t, a, got.Channels[1].ChannelID)

	_, err = svc.GetPolicy(ctx, 404)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func TestRedispatchAndLogPaging(t *testing.T) {
	env := newDispatchEnv(t)
	svc := NewService(env.repo, env.dispatcher, env.node)
	ctx := context.Background()
	a := env.channel(t, "a", true)
	b := env.channel(t, "b", true)
	env.policy(t, Policy{OnFailure: true}, a, b)
	run := env.run(t, 7, execution.RunFailed, hostResult(1, "web-1", execution.HostFailed))

	entries, err := svc.Redispatch(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, []Outcome{OutcomeDelivered, OutcomeDelivered}, outcomes(entries))

	// A second request adds nothing.
	entries, err = svc.Redispatch(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, env.provider.Sent(), 2)

	page, info, err := svc.ListLog(ctx, LogFilter{JobRunID: run.ID}, pagination.Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, info.HasMore)
	require.Equal(t, entries[1].ID, page[0].ID)

	page, info, err = svc.ListLog(ctx, LogFilter{JobRunID: run.ID}, pagination.Pagination{Limit: 1, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasMore)
	require.Equal(t, entries[0].ID, page[0].ID)

	_, _, err = svc.ListLog(ctx, LogFilter{}, pagination.Pagination{Cursor: "%%%"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}
