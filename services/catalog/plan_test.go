package catalog

import (
	"context"
	"testing"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/inventory"
	"fleetops-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestPlanner(t *testing.T) (*Planner, Repository) {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	repo := NewRepository(db)
	return NewPlanner(repo), repo
}

func TestPlannerLoadsCompositeStepsInOrder(t *testing.T) {
	planner, repo := newTestPlanner(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateJobType(ctx, &JobType{ID: 1, Name: "deploy"}))
	require.NoError(t, repo.CreateJobType(ctx, &JobType{ID: 2, Name: "healthcheck", RequiredCapabilities: []string{"curl"}}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 10, JobTypeID: 1, Command: "pull"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 11, JobTypeID: 1, OSFilter: []string{"ubuntu"}, Command: "pull-ubuntu"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 20, JobTypeID: 2, Command: "curl localhost"}))

	timeout := 9
	require.NoError(t, repo.CreateJobTemplate(ctx, &JobTemplate{
		ID:        100,
		Name:      "rollout",
		JobTypeID: 1,
		Composite: true,
		Steps: []JobTemplateStep{
			{ID: 1002, StepOrder: 2, Name: "check", CommandTemplateID: 20, ContinueOnFailure: true, TimeoutSeconds: &timeout},
			{ID: 1001, StepOrder: 1, Name: "pull", CommandTemplateID: 10, VariableOverrides: datatypes.JSONMap{"tag": "v2"}},
		},
	}))

	plan, err := planner.Load(ctx, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)

	require.Equal(t, "pull", plan.Steps[0].Name)
	require.Equal(t, map[string]string{"tag": "v2"}, plan.Steps[0].Overrides)
	// A step runs its own template, not any variant of its job type.
	require.Len(t, plan.Steps[0].Candidates, 1)
	require.Equal(t, int64(10), plan.Steps[0].Candidates[0].ID)
	require.False(t, plan.Steps[0].ContinueOnFailure)

	require.Equal(t, "check", plan.Steps[1].Name)
	require.Equal(t, int64(2), plan.Steps[1].JobType.ID)
	require.True(t, plan.Steps[1].ContinueOnFailure)
	require.Equal(t, 9, int(plan.Steps[1].TimeoutOverride.Seconds()))
}

func TestPlannerLoadsSimpleTemplate(t *testing.T) {
	planner, repo := newTestPlanner(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateJobType(ctx, &JobType{ID: 1, Name: "containers"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 10, JobTypeID: 1, Command: "docker ps"}))
	ref := int64(10)
	require.NoError(t, repo.CreateJobTemplate(ctx, &JobTemplate{ID: 100, Name: "list containers", JobTypeID: 1, CommandTemplateID: &ref}))

	plan, err := planner.Load(ctx, 100)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, 1, plan.Steps[0].Order)
	require.Equal(t, "docker ps", plan.Steps[0].Reference.Command)
	require.Len(t, plan.Steps[0].Candidates, 1)
}

func TestCompositeStepsOfOneJobTypeRunTheirOwnTemplates(t *testing.T) {
	planner, repo := newTestPlanner(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateJobType(ctx, &JobType{ID: 1, Name: "package-upgrade"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 10, JobTypeID: 1, Command: "apt-get update"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 11, JobTypeID: 1, Command: "apt-get -y upgrade"}))
	require.NoError(t, repo.CreateCommandTemplate(ctx, &CommandTemplate{ID: 12, JobTypeID: 1, OSFilter: []string{"fedora"}, Command: "dnf -y upgrade"}))
	require.NoError(t, repo.CreateJobTemplate(ctx, &JobTemplate{
		ID:        100,
		Name:      "patch",
		JobTypeID: 1,
		Composite: true,
		Steps: []JobTemplateStep{
			{ID: 1001, StepOrder: 1, Name: "update", CommandTemplateID: 10},
			{ID: 1002, StepOrder: 2, Name: "upgrade", CommandTemplateID: 11},
			{ID: 1003, StepOrder: 3, Name: "dnf", CommandTemplateID: 12},
		},
	}))

	plan, err := planner.Load(ctx, 100)
	require.NoError(t, err)

	host := &inventory.Host{Name: "web-1", OSFamily: "ubuntu"}
	first, err := plan.Command(host, plan.Steps[0], nil)
	require.NoError(t, err)
	second, err := plan.Command(host, plan.Steps[1], nil)
	require.NoError(t, err)
	require.Equal(t, "apt-get update", first.Command)
	require.Equal(t, "apt-get -y upgrade", second.Command)
	require.Equal(t, int64(11), second.CommandTemplateID)

	// A referenced template that does not fit the host is not replaced by a
	// sibling variant.
	_, err = plan.Command(host, plan.Steps[2], nil)
	require.Equal(t, errutil.ReasonNoApplicableTemplate, errutil.ReasonOf(err))
}

func TestPlannerErrors(t *testing.T) {
	planner, repo := newTestPlanner(t)
	ctx := context.Background()

	_, err := planner.Load(ctx, 404)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	require.NoError(t, repo.CreateJobType(ctx, &JobType{ID: 1, Name: "x"}))
	require.NoError(t, repo.CreateJobTemplate(ctx, &JobTemplate{ID: 1, Name: "empty composite", JobTypeID: 1, Composite: true}))
	_, err = planner.Load(ctx, 1)
	require.True(t, errutil.IsStatus(err, errutil.StatusUnprocessableEntity))

	missing := int64(55)
	require.NoError(t, repo.CreateJobTemplate(ctx, &JobTemplate{ID: 2, Name: "dangling", JobTypeID: 1, CommandTemplateID: &missing}))
	_, err = planner.Load(ctx, 2)
	require.True(t, errutil.IsStatus(err, errutil.StatusUnprocessableEntity))
}
