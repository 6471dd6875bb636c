package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/execution"
	"fleetops-controlplane/services/inventory"
	"fleetops-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunner struct {
	mu      sync.Mutex
	reqs    []execution.TriggerRequest
	release chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, req execution.TriggerRequest) (*execution.JobRun, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := int64(len(f.reqs))
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &execution.JobRun{ID: 1000 + n, Status: execution.RunSucceeded}, nil
}

func (f *fakeRunner) Requests() []execution.TriggerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execution.TriggerRequest(nil), f.reqs...)
}

type fakeTracker struct {
	active bool
}

func (f fakeTracker) HasActiveRun(context.Context, int64) (bool, error) {
	return f.active, nil
}

var clock = time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, runner *fakeRunner, tracker RunTracker) (*Scheduler, Repository) {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	repo := NewRepository(db)

	cfg := &config.Config{}
	cfg.Scheduler.PollInterval = time.Minute
	cfg.Scheduler.ClaimGrace = 10 * time.Minute

	s := NewScheduler(SchedulerParams{Config: cfg, Repo: repo, Runner: runner, Tracker: tracker})
	s.now = func() time.Time { return clock }
	return s, repo
}

func seed(t *testing.T, repo Repository, sch JobSchedule) *JobSchedule {
	t.Helper()
	if sch.Name == "" {
		sch.Name = "every five minutes"
	}
	if sch.CronExpression == "" {
		sch.CronExpression = "*/5 * * * *"
	}
	sch.JobTemplateID = 100
	sch.Target = inventory.TargetSpec{Kind: inventory.TargetTags, Tags: []string{"web"}}
	sch.Enabled = true
	sch.Healthy = true
	sch.Version = 1
	require.NoError(t, repo.Create(context.Background(), &sch))
	return &sch
}

func ptr(t time.Time) *time.Time { return &t }

func TestPollInitialisesNextRun(t *testing.T) {
	runner := &fakeRunner{}
	s, repo := newTestScheduler(t, runner, fakeTracker{})
	sch := seed(t, repo, JobSchedule{ID: 1})

	require.NoError(t, s.PollOnce(context.Background()))
	s.wg.Wait()

	got, err := repo.Get(context.Background(), sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	require.True(t, got.NextRunAt.Equal(time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)))
	require.Empty(t, runner.Requests())
}

func TestPollFiresDueScheduleOnceForMissedOccurrences(t *testing.T) {
	runner := &fakeRunner{}
	s, repo := newTestScheduler(t, runner, fakeTracker{})
	// Three occurrences (09:55, 10:00, 10:05) were missed.
	sch := seed(t, repo, JobSchedule{ID: 1, NextRunAt: ptr(clock.Add(-12 * time.Minute))})

	require.NoError(t, s.PollOnce(context.Background()))
	s.wg.Wait()

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, int64(100), reqs[0].JobTemplateID)
	require.Equal(t, execution.TriggerSchedule, reqs[0].Source)
	require.NotNil(t, reqs[0].ScheduleID)
	require.Equal(t, sch.ID, *reqs[0].ScheduleID)
	require.Equal(t, inventory.TargetTags, reqs[0].Target.Kind)

	got, err := repo.Get(context.Background(), sch.ID)
	require.NoError(t, err)
	require.False(t, got.InFlight)
	require.Nil(t, got.ClaimedAt)
	require.True(t, got.LastRunAt.Equal(clock))
	require.True(t, got.NextRunAt.Equal(time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)))
	require.NotNil(t, got.LastRunID)
	require.Equal(t, int64(1001), *got.LastRunID)
	require.Equal(t, int64(3), got.Version)
}

func TestAtMostOneRunInFlightPerSchedule(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, repo := newTestScheduler(t, runner, fakeTracker{active: true})
	sch := seed(t, repo, JobSchedule{ID: 1, NextRunAt: ptr(clock.Add(-time.Minute))})
	ctx := context.Background()

	require.NoError(t, s.PollOnce(ctx))

	// Later polls while the first run is still going must not fire again,
	// even though the next occurrence has passed.
	s.now = func() time.Time { return clock.Add(20 * time.Minute) }
	require.NoError(t, s.PollOnce(ctx))
	require.NoError(t, s.PollOnce(ctx))

	got, err := repo.Get(ctx, sch.ID)
	require.NoError(t, err)
	require.True(t, got.InFlight)

	close(runner.release)
	s.wg.Wait()
	require.Len(t, runner.Requests(), 1)

	require.NoError(t, s.PollOnce(ctx))
	s.wg.Wait()
	require.Len(t, runner.Requests(), 2)
}

func TestConcurrentSchedulersClaimOnce(t *testing.T) {
	runner := &fakeRunner{}
	s1, repo := newTestScheduler(t, runner, fakeTracker{})
	sch := seed(t, repo, JobSchedule{ID: 1, NextRunAt: ptr(clock.Add(-time.Minute))})

	cfg := &config.Config{}
	cfg.Scheduler.PollInterval = time.Minute
	s2 := NewScheduler(SchedulerParams{Config: cfg, Repo: repo, Runner: runner, Tracker: fakeTracker{}})
	s2.now = s1.now

	// Both read the same version before either claims.
	stale, err := repo.Get(context.Background(), sch.ID)
	require.NoError(t, err)

	s1.evaluate(context.Background(), *stale, clock)
	s2.evaluate(context.Background(), *stale, clock)
	s1.wg.Wait()
	s2.wg.Wait()

	require.Len(t, runner.Requests(), 1)
}

func TestInvalidCronMarksScheduleUnhealthy(t *testing.T) {
	runner := &fakeRunner{}
	s, repo := newTestScheduler(t, runner, fakeTracker{})
	ctx := context.Background()

	bad := seed(t, repo, JobSchedule{ID: 1, Name: "broken", CronExpression: "61 * * * *", NextRunAt: ptr(clock.Add(-time.Minute))})
	good := seed(t, repo, JobSchedule{ID: 2, Name: "fine", NextRunAt: ptr(clock.Add(-time.Minute))})

	require.NoError(t, s.PollOnce(ctx))
	s.wg.Wait()

	got, err := repo.Get(ctx, bad.ID)
	require.NoError(t, err)
	require.False(t, got.Healthy)
	require.Contains(t, got.LastError, string(errutil.ReasonInvalidCronExpression))
	require.False(t, got.InFlight)

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, good.ID, *reqs[0].ScheduleID)
}

func TestUnknownTimezoneMarksScheduleUnhealthy(t *testing.T) {
	s, repo := newTestScheduler(t, &fakeRunner{}, fakeTracker{})
	sch := seed(t, repo, JobSchedule{ID: 1, Timezone: "Mars/Olympus"})

	require.NoError(t, s.PollOnce(context.Background()))

	got, err := repo.Get(context.Background(), sch.ID)
	require.NoError(t, err)
	require.False(t, got.Healthy)
	require.Nil(t, got.NextRunAt)
}

func TestRepairedScheduleBecomesHealthy(t *testing.T) {
	s, repo := newTestScheduler(t, &fakeRunner{}, fakeTracker{})
	ctx := context.Background()
	sch := seed(t, repo, JobSchedule{ID: 1})
	require.NoError(t, repo.MarkUnhealthy(ctx, sch.ID, "previous error"))

	require.NoError(t, s.PollOnce(ctx))

	got, err := repo.Get(ctx, sch.ID)
	require.NoError(t, err)
	require.True(t, got.Healthy)
	require.Empty(t, got.LastError)
}

func TestStaleClaimIsRecovered(t *testing.T) {
	for _, tc := range []struct {
		name     string
		active   bool
		inFlight bool
	}{
		{name: "run gone", active: false, inFlight: false},
		{name: "run still active", active: true, inFlight: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, repo := newTestScheduler(t, &fakeRunner{}, fakeTracker{active: tc.active})
			sch := seed(t, repo, JobSchedule{
				ID:        1,
				NextRunAt: ptr(clock.Add(time.Minute)),
				InFlight:  true,
				ClaimedAt: ptr(clock.Add(-time.Hour)),
			})

			require.NoError(t, s.PollOnce(ctx))

			got, err := repo.Get(ctx, sch.ID)
			require.NoError(t, err)
			require.Equal(t, tc.inFlight, got.InFlight)
		})
	}
}

func TestClaimReleasedWhenRunFailsToStart(t *testing.T) {
	runner := &fakeRunner{err: errors.New("template gone")}
	s, repo := newTestScheduler(t, runner, fakeTracker{})
	sch := seed(t, repo, JobSchedule{ID: 1, NextRunAt: ptr(clock.Add(-time.Minute))})

	require.NoError(t, s.PollOnce(context.Background()))
	s.wg.Wait()

	got, err := repo.Get(context.Background(), sch.ID)
	require.NoError(t, err)
	require.False(t, got.InFlight)
	require.Nil(t, got.LastRunID)
}

func TestClaimIsVersionGuarded(t *testing.T) {
	_, repo := newTestScheduler(t, &fakeRunner{}, fakeTracker{})
	ctx := context.Background()
	sch := seed(t, repo, JobSchedule{ID: 1})

	ok, err := repo.Claim(ctx, sch.ID, sch.Version, clock, clock.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(ctx, sch.ID, sch.Version, clock, clock.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.Release(ctx, sch.ID, sch.Version, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.Release(ctx, sch.ID, sch.Version+1, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStopWaitsForRuns(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, repo := newTestScheduler(t, runner, fakeTracker{})
	seed(t, repo, JobSchedule{ID: 1, NextRunAt: ptr(clock.Add(-time.Minute))})
	require.NoError(t, s.PollOnce(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, got.InFlight)
}

func TestCreateScheduleValidates(t *testing.T) {
	_, repo := newTestScheduler(t, &fakeRunner{}, fakeTracker{})
	svc := NewService(repo, testutil.NewTestNode(t))
	ctx := context.Background()

	target := inventory.TargetSpec{Kind: inventory.TargetAll}
	_, err := svc.CreateSchedule(ctx, CreateRequest{Name: "x", JobTemplateID: 1, Target: target, CronExpression: "nope"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.CreateSchedule(ctx, CreateRequest{Name: "x", JobTemplateID: 1, Target: inventory.TargetSpec{Kind: "galaxy"}, CronExpression: "* * * * *"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	sch, err := svc.CreateSchedule(ctx, CreateRequest{Name: "nightly", JobTemplateID: 1, Target: target, CronExpression: "0 2 * * *", Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	require.True(t, sch.Enabled)
	require.True(t, sch.Healthy)

	disabled, err := svc.SetEnabled(ctx, sch.ID, false)
	require.NoError(t, err)
	require.False(t, disabled.Enabled)

	_, err = svc.SetEnabled(ctx, 404, true)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}
