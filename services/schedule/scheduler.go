package schedule

import (
	"context"
	"sync"
	"time"

	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/cronexpr"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/observability"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/execution"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runner executes a run to completion.
type Runner interface {
	Run(ctx context.Context, req execution.TriggerRequest) (*execution.JobRun, error)
}

// RunTracker tells whether a schedule still owns a non-terminal run.
type RunTracker interface {
	HasActiveRun(ctx context.Context, scheduleID int64) (bool, error)
}

type Scheduler struct {
	repo     Repository
	runner   Runner
	tracker  RunTracker
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	// runCtx is the parent of every fired run; cancelled only when a
	// graceful stop runs out of time.
	runCtx    context.Context
	cancelRun context.CancelFunc
	stop      chan struct{}
	stopOnce  sync.Once
	loopDone  chan struct{}
	wg        sync.WaitGroup
}

type SchedulerParams struct {
	fx.In
	Config  *config.Config
	Repo    Repository
	Runner  Runner
	Tracker RunTracker
}

func NewScheduler(p SchedulerParams) *Scheduler {
	interval := p.Config.Scheduler.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:      p.Repo,
		runner:    p.Runner,
		tracker:   p.Tracker,
		interval:  interval,
		grace:     p.Config.Scheduler.ClaimGrace,
		now:       func() time.Time { return time.Now().UTC() },
		runCtx:    runCtx,
		cancelRun: cancel,
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// StartScheduler hooks the poll loop into the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Info("[Scheduler] disabled by configuration")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.loop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	zap.L().Info("[Scheduler] started", zap.Duration("poll_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.PollOnce(s.runCtx); err != nil {
			zap.L().Error("[Scheduler] poll failed", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-s.stop:
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// Stop ends polling and waits for fired runs. When ctx expires first the
// remaining runs are interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		zap.L().Warn("[Scheduler] stop deadline reached, interrupting scheduled runs")
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

// PollOnce evaluates every enabled schedule once. Problems with one schedule
// never stop the others.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	start := time.Now()
	observability.SchedulerPolls.Inc()
	defer func() { observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds()) }()

	schedules, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	for i := range schedules {
		s.evaluate(ctx, schedules[i], now)
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, sch JobSchedule, now time.Time) {
	log := zap.L().With(zap.Int64("schedule_id", sch.ID), zap.String("schedule", sch.Name))

	next, err := cronexpr.NextOccurrence(sch.CronExpression, sch.Timezone, now)
	if err != nil {
		reason := errutil.ReasonOf(err)
		observability.SchedulingErrors.WithLabelValues(string(reason)).Inc()
		log.Error("[Scheduler] SchedulingError", zap.String("reason", string(reason)), zap.Error(err))
		if sch.Healthy || sch.LastError != err.Error() {
			if err := s.repo.MarkUnhealthy(ctx, sch.ID, err.Error()); err != nil {
				log.Error("[Scheduler] failed to mark schedule unhealthy", zap.Error(err))
			}
		}
		return
	}
	if !sch.Healthy {
		if err := s.repo.MarkHealthy(ctx, sch.ID); err != nil {
			log.Error("[Scheduler] failed to mark schedule healthy", zap.Error(err))
		}
		log.Info("[Scheduler] schedule healthy again")
	}

	if sch.NextRunAt == nil {
		if _, err := s.repo.SetNextRun(ctx, sch.ID, sch.Version, next); err != nil {
			log.Error("[Scheduler] failed to initialise next run", zap.Error(err))
		}
		return
	}

	if sch.InFlight {
		s.recoverStale(ctx, sch, now)
		return
	}

	if now.Before(*sch.NextRunAt) {
		return
	}

	// Missed occurrences between NextRunAt and now collapse into this one run.
	won, err := s.repo.Claim(ctx, sch.ID, sch.Version, now, next)
	if err != nil {
		log.Error("[Scheduler] claim failed", zap.Error(err))
		return
	}
	if !won {
		observability.SchedulerClaims.WithLabelValues("lost").Inc()
		log.Debug("[Scheduler] claim lost")
		return
	}
	observability.SchedulerClaims.WithLabelValues("won").Inc()
	log.Info("[Scheduler] schedule due", zap.Time("due", *sch.NextRunAt), zap.Time("next_run", next))

	claimed := sch
	claimed.Version++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(claimed)
	}()
}

// recoverStale releases a claim whose run is gone, for example after a
// crash between claim and run creation.
func (s *Scheduler) recoverStale(ctx context.Context, sch JobSchedule, now time.Time) {
	if s.grace <= 0 || sch.ClaimedAt == nil || now.Sub(*sch.ClaimedAt) < s.grace {
		return
	}

	active, err := s.tracker.HasActiveRun(ctx, sch.ID)
	if err != nil || active {
		return
	}

	ok, err := s.repo.Release(ctx, sch.ID, sch.Version, nil)
	if err != nil {
		zap.L().Error("[Scheduler] failed to release stale claim", zap.Int64("schedule_id", sch.ID), zap.Error(err))
		return
	}
	if ok {
		observability.SchedulerClaims.WithLabelValues("recovered").Inc()
		zap.L().Warn("[Scheduler] released stale claim", zap.Int64("schedule_id", sch.ID), zap.Time("claimed_at", *sch.ClaimedAt))
	}
}

func (s *Scheduler) fire(sch JobSchedule) {
	log := zap.L().With(zap.Int64("schedule_id", sch.ID), zap.Int64("job_template_id", sch.JobTemplateID))

	scheduleID := sch.ID
	target := sch.Target
	run, err := s.runner.Run(s.runCtx, execution.TriggerRequest{
		JobTemplateID: sch.JobTemplateID,
		ScheduleID:    &scheduleID,
		Source:        execution.TriggerSchedule,
		Target:        &target,
		Variables:     catalog.StringMap(sch.Variables),
		TriggeredBy:   "schedule:" + sch.Name,
	})

	var runID *int64
	if err != nil {
		log.Error("[Scheduler] scheduled run failed to start", zap.Error(err))
	} else {
		runID = &run.ID
		log.Info("[Scheduler] scheduled run finished", zap.Int64("run_id", run.ID), zap.String("status", string(run.Status)))
	}

	ok, err := s.repo.Release(context.Background(), sch.ID, sch.Version, runID)
	if err != nil || !ok {
		log.Error("[Scheduler] failed to release claim", zap.Bool("released", ok), zap.Error(err))
	}
}
