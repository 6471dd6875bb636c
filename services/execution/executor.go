package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/errutil"
	applog "fleetops-controlplane/pkg/logger"
	"fleetops-controlplane/pkg/observability"
	"fleetops-controlplane/pkg/remote"
	"fleetops-controlplane/pkg/util"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/inventory"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// RunObserver is told about every run that reaches a terminal status. It is
// called exactly once per run by whoever wrote the terminal status.
type RunObserver interface {
	RunFinished(ctx context.Context, run *JobRun)
}

// OutputArchiver keeps the full output of results truncated on the row.
type OutputArchiver interface {
	Store(ctx context.Context, key string, body []byte) (string, error)
}

type PlanLoader interface {
	Load(ctx context.Context, id int64) (*catalog.Plan, error)
}

type TargetResolver interface {
	Resolve(ctx context.Context, spec inventory.TargetSpec) ([]inventory.Host, error)
}

// TriggerRequest starts a run of a job template. Target overrides the
// template's default target.
type TriggerRequest struct {
	JobTemplateID int64
	ScheduleID    *int64
	Source        TriggerSource
	Target        *inventory.TargetSpec
	Variables     map[string]string
	TriggeredBy   string
}

// prepared is a run that was persisted and is ready to execute.
type prepared struct {
	run   *JobRun
	plan  *catalog.Plan
	hosts map[int64]inventory.Host
}

// Executor runs job templates across hosts. Host executions of all runs share
// one permit pool sized by EXECUTOR.MAX_CONCURRENCY.
type Executor struct {
	repo      Repository
	planner   PlanLoader
	resolver  TargetResolver
	inventory inventory.Repository
	remote    remote.Executor
	archiver  OutputArchiver
	node      *snowflake.Node
	permits   *semaphore.Weighted
	tracer    trace.Tracer

	outputLimit    int
	defaultTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	observers []RunObserver
	cancels   map[int64]context.CancelFunc

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

type ExecutorParams struct {
	fx.In
	Config    *config.Config
	Repo      Repository
	Planner   PlanLoader
	Resolver  TargetResolver
	Inventory inventory.Repository
	Remote    remote.Executor
	Node      *snowflake.Node
	Archiver  OutputArchiver `optional:"true"`
}

func NewExecutor(p ExecutorParams) *Executor {
	limit := p.Config.Executor.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}

	root, stop := context.WithCancel(context.Background())
	return &Executor{
		repo:           p.Repo,
		planner:        p.Planner,
		resolver:       p.Resolver,
		inventory:      p.Inventory,
		remote:         p.Remote,
		archiver:       p.Archiver,
		node:           p.Node,
		permits:        semaphore.NewWeighted(limit),
		tracer:         otel.Tracer("fleetops/execution"),
		outputLimit:    p.Config.Executor.OutputLimit,
		defaultTimeout: p.Config.Executor.DefaultCommandTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          sleepContext,
		cancels:        make(map[int64]context.CancelFunc),
		root:           root,
		stop:           stop,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe registers o for terminal run events.
func (e *Executor) Observe(o RunObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Executor) notify(ctx context.Context, run *JobRun) {
	observability.JobRunsFinished.WithLabelValues(string(run.Status), string(run.TriggerSource)).Inc()
	if d := run.Duration(); d > 0 {
		observability.JobRunDuration.WithLabelValues(string(run.Status)).Observe(d.Seconds())
	}

	e.mu.Lock()
	observers := append([]RunObserver(nil), e.observers...)
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, o := range observers {
		o.RunFinished(ctx, run)
	}
}

// prepare loads the plan, resolves targets and persists the run with one
// Pending result per host. A target that matches nothing yields a run that is
// already Failed with reason NoTargets.
func (e *Executor) prepare(ctx context.Context, req TriggerRequest) (*prepared, error) {
	plan, err := e.planner.Load(ctx, req.JobTemplateID)
	if err != nil {
		return nil, err
	}

	var target inventory.TargetSpec
	switch {
	case req.Target != nil:
		target = *req.Target
	case plan.Template.DefaultTarget != nil:
		target = *plan.Template.DefaultTarget
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("job template %d has no default target", plan.Template.ID), nil)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = TriggerManual
	}
	runtime := make(map[string]any, len(req.Variables))
	for k, v := range req.Variables {
		runtime[k] = v
	}

	run := &JobRun{
		ID:               e.node.Generate().Int64(),
		ScheduleID:       req.ScheduleID,
		JobTemplateID:    plan.Template.ID,
		JobTemplateName:  plan.Template.Name,
		JobTypeID:        plan.JobType.ID,
		JobTypeName:      plan.JobType.Name,
		TriggerSource:    source,
		TriggeredBy:      req.TriggeredBy,
		Target:           target,
		RuntimeVariables: runtime,
		Status:           RunPending,
		Version:          1,
	}

	hosts, err := e.resolver.Resolve(ctx, target)
	if err != nil {
		if errutil.ReasonOf(err) != errutil.ReasonNoTargets {
			return nil, err
		}
		now := e.now()
		run.Status = RunFailed
		run.FailureReason = string(errutil.ReasonNoTargets)
		run.FailureMessage = err.Error()
		run.StartedAt = &now
		run.FinishedAt = &now
		if err := e.repo.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
		e.notify(ctx, run)
		return &prepared{run: run, plan: plan}, nil
	}

	byID := make(map[int64]inventory.Host, len(hosts))
	for _, h := range hosts {
		byID[h.ID] = h
		run.Hosts = append(run.Hosts, HostJobResult{
			ID:       e.node.Generate().Int64(),
			JobRunID: run.ID,
			HostID:   h.ID,
			HostName: h.Name,
			HostTags: append([]string(nil), h.Tags...),
			Status:   HostPending,
		})
	}

	if err := e.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &prepared{run: run, plan: plan, hosts: byID}, nil
}

// Run prepares and executes a run, returning once it is terminal.
func (e *Executor) Run(ctx context.Context, req TriggerRequest) (*JobRun, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if !p.run.Status.Terminal() {
		e.execute(ctx, p)
	}
	return e.repo.GetRunWithResults(context.WithoutCancel(ctx), p.run.ID)
}

// Start prepares a run and executes it in the background. The returned run
// is the persisted Pending (or already Failed) run.
func (e *Executor) Start(ctx context.Context, req TriggerRequest) (*JobRun, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.run.Status.Terminal() {
		return p.run, nil
	}

	snapshot := *p.run
	snapshot.Hosts = append([]HostJobResult(nil), p.run.Hosts...)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.root, p)
	}()
	return &snapshot, nil
}

// Stop interrupts in-flight runs and waits for them to record their status.
func (e *Executor) Stop(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) register(runID int64, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[runID] = cancel
}

func (e *Executor) unregister(runID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, runID)
}

func (e *Executor) interrupt(runID int64) {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Executor) execute(ctx context.Context, p *prepared) {
	run := p.run
	log := applog.FromContext(ctx, zap.L()).With(zap.Int64("run_id", run.ID), zap.Int64("job_template_id", run.JobTemplateID))

	ctx, span := e.tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.Int64("run.id", run.ID),
		attribute.String("job_template.name", run.JobTemplateName),
		attribute.Int("run.hosts", len(run.Hosts)),
	))
	defer span.End()

	store := context.WithoutCancel(ctx)
	started := e.now()
	err := e.repo.TransitionRun(store, run.ID, RunTransition{
		From:      []RunStatus{RunPending},
		To:        RunRunning,
		Version:   run.Version,
		StartedAt: &started,
	})
	if err != nil {
		log.Info("[Executor] run not started", zap.Error(err))
		return
	}
	run.Status = RunRunning
	run.Version++
	run.StartedAt = &started

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := p.plan.Template.RunTimeout(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.register(run.ID, cancel)
	defer e.unregister(run.ID)
	defer cancel()

	log.Info("[Executor] run started", zap.Int("hosts", len(run.Hosts)), zap.Int("steps", len(p.plan.Steps)))

	var g errgroup.Group
	for i := range run.Hosts {
		result := run.Hosts[i]
		host := p.hosts[result.HostID]
		g.Go(func() error {
			e.runHost(runCtx, p, result, host)
			return nil
		})
	}
	_ = g.Wait()

	e.finalize(store, run, runCtx, ctx)
}

// finalize writes the terminal status of run. runCtx is the run scoped
// context and parent the context it was derived from.
func (e *Executor) finalize(ctx context.Context, run *JobRun, runCtx, parent context.Context) {
	log := zap.L().With(zap.Int64("run_id", run.ID))
	now := e.now()

	var (
		status  RunStatus
		reason  errutil.Reason
		message string
	)
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		status, reason, message = RunTimeout, errutil.ReasonRunTimeout, "run deadline elapsed"
	case parent.Err() != nil:
		status, reason, message = RunCancelled, errutil.ReasonInterrupted, "control plane shutting down"
	case runCtx.Err() != nil:
		status, reason, message = RunCancelled, errutil.ReasonCancelled, "run cancelled"
	}

	if status != "" {
		if err := e.repo.CancelOpenHosts(ctx, run.ID, []HostStatus{HostPending, HostRunning}, string(reason), message, now); err != nil {
			log.Error("[Executor] failed to cancel open hosts", zap.Error(err))
		}
	}

	results, err := e.repo.ListHostResults(ctx, run.ID)
	if err != nil {
		log.Error("[Executor] failed to load host results", zap.Error(err))
	}
	if status == "" {
		status = Aggregate(results)
		if status == RunFailed {
			reason, message = failureSummary(results)
		}
	}

	err = e.repo.TransitionRun(ctx, run.ID, RunTransition{
		From:           []RunStatus{RunRunning},
		To:             status,
		Version:        run.Version,
		FailureReason:  string(reason),
		FailureMessage: message,
		FinishedAt:     &now,
	})
	if err != nil {
		// A concurrent cancel owns the terminal write and its notification.
		log.Info("[Executor] run already finalized", zap.Error(err))
		return
	}

	run.Status = status
	run.Version++
	run.FinishedAt = &now
	run.FailureReason = string(reason)
	run.FailureMessage = message
	run.Hosts = results

	log.Info("[Executor] run finished", zap.String("status", string(status)), zap.Duration("duration", run.Duration()))
	e.notify(ctx, run)
}

// Aggregate derives the run status from its host results: Succeeded when
// every host succeeded, Failed when none did (or there are none), Partial
// otherwise.
func Aggregate(results []HostJobResult) RunStatus {
	if len(results) == 0 {
		return RunFailed
	}
	succeeded := 0
	for _, r := range results {
		if r.Status == HostSucceeded {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return RunSucceeded
	case 0:
		return RunFailed
	default:
		return RunPartial
	}
}

func failureSummary(results []HostJobResult) (errutil.Reason, string) {
	for _, r := range results {
		if r.ErrorReason != "" {
			return errutil.Reason(r.ErrorReason), fmt.Sprintf("all %d hosts failed; %s: %s", len(results), r.HostName, r.ErrorMessage)
		}
	}
	return errutil.ReasonInternal, "all hosts failed"
}

func (e *Executor) runHost(ctx context.Context, p *prepared, result HostJobResult, host inventory.Host) {
	log := zap.L().With(zap.Int64("run_id", p.run.ID), zap.Int64("host_id", host.ID), zap.String("host", host.Name))

	if err := e.permits.Acquire(ctx, 1); err != nil {
		// Left Pending; finalize marks it Cancelled.
		return
	}
	observability.ExecutorPermitsInUse.Inc()
	defer func() {
		e.permits.Release(1)
		observability.ExecutorPermitsInUse.Dec()
	}()

	store := context.WithoutCancel(ctx)
	started := e.now()
	ok, err := e.repo.StartHost(store, result.ID, started)
	if err != nil || !ok {
		if err != nil {
			log.Error("[Executor] failed to start host", zap.Error(err))
		}
		return
	}
	result.Status = HostRunning
	result.StartedAt = &started

	ctx, span := e.tracer.Start(ctx, "execution.host", trace.WithAttributes(
		attribute.Int64("host.id", host.ID),
		attribute.String("host.name", host.Name),
	))
	defer span.End()

	steps := e.runSteps(ctx, p, &result, host)

	finished := e.now()
	result.FinishedAt = &finished
	e.archiveOutput(store, p.run.ID, &result)

	if err := e.repo.FinishHost(store, &result, steps); err != nil {
		log.Error("[Executor] failed to record host result", zap.Error(err))
	}

	observability.HostResults.WithLabelValues(string(result.Status), result.ErrorReason).Inc()
	e.touchHost(store, host.ID, errutil.Reason(result.ErrorReason), result.Status, finished)

	log.Debug("[Executor] host finished", zap.String("status", string(result.Status)), zap.String("reason", result.ErrorReason))
}

// runSteps executes the plan's steps on host in order and fills in result.
func (e *Executor) runSteps(ctx context.Context, p *prepared, result *HostJobResult, host inventory.Host) []StepExecutionResult {
	if !host.Enabled {
		result.Status = HostFailed
		result.ErrorReason = string(errutil.ReasonHostDisabled)
		result.ErrorMessage = fmt.Sprintf("host %s is disabled", host.Name)
		return nil
	}

	var cred *remote.Credential
	if host.CredentialID != nil {
		c, err := e.inventory.GetCredential(ctx, *host.CredentialID)
		if err != nil {
			result.Status = HostFailed
			result.ErrorReason = string(errutil.ReasonConnectionFailed)
			result.ErrorMessage = fmt.Sprintf("credential %d unavailable: %v", *host.CredentialID, err)
			return nil
		}
		cred = c.Remote()
	}

	runtime := catalog.StringMap(p.run.RuntimeVariables)
	steps := make([]StepExecutionResult, 0, len(p.plan.Steps))
	outputs := make([]string, 0, len(p.plan.Steps))

	var (
		aborted   bool
		cancelled bool
		failed    bool
		failedWhy string
		failedMsg string
	)
	for _, step := range p.plan.Steps {
		rec := StepExecutionResult{
			ID:              e.node.Generate().Int64(),
			HostJobResultID: result.ID,
			JobRunID:        p.run.ID,
			StepOrder:       step.Order,
			StepName:        step.Name,
		}

		switch {
		case aborted:
			rec.Status = StepSkipped
		case cancelled || e.stopped(ctx, p.run.ID):
			cancelled = true
			rec.Status = StepCancelled
			rec.ErrorReason = string(errutil.ReasonCancelled)
		default:
			e.runStep(ctx, p, step, host, cred, runtime, &rec)
			if rec.Output != "" {
				outputs = append(outputs, stepHeader(p.plan, step)+rec.Output)
			}
			switch rec.Status {
			case StepCancelled:
				cancelled = true
			case StepFailed:
				if !failed {
					failed = true
					failedWhy, failedMsg = rec.ErrorReason, rec.ErrorMessage
				}
				if !step.ContinueOnFailure {
					aborted = true
				}
			}
			result.Attempts += rec.Attempts
			if rec.ExitCode != nil {
				result.ExitCode = rec.ExitCode
			}
		}
		steps = append(steps, rec)
	}

	result.Output = strings.Join(outputs, "\n")
	switch {
	case cancelled:
		result.Status = HostCancelled
		result.ErrorReason = string(errutil.ReasonCancelled)
		result.ErrorMessage = "run cancelled before host completed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.ErrorReason = string(errutil.ReasonRunTimeout)
			result.ErrorMessage = "run deadline elapsed before host completed"
		}
	case failed:
		result.Status = HostFailed
		result.ErrorReason, result.ErrorMessage = failedWhy, failedMsg
	default:
		result.Status = HostSucceeded
	}
	return steps
}

func stepHeader(plan *catalog.Plan, step catalog.Step) string {
	if len(plan.Steps) < 2 {
		return ""
	}
	return fmt.Sprintf("== step %d: %s ==\n", step.Order, step.Name)
}

// stopped reports whether the run was cancelled, either through ctx or by a
// status change written by another process.
func (e *Executor) stopped(ctx context.Context, runID int64) bool {
	if ctx.Err() != nil {
		return true
	}
	run, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return ctx.Err() != nil
	}
	return run.Status == RunCancelled
}

// runStep selects, renders and executes one step with the template's retry
// policy. Selection and render failures never reach the remote host.
func (e *Executor) runStep(ctx context.Context, p *prepared, step catalog.Step, host inventory.Host, cred *remote.Credential, runtime map[string]string, rec *StepExecutionResult) {
	started := e.now()
	rec.StartedAt = &started
	defer func() {
		finished := e.now()
		rec.FinishedAt = &finished
		rec.DurationMs = finished.Sub(started).Milliseconds()
	}()

	cmd, err := p.plan.Command(&host, step, runtime)
	if err != nil {
		rec.Status = StepFailed
		rec.ErrorReason = string(errutil.ReasonOf(err))
		rec.ErrorMessage = err.Error()
		return
	}
	ctID := cmd.CommandTemplateID
	rec.CommandTemplateID = &ctID
	rec.Command = cmd.Command

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	req := remote.Request{
		Target:     host.Target(),
		Credential: cred,
		Command:    cmd.Command,
		Timeout:    timeout,
		Env:        cmd.Env,
		WorkDir:    cmd.WorkDir,
	}

	tmpl := p.plan.Template
	for attempt := 1; ; attempt++ {
		rec.Attempts = attempt
		out, err := e.remote.Execute(ctx, req)

		if out != nil {
			rec.Output = util.TruncateMarked(out.Combined(), e.outputLimit)
			if err == nil || errutil.ReasonOf(err) == errutil.ReasonNonZeroExit {
				code := out.ExitCode
				rec.ExitCode = &code
			}
		}

		if ctx.Err() != nil {
			observability.RemoteAttempts.WithLabelValues("cancelled").Inc()
			rec.Status = StepCancelled
			rec.ErrorReason = string(errutil.ReasonCancelled)
			rec.ErrorMessage = "run stopped while command was in flight"
			return
		}
		if err == nil {
			observability.RemoteAttempts.WithLabelValues("succeeded").Inc()
			rec.Status = StepSucceeded
			rec.ErrorReason, rec.ErrorMessage = "", ""
			return
		}

		reason := errutil.ReasonOf(err)
		observability.RemoteAttempts.WithLabelValues(string(reason)).Inc()
		rec.Status = StepFailed
		rec.ErrorReason = string(reason)
		rec.ErrorMessage = err.Error()

		retryable := reason.Transient() || (reason == errutil.ReasonNonZeroExit && rec.ExitCode != nil && cmd.Retryable(*rec.ExitCode))
		if !retryable || attempt > tmpl.RetryCount {
			return
		}

		zap.L().Debug("[Executor] retrying step",
			zap.Int64("run_id", p.run.ID),
			zap.Int64("host_id", host.ID),
			zap.Int("step", step.Order),
			zap.Int("attempt", attempt),
			zap.String("reason", string(reason)),
		)
		if err := e.sleep(ctx, tmpl.RetryDelay()); err != nil {
			rec.Status = StepCancelled
			rec.ErrorReason = string(errutil.ReasonCancelled)
			rec.ErrorMessage = "run stopped while waiting to retry"
			return
		}
	}
}

// archiveOutput truncates the host output to the configured limit, storing
// the full text when an archiver is configured.
func (e *Executor) archiveOutput(ctx context.Context, runID int64, result *HostJobResult) {
	truncated, cut := util.Truncate(result.Output, e.outputLimit)
	if !cut {
		return
	}
	if e.archiver != nil {
		key := "runs/" + strconv.FormatInt(runID, 10) + "/hosts/" + strconv.FormatInt(result.HostID, 10) + ".log"
		ref, err := e.archiver.Store(ctx, key, []byte(result.Output))
		if err != nil {
			zap.L().Warn("[Executor] failed to archive output", zap.Int64("run_id", runID), zap.Error(err))
		} else {
			result.OutputObject = ref
		}
	}
	result.Output = truncated
}

// touchHost records what the run learned about the host's reachability.
func (e *Executor) touchHost(ctx context.Context, hostID int64, reason errutil.Reason, status HostStatus, at time.Time) {
	var hs inventory.HostStatus
	switch {
	case status == HostSucceeded, reason == errutil.ReasonNonZeroExit:
		hs = inventory.HostStatusReachable
	case reason == errutil.ReasonConnectionFailed:
		hs = inventory.HostStatusUnreachable
	default:
		return
	}
	if err := e.inventory.UpdateStatus(ctx, hostID, hs, at); err != nil {
		zap.L().Warn("[Executor] failed to update host status", zap.Int64("host_id", hostID), zap.Error(err))
	}
}
