package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetops-controlplane/pkg/celengine"
	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/observability"
	"fleetops-controlplane/services/catalog"
	"fleetops-controlplane/services/execution"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunSource loads a run with its host results.
type RunSource interface {
	GetRunWithResults(ctx context.Context, id int64) (*execution.JobRun, error)
}

// TemplateSource loads the job template of a run.
type TemplateSource interface {
	GetJobTemplate(ctx context.Context, id int64) (*catalog.JobTemplate, error)
}

type Dispatcher struct {
	repo        Repository
	runs        RunSource
	templates   TemplateSource
	providers   map[string]Provider
	conditions  *celengine.Engine
	node        *snowflake.Node
	sendTimeout time.Duration
	outputLimit int
	now         func() time.Time
	tracer      trace.Tracer
}

type DispatcherParams struct {
	fx.In
	Config    *config.Config
	Repo      Repository
	Runs      RunSource
	Templates TemplateSource
	Node      *snowflake.Node
	Providers []Provider
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	conditions, err := NewConditionEngine()
	if err != nil {
		return nil, err
	}

	providers := make(map[string]Provider, len(p.Providers))
	for _, pr := range p.Providers {
		providers[pr.Kind()] = pr
	}

	timeout := p.Config.Notification.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		repo:        p.Repo,
		runs:        p.Runs,
		templates:   p.Templates,
		providers:   providers,
		conditions:  conditions,
		node:        p.Node,
		sendTimeout: timeout,
		outputLimit: p.Config.Notification.OutputLimit,
		now:         func() time.Time { return time.Now().UTC() },
		tracer:      otel.Tracer("fleetops/notification"),
	}, nil
}

// history is what earlier dispatches of the same run already logged.
type history struct {
	delivered map[[2]int64]bool
	admitted  map[int64]bool
	throttled map[int64]bool
}

func newHistory(entries []LogEntry) history {
	h := history{
		delivered: map[[2]int64]bool{},
		admitted:  map[int64]bool{},
		throttled: map[int64]bool{},
	}
	for _, e := range entries {
		switch e.Outcome {
		case OutcomeThrottled:
			h.throttled[e.PolicyID] = true
		case OutcomeDelivered:
			h.admitted[e.PolicyID] = true
			if e.ChannelID != nil {
				h.delivered[[2]int64{e.PolicyID, *e.ChannelID}] = true
			}
		case OutcomeFailed:
			h.admitted[e.PolicyID] = true
		}
	}
	return h
}

// Dispatch evaluates every candidate policy against a terminal run and
// delivers to the attached channels. Calling it again for the same run only
// retries channels that have not yet been delivered to. Errors are returned
// only when the store fails; channel failures are logged entries.
func (d *Dispatcher) Dispatch(ctx context.Context, runID int64) error {
	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.Int64("run.id", runID),
	))
	defer span.End()

	run, err := d.runs.GetRunWithResults(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound(fmt.Sprintf("job run %d not found", runID), err)
		}
		return err
	}
	if !run.Status.Terminal() {
		return errutil.Conflict(fmt.Sprintf("job run %d is still %s", runID, run.Status), nil)
	}
	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	if Severity(run.Status) == 0 {
		return nil
	}

	policies, err := d.candidates(ctx, run)
	if err != nil {
		return err
	}
	entries, err := d.repo.RunEntries(ctx, run.ID)
	if err != nil {
		return err
	}
	h := newHistory(entries)

	for i := range policies {
		p := &policies[i]
		if !p.Matches(run) || !d.conditionHolds(p, run) {
			continue
		}
		if err := d.dispatchPolicy(ctx, p, run, h); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// candidates returns the policy referenced by the run's job template, or
// every enabled policy when the template references none.
func (d *Dispatcher) candidates(ctx context.Context, run *execution.JobRun) ([]Policy, error) {
	tmpl, err := d.templates.GetJobTemplate(ctx, run.JobTemplateID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if tmpl == nil || tmpl.NotificationPolicyID == nil {
		return d.repo.ListPolicies(ctx, true)
	}

	p, err := d.repo.GetPolicy(ctx, *tmpl.NotificationPolicyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("[Notification] job template references a missing policy",
				zap.Int64("job_template_id", tmpl.ID), zap.Int64("policy_id", *tmpl.NotificationPolicyID))
			return nil, nil
		}
		return nil, err
	}
	return []Policy{*p}, nil
}

func (d *Dispatcher) conditionHolds(p *Policy, run *execution.JobRun) bool {
	if p.Condition == "" {
		return true
	}
	ok, err := d.conditions.Evaluate(p.Condition, conditionAttrs(run))
	if err != nil {
		zap.L().Warn("[Notification] policy condition failed to evaluate",
			zap.Int64("policy_id", p.ID), zap.String("condition", p.Condition), zap.Error(err))
		return false
	}
	return ok
}

func (d *Dispatcher) dispatchPolicy(ctx context.Context, p *Policy, run *execution.JobRun, h history) error {
	log := zap.L().With(zap.Int64("policy_id", p.ID), zap.Int64("run_id", run.ID))

	if h.throttled[p.ID] {
		return nil
	}
	if !h.admitted[p.ID] && p.MaxPerHour > 0 {
		count, err := d.repo.CountRecentRuns(ctx, p.ID, d.now().Add(-time.Hour), run.ID)
		if err != nil {
			return err
		}
		if count >= int64(p.MaxPerHour) {
			log.Info("[Notification] throttled", zap.Int64("recent_runs", count), zap.Int("max_per_hour", p.MaxPerHour))
			return d.record(ctx, "", &LogEntry{
				PolicyID:     p.ID,
				JobRunID:     run.ID,
				Outcome:      OutcomeThrottled,
				ErrorMessage: fmt.Sprintf("%d runs notified in the last hour, limit is %d", count, p.MaxPerHour),
			})
		}
	}

	msg, renderErr := Render(p, run, d.outputLimit)
	if renderErr != nil {
		log.Warn("[Notification] render failed", zap.Error(renderErr))
	}

	ids := make([]int64, 0, len(p.Channels))
	for _, pc := range p.Channels {
		ids = append(ids, pc.ChannelID)
	}
	channels, err := d.repo.GetChannels(ctx, ids)
	if err != nil {
		return err
	}

	for _, pc := range p.Channels {
		if h.delivered[[2]int64{p.ID, pc.ChannelID}] {
			continue
		}

		channelID := pc.ChannelID
		entry := &LogEntry{PolicyID: p.ID, ChannelID: &channelID, JobRunID: run.ID}
		kind := "unknown"

		var sendErr error
		if renderErr != nil {
			sendErr = renderErr
		} else {
			m := *msg
			if pc.Priority != "" {
				m.Priority = pc.Priority
			}
			entry.Title, entry.Body = m.Title, m.Body

			ch, ok := channels[pc.ChannelID]
			switch {
			case !ok:
				sendErr = unavailable("channel %d does not exist", pc.ChannelID)
			case !ch.Enabled:
				kind = ch.Kind
				sendErr = unavailable("channel %q is disabled", ch.Name)
			default:
				kind = ch.Kind
				sendErr = d.send(ctx, ch, m)
			}
		}

		if sendErr == nil {
			entry.Outcome = OutcomeDelivered
		} else {
			entry.Outcome = OutcomeFailed
			entry.ErrorReason = string(notificationReason(sendErr))
			entry.ErrorMessage = sendErr.Error()
			log.Warn("[Notification] delivery failed", zap.Int64("channel_id", channelID), zap.Error(sendErr))
		}
		if err := d.record(ctx, kind, entry); err != nil {
			return err
		}
	}
	return nil
}

func notificationReason(err error) errutil.Reason {
	if r := errutil.ReasonOf(err); r.Category() == errutil.CategoryNotification {
		return r
	}
	return errutil.ReasonChannelUnavailable
}

// send runs one provider call under the send timeout. A panicking provider
// is reported as an unavailable channel.
func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) (err error) {
	provider, ok := d.providers[ch.Kind]
	if !ok {
		return unavailable("no provider for channel kind %q", ch.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.Int64("channel.id", ch.ID),
		attribute.String("channel.kind", ch.Kind),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = unavailable("provider panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := provider.Send(ctx, ch.Config, msg); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errutil.Fail(errutil.ReasonChannelUnavailable, "send timed out after "+d.sendTimeout.String(), err)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, kind string, entry *LogEntry) error {
	entry.ID = d.node.Generate().Int64()
	entry.CreatedAt = d.now()
	if kind == "" {
		kind = "none"
	}

	if err := d.repo.AppendLog(ctx, entry); err != nil {
		zap.L().Error("[Notification] failed to write log entry",
			zap.Int64("policy_id", entry.PolicyID), zap.Int64("run_id", entry.JobRunID), zap.Error(err))
		return err
	}
	observability.NotificationOutcomes.WithLabelValues(kind, string(entry.Outcome)).Inc()
	return nil
}
