package execution

import (
	"context"
	"errors"
	"fmt"

	"fleetops-controlplane/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrRunNotFound        = errors.New("job run not found")
	ErrRunAlreadyTerminal = errors.New("job run already terminal")
)

const cancelAttempts = 3

// Cancel flips an active run to Cancelled and stops dispatching its remaining
// hosts and steps. Commands already issued are detached, not killed.
func (e *Executor) Cancel(ctx context.Context, id int64) (*JobRun, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		run, err := e.repo.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errutil.NotFound(fmt.Sprintf("job run %d not found", id), ErrRunNotFound)
			}
			return nil, err
		}
		if run.Status.Terminal() {
			return nil, errutil.Conflict(fmt.Sprintf("job run %d is already %s", id, run.Status), ErrRunAlreadyTerminal)
		}

		now := e.now()
		err = e.repo.TransitionRun(ctx, id, RunTransition{
			From:           ActiveStatuses,
			To:             RunCancelled,
			Version:        run.Version,
			FailureReason:  string(errutil.ReasonCancelled),
			FailureMessage: "cancelled by request",
			FinishedAt:     &now,
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := e.repo.CancelOpenHosts(ctx, id, []HostStatus{HostPending, HostRunning}, string(errutil.ReasonCancelled), "run cancelled", now); err != nil {
			zap.L().Error("[Executor] failed to cancel open hosts", zap.Int64("run_id", id), zap.Error(err))
		}
		e.interrupt(id)

		cancelled, err := e.repo.GetRunWithResults(ctx, id)
		if err != nil {
			return nil, err
		}
		zap.L().Info("[Executor] run cancelled", zap.Int64("run_id", id))
		e.notify(ctx, cancelled)
		return cancelled, nil
	}
	return nil, errutil.Conflict(fmt.Sprintf("job run %d is changing concurrently", id), ErrVersionConflict)
}

// Recover cancels runs left active by a previous process. Their executions
// are gone, so they are marked Interrupted.
func (e *Executor) Recover(ctx context.Context) error {
	runs, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}

	for i := range runs {
		run := runs[i]
		now := e.now()
		err := e.repo.TransitionRun(ctx, run.ID, RunTransition{
			From:           ActiveStatuses,
			To:             RunCancelled,
			Version:        run.Version,
			FailureReason:  string(errutil.ReasonInterrupted),
			FailureMessage: "control plane restarted while run was active",
			FinishedAt:     &now,
		})
		if err != nil {
			zap.L().Warn("[Executor] could not recover run", zap.Int64("run_id", run.ID), zap.Error(err))
			continue
		}
		if err := e.repo.CancelOpenHosts(ctx, run.ID, []HostStatus{HostPending, HostRunning}, string(errutil.ReasonInterrupted), "control plane restarted", now); err != nil {
			zap.L().Error("[Executor] failed to cancel open hosts", zap.Int64("run_id", run.ID), zap.Error(err))
		}

		recovered, err := e.repo.GetRunWithResults(ctx, run.ID)
		if err != nil {
			return err
		}
		zap.L().Info("[Executor] interrupted run recovered", zap.Int64("run_id", run.ID))
		e.notify(ctx, recovered)
	}
	return nil
}
