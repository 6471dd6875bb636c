package notification

import (
	"fleetops-controlplane/pkg/celengine"
	"fleetops-controlplane/services/execution"

	"github.com/google/cel-go/cel"
)

// Severity orders terminal outcomes. Cancelled runs have no severity and
// never notify.
func Severity(status execution.RunStatus) int {
	switch status {
	case execution.RunSucceeded:
		return 1
	case execution.RunPartial:
		return 2
	case execution.RunTimeout:
		return 3
	case execution.RunFailed:
		return 4
	}
	return 0
}

// Triggered reports whether the policy subscribes to status.
func (p *Policy) Triggered(status execution.RunStatus) bool {
	switch status {
	case execution.RunSucceeded:
		return p.OnSuccess
	case execution.RunFailed:
		return p.OnFailure
	case execution.RunPartial:
		return p.OnPartial
	case execution.RunTimeout:
		return p.OnTimeout
	}
	return false
}

// Matches applies trigger, filters and severity threshold. The condition
// expression is evaluated separately by the dispatcher.
func (p *Policy) Matches(run *execution.JobRun) bool {
	if !p.Enabled || !p.Triggered(run.Status) {
		return false
	}
	if p.MinSeverity != "" && Severity(run.Status) < Severity(execution.RunStatus(p.MinSeverity)) {
		return false
	}

	if len(p.JobTypeIDs) > 0 && !contains(p.JobTypeIDs, run.JobTypeID) {
		return false
	}
	if len(p.HostIDs) > 0 {
		ids := make([]int64, 0, len(run.Hosts))
		for _, h := range run.Hosts {
			ids = append(ids, h.HostID)
		}
		if !intersects(p.HostIDs, ids) {
			return false
		}
	}
	if len(p.Tags) > 0 && !intersects(p.Tags, runTags(run)) {
		return false
	}
	return true
}

func runTags(run *execution.JobRun) []string {
	seen := map[string]struct{}{}
	var tags []string
	for _, h := range run.Hosts {
		for _, t := range h.HostTags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects[T comparable](a, b []T) bool {
	for _, v := range b {
		if contains(a, v) {
			return true
		}
	}
	return false
}

// NewConditionEngine declares the variables a policy condition may use.
func NewConditionEngine() (*celengine.Engine, error) {
	return celengine.New(map[string]*cel.Type{
		"status":           cel.StringType,
		"job_name":         cel.StringType,
		"job_type":         cel.StringType,
		"trigger":          cel.StringType,
		"host_count":       cel.IntType,
		"succeeded_count":  cel.IntType,
		"failed_count":     cel.IntType,
		"duration_seconds": cel.DoubleType,
		"tags":             cel.ListType(cel.StringType),
	})
}

func conditionAttrs(run *execution.JobRun) map[string]any {
	succeeded, failed := hostCounts(run)
	tags := runTags(run)
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"status":           string(run.Status),
		"job_name":         run.JobTemplateName,
		"job_type":         run.JobTypeName,
		"trigger":          string(run.TriggerSource),
		"host_count":       int64(len(run.Hosts)),
		"succeeded_count":  int64(succeeded),
		"failed_count":     int64(failed),
		"duration_seconds": run.Duration().Seconds(),
		"tags":             tags,
	}
}

func hostCounts(run *execution.JobRun) (succeeded, failed int) {
	for _, h := range run.Hosts {
		if h.Status == execution.HostSucceeded {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
