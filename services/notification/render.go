package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/placeholder"
	"fleetops-controlplane/pkg/util"
	"fleetops-controlplane/services/execution"
)

const (
	DefaultTitleTemplate = "[{{status}}] {{job_name}}"
	DefaultBodyTemplate  = "Job {{job_name}} ({{job_type}}) finished with status {{status}} in {{duration}}.\n" +
		"Run: {{run_id}}, triggered by {{trigger}}\n" +
		"Hosts ({{host_count}}): {{hosts}}\n" +
		"Succeeded: {{succeeded_count}}, failed: {{failed_count}}\n" +
		"{{error}}\n{{output}}"
)

// Message is what a provider delivers.
type Message struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
	RunID    int64  `json:"run_id,string"`
	Status   string `json:"status"`
}

// DefaultPriority derives a message priority from the run outcome.
func DefaultPriority(status execution.RunStatus) string {
	switch status {
	case execution.RunFailed, execution.RunTimeout:
		return "high"
	case execution.RunPartial:
		return "normal"
	}
	return "low"
}

// MessageVariables are the placeholders available to title and body
// templates. output and error are capped at limit bytes each.
func MessageVariables(run *execution.JobRun, limit int) map[string]string {
	succeeded, failed := hostCounts(run)

	names := make([]string, 0, len(run.Hosts))
	var output, errs []string
	if run.FailureMessage != "" {
		errs = append(errs, run.FailureMessage)
	}
	for _, h := range run.Hosts {
		names = append(names, h.HostName)
		if out := strings.TrimSpace(h.Output); out != "" {
			output = append(output, fmt.Sprintf("[%s]\n%s", h.HostName, out))
		}
		if h.ErrorReason != "" {
			errs = append(errs, fmt.Sprintf("%s: %s %s", h.HostName, h.ErrorReason, h.ErrorMessage))
		}
	}

	trigger := string(run.TriggerSource)
	if run.TriggeredBy != "" {
		trigger += " (" + run.TriggeredBy + ")"
	}

	return map[string]string{
		"job_name":        run.JobTemplateName,
		"job_type":        run.JobTypeName,
		"run_id":          strconv.FormatInt(run.ID, 10),
		"status":          string(run.Status),
		"hosts":           strings.Join(names, ", "),
		"host_count":      strconv.Itoa(len(run.Hosts)),
		"succeeded_count": strconv.Itoa(succeeded),
		"failed_count":    strconv.Itoa(failed),
		"duration":        run.Duration().Round(time.Millisecond).String(),
		"output":          util.TruncateMarked(strings.Join(output, "\n"), limit),
		"error":           util.TruncateMarked(strings.TrimSpace(strings.Join(errs, "\n")), limit),
		"trigger":         trigger,
	}
}

// Render fills the policy templates for run. Unknown placeholders fail with
// RenderError instead of being sent verbatim.
func Render(p *Policy, run *execution.JobRun, limit int) (*Message, error) {
	titleTmpl := p.TitleTemplate
	if strings.TrimSpace(titleTmpl) == "" {
		titleTmpl = DefaultTitleTemplate
	}
	bodyTmpl := p.BodyTemplate
	if strings.TrimSpace(bodyTmpl) == "" {
		bodyTmpl = DefaultBodyTemplate
	}

	vars := MessageVariables(run, limit)
	title, missingTitle := placeholder.Render(titleTmpl, vars)
	body, missingBody := placeholder.Render(bodyTmpl, vars)
	if missing := append(missingTitle, missingBody...); len(missing) > 0 {
		return nil, errutil.Fail(errutil.ReasonRenderError,
			"unknown template variables: "+strings.Join(missing, ", "), nil)
	}

	return &Message{
		Title:    strings.TrimSpace(title),
		Body:     strings.TrimSpace(body),
		Priority: DefaultPriority(run.Status),
		RunID:    run.ID,
		Status:   string(run.Status),
	}, nil
}
