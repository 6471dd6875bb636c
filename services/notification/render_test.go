package notification

import (
	"strings"
	"testing"
	"time"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/execution"

	"github.com/stretchr/testify/require"
)

func finishedRun() *execution.JobRun {
	started := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	return &execution.JobRun{
		ID:              42,
		JobTemplateName: "patch",
		JobTypeName:     "package-upgrade",
		TriggerSource:   execution.TriggerSchedule,
		TriggeredBy:     "schedule:weekly",
		Status:          execution.RunPartial,
		StartedAt:       &started,
		FinishedAt:      &finished,
		Hosts: []execution.HostJobResult{
			{HostName: "web-1", Status: execution.HostSucceeded, Output: "ok"},
			{HostName: "web-2", Status: execution.HostFailed, Output: strings.Repeat("x", 200), ErrorReason: "NonZeroExit", ErrorMessage: "exit status 100"},
		},
	}
}

func TestMessageVariables(t *testing.T) {
	vars := MessageVariables(finishedRun(), 50)

	require.Equal(t, "patch", vars["job_name"])
	require.Equal(t, "package-upgrade", vars["job_type"])
	require.Equal(t, "42", vars["run_id"])
	require.Equal(t, "Partial", vars["status"])
	require.Equal(t, "web-1, web-2", vars["hosts"])
	require.Equal(t, "2", vars["host_count"])
	require.Equal(t, "1", vars["succeeded_count"])
	require.Equal(t, "1", vars["failed_count"])
	require.Equal(t, "1m30s", vars["duration"])
	require.Equal(t, "schedule (schedule:weekly)", vars["trigger"])
	require.Contains(t, vars["error"], "web-2: NonZeroExit exit status 100")
	require.True(t, strings.HasSuffix(vars["output"], "...[truncated]"))
	require.LessOrEqual(t, len(vars["output"]), 50+len("\n...[truncated]"))
}

func TestRenderCustomTemplates(t *testing.T) {
	p := &Policy{
		TitleTemplate: "{{ status }}: {{job_name}}",
		BodyTemplate:  "{{failed_count}} of {{host_count}} hosts failed",
	}
	msg, err := Render(p, finishedRun(), 0)
	require.NoError(t, err)
	require.Equal(t, "Partial: patch", msg.Title)
	require.Equal(t, "1 of 2 hosts failed", msg.Body)
	require.Equal(t, "normal", msg.Priority)
	require.Equal(t, int64(42), msg.RunID)
}

func TestRenderDefaults(t *testing.T) {
	msg, err := Render(&Policy{}, finishedRun(), 0)
	require.NoError(t, err)
	require.Equal(t, "[Partial] patch", msg.Title)
	require.Contains(t, msg.Body, "Hosts (2): web-1, web-2")
	require.Contains(t, msg.Body, "[web-1]\nok")
}

func TestRenderUnknownVariable(t *testing.T) {
	_, err := Render(&Policy{BodyTemplate: "{{owner}} please check {{job_name}}"}, finishedRun(), 0)
	require.Error(t, err)
	require.Equal(t, errutil.ReasonRenderError, errutil.ReasonOf(err))
	require.Contains(t, err.Error(), "owner")
}

func TestOutputIsNotReinterpolated(t *testing.T) {
	run := finishedRun()
	run.Hosts[0].Output = "literal {{status}}"
	msg, err := Render(&Policy{BodyTemplate: "{{output}}"}, run, 0)
	require.NoError(t, err)
	require.Contains(t, msg.Body, "literal {{status}}")
}
