package execution

import (
	"time"

	"fleetops-controlplane/services/inventory"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunPending   RunStatus = "Pending"
	RunRunning   RunStatus = "Running"
	RunSucceeded RunStatus = "Succeeded"
	RunPartial   RunStatus = "Partial"
	RunFailed    RunStatus = "Failed"
	RunTimeout   RunStatus = "Timeout"
	RunCancelled RunStatus = "Cancelled"
)

// Terminal reports whether s is final. Terminal runs are never updated.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunPartial, RunFailed, RunTimeout, RunCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the statuses of runs still owned by an executor.
var ActiveStatuses = []RunStatus{RunPending, RunRunning}

type TriggerSource string

const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerManual   TriggerSource = "manual"
)

type HostStatus string

const (
	HostPending   HostStatus = "Pending"
	HostRunning   HostStatus = "Running"
	HostSucceeded HostStatus = "Succeeded"
	HostFailed    HostStatus = "Failed"
	HostCancelled HostStatus = "Cancelled"
)

type StepStatus string

const (
	StepSucceeded StepStatus = "Succeeded"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
	StepCancelled StepStatus = "Cancelled"
)

// JobRun is one execution of a job template. Status moves forward only and
// every write is guarded by Version.
type JobRun struct {
	ID               int64                `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	ScheduleID       *int64               `gorm:"column:schedule_id;index" json:"schedule_id,string,omitempty"`
	JobTemplateID    int64                `gorm:"column:job_template_id;index;not null" json:"job_template_id,string"`
	JobTemplateName  string               `gorm:"column:job_template_name;type:varchar(255)" json:"job_template_name"`
	JobTypeID        int64                `gorm:"column:job_type_id" json:"job_type_id,string"`
	JobTypeName      string               `gorm:"column:job_type_name;type:varchar(100)" json:"job_type_name"`
	TriggerSource    TriggerSource        `gorm:"column:trigger_source;type:varchar(20);not null" json:"trigger_source"`
	TriggeredBy      string               `gorm:"column:triggered_by;type:varchar(255)" json:"triggered_by,omitempty"`
	Target           inventory.TargetSpec `gorm:"column:target" json:"target"`
	RuntimeVariables datatypes.JSONMap    `gorm:"column:runtime_variables" json:"runtime_variables,omitempty"`
	Status           RunStatus            `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	FailureReason    string               `gorm:"column:failure_reason;type:varchar(50)" json:"failure_reason,omitempty"`
	FailureMessage   string               `gorm:"column:failure_message;type:text" json:"failure_message,omitempty"`
	Version          int64                `gorm:"column:version;not null" json:"version"`
	StartedAt        *time.Time           `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time           `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt        time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	Hosts            []HostJobResult      `gorm:"foreignKey:JobRunID" json:"hosts,omitempty"`
}

func (JobRun) TableName() string { return "job_runs" }

// Duration is the wall time between start and finish, zero while running.
func (r *JobRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// HostJobResult is the outcome of a run on one host. The set of results of a
// run is written once when the run is prepared.
type HostJobResult struct {
	ID           int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	JobRunID     int64                       `gorm:"column:job_run_id;index;not null" json:"job_run_id,string"`
	HostID       int64                       `gorm:"column:host_id;index;not null" json:"host_id,string"`
	HostName     string                      `gorm:"column:host_name;type:varchar(255)" json:"host_name"`
	HostTags     datatypes.JSONSlice[string] `gorm:"column:host_tags" json:"host_tags,omitempty"`
	Status       HostStatus                  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Output       string                      `gorm:"column:output;type:text" json:"output"`
	OutputObject string                      `gorm:"column:output_object;type:varchar(1024)" json:"output_object,omitempty"`
	ExitCode     *int                        `gorm:"column:exit_code" json:"exit_code,omitempty"`
	ErrorReason  string                      `gorm:"column:error_reason;type:varchar(50)" json:"error_reason,omitempty"`
	ErrorMessage string                      `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Attempts     int                         `gorm:"column:attempts" json:"attempts"`
	StartedAt    *time.Time                  `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time                  `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Steps        []StepExecutionResult       `gorm:"foreignKey:HostJobResultID" json:"steps,omitempty"`
}

func (HostJobResult) TableName() string { return "host_job_results" }

type StepExecutionResult struct {
	ID                int64      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	HostJobResultID   int64      `gorm:"column:host_job_result_id;index;not null" json:"host_job_result_id,string"`
	JobRunID          int64      `gorm:"column:job_run_id;index;not null" json:"job_run_id,string"`
	StepOrder         int        `gorm:"column:step_order;not null" json:"step_order"`
	StepName          string     `gorm:"column:step_name;type:varchar(255)" json:"step_name"`
	CommandTemplateID *int64     `gorm:"column:command_template_id" json:"command_template_id,string,omitempty"`
	Command           string     `gorm:"column:command;type:text" json:"command,omitempty"`
	Status            StepStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Output            string     `gorm:"column:output;type:text" json:"output"`
	ExitCode          *int       `gorm:"column:exit_code" json:"exit_code,omitempty"`
	ErrorReason       string     `gorm:"column:error_reason;type:varchar(50)" json:"error_reason,omitempty"`
	ErrorMessage      string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Attempts          int        `gorm:"column:attempts" json:"attempts"`
	DurationMs        int64      `gorm:"column:duration_ms" json:"duration_ms"`
	StartedAt         *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (StepExecutionResult) TableName() string { return "step_execution_results" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&JobRun{}, &HostJobResult{}, &StepExecutionResult{}}
}
