package catalog

import (
	"time"

	"fleetops-controlplane/services/inventory"

	"gorm.io/datatypes"
)

// JobType groups command variants and the capabilities every variant needs.
type JobType struct {
	ID                   int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name                 string                      `gorm:"column:name;type:varchar(100);uniqueIndex;not null" json:"name"`
	Description          string                      `gorm:"column:description;type:text" json:"description"`
	RequiredCapabilities datatypes.JSONSlice[string] `gorm:"column:required_capabilities" json:"required_capabilities"`
	CreatedAt            time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

func (JobType) TableName() string { return "job_types" }

// CommandTemplate is one OS/capability specific variant of a job type. Rows
// referenced by a run are never updated; a change is a new row.
type CommandTemplate struct {
	ID                   int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	JobTypeID            int64                       `gorm:"column:job_type_id;index;not null" json:"job_type_id,string"`
	Name                 string                      `gorm:"column:name;type:varchar(255)" json:"name"`
	OSFilter             datatypes.JSONSlice[string] `gorm:"column:os_filter" json:"os_filter"`
	RequiredCapabilities datatypes.JSONSlice[string] `gorm:"column:required_capabilities" json:"required_capabilities"`
	Command              string                      `gorm:"column:command;type:text;not null" json:"command"`
	TimeoutSeconds       int                         `gorm:"column:timeout_seconds" json:"timeout_seconds"`
	WorkDir              string                      `gorm:"column:work_dir;type:varchar(1024)" json:"work_dir"`
	Env                  datatypes.JSONMap           `gorm:"column:env" json:"env"`
	DefaultVariables     datatypes.JSONMap           `gorm:"column:default_variables" json:"default_variables"`
	RetryableExitCodes   datatypes.JSONSlice[int]    `gorm:"column:retryable_exit_codes" json:"retryable_exit_codes"`
	CreatedAt            time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

func (CommandTemplate) TableName() string { return "command_templates" }

func (c *CommandTemplate) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// JobTemplate is an operator configured job. A simple template references
// exactly one CommandTemplate; a composite template has ordered Steps.
type JobTemplate struct {
	ID                   int64                 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name                 string                `gorm:"column:name;type:varchar(255);not null" json:"name"`
	JobTypeID            int64                 `gorm:"column:job_type_id;index;not null" json:"job_type_id,string"`
	Composite            bool                  `gorm:"column:composite;not null" json:"composite"`
	CommandTemplateID    *int64                `gorm:"column:command_template_id" json:"command_template_id,string,omitempty"`
	DefaultVariables     datatypes.JSONMap     `gorm:"column:default_variables" json:"default_variables"`
	RetryCount           int                   `gorm:"column:retry_count" json:"retry_count"`
	RetryDelaySeconds    int                   `gorm:"column:retry_delay_seconds" json:"retry_delay_seconds"`
	RunTimeoutSeconds    int                   `gorm:"column:run_timeout_seconds" json:"run_timeout_seconds"`
	DefaultTarget        *inventory.TargetSpec `gorm:"column:default_target" json:"default_target,omitempty"`
	NotificationPolicyID *int64                `gorm:"column:notification_policy_id" json:"notification_policy_id,string,omitempty"`
	Steps                []JobTemplateStep     `gorm:"foreignKey:JobTemplateID" json:"steps,omitempty"`
	CreatedAt            time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (JobTemplate) TableName() string { return "job_templates" }

func (t *JobTemplate) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelaySeconds) * time.Second
}

func (t *JobTemplate) RunTimeout() time.Duration {
	return time.Duration(t.RunTimeoutSeconds) * time.Second
}

type JobTemplateStep struct {
	ID                int64             `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	JobTemplateID     int64             `gorm:"column:job_template_id;index;not null" json:"job_template_id,string"`
	StepOrder         int               `gorm:"column:step_order;not null" json:"step_order"`
	Name              string            `gorm:"column:name;type:varchar(255)" json:"name"`
	CommandTemplateID int64             `gorm:"column:command_template_id;not null" json:"command_template_id,string"`
	VariableOverrides datatypes.JSONMap `gorm:"column:variable_overrides" json:"variable_overrides"`
	ContinueOnFailure bool              `gorm:"column:continue_on_failure;not null" json:"continue_on_failure"`
	TimeoutSeconds    *int              `gorm:"column:timeout_seconds" json:"timeout_seconds,omitempty"`
}

func (JobTemplateStep) TableName() string { return "job_template_steps" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&JobType{}, &CommandTemplate{}, &JobTemplate{}, &JobTemplateStep{}}
}
