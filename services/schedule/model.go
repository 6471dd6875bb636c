package schedule

import (
	"time"

	"fleetops-controlplane/services/inventory"

	"gorm.io/datatypes"
)

// JobSchedule binds a job template to a target on a cron expression. The
// claim columns (InFlight, ClaimedAt, LastRunAt, NextRunAt) only change
// through version guarded writes.
type JobSchedule struct {
	ID             int64                `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name           string               `gorm:"column:name;type:varchar(255);not null" json:"name"`
	JobTemplateID  int64                `gorm:"column:job_template_id;index;not null" json:"job_template_id,string"`
	Target         inventory.TargetSpec `gorm:"column:target" json:"target"`
	CronExpression string               `gorm:"column:cron_expression;type:varchar(255);not null" json:"cron_expression"`
	Timezone       string               `gorm:"column:timezone;type:varchar(64)" json:"timezone"`
	Variables      datatypes.JSONMap    `gorm:"column:variables" json:"variables,omitempty"`
	Enabled        bool                 `gorm:"column:enabled;not null;index" json:"enabled"`
	Healthy        bool                 `gorm:"column:healthy;not null" json:"healthy"`
	LastError      string               `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	InFlight       bool                 `gorm:"column:in_flight;not null" json:"in_flight"`
	ClaimedAt      *time.Time           `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	LastRunAt      *time.Time           `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	LastRunID      *int64               `gorm:"column:last_run_id" json:"last_run_id,string,omitempty"`
	NextRunAt      *time.Time           `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	Version        int64                `gorm:"column:version;not null" json:"version"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (JobSchedule) TableName() string { return "job_schedules" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&JobSchedule{}}
}
