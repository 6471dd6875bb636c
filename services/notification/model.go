package notification

import (
	"time"

	"gorm.io/datatypes"
)

// Channel kinds with a built in provider.
const (
	KindWebhook = "webhook"
	KindSlack   = "slack"
	KindLog     = "log"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeThrottled Outcome = "throttled"
)

// Channel is a delivery target. Config is opaque to the dispatcher and is
// interpreted by the provider registered for Kind.
type Channel struct {
	ID        int64             `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name      string            `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Kind      string            `gorm:"column:kind;type:varchar(50);not null" json:"kind"`
	Config    datatypes.JSONMap `gorm:"column:config" json:"config"`
	Enabled   bool              `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Channel) TableName() string { return "notification_channels" }

// Policy decides when a finished run is reported and where to.
type Policy struct {
	ID            int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name          string                      `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Enabled       bool                        `gorm:"column:enabled;not null" json:"enabled"`
	OnSuccess     bool                        `gorm:"column:on_success;not null" json:"on_success"`
	OnFailure     bool                        `gorm:"column:on_failure;not null" json:"on_failure"`
	OnPartial     bool                        `gorm:"column:on_partial;not null" json:"on_partial"`
	OnTimeout     bool                        `gorm:"column:on_timeout;not null" json:"on_timeout"`
	JobTypeIDs    datatypes.JSONSlice[int64]  `gorm:"column:job_type_ids" json:"job_type_ids,omitempty"`
	HostIDs       datatypes.JSONSlice[int64]  `gorm:"column:host_ids" json:"host_ids,omitempty"`
	Tags          datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags,omitempty"`
	MinSeverity   string                      `gorm:"column:min_severity;type:varchar(20)" json:"min_severity,omitempty"`
	MaxPerHour    int                         `gorm:"column:max_per_hour" json:"max_per_hour"`
	TitleTemplate string                      `gorm:"column:title_template;type:text" json:"title_template,omitempty"`
	BodyTemplate  string                      `gorm:"column:body_template;type:text" json:"body_template,omitempty"`
	Condition     string                      `gorm:"column:condition_expr;type:text" json:"condition,omitempty"`
	Channels      []PolicyChannel             `gorm:"foreignKey:PolicyID" json:"channels"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Policy) TableName() string { return "notification_policies" }

// PolicyChannel attaches a channel to a policy at Position. Priority, when
// set, replaces the priority derived from the run status.
type PolicyChannel struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	PolicyID  int64  `gorm:"column:policy_id;index;not null" json:"policy_id,string"`
	ChannelID int64  `gorm:"column:channel_id;not null" json:"channel_id,string"`
	Position  int    `gorm:"column:position;not null" json:"position"`
	Priority  string `gorm:"column:priority;type:varchar(20)" json:"priority,omitempty"`
}

func (PolicyChannel) TableName() string { return "notification_policy_channels" }

// LogEntry records one dispatch attempt. Entries are never updated.
type LogEntry struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	PolicyID     int64     `gorm:"column:policy_id;index;not null" json:"policy_id,string"`
	ChannelID    *int64    `gorm:"column:channel_id" json:"channel_id,string,omitempty"`
	JobRunID     int64     `gorm:"column:job_run_id;index;not null" json:"job_run_id,string"`
	Title        string    `gorm:"column:title;type:text" json:"title"`
	Body         string    `gorm:"column:body;type:text" json:"body"`
	Outcome      Outcome   `gorm:"column:outcome;type:varchar(20);not null" json:"outcome"`
	ErrorReason  string    `gorm:"column:error_reason;type:varchar(50)" json:"error_reason,omitempty"`
	ErrorMessage string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;index;not null" json:"created_at"`
}

func (LogEntry) TableName() string { return "notification_log_entries" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Channel{}, &Policy{}, &PolicyChannel{}, &LogEntry{}}
}
