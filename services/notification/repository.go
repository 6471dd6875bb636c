package notification

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes persistence of channels, policies and the append only
// dispatch log.
type Repository interface {
	CreateChannel(ctx context.Context, ch *Channel) error
	ListChannels(ctx context.Context) ([]Channel, error)
	GetChannels(ctx context.Context, ids []int64) (map[int64]Channel, error)

	CreatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, id int64) (*Policy, error)
	ListPolicies(ctx context.Context, enabledOnly bool) ([]Policy, error)

	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLog(ctx context.Context, filter LogFilter, beforeID int64, limit int) ([]LogEntry, error)
	RunEntries(ctx context.Context, runID int64) ([]LogEntry, error)
	CountRecentRuns(ctx context.Context, policyID int64, since time.Time, excludeRunID int64) (int64, error)
}

type LogFilter struct {
	JobRunID int64
	PolicyID int64
	Outcome  Outcome
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateChannel(ctx context.Context, ch *Channel) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(ch).Error
}

func (r *gormRepository) ListChannels(ctx context.Context) ([]Channel, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []Channel
	err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) GetChannels(ctx context.Context, ids []int64) (map[int64]Channel, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	out := make(map[int64]Channel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var channels []Channel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&channels).Error; err != nil {
		return nil, err
	}
	for _, ch := range channels {
		out[ch.ID] = ch
	}
	return out, nil
}

// CreatePolicy inserts the policy with its channel attachments.
func (r *gormRepository) CreatePolicy(ctx context.Context, p *Policy) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var p Policy
	err := r.db.WithContext(ctx).
		Preload("Channels", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListPolicies(ctx context.Context, enabledOnly bool) ([]Policy, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx).
		Preload("Channels", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") })
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}

	var out []Policy
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) AppendLog(ctx context.Context, entry *LogEntry) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) ListLog(ctx context.Context, filter LogFilter, beforeID int64, limit int) ([]LogEntry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx).Model(&LogEntry{})
	if filter.JobRunID != 0 {
		q = q.Where("job_run_id = ?", filter.JobRunID)
	}
	if filter.PolicyID != 0 {
		q = q.Where("policy_id = ?", filter.PolicyID)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if beforeID != 0 {
		q = q.Where("id < ?", beforeID)
	}

	var out []LogEntry
	err := q.Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *gormRepository) RunEntries(ctx context.Context, runID int64) ([]LogEntry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []LogEntry
	err := r.db.WithContext(ctx).
		Where("job_run_id = ?", runID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CountRecentRuns counts the distinct runs, other than excludeRunID, that
// reached at least one channel of the policy since the given time.
func (r *gormRepository) CountRecentRuns(ctx context.Context, policyID int64, since time.Time, excludeRunID int64) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&LogEntry{}).
		Where("policy_id = ? AND job_run_id <> ? AND created_at >= ?", policyID, excludeRunID, since).
		Where("outcome IN ?", []Outcome{OutcomeDelivered, OutcomeFailed}).
		Distinct("job_run_id").
		Count(&count).Error
	return count, err
}
