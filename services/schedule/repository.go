package schedule

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes persistence of schedules. Claim, Release and
// SetNextRun are compare-and-set writes on Version; they report false when
// another writer got there first.
type Repository interface {
	Create(ctx context.Context, s *JobSchedule) error
	Get(ctx context.Context, id int64) (*JobSchedule, error)
	List(ctx context.Context) ([]JobSchedule, error)
	ListEnabled(ctx context.Context) ([]JobSchedule, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	SetNextRun(ctx context.Context, id, version int64, next time.Time) (bool, error)
	Claim(ctx context.Context, id, version int64, now, next time.Time) (bool, error)
	Release(ctx context.Context, id, version int64, runID *int64) (bool, error)

	MarkUnhealthy(ctx context.Context, id int64, reason string) error
	MarkHealthy(ctx context.Context, id int64) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, s *JobSchedule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) Get(ctx context.Context, id int64) (*JobSchedule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var s JobSchedule
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) List(ctx context.Context) ([]JobSchedule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []JobSchedule
	err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) ListEnabled(ctx context.Context) ([]JobSchedule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []JobSchedule
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&JobSchedule{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) cas(ctx context.Context, id, version int64, extra string, updates map[string]any) (bool, error) {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now().UTC()

	q := r.db.WithContext(ctx).
		Model(&JobSchedule{}).
		Where("id = ? AND version = ?", id, version)
	if extra != "" {
		q = q.Where(extra)
	}
	res := q.Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) SetNextRun(ctx context.Context, id, version int64, next time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}
	return r.cas(ctx, id, version, "", map[string]any{"next_run_at": next})
}

// Claim marks the schedule in flight and advances its next run.
func (r *gormRepository) Claim(ctx context.Context, id, version int64, now, next time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}
	return r.cas(ctx, id, version, "in_flight = false", map[string]any{
		"in_flight":   true,
		"claimed_at":  now,
		"last_run_at": now,
		"next_run_at": next,
	})
}

func (r *gormRepository) Release(ctx context.Context, id, version int64, runID *int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	updates := map[string]any{
		"in_flight":  false,
		"claimed_at": nil,
	}
	if runID != nil {
		updates["last_run_id"] = *runID
	}
	return r.cas(ctx, id, version, "in_flight = true", updates)
}

func (r *gormRepository) MarkUnhealthy(ctx context.Context, id int64, reason string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).
		Model(&JobSchedule{}).
		Where("id = ?", id).
		Updates(map[string]any{"healthy": false, "last_error": reason}).Error
}

func (r *gormRepository) MarkHealthy(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).
		Model(&JobSchedule{}).
		Where("id = ?", id).
		Updates(map[string]any{"healthy": true, "last_error": ""}).Error
}
