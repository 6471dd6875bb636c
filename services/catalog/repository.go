package catalog

import (
	"context"

	"gorm.io/gorm"
)

// Repository describes database operations available for the job catalog.
type Repository interface {
	CreateJobType(ctx context.Context, jt *JobType) error
	CreateCommandTemplate(ctx context.Context, ct *CommandTemplate) error
	CreateJobTemplate(ctx context.Context, jt *JobTemplate) error
	GetJobType(ctx context.Context, id int64) (*JobType, error)
	GetJobTemplate(ctx context.Context, id int64) (*JobTemplate, error)
	GetCommandTemplates(ctx context.Context, ids []int64) ([]CommandTemplate, error)
	ListCommandTemplatesByJobType(ctx context.Context, jobTypeID int64) ([]CommandTemplate, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateJobType(ctx context.Context, jt *JobType) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(jt).Error
}

func (r *gormRepository) CreateCommandTemplate(ctx context.Context, ct *CommandTemplate) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(ct).Error
}

// CreateJobTemplate inserts the template and its steps in one transaction.
func (r *gormRepository) CreateJobTemplate(ctx context.Context, jt *JobTemplate) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(jt).Error
	})
}

func (r *gormRepository) GetJobType(ctx context.Context, id int64) (*JobType, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var jt JobType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&jt).Error; err != nil {
		return nil, err
	}
	return &jt, nil
}

func (r *gormRepository) GetJobTemplate(ctx context.Context, id int64) (*JobTemplate, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var jt JobTemplate
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC").Order("id ASC")
		}).
		Where("id = ?", id).
		First(&jt).Error
	if err != nil {
		return nil, err
	}
	return &jt, nil
}

func (r *gormRepository) GetCommandTemplates(ctx context.Context, ids []int64) ([]CommandTemplate, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out []CommandTemplate
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) ListCommandTemplatesByJobType(ctx context.Context, jobTypeID int64) ([]CommandTemplate, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []CommandTemplate
	err := r.db.WithContext(ctx).
		Where("job_type_id = ?", jobTypeID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
