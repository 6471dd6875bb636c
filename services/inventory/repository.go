package inventory

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations available for hosts and credentials.
type Repository interface {
	Create(ctx context.Context, host *Host) error
	CreateCredential(ctx context.Context, cred *Credential) error
	GetByIDs(ctx context.Context, ids []int64) ([]Host, error)
	ListEnabled(ctx context.Context) ([]Host, error)
	GetCredential(ctx context.Context, id int64) (*Credential, error)
	UpdateStatus(ctx context.Context, hostID int64, status HostStatus, seenAt time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, host *Host) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if host.Status == "" {
		host.Status = HostStatusUnknown
	}
	return r.db.WithContext(ctx).Create(host).Error
}

func (r *gormRepository) CreateCredential(ctx context.Context, cred *Credential) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(cred).Error
}

func (r *gormRepository) GetByIDs(ctx context.Context, ids []int64) ([]Host, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var hosts []Host
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&hosts).Error
	return hosts, err
}

func (r *gormRepository) ListEnabled(ctx context.Context) ([]Host, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var hosts []Host
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&hosts).Error
	return hosts, err
}

func (r *gormRepository) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var cred Credential
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, hostID int64, status HostStatus, seenAt time.Time) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	updates := map[string]any{"status": status}
	if status == HostStatusReachable {
		updates["last_seen_at"] = seenAt
	}
	return r.db.WithContext(ctx).
		Model(&Host{}).
		Where("id = ?", hostID).
		Updates(updates).Error
}
