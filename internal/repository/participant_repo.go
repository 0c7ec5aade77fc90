package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
)

// ParticipantRepository 参与者仓储
type ParticipantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository 创建参与者仓储
func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Create 创建参与者（编号重复返回 ErrDuplicate）
func (r *ParticipantRepository) Create(ctx context.Context, p *schema.Participant) error {
	if p == nil {
		return fmt.Errorf("p 不能为空")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&schema.Participant{}).Where("code = ?", p.Code).Count(&count).Error; err != nil {
			return fmt.Errorf("查询参与者编号失败: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("参与者编号 %q 已存在: %w", p.Code, ErrDuplicate)
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("创建参与者失败: %w", err)
		}
		return nil
	})
}

// GetByCode 按编号查询参与者（不存在返回 nil）
func (r *ParticipantRepository) GetByCode(ctx context.Context, code string) (*schema.Participant, error) {
	var p schema.Participant
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询参与者失败: %w", err)
	}
	return &p, nil
}

// GetByID 按 ID 查询参与者（不存在返回 nil）
func (r *ParticipantRepository) GetByID(ctx context.Context, id int64) (*schema.Participant, error) {
	var p schema.Participant
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询参与者失败: %w", err)
	}
	return &p, nil
}

// List 列出全部参与者
func (r *ParticipantRepository) List(ctx context.Context) ([]schema.Participant, error) {
	var ps []schema.Participant
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("查询参与者列表失败: %w", err)
	}
	return ps, nil
}

// SetExperiment 更新参与者当前所属实验（expID 为 nil 表示清除）
func (r *ParticipantRepository) SetExperiment(ctx context.Context, id int64, expID *int64) error {
	if err := r.db.WithContext(ctx).Model(&schema.Participant{}).Where("id = ?", id).
		Update("experiment_id", expID).Error; err != nil {
		return fmt.Errorf("更新参与者所属实验失败: %w", err)
	}
	return nil
}
