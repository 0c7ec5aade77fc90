package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
)

// EnrollmentRepository 报名仓储
type EnrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository 创建报名仓储
func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create 创建报名记录
// 同一 (participant, experiment) 重复报名、或参与者已有未完成的
// 报名时返回 ErrDuplicate；检查与写入在同一事务内。
func (r *EnrollmentRepository) Create(ctx context.Context, e *schema.Enrollment) error {
	if e == nil {
		return fmt.Errorf("e 不能为空")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&schema.Enrollment{}).
			Where("participant_id = ? AND experiment_id = ?", e.ParticipantID, e.ExperimentID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("查询报名记录失败: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("参与者 %d 已报名实验 %d: %w", e.ParticipantID, e.ExperimentID, ErrDuplicate)
		}
		if err := tx.Model(&schema.Enrollment{}).
			Where("participant_id = ? AND completed = ?", e.ParticipantID, false).
			Count(&count).Error; err != nil {
			return fmt.Errorf("查询进行中报名失败: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("参与者 %d 已有进行中的报名: %w", e.ParticipantID, ErrDuplicate)
		}
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("创建报名记录失败: %w", err)
		}
		return nil
	})
}

// GetByPair 查询某参与者在某实验的报名记录（不存在返回 nil）
func (r *EnrollmentRepository) GetByPair(ctx context.Context, participantID, experimentID int64) (*schema.Enrollment, error) {
	var e schema.Enrollment
	err := r.db.WithContext(ctx).
		Where("participant_id = ? AND experiment_id = ?", participantID, experimentID).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询报名记录失败: %w", err)
	}
	return &e, nil
}

// GetActiveByParticipant 查询参与者当前进行中的报名（不存在返回 nil）
func (r *EnrollmentRepository) GetActiveByParticipant(ctx context.Context, participantID int64) (*schema.Enrollment, error) {
	var e schema.Enrollment
	err := r.db.WithContext(ctx).
		Where("participant_id = ? AND completed = ?", participantID, false).
		Order("enrolled_at DESC").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询进行中报名失败: %w", err)
	}
	return &e, nil
}

// SetCurrentSession 更新已创建到的会话序号
func (r *EnrollmentRepository) SetCurrentSession(ctx context.Context, id int64, n int) error {
	if err := r.db.WithContext(ctx).Model(&schema.Enrollment{}).Where("id = ?", id).
		Update("current_session", n).Error; err != nil {
		return fmt.Errorf("更新报名进度失败: %w", err)
	}
	return nil
}

// MarkCompleted 将报名置为已完成（单向，不提供回退）
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Model(&schema.Enrollment{}).Where("id = ?", id).
		Update("completed", true).Error; err != nil {
		return fmt.Errorf("更新报名完成状态失败: %w", err)
	}
	return nil
}

// Delete 删除报名记录（报名服务补偿回滚用）
func (r *EnrollmentRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&schema.Enrollment{}, id).Error; err != nil {
		return fmt.Errorf("删除报名记录失败: %w", err)
	}
	return nil
}

// CountByExperiment 统计某实验的报名总数与完成数
func (r *EnrollmentRepository) CountByExperiment(ctx context.Context, experimentID int64) (total, completed int64, err error) {
	if err = r.db.WithContext(ctx).Model(&schema.Enrollment{}).
		Where("experiment_id = ?", experimentID).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("统计报名数失败: %w", err)
	}
	if err = r.db.WithContext(ctx).Model(&schema.Enrollment{}).
		Where("experiment_id = ? AND completed = ?", experimentID, true).Count(&completed).Error; err != nil {
		return 0, 0, fmt.Errorf("统计完成数失败: %w", err)
	}
	return total, completed, nil
}
