package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
)

// ExperimentRepository 实验仓储
type ExperimentRepository struct {
	db *gorm.DB
}

// NewExperimentRepository 创建实验仓储
func NewExperimentRepository(db *gorm.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Create 创建实验（连同会话模板、任务模板，单事务写入）
func (r *ExperimentRepository) Create(ctx context.Context, exp *schema.Experiment) error {
	if exp == nil {
		return fmt.Errorf("exp 不能为空")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&schema.Experiment{}).Where("code = ?", exp.Code).Count(&count).Error; err != nil {
			return fmt.Errorf("查询实验代码失败: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("实验代码 %q 已存在: %w", exp.Code, ErrDuplicate)
		}
		if err := tx.Create(exp).Error; err != nil {
			return fmt.Errorf("创建实验失败: %w", err)
		}
		return nil
	})
}

// GetByCode 按代码查询实验（含模板；不存在返回 nil）
func (r *ExperimentRepository) GetByCode(ctx context.Context, code string) (*schema.Experiment, error) {
	var exp schema.Experiment
	err := r.db.WithContext(ctx).
		Preload("SessionTemplates", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("SessionTemplates.TaskTemplates", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("code = ?", code).
		First(&exp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询实验失败: %w", err)
	}
	return &exp, nil
}

// GetByID 按 ID 查询实验（含模板；不存在返回 nil）
func (r *ExperimentRepository) GetByID(ctx context.Context, id int64) (*schema.Experiment, error) {
	var exp schema.Experiment
	err := r.db.WithContext(ctx).
		Preload("SessionTemplates", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("SessionTemplates.TaskTemplates", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&exp, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询实验失败: %w", err)
	}
	return &exp, nil
}

// List 列出全部实验（不带模板）
func (r *ExperimentRepository) List(ctx context.Context) ([]schema.Experiment, error) {
	var exps []schema.Experiment
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("查询实验列表失败: %w", err)
	}
	return exps, nil
}

// SetActive 启用/停用实验
func (r *ExperimentRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res := r.db.WithContext(ctx).Model(&schema.Experiment{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("更新实验状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("实验 %d 不存在", id)
	}
	return nil
}

// DeleteCascade 级联删除实验及其全部关联数据
// 单事务、先子后父：试次 → 会话 → 报名 → 任务模板 → 会话模板 →
// 参与者回引置空 → 实验本体；删完后做孤行后置检查，发现残留即回滚。
func (r *ExperimentRepository) DeleteCascade(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exp schema.Experiment
		if err := tx.First(&exp, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("实验 %d 不存在", id)
			}
			return fmt.Errorf("查询实验失败: %w", err)
		}

		if err := tx.Where("session_id IN (?)",
			tx.Model(&schema.Session{}).Select("id").Where("experiment_id = ?", id),
		).Delete(&schema.TrialRecord{}).Error; err != nil {
			return fmt.Errorf("删除试次记录失败: %w", err)
		}
		if err := tx.Where("experiment_id = ?", id).Delete(&schema.Session{}).Error; err != nil {
			return fmt.Errorf("删除会话失败: %w", err)
		}
		if err := tx.Where("experiment_id = ?", id).Delete(&schema.Enrollment{}).Error; err != nil {
			return fmt.Errorf("删除报名记录失败: %w", err)
		}
		if err := tx.Where("session_template_id IN (?)",
			tx.Model(&schema.SessionTemplate{}).Select("id").Where("experiment_id = ?", id),
		).Delete(&schema.TaskTemplate{}).Error; err != nil {
			return fmt.Errorf("删除任务模板失败: %w", err)
		}
		if err := tx.Where("experiment_id = ?", id).Delete(&schema.SessionTemplate{}).Error; err != nil {
			return fmt.Errorf("删除会话模板失败: %w", err)
		}
		if err := tx.Model(&schema.Participant{}).Where("experiment_id = ?", id).
			Update("experiment_id", nil).Error; err != nil {
			return fmt.Errorf("清除参与者回引失败: %w", err)
		}
		if err := tx.Delete(&schema.Experiment{}, id).Error; err != nil {
			return fmt.Errorf("删除实验失败: %w", err)
		}

		// 后置检查：不依赖语句顺序，残留孤行直接回滚
		checks := []struct {
			name  string
			model any
			where string
		}{
			{"session_templates", &schema.SessionTemplate{}, "experiment_id = ?"},
			{"sessions", &schema.Session{}, "experiment_id = ?"},
			{"enrollments", &schema.Enrollment{}, "experiment_id = ?"},
			{"participants", &schema.Participant{}, "experiment_id = ?"},
		}
		for _, c := range checks {
			var n int64
			if err := tx.Model(c.model).Where(c.where, id).Count(&n).Error; err != nil {
				return fmt.Errorf("孤行检查失败 (%s): %w", c.name, err)
			}
			if n > 0 {
				return fmt.Errorf("级联删除后 %s 仍残留 %d 行，已回滚", c.name, n)
			}
		}
		return nil
	})
}
