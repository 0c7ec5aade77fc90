package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
)

// TrialRepository 试次仓储（只追加）
type TrialRepository struct {
	db *gorm.DB
}

// NewTrialRepository 创建试次仓储
func NewTrialRepository(db *gorm.DB) *TrialRepository {
	return &TrialRepository{db: db}
}

// Append 追加一条试次记录
func (r *TrialRepository) Append(ctx context.Context, t *schema.TrialRecord) error {
	if t == nil {
		return fmt.Errorf("t 不能为空")
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("写入试次记录失败: %w", err)
	}
	return nil
}

// Get 按 (会话, 任务, 试次编号) 查询试次（不存在返回 nil）
func (r *TrialRepository) Get(ctx context.Context, sessionID int64, taskType string, trialNumber int) (*schema.TrialRecord, error) {
	var t schema.TrialRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND task_type = ? AND trial_number = ?", sessionID, taskType, trialNumber).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询试次记录失败: %w", err)
	}
	return &t, nil
}

// NextTrialNumber 返回会话内某任务的下一个试次编号（从 1 开始）
func (r *TrialRepository) NextTrialNumber(ctx context.Context, sessionID int64, taskType string) (int, error) {
	var max int
	if err := r.db.WithContext(ctx).Model(&schema.TrialRecord{}).
		Select("COALESCE(MAX(trial_number), 0)").
		Where("session_id = ? AND task_type = ?", sessionID, taskType).
		Scan(&max).Error; err != nil {
		return 0, fmt.Errorf("查询试次编号失败: %w", err)
	}
	return max + 1, nil
}

// CountsBySession 统计会话内各任务的试次数
func (r *TrialRepository) CountsBySession(ctx context.Context, sessionID int64) (map[string]int, error) {
	type row struct {
		TaskType string
		N        int
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&schema.TrialRecord{}).
		Select("task_type, COUNT(*) AS n").
		Where("session_id = ?", sessionID).
		Group("task_type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("统计试次失败: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.TaskType] = r.N
	}
	return counts, nil
}

// ListBySession 列出会话内全部试次（按任务、试次编号升序）
func (r *TrialRepository) ListBySession(ctx context.Context, sessionID int64) ([]schema.TrialRecord, error) {
	var ts []schema.TrialRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("task_type ASC, trial_number ASC").
		Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("查询试次记录失败: %w", err)
	}
	return ts, nil
}

// SumPointsBySession 统计会话总得分
func (r *TrialRepository) SumPointsBySession(ctx context.Context, sessionID int64) (int64, error) {
	var sum int64
	if err := r.db.WithContext(ctx).Model(&schema.TrialRecord{}).
		Select("COALESCE(SUM(points), 0)").
		Where("session_id = ?", sessionID).
		Scan(&sum).Error; err != nil {
		return 0, fmt.Errorf("统计得分失败: %w", err)
	}
	return sum, nil
}
