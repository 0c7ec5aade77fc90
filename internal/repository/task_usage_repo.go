package repository

import (
	"context"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
)

// TaskUsageRepository 全局任务分配计数仓储（只读入口）
// 计数的写入发生在 SessionRepository.CreateNext 的事务内。
type TaskUsageRepository struct {
	db *gorm.DB
}

// NewTaskUsageRepository 创建任务计数仓储
func NewTaskUsageRepository(db *gorm.DB) *TaskUsageRepository {
	return &TaskUsageRepository{db: db}
}

// Counts 返回各任务类型的全局使用计数（未出现过的类型不在 map 中）
func (r *TaskUsageRepository) Counts(ctx context.Context) (map[string]int64, error) {
	var rows []schema.TaskUsage
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询任务计数失败: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.TaskType] = row.UseCount
	}
	return counts, nil
}
