package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository 会话仓储
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话仓储
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateNext 创建参与者的下一个会话
// 会话序号在事务内按 max(ordinal)+1 分配，避免两个并发调用拿到
// 同一序号；usageIncrements 非空时（ad-hoc 模式）在同一事务内
// 对全局任务计数 +1，保证计数与会话行不会分叉。
func (r *SessionRepository) CreateNext(ctx context.Context, session *schema.Session, usageIncrements []string) error {
	if session == nil {
		return fmt.Errorf("session 不能为空")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxOrdinal int
		if err := tx.Model(&schema.Session{}).
			Select("COALESCE(MAX(ordinal), 0)").
			Where("participant_id = ?", session.ParticipantID).
			Scan(&maxOrdinal).Error; err != nil {
			return fmt.Errorf("查询会话序号失败: %w", err)
		}
		session.Ordinal = maxOrdinal + 1

		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("创建会话失败: %w", err)
		}

		for _, taskType := range usageIncrements {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "task_type"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"use_count": gorm.Expr("use_count + 1")}),
			}).Create(&schema.TaskUsage{TaskType: taskType, UseCount: 1}).Error; err != nil {
				return fmt.Errorf("更新任务计数失败: %w", err)
			}
		}
		return nil
	})
}

// GetByID 按 ID 查询会话（不存在返回 nil）
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*schema.Session, error) {
	var s schema.Session
	err := r.db.WithContext(ctx).First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &s, nil
}

// GetLast 获取参与者最近一个会话（按序号；不存在返回 nil）
func (r *SessionRepository) GetLast(ctx context.Context, participantID int64) (*schema.Session, error) {
	var s schema.Session
	err := r.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("ordinal DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询最近会话失败: %w", err)
	}
	return &s, nil
}

// GetOpen 获取参与者当前未完成的会话（不存在返回 nil）
func (r *SessionRepository) GetOpen(ctx context.Context, participantID int64) (*schema.Session, error) {
	var s schema.Session
	err := r.db.WithContext(ctx).
		Where("participant_id = ? AND status = ?", participantID, schema.SessionStatusActive).
		Order("ordinal DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询未完成会话失败: %w", err)
	}
	return &s, nil
}

// ListByParticipant 列出参与者全部会话（按序号升序）
func (r *SessionRepository) ListByParticipant(ctx context.Context, participantID int64) ([]schema.Session, error) {
	var ss []schema.Session
	if err := r.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("ordinal ASC").
		Find(&ss).Error; err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return ss, nil
}

// ListByParticipantExperiment 列出参与者在某实验下的全部会话
func (r *SessionRepository) ListByParticipantExperiment(ctx context.Context, participantID, experimentID int64) ([]schema.Session, error) {
	var ss []schema.Session
	if err := r.db.WithContext(ctx).
		Where("participant_id = ? AND experiment_id = ?", participantID, experimentID).
		Order("ordinal ASC").
		Find(&ss).Error; err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return ss, nil
}

// MarkCompleted 将会话置为已完成并写入结束时间
// 仅对 active 状态生效，重复完成返回错误。
func (r *SessionRepository) MarkCompleted(ctx context.Context, id int64, endTime int64) error {
	res := r.db.WithContext(ctx).Model(&schema.Session{}).
		Where("id = ? AND status = ?", id, schema.SessionStatusActive).
		Updates(map[string]interface{}{
			"status":   schema.SessionStatusCompleted,
			"end_time": endTime,
		})
	if res.Error != nil {
		return fmt.Errorf("更新会话状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("会话 %d 不存在或不处于进行中", id)
	}
	return nil
}

// CountCompletedByParticipantExperiment 统计参与者在某实验已完成的会话数
func (r *SessionRepository) CountCompletedByParticipantExperiment(ctx context.Context, participantID, experimentID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&schema.Session{}).
		Where("participant_id = ? AND experiment_id = ? AND status = ?",
			participantID, experimentID, schema.SessionStatusCompleted).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计完成会话失败: %w", err)
	}
	return n, nil
}
