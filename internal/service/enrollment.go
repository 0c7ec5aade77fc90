package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
)

// EnrollmentService 报名管理
type EnrollmentService struct {
	participantRepo ParticipantRepository
	expRepo         ExperimentRepository
	enrollRepo      EnrollmentRepository
	sessionRepo     SessionRepository
	sessions        *SessionService
	events          EventPublisher

	now func() time.Time
}

// NewEnrollmentService 创建报名服务
func NewEnrollmentService(
	participantRepo ParticipantRepository,
	expRepo ExperimentRepository,
	enrollRepo EnrollmentRepository,
	sessionRepo SessionRepository,
	sessions *SessionService,
	events EventPublisher,
) *EnrollmentService {
	return &EnrollmentService{
		participantRepo: participantRepo,
		expRepo:         expRepo,
		enrollRepo:      enrollRepo,
		sessionRepo:     sessionRepo,
		sessions:        sessions,
		events:          events,
		now:             time.Now,
	}
}

// Enroll 将参与者报名到实验，并立即创建第一个会话
// 失败路径：代码不存在 → ErrNotFound；实验停用或不在报名窗口 →
// ErrExperimentClosed；已有报名/进行中的报名 → ErrConstraintViolation。
func (s *EnrollmentService) Enroll(ctx context.Context, participantCode, experimentCode string) (*schema.Enrollment, error) {
	p, err := s.participantRepo.GetByCode(ctx, participantCode)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("参与者 %q: %w", participantCode, ErrNotFound)
	}

	exp, err := s.expRepo.GetByCode(ctx, experimentCode)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("实验代码 %q: %w", experimentCode, ErrNotFound)
	}

	now := s.now().UnixMilli()
	if !exp.Active {
		return nil, fmt.Errorf("实验 %s 已停用: %w", exp.Code, ErrExperimentClosed)
	}
	if exp.StartAt > 0 && now < exp.StartAt {
		return nil, fmt.Errorf("实验 %s 的报名窗口尚未开始: %w", exp.Code, ErrExperimentClosed)
	}
	if exp.EndAt > 0 && now > exp.EndAt {
		return nil, fmt.Errorf("实验 %s 的报名窗口已结束: %w", exp.Code, ErrExperimentClosed)
	}

	enroll := &schema.Enrollment{
		ParticipantID: p.ID,
		ExperimentID:  exp.ID,
		EnrolledAt:    now,
	}
	// 重复报名与“已有进行中报名”的检查在仓储事务内完成
	if err := s.enrollRepo.Create(ctx, enroll); err != nil {
		return nil, err
	}
	if err := s.participantRepo.SetExperiment(ctx, p.ID, &exp.ID); err != nil {
		s.rollbackEnroll(ctx, p.ID, enroll.ID)
		return nil, err
	}

	// 立即创建第一个会话；失败则撤销报名与回引，不留下
	// “已报名但没有会话”的半成品状态（否则重试会撞重复报名检查）
	if _, err := s.sessions.StartOrResume(ctx, p.Code); err != nil {
		s.rollbackEnroll(ctx, p.ID, enroll.ID)
		return nil, fmt.Errorf("创建第一个会话失败: %w", err)
	}

	slog.Info("报名成功", "participant", p.Code, "experiment", exp.Code)
	if s.events != nil {
		s.events.Publish(EventEnrollmentCreated, map[string]any{
			"participant": p.Code, "experiment": exp.Code,
		})
	}
	return enroll, nil
}

// rollbackEnroll 补偿回滚半途失败的报名
func (s *EnrollmentService) rollbackEnroll(ctx context.Context, participantID, enrollID int64) {
	if err := s.participantRepo.SetExperiment(ctx, participantID, nil); err != nil {
		slog.Error("回滚参与者实验回引失败", "participant_id", participantID, "error", err)
	}
	if err := s.enrollRepo.Delete(ctx, enrollID); err != nil {
		slog.Error("回滚报名记录失败", "enrollment_id", enrollID, "error", err)
	}
}

// Progress 报名进度（纯读取，无副作用）
type Progress struct {
	ParticipantCode   string  `json:"participant_code"`
	ExperimentCode    string  `json:"experiment_code"`
	CompletedSessions int     `json:"completed_sessions"`
	TotalSessions     int     `json:"total_sessions"`
	Percent           float64 `json:"percent"`
	Completed         bool    `json:"completed"`
}

// GetProgress 查询参与者在某实验的进度
func (s *EnrollmentService) GetProgress(ctx context.Context, participantCode, experimentCode string) (*Progress, error) {
	p, err := s.participantRepo.GetByCode(ctx, participantCode)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("参与者 %q: %w", participantCode, ErrNotFound)
	}

	exp, err := s.expRepo.GetByCode(ctx, experimentCode)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("实验代码 %q: %w", experimentCode, ErrNotFound)
	}

	enroll, err := s.enrollRepo.GetByPair(ctx, p.ID, exp.ID)
	if err != nil {
		return nil, err
	}
	if enroll == nil {
		return nil, fmt.Errorf("参与者 %s 未报名实验 %s: %w", participantCode, experimentCode, ErrNotFound)
	}

	completed, err := s.sessionRepo.CountCompletedByParticipantExperiment(ctx, p.ID, exp.ID)
	if err != nil {
		return nil, err
	}

	prog := &Progress{
		ParticipantCode:   p.Code,
		ExperimentCode:    exp.Code,
		CompletedSessions: int(completed),
		TotalSessions:     exp.NumSessions,
		Completed:         enroll.Completed,
	}
	if exp.NumSessions > 0 {
		prog.Percent = 100 * float64(completed) / float64(exp.NumSessions)
	}
	return prog, nil
}
