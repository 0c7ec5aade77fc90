package service

import (
	"context"

	"github.com/PsychLayne/RiskTakingSuite/internal/task"
)

// StatsService 只读统计视图（研究端仪表盘/导出用，无副作用）
type StatsService struct {
	expRepo         ExperimentRepository
	enrollRepo      EnrollmentRepository
	sessionRepo     SessionRepository
	trialRepo       TrialRepository
	usageRepo       TaskUsageRepository
	participantRepo ParticipantRepository
}

// NewStatsService 创建统计服务
func NewStatsService(
	expRepo ExperimentRepository,
	enrollRepo EnrollmentRepository,
	sessionRepo SessionRepository,
	trialRepo TrialRepository,
	usageRepo TaskUsageRepository,
	participantRepo ParticipantRepository,
) *StatsService {
	return &StatsService{
		expRepo:         expRepo,
		enrollRepo:      enrollRepo,
		sessionRepo:     sessionRepo,
		trialRepo:       trialRepo,
		usageRepo:       usageRepo,
		participantRepo: participantRepo,
	}
}

// TaskUsageStat 单个任务类型的全局分配计数
type TaskUsageStat struct {
	TaskType string `json:"task_type"`
	UseCount int64  `json:"use_count"`
}

// TaskUsage 各任务类型的全局分配计数（含计数为 0 的类型）
func (s *StatsService) TaskUsage(ctx context.Context) ([]TaskUsageStat, error) {
	counts, err := s.usageRepo.Counts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskUsageStat, 0, len(task.All()))
	for _, t := range task.All() {
		out = append(out, TaskUsageStat{TaskType: string(t), UseCount: counts[string(t)]})
	}
	return out, nil
}

// ExperimentStat 单个实验的报名/完成统计
type ExperimentStat struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Enrolled  int64  `json:"enrolled"`
	Completed int64  `json:"completed"`
}

// Experiments 全部实验的报名/完成统计
func (s *StatsService) Experiments(ctx context.Context) ([]ExperimentStat, error) {
	exps, err := s.expRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ExperimentStat, 0, len(exps))
	for _, exp := range exps {
		total, completed, err := s.enrollRepo.CountByExperiment(ctx, exp.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ExperimentStat{
			Code:      exp.Code,
			Name:      exp.Name,
			Active:    exp.Active,
			Enrolled:  total,
			Completed: completed,
		})
	}
	return out, nil
}

// SessionSummary 参与者单个会话的摘要
type SessionSummary struct {
	Ordinal     int      `json:"ordinal"`
	Tasks       []string `json:"tasks"`
	Status      string   `json:"status"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	TotalPoints int64    `json:"total_points"`
}

// ParticipantSessions 参与者全部会话的摘要（按序号升序）
func (s *StatsService) ParticipantSessions(ctx context.Context, participantCode string) ([]SessionSummary, error) {
	p, err := s.participantRepo.GetByCode(ctx, participantCode)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	sessions, err := s.sessionRepo.ListByParticipant(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		points, err := s.trialRepo.SumPointsBySession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{
			Ordinal:     sess.Ordinal,
			Tasks:       []string(sess.TaskTypes),
			Status:      sess.Status,
			StartTime:   sess.StartTime,
			EndTime:     sess.EndTime,
			TotalPoints: points,
		})
	}
	return out, nil
}
