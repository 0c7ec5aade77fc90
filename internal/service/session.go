package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/task"
)

// 引擎事件类型（通过 eventbus 推送给 UI 层）
const (
	EventEnrollmentCreated   = "enrollment.created"
	EventSessionStarted      = "session.started"
	EventSessionCompleted    = "session.completed"
	EventTrialRecorded       = "trial.recorded"
	EventExperimentCompleted = "experiment.completed"
)

// SessionService 会话生命周期管理
// 状态机：active → completed。创建即进入 active 并带上解析好的
// 任务列表；全部任务达到目标试次数后才允许完成；完成时检查报名
// 是否到达最后一个会话，是则单向翻转报名完成标记。
type SessionService struct {
	participantRepo ParticipantRepository
	expRepo         ExperimentRepository
	enrollRepo      EnrollmentRepository
	sessionRepo     SessionRepository
	trialRepo       TrialRepository
	assigner        *Assigner
	limits          Limits
	events          EventPublisher

	now func() time.Time
}

// NewSessionService 创建会话服务
func NewSessionService(
	participantRepo ParticipantRepository,
	expRepo ExperimentRepository,
	enrollRepo EnrollmentRepository,
	sessionRepo SessionRepository,
	trialRepo TrialRepository,
	assigner *Assigner,
	limits Limits,
	events EventPublisher,
) *SessionService {
	return &SessionService{
		participantRepo: participantRepo,
		expRepo:         expRepo,
		enrollRepo:      enrollRepo,
		sessionRepo:     sessionRepo,
		trialRepo:       trialRepo,
		assigner:        assigner,
		limits:          limits,
		events:          events,
		now:             time.Now,
	}
}

// Eligibility 下一个会话的准入判定结果
// 被拒不是错误：WaitDays 给出还需等待的天数，调用方可直接展示。
type Eligibility struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	WaitDays int    `json:"wait_days,omitempty"`
}

// CanStartNextSession 判定参与者现在能否开始下一个会话
// 依次检查：会话名额、未完成的当前会话、距上次完成的间隔天数。
func (s *SessionService) CanStartNextSession(ctx context.Context, participantCode string) (*Eligibility, error) {
	p, err := s.getParticipant(ctx, participantCode)
	if err != nil {
		return nil, err
	}

	// 必须先完成当前会话
	open, err := s.sessionRepo.GetOpen(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return &Eligibility{Allowed: false, Reason: fmt.Sprintf("会话 %d 尚未完成", open.Ordinal)}, nil
	}

	gapDays := s.limits.SessionGapDays
	enroll, err := s.enrollRepo.GetActiveByParticipant(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	var lastEnd int64
	if enroll != nil {
		exp, err := s.expRepo.GetByID(ctx, enroll.ExperimentID)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			return nil, fmt.Errorf("报名指向的实验 %d: %w", enroll.ExperimentID, ErrNotFound)
		}
		completed, err := s.sessionRepo.CountCompletedByParticipantExperiment(ctx, p.ID, exp.ID)
		if err != nil {
			return nil, err
		}
		if int(completed) >= exp.NumSessions {
			return &Eligibility{Allowed: false, Reason: "实验的全部会话已完成"}, nil
		}
		gapDays = exp.SessionGapDays

		sessions, err := s.sessionRepo.ListByParticipantExperiment(ctx, p.ID, exp.ID)
		if err != nil {
			return nil, err
		}
		for _, sess := range sessions {
			if sess.Completed() && sess.EndTime > lastEnd {
				lastEnd = sess.EndTime
			}
		}
	} else {
		last, err := s.sessionRepo.GetLast(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if last != nil && last.Completed() {
			lastEnd = last.EndTime
		}
	}

	// 间隔为 0 或还没有完成过会话：立即放行
	if gapDays <= 0 || lastEnd == 0 {
		return &Eligibility{Allowed: true}, nil
	}

	elapsedDays := float64(s.now().UnixMilli()-lastEnd) / float64(24*time.Hour.Milliseconds())
	if elapsedDays >= float64(gapDays) {
		return &Eligibility{Allowed: true}, nil
	}
	wait := int(math.Ceil(float64(gapDays) - elapsedDays))
	return &Eligibility{
		Allowed:  false,
		Reason:   fmt.Sprintf("距上次会话完成不足 %d 天，还需等待 %d 天", gapDays, wait),
		WaitDays: wait,
	}, nil
}

// StartOrResume 开始参与者的下一个会话；已有未完成会话则直接返回它
func (s *SessionService) StartOrResume(ctx context.Context, participantCode string) (*schema.Session, error) {
	p, err := s.getParticipant(ctx, participantCode)
	if err != nil {
		return nil, err
	}

	if open, err := s.sessionRepo.GetOpen(ctx, p.ID); err != nil {
		return nil, err
	} else if open != nil {
		slog.Info("恢复未完成会话", "participant", participantCode, "ordinal", open.Ordinal)
		return open, nil
	}

	elig, err := s.CanStartNextSession(ctx, participantCode)
	if err != nil {
		return nil, err
	}
	if !elig.Allowed {
		return nil, fmt.Errorf("暂不能开始下一个会话: %s", elig.Reason)
	}

	enroll, err := s.enrollRepo.GetActiveByParticipant(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if enroll != nil {
		return s.startExperimentSession(ctx, p, enroll)
	}
	return s.startAdhocSession(ctx, p)
}

// startExperimentSession 创建实验驱动的会话
func (s *SessionService) startExperimentSession(ctx context.Context, p *schema.Participant, enroll *schema.Enrollment) (*schema.Session, error) {
	exp, err := s.expRepo.GetByID(ctx, enroll.ExperimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("报名指向的实验 %d: %w", enroll.ExperimentID, ErrNotFound)
	}

	prior, err := s.sessionRepo.ListByParticipantExperiment(ctx, p.ID, exp.ID)
	if err != nil {
		return nil, err
	}
	ordinal := len(prior) + 1
	if ordinal > exp.NumSessions {
		return nil, fmt.Errorf("实验 %s 的 %d 个会话已全部创建", exp.Code, exp.NumSessions)
	}

	slots, err := s.assigner.ForExperimentSession(ctx, exp, p, ordinal)
	if err != nil {
		return nil, err
	}

	tpl := findSessionTemplate(exp, ordinal)
	session := &schema.Session{
		ParticipantID:     p.ID,
		ExperimentID:      &exp.ID,
		SessionTemplateID: &tpl.ID,
		TaskTypes:         slotTypes(slots),
		InstanceKeys:      slotKeys(slots),
		StartTime:         s.now().UnixMilli(),
		Status:            schema.SessionStatusActive,
	}
	if err := s.sessionRepo.CreateNext(ctx, session, nil); err != nil {
		return nil, err
	}
	if err := s.enrollRepo.SetCurrentSession(ctx, enroll.ID, ordinal); err != nil {
		return nil, err
	}

	slog.Info("会话已开始", "participant", p.Code, "experiment", exp.Code,
		"ordinal", ordinal, "tasks", session.TaskTypes)
	s.publish(EventSessionStarted, map[string]any{
		"participant": p.Code, "experiment": exp.Code,
		"session_id": session.ID, "tasks": []string(session.TaskTypes),
	})
	return session, nil
}

// startAdhocSession 创建非实验模式的会话
// 任务计数与会话插入在同一事务内更新（见 SessionRepository.CreateNext）。
func (s *SessionService) startAdhocSession(ctx context.Context, p *schema.Participant) (*schema.Session, error) {
	slots, err := s.assigner.ForAdhocSession(ctx, p)
	if err != nil {
		return nil, err
	}

	types := slotTypes(slots)
	session := &schema.Session{
		ParticipantID: p.ID,
		TaskTypes:     types,
		InstanceKeys:  slotKeys(slots),
		StartTime:     s.now().UnixMilli(),
		Status:        schema.SessionStatusActive,
	}
	if err := s.sessionRepo.CreateNext(ctx, session, types); err != nil {
		return nil, err
	}

	slog.Info("会话已开始", "participant", p.Code, "ordinal", session.Ordinal, "tasks", types)
	s.publish(EventSessionStarted, map[string]any{
		"participant": p.Code, "session_id": session.ID, "tasks": []string(types),
	})
	return session, nil
}

// RecordTrialInput 单次试次的回写参数
type RecordTrialInput struct {
	SessionID   int64          `json:"session_id"`
	TaskType    string         `json:"task_type"`
	TrialNumber int            `json:"trial_number"` // 0 表示自动取下一个编号
	RiskLevel   float64        `json:"risk_level"`
	Points      int            `json:"points"`
	Outcome     string         `json:"outcome"`
	ReactionMs  *float64       `json:"reaction_ms,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// RecordTrial 追加一条试次记录（小游戏的唯一回写入口）
func (s *SessionService) RecordTrial(ctx context.Context, in RecordTrialInput) (*schema.TrialRecord, error) {
	var problems []string
	if !task.Valid(task.Type(in.TaskType)) {
		problems = append(problems, fmt.Sprintf("未知任务类型 %q", in.TaskType))
	}
	if !task.ValidOutcome(task.Outcome(in.Outcome)) {
		problems = append(problems, fmt.Sprintf("未知结果标签 %q", in.Outcome))
	}
	if in.RiskLevel < 0 || in.RiskLevel > 1 {
		problems = append(problems, fmt.Sprintf("风险水平 %v 超出 [0,1]", in.RiskLevel))
	}
	if in.Points < 0 {
		problems = append(problems, fmt.Sprintf("得分 %d 不能为负", in.Points))
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	session, err := s.sessionRepo.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("会话 %d: %w", in.SessionID, ErrNotFound)
	}
	if session.Completed() {
		return nil, fmt.Errorf("会话 %d 已完成，不能再写入试次", in.SessionID)
	}
	if !contains(session.TaskTypes, in.TaskType) {
		return nil, &ValidationError{Problems: []string{
			fmt.Sprintf("任务 %q 不在会话 %d 的分配列表中", in.TaskType, in.SessionID),
		}}
	}

	trialNumber := in.TrialNumber
	if trialNumber <= 0 {
		trialNumber, err = s.trialRepo.NextTrialNumber(ctx, in.SessionID, in.TaskType)
		if err != nil {
			return nil, err
		}
	} else {
		// 显式编号按幂等处理：同一批次文件重复摄入不产生重复行
		existing, err := s.trialRepo.Get(ctx, in.SessionID, in.TaskType, trialNumber)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	record := &schema.TrialRecord{
		SessionID:   in.SessionID,
		TaskType:    in.TaskType,
		TrialNumber: trialNumber,
		RiskLevel:   in.RiskLevel,
		Points:      in.Points,
		Outcome:     in.Outcome,
		ReactionMs:  in.ReactionMs,
		Extra:       schema.JSONMap(in.Extra),
	}
	if err := s.trialRepo.Append(ctx, record); err != nil {
		return nil, err
	}

	s.publish(EventTrialRecorded, map[string]any{
		"session_id": in.SessionID, "task": in.TaskType, "trial": trialNumber,
	})
	return record, nil
}

// CompleteSession 完成会话
// 仅当每个已分配任务的试次数都达到目标时才允许（force 可跳过，
// 供研究端处理中断场景）；完成后检查报名是否到达最后一个会话。
func (s *SessionService) CompleteSession(ctx context.Context, sessionID int64, force bool) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("会话 %d: %w", sessionID, ErrNotFound)
	}
	if session.Completed() {
		return fmt.Errorf("会话 %d 已完成", sessionID)
	}

	target := s.limits.TrialsPerTask
	var exp *schema.Experiment
	if session.ExperimentID != nil {
		exp, err = s.expRepo.GetByID(ctx, *session.ExperimentID)
		if err != nil {
			return err
		}
		if exp != nil && exp.TrialsPerTask > 0 {
			target = exp.TrialsPerTask
		}
	}

	if !force {
		counts, err := s.trialRepo.CountsBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		var pending []string
		for _, t := range session.TaskTypes {
			if counts[t] < target {
				pending = append(pending, fmt.Sprintf("%s(%d/%d)", t, counts[t], target))
			}
		}
		if len(pending) > 0 {
			return fmt.Errorf("会话 %d 尚有任务未达目标试次数: %v", sessionID, pending)
		}
	}

	if err := s.sessionRepo.MarkCompleted(ctx, sessionID, s.now().UnixMilli()); err != nil {
		return err
	}
	slog.Info("会话已完成", "session_id", sessionID)
	s.publish(EventSessionCompleted, map[string]any{"session_id": sessionID})

	if session.ExperimentID == nil || exp == nil {
		return nil
	}
	return s.checkExperimentCompletion(ctx, session.ParticipantID, exp)
}

// checkExperimentCompletion 完成会话后复查报名：到达最后一个会话则
// 单向翻转完成标记并清除参与者的当前实验回引
func (s *SessionService) checkExperimentCompletion(ctx context.Context, participantID int64, exp *schema.Experiment) error {
	completed, err := s.sessionRepo.CountCompletedByParticipantExperiment(ctx, participantID, exp.ID)
	if err != nil {
		return err
	}
	if int(completed) < exp.NumSessions {
		return nil
	}

	enroll, err := s.enrollRepo.GetByPair(ctx, participantID, exp.ID)
	if err != nil {
		return err
	}
	if enroll == nil || enroll.Completed {
		return nil
	}
	if err := s.enrollRepo.MarkCompleted(ctx, enroll.ID); err != nil {
		return err
	}
	if err := s.participantRepo.SetExperiment(ctx, participantID, nil); err != nil {
		return err
	}

	slog.Info("实验已完成", "participant_id", participantID, "experiment", exp.Code)
	s.publish(EventExperimentCompleted, map[string]any{
		"participant_id": participantID, "experiment": exp.Code,
	})
	return nil
}

func (s *SessionService) getParticipant(ctx context.Context, code string) (*schema.Participant, error) {
	p, err := s.participantRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("参与者 %q: %w", code, ErrNotFound)
	}
	return p, nil
}

func (s *SessionService) publish(eventType string, data map[string]any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

func slotTypes(slots []task.Slot) schema.JSONArray {
	out := make(schema.JSONArray, 0, len(slots))
	for _, slot := range slots {
		out = append(out, string(slot.Type))
	}
	return out
}

func slotKeys(slots []task.Slot) schema.JSONArray {
	out := make(schema.JSONArray, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.Key())
	}
	return out
}

func contains(arr schema.JSONArray, v string) bool {
	for _, s := range arr {
		if s == v {
			return true
		}
	}
	return false
}
