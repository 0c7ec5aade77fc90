package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"go.yaml.in/yaml/v3"
)

// HandoffService 小游戏进程边界的参数交接
// 引擎在启动小游戏前把会话/任务/参数覆盖写进一个交接文件，
// 小游戏只读这个文件，不直接触碰会话或报名状态。
type HandoffService struct {
	sessionRepo     SessionRepository
	expRepo         ExperimentRepository
	participantRepo ParticipantRepository
	limits          Limits
}

// NewHandoffService 创建交接服务
func NewHandoffService(
	sessionRepo SessionRepository,
	expRepo ExperimentRepository,
	participantRepo ParticipantRepository,
	limits Limits,
) *HandoffService {
	return &HandoffService{
		sessionRepo:     sessionRepo,
		expRepo:         expRepo,
		participantRepo: participantRepo,
		limits:          limits,
	}
}

// Handoff 交接文件内容
type Handoff struct {
	SessionID       int64          `yaml:"session_id"`
	ParticipantCode string         `yaml:"participant_code"`
	TaskType        string         `yaml:"task_type"`
	InstanceKey     string         `yaml:"instance_key,omitempty"`
	TrialsTarget    int            `yaml:"trials_target"`
	Params          map[string]any `yaml:"params,omitempty"`
}

// Build 为会话中的某个任务构造交接内容
// 实验驱动的会话会带上该任务实例的参数覆盖；ad-hoc 会话用任务默认参数。
func (s *HandoffService) Build(ctx context.Context, sessionID int64, taskType string) (*Handoff, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("会话 %d: %w", sessionID, ErrNotFound)
	}
	if !contains(session.TaskTypes, taskType) {
		return nil, fmt.Errorf("任务 %q 不在会话 %d 的分配列表中", taskType, sessionID)
	}

	p, err := s.participantRepo.GetByID(ctx, session.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("参与者 %d: %w", session.ParticipantID, ErrNotFound)
	}

	h := &Handoff{
		SessionID:       sessionID,
		ParticipantCode: p.Code,
		TaskType:        taskType,
		TrialsTarget:    s.limits.TrialsPerTask,
	}

	// 从会话记录里找该任务对应的实例键，再回模板取参数覆盖
	for i, t := range session.TaskTypes {
		if t == taskType && i < len(session.InstanceKeys) {
			h.InstanceKey = instancePart(session.InstanceKeys[i])
			break
		}
	}

	if session.ExperimentID != nil {
		exp, err := s.expRepo.GetByID(ctx, *session.ExperimentID)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			if exp.TrialsPerTask > 0 {
				h.TrialsTarget = exp.TrialsPerTask
			}
			h.Params = findTemplateParams(exp, taskType, h.InstanceKey)
		}
	}

	return h, nil
}

// Write 构造并写出交接文件，返回文件路径
func (s *HandoffService) Write(ctx context.Context, sessionID int64, taskType, path string) (string, error) {
	h, err := s.Build(ctx, sessionID, taskType)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("序列化交接文件失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("创建交接目录失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("写入交接文件失败: %w", err)
	}
	return path, nil
}

// instancePart 从槽位键（"type" 或 "type#instance"）里取出实例部分
func instancePart(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '#' {
			return key[i+1:]
		}
	}
	return ""
}

// findTemplateParams 在实验模板里查找某任务（实例）的参数覆盖
func findTemplateParams(exp *schema.Experiment, taskType, instanceKey string) map[string]any {
	for _, st := range exp.SessionTemplates {
		for _, tt := range st.TaskTemplates {
			if tt.TaskType == taskType && tt.InstanceKey == instanceKey {
				return map[string]any(tt.Params)
			}
		}
	}
	return nil
}
