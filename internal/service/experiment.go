package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
)

// ExperimentService 实验模板管理
type ExperimentService struct {
	expRepo   ExperimentRepository
	validator *Validator
	codeRand  *rand.Rand
}

// NewExperimentService 创建实验服务
func NewExperimentService(expRepo ExperimentRepository, validator *Validator) *ExperimentService {
	return &ExperimentService{
		expRepo:   expRepo,
		validator: validator,
		codeRand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create 校验并持久化实验模板
// 校验失败返回完整问题列表，任何持久化都不会发生。
func (s *ExperimentService) Create(ctx context.Context, def *ExperimentDef) (*schema.Experiment, error) {
	if problems := s.validator.Validate(def); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	code := strings.ToUpper(strings.TrimSpace(def.Code))
	if code == "" {
		generated, err := s.generateCode(ctx)
		if err != nil {
			return nil, err
		}
		code = generated
	}

	exp := defToSchema(def, code)
	if err := s.expRepo.Create(ctx, exp); err != nil {
		return nil, err
	}

	slog.Info("实验已创建", "code", exp.Code, "name", exp.Name, "sessions", exp.NumSessions)
	return exp, nil
}

// Get 按代码查询实验
func (s *ExperimentService) Get(ctx context.Context, code string) (*schema.Experiment, error) {
	exp, err := s.expRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("实验 %q: %w", code, ErrNotFound)
	}
	return exp, nil
}

// List 列出全部实验
func (s *ExperimentService) List(ctx context.Context) ([]schema.Experiment, error) {
	return s.expRepo.List(ctx)
}

// SetActive 启用/停用实验
func (s *ExperimentService) SetActive(ctx context.Context, code string, active bool) error {
	exp, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	return s.expRepo.SetActive(ctx, exp.ID, active)
}

// Delete 级联删除实验及其全部关联数据
func (s *ExperimentService) Delete(ctx context.Context, code string) error {
	exp, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := s.expRepo.DeleteCascade(ctx, exp.ID); err != nil {
		return err
	}
	slog.Info("实验已删除", "code", code)
	return nil
}

// 代码字符集去掉了易混淆的 0/O/1/I
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateCode 生成全局唯一的实验短代码（冲突则重试）
func (s *ExperimentService) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		b := make([]byte, 6)
		for i := range b {
			b[i] = codeAlphabet[s.codeRand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		existing, err := s.expRepo.GetByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("生成实验代码失败：多次冲突")
}

// defToSchema 将校验通过的模板转换为持久化结构
func defToSchema(def *ExperimentDef, code string) *schema.Experiment {
	exp := &schema.Experiment{
		Code:           code,
		Name:           def.Name,
		Description:    def.Description,
		NumSessions:    def.NumSessions,
		RandomizeOrder: def.RandomizeOrder,
		Active:         true,
		StartAt:        def.StartAt,
		EndAt:          def.EndAt,
		SessionGapDays: def.SessionGapDays,
		TrialsPerTask:  def.TrialsPerTask,
		CreatedBy:      def.CreatedBy,
	}
	for _, sd := range def.Sessions {
		st := schema.SessionTemplate{
			Ordinal:   sd.Ordinal,
			TaskCount: len(sd.Tasks),
		}
		for pos, td := range sd.Tasks {
			st.TaskTemplates = append(st.TaskTemplates, schema.TaskTemplate{
				TaskType:    td.Type,
				InstanceKey: td.InstanceKey,
				Position:    pos + 1,
				Params:      schema.JSONMap(td.Params),
			})
		}
		exp.SessionTemplates = append(exp.SessionTemplates, st)
	}
	return exp
}

// schemaToDef 将持久化结构转换回模板定义（导出/复制用）
func schemaToDef(exp *schema.Experiment) *ExperimentDef {
	def := &ExperimentDef{
		Code:           exp.Code,
		Name:           exp.Name,
		Description:    exp.Description,
		NumSessions:    exp.NumSessions,
		RandomizeOrder: exp.RandomizeOrder,
		SessionGapDays: exp.SessionGapDays,
		TrialsPerTask:  exp.TrialsPerTask,
		StartAt:        exp.StartAt,
		EndAt:          exp.EndAt,
		CreatedBy:      exp.CreatedBy,
	}
	for _, st := range exp.SessionTemplates {
		sd := SessionDef{Ordinal: st.Ordinal}
		for _, tt := range st.TaskTemplates {
			sd.Tasks = append(sd.Tasks, TaskDef{
				Type:        tt.TaskType,
				InstanceKey: tt.InstanceKey,
				Params:      map[string]any(tt.Params),
			})
		}
		def.Sessions = append(def.Sessions, sd)
	}
	return def
}
