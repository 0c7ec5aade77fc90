package service

import (
	"context"
	"fmt"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"go.yaml.in/yaml/v3"
)

// TemplateService 实验模板的导出/导入/复制
// 导出格式是嵌套 YAML：实验元数据 → 会话 → 任务 → 参数覆盖。
// 同一份导出在新代码下重新导入，会得到结构完全一致的实验
//（代码与时间戳除外）。
type TemplateService struct {
	experiments *ExperimentService
}

// NewTemplateService 创建模板服务
func NewTemplateService(experiments *ExperimentService) *TemplateService {
	return &TemplateService{experiments: experiments}
}

// Export 导出实验模板为 YAML
func (s *TemplateService) Export(ctx context.Context, code string) ([]byte, error) {
	exp, err := s.experiments.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(schemaToDef(exp))
	if err != nil {
		return nil, fmt.Errorf("序列化模板失败: %w", err)
	}
	return data, nil
}

// Import 从 YAML 导入实验模板
// newCode 非空时覆盖文档内的代码；导入前走完整校验。
func (s *TemplateService) Import(ctx context.Context, data []byte, newCode string) (*schema.Experiment, error) {
	var def ExperimentDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}
	if newCode != "" {
		def.Code = newCode
	}
	return s.experiments.Create(ctx, &def)
}

// Duplicate 复制一个实验的配置到新实验（新代码自动生成）
func (s *TemplateService) Duplicate(ctx context.Context, code string) (*schema.Experiment, error) {
	exp, err := s.experiments.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	def := schemaToDef(exp)
	def.Code = "" // 触发自动生成
	return s.experiments.Create(ctx, def)
}
