package service

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/PsychLayne/RiskTakingSuite/internal/task"
)

// Limits 引擎的可配置边界
// 观测到的产品写死了 2 个会话、每会话 4 个任务；这里统一走配置，
// 超界一律报错，不做静默截断。
type Limits struct {
	MaxSessions          int // 实验允许的最大会话数
	MaxTasksPerSession   int // 单个会话允许的最大任务数
	TrialsPerTask        int // 每个任务的默认目标试次数
	AdhocTasksPerSession int // 非实验模式每个会话分配的任务数
	SessionGapDays       int // 非实验模式的默认会话间隔天数
}

// DefaultLimits 默认边界
func DefaultLimits() Limits {
	return Limits{
		MaxSessions:          2,
		MaxTasksPerSession:   4,
		TrialsPerTask:        10,
		AdhocTasksPerSession: 2,
		SessionGapDays:       0,
	}
}

// ExperimentDef 实验模板的输入/导出结构
// 嵌套结构：实验元数据 → 会话 → 任务 → 参数覆盖。
type ExperimentDef struct {
	Code           string       `json:"code,omitempty" yaml:"code,omitempty"` // 留空则自动生成
	Name           string       `json:"name" yaml:"name"`
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	NumSessions    int          `json:"num_sessions" yaml:"num_sessions"`
	RandomizeOrder bool         `json:"randomize_order" yaml:"randomize_order"`
	SessionGapDays int          `json:"session_gap_days" yaml:"session_gap_days"`
	TrialsPerTask  int          `json:"trials_per_task,omitempty" yaml:"trials_per_task,omitempty"`
	StartAt        int64        `json:"start_at,omitempty" yaml:"start_at,omitempty"`
	EndAt          int64        `json:"end_at,omitempty" yaml:"end_at,omitempty"`
	CreatedBy      string       `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Sessions       []SessionDef `json:"sessions" yaml:"sessions"`
}

// SessionDef 单个会话的模板定义
type SessionDef struct {
	Ordinal int       `json:"ordinal" yaml:"ordinal"`
	Tasks   []TaskDef `json:"tasks" yaml:"tasks"`
}

// TaskDef 单个任务槽位的模板定义
type TaskDef struct {
	Type        string         `json:"type" yaml:"type"`
	InstanceKey string         `json:"instance_key,omitempty" yaml:"instance_key,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validator 实验模板校验器
type Validator struct {
	limits Limits
}

// NewValidator 创建校验器
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Validate 校验实验模板，返回发现的全部问题（空切片表示通过）
// 检查顺序：名称 → 会话数边界 → 会话序号覆盖 → 任务数边界 →
// 任务类型 → 跨会话重复 → 参数范围。
func (v *Validator) Validate(def *ExperimentDef) []string {
	var problems []string
	if def == nil {
		return []string{"模板不能为空"}
	}

	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "实验名称不能为空")
	}

	if def.NumSessions < 1 || def.NumSessions > v.limits.MaxSessions {
		problems = append(problems, fmt.Sprintf("会话数 %d 超出允许范围 [1, %d]", def.NumSessions, v.limits.MaxSessions))
	}

	// 会话序号必须恰好覆盖 1..NumSessions
	seen := make(map[int]int)
	for _, s := range def.Sessions {
		seen[s.Ordinal]++
	}
	for ord := 1; ord <= def.NumSessions; ord++ {
		switch seen[ord] {
		case 0:
			problems = append(problems, fmt.Sprintf("缺少会话 %d 的配置", ord))
		case 1:
			// ok
		default:
			problems = append(problems, fmt.Sprintf("会话 %d 配置了 %d 次", ord, seen[ord]))
		}
	}
	for ord := range seen {
		if ord < 1 || ord > def.NumSessions {
			problems = append(problems, fmt.Sprintf("会话序号 %d 超出 1..%d", ord, def.NumSessions))
		}
	}

	// 任务列表与类型
	slotSessions := make(map[string][]int)    // 槽位键 → 出现的会话序号
	typeParams := make(map[string][]TaskDef)  // 同类型的实例，检查参数是否可区分
	for _, s := range def.Sessions {
		if len(s.Tasks) == 0 {
			problems = append(problems, fmt.Sprintf("会话 %d 的任务列表为空", s.Ordinal))
			continue
		}
		if len(s.Tasks) > v.limits.MaxTasksPerSession {
			problems = append(problems, fmt.Sprintf("会话 %d 配置了 %d 个任务，超过上限 %d", s.Ordinal, len(s.Tasks), v.limits.MaxTasksPerSession))
		}
		for _, td := range s.Tasks {
			t := task.Type(td.Type)
			if !task.Valid(t) {
				problems = append(problems, fmt.Sprintf("会话 %d 引用了未知任务类型 %q", s.Ordinal, td.Type))
				continue
			}
			slot := task.Slot{Type: t, InstanceKey: td.InstanceKey, Params: td.Params}
			slotSessions[slot.Key()] = append(slotSessions[slot.Key()], s.Ordinal)
			typeParams[td.Type] = append(typeParams[td.Type], td)
			problems = append(problems, task.ValidateParams(t, td.Params)...)
		}
	}

	// 同一槽位键不得出现在多个位置：重复暴露必须用不同实例建模
	keys := make([]string, 0, len(slotSessions))
	for k := range slotSessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(slotSessions[k]) > 1 {
			problems = append(problems, fmt.Sprintf("任务 %q 在会话 %v 中重复出现（如需重复暴露请用不同实例标识）", k, slotSessions[k]))
		}
	}

	// 同类型的多个实例必须参数可区分
	types := make([]string, 0, len(typeParams))
	for t := range typeParams {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		defs := typeParams[t]
		if len(defs) < 2 {
			continue
		}
		for i := 0; i < len(defs); i++ {
			for j := i + 1; j < len(defs); j++ {
				if defs[i].InstanceKey != defs[j].InstanceKey &&
					reflect.DeepEqual(defs[i].Params, defs[j].Params) {
					problems = append(problems, fmt.Sprintf("任务类型 %q 的实例 %q 与 %q 参数完全相同，无法区分", t, defs[i].InstanceKey, defs[j].InstanceKey))
				}
			}
		}
	}

	return problems
}

// ResolveSlots 将校验通过的模板解析为按会话序号组织的统一槽位列表
// 之后的分配引擎只处理 Slot，不再关心“类型引用”与“实例引用”的差别。
func ResolveSlots(def *ExperimentDef) map[int][]task.Slot {
	out := make(map[int][]task.Slot, len(def.Sessions))
	for _, s := range def.Sessions {
		slots := make([]task.Slot, 0, len(s.Tasks))
		for _, td := range s.Tasks {
			slots = append(slots, task.Slot{
				Type:        task.Type(td.Type),
				InstanceKey: td.InstanceKey,
				Params:      td.Params,
			})
		}
		out[s.Ordinal] = slots
	}
	return out
}
