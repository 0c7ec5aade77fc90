package service

import (
	"strings"
	"testing"
)

func validDef() *ExperimentDef {
	return &ExperimentDef{
		Name:        "基线研究",
		NumSessions: 2,
		Sessions: []SessionDef{
			{Ordinal: 1, Tasks: []TaskDef{
				{Type: "bart", Params: map[string]any{"max_pumps": 20, "balloon_color": "blue"}},
				{Type: "ice_fishing"},
			}},
			{Ordinal: 2, Tasks: []TaskDef{
				{Type: "mountain_mining"},
				{Type: "spinning_bottle"},
			}},
		},
	}
}

func TestValidatorAcceptsValidDef(t *testing.T) {
	v := NewValidator(DefaultLimits())
	if problems := v.Validate(validDef()); len(problems) != 0 {
		t.Fatalf("problems=%v, want none", problems)
	}
}

func TestValidatorReportsAllProblemsAtOnce(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := &ExperimentDef{
		Name:        " ",
		NumSessions: 3, // 超过上限 2
		Sessions: []SessionDef{
			{Ordinal: 1, Tasks: []TaskDef{{Type: "poker"}}}, // 未知类型
			// 缺会话 2、3
		},
	}
	problems := v.Validate(def)
	if len(problems) < 4 {
		t.Fatalf("problems=%v, want at least 4", problems)
	}
	joined := strings.Join(problems, "\n")
	for _, want := range []string{"名称", "会话数 3", "缺少会话 2", "缺少会话 3", "poker"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("problems missing %q:\n%s", want, joined)
		}
	}
}

func TestValidatorRejectsDuplicateAndOutOfRangeOrdinals(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := validDef()
	def.Sessions[1].Ordinal = 1 // 会话 1 配置两次，会话 2 缺失
	problems := v.Validate(def)
	joined := strings.Join(problems, "\n")
	if !strings.Contains(joined, "会话 1 配置了 2 次") || !strings.Contains(joined, "缺少会话 2") {
		t.Fatalf("problems=%v", problems)
	}

	def = validDef()
	def.Sessions[1].Ordinal = 5
	joined = strings.Join(v.Validate(def), "\n")
	if !strings.Contains(joined, "会话序号 5 超出") {
		t.Fatalf("problems=%s", joined)
	}
}

func TestValidatorRejectsRepeatedSlotAcrossSessions(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := validDef()
	def.Sessions[1].Tasks[0] = TaskDef{Type: "bart", Params: map[string]any{"max_pumps": 20, "balloon_color": "blue"}}

	problems := v.Validate(def)
	if len(problems) == 0 || !strings.Contains(problems[0], "重复出现") {
		t.Fatalf("problems=%v, want slot repetition", problems)
	}
}

func TestValidatorAllowsDistinctInstancesOfSameType(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := validDef()
	def.Sessions[1].Tasks[0] = TaskDef{
		Type:        "bart",
		InstanceKey: "red",
		Params:      map[string]any{"max_pumps": 40, "balloon_color": "red"},
	}
	def.Sessions[0].Tasks[0].InstanceKey = "blue"

	if problems := v.Validate(def); len(problems) != 0 {
		t.Fatalf("problems=%v, want none", problems)
	}
}

func TestValidatorRejectsIndistinguishableInstances(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := validDef()
	def.Sessions[0].Tasks[0].InstanceKey = "a"
	def.Sessions[1].Tasks[0] = TaskDef{
		Type:        "bart",
		InstanceKey: "b",
		Params:      map[string]any{"max_pumps": 20, "balloon_color": "blue"},
	}

	problems := v.Validate(def)
	joined := strings.Join(problems, "\n")
	if !strings.Contains(joined, "参数完全相同") {
		t.Fatalf("problems=%v, want indistinguishable instances", problems)
	}
}

func TestValidatorChecksParamRanges(t *testing.T) {
	v := NewValidator(DefaultLimits())
	def := validDef()
	def.Sessions[0].Tasks[0].Params = map[string]any{
		"max_pumps":     -1,
		"balloon_color": "pink",
		"unknown":       1,
	}
	def.Sessions[0].Tasks[1].Params = map[string]any{"speed_min": 5, "speed_max": 3}

	joined := strings.Join(v.Validate(def), "\n")
	for _, want := range []string{"max_pumps", "balloon_color", "unknown", "speed_min"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("problems missing %q:\n%s", want, joined)
		}
	}
}

func TestValidatorRejectsTooManyTasks(t *testing.T) {
	v := NewValidator(Limits{MaxSessions: 2, MaxTasksPerSession: 1})
	def := validDef()
	joined := strings.Join(v.Validate(def), "\n")
	if !strings.Contains(joined, "超过上限 1") {
		t.Fatalf("problems=%s", joined)
	}
}
