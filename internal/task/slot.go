package task

// Slot 统一的任务槽位：任务类型 + 可选实例标识 + 参数覆盖
// 模板里既可能直接引用任务类型，也可能引用同一类型的不同“实例”
// （如 "bart#blue" / "bart#red"）。校验阶段统一解析成 Slot，
// 之后的分配引擎只处理 Slot 列表，不再区分两种写法。
type Slot struct {
	Type        Type           `json:"type" yaml:"type"`
	InstanceKey string         `json:"instance_key,omitempty" yaml:"instance_key,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Key 返回槽位的去重键：有实例标识时按实例去重，否则按类型去重
func (s Slot) Key() string {
	if s.InstanceKey != "" {
		return string(s.Type) + "#" + s.InstanceKey
	}
	return string(s.Type)
}
