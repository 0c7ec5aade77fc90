package task

// Type 风险任务类型标签（封闭集合）
// 模板配置与小游戏分发必须使用同一组标签。
type Type string

const (
	TypeBart           Type = "bart"            // 气球充气任务
	TypeIceFishing     Type = "ice_fishing"     // 冰钓任务
	TypeMountainMining Type = "mountain_mining" // 采矿任务
	TypeSpinningBottle Type = "spinning_bottle" // 转瓶任务
)

// All 返回全部任务类型（固定顺序）
func All() []Type {
	return []Type{TypeBart, TypeIceFishing, TypeMountainMining, TypeSpinningBottle}
}

// Valid 判断标签是否属于封闭集合
func Valid(t Type) bool {
	switch t {
	case TypeBart, TypeIceFishing, TypeMountainMining, TypeSpinningBottle:
		return true
	default:
		return false
	}
}

// Outcome 单次试次的结果标签
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCollected Outcome = "collected"
	OutcomeTimeout   Outcome = "timeout"
)

// ValidOutcome 判断结果标签是否合法
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeCollected, OutcomeTimeout:
		return true
	default:
		return false
	}
}
