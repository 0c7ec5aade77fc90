package schema

import "time"

// TrialRecord 单次试次记录（只追加，写入后不再修改）
// 小游戏通过固定接口回写，Extra 存放任务相关遥测
//（爆炸点、操作次数等），引擎不解释其内容。
// 数据量级：万级
type TrialRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   int64     `gorm:"index;not null" json:"session_id"`
	TaskType    string    `gorm:"size:50;index;not null" json:"task_type"`
	TrialNumber int       `gorm:"not null" json:"trial_number"` // 该任务内从 1 开始
	RiskLevel   float64   `gorm:"not null" json:"risk_level"`   // [0,1]
	Points      int       `gorm:"not null" json:"points"`       // ≥0
	Outcome     string    `gorm:"size:20;not null" json:"outcome"`
	ReactionMs  *float64  `json:"reaction_ms"` // 可选反应时
	Extra       JSONMap   `gorm:"type:text" json:"extra"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (TrialRecord) TableName() string {
	return "trial_records"
}

// TaskUsage 非实验模式的全局任务分配计数
// 原设计用 JSON 边账本记录，这里并入事务存储：
// 计数与 ad-hoc 会话的插入在同一事务内更新，消除两份数据源。
type TaskUsage struct {
	TaskType  string    `gorm:"primaryKey;size:50" json:"task_type"`
	UseCount  int64     `gorm:"not null;default:0" json:"use_count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (TaskUsage) TableName() string {
	return "task_usages"
}
