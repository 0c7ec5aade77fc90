package schema

import "time"

// Experiment 实验模板
// 描述一个实验包含几个会话、每个会话的任务配置。
// 数据量级：十级
type Experiment struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string    `gorm:"size:32;uniqueIndex;not null" json:"code"` // 全局唯一的短代码（参与者凭此报名）
	Name           string    `gorm:"size:255;not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description"`
	NumSessions    int       `gorm:"not null;default:1" json:"num_sessions"`  // ≥1
	RandomizeOrder bool      `gorm:"default:false" json:"randomize_order"`    // 会话内任务顺序是否随机
	Active         bool      `gorm:"default:true;index" json:"active"`        // 停用后不再接受报名
	StartAt        int64     `gorm:"default:0" json:"start_at"`               // 报名窗口开始（Unix 毫秒，0 表示不限）
	EndAt          int64     `gorm:"default:0" json:"end_at"`                 // 报名窗口结束（Unix 毫秒，0 表示不限）
	SessionGapDays int       `gorm:"default:0" json:"session_gap_days"`       // 两次会话之间的最小间隔天数
	TrialsPerTask  int       `gorm:"default:0" json:"trials_per_task"`        // 每个任务的目标试次数（0 表示用全局默认值）
	CreatedBy      string    `gorm:"size:100" json:"created_by"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`

	SessionTemplates []SessionTemplate `gorm:"constraint:OnDelete:CASCADE" json:"session_templates,omitempty"`
}

// TableName 指定表名
func (Experiment) TableName() string {
	return "experiments"
}

// SessionTemplate 实验内单个会话的模板
// 会话序号在实验内唯一。
type SessionTemplate struct {
	ID           int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ExperimentID int64 `gorm:"index;not null;uniqueIndex:idx_session_tpl_ordinal" json:"experiment_id"`
	Ordinal      int   `gorm:"not null;uniqueIndex:idx_session_tpl_ordinal" json:"ordinal"` // 1..NumSessions
	TaskCount    int   `gorm:"not null" json:"task_count"`                                  // 该会话应呈现的任务数

	TaskTemplates []TaskTemplate `gorm:"constraint:OnDelete:CASCADE" json:"task_templates,omitempty"`
}

// TableName 指定表名
func (SessionTemplate) TableName() string {
	return "session_templates"
}

// TaskTemplate 会话模板内的单个任务槽位
// InstanceKey 为空时表示直接引用任务类型；非空时表示同一类型的
// 不同参数实例（如 bart 的 blue/red 两套参数）。
type TaskTemplate struct {
	ID                int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionTemplateID int64   `gorm:"index;not null" json:"session_template_id"`
	TaskType          string  `gorm:"size:50;not null" json:"task_type"`
	InstanceKey       string  `gorm:"size:50" json:"instance_key"`
	Position          int     `gorm:"not null" json:"position"` // 固定顺序模式下的呈现位置
	Params            JSONMap `gorm:"type:text" json:"params"`  // 参数覆盖（max_pumps、颜色、速度范围等）
}

// TableName 指定表名
func (TaskTemplate) TableName() string {
	return "task_templates"
}
