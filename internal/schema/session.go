package schema

import "time"

// 会话状态机：pending → active → completed
// 引擎创建会话时直接进入 active（创建与开始在终端机上是同一步），
// pending 仅作为导入/导出的合法取值保留。
const (
	SessionStatusPending   = "pending"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Session 参与者的具体会话实例
// 会话序号在参与者内唯一；除显式级联删除外不会被删除。
// 数据量级：千级
type Session struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID     int64     `gorm:"not null;uniqueIndex:idx_session_ordinal" json:"participant_id"`
	Ordinal           int       `gorm:"not null;uniqueIndex:idx_session_ordinal" json:"ordinal"` // 参与者的第几次会话
	ExperimentID      *int64    `gorm:"index" json:"experiment_id"`                              // 非实验（ad-hoc）模式为空
	SessionTemplateID *int64    `json:"session_template_id"`                                     // 生成自哪个会话模板（可空）
	TaskTypes         JSONArray `gorm:"type:text" json:"task_types"`                             // 解析后的任务类型列表（呈现顺序）
	InstanceKeys      JSONArray `gorm:"type:text" json:"instance_keys"`                          // 实例去重键列表，与 TaskTypes 对齐
	StartTime         int64     `gorm:"index" json:"start_time"`                                 // Unix 毫秒
	EndTime           int64     `json:"end_time"`                                                // Unix 毫秒，完成时写入
	Status            string    `gorm:"size:20;index;default:active" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "sessions"
}

// Completed 会话是否已完成
func (s *Session) Completed() bool {
	return s.Status == SessionStatusCompleted
}
