package schema

import "time"

// Participant 参与者
// 数据量级：百级
type Participant struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string    `gorm:"size:50;uniqueIndex;not null" json:"code"` // 人类可读的全局唯一编号，如 P001
	Age          int       `gorm:"default:0" json:"age"`
	Gender       string    `gorm:"size:20" json:"gender"`
	Notes        string    `gorm:"type:text" json:"notes"`
	ExperimentID *int64    `gorm:"index" json:"experiment_id"` // 当前所属实验（可空；删除实验时置空）
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Participant) TableName() string {
	return "participants"
}

// Enrollment 参与者-实验报名记录
// 同一 (participant, experiment) 至多一条。
type Enrollment struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID  int64     `gorm:"not null;uniqueIndex:idx_enroll_pair" json:"participant_id"`
	ExperimentID   int64     `gorm:"not null;uniqueIndex:idx_enroll_pair;index" json:"experiment_id"`
	EnrolledAt     int64     `gorm:"not null" json:"enrolled_at"`        // Unix 毫秒
	CurrentSession int       `gorm:"default:0" json:"current_session"`   // 已创建到第几个会话
	Completed      bool      `gorm:"default:false" json:"completed"`     // 单向翻转，置真后不再回退
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Enrollment) TableName() string {
	return "enrollments"
}
