package service

import (
	"context"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
)

// 仓储的最小接口集合（ISP），服务层只依赖用得到的方法

type ExperimentRepository interface {
	Create(ctx context.Context, exp *schema.Experiment) error
	GetByCode(ctx context.Context, code string) (*schema.Experiment, error)
	GetByID(ctx context.Context, id int64) (*schema.Experiment, error)
	List(ctx context.Context) ([]schema.Experiment, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteCascade(ctx context.Context, id int64) error
}

type ParticipantRepository interface {
	Create(ctx context.Context, p *schema.Participant) error
	GetByCode(ctx context.Context, code string) (*schema.Participant, error)
	GetByID(ctx context.Context, id int64) (*schema.Participant, error)
	List(ctx context.Context) ([]schema.Participant, error)
	SetExperiment(ctx context.Context, id int64, expID *int64) error
}

type EnrollmentRepository interface {
	Create(ctx context.Context, e *schema.Enrollment) error
	GetByPair(ctx context.Context, participantID, experimentID int64) (*schema.Enrollment, error)
	GetActiveByParticipant(ctx context.Context, participantID int64) (*schema.Enrollment, error)
	SetCurrentSession(ctx context.Context, id int64, n int) error
	MarkCompleted(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	CountByExperiment(ctx context.Context, experimentID int64) (total, completed int64, err error)
}

type SessionRepository interface {
	CreateNext(ctx context.Context, session *schema.Session, usageIncrements []string) error
	GetByID(ctx context.Context, id int64) (*schema.Session, error)
	GetLast(ctx context.Context, participantID int64) (*schema.Session, error)
	GetOpen(ctx context.Context, participantID int64) (*schema.Session, error)
	ListByParticipant(ctx context.Context, participantID int64) ([]schema.Session, error)
	ListByParticipantExperiment(ctx context.Context, participantID, experimentID int64) ([]schema.Session, error)
	MarkCompleted(ctx context.Context, id int64, endTime int64) error
	CountCompletedByParticipantExperiment(ctx context.Context, participantID, experimentID int64) (int64, error)
}

type TrialRepository interface {
	Append(ctx context.Context, t *schema.TrialRecord) error
	Get(ctx context.Context, sessionID int64, taskType string, trialNumber int) (*schema.TrialRecord, error)
	NextTrialNumber(ctx context.Context, sessionID int64, taskType string) (int, error)
	CountsBySession(ctx context.Context, sessionID int64) (map[string]int, error)
	ListBySession(ctx context.Context, sessionID int64) ([]schema.TrialRecord, error)
	SumPointsBySession(ctx context.Context, sessionID int64) (int64, error)
}

type TaskUsageRepository interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

// EventPublisher 向 UI 层推送引擎事件（可为空实现）
type EventPublisher interface {
	Publish(eventType string, data map[string]any)
}
