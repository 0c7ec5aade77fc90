package bootstrap

import (
	"github.com/PsychLayne/RiskTakingSuite/internal/eventbus"
	"github.com/PsychLayne/RiskTakingSuite/internal/pkg/config"
	"github.com/PsychLayne/RiskTakingSuite/internal/repository"
	"github.com/PsychLayne/RiskTakingSuite/internal/service"
)

// Core 持有跨命令共享的核心依赖
type Core struct {
	Cfg *config.Config
	DB  *repository.Database
	Hub *eventbus.Hub

	Repos struct {
		Experiment  *repository.ExperimentRepository
		Participant *repository.ParticipantRepository
		Enrollment  *repository.EnrollmentRepository
		Session     *repository.SessionRepository
		Trial       *repository.TrialRepository
		TaskUsage   *repository.TaskUsageRepository
	}

	Services struct {
		Experiments *service.ExperimentService
		Templates   *service.TemplateService
		Enrollments *service.EnrollmentService
		Sessions    *service.SessionService
		Handoff     *service.HandoffService
		Stats       *service.StatsService
	}
}

// NewCore 构建核心依赖（不启动任何后台活动）
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.App.LogLevel)

	db, err := repository.NewDatabase(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, Hub: eventbus.NewHub()}

	// Repos
	c.Repos.Experiment = repository.NewExperimentRepository(db.DB)
	c.Repos.Participant = repository.NewParticipantRepository(db.DB)
	c.Repos.Enrollment = repository.NewEnrollmentRepository(db.DB)
	c.Repos.Session = repository.NewSessionRepository(db.DB)
	c.Repos.Trial = repository.NewTrialRepository(db.DB)
	c.Repos.TaskUsage = repository.NewTaskUsageRepository(db.DB)

	// Services
	limits := service.Limits{
		MaxSessions:          cfg.Limits.MaxSessions,
		MaxTasksPerSession:   cfg.Limits.MaxTasksPerSession,
		TrialsPerTask:        cfg.Limits.TrialsPerTask,
		AdhocTasksPerSession: cfg.Limits.AdhocTasksPerSession,
		SessionGapDays:       cfg.Limits.SessionGapDays,
	}
	validator := service.NewValidator(limits)
	assigner := service.NewAssigner(c.Repos.Session, c.Repos.TaskUsage, limits)

	c.Services.Experiments = service.NewExperimentService(c.Repos.Experiment, validator)
	c.Services.Templates = service.NewTemplateService(c.Services.Experiments)
	c.Services.Sessions = service.NewSessionService(
		c.Repos.Participant,
		c.Repos.Experiment,
		c.Repos.Enrollment,
		c.Repos.Session,
		c.Repos.Trial,
		assigner,
		limits,
		c.Hub,
	)
	c.Services.Enrollments = service.NewEnrollmentService(
		c.Repos.Participant,
		c.Repos.Experiment,
		c.Repos.Enrollment,
		c.Repos.Session,
		c.Services.Sessions,
		c.Hub,
	)
	c.Services.Handoff = service.NewHandoffService(
		c.Repos.Session,
		c.Repos.Experiment,
		c.Repos.Participant,
		limits,
	)
	c.Services.Stats = service.NewStatsService(
		c.Repos.Experiment,
		c.Repos.Enrollment,
		c.Repos.Session,
		c.Repos.Trial,
		c.Repos.TaskUsage,
		c.Repos.Participant,
	)

	return c, nil
}

// Close 释放核心依赖
func (c *Core) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
