package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/testutil"
)

func sampleExperiment(code string) *schema.Experiment {
	return &schema.Experiment{
		Code:        code,
		Name:        "风险决策基线研究",
		NumSessions: 2,
		Active:      true,
		SessionTemplates: []schema.SessionTemplate{
			{
				Ordinal:   1,
				TaskCount: 2,
				TaskTemplates: []schema.TaskTemplate{
					{TaskType: "bart", Position: 1, Params: schema.JSONMap{"max_pumps": 20}},
					{TaskType: "ice_fishing", Position: 2},
				},
			},
			{
				Ordinal:   2,
				TaskCount: 2,
				TaskTemplates: []schema.TaskTemplate{
					{TaskType: "mountain_mining", Position: 1},
					{TaskType: "spinning_bottle", Position: 2},
				},
			},
		},
	}
}

func TestExperimentRepositoryCreateAndGet(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewExperimentRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleExperiment("EXP001")); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.GetByCode(ctx, "EXP001")
	if err != nil {
		t.Fatalf("GetByCode error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByCode returned nil")
	}
	if len(got.SessionTemplates) != 2 {
		t.Fatalf("session templates=%d, want 2", len(got.SessionTemplates))
	}
	if got.SessionTemplates[0].Ordinal != 1 || got.SessionTemplates[1].Ordinal != 2 {
		t.Fatalf("templates not ordered by ordinal: %+v", got.SessionTemplates)
	}
	if len(got.SessionTemplates[0].TaskTemplates) != 2 {
		t.Fatalf("task templates=%d, want 2", len(got.SessionTemplates[0].TaskTemplates))
	}
	if got.SessionTemplates[0].TaskTemplates[0].TaskType != "bart" {
		t.Fatalf("first task=%s, want bart", got.SessionTemplates[0].TaskTemplates[0].TaskType)
	}
}

func TestExperimentRepositoryDuplicateCode(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewExperimentRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleExperiment("EXP001")); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	err := repo.Create(ctx, sampleExperiment("EXP001"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err=%v, want ErrDuplicate", err)
	}
}

func TestExperimentRepositoryGetByCodeNotFound(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewExperimentRepository(db)

	got, err := repo.GetByCode(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("GetByCode error: %v", err)
	}
	if got != nil {
		t.Fatalf("got=%+v, want nil", got)
	}
}

func TestExperimentRepositoryDeleteCascade(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewExperimentRepository(db)
	ctx := context.Background()

	exp := sampleExperiment("EXP001")
	if err := repo.Create(ctx, exp); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// 挂上参与者、报名、会话和试次，验证整条链都被清掉
	p := &schema.Participant{Code: "P001", ExperimentID: &exp.ID}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create participant: %v", err)
	}
	enroll := &schema.Enrollment{ParticipantID: p.ID, ExperimentID: exp.ID, EnrolledAt: 1}
	if err := db.Create(enroll).Error; err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	sess := &schema.Session{
		ParticipantID: p.ID,
		Ordinal:       1,
		ExperimentID:  &exp.ID,
		TaskTypes:     schema.JSONArray{"bart"},
		InstanceKeys:  schema.JSONArray{"bart"},
		Status:        schema.SessionStatusActive,
	}
	if err := db.Create(sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	trial := &schema.TrialRecord{SessionID: sess.ID, TaskType: "bart", TrialNumber: 1, Outcome: "success"}
	if err := db.Create(trial).Error; err != nil {
		t.Fatalf("create trial: %v", err)
	}

	if err := repo.DeleteCascade(ctx, exp.ID); err != nil {
		t.Fatalf("DeleteCascade error: %v", err)
	}

	for table, model := range map[string]any{
		"sessions":          &schema.Session{},
		"enrollments":       &schema.Enrollment{},
		"session_templates": &schema.SessionTemplate{},
		"trial_records":     &schema.TrialRecord{},
	} {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s 残留 %d 行", table, n)
		}
	}

	// 参与者保留，但当前实验回引被清空
	var got schema.Participant
	if err := db.First(&got, p.ID).Error; err != nil {
		t.Fatalf("participant should survive: %v", err)
	}
	if got.ExperimentID != nil {
		t.Fatalf("experiment back-ref=%v, want nil", *got.ExperimentID)
	}
}
