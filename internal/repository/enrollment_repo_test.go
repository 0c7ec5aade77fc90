package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/testutil"
)

func TestEnrollmentRepositoryCreateAndGet(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	e := &schema.Enrollment{ParticipantID: 1, ExperimentID: 10, EnrolledAt: 1}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.GetByPair(ctx, 1, 10)
	if err != nil {
		t.Fatalf("GetByPair error: %v", err)
	}
	if got == nil || got.ID != e.ID {
		t.Fatalf("got=%+v, want enrollment %d", got, e.ID)
	}

	active, err := repo.GetActiveByParticipant(ctx, 1)
	if err != nil {
		t.Fatalf("GetActiveByParticipant error: %v", err)
	}
	if active == nil || active.ID != e.ID {
		t.Fatalf("active=%+v, want enrollment %d", active, e.ID)
	}
}

func TestEnrollmentRepositoryRejectsDuplicatePair(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &schema.Enrollment{ParticipantID: 1, ExperimentID: 10, EnrolledAt: 1}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	err := repo.Create(ctx, &schema.Enrollment{ParticipantID: 1, ExperimentID: 10, EnrolledAt: 2})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err=%v, want ErrDuplicate", err)
	}
}

func TestEnrollmentRepositoryRejectsSecondActiveEnrollment(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	first := &schema.Enrollment{ParticipantID: 1, ExperimentID: 10, EnrolledAt: 1}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// 换一个实验也不行：上一个报名还在进行中
	err := repo.Create(ctx, &schema.Enrollment{ParticipantID: 1, ExperimentID: 11, EnrolledAt: 2})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err=%v, want ErrDuplicate", err)
	}

	// 完成后可以报名新实验
	if err := repo.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}
	if err := repo.Create(ctx, &schema.Enrollment{ParticipantID: 1, ExperimentID: 11, EnrolledAt: 3}); err != nil {
		t.Fatalf("Create after completion error: %v", err)
	}
}

func TestEnrollmentRepositoryCountByExperiment(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	e1 := &schema.Enrollment{ParticipantID: 1, ExperimentID: 10, EnrolledAt: 1}
	e2 := &schema.Enrollment{ParticipantID: 2, ExperimentID: 10, EnrolledAt: 1}
	if err := repo.Create(ctx, e1); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := repo.Create(ctx, e2); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := repo.MarkCompleted(ctx, e1.ID); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}

	total, completed, err := repo.CountByExperiment(ctx, 10)
	if err != nil {
		t.Fatalf("CountByExperiment error: %v", err)
	}
	if total != 2 || completed != 1 {
		t.Fatalf("total=%d completed=%d, want 2/1", total, completed)
	}
}
