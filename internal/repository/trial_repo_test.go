package repository

import (
	"context"
	"testing"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/testutil"
)

func appendTrial(t *testing.T, repo *TrialRepository, sessionID int64, taskType string, n, points int) {
	t.Helper()
	err := repo.Append(context.Background(), &schema.TrialRecord{
		SessionID:   sessionID,
		TaskType:    taskType,
		TrialNumber: n,
		RiskLevel:   0.5,
		Points:      points,
		Outcome:     "success",
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
}

func TestTrialRepositoryNextTrialNumber(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewTrialRepository(db)
	ctx := context.Background()

	n, err := repo.NextTrialNumber(ctx, 1, "bart")
	if err != nil {
		t.Fatalf("NextTrialNumber error: %v", err)
	}
	if n != 1 {
		t.Fatalf("n=%d, want 1", n)
	}

	appendTrial(t, repo, 1, "bart", 1, 10)
	appendTrial(t, repo, 1, "bart", 2, 0)
	// 其他任务和其他会话不影响编号
	appendTrial(t, repo, 1, "ice_fishing", 1, 5)
	appendTrial(t, repo, 2, "bart", 7, 5)

	n, err = repo.NextTrialNumber(ctx, 1, "bart")
	if err != nil {
		t.Fatalf("NextTrialNumber error: %v", err)
	}
	if n != 3 {
		t.Fatalf("n=%d, want 3", n)
	}
}

func TestTrialRepositoryCountsAndSum(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewTrialRepository(db)
	ctx := context.Background()

	appendTrial(t, repo, 1, "bart", 1, 10)
	appendTrial(t, repo, 1, "bart", 2, 20)
	appendTrial(t, repo, 1, "ice_fishing", 1, 5)
	appendTrial(t, repo, 2, "bart", 1, 99)

	counts, err := repo.CountsBySession(ctx, 1)
	if err != nil {
		t.Fatalf("CountsBySession error: %v", err)
	}
	if counts["bart"] != 2 || counts["ice_fishing"] != 1 {
		t.Fatalf("counts=%v, want bart=2 ice_fishing=1", counts)
	}

	sum, err := repo.SumPointsBySession(ctx, 1)
	if err != nil {
		t.Fatalf("SumPointsBySession error: %v", err)
	}
	if sum != 35 {
		t.Fatalf("sum=%d, want 35", sum)
	}

	ts, err := repo.ListBySession(ctx, 1)
	if err != nil {
		t.Fatalf("ListBySession error: %v", err)
	}
	if len(ts) != 3 {
		t.Fatalf("trials=%d, want 3", len(ts))
	}
}
