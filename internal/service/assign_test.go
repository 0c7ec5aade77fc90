package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/task"
)

func twoSessionExperiment(randomize bool) *schema.Experiment {
	return &schema.Experiment{
		ID:             1,
		Code:           "E1",
		Name:           "基线研究",
		NumSessions:    2,
		RandomizeOrder: randomize,
		Active:         true,
		SessionTemplates: []schema.SessionTemplate{
			{ID: 11, ExperimentID: 1, Ordinal: 1, TaskCount: 2, TaskTemplates: []schema.TaskTemplate{
				{TaskType: "bart", Position: 1, Params: schema.JSONMap{"max_pumps": 20}},
				{TaskType: "ice_fishing", Position: 2},
			}},
			{ID: 12, ExperimentID: 1, Ordinal: 2, TaskCount: 2, TaskTemplates: []schema.TaskTemplate{
				{TaskType: "mountain_mining", Position: 1},
				{TaskType: "spinning_bottle", Position: 2},
			}},
		},
	}
}

func newTestAssigner() (*Assigner, *fakeSessionRepo) {
	sessions := newFakeSessionRepo()
	a := NewAssigner(sessions, &fakeUsageRepo{sessions: sessions}, DefaultLimits())
	a.adhocSeed = func() int64 { return 42 }
	return a, sessions
}

func TestAssignerFixedOrderFollowsTemplate(t *testing.T) {
	a, _ := newTestAssigner()
	p := &schema.Participant{ID: 1, Code: "P001"}

	slots, err := a.ForExperimentSession(context.Background(), twoSessionExperiment(false), p, 1)
	if err != nil {
		t.Fatalf("ForExperimentSession error: %v", err)
	}
	if len(slots) != 2 || slots[0].Type != task.TypeBart || slots[1].Type != task.TypeIceFishing {
		t.Fatalf("slots=%v, want bart then ice_fishing", slots)
	}
	if slots[0].Params["max_pumps"] != 20 {
		t.Fatalf("params=%v, want max_pumps 20", slots[0].Params)
	}
}

func TestAssignerRandomSecondSessionGetsComplement(t *testing.T) {
	a, sessions := newTestAssigner()
	exp := twoSessionExperiment(true)
	p := &schema.Participant{ID: 1, Code: "P001"}
	ctx := context.Background()

	first, err := a.ForExperimentSession(ctx, exp, p, 1)
	if err != nil {
		t.Fatalf("session 1 error: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("session 1 slots=%d, want 2", len(first))
	}

	// 把第一次抽取落库，模拟会话创建
	if err := sessions.CreateNext(ctx, &schema.Session{
		ParticipantID: p.ID,
		ExperimentID:  &exp.ID,
		TaskTypes:     slotTypes(first),
		InstanceKeys:  slotKeys(first),
		Status:        schema.SessionStatusActive,
	}, nil); err != nil {
		t.Fatalf("CreateNext error: %v", err)
	}

	second, err := a.ForExperimentSession(ctx, exp, p, 2)
	if err != nil {
		t.Fatalf("session 2 error: %v", err)
	}

	// 两个会话合起来恰好覆盖 4 个任务，且互不重叠
	seen := make(map[string]bool)
	for _, s := range append(append([]task.Slot{}, first...), second...) {
		if seen[s.Key()] {
			t.Fatalf("slot %q assigned twice", s.Key())
		}
		seen[s.Key()] = true
	}
	if len(seen) != 4 {
		t.Fatalf("distinct slots=%d, want 4", len(seen))
	}
}

func TestAssignerRandomDrawIsReproducible(t *testing.T) {
	a, _ := newTestAssigner()
	exp := twoSessionExperiment(true)
	p := &schema.Participant{ID: 1, Code: "P001"}
	ctx := context.Background()

	first, err := a.ForExperimentSession(ctx, exp, p, 1)
	if err != nil {
		t.Fatalf("ForExperimentSession error: %v", err)
	}
	again, err := a.ForExperimentSession(ctx, exp, p, 1)
	if err != nil {
		t.Fatalf("ForExperimentSession error: %v", err)
	}
	if !reflect.DeepEqual(slotKeys(first), slotKeys(again)) {
		t.Fatalf("draws differ: %v vs %v", slotKeys(first), slotKeys(again))
	}

	// 不同参与者可以得到不同顺序（种子含参与者编号）
	other := &schema.Participant{ID: 2, Code: "P002"}
	if _, err := a.ForExperimentSession(ctx, exp, other, 1); err != nil {
		t.Fatalf("ForExperimentSession error: %v", err)
	}
}

func TestAssignerRandomPoolExhaustion(t *testing.T) {
	a, sessions := newTestAssigner()
	exp := twoSessionExperiment(true)
	p := &schema.Participant{ID: 1, Code: "P001"}
	ctx := context.Background()

	// 参与者已经用掉 3 个槽位，剩 1 个不够会话 2 的 2 个任务
	if err := sessions.CreateNext(ctx, &schema.Session{
		ParticipantID: p.ID,
		ExperimentID:  &exp.ID,
		TaskTypes:     schema.JSONArray{"bart", "ice_fishing", "mountain_mining"},
		InstanceKeys:  schema.JSONArray{"bart", "ice_fishing", "mountain_mining"},
	}, nil); err != nil {
		t.Fatalf("CreateNext error: %v", err)
	}

	_, err := a.ForExperimentSession(ctx, exp, p, 2)
	if !errors.Is(err, ErrInsufficientDistinctTasks) {
		t.Fatalf("err=%v, want ErrInsufficientDistinctTasks", err)
	}
}

func TestAssignerAdhocPrefersLeastUsedTasks(t *testing.T) {
	a, sessions := newTestAssigner()
	sessions.usage["bart"] = 5
	sessions.usage["spinning_bottle"] = 5

	slots, err := a.ForAdhocSession(context.Background(), &schema.Participant{ID: 1, Code: "P001"})
	if err != nil {
		t.Fatalf("ForAdhocSession error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("slots=%d, want 2", len(slots))
	}
	got := map[task.Type]bool{slots[0].Type: true, slots[1].Type: true}
	if !got[task.TypeIceFishing] || !got[task.TypeMountainMining] {
		t.Fatalf("slots=%v, want the two least-used tasks", slots)
	}
}

func TestAssignerAdhocBalancesUsageAcrossParticipants(t *testing.T) {
	a, sessions := newTestAssigner()
	ctx := context.Background()

	// 10 个新参与者各开一个会话：20 次分配摊在 4 个任务类型上，
	// 最少使用优先的贪心应当让任意两个类型的计数最多差 1
	for i := 0; i < 10; i++ {
		p := &schema.Participant{ID: int64(100 + i), Code: fmt.Sprintf("P%03d", i+1)}
		slots, err := a.ForAdhocSession(ctx, p)
		if err != nil {
			t.Fatalf("ForAdhocSession for %s error: %v", p.Code, err)
		}
		types := slotTypes(slots)
		if err := sessions.CreateNext(ctx, &schema.Session{
			ParticipantID: p.ID,
			TaskTypes:     types,
			InstanceKeys:  slotKeys(slots),
		}, []string(types)); err != nil {
			t.Fatalf("CreateNext for %s error: %v", p.Code, err)
		}
	}

	counts := make([]int64, 0, len(task.All()))
	for _, tt := range task.All() {
		counts = append(counts, sessions.usage[string(tt)])
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	if spread := counts[len(counts)-1] - counts[0]; spread > 1 {
		t.Fatalf("usage=%v, want any two counts to differ by at most 1", sessions.usage)
	}
}

func TestAssignerAdhocNeverRepeatsForParticipant(t *testing.T) {
	a, sessions := newTestAssigner()
	p := &schema.Participant{ID: 1, Code: "P001"}
	ctx := context.Background()

	first, err := a.ForAdhocSession(ctx, p)
	if err != nil {
		t.Fatalf("ForAdhocSession error: %v", err)
	}
	if err := sessions.CreateNext(ctx, &schema.Session{
		ParticipantID: p.ID,
		TaskTypes:     slotTypes(first),
		InstanceKeys:  slotKeys(first),
	}, []string(slotTypes(first))); err != nil {
		t.Fatalf("CreateNext error: %v", err)
	}

	second, err := a.ForAdhocSession(ctx, p)
	if err != nil {
		t.Fatalf("ForAdhocSession error: %v", err)
	}
	seen := make(map[task.Type]bool)
	for _, s := range append(append([]task.Slot{}, first...), second...) {
		if seen[s.Type] {
			t.Fatalf("task %s assigned twice", s.Type)
		}
		seen[s.Type] = true
	}

	// 4 个任务类型已经耗尽，第三个会话无从分配
	if err := sessions.CreateNext(ctx, &schema.Session{
		ParticipantID: p.ID,
		TaskTypes:     slotTypes(second),
		InstanceKeys:  slotKeys(second),
	}, []string(slotTypes(second))); err != nil {
		t.Fatalf("CreateNext error: %v", err)
	}
	_, err = a.ForAdhocSession(ctx, p)
	if !errors.Is(err, ErrInsufficientDistinctTasks) {
		t.Fatalf("err=%v, want ErrInsufficientDistinctTasks", err)
	}
}

func TestAssignerMissingTemplate(t *testing.T) {
	a, _ := newTestAssigner()
	_, err := a.ForExperimentSession(context.Background(), twoSessionExperiment(false), &schema.Participant{ID: 1, Code: "P001"}, 3)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
