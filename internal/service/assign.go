package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/task"
)

// Assigner 任务分配引擎
// 三种分配路径：固定模板顺序、实验内随机抽取（跨会话不放回）、
// 非实验模式的全局均衡抽取。所有随机序列都来自请求作用域的
// 生成器，不触碰任何全局随机状态。
type Assigner struct {
	sessionRepo SessionRepository
	usageRepo   TaskUsageRepository
	limits      Limits

	// adhocSeed 供 ad-hoc 打散使用，测试可注入固定种子
	adhocSeed func() int64
}

// NewAssigner 创建分配引擎
func NewAssigner(sessionRepo SessionRepository, usageRepo TaskUsageRepository, limits Limits) *Assigner {
	return &Assigner{
		sessionRepo: sessionRepo,
		usageRepo:   usageRepo,
		limits:      limits,
		adhocSeed:   func() int64 { return time.Now().UnixNano() },
	}
}

// ForExperimentSession 解析参与者在实验第 ordinal 个会话应呈现的槽位列表
//
// 固定模式：按模板声明顺序返回，完全确定。
// 随机模式：候选池 = 实验启用的全部槽位 − 该参与者在其他会话已用过
// 的槽位（跨会话不放回：同一参与者在一个实验内绝不会两次见到同一
// 任务类型/实例）。池子小于该会话所需任务数时返回配置错误，绝不
// 静默重复。抽取顺序即呈现顺序。
func (a *Assigner) ForExperimentSession(ctx context.Context, exp *schema.Experiment, participant *schema.Participant, ordinal int) ([]task.Slot, error) {
	tpl := findSessionTemplate(exp, ordinal)
	if tpl == nil {
		return nil, fmt.Errorf("实验 %s 缺少会话 %d 的模板: %w", exp.Code, ordinal, ErrNotFound)
	}

	if !exp.RandomizeOrder {
		return templateSlots(tpl)
	}

	// 候选池：整个实验启用的槽位（按键去重）
	pool := make([]task.Slot, 0)
	poolKeys := make(map[string]bool)
	for i := range exp.SessionTemplates {
		slots, err := templateSlots(&exp.SessionTemplates[i])
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			if !poolKeys[slot.Key()] {
				poolKeys[slot.Key()] = true
				pool = append(pool, slot)
			}
		}
	}

	// 排除该参与者在本实验其他会话已经用过的槽位
	used, err := a.usedSlotKeys(ctx, participant.ID, exp.ID)
	if err != nil {
		return nil, err
	}
	remaining := pool[:0:0]
	for _, slot := range pool {
		if !used[slot.Key()] {
			remaining = append(remaining, slot)
		}
	}

	if len(remaining) < tpl.TaskCount {
		return nil, fmt.Errorf("实验 %s 会话 %d 需要 %d 个任务，候选池仅剩 %d 个: %w",
			exp.Code, ordinal, tpl.TaskCount, len(remaining), ErrInsufficientDistinctTasks)
	}

	// 请求作用域的确定性生成器：同一 (实验, 参与者, 会话) 可复现，
	// 并发调用之间互不干扰
	rng := rand.New(rand.NewSource(drawSeed(exp.ID, participant.Code, ordinal)))
	rng.Shuffle(len(remaining), func(i, j int) {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	})

	return remaining[:tpl.TaskCount], nil
}

// ForAdhocSession 非实验模式：为参与者的下一个会话抽取任务
//
// available = 全部任务类型 − 该参与者历史会话已分配过的类型。
// 不足配置的每会话任务数时报错（该参与者已耗尽不同任务）。
// 选择策略是“最少使用优先”的贪心：按全局使用计数升序分桶，
// 桶内随机打散后从计数最低的桶开始取，直到配额填满——以此在
// 无全局锁的情况下近似整个参与者池的均匀暴露。桶内随机保证
// 相同计数下的并列不会总是选中同一个任务。
func (a *Assigner) ForAdhocSession(ctx context.Context, participant *schema.Participant) ([]task.Slot, error) {
	sessions, err := a.sessionRepo.ListByParticipant(ctx, participant.ID)
	if err != nil {
		return nil, err
	}
	assigned := make(map[string]bool)
	for _, s := range sessions {
		for _, t := range s.TaskTypes {
			assigned[t] = true
		}
	}

	available := make([]task.Type, 0)
	for _, t := range task.All() {
		if !assigned[string(t)] {
			available = append(available, t)
		}
	}

	quota := a.limits.AdhocTasksPerSession
	if len(available) < quota {
		return nil, fmt.Errorf("参与者 %s 剩余 %d 个未做过的任务，不足每会话 %d 个: %w",
			participant.Code, len(available), quota, ErrInsufficientDistinctTasks)
	}

	counts, err := a.usageRepo.Counts(ctx)
	if err != nil {
		return nil, err
	}

	// 按使用计数分桶，计数升序
	buckets := make(map[int64][]task.Type)
	for _, t := range available {
		c := counts[string(t)]
		buckets[c] = append(buckets[c], t)
	}
	levels := make([]int64, 0, len(buckets))
	for c := range buckets {
		levels = append(levels, c)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	rng := rand.New(rand.NewSource(a.adhocSeed()))
	picked := make([]task.Slot, 0, quota)
	for _, level := range levels {
		bucket := buckets[level]
		rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
		for _, t := range bucket {
			if len(picked) == quota {
				break
			}
			picked = append(picked, task.Slot{Type: t})
		}
		if len(picked) == quota {
			break
		}
	}

	return picked, nil
}

// usedSlotKeys 收集参与者在某实验全部会话中已分配过的槽位键
func (a *Assigner) usedSlotKeys(ctx context.Context, participantID, experimentID int64) (map[string]bool, error) {
	sessions, err := a.sessionRepo.ListByParticipantExperiment(ctx, participantID, experimentID)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool)
	for _, s := range sessions {
		for _, k := range s.InstanceKeys {
			used[k] = true
		}
	}
	return used, nil
}

// templateSlots 将会话模板按声明顺序解析为槽位列表
func templateSlots(tpl *schema.SessionTemplate) ([]task.Slot, error) {
	slots := make([]task.Slot, 0, len(tpl.TaskTemplates))
	for _, tt := range tpl.TaskTemplates {
		t := task.Type(tt.TaskType)
		if !task.Valid(t) {
			return nil, fmt.Errorf("模板引用了 %q: %w", tt.TaskType, ErrUnknownTaskType)
		}
		slots = append(slots, task.Slot{
			Type:        t,
			InstanceKey: tt.InstanceKey,
			Params:      map[string]any(tt.Params),
		})
	}
	return slots, nil
}

// findSessionTemplate 按序号查找会话模板
func findSessionTemplate(exp *schema.Experiment, ordinal int) *schema.SessionTemplate {
	for i := range exp.SessionTemplates {
		if exp.SessionTemplates[i].Ordinal == ordinal {
			return &exp.SessionTemplates[i]
		}
	}
	return nil
}

// drawSeed 由实验/参与者/会话标识构造抽取种子
func drawSeed(experimentID int64, participantCode string, ordinal int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", experimentID, participantCode, ordinal)
	return int64(h.Sum64())
}
