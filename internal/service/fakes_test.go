package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/PsychLayne/RiskTakingSuite/internal/repository"
	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
)

// ===== In-memory fakes =====

type fakeExperimentRepo struct {
	nextID int64
	byID   map[int64]*schema.Experiment
}

func newFakeExperimentRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{byID: make(map[int64]*schema.Experiment)}
}

func (f *fakeExperimentRepo) Create(ctx context.Context, exp *schema.Experiment) error {
	for _, e := range f.byID {
		if e.Code == exp.Code {
			return fmt.Errorf("实验代码 %s 已存在: %w", exp.Code, repository.ErrDuplicate)
		}
	}
	f.nextID++
	exp.ID = f.nextID
	for i := range exp.SessionTemplates {
		f.nextID++
		exp.SessionTemplates[i].ID = f.nextID
		exp.SessionTemplates[i].ExperimentID = exp.ID
	}
	f.byID[exp.ID] = exp
	return nil
}

func (f *fakeExperimentRepo) GetByCode(ctx context.Context, code string) (*schema.Experiment, error) {
	for _, e := range f.byID {
		if e.Code == code {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeExperimentRepo) GetByID(ctx context.Context, id int64) (*schema.Experiment, error) {
	return f.byID[id], nil
}

func (f *fakeExperimentRepo) List(ctx context.Context) ([]schema.Experiment, error) {
	out := make([]schema.Experiment, 0, len(f.byID))
	for _, e := range f.byID {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeExperimentRepo) SetActive(ctx context.Context, id int64, active bool) error {
	if e := f.byID[id]; e != nil {
		e.Active = active
	}
	return nil
}

func (f *fakeExperimentRepo) DeleteCascade(ctx context.Context, id int64) error {
	delete(f.byID, id)
	return nil
}

type fakeParticipantRepo struct {
	nextID int64
	byCode map[string]*schema.Participant
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{byCode: make(map[string]*schema.Participant)}
}

func (f *fakeParticipantRepo) Create(ctx context.Context, p *schema.Participant) error {
	if _, ok := f.byCode[p.Code]; ok {
		return fmt.Errorf("参与者 %s 已存在: %w", p.Code, repository.ErrDuplicate)
	}
	f.nextID++
	p.ID = f.nextID
	f.byCode[p.Code] = p
	return nil
}

func (f *fakeParticipantRepo) GetByCode(ctx context.Context, code string) (*schema.Participant, error) {
	return f.byCode[code], nil
}

func (f *fakeParticipantRepo) GetByID(ctx context.Context, id int64) (*schema.Participant, error) {
	for _, p := range f.byCode {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeParticipantRepo) List(ctx context.Context) ([]schema.Participant, error) {
	out := make([]schema.Participant, 0, len(f.byCode))
	for _, p := range f.byCode {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeParticipantRepo) SetExperiment(ctx context.Context, id int64, expID *int64) error {
	for _, p := range f.byCode {
		if p.ID == id {
			p.ExperimentID = expID
		}
	}
	return nil
}

type fakeEnrollmentRepo struct {
	nextID  int64
	records []*schema.Enrollment
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, e *schema.Enrollment) error {
	for _, r := range f.records {
		if r.ParticipantID == e.ParticipantID && r.ExperimentID == e.ExperimentID {
			return fmt.Errorf("重复报名: %w", repository.ErrDuplicate)
		}
		if r.ParticipantID == e.ParticipantID && !r.Completed {
			return fmt.Errorf("已有进行中的报名: %w", repository.ErrDuplicate)
		}
	}
	f.nextID++
	e.ID = f.nextID
	f.records = append(f.records, e)
	return nil
}

func (f *fakeEnrollmentRepo) GetByPair(ctx context.Context, participantID, experimentID int64) (*schema.Enrollment, error) {
	for _, r := range f.records {
		if r.ParticipantID == participantID && r.ExperimentID == experimentID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeEnrollmentRepo) GetActiveByParticipant(ctx context.Context, participantID int64) (*schema.Enrollment, error) {
	for _, r := range f.records {
		if r.ParticipantID == participantID && !r.Completed {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeEnrollmentRepo) SetCurrentSession(ctx context.Context, id int64, n int) error {
	for _, r := range f.records {
		if r.ID == id {
			r.CurrentSession = n
		}
	}
	return nil
}

func (f *fakeEnrollmentRepo) MarkCompleted(ctx context.Context, id int64) error {
	for _, r := range f.records {
		if r.ID == id {
			r.Completed = true
		}
	}
	return nil
}

func (f *fakeEnrollmentRepo) Delete(ctx context.Context, id int64) error {
	for i, r := range f.records {
		if r.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeEnrollmentRepo) CountByExperiment(ctx context.Context, experimentID int64) (total, completed int64, err error) {
	for _, r := range f.records {
		if r.ExperimentID != experimentID {
			continue
		}
		total++
		if r.Completed {
			completed++
		}
	}
	return total, completed, nil
}

type fakeSessionRepo struct {
	nextID   int64
	sessions []*schema.Session
	usage    map[string]int64

	createNextErr error // 注入 CreateNext 故障
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{usage: make(map[string]int64)}
}

func (f *fakeSessionRepo) CreateNext(ctx context.Context, session *schema.Session, usageIncrements []string) error {
	if f.createNextErr != nil {
		return f.createNextErr
	}
	maxOrdinal := 0
	for _, s := range f.sessions {
		if s.ParticipantID == session.ParticipantID && s.Ordinal > maxOrdinal {
			maxOrdinal = s.Ordinal
		}
	}
	session.Ordinal = maxOrdinal + 1
	f.nextID++
	session.ID = f.nextID
	f.sessions = append(f.sessions, session)
	for _, t := range usageIncrements {
		f.usage[t]++
	}
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id int64) (*schema.Session, error) {
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionRepo) GetLast(ctx context.Context, participantID int64) (*schema.Session, error) {
	var last *schema.Session
	for _, s := range f.sessions {
		if s.ParticipantID == participantID && (last == nil || s.Ordinal > last.Ordinal) {
			last = s
		}
	}
	return last, nil
}

func (f *fakeSessionRepo) GetOpen(ctx context.Context, participantID int64) (*schema.Session, error) {
	for _, s := range f.sessions {
		if s.ParticipantID == participantID && s.Status == schema.SessionStatusActive {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionRepo) ListByParticipant(ctx context.Context, participantID int64) ([]schema.Session, error) {
	var out []schema.Session
	for _, s := range f.sessions {
		if s.ParticipantID == participantID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) ListByParticipantExperiment(ctx context.Context, participantID, experimentID int64) ([]schema.Session, error) {
	var out []schema.Session
	for _, s := range f.sessions {
		if s.ParticipantID == participantID && s.ExperimentID != nil && *s.ExperimentID == experimentID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) MarkCompleted(ctx context.Context, id int64, endTime int64) error {
	for _, s := range f.sessions {
		if s.ID == id {
			if s.Status != schema.SessionStatusActive {
				return fmt.Errorf("会话 %d 不处于进行中", id)
			}
			s.Status = schema.SessionStatusCompleted
			s.EndTime = endTime
			return nil
		}
	}
	return fmt.Errorf("会话 %d 不存在", id)
}

func (f *fakeSessionRepo) CountCompletedByParticipantExperiment(ctx context.Context, participantID, experimentID int64) (int64, error) {
	var n int64
	for _, s := range f.sessions {
		if s.ParticipantID == participantID && s.ExperimentID != nil && *s.ExperimentID == experimentID &&
			s.Status == schema.SessionStatusCompleted {
			n++
		}
	}
	return n, nil
}

type fakeTrialRepo struct {
	records []*schema.TrialRecord
}

func (f *fakeTrialRepo) Append(ctx context.Context, t *schema.TrialRecord) error {
	f.records = append(f.records, t)
	return nil
}

func (f *fakeTrialRepo) Get(ctx context.Context, sessionID int64, taskType string, trialNumber int) (*schema.TrialRecord, error) {
	for _, r := range f.records {
		if r.SessionID == sessionID && r.TaskType == taskType && r.TrialNumber == trialNumber {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeTrialRepo) NextTrialNumber(ctx context.Context, sessionID int64, taskType string) (int, error) {
	max := 0
	for _, r := range f.records {
		if r.SessionID == sessionID && r.TaskType == taskType && r.TrialNumber > max {
			max = r.TrialNumber
		}
	}
	return max + 1, nil
}

func (f *fakeTrialRepo) CountsBySession(ctx context.Context, sessionID int64) (map[string]int, error) {
	counts := make(map[string]int)
	for _, r := range f.records {
		if r.SessionID == sessionID {
			counts[r.TaskType]++
		}
	}
	return counts, nil
}

func (f *fakeTrialRepo) ListBySession(ctx context.Context, sessionID int64) ([]schema.TrialRecord, error) {
	var out []schema.TrialRecord
	for _, r := range f.records {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeTrialRepo) SumPointsBySession(ctx context.Context, sessionID int64) (int64, error) {
	var sum int64
	for _, r := range f.records {
		if r.SessionID == sessionID {
			sum += int64(r.Points)
		}
	}
	return sum, nil
}

type fakeUsageRepo struct {
	sessions *fakeSessionRepo
}

func (f *fakeUsageRepo) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(f.sessions.usage))
	for k, v := range f.sessions.usage {
		out[k] = v
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(eventType string, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakePublisher) has(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}
