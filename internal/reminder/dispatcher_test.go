package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	name string
	err  error
	got  []Notification
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestDispatcher_TickFiresDueTriggersOnce(t *testing.T) {
	loc := time.UTC
	s := NewScheduler(zap.NewNop())
	require.True(t, s.Schedule(newPerson("e1", "20:00")))
	require.True(t, s.Schedule(newPerson("e2", "21:30")))

	rec := &recordingNotifier{name: "rec"}
	d := NewDispatcher(s, []Notifier{rec}, nil, time.Minute, loc, zap.NewNop())
	ctx := context.Background()

	// 第一次 tick 只记录起点
	assert.Equal(t, 0, d.Tick(ctx, time.Date(2026, 1, 16, 19, 59, 0, 0, loc)))
	assert.Equal(t, 1, d.Tick(ctx, time.Date(2026, 1, 16, 20, 0, 0, 0, loc)))
	assert.Equal(t, 0, d.Tick(ctx, time.Date(2026, 1, 16, 20, 1, 0, 0, loc)))
	assert.Equal(t, 1, d.Tick(ctx, time.Date(2026, 1, 16, 21, 31, 0, 0, loc)))

	// 第二天再次触发（签到不会取消提醒）
	assert.Equal(t, 1, d.Tick(ctx, time.Date(2026, 1, 17, 20, 0, 30, 0, loc)))

	require.Equal(t, 3, rec.count())
	assert.Equal(t, KindReminder, rec.got[0].Kind)
	assert.Equal(t, "e1", rec.got[0].ElderlyID)
	assert.Equal(t, "check-e1", rec.got[0].TriggerID)
	assert.Equal(t, time.Date(2026, 1, 16, 20, 0, 0, 0, loc), rec.got[0].FireAt)
	assert.Equal(t, "e2", rec.got[1].ElderlyID)
}

func TestDispatcher_FailingNotifierDoesNotStopOthers(t *testing.T) {
	loc := time.UTC
	s := NewScheduler(zap.NewNop())
	require.True(t, s.Schedule(newPerson("e1", "08:00")))

	bad := &recordingNotifier{name: "bad", err: errors.New("broker down")}
	good := &recordingNotifier{name: "good"}
	d := NewDispatcher(s, []Notifier{bad, good}, nil, time.Minute, loc, zap.NewNop())

	ctx := context.Background()
	d.Tick(ctx, time.Date(2026, 1, 16, 7, 59, 0, 0, loc))
	assert.Equal(t, 1, d.Tick(ctx, time.Date(2026, 1, 16, 8, 0, 0, 0, loc)))
	assert.Equal(t, 1, bad.count())
	assert.Equal(t, 1, good.count())
}

func TestDispatcher_StartStopsOnCancel(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	d := NewDispatcher(s, nil, nil, 10*time.Millisecond, time.UTC, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// fakeEscalationStore 漏签测试用的内存存储
type fakeEscalationStore struct {
	mu        sync.Mutex
	persons   map[string]models.Elderly
	checkedIn map[string]bool // elderly_id|date
	contacts  map[string][]models.EmergencyContact
	records   []models.NotificationRecord
}

func (f *fakeEscalationStore) GetPerson(id string) (models.Elderly, bool) {
	p, ok := f.persons[id]
	return p, ok
}

func (f *fakeEscalationStore) HasCheckedInOn(id, date string) bool {
	return f.checkedIn[id+"|"+date]
}

func (f *fakeEscalationStore) GetContacts(id string) []models.EmergencyContact {
	return f.contacts[id]
}

func (f *fakeEscalationStore) RecordNotification(ctx context.Context, r models.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

func TestEscalator_NotifiesContactsWhenNotCheckedIn(t *testing.T) {
	loc := time.UTC
	person := models.Elderly{ID: "e1", Name: "张奶奶", Phone: "13800000000", CheckTime: "20:00"}
	st := &fakeEscalationStore{
		persons:   map[string]models.Elderly{"e1": person},
		checkedIn: map[string]bool{},
		contacts: map[string][]models.EmergencyContact{
			"e1": {
				{ID: "c1", ElderlyID: "e1", Name: "小张", Phone: "1"},
				{ID: "c2", ElderlyID: "e1", Name: "邻居", Phone: "2"},
			},
		},
	}

	s := NewScheduler(zap.NewNop())
	require.True(t, s.Schedule(person))

	rec := &recordingNotifier{name: "rec"}
	esc := NewEscalator(st, []Notifier{rec}, 30*time.Minute, loc, zap.NewNop())
	d := NewDispatcher(s, []Notifier{rec}, esc, time.Minute, loc, zap.NewNop())
	ctx := context.Background()

	d.Tick(ctx, time.Date(2026, 1, 16, 19, 59, 0, 0, loc))
	d.Tick(ctx, time.Date(2026, 1, 16, 20, 0, 0, 0, loc))
	assert.Equal(t, 1, esc.Pending())

	// 宽限期内不升级
	d.Tick(ctx, time.Date(2026, 1, 16, 20, 29, 0, 0, loc))
	assert.Equal(t, 1, rec.count())

	d.Tick(ctx, time.Date(2026, 1, 16, 20, 30, 0, 0, loc))
	assert.Equal(t, 0, esc.Pending())
	require.Equal(t, 3, rec.count())
	assert.Equal(t, KindEscalation, rec.got[1].Kind)
	assert.Equal(t, "c1", rec.got[1].ContactID)
	assert.Contains(t, rec.got[1].Body, "2026-01-16")

	require.Len(t, st.records, 2)
	assert.Equal(t, models.NotificationSent, st.records[0].Status)
	assert.Equal(t, "c2", st.records[1].ContactID)
}

func TestEscalator_SkipsWhenCheckedIn(t *testing.T) {
	loc := time.UTC
	st := &fakeEscalationStore{
		persons:   map[string]models.Elderly{"e1": {ID: "e1", Name: "张奶奶"}},
		checkedIn: map[string]bool{"e1|2026-01-16": true},
		contacts:  map[string][]models.EmergencyContact{"e1": {{ID: "c1", ElderlyID: "e1"}}},
	}
	rec := &recordingNotifier{name: "rec"}
	esc := NewEscalator(st, []Notifier{rec}, time.Minute, loc, zap.NewNop())

	esc.Arm(Trigger{ID: "check-e1", ElderlyID: "e1"}, time.Date(2026, 1, 16, 20, 0, 0, 0, loc))
	assert.Equal(t, 0, esc.Check(context.Background(), time.Date(2026, 1, 16, 21, 0, 0, 0, loc)))
	assert.Equal(t, 0, rec.count())
	assert.Empty(t, st.records)
}

func TestEscalator_RecordsFailedDelivery(t *testing.T) {
	loc := time.UTC
	st := &fakeEscalationStore{
		persons:   map[string]models.Elderly{"e1": {ID: "e1", Name: "张奶奶"}},
		checkedIn: map[string]bool{},
		contacts:  map[string][]models.EmergencyContact{"e1": {{ID: "c1", ElderlyID: "e1"}}},
	}
	bad := &recordingNotifier{name: "bad", err: errors.New("sms gateway down")}
	esc := NewEscalator(st, []Notifier{bad}, time.Minute, loc, zap.NewNop())

	esc.Arm(Trigger{ID: "check-e1", ElderlyID: "e1"}, time.Date(2026, 1, 16, 20, 0, 0, 0, loc))
	assert.Equal(t, 0, esc.Check(context.Background(), time.Date(2026, 1, 16, 21, 0, 0, 0, loc)))

	require.Len(t, st.records, 1)
	assert.Equal(t, models.NotificationFailed, st.records[0].Status)
}
