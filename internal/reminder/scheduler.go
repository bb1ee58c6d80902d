package reminder

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-checkin/internal/models"

	"go.uber.org/zap"
)

// 提醒文案
const (
	ReminderTitle   = "签到提醒"
	reminderBodyFmt = "请提醒 %s 进行今日签到"
)

// Trigger 每日重复的本地提醒触发器（按老人 ID 唯一）
type Trigger struct {
	ID          string `json:"id"` // "check-<elderly_id>"
	ElderlyID   string `json:"elderly_id"`
	ElderlyName string `json:"elderly_name"`
	Hour        int    `json:"hour"`
	Minute      int    `json:"minute"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

// TriggerID 触发器标识
func TriggerID(elderlyID string) string {
	return "check-" + elderlyID
}

// NextFire 返回严格晚于 after 的下一次触发时间（每天 Hour:Minute，与年月日无关）
func (t Trigger) NextFire(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := after.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
	if !candidate.After(after) {
		next := local.AddDate(0, 0, 1)
		candidate = time.Date(next.Year(), next.Month(), next.Day(), t.Hour, t.Minute, 0, 0, loc)
	}
	return candidate
}

// Registrar 提醒注册接口（签到存储依赖它，测试中可替换）
type Registrar interface {
	// Schedule 重新注册老人的每日提醒；签到时间非法时不注册并返回 false
	Schedule(person models.Elderly) bool
	// Cancel 取消老人的提醒，不存在时为空操作
	Cancel(elderlyID string)
}

// Scheduler 内存中的提醒注册表
type Scheduler struct {
	mu       sync.RWMutex
	triggers map[string]Trigger // key: elderly_id
	logger   *zap.Logger
}

// NewScheduler 创建提醒调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		triggers: make(map[string]Trigger),
		logger:   logger,
	}
}

// Schedule 先取消旧提醒，再按 CheckTime 注册新的每日提醒
func (s *Scheduler) Schedule(person models.Elderly) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.triggers, person.ID)

	hour, minute, err := models.ParseCheckTime(person.CheckTime)
	if err != nil {
		s.logger.Warn("Reminder not scheduled: malformed check time",
			zap.String("elderly_id", person.ID),
			zap.String("check_time", person.CheckTime),
			zap.Error(err),
		)
		return false
	}

	trigger := Trigger{
		ID:          TriggerID(person.ID),
		ElderlyID:   person.ID,
		ElderlyName: person.Name,
		Hour:        hour,
		Minute:      minute,
		Title:       ReminderTitle,
		Message:     fmt.Sprintf(reminderBodyFmt, person.Name),
	}
	s.triggers[person.ID] = trigger

	s.logger.Debug("Reminder scheduled",
		zap.String("trigger_id", trigger.ID),
		zap.Int("hour", hour),
		zap.Int("minute", minute),
	)
	return true
}

// Cancel 取消提醒
func (s *Scheduler) Cancel(elderlyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[elderlyID]; ok {
		delete(s.triggers, elderlyID)
		s.logger.Debug("Reminder cancelled", zap.String("elderly_id", elderlyID))
	}
}

// Active 返回老人当前生效的提醒
func (s *Scheduler) Active(elderlyID string) (Trigger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[elderlyID]
	return t, ok
}

// Triggers 返回全部生效提醒（按 ID 排序）
func (s *Scheduler) Triggers() []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
