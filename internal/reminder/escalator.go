package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EscalationTitle 漏签通知标题
const EscalationTitle = "未签到提醒"

// EscalationStore 漏签升级需要的签到存储能力
type EscalationStore interface {
	GetPerson(elderlyID string) (models.Elderly, bool)
	HasCheckedInOn(elderlyID, date string) bool
	GetContacts(elderlyID string) []models.EmergencyContact
	RecordNotification(ctx context.Context, record models.NotificationRecord) error
}

type pendingEscalation struct {
	trigger  Trigger
	date     string
	deadline time.Time
}

// Escalator 提醒触发后超过宽限期仍未签到，通知全部紧急联系人（每人每天一次）
type Escalator struct {
	store     EscalationStore
	notifiers []Notifier
	grace     time.Duration
	loc       *time.Location
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingEscalation // key: elderly_id
}

// NewEscalator 创建漏签升级器
func NewEscalator(store EscalationStore, notifiers []Notifier, grace time.Duration, loc *time.Location, logger *zap.Logger) *Escalator {
	if loc == nil {
		loc = time.Local
	}
	return &Escalator{
		store:     store,
		notifiers: notifiers,
		grace:     grace,
		loc:       loc,
		logger:    logger,
		pending:   make(map[string]pendingEscalation),
	}
}

// Arm 记录一次已触发的提醒，宽限期后检查签到
func (e *Escalator) Arm(trigger Trigger, fireAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[trigger.ElderlyID] = pendingEscalation{
		trigger:  trigger,
		date:     models.DateString(fireAt, e.loc),
		deadline: fireAt.Add(e.grace),
	}
}

// Pending 等待检查的数量
func (e *Escalator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Check 处理到期的检查，返回发出的联系人通知数量
func (e *Escalator) Check(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	var due []pendingEscalation
	for id, p := range e.pending {
		if !p.deadline.After(now) {
			due = append(due, p)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	sent := 0
	for _, p := range due {
		sent += e.escalate(ctx, p, now)
	}
	return sent
}

func (e *Escalator) escalate(ctx context.Context, p pendingEscalation, now time.Time) int {
	elderlyID := p.trigger.ElderlyID

	person, ok := e.store.GetPerson(elderlyID)
	if !ok {
		return 0
	}
	if e.store.HasCheckedInOn(elderlyID, p.date) {
		return 0
	}

	contacts := e.store.GetContacts(elderlyID)
	if len(contacts) == 0 {
		e.logger.Warn("Missed check-in but no emergency contacts",
			zap.String("elderly_id", elderlyID),
			zap.String("date", p.date),
		)
		return 0
	}

	body := fmt.Sprintf("%s 今日（%s）尚未签到，请尽快联系确认。电话：%s", person.Name, p.date, person.Phone)
	sent := 0
	for _, contact := range contacts {
		n := Notification{
			Kind:         KindEscalation,
			TriggerID:    p.trigger.ID,
			ElderlyID:    elderlyID,
			ElderlyName:  person.Name,
			ContactID:    contact.ID,
			ContactPhone: contact.Phone,
			Title:        EscalationTitle,
			Body:         body,
			FireAt:       now,
		}

		status := models.NotificationFailed
		if Deliver(ctx, e.notifiers, n, e.logger) {
			status = models.NotificationSent
			sent++
		}

		record := models.NotificationRecord{
			ID:        uuid.New().String(),
			ElderlyID: elderlyID,
			ContactID: contact.ID,
			SentAt:    now,
			Message:   body,
			Status:    status,
		}
		if err := e.store.RecordNotification(ctx, record); err != nil {
			e.logger.Error("Failed to record notification",
				zap.String("elderly_id", elderlyID),
				zap.String("contact_id", contact.ID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Escalated missed check-in",
		zap.String("elderly_id", elderlyID),
		zap.String("date", p.date),
		zap.Int("contacts", len(contacts)),
		zap.Int("delivered", sent),
	)
	return sent
}
