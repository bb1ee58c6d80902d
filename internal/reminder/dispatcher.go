package reminder

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dispatcher 轮询调度器，把到期的提醒交给各通知渠道
// 签到后不会取消当天提醒，每天都会触发
type Dispatcher struct {
	scheduler *Scheduler
	notifiers []Notifier
	escalator *Escalator
	interval  time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	lastTick time.Time
}

// NewDispatcher 创建调度器；escalator 可以为 nil
func NewDispatcher(
	scheduler *Scheduler,
	notifiers []Notifier,
	escalator *Escalator,
	interval time.Duration,
	loc *time.Location,
	logger *zap.Logger,
) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		scheduler: scheduler,
		notifiers: notifiers,
		escalator: escalator,
		interval:  interval,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock 替换时钟（测试用）
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Start 启动轮询（阻塞直到 ctx 取消）
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Reminder dispatcher started",
		zap.Duration("interval", d.interval),
		zap.String("timezone", d.loc.String()),
		zap.Int("notifiers", len(d.notifiers)),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// 启动时只记录时间点，不补发错过的提醒
	d.Tick(ctx, d.now())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Reminder dispatcher stopped")
			return nil
		case <-ticker.C:
			d.Tick(ctx, d.now())
		}
	}
}

// Tick 触发 (lastTick, now] 区间内到期的提醒，返回触发数量
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) int {
	if d.lastTick.IsZero() || now.Before(d.lastTick) {
		d.lastTick = now
		return 0
	}

	fired := 0
	for _, trigger := range d.scheduler.Triggers() {
		fireAt := trigger.NextFire(d.lastTick, d.loc)
		if fireAt.After(now) {
			continue
		}

		n := Notification{
			Kind:        KindReminder,
			TriggerID:   trigger.ID,
			ElderlyID:   trigger.ElderlyID,
			ElderlyName: trigger.ElderlyName,
			Title:       trigger.Title,
			Body:        trigger.Message,
			FireAt:      fireAt,
		}
		Deliver(ctx, d.notifiers, n, d.logger)
		fired++

		if d.escalator != nil {
			d.escalator.Arm(trigger, fireAt)
		}
	}

	if d.escalator != nil {
		d.escalator.Check(ctx, now)
	}

	d.lastTick = now
	return fired
}
