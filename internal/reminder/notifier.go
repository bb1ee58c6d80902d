package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-checkin/internal/mqtt"
	"wisefido-checkin/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Kind 通知类型
type Kind string

const (
	KindReminder   Kind = "reminder"   // 每日签到提醒
	KindEscalation Kind = "escalation" // 漏签通知紧急联系人
	KindLocation   Kind = "location"   // 位置分享
)

// Notification 交给宿主平台投递的一条通知
type Notification struct {
	Kind         Kind      `json:"kind"`
	TriggerID    string    `json:"trigger_id,omitempty"`
	ElderlyID    string    `json:"elderly_id"`
	ElderlyName  string    `json:"elderly_name"`
	ContactID    string    `json:"contact_id,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	FireAt       time.Time `json:"fire_at"`
}

// Notifier 通知投递渠道（尽力而为）
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier 只写日志
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info(n.Title,
		zap.String("kind", string(n.Kind)),
		zap.String("elderly_id", n.ElderlyID),
		zap.String("contact_id", n.ContactID),
		zap.String("body", n.Body),
		zap.Time("fire_at", n.FireAt),
	)
	return nil
}

// MQTTNotifier 发布到 MQTT 主题 <topic>/<elderly_id>
type MQTTNotifier struct {
	client mqtt.PubSub
	topic  string
	qos    byte
}

func NewMQTTNotifier(client mqtt.PubSub, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topic, qos: qos}
}

func (m *MQTTNotifier) Name() string { return "mqtt" }

func (m *MQTTNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return m.client.Publish(fmt.Sprintf("%s/%s", m.topic, n.ElderlyID), m.qos, false, payload)
}

// StreamNotifier 写入 Redis Streams，供其它服务消费
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamNotifier(client *redis.Client, stream string, maxLen int64) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamNotifier) Name() string { return "stream" }

func (s *StreamNotifier) Notify(ctx context.Context, n Notification) error {
	if _, err := redisx.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, n); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}
	return nil
}

// Deliver 依次投递到全部渠道，至少一个成功即视为送达
func Deliver(ctx context.Context, notifiers []Notifier, n Notification, logger *zap.Logger) bool {
	delivered := false
	for _, notifier := range notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			logger.Error("Failed to deliver notification",
				zap.String("notifier", notifier.Name()),
				zap.String("kind", string(n.Kind)),
				zap.String("elderly_id", n.ElderlyID),
				zap.Error(err),
			)
			continue
		}
		delivered = true
	}
	return delivered
}
