package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/mqtt"

	"go.uber.org/zap"
)

// AuthStatus 定位授权状态
type AuthStatus string

const (
	AuthNotDetermined AuthStatus = "not_determined"
	AuthGranted       AuthStatus = "granted"
	AuthDenied        AuthStatus = "denied"
	AuthRestricted    AuthStatus = "restricted"
)

// ParseAuthStatus 解析配置中的授权状态，"prompt" 视为未决定
func ParseAuthStatus(s string) AuthStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted", "authorized":
		return AuthGranted
	case "denied":
		return AuthDenied
	case "restricted":
		return AuthRestricted
	default:
		return AuthNotDetermined
	}
}

// Source 定位来源
type Source interface {
	Authorization() AuthStatus
	// RequestAuthorization 提示用户授权，返回提示后的状态
	RequestAuthorization(ctx context.Context) (AuthStatus, error)
	// CurrentPosition 一次性获取当前位置
	CurrentPosition(ctx context.Context) (models.Coordinate, error)
}

// ValidCoordinate 经纬度是否在合法范围内
func ValidCoordinate(c models.Coordinate) bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// ============================================
// StaticSource
// ============================================

// StaticSource 固定坐标（开发环境和测试用）
type StaticSource struct {
	mu       sync.Mutex
	status   AuthStatus
	onPrompt AuthStatus
	coord    *models.Coordinate
	err      error
	delay    time.Duration
	prompts  int
}

// NewStaticSource 创建固定来源；未设置坐标时 CurrentPosition 返回 ErrUnavailable
func NewStaticSource(status AuthStatus) *StaticSource {
	return &StaticSource{status: status, onPrompt: AuthGranted}
}

// WithCoordinate 设置返回的坐标
func (s *StaticSource) WithCoordinate(c models.Coordinate) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord = &c
	return s
}

// WithError 设置 CurrentPosition 返回的错误
func (s *StaticSource) WithError(err error) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// WithDelay 模拟定位耗时
func (s *StaticSource) WithDelay(d time.Duration) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// WithPromptResult 设置用户在授权提示中的选择
func (s *StaticSource) WithPromptResult(status AuthStatus) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPrompt = status
	return s
}

// Prompts 授权提示次数
func (s *StaticSource) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

func (s *StaticSource) Authorization() AuthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *StaticSource) RequestAuthorization(ctx context.Context) (AuthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	if s.status == AuthNotDetermined {
		s.status = s.onPrompt
	}
	return s.status, nil
}

func (s *StaticSource) CurrentPosition(ctx context.Context) (models.Coordinate, error) {
	s.mu.Lock()
	delay, coord, err := s.delay, s.coord, s.err
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return models.Coordinate{}, ctx.Err()
		}
	}
	if err != nil {
		return models.Coordinate{}, err
	}
	if coord == nil {
		return models.Coordinate{}, ErrUnavailable
	}
	return *coord, nil
}

// ============================================
// MQTTSource
// ============================================

// Fix 设备上报的一次定位
type Fix struct {
	models.Coordinate
	ReceivedAt time.Time
}

type fixPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// MQTTSource 订阅 "<topic>/<device_id>" 上报的定位，缓存每台设备的最新坐标
type MQTTSource struct {
	client   mqtt.PubSub
	topic    string
	deviceID string
	qos      byte
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	fixes   map[string]Fix
	updated chan struct{}
}

// NewMQTTSource 创建 MQTT 定位来源；deviceID 为空时视为未绑定设备（受限）
func NewMQTTSource(client mqtt.PubSub, topic, deviceID string, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client:   client,
		topic:    strings.TrimSuffix(topic, "/"),
		deviceID: deviceID,
		qos:      qos,
		logger:   logger,
		now:      time.Now,
		fixes:    make(map[string]Fix),
		updated:  make(chan struct{}),
	}
}

// Start 订阅定位主题
func (m *MQTTSource) Start() error {
	pattern := m.topic + "/+"
	if err := m.client.Subscribe(pattern, m.qos, m.handle); err != nil {
		return err
	}
	m.logger.Info("Subscribed to location topic", zap.String("topic", pattern))
	return nil
}

// Stop 取消订阅
func (m *MQTTSource) Stop() error {
	return m.client.Unsubscribe(m.topic + "/+")
}

func (m *MQTTSource) handle(topic string, payload []byte) error {
	deviceID := topic[strings.LastIndex(topic, "/")+1:]
	if deviceID == "" {
		return fmt.Errorf("location topic %s has no device id", topic)
	}

	var p fixPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to decode location payload: %w", err)
	}
	if p.Latitude == nil || p.Longitude == nil {
		return fmt.Errorf("location payload from %s missing coordinates", deviceID)
	}
	coord := models.Coordinate{Latitude: *p.Latitude, Longitude: *p.Longitude}
	if !ValidCoordinate(coord) {
		return fmt.Errorf("location payload from %s out of range", deviceID)
	}

	m.mu.Lock()
	m.fixes[deviceID] = Fix{Coordinate: coord, ReceivedAt: m.now()}
	close(m.updated)
	m.updated = make(chan struct{})
	m.mu.Unlock()

	m.logger.Debug("Location fix received",
		zap.String("device_id", deviceID),
		zap.Float64("latitude", coord.Latitude),
		zap.Float64("longitude", coord.Longitude),
	)
	return nil
}

// LastFix 设备最近一次定位
func (m *MQTTSource) LastFix(deviceID string) (Fix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fix, ok := m.fixes[deviceID]
	return fix, ok
}

func (m *MQTTSource) Authorization() AuthStatus {
	if m.deviceID == "" {
		return AuthRestricted
	}
	return AuthGranted
}

func (m *MQTTSource) RequestAuthorization(ctx context.Context) (AuthStatus, error) {
	return m.Authorization(), nil
}

// CurrentPosition 返回绑定设备的最新坐标；还没有上报时等待下一次上报
func (m *MQTTSource) CurrentPosition(ctx context.Context) (models.Coordinate, error) {
	for {
		m.mu.Lock()
		fix, ok := m.fixes[m.deviceID]
		updated := m.updated
		m.mu.Unlock()

		if ok {
			return fix.Coordinate, nil
		}
		select {
		case <-updated:
		case <-ctx.Done():
			return models.Coordinate{}, ctx.Err()
		}
	}
}
