package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/database"
	"wisefido-checkin/internal/httpapi"
	"wisefido-checkin/internal/location"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/mqtt"
	"wisefido-checkin/internal/redisx"
	"wisefido-checkin/internal/reminder"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/share"
	"wisefido-checkin/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CheckInApp 组装签到服务的全部组件
type CheckInApp struct {
	config *config.Config
	logger *zap.Logger

	db             *sql.DB
	redisClient    *redis.Client
	mqttClient     *mqtt.Client
	locationSource *location.MQTTSource

	store      *service.CheckInStore
	scheduler  *reminder.Scheduler
	dispatcher *reminder.Dispatcher
	router     *httpapi.Router
	server     *httpapi.Server
}

// NewCheckInApp 创建服务：连接存储 -> 恢复数据并注册提醒 -> 通知渠道 -> 定位 -> HTTP
func NewCheckInApp(cfg *config.Config, logger *zap.Logger) (*CheckInApp, error) {
	ctx := context.Background()
	a := &CheckInApp{config: cfg, logger: logger}

	// 1. 持久化
	kv, err := a.openKV(ctx)
	if err != nil {
		a.Stop()
		return nil, err
	}

	// 2. MQTT（可选）
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(&cfg.MQTT.Config, logger)
		if err != nil {
			a.Stop()
			return nil, err
		}
		a.mqttClient = client
	}

	// 3. 签到存储 + 提醒
	loc := cfg.TimeLocation()
	repo := repository.NewSnapshotRepository(kv, cfg.Store.KeyPrefix, logger)
	a.scheduler = reminder.NewScheduler(logger)
	a.store = service.NewCheckInStore(repo, a.scheduler, logger, service.WithLocation(loc))
	if err := a.store.Load(ctx); err != nil {
		a.Stop()
		return nil, err
	}

	notifiers, err := a.buildNotifiers(ctx)
	if err != nil {
		a.Stop()
		return nil, err
	}

	var escalator *reminder.Escalator
	if cfg.Reminder.Escalation.Enabled {
		escalator = reminder.NewEscalator(a.store, notifiers, cfg.Reminder.Escalation.Grace, loc, logger)
	}
	a.dispatcher = reminder.NewDispatcher(a.scheduler, notifiers, escalator, cfg.Reminder.TickInterval, loc, logger)

	// 4. 定位与位置分享
	source, err := a.buildLocationSource()
	if err != nil {
		a.Stop()
		return nil, err
	}
	var geocoder location.Geocoder
	if cfg.Location.GeocoderURL != "" {
		geocoder = location.NewHTTPGeocoder(cfg.Location.GeocoderURL, cfg.Location.UserAgent, cfg.Location.GeocoderTimeout, logger)
	}
	locator := location.NewService(source, geocoder, cfg.Location.Timeout, logger)
	sharer := share.NewSharer(a.store, locator, notifiers, logger)

	// 5. HTTP
	a.router = httpapi.NewRouter(logger)
	a.router.RegisterHealthRoutes()
	a.router.RegisterCheckInRoutes(httpapi.NewCheckInHandler(a.store, sharer, a.scheduler, logger))
	a.server = httpapi.NewServer(cfg.HTTP.Addr, a.router, logger)

	return a, nil
}

// Handler HTTP 路由
func (a *CheckInApp) Handler() http.Handler {
	return a.router
}

// Store 签到存储
func (a *CheckInApp) Store() *service.CheckInStore {
	return a.store
}

// Start 启动提醒调度和 HTTP 服务（阻塞直到 ctx 取消或出错）
func (a *CheckInApp) Start(ctx context.Context) error {
	a.logger.Info("Starting check-in service",
		zap.String("store_backend", a.config.Store.Backend),
		zap.Bool("mqtt", a.mqttClient != nil),
	)

	errCh := make(chan error, 2)
	go func() {
		if err := a.dispatcher.Start(ctx); err != nil {
			errCh <- fmt.Errorf("reminder dispatcher: %w", err)
		}
	}()
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown 优雅关闭 HTTP 服务
func (a *CheckInApp) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Stop(ctx)
}

// Stop 释放连接
func (a *CheckInApp) Stop() {
	a.logger.Info("Stopping check-in service")

	if a.locationSource != nil {
		if err := a.locationSource.Stop(); err != nil {
			a.logger.Warn("Failed to unsubscribe location topic", zap.Error(err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Error("Failed to close database", zap.Error(err))
	}
}

// openKV 按配置选择持久化后端
func (a *CheckInApp) openKV(ctx context.Context) (store.KV, error) {
	cfg := a.config
	switch strings.ToLower(cfg.Store.Backend) {
	case "redis":
		client, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewRedisKV(client), nil

	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		kv := store.NewSQLKV(db, store.DialectPostgres, a.logger)
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return kv, nil

	case "", "sqlite":
		db, err := database.NewSQLiteDB(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		kv := store.NewSQLKV(db, store.DialectSQLite, a.logger)
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return kv, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// redis 懒加载 Redis 连接（存储和 stream 通知共用）
func (a *CheckInApp) redis(ctx context.Context) (*redis.Client, error) {
	if a.redisClient != nil {
		return a.redisClient, nil
	}
	client := redisx.NewClient(&a.config.Redis)
	if err := redisx.Ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	a.redisClient = client
	return client, nil
}

// buildNotifiers 按配置创建通知渠道
func (a *CheckInApp) buildNotifiers(ctx context.Context) ([]reminder.Notifier, error) {
	cfg := a.config
	notifiers := make([]reminder.Notifier, 0, len(cfg.Reminder.Notifiers))
	for _, name := range cfg.Reminder.Notifiers {
		switch strings.ToLower(name) {
		case "log":
			notifiers = append(notifiers, reminder.NewLogNotifier(a.logger))
		case "mqtt":
			if a.mqttClient == nil {
				return nil, fmt.Errorf("mqtt notifier requires MQTT_ENABLED=true")
			}
			notifiers = append(notifiers, reminder.NewMQTTNotifier(a.mqttClient, cfg.MQTT.ReminderTopic, cfg.MQTT.QoS))
		case "stream":
			client, err := a.redis(ctx)
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, reminder.NewStreamNotifier(client, cfg.Reminder.Stream, cfg.Reminder.StreamMaxLen))
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
	}
	return notifiers, nil
}

// buildLocationSource 启用 MQTT 且绑定设备时使用设备上报，否则使用固定坐标
func (a *CheckInApp) buildLocationSource() (location.Source, error) {
	cfg := a.config
	if a.mqttClient != nil && cfg.Location.DeviceID != "" {
		src := location.NewMQTTSource(a.mqttClient, cfg.MQTT.LocationTopic, cfg.Location.DeviceID, cfg.MQTT.QoS, a.logger)
		if err := src.Start(); err != nil {
			return nil, err
		}
		a.locationSource = src
		return src, nil
	}

	src := location.NewStaticSource(location.ParseAuthStatus(cfg.Location.Permission))
	if cfg.Location.StaticLatitude == "" && cfg.Location.StaticLongitude == "" {
		return src, nil
	}
	lat, err := strconv.ParseFloat(cfg.Location.StaticLatitude, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATION_STATIC_LATITUDE: %w", err)
	}
	lon, err := strconv.ParseFloat(cfg.Location.StaticLongitude, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATION_STATIC_LONGITUDE: %w", err)
	}
	coord := models.Coordinate{Latitude: lat, Longitude: lon}
	if !location.ValidCoordinate(coord) {
		return nil, fmt.Errorf("static location out of range: %v", coord)
	}
	return src.WithCoordinate(coord), nil
}
