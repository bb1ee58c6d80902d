package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"wisefido-checkin/internal/database"
	"wisefido-checkin/internal/mqtt"
	"wisefido-checkin/internal/redisx"

	"github.com/joho/godotenv"
)

// Config 签到服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	// 持久化配置
	Store struct {
		Backend    string // "sqlite"（默认，本地文件）、"postgres" 或 "redis"
		KeyPrefix  string // 集合键前缀，默认为空（键名即 elderly/contacts/...）
		SQLitePath string
	}

	Database database.PostgresConfig
	Redis    redisx.Config
	MQTT     struct {
		mqtt.Config
		Enabled       bool
		ReminderTopic string // 提醒发布主题前缀，如 "checkin/reminders"
		LocationTopic string // 设备定位上报主题前缀，如 "checkin/location"
	}

	// 提醒配置
	Reminder struct {
		Timezone     string        // 提醒与签到日期使用的时区，如 "Asia/Shanghai"
		TickInterval time.Duration // 调度轮询间隔，默认 30 秒
		Notifiers    []string      // "log", "mqtt", "stream"
		Stream       string        // Redis Streams 名称
		StreamMaxLen int64

		// 漏签升级通知
		Escalation struct {
			Enabled bool
			Grace   time.Duration // 提醒后多久仍未签到则通知紧急联系人
		}
	}

	// 定位配置
	Location struct {
		Timeout         time.Duration // 单次定位超时，默认 10 秒
		Permission      string        // "granted"、"denied" 或 "prompt"
		DeviceID        string        // MQTTSource 跟踪的设备
		StaticLatitude  string        // 未启用 MQTT 时的固定坐标（开发用）
		StaticLongitude string
		GeocoderURL     string
		GeocoderTimeout time.Duration
		UserAgent       string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（先读取 .env，环境变量优先）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Store.Backend = getEnv("STORE_BACKEND", "sqlite")
	cfg.Store.KeyPrefix = getEnv("STORE_KEY_PREFIX", "")
	cfg.Store.SQLitePath = getEnv("STORE_SQLITE_PATH", "data/checkin.db")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "checkin")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = parseBool(getEnv("MQTT_ENABLED", "false"))
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-checkin")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.ReminderTopic = getEnv("MQTT_REMINDER_TOPIC", "checkin/reminders")
	cfg.MQTT.LocationTopic = getEnv("MQTT_LOCATION_TOPIC", "checkin/location")

	cfg.Reminder.Timezone = getEnv("REMINDER_TIMEZONE", "Local")
	cfg.Reminder.TickInterval = time.Duration(parseInt(getEnv("REMINDER_TICK_SECONDS", "30"), 30)) * time.Second
	cfg.Reminder.Notifiers = parseList(getEnv("REMINDER_NOTIFIERS", "log"))
	cfg.Reminder.Stream = getEnv("REMINDER_STREAM", "checkin:reminders")
	cfg.Reminder.StreamMaxLen = int64(parseInt(getEnv("REMINDER_STREAM_MAXLEN", "1000"), 1000))
	cfg.Reminder.Escalation.Enabled = parseBool(getEnv("ESCALATION_ENABLED", "false"))
	cfg.Reminder.Escalation.Grace = time.Duration(parseInt(getEnv("ESCALATION_GRACE_MINUTES", "60"), 60)) * time.Minute

	cfg.Location.Timeout = time.Duration(parseInt(getEnv("LOCATION_TIMEOUT_SECONDS", "10"), 10)) * time.Second
	cfg.Location.Permission = getEnv("LOCATION_PERMISSION", "prompt")
	cfg.Location.DeviceID = getEnv("LOCATION_DEVICE_ID", "")
	cfg.Location.StaticLatitude = getEnv("LOCATION_STATIC_LATITUDE", "")
	cfg.Location.StaticLongitude = getEnv("LOCATION_STATIC_LONGITUDE", "")
	cfg.Location.GeocoderURL = getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org")
	cfg.Location.GeocoderTimeout = time.Duration(parseInt(getEnv("GEOCODER_TIMEOUT_SECONDS", "10"), 10)) * time.Second
	cfg.Location.UserAgent = getEnv("GEOCODER_USER_AGENT", "wisefido-checkin/1.0")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// TimeLocation 解析提醒时区，非法时回落到本地时区
func (c *Config) TimeLocation() *time.Location {
	if c.Reminder.Timezone == "" || c.Reminder.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
