package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/redisx"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "data", "checkin.db")
	cfg.Reminder.Timezone = "UTC"
	cfg.Reminder.TickInterval = time.Hour
	cfg.Reminder.Notifiers = []string{"log"}
	cfg.Reminder.Stream = "checkin:reminders"
	cfg.Reminder.StreamMaxLen = 100
	cfg.Location.Timeout = time.Second
	cfg.Location.Permission = "granted"
	return cfg
}

func post(t *testing.T, h http.Handler, path, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNewCheckInApp_SQLitePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewCheckInApp(cfg, zap.NewNop())
	require.NoError(t, err)

	res := post(t, a.Handler(), "/api/v1/elderly", `{"name":"王奶奶","phone":"138","check_time":"8:30"}`)
	require.Equal(t, float64(2000), res["code"])
	id := res["result"].(map[string]any)["id"].(string)
	a.Stop()

	b, err := NewCheckInApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Stop()

	person, ok := b.Store().GetPerson(id)
	require.True(t, ok)
	assert.Equal(t, "王奶奶", person.Name)

	// 重启后重新注册提醒
	trig, ok := b.scheduler.Active(id)
	require.True(t, ok)
	assert.Equal(t, 8, trig.Hour)
	assert.Equal(t, 30, trig.Minute)
}

func TestNewCheckInApp_RedisBackendWithStreamNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Store.KeyPrefix = "checkin:"
	cfg.Redis.Addr = mr.Addr()
	cfg.Reminder.Notifiers = []string{"log", "stream"}

	a, err := NewCheckInApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Stop()

	res := post(t, a.Handler(), "/api/v1/elderly", `{"name":"李爷爷"}`)
	require.Equal(t, float64(2000), res["code"])
	assert.True(t, mr.Exists("checkin:elderly"))

	// 存储和 stream 通知共用同一个连接
	msgs, err := redisx.ReadRange(context.Background(), a.redisClient, cfg.Reminder.Stream)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestNewCheckInApp_ConfigErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "cassandra"
	_, err := NewCheckInApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = testConfig(t)
	cfg.Reminder.Notifiers = []string{"pager"}
	_, err = NewCheckInApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown notifier")

	cfg = testConfig(t)
	cfg.Reminder.Notifiers = []string{"mqtt"}
	_, err = NewCheckInApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "MQTT_ENABLED")

	cfg = testConfig(t)
	cfg.Location.StaticLatitude = "north"
	cfg.Location.StaticLongitude = "116.4"
	_, err = NewCheckInApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "LOCATION_STATIC_LATITUDE")

	cfg = testConfig(t)
	cfg.Location.StaticLatitude = "95"
	cfg.Location.StaticLongitude = "116.4"
	_, err = NewCheckInApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "out of range")
}

func TestNewCheckInApp_StaticLocationShare(t *testing.T) {
	cfg := testConfig(t)
	cfg.Location.StaticLatitude = "39.9042"
	cfg.Location.StaticLongitude = "116.4074"

	a, err := NewCheckInApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Stop()

	res := post(t, a.Handler(), "/api/v1/elderly", `{"name":"王奶奶","phone":"138"}`)
	id := res["result"].(map[string]any)["id"].(string)

	res = post(t, a.Handler(), "/api/v1/elderly/"+id+"/share", `{}`)
	require.Equal(t, float64(2000), res["code"], res)
	content := res["result"].(map[string]any)["content"].(string)
	assert.Contains(t, content, "坐标：39.904200, 116.407400")
}

func TestCheckInApp_StartStopsOnCancel(t *testing.T) {
	a, err := NewCheckInApp(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	assert.NoError(t, a.Shutdown(shutdownCtx))
}
