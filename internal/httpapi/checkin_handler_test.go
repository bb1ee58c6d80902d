package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-checkin/internal/database"
	"wisefido-checkin/internal/location"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/reminder"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/share"
	"wisefido-checkin/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	router    *Router
	store     *service.CheckInStore
	scheduler *reminder.Scheduler
}

func newTestEnv(t *testing.T, src location.Source) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	kv := store.NewSQLKV(db, store.DialectSQLite, logger)
	require.NoError(t, kv.EnsureSchema(context.Background()))

	scheduler := reminder.NewScheduler(logger)
	st := service.NewCheckInStore(repository.NewSnapshotRepository(kv, "", logger), scheduler, logger,
		service.WithClock(func() time.Time { return testNow }), service.WithLocation(time.UTC))
	require.NoError(t, st.Load(context.Background()))

	var sharer *share.Sharer
	if src != nil {
		sharer = share.NewSharer(st, location.NewService(src, nil, time.Second, logger), nil, logger)
	}

	router := NewRouter(logger)
	router.RegisterHealthRoutes()
	router.RegisterCheckInRoutes(NewCheckInHandler(st, sharer, scheduler, logger))
	return &testEnv{router: router, store: st, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeResult[T any](t *testing.T, w *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func (e *testEnv) createElderly(t *testing.T, name, checkTime string) models.Elderly {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/elderly", map[string]any{
		"name":       name,
		"phone":      "13800000000",
		"address":    "北京市",
		"check_time": checkTime,
	})
	res := decodeResult[models.Elderly](t, w)
	require.Equal(t, ResultSuccess, res.Code, w.Body.String())
	return res.Result
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":2000`)
}

func TestElderly_CRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createElderly(t, "王奶奶", "")
	assert.Equal(t, models.DefaultCheckTime, p.CheckTime)

	list := decodeResult[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly", nil))
	require.Len(t, list.Result, 1)
	assert.Equal(t, false, list.Result[0]["checked_in_today"])

	w := env.do(t, http.MethodPut, "/api/v1/elderly/"+p.ID, map[string]any{"name": "王奶奶", "phone": "139", "check_time": "9:5"})
	updated := decodeResult[models.Elderly](t, w)
	require.Equal(t, ResultSuccess, updated.Code, w.Body.String())
	assert.Equal(t, "139", updated.Result.Phone)

	trig, ok := env.scheduler.Active(p.ID)
	require.True(t, ok)
	assert.Equal(t, 9, trig.Hour)

	got := decodeResult[models.Elderly](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID, nil))
	assert.Equal(t, "9:5", got.Result.CheckTime)

	del := decodeResult[any](t, env.do(t, http.MethodDelete, "/api/v1/elderly/"+p.ID, nil))
	assert.Equal(t, ResultSuccess, del.Code)

	missing := decodeResult[any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID, nil))
	assert.Equal(t, ResultError, missing.Code)
	_, ok = env.scheduler.Active(p.ID)
	assert.False(t, ok)
}

func TestElderly_InvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)

	res := decodeResult[any](t, env.do(t, http.MethodPost, "/api/v1/elderly", map[string]any{"name": ""}))
	assert.Equal(t, ResultError, res.Code)

	res = decodeResult[any](t, env.do(t, http.MethodPost, "/api/v1/elderly", map[string]any{"name": "张三", "latitude": 39.9}))
	assert.Equal(t, ResultError, res.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/elderly", strings.NewReader("{bad"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "invalid body")

	// 非法签到时间：保存成功，但没有提醒
	p := env.createElderly(t, "李爷爷", "25:00")
	_, ok := env.scheduler.Active(p.ID)
	assert.False(t, ok)
}

func TestContacts_Routes(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createElderly(t, "王奶奶", "")

	w := env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/contacts", map[string]any{
		"name": "小明", "phone": "139", "relationship": "儿子",
	})
	created := decodeResult[models.EmergencyContact](t, w)
	require.Equal(t, ResultSuccess, created.Code, w.Body.String())
	assert.Equal(t, p.ID, created.Result.ElderlyID)

	list := decodeResult[[]models.EmergencyContact](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/contacts", nil))
	require.Len(t, list.Result, 1)

	upd := decodeResult[models.EmergencyContact](t, env.do(t, http.MethodPut, "/api/v1/contacts/"+created.Result.ID, map[string]any{
		"name": "小明", "phone": "137", "relationship": "儿子",
	}))
	require.Equal(t, ResultSuccess, upd.Code)
	assert.Equal(t, "137", upd.Result.Phone)

	del := decodeResult[any](t, env.do(t, http.MethodDelete, "/api/v1/contacts/"+created.Result.ID, nil))
	assert.Equal(t, ResultSuccess, del.Code)
	assert.Empty(t, env.store.GetContacts(p.ID))

	bad := decodeResult[any](t, env.do(t, http.MethodPost, "/api/v1/elderly/missing/contacts", map[string]any{"name": "x", "phone": "1"}))
	assert.Equal(t, ResultError, bad.Code)

	other := decodeResult[models.EmergencyContact](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/contacts", map[string]any{
		"name": "小红", "phone": "138",
	}))
	require.Equal(t, ResultSuccess, other.Code)
	empty := decodeResult[any](t, env.do(t, http.MethodPut, "/api/v1/contacts/"+other.Result.ID, map[string]any{"name": "", "phone": "138"}))
	assert.Equal(t, ResultError, empty.Code)
	assert.Contains(t, empty.Message, service.ErrInvalidContact.Error())
	kept, ok := env.store.GetContact(other.Result.ID)
	require.True(t, ok)
	assert.Equal(t, "小红", kept.Name)

	rel := decodeResult[[]string](t, env.do(t, http.MethodGet, "/api/v1/relationships", nil))
	assert.Equal(t, models.RelationshipOptions, rel.Result)
}

func TestCheckIn_Routes(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createElderly(t, "王奶奶", "")

	today := decodeResult[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/today", nil))
	assert.Equal(t, false, today.Result["checked_in"])
	assert.Equal(t, "2026-01-16", today.Result["date"])

	first := decodeResult[map[string]any](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", map[string]any{"note": "平安"}))
	require.Equal(t, ResultSuccess, first.Code)
	assert.Equal(t, true, first.Result["created"])

	second := decodeResult[map[string]any](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", nil))
	require.Equal(t, ResultSuccess, second.Code)
	assert.Equal(t, false, second.Result["created"])

	today = decodeResult[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/today", nil))
	assert.Equal(t, true, today.Result["checked_in"])

	history := decodeResult[[]models.CheckInRecord](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/history?limit=10", nil))
	require.Len(t, history.Result, 1)
	assert.Equal(t, "平安", history.Result[0].Note)

	stats := decodeResult[service.Stats](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/stats", nil))
	assert.Equal(t, service.Stats{Total: 1, Last7Days: 1, Last30Days: 1}, stats.Result)

	missing := decodeResult[any](t, env.do(t, http.MethodPost, "/api/v1/elderly/missing/checkin", nil))
	assert.Equal(t, ResultError, missing.Code)
}

func TestCheckIn_WithExplicitCoordinates(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createElderly(t, "王奶奶", "")

	res := decodeResult[map[string]json.RawMessage](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", map[string]any{
		"latitude": 39.9, "longitude": 116.4,
	}))
	require.Equal(t, ResultSuccess, res.Code)
	var rec models.CheckInRecord
	require.NoError(t, json.Unmarshal(res.Result["record"], &rec))
	assert.True(t, rec.HasLocation())
}

func TestHistory_DistanceFromHome(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/v1/elderly", map[string]any{
		"name": "王奶奶", "latitude": 39.9042, "longitude": 116.4074,
	})
	created := decodeResult[models.Elderly](t, w)
	require.Equal(t, ResultSuccess, created.Code, w.Body.String())
	p := created.Result

	env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", map[string]any{"latitude": 39.9042, "longitude": 116.4174})

	history := decodeResult[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/history", nil))
	require.Len(t, history.Result, 1)
	assert.Equal(t, "853米", history.Result[0]["distance_from_home"])
	assert.InDelta(t, 853, history.Result[0]["distance_meters"], 1)

	// 没有家庭坐标时不带距离字段
	q := env.createElderly(t, "李爷爷", "")
	env.do(t, http.MethodPost, "/api/v1/elderly/"+q.ID+"/checkin", map[string]any{"latitude": 39.9, "longitude": 116.4})
	history = decodeResult[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+q.ID+"/history", nil))
	require.Len(t, history.Result, 1)
	assert.NotContains(t, history.Result[0], "distance_from_home")
	assert.NotContains(t, history.Result[0], "distance_meters")
}

func TestCheckIn_UseLocation(t *testing.T) {
	src := location.NewStaticSource(location.AuthGranted).WithCoordinate(models.Coordinate{Latitude: 39.9, Longitude: 116.4})
	env := newTestEnv(t, src)
	p := env.createElderly(t, "王奶奶", "")

	res := decodeResult[map[string]json.RawMessage](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", map[string]any{"use_location": true}))
	require.Equal(t, ResultSuccess, res.Code)
	var rec models.CheckInRecord
	require.NoError(t, json.Unmarshal(res.Result["record"], &rec))
	require.True(t, rec.HasLocation())
	assert.Equal(t, 116.4, *rec.Longitude)
}

func TestExportHistory_Route(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createElderly(t, "王奶奶", "")
	env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/checkin", nil)

	w := env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/history/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("签到记录")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "签到记录", f.GetSheetName(f.GetActiveSheetIndex()))
}

func TestShare_Routes(t *testing.T) {
	src := location.NewStaticSource(location.AuthGranted).WithCoordinate(models.Coordinate{Latitude: 39.9042, Longitude: 116.4074})
	env := newTestEnv(t, src)
	p := env.createElderly(t, "王奶奶", "")

	w := env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/share", map[string]any{"emergency": true})
	res := decodeResult[share.Result](t, w)
	require.Equal(t, ResultSuccess, res.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(res.Result.Content, "⚠️【紧急位置分享】⚠️"))

	shares := decodeResult[[]models.LocationShareRecord](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/shares", nil))
	require.Len(t, shares.Result, 1)
	assert.Equal(t, 39.9042, shares.Result[0].Latitude)

	ago := decodeResult[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/elderly/"+p.ID+"/shares?limit=5", nil))
	require.Len(t, ago.Result, 1)
	assert.Equal(t, "刚刚", ago.Result[0]["shared_ago"])
}

func TestShare_LocationErrorsUseUserMessage(t *testing.T) {
	env := newTestEnv(t, location.NewStaticSource(location.AuthDenied))
	p := env.createElderly(t, "王奶奶", "")

	res := decodeResult[any](t, env.do(t, http.MethodPost, "/api/v1/elderly/"+p.ID+"/share", nil))
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "位置权限被拒绝，请在设置中允许访问位置信息", res.Message)

	noSharer := newTestEnv(t, nil)
	q := noSharer.createElderly(t, "李爷爷", "")
	res = decodeResult[any](t, noSharer.do(t, http.MethodPost, "/api/v1/elderly/"+q.ID+"/share", nil))
	assert.Equal(t, "位置服务不可用", res.Message)
}

func TestReminders_Route(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createElderly(t, "王奶奶", "20:00")
	env.createElderly(t, "李爷爷", "abc")

	res := decodeResult[[]reminder.Trigger](t, env.do(t, http.MethodGet, "/api/v1/reminders", nil))
	require.Len(t, res.Result, 1)
	assert.Equal(t, reminder.ReminderTitle, res.Result[0].Title)
	assert.Equal(t, "请提醒 王奶奶 进行今日签到", res.Result[0].Message)
}

func TestRouter_MethodAndPathErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPatch, "/api/v1/elderly", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/v1/elderly/x/checkin", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/elderly/x/unknown", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/elderly/", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/v1/contacts/a/b", nil).Code)
}
