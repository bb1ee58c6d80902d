package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"wisefido-checkin/internal/location"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/reminder"
	"wisefido-checkin/internal/report"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/share"

	"go.uber.org/zap"
)

// TriggerLister 当前已注册的提醒
type TriggerLister interface {
	Triggers() []reminder.Trigger
}

// CheckInHandler 界面操作对应的 HTTP 接口
type CheckInHandler struct {
	store    service.Store
	sharer   *share.Sharer // 为 nil 时位置相关接口返回“位置服务不可用”
	triggers TriggerLister
	logger   *zap.Logger
}

func NewCheckInHandler(store service.Store, sharer *share.Sharer, triggers TriggerLister, logger *zap.Logger) *CheckInHandler {
	return &CheckInHandler{store: store, sharer: sharer, triggers: triggers, logger: logger}
}

type elderlyRequest struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CheckTime string   `json:"check_time"`
}

type contactRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
}

type checkInRequest struct {
	Note        string   `json:"note"`
	UseLocation bool     `json:"use_location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

type shareRequest struct {
	ContactIDs []string `json:"contact_ids"`
	Emergency  bool     `json:"emergency"`
}

// ============================================
// 老人
// ============================================

// GET /api/v1/elderly
func (h *CheckInHandler) ListElderly(w http.ResponseWriter, r *http.Request) {
	type item struct {
		models.Elderly
		CheckedInToday bool `json:"checked_in_today"`
	}
	persons := h.store.ListPersons()
	items := make([]item, 0, len(persons))
	for _, p := range persons {
		items = append(items, item{Elderly: p, CheckedInToday: h.store.HasCheckedInToday(p.ID)})
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// POST /api/v1/elderly
func (h *CheckInHandler) CreateElderly(w http.ResponseWriter, r *http.Request) {
	var req elderlyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	person := models.NewElderly(strings.TrimSpace(req.Name), req.Phone, req.Address)
	person.Latitude = req.Latitude
	person.Longitude = req.Longitude
	if req.CheckTime != "" {
		person.CheckTime = req.CheckTime
	}
	person.CreatedAt = h.store.Now()

	if err := h.store.AddPerson(r.Context(), person); err != nil {
		h.writeError(w, "failed to add elderly", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(person))
}

// GET /api/v1/elderly/{id}
func (h *CheckInHandler) GetElderly(w http.ResponseWriter, r *http.Request, id string) {
	person, ok := h.store.GetPerson(id)
	if !ok {
		writeJSON(w, http.StatusOK, Fail(service.ErrPersonNotFound.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(person))
}

// PUT /api/v1/elderly/{id}
// check_time 为空时保留原值
func (h *CheckInHandler) UpdateElderly(w http.ResponseWriter, r *http.Request, id string) {
	person, ok := h.store.GetPerson(id)
	if !ok {
		writeJSON(w, http.StatusOK, Fail(service.ErrPersonNotFound.Error()))
		return
	}

	var req elderlyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	person.Name = strings.TrimSpace(req.Name)
	person.Phone = req.Phone
	person.Address = req.Address
	person.Latitude = req.Latitude
	person.Longitude = req.Longitude
	if req.CheckTime != "" {
		person.CheckTime = req.CheckTime
	}

	if err := h.store.UpdatePerson(r.Context(), person); err != nil {
		h.writeError(w, "failed to update elderly", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(person))
}

// DELETE /api/v1/elderly/{id}
func (h *CheckInHandler) DeleteElderly(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.DeletePerson(r.Context(), id); err != nil {
		h.writeError(w, "failed to delete elderly", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// ============================================
// 联系人
// ============================================

// GET /api/v1/elderly/{id}/contacts
func (h *CheckInHandler) ListContacts(w http.ResponseWriter, r *http.Request, elderlyID string) {
	writeJSON(w, http.StatusOK, Ok(h.store.GetContacts(elderlyID)))
}

// POST /api/v1/elderly/{id}/contacts
func (h *CheckInHandler) CreateContact(w http.ResponseWriter, r *http.Request, elderlyID string) {
	var req contactRequest
	if !decodeBody(w, r, &req) {
		return
	}

	contact := models.NewEmergencyContact(elderlyID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Phone), req.Relationship)
	contact.Email = req.Email
	if err := h.store.AddContact(r.Context(), contact); err != nil {
		h.writeError(w, "failed to add contact", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(contact))
}

// PUT /api/v1/contacts/{id}
func (h *CheckInHandler) UpdateContact(w http.ResponseWriter, r *http.Request, id string) {
	contact, ok := h.store.GetContact(id)
	if !ok {
		writeJSON(w, http.StatusOK, Fail(service.ErrContactNotFound.Error()))
		return
	}

	var req contactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	contact.Name = strings.TrimSpace(req.Name)
	contact.Phone = strings.TrimSpace(req.Phone)
	contact.Email = req.Email
	contact.Relationship = req.Relationship

	if err := h.store.UpdateContact(r.Context(), contact); err != nil {
		h.writeError(w, "failed to update contact", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(contact))
}

// DELETE /api/v1/contacts/{id}
func (h *CheckInHandler) DeleteContact(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.DeleteContact(r.Context(), models.EmergencyContact{ID: id}); err != nil {
		h.writeError(w, "failed to delete contact", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// GET /api/v1/relationships
func (h *CheckInHandler) Relationships(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(models.RelationshipOptions))
}

// ============================================
// 签到
// ============================================

// POST /api/v1/elderly/{id}/checkin
// body: { note?, use_location?, latitude?, longitude? }
// 今天已签到时返回已有记录，created=false
func (h *CheckInHandler) CheckIn(w http.ResponseWriter, r *http.Request, elderlyID string) {
	var req checkInRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		record  models.CheckInRecord
		created bool
		err     error
	)
	switch {
	case req.Latitude != nil || req.Longitude != nil:
		record, created, err = h.store.CheckIn(r.Context(), elderlyID, req.Note, req.Latitude, req.Longitude)
	case req.UseLocation && h.sharer != nil:
		record, created, err = h.sharer.CheckInWithLocation(r.Context(), elderlyID, req.Note)
	default:
		record, created, err = h.store.CheckIn(r.Context(), elderlyID, req.Note, nil, nil)
	}
	if err != nil && !created {
		h.writeError(w, "failed to check in", err)
		return
	}
	if err != nil {
		// 已记入内存，只是持久化失败
		h.logger.Warn("Check-in accepted but not persisted", zap.String("elderly_id", elderlyID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"record":  record,
		"created": created,
	}))
}

// GET /api/v1/elderly/{id}/today
func (h *CheckInHandler) Today(w http.ResponseWriter, r *http.Request, elderlyID string) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"date":       models.DateString(h.store.Now(), h.store.Location()),
		"checked_in": h.store.HasCheckedInToday(elderlyID),
	}))
}

// historyItem 签到记录 + 距家距离
type historyItem struct {
	models.CheckInRecord
	DistanceMeters   *float64 `json:"distance_meters,omitempty"`
	DistanceFromHome string   `json:"distance_from_home,omitempty"` // 850米 / 1.2公里
}

// GET /api/v1/elderly/{id}/history?limit=
// limit 缺省或 <= 0 表示全部；老人有家庭坐标且签到带坐标时附带距家距离
func (h *CheckInHandler) History(w http.ResponseWriter, r *http.Request, elderlyID string) {
	person, _ := h.store.GetPerson(elderlyID)
	records := h.store.GetHistory(elderlyID, queryLimit(r))

	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		item := historyItem{CheckInRecord: rec}
		if meters, ok := share.DistanceFromHome(person, rec); ok {
			item.DistanceMeters = models.Float64Ptr(meters)
			item.DistanceFromHome = share.FormatDistance(meters)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// GET /api/v1/elderly/{id}/stats
func (h *CheckInHandler) Stats(w http.ResponseWriter, r *http.Request, elderlyID string) {
	writeJSON(w, http.StatusOK, Ok(h.store.GetStats(elderlyID)))
}

// GET /api/v1/elderly/{id}/history/export
func (h *CheckInHandler) ExportHistory(w http.ResponseWriter, r *http.Request, elderlyID string) {
	person, ok := h.store.GetPerson(elderlyID)
	if !ok {
		writeJSON(w, http.StatusOK, Fail(service.ErrPersonNotFound.Error()))
		return
	}

	records := h.store.GetHistory(elderlyID, 0)
	data, err := report.ExportHistory(person, records, h.store.GetStats(elderlyID), h.store.Location())
	if err != nil {
		h.logger.Error("Failed to export history", zap.String("elderly_id", elderlyID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	writeXLSX(w, report.HistoryFilename(person, h.store.Now().In(h.store.Location())), data)
}

// GET /api/v1/elderly/{id}/notifications
func (h *CheckInHandler) ListNotifications(w http.ResponseWriter, r *http.Request, elderlyID string) {
	writeJSON(w, http.StatusOK, Ok(h.store.GetNotifications(elderlyID)))
}

// ============================================
// 位置分享
// ============================================

// POST /api/v1/elderly/{id}/share
// body: { contact_ids: [], emergency: bool }
func (h *CheckInHandler) Share(w http.ResponseWriter, r *http.Request, elderlyID string) {
	if h.sharer == nil {
		writeJSON(w, http.StatusOK, Fail(location.ErrUnavailable.Error()))
		return
	}

	var req shareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.sharer.Share(r.Context(), elderlyID, req.ContactIDs, req.Emergency)
	if err != nil {
		h.writeError(w, "failed to share location", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// shareItem 分享记录 + 相对时间
type shareItem struct {
	models.LocationShareRecord
	SharedAgo string `json:"shared_ago"` // 刚刚 / 5分钟前 / 3小时前 / 2天前
}

// GET /api/v1/elderly/{id}/shares?limit=
func (h *CheckInHandler) ListShares(w http.ResponseWriter, r *http.Request, elderlyID string) {
	now := h.store.Now()
	records := h.store.GetLocationShares(elderlyID, queryLimit(r))

	items := make([]shareItem, 0, len(records))
	for _, rec := range records {
		items = append(items, shareItem{LocationShareRecord: rec, SharedAgo: share.FormatRelativeTime(rec.SharedAt, now)})
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// ============================================
// 提醒
// ============================================

// GET /api/v1/reminders
func (h *CheckInHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil {
		writeJSON(w, http.StatusOK, Ok([]reminder.Trigger{}))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.triggers.Triggers()))
}

// writeError 意外错误记录日志
func (h *CheckInHandler) writeError(w http.ResponseWriter, op string, err error) {
	res, expected := failFromError(op, err)
	if !expected {
		h.logger.Error(op, zap.Error(err))
	}
	writeJSON(w, http.StatusOK, res)
}
