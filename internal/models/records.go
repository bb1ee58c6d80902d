package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout 签到去重键的日期格式（yyyy-MM-dd）
const DateLayout = "2006-01-02"

// RelationshipOptions 联系人关系的建议选项（界面提供，不做强制校验）
var RelationshipOptions = []string{"儿子", "女儿", "配偶", "兄弟", "姐妹", "邻居", "朋友", "护工", "其他"}

// Coordinate 经纬度
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EmergencyContact 紧急联系人
type EmergencyContact struct {
	ID           string `json:"id"`
	ElderlyID    string `json:"elderly_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Relationship string `json:"relationship"` // 关系：儿子、女儿、邻居等
}

// NewEmergencyContact 创建联系人
func NewEmergencyContact(elderlyID, name, phone, relationship string) EmergencyContact {
	return EmergencyContact{
		ID:           uuid.New().String(),
		ElderlyID:    elderlyID,
		Name:         name,
		Phone:        phone,
		Relationship: relationship,
	}
}

// CheckInRecord 签到记录（创建后不可修改）
type CheckInRecord struct {
	ID          string    `json:"id"`
	ElderlyID   string    `json:"elderly_id"`
	CheckInTime time.Time `json:"check_in_time"`
	Note        string    `json:"note,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
}

// DateString 签到日期（按 loc 所在时区），用于判断是否当天签到
func (r CheckInRecord) DateString(loc *time.Location) string {
	return DateString(r.CheckInTime, loc)
}

// HasLocation 签到时是否带了坐标
func (r CheckInRecord) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Coordinate 签到坐标（未带坐标时 ok=false）
func (r CheckInRecord) Coordinate() (Coordinate, bool) {
	if !r.HasLocation() {
		return Coordinate{}, false
	}
	return Coordinate{Latitude: *r.Latitude, Longitude: *r.Longitude}, true
}

// DateString 把时间格式化为 loc 时区下的 yyyy-MM-dd
func DateString(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// NotificationStatus 通知发送状态
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationRecord 通知记录
type NotificationRecord struct {
	ID        string             `json:"id"`
	ElderlyID string             `json:"elderly_id"`
	ContactID string             `json:"contact_id"`
	SentAt    time.Time          `json:"sent_at"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
}

// LocationShareRecord 位置分享记录
type LocationShareRecord struct {
	ID         string    `json:"id"`
	ElderlyID  string    `json:"elderly_id"`
	SharedAt   time.Time `json:"shared_at"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Address    *string   `json:"address,omitempty"`
	ContactIDs []string  `json:"contact_ids"`
}

// Float64Ptr 辅助函数
func Float64Ptr(v float64) *float64 {
	return &v
}

// StringPtr 辅助函数
func StringPtr(v string) *string {
	return &v
}
