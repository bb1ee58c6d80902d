package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCheckTime 默认每日签到提醒时间
const DefaultCheckTime = "20:00"

var (
	// ErrInvalidCheckTime 签到时间不是合法的 "HH:mm"
	ErrInvalidCheckTime = errors.New("invalid check time")
	// ErrInvalidCoordinates 经纬度必须同时存在或同时缺省
	ErrInvalidCoordinates = errors.New("latitude and longitude must be set together")
)

// Elderly 老人信息（被看护人）
type Elderly struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Latitude  *float64  `json:"latitude,omitempty"`  // 家庭住址纬度（可选）
	Longitude *float64  `json:"longitude,omitempty"` // 家庭住址经度（可选）
	CheckTime string    `json:"check_time"`          // 每日检查时间 格式: "HH:mm"
	CreatedAt time.Time `json:"created_at"`
}

// NewElderly 创建老人记录（生成 UUID，填充默认签到时间）
func NewElderly(name, phone, address string) Elderly {
	return Elderly{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     phone,
		Address:   address,
		CheckTime: DefaultCheckTime,
		CreatedAt: time.Now(),
	}
}

// HasHomeLocation 是否设置了家庭坐标
func (e Elderly) HasHomeLocation() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// HomeLocation 返回家庭坐标（未设置时 ok=false）
func (e Elderly) HomeLocation() (Coordinate, bool) {
	if !e.HasHomeLocation() {
		return Coordinate{}, false
	}
	return Coordinate{Latitude: *e.Latitude, Longitude: *e.Longitude}, true
}

// Validate 校验坐标成对出现、签到时间可解析
func (e Elderly) Validate() error {
	if (e.Latitude == nil) != (e.Longitude == nil) {
		return ErrInvalidCoordinates
	}
	if _, _, err := ParseCheckTime(e.CheckTime); err != nil {
		return err
	}
	return nil
}

// ParseCheckTime 解析 "HH:mm"
// 必须恰好两段冒号分隔的整数，允许不补零（"9:5" 合法）
func ParseCheckTime(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCheckTime, s)
	}
	hour, err = parseClockField(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCheckTime, s)
	}
	minute, err = parseClockField(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCheckTime, s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q out of range", ErrInvalidCheckTime, s)
	}
	return hour, minute, nil
}

func parseClockField(s string) (int, error) {
	if s == "" || strings.ContainsAny(s, "+- ") {
		return 0, ErrInvalidCheckTime
	}
	return strconv.Atoi(s)
}
