package share

import (
	"context"
	"fmt"
	"time"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/reminder"
	"wisefido-checkin/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ShareTitle          = "位置分享"
	EmergencyShareTitle = "紧急位置分享"
)

// Locator 一次性定位 + 逆地理编码（location.Service 实现）
type Locator interface {
	RequestCurrentPosition(ctx context.Context) (models.Coordinate, error)
	ReverseGeocode(ctx context.Context, coord models.Coordinate) (string, error)
}

// Result 一次位置分享的结果
type Result struct {
	Record    models.LocationShareRecord `json:"record"`
	Emergency bool                       `json:"emergency"`
	Content   string                     `json:"content"`
	SMS       string                     `json:"sms"`
	Delivered int                        `json:"delivered"` // 成功投递的联系人数
}

// Sharer 位置分享
type Sharer struct {
	store     service.Store
	locator   Locator
	notifiers []reminder.Notifier
	logger    *zap.Logger
}

// NewSharer 创建位置分享服务；notifiers 为空时只生成文案，不投递
func NewSharer(store service.Store, locator Locator, notifiers []reminder.Notifier, logger *zap.Logger) *Sharer {
	return &Sharer{
		store:     store,
		locator:   locator,
		notifiers: notifiers,
		logger:    logger,
	}
}

// Share 获取当前位置，记录分享并生成文案，投递给选中的联系人
// 定位失败直接返回错误；逆地理编码失败时省略地址
func (s *Sharer) Share(ctx context.Context, elderlyID string, contactIDs []string, emergency bool) (*Result, error) {
	person, ok := s.store.GetPerson(elderlyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrPersonNotFound, elderlyID)
	}

	contacts := make([]models.EmergencyContact, 0, len(contactIDs))
	for _, id := range contactIDs {
		contact, ok := s.store.GetContact(id)
		if !ok || contact.ElderlyID != elderlyID {
			return nil, fmt.Errorf("%w: %s", service.ErrContactNotFound, id)
		}
		contacts = append(contacts, contact)
	}

	coord, err := s.locator.RequestCurrentPosition(ctx)
	if err != nil {
		s.logger.Warn("Failed to get position for sharing",
			zap.String("elderly_id", elderlyID),
			zap.Error(err),
		)
		return nil, err
	}

	address, err := s.locator.ReverseGeocode(ctx, coord)
	if err != nil {
		s.logger.Info("Reverse geocode failed, sharing without address",
			zap.String("elderly_id", elderlyID),
			zap.Error(err),
		)
		address = ""
	}

	now := s.store.Now().In(s.store.Location())
	record := models.LocationShareRecord{
		ID:         uuid.New().String(),
		ElderlyID:  elderlyID,
		SharedAt:   now,
		Latitude:   coord.Latitude,
		Longitude:  coord.Longitude,
		ContactIDs: append([]string{}, contactIDs...),
	}
	if address != "" {
		record.Address = models.StringPtr(address)
	}
	if err := s.store.AddLocationShare(ctx, record); err != nil {
		return nil, err
	}

	result := &Result{
		Record:    record,
		Emergency: emergency,
		SMS:       SMSContent(person, coord, address, now),
	}
	title := ShareTitle
	if emergency {
		title = EmergencyShareTitle
		result.Content = EmergencyContent(person, coord, address, now)
	} else {
		result.Content = Content(person, coord, address, now)
	}

	if len(s.notifiers) > 0 {
		result.Delivered = s.deliver(ctx, person, contacts, title, result.SMS, now)
	}

	s.logger.Info("Location shared",
		zap.String("elderly_id", elderlyID),
		zap.Bool("emergency", emergency),
		zap.Int("contacts", len(contacts)),
		zap.Int("delivered", result.Delivered),
	)
	return result, nil
}

func (s *Sharer) deliver(ctx context.Context, person models.Elderly, contacts []models.EmergencyContact, title, body string, now time.Time) int {
	delivered := 0
	for _, contact := range contacts {
		n := reminder.Notification{
			Kind:         reminder.KindLocation,
			ElderlyID:    person.ID,
			ElderlyName:  person.Name,
			ContactID:    contact.ID,
			ContactPhone: contact.Phone,
			Title:        title,
			Body:         body,
			FireAt:       now,
		}

		status := models.NotificationFailed
		if reminder.Deliver(ctx, s.notifiers, n, s.logger) {
			status = models.NotificationSent
			delivered++
		}

		record := models.NotificationRecord{
			ElderlyID: person.ID,
			ContactID: contact.ID,
			SentAt:    now,
			Message:   body,
			Status:    status,
		}
		if err := s.store.RecordNotification(ctx, record); err != nil {
			s.logger.Error("Failed to record share notification",
				zap.String("elderly_id", person.ID),
				zap.String("contact_id", contact.ID),
				zap.Error(err),
			)
		}
	}
	return delivered
}

// CheckInWithLocation 带位置签到：定位尽力而为，失败时不带坐标签到
// 今天已签到时不再定位
func (s *Sharer) CheckInWithLocation(ctx context.Context, elderlyID, note string) (models.CheckInRecord, bool, error) {
	if s.store.HasCheckedInToday(elderlyID) {
		return s.store.CheckIn(ctx, elderlyID, note, nil, nil)
	}

	var latitude, longitude *float64
	coord, err := s.locator.RequestCurrentPosition(ctx)
	if err != nil {
		s.logger.Warn("Checking in without location",
			zap.String("elderly_id", elderlyID),
			zap.Error(err),
		)
	} else {
		latitude = models.Float64Ptr(coord.Latitude)
		longitude = models.Float64Ptr(coord.Longitude)
	}
	return s.store.CheckIn(ctx, elderlyID, note, latitude, longitude)
}
