package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/reminder"
	"wisefido-checkin/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPersonNotFound  = errors.New("elderly not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrInvalidPerson   = errors.New("invalid elderly")
	ErrInvalidContact  = errors.New("invalid contact")
)

// Stats 签到统计
type Stats struct {
	Total      int `json:"total"`
	Last7Days  int `json:"last_7_days"`
	Last30Days int `json:"last_30_days"`
}

// Persister 快照持久化（SnapshotRepository 实现）
type Persister interface {
	Load(ctx context.Context) (*repository.Snapshot, error)
	Save(ctx context.Context, snap *repository.Snapshot) error
}

// Store 签到存储对外接口（HTTP、位置分享、漏签升级依赖它）
type Store interface {
	AddPerson(ctx context.Context, person models.Elderly) error
	UpdatePerson(ctx context.Context, person models.Elderly) error
	DeletePerson(ctx context.Context, elderlyID string) error
	GetPerson(elderlyID string) (models.Elderly, bool)
	ListPersons() []models.Elderly

	AddContact(ctx context.Context, contact models.EmergencyContact) error
	UpdateContact(ctx context.Context, contact models.EmergencyContact) error
	DeleteContact(ctx context.Context, contact models.EmergencyContact) error
	GetContact(contactID string) (models.EmergencyContact, bool)
	GetContacts(elderlyID string) []models.EmergencyContact

	CheckIn(ctx context.Context, elderlyID, note string, latitude, longitude *float64) (models.CheckInRecord, bool, error)
	HasCheckedInToday(elderlyID string) bool
	HasCheckedInOn(elderlyID, date string) bool
	GetHistory(elderlyID string, limit int) []models.CheckInRecord
	GetStats(elderlyID string) Stats

	AddLocationShare(ctx context.Context, record models.LocationShareRecord) error
	GetLocationShares(elderlyID string, limit int) []models.LocationShareRecord
	RecordNotification(ctx context.Context, record models.NotificationRecord) error
	GetNotifications(elderlyID string) []models.NotificationRecord

	Now() time.Time
	Location() *time.Location
}

// Option CheckInStore 可选配置
type Option func(*CheckInStore)

// WithClock 注入时钟（测试中模拟跨天）
func WithClock(now func() time.Time) Option {
	return func(s *CheckInStore) { s.now = now }
}

// WithLocation 设置判断“今天”使用的时区
func WithLocation(loc *time.Location) Option {
	return func(s *CheckInStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// CheckInStore 全部领域集合的唯一数据源
// 每次变更：更新内存 -> 全量写入持久化 -> 调整提醒
type CheckInStore struct {
	mu        sync.RWMutex
	repo      Persister
	reminders reminder.Registrar
	logger    *zap.Logger
	now       func() time.Time
	loc       *time.Location

	elderly        []models.Elderly
	contacts       []models.EmergencyContact
	checkIns       []models.CheckInRecord
	notifications  []models.NotificationRecord
	locationShares []models.LocationShareRecord
}

// NewCheckInStore 创建签到存储（由 main 显式构造）
func NewCheckInStore(repo Persister, reminders reminder.Registrar, logger *zap.Logger, opts ...Option) *CheckInStore {
	s := &CheckInStore{
		repo:           repo,
		reminders:      reminders,
		logger:         logger,
		now:            time.Now,
		loc:            time.Local,
		elderly:        []models.Elderly{},
		contacts:       []models.EmergencyContact{},
		checkIns:       []models.CheckInRecord{},
		notifications:  []models.NotificationRecord{},
		locationShares: []models.LocationShareRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 从持久化恢复全部集合，并为每位老人重新注册提醒
func (s *CheckInStore) Load(ctx context.Context) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.elderly = snap.Elderly
	s.contacts = snap.Contacts
	s.checkIns = snap.CheckIns
	s.notifications = snap.Notifications
	s.locationShares = snap.LocationShares

	scheduled := 0
	for _, person := range s.elderly {
		if s.reminders.Schedule(person) {
			scheduled++
		}
	}

	s.logger.Info("Check-in store loaded",
		zap.Int("elderly", len(s.elderly)),
		zap.Int("check_ins", len(s.checkIns)),
		zap.Int("reminders", scheduled),
	)
	return nil
}

// Now 当前时间（注入的时钟）
func (s *CheckInStore) Now() time.Time {
	return s.now()
}

// Location 判断日期使用的时区
func (s *CheckInStore) Location() *time.Location {
	return s.loc
}

// Today 今天的日期字符串 yyyy-MM-dd
func (s *CheckInStore) Today() string {
	return models.DateString(s.now(), s.loc)
}

// ============================================
// 老人管理
// ============================================

// AddPerson 添加老人；签到时间非法时仍然保存，只是不注册提醒
func (s *CheckInStore) AddPerson(ctx context.Context, person models.Elderly) error {
	if err := validatePerson(person); err != nil {
		return err
	}
	if person.ID == "" {
		person.ID = uuid.New().String()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfPerson(person.ID) >= 0 {
		s.logger.Warn("Adding elderly with duplicate id", zap.String("elderly_id", person.ID))
	}
	s.elderly = append(s.elderly, person)

	err := s.persistLocked(ctx, "add_person")
	s.reminders.Schedule(person)
	return err
}

// UpdatePerson 按 ID 替换；不存在时为空操作
func (s *CheckInStore) UpdatePerson(ctx context.Context, person models.Elderly) error {
	if err := validatePerson(person); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfPerson(person.ID)
	if idx < 0 {
		return nil
	}
	s.elderly[idx] = person

	err := s.persistLocked(ctx, "update_person")
	s.reminders.Schedule(person)
	return err
}

// DeletePerson 删除老人，并级联删除其联系人、签到、位置分享和通知记录
func (s *CheckInStore) DeletePerson(ctx context.Context, elderlyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elderly = filter(s.elderly, func(e models.Elderly) bool { return e.ID != elderlyID })
	s.contacts = filter(s.contacts, func(c models.EmergencyContact) bool { return c.ElderlyID != elderlyID })
	s.checkIns = filter(s.checkIns, func(r models.CheckInRecord) bool { return r.ElderlyID != elderlyID })
	s.locationShares = filter(s.locationShares, func(r models.LocationShareRecord) bool { return r.ElderlyID != elderlyID })
	s.notifications = filter(s.notifications, func(r models.NotificationRecord) bool { return r.ElderlyID != elderlyID })

	err := s.persistLocked(ctx, "delete_person")
	s.reminders.Cancel(elderlyID)
	return err
}

// GetPerson 按 ID 查询老人
func (s *CheckInStore) GetPerson(elderlyID string) (models.Elderly, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfPerson(elderlyID)
	if idx < 0 {
		return models.Elderly{}, false
	}
	return s.elderly[idx], true
}

// ListPersons 全部老人（插入顺序）
func (s *CheckInStore) ListPersons() []models.Elderly {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Elderly{}, s.elderly...)
}

// ============================================
// 紧急联系人管理
// ============================================

// AddContact 添加联系人
func (s *CheckInStore) AddContact(ctx context.Context, contact models.EmergencyContact) error {
	if contact.Name == "" || contact.Phone == "" {
		return fmt.Errorf("%w: name and phone are required", ErrInvalidContact)
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfPerson(contact.ElderlyID) < 0 {
		return fmt.Errorf("%w: %s", ErrPersonNotFound, contact.ElderlyID)
	}
	s.contacts = append(s.contacts, contact)
	return s.persistLocked(ctx, "add_contact")
}

// UpdateContact 按 ID 替换联系人；不存在时为空操作
// 校验规则与 AddContact 相同，目标老人必须存在
func (s *CheckInStore) UpdateContact(ctx context.Context, contact models.EmergencyContact) error {
	if contact.Name == "" || contact.Phone == "" {
		return fmt.Errorf("%w: name and phone are required", ErrInvalidContact)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.contacts {
		if s.contacts[i].ID != contact.ID {
			continue
		}
		if s.indexOfPerson(contact.ElderlyID) < 0 {
			return fmt.Errorf("%w: %s", ErrPersonNotFound, contact.ElderlyID)
		}
		s.contacts[i] = contact
		return s.persistLocked(ctx, "update_contact")
	}
	return nil
}

// DeleteContact 删除联系人
func (s *CheckInStore) DeleteContact(ctx context.Context, contact models.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = filter(s.contacts, func(c models.EmergencyContact) bool { return c.ID != contact.ID })
	return s.persistLocked(ctx, "delete_contact")
}

// GetContact 按 ID 查询联系人
func (s *CheckInStore) GetContact(contactID string) (models.EmergencyContact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contacts {
		if c.ID == contactID {
			return c, true
		}
	}
	return models.EmergencyContact{}, false
}

// GetContacts 老人的全部联系人（插入顺序）
func (s *CheckInStore) GetContacts(elderlyID string) []models.EmergencyContact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filter(s.contacts, func(c models.EmergencyContact) bool { return c.ElderlyID == elderlyID })
}

// ============================================
// 签到管理
// ============================================

// CheckIn 今日签到
// 今天已签到时静默返回已有记录（created=false），不会产生重复记录
// 签到后不取消当天提醒
func (s *CheckInStore) CheckIn(ctx context.Context, elderlyID, note string, latitude, longitude *float64) (models.CheckInRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfPerson(elderlyID) < 0 {
		return models.CheckInRecord{}, false, fmt.Errorf("%w: %s", ErrPersonNotFound, elderlyID)
	}

	now := s.now()
	today := models.DateString(now, s.loc)
	if existing, ok := s.findCheckInLocked(elderlyID, today); ok {
		return existing, false, nil
	}

	if (latitude == nil) != (longitude == nil) {
		s.logger.Warn("Dropping incomplete check-in coordinates", zap.String("elderly_id", elderlyID))
		latitude, longitude = nil, nil
	}

	record := models.CheckInRecord{
		ID:          uuid.New().String(),
		ElderlyID:   elderlyID,
		CheckInTime: now,
		Note:        note,
		Latitude:    latitude,
		Longitude:   longitude,
	}
	s.checkIns = append(s.checkIns, record)

	s.logger.Info("Checked in",
		zap.String("elderly_id", elderlyID),
		zap.String("date", today),
		zap.Bool("with_location", record.HasLocation()),
	)

	return record, true, s.persistLocked(ctx, "check_in")
}

// HasCheckedInToday 今天是否已签到
func (s *CheckInStore) HasCheckedInToday(elderlyID string) bool {
	return s.HasCheckedInOn(elderlyID, s.Today())
}

// HasCheckedInOn 指定日期（yyyy-MM-dd）是否已签到
func (s *CheckInStore) HasCheckedInOn(elderlyID, date string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.findCheckInLocked(elderlyID, date)
	return ok
}

// GetHistory 签到历史，按时间倒序；limit <= 0 表示不限制
func (s *CheckInStore) GetHistory(elderlyID string, limit int) []models.CheckInRecord {
	s.mu.RLock()
	records := filter(s.checkIns, func(r models.CheckInRecord) bool { return r.ElderlyID == elderlyID })
	s.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CheckInTime.After(records[j].CheckInTime)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// GetStats 签到统计；近 7/30 天按自然日差计算，边界包含在内
func (s *CheckInStore) GetStats(elderlyID string) Stats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, r := range s.checkIns {
		if r.ElderlyID != elderlyID {
			continue
		}
		stats.Total++
		days := CalendarDaysBetween(r.CheckInTime, now, s.loc)
		if days <= 7 {
			stats.Last7Days++
		}
		if days <= 30 {
			stats.Last30Days++
		}
	}
	return stats
}

// CalendarDaysBetween from 到 to 之间相差的自然日数（按 loc 的日历日期，与时分无关）
func CalendarDaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// ============================================
// 位置分享与通知记录
// ============================================

// AddLocationShare 保存一次位置分享
func (s *CheckInStore) AddLocationShare(ctx context.Context, record models.LocationShareRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.SharedAt.IsZero() {
		record.SharedAt = s.now()
	}
	if record.ContactIDs == nil {
		record.ContactIDs = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfPerson(record.ElderlyID) < 0 {
		return fmt.Errorf("%w: %s", ErrPersonNotFound, record.ElderlyID)
	}
	s.locationShares = append(s.locationShares, record)
	return s.persistLocked(ctx, "add_location_share")
}

// GetLocationShares 位置分享记录，按时间倒序；limit <= 0 表示不限制
func (s *CheckInStore) GetLocationShares(elderlyID string, limit int) []models.LocationShareRecord {
	s.mu.RLock()
	records := filter(s.locationShares, func(r models.LocationShareRecord) bool { return r.ElderlyID == elderlyID })
	s.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SharedAt.After(records[j].SharedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// RecordNotification 保存一条通知记录
func (s *CheckInStore) RecordNotification(ctx context.Context, record models.NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.SentAt.IsZero() {
		record.SentAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, record)
	return s.persistLocked(ctx, "record_notification")
}

// GetNotifications 老人的通知记录（插入顺序）
func (s *CheckInStore) GetNotifications(elderlyID string) []models.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filter(s.notifications, func(r models.NotificationRecord) bool { return r.ElderlyID == elderlyID })
}

// Snapshot 当前全部集合的拷贝
func (s *CheckInStore) Snapshot() *repository.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(true)
}

// ============================================
// 内部方法
// ============================================

// persistLocked 全量写入；失败时内存状态已领先于持久化状态，记录日志并返回错误
func (s *CheckInStore) persistLocked(ctx context.Context, op string) error {
	if err := s.repo.Save(ctx, s.snapshotLocked(false)); err != nil {
		s.logger.Error("Failed to persist check-in store",
			zap.String("op", op),
			zap.Error(err),
		)
		return fmt.Errorf("failed to persist after %s: %w", op, err)
	}
	return nil
}

func (s *CheckInStore) snapshotLocked(deep bool) *repository.Snapshot {
	if !deep {
		return &repository.Snapshot{
			Elderly:        s.elderly,
			Contacts:       s.contacts,
			CheckIns:       s.checkIns,
			Notifications:  s.notifications,
			LocationShares: s.locationShares,
		}
	}
	return &repository.Snapshot{
		Elderly:        append([]models.Elderly{}, s.elderly...),
		Contacts:       append([]models.EmergencyContact{}, s.contacts...),
		CheckIns:       append([]models.CheckInRecord{}, s.checkIns...),
		Notifications:  append([]models.NotificationRecord{}, s.notifications...),
		LocationShares: append([]models.LocationShareRecord{}, s.locationShares...),
	}
}

func (s *CheckInStore) indexOfPerson(elderlyID string) int {
	for i, e := range s.elderly {
		if e.ID == elderlyID {
			return i
		}
	}
	return -1
}

func (s *CheckInStore) findCheckInLocked(elderlyID, date string) (models.CheckInRecord, bool) {
	for _, r := range s.checkIns {
		if r.ElderlyID == elderlyID && r.DateString(s.loc) == date {
			return r, true
		}
	}
	return models.CheckInRecord{}, false
}

// validatePerson 坐标必须成对；签到时间非法不在这里拒绝（只影响提醒）
func validatePerson(person models.Elderly) error {
	if person.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPerson)
	}
	if err := person.Validate(); err != nil && !errors.Is(err, models.ErrInvalidCheckTime) {
		return fmt.Errorf("%w: %v", ErrInvalidPerson, err)
	}
	return nil
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
