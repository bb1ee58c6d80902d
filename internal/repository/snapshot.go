package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/store"

	"go.uber.org/zap"
)

// 集合键名（与移动端本地存储保持一致）
const (
	KeyElderly        = "elderly"
	KeyContacts       = "contacts"
	KeyCheckIns       = "checkIns"
	KeyNotifications  = "notifications"
	KeyLocationShares = "locationShares"
)

// Snapshot 五个集合的完整快照
type Snapshot struct {
	Elderly        []models.Elderly             `json:"elderly"`
	Contacts       []models.EmergencyContact    `json:"contacts"`
	CheckIns       []models.CheckInRecord       `json:"checkIns"`
	Notifications  []models.NotificationRecord  `json:"notifications"`
	LocationShares []models.LocationShareRecord `json:"locationShares"`
}

// NewSnapshot 创建空快照（所有集合非 nil，序列化为 []）
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Elderly:        []models.Elderly{},
		Contacts:       []models.EmergencyContact{},
		CheckIns:       []models.CheckInRecord{},
		Notifications:  []models.NotificationRecord{},
		LocationShares: []models.LocationShareRecord{},
	}
}

// SnapshotRepository 快照仓库：每个集合一个独立的 JSON blob
type SnapshotRepository struct {
	kv     store.KV
	prefix string
	logger *zap.Logger
}

// NewSnapshotRepository 创建快照仓库
func NewSnapshotRepository(kv store.KV, prefix string, logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		kv:     kv,
		prefix: prefix,
		logger: logger,
	}
}

// Key 返回集合的完整键名
func (r *SnapshotRepository) Key(name string) string {
	return r.prefix + name
}

// Load 读取全部集合
// 键不存在或内容无法解析时该集合为空（仅记录日志），其它存储错误直接返回
func (r *SnapshotRepository) Load(ctx context.Context) (*Snapshot, error) {
	var (
		snap = NewSnapshot()
		err  error
	)

	if snap.Elderly, err = loadCollection[models.Elderly](ctx, r, KeyElderly); err != nil {
		return nil, err
	}
	if snap.Contacts, err = loadCollection[models.EmergencyContact](ctx, r, KeyContacts); err != nil {
		return nil, err
	}
	if snap.CheckIns, err = loadCollection[models.CheckInRecord](ctx, r, KeyCheckIns); err != nil {
		return nil, err
	}
	if snap.Notifications, err = loadCollection[models.NotificationRecord](ctx, r, KeyNotifications); err != nil {
		return nil, err
	}
	if snap.LocationShares, err = loadCollection[models.LocationShareRecord](ctx, r, KeyLocationShares); err != nil {
		return nil, err
	}

	r.logger.Debug("Loaded snapshot",
		zap.Int("elderly", len(snap.Elderly)),
		zap.Int("contacts", len(snap.Contacts)),
		zap.Int("check_ins", len(snap.CheckIns)),
		zap.Int("notifications", len(snap.Notifications)),
		zap.Int("location_shares", len(snap.LocationShares)),
	)

	return snap, nil
}

func loadCollection[T any](ctx context.Context, r *SnapshotRepository, name string) ([]T, error) {
	key := r.Key(name)
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.logger.Warn("Discarding undecodable collection",
			zap.String("key", key),
			zap.Error(err),
		)
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Save 全量写入五个集合
// 每个键都会尝试写入，任意失败都会以合并错误返回（集合之间没有事务隔离）
func (r *SnapshotRepository) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		snap = NewSnapshot()
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(saveCollection(ctx, r, KeyElderly, snap.Elderly))
	collect(saveCollection(ctx, r, KeyContacts, snap.Contacts))
	collect(saveCollection(ctx, r, KeyCheckIns, snap.CheckIns))
	collect(saveCollection(ctx, r, KeyNotifications, snap.Notifications))
	collect(saveCollection(ctx, r, KeyLocationShares, snap.LocationShares))

	return errors.Join(errs...)
}

func saveCollection[T any](ctx context.Context, r *SnapshotRepository, name string, items []T) error {
	key := r.Key(name)
	if items == nil {
		// nil 切片写成 [] 而不是 null
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
