package service

import (
	"errors"
	"time"

	"groupchat/internal/clock"
	"groupchat/internal/events"
	"groupchat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	maxBanReason = 512
	// 约 100 年，保证 time.Duration 不溢出。
	maxBanSeconds = 100 * 365 * 24 * 3600
)

// BanService 管理组级与频道级封禁。同一 (user, group, channel) 至多一条记录，
// 由 idx_ban_scope 唯一索引保证。
type BanService struct {
	db     *gorm.DB
	access *AccessService
	fanout Fanout
	clock  clock.Clock
}

func NewBanService(db *gorm.DB, access *AccessService, fanout Fanout, clk clock.Clock) *BanService {
	return &BanService{db: db, access: access, fanout: fanout, clock: clk}
}

type CreateBanInput struct {
	GroupID         uint
	UserID          uint
	ChannelID       *uint
	Reason          string
	DurationSeconds int
}

type UpdateBanInput struct {
	Reason          *string
	DurationSeconds *int
}

// BanFilter 的零值字段表示不限制。
type BanFilter struct {
	GroupID   uint
	ChannelID uint
	UserID    uint
}

func validateDuration(seconds int) error {
	if seconds == models.PermanentDuration {
		return nil
	}
	if seconds <= 0 {
		return invalid("duration must be positive or -1 for permanent")
	}
	if seconds > maxBanSeconds {
		return invalid("duration too large")
	}
	return nil
}

func (s *BanService) expiry(now time.Time, seconds int) *time.Time {
	if seconds == models.PermanentDuration {
		return nil
	}
	t := now.Add(time.Duration(seconds) * time.Second)
	return &t
}

// Create 创建封禁。已存在有效封禁时返回 ErrBanConflict；
// 同一范围内已过期但尚未清理的记录会先被删除并推送 banDeleted。
func (s *BanService) Create(actorID uint, in CreateBanInput) (*models.Ban, error) {
	if err := validateDuration(in.DurationSeconds); err != nil {
		return nil, err
	}
	if len(in.Reason) > maxBanReason {
		return nil, invalid("reason too long")
	}
	if in.UserID == 0 {
		return nil, invalid("user_id is required")
	}
	if in.UserID == actorID {
		return nil, invalid("cannot ban yourself")
	}
	if _, err := s.access.RequireRole(actorID, in.GroupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	if in.ChannelID != nil {
		var count int64
		if err := s.db.Model(&models.Channel{}).Where("id = ? AND group_id = ?", *in.ChannelID, in.GroupID).Count(&count).Error; err != nil {
			return nil, internal(err)
		}
		if count == 0 {
			return nil, ErrChannelNotFound
		}
	}
	if err := s.checkTarget(in.UserID, in.GroupID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.retireExpired(in.UserID, in.GroupID, in.ChannelID, now); err != nil {
		return nil, err
	}

	ban := models.Ban{
		UserID:    in.UserID,
		GroupID:   in.GroupID,
		ChannelID: in.ChannelID,
		ScopeKey:  models.ScopeKeyFor(in.ChannelID),
		Reason:    in.Reason,
		IssuedBy:  actorID,
		IssuedAt:  now,
		ExpiresAt: s.expiry(now, in.DurationSeconds),
	}
	if err := s.db.Create(&ban).Error; err != nil {
		// 并发创建时唯一索引冲突，重新检查以区分冲突与存储错误
		if active, _ := s.access.ActiveBan(in.UserID, in.GroupID, in.ChannelID); active != nil {
			return nil, ErrBanConflict
		}
		return nil, internal(err)
	}

	s.fanout.Publish(events.BanEvent{Action: events.Created, Ban: ban})
	s.evict(ban)
	return &ban, nil
}

// checkTarget 要求被封禁用户存在且不是群组的 super。
func (s *BanService) checkTarget(userID, groupID uint) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return internal(err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	var m models.Membership
	err := s.db.Where("user_id = ? AND group_id = ?", userID, groupID).First(&m).Error
	if err == nil && m.Role == models.RoleSuper {
		return ErrSuperImmutable
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return internal(err)
	}
	return nil
}

func (s *BanService) retireExpired(userID, groupID uint, channelID *uint, now time.Time) error {
	var existing models.Ban
	err := s.db.Where("user_id = ? AND group_id = ? AND scope_key = ?", userID, groupID, models.ScopeKeyFor(channelID)).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return internal(err)
	}
	if existing.ActiveAt(now) {
		return ErrBanConflict
	}
	res := s.db.Where("id = ?", existing.ID).Delete(&models.Ban{})
	if res.Error != nil {
		return internal(res.Error)
	}
	if res.RowsAffected > 0 {
		s.fanout.Publish(events.BanEvent{Action: events.Deleted, Ban: existing})
	}
	return nil
}

// evict 让被封禁用户的连接离开受影响的频道房间。
func (s *BanService) evict(ban models.Ban) {
	if !ban.ActiveAt(s.clock.Now()) {
		return
	}
	if ban.ChannelID != nil {
		s.fanout.EvictUser(ban.UserID, events.ChannelRoom(*ban.ChannelID))
		return
	}
	ids, err := s.access.groupChannelIDs(ban.GroupID)
	if err != nil {
		log.Warn().Err(err).Uint("group_id", ban.GroupID).Msg("evict banned user")
		return
	}
	rooms := make([]events.Room, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, events.ChannelRoom(id))
	}
	s.fanout.EvictUser(ban.UserID, rooms...)
}

func (s *BanService) load(banID uint) (*models.Ban, error) {
	var ban models.Ban
	if err := s.db.First(&ban, banID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBanNotFound
		}
		return nil, internal(err)
	}
	return &ban, nil
}

// Update 修改原因或时长；新的过期时间从当前时刻重新计算。
func (s *BanService) Update(actorID, banID uint, in UpdateBanInput) (*models.Ban, error) {
	ban, err := s.load(banID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.RequireRole(actorID, ban.GroupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Reason != nil {
		if len(*in.Reason) > maxBanReason {
			return nil, invalid("reason too long")
		}
		ban.Reason = *in.Reason
		updates["reason"] = ban.Reason
	}
	if in.DurationSeconds != nil {
		if err := validateDuration(*in.DurationSeconds); err != nil {
			return nil, err
		}
		ban.ExpiresAt = s.expiry(s.clock.Now(), *in.DurationSeconds)
		if ban.ExpiresAt == nil {
			updates["expires_at"] = nil
		} else {
			updates["expires_at"] = *ban.ExpiresAt
		}
	}
	if len(updates) == 0 {
		return ban, nil
	}
	res := s.db.Model(&models.Ban{}).Where("id = ?", ban.ID).Updates(updates)
	if res.Error != nil {
		return nil, internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrBanNotFound
	}
	s.fanout.Publish(events.BanEvent{Action: events.Updated, Ban: *ban})
	s.evict(*ban)
	return ban, nil
}

func (s *BanService) Delete(actorID, banID uint) error {
	ban, err := s.load(banID)
	if err != nil {
		return err
	}
	if _, err := s.access.RequireRole(actorID, ban.GroupID, models.RoleAdmin); err != nil {
		return err
	}
	res := s.db.Where("id = ?", ban.ID).Delete(&models.Ban{})
	if res.Error != nil {
		return internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBanNotFound
	}
	s.fanout.Publish(events.BanEvent{Action: events.Deleted, Ban: *ban})
	return nil
}

// ListActive 返回当前有效的封禁。
func (s *BanService) ListActive(actorID uint, f BanFilter) ([]models.Ban, error) {
	return s.list(actorID, f, false)
}

// ListAll 同时返回已过期但尚未清理的封禁。
func (s *BanService) ListAll(actorID uint, f BanFilter) ([]models.Ban, error) {
	return s.list(actorID, f, true)
}

// list 的授权规则：查看群组内他人的封禁需要 admin；查看自己的封禁总是允许。
func (s *BanService) list(actorID uint, f BanFilter, includeExpired bool) ([]models.Ban, error) {
	if f.ChannelID != 0 {
		var ch models.Channel
		if err := s.db.First(&ch, f.ChannelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrChannelNotFound
			}
			return nil, internal(err)
		}
		if f.GroupID != 0 && f.GroupID != ch.GroupID {
			return nil, ErrChannelNotFound
		}
		f.GroupID = ch.GroupID
	}
	switch {
	case f.GroupID == 0 && (f.UserID == 0 || f.UserID == actorID):
		f.UserID = actorID
	case f.GroupID == 0:
		return nil, invalid("group_id is required")
	case f.UserID != actorID:
		if _, err := s.access.RequireRole(actorID, f.GroupID, models.RoleAdmin); err != nil {
			return nil, err
		}
	}

	q := s.db.Model(&models.Ban{})
	if f.GroupID != 0 {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.ChannelID != 0 {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if !includeExpired {
		q = q.Where("(expires_at IS NULL OR expires_at > ?)", s.clock.Now())
	}
	bans := []models.Ban{}
	if err := q.Order("id asc").Find(&bans).Error; err != nil {
		return nil, internal(err)
	}
	return bans, nil
}

// ListExpired 返回已到期的封禁，供清理任务使用。
func (s *BanService) ListExpired() ([]models.Ban, error) {
	var bans []models.Ban
	err := s.db.Where("expires_at IS NOT NULL AND expires_at <= ?", s.clock.Now()).Order("id asc").Find(&bans).Error
	if err != nil {
		return nil, internal(err)
	}
	return bans, nil
}

// Expire 以系统身份删除一条已到期的封禁。记录已不存在或已被延期时返回 false。
func (s *BanService) Expire(ban models.Ban) (bool, error) {
	res := s.db.Where("id = ? AND expires_at IS NOT NULL AND expires_at <= ?", ban.ID, s.clock.Now()).Delete(&models.Ban{})
	if res.Error != nil {
		return false, internal(res.Error)
	}
	return res.RowsAffected > 0, nil
}
