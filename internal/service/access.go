package service

import (
	"errors"

	"groupchat/internal/clock"
	"groupchat/internal/events"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

// AccessService 对每个请求重新计算成员资格与封禁状态，不做缓存。
type AccessService struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewAccessService(db *gorm.DB, clk clock.Clock) *AccessService {
	return &AccessService{db: db, clock: clk}
}

// ChannelAccess 是通过频道访问检查后得到的上下文。
type ChannelAccess struct {
	Channel models.Channel
	GroupID uint
}

// CanAccessChannel 依次检查频道与群组存在、成员资格、覆盖该频道的有效封禁。
func (s *AccessService) CanAccessChannel(userID, channelID uint) (*ChannelAccess, error) {
	var ch models.Channel
	if err := s.db.First(&ch, channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, internal(err)
	}
	var count int64
	if err := s.db.Model(&models.Group{}).Where("id = ?", ch.GroupID).Count(&count).Error; err != nil {
		return nil, internal(err)
	}
	if count == 0 {
		return nil, ErrChannelNotFound
	}
	if _, err := s.membership(userID, ch.GroupID); err != nil {
		return nil, err
	}
	banned, err := s.bannedFrom(userID, ch.GroupID, ch.ID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrBanned
	}
	return &ChannelAccess{Channel: ch, GroupID: ch.GroupID}, nil
}

// RequireRole 要求用户在群组中的角色不低于 min。
// 非成员统一返回 ErrNotMember，不暴露群组是否存在。
func (s *AccessService) RequireRole(userID, groupID uint, min models.Role) (*models.Membership, error) {
	m, err := s.membership(userID, groupID)
	if err != nil {
		return nil, err
	}
	if !m.Role.AtLeast(min) {
		return nil, ErrInsufficientRole
	}
	return m, nil
}

func (s *AccessService) membership(userID, groupID uint) (*models.Membership, error) {
	var m models.Membership
	err := s.db.Where("user_id = ? AND group_id = ?", userID, groupID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, internal(err)
	}
	return &m, nil
}

// bannedFrom 判断是否存在覆盖该频道的有效封禁（组级或该频道）。
func (s *AccessService) bannedFrom(userID, groupID, channelID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.Ban{}).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Where("(channel_id IS NULL OR channel_id = ?)", channelID).
		Where("(expires_at IS NULL OR expires_at > ?)", s.clock.Now()).
		Count(&count).Error
	if err != nil {
		return false, internal(err)
	}
	return count > 0, nil
}

// ActiveBan 返回精确范围内的有效封禁；channelID 为 nil 表示组级。没有时返回 nil。
func (s *AccessService) ActiveBan(userID, groupID uint, channelID *uint) (*models.Ban, error) {
	var ban models.Ban
	err := s.db.Where("user_id = ? AND group_id = ? AND scope_key = ?", userID, groupID, models.ScopeKeyFor(channelID)).
		First(&ban).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, internal(err)
	}
	if !ban.ActiveAt(s.clock.Now()) {
		return nil, nil
	}
	return &ban, nil
}

// GroupIDsForUser 返回用户所属的全部群组，用于连接建立时加入群组房间。
func (s *AccessService) GroupIDsForUser(userID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.Model(&models.Membership{}).Where("user_id = ?", userID).Pluck("group_id", &ids).Error; err != nil {
		return nil, internal(err)
	}
	return ids, nil
}

func (s *AccessService) groupChannelIDs(groupID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.Model(&models.Channel{}).Where("group_id = ?", groupID).Pluck("id", &ids).Error; err != nil {
		return nil, internal(err)
	}
	return ids, nil
}

// groupRooms 返回群组房间及其全部频道房间；频道查询失败时只返回群组房间。
func (s *AccessService) groupRooms(groupID uint) []events.Room {
	rooms := []events.Room{events.GroupRoom(groupID)}
	if ids, err := s.groupChannelIDs(groupID); err == nil {
		for _, id := range ids {
			rooms = append(rooms, events.ChannelRoom(id))
		}
	}
	return rooms
}
