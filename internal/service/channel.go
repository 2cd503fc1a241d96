package service

import (
	"errors"
	"strings"
	"unicode/utf8"

	"groupchat/internal/clock"
	"groupchat/internal/events"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

const (
	maxChannelName        = 128
	maxChannelDescription = 512
)

// ChannelService 管理群组内的频道。
type ChannelService struct {
	db     *gorm.DB
	access *AccessService
	groups *GroupService
	fanout Fanout
	clock  clock.Clock
}

func NewChannelService(db *gorm.DB, access *AccessService, groups *GroupService, fanout Fanout, clk clock.Clock) *ChannelService {
	return &ChannelService{db: db, access: access, groups: groups, fanout: fanout, clock: clk}
}

type UpdateChannelInput struct {
	Name        *string
	Description *string
}

func cleanDescription(d string) (string, error) {
	d = strings.TrimSpace(d)
	if utf8.RuneCountInString(d) > maxChannelDescription {
		return "", invalid("description too long")
	}
	return d, nil
}

func (s *ChannelService) Create(actorID, groupID uint, name, description string) (*models.Channel, error) {
	name, err := cleanName(name, maxChannelName)
	if err != nil {
		return nil, err
	}
	description, err = cleanDescription(description)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	ch := models.Channel{GroupID: groupID, Name: name, Description: description, CreatedBy: actorID}
	if err := s.db.Create(&ch).Error; err != nil {
		return nil, internal(err)
	}
	s.fanout.Publish(events.ChannelEvent{Action: events.Created, Channel: ch})
	return &ch, nil
}

func (s *ChannelService) List(actorID, groupID uint) ([]models.Channel, error) {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleUser); err != nil {
		return nil, err
	}
	channels := []models.Channel{}
	if err := s.db.Where("group_id = ?", groupID).Order("id asc").Find(&channels).Error; err != nil {
		return nil, internal(err)
	}
	return channels, nil
}

func (s *ChannelService) load(channelID uint) (*models.Channel, error) {
	var ch models.Channel
	if err := s.db.First(&ch, channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, internal(err)
	}
	return &ch, nil
}

func (s *ChannelService) Update(actorID, channelID uint, in UpdateChannelInput) (*models.Channel, error) {
	ch, err := s.load(channelID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.RequireRole(actorID, ch.GroupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Name != nil {
		name, err := cleanName(*in.Name, maxChannelName)
		if err != nil {
			return nil, err
		}
		ch.Name = name
		updates["name"] = name
	}
	if in.Description != nil {
		d, err := cleanDescription(*in.Description)
		if err != nil {
			return nil, err
		}
		ch.Description = d
		updates["description"] = d
	}
	if len(updates) == 0 {
		return ch, nil
	}
	if err := s.db.Model(ch).Updates(updates).Error; err != nil {
		return nil, internal(err)
	}
	s.fanout.Publish(events.ChannelEvent{Action: events.Updated, Channel: *ch})
	return ch, nil
}

// Delete 删除频道及其消息和频道级封禁，并关闭频道房间。
func (s *ChannelService) Delete(actorID, channelID uint) error {
	ch, err := s.load(channelID)
	if err != nil {
		return err
	}
	if _, err := s.access.RequireRole(actorID, ch.GroupID, models.RoleSuper); err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", ch.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", ch.ID).Delete(&models.Ban{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Channel{}, ch.ID).Error
	})
	if err != nil {
		return internal(err)
	}
	s.fanout.Publish(events.ChannelEvent{Action: events.Deleted, Channel: *ch})
	s.fanout.CloseRoom(events.ChannelRoom(ch.ID))
	return nil
}

// Members 返回可以访问该频道的成员，即没有覆盖该频道有效封禁的群组成员。
func (s *ChannelService) Members(actorID, channelID uint) ([]MemberDTO, error) {
	acc, err := s.access.CanAccessChannel(actorID, channelID)
	if err != nil {
		return nil, err
	}
	var banned []uint
	err = s.db.Model(&models.Ban{}).
		Where("group_id = ?", acc.GroupID).
		Where("(channel_id IS NULL OR channel_id = ?)", channelID).
		Where("(expires_at IS NULL OR expires_at > ?)", s.clock.Now()).
		Pluck("user_id", &banned).Error
	if err != nil {
		return nil, internal(err)
	}
	skip := make(map[uint]bool, len(banned))
	for _, id := range banned {
		skip[id] = true
	}
	return s.groups.members(acc.GroupID, skip)
}

// Presence 返回当前加入频道房间的用户。
func (s *ChannelService) Presence(actorID, channelID uint) ([]uint, error) {
	if _, err := s.access.CanAccessChannel(actorID, channelID); err != nil {
		return nil, err
	}
	ids := s.fanout.ChannelPresence(channelID)
	if ids == nil {
		ids = []uint{}
	}
	return ids, nil
}
