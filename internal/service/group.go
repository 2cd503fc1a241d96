package service

import (
	"errors"
	"strings"
	"unicode/utf8"

	"groupchat/internal/events"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

const (
	maxGroupName       = 128
	defaultChannelName = "Default"
)

// GroupService 管理群组及其成员关系。
type GroupService struct {
	db     *gorm.DB
	access *AccessService
	fanout Fanout
}

func NewGroupService(db *gorm.DB, access *AccessService, fanout Fanout) *GroupService {
	return &GroupService{db: db, access: access, fanout: fanout}
}

type UpdateGroupInput struct {
	Name *string
	Icon *string
}

// MemberDTO 是成员列表中的一项。
type MemberDTO struct {
	UserID      uint        `json:"user_id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	Avatar      string      `json:"avatar"`
	Status      string      `json:"status"`
	Role        models.Role `json:"role"`
	Online      bool        `json:"online"`
}

func cleanName(name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name is required")
	}
	if utf8.RuneCountInString(name) > max {
		return "", invalid("name too long")
	}
	return name, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// Create 在一个事务中创建群组、默认频道以及创建者的 super 成员关系。
func (s *GroupService) Create(actorID uint, name, icon string) (*models.Group, error) {
	name, err := cleanName(name, maxGroupName)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.Model(&models.Group{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, internal(err)
	}
	if count > 0 {
		return nil, ErrGroupNameTaken
	}

	group := models.Group{Name: name, Icon: icon, CreatedBy: actorID}
	var channel models.Channel
	var member models.Membership
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		channel = models.Channel{GroupID: group.ID, Name: defaultChannelName, CreatedBy: actorID}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		member = models.Membership{UserID: actorID, GroupID: group.ID, Role: models.RoleSuper}
		return tx.Create(&member).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrGroupNameTaken
		}
		return nil, internal(err)
	}

	s.fanout.JoinUser(actorID, events.GroupRoom(group.ID))
	s.fanout.Publish(events.GroupEvent{Action: events.Created, Group: group})
	s.fanout.Publish(events.MembershipEvent{Action: events.Created, Membership: member})
	s.fanout.Publish(events.ChannelEvent{Action: events.Created, Channel: channel})
	return &group, nil
}

// ListForUser 返回用户所在的全部群组。
func (s *GroupService) ListForUser(userID uint) ([]models.Group, error) {
	ids, err := s.access.GroupIDsForUser(userID)
	if err != nil {
		return nil, err
	}
	groups := []models.Group{}
	if len(ids) == 0 {
		return groups, nil
	}
	if err := s.db.Where("id IN ?", ids).Order("id asc").Find(&groups).Error; err != nil {
		return nil, internal(err)
	}
	return groups, nil
}

func (s *GroupService) load(groupID uint) (*models.Group, error) {
	var g models.Group
	if err := s.db.First(&g, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, internal(err)
	}
	return &g, nil
}

// Get 仅对成员可见。
func (s *GroupService) Get(actorID, groupID uint) (*models.Group, error) {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleUser); err != nil {
		return nil, err
	}
	return s.load(groupID)
}

func (s *GroupService) Update(actorID, groupID uint, in UpdateGroupInput) (*models.Group, error) {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	g, err := s.load(groupID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Name != nil {
		name, err := cleanName(*in.Name, maxGroupName)
		if err != nil {
			return nil, err
		}
		if name != g.Name {
			var count int64
			if err := s.db.Model(&models.Group{}).Where("name = ? AND id <> ?", name, g.ID).Count(&count).Error; err != nil {
				return nil, internal(err)
			}
			if count > 0 {
				return nil, ErrGroupNameTaken
			}
		}
		g.Name = name
		updates["name"] = name
	}
	if in.Icon != nil {
		g.Icon = *in.Icon
		updates["icon"] = g.Icon
	}
	if len(updates) == 0 {
		return g, nil
	}
	if err := s.db.Model(g).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrGroupNameTaken
		}
		return nil, internal(err)
	}
	s.fanout.Publish(events.GroupEvent{Action: events.Updated, Group: *g})
	return g, nil
}

// Delete 级联删除群组的消息、封禁、频道与成员关系，随后关闭相关房间。
func (s *GroupService) Delete(actorID, groupID uint) error {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleSuper); err != nil {
		return err
	}
	g, err := s.load(groupID)
	if err != nil {
		return err
	}
	channelIDs, err := s.access.groupChannelIDs(groupID)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if len(channelIDs) > 0 {
			if err := tx.Where("channel_id IN ?", channelIDs).Delete(&models.Message{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Ban{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Channel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, groupID).Error
	})
	if err != nil {
		return internal(err)
	}

	s.fanout.Publish(events.GroupEvent{Action: events.Deleted, Group: *g})
	for _, id := range channelIDs {
		s.fanout.CloseRoom(events.ChannelRoom(id))
	}
	s.fanout.CloseRoom(events.GroupRoom(groupID))
	return nil
}

// Members 返回群组成员及其角色与在线状态。
func (s *GroupService) Members(actorID, groupID uint) ([]MemberDTO, error) {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleUser); err != nil {
		return nil, err
	}
	return s.members(groupID, nil)
}

// members 返回群组成员；skip 非空时跳过其中的用户。
func (s *GroupService) members(groupID uint, skip map[uint]bool) ([]MemberDTO, error) {
	var ms []models.Membership
	if err := s.db.Where("group_id = ?", groupID).Order("id asc").Find(&ms).Error; err != nil {
		return nil, internal(err)
	}
	ids := make([]uint, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	users := make(map[uint]models.User, len(ids))
	if len(ids) > 0 {
		var list []models.User
		if err := s.db.Where("id IN ?", ids).Find(&list).Error; err != nil {
			return nil, internal(err)
		}
		for _, u := range list {
			users[u.ID] = u
		}
	}
	out := make([]MemberDTO, 0, len(ms))
	for _, m := range ms {
		u, ok := users[m.UserID]
		if !ok || skip[m.UserID] {
			continue
		}
		out = append(out, MemberDTO{
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Avatar:      u.Avatar,
			Status:      u.Status,
			Role:        m.Role,
			Online:      s.fanout.Online(u.ID),
		})
	}
	return out, nil
}

// Invite 把用户以普通成员身份加入群组。有组级有效封禁的用户不能被邀请。
func (s *GroupService) Invite(actorID, groupID, userID uint) (*models.Membership, error) {
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleAdmin); err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return nil, internal(err)
	}
	if count == 0 {
		return nil, ErrUserNotFound
	}
	ban, err := s.access.ActiveBan(userID, groupID, nil)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, ErrBanned
	}
	if _, err := s.access.membership(userID, groupID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotMember) {
		return nil, err
	}

	m := models.Membership{UserID: userID, GroupID: groupID, Role: models.RoleUser}
	if err := s.db.Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, internal(err)
	}
	s.fanout.JoinUser(userID, events.GroupRoom(groupID))
	s.fanout.Publish(events.MembershipEvent{Action: events.Created, Membership: m})
	return &m, nil
}

// SetRole 只能由 super 在 user 与 admin 之间调整，super 自身不可被修改。
func (s *GroupService) SetRole(actorID, groupID, userID uint, role models.Role) (*models.Membership, error) {
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, invalid("role must be user or admin")
	}
	if _, err := s.access.RequireRole(actorID, groupID, models.RoleSuper); err != nil {
		return nil, err
	}
	m, err := s.access.membership(userID, groupID)
	if errors.Is(err, ErrNotMember) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Role == models.RoleSuper {
		return nil, ErrSuperImmutable
	}
	if m.Role == role {
		return m, nil
	}
	m.Role = role
	if err := s.db.Model(m).Update("role", role).Error; err != nil {
		return nil, internal(err)
	}
	s.fanout.Publish(events.MembershipEvent{Action: events.Updated, Membership: *m})
	return m, nil
}

// RemoveMember 移除成员或主动退出。移除 admin 需要 super；super 永远不能通过此途径移除。
func (s *GroupService) RemoveMember(actorID, groupID, userID uint) error {
	target, err := s.access.membership(userID, groupID)
	if actorID == userID {
		if err != nil {
			return err
		}
		if target.Role == models.RoleSuper {
			return ErrSuperImmutable
		}
	} else {
		actor, aerr := s.access.RequireRole(actorID, groupID, models.RoleAdmin)
		if aerr != nil {
			return aerr
		}
		if errors.Is(err, ErrNotMember) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if target.Role == models.RoleSuper {
			return ErrSuperImmutable
		}
		if target.Role == models.RoleAdmin && actor.Role != models.RoleSuper {
			return ErrInsufficientRole
		}
	}

	res := s.db.Where("id = ?", target.ID).Delete(&models.Membership{})
	if res.Error != nil {
		return internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.fanout.Publish(events.MembershipEvent{Action: events.Deleted, Membership: *target})
	s.fanout.EvictUser(userID, s.access.groupRooms(groupID)...)
	return nil
}
