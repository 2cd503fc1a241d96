// Package events 定义实时层推送给客户端的全部事件。
//
// 每类实体对应一个固定结构的事件类型，Event 接口是封闭的（只能由本包实现），
// 事件自身决定其投递房间，路由规则因此集中在一处。
package events

import (
	"encoding/json"
	"fmt"

	"groupchat/internal/models"
)

type RoomKind uint8

const (
	RoomGlobal RoomKind = iota
	RoomGroup
	RoomChannel
)

// Room 是广播范围：每个群组一个，每个频道一个，另有一个全局房间。
type Room struct {
	Kind RoomKind
	ID   uint
}

var Global = Room{Kind: RoomGlobal}

func GroupRoom(id uint) Room   { return Room{Kind: RoomGroup, ID: id} }
func ChannelRoom(id uint) Room { return Room{Kind: RoomChannel, ID: id} }

func (r Room) String() string {
	switch r.Kind {
	case RoomGroup:
		return fmt.Sprintf("group:%d", r.ID)
	case RoomChannel:
		return fmt.Sprintf("channel:%d", r.ID)
	}
	return "global"
}

type Action uint8

const (
	Created Action = iota + 1
	Updated
	Deleted
)

type Name string

const (
	MessageCreated    Name = "messageCreated"
	MessageUpdated    Name = "messageUpdated"
	MessageDeleted    Name = "messageDeleted"
	ChannelCreated    Name = "channelCreated"
	ChannelUpdated    Name = "channelUpdated"
	ChannelDeleted    Name = "channelDeleted"
	GroupCreated      Name = "groupCreated"
	GroupUpdated      Name = "groupUpdated"
	GroupDeleted      Name = "groupDeleted"
	MembershipCreated Name = "membershipCreated"
	MembershipUpdated Name = "membershipUpdated"
	MembershipDeleted Name = "membershipDeleted"
	BanCreated        Name = "banCreated"
	BanUpdated        Name = "banUpdated"
	BanDeleted        Name = "banDeleted"
	UserCreated       Name = "userCreated"
	UserUpdated       Name = "userUpdated"
	UserDeleted       Name = "userDeleted"
	UserJoinedChannel Name = "userJoinedChannel"
	UserLeftChannel   Name = "userLeftChannel"
)

// Event 由各实体事件实现；未导出的 sealed 方法阻止包外扩展。
type Event interface {
	Name() Name
	Room() Room
	sealed()
}

func pick(a Action, created, updated, deleted Name) Name {
	switch a {
	case Created:
		return created
	case Updated:
		return updated
	case Deleted:
		return deleted
	}
	panic(fmt.Sprintf("events: unknown action %d", a))
}

type MessageEvent struct {
	Action  Action         `json:"-"`
	Message models.Message `json:"message"`
}

func (e MessageEvent) Name() Name {
	return pick(e.Action, MessageCreated, MessageUpdated, MessageDeleted)
}
func (e MessageEvent) Room() Room { return ChannelRoom(e.Message.ChannelID) }
func (MessageEvent) sealed()      {}

type ChannelEvent struct {
	Action  Action         `json:"-"`
	Channel models.Channel `json:"channel"`
}

func (e ChannelEvent) Name() Name {
	return pick(e.Action, ChannelCreated, ChannelUpdated, ChannelDeleted)
}
func (e ChannelEvent) Room() Room { return GroupRoom(e.Channel.GroupID) }
func (ChannelEvent) sealed()      {}

type GroupEvent struct {
	Action Action       `json:"-"`
	Group  models.Group `json:"group"`
}

func (e GroupEvent) Name() Name {
	return pick(e.Action, GroupCreated, GroupUpdated, GroupDeleted)
}
func (e GroupEvent) Room() Room { return GroupRoom(e.Group.ID) }
func (GroupEvent) sealed()      {}

type MembershipEvent struct {
	Action     Action            `json:"-"`
	Membership models.Membership `json:"membership"`
}

func (e MembershipEvent) Name() Name {
	return pick(e.Action, MembershipCreated, MembershipUpdated, MembershipDeleted)
}
func (e MembershipEvent) Room() Room { return GroupRoom(e.Membership.GroupID) }
func (MembershipEvent) sealed()      {}

// BanEvent 无论封禁范围是组还是频道，都投递到群组房间。
type BanEvent struct {
	Action Action     `json:"-"`
	Ban    models.Ban `json:"ban"`
}

func (e BanEvent) Name() Name {
	return pick(e.Action, BanCreated, BanUpdated, BanDeleted)
}
func (e BanEvent) Room() Room { return GroupRoom(e.Ban.GroupID) }
func (BanEvent) sealed()      {}

// UserEvent 全局广播：用户名和头像在任何地方都可能可见。
type UserEvent struct {
	Action Action      `json:"-"`
	User   models.User `json:"user"`
}

func (e UserEvent) Name() Name {
	return pick(e.Action, UserCreated, UserUpdated, UserDeleted)
}
func (UserEvent) Room() Room { return Global }
func (UserEvent) sealed()    {}

type PresenceEvent struct {
	Joined    bool   `json:"-"`
	ChannelID uint   `json:"channel_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
}

func (e PresenceEvent) Name() Name {
	if e.Joined {
		return UserJoinedChannel
	}
	return UserLeftChannel
}
func (e PresenceEvent) Room() Room { return ChannelRoom(e.ChannelID) }
func (PresenceEvent) sealed()      {}

type envelope struct {
	Type Name  `json:"type"`
	Data Event `json:"data"`
}

// Encode 把事件编码为 {"type": ..., "data": ...} 的线上格式。
func Encode(e Event) ([]byte, error) {
	return json.Marshal(envelope{Type: e.Name(), Data: e})
}
