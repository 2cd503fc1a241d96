package service

import "groupchat/internal/events"

// Fanout 是服务层看到的实时层，由 ws.Hub 实现。所有方法都不返回错误：
// 推送失败只记录日志，不影响已提交的写操作。
type Fanout interface {
	Publish(e events.Event)
	// CloseRoom 让所有连接离开该房间。
	CloseRoom(room events.Room)
	// JoinUser 把用户当前的全部连接加入房间。
	JoinUser(userID uint, room events.Room)
	// EvictUser 把用户的全部连接移出给定房间。
	EvictUser(userID uint, rooms ...events.Room)
	Online(userID uint) bool
	// ChannelPresence 返回当前加入频道房间的用户 ID。
	ChannelPresence(channelID uint) []uint
}

// NopFanout 丢弃所有事件。
type NopFanout struct{}

func (NopFanout) Publish(events.Event)           {}
func (NopFanout) CloseRoom(events.Room)          {}
func (NopFanout) JoinUser(uint, events.Room)     {}
func (NopFanout) EvictUser(uint, ...events.Room) {}
func (NopFanout) Online(uint) bool               { return false }
func (NopFanout) ChannelPresence(uint) []uint    { return nil }
