package ws

import (
	"sort"
	"sync"

	"groupchat/internal/events"
	"groupchat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 是连接注册表：记录每个连接所在的房间以及每个用户的在线连接。
// 由 main 构造并注入服务层，停服时 Shutdown。
type Hub struct {
	mu     sync.RWMutex
	rooms  map[events.Room]map[*Client]struct{}
	users  map[uint]map[string]*Client
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[events.Room]map[*Client]struct{}),
		users: make(map[uint]map[string]*Client),
	}
}

// addLocked 需要持有写锁。
func (h *Hub) addLocked(c *Client, room events.Room) {
	if _, ok := c.rooms[room]; ok {
		return
	}
	set := h.rooms[room]
	if set == nil {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// removeLocked 返回连接是否曾以已确认状态在房间内。
func (h *Hub) removeLocked(c *Client, room events.Room) bool {
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	_, pending := c.pending[room]
	delete(c.rooms, room)
	delete(c.pending, room)
	if set := h.rooms[room]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	return !pending
}

// userInRoomLocked 判断用户是否还有已确认的连接在房间内。
func (h *Hub) userInRoomLocked(userID uint, room events.Room) bool {
	for _, c := range h.users[userID] {
		if _, ok := c.rooms[room]; ok && !c.isPending(room) {
			return true
		}
	}
	return false
}

// addPendingLocked 以待确认状态加入房间；待确认的房间不接收广播。
// 返回 false 表示连接已在房间内。
func (h *Hub) addPendingLocked(c *Client, room events.Room) bool {
	if _, ok := c.rooms[room]; ok {
		return false
	}
	h.addLocked(c, room)
	if c.pending == nil {
		c.pending = make(map[events.Room]struct{})
	}
	c.pending[room] = struct{}{}
	return true
}

// confirmLocked 把待确认房间转为正式成员；期间被移出则返回 false。
func (h *Hub) confirmLocked(c *Client, room events.Room) (ok, first bool) {
	if _, in := c.pending[room]; !in {
		return false, false
	}
	first = !h.userInRoomLocked(c.userID, room)
	delete(c.pending, room)
	return true, first
}

// Register 登记新连接并加入全局房间与用户所在群组的房间。
func (h *Hub) Register(c *Client, groupIDs []uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.closed = true
		close(c.send)
		return
	}
	conns := h.users[c.userID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.users[c.userID] = conns
	}
	conns[c.id] = c
	h.addLocked(c, events.Global)
	for _, id := range groupIDs {
		h.addLocked(c, events.GroupRoom(id))
	}
	metrics.WsConnections.Inc()
}

// Unregister 同步释放连接占用的全部房间与在线状态，可重复调用。
func (h *Hub) Unregister(c *Client) {
	var left []events.PresenceEvent
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	for room := range c.rooms {
		if h.removeLocked(c, room) && room.Kind == events.RoomChannel && !h.userInRoomLocked(c.userID, room) {
			left = append(left, events.PresenceEvent{ChannelID: room.ID, UserID: c.userID, Username: c.uname})
		}
	}
	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()

	metrics.WsConnections.Dec()
	for _, e := range left {
		h.Publish(e)
	}
}

// JoinChannel 把连接加入频道房间；用户的第一个连接加入时广播 userJoinedChannel。
func (h *Hub) JoinChannel(c *Client, channelID uint) {
	_ = h.JoinChannelChecked(c, channelID, nil)
}

// JoinChannelChecked 先以待确认状态加入房间，再执行 recheck，通过后才开始接收事件。
// recheck 失败时离开房间并返回其错误。并发封禁在 recheck 之前提交会被 recheck 发现，
// 之后提交则由 EvictUser 移出。
func (h *Hub) JoinChannelChecked(c *Client, channelID uint, recheck func() error) error {
	room := events.ChannelRoom(channelID)
	h.mu.Lock()
	if c.closed || !h.addPendingLocked(c, room) {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if recheck != nil {
		if err := recheck(); err != nil {
			h.mu.Lock()
			h.removeLocked(c, room)
			h.mu.Unlock()
			return err
		}
	}

	h.mu.Lock()
	ok, first := h.confirmLocked(c, room)
	h.mu.Unlock()
	if ok && first {
		h.Publish(events.PresenceEvent{Joined: true, ChannelID: channelID, UserID: c.userID, Username: c.uname})
	}
	return nil
}

// JoinGroups 把连接加入 load 返回的群组房间。加入后再 load 一次，
// 期间被移出群组的房间不会被确认。
func (h *Hub) JoinGroups(c *Client, load func() ([]uint, error)) error {
	ids, err := load()
	if err != nil {
		return err
	}
	var added []events.Room
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return nil
	}
	for _, id := range ids {
		if room := events.GroupRoom(id); h.addPendingLocked(c, room) {
			added = append(added, room)
		}
	}
	h.mu.Unlock()

	now, err := load()
	keep := make(map[uint]struct{}, len(now))
	for _, id := range now {
		keep[id] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range added {
		if _, ok := keep[room.ID]; ok && err == nil {
			h.confirmLocked(c, room)
		} else {
			h.removeLocked(c, room)
		}
	}
	return err
}

// LeaveChannel 让连接离开频道房间；用户最后一个连接离开时广播 userLeftChannel。
func (h *Hub) LeaveChannel(c *Client, channelID uint) {
	room := events.ChannelRoom(channelID)
	h.mu.Lock()
	if !h.removeLocked(c, room) {
		h.mu.Unlock()
		return
	}
	last := !h.userInRoomLocked(c.userID, room)
	h.mu.Unlock()

	if last {
		h.Publish(events.PresenceEvent{ChannelID: channelID, UserID: c.userID, Username: c.uname})
	}
}

// Publish 把事件投递给其房间内的所有连接。发送缓冲已满的连接会被断开；
// 任何错误只记录日志，不影响调用方。
func (h *Hub) Publish(e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Name())).Msg("ws publish")
		}
	}()
	b, err := events.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("event", string(e.Name())).Msg("ws encode event")
		return
	}
	metrics.WsEventsTotal.WithLabelValues(string(e.Name())).Inc()
	h.broadcast(e.Room(), b)
}

func (h *Hub) broadcast(room events.Room, b []byte) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[room] {
		if c.isPending(room) {
			continue
		}
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.WsDroppedTotal.Inc()
		log.Warn().Uint("user_id", c.userID).Str("conn_id", c.id).Str("room", room.String()).Msg("ws send buffer full, dropping connection")
		h.Unregister(c)
	}
}

// sendTo 只发给单个连接，用于错误帧。
func (h *Hub) sendTo(c *Client, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// CloseRoom 让所有连接离开房间，用于频道或群组被删除之后。
func (h *Hub) CloseRoom(room events.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		delete(c.rooms, room)
		delete(c.pending, room)
	}
	delete(h.rooms, room)
}

// JoinUser 把用户当前的全部连接加入房间。
func (h *Hub) JoinUser(userID uint, room events.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.users[userID] {
		h.addLocked(c, room)
		delete(c.pending, room)
	}
}

// EvictUser 把用户的全部连接移出给定房间；离开频道房间时广播 userLeftChannel。
func (h *Hub) EvictUser(userID uint, rooms ...events.Room) {
	var left []events.PresenceEvent
	h.mu.Lock()
	for _, room := range rooms {
		removed := false
		uname := ""
		for _, c := range h.users[userID] {
			if h.removeLocked(c, room) {
				removed = true
				uname = c.uname
			}
		}
		if removed && room.Kind == events.RoomChannel {
			left = append(left, events.PresenceEvent{ChannelID: room.ID, UserID: userID, Username: uname})
		}
	}
	h.mu.Unlock()

	for _, e := range left {
		h.Publish(e)
	}
}

func (h *Hub) Online(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ChannelPresence 返回加入了频道房间的用户 ID，按升序排列。
func (h *Hub) ChannelPresence(channelID uint) []uint {
	h.mu.RLock()
	seen := make(map[uint]struct{})
	room := events.ChannelRoom(channelID)
	for c := range h.rooms[room] {
		if c.isPending(room) {
			continue
		}
		seen[c.userID] = struct{}{}
	}
	h.mu.RUnlock()
	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connections 返回当前连接数。
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// Shutdown 关闭所有连接，之后的 Register 会立即关闭新连接。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, conns := range h.users {
		for _, c := range conns {
			if !c.closed {
				c.closed = true
				close(c.send)
				metrics.WsConnections.Dec()
			}
		}
	}
	h.users = make(map[uint]map[string]*Client)
	h.rooms = make(map[events.Room]map[*Client]struct{})
}
