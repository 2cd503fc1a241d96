package models

import "time"

// PermanentDuration 表示永久封禁的时长取值。
const PermanentDuration = -1

// ScopeKeyFor 把可空的频道 ID 投影为唯一索引使用的键。
func ScopeKeyFor(channelID *uint) uint {
	if channelID == nil {
		return 0
	}
	return *channelID
}

// ActiveAt 判断封禁在 t 时刻是否生效：永久封禁或过期时间晚于 t。
func (b Ban) ActiveAt(t time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(t)
}

func (b Ban) GroupWide() bool { return b.ChannelID == nil }

func (b Ban) Permanent() bool { return b.ExpiresAt == nil }
