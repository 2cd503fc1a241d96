package models

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	DisplayName  string    `gorm:"size:128" json:"display_name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Avatar       string    `gorm:"size:256" json:"avatar"`
	Status       string    `gorm:"size:16;not null;default:'offline'" json:"status"`
	IsSuperAdmin bool      `gorm:"not null;default:false" json:"is_super_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Group 不保存封禁名单：组级封禁只存在于 bans 表中。
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Icon      string    `gorm:"size:256" json:"icon"`
	CreatedBy uint      `gorm:"not null" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Channel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GroupID     uint      `gorm:"index;not null" json:"group_id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Description string    `gorm:"size:512" json:"description"`
	CreatedBy   uint      `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership 是角色的唯一来源，(user_id, group_id) 唯一。
type Membership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_membership_user_group" json:"user_id"`
	GroupID   uint      `gorm:"not null;uniqueIndex:idx_membership_user_group;index" json:"group_id"`
	Role      Role      `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ChannelID  uint       `gorm:"not null;index:idx_msg_channel_sent,priority:1" json:"channel_id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Attachment string     `gorm:"size:256" json:"attachment,omitempty"`
	ReplyTo    *uint      `json:"reply_to,omitempty"`
	SentAt     time.Time  `gorm:"not null;index:idx_msg_channel_sent,priority:2" json:"timestamp"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
}

// Ban 的 ScopeKey 是 channel_id 的非空投影（组级封禁为 0），
// 与 user_id、group_id 组成唯一索引，保证同一范围内至多一条封禁记录。
type Ban struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;uniqueIndex:idx_ban_scope" json:"user_id"`
	GroupID   uint       `gorm:"not null;uniqueIndex:idx_ban_scope;index" json:"group_id"`
	ChannelID *uint      `gorm:"index" json:"channel_id"`
	ScopeKey  uint       `gorm:"not null;uniqueIndex:idx_ban_scope" json:"-"`
	Reason    string     `gorm:"size:512" json:"reason"`
	IssuedBy  uint       `gorm:"not null" json:"issued_by"`
	IssuedAt  time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
