package server

import (
	"net/http"
	"strconv"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/models"
	"groupchat/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	g, err := h.groups.Create(auth.GetUserID(c), req.Name, req.Icon)
	if err != nil {
		writeError(c, err, "failed to create group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": g})
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListForUser(auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *Handler) GetGroup(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	g, err := h.groups.Get(auth.GetUserID(c), id)
	if err != nil {
		writeError(c, err, "failed to load group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": g})
}

func (h *Handler) UpdateGroup(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name *string `json:"name"`
		Icon *string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	g, err := h.groups.Update(auth.GetUserID(c), id, service.UpdateGroupInput{Name: req.Name, Icon: req.Icon})
	if err != nil {
		writeError(c, err, "failed to update group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": g})
}

func (h *Handler) DeleteGroup(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.groups.Delete(auth.GetUserID(c), id); err != nil {
		writeError(c, err, "failed to delete group")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GroupMembers(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	members, err := h.groups.Members(auth.GetUserID(c), id)
	if err != nil {
		writeError(c, err, "failed to list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) InviteMember(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		badRequest(c, "invalid payload")
		return
	}
	m, err := h.groups.Invite(auth.GetUserID(c), id, req.UserID)
	if err != nil {
		writeError(c, err, "failed to invite member")
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *Handler) SetMemberRole(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	var req struct {
		Role models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	m, err := h.groups.SetRole(auth.GetUserID(c), id, userID, req.Role)
	if err != nil {
		writeError(c, err, "failed to change role")
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *Handler) RemoveMember(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	if err := h.groups.RemoveMember(auth.GetUserID(c), id, userID); err != nil {
		writeError(c, err, "failed to remove member")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListChannels(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	channels, err := h.channels.List(auth.GetUserID(c), id)
	if err != nil {
		writeError(c, err, "failed to list channels")
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (h *Handler) CreateChannel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	ch, err := h.channels.Create(auth.GetUserID(c), id, req.Name, req.Description)
	if err != nil {
		writeError(c, err, "failed to create channel")
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *Handler) UpdateChannel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	ch, err := h.channels.Update(auth.GetUserID(c), id, service.UpdateChannelInput{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(c, err, "failed to update channel")
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *Handler) DeleteChannel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.channels.Delete(auth.GetUserID(c), id); err != nil {
		writeError(c, err, "failed to delete channel")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChannelMembers(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	members, err := h.channels.Members(auth.GetUserID(c), id)
	if err != nil {
		writeError(c, err, "failed to list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) ChannelPresence(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ids, err := h.channels.Presence(auth.GetUserID(c), id)
	if err != nil {
		writeError(c, err, "failed to load presence")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids})
}

// ListMessages 向前翻页：before 为 RFC3339Nano 时间戳，缺省为当前时间。
func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			badRequest(c, "invalid before")
			return
		}
		before = &t
	}
	msgs, err := h.messages.List(auth.GetUserID(c), id, limit, before)
	if err != nil {
		writeError(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) PostMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content    string `json:"content"`
		Attachment string `json:"attachment"`
		ReplyTo    *uint  `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	m, err := h.messages.Post(auth.GetUserID(c), id, service.PostMessageInput{Content: req.Content, Attachment: req.Attachment, ReplyTo: req.ReplyTo})
	if err != nil {
		writeError(c, err, "failed to post message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

func (h *Handler) EditMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	msgID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	m, err := h.messages.Edit(auth.GetUserID(c), id, msgID, req.Content)
	if err != nil {
		writeError(c, err, "failed to edit message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	msgID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	if err := h.messages.Delete(auth.GetUserID(c), id, msgID); err != nil {
		writeError(c, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateBan 的 duration 以秒计，-1 表示永久。
func (h *Handler) CreateBan(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID    uint   `json:"user_id"`
		ChannelID *uint  `json:"channel_id"`
		Reason    string `json:"reason"`
		Duration  int    `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	ban, err := h.bans.Create(auth.GetUserID(c), service.CreateBanInput{
		GroupID:         id,
		UserID:          req.UserID,
		ChannelID:       req.ChannelID,
		Reason:          req.Reason,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		writeError(c, err, "failed to create ban")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ban": ban})
}

func queryID(c *gin.Context, name string) (uint, bool) {
	s := c.Query(name)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// ListBans 默认只列出生效中的封禁，all=true 时包含已过期但未清理的记录。
func (h *Handler) ListBans(c *gin.Context) {
	var f service.BanFilter
	var ok bool
	if f.GroupID, ok = queryID(c, "group_id"); !ok {
		return
	}
	if f.ChannelID, ok = queryID(c, "channel_id"); !ok {
		return
	}
	if f.UserID, ok = queryID(c, "user_id"); !ok {
		return
	}
	list := h.bans.ListActive
	if c.Query("all") == "true" {
		list = h.bans.ListAll
	}
	bans, err := list(auth.GetUserID(c), f)
	if err != nil {
		writeError(c, err, "failed to list bans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

func (h *Handler) UpdateBan(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason   *string `json:"reason"`
		Duration *int    `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	ban, err := h.bans.Update(auth.GetUserID(c), id, service.UpdateBanInput{Reason: req.Reason, DurationSeconds: req.Duration})
	if err != nil {
		writeError(c, err, "failed to update ban")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ban": ban})
}

func (h *Handler) DeleteBan(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.bans.Delete(auth.GetUserID(c), id); err != nil {
		writeError(c, err, "failed to delete ban")
		return
	}
	c.Status(http.StatusNoContent)
}
